package odomdb

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/scanmatch/internal/geom"
	"github.com/banshee-data/scanmatch/internal/icp"
	"github.com/banshee-data/scanmatch/internal/scanwire"
)

// Session is one continuous odometry run.
type Session struct {
	ID         string     `json:"session_id"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	Source     string     `json:"source"`
	ConfigJSON string     `json:"config_json"`
}

// ScanRecord is one stored scan in the sensor frame.
type ScanRecord struct {
	Seq            uint64          `json:"seq"`
	TimestampNanos int64           `json:"timestamp_ns"`
	Cloud          geom.PointCloud `json:"cloud"`
}

// PoseRecord is one stored odometry estimate.
type PoseRecord struct {
	Seq            uint64      `json:"seq"`
	TimestampNanos int64       `json:"timestamp_ns"`
	Pose           geom.Pose2d `json:"pose"`
	Scale          float64     `json:"scale"`
	Error          float64     `json:"error"`
	State          icp.State   `json:"state"`
	Accepted       bool        `json:"accepted"`
}

// StartSession creates a session with a fresh ID. source names the scan
// source (a serial port path or "synthetic"); configJSON is stored as-is.
func (db *DB) StartSession(source, configJSON string, at time.Time) (Session, error) {
	if configJSON == "" {
		configJSON = "{}"
	}
	s := Session{
		ID:         uuid.NewString(),
		StartedAt:  at,
		Source:     source,
		ConfigJSON: configJSON,
	}
	_, err := db.Exec(
		`INSERT INTO sessions (session_id, started_ns, source, config_json) VALUES (?, ?, ?, ?)`,
		s.ID, at.UnixNano(), source, configJSON,
	)
	if err != nil {
		return Session{}, fmt.Errorf("start session: %w", err)
	}
	logf("Session %s started (source=%s)", s.ID, source)
	return s, nil
}

// EndSession stamps the session's end time.
func (db *DB) EndSession(id string, at time.Time) error {
	res, err := db.Exec(`UPDATE sessions SET ended_ns = ? WHERE session_id = ?`, at.UnixNano(), id)
	if err != nil {
		return fmt.Errorf("end session %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("end session %s: %w", id, ErrNotFound)
	}
	return nil
}

// GetSession loads one session.
func (db *DB) GetSession(id string) (Session, error) {
	row := db.QueryRow(
		`SELECT session_id, started_ns, ended_ns, source, config_json FROM sessions WHERE session_id = ?`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return s, err
}

// ListSessions returns every session, newest first.
func (db *DB) ListSessions() ([]Session, error) {
	rows, err := db.Query(
		`SELECT session_id, started_ns, ended_ns, source, config_json FROM sessions ORDER BY started_ns DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(r rowScanner) (Session, error) {
	var (
		s       Session
		started int64
		ended   sql.NullInt64
	)
	if err := r.Scan(&s.ID, &started, &ended, &s.Source, &s.ConfigJSON); err != nil {
		return Session{}, err
	}
	s.StartedAt = time.Unix(0, started)
	if ended.Valid {
		t := time.Unix(0, ended.Int64)
		s.EndedAt = &t
	}
	return s, nil
}

// RecordScan stores a scan in its protobuf PointCloud encoding.
func (db *DB) RecordScan(sessionID string, rec ScanRecord) error {
	return insertScan(db, sessionID, rec)
}

const (
	insertScanSQL = `INSERT INTO scans (session_id, seq, timestamp_ns, point_count, cloud) VALUES (?, ?, ?, ?, ?)`
	insertPoseSQL = `INSERT INTO poses (session_id, seq, timestamp_ns, x, y, theta, scale, error, state, accepted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
)

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func insertScan(e execer, sessionID string, rec ScanRecord) error {
	_, err := e.Exec(insertScanSQL,
		sessionID, int64(rec.Seq), rec.TimestampNanos, rec.Cloud.Len(), scanwire.MarshalCloud(rec.Cloud))
	if err != nil {
		return fmt.Errorf("record scan %d: %w", rec.Seq, err)
	}
	return nil
}

func insertPose(e execer, sessionID string, rec PoseRecord) error {
	_, err := e.Exec(insertPoseSQL,
		sessionID, int64(rec.Seq), rec.TimestampNanos,
		rec.Pose.X, rec.Pose.Y, rec.Pose.Theta,
		rec.Scale, rec.Error, rec.State.String(), rec.Accepted)
	if err != nil {
		return fmt.Errorf("record pose %d: %w", rec.Seq, err)
	}
	return nil
}

// RecordPose stores an odometry estimate.
func (db *DB) RecordPose(sessionID string, rec PoseRecord) error {
	return insertPose(db, sessionID, rec)
}

// RecordFrame stores the pose of f and, when f carries one, its scan, in
// one transaction.
func (db *DB) RecordFrame(f *scanwire.Frame) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if !f.Cloud.IsEmpty() {
		scan := ScanRecord{Seq: f.Seq, TimestampNanos: f.TimestampNanos, Cloud: f.Cloud}
		if err := insertScan(tx, f.SessionID, scan); err != nil {
			return err
		}
	}
	pose := PoseRecord{
		Seq:            f.Seq,
		TimestampNanos: f.TimestampNanos,
		Pose:           f.Pose,
		Scale:          f.Scale,
		Error:          f.Error,
		State:          f.State,
		Accepted:       f.Accepted,
	}
	if err := insertPose(tx, f.SessionID, pose); err != nil {
		return err
	}
	return tx.Commit()
}

// ListScans returns the session's scans in sequence order.
func (db *DB) ListScans(sessionID string) ([]ScanRecord, error) {
	rows, err := db.Query(
		`SELECT seq, timestamp_ns, cloud FROM scans WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ScanRecord
	for rows.Next() {
		var (
			rec  ScanRecord
			seq  int64
			blob []byte
		)
		if err := rows.Scan(&seq, &rec.TimestampNanos, &blob); err != nil {
			return nil, err
		}
		rec.Seq = uint64(seq)
		if rec.Cloud, err = scanwire.ParseCloud(blob); err != nil {
			return nil, fmt.Errorf("scan %d: %w", seq, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Trajectory returns the session's poses in sequence order.
func (db *DB) Trajectory(sessionID string) ([]PoseRecord, error) {
	rows, err := db.Query(
		`SELECT seq, timestamp_ns, x, y, theta, scale, error, state, accepted
		 FROM poses WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PoseRecord
	for rows.Next() {
		var (
			rec   PoseRecord
			seq   int64
			state string
		)
		if err := rows.Scan(&seq, &rec.TimestampNanos,
			&rec.Pose.X, &rec.Pose.Y, &rec.Pose.Theta,
			&rec.Scale, &rec.Error, &state, &rec.Accepted); err != nil {
			return nil, err
		}
		rec.Seq = uint64(seq)
		if err := rec.State.UnmarshalText([]byte(state)); err != nil {
			return nil, fmt.Errorf("pose %d: %w", seq, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
