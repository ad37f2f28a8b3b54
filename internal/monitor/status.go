// Package monitor keeps a rolling view of the odometry run and serves it
// over HTTP: JSON status endpoints, an HTML trajectory chart and PNG plots.
package monitor

import (
	"net/http"
	"sync"

	"tailscale.com/tsweb"

	"github.com/banshee-data/scanmatch/internal/geom"
	"github.com/banshee-data/scanmatch/internal/httputil"
	"github.com/banshee-data/scanmatch/internal/monitoring"
	"github.com/banshee-data/scanmatch/internal/odometry"
)

var logf = monitoring.Tagged("Monitor")

// DefaultHistory is how many updates a Monitor keeps when none is given.
const DefaultHistory = 2048

// Status is the body of /api/odometry/pose.
type Status struct {
	Latest   *odometry.Update `json:"latest,omitempty"`
	Pose     geom.Pose2d      `json:"pose"`
	Accepted uint64           `json:"accepted"`
	Seen     uint64           `json:"seen"`
}

// TrajectoryPoint is one accepted pose.
type TrajectoryPoint struct {
	Seq            uint64      `json:"seq"`
	TimestampNanos int64       `json:"timestamp_ns"`
	Pose           geom.Pose2d `json:"pose"`
}

// Monitor is an odometry.Sink that remembers recent updates.
type Monitor struct {
	mu       sync.RWMutex
	history  []odometry.Update // ring buffer, oldest at head once full
	head     int
	full     bool
	latest   *odometry.Update
	lastScan geom.PointCloud
	scanPose geom.Pose2d
	seen     uint64
	accepted uint64

	statsMu sync.RWMutex
	stats   map[string]func() any
}

// New returns a Monitor that keeps the last history updates.
func New(history int) *Monitor {
	if history <= 0 {
		history = DefaultHistory
	}
	return &Monitor{
		history: make([]odometry.Update, 0, history),
		stats:   make(map[string]func() any),
	}
}

// Consume records u. The cloud of the newest accepted scan is kept for the
// chart; older clouds are dropped.
func (m *Monitor) Consume(u odometry.Update) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seen++
	if u.Accepted {
		m.accepted++
		if !u.Cloud.IsEmpty() {
			m.lastScan = u.Cloud
			m.scanPose = u.Pose
		}
	}
	u.Cloud = geom.PointCloud{}
	m.latest = &u

	if len(m.history) < cap(m.history) {
		m.history = append(m.history, u)
		return
	}
	m.history[m.head] = u
	m.head = (m.head + 1) % len(m.history)
	m.full = true
}

// AddStats registers a named provider included in /api/odometry/stats.
func (m *Monitor) AddStats(name string, fn func() any) {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	m.stats[name] = fn
}

// Updates returns the kept updates, oldest first.
func (m *Monitor) Updates() []odometry.Update {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]odometry.Update, 0, len(m.history))
	if m.full {
		out = append(out, m.history[m.head:]...)
		out = append(out, m.history[:m.head]...)
		return out
	}
	return append(out, m.history...)
}

// Trajectory returns the accepted poses among the kept updates, oldest
// first.
func (m *Monitor) Trajectory() []TrajectoryPoint {
	var out []TrajectoryPoint
	for _, u := range m.Updates() {
		if !u.Accepted {
			continue
		}
		out = append(out, TrajectoryPoint{Seq: u.Seq, TimestampNanos: u.TimestampNanos, Pose: u.Pose})
	}
	return out
}

// Status returns the latest update and counters.
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Status{Seen: m.seen, Accepted: m.accepted}
	if m.latest != nil {
		latest := *m.latest
		s.Latest = &latest
		s.Pose = latest.Pose
	}
	return s
}

// LatestScan returns the newest accepted scan in the world frame.
func (m *Monitor) LatestScan() geom.PointCloud {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.lastScan.IsEmpty() {
		return geom.PointCloud{}
	}
	return m.lastScan.Transform(m.scanPose, 1)
}

// AttachRoutes mounts the JSON endpoints on mux.
func (m *Monitor) AttachRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/odometry/pose", m.handlePose)
	mux.HandleFunc("/api/odometry/trajectory", m.handleTrajectory)
	mux.HandleFunc("/api/odometry/stats", m.handleStats)
}

// AttachAdminRoutes adds the trajectory chart and a live pose readout to
// the /debug/ page.
func (m *Monitor) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.KVFunc("Odometry pose", func() any { return m.Status().Pose })
	debug.HandleFunc("odometry/chart", "Trajectory and latest scan", m.handleChart)
}

func (m *Monitor) handlePose(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, m.Status())
}

// handleTrajectory serves the accepted poses. ?limit=N keeps the newest N.
func (m *Monitor) handleTrajectory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	limit, ok := httputil.QueryInt(r, "limit", 0)
	if !ok {
		httputil.BadRequest(w, "limit must be a non-negative integer")
		return
	}
	traj := m.Trajectory()
	if limit > 0 && len(traj) > limit {
		traj = traj[len(traj)-limit:]
	}
	if traj == nil {
		traj = []TrajectoryPoint{}
	}
	httputil.WriteJSONOK(w, traj)
}

func (m *Monitor) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	m.statsMu.RLock()
	out := make(map[string]any, len(m.stats)+1)
	for name, fn := range m.stats {
		out[name] = fn()
	}
	m.statsMu.RUnlock()

	s := m.Status()
	out["monitor"] = map[string]uint64{"seen": s.Seen, "accepted": s.Accepted}
	httputil.WriteJSONOK(w, out)
}
