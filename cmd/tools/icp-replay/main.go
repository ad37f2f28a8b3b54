// Package main re-runs scan matching over a recorded session. Every pair of
// consecutive stored scans is aligned concurrently, the estimates are
// chained into a trajectory and compared with the poses recorded live.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/banshee-data/scanmatch/internal/config"
	"github.com/banshee-data/scanmatch/internal/geom"
	"github.com/banshee-data/scanmatch/internal/icp"
	"github.com/banshee-data/scanmatch/internal/monitor"
	"github.com/banshee-data/scanmatch/internal/odomdb"
	"github.com/banshee-data/scanmatch/internal/security"
)

// Config holds the command-line options.
type Config struct {
	DBFile     string
	SessionID  string
	ConfigFile string
	OutputDir  string
	OutputJSON string
	Workers    int
	Verbose    bool
}

// PairResult is the replayed alignment of scan Seq against the scan before
// it.
type PairResult struct {
	Seq        uint64      `json:"seq"`
	Delta      geom.Pose2d `json:"delta"`
	Scale      float64     `json:"scale"`
	Error      float64     `json:"error"`
	Iterations int         `json:"iterations"`
	State      icp.State   `json:"state"`
	Quality    icp.Quality `json:"quality"`
	Usable     bool        `json:"usable"`
	Err        string      `json:"err,omitempty"`
}

// Report summarises a replay.
type Report struct {
	SessionID    string        `json:"session_id"`
	Scans        int           `json:"scans"`
	Pairs        []PairResult  `json:"pairs"`
	Converged    int           `json:"converged"`
	Exhausted    int           `json:"exhausted"`
	Failed       int           `json:"failed"`
	Unusable     int           `json:"unusable"`
	MeanError    float64       `json:"mean_error"`
	FinalPose    geom.Pose2d   `json:"final_pose"`
	RecordedPose *geom.Pose2d  `json:"recorded_pose,omitempty"`
	Elapsed      time.Duration `json:"elapsed_ns"`

	trajectory []monitor.TrajectoryPoint
	results    []icp.Result
	scans      []odomdb.ScanRecord
}

func main() {
	cfg := parseFlags()
	if cfg.DBFile == "" {
		log.Fatal("database file is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := odomdb.Open(cfg.DBFile)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	odoCfg := config.EmptyOdometryConfig()
	if cfg.ConfigFile != "" {
		if odoCfg, err = config.LoadOdometryConfig(cfg.ConfigFile); err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}
	icpCfg, err := odoCfg.ICPConfig()
	if err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	workers := cfg.Workers
	if workers < 0 {
		workers = odoCfg.GetReplayWorkers()
	}

	report, err := replay(ctx, db, cfg.SessionID, icpCfg, odoCfg.GetMaxScaleDeviation(), workers)
	if err != nil {
		log.Fatalf("replay failed: %v", err)
	}
	printSummary(report, cfg.Verbose)

	if cfg.OutputDir != "" {
		if err := writePlots(cfg.OutputDir, report); err != nil {
			log.Printf("Warning: failed to write plots: %v", err)
		}
		if cfg.OutputJSON != "" {
			outputPath, err := jsonOutputPath(cfg.OutputDir, cfg.OutputJSON)
			if err != nil {
				log.Fatalf("invalid -json: %v", err)
			}
			if err := exportJSON(report, outputPath); err != nil {
				log.Printf("Warning: failed to export JSON: %v", err)
			} else {
				log.Printf("Results exported to: %s", outputPath)
			}
		}
	}
}

func parseFlags() Config {
	cfg := Config{}

	flag.StringVar(&cfg.DBFile, "db", "odometry.db", "Path to the SQLite database file")
	flag.StringVar(&cfg.SessionID, "session", "", "Session ID to replay (default: most recent)")
	flag.StringVar(&cfg.ConfigFile, "config", "", "Odometry JSON config for the replay (built-in defaults when empty)")
	flag.StringVar(&cfg.OutputDir, "output", "", "Output directory for plots and JSON")
	flag.StringVar(&cfg.OutputJSON, "json", "", "Output JSON filename (e.g., replay.json)")
	flag.IntVar(&cfg.Workers, "workers", -1, "Concurrent alignments (0: GOMAXPROCS, -1: from config)")
	flag.BoolVar(&cfg.Verbose, "verbose", false, "Print every pair")

	flag.Parse()

	return cfg
}

// replay aligns each stored scan against the one before it. Pairs whose
// alignment fails or is unusable contribute no motion to the trajectory.
func replay(ctx context.Context, db *odomdb.DB, sessionID string, cfg icp.Config, maxScaleDeviation float64, workers int) (*Report, error) {
	start := time.Now()
	if sessionID == "" {
		sessions, err := db.ListSessions()
		if err != nil {
			return nil, err
		}
		if len(sessions) == 0 {
			return nil, odomdb.ErrNotFound
		}
		sessionID = sessions[0].ID
	}
	log.Printf("Replaying session %s", sessionID)

	scans, err := db.ListScans(sessionID)
	if err != nil {
		return nil, err
	}
	if len(scans) < 2 {
		return nil, fmt.Errorf("session %s has %d stored scans, need at least 2", sessionID, len(scans))
	}

	pairs := make([]icp.Pair, len(scans)-1)
	for i := 1; i < len(scans); i++ {
		pairs[i-1] = icp.Pair{Scene: scans[i].Cloud, Model: scans[i-1].Cloud}
	}
	batch, err := icp.AlignBatch(ctx, pairs, cfg, workers)
	if err != nil {
		return nil, err
	}

	report := &Report{
		SessionID: sessionID,
		Scans:     len(scans),
		scans:     scans,
	}
	pose := geom.Pose2d{}
	report.trajectory = append(report.trajectory, monitor.TrajectoryPoint{
		Seq: scans[0].Seq, TimestampNanos: scans[0].TimestampNanos, Pose: pose,
	})
	errorSum, errorCount := 0.0, 0
	for i, br := range batch {
		res := br.Result
		report.results = append(report.results, res)
		pr := PairResult{
			Seq:        scans[i+1].Seq,
			Delta:      res.Pose,
			Scale:      res.Scale,
			Error:      res.Error,
			Iterations: res.Iterations,
			State:      res.State,
			Quality:    res.Quality(),
		}
		switch {
		case br.Err != nil:
			report.Failed++
			pr.Err = br.Err.Error()
		case res.State == icp.StateExhausted:
			report.Exhausted++
		default:
			report.Converged++
		}
		if br.Err == nil {
			errorSum += res.Error
			errorCount++
			pr.Usable = res.IsUsableForOdometry(maxScaleDeviation)
			if pr.Usable {
				pose = pose.Compose(res.Pose).Normalize()
				report.trajectory = append(report.trajectory, monitor.TrajectoryPoint{
					Seq: pr.Seq, TimestampNanos: scans[i+1].TimestampNanos, Pose: pose,
				})
			} else {
				report.Unusable++
			}
		}
		report.Pairs = append(report.Pairs, pr)
	}
	if errorCount > 0 {
		report.MeanError = errorSum / float64(errorCount)
	}
	report.FinalPose = pose

	recorded, err := db.Trajectory(sessionID)
	if err != nil {
		return nil, err
	}
	if n := len(recorded); n > 0 {
		last := recorded[n-1].Pose
		report.RecordedPose = &last
	}
	report.Elapsed = time.Since(start)
	return report, nil
}

func printSummary(r *Report, verbose bool) {
	if verbose {
		for _, p := range r.Pairs {
			fmt.Printf("seq %6d  %-9s %-9s dx=%+.4f dy=%+.4f dθ=%+.4f scale=%.4f mse=%.3g iter=%d %s\n",
				p.Seq, p.State, p.Quality, p.Delta.X, p.Delta.Y, p.Delta.Theta, p.Scale, p.Error, p.Iterations, p.Err)
		}
	}
	fmt.Printf("\nSession %s: %d scans, %d pairs in %v\n", r.SessionID, r.Scans, len(r.Pairs), r.Elapsed.Round(time.Millisecond))
	fmt.Printf("  converged=%d exhausted=%d failed=%d unusable=%d mean_mse=%.3g\n",
		r.Converged, r.Exhausted, r.Failed, r.Unusable, r.MeanError)
	fmt.Printf("  replayed final pose: x=%.3f y=%.3f θ=%.3f\n", r.FinalPose.X, r.FinalPose.Y, r.FinalPose.Theta)
	if r.RecordedPose != nil {
		rp := *r.RecordedPose
		fmt.Printf("  recorded final pose: x=%.3f y=%.3f θ=%.3f (difference %.3fm, %.3frad)\n",
			rp.X, rp.Y, rp.Theta,
			math.Hypot(rp.X-r.FinalPose.X, rp.Y-r.FinalPose.Y),
			math.Abs(geom.AngleDiff(rp.Theta, r.FinalPose.Theta)))
	}
}

// writePlots saves the replayed trajectory, the convergence curves and the
// alignment with the largest error.
func writePlots(dir string, r *Report) error {
	var errs []error
	if err := monitor.SaveTrajectoryPlot(filepath.Join(dir, "trajectory.png"), r.trajectory); err != nil {
		errs = append(errs, err)
	}
	if err := monitor.SaveConvergencePlot(filepath.Join(dir, "convergence.png"), r.results); err != nil {
		errs = append(errs, err)
	}
	worst := -1
	for i, p := range r.Pairs {
		if p.Err != "" {
			continue
		}
		if worst < 0 || p.Error > r.Pairs[worst].Error {
			worst = i
		}
	}
	if worst >= 0 {
		path := filepath.Join(dir, fmt.Sprintf("worst_alignment_seq_%d.png", r.Pairs[worst].Seq))
		if err := monitor.SaveAlignmentPlot(path, r.scans[worst+1].Cloud, r.scans[worst].Cloud, r.results[worst]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// jsonOutputPath joins name onto dir, creating dir, and rejects names that
// would land outside it.
func jsonOutputPath(dir, name string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, name)
	if err := security.WithinDir(path, dir); err != nil {
		return "", err
	}
	return path, nil
}

func exportJSON(r *Report, path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
