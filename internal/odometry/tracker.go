// Package odometry chains scan-to-scan alignments into a running 2D pose.
//
// Each new scan is aligned (as the scene) against the last accepted scan
// (the model). The resulting transform is the sensor's motion between the
// two scans, expressed in the earlier scan's frame, and is composed onto the
// global pose. Scans whose alignment fails or looks implausible are
// reported but leave both the pose and the model untouched, so the next
// scan is matched against the same reference.
package odometry

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/scanmatch/internal/config"
	"github.com/banshee-data/scanmatch/internal/geom"
	"github.com/banshee-data/scanmatch/internal/icp"
	"github.com/banshee-data/scanmatch/internal/monitoring"
	"github.com/banshee-data/scanmatch/internal/scanwire"
)

var logf = monitoring.Tagged("Odometry")

// Config bounds what the tracker accepts.
type Config struct {
	ICP icp.Config
	// MaxScaleDeviation bounds |scale-1| of an accepted alignment; zero
	// disables the check.
	MaxScaleDeviation float64
	// MaxStepTranslation and MaxStepRotation bound the motion between two
	// consecutive accepted scans; zero disables the check.
	MaxStepTranslation float64
	MaxStepRotation    float64
	// MinScanPoints rejects sparse scans before alignment.
	MinScanPoints int
}

// DefaultConfig returns the tracker bounds from the built-in defaults.
func DefaultConfig() Config {
	cfg, _ := ConfigFrom(config.EmptyOdometryConfig())
	return cfg
}

// ConfigFrom builds a tracker Config from the file-level configuration.
func ConfigFrom(c *config.OdometryConfig) (Config, error) {
	icpCfg, err := c.ICPConfig()
	if err != nil {
		return Config{}, err
	}
	return Config{
		ICP:                icpCfg,
		MaxScaleDeviation:  c.GetMaxScaleDeviation(),
		MaxStepTranslation: c.GetMaxStepTranslation(),
		MaxStepRotation:    c.GetMaxStepRotation(),
		MinScanPoints:      c.GetMinScanPoints(),
	}, nil
}

// Update is the outcome of processing one scan.
type Update struct {
	Seq            uint64 `json:"seq"`
	TimestampNanos int64  `json:"timestamp_ns"`
	// Cloud is the scan in the sensor frame.
	Cloud geom.PointCloud `json:"-"`
	// Pose is the global pose after this scan.
	Pose geom.Pose2d `json:"pose"`
	// Delta is the estimated motion since the model scan. It is zero for the
	// first scan and for scans that were not accepted.
	Delta      geom.Pose2d `json:"delta"`
	Scale      float64     `json:"scale"`
	Error      float64     `json:"error"`
	Iterations int         `json:"iterations"`
	State      icp.State   `json:"state"`
	Quality    icp.Quality `json:"quality"`
	Accepted   bool        `json:"accepted"`
	// Reason says why a scan was not accepted.
	Reason string `json:"reason,omitempty"`
}

// Frame converts u to its wire form.
func (u Update) Frame(sessionID string) *scanwire.Frame {
	return &scanwire.Frame{
		SessionID:      sessionID,
		Seq:            u.Seq,
		TimestampNanos: u.TimestampNanos,
		Cloud:          u.Cloud,
		Pose:           u.Pose,
		Scale:          u.Scale,
		Error:          u.Error,
		State:          u.State,
		Accepted:       u.Accepted,
	}
}

// Stats counts tracker outcomes.
type Stats struct {
	Scans     uint64 `json:"scans"`
	Accepted  uint64 `json:"accepted"`
	Rejected  uint64 `json:"rejected"`
	Failed    uint64 `json:"failed"`
	Exhausted uint64 `json:"exhausted"`
}

// Tracker maintains the model scan and the global pose. Process must be
// called from one goroutine; Pose and Stats may be called from any.
type Tracker struct {
	cfg Config

	mu       sync.RWMutex
	model    geom.PointCloud
	hasModel bool
	pose     geom.Pose2d
	seq      uint64
	stats    Stats
}

// NewTracker validates cfg and returns a tracker at the origin.
func NewTracker(cfg Config) (*Tracker, error) {
	if err := cfg.ICP.Validate(); err != nil {
		return nil, err
	}
	if cfg.MaxScaleDeviation < 0 || cfg.MaxStepTranslation < 0 || cfg.MaxStepRotation < 0 || cfg.MinScanPoints < 0 {
		return nil, fmt.Errorf("%w: acceptance bounds must not be negative", icp.ErrInvalidConfig)
	}
	return &Tracker{cfg: cfg}, nil
}

// Process aligns cloud against the model scan and advances the pose.
func (t *Tracker) Process(cloud geom.PointCloud, at time.Time) Update {
	t.mu.Lock()
	defer t.mu.Unlock()

	u := Update{
		Seq:            t.seq,
		TimestampNanos: at.UnixNano(),
		Cloud:          cloud,
		Pose:           t.pose,
		Scale:          1,
		State:          icp.StateFailed,
		Quality:        icp.QualityUnknown,
	}
	t.seq++
	t.stats.Scans++

	if t.cfg.MinScanPoints > 0 && cloud.Len() < t.cfg.MinScanPoints {
		return t.reject(u, fmt.Sprintf("scan has %d points, need %d", cloud.Len(), t.cfg.MinScanPoints))
	}
	if !t.hasModel {
		if !cloud.IsFinite() || cloud.IsEmpty() {
			return t.reject(u, "first scan is empty or not finite")
		}
		t.model = cloud
		t.hasModel = true
		t.stats.Accepted++
		u.State = icp.StateConverged
		u.Quality = icp.QualityExcellent
		u.Accepted = true
		logf("seeded model with %d points at seq %d", cloud.Len(), u.Seq)
		return u
	}

	res, err := icp.Align(cloud, t.model, t.cfg.ICP)
	u.Iterations = res.Iterations
	if err != nil {
		t.stats.Failed++
		u.Reason = err.Error()
		logf("WARNING: seq %d alignment failed, holding pose: %v", u.Seq, err)
		return u
	}
	u.State = res.State
	u.Quality = res.Quality()
	u.Scale = res.Scale
	u.Error = res.Error
	if res.State == icp.StateExhausted {
		t.stats.Exhausted++
	}

	if reason := t.implausible(res); reason != "" {
		return t.reject(u, reason)
	}

	t.pose = t.pose.Compose(res.Pose).Normalize()
	t.model = cloud
	t.stats.Accepted++
	u.Pose = t.pose
	u.Delta = res.Pose
	u.Accepted = true
	return u
}

func (t *Tracker) implausible(res icp.Result) string {
	v := icp.ValidateResult(res, t.cfg.MaxScaleDeviation)
	if !v.Usable {
		return strings.Join(v.Issues, "; ")
	}
	if limit := t.cfg.MaxStepTranslation; limit > 0 {
		if d := math.Hypot(res.Pose.X, res.Pose.Y); d > limit {
			return fmt.Sprintf("step of %.3fm exceeds %.3fm", d, limit)
		}
	}
	if limit := t.cfg.MaxStepRotation; limit > 0 {
		if r := math.Abs(geom.NormalizeAngle(res.Pose.Theta)); r > limit {
			return fmt.Sprintf("rotation of %.3frad exceeds %.3frad", r, limit)
		}
	}
	return ""
}

func (t *Tracker) reject(u Update, reason string) Update {
	t.stats.Rejected++
	u.Reason = reason
	logf("WARNING: seq %d rejected, holding pose: %s", u.Seq, reason)
	return u
}

// Pose returns the current global pose.
func (t *Tracker) Pose() geom.Pose2d {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.pose
}

// Stats returns the outcome counters.
func (t *Tracker) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.stats
}

// Reset drops the model and returns the pose to p. The next scan seeds a
// new model.
func (t *Tracker) Reset(p geom.Pose2d) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.model = geom.PointCloud{}
	t.hasModel = false
	t.pose = p
}
