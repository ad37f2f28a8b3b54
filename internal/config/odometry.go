package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/scanmatch/internal/icp"
)

// DefaultConfigPath is the path to the canonical odometry defaults file.
const DefaultConfigPath = "config/odometry.defaults.json"

// OdometryConfig is the root configuration for the scan matcher and the
// sensor pipeline feeding it. Every field is optional; the Get* methods
// supply defaults for fields the file omits.
type OdometryConfig struct {
	// ICP params
	MaxIterations     *int     `json:"max_iterations,omitempty"`
	Tolerance         *float64 `json:"tolerance,omitempty"`
	Mode              *string  `json:"mode,omitempty"` // "fixed" or "refine"
	InitFromCentroids *bool    `json:"init_from_centroids,omitempty"`

	// Acceptance params
	MaxScaleDeviation  *float64 `json:"max_scale_deviation,omitempty"`
	MaxStepTranslation *float64 `json:"max_step_translation,omitempty"` // metres per scan
	MaxStepRotation    *float64 `json:"max_step_rotation,omitempty"`    // radians per scan
	MinScanPoints      *int     `json:"min_scan_points,omitempty"`

	// Sensor filter params
	MinQuality *int     `json:"min_quality,omitempty"`
	MinRange   *float64 `json:"min_range,omitempty"` // metres
	MaxRange   *float64 `json:"max_range,omitempty"` // metres

	// Acquisition params
	BaudRate    *int    `json:"baud_rate,omitempty"`
	ScanTimeout *string `json:"scan_timeout,omitempty"` // duration string like "2s"

	// Output params
	RecordScans      *bool `json:"record_scans,omitempty"`
	PublishQueueSize *int  `json:"publish_queue_size,omitempty"`
	ReplayWorkers    *int  `json:"replay_workers,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyOdometryConfig returns an OdometryConfig with all fields nil, so every
// getter returns its default.
func EmptyOdometryConfig() *OdometryConfig {
	return &OdometryConfig{}
}

// DefaultOdometryConfig returns a config with every field set to its default.
func DefaultOdometryConfig() *OdometryConfig {
	e := EmptyOdometryConfig()
	return &OdometryConfig{
		MaxIterations:      ptrInt(e.GetMaxIterations()),
		Tolerance:          ptrFloat64(e.GetTolerance()),
		Mode:               ptrString(e.GetMode()),
		InitFromCentroids:  ptrBool(e.GetInitFromCentroids()),
		MaxScaleDeviation:  ptrFloat64(e.GetMaxScaleDeviation()),
		MaxStepTranslation: ptrFloat64(e.GetMaxStepTranslation()),
		MaxStepRotation:    ptrFloat64(e.GetMaxStepRotation()),
		MinScanPoints:      ptrInt(e.GetMinScanPoints()),
		MinQuality:         ptrInt(e.GetMinQuality()),
		MinRange:           ptrFloat64(e.GetMinRange()),
		MaxRange:           ptrFloat64(e.GetMaxRange()),
		BaudRate:           ptrInt(e.GetBaudRate()),
		ScanTimeout:        ptrString(e.GetScanTimeout().String()),
		RecordScans:        ptrBool(e.GetRecordScans()),
		PublishQueueSize:   ptrInt(e.GetPublishQueueSize()),
		ReplayWorkers:      ptrInt(e.GetReplayWorkers()),
	}
}

// LoadOdometryConfig loads an OdometryConfig from a JSON file.
// The file must have a .json extension and be under 1MB. Fields omitted from
// the file keep their defaults, so partial configs are safe.
func LoadOdometryConfig(path string) (*OdometryConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyOdometryConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching the current
// directory and its parents up to the repository root. Panics if the file
// cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *OdometryConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from cmd/tools/icp-replay/
	}
	for _, path := range candidates {
		if cfg, err := LoadOdometryConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *OdometryConfig) Validate() error {
	if c.MaxIterations != nil && *c.MaxIterations <= 0 {
		return fmt.Errorf("max_iterations must be positive, got %d", *c.MaxIterations)
	}
	if c.Tolerance != nil && !(*c.Tolerance > 0) {
		return fmt.Errorf("tolerance must be positive, got %g", *c.Tolerance)
	}
	if c.Mode != nil {
		if _, err := icp.ParseMode(*c.Mode); err != nil {
			return err
		}
	}
	if c.MaxScaleDeviation != nil && *c.MaxScaleDeviation < 0 {
		return fmt.Errorf("max_scale_deviation must be non-negative, got %f", *c.MaxScaleDeviation)
	}
	if c.MinScanPoints != nil && *c.MinScanPoints < 1 {
		return fmt.Errorf("min_scan_points must be at least 1, got %d", *c.MinScanPoints)
	}
	if c.MinQuality != nil && (*c.MinQuality < 0 || *c.MinQuality > 63) {
		return fmt.Errorf("min_quality must be between 0 and 63, got %d", *c.MinQuality)
	}
	if c.GetMinRange() < 0 || c.GetMaxRange() <= c.GetMinRange() {
		return fmt.Errorf("range window [%g, %g] is empty", c.GetMinRange(), c.GetMaxRange())
	}
	if c.BaudRate != nil && *c.BaudRate <= 0 {
		return fmt.Errorf("baud_rate must be positive, got %d", *c.BaudRate)
	}
	if c.ScanTimeout != nil && *c.ScanTimeout != "" {
		if _, err := time.ParseDuration(*c.ScanTimeout); err != nil {
			return fmt.Errorf("invalid scan_timeout '%s': %w", *c.ScanTimeout, err)
		}
	}
	if c.PublishQueueSize != nil && *c.PublishQueueSize < 1 {
		return fmt.Errorf("publish_queue_size must be at least 1, got %d", *c.PublishQueueSize)
	}
	return nil
}

// ICPConfig converts the ICP params into an icp.Config.
func (c *OdometryConfig) ICPConfig() (icp.Config, error) {
	mode, err := icp.ParseMode(c.GetMode())
	if err != nil {
		return icp.Config{}, err
	}
	cfg := icp.Config{
		MaxIterations:     c.GetMaxIterations(),
		Tolerance:         c.GetTolerance(),
		Mode:              mode,
		InitFromCentroids: c.GetInitFromCentroids(),
	}
	return cfg, cfg.Validate()
}

// GetMaxIterations returns the max_iterations value or the default.
func (c *OdometryConfig) GetMaxIterations() int {
	if c.MaxIterations == nil {
		return 50
	}
	return *c.MaxIterations
}

// GetTolerance returns the tolerance value or the default.
func (c *OdometryConfig) GetTolerance() float64 {
	if c.Tolerance == nil {
		return 1e-4
	}
	return *c.Tolerance
}

// GetMode returns the mode value or the default. Odometry runs refine mode
// unless told otherwise.
func (c *OdometryConfig) GetMode() string {
	if c.Mode == nil || *c.Mode == "" {
		return "refine"
	}
	return *c.Mode
}

func (c *OdometryConfig) GetInitFromCentroids() bool {
	if c.InitFromCentroids == nil {
		return true
	}
	return *c.InitFromCentroids
}

func (c *OdometryConfig) GetMaxScaleDeviation() float64 {
	if c.MaxScaleDeviation == nil {
		return 0.1
	}
	return *c.MaxScaleDeviation
}

// GetMaxStepTranslation returns the largest accepted per-scan translation.
// Zero disables the check.
func (c *OdometryConfig) GetMaxStepTranslation() float64 {
	if c.MaxStepTranslation == nil {
		return 0.5
	}
	return *c.MaxStepTranslation
}

// GetMaxStepRotation returns the largest accepted per-scan rotation.
// Zero disables the check.
func (c *OdometryConfig) GetMaxStepRotation() float64 {
	if c.MaxStepRotation == nil {
		return 0.8
	}
	return *c.MaxStepRotation
}

func (c *OdometryConfig) GetMinScanPoints() int {
	if c.MinScanPoints == nil {
		return 20
	}
	return *c.MinScanPoints
}

func (c *OdometryConfig) GetMinQuality() int {
	if c.MinQuality == nil {
		return 10
	}
	return *c.MinQuality
}

func (c *OdometryConfig) GetMinRange() float64 {
	if c.MinRange == nil {
		return 0.15
	}
	return *c.MinRange
}

func (c *OdometryConfig) GetMaxRange() float64 {
	if c.MaxRange == nil {
		return 12.0
	}
	return *c.MaxRange
}

func (c *OdometryConfig) GetBaudRate() int {
	if c.BaudRate == nil {
		return 115200
	}
	return *c.BaudRate
}

// GetScanTimeout parses and returns ScanTimeout as a time.Duration.
func (c *OdometryConfig) GetScanTimeout() time.Duration {
	if c.ScanTimeout == nil || *c.ScanTimeout == "" {
		return 2 * time.Second
	}
	d, err := time.ParseDuration(*c.ScanTimeout)
	if err != nil {
		return 2 * time.Second
	}
	return d
}

func (c *OdometryConfig) GetRecordScans() bool {
	if c.RecordScans == nil {
		return true
	}
	return *c.RecordScans
}

func (c *OdometryConfig) GetPublishQueueSize() int {
	if c.PublishQueueSize == nil {
		return 16
	}
	return *c.PublishQueueSize
}

// GetReplayWorkers returns the replay worker count; 0 means GOMAXPROCS.
func (c *OdometryConfig) GetReplayWorkers() int {
	if c.ReplayWorkers == nil {
		return 0
	}
	return *c.ReplayWorkers
}
