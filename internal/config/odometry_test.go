package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/scanmatch/internal/icp"
)

func TestEmptyConfigDefaults(t *testing.T) {
	cfg := EmptyOdometryConfig()

	if cfg.GetMaxIterations() != 50 {
		t.Errorf("GetMaxIterations() = %d, want 50", cfg.GetMaxIterations())
	}
	if cfg.GetTolerance() != 1e-4 {
		t.Errorf("GetTolerance() = %g, want 1e-4", cfg.GetTolerance())
	}
	if cfg.GetMode() != "refine" {
		t.Errorf("GetMode() = %q, want refine", cfg.GetMode())
	}
	if !cfg.GetInitFromCentroids() {
		t.Error("GetInitFromCentroids() = false, want true")
	}
	if cfg.GetScanTimeout() != 2*time.Second {
		t.Errorf("GetScanTimeout() = %v, want 2s", cfg.GetScanTimeout())
	}
	if cfg.GetBaudRate() != 115200 {
		t.Errorf("GetBaudRate() = %d, want 115200", cfg.GetBaudRate())
	}
}

func TestDefaultsFileMatchesGetters(t *testing.T) {
	fromFile := MustLoadDefaultConfig()
	want := DefaultOdometryConfig()

	if fromFile.GetMaxIterations() != want.GetMaxIterations() ||
		fromFile.GetTolerance() != want.GetTolerance() ||
		fromFile.GetMode() != want.GetMode() ||
		fromFile.GetInitFromCentroids() != want.GetInitFromCentroids() ||
		fromFile.GetMaxScaleDeviation() != want.GetMaxScaleDeviation() ||
		fromFile.GetMaxStepTranslation() != want.GetMaxStepTranslation() ||
		fromFile.GetMaxStepRotation() != want.GetMaxStepRotation() ||
		fromFile.GetMinScanPoints() != want.GetMinScanPoints() ||
		fromFile.GetMinQuality() != want.GetMinQuality() ||
		fromFile.GetMinRange() != want.GetMinRange() ||
		fromFile.GetMaxRange() != want.GetMaxRange() ||
		fromFile.GetBaudRate() != want.GetBaudRate() ||
		fromFile.GetScanTimeout() != want.GetScanTimeout() ||
		fromFile.GetRecordScans() != want.GetRecordScans() ||
		fromFile.GetPublishQueueSize() != want.GetPublishQueueSize() ||
		fromFile.GetReplayWorkers() != want.GetReplayWorkers() {
		t.Errorf("%s disagrees with built-in defaults", DefaultConfigPath)
	}
}

func TestLoadOdometryConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "odometry.json")

	testJSON := `{
  "max_iterations": 10,
  "mode": "fixed",
  "scan_timeout": "500ms",
  "min_quality": 0
}`
	if err := os.WriteFile(configPath, []byte(testJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadOdometryConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.GetMaxIterations() != 10 {
		t.Errorf("GetMaxIterations() = %d, want 10", cfg.GetMaxIterations())
	}
	if cfg.GetScanTimeout() != 500*time.Millisecond {
		t.Errorf("GetScanTimeout() = %v, want 500ms", cfg.GetScanTimeout())
	}
	if cfg.MinQuality == nil || *cfg.MinQuality != 0 {
		t.Errorf("Expected explicit MinQuality 0, got %v", cfg.MinQuality)
	}
	// Omitted fields keep defaults.
	if cfg.GetMaxRange() != 12.0 {
		t.Errorf("GetMaxRange() = %g, want 12", cfg.GetMaxRange())
	}

	icpCfg, err := cfg.ICPConfig()
	if err != nil {
		t.Fatalf("ICPConfig() error = %v", err)
	}
	if icpCfg.Mode != icp.ModeFixedScene || icpCfg.MaxIterations != 10 {
		t.Errorf("ICPConfig() = %+v", icpCfg)
	}
}

func TestLoadOdometryConfigErrors(t *testing.T) {
	tmpDir := t.TempDir()

	write := func(name, body string) string {
		p := filepath.Join(tmpDir, name)
		if err := os.WriteFile(p, []byte(body), 0644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		return p
	}

	tests := []struct {
		name    string
		path    string
		wantErr string
	}{
		{"missing", "/nonexistent/path/config.json", "stat"},
		{"wrong extension", write("cfg.yaml", "{}"), ".json extension"},
		{"bad json", write("bad.json", `{"max_iterations": "ten"`), "parse"},
		{"invalid mode", write("mode.json", `{"mode": "ransac"}`), "unknown mode"},
		{"bad timeout", write("timeout.json", `{"scan_timeout": "soon"}`), "scan_timeout"},
		{"empty range", write("range.json", `{"min_range": 5, "max_range": 1}`), "range window"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadOdometryConfig(tt.path)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadOdometryConfigTooLarge(t *testing.T) {
	p := filepath.Join(t.TempDir(), "huge.json")
	if err := os.WriteFile(p, make([]byte, 1024*1024+1), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadOdometryConfig(p); err == nil || !strings.Contains(err.Error(), "too large") {
		t.Errorf("expected size error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *OdometryConfig
		wantErr bool
	}{
		{"empty", EmptyOdometryConfig(), false},
		{"defaults", DefaultOdometryConfig(), false},
		{"zero iterations", &OdometryConfig{MaxIterations: ptrInt(0)}, true},
		{"negative tolerance", &OdometryConfig{Tolerance: ptrFloat64(-1)}, true},
		{"quality too high", &OdometryConfig{MinQuality: ptrInt(64)}, true},
		{"zero queue", &OdometryConfig{PublishQueueSize: ptrInt(0)}, true},
		{"negative scale deviation", &OdometryConfig{MaxScaleDeviation: ptrFloat64(-0.1)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
