package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultTuningConfig(t *testing.T) {
	cfg := DefaultTuningConfig()

	// Test that defaults are set via pointers
	if cfg.HoughOffsetStep == nil || *cfg.HoughOffsetStep != 1e-3 {
		t.Errorf("Expected HoughOffsetStep 1e-3, got %v", cfg.HoughOffsetStep)
	}
	if cfg.HoughAngleStep == nil || *cfg.HoughAngleStep != 1e-4 {
		t.Errorf("Expected HoughAngleStep 1e-4, got %v", cfg.HoughAngleStep)
	}
	if cfg.MaxOffset == nil || *cfg.MaxOffset != 0.5 {
		t.Errorf("Expected MaxOffset 0.5, got %v", cfg.MaxOffset)
	}
	if cfg.MaxFitAttempts == nil || *cfg.MaxFitAttempts != 10 {
		t.Errorf("Expected MaxFitAttempts 10, got %v", cfg.MaxFitAttempts)
	}
	if cfg.MaxIterations == nil || *cfg.MaxIterations != 10000 {
		t.Errorf("Expected MaxIterations 10000, got %v", cfg.MaxIterations)
	}
	if cfg.HorizontalDefaultResolution == nil || *cfg.HorizontalDefaultResolution != 2*math.Pi/2048 {
		t.Errorf("Expected HorizontalDefaultResolution 2pi/2048, got %v", cfg.HorizontalDefaultResolution)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadTuningConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test_config.json")

	configJSON := `{
  "hough_offset_step": 0.002,
  "max_fit_attempts": 4,
  "hough_workers": 3
}`
	if err := os.WriteFile(configPath, []byte(configJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadTuningConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.GetHoughOffsetStep() != 0.002 {
		t.Errorf("Expected HoughOffsetStep 0.002, got %f", cfg.GetHoughOffsetStep())
	}
	if cfg.GetMaxFitAttempts() != 4 {
		t.Errorf("Expected MaxFitAttempts 4, got %d", cfg.GetMaxFitAttempts())
	}
	if cfg.GetHoughWorkers() != 3 {
		t.Errorf("Expected HoughWorkers 3, got %d", cfg.GetHoughWorkers())
	}
	// Omitted fields keep their defaults.
	if cfg.GetHoughAngleStep() != 1e-4 {
		t.Errorf("Expected default HoughAngleStep 1e-4, got %f", cfg.GetHoughAngleStep())
	}
	if cfg.GetTraceWindow() != 32 {
		t.Errorf("Expected default TraceWindow 32, got %d", cfg.GetTraceWindow())
	}
}

func TestLoadTuningConfigYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "tuning.yaml")

	configYAML := "max_offset: 0.25\nmin_scanline_points: 5\n"
	if err := os.WriteFile(configPath, []byte(configYAML), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadTuningConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load YAML config: %v", err)
	}
	if cfg.GetMaxOffset() != 0.25 {
		t.Errorf("Expected MaxOffset 0.25, got %f", cfg.GetMaxOffset())
	}
	if cfg.GetMinScanlinePoints() != 5 {
		t.Errorf("Expected MinScanlinePoints 5, got %d", cfg.GetMinScanlinePoints())
	}
}

func TestLoadTuningConfigMissing(t *testing.T) {
	_, err := LoadTuningConfig("/nonexistent/path/to/config.json")
	if err == nil {
		t.Error("Expected error when loading missing file, got nil")
	}
}

func TestLoadTuningConfigInvalid(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid_config.json")

	invalidJSON := `{
  "hough_offset_step": "invalid"
`
	if err := os.WriteFile(configPath, []byte(invalidJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	_, err := LoadTuningConfig(configPath)
	if err == nil {
		t.Error("Expected error when loading invalid JSON, got nil")
	}
}

func TestLoadTuningConfigRejectsOutOfRange(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "bad.json")
	if err := os.WriteFile(configPath, []byte(`{"max_offset": -1}`), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	if _, err := LoadTuningConfig(configPath); err == nil {
		t.Error("Expected validation error for negative max_offset, got nil")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *TuningConfig
		wantErr bool
	}{
		{
			name:    "valid config",
			cfg:     DefaultTuningConfig(),
			wantErr: false,
		},
		{
			name:    "empty config is valid",
			cfg:     &TuningConfig{},
			wantErr: false,
		},
		{
			name:    "zero offset step",
			cfg:     &TuningConfig{HoughOffsetStep: ptrFloat64(0)},
			wantErr: true,
		},
		{
			name:    "NaN angle step",
			cfg:     &TuningConfig{HoughAngleStep: ptrFloat64(math.NaN())},
			wantErr: true,
		},
		{
			name:    "angle step too coarse",
			cfg:     &TuningConfig{HoughAngleStep: ptrFloat64(1.0)},
			wantErr: true,
		},
		{
			name:    "too few scanline points",
			cfg:     &TuningConfig{MinScanlinePoints: ptrInt(2)},
			wantErr: true,
		},
		{
			name:    "zero workers",
			cfg:     &TuningConfig{HoughWorkers: ptrInt(0)},
			wantErr: true,
		},
		{
			name:    "negative fit range",
			cfg:     &TuningConfig{FitMinRange: ptrFloat64(-0.5)},
			wantErr: true,
		},
		{
			name:    "zero fit range is allowed",
			cfg:     &TuningConfig{FitMinRange: ptrFloat64(0)},
			wantErr: false,
		},
		{
			name:    "negative trace window",
			cfg:     &TuningConfig{TraceWindow: ptrInt(-1)},
			wantErr: true,
		},
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

func TestLoadDefaultConfigFile(t *testing.T) {
	cfg, err := LoadTuningConfig("../../config/tuning.defaults.json")
	if err != nil {
		t.Fatalf("Failed to load defaults: %v", err)
	}
	empty := EmptyTuningConfig()
	if cfg.GetHoughOffsetStep() != empty.GetHoughOffsetStep() {
		t.Errorf("defaults file HoughOffsetStep %f differs from getter default %f",
			cfg.GetHoughOffsetStep(), empty.GetHoughOffsetStep())
	}
	if cfg.GetMaxStalledIterations() != empty.GetMaxStalledIterations() {
		t.Errorf("defaults file MaxStalledIterations %d differs from getter default %d",
			cfg.GetMaxStalledIterations(), empty.GetMaxStalledIterations())
	}
	if math.Abs(cfg.GetHorizontalDefaultResolution()-empty.GetHorizontalDefaultResolution()) > 1e-15 {
		t.Errorf("defaults file resolution %g differs from getter default %g",
			cfg.GetHorizontalDefaultResolution(), empty.GetHorizontalDefaultResolution())
	}
}

func TestMustLoadDefaultConfig(t *testing.T) {
	cfg := MustLoadDefaultConfig()
	if cfg.GetMaxIterations() != 10000 {
		t.Errorf("Expected MaxIterations 10000, got %d", cfg.GetMaxIterations())
	}
}

func TestSaveTuningConfigRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	for _, name := range []string{"out.json", "out.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(tmpDir, "nested", name)
			in := DefaultTuningConfig()
			in.MaxFitAttempts = ptrInt(7)
			if err := SaveTuningConfig(in, path); err != nil {
				t.Fatalf("SaveTuningConfig: %v", err)
			}
			out, err := LoadTuningConfig(path)
			if err != nil {
				t.Fatalf("LoadTuningConfig: %v", err)
			}
			if out.GetMaxFitAttempts() != 7 {
				t.Errorf("Expected MaxFitAttempts 7, got %d", out.GetMaxFitAttempts())
			}
			if out.GetHoughAngleStep() != in.GetHoughAngleStep() {
				t.Errorf("HoughAngleStep changed: %g vs %g", out.GetHoughAngleStep(), in.GetHoughAngleStep())
			}
		})
	}
}

func TestSaveTuningConfigRejectsUnknownExtension(t *testing.T) {
	if err := SaveTuningConfig(DefaultTuningConfig(), filepath.Join(t.TempDir(), "x.toml")); err == nil {
		t.Error("Expected error for .toml extension, got nil")
	}
}

func TestLoadTuningConfigRejectsPathTraversal(t *testing.T) {
	// Path traversal with ".." is allowed since this is a CLI-only flag,
	// but the file must still have a known extension.
	_, err := LoadTuningConfig("../../etc/passwd")
	if err == nil {
		t.Error("Expected error for extension-less path, got nil")
	}
}

func TestLoadTuningConfigRejectsLargeFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "large.json")

	// Create a file larger than 1MB
	largeData := make([]byte, 2*1024*1024) // 2MB
	if err := os.WriteFile(configPath, largeData, 0644); err != nil {
		t.Fatalf("Failed to write large file: %v", err)
	}

	_, err := LoadTuningConfig(configPath)
	if err == nil {
		t.Error("Expected error for file size > 1MB, got nil")
	}
}
