package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for the intrinsics
// estimator. Every field is optional: a nil field falls back to the
// default returned by its getter, so partial files are safe.
type TuningConfig struct {
	// Hough accumulator
	HoughOffsetStep *float64 `json:"hough_offset_step,omitempty" yaml:"hough_offset_step,omitempty"`
	HoughAngleStep  *float64 `json:"hough_angle_step,omitempty" yaml:"hough_angle_step,omitempty"`
	MaxOffset       *float64 `json:"max_offset,omitempty" yaml:"max_offset,omitempty"`
	HoughWorkers    *int     `json:"hough_workers,omitempty" yaml:"hough_workers,omitempty"`

	// Scanline refinement
	FitMinRange         *float64 `json:"fit_min_range,omitempty" yaml:"fit_min_range,omitempty"`
	MaxFitAttempts      *int     `json:"max_fit_attempts,omitempty" yaml:"max_fit_attempts,omitempty"`
	MaxOffsetCIWidth    *float64 `json:"max_offset_ci_width,omitempty" yaml:"max_offset_ci_width,omitempty"`
	MinScanlinePoints   *int     `json:"min_scanline_points,omitempty" yaml:"min_scanline_points,omitempty"`
	CoordsEpsFloor      *float64 `json:"coords_eps_floor,omitempty" yaml:"coords_eps_floor,omitempty"`
	MaxIterations       *int     `json:"max_iterations,omitempty" yaml:"max_iterations,omitempty"`
	MaxStalledIteration *int     `json:"max_stalled_iterations,omitempty" yaml:"max_stalled_iterations,omitempty"`

	// Horizontal estimation
	HorizontalMinPoints         *int     `json:"horizontal_min_points,omitempty" yaml:"horizontal_min_points,omitempty"`
	HorizontalDefaultResolution *float64 `json:"horizontal_default_resolution,omitempty" yaml:"horizontal_default_resolution,omitempty"`
	HorizontalGapTolerance      *float64 `json:"horizontal_gap_tolerance,omitempty" yaml:"horizontal_gap_tolerance,omitempty"`
	HorizontalMinGap            *float64 `json:"horizontal_min_gap,omitempty" yaml:"horizontal_min_gap,omitempty"`

	// Projection and diagnostics
	ProjectionAngleTolerance *float64 `json:"projection_angle_tolerance,omitempty" yaml:"projection_angle_tolerance,omitempty"`
	TraceWindow              *int     `json:"trace_window,omitempty" yaml:"trace_window,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a TuningConfig with every field populated from
// the getter defaults. It is what SaveTuningConfig writes for a fresh file.
func DefaultTuningConfig() *TuningConfig {
	e := EmptyTuningConfig()
	return &TuningConfig{
		HoughOffsetStep:             ptrFloat64(e.GetHoughOffsetStep()),
		HoughAngleStep:              ptrFloat64(e.GetHoughAngleStep()),
		MaxOffset:                   ptrFloat64(e.GetMaxOffset()),
		HoughWorkers:                ptrInt(e.GetHoughWorkers()),
		FitMinRange:                 ptrFloat64(e.GetFitMinRange()),
		MaxFitAttempts:              ptrInt(e.GetMaxFitAttempts()),
		MaxOffsetCIWidth:            ptrFloat64(e.GetMaxOffsetCIWidth()),
		MinScanlinePoints:           ptrInt(e.GetMinScanlinePoints()),
		CoordsEpsFloor:              ptrFloat64(e.GetCoordsEpsFloor()),
		MaxIterations:               ptrInt(e.GetMaxIterations()),
		MaxStalledIteration:         ptrInt(e.GetMaxStalledIterations()),
		HorizontalMinPoints:         ptrInt(e.GetHorizontalMinPoints()),
		HorizontalDefaultResolution: ptrFloat64(e.GetHorizontalDefaultResolution()),
		HorizontalGapTolerance:      ptrFloat64(e.GetHorizontalGapTolerance()),
		HorizontalMinGap:            ptrFloat64(e.GetHorizontalMinGap()),
		ProjectionAngleTolerance:    ptrFloat64(e.GetProjectionAngleTolerance()),
		TraceWindow:                 ptrInt(e.GetTraceWindow()),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON or YAML file.
// The file is validated to ensure it has a known extension and is under the
// max file size. Fields omitted from the file retain their default values.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	switch ext {
	case ".json", ".yaml", ".yml":
	default:
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
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

	cfg := EmptyTuningConfig()
	if ext == ".json" {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// SaveTuningConfig writes the configuration to path, choosing JSON or YAML
// from the file extension.
func SaveTuningConfig(cfg *TuningConfig, path string) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	cleanPath := filepath.Clean(path)

	var (
		data []byte
		err  error
	)
	switch filepath.Ext(cleanPath) {
	case ".json":
		data, err = json.MarshalIndent(cfg, "", "  ")
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		return fmt.Errorf("unsupported config extension %q", filepath.Ext(cleanPath))
	}
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if dir := filepath.Dir(cleanPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config dir: %w", err)
		}
	}
	if err := os.WriteFile(cleanPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/lidar/pipeline/
		"../../../../" + DefaultConfigPath, // from internal/lidar/storage/sqlite/
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	positive := []struct {
		name string
		v    *float64
	}{
		{"hough_offset_step", c.HoughOffsetStep},
		{"hough_angle_step", c.HoughAngleStep},
		{"max_offset", c.MaxOffset},
		{"max_offset_ci_width", c.MaxOffsetCIWidth},
		{"coords_eps_floor", c.CoordsEpsFloor},
		{"horizontal_default_resolution", c.HorizontalDefaultResolution},
		{"horizontal_gap_tolerance", c.HorizontalGapTolerance},
	}
	for _, p := range positive {
		if p.v == nil {
			continue
		}
		if math.IsNaN(*p.v) || math.IsInf(*p.v, 0) || *p.v <= 0 {
			return fmt.Errorf("%s must be a positive finite number, got %v", p.name, *p.v)
		}
	}

	if c.HoughAngleStep != nil && *c.HoughAngleStep >= math.Pi/4 {
		return fmt.Errorf("hough_angle_step must be below pi/4, got %f", *c.HoughAngleStep)
	}
	if c.HorizontalDefaultResolution != nil && *c.HorizontalDefaultResolution > math.Pi {
		return fmt.Errorf("horizontal_default_resolution must not exceed pi, got %f", *c.HorizontalDefaultResolution)
	}

	nonNegative := []struct {
		name string
		v    *float64
	}{
		{"fit_min_range", c.FitMinRange},
		{"horizontal_min_gap", c.HorizontalMinGap},
		{"projection_angle_tolerance", c.ProjectionAngleTolerance},
	}
	for _, p := range nonNegative {
		if p.v != nil && (math.IsNaN(*p.v) || *p.v < 0) {
			return fmt.Errorf("%s must be non-negative, got %v", p.name, *p.v)
		}
	}

	if c.HoughWorkers != nil && *c.HoughWorkers < 1 {
		return fmt.Errorf("hough_workers must be at least 1, got %d", *c.HoughWorkers)
	}
	if c.MaxFitAttempts != nil && *c.MaxFitAttempts < 1 {
		return fmt.Errorf("max_fit_attempts must be at least 1, got %d", *c.MaxFitAttempts)
	}
	// The weighted fit needs two degrees of freedom beyond its parameters.
	if c.MinScanlinePoints != nil && *c.MinScanlinePoints < 3 {
		return fmt.Errorf("min_scanline_points must be at least 3, got %d", *c.MinScanlinePoints)
	}
	if c.MaxIterations != nil && *c.MaxIterations < 1 {
		return fmt.Errorf("max_iterations must be at least 1, got %d", *c.MaxIterations)
	}
	if c.MaxStalledIteration != nil && *c.MaxStalledIteration < 1 {
		return fmt.Errorf("max_stalled_iterations must be at least 1, got %d", *c.MaxStalledIteration)
	}
	if c.HorizontalMinPoints != nil && *c.HorizontalMinPoints < 2 {
		return fmt.Errorf("horizontal_min_points must be at least 2, got %d", *c.HorizontalMinPoints)
	}
	if c.TraceWindow != nil && *c.TraceWindow < 0 {
		return fmt.Errorf("trace_window must be non-negative, got %d", *c.TraceWindow)
	}

	return nil
}

// GetHoughOffsetStep returns the hough_offset_step value or the default.
func (c *TuningConfig) GetHoughOffsetStep() float64 {
	if c.HoughOffsetStep == nil {
		return 1e-3
	}
	return *c.HoughOffsetStep
}

// GetHoughAngleStep returns the hough_angle_step value or the default.
func (c *TuningConfig) GetHoughAngleStep() float64 {
	if c.HoughAngleStep == nil {
		return 1e-4
	}
	return *c.HoughAngleStep
}

// GetMaxOffset returns the max_offset value or the default.
func (c *TuningConfig) GetMaxOffset() float64 {
	if c.MaxOffset == nil {
		return 0.5
	}
	return *c.MaxOffset
}

// GetHoughWorkers returns the hough_workers value or the default.
func (c *TuningConfig) GetHoughWorkers() int {
	if c.HoughWorkers == nil {
		return 1
	}
	return *c.HoughWorkers
}

// GetFitMinRange returns the fit_min_range value or the default.
func (c *TuningConfig) GetFitMinRange() float64 {
	if c.FitMinRange == nil {
		return 2.0
	}
	return *c.FitMinRange
}

// GetMaxFitAttempts returns the max_fit_attempts value or the default.
func (c *TuningConfig) GetMaxFitAttempts() int {
	if c.MaxFitAttempts == nil {
		return 10
	}
	return *c.MaxFitAttempts
}

// GetMaxOffsetCIWidth returns the max_offset_ci_width value or the default.
func (c *TuningConfig) GetMaxOffsetCIWidth() float64 {
	if c.MaxOffsetCIWidth == nil {
		return 1e-2
	}
	return *c.MaxOffsetCIWidth
}

// GetMinScanlinePoints returns the min_scanline_points value or the default.
func (c *TuningConfig) GetMinScanlinePoints() int {
	if c.MinScanlinePoints == nil {
		return 3
	}
	return *c.MinScanlinePoints
}

// GetCoordsEpsFloor returns the coords_eps_floor value or the default.
func (c *TuningConfig) GetCoordsEpsFloor() float64 {
	if c.CoordsEpsFloor == nil {
		return 5e-7
	}
	return *c.CoordsEpsFloor
}

// GetMaxIterations returns the max_iterations value or the default.
func (c *TuningConfig) GetMaxIterations() int {
	if c.MaxIterations == nil {
		return 10000
	}
	return *c.MaxIterations
}

// GetMaxStalledIterations returns the max_stalled_iterations value or the default.
func (c *TuningConfig) GetMaxStalledIterations() int {
	if c.MaxStalledIteration == nil {
		return 32
	}
	return *c.MaxStalledIteration
}

// GetHorizontalMinPoints returns the horizontal_min_points value or the default.
func (c *TuningConfig) GetHorizontalMinPoints() int {
	if c.HorizontalMinPoints == nil {
		return 16
	}
	return *c.HorizontalMinPoints
}

// GetHorizontalDefaultResolution returns the horizontal_default_resolution
// value or the default (2048 columns per turn).
func (c *TuningConfig) GetHorizontalDefaultResolution() float64 {
	if c.HorizontalDefaultResolution == nil {
		return 2 * math.Pi / 2048
	}
	return *c.HorizontalDefaultResolution
}

// GetHorizontalGapTolerance returns the horizontal_gap_tolerance value or the default.
func (c *TuningConfig) GetHorizontalGapTolerance() float64 {
	if c.HorizontalGapTolerance == nil {
		return 5e-5
	}
	return *c.HorizontalGapTolerance
}

// GetHorizontalMinGap returns the horizontal_min_gap value or the default.
func (c *TuningConfig) GetHorizontalMinGap() float64 {
	if c.HorizontalMinGap == nil {
		return 1e-9
	}
	return *c.HorizontalMinGap
}

// GetProjectionAngleTolerance returns the projection_angle_tolerance value or the default.
func (c *TuningConfig) GetProjectionAngleTolerance() float64 {
	if c.ProjectionAngleTolerance == nil {
		return 1e-4
	}
	return *c.ProjectionAngleTolerance
}

// GetTraceWindow returns the trace_window value or the default.
func (c *TuningConfig) GetTraceWindow() int {
	if c.TraceWindow == nil {
		return 32
	}
	return *c.TraceWindow
}
