package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	defaultConfigPath = "~/.config/skysolve/config.json"
	defaultParallel   = 4
)

// Config holds user-editable settings for the solver service.
type Config struct {
	Database   Database   `json:"database"`
	Build      Build      `json:"build"`
	Solver     Solver     `json:"solver"`
	Extract    Extract    `json:"extract"`
	Logging    Logging    `json:"logging"`
	Server     Server     `json:"server"`
	Processing Processing `json:"processing"`
}

// Database locates the pattern database artifact and the solve history.
type Database struct {
	PatternPath string `json:"pattern_path"` // pattern database artifact
	HistoryPath string `json:"history_path"` // solve history, empty disables
	WatchReload bool   `json:"watch_reload"` // reload artifact when the file changes
}

// Build configures offline pattern database generation.
type Build struct {
	CatalogPath        string  `json:"catalog_path"` // hip_main.dat
	MaxFovDeg          float64 `json:"max_fov_deg"`
	MinFovDeg          float64 `json:"min_fov_deg"`
	MaxMagnitude       float64 `json:"max_magnitude"`
	PatternStarsPerFov int     `json:"pattern_stars_per_fov"`
	VerifyStarsPerFov  int     `json:"verify_stars_per_fov"`
	MaxNeighbors       int     `json:"max_neighbors"`
}

// Solver configures per-solve defaults; the HTTP API and CLI can override
// the FOV estimate per request.
type Solver struct {
	FovEstimateDeg       float64 `json:"fov_estimate_deg"`
	FovMaxErrorDeg       float64 `json:"fov_max_error_deg"`
	PatternCheckingStars int     `json:"pattern_checking_stars"`
	RatioTolerance       float64 `json:"ratio_tolerance"`
	MatchRadiusFrac      float64 `json:"match_radius_frac"`
	MinVerified          int     `json:"min_verified"`
	MinMatchFraction     float64 `json:"min_match_fraction"`
	MaxCandidates        int     `json:"max_candidates"`
}

// Extract configures star detection.
type Extract struct {
	Sigma    float64 `json:"sigma"`
	MinArea  int     `json:"min_area"`
	MaxArea  int     `json:"max_area"`
	MaxStars int     `json:"max_stars"`
}

// Logging controls logging verbosity and destinations.
type Logging struct {
	Level      string `json:"level"`       // debug, info, warn, error
	Format     string `json:"format"`      // text, json
	FileOutput bool   `json:"file_output"` // Enable file logging
	LogDir     string `json:"log_dir"`     // Directory for log files
}

// Server configures the HTTP API.
type Server struct {
	Listen string `json:"listen"`
}

// Processing captures execution preferences for the solve queue.
type Processing struct {
	ParallelJobs int `json:"parallel_jobs"`
	QueueSize    int `json:"queue_size"`
}

// Load reads configuration from disk, falling back to sensible defaults.
// The path comes from SKYSOLVE_CONFIG or ~/.config/skysolve/config.json.
func Load() (*Config, error) {
	cfg := defaultConfig()

	configPath := os.Getenv("SKYSOLVE_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	expanded, err := expandUser(configPath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(expanded)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	if err := dec.Decode(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects settings no solve could succeed with.
func (c *Config) Validate() error {
	if c.Solver.FovEstimateDeg <= 0 {
		return fmt.Errorf("solver.fov_estimate_deg must be positive, got %g", c.Solver.FovEstimateDeg)
	}
	if c.Solver.FovMaxErrorDeg <= 0 {
		return fmt.Errorf("solver.fov_max_error_deg must be positive, got %g", c.Solver.FovMaxErrorDeg)
	}
	if c.Build.MinFovDeg <= 0 || c.Build.MaxFovDeg <= c.Build.MinFovDeg {
		return fmt.Errorf("build FOV range [%g, %g] is invalid", c.Build.MinFovDeg, c.Build.MaxFovDeg)
	}
	if c.Extract.MinArea > c.Extract.MaxArea {
		return fmt.Errorf("extract.min_area %d exceeds extract.max_area %d", c.Extract.MinArea, c.Extract.MaxArea)
	}
	if c.Processing.ParallelJobs < 1 {
		return fmt.Errorf("processing.parallel_jobs must be at least 1, got %d", c.Processing.ParallelJobs)
	}
	return nil
}

func defaultConfig() *Config {
	return &Config{
		Database: Database{
			PatternPath: "~/.local/share/skysolve/patterns.db",
			HistoryPath: filepath.Join(os.TempDir(), "skysolve-history.db"),
			WatchReload: true,
		},
		Build: Build{
			CatalogPath:        "~/.local/share/skysolve/hip_main.dat",
			MaxFovDeg:          85,
			MinFovDeg:          10,
			MaxMagnitude:       7.0,
			PatternStarsPerFov: 10,
			VerifyStarsPerFov:  20,
			MaxNeighbors:       10,
		},
		Solver: Solver{
			FovEstimateDeg:       70,
			FovMaxErrorDeg:       15,
			PatternCheckingStars: 8,
			RatioTolerance:       0.015,
			MatchRadiusFrac:      0.01,
			MinVerified:          5,
			MinMatchFraction:     0.25,
			MaxCandidates:        10000,
		},
		Extract: Extract{
			Sigma:    2.5,
			MinArea:  4,
			MaxArea:  500,
			MaxStars: 100,
		},
		Logging: Logging{
			Level:      "info",
			Format:     "text",
			FileOutput: true,
			LogDir:     "./logs",
		},
		Server: Server{
			Listen: ":8913",
		},
		Processing: Processing{
			ParallelJobs: defaultParallel,
			QueueSize:    32,
		},
	}
}

// ExpandUser resolves a leading ~ to the current user's home directory.
func ExpandUser(path string) (string, error) {
	return expandUser(path)
}

func expandUser(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	if path == "~" {
		return home, nil
	}

	return filepath.Join(home, path[2:]), nil
}
