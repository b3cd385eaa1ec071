package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical engine defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/engine.defaults.json"

// KnownAltitudeSources are the altitude source names accepted in
// altitude_sources, in no particular order. "xmp-relative" is the
// drone-embedded height above launch; "gps-altitude" is the satellite
// mean-sea-level value.
var KnownAltitudeSources = []string{"xmp-relative", "gps-altitude"}

// EngineConfig represents the root configuration for the extraction engine.
// All fields are pointers so a partial JSON file only overrides what it
// names; the Get* accessors supply defaults for everything else.
type EngineConfig struct {
	// Pool params
	PoolSizeFloor  *int    `json:"pool_size_floor,omitempty"`
	ConnectTimeout *string `json:"connect_timeout,omitempty"` // duration string like "30s"
	LeaseTimeout   *string `json:"lease_timeout,omitempty"`
	ProbeTimeout   *string `json:"probe_timeout,omitempty"`

	// Scheduler params
	WorkerDivisor       *int    `json:"worker_divisor,omitempty"`
	MinWorkers          *int    `json:"min_workers,omitempty"`
	MaxWorkers          *int    `json:"max_workers,omitempty"`
	SequentialThreshold *int    `json:"sequential_threshold,omitempty"`
	ItemTimeout         *string `json:"item_timeout,omitempty"`
	BatchTimeout        *string `json:"batch_timeout,omitempty"`

	// Extractor params
	PrefixReadBytes *int     `json:"prefix_read_bytes,omitempty"`
	AltitudeSources []string `json:"altitude_sources,omitempty"`

	// Site analysis params
	FolderProbeTimeout *string  `json:"folder_probe_timeout,omitempty"`
	AnalyzeTimeout     *string  `json:"analyze_timeout,omitempty"`
	GroundCategories   []string `json:"ground_categories,omitempty"`

	// Classifier params
	OutlierMultiplier *float64 `json:"outlier_multiplier,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyEngineConfig returns an EngineConfig with all fields unset, so every
// accessor returns its default.
func EmptyEngineConfig() *EngineConfig {
	return &EngineConfig{}
}

// LoadEngineConfig loads an EngineConfig from a JSON file. The file must
// have a .json extension and be under the max file size. Fields omitted
// from the file keep their defaults, so partial configs are safe.
func LoadEngineConfig(path string) (*EngineConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyEngineConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical engine defaults from
// DefaultConfigPath, searching upward from the current directory. Panics if
// the file cannot be loaded; intended for test setup.
func MustLoadDefaultConfig() *EngineConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
		"../../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadEngineConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are in range.
func (c *EngineConfig) Validate() error {
	if c.PoolSizeFloor != nil && *c.PoolSizeFloor < 1 {
		return fmt.Errorf("pool_size_floor must be at least 1, got %d", *c.PoolSizeFloor)
	}

	if c.WorkerDivisor != nil && *c.WorkerDivisor < 1 {
		return fmt.Errorf("worker_divisor must be at least 1, got %d", *c.WorkerDivisor)
	}

	if c.MinWorkers != nil && *c.MinWorkers < 1 {
		return fmt.Errorf("min_workers must be at least 1, got %d", *c.MinWorkers)
	}

	if c.MinWorkers != nil && c.MaxWorkers != nil && *c.MaxWorkers < *c.MinWorkers {
		return fmt.Errorf("max_workers (%d) must be >= min_workers (%d)", *c.MaxWorkers, *c.MinWorkers)
	}

	if c.SequentialThreshold != nil && *c.SequentialThreshold < 0 {
		return fmt.Errorf("sequential_threshold must be non-negative, got %d", *c.SequentialThreshold)
	}

	if c.PrefixReadBytes != nil {
		const maxPrefix = 64 * 1024
		if *c.PrefixReadBytes < 1 || *c.PrefixReadBytes > maxPrefix {
			return fmt.Errorf("prefix_read_bytes must be in 1..%d, got %d", maxPrefix, *c.PrefixReadBytes)
		}
	}

	if c.OutlierMultiplier != nil && *c.OutlierMultiplier <= 0 {
		return fmt.Errorf("outlier_multiplier must be positive, got %f", *c.OutlierMultiplier)
	}

	for _, src := range c.AltitudeSources {
		if !isKnownAltitudeSource(src) {
			return fmt.Errorf("unknown altitude source %q (known: %v)", src, KnownAltitudeSources)
		}
	}

	// Validate every duration string parses
	durations := map[string]*string{
		"connect_timeout":      c.ConnectTimeout,
		"lease_timeout":        c.LeaseTimeout,
		"probe_timeout":        c.ProbeTimeout,
		"item_timeout":         c.ItemTimeout,
		"batch_timeout":        c.BatchTimeout,
		"folder_probe_timeout": c.FolderProbeTimeout,
		"analyze_timeout":      c.AnalyzeTimeout,
	}
	for name, val := range durations {
		if val != nil && *val != "" {
			if _, err := time.ParseDuration(*val); err != nil {
				return fmt.Errorf("invalid %s '%s': %w", name, *val, err)
			}
		}
	}

	return nil
}

func isKnownAltitudeSource(src string) bool {
	for _, known := range KnownAltitudeSources {
		if src == known {
			return true
		}
	}
	return false
}

// durationOr parses a duration pointer, returning def when unset, empty,
// or unparseable.
func durationOr(val *string, def time.Duration) time.Duration {
	if val == nil || *val == "" {
		return def
	}
	d, err := time.ParseDuration(*val)
	if err != nil {
		return def
	}
	return d
}

// GetPoolSizeFloor returns the pool_size_floor value or the default.
// Below this many live connections, batches fall back to sequential.
func (c *EngineConfig) GetPoolSizeFloor() int {
	if c.PoolSizeFloor == nil {
		return 5
	}
	return *c.PoolSizeFloor
}

// GetConnectTimeout returns the per-connection dial timeout.
func (c *EngineConfig) GetConnectTimeout() time.Duration {
	return durationOr(c.ConnectTimeout, 30*time.Second)
}

// GetLeaseTimeout returns the bounded wait for a free pooled connection.
func (c *EngineConfig) GetLeaseTimeout() time.Duration {
	return durationOr(c.LeaseTimeout, 30*time.Second)
}

// GetProbeTimeout returns the health-probe timeout for pooled connections.
func (c *EngineConfig) GetProbeTimeout() time.Duration {
	return durationOr(c.ProbeTimeout, 5*time.Second)
}

// GetWorkerDivisor returns the worker_divisor value or the default.
func (c *EngineConfig) GetWorkerDivisor() int {
	if c.WorkerDivisor == nil {
		return 10
	}
	return *c.WorkerDivisor
}

// GetMinWorkers returns the min_workers value or the default.
func (c *EngineConfig) GetMinWorkers() int {
	if c.MinWorkers == nil {
		return 10
	}
	return *c.MinWorkers
}

// GetMaxWorkers returns the max_workers value or the default.
func (c *EngineConfig) GetMaxWorkers() int {
	if c.MaxWorkers == nil {
		return 20
	}
	return *c.MaxWorkers
}

// GetSequentialThreshold returns the batch size below which extraction runs
// on a single connection without the pool.
func (c *EngineConfig) GetSequentialThreshold() int {
	if c.SequentialThreshold == nil {
		return 5
	}
	return *c.SequentialThreshold
}

// GetItemTimeout returns the per-item extraction timeout.
func (c *EngineConfig) GetItemTimeout() time.Duration {
	return durationOr(c.ItemTimeout, 30*time.Second)
}

// GetBatchTimeout returns the aggregate per-folder batch timeout.
func (c *EngineConfig) GetBatchTimeout() time.Duration {
	return durationOr(c.BatchTimeout, 300*time.Second)
}

// GetPrefixReadBytes returns how many bytes of each image to fetch for
// metadata parsing.
func (c *EngineConfig) GetPrefixReadBytes() int {
	if c.PrefixReadBytes == nil {
		return 32 * 1024
	}
	return *c.PrefixReadBytes
}

// GetAltitudeSources returns the altitude source precedence list, most
// preferred first.
func (c *EngineConfig) GetAltitudeSources() []string {
	if len(c.AltitudeSources) == 0 {
		return []string{"xmp-relative", "gps-altitude"}
	}
	return c.AltitudeSources
}

// GetFolderProbeTimeout returns the pre-extraction folder stat timeout.
func (c *EngineConfig) GetFolderProbeTimeout() time.Duration {
	return durationOr(c.FolderProbeTimeout, 10*time.Second)
}

// GetAnalyzeTimeout returns the outer whole-site analysis timeout.
func (c *EngineConfig) GetAnalyzeTimeout() time.Duration {
	return durationOr(c.AnalyzeTimeout, 600*time.Second)
}

// GetGroundCategories returns the folder categories treated as
// ground-reference: never used for outlier bounds, always drawn as inliers.
func (c *EngineConfig) GetGroundCategories() []string {
	if len(c.GroundCategories) == 0 {
		return []string{"civil", "road"}
	}
	return c.GroundCategories
}

// GetOutlierMultiplier returns the IQR multiplier for outlier bounds.
func (c *EngineConfig) GetOutlierMultiplier() float64 {
	if c.OutlierMultiplier == nil {
		return 4.0
	}
	return *c.OutlierMultiplier
}
