package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical runtime defaults file.
const DefaultConfigPath = "config/camflow.defaults.json"

// RuntimeConfig is the root process configuration. Pipeline topology lives in
// a separate pipeline spec; this file only holds knobs that apply across
// operators and the process surfaces (debug HTTP, gRPC health, track store).
type RuntimeConfig struct {
	// Streams
	StreamBufferSize *int    `json:"stream_buffer_size,omitempty"`
	PushPolicy       *string `json:"push_policy,omitempty"` // "drop" or "block"

	// Matcher
	TrackEvictionTTL *string `json:"track_eviction_ttl,omitempty"` // duration string like "3600s"

	// Surfaces
	HTTPListen *string `json:"http_listen,omitempty"`
	GRPCListen *string `json:"grpc_listen,omitempty"`

	// Storage
	TrackDBPath *string `json:"track_db_path,omitempty"`

	// Latency plots written on shutdown. Empty disables plotting.
	PlotDir *string `json:"plot_dir,omitempty"`
}

func ptrString(v string) *string { return &v }
func ptrInt(v int) *int          { return &v }

// EmptyRuntimeConfig returns a RuntimeConfig with all fields set to nil.
func EmptyRuntimeConfig() *RuntimeConfig {
	return &RuntimeConfig{}
}

// DefaultRuntimeConfig returns a RuntimeConfig with every field populated
// with its default value.
func DefaultRuntimeConfig() *RuntimeConfig {
	return &RuntimeConfig{
		StreamBufferSize: ptrInt(16),
		PushPolicy:       ptrString("drop"),
		TrackEvictionTTL: ptrString("3600s"),
		HTTPListen:       ptrString(":8080"),
		GRPCListen:       ptrString(":50051"),
		TrackDBPath:      ptrString("tracks.db"),
		PlotDir:          ptrString(""),
	}
}

// LoadRuntimeConfig loads a RuntimeConfig from a JSON file. Fields omitted
// from the file fall back to defaults through the Get* methods, so partial
// configs are safe.
func LoadRuntimeConfig(path string) (*RuntimeConfig, error) {
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

	cfg := EmptyRuntimeConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *RuntimeConfig) Validate() error {
	if c.StreamBufferSize != nil && *c.StreamBufferSize <= 0 {
		return fmt.Errorf("stream_buffer_size must be positive, got %d", *c.StreamBufferSize)
	}

	if c.PushPolicy != nil {
		switch *c.PushPolicy {
		case "", "drop", "block":
		default:
			return fmt.Errorf("push_policy must be \"drop\" or \"block\", got %q", *c.PushPolicy)
		}
	}

	if c.TrackEvictionTTL != nil && *c.TrackEvictionTTL != "" {
		d, err := time.ParseDuration(*c.TrackEvictionTTL)
		if err != nil {
			return fmt.Errorf("invalid track_eviction_ttl '%s': %w", *c.TrackEvictionTTL, err)
		}
		if d <= 0 {
			return fmt.Errorf("track_eviction_ttl must be positive, got %s", d)
		}
	}

	return nil
}

// GetStreamBufferSize returns the per-reader queue depth or the default.
func (c *RuntimeConfig) GetStreamBufferSize() int {
	if c.StreamBufferSize == nil {
		return 16
	}
	return *c.StreamBufferSize
}

// GetBlockOnPush reports whether operators block on full output streams.
func (c *RuntimeConfig) GetBlockOnPush() bool {
	return c.PushPolicy != nil && *c.PushPolicy == "block"
}

// GetTrackEvictionTTL parses and returns the TrackEvictionTTL.
func (c *RuntimeConfig) GetTrackEvictionTTL() time.Duration {
	if c.TrackEvictionTTL == nil || *c.TrackEvictionTTL == "" {
		return time.Hour // default
	}
	d, err := time.ParseDuration(*c.TrackEvictionTTL)
	if err != nil {
		return time.Hour // default on parse error
	}
	return d
}

// GetHTTPListen returns the debug HTTP listen address or the default.
func (c *RuntimeConfig) GetHTTPListen() string {
	if c.HTTPListen == nil {
		return ":8080"
	}
	return *c.HTTPListen
}

// GetGRPCListen returns the gRPC health listen address or the default.
// An empty string disables the gRPC server.
func (c *RuntimeConfig) GetGRPCListen() string {
	if c.GRPCListen == nil {
		return ":50051"
	}
	return *c.GRPCListen
}

// GetTrackDBPath returns the sqlite track store path or the default.
func (c *RuntimeConfig) GetTrackDBPath() string {
	if c.TrackDBPath == nil || *c.TrackDBPath == "" {
		return "tracks.db"
	}
	return *c.TrackDBPath
}

// GetPlotDir returns the latency plot directory; empty disables plotting.
func (c *RuntimeConfig) GetPlotDir() string {
	if c.PlotDir == nil {
		return ""
	}
	return *c.PlotDir
}
