// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads contextgraph configuration.
//
// Values are resolved with priority env > file > defaults. Files are YAML,
// with JSON accepted as a fallback. Environment overrides use the
// CONTEXTGRAPH_ prefix.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/contextgraph/services/contextgraph/graph"
	"github.com/AleutianAI/contextgraph/services/contextgraph/store"
	"github.com/AleutianAI/contextgraph/services/contextgraph/telemetry"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CONTEXTGRAPH_"

var (
	// ErrInvalidConfig wraps every validation failure.
	ErrInvalidConfig = errors.New("invalid config")
)

var configValidate = validator.New()

// Config is the top-level contextgraph configuration.
//
// Thread Safety: Safe to read concurrently. Not safe to modify after creation.
type Config struct {
	// IndexDir holds the artifact files.
	IndexDir string `json:"index_dir" yaml:"index_dir"`

	// RepoRoot normalises file refs. Empty uses the index's root.
	RepoRoot string `json:"repo_root" yaml:"repo_root"`

	// IndexSignature keys the index cache. Empty disables index caching.
	IndexSignature string `json:"index_signature" yaml:"index_signature"`

	Store     StoreConfig      `json:"store" yaml:"store"`
	Traversal TraversalConfig  `json:"traversal" yaml:"traversal"`
	Server    ServerConfig     `json:"server" yaml:"server"`
	Storage   StorageConfig    `json:"storage" yaml:"storage"`
	Log       LogConfig        `json:"log" yaml:"log"`
	Telemetry telemetry.Config `json:"telemetry" yaml:"telemetry"`
}

// StoreConfig configures the graph store.
type StoreConfig struct {
	IndexCacheSize    int           `json:"index_cache_size" yaml:"index_cache_size" validate:"gte=1,lte=1024"`
	ArtifactCacheSize int           `json:"artifact_cache_size" yaml:"artifact_cache_size" validate:"gte=1,lte=1024"`
	MaxArtifactBytes  int64         `json:"max_artifact_bytes" yaml:"max_artifact_bytes" validate:"gt=0"`
	IncludeCsr        bool          `json:"include_csr" yaml:"include_csr"`
	Watch             bool          `json:"watch" yaml:"watch"`
	WatchDebounce     time.Duration `json:"watch_debounce" yaml:"watch_debounce" validate:"gte=0"`
}

// TraversalConfig holds request defaults. Request values win; caps left
// nil in a request are taken from Caps.
type TraversalConfig struct {
	Direction string     `json:"direction" yaml:"direction" validate:"omitempty,oneof=in out both"`
	Depth     int        `json:"depth" yaml:"depth" validate:"gte=0,lte=64"`
	Caps      graph.Caps `json:"caps" yaml:"caps"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Addr  string `json:"addr" yaml:"addr" validate:"required,hostname_port"`
	Debug bool   `json:"debug" yaml:"debug"`

	// RateLimit is the sustained request rate per second across all
	// clients. Zero disables limiting.
	RateLimit float64 `json:"rate_limit" yaml:"rate_limit" validate:"gte=0"`
	RateBurst int     `json:"rate_burst" yaml:"rate_burst" validate:"gte=0"`

	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" validate:"gte=0"`
}

// StorageConfig configures the BadgerDB artifact snapshot.
type StorageConfig struct {
	Path     string `json:"path" yaml:"path"`
	InMemory bool   `json:"in_memory" yaml:"in_memory"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level string `json:"level" yaml:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `json:"json" yaml:"json"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Store: StoreConfig{
			IndexCacheSize:    store.DefaultIndexCacheSize,
			ArtifactCacheSize: store.DefaultArtifactCacheSize,
			MaxArtifactBytes:  512 << 20,
			WatchDebounce:     store.DefaultWatchDebounce,
		},
		Traversal: TraversalConfig{
			Direction: string(graph.DirBoth),
			Depth:     1,
			Caps: graph.Caps{
				MaxDepth:         graph.Cap(4),
				MaxFanoutPerNode: graph.Cap(50),
				MaxNodes:         graph.Cap(500),
				MaxEdges:         graph.Cap(2000),
				MaxPaths:         graph.Cap(200),
				MaxCandidates:    graph.Cap(20),
				MaxWorkUnits:     graph.Cap(20000),
				MaxWallClockMs:   graph.Cap(2000),
			},
		},
		Server: ServerConfig{
			Addr:            ":8095",
			RateBurst:       20,
			ShutdownTimeout: 10 * time.Second,
		},
		Log:       LogConfig{Level: "info"},
		Telemetry: telemetry.DefaultConfig(),
	}
}

// Load reads configuration with priority env > file > defaults.
//
// Inputs:
//   - path: YAML or JSON file. Empty or missing uses defaults.
//
// Outputs:
//   - Config: Merged configuration.
//   - error: Non-nil if the file is unreadable or invalid, or validation fails.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			return fmt.Errorf("parse config (tried YAML and JSON): YAML error: %v, JSON error: %w", err, jsonErr)
		}
	}
	return nil
}

type lookupFunc func(key string) (string, bool)

// applyEnv overrides cfg from the environment. Malformed numbers are
// errors rather than silently ignored.
func applyEnv(cfg *Config, lookup lookupFunc) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(EnvPrefix + key); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(EnvPrefix + key); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = b
		}
	}
	capValue := func(key string, dst **int) {
		if v, ok := lookup(EnvPrefix + key); ok {
			v = strings.TrimSpace(v)
			if v == "" || strings.EqualFold(v, "none") {
				*dst = nil
				return
			}
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = graph.Cap(n)
		}
	}

	str("INDEX_DIR", &cfg.IndexDir)
	str("REPO_ROOT", &cfg.RepoRoot)
	str("INDEX_SIGNATURE", &cfg.IndexSignature)

	integer("INDEX_CACHE_SIZE", &cfg.Store.IndexCacheSize)
	integer("ARTIFACT_CACHE_SIZE", &cfg.Store.ArtifactCacheSize)
	if v, ok := lookup(EnvPrefix + "MAX_ARTIFACT_BYTES"); ok {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sMAX_ARTIFACT_BYTES: %w", EnvPrefix, err))
		} else {
			cfg.Store.MaxArtifactBytes = n
		}
	}
	boolean("INCLUDE_CSR", &cfg.Store.IncludeCsr)
	boolean("WATCH", &cfg.Store.Watch)
	if v, ok := lookup(EnvPrefix + "WATCH_DEBOUNCE"); ok {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%sWATCH_DEBOUNCE: %w", EnvPrefix, err))
		} else {
			cfg.Store.WatchDebounce = d
		}
	}

	str("DIRECTION", &cfg.Traversal.Direction)
	integer("DEPTH", &cfg.Traversal.Depth)
	capValue("MAX_DEPTH", &cfg.Traversal.Caps.MaxDepth)
	capValue("MAX_FANOUT_PER_NODE", &cfg.Traversal.Caps.MaxFanoutPerNode)
	capValue("MAX_NODES", &cfg.Traversal.Caps.MaxNodes)
	capValue("MAX_EDGES", &cfg.Traversal.Caps.MaxEdges)
	capValue("MAX_PATHS", &cfg.Traversal.Caps.MaxPaths)
	capValue("MAX_CANDIDATES", &cfg.Traversal.Caps.MaxCandidates)
	capValue("MAX_WORK_UNITS", &cfg.Traversal.Caps.MaxWorkUnits)
	capValue("MAX_WALL_CLOCK_MS", &cfg.Traversal.Caps.MaxWallClockMs)

	str("SERVER_ADDR", &cfg.Server.Addr)
	boolean("DEBUG", &cfg.Server.Debug)

	str("BADGER_PATH", &cfg.Storage.Path)
	boolean("BADGER_IN_MEMORY", &cfg.Storage.InMemory)

	str("LOG_LEVEL", &cfg.Log.Level)
	boolean("LOG_JSON", &cfg.Log.JSON)

	str("TRACE_EXPORTER", &cfg.Telemetry.TraceExporter)
	str("METRIC_EXPORTER", &cfg.Telemetry.MetricExporter)
	str("OTLP_ENDPOINT", &cfg.Telemetry.OTLPEndpoint)
	if v, ok := lookup(EnvPrefix + "RATE_LIMIT"); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sRATE_LIMIT: %w", EnvPrefix, err))
		} else {
			cfg.Server.RateLimit = f
		}
	}
	integer("RATE_BURST", &cfg.Server.RateBurst)

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// Validate checks struct tags and cross-field rules.
func (c *Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.Storage.InMemory && c.Storage.Path != "" {
		return fmt.Errorf("%w: storage.path and storage.in_memory are mutually exclusive", ErrInvalidConfig)
	}
	if c.Server.RateLimit > 0 && c.Server.RateBurst < 1 {
		return fmt.Errorf("%w: server.rate_burst must be >= 1 when rate_limit is set", ErrInvalidConfig)
	}
	if c.Store.Watch && c.IndexDir == "" {
		return fmt.Errorf("%w: store.watch requires index_dir", ErrInvalidConfig)
	}
	for name, v := range c.capValues() {
		if v != nil && *v < 0 {
			return fmt.Errorf("%w: traversal.caps.%s must be >= 0, got %d", ErrInvalidConfig, name, *v)
		}
	}
	return nil
}

func (c *Config) capValues() map[string]*int {
	caps := c.Traversal.Caps
	return map[string]*int{
		"max_depth":           caps.MaxDepth,
		"max_fanout_per_node": caps.MaxFanoutPerNode,
		"max_nodes":           caps.MaxNodes,
		"max_edges":           caps.MaxEdges,
		"max_paths":           caps.MaxPaths,
		"max_candidates":      caps.MaxCandidates,
		"max_work_units":      caps.MaxWorkUnits,
		"max_wall_clock_ms":   caps.MaxWallClockMs,
	}
}

// StoreOptions maps the configuration onto store options. Source is left
// nil so the store reads IndexDir.
func (c *Config) StoreOptions(logger *slog.Logger) store.Options {
	return store.Options{
		IndexDir:          c.IndexDir,
		MaxArtifactBytes:  c.Store.MaxArtifactBytes,
		IndexCacheSize:    c.Store.IndexCacheSize,
		ArtifactCacheSize: c.Store.ArtifactCacheSize,
		Logger:            logger,
	}
}

// LoadOptions returns the index load options for the configured graphs.
func (c *Config) LoadOptions(graphs []string) store.LoadOptions {
	return store.LoadOptions{
		RepoRoot:       c.RepoRoot,
		IndexSignature: c.IndexSignature,
		Graphs:         graphs,
		IncludeCsr:     c.Store.IncludeCsr,
	}
}

// SlogLevel maps Level onto slog. Unknown levels are info.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds the process logger writing to w.
func (l LogConfig) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: l.SlogLevel()}
	if l.JSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
