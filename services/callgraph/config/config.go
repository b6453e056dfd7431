// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads project configuration and discovers the source files
// a call graph is built from.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Defaults
// =============================================================================

const (
	// FileName is the config file looked up in the project root.
	FileName = "callgraph.yaml"

	// EnvFileName is the dotenv file looked up in the project root.
	EnvFileName = ".env"

	// EnvNeo4jPassword overrides Neo4j.Password when set.
	EnvNeo4jPassword = "CALLGRAPH_NEO4J_PASSWORD"

	// MaxConfigFileSize caps the YAML file we are willing to parse.
	MaxConfigFileSize = 1 << 20

	DefaultMaxFileSize       = 10 * 1024 * 1024
	DefaultFactCacheSize     = 4096
	DefaultSnapshotDir       = ".callgraph"
	DefaultPort              = 12218
	DefaultInitRatePerMinute = 10
	DefaultNeo4jURI          = "bolt://localhost:7687"
	DefaultNeo4jUser         = "neo4j"
)

// DefaultExclude lists directory names never descended into.
var DefaultExclude = []string{
	".git",
	"__pycache__",
	".venv",
	"venv",
	"env",
	"node_modules",
	"build",
	"dist",
	".tox",
	".mypy_cache",
	".pytest_cache",
	"site-packages",
}

// DefaultExtensions lists the source extensions discovered by default.
var DefaultExtensions = []string{".py"}

// ErrInvalidConfig is returned when a config file fails validation.
var ErrInvalidConfig = errors.New("invalid config")

// =============================================================================
// Types
// =============================================================================

// Config is the per-project configuration.
//
// Thread Safety: Immutable after Load; safe for concurrent use.
type Config struct {
	// Exclude lists directory names skipped during discovery.
	Exclude []string `yaml:"exclude" validate:"dive,required"`

	// Extensions lists file extensions (with leading dot) to analyze.
	Extensions []string `yaml:"extensions" validate:"min=1,dive,startswith=."`

	// Workers bounds parallel extraction (0 = GOMAXPROCS).
	Workers int `yaml:"workers" validate:"gte=0,lte=256"`

	// MaxFileSize is the largest source file parsed, in bytes.
	MaxFileSize int `yaml:"max_file_size" validate:"gt=0"`

	// FactCacheSize is the number of per-file extraction results kept.
	FactCacheSize int `yaml:"fact_cache_size" validate:"gte=0"`

	// SnapshotDir holds the snapshot database, relative to the root unless
	// absolute.
	SnapshotDir string `yaml:"snapshot_dir" validate:"required"`

	Server ServerConfig `yaml:"server"`
	Neo4j  Neo4jConfig  `yaml:"neo4j"`
}

// ServerConfig configures the HTTP service.
type ServerConfig struct {
	Port              int `yaml:"port" validate:"gt=0,lte=65535"`
	InitRatePerMinute int `yaml:"init_rate_per_minute" validate:"gt=0"`
}

// Neo4jConfig configures the graph export target.
type Neo4jConfig struct {
	URI      string `yaml:"uri" validate:"required,uri"`
	User     string `yaml:"user" validate:"required"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Exclude:       append([]string(nil), DefaultExclude...),
		Extensions:    append([]string(nil), DefaultExtensions...),
		MaxFileSize:   DefaultMaxFileSize,
		FactCacheSize: DefaultFactCacheSize,
		SnapshotDir:   DefaultSnapshotDir,
		Server: ServerConfig{
			Port:              DefaultPort,
			InitRatePerMinute: DefaultInitRatePerMinute,
		},
		Neo4j: Neo4jConfig{
			URI:  DefaultNeo4jURI,
			User: DefaultNeo4jUser,
		},
	}
}

// =============================================================================
// Loading
// =============================================================================

// Load reads the configuration for a project.
//
// Description:
//
//	Reads path, or <root>/callgraph.yaml when path is empty. A missing file
//	yields Default(). Fields absent from the file keep their defaults. The
//	project's .env file, when present, is loaded into the environment first,
//	and CALLGRAPH_NEO4J_PASSWORD overrides the Neo4j password.
//
// Inputs:
//
//	root - Project root directory.
//	path - Explicit config file, or empty.
//
// Outputs:
//
//	*Config - The validated configuration.
//	error - Non-nil if the file is unreadable, malformed, or invalid.
func Load(root, path string) (*Config, error) {
	envPath := filepath.Join(root, EnvFileName)
	if err := godotenv.Load(envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("ignoring unreadable env file",
			slog.String("path", envPath),
			slog.String("error", err.Error()),
		)
	}

	explicit := path != ""
	if !explicit {
		path = filepath.Join(root, FileName)
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if cfg, err = Parse(data); err != nil {
			return nil, fmt.Errorf("loading %s: %w", path, err)
		}
		slog.Debug("config loaded", slog.String("path", path))
	case errors.Is(err, os.ErrNotExist) && !explicit:
		slog.Debug("no config file, using defaults", slog.String("path", path))
	default:
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if pw := os.Getenv(EnvNeo4jPassword); pw != "" {
		cfg.Neo4j.Password = pw
	}
	return cfg, nil
}

// Parse decodes and validates YAML config bytes over Default().
func Parse(data []byte) (*Config, error) {
	if len(data) > MaxConfigFileSize {
		return nil, fmt.Errorf("%w: file exceeds maximum size (%d > %d)", ErrInvalidConfig, len(data), MaxConfigFileSize)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}
	for i, ext := range cfg.Extensions {
		cfg.Extensions[i] = strings.ToLower(ext)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s fails %q", ErrInvalidConfig, fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// SnapshotPath returns the snapshot directory resolved against root.
func (c *Config) SnapshotPath(root string) string {
	if filepath.IsAbs(c.SnapshotDir) {
		return c.SnapshotDir
	}
	return filepath.Join(root, c.SnapshotDir)
}

// IsExcluded reports whether a directory with this base name is skipped.
func (c *Config) IsExcluded(name string) bool {
	for _, ex := range c.Exclude {
		if ex == name {
			return true
		}
	}
	return false
}

// HasExtension reports whether path has an analyzed extension.
func (c *Config) HasExtension(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, want := range c.Extensions {
		if ext == want {
			return true
		}
	}
	return false
}
