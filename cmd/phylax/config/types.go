// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads and validates the Phylax CLI configuration file.
//
// The file lives at ~/.phylax/config.yaml (PHYLAX_HOME overrides the
// directory). A missing file is not an error outside `phylax init`: Load
// falls back to the compiled-in defaults so read-only commands work on a
// fresh machine.
package config

import (
	"os"
	"path/filepath"
	"strings"
)

// PhylaxConfig is the root of config.yaml.
type PhylaxConfig struct {
	// Storage: where traces live on disk and how they are indexed
	Storage StorageConfig `yaml:"storage" validate:"required"`

	// Server: bind address for `phylax server`
	Server ServerConfig `yaml:"server" validate:"required"`

	// Tracing: SDK capture behavior
	Tracing TracingConfig `yaml:"tracing"`

	// Providers: backend endpoints resolved at invoke time
	Providers ProvidersConfig `yaml:"providers"`

	// Telemetry: OpenTelemetry exporter selection
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type StorageConfig struct {
	BaseDir string `yaml:"base_dir" validate:"required"`
	Format  string `yaml:"format" validate:"required,oneof=json"`
	Index   bool   `yaml:"index"`
}

type ServerConfig struct {
	Host string `yaml:"host" validate:"required"`
	Port int    `yaml:"port" validate:"required,min=1,max=65535"`
}

type TracingConfig struct {
	AutoCapture bool `yaml:"auto_capture"`
}

type ProvidersConfig struct {
	// OllamaURL overrides where the local adapter sends requests.
	// Exported to OLLAMA_BASE_URL before the registry is built.
	OllamaURL string `yaml:"ollama_url" validate:"omitempty,url"`
}

type TelemetryConfig struct {
	TraceExporter  string `yaml:"trace_exporter" validate:"required,oneof=otlp stdout none"`
	MetricExporter string `yaml:"metric_exporter" validate:"required,oneof=prometheus otlp stdout none"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
}

// DefaultConfig returns the compiled-in defaults: local-only storage under
// ~/.phylax, loopback server, capture on, telemetry exporters off.
func DefaultConfig() PhylaxConfig {
	return PhylaxConfig{
		Storage: StorageConfig{
			BaseDir: "~/.phylax",
			Format:  "json",
			Index:   true,
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8000,
		},
		Tracing: TracingConfig{
			AutoCapture: true,
		},
		Providers: ProvidersConfig{
			OllamaURL: "http://localhost:11434",
		},
		Telemetry: TelemetryConfig{
			TraceExporter:  "none",
			MetricExporter: "none",
			OTLPEndpoint:   "localhost:4317",
		},
	}
}

// Home returns the Phylax home directory: PHYLAX_HOME when set, else
// ~/.phylax. Falls back to a relative .phylax when the home directory
// cannot be resolved.
func Home() string {
	if h := os.Getenv("PHYLAX_HOME"); h != "" {
		return h
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".phylax"
	}
	return filepath.Join(home, ".phylax")
}

// DefaultPath returns the config file location under Home().
func DefaultPath() string {
	return filepath.Join(Home(), "config.yaml")
}

// StorageDir resolves the trace storage root. PHYLAX_HOME wins over the
// configured base_dir so one variable relocates everything.
func (c *PhylaxConfig) StorageDir() string {
	if h := os.Getenv("PHYLAX_HOME"); h != "" {
		return h
	}
	return expandPath(c.Storage.BaseDir)
}

// IndexDir returns the Badger directory for the derived index.
func (c *PhylaxConfig) IndexDir() string {
	return filepath.Join(c.StorageDir(), "index")
}

// LogDir returns the directory for CLI and server log files.
func (c *PhylaxConfig) LogDir() string {
	return filepath.Join(c.StorageDir(), "logs")
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		if path == "~" {
			return home
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
