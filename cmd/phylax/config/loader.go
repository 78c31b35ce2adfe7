// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ErrConfigExists is returned by WriteDefault when a config file is already
// present and force was not requested.
var ErrConfigExists = errors.New("config already exists")

// validate is the shared validator instance. The struct tags are static, so
// one instance serves every load.
var validate = validator.New()

// defaultTemplate is the file written by `phylax init`. Kept as literal YAML
// so the comments survive; TestDefaultTemplateMatchesDefaults pins it to
// DefaultConfig().
const defaultTemplate = `storage:
  base_dir: ~/.phylax
  format: json
  index: true
server:
  host: 127.0.0.1
  port: 8000
tracing:
  auto_capture: true
providers:
  ollama_url: http://localhost:11434
telemetry:
  trace_exporter: none     # otlp | stdout | none
  metric_exporter: none    # prometheus | otlp | stdout | none
  otlp_endpoint: localhost:4317
`

// Load reads and validates the config file at path.
//
// Description:
//
//	An empty path means DefaultPath(). The file is decoded over a
//	DefaultConfig() base, so a partial file keeps defaults for every key it
//	omits. A missing file returns the defaults unchanged; any other read,
//	parse, or validation failure is an error.
//
// Inputs:
//
//	path - Config file location, or "" for ~/.phylax/config.yaml.
//
// Outputs:
//
//	*PhylaxConfig - Validated configuration.
//	error - Non-nil on unreadable, unparseable, or invalid config.
//
// Thread Safety: Safe for concurrent use.
func Load(path string) (*PhylaxConfig, error) {
	if path == "" {
		path = DefaultPath()
	}

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// WriteDefault writes the default config template to path.
//
// Description:
//
//	Creates the parent directory if needed. Refuses to clobber an existing
//	file unless force is set; callers surface ErrConfigExists as the
//	"use --force" hint.
//
// Inputs:
//
//	path - Destination config file.
//	force - Overwrite an existing file.
//
// Outputs:
//
//	error - ErrConfigExists, or a filesystem error.
func WriteDefault(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%w: %s", ErrConfigExists, path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(defaultTemplate), 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
