// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads and validates hypickle.yaml.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/AleutianAI/hypickle/pkg/validation"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// EnvAPIKeys holds comma-separated API keys that take precedence over the
// key file.
const EnvAPIKeys = "HYPICKLE_API_KEYS"

// FileName is the config file name inside the home directory.
const FileName = "hypickle.yaml"

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("ymd", validateYMD)
}

// validateYMD accepts a YYYY-MM-DD calendar date.
func validateYMD(fl validator.FieldLevel) bool {
	return validation.IsDateString(fl.Field().String())
}

// DefaultPath returns ~/.hypickle/hypickle.yaml.
func DefaultPath() string {
	return filepath.Join(DefaultHome(), FileName)
}

// Load reads the config at path, creating it with defaults on first run.
//
// # Description
//
// Fields missing from the file keep their DefaultConfig values. After
// parsing, EnvAPIKeys is applied and the result is validated.
//
// # Outputs
//
//   - HypickleConfig: The validated configuration.
//   - bool: True when the file was created by this call.
//   - error: Read, parse or validation failure. Validation errors wrap
//     ErrInvalid.
func Load(path string) (HypickleConfig, bool, error) {
	if path == "" {
		path = DefaultPath()
	}
	created := false
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if err := Save(path, DefaultConfig()); err != nil {
			return HypickleConfig{}, false, err
		}
		created = true
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return HypickleConfig{}, false, fmt.Errorf("read config: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return HypickleConfig{}, false, fmt.Errorf("parse config %s: %w", path, err)
	}
	ApplyEnv(&cfg)
	if err := Validate(cfg); err != nil {
		return HypickleConfig{}, false, err
	}
	return cfg, created, nil
}

// Save writes cfg to path as YAML.
func Save(path string, cfg HypickleConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// ApplyEnv copies EnvAPIKeys into cfg.API.Keys.
func ApplyEnv(cfg *HypickleConfig) {
	raw := os.Getenv(EnvAPIKeys)
	if raw == "" {
		return
	}
	cfg.API.Keys = cfg.API.Keys[:0]
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			cfg.API.Keys = append(cfg.API.Keys, k)
		}
	}
}

// Validate checks struct tags, reporting every failing field.
func Validate(cfg HypickleConfig) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
}
