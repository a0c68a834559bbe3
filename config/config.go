// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the workspace release configuration.
//
// # Description
//
// Configuration lives in a YAML file at the workspace root
// (.harbormaster.yaml by default). Every field has a working default,
// so a workspace with standard conventions needs no file at all.
//
// Thread Safety:
//
//	Config values are plain data; load once and share freely.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultPath is the config file looked up relative to the
	// workspace root.
	DefaultPath = ".harbormaster.yaml"

	// MaxConfigFileSize caps the config file at 1MB. Prevents memory
	// issues from a mistakenly pointed-at large file.
	MaxConfigFileSize = 1024 * 1024
)

// ErrConfigTooLarge is returned when the config file exceeds
// MaxConfigFileSize.
var ErrConfigTooLarge = errors.New("config file too large")

var configValidate = validator.New()

// Duration wraps time.Duration so YAML accepts "500ms"-style strings
// as well as bare nanosecond integers.
type Duration time.Duration

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		var ns int64
		if ierr := value.Decode(&ns); ierr != nil {
			return fmt.Errorf("invalid duration %q", value.Value)
		}
		*d = Duration(ns)
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Config is the full release configuration.
type Config struct {
	// Packages are glob patterns, relative to the workspace root,
	// naming the directories scanned for package manifests.
	Packages []string `yaml:"packages" validate:"required,min=1,dive,required"`

	// Exclude lists package scopes never released even when impacted.
	Exclude []string `yaml:"exclude"`

	// Remote is the git remote tags are pushed to.
	Remote string `yaml:"remote" validate:"required"`

	// PlanPath is where plans are persisted between plan and run.
	PlanPath string `yaml:"plan_path" validate:"required"`

	// CheckpointDir is the BadgerDB directory for workflow checkpoints.
	CheckpointDir string `yaml:"checkpoint_dir" validate:"required"`

	// Workflow tunes the executor.
	Workflow WorkflowConfig `yaml:"workflow"`

	// Publish tunes the registry publisher.
	Publish PublishConfig `yaml:"publish"`

	// LogLevel is debug, info, warn, or error.
	LogLevel string `yaml:"log_level" validate:"oneof=debug info warn error"`
}

// WorkflowConfig tunes the workflow executor.
type WorkflowConfig struct {
	// Concurrency bounds simultaneously running package chains.
	// Zero means unbounded.
	Concurrency int `yaml:"concurrency" validate:"gte=0,lte=64"`

	// Retries is attempts beyond the first for a failing activity.
	Retries int `yaml:"retries" validate:"gte=0,lte=10"`

	// RetryDelay is the pause between attempts.
	RetryDelay Duration `yaml:"retry_delay" validate:"gte=0"`
}

// PublishConfig tunes the registry publisher.
type PublishConfig struct {
	// RatePerSecond bounds npm publishes. Zero or negative disables
	// limiting.
	RatePerSecond float64 `yaml:"rate_per_second" validate:"lte=100"`

	// DryRun rehearses publishes without uploading.
	DryRun bool `yaml:"dry_run"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		Packages:      []string{"packages/*"},
		Remote:        "origin",
		PlanPath:      ".harbormaster/plan.json",
		CheckpointDir: ".harbormaster/checkpoints",
		Workflow: WorkflowConfig{
			Concurrency: 4,
			Retries:     2,
			RetryDelay:  Duration(time.Second),
		},
		Publish: PublishConfig{
			RatePerSecond: 2,
		},
		LogLevel: "info",
	}
}

// Load reads and validates a config file, layering it over Default().
//
// Inputs:
//
//	path - The config file. A missing file yields Default() with no
//	  error; any other read failure is returned.
//
// Outputs:
//
//	Config - The merged, validated configuration.
//	error - Non-nil on unreadable files, malformed YAML, or values
//	  failing validation.
func Load(path string) (Config, error) {
	cfg := Default()

	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("stat config %s: %w", path, err)
	}
	if info.Size() > MaxConfigFileSize {
		return Config{}, fmt.Errorf("%w: %s is %d bytes (limit %d)",
			ErrConfigTooLarge, path, info.Size(), MaxConfigFileSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration against its constraints.
func (c *Config) Validate() error {
	return configValidate.Struct(c)
}
