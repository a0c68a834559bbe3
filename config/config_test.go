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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), DefaultPath)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), DefaultPath))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, []string{"packages/*"}, cfg.Packages)
	assert.Equal(t, "origin", cfg.Remote)
	assert.Equal(t, time.Second, cfg.Workflow.RetryDelay.Std())
}

func TestLoad_OverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
packages:
  - libs/*
  - tools/cli
exclude:
  - "@acme/docs"
workflow:
  concurrency: 8
  retry_delay: 500ms
publish:
  rate_per_second: 5
  dry_run: true
log_level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"libs/*", "tools/cli"}, cfg.Packages)
	assert.Equal(t, []string{"@acme/docs"}, cfg.Exclude)
	assert.Equal(t, 8, cfg.Workflow.Concurrency)
	assert.Equal(t, 500*time.Millisecond, cfg.Workflow.RetryDelay.Std())
	assert.Equal(t, 5.0, cfg.Publish.RatePerSecond)
	assert.True(t, cfg.Publish.DryRun)
	assert.Equal(t, "debug", cfg.LogLevel)

	// Untouched fields keep their defaults.
	assert.Equal(t, "origin", cfg.Remote)
	assert.Equal(t, 2, cfg.Workflow.Retries)
}

func TestLoad_DurationAcceptsNanosecondInt(t *testing.T) {
	path := writeConfig(t, "workflow:\n  retry_delay: 1000000000\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, time.Second, cfg.Workflow.RetryDelay.Std())
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, "workflow:\n  retry_delay: soon\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "soon")
}

func TestLoad_RejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "pacakges:\n  - libs/*\n")
	_, err := Load(path)
	assert.Error(t, err, "typoed keys must not be silently dropped")

	// Keys that no longer exist are rejected too, not ignored.
	path = writeConfig(t, "workflow:\n  resume_threshold: 50ms\n")
	_, err = Load(path)
	assert.Error(t, err)
}

func TestLoad_ValidationFailures(t *testing.T) {
	cases := map[string]string{
		"empty packages":       "packages: []\n",
		"blank remote":         "remote: \"\"\n",
		"bad log level":        "log_level: verbose\n",
		"concurrency too high": "workflow:\n  concurrency: 200\n",
		"rate too high":        "publish:\n  rate_per_second: 500\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, content))
			assert.Error(t, err)
		})
	}
}

func TestLoad_FileTooLarge(t *testing.T) {
	big := make([]byte, MaxConfigFileSize+1)
	for i := range big {
		big[i] = '#'
	}
	path := writeConfig(t, string(big))
	_, err := Load(path)
	assert.ErrorIs(t, err, ErrConfigTooLarge)
}

func TestDuration_MarshalRoundTrip(t *testing.T) {
	d := Duration(1500 * time.Millisecond)
	out, err := d.MarshalYAML()
	require.NoError(t, err)
	assert.Equal(t, "1.5s", out)
}

func TestDefault_Validates(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.Validate())
}
