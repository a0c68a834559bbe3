// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package plan

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveLoad_RoundTrip(t *testing.T) {
	original, err := NewPlanner().Plan(
		testAnalysis([]string{"core@1.5.0-next.1"}),
		LifecyclePreview,
		Options{HeadSHA: "abcd1234"},
	)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "nested", "plan.json")
	require.NoError(t, Save(original, path))

	loaded, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, original.FormatVersion, loaded.FormatVersion)
	assert.Equal(t, original.Lifecycle, loaded.Lifecycle)
	assert.Equal(t, original.HeadSHA, loaded.HeadSHA)
	assert.True(t, original.CreatedAt.Equal(loaded.CreatedAt))
	require.Len(t, loaded.Releases, len(original.Releases))
	require.Len(t, loaded.Cascades, len(original.Cascades))

	// Concrete types survive the kind-tagged envelope.
	for i, item := range loaded.Releases {
		pr, ok := item.(PreviewRelease)
		require.True(t, ok, "release %d decoded as %T", i, item)
		orig := original.Releases[i].(PreviewRelease)
		assert.Equal(t, orig.Tag(), pr.Tag())
		assert.Equal(t, orig.Iteration, pr.Iteration)
	}
}

func TestSaveLoad_StableAndEphemeralKinds(t *testing.T) {
	dir := t.TempDir()

	stable, err := NewPlanner().Plan(testAnalysis(nil), LifecycleStable, Options{})
	require.NoError(t, err)
	path := filepath.Join(dir, "stable.json")
	require.NoError(t, Save(stable, path))
	loaded, err := Load(path)
	require.NoError(t, err)
	_, ok := loaded.Releases[0].(StableRelease)
	assert.True(t, ok)

	eph, err := NewPlanner().Plan(testAnalysis(nil), LifecycleEphemeral, Options{
		ChangeRequestID: "42", HeadSHA: "abcdef0123456",
	})
	require.NoError(t, err)
	path = filepath.Join(dir, "ephemeral.json")
	require.NoError(t, Save(eph, path))
	loaded, err = Load(path)
	require.NoError(t, err)
	item, ok := loaded.Releases[0].(EphemeralRelease)
	require.True(t, ok)
	assert.Equal(t, "42", item.RequestID)
}

func TestLoad_VersionMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.json")
	data := `{"format_version": "0.9.0", "lifecycle": "stable", "releases": [], "cascades": []}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0640))

	_, err := Load(path)
	assert.ErrorIs(t, err, ErrPlanVersionMismatch)
}

func TestLoad_UnknownItemKind(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.json")
	data := `{
		"format_version": "` + PlanFormatVersion + `",
		"lifecycle": "stable",
		"releases": [{"kind": "nightly", "item": {}}],
		"cascades": []
	}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0640))

	_, err := Load(path)
	assert.ErrorIs(t, err, ErrUnknownItemKind)
}

func TestSave_LeavesNoTempFileBehind(t *testing.T) {
	p, err := NewPlanner().Plan(testAnalysis(nil), LifecycleStable, Options{})
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, Save(p, filepath.Join(dir, "plan.json")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), ".plan-"), "stray temp file %s", e.Name())
	}
}
