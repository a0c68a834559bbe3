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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/harbormaster/analyze"
	"github.com/AleutianAI/harbormaster/commit"
	"github.com/AleutianAI/harbormaster/version"
)

func vp(s string) *version.Version {
	v := version.MustParse(s)
	return &v
}

func testAnalysis(tags []string) *analyze.Analysis {
	return &analyze.Analysis{
		Impacts: []analyze.PackageImpact{
			{
				Scope:          "core",
				Bump:           version.BumpMinor,
				Commits:        []commit.Commit{{Hash: "c1", Message: "feat(core): x"}},
				CurrentVersion: vp("1.4.2"),
			},
			{
				Scope: "fresh",
				Bump:  version.BumpMinor,
			},
		},
		Cascades: []analyze.CascadeImpact{
			{Scope: "ui", TriggeredBy: []string{"core"}, CurrentVersion: vp("0.3.2")},
		},
		Tags: tags,
	}
}

func TestPlan_Stable(t *testing.T) {
	p, err := NewPlanner().Plan(testAnalysis(nil), LifecycleStable, Options{HeadSHA: "abcd1234ef"})
	require.NoError(t, err)

	assert.Equal(t, PlanFormatVersion, p.FormatVersion)
	assert.Equal(t, LifecycleStable, p.Lifecycle)
	assert.Equal(t, "abcd1234ef", p.HeadSHA)
	assert.False(t, p.CreatedAt.IsZero())
	require.Len(t, p.Releases, 2)
	require.Len(t, p.Cascades, 1)

	core := p.Releases[0].(StableRelease)
	assert.Equal(t, "core@1.5.0", core.Tag())
	assert.False(t, core.First)
	require.Len(t, core.Commits(), 1)

	fresh := p.Releases[1].(StableRelease)
	assert.Equal(t, "fresh@0.1.0", fresh.Tag())
	assert.True(t, fresh.First)
	assert.Nil(t, fresh.CurrentVersion())

	// Cascades release with at least a patch bump.
	ui := p.Cascades[0].(StableRelease)
	assert.Equal(t, "ui@0.3.3", ui.Tag())
	assert.Equal(t, version.BumpPatch, ui.Bump())
	assert.Equal(t, []string{"core"}, ui.TriggeredBy())
}

func TestPlan_Preview(t *testing.T) {
	tags := []string{"core@1.5.0-next.1", "core@1.5.0-next.2"}
	p, err := NewPlanner().Plan(testAnalysis(tags), LifecyclePreview, Options{})
	require.NoError(t, err)

	core := p.Releases[0].(PreviewRelease)
	assert.Equal(t, "core@1.5.0-next.3", core.Tag())
	assert.Equal(t, version.MustParse("1.5.0"), core.Base)
	assert.Equal(t, 3, core.Iteration)

	// A base with no prior previews starts at 1.
	fresh := p.Releases[1].(PreviewRelease)
	assert.Equal(t, "fresh@0.1.0-next.1", fresh.Tag())
	assert.Equal(t, 1, fresh.Iteration)
}

func TestPlan_Ephemeral(t *testing.T) {
	tags := []string{"core@0.0.0-pr.412.1.1234567"}
	p, err := NewPlanner().Plan(testAnalysis(tags), LifecycleEphemeral, Options{
		ChangeRequestID: "412",
		HeadSHA:         "fedcba9876543210",
	})
	require.NoError(t, err)

	core := p.Releases[0].(EphemeralRelease)
	// Rooted at 0.0.0 regardless of the current version.
	assert.Equal(t, "core@0.0.0-pr.412.2.fedcba9", core.Tag())
	assert.Equal(t, "412", core.RequestID)
	assert.Equal(t, 2, core.Iteration)
	assert.Equal(t, "fedcba9", core.ShortSHA)
	// Current version still carried for display.
	assert.Equal(t, vp("1.4.2"), core.CurrentVersion())
}

func TestPlan_EphemeralRequiresChangeRequest(t *testing.T) {
	t.Setenv("HARBORMASTER_CHANGE_REQUEST", "")
	t.Setenv("GITHUB_REF", "")

	_, err := NewPlanner().Plan(testAnalysis(nil), LifecycleEphemeral, Options{HeadSHA: "abc"})
	assert.ErrorIs(t, err, ErrNoChangeRequestID)

	_, err = NewPlanner().Plan(testAnalysis(nil), LifecycleEphemeral, Options{ChangeRequestID: "7"})
	assert.ErrorIs(t, err, ErrNoHeadSHA)
}

func TestPlan_ChangeRequestFromEnvironment(t *testing.T) {
	t.Setenv("HARBORMASTER_CHANGE_REQUEST", "")
	t.Setenv("GITHUB_REF", "refs/pull/512/merge")

	p, err := NewPlanner().Plan(testAnalysis(nil), LifecycleEphemeral, Options{HeadSHA: "abcdef12345"})
	require.NoError(t, err)
	assert.Equal(t, "512", p.Releases[0].(EphemeralRelease).RequestID)

	// The explicit variable wins over CI inference.
	t.Setenv("HARBORMASTER_CHANGE_REQUEST", "900")
	p, err = NewPlanner().Plan(testAnalysis(nil), LifecycleEphemeral, Options{HeadSHA: "abcdef12345"})
	require.NoError(t, err)
	assert.Equal(t, "900", p.Releases[0].(EphemeralRelease).RequestID)
}

func TestPlan_UnknownLifecycle(t *testing.T) {
	_, err := NewPlanner().Plan(testAnalysis(nil), Lifecycle("nightly"), Options{})
	assert.ErrorIs(t, err, ErrUnknownLifecycle)
}

func TestPlan_Items(t *testing.T) {
	p, err := NewPlanner().Plan(testAnalysis(nil), LifecycleStable, Options{})
	require.NoError(t, err)

	items := p.Items()
	require.Len(t, items, 3)
	assert.Equal(t, "core", items[0].Package())
	assert.Equal(t, "ui", items[2].Package())
}
