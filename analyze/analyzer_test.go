// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analyze

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/harbormaster/commit"
	"github.com/AleutianAI/harbormaster/version"
	"github.com/AleutianAI/harbormaster/workspace"
)

// fakeGit serves a fixed commit list and records the requested ref.
type fakeGit struct {
	commits  []commit.Commit
	sinceRef string
}

func (f *fakeGit) CommitsSince(ctx context.Context, ref string) ([]commit.Commit, error) {
	f.sinceRef = ref
	return f.commits, nil
}

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func mkCommit(hash, title string, minute int) commit.Commit {
	return commit.Commit{
		Hash:    hash,
		Message: title,
		Date:    testEpoch.Add(time.Duration(minute) * time.Minute),
	}
}

func testWorkspace() []workspace.Package {
	return []workspace.Package{
		{Scope: "app", Dependencies: []string{"ui"}},
		{Scope: "core"},
		{Scope: "docs"},
		{Scope: "ui", Dependencies: []string{"core"}},
	}
}

func TestAnalyze_AggregatesImpacts(t *testing.T) {
	git := &fakeGit{commits: []commit.Commit{
		mkCommit("c1", "fix(core): patch a bug", 1),
		mkCommit("c2", "feat(core): add feature", 2),
		mkCommit("c3", "feat(core)!: breaking rework", 3),
	}}

	a := New(git, nil)
	analysis, err := a.Analyze(context.Background(), testWorkspace(), nil, Options{})
	require.NoError(t, err)

	require.Len(t, analysis.Impacts, 1)
	imp := analysis.Impacts[0]
	assert.Equal(t, "core", imp.Scope)
	assert.Equal(t, version.BumpMajor, imp.Bump, "highest severity wins")
	require.Len(t, imp.Commits, 3)
	// Oldest first regardless of extraction interleaving.
	assert.Equal(t, "c1", imp.Commits[0].Hash)
	assert.Equal(t, "c3", imp.Commits[2].Hash)
}

func TestAnalyze_CascadePropagation(t *testing.T) {
	git := &fakeGit{commits: []commit.Commit{
		mkCommit("c1", "feat(core): new api", 1),
	}}

	a := New(git, nil)
	analysis, err := a.Analyze(context.Background(), testWorkspace(), nil, Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"core"}, analysis.ImpactedScopes())

	require.Len(t, analysis.Cascades, 2)
	assert.Equal(t, "app", analysis.Cascades[0].Scope)
	assert.Equal(t, []string{"ui"}, analysis.Cascades[0].TriggeredBy)
	assert.Equal(t, "ui", analysis.Cascades[1].Scope)
	assert.Equal(t, []string{"core"}, analysis.Cascades[1].TriggeredBy)

	assert.Equal(t, []string{"docs"}, analysis.Unchanged)
}

func TestAnalyze_ImpactsAndCascadesDisjoint(t *testing.T) {
	git := &fakeGit{commits: []commit.Commit{
		mkCommit("c1", "feat(core): new api", 1),
		mkCommit("c2", "fix(ui): align", 2),
	}}

	a := New(git, nil)
	analysis, err := a.Analyze(context.Background(), testWorkspace(), nil, Options{})
	require.NoError(t, err)

	impacted := make(map[string]bool)
	for _, imp := range analysis.Impacts {
		impacted[imp.Scope] = true
	}
	for _, c := range analysis.Cascades {
		assert.False(t, impacted[c.Scope], "cascade %s also directly impacted", c.Scope)
	}
	// ui has its own commits, so it is an impact, not a cascade.
	assert.True(t, impacted["ui"])
}

func TestAnalyze_DuplicateCommitAggregatesOnce(t *testing.T) {
	// A multi-group title yields two impacts for the same scope from
	// one commit; aggregation must keep one commit at the max bump.
	git := &fakeGit{commits: []commit.Commit{
		mkCommit("c1", "fix(core), feat(core): split change", 1),
		mkCommit("c2", "fix(core): follow-up", 2),
	}}

	a := New(git, nil)
	analysis, err := a.Analyze(context.Background(), testWorkspace(), nil, Options{})
	require.NoError(t, err)

	require.Len(t, analysis.Impacts, 1)
	imp := analysis.Impacts[0]
	assert.Equal(t, "core", imp.Scope)
	assert.Equal(t, version.BumpMinor, imp.Bump, "max severity across duplicate entries")
	require.Len(t, imp.Commits, 2, "one entry per hash")
	assert.Equal(t, "c1", imp.Commits[0].Hash)
	assert.Equal(t, "c2", imp.Commits[1].Hash)
}

func TestAnalyze_Idempotent(t *testing.T) {
	git := &fakeGit{commits: []commit.Commit{
		mkCommit("c1", "feat(core): one", 1),
		mkCommit("c2", "fix(ui): two", 2),
		mkCommit("c3", "not conventional", 3),
	}}

	a := New(git, nil)
	first, err := a.Analyze(context.Background(), testWorkspace(), nil, Options{})
	require.NoError(t, err)
	second, err := a.Analyze(context.Background(), testWorkspace(), nil, Options{})
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestAnalyze_SkipsMalformedCommits(t *testing.T) {
	git := &fakeGit{commits: []commit.Commit{
		mkCommit("bad1", "no shape at all", 1),
		mkCommit("c2", "feat(core): fine", 2),
		mkCommit("bad3", "Feat(core): uppercase", 3),
	}}

	a := New(git, nil)
	analysis, err := a.Analyze(context.Background(), testWorkspace(), nil, Options{})
	require.NoError(t, err, "parse errors must never fail the analysis")

	require.Len(t, analysis.Impacts, 1)
	require.Len(t, analysis.Skipped, 2)
	assert.Equal(t, "bad1", analysis.Skipped[0].Hash)
	assert.Equal(t, "bad3", analysis.Skipped[1].Hash)
	assert.NotEmpty(t, analysis.Skipped[0].Reason)
}

func TestAnalyze_UnknownScopesIgnored(t *testing.T) {
	git := &fakeGit{commits: []commit.Commit{
		mkCommit("c1", "feat(vendor-lib): not ours", 1),
	}}

	a := New(git, nil)
	analysis, err := a.Analyze(context.Background(), testWorkspace(), nil, Options{})
	require.NoError(t, err)
	assert.Empty(t, analysis.Impacts)
	assert.Empty(t, analysis.Cascades)
}

func TestAnalyze_FilterAndExclude(t *testing.T) {
	git := &fakeGit{commits: []commit.Commit{
		mkCommit("c1", "feat(core): one", 1),
		mkCommit("c2", "fix(docs): two", 2),
	}}

	a := New(git, nil)
	analysis, err := a.Analyze(context.Background(), testWorkspace(), nil, Options{
		Filter: []string{"core"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"core"}, analysis.ImpactedScopes())

	analysis, err = a.Analyze(context.Background(), testWorkspace(), nil, Options{
		Exclude: []string{"core", "app"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"docs"}, analysis.ImpactedScopes())
	// Excluded scopes vanish from cascades and unchanged too.
	for _, c := range analysis.Cascades {
		assert.NotContains(t, []string{"core", "app"}, c.Scope)
	}
	assert.NotContains(t, analysis.Unchanged, "core")
}

func TestAnalyze_ExcludedTriggerReattributed(t *testing.T) {
	// app depends on ui depends on core. With ui excluded, app still
	// cascades, and its trigger resolves through ui to core instead of
	// naming a scope missing from the analysis.
	git := &fakeGit{commits: []commit.Commit{
		mkCommit("c1", "feat(core): new api", 1),
	}}

	a := New(git, nil)
	analysis, err := a.Analyze(context.Background(), testWorkspace(), nil, Options{
		Exclude: []string{"ui"},
	})
	require.NoError(t, err)

	require.Len(t, analysis.Cascades, 1)
	assert.Equal(t, "app", analysis.Cascades[0].Scope)
	assert.Equal(t, []string{"core"}, analysis.Cascades[0].TriggeredBy)
}

func TestAnalyze_SinceRefResolution(t *testing.T) {
	tags := []string{"core@1.2.0", "ui@2.0.0", "vendor@9.9.9"}

	git := &fakeGit{}
	a := New(git, nil)
	_, err := a.Analyze(context.Background(), testWorkspace(), tags, Options{})
	require.NoError(t, err)
	// Highest decoded version among workspace scopes; vendor ignored.
	assert.Equal(t, "ui@2.0.0", git.sinceRef)

	_, err = a.Analyze(context.Background(), testWorkspace(), tags, Options{SinceRef: "main~5"})
	require.NoError(t, err)
	assert.Equal(t, "main~5", git.sinceRef)

	// No decodable tags: full history.
	_, err = a.Analyze(context.Background(), testWorkspace(), nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, "", git.sinceRef)
}

func TestAnalyze_CurrentVersions(t *testing.T) {
	tags := []string{"core@1.2.0", "core@1.1.0", "ui@0.3.0-next.1"}
	git := &fakeGit{commits: []commit.Commit{
		mkCommit("c1", "feat(core), feat(ui): both", 1),
	}}

	a := New(git, nil)
	analysis, err := a.Analyze(context.Background(), testWorkspace(), tags, Options{SinceRef: "core@1.2.0"})
	require.NoError(t, err)

	byScope := make(map[string]PackageImpact)
	for _, imp := range analysis.Impacts {
		byScope[imp.Scope] = imp
	}
	require.NotNil(t, byScope["core"].CurrentVersion)
	assert.Equal(t, "1.2.0", byScope["core"].CurrentVersion.String())
	// Prerelease tags never count as the current stable version.
	assert.Nil(t, byScope["ui"].CurrentVersion)
}
