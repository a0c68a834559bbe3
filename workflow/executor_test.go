// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/harbormaster/analyze"
	"github.com/AleutianAI/harbormaster/plan"
	"github.com/AleutianAI/harbormaster/version"
	"github.com/AleutianAI/harbormaster/workspace"
)

// fakeCollab counts side-effect invocations per activity and package,
// and can be told to fail specific calls.
type fakeCollab struct {
	mu    sync.Mutex
	calls map[string]int

	// fail maps an activity key to how many times it should fail
	// before succeeding. -1 fails forever.
	fail map[string]int
}

func newFakeCollab() *fakeCollab {
	return &fakeCollab{calls: make(map[string]int), fail: make(map[string]int)}
}

func (f *fakeCollab) record(kind ActivityKind, scope string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := ActivityKey(kind, scope)
	f.calls[key]++
	remaining, ok := f.fail[key]
	if !ok {
		return nil
	}
	if remaining < 0 {
		return errors.New("injected permanent failure")
	}
	if remaining > 0 {
		f.fail[key] = remaining - 1
		return errors.New("injected transient failure")
	}
	return nil
}

func (f *fakeCollab) count(kind ActivityKind, scope string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[ActivityKey(kind, scope)]
}

func (f *fakeCollab) Publish(ctx context.Context, pkg workspace.Package, v version.Version) error {
	return f.record(ActivityPublish, pkg.Scope)
}

func (f *fakeCollab) CreateTagAt(ctx context.Context, tag, sha, message string) error {
	scope, _, err := version.ParseTag(tag)
	if err != nil {
		return err
	}
	return f.record(ActivityCreateTag, scope)
}

func (f *fakeCollab) PushTag(ctx context.Context, tag string, force bool) error {
	scope, _, err := version.ParseTag(tag)
	if err != nil {
		return err
	}
	return f.record(ActivityPushTag, scope)
}

func (f *fakeCollab) CreateRelease(ctx context.Context, tag, notes string) error {
	scope, _, err := version.ParseTag(tag)
	if err != nil {
		return err
	}
	return f.record(ActivityCreateRelease, scope)
}

func (f *fakeCollab) collaborators() Collaborators {
	return Collaborators{Publisher: f, Tagger: f, Releaser: f}
}

func vp(s string) *version.Version {
	v := version.MustParse(s)
	return &v
}

// testPlan builds a stable plan for core (direct) and ui (cascade).
func testPlan(t *testing.T) *plan.Plan {
	t.Helper()
	analysis := &analyze.Analysis{
		Impacts: []analyze.PackageImpact{
			{Scope: "core", Bump: version.BumpMinor, CurrentVersion: vp("1.2.0")},
		},
		Cascades: []analyze.CascadeImpact{
			{Scope: "ui", TriggeredBy: []string{"core"}, CurrentVersion: vp("0.5.0")},
		},
	}
	p, err := plan.NewPlanner().Plan(analysis, plan.LifecycleStable, plan.Options{HeadSHA: "headsha1234"})
	require.NoError(t, err)
	return p
}

func testPackages() []workspace.Package {
	return []workspace.Package{
		{Scope: "core", Dir: "packages/core"},
		{Scope: "ui", Dir: "packages/ui"},
	}
}

func fastConfig() Config {
	return Config{Retries: 2, RetryDelay: 0}
}

func TestRun_AllChainsComplete(t *testing.T) {
	collab := newFakeCollab()
	exec, err := NewExecutor(NewMemoryStore(), collab.collaborators(), fastConfig(), nil)
	require.NoError(t, err)

	result, err := exec.Run(context.Background(), "run-1", testPlan(t), testPackages())
	require.NoError(t, err)

	assert.True(t, result.Success())
	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 0, result.Failed)

	for _, scope := range []string{"core", "ui"} {
		for _, kind := range ChainOrder {
			assert.Equal(t, 1, collab.count(kind, scope), "%s %s", kind, scope)
		}
		require.Len(t, result.Packages[scope].Outcomes, len(ChainOrder))
	}
}

func TestRun_ResumeReplaysWithoutSideEffects(t *testing.T) {
	store := NewMemoryStore()
	collab := newFakeCollab()
	// push-tag for core fails permanently on the first run.
	collab.fail[ActivityKey(ActivityPushTag, "core")] = -1

	exec, err := NewExecutor(store, collab.collaborators(), fastConfig(), nil)
	require.NoError(t, err)

	p := testPlan(t)
	result, err := exec.Run(context.Background(), "run-1", p, testPackages())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, ActivityPushTag, result.Packages["core"].Failed)
	// The chain stopped: create-release never ran for core.
	assert.Equal(t, 0, collab.count(ActivityCreateRelease, "core"))

	// Clear the injected failure and resume under the same run id.
	collab.mu.Lock()
	delete(collab.fail, ActivityKey(ActivityPushTag, "core"))
	collab.mu.Unlock()

	var resumedEvents int
	exec.OnEvent(func(ev Event) {
		if ev.Resumed {
			resumedEvents++
		}
	})

	result, err = exec.Run(context.Background(), "run-1", p, testPackages())
	require.NoError(t, err)

	// Completed activities replay from checkpoints: publish and
	// create-tag ran exactly once across both runs.
	assert.Equal(t, 1, collab.count(ActivityPublish, "core"))
	assert.Equal(t, 1, collab.count(ActivityCreateTag, "core"))
	// ui completed on the first run; its whole chain replays.
	assert.Equal(t, 1, collab.count(ActivityPublish, "ui"))
	assert.GreaterOrEqual(t, resumedEvents, len(ChainOrder)+2)

	// The failed push-tag is terminal under this run id; a resume
	// replays the failure rather than re-executing.
	assert.Equal(t, 1, result.Failed)
	outcome := result.Packages["core"].Outcomes[2]
	assert.Equal(t, ActivityPushTag, outcome.Activity)
	assert.Equal(t, StatusFailed, outcome.Status)
	assert.True(t, outcome.Resumed)
}

func TestRun_FreshRunIDReexecutes(t *testing.T) {
	store := NewMemoryStore()
	collab := newFakeCollab()
	exec, err := NewExecutor(store, collab.collaborators(), fastConfig(), nil)
	require.NoError(t, err)

	p := testPlan(t)
	_, err = exec.Run(context.Background(), "run-1", p, testPackages())
	require.NoError(t, err)
	_, err = exec.Run(context.Background(), "run-2", p, testPackages())
	require.NoError(t, err)

	// A new run id means a new workflow: side effects run again.
	assert.Equal(t, 2, collab.count(ActivityPublish, "core"))
}

func TestRun_TransientFailureRetries(t *testing.T) {
	collab := newFakeCollab()
	collab.fail[ActivityKey(ActivityPublish, "core")] = 2

	exec, err := NewExecutor(NewMemoryStore(), collab.collaborators(), fastConfig(), nil)
	require.NoError(t, err)

	result, err := exec.Run(context.Background(), "run-1", testPlan(t), testPackages())
	require.NoError(t, err)

	assert.True(t, result.Success())
	// Two failures then a success within the retry budget.
	assert.Equal(t, 3, collab.count(ActivityPublish, "core"))
}

func TestRun_ChainIsolation(t *testing.T) {
	collab := newFakeCollab()
	collab.fail[ActivityKey(ActivityPublish, "core")] = -1

	exec, err := NewExecutor(NewMemoryStore(), collab.collaborators(), fastConfig(), nil)
	require.NoError(t, err)

	result, err := exec.Run(context.Background(), "run-1", testPlan(t), testPackages())
	require.NoError(t, err)

	// core failed at its first activity; ui's chain is unaffected.
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, result.Succeeded)
	assert.True(t, result.Packages["ui"].Completed())
	require.Len(t, result.Packages["core"].Outcomes, 1)
	assert.NotEmpty(t, result.Packages["core"].Error)
}

func TestRun_UnknownPackage(t *testing.T) {
	exec, err := NewExecutor(NewMemoryStore(), newFakeCollab().collaborators(), fastConfig(), nil)
	require.NoError(t, err)

	_, err = exec.Run(context.Background(), "run-1", testPlan(t), []workspace.Package{
		{Scope: "core"},
	})
	assert.ErrorIs(t, err, ErrUnknownPackage)
}

func TestRun_NilPlan(t *testing.T) {
	exec, err := NewExecutor(NewMemoryStore(), newFakeCollab().collaborators(), fastConfig(), nil)
	require.NoError(t, err)

	_, err = exec.Run(context.Background(), "run-1", nil, nil)
	assert.ErrorIs(t, err, ErrNilPlan)
}

func TestNewExecutor_NilStore(t *testing.T) {
	_, err := NewExecutor(nil, Collaborators{}, DefaultConfig(), nil)
	assert.ErrorIs(t, err, ErrNilStore)
}

func TestLayers_GroupsByActivity(t *testing.T) {
	layers := Layers(testPlan(t))
	require.Len(t, layers, len(ChainOrder))
	assert.Equal(t, ActivityPublish, layers[0].Activity)
	assert.Equal(t, []string{
		ActivityKey(ActivityPublish, "core"),
		ActivityKey(ActivityPublish, "ui"),
	}, layers[0].Keys)
}
