// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package workflow turns a release plan into a durable, resumable,
// partially-concurrent workflow.
//
// # Description
//
// Each package gets an independent activity chain
//
//	publish → create-tag → push-tag → create-release
//
// Chains for different packages have no edges between them and run
// concurrently under a configurable limit; steps within one chain are
// strictly sequential. Every activity is checkpointed by
// (run id, activity key): a prior terminal result is replayed without
// re-invoking the side effect, which makes abandoned runs resumable at
// any time.
//
// # Thread Safety
//
// Executor is safe for concurrent use. The checkpoint store is the
// only shared mutable resource; all writes are keyed by
// (run id, activity key) and the store enforces first-terminal-write-
// wins per key, so concurrent resumes of one run id never
// double-execute a side effect.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AleutianAI/harbormaster/version"
	"github.com/AleutianAI/harbormaster/workspace"
)

// Sentinel errors for workflow execution.
var (
	// ErrNilPlan is returned when Run is given a nil plan.
	ErrNilPlan = errors.New("plan must not be nil")

	// ErrNilStore is returned when the executor has no checkpoint store.
	ErrNilStore = errors.New("checkpoint store must not be nil")

	// ErrUnknownPackage is returned when a plan item names a package
	// absent from the workspace snapshot.
	ErrUnknownPackage = errors.New("plan item references unknown package")
)

// ActivityKind is one step of a package's release chain.
type ActivityKind string

const (
	ActivityPublish       ActivityKind = "publish"
	ActivityCreateTag     ActivityKind = "create-tag"
	ActivityPushTag       ActivityKind = "push-tag"
	ActivityCreateRelease ActivityKind = "create-release"
)

// ChainOrder is the fixed activity order within one package's chain.
var ChainOrder = []ActivityKind{
	ActivityPublish,
	ActivityCreateTag,
	ActivityPushTag,
	ActivityCreateRelease,
}

// ActivityStatus is the state machine per activity:
// pending → running → {completed | failed}, terminal per
// (run id, activity key).
type ActivityStatus string

const (
	StatusPending   ActivityStatus = "pending"
	StatusRunning   ActivityStatus = "running"
	StatusCompleted ActivityStatus = "completed"
	StatusFailed    ActivityStatus = "failed"
)

// Terminal reports whether the status is final.
func (s ActivityStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ActivityKey is the checkpoint key for one activity of one package.
func ActivityKey(kind ActivityKind, scope string) string {
	return string(kind) + ":" + scope
}

// Record is the durably stored terminal result of one activity.
type Record struct {
	// Status is completed or failed; running records are never stored.
	Status ActivityStatus `json:"status"`

	// Error is the failure message for failed records.
	Error string `json:"error,omitempty"`

	// Attempts is how many invocations the activity took.
	Attempts int `json:"attempts"`

	// StartedAt / CompletedAt bound the original execution.
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// Event is one observable lifecycle event. Events are ephemeral: they
// are emitted once per run and not persisted beyond the checkpoint
// store that backs resumability.
type Event struct {
	// RunID is the workflow run identifier.
	RunID string `json:"run_id"`

	// Package is the package whose chain emitted the event.
	Package string `json:"package"`

	// Activity is the chain step.
	Activity ActivityKind `json:"activity"`

	// Timestamp is when the event was emitted.
	Timestamp time.Time `json:"timestamp"`

	// Outcome is the terminal status the activity reached.
	Outcome ActivityStatus `json:"outcome"`

	// Duration is the observed execution time. For resumed activities
	// this is the replay time, not the original execution time.
	Duration time.Duration `json:"duration"`

	// Resumed is true when the result was replayed from a checkpoint
	// instead of re-invoking the side effect.
	Resumed bool `json:"resumed"`

	// Error is the failure message for failed outcomes.
	Error string `json:"error,omitempty"`
}

// EventSink receives lifecycle events. The executor serializes calls,
// so the sink needs no internal locking.
type EventSink func(Event)

// ActivityOutcome is one step's result within a ChainResult.
type ActivityOutcome struct {
	Activity ActivityKind   `json:"activity"`
	Status   ActivityStatus `json:"status"`
	Resumed  bool           `json:"resumed"`
	Error    string         `json:"error,omitempty"`
}

// ChainResult is one package's complete outcome.
//
// # Description
//
// A failed activity short-circuits only its own chain: downstream
// activities are reported as skipped (absent from Outcomes), and all
// other packages' chains proceed independently.
type ChainResult struct {
	// Package is the package scope.
	Package string `json:"package"`

	// Outcomes lists executed activities in chain order.
	Outcomes []ActivityOutcome `json:"outcomes"`

	// Failed names the activity that stopped the chain, if any.
	Failed ActivityKind `json:"failed,omitempty"`

	// Error is the failure message when Failed is set.
	Error string `json:"error,omitempty"`
}

// Completed reports whether the whole chain finished.
func (c *ChainResult) Completed() bool { return c.Failed == "" }

// RunResult enumerates per-package outcomes. Callers decide whether a
// partial failure is acceptable; the run itself never aborts on the
// first failed chain.
type RunResult struct {
	// RunID is the workflow run identifier.
	RunID string `json:"run_id"`

	// Duration is the wall time of this run (or resume).
	Duration time.Duration `json:"duration"`

	// Packages maps scope to its chain result.
	Packages map[string]*ChainResult `json:"packages"`

	// Succeeded and Failed count completed and stopped chains.
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Success reports whether every chain completed.
func (r *RunResult) Success() bool { return r.Failed == 0 }

// ActivityError wraps a failure with its activity and package.
type ActivityError struct {
	Package  string
	Activity ActivityKind
	Err      error
}

func (e *ActivityError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Activity, e.Package, e.Err)
}

func (e *ActivityError) Unwrap() error { return e.Err }

// Publisher uploads a package version to its registry.
type Publisher interface {
	Publish(ctx context.Context, pkg workspace.Package, v version.Version) error
}

// Tagger manages release tags in version control.
type Tagger interface {
	// CreateTagAt creates an annotated tag at a commit.
	CreateTagAt(ctx context.Context, tag, sha, message string) error

	// PushTag pushes a tag to the configured remote.
	PushTag(ctx context.Context, tag string, force bool) error
}

// Releaser creates the external (forge) release for a tag.
type Releaser interface {
	CreateRelease(ctx context.Context, tag, notes string) error
}

// Collaborators groups the write-side collaborators the executor
// invokes. The executor is the only component that performs writes.
type Collaborators struct {
	Publisher Publisher
	Tagger    Tagger
	Releaser  Releaser
}
