// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package plan assigns concrete versions per package under a selected
// release lifecycle and persists the result for durable execution.
//
// # Description
//
// The planner consumes an Analysis and produces a Plan: one
// ReleaseItem per impacted package plus one per cascaded package.
// Release items form a closed sum over the lifecycle (stable, preview,
// ephemeral) with a shared accessor surface, so downstream code never
// switches on concrete types.
//
// The package also hosts the monotonic validator (audit.go), which
// proves that a manual tag assignment cannot make version numbers
// regress relative to commit order.
package plan

import (
	"github.com/AleutianAI/harbormaster/commit"
	"github.com/AleutianAI/harbormaster/version"
)

// Lifecycle is the release kind governing version packaging.
type Lifecycle string

const (
	// LifecycleStable is an official release; the computed next
	// version is used as-is.
	LifecycleStable Lifecycle = "stable"

	// LifecyclePreview is a release candidate: next stable version
	// plus a "-next.<n>" counter.
	LifecyclePreview Lifecycle = "preview"

	// LifecycleEphemeral is a per-change-request build rooted at
	// 0.0.0 with a "-pr.<id>.<n>.<shortSha>" suffix.
	LifecycleEphemeral Lifecycle = "ephemeral"
)

// ReleaseItem is one package's planned release.
//
// # Description
//
// The concrete type depends on the lifecycle; the unexported marker
// keeps the sum closed. All variants share this accessor surface.
type ReleaseItem interface {
	// Package returns the package scope.
	Package() string

	// CurrentVersion returns the latest released stable version, or
	// nil for a first release.
	CurrentVersion() *version.Version

	// NextVersion returns the version this item releases.
	NextVersion() version.Version

	// Bump returns the severity that produced the next version.
	Bump() version.Bump

	// Commits returns the contributing commits (empty for cascades).
	Commits() []commit.Commit

	// TriggeredBy returns the cascade triggers (empty for direct
	// releases).
	TriggeredBy() []string

	// Tag returns the release tag, "<scope>@<version>".
	Tag() string

	releaseItem()
}

// itemBase carries the fields all variants share.
type itemBase struct {
	Scope     string           `json:"scope"`
	Current   *version.Version `json:"current,omitempty"`
	Next      version.Version  `json:"next"`
	BumpType  version.Bump     `json:"bump"`
	Commits_  []commit.Commit  `json:"commits,omitempty"`
	Triggered []string         `json:"triggered_by,omitempty"`
}

func (b itemBase) Package() string                  { return b.Scope }
func (b itemBase) CurrentVersion() *version.Version { return b.Current }
func (b itemBase) NextVersion() version.Version     { return b.Next }
func (b itemBase) Bump() version.Bump               { return b.BumpType }
func (b itemBase) Commits() []commit.Commit         { return b.Commits_ }
func (b itemBase) TriggeredBy() []string            { return b.Triggered }
func (b itemBase) Tag() string                      { return version.TagName(b.Scope, b.Next) }

// StableRelease is an official release, either the package's first or
// an increment from its current version.
type StableRelease struct {
	itemBase

	// First marks a package's first-ever release.
	First bool `json:"first"`
}

func (StableRelease) releaseItem() {}

// PreviewRelease is a release candidate for a stable base version.
type PreviewRelease struct {
	itemBase

	// Base is the stable version the candidate previews.
	Base version.Version `json:"base"`

	// Iteration is the "-next.<n>" counter.
	Iteration int `json:"iteration"`
}

func (PreviewRelease) releaseItem() {}

// EphemeralRelease is a per-change-request build.
type EphemeralRelease struct {
	itemBase

	// RequestID identifies the change request.
	RequestID string `json:"request_id"`

	// Iteration is the per-request build counter.
	Iteration int `json:"iteration"`

	// ShortSHA is the abbreviated head commit id baked into the tag.
	ShortSHA string `json:"short_sha"`
}

func (EphemeralRelease) releaseItem() {}
