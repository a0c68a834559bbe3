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
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/AleutianAI/harbormaster/analyze"
	"github.com/AleutianAI/harbormaster/version"
)

// Sentinel errors for plan generation.
var (
	// ErrNoChangeRequestID is returned when the ephemeral lifecycle
	// cannot resolve a change-request identifier. Plan generation is
	// fatal on this; no partial plan is ever produced.
	ErrNoChangeRequestID = errors.New(
		"ephemeral release requires a change-request id: pass --change-request, " +
			"set HARBORMASTER_CHANGE_REQUEST, or run inside CI with GITHUB_REF set")

	// ErrNoHeadSHA is returned when the ephemeral lifecycle has no
	// head commit to derive the short id from.
	ErrNoHeadSHA = errors.New("ephemeral release requires the head commit sha")

	// ErrUnknownLifecycle is returned for a lifecycle outside the sum.
	ErrUnknownLifecycle = errors.New("unknown lifecycle")
)

// Plan is the durable output of one planning run.
//
// # Description
//
// Releases and Cascades are disjoint by package, mirroring the
// Analysis they were computed from. The plan is the sole durable
// artifact of planning and, together with live checkpoint state, the
// sole input needed to resume execution after a restart.
type Plan struct {
	// FormatVersion is the plan file format version.
	FormatVersion string `json:"format_version"`

	// Lifecycle is the packaging applied to every item.
	Lifecycle Lifecycle `json:"lifecycle"`

	// CreatedAt is the planning timestamp.
	CreatedAt time.Time `json:"created_at"`

	// HeadSHA is the commit the plan was computed at; tags are
	// created there during execution.
	HeadSHA string `json:"head_sha,omitempty"`

	// Releases are the direct-impact items.
	Releases []ReleaseItem `json:"-"`

	// Cascades are the dependency-forced items.
	Cascades []ReleaseItem `json:"-"`
}

// Items returns releases followed by cascades.
func (p *Plan) Items() []ReleaseItem {
	items := make([]ReleaseItem, 0, len(p.Releases)+len(p.Cascades))
	items = append(items, p.Releases...)
	items = append(items, p.Cascades...)
	return items
}

// Options tunes one planning run.
type Options struct {
	// ChangeRequestID identifies the change request for the ephemeral
	// lifecycle. When empty the environment is consulted.
	ChangeRequestID string

	// HeadSHA is the commit being released. Required for the
	// ephemeral lifecycle (short id in the tag) and recorded on the
	// plan for tag creation.
	HeadSHA string
}

// Planner assigns concrete versions under a lifecycle.
type Planner struct {
	now func() time.Time
}

// NewPlanner creates a planner.
func NewPlanner() *Planner {
	return &Planner{now: time.Now}
}

// Plan produces a plan from an analysis.
//
// # Description
//
// Direct impacts use their aggregated bump; cascade items reuse the
// primary lifecycle's packaging with bump floor = patch and carry
// their TriggeredBy set for display. A failed plan generation blocks
// any execution: on error no plan is returned.
//
// Outputs:
//
//	*Plan - Never nil on success.
//	error - ErrNoChangeRequestID / ErrNoHeadSHA for an unresolvable
//	  ephemeral lifecycle, ErrUnknownLifecycle otherwise.
func (p *Planner) Plan(analysis *analyze.Analysis, lifecycle Lifecycle, opts Options) (*Plan, error) {
	switch lifecycle {
	case LifecycleStable, LifecyclePreview:
	case LifecycleEphemeral:
		if opts.ChangeRequestID == "" {
			opts.ChangeRequestID = changeRequestFromEnv()
		}
		if opts.ChangeRequestID == "" {
			return nil, ErrNoChangeRequestID
		}
		if opts.HeadSHA == "" {
			return nil, ErrNoHeadSHA
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownLifecycle, lifecycle)
	}

	out := &Plan{
		FormatVersion: PlanFormatVersion,
		Lifecycle:     lifecycle,
		CreatedAt:     p.now().UTC(),
		HeadSHA:       opts.HeadSHA,
	}

	for _, imp := range analysis.Impacts {
		item := p.packageItem(
			lifecycle, analysis.Tags, opts,
			imp.Scope, imp.CurrentVersion, imp.Bump, imp, nil,
		)
		out.Releases = append(out.Releases, item)
	}

	for _, c := range analysis.Cascades {
		// Cascades release with at least a patch bump.
		item := p.packageItem(
			lifecycle, analysis.Tags, opts,
			c.Scope, c.CurrentVersion, version.BumpPatch, analyze.PackageImpact{}, c.TriggeredBy,
		)
		out.Cascades = append(out.Cascades, item)
	}

	return out, nil
}

// packageItem packages one computed next version under the lifecycle.
func (p *Planner) packageItem(
	lifecycle Lifecycle,
	tags []string,
	opts Options,
	scope string,
	current *version.Version,
	bump version.Bump,
	imp analyze.PackageImpact,
	triggeredBy []string,
) ReleaseItem {
	next := version.Next(current, bump)

	base := itemBase{
		Scope:     scope,
		Current:   current,
		BumpType:  bump,
		Commits_:  imp.Commits,
		Triggered: triggeredBy,
	}

	switch lifecycle {
	case LifecyclePreview:
		n := version.NextPreview(tags, scope, next)
		base.Next = version.PreviewTag(next, n)
		return PreviewRelease{itemBase: base, Base: next, Iteration: n}

	case LifecycleEphemeral:
		short := opts.HeadSHA
		if len(short) > 7 {
			short = short[:7]
		}
		n := version.NextEphemeralIteration(tags, scope, opts.ChangeRequestID)
		base.Next = version.EphemeralTag(opts.ChangeRequestID, n, short)
		// Ephemeral builds are rooted at 0.0.0; the current version
		// is still carried for display.
		return EphemeralRelease{
			itemBase:  base,
			RequestID: opts.ChangeRequestID,
			Iteration: n,
			ShortSHA:  short,
		}

	default:
		base.Next = next
		return StableRelease{itemBase: base, First: current == nil}
	}
}

// changeRequestFromEnv resolves a change-request id from the
// environment: HARBORMASTER_CHANGE_REQUEST first, then the GitHub
// Actions ref of a pull request ("refs/pull/<n>/merge").
func changeRequestFromEnv() string {
	if id := os.Getenv("HARBORMASTER_CHANGE_REQUEST"); id != "" {
		return id
	}
	ref := os.Getenv("GITHUB_REF")
	if rest, ok := strings.CutPrefix(ref, "refs/pull/"); ok {
		if i := strings.IndexByte(rest, '/'); i > 0 {
			return rest[:i]
		}
	}
	return ""
}
