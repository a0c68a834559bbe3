// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package analyze determines which workspace packages changed in a
// release-relevant way and which must be re-released because they
// transitively depend on a changed package.
//
// # Description
//
// The analyzer is a pure computation over its inputs: commits come in
// through the injected GitReader, everything else (impact aggregation,
// reverse-graph construction, cascade propagation) is deterministic.
// Per-commit problems never abort an analysis; malformed commits are
// reported on the result and skipped.
//
// # Thread Safety
//
// Analyzer is safe for concurrent use; each Analyze call builds its
// own graph and aggregation state.
package analyze

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/harbormaster/commit"
	"github.com/AleutianAI/harbormaster/version"
	"github.com/AleutianAI/harbormaster/workspace"
)

var tracer = otel.Tracer("harbormaster.analyze")

// GitReader is the read collaborator for commit history.
type GitReader interface {
	// CommitsSince returns commits after ref, oldest first. An empty
	// ref means the full history.
	CommitsSince(ctx context.Context, ref string) ([]commit.Commit, error)
}

// PackageImpact is the aggregated direct impact on one package.
type PackageImpact struct {
	// Scope is the impacted package.
	Scope string `json:"scope"`

	// Bump is the highest severity demanded by any contributing commit.
	Bump version.Bump `json:"bump"`

	// Commits are the contributing commits, deduplicated by hash,
	// oldest first.
	Commits []commit.Commit `json:"commits"`

	// CurrentVersion is the package's latest stable release, if any.
	CurrentVersion *version.Version `json:"current_version,omitempty"`
}

// CascadeImpact is a package forced to re-release because a package it
// depends on changed, without direct commits of its own.
type CascadeImpact struct {
	// Scope is the cascaded package.
	Scope string `json:"scope"`

	// TriggeredBy names the impacted or cascaded package(s) that
	// reached this one in the reverse dependency graph. Excluded
	// scopes never appear here; they are resolved to their own nearest
	// non-excluded trigger.
	TriggeredBy []string `json:"triggered_by"`

	// CurrentVersion is the package's latest stable release, if any.
	CurrentVersion *version.Version `json:"current_version,omitempty"`
}

// SkippedCommit records a commit excluded from analysis.
type SkippedCommit struct {
	Hash   string `json:"hash"`
	Title  string `json:"title"`
	Reason string `json:"reason"`
}

// Analysis is the immutable result of one analyzer run. It is not
// persisted; planning recomputes it per invocation.
type Analysis struct {
	// SinceRef is the resolved range start ("" = full history).
	SinceRef string `json:"since_ref,omitempty"`

	// Impacts is the direct-impact set, sorted by scope.
	Impacts []PackageImpact `json:"impacts"`

	// Cascades is disjoint from Impacts by construction, sorted by scope.
	Cascades []CascadeImpact `json:"cascades"`

	// Unchanged lists packages with neither impact nor cascade.
	Unchanged []string `json:"unchanged"`

	// Tags is the tag set the analysis was computed against.
	Tags []string `json:"tags"`

	// Skipped reports commits excluded by parse errors.
	Skipped []SkippedCommit `json:"skipped,omitempty"`
}

// ImpactedScopes returns the direct-impact scopes in order.
func (a *Analysis) ImpactedScopes() []string {
	scopes := make([]string, len(a.Impacts))
	for i, imp := range a.Impacts {
		scopes[i] = imp.Scope
	}
	return scopes
}

// Options tunes one analyzer run.
type Options struct {
	// SinceRef overrides range-start resolution.
	SinceRef string

	// Filter restricts the direct-impact set to these scopes. Empty
	// means no restriction.
	Filter []string

	// Exclude removes these scopes from impacts, cascades and the
	// unchanged set.
	Exclude []string
}

// Analyzer aggregates commit impacts and propagates cascades.
type Analyzer struct {
	git    GitReader
	logger *slog.Logger
}

// New creates an analyzer. A nil logger falls back to slog.Default().
func New(git GitReader, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{git: git, logger: logger}
}

// extractionConcurrency bounds the parallel title parses. Aggregation
// is commutative (max-bump, set union) so extraction order is free.
const extractionConcurrency = 8

// Analyze runs one full analysis.
//
// # Description
//
// Resolves the range start (explicit SinceRef, else the tag with the
// greatest decoded version among the packages' release tags), fetches
// the commits in range, extracts per-package impacts, aggregates them
// by scope (highest severity wins, commits deduplicated by hash),
// applies include/exclude filters, then BFS-propagates over the
// reverse dependency graph to find cascades.
//
// Outputs:
//
//	*Analysis - Never nil on success.
//	error - Only for collaborator failures; per-commit parse errors
//	  are reported via Analysis.Skipped instead.
func (a *Analyzer) Analyze(
	ctx context.Context,
	packages []workspace.Package,
	tags []string,
	opts Options,
) (*Analysis, error) {
	ctx, span := tracer.Start(ctx, "analyze.Analyze",
		trace.WithAttributes(attribute.Int("workspace.packages", len(packages))),
	)
	defer span.End()

	scopes := make(map[string]bool, len(packages))
	for _, p := range packages {
		scopes[p.Scope] = true
	}

	sinceRef := opts.SinceRef
	if sinceRef == "" {
		sinceRef = version.LatestTag(tags, scopes)
	}

	commits, err := a.git.CommitsSince(ctx, sinceRef)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	a.logger.Debug("analysis range resolved",
		slog.String("since_ref", sinceRef),
		slog.Int("commits", len(commits)),
	)

	impacts, skipped, err := a.extractAll(ctx, commits)
	if err != nil {
		return nil, err
	}

	excluded := toSet(opts.Exclude)
	included := toSet(opts.Filter)

	// Aggregate by scope: bump = max severity, commits deduped by hash.
	type aggregate struct {
		bump  version.Bump
		seen  map[string]bool
		order []commit.Commit
	}
	byScope := make(map[string]*aggregate)
	for _, imp := range impacts {
		if !scopes[imp.Scope] || excluded[imp.Scope] {
			continue
		}
		if len(included) > 0 && !included[imp.Scope] {
			continue
		}
		agg := byScope[imp.Scope]
		if agg == nil {
			agg = &aggregate{seen: make(map[string]bool)}
			byScope[imp.Scope] = agg
		}
		agg.bump = version.Max(agg.bump, imp.Bump)
		if !agg.seen[imp.Commit.Hash] {
			agg.seen[imp.Commit.Hash] = true
			agg.order = append(agg.order, imp.Commit)
		}
	}

	direct := make([]PackageImpact, 0, len(byScope))
	for scope, agg := range byScope {
		// Extraction is concurrent; restore commit-date order.
		sort.Slice(agg.order, func(i, j int) bool {
			if agg.order[i].Date.Equal(agg.order[j].Date) {
				return agg.order[i].Hash < agg.order[j].Hash
			}
			return agg.order[i].Date.Before(agg.order[j].Date)
		})
		direct = append(direct, PackageImpact{
			Scope:          scope,
			Bump:           agg.bump,
			Commits:        agg.order,
			CurrentVersion: version.LatestStable(tags, scope),
		})
	}
	sort.Slice(direct, func(i, j int) bool { return direct[i].Scope < direct[j].Scope })

	// Cascade over the reverse graph from the direct-impact set.
	graph := NewDependencyGraph(packages)
	seeds := make([]string, len(direct))
	for i, imp := range direct {
		seeds[i] = imp.Scope
	}
	triggered := graph.cascadeFrom(seeds)

	cascades := make([]CascadeImpact, 0, len(triggered))
	for scope, by := range triggered {
		if excluded[scope] {
			continue
		}
		by = resolveTriggers(by, triggered, excluded)
		sort.Strings(by)
		cascades = append(cascades, CascadeImpact{
			Scope:          scope,
			TriggeredBy:    by,
			CurrentVersion: version.LatestStable(tags, scope),
		})
	}
	sort.Slice(cascades, func(i, j int) bool { return cascades[i].Scope < cascades[j].Scope })

	// Unchanged = all - impacted - cascaded - excluded.
	changed := make(map[string]bool, len(direct)+len(cascades))
	for _, imp := range direct {
		changed[imp.Scope] = true
	}
	for _, c := range cascades {
		changed[c.Scope] = true
	}
	var unchanged []string
	for _, p := range packages {
		if !changed[p.Scope] && !excluded[p.Scope] {
			unchanged = append(unchanged, p.Scope)
		}
	}
	sort.Strings(unchanged)

	span.SetAttributes(
		attribute.Int("analysis.impacts", len(direct)),
		attribute.Int("analysis.cascades", len(cascades)),
		attribute.Int("analysis.skipped_commits", len(skipped)),
	)

	return &Analysis{
		SinceRef:  sinceRef,
		Impacts:   direct,
		Cascades:  cascades,
		Unchanged: unchanged,
		Tags:      tags,
		Skipped:   skipped,
	}, nil
}

// extractAll runs the extractor over every commit, a bounded number at
// a time. Results keep no particular order; aggregation does not care.
func (a *Analyzer) extractAll(
	ctx context.Context,
	commits []commit.Commit,
) ([]commit.Impact, []SkippedCommit, error) {
	var (
		mu      sync.Mutex
		impacts []commit.Impact
		skipped []SkippedCommit
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(extractionConcurrency)

	for _, c := range commits {
		c := c
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			imps, err := commit.Extract(c)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				a.logger.Debug("skipping unparseable commit",
					slog.String("hash", c.Hash),
					slog.String("error", err.Error()),
				)
				skipped = append(skipped, SkippedCommit{
					Hash:   c.Hash,
					Title:  c.Title(),
					Reason: err.Error(),
				})
				return nil
			}
			impacts = append(impacts, imps...)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	// Deterministic skip report regardless of goroutine interleaving.
	sort.Slice(skipped, func(i, j int) bool { return skipped[i].Hash < skipped[j].Hash })
	return impacts, skipped, nil
}

// resolveTriggers rewrites triggers that name excluded scopes to the
// nearest non-excluded trigger upstream, so a surviving cascade is
// never attributed to a package absent from the analysis output.
// Every trigger chain ends at a direct-impact seed, which cannot be
// excluded, so the result is never empty.
func resolveTriggers(by []string, triggered map[string][]string, excluded map[string]bool) []string {
	var resolved []string
	seen := make(map[string]bool)
	var walk func(scope string)
	walk = func(scope string) {
		if seen[scope] {
			return
		}
		seen[scope] = true
		if !excluded[scope] {
			resolved = appendUnique(resolved, scope)
			return
		}
		for _, upstream := range triggered[scope] {
			walk(upstream)
		}
	}
	for _, trigger := range by {
		walk(trigger)
	}
	return resolved
}

func toSet(list []string) map[string]bool {
	if len(list) == 0 {
		return nil
	}
	set := make(map[string]bool, len(list))
	for _, s := range list {
		set[s] = true
	}
	return set
}
