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
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/AleutianAI/harbormaster/version"
)

// CommitGraph is the injected commit-graph reachability capability.
//
// # Description
//
// Reachability may require a bounded graph walk per query, so the
// validator memoizes results within a single validation pass.
type CommitGraph interface {
	// CommitExists reports whether the commit id resolves.
	CommitExists(ctx context.Context, sha string) (bool, error)

	// IsAncestor reports whether a is an ancestor of b.
	IsAncestor(ctx context.Context, a, b string) (bool, error)
}

// ErrCommitNotFound is returned when the target commit does not exist.
var ErrCommitNotFound = errors.New("commit not found")

// TagInfo is one existing release tag for the audited package.
type TagInfo struct {
	// Tag is the full tag name, "<scope>@<version>".
	Tag string `json:"tag"`

	// SHA is the commit the tag points at.
	SHA string `json:"sha"`

	// Version is the decoded version.
	Version version.Version `json:"version"`
}

// Relation describes how an existing tag's commit relates to the
// audited commit.
type Relation string

const (
	// RelationAncestor: the existing tag sits on an ancestor, so the
	// proposed version must be >= its version.
	RelationAncestor Relation = "ancestor"

	// RelationDescendant: the existing tag sits on a descendant, so
	// the proposed version must be <= its version.
	RelationDescendant Relation = "descendant"
)

// Violation is one broken monotonicity requirement.
type Violation struct {
	// Tag is the conflicting existing tag.
	Tag string `json:"tag"`

	// SHA is the conflicting tag's commit.
	SHA string `json:"sha"`

	// Relation is the ancestry relationship that was broken.
	Relation Relation `json:"relation"`

	// Existing is the conflicting tag's version.
	Existing version.Version `json:"existing"`

	// Proposed is the version that was being assigned.
	Proposed version.Version `json:"proposed"`
}

func (v Violation) String() string {
	op := ">="
	if v.Relation == RelationDescendant {
		op = "<="
	}
	return fmt.Sprintf("%s at %s is an %s: requires %s %s %s",
		v.Tag, shortSHA(v.SHA), v.Relation, v.Proposed, op, v.Existing)
}

// AuditResult is the complete outcome of one validation pass.
//
// # Description
//
// All violations are collected and reported together rather than
// stopping at the first, so a human can fix everything in one pass.
type AuditResult struct {
	// Package is the audited package scope.
	Package string `json:"package"`

	// SHA is the commit the version was assigned at.
	SHA string `json:"sha"`

	// Proposed is the version being assigned.
	Proposed version.Version `json:"proposed"`

	// Unchanged is true when the same version already exists at an
	// equivalent commit; the assignment is a no-op.
	Unchanged bool `json:"unchanged"`

	// ExistingSHA is the commit the version is currently tagged at,
	// when the package already has this exact version. Moving the tag
	// requires an explicit move flag.
	ExistingSHA string `json:"existing_sha,omitempty"`

	// Violations lists every broken monotonicity requirement.
	Violations []Violation `json:"violations,omitempty"`
}

// OK reports whether the assignment passes the audit.
func (r *AuditResult) OK() bool { return len(r.Violations) == 0 }

// Error renders the full violation list, or "" when the audit passed.
func (r *AuditResult) Error() string {
	if r.OK() {
		return ""
	}
	lines := make([]string, 0, len(r.Violations)+1)
	lines = append(lines, fmt.Sprintf("monotonicity violations for %s@%s at %s:",
		r.Package, r.Proposed, shortSHA(r.SHA)))
	for _, v := range r.Violations {
		lines = append(lines, "  "+v.String())
	}
	return strings.Join(lines, "\n")
}

// Validator proves manual tag assignments monotonic.
//
// # Description
//
// Monotonic versioning: version numbers never decrease moving forward
// through commit history and never increase moving backward. For a
// proposed assignment (commit C, version V) and every existing tag at
// commit E of the same package: if E is an ancestor of C then V must
// be >= version(E); if E is a descendant of C then V must be <=
// version(E). Commits unrelated to C (neither ancestor nor descendant)
// impose no requirement.
//
// # Thread Safety
//
// A Validator memoizes reachability for one pass and is not safe for
// concurrent use; create one per validation.
type Validator struct {
	graph CommitGraph
	memo  map[string]bool
}

// NewValidator creates a single-pass validator.
func NewValidator(graph CommitGraph) *Validator {
	return &Validator{graph: graph, memo: make(map[string]bool)}
}

// Validate audits the assignment of a version to a package at a commit.
//
// Inputs:
//
//	ctx - Context for the underlying reachability queries.
//	pkg - The package scope being tagged.
//	sha - The target commit.
//	proposed - The version to assign.
//	tags - The package's existing release tags.
//
// Outputs:
//
//	*AuditResult - The complete outcome; never nil on success.
//	error - ErrCommitNotFound, or a reachability query failure.
func (v *Validator) Validate(
	ctx context.Context,
	pkg, sha string,
	proposed version.Version,
	tags []TagInfo,
) (*AuditResult, error) {
	exists, err := v.graph.CommitExists(ctx, sha)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", sha, err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrCommitNotFound, sha)
	}

	result := &AuditResult{Package: pkg, SHA: sha, Proposed: proposed}

	for _, tag := range tags {
		if version.Compare(tag.Version, proposed) == 0 {
			result.ExistingSHA = tag.SHA
			if tag.SHA == sha {
				// Re-setting the same version at an equivalent sha.
				result.Unchanged = true
			}
			continue
		}

		ancestor, err := v.isAncestor(ctx, tag.SHA, sha)
		if err != nil {
			return nil, err
		}
		if ancestor {
			if version.Compare(proposed, tag.Version) < 0 {
				result.Violations = append(result.Violations, Violation{
					Tag:      tag.Tag,
					SHA:      tag.SHA,
					Relation: RelationAncestor,
					Existing: tag.Version,
					Proposed: proposed,
				})
			}
			continue
		}

		descendant, err := v.isAncestor(ctx, sha, tag.SHA)
		if err != nil {
			return nil, err
		}
		if descendant && version.Compare(proposed, tag.Version) > 0 {
			result.Violations = append(result.Violations, Violation{
				Tag:      tag.Tag,
				SHA:      tag.SHA,
				Relation: RelationDescendant,
				Existing: tag.Version,
				Proposed: proposed,
			})
		}
	}

	return result, nil
}

// isAncestor memoizes CommitGraph.IsAncestor per (a,b) pair.
func (v *Validator) isAncestor(ctx context.Context, a, b string) (bool, error) {
	key := a + ".." + b
	if cached, ok := v.memo[key]; ok {
		return cached, nil
	}
	result, err := v.graph.IsAncestor(ctx, a, b)
	if err != nil {
		return false, fmt.Errorf("reachability %s..%s: %w", shortSHA(a), shortSHA(b), err)
	}
	v.memo[key] = result
	return result, nil
}

func shortSHA(sha string) string {
	if len(sha) <= 7 {
		return sha
	}
	return sha[:7]
}
