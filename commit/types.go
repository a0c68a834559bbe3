// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package commit models version-control commits and extracts
// per-package release impacts from conventional commit titles.
//
// # Description
//
// A commit title follows the grammar
//
//	type(scope[, scope...])? '!'? ': ' description
//
// Commas inside parentheses separate the scopes of one group; commas
// outside parentheses separate independent type(scope) groups, so a
// single commit can target several packages with different change
// types. A '!' directly before the colon marks every scope of its
// group breaking; a '!' suffixed to an individual scope marks only
// that scope breaking.
//
// Malformed titles yield a parse error. Callers skip such commits and
// continue; a single bad commit never aborts analysis.
package commit

import (
	"time"

	"github.com/AleutianAI/harbormaster/version"
)

// Commit is an immutable record sourced from version control.
type Commit struct {
	// Hash is the full commit id.
	Hash string `json:"hash"`

	// Author is the commit author identity.
	Author string `json:"author"`

	// Date is the author date.
	Date time.Time `json:"date"`

	// Message is the raw commit message; the first line is the title.
	Message string `json:"message"`
}

// ShortHash returns the abbreviated commit id used in ephemeral tags.
func (c Commit) ShortHash() string {
	if len(c.Hash) <= 7 {
		return c.Hash
	}
	return c.Hash[:7]
}

// Title returns the first line of the commit message.
func (c Commit) Title() string {
	for i := 0; i < len(c.Message); i++ {
		if c.Message[i] == '\n' {
			return c.Message[:i]
		}
	}
	return c.Message
}

// Target is one scope of a parsed title group.
type Target struct {
	// Scope is the package scope the group applies to.
	Scope string `json:"scope"`

	// Breaking is true when this scope carries a breaking change,
	// either via its own '!' suffix or a group-level '!'.
	Breaking bool `json:"breaking"`
}

// Group is one type(scopes) unit of a parsed title.
type Group struct {
	// Type is the conventional commit type (feat, fix, chore, ...).
	Type string `json:"type"`

	// Targets are the scopes the group applies to. Empty for a
	// scopeless title, which targets no workspace package.
	Targets []Target `json:"targets,omitempty"`
}

// Impact is the release effect of one commit on one package scope.
// A single commit can produce several impacts, one per targeted scope.
type Impact struct {
	// Scope is the targeted package.
	Scope string `json:"scope"`

	// Bump is the severity the commit demands for the scope.
	Bump version.Bump `json:"bump"`

	// Commit is the originating commit.
	Commit Commit `json:"commit"`
}

// releasingTypes maps commit types to their baseline bump. Types not
// listed here (docs, chore, style, test, ci, build, refactor, ...)
// have no release effect unless a scope is marked breaking.
var releasingTypes = map[string]version.Bump{
	"feat":   version.BumpMinor,
	"fix":    version.BumpPatch,
	"perf":   version.BumpPatch,
	"revert": version.BumpPatch,
}
