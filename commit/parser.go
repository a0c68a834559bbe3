// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package commit

import (
	"errors"
	"fmt"
	"strings"

	"github.com/AleutianAI/harbormaster/version"
)

// Sentinel errors for title parsing.
var (
	// ErrNoColon is returned when a title has no ": " separator.
	ErrNoColon = errors.New("title has no colon separator")

	// ErrEmptyDescription is returned when nothing follows the colon.
	ErrEmptyDescription = errors.New("title has empty description")

	// ErrBadGrammar is returned for titles that do not match the
	// conventional commit grammar.
	ErrBadGrammar = errors.New("title does not match conventional grammar")
)

// ParseError reports a commit whose title could not be parsed. The
// commit is excluded from impact extraction; analysis continues.
type ParseError struct {
	Hash  string
	Title string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("commit %s: %v (title %q)", e.Hash, e.Err, e.Title)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ParseTitle parses a conventional commit title into its groups.
//
// Inputs:
//
//	title - The first line of a commit message.
//
// Outputs:
//
//	[]Group - Parsed groups in title order.
//	error - ErrNoColon, ErrEmptyDescription, or ErrBadGrammar.
func ParseTitle(title string) ([]Group, error) {
	head, desc, ok := splitHead(title)
	if !ok {
		return nil, ErrNoColon
	}
	if strings.TrimSpace(desc) == "" {
		return nil, ErrEmptyDescription
	}

	// Group-level breaking marker: '!' directly before the colon.
	allBreaking := false
	if strings.HasSuffix(head, "!") {
		allBreaking = true
		head = strings.TrimSuffix(head, "!")
	}

	groups := make([]Group, 0, 1)
	for _, raw := range splitTopLevel(head) {
		g, err := parseGroup(strings.TrimSpace(raw), allBreaking)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	if len(groups) == 0 {
		return nil, ErrBadGrammar
	}
	return groups, nil
}

// splitHead splits the title at the first colon that sits outside
// parentheses. The conventional separator is ": " but a bare colon at
// end of head is also accepted.
func splitHead(title string) (head, desc string, ok bool) {
	depth := 0
	for i := 0; i < len(title); i++ {
		switch title[i] {
		case '(':
			depth++
		case ')':
			if depth > 0 {
				depth--
			}
		case ':':
			if depth == 0 {
				return title[:i], title[i+1:], true
			}
		}
	}
	return "", "", false
}

// splitTopLevel splits on commas at parenthesis depth zero. Commas
// inside parentheses belong to a single group's scope list.
func splitTopLevel(s string) []string {
	var parts []string
	depth := 0
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			if depth > 0 {
				depth--
			}
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, s[start:])
	return parts
}

// parseGroup parses one "type(scope, scope!)" unit. An optional
// trailing '!' after the closing parenthesis marks every scope of the
// group breaking, as does the title-level marker.
func parseGroup(raw string, allBreaking bool) (Group, error) {
	if raw == "" {
		return Group{}, ErrBadGrammar
	}

	groupBreaking := allBreaking
	if strings.HasSuffix(raw, "!") {
		groupBreaking = true
		raw = strings.TrimSuffix(raw, "!")
	}

	open := strings.IndexByte(raw, '(')
	if open < 0 {
		// Scopeless group: valid grammar, targets no package.
		if !isValidType(raw) {
			return Group{}, ErrBadGrammar
		}
		return Group{Type: raw}, nil
	}

	if !strings.HasSuffix(raw, ")") {
		return Group{}, ErrBadGrammar
	}
	typ := raw[:open]
	if !isValidType(typ) {
		return Group{}, ErrBadGrammar
	}

	inner := raw[open+1 : len(raw)-1]
	targets := make([]Target, 0, 1)
	for _, s := range strings.Split(inner, ",") {
		s = strings.TrimSpace(s)
		breaking := groupBreaking
		if strings.HasSuffix(s, "!") {
			breaking = true
			s = strings.TrimSuffix(s, "!")
		}
		if s == "" {
			return Group{}, ErrBadGrammar
		}
		targets = append(targets, Target{Scope: s, Breaking: breaking})
	}
	if len(targets) == 0 {
		return Group{}, ErrBadGrammar
	}

	return Group{Type: typ, Targets: targets}, nil
}

// isValidType accepts lowercase alphanumeric commit types.
func isValidType(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}

// Extract parses a commit's title and returns its per-scope impacts in
// title order.
//
// # Description
//
// Each targeted scope yields at most one Impact. Breaking scopes bump
// major regardless of commit type; non-breaking scopes take the type's
// baseline bump, and types with no release effect contribute nothing.
//
// Outputs:
//
//	[]Impact - Zero or more impacts. Nil with a *ParseError when the
//	  title is malformed; callers skip the commit and continue.
func Extract(c Commit) ([]Impact, error) {
	title := c.Title()
	groups, err := ParseTitle(title)
	if err != nil {
		return nil, &ParseError{Hash: c.Hash, Title: title, Err: err}
	}

	var impacts []Impact
	for _, g := range groups {
		baseline, releasing := releasingTypes[g.Type]
		for _, t := range g.Targets {
			bump := baseline
			if t.Breaking {
				bump = version.BumpMajor
			} else if !releasing {
				continue
			}
			impacts = append(impacts, Impact{Scope: t.Scope, Bump: bump, Commit: c})
		}
	}
	return impacts, nil
}
