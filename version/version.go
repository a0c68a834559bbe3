// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package version implements phase-aware semantic version arithmetic and
// the release tag formats used across Harbormaster.
//
// # Description
//
// Versions follow semver (major.minor.patch plus an optional prerelease
// segment). Bump arithmetic is phase-aware: while a package is in its
// initial phase (major == 0), incoming major and minor bumps both
// collapse to a minor increment so that accidental breaking-change
// markers cannot promote an experimental package to 1.0.0. Once the
// package is public (major >= 1), standard semver increment rules apply.
//
// Comparison and canonicalization delegate to golang.org/x/mod/semver.
package version

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/mod/semver"
)

// Sentinel errors for version parsing.
var (
	// ErrInvalidVersion is returned when a string is not a valid semver.
	ErrInvalidVersion = errors.New("invalid version")

	// ErrInvalidTag is returned when a release tag cannot be split into
	// scope and version.
	ErrInvalidTag = errors.New("invalid release tag")
)

// Bump is the severity of a version change, totally ordered:
// BumpPatch < BumpMinor < BumpMajor.
type Bump int

const (
	// BumpNone means no release-relevant change.
	BumpNone Bump = iota

	// BumpPatch is a backwards-compatible fix.
	BumpPatch

	// BumpMinor is a backwards-compatible feature.
	BumpMinor

	// BumpMajor is a breaking change.
	BumpMajor
)

// String returns the human-readable name for the bump.
func (b Bump) String() string {
	switch b {
	case BumpNone:
		return "none"
	case BumpPatch:
		return "patch"
	case BumpMinor:
		return "minor"
	case BumpMajor:
		return "major"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (b Bump) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *Bump) UnmarshalText(text []byte) error {
	switch string(text) {
	case "none":
		*b = BumpNone
	case "patch":
		*b = BumpPatch
	case "minor":
		*b = BumpMinor
	case "major":
		*b = BumpMajor
	default:
		return fmt.Errorf("unknown bump %q", text)
	}
	return nil
}

// Max returns the more severe of two bumps.
func Max(a, b Bump) Bump {
	if a > b {
		return a
	}
	return b
}

// Version is a parsed semantic version.
//
// # Description
//
// The Prerelease field holds the segment after the first '-' without
// the leading dash (e.g. "next.3" or "pr.412.2.ab12cd3"). An empty
// Prerelease means a stable version.
type Version struct {
	Major      int    `json:"major"`
	Minor      int    `json:"minor"`
	Patch      int    `json:"patch"`
	Prerelease string `json:"prerelease,omitempty"`
}

// Parse decodes a semver string such as "1.2.3" or "1.2.3-next.1".
//
// Inputs:
//
//	s - Version string without a leading "v".
//
// Outputs:
//
//	Version - The parsed version.
//	error - ErrInvalidVersion if s is not valid semver.
func Parse(s string) (Version, error) {
	canonical := "v" + s
	if !semver.IsValid(canonical) {
		return Version{}, fmt.Errorf("%w: %q", ErrInvalidVersion, s)
	}

	core := s
	pre := ""
	if i := strings.IndexByte(s, '-'); i >= 0 {
		core = s[:i]
		pre = s[i+1:]
	}
	// Build metadata is not used in release tags.
	if i := strings.IndexByte(core, '+'); i >= 0 {
		core = core[:i]
	}

	parts := strings.SplitN(core, ".", 3)
	if len(parts) != 3 {
		return Version{}, fmt.Errorf("%w: %q", ErrInvalidVersion, s)
	}

	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return Version{}, fmt.Errorf("%w: %q", ErrInvalidVersion, s)
		}
		nums[i] = n
	}

	return Version{Major: nums[0], Minor: nums[1], Patch: nums[2], Prerelease: pre}, nil
}

// MustParse is Parse for trusted literals; it panics on error.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// String renders the version without a leading "v".
func (v Version) String() string {
	s := fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	if v.Prerelease != "" {
		s += "-" + v.Prerelease
	}
	return s
}

// Base returns the version with its prerelease segment stripped.
func (v Version) Base() Version {
	v.Prerelease = ""
	return v
}

// IsZero reports whether the version is the zero value.
func (v Version) IsZero() bool {
	return v.Major == 0 && v.Minor == 0 && v.Patch == 0 && v.Prerelease == ""
}

// Compare orders two versions per semver precedence rules.
//
// Outputs:
//
//	int - -1 if v < o, 0 if equal, +1 if v > o.
func Compare(v, o Version) int {
	return semver.Compare("v"+v.String(), "v"+o.String())
}

// Next computes the version that a bump produces from the current one.
//
// # Description
//
// With no current version the package is being released for the first
// time: a major or minor bump yields 0.1.0, a patch bump yields 0.0.1.
// With a current version the requested bump is remapped through the
// phase table: while major == 0 (initial phase) major and minor both
// collapse to minor and patch stays patch; once major >= 1 (public
// phase) standard semver increments apply, with minor and patch
// components reset as usual.
//
// Inputs:
//
//	current - The latest released stable version, or nil for none.
//	bump - The requested severity. BumpNone returns current unchanged.
//
// Outputs:
//
//	Version - The next version (always stable, no prerelease).
func Next(current *Version, bump Bump) Version {
	if current == nil {
		if bump == BumpPatch {
			return Version{Patch: 1}
		}
		return Version{Minor: 1}
	}

	base := current.Base()
	if bump == BumpNone {
		return base
	}

	effective := bump
	if base.Major == 0 && bump == BumpMajor {
		effective = BumpMinor
	}

	switch effective {
	case BumpMajor:
		return Version{Major: base.Major + 1}
	case BumpMinor:
		return Version{Major: base.Major, Minor: base.Minor + 1}
	default:
		return Version{Major: base.Major, Minor: base.Minor, Patch: base.Patch + 1}
	}
}
