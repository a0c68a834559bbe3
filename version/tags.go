// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package version

import (
	"fmt"
	"strconv"
	"strings"
)

// Release tags have the form <scope>@<version>. Prerelease segments use
// one of two structured forms:
//
//	-next.<n>                      preview (release candidate) builds
//	-pr.<id>.<n>.<shortSha>        ephemeral per-change-request builds

// TagName renders the release tag for a package version.
func TagName(scope string, v Version) string {
	return scope + "@" + v.String()
}

// ParseTag splits a release tag into scope and version.
//
// # Description
//
// The scope itself may contain '@' (npm-style "@org/name"), so the tag
// is split at the last '@'.
//
// Outputs:
//
//	string - The package scope.
//	Version - The decoded version.
//	error - ErrInvalidTag when the tag has no version suffix, or
//	  ErrInvalidVersion when the suffix is not semver.
func ParseTag(tag string) (string, Version, error) {
	i := strings.LastIndexByte(tag, '@')
	if i <= 0 || i == len(tag)-1 {
		return "", Version{}, fmt.Errorf("%w: %q", ErrInvalidTag, tag)
	}
	v, err := Parse(tag[i+1:])
	if err != nil {
		return "", Version{}, err
	}
	return tag[:i], v, nil
}

// PreviewTag renders the prerelease segment for a preview build.
func PreviewTag(base Version, n int) Version {
	base = base.Base()
	base.Prerelease = fmt.Sprintf("next.%d", n)
	return base
}

// EphemeralTag renders the prerelease version for a change-request build.
// Ephemeral builds are always rooted at 0.0.0.
func EphemeralTag(requestID string, n int, shortSHA string) Version {
	return Version{Prerelease: fmt.Sprintf("pr.%s.%d.%s", requestID, n, shortSHA)}
}

// parsePreview decodes a "next.<n>" prerelease segment.
func parsePreview(pre string) (int, bool) {
	rest, ok := strings.CutPrefix(pre, "next.")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// parseEphemeral decodes a "pr.<id>.<n>.<shortSha>" prerelease segment.
func parseEphemeral(pre string) (id string, n int, ok bool) {
	rest, found := strings.CutPrefix(pre, "pr.")
	if !found {
		return "", 0, false
	}
	// The short SHA is the last dot-separated field, the iteration the
	// one before it; everything in between is the change-request id.
	parts := strings.Split(rest, ".")
	if len(parts) < 3 {
		return "", 0, false
	}
	n, err := strconv.Atoi(parts[len(parts)-2])
	if err != nil || n < 1 {
		return "", 0, false
	}
	id = strings.Join(parts[:len(parts)-2], ".")
	return id, n, true
}

// NextPreview computes the iteration counter for the next preview build
// of a package at a given stable base version.
//
// # Description
//
// Scans the existing tag set for tags of this exact scope whose version
// has the same stable base and a "next.<n>" prerelease, and returns
// 1 + the highest counter found. A base with no previews starts at 1.
func NextPreview(tags []string, scope string, base Version) int {
	base = base.Base()
	highest := 0
	for _, tag := range tags {
		s, v, err := ParseTag(tag)
		if err != nil || s != scope {
			continue
		}
		if Compare(v.Base(), base) != 0 {
			continue
		}
		if n, ok := parsePreview(v.Prerelease); ok && n > highest {
			highest = n
		}
	}
	return highest + 1
}

// NextEphemeralIteration computes the iteration counter for the next
// ephemeral build of a package under a change-request id.
func NextEphemeralIteration(tags []string, scope, requestID string) int {
	highest := 0
	for _, tag := range tags {
		s, v, err := ParseTag(tag)
		if err != nil || s != scope {
			continue
		}
		if id, n, ok := parseEphemeral(v.Prerelease); ok && id == requestID && n > highest {
			highest = n
		}
	}
	return highest + 1
}

// LatestStable returns the highest stable (non-prerelease) version
// among a package's release tags, or nil when the package has never
// had a stable release.
func LatestStable(tags []string, scope string) *Version {
	var latest *Version
	for _, tag := range tags {
		s, v, err := ParseTag(tag)
		if err != nil || s != scope || v.Prerelease != "" {
			continue
		}
		if latest == nil || Compare(v, *latest) > 0 {
			vv := v
			latest = &vv
		}
	}
	return latest
}

// LatestTag returns the tag carrying the greatest decoded version
// across all given scopes, or "" when none of the tags decode.
//
// # Description
//
// Used to resolve the default analysis range start: the most recent
// release of any workspace package.
func LatestTag(tags []string, scopes map[string]bool) string {
	best := ""
	var bestVersion Version
	for _, tag := range tags {
		s, v, err := ParseTag(tag)
		if err != nil {
			continue
		}
		if scopes != nil && !scopes[s] {
			continue
		}
		if best == "" || Compare(v, bestVersion) > 0 {
			best = tag
			bestVersion = v
		}
	}
	return best
}
