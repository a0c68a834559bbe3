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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTag(t *testing.T) {
	scope, v, err := ParseTag("ui-kit@1.2.3")
	require.NoError(t, err)
	assert.Equal(t, "ui-kit", scope)
	assert.Equal(t, MustParse("1.2.3"), v)

	// npm-style scope: split at the last '@'.
	scope, v, err = ParseTag("@acme/ui-kit@2.0.0-next.1")
	require.NoError(t, err)
	assert.Equal(t, "@acme/ui-kit", scope)
	assert.Equal(t, "2.0.0-next.1", v.String())

	_, _, err = ParseTag("no-version")
	assert.ErrorIs(t, err, ErrInvalidTag)

	_, _, err = ParseTag("pkg@")
	assert.ErrorIs(t, err, ErrInvalidTag)

	_, _, err = ParseTag("pkg@not-semver")
	assert.ErrorIs(t, err, ErrInvalidVersion)
}

func TestTagName_RoundTrip(t *testing.T) {
	v := MustParse("0.0.0-pr.412.2.ab12cd3")
	tag := TagName("@acme/core", v)
	assert.Equal(t, "@acme/core@0.0.0-pr.412.2.ab12cd3", tag)

	scope, parsed, err := ParseTag(tag)
	require.NoError(t, err)
	assert.Equal(t, "@acme/core", scope)
	assert.Equal(t, v, parsed)
}

func TestNextPreview(t *testing.T) {
	tags := []string{
		"core@1.4.0",
		"core@1.5.0-next.1",
		"core@1.5.0-next.2",
		"core@2.0.0-next.9", // different base, ignored
		"other@1.5.0-next.7",
	}

	assert.Equal(t, 3, NextPreview(tags, "core", MustParse("1.5.0")))
	assert.Equal(t, 1, NextPreview(tags, "core", MustParse("1.6.0")))
	assert.Equal(t, 1, NextPreview(nil, "core", MustParse("1.5.0")))
}

func TestNextEphemeralIteration(t *testing.T) {
	tags := []string{
		"core@0.0.0-pr.412.1.ab12cd3",
		"core@0.0.0-pr.412.2.9f8e7d6",
		"core@0.0.0-pr.500.5.1111111", // other change request
		"other@0.0.0-pr.412.9.2222222",
	}

	assert.Equal(t, 3, NextEphemeralIteration(tags, "core", "412"))
	assert.Equal(t, 6, NextEphemeralIteration(tags, "core", "500"))
	assert.Equal(t, 1, NextEphemeralIteration(tags, "core", "999"))
}

func TestEphemeralTag_DottedRequestID(t *testing.T) {
	// Change-request ids may themselves contain dots; the decoder takes
	// the short sha from the end.
	v := EphemeralTag("team.feature", 3, "ab12cd3")
	assert.Equal(t, "0.0.0-pr.team.feature.3.ab12cd3", v.String())

	tags := []string{TagName("core", v)}
	assert.Equal(t, 4, NextEphemeralIteration(tags, "core", "team.feature"))
}

func TestLatestStable(t *testing.T) {
	tags := []string{
		"core@0.9.0",
		"core@1.2.0",
		"core@1.10.0",
		"core@2.0.0-next.1", // prerelease, ignored
		"other@9.9.9",
	}

	latest := LatestStable(tags, "core")
	require.NotNil(t, latest)
	assert.Equal(t, "1.10.0", latest.String())

	assert.Nil(t, LatestStable(tags, "unreleased"))
}

func TestLatestTag(t *testing.T) {
	scopes := map[string]bool{"core": true, "ui": true}
	tags := []string{
		"core@1.2.0",
		"ui@3.0.0",
		"vendor@9.0.0", // outside the workspace
		"not-a-release-tag",
	}

	assert.Equal(t, "ui@3.0.0", LatestTag(tags, scopes))
	assert.Equal(t, "", LatestTag([]string{"junk"}, scopes))
	assert.Equal(t, "", LatestTag(nil, scopes))
}
