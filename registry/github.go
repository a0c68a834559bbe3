// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package registry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/AleutianAI/harbormaster/version"
)

// ErrReleaseFailed wraps a non-zero gh exit.
var ErrReleaseFailed = errors.New("gh release create failed")

// GithubReleaser creates forge releases with the gh CLI.
//
// # Thread Safety
//
// Safe for concurrent use; every call spawns its own process.
type GithubReleaser struct {
	// Dir is the repository root gh resolves the remote from.
	Dir string

	// Repo overrides remote detection ("owner/name"). Optional.
	Repo string

	logger *slog.Logger

	// runner overrides command execution in tests.
	runner func(ctx context.Context, dir string, args ...string) (string, error)
}

// NewGithubReleaser creates a releaser rooted at a repository.
func NewGithubReleaser(dir, repo string, logger *slog.Logger) *GithubReleaser {
	if logger == nil {
		logger = slog.Default()
	}
	return &GithubReleaser{Dir: dir, Repo: repo, logger: logger}
}

// CreateRelease creates a release for an already-pushed tag.
//
// Prerelease tags are marked as such on the forge so they never show
// up as the repository's latest release.
func (r *GithubReleaser) CreateRelease(ctx context.Context, tag, notes string) error {
	args := []string{"release", "create", tag, "--title", tag, "--notes", notes}
	if _, v, err := version.ParseTag(tag); err == nil && v.Prerelease != "" {
		args = append(args, "--prerelease")
	}
	if r.Repo != "" {
		args = append(args, "--repo", r.Repo)
	}

	r.logger.Info("creating release", slog.String("tag", tag))

	if _, err := r.run(ctx, args...); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrReleaseFailed, tag, err)
	}
	return nil
}

func (r *GithubReleaser) run(ctx context.Context, args ...string) (string, error) {
	if r.runner != nil {
		return r.runner(ctx, r.Dir, args...)
	}

	cmd := exec.CommandContext(ctx, "gh", args...)
	cmd.Dir = r.Dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("gh %s: %v: %s",
			strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}
