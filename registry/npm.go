// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package registry implements the publish and forge-release
// collaborators invoked by the workflow executor.
//
// # Description
//
// Publishing shells out to the npm CLI so authentication, registry
// selection, and provenance all come from the workspace's own npm
// configuration. Forge releases shell out to the gh CLI for the same
// reason. Neither collaborator decides anything: they execute exactly
// what the plan recorded.
package registry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"golang.org/x/time/rate"

	"github.com/AleutianAI/harbormaster/version"
	"github.com/AleutianAI/harbormaster/workspace"
)

// Sentinel errors for registry operations.
var (
	// ErrPublishFailed wraps a non-zero npm exit.
	ErrPublishFailed = errors.New("npm publish failed")

	// ErrPrivatePackage is returned when a private package reaches the
	// publisher. Private packages are filtered out at plan time, so this
	// indicates a corrupted or hand-edited plan.
	ErrPrivatePackage = errors.New("refusing to publish private package")
)

// NpmPublisher publishes workspace packages with the npm CLI.
//
// # Thread Safety
//
// Safe for concurrent use. The rate limiter serializes bursts so a
// wide workspace does not trip registry throttling.
type NpmPublisher struct {
	limiter *rate.Limiter
	logger  *slog.Logger

	// dryRun passes --dry-run to npm, exercising the full pack and
	// validation path without an upload.
	dryRun bool

	// runner overrides command execution in tests.
	runner func(ctx context.Context, dir string, args ...string) (string, error)
}

// NpmOption configures an NpmPublisher.
type NpmOption func(*NpmPublisher)

// WithDryRun makes every publish a no-upload rehearsal.
func WithDryRun() NpmOption {
	return func(p *NpmPublisher) { p.dryRun = true }
}

// NewNpmPublisher creates a publisher limited to publishesPerSecond
// uploads. A non-positive rate disables limiting.
func NewNpmPublisher(publishesPerSecond float64, logger *slog.Logger, opts ...NpmOption) *NpmPublisher {
	limit := rate.Inf
	if publishesPerSecond > 0 {
		limit = rate.Limit(publishesPerSecond)
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &NpmPublisher{
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish uploads one package version from its workspace directory.
//
// # Description
//
// The manifest is stamped with the planned version first (npm version
// --no-git-tag-version), so the uploaded artifact always carries the
// version the plan assigned rather than whatever the manifest held.
// --allow-same-version makes the stamp idempotent under workflow
// retries and resumed runs.
//
// Inputs:
//
//	ctx - Cancels the rate-limiter wait and the npm processes.
//	pkg - The workspace package; its Dir is the npm working directory.
//	v - The version being released; written to the manifest and used
//	    to pick the dist-tag.
//
// Outputs:
//
//	error - Non-nil on private packages, context cancellation, or a
//	        non-zero npm exit.
func (p *NpmPublisher) Publish(ctx context.Context, pkg workspace.Package, v version.Version) error {
	if pkg.Private {
		return fmt.Errorf("%w: %s", ErrPrivatePackage, pkg.Scope)
	}

	stamp := []string{"version", v.String(), "--no-git-tag-version", "--allow-same-version"}
	if _, err := p.run(ctx, pkg.Dir, stamp...); err != nil {
		return fmt.Errorf("%w: %s@%s: %v", ErrPublishFailed, pkg.Scope, v, err)
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}

	args := []string{"publish", "--tag", distTag(v)}
	if p.dryRun {
		args = append(args, "--dry-run")
	}

	p.logger.Info("publishing package",
		slog.String("package", pkg.Scope),
		slog.String("version", v.String()),
		slog.Bool("dry_run", p.dryRun))

	out, err := p.run(ctx, pkg.Dir, args...)
	if err != nil {
		return fmt.Errorf("%w: %s@%s: %v", ErrPublishFailed, pkg.Scope, v, err)
	}
	p.logger.Debug("npm publish output", slog.String("output", out))
	return nil
}

func (p *NpmPublisher) run(ctx context.Context, dir string, args ...string) (string, error) {
	if p.runner != nil {
		return p.runner(ctx, dir, args...)
	}

	cmd := exec.CommandContext(ctx, "npm", args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("npm %s: %v: %s",
			strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

// distTag picks the npm dist-tag for a version: prereleases go to
// "next" so stable consumers resolving "latest" never see them.
func distTag(v version.Version) string {
	if v.Prerelease != "" {
		return "next"
	}
	return "latest"
}
