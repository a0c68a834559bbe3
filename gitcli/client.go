// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package gitcli implements the version-control collaborators by
// wrapping the git command-line tool.
//
// # Description
//
// The analyzer and planner only need narrow read capabilities (commit
// history, tags, reachability); the executor and the tag flow need
// write capabilities (tag create/delete/push). Both sides are served
// by one Client so a command's working directory and remote are
// configured once.
//
// # Thread Safety
//
// Client is safe for concurrent use; every call spawns its own
// process.
package gitcli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/AleutianAI/harbormaster/commit"
)

// Field and record separators for machine-readable git log output.
const (
	fieldSep  = "\x1f"
	recordSep = "\x1e"
)

// ErrGitCommand wraps a non-zero git exit.
var ErrGitCommand = errors.New("git command failed")

// Client runs git commands in a repository.
type Client struct {
	// Dir is the repository root.
	Dir string

	// Remote is the remote name for tag pushes (default "origin").
	Remote string

	// Logger logs executed commands at debug level.
	Logger *slog.Logger

	// runner overrides command execution in tests.
	runner func(ctx context.Context, dir string, args ...string) (string, error)
}

// New creates a client for a repository.
func New(dir, remote string, logger *slog.Logger) *Client {
	if remote == "" {
		remote = "origin"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{Dir: dir, Remote: remote, Logger: logger}
}

// run executes one git command and returns trimmed stdout.
func (c *Client) run(ctx context.Context, args ...string) (string, error) {
	if c.runner != nil {
		return c.runner(ctx, c.Dir, args...)
	}

	c.Logger.Debug("running git", slog.String("args", strings.Join(args, " ")))

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = c.Dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%w: git %s: %v: %s",
			ErrGitCommand, strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

// CommitsSince returns commits after ref, oldest first. An empty ref
// returns the full history.
func (c *Client) CommitsSince(ctx context.Context, ref string) ([]commit.Commit, error) {
	format := strings.Join([]string{"%H", "%an <%ae>", "%aI", "%B"}, fieldSep) + recordSep
	args := []string{"log", "--reverse", "--format=" + format}
	if ref != "" {
		args = append(args, ref+"..HEAD")
	}

	out, err := c.run(ctx, args...)
	if err != nil {
		return nil, err
	}

	var commits []commit.Commit
	for _, record := range strings.Split(out, recordSep) {
		record = strings.TrimSpace(record)
		if record == "" {
			continue
		}
		fields := strings.SplitN(record, fieldSep, 4)
		if len(fields) != 4 {
			return nil, fmt.Errorf("unexpected git log record: %q", record)
		}
		date, err := time.Parse(time.RFC3339, fields[2])
		if err != nil {
			return nil, fmt.Errorf("parse commit date %q: %w", fields[2], err)
		}
		commits = append(commits, commit.Commit{
			Hash:    fields[0],
			Author:  fields[1],
			Date:    date,
			Message: strings.TrimSpace(fields[3]),
		})
	}
	return commits, nil
}

// Tags returns every tag name in the repository.
func (c *Client) Tags(ctx context.Context) ([]string, error) {
	out, err := c.run(ctx, "tag", "--list")
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// TagSHA resolves a tag to the commit it points at (peeling annotated
// tags).
func (c *Client) TagSHA(ctx context.Context, tag string) (string, error) {
	return c.run(ctx, "rev-list", "-n", "1", tag)
}

// HeadSHA returns the current head commit id.
func (c *Client) HeadSHA(ctx context.Context) (string, error) {
	return c.run(ctx, "rev-parse", "HEAD")
}

// CommitExists reports whether a commit id resolves in the repository.
func (c *Client) CommitExists(ctx context.Context, sha string) (bool, error) {
	_, err := c.run(ctx, "cat-file", "-e", sha+"^{commit}")
	if err != nil {
		if errors.Is(err, ErrGitCommand) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// IsAncestor reports whether a is an ancestor of b. A commit counts as
// its own ancestor, matching git merge-base semantics.
func (c *Client) IsAncestor(ctx context.Context, a, b string) (bool, error) {
	_, err := c.run(ctx, "merge-base", "--is-ancestor", a, b)
	if err != nil {
		// Exit code 1 means "not an ancestor"; other failures are
		// indistinguishable here without exit-code plumbing, so check
		// both commits exist before trusting a negative.
		if errors.Is(err, ErrGitCommand) {
			for _, sha := range []string{a, b} {
				exists, eerr := c.CommitExists(ctx, sha)
				if eerr != nil {
					return false, eerr
				}
				if !exists {
					return false, fmt.Errorf("%w: unknown commit %s", ErrGitCommand, sha)
				}
			}
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// CreateTagAt creates an annotated tag at a commit. An empty sha tags
// the current head.
func (c *Client) CreateTagAt(ctx context.Context, tag, sha, message string) error {
	args := []string{"tag", "-a", tag, "-m", message}
	if sha != "" {
		args = append(args, sha)
	}
	_, err := c.run(ctx, args...)
	return err
}

// DeleteTag removes a local tag.
func (c *Client) DeleteTag(ctx context.Context, tag string) error {
	_, err := c.run(ctx, "tag", "-d", tag)
	return err
}

// PushTag pushes a tag to the configured remote.
func (c *Client) PushTag(ctx context.Context, tag string, force bool) error {
	args := []string{"push", c.Remote, "refs/tags/" + tag}
	if force {
		args = append(args, "--force")
	}
	_, err := c.run(ctx, args...)
	return err
}

// DeleteRemoteTag removes a tag from the configured remote.
func (c *Client) DeleteRemoteTag(ctx context.Context, tag string) error {
	_, err := c.run(ctx, "push", c.Remote, ":refs/tags/"+tag)
	return err
}
