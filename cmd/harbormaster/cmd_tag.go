// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/harbormaster/gitcli"
	"github.com/AleutianAI/harbormaster/plan"
	"github.com/AleutianAI/harbormaster/version"
)

var (
	flagTagAt   string
	flagTagMove bool
	flagTagPush bool

	tagCmd = &cobra.Command{
		Use:   "tag <scope> <version>",
		Short: "Manually assign a release version to a commit",
		Long: `Tag audits a manual version assignment against monotonic versioning:
the version must be >= every existing release on ancestor commits and
<= every existing release on descendant commits of the target. All
violations are reported together. Re-tagging an existing version at a
different commit requires --move, which deletes the old tag locally
and on the remote first.`,
		Args: cobra.ExactArgs(2),
		RunE: runTag,
	}
)

func init() {
	tagCmd.Flags().StringVar(&flagTagAt, "at", "",
		"target commit (default HEAD)")
	tagCmd.Flags().BoolVar(&flagTagMove, "move", false,
		"allow moving an existing version tag to the target commit")
	tagCmd.Flags().BoolVar(&flagTagPush, "push", true,
		"push the tag to the configured remote")
}

func runTag(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	scope := args[0]

	proposed, err := version.Parse(args[1])
	if err != nil {
		return err
	}

	git := gitClient()

	sha := flagTagAt
	if sha == "" {
		sha, err = git.HeadSHA(ctx)
		if err != nil {
			return err
		}
	}

	existing, err := packageTags(ctx, git, scope)
	if err != nil {
		return err
	}

	validator := plan.NewValidator(git)
	result, err := validator.Validate(ctx, scope, sha, proposed, existing)
	if err != nil {
		return err
	}
	if !result.OK() {
		return errors.New(result.Error())
	}

	tag := version.TagName(scope, proposed)

	if result.Unchanged {
		fmt.Fprintf(out, "%s already points at %.7s; nothing to do.\n", tag, sha)
		return nil
	}

	if result.ExistingSHA != "" {
		if !flagTagMove {
			return fmt.Errorf("%s already exists at %.7s; pass --move to relocate it to %.7s",
				tag, result.ExistingSHA, sha)
		}
		logger.Warn("moving existing tag",
			"tag", tag, "from", result.ExistingSHA, "to", sha)
		if err := git.DeleteTag(ctx, tag); err != nil {
			return err
		}
		if flagTagPush {
			if err := git.DeleteRemoteTag(ctx, tag); err != nil {
				return err
			}
		}
	}

	if err := git.CreateTagAt(ctx, tag, sha, fmt.Sprintf("release %s", tag)); err != nil {
		return err
	}
	if flagTagPush {
		if err := git.PushTag(ctx, tag, false); err != nil {
			return err
		}
	}

	fmt.Fprintf(out, "Tagged %s at %.7s.\n", tag, sha)
	return nil
}

// packageTags collects the existing release tags of one package with
// the commits they point at.
func packageTags(ctx context.Context, git *gitcli.Client, scope string) ([]plan.TagInfo, error) {
	tags, err := git.Tags(ctx)
	if err != nil {
		return nil, err
	}

	var infos []plan.TagInfo
	for _, tag := range tags {
		s, v, err := version.ParseTag(tag)
		if err != nil || s != scope {
			continue
		}
		sha, err := git.TagSHA(ctx, tag)
		if err != nil {
			return nil, fmt.Errorf("resolve tag %s: %w", tag, err)
		}
		infos = append(infos, plan.TagInfo{Tag: tag, SHA: sha, Version: v})
	}
	return infos, nil
}
