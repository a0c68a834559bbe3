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
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/harbormaster/analyze"
)

var (
	flagSince          string
	flagAnalyzeFilter  []string
	flagAnalyzeExclude []string
	flagAnalyzeJSON    bool

	analyzeCmd = &cobra.Command{
		Use:   "analyze",
		Short: "Report which packages changed and which are forced to re-release",
		Long: `Analyze walks the commit range since the last release tag (or --since),
extracts per-package impacts from conventional-commit titles, and
propagates cascades through the workspace dependency graph. It is a
pure read: nothing is written anywhere.`,
		RunE: runAnalyze,
	}
)

func init() {
	analyzeCmd.Flags().StringVar(&flagSince, "since", "",
		"range start ref (default: tag with the greatest release version)")
	analyzeCmd.Flags().StringSliceVar(&flagAnalyzeFilter, "filter", nil,
		"restrict direct impacts to these package scopes")
	analyzeCmd.Flags().StringSliceVar(&flagAnalyzeExclude, "exclude", nil,
		"drop these scopes from the result (adds to configured excludes)")
	analyzeCmd.Flags().BoolVar(&flagAnalyzeJSON, "json", false,
		"emit the full analysis as JSON on stdout")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	analysis, _, err := computeAnalysis(cmd.Context())
	if err != nil {
		return err
	}

	if flagAnalyzeJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(analysis)
	}

	printAnalysis(cmd.OutOrStdout(), analysis)
	return nil
}

// computeAnalysis runs the shared scan-tags-analyze pipeline used by
// both analyze and plan.
func computeAnalysis(ctx context.Context) (*analyze.Analysis, []string, error) {
	packages, err := scanWorkspace(ctx)
	if err != nil {
		return nil, nil, err
	}

	git := gitClient()
	tags, err := git.Tags(ctx)
	if err != nil {
		return nil, nil, err
	}

	analyzer := analyze.New(git, logger.Logger)
	analysis, err := analyzer.Analyze(ctx, packages, tags, analyze.Options{
		SinceRef: flagSince,
		Filter:   flagAnalyzeFilter,
		Exclude:  append(cfg.Exclude, flagAnalyzeExclude...),
	})
	if err != nil {
		return nil, nil, err
	}
	return analysis, workspaceScopes(packages), nil
}

func printAnalysis(w io.Writer, a *analyze.Analysis) {
	if a.SinceRef != "" {
		fmt.Fprintf(w, "Analyzing commits since %s\n\n", a.SinceRef)
	} else {
		fmt.Fprintf(w, "Analyzing full history (no prior release tag)\n\n")
	}

	if len(a.Impacts) == 0 {
		fmt.Fprintln(w, "No release-relevant changes.")
	}
	for _, imp := range a.Impacts {
		current := "unreleased"
		if imp.CurrentVersion != nil {
			current = imp.CurrentVersion.String()
		}
		fmt.Fprintf(w, "%s  %s (current %s, %d commits)\n",
			imp.Scope, imp.Bump, current, len(imp.Commits))
		for _, c := range imp.Commits {
			fmt.Fprintf(w, "    %s %s\n", c.ShortHash(), c.Title())
		}
	}

	for _, c := range a.Cascades {
		fmt.Fprintf(w, "%s  cascade (via %s)\n", c.Scope, strings.Join(c.TriggeredBy, ", "))
	}

	if len(a.Skipped) > 0 {
		fmt.Fprintf(w, "\nSkipped %d unparseable commit(s):\n", len(a.Skipped))
		for _, s := range a.Skipped {
			fmt.Fprintf(w, "    %.7s %s: %s\n", s.Hash, s.Title, s.Reason)
		}
	}
}
