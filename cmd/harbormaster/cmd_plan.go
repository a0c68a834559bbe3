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
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/harbormaster/plan"
)

var (
	flagLifecycle     string
	flagChangeRequest string
	flagPlanOutput    string

	planCmd = &cobra.Command{
		Use:   "plan",
		Short: "Compute next versions and persist a release plan",
		Long: `Plan runs the analysis, assigns each impacted and cascaded package a
concrete next version under the chosen lifecycle, and writes the plan
to disk. Planning performs no releases; a saved plan is the only input
"run" needs besides checkpoints.`,
		RunE: runPlan,
	}
)

func init() {
	planCmd.Flags().StringVar(&flagLifecycle, "lifecycle", string(plan.LifecycleStable),
		"release lifecycle: stable, preview, or ephemeral")
	planCmd.Flags().StringVar(&flagChangeRequest, "change-request", "",
		"change-request id for the ephemeral lifecycle (or HARBORMASTER_CHANGE_REQUEST)")
	planCmd.Flags().StringVarP(&flagPlanOutput, "output", "o", "",
		"plan file path (default from config)")

	// Analysis tuning flags are shared with analyze.
	planCmd.Flags().StringVar(&flagSince, "since", "",
		"range start ref (default: tag with the greatest release version)")
	planCmd.Flags().StringSliceVar(&flagAnalyzeFilter, "filter", nil,
		"restrict direct impacts to these package scopes")
	planCmd.Flags().StringSliceVar(&flagAnalyzeExclude, "exclude", nil,
		"drop these scopes from the plan (adds to configured excludes)")
}

func runPlan(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	analysis, _, err := computeAnalysis(ctx)
	if err != nil {
		return err
	}

	git := gitClient()
	head, err := git.HeadSHA(ctx)
	if err != nil {
		return err
	}

	planner := plan.NewPlanner()
	p, err := planner.Plan(analysis, plan.Lifecycle(flagLifecycle), plan.Options{
		ChangeRequestID: flagChangeRequest,
		HeadSHA:         head,
	})
	if err != nil {
		return err
	}

	if len(p.Releases)+len(p.Cascades) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Nothing to release.")
		return nil
	}

	path := flagPlanOutput
	if path == "" {
		path = filepath.Join(flagRoot, cfg.PlanPath)
	}
	if err := plan.Save(p, path); err != nil {
		return err
	}

	logger.Info("plan saved", "path", path,
		"releases", len(p.Releases), "cascades", len(p.Cascades))

	printPlan(cmd.OutOrStdout(), p, path)
	return nil
}

func printPlan(w io.Writer, p *plan.Plan, path string) {
	fmt.Fprintf(w, "Release plan (%s lifecycle) at %.7s:\n\n", p.Lifecycle, p.HeadSHA)
	for _, item := range p.Releases {
		fmt.Fprintf(w, "  %-40s %s\n", item.Tag(), describeBump(item))
	}
	for _, item := range p.Cascades {
		fmt.Fprintf(w, "  %-40s cascade via %s\n",
			item.Tag(), strings.Join(item.TriggeredBy(), ", "))
	}
	fmt.Fprintf(w, "\nSaved to %s\n", path)
}

func describeBump(item plan.ReleaseItem) string {
	if current := item.CurrentVersion(); current != nil {
		return fmt.Sprintf("%s from %s", item.Bump(), current)
	}
	return fmt.Sprintf("%s (first release)", item.Bump())
}
