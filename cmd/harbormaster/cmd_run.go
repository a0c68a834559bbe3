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
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/harbormaster/plan"
	"github.com/AleutianAI/harbormaster/registry"
	badgerstore "github.com/AleutianAI/harbormaster/storage/badger"
	"github.com/AleutianAI/harbormaster/workflow"
)

var (
	flagPlanPath        string
	flagRunID           string
	flagDryRun          bool
	flagDropCheckpoints bool

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Execute a saved release plan as a durable workflow",
		Long: `Run executes every package chain of a saved plan:
publish, create tag, push tag, create release. Each step is
checkpointed; re-running with the same --run-id resumes from the first
incomplete step without repeating completed side effects. A failed
package stops only its own chain.`,
		RunE: runRun,
	}
)

func init() {
	runCmd.Flags().StringVar(&flagPlanPath, "plan", "",
		"plan file to execute (default from config)")
	runCmd.Flags().StringVar(&flagRunID, "run-id", "",
		"run identifier; reuse a previous id to resume it (default: new id)")
	runCmd.Flags().BoolVar(&flagDryRun, "dry-run", false,
		"rehearse publishes without uploading (tags are still created)")
	runCmd.Flags().BoolVar(&flagDropCheckpoints, "drop-checkpoints", false,
		"delete the run's checkpoints after a fully successful run")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	planPath := flagPlanPath
	if planPath == "" {
		planPath = filepath.Join(flagRoot, cfg.PlanPath)
	}
	p, err := plan.Load(planPath)
	if err != nil {
		return err
	}

	packages, err := scanWorkspace(ctx)
	if err != nil {
		return err
	}
	// Publish runs in each package directory; resolve against the root.
	for i := range packages {
		packages[i].Dir = filepath.Join(flagRoot, packages[i].Dir)
	}

	store, err := badgerstore.OpenStore(badgerstore.DefaultConfig(
		filepath.Join(flagRoot, cfg.CheckpointDir)))
	if err != nil {
		return err
	}
	defer store.Close()

	var npmOpts []registry.NpmOption
	if flagDryRun || cfg.Publish.DryRun {
		npmOpts = append(npmOpts, registry.WithDryRun())
	}
	collab := workflow.Collaborators{
		Publisher: registry.NewNpmPublisher(cfg.Publish.RatePerSecond, logger.Logger, npmOpts...),
		Tagger:    gitClient(),
		Releaser:  registry.NewGithubReleaser(flagRoot, "", logger.Logger),
	}

	exec, err := workflow.NewExecutor(store, collab, workflow.Config{
		Concurrency: cfg.Workflow.Concurrency,
		Retries:     cfg.Workflow.Retries,
		RetryDelay:  cfg.Workflow.RetryDelay.Std(),
	}, logger.Logger)
	if err != nil {
		return err
	}

	exec.OnEvent(func(ev workflow.Event) {
		mark := "✓"
		if ev.Outcome == workflow.StatusFailed {
			mark = "✗"
		}
		note := ""
		if ev.Resumed {
			note = " (resumed)"
		}
		fmt.Fprintf(out, "  %s %-14s %s%s\n", mark, ev.Activity, ev.Package, note)
	})

	runID := flagRunID
	if runID == "" {
		runID = uuid.NewString()
	}

	fmt.Fprintf(out, "Run %s: %d package(s), %s lifecycle\n",
		runID, len(p.Items()), p.Lifecycle)
	for _, layer := range workflow.Layers(p) {
		logger.Debug("layer", "activity", string(layer.Activity), "size", len(layer.Keys))
	}

	result, err := exec.Run(ctx, runID, p, packages)
	if err != nil {
		return err
	}

	if !result.Success() {
		for _, chain := range result.Packages {
			if !chain.Completed() {
				fmt.Fprintf(out, "FAILED %s at %s: %s\n", chain.Package, chain.Failed, chain.Error)
			}
		}
		return fmt.Errorf("%d of %d package(s) failed; resume with --run-id %s",
			result.Failed, len(result.Packages), runID)
	}

	fmt.Fprintf(out, "All %d package(s) released in %s.\n",
		result.Succeeded, result.Duration.Round(time.Millisecond))

	if flagDropCheckpoints {
		if err := store.DropRun(ctx, runID); err != nil {
			return fmt.Errorf("drop checkpoints for %s: %w", runID, err)
		}
		logger.Info("checkpoints dropped", "run_id", runID)
	}
	return nil
}
