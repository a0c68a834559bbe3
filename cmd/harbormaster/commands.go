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
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/harbormaster/config"
	"github.com/AleutianAI/harbormaster/gitcli"
	"github.com/AleutianAI/harbormaster/pkg/logging"
	"github.com/AleutianAI/harbormaster/workspace"
)

var (
	cfg    config.Config
	logger *logging.Logger

	// Persistent flags.
	flagRoot       string
	flagConfigPath string
	flagLogLevel   string

	rootCmd = &cobra.Command{
		Use:   "harbormaster",
		Short: "Plan and execute releases for a multi-package workspace",
		Long: `Harbormaster analyzes conventional-commit history to decide which
workspace packages need a release, assigns versions under the stable,
preview, or ephemeral lifecycle, and executes the resulting plan as a
durable, resumable workflow.`,
		SilenceUsage:      true,
		PersistentPreRunE: setup,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagRoot, "root", "C", ".",
		"workspace root directory")
	rootCmd.PersistentFlags().StringVar(&flagConfigPath, "config", "",
		"config file (default <root>/"+config.DefaultPath+")")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "",
		"override the configured log level (debug, info, warn, error)")

	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(tagCmd)
	rootCmd.AddCommand(versionCmd)
}

// setup loads config and builds the logger before any command runs.
func setup(cmd *cobra.Command, args []string) error {
	var err error
	flagRoot, err = filepath.Abs(flagRoot)
	if err != nil {
		return fmt.Errorf("resolve workspace root: %w", err)
	}

	path := flagConfigPath
	if path == "" {
		path = filepath.Join(flagRoot, config.DefaultPath)
	}
	cfg, err = config.Load(path)
	if err != nil {
		return err
	}

	level := cfg.LogLevel
	if flagLogLevel != "" {
		level = flagLogLevel
	}
	logger, err = logging.New(logging.Config{
		Level:   logging.ParseLevel(level),
		Service: "harbormaster",
	})
	return err
}

// scanWorkspace loads the package set under the configured globs.
func scanWorkspace(ctx context.Context) ([]workspace.Package, error) {
	packages, err := workspace.Scan(ctx, flagRoot, cfg.Packages)
	if err != nil {
		return nil, err
	}
	logger.Debug("workspace scanned", "packages", len(packages))
	return packages, nil
}

// gitClient builds the git collaborator for the workspace root.
func gitClient() *gitcli.Client {
	return gitcli.New(flagRoot, cfg.Remote, logger.Logger)
}

// workspaceScopes extracts the scope set from a package list.
func workspaceScopes(packages []workspace.Package) []string {
	scopes := make([]string, len(packages))
	for i, p := range packages {
		scopes[i] = p.Scope
	}
	return scopes
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the harbormaster version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), buildVersion)
	},
}
