// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package workspace scans a multi-package repository for its package
// manifests and their declared intra-workspace dependencies.
//
// # Description
//
// A workspace is a set of directories matched by configured globs, each
// containing an npm-style package.json. The manifest name is the
// package's scope (its identity). Dependencies are filtered down to
// names that exist inside the workspace; external dependencies play no
// role in release analysis.
//
// Packages are read-only after the scan.
package workspace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// ErrNoPackages is returned when a scan matches no manifests.
var ErrNoPackages = errors.New("no package manifests found")

// Package is one workspace member.
type Package struct {
	// Scope is the manifest name and the package's unique identity.
	Scope string `json:"scope"`

	// Dir is the package directory relative to the workspace root.
	Dir string `json:"dir"`

	// Private marks packages that are never published.
	Private bool `json:"private,omitempty"`

	// Dependencies are the scopes of workspace members this package
	// depends on (regular, dev and peer dependencies combined).
	Dependencies []string `json:"dependencies,omitempty"`
}

// manifest is the subset of package.json the scanner reads.
type manifest struct {
	Name             string            `json:"name"`
	Private          bool              `json:"private"`
	Dependencies     map[string]string `json:"dependencies"`
	DevDependencies  map[string]string `json:"devDependencies"`
	PeerDependencies map[string]string `json:"peerDependencies"`
}

// Scan reads every package manifest matched by the workspace globs.
//
// Inputs:
//
//	ctx - Context for cancellation, checked between manifests.
//	root - Workspace root directory.
//	globs - Directory globs relative to root (e.g. "packages/*").
//
// Outputs:
//
//	[]Package - Workspace members sorted by scope. Dependencies are
//	  already filtered to intra-workspace names; self-references are
//	  dropped so the dependency graph never contains self-loops.
//	error - ErrNoPackages when nothing matches, or the first manifest
//	  read/decode failure.
func Scan(ctx context.Context, root string, globs []string) ([]Package, error) {
	type entry struct {
		pkg  Package
		deps map[string]string
	}

	var entries []entry
	seen := make(map[string]string) // scope -> dir, for duplicate detection

	for _, glob := range globs {
		matches, err := filepath.Glob(filepath.Join(root, glob))
		if err != nil {
			return nil, fmt.Errorf("bad workspace glob %q: %w", glob, err)
		}
		for _, dir := range matches {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			manifestPath := filepath.Join(dir, "package.json")
			data, err := os.ReadFile(manifestPath)
			if err != nil {
				if os.IsNotExist(err) {
					continue
				}
				return nil, fmt.Errorf("reading %s: %w", manifestPath, err)
			}

			var m manifest
			if err := json.Unmarshal(data, &m); err != nil {
				return nil, fmt.Errorf("parsing %s: %w", manifestPath, err)
			}
			if m.Name == "" {
				return nil, fmt.Errorf("%s: manifest has no name", manifestPath)
			}
			if prev, dup := seen[m.Name]; dup {
				return nil, fmt.Errorf("duplicate package %q in %s and %s", m.Name, prev, dir)
			}

			rel, err := filepath.Rel(root, dir)
			if err != nil {
				rel = dir
			}
			seen[m.Name] = rel

			deps := make(map[string]string, len(m.Dependencies)+len(m.DevDependencies)+len(m.PeerDependencies))
			for _, src := range []map[string]string{m.Dependencies, m.DevDependencies, m.PeerDependencies} {
				for name, constraint := range src {
					deps[name] = constraint
				}
			}

			entries = append(entries, entry{
				pkg:  Package{Scope: m.Name, Dir: rel, Private: m.Private},
				deps: deps,
			})
		}
	}

	if len(entries) == 0 {
		return nil, ErrNoPackages
	}

	// Second pass: keep only intra-workspace dependencies.
	packages := make([]Package, 0, len(entries))
	for _, e := range entries {
		for name := range e.deps {
			if name == e.pkg.Scope {
				continue
			}
			if _, inWorkspace := seen[name]; inWorkspace {
				e.pkg.Dependencies = append(e.pkg.Dependencies, name)
			}
		}
		sort.Strings(e.pkg.Dependencies)
		packages = append(packages, e.pkg)
	}

	sort.Slice(packages, func(i, j int) bool { return packages[i].Scope < packages[j].Scope })
	return packages, nil
}
