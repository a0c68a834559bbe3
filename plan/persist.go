// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package plan

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// PlanFormatVersion is the current plan file format version.
const PlanFormatVersion = "1.0.0"

// DefaultPath is the workspace-relative location of the plan file.
const DefaultPath = ".harbormaster/plan.json"

// Sentinel errors for plan persistence.
var (
	// ErrPlanVersionMismatch is returned when a plan file was written
	// by an incompatible format version.
	ErrPlanVersionMismatch = errors.New("plan format version mismatch")

	// ErrUnknownItemKind is returned when a plan file contains an
	// item kind outside the release sum.
	ErrUnknownItemKind = errors.New("unknown release item kind")
)

// itemEnvelope tags a release item with its concrete kind so the
// closed sum survives a JSON round trip.
type itemEnvelope struct {
	Kind string          `json:"kind"`
	Item json.RawMessage `json:"item"`
}

const (
	kindStable    = "stable"
	kindPreview   = "preview"
	kindEphemeral = "ephemeral"
)

func wrapItems(items []ReleaseItem) ([]itemEnvelope, error) {
	envelopes := make([]itemEnvelope, 0, len(items))
	for _, item := range items {
		var kind string
		switch item.(type) {
		case StableRelease:
			kind = kindStable
		case PreviewRelease:
			kind = kindPreview
		case EphemeralRelease:
			kind = kindEphemeral
		default:
			return nil, fmt.Errorf("%w: %T", ErrUnknownItemKind, item)
		}
		raw, err := json.Marshal(item)
		if err != nil {
			return nil, fmt.Errorf("marshal %s item for %s: %w", kind, item.Package(), err)
		}
		envelopes = append(envelopes, itemEnvelope{Kind: kind, Item: raw})
	}
	return envelopes, nil
}

func unwrapItems(envelopes []itemEnvelope) ([]ReleaseItem, error) {
	items := make([]ReleaseItem, 0, len(envelopes))
	for _, env := range envelopes {
		var (
			item ReleaseItem
			err  error
		)
		switch env.Kind {
		case kindStable:
			var v StableRelease
			err = json.Unmarshal(env.Item, &v)
			item = v
		case kindPreview:
			var v PreviewRelease
			err = json.Unmarshal(env.Item, &v)
			item = v
		case kindEphemeral:
			var v EphemeralRelease
			err = json.Unmarshal(env.Item, &v)
			item = v
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownItemKind, env.Kind)
		}
		if err != nil {
			return nil, fmt.Errorf("unmarshal %s item: %w", env.Kind, err)
		}
		items = append(items, item)
	}
	return items, nil
}

// planFile is the on-disk representation of a Plan.
type planFile struct {
	FormatVersion string         `json:"format_version"`
	Lifecycle     Lifecycle      `json:"lifecycle"`
	CreatedAt     time.Time      `json:"created_at"`
	HeadSHA       string         `json:"head_sha,omitempty"`
	Releases      []itemEnvelope `json:"releases"`
	Cascades      []itemEnvelope `json:"cascades"`
}

// MarshalJSON implements json.Marshaler for Plan.
func (p *Plan) MarshalJSON() ([]byte, error) {
	releases, err := wrapItems(p.Releases)
	if err != nil {
		return nil, err
	}
	cascades, err := wrapItems(p.Cascades)
	if err != nil {
		return nil, err
	}
	return json.Marshal(planFile{
		FormatVersion: p.FormatVersion,
		Lifecycle:     p.Lifecycle,
		CreatedAt:     p.CreatedAt,
		HeadSHA:       p.HeadSHA,
		Releases:      releases,
		Cascades:      cascades,
	})
}

// UnmarshalJSON implements json.Unmarshaler for Plan.
func (p *Plan) UnmarshalJSON(data []byte) error {
	var file planFile
	if err := json.Unmarshal(data, &file); err != nil {
		return err
	}
	releases, err := unwrapItems(file.Releases)
	if err != nil {
		return err
	}
	cascades, err := unwrapItems(file.Cascades)
	if err != nil {
		return err
	}

	p.FormatVersion = file.FormatVersion
	p.Lifecycle = file.Lifecycle
	p.CreatedAt = file.CreatedAt
	p.HeadSHA = file.HeadSHA
	p.Releases = releases
	p.Cascades = cascades
	return nil
}

// Save writes the plan atomically (temp file + rename), creating the
// parent directory when missing.
func Save(p *Plan, path string) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("create plan directory: %w", err)
	}

	tempFile, err := os.CreateTemp(dir, ".plan-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tempPath := tempFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tempPath)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		tempFile.Close()
		return fmt.Errorf("write plan: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		tempFile.Close()
		return fmt.Errorf("sync plan: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close plan: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("rename plan: %w", err)
	}

	success = true
	return nil
}

// Load reads a plan file and verifies its format version.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}

	var p Plan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshal plan: %w", err)
	}
	if p.FormatVersion != PlanFormatVersion {
		return nil, fmt.Errorf("%w: got %s, want %s", ErrPlanVersionMismatch, p.FormatVersion, PlanFormatVersion)
	}
	return &p, nil
}
