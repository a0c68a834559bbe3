// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package workflow

import (
	"sort"

	"github.com/AleutianAI/harbormaster/plan"
)

// Layer is a set of activities with no dependency on each other,
// grouped for progress display.
type Layer struct {
	// Activity is the chain step shared by the layer.
	Activity ActivityKind `json:"activity"`

	// Keys are the activity keys in the layer, sorted.
	Keys []string `json:"keys"`
}

// Layers groups a plan's activities by chain step: all publishes,
// then all create-tags, and so on.
//
// # Description
//
// Layers exist purely for progress visualization. They are NOT a
// scheduling constraint — the executor only enforces the linear order
// within each package's chain, so a package may be pushing its tag
// while another is still publishing.
func Layers(p *plan.Plan) []Layer {
	items := p.Items()
	layers := make([]Layer, 0, len(ChainOrder))
	for _, kind := range ChainOrder {
		keys := make([]string, 0, len(items))
		for _, item := range items {
			keys = append(keys, ActivityKey(kind, item.Package()))
		}
		sort.Strings(keys)
		layers = append(layers, Layer{Activity: kind, Keys: keys})
	}
	return layers
}
