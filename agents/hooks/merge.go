/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package hooks

import "slices"

// Merge concatenates the matcher groups of configs per event, in argument
// order. The inputs are never modified and the result shares no slices with them.
func Merge(configs ...Config) Config {
	merged := Config{}
	for _, cfg := range configs {
		for ev, ms := range cfg {
			for _, m := range ms {
				m.Hooks = slices.Clone(m.Hooks)
				merged[ev] = append(merged[ev], m)
			}
		}
	}
	return merged
}
