package config

import "fmt"

// DeriveLoopDescriptors synthesizes one atmosphere-only descriptor per
// unique atmosphere URL across descriptors, named "loop:<display name>"
// (or "loop:<URL>" when the first entry seen for that URL has no
// display name), so a
// caller can expose individually toggleable ambient loops without the
// Config Store author having to hand-write a descriptor per sound.
// Grounded in the original prototype's AppStateInner::
// generate_virtual_loop_configs (SPEC_FULL §3.1); purely a config-layer
// transform, not an engine concern.
func DeriveLoopDescriptors(descriptors []Descriptor) []Descriptor {
	seen := map[string]MixEntry{}
	order := make([]string, 0)
	for _, d := range descriptors {
		for _, m := range d.Atmosphere {
			if _, ok := seen[m.URL]; ok {
				continue
			}
			seen[m.URL] = m
			order = append(order, m.URL)
		}
	}

	out := make([]Descriptor, 0, len(order))
	for _, url := range order {
		m := seen[url]
		name := m.DisplayName
		if name == "" {
			name = url
		}
		out = append(out, Descriptor{
			Name:     fmt.Sprintf("loop:%s", name),
			Category: "loop",
			Atmosphere: []MixEntry{{
				URL:    url,
				Volume: m.Volume,
			}},
		})
	}
	return out
}
