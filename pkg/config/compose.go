package config

import (
	"context"
	"fmt"

	"github.com/reeceomahoney/locodiff/pkg/config/provider"
)

// composeDefaults applies the defaults list of a config document.
//
// A top-level "defaults" sequence names preset sub-documents to merge before
// the document's own keys:
//
//	defaults:
//	  - model: unet
//
// merges "model/unet.yaml" (resolved through the provider, relative to the
// main config) under the "model" key. Later entries override earlier ones,
// and the main document's own keys override everything.
func composeDefaults(ctx context.Context, raw map[string]any, p provider.Provider) (map[string]any, error) {
	defaultsVal, ok := raw["defaults"]
	if !ok {
		return raw, nil
	}

	entries, ok := defaultsVal.([]any)
	if !ok {
		return nil, fmt.Errorf("defaults must be a sequence of \"group: name\" entries")
	}

	composed := make(map[string]any)
	for i, e := range entries {
		entry, ok := e.(map[string]any)
		if !ok || len(entry) != 1 {
			return nil, fmt.Errorf("defaults entry %d must be a single \"group: name\" mapping", i)
		}

		for group, nameVal := range entry {
			name, ok := nameVal.(string)
			if !ok {
				return nil, fmt.Errorf("defaults entry %d: preset name for group %q must be a string", i, group)
			}

			ref := group + "/" + name + ".yaml"
			data, err := p.LoadRef(ctx, ref)
			if err != nil {
				return nil, fmt.Errorf("unknown preset %s=%s: %w", group, name, err)
			}

			sub, err := parseBytes(data)
			if err != nil {
				return nil, fmt.Errorf("failed to parse preset %s: %w", ref, err)
			}

			composed = deepMerge(composed, map[string]any{group: sub})
		}
	}

	// The main document's own keys win over every preset.
	main := make(map[string]any, len(raw))
	for k, v := range raw {
		if k != "defaults" {
			main[k] = v
		}
	}

	return deepMerge(composed, main), nil
}

// deepMerge overlays src onto dst, merging nested maps key by key. Scalars
// and sequences in src replace dst values wholesale.
func deepMerge(dst, src map[string]any) map[string]any {
	out := make(map[string]any, len(dst)+len(src))
	for k, v := range dst {
		out[k] = v
	}
	for k, v := range src {
		if sv, ok := v.(map[string]any); ok {
			if dv, ok := out[k].(map[string]any); ok {
				out[k] = deepMerge(dv, sv)
				continue
			}
		}
		out[k] = v
	}
	return out
}
