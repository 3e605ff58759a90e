package config

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

// maxInterpolationDepth caps chained reference resolution.
const maxInterpolationDepth = 16

// nowPrefix marks time-templating references, e.g. ${now:2006-01-02_15-04-05}.
const nowPrefix = "now:"

var interpolationPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// interpolator resolves ${dotted.path} references against a composed config
// tree and formats ${now:<layout>} stamps with the load time. Environment
// references are expanded before this stage, so any remaining ${...} is a
// config reference.
type interpolator struct {
	root      map[string]any
	now       time.Time
	resolving map[string]bool
	errs      map[string]string
}

// interpolate resolves every ${...} reference in the tree. Failures are
// collected and reported in a single error listing each bad reference.
func interpolate(root map[string]any, now time.Time) (map[string]any, error) {
	it := &interpolator{
		root:      root,
		now:       now,
		resolving: make(map[string]bool),
		errs:      make(map[string]string),
	}

	resolved, _ := it.resolveValue(root, 0).(map[string]any)

	if len(it.errs) > 0 {
		msgs := make([]string, 0, len(it.errs))
		for ref, reason := range it.errs {
			msgs = append(msgs, fmt.Sprintf("${%s} (%s)", ref, reason))
		}
		sort.Strings(msgs)
		return nil, fmt.Errorf("unresolved config references: %s", strings.Join(msgs, ", "))
	}

	return resolved, nil
}

func (it *interpolator) resolveValue(v any, depth int) any {
	switch val := v.(type) {
	case string:
		return it.resolveString(val, depth)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = it.resolveValue(item, depth)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = it.resolveValue(item, depth)
		}
		return out
	default:
		return v
	}
}

func (it *interpolator) resolveString(s string, depth int) any {
	if !strings.Contains(s, "${") {
		return s
	}

	// A string that is exactly one reference takes the referent's type.
	if m := interpolationPattern.FindStringSubmatchIndex(s); m != nil && m[0] == 0 && m[1] == len(s) {
		v, ok := it.resolveRef(s[m[2]:m[3]], depth)
		if !ok {
			return s
		}
		return v
	}

	// Embedded references stringify.
	return interpolationPattern.ReplaceAllStringFunc(s, func(match string) string {
		ref := match[2 : len(match)-1]
		v, ok := it.resolveRef(ref, depth)
		if !ok {
			return match
		}
		switch v.(type) {
		case map[string]any, []any:
			it.fail(ref, "non-scalar value cannot be embedded in a string")
			return match
		}
		return fmt.Sprintf("%v", v)
	})
}

func (it *interpolator) resolveRef(ref string, depth int) (any, bool) {
	if layout, ok := strings.CutPrefix(ref, nowPrefix); ok {
		return it.now.Format(layout), true
	}

	if depth >= maxInterpolationDepth {
		it.fail(ref, "reference chain too deep")
		return nil, false
	}
	if it.resolving[ref] {
		it.fail(ref, "circular reference")
		return nil, false
	}

	v, ok := lookupPath(it.root, ref)
	if !ok {
		it.fail(ref, "no such key")
		return nil, false
	}

	// Referents may themselves contain references.
	it.resolving[ref] = true
	resolved := it.resolveValue(v, depth+1)
	delete(it.resolving, ref)

	return resolved, true
}

func (it *interpolator) fail(ref, reason string) {
	if _, ok := it.errs[ref]; !ok {
		it.errs[ref] = reason
	}
}

// lookupPath walks a dotted path through nested maps.
func lookupPath(root map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = root
	for _, part := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
