// Package hydrate performs read-time expansion of referenced ids into
// nested objects for declared expand[] paths.
package hydrate

import (
	"strings"

	"github.com/PaperTiger/server/internal/store"
)

// Hydrate returns a copy of the record with the referenced ids along each
// dotted path replaced by retrieved records. Ids whose prefix is unknown, or
// that do not resolve, are left as strings; already-expanded nested records
// are traversed through without re-fetching. Applying Hydrate twice equals
// applying it once.
func Hydrate(res store.Resource, paths []string, reg *store.Registry) store.Resource {
	if len(paths) == 0 || res == nil {
		return res
	}

	out := res.Clone()
	for _, path := range paths {
		segs := strings.Split(path, ".")
		expandPath(map[string]any(out), segs, reg)
	}
	return out
}

// expandPath descends one dotted path, expanding string ids as it goes.
func expandPath(node map[string]any, segs []string, reg *store.Registry) {
	if len(segs) == 0 {
		return
	}

	key := segs[0]
	val, ok := node[key]
	if !ok {
		return
	}

	switch v := val.(type) {
	case string:
		rec, found := reg.Lookup(v)
		if !found {
			// unresolvable or unknown prefix: leave the remaining path alone
			return
		}
		expanded := map[string]any(rec)
		node[key] = expanded
		expandPath(expanded, segs[1:], reg)

	case store.Resource:
		expandPath(map[string]any(v), segs[1:], reg)

	case map[string]any:
		expandPath(v, segs[1:], reg)

	case []any:
		// expansion distributes over list elements (e.g. items.price paths)
		for i, item := range v {
			switch elem := item.(type) {
			case string:
				if rec, found := reg.Lookup(elem); found {
					expanded := map[string]any(rec)
					v[i] = expanded
					expandPath(expanded, segs[1:], reg)
				}
			case store.Resource:
				expandPath(map[string]any(elem), segs[1:], reg)
			case map[string]any:
				expandPath(elem, segs[1:], reg)
			}
		}
	}
}
