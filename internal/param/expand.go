package param

import "net/url"

// ExpandPaths collects hydration paths from repeated expand[] keys (or a
// singular expand key) in query values, e.g.
// ["customer", "customer.default_source"].
func ExpandPaths(values url.Values) []string {
	var paths []string
	for _, key := range []string{"expand[]", "expand"} {
		for _, v := range values[key] {
			if v != "" {
				paths = append(paths, v)
			}
		}
	}
	return paths
}

// ExpandFromParams extracts expand paths from an already-unflattened
// parameter map (form bodies parse expand[] into a slice; JSON bodies may
// carry either a string or an array).
func ExpandFromParams(params map[string]any) []string {
	raw, ok := params["expand"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []any:
		var paths []string
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				paths = append(paths, s)
			}
		}
		return paths
	default:
		return nil
	}
}
