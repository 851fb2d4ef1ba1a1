// Package param parses the bracketed form encoding used on the wire into
// nested parameter maps, and extracts expand[] paths for hydration.
package param

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

const (
	// MaxDepth caps bracket nesting.
	MaxDepth = 10
	// MaxIndex caps explicit array indices.
	MaxIndex = 1000
	// MaxParams caps the total number of parameters per request.
	MaxParams = 1000
)

// Error is a structural parse violation; it surfaces as HTTP 400.
type Error struct {
	Message string
	Param   string
}

func (e *Error) Error() string { return e.Message }

// arrayBuilder accumulates indexed and appended entries until finalize.
type arrayBuilder struct {
	byIndex  map[int]any
	appended []any
}

// Unflatten turns bracketed form keys into a nested parameter map:
//
//	k            -> {k: v}
//	k[sub]       -> {k: {sub: v}}
//	k[]          -> appends to a sequence under k
//	k[0], k[1]   -> {k: [v0, v1]} sorted by index
func Unflatten(values url.Values) (map[string]any, error) {
	total := 0
	for _, vs := range values {
		total += len(vs)
	}
	if total > MaxParams {
		return nil, &Error{Message: fmt.Sprintf("Too many parameters: %d exceeds the limit of %d.", total, MaxParams)}
	}

	root := make(map[string]any)

	// Deterministic insertion order keeps conflicts reproducible.
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		segs, err := splitKey(key)
		if err != nil {
			return nil, err
		}
		for _, value := range values[key] {
			if err := setPath(root, key, segs, value); err != nil {
				return nil, err
			}
		}
	}

	out, err := finalize(root)
	if err != nil {
		return nil, err
	}
	return out.(map[string]any), nil
}

// splitKey decomposes "a[b][0][]" into ["a", "b", "0", ""].
func splitKey(key string) ([]string, error) {
	open := strings.IndexByte(key, '[')
	if open < 0 {
		return []string{key}, nil
	}
	if open == 0 {
		return nil, &Error{Message: fmt.Sprintf("Invalid parameter name: '%s'.", key), Param: key}
	}

	segs := []string{key[:open]}
	rest := key[open:]
	for len(rest) > 0 {
		if rest[0] != '[' {
			return nil, &Error{Message: fmt.Sprintf("Invalid parameter name: '%s'.", key), Param: key}
		}
		close := strings.IndexByte(rest, ']')
		if close < 0 {
			return nil, &Error{Message: fmt.Sprintf("Unbalanced brackets in parameter name: '%s'.", key), Param: key}
		}
		segs = append(segs, rest[1:close])
		rest = rest[close+1:]
	}

	if len(segs) > MaxDepth {
		return nil, &Error{Message: fmt.Sprintf("Parameter '%s' exceeds the maximum nesting depth of %d.", key, MaxDepth), Param: key}
	}
	return segs, nil
}

// setPath descends the tree creating intermediate nodes as needed.
func setPath(root map[string]any, key string, segs []string, value string) error {
	var container any = root

	for i, seg := range segs {
		last := i == len(segs)-1

		switch node := container.(type) {
		case map[string]any:
			if last {
				if existing, ok := node[seg]; ok {
					if _, isLeaf := existing.(string); !isLeaf {
						return &Error{Message: fmt.Sprintf("Parameter '%s' is used as both a value and a container.", key), Param: key}
					}
				}
				node[seg] = value
				return nil
			}
			next, err := childFor(node[seg], segs[i+1], key)
			if err != nil {
				return err
			}
			node[seg] = next
			container = next

		case *arrayBuilder:
			if seg == "" {
				// append segment: only valid as the last segment
				if !last {
					return &Error{Message: fmt.Sprintf("Parameter '%s' nests under an append segment.", key), Param: key}
				}
				node.appended = append(node.appended, value)
				return nil
			}
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 {
				return &Error{Message: fmt.Sprintf("Parameter '%s' mixes array and map keys.", key), Param: key}
			}
			if idx > MaxIndex {
				return &Error{Message: fmt.Sprintf("Array index %d in parameter '%s' exceeds the limit of %d.", idx, key, MaxIndex), Param: key}
			}
			if last {
				node.byIndex[idx] = value
				return nil
			}
			next, err2 := childFor(node.byIndex[idx], segs[i+1], key)
			if err2 != nil {
				return err2
			}
			node.byIndex[idx] = next
			container = next

		default:
			return &Error{Message: fmt.Sprintf("Parameter '%s' is used as both a value and a container.", key), Param: key}
		}
	}
	return nil
}

// childFor returns the existing intermediate node or creates one matching
// the shape of the next segment (array for ""/integer, map otherwise).
func childFor(existing any, nextSeg, key string) (any, error) {
	wantArray := nextSeg == ""
	if !wantArray {
		if _, err := strconv.Atoi(nextSeg); err == nil {
			wantArray = true
		}
	}

	if existing == nil {
		if wantArray {
			return &arrayBuilder{byIndex: make(map[int]any)}, nil
		}
		return make(map[string]any), nil
	}

	switch existing.(type) {
	case map[string]any:
		if wantArray {
			return nil, &Error{Message: fmt.Sprintf("Parameter '%s' mixes array and map keys.", key), Param: key}
		}
		return existing, nil
	case *arrayBuilder:
		if !wantArray {
			return nil, &Error{Message: fmt.Sprintf("Parameter '%s' mixes array and map keys.", key), Param: key}
		}
		return existing, nil
	default:
		return nil, &Error{Message: fmt.Sprintf("Parameter '%s' is used as both a value and a container.", key), Param: key}
	}
}

// finalize converts arrayBuilders into plain slices sorted by index.
func finalize(node any) (any, error) {
	switch n := node.(type) {
	case map[string]any:
		for k, v := range n {
			done, err := finalize(v)
			if err != nil {
				return nil, err
			}
			n[k] = done
		}
		return n, nil
	case *arrayBuilder:
		indices := make([]int, 0, len(n.byIndex))
		for idx := range n.byIndex {
			indices = append(indices, idx)
		}
		sort.Ints(indices)

		out := make([]any, 0, len(n.byIndex)+len(n.appended))
		for _, idx := range indices {
			done, err := finalize(n.byIndex[idx])
			if err != nil {
				return nil, err
			}
			out = append(out, done)
		}
		for _, v := range n.appended {
			done, err := finalize(v)
			if err != nil {
				return nil, err
			}
			out = append(out, done)
		}
		return out, nil
	default:
		return node, nil
	}
}
