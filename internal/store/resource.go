package store

import (
	"strings"

	"github.com/google/uuid"
)

// Resource is a stored API object. Every resource carries at least id,
// object, created, livemode and metadata; the remaining fields are
// resource-specific. Entities reference each other by id strings only, so
// stored records are always cycle-free.
type Resource map[string]any

// ID returns the resource id or "".
func (r Resource) ID() string {
	id, _ := r["id"].(string)
	return id
}

// Object returns the resource type tag or "".
func (r Resource) Object() string {
	obj, _ := r["object"].(string)
	return obj
}

// Created returns the creation timestamp in virtual seconds.
func (r Resource) Created() int64 {
	return Int64(r["created"])
}

// GetString returns a string field or "".
func (r Resource) GetString(key string) string {
	s, _ := r[key].(string)
	return s
}

// GetInt64 returns a numeric field coerced to int64.
func (r Resource) GetInt64(key string) int64 {
	return Int64(r[key])
}

// Bool returns a boolean field coerced from form strings and JSON booleans.
func (r Resource) Bool(key string) bool {
	return Bool(r[key])
}

// Clone makes a deep copy so callers can never mutate stored state through
// a returned snapshot.
func (r Resource) Clone() Resource {
	if r == nil {
		return nil
	}
	return cloneValue(r).(Resource)
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case Resource:
		out := make(Resource, len(val))
		for k, item := range val {
			out[k] = cloneValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = cloneValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

// Int64 coerces form strings and JSON numbers to int64. Unparseable values
// yield zero; structural validation happens before this point.
func Int64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case string:
		var out int64
		neg := false
		s := n
		if strings.HasPrefix(s, "-") {
			neg = true
			s = s[1:]
		}
		for _, c := range s {
			if c < '0' || c > '9' {
				return 0
			}
			out = out*10 + int64(c-'0')
		}
		if neg {
			return -out
		}
		return out
	default:
		return 0
	}
}

// Bool coerces form strings and JSON booleans.
func Bool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return b == "true"
	default:
		return false
	}
}

// NewID generates a prefixed identifier: the resource prefix, an underscore,
// and 16 lowercase hex characters drawn from a random 128-bit value.
func NewID(prefix string) string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return prefix + "_" + raw[:16]
}

// Prefix extracts the id prefix before the first underscore, or "".
func Prefix(id string) string {
	i := strings.Index(id, "_")
	if i <= 0 {
		return ""
	}
	return id[:i]
}
