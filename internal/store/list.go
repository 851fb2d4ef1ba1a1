package store

import "sort"

const (
	// DefaultListLimit applies when the caller provides no limit.
	DefaultListLimit = 10
	// MaxListLimit caps the page size.
	MaxListLimit = 100
)

// ListOptions carries cursor pagination inputs. Limit of -1 (unset) becomes
// the default; an explicit 0 is honored and yields an empty page.
type ListOptions struct {
	Limit         int
	StartingAfter string
	EndingBefore  string
	Filter        func(Resource) bool
}

// Page is the wire shape of a list response.
type Page struct {
	Object  string     `json:"object"`
	Data    []Resource `json:"data"`
	HasMore bool       `json:"has_more"`
	URL     string     `json:"url"`
}

// List returns a page sorted by created descending, ties broken by id
// ascending for determinism. has_more is computed by probing for one item
// beyond the requested limit.
func (s *Store) List(opts ListOptions) Page {
	items := s.snapshot()

	if opts.Filter != nil {
		kept := items[:0]
		for _, res := range items {
			if opts.Filter(res) {
				kept = append(kept, res)
			}
		}
		items = kept
	}

	sort.Slice(items, func(i, j int) bool {
		ci, cj := items[i].Created(), items[j].Created()
		if ci != cj {
			return ci > cj
		}
		return items[i].ID() < items[j].ID()
	})

	limit := opts.Limit
	if limit < 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	// ending_before takes precedence over starting_after.
	if opts.EndingBefore != "" {
		cut := len(items)
		for i, res := range items {
			if res.ID() == opts.EndingBefore {
				cut = i
				break
			}
		}
		items = items[:cut]
		// limit applies to the suffix closest to the cursor
		hasMore := len(items) > limit
		if hasMore {
			items = items[len(items)-limit:]
		}
		if items == nil {
			items = []Resource{}
		}
		return Page{
			Object:  "list",
			Data:    items,
			HasMore: hasMore,
			URL:     "/v1/" + s.table,
		}
	}

	if opts.StartingAfter != "" {
		start := len(items)
		for i, res := range items {
			if res.ID() == opts.StartingAfter {
				start = i + 1
				break
			}
		}
		items = items[start:]
	}

	hasMore := len(items) > limit
	if hasMore {
		items = items[:limit]
	}
	if items == nil {
		items = []Resource{}
	}
	return Page{
		Object:  "list",
		Data:    items,
		HasMore: hasMore,
		URL:     "/v1/" + s.table,
	}
}
