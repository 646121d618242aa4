package paginate

import (
	"context"
)

// Limits bounds page sizes.
type Limits struct {
	// DefaultSize applies when a request leaves the size unset.
	// Default: 25
	DefaultSize int

	// MaxSize caps every request.
	// Default: 100
	MaxSize int
}

// DefaultLimits returns the default page limits.
func DefaultLimits() Limits {
	return Limits{DefaultSize: 25, MaxSize: 100}
}

// Clamp returns size bounded to [1, MaxSize], using DefaultSize when size <= 0.
func (l Limits) Clamp(size int) int {
	maxSize := l.MaxSize
	if maxSize < 1 {
		maxSize = DefaultLimits().MaxSize
	}
	if size <= 0 {
		size = l.DefaultSize
		if size <= 0 {
			size = DefaultLimits().DefaultSize
		}
	}
	if size > maxSize {
		size = maxSize
	}
	return size
}

// Request asks for one page.
type Request struct {
	// Size is the requested page size; zero selects the default.
	Size int

	// Cursor resumes a previous page; empty starts from the beginning.
	Cursor string
}

// Page is one page of results.
type Page[T any] struct {
	Items []T `json:"items"`

	// NextCursor resumes after the last item; empty on the final page.
	NextCursor string `json:"nextCursor,omitempty"`
}

// HasMore reports whether another page follows.
func (p Page[T]) HasMore() bool {
	return p.NextCursor != ""
}

// Fetch returns up to limit items whose sort key is strictly after after, in
// query order. An empty after starts from the first item.
type Fetch[T any] func(ctx context.Context, after string, limit int) ([]T, error)

// Paginate runs one page of the query identified by fingerprint.
// keyOf returns the sort key fetch understands for an item; keys must be
// unique and strictly increasing in query order.
func Paginate[T any](ctx context.Context, fingerprint string, req Request, limits Limits, fetch Fetch[T], keyOf func(T) string) (Page[T], error) {
	size := limits.Clamp(req.Size)

	var after string
	if req.Cursor != "" {
		var err error
		after, err = Decode(req.Cursor, fingerprint)
		if err != nil {
			return Page[T]{}, err
		}
	}

	// One extra item tells us whether another page exists.
	items, err := fetch(ctx, after, size+1)
	if err != nil {
		return Page[T]{}, err
	}

	page := Page[T]{Items: items}
	if len(items) > size {
		page.Items = items[:size]
		next, err := Encode(fingerprint, keyOf(page.Items[size-1]))
		if err != nil {
			return Page[T]{}, err
		}
		page.NextCursor = next
	}
	if page.Items == nil {
		page.Items = []T{}
	}
	return page, nil
}
