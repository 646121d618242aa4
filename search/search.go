// Package search filters and sorts the entities of a world.
//
// Searcher is the contract callers depend on. Facade is the default
// implementation: it scans the world through the repository and matches in
// memory, which suits worlds of moderate size. A ranked or external index can
// implement Searcher without changing call sites.
package search

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"github.com/samber/oops"

	"github.com/jacentio/arbor/internal/shard"
	"github.com/jacentio/arbor/paginate"
	"github.com/jacentio/arbor/store"
)

// Field selects the sort key.
type Field string

const (
	ByName       Field = "name"
	ByCreatedAt  Field = "createdAt"
	ByModifiedAt Field = "modifiedAt"
)

// Sort orders results. Ties are broken by ascending id.
type Sort struct {
	Field      Field
	Descending bool
}

// ParseSort parses "name", "-createdAt" and the like. A leading '-' sorts
// descending. The empty string sorts by name.
func ParseSort(s string) (Sort, error) {
	var out Sort
	if rest, ok := strings.CutPrefix(s, "-"); ok {
		out.Descending = true
		s = rest
	}
	out.Field = Field(s)
	if out.Field == "" {
		out.Field = ByName
	}
	if err := out.validate(); err != nil {
		return Sort{}, err
	}
	return out, nil
}

func (s Sort) validate() error {
	switch s.Field {
	case ByName, ByCreatedAt, ByModifiedAt:
		return nil
	}
	return oops.Code(store.CodeInvalidInput).
		With("sort", string(s.Field)).
		Wrap(fmt.Errorf("%w: unknown sort field %q", store.ErrInvalidInput, s.Field))
}

func (s Sort) String() string {
	if s.Descending {
		return "-" + string(s.Field)
	}
	return string(s.Field)
}

// Filters narrow a search.
type Filters struct {
	// EntityType keeps only entities of this type.
	EntityType string

	// Tags are glob patterns (e.g. "region:*"). Every pattern must match at
	// least one tag of the entity. Matching is case-insensitive. The
	// metacharacters are * ? [ ] { } and \, which escapes the next one.
	Tags []string

	// LiteralTags matches Tags verbatim, metacharacters included.
	LiteralTags bool
}

// Query describes one search.
type Query struct {
	WorldID string

	// Term is matched as a case-insensitive substring of the name, the
	// description and the tags. Empty matches everything.
	Term string

	Filters Filters
	Sort    Sort
}

// Searcher finds entities of a world.
type Searcher interface {
	Search(ctx context.Context, caller string, q Query, req paginate.Request) (paginate.Page[*store.Entity], error)
}

// Scanner streams every visible entity of a world. *store.Store implements it.
type Scanner interface {
	Scan(ctx context.Context, caller, worldID string, opts store.ReadOptions) iter.Seq2[*store.Entity, error]
}

// Facade is the default Searcher, matching over a full world scan.
type Facade struct {
	scanner Scanner
	limits  paginate.Limits
	logger  *slog.Logger
}

var _ Searcher = (*Facade)(nil)

// New creates a Facade over scanner. A nil logger uses slog.Default().
func New(scanner Scanner, limits paginate.Limits, logger *slog.Logger) *Facade {
	if logger == nil {
		logger = slog.Default()
	}
	return &Facade{scanner: scanner, limits: limits, logger: logger}
}

// Search implements Searcher.
func (f *Facade) Search(ctx context.Context, caller string, q Query, req paginate.Request) (paginate.Page[*store.Entity], error) {
	if q.Sort.Field == "" {
		q.Sort.Field = ByName
	}
	if err := q.Sort.validate(); err != nil {
		return paginate.Page[*store.Entity]{}, err
	}
	m, err := newMatcher(q)
	if err != nil {
		return paginate.Page[*store.Entity]{}, err
	}

	fingerprint := paginate.Fingerprint("search", q.WorldID, m.term, q.Filters.EntityType,
		strings.Join(m.tagPatterns, "\x1f"), q.Sort.String())

	fetch := func(ctx context.Context, after string, limit int) ([]*store.Entity, error) {
		var matches []*store.Entity
		scanned := 0
		for e, err := range f.scanner.Scan(ctx, caller, q.WorldID, store.ReadOptions{}) {
			if err != nil {
				return nil, err
			}
			scanned++
			if m.match(e) {
				matches = append(matches, e)
			}
		}

		cmp := q.Sort.compare
		slices.SortFunc(matches, func(a, b *store.Entity) int {
			return cmp(q.Sort.key(a), q.Sort.key(b))
		})
		start := 0
		if after != "" {
			start = len(matches)
			for i, e := range matches {
				if cmp(q.Sort.key(e), after) > 0 {
					start = i
					break
				}
			}
		}
		matches = matches[start:]
		if len(matches) > limit {
			matches = matches[:limit]
		}

		f.logger.DebugContext(ctx, "search scanned world",
			"worldID", q.WorldID,
			"scanned", scanned,
			"returned", len(matches),
		)
		return matches, nil
	}

	page, err := paginate.Paginate(ctx, fingerprint, req, f.limits, fetch, q.Sort.key)
	if err != nil {
		return page, oops.Code(store.Code(err)).With("world_id", q.WorldID).Wrap(err)
	}
	return page, nil
}

// key renders the sort position of e as "<primary>\x1f<id>". Names cannot
// contain control characters, so the separator is unambiguous.
func (s Sort) key(e *store.Entity) string {
	var primary string
	switch s.Field {
	case ByCreatedAt:
		primary = timeKey(e.CreatedAt)
	case ByModifiedAt:
		primary = timeKey(e.ModifiedAt)
	default:
		primary = shard.Fold(e.Name)
	}
	return primary + "\x1f" + e.ID
}

// timeKey is fixed width so that byte order is chronological.
func timeKey(t time.Time) string {
	return t.UTC().Format("20060102150405.000000000")
}

// compare orders two keys produced by key.
func (s Sort) compare(a, b string) int {
	ap, aid, _ := strings.Cut(a, "\x1f")
	bp, bid, _ := strings.Cut(b, "\x1f")
	c := strings.Compare(ap, bp)
	if s.Descending {
		c = -c
	}
	if c != 0 {
		return c
	}
	return strings.Compare(aid, bid)
}

type matcher struct {
	term        string
	entityType  string
	tagPatterns []string
	tags        []glob.Glob
}

func newMatcher(q Query) (*matcher, error) {
	m := &matcher{
		term:       shard.Fold(strings.TrimSpace(q.Term)),
		entityType: q.Filters.EntityType,
	}
	for _, p := range q.Filters.Tags {
		p = shard.Fold(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if q.Filters.LiteralTags {
			p = glob.QuoteMeta(p)
		}
		g, err := glob.Compile(p)
		if err != nil {
			return nil, oops.Code(store.CodeInvalidInput).
				With("tag_pattern", p).
				Wrap(fmt.Errorf("%w: tag pattern %q: %v", store.ErrInvalidInput, p, err))
		}
		m.tagPatterns = append(m.tagPatterns, p)
		m.tags = append(m.tags, g)
	}
	return m, nil
}

func (m *matcher) match(e *store.Entity) bool {
	if m.entityType != "" && e.EntityType != m.entityType {
		return false
	}
	tags := make([]string, len(e.Tags))
	for i, t := range e.Tags {
		tags[i] = shard.Fold(t)
	}
	for _, g := range m.tags {
		if !slices.ContainsFunc(tags, g.Match) {
			return false
		}
	}
	if m.term == "" {
		return true
	}
	if strings.Contains(shard.Fold(e.Name), m.term) || strings.Contains(shard.Fold(e.Description), m.term) {
		return true
	}
	return slices.ContainsFunc(tags, func(t string) bool { return strings.Contains(t, m.term) })
}
