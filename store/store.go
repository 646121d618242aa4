package store

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jacentio/arbor/internal/shard"
	"github.com/jacentio/arbor/paginate"
	"github.com/jacentio/arbor/schema"
)

// partitionFanOut bounds concurrent partition queries per children read.
const partitionFanOut = 16

// Store is the entity repository: worlds, entities, lifecycle and cascades
// over a partitioned document Backend.
type Store struct {
	backend  Backend
	governor *schema.Governor
	config   Config
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

// Option customizes a Store.
type Option func(*Store)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock sets the time source used for timestamps and retention checks.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator sets the generator for world and entity ids.
func WithIDGenerator(newID func() string) Option {
	return func(s *Store) {
		if newID != nil {
			s.newID = newID
		}
	}
}

// New creates a new Store instance.
func New(backend Backend, governor *schema.Governor, config Config, opts ...Option) *Store {
	config.validate()
	s := &Store{
		backend:  backend,
		governor: governor,
		config:   config,
		logger:   slog.Default(),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the validated configuration.
func (s *Store) Config() Config {
	return s.config
}

// Governor returns the schema version governor.
func (s *Store) Governor() *schema.Governor {
	return s.governor
}

func (s *Store) clock() time.Time {
	return s.now().UTC()
}

func (s *Store) entityKey(worldID, parentID, id string) Key {
	return shard.LocalityKey(worldID, parentID, id, s.config.NumShards)
}

// loadWorld reads worldID in any lifecycle state and checks that caller owns it.
func (s *Store) loadWorld(ctx context.Context, op, caller, worldID string) (*Document, error) {
	if worldID == "" {
		return nil, ErrNotFound
	}
	doc, err := s.get(ctx, op, shard.WorldKey(worldID))
	if errors.Is(err, ErrNoDocument) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if doc.Kind != KindWorld {
		return nil, ErrNotFound
	}
	if doc.OwnerID != caller {
		return nil, ErrUnauthorized
	}
	return doc, nil
}

// authorize loads worldID, checks that caller owns it and that it is visible under opts.
func (s *Store) authorize(ctx context.Context, op, caller, worldID string, opts ReadOptions) (*Document, error) {
	doc, err := s.loadWorld(ctx, op, caller, worldID)
	if err != nil {
		return nil, err
	}
	if !Visible(doc, s.clock(), opts) {
		return nil, ErrNotFound
	}
	return doc, nil
}

// loadRaw reads an entity by its full locality in any lifecycle state.
func (s *Store) loadRaw(ctx context.Context, op, worldID, parentID, id string) (*Document, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	doc, err := s.get(ctx, op, s.entityKey(worldID, parentID, id))
	if errors.Is(err, ErrNoDocument) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if doc.Kind != KindEntity || doc.WorldID != worldID || doc.ID != id {
		return nil, ErrNotFound
	}
	return doc, nil
}

// loadEntity reads an entity by its full locality, hiding it unless visible under opts.
func (s *Store) loadEntity(ctx context.Context, op, worldID, parentID, id string, opts ReadOptions) (*Document, error) {
	doc, err := s.loadRaw(ctx, op, worldID, parentID, id)
	if err != nil {
		return nil, err
	}
	if !Visible(doc, s.clock(), opts) {
		return nil, ErrNotFound
	}
	return doc, nil
}

// locateEntity reads an entity knowing only its id.
func (s *Store) locateEntity(ctx context.Context, op, worldID, id string, opts ReadOptions) (*Document, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	parentID, err := s.locate(ctx, op, worldID, id)
	if errors.Is(err, ErrNoDocument) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.loadEntity(ctx, op, worldID, parentID, id, opts)
}

// activeParent resolves the parent of a new or moved entity. An empty
// parentID is the world root and yields nil.
func (s *Store) activeParent(ctx context.Context, op, worldID, parentID string) (*Document, error) {
	if parentID == "" {
		return nil, nil
	}
	parent, err := s.locateEntity(ctx, op, worldID, parentID, ReadOptions{})
	if errors.Is(err, ErrNotFound) {
		return nil, ErrParentNotFound
	}
	return parent, err
}

// placement is the tree position derived from a parent.
type placement struct {
	depth int
	path  []string
}

func placeUnder(parent *Document, name string) placement {
	if parent == nil {
		return placement{depth: 0, path: []string{name}}
	}
	return placement{
		depth: parent.Depth + 1,
		path:  append(slices.Clone(parent.Path), name),
	}
}

func (p placement) matches(d *Document) bool {
	return d.Depth == p.depth && slices.Equal(d.Path, p.path)
}

func (p placement) apply(d *Document) {
	d.Depth = p.depth
	d.Path = slices.Clone(p.path)
}

// fetchChildren returns a Fetch over the children of parentID, merging every
// shard partition into one (SortName) order.
func (s *Store) fetchChildren(op, worldID, parentID string, includeDeleted bool) paginate.Fetch[*Document] {
	parts := shard.Partitions(shard.ParentRef(worldID, parentID), s.config.NumShards)
	return func(ctx context.Context, after string, limit int) ([]*Document, error) {
		now := s.clock()
		if len(parts) == 1 {
			return s.queryPartition(ctx, op, PartitionQuery{
				PK: parts[0], After: after, Limit: limit, IncludeDeleted: includeDeleted, Now: now,
			})
		}

		results := make([][]*Document, len(parts))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(partitionFanOut)
		for i, pk := range parts {
			g.Go(func() error {
				docs, err := s.queryPartition(gctx, op, PartitionQuery{
					PK: pk, After: after, Limit: limit, IncludeDeleted: includeDeleted, Now: now,
				})
				results[i] = docs
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		merged := slices.Concat(results...)
		slices.SortFunc(merged, func(a, b *Document) int {
			return strings.Compare(a.SortName, b.SortName)
		})
		if len(merged) > limit {
			merged = merged[:limit]
		}
		return merged, nil
	}
}

func sortNameOf(d *Document) string {
	return d.SortName
}

// eachChild calls fn for every child of parentID, reading one page at a time
// so children created or deleted during the walk are observed.
func (s *Store) eachChild(ctx context.Context, op, worldID, parentID string, includeDeleted bool, fn func(*Document) error) error {
	fetch := s.fetchChildren(op, worldID, parentID, includeDeleted)
	after := ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		docs, err := fetch(ctx, after, s.config.Page.MaxSize)
		if err != nil {
			return err
		}
		for _, d := range docs {
			if err := fn(d); err != nil {
				return err
			}
		}
		if len(docs) < s.config.Page.MaxSize {
			return nil
		}
		after = docs[len(docs)-1].SortName
	}
}

// countActiveChildren sums the active children over every partition.
func (s *Store) countActiveChildren(ctx context.Context, op, worldID, parentID string) (int, error) {
	parts := shard.Partitions(shard.ParentRef(worldID, parentID), s.config.NumShards)
	counts := make([]int, len(parts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(partitionFanOut)
	for i, pk := range parts {
		g.Go(func() error {
			n, err := s.countPartition(gctx, op, pk)
			counts[i] = n
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	return total, nil
}
