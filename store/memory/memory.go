// Package memory provides an in-process store.Backend.
//
// It honours the same conditions, ordering and visibility rules as the
// DynamoDB backend and is used for tests and for embedding the store in a
// single process. Expire stands in for the TTL sweep of a real table.
package memory

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/jacentio/arbor/internal/shard"
	"github.com/jacentio/arbor/store"
)

// Fault lets tests fail a backend call. A non-nil return is returned from
// the call instead of performing it.
type Fault func(op string, key store.Key) error

// Backend is a concurrency-safe in-memory store.Backend.
type Backend struct {
	mu         sync.RWMutex
	partitions map[string]map[string]*store.Document // pk -> sk -> doc
	locators   map[store.Key]string                  // locator key -> parent id
	fault      Fault
}

var _ store.Backend = (*Backend)(nil)

// New creates an empty Backend.
func New() *Backend {
	return &Backend{
		partitions: make(map[string]map[string]*store.Document),
		locators:   make(map[store.Key]string),
	}
}

// SetFault installs f for subsequent calls; nil removes it.
func (b *Backend) SetFault(f Fault) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fault = f
}

func (b *Backend) check(op string, key store.Key) error {
	if b.fault == nil {
		return nil
	}
	return b.fault(op, key)
}

func (b *Backend) lookup(key store.Key) *store.Document {
	return b.partitions[key.PK][key.SK]
}

func (b *Backend) store(doc *store.Document) {
	p, ok := b.partitions[doc.Key.PK]
	if !ok {
		p = make(map[string]*store.Document)
		b.partitions[doc.Key.PK] = p
	}
	p[doc.Key.SK] = doc.Clone()
}

func (b *Backend) remove(key store.Key) {
	p := b.partitions[key.PK]
	delete(p, key.SK)
	if len(p) == 0 {
		delete(b.partitions, key.PK)
	}
}

func (b *Backend) checkParent(parent *store.Key) error {
	if parent == nil {
		return nil
	}
	p := b.lookup(*parent)
	if p == nil || p.IsDeleted {
		return store.ErrParentNotFound
	}
	return nil
}

func (b *Backend) checkAncestors(guards []store.Guard) error {
	for _, g := range guards {
		d := b.lookup(g.Key)
		if d == nil || d.Version != g.Version {
			return store.ErrConditionFailed
		}
	}
	return nil
}

// Get implements store.Backend.
func (b *Backend) Get(_ context.Context, key store.Key) (*store.Document, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.check("get", key); err != nil {
		return nil, err
	}
	doc := b.lookup(key)
	if doc == nil {
		return nil, store.ErrNoDocument
	}
	return doc.Clone(), nil
}

// Put implements store.Backend.
func (b *Backend) Put(_ context.Context, doc *store.Document, cond store.Condition) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.check("put", doc.Key); err != nil {
		return err
	}
	if err := b.checkParent(cond.Parent); err != nil {
		return err
	}
	if err := b.checkAncestors(cond.Ancestors); err != nil {
		return err
	}
	existing := b.lookup(doc.Key)
	if cond.MustNotExist {
		if existing != nil {
			return store.ErrConditionFailed
		}
	} else if existing == nil || existing.Version != cond.Version {
		return store.ErrConditionFailed
	}
	b.store(doc)
	if cond.MustNotExist && doc.Kind == store.KindEntity {
		b.locators[shard.LocatorKey(doc.WorldID, doc.ID)] = doc.ParentID
	}
	return nil
}

// Relocate implements store.Backend.
func (b *Backend) Relocate(_ context.Context, from store.Key, to *store.Document, cond store.Condition) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.check("relocate", from); err != nil {
		return err
	}
	if err := b.checkParent(cond.Parent); err != nil {
		return err
	}
	if err := b.checkAncestors(cond.Ancestors); err != nil {
		return err
	}
	existing := b.lookup(from)
	if existing == nil || existing.Version != cond.Version {
		return store.ErrConditionFailed
	}
	if from != to.Key && b.lookup(to.Key) != nil {
		return store.ErrConditionFailed
	}
	b.remove(from)
	b.store(to)
	b.locators[shard.LocatorKey(to.WorldID, to.ID)] = to.ParentID
	return nil
}

// Locate implements store.Backend.
func (b *Backend) Locate(_ context.Context, worldID, id string) (string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	key := shard.LocatorKey(worldID, id)
	if err := b.check("locate", key); err != nil {
		return "", err
	}
	parentID, ok := b.locators[key]
	if !ok {
		return "", store.ErrNoDocument
	}
	return parentID, nil
}

func visible(d *store.Document, includeDeleted bool, now time.Time) bool {
	if includeDeleted {
		return store.StateOf(d, now) != store.StatePurged
	}
	return !d.IsDeleted
}

// QueryPartition implements store.Backend.
func (b *Backend) QueryPartition(_ context.Context, q store.PartitionQuery) ([]*store.Document, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.check("query", store.Key{PK: q.PK}); err != nil {
		return nil, err
	}
	var out []*store.Document
	for _, d := range b.partitions[q.PK] {
		if d.SortName > q.After && visible(d, q.IncludeDeleted, q.Now) {
			out = append(out, d.Clone())
		}
	}
	slices.SortFunc(out, func(x, y *store.Document) int {
		return strings.Compare(x.SortName, y.SortName)
	})
	return truncate(out, q.Limit), nil
}

// CountPartition implements store.Backend.
func (b *Backend) CountPartition(_ context.Context, pk string) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.check("count", store.Key{PK: pk}); err != nil {
		return 0, err
	}
	n := 0
	for _, d := range b.partitions[pk] {
		if !d.IsDeleted {
			n++
		}
	}
	return n, nil
}

// ScanWorld implements store.Backend.
func (b *Backend) ScanWorld(_ context.Context, q store.WorldScan) ([]*store.Document, error) {
	return b.collect("scan", func(d *store.Document) bool {
		return d.Kind == store.KindEntity && d.WorldID == q.WorldID &&
			d.ID > q.After && visible(d, q.IncludeDeleted, q.Now)
	}, q.Limit)
}

// ListWorlds implements store.Backend.
func (b *Backend) ListWorlds(_ context.Context, q store.OwnerQuery) ([]*store.Document, error) {
	return b.collect("list_worlds", func(d *store.Document) bool {
		return d.Kind == store.KindWorld && d.OwnerID == q.OwnerID &&
			d.ID > q.After && visible(d, q.IncludeDeleted, q.Now)
	}, q.Limit)
}

// collect returns matching documents ordered by id.
func (b *Backend) collect(op string, match func(*store.Document) bool, limit int) ([]*store.Document, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.check(op, store.Key{}); err != nil {
		return nil, err
	}
	var out []*store.Document
	for _, p := range b.partitions {
		for _, d := range p {
			if match(d) {
				out = append(out, d.Clone())
			}
		}
	}
	slices.SortFunc(out, func(x, y *store.Document) int {
		return cmp.Compare(x.ID, y.ID)
	})
	return truncate(out, limit), nil
}

func truncate(docs []*store.Document, limit int) []*store.Document {
	if limit > 0 && len(docs) > limit {
		return docs[:limit]
	}
	return docs
}

// Expire removes every document whose purge deadline is at or before now,
// the way a table's TTL sweep would, and returns the removed documents.
func (b *Backend) Expire(now time.Time) []*store.Document {
	b.mu.Lock()
	defer b.mu.Unlock()
	var removed []*store.Document
	for _, p := range b.partitions {
		for _, d := range p {
			if exp := store.ExpiresAt(d); exp != 0 && exp <= now.Unix() {
				removed = append(removed, d)
			}
		}
	}
	for _, d := range removed {
		b.remove(d.Key)
		if d.Kind == store.KindEntity {
			delete(b.locators, shard.LocatorKey(d.WorldID, d.ID))
		}
	}
	return removed
}

// Len returns the number of stored documents.
func (b *Backend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, p := range b.partitions {
		n += len(p)
	}
	return n
}
