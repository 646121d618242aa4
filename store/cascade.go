package store

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Cascade actions, also used as metric labels.
const (
	actionDelete  = "delete"
	actionRestore = "restore"
	actionRepair  = "repair"
)

// CascadeFailure is one entity a cascade could not process. When the root
// level of a world could not be listed, ID is the world id.
type CascadeFailure struct {
	ID  string `json:"id"`
	Err error  `json:"-"`
}

// CascadeResult summarizes a non-atomic multi-entity operation. Callers
// needing every node processed retry the failed ids.
type CascadeResult struct {
	Succeeded []string         `json:"succeeded"`
	Failed    []CascadeFailure `json:"failed"`

	mu sync.Mutex
}

func newCascadeResult() *CascadeResult {
	return &CascadeResult{Succeeded: []string{}, Failed: []CascadeFailure{}}
}

// OK reports whether every visited entity was processed.
func (r *CascadeResult) OK() bool {
	return len(r.Failed) == 0
}

// FailedIDs returns the ids to retry.
func (r *CascadeResult) FailedIDs() []string {
	ids := make([]string, len(r.Failed))
	for i, f := range r.Failed {
		ids[i] = f.ID
	}
	return ids
}

func (r *CascadeResult) succeed(action, id string) {
	cascadeNodesTotal.WithLabelValues(action, "ok").Inc()
	r.mu.Lock()
	r.Succeeded = append(r.Succeeded, id)
	r.mu.Unlock()
}

func (r *CascadeResult) fail(action, id string, err error) {
	cascadeNodesTotal.WithLabelValues(action, resultLabel(err)).Inc()
	r.mu.Lock()
	r.Failed = append(r.Failed, CascadeFailure{ID: id, Err: err})
	r.mu.Unlock()
}

// finish orders the result and returns a *CascadeError if anything failed.
func (r *CascadeResult) finish() error {
	slices.Sort(r.Succeeded)
	slices.SortStableFunc(r.Failed, func(a, b CascadeFailure) int {
		return cmp.Compare(a.ID, b.ID)
	})
	if r.OK() {
		return nil
	}
	return &CascadeError{Result: r}
}

// cascade walks a live subtree. Every node is an independent conditional
// write; a failed node is recorded and its branch is not descended, while
// sibling branches carry on.
type cascade struct {
	s       *Store
	worldID string
	action  string
	result  *CascadeResult
	seen    sync.Map // entity id -> struct{}
}

func (s *Store) newCascade(worldID, action string) *cascade {
	return &cascade{s: s, worldID: worldID, action: action, result: newCascadeResult()}
}

func (c *cascade) op() string {
	return "cascade_" + c.action
}

// enter reports whether id is visited for the first time, so a walk over a
// tree that was corrupted into a cycle still ends.
func (c *cascade) enter(id string) bool {
	_, seen := c.seen.LoadOrStore(id, struct{}{})
	return !seen
}

// children runs visit for every child of parentID (soft-deleted ones
// included) with bounded sibling concurrency. Children are read page by page
// during the walk, never from a snapshot.
func (c *cascade) children(ctx context.Context, parentID string, visit func(context.Context, *Document)) {
	g := new(errgroup.Group)
	g.SetLimit(c.s.config.CascadeConcurrency)
	err := c.s.eachChild(ctx, c.op(), c.worldID, parentID, true, func(d *Document) error {
		g.Go(func() error {
			visit(ctx, d)
			return nil
		})
		return nil
	})
	_ = g.Wait()
	if err != nil {
		c.s.logger.WarnContext(ctx, "cascade could not list children",
			"action", c.action, "world_id", c.worldID, "parent_id", parentID, "error", err)
		id := parentID
		if id == "" {
			id = c.worldID
		}
		c.result.fail(c.action, id, err)
	}
}

func (c *cascade) load(d *Document) func(context.Context) (*Document, error) {
	return func(ctx context.Context) (*Document, error) {
		return c.s.loadRaw(ctx, c.op(), c.worldID, d.ParentID, d.ID)
	}
}

// softDelete marks d and then its descendants deleted. Nodes that are already
// deleted count as done and are still descended, so a retry finishes a
// partial run.
func (c *cascade) softDelete(ctx context.Context, d *Document, retention time.Duration, actor string, descend bool) {
	if !c.enter(d.ID) {
		return
	}
	if err := ctx.Err(); err != nil {
		c.result.fail(c.action, d.ID, err)
		return
	}
	_, err := c.s.mutate(ctx, c.op(), "", c.load(d), func(cur *Document) (*Document, error) {
		if cur.IsDeleted {
			return nil, nil
		}
		return softDelete(cur, retention, actor, c.s.clock()), nil
	})
	if err != nil {
		c.s.logger.WarnContext(ctx, "cascade delete failed",
			"world_id", c.worldID, "entity_id", d.ID, "error", err)
		c.result.fail(c.action, d.ID, err)
		return
	}
	c.result.succeed(c.action, d.ID)
	if descend {
		c.children(ctx, d.ID, func(ctx context.Context, child *Document) {
			c.softDelete(ctx, child, retention, actor, true)
		})
	}
}

// restore clears the deletion marker of d and descends. Nodes deleted
// before since were deleted on their own and stay deleted with their subtree.
func (c *cascade) restore(ctx context.Context, d *Document, since time.Time) {
	if !c.enter(d.ID) {
		return
	}
	if err := ctx.Err(); err != nil {
		c.result.fail(c.action, d.ID, err)
		return
	}
	switch StateOf(d, c.s.clock()) {
	case StateSoftDeleted:
		if d.DeletedAt.Before(since) {
			return
		}
		_, err := c.s.mutate(ctx, c.op(), "", c.load(d), func(cur *Document) (*Document, error) {
			if !cur.IsDeleted {
				return nil, nil
			}
			return restoreDocument(cur, c.s.clock())
		})
		if err != nil {
			c.s.logger.WarnContext(ctx, "cascade restore failed",
				"world_id", c.worldID, "entity_id", d.ID, "error", err)
			c.result.fail(c.action, d.ID, err)
			return
		}
		c.result.succeed(c.action, d.ID)
	case StatePurged:
		return
	}
	c.children(ctx, d.ID, func(ctx context.Context, child *Document) {
		c.restore(ctx, child, since)
	})
}

// repair rewrites depth and path of d for its parent's placement, then
// descends. parent is nil for root-level entities.
func (c *cascade) repair(ctx context.Context, parent, d *Document) {
	if !c.enter(d.ID) {
		return
	}
	if err := ctx.Err(); err != nil {
		c.result.fail(c.action, d.ID, err)
		return
	}
	updated, err := c.s.mutate(ctx, c.op(), "", c.load(d), func(cur *Document) (*Document, error) {
		want := placeUnder(parent, cur.Name)
		if want.matches(cur) {
			return nil, nil
		}
		next := cur.successor(c.s.clock())
		want.apply(next)
		return next, nil
	})
	if errors.Is(err, ErrNotFound) {
		// Moved away or purged since it was listed.
		return
	}
	if err != nil {
		c.s.logger.WarnContext(ctx, "path repair failed",
			"world_id", c.worldID, "entity_id", d.ID, "error", err)
		c.result.fail(c.action, d.ID, err)
		return
	}
	c.result.succeed(c.action, d.ID)
	c.repairChildren(ctx, updated)
}

func (c *cascade) repairChildren(ctx context.Context, parent *Document) {
	parentID := ""
	if parent != nil {
		parentID = parent.ID
	}
	c.children(ctx, parentID, func(ctx context.Context, child *Document) {
		c.repair(ctx, parent, child)
	})
}
