package store

import (
	"context"
	"errors"
	"iter"
	"slices"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/jacentio/arbor/internal/shard"
	"github.com/jacentio/arbor/paginate"
)

// DeleteOptions configures delete behavior.
type DeleteOptions struct {
	// Cascade soft-deletes every descendant. Without it a delete of an
	// entity with active children fails with *HasChildrenError.
	Cascade bool

	// Retention is how long the entity stays restorable.
	// Zero selects Config.DefaultRetention.
	Retention time.Duration
}

// Create creates an entity under parentID, or at the world root when
// parentID is empty. Depth and path derive from the parent.
func (s *Store) Create(ctx context.Context, caller, worldID, parentID string, draft EntityDraft) (_ *Entity, err error) {
	ctx, end := s.begin(ctx, "create_entity",
		attribute.String("world_id", worldID), attribute.String("parent_id", parentID))
	defer func() { end(err) }()

	doc, err := s.create(ctx, caller, worldID, parentID, draft)
	if err != nil {
		return nil, fail(err, "world_id", worldID, "parent_id", parentID, "entity_type", draft.EntityType)
	}
	s.logger.DebugContext(ctx, "entity created", "world_id", worldID, "entity_id", doc.ID, "parent_id", parentID)
	return doc.entity(), nil
}

func (s *Store) create(ctx context.Context, caller, worldID, parentID string, draft EntityDraft) (*Document, error) {
	const op = "create_entity"
	world, err := s.authorize(ctx, op, caller, worldID, ReadOptions{})
	if err != nil {
		return nil, err
	}
	draft, err = validateEntityDraft(draft)
	if err != nil {
		return nil, err
	}
	version, err := s.governor.ValidateTransition(ctx, draft.EntityType, 0, draft.SchemaVersion)
	if err != nil {
		return nil, err
	}
	if err := s.governor.ValidateProperties(ctx, draft.EntityType, version, draft.Properties); err != nil {
		return nil, err
	}
	parent, err := s.activeParent(ctx, op, worldID, parentID)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	id := s.newID()
	doc := &Document{
		Key:           s.entityKey(worldID, parentID, id),
		Kind:          KindEntity,
		ID:            id,
		WorldID:       worldID,
		ParentID:      parentID,
		OwnerID:       world.OwnerID,
		EntityType:    draft.EntityType,
		SchemaID:      draft.SchemaID,
		SchemaVersion: version,
		Name:          draft.Name,
		SortName:      shard.SortKey(draft.Name, id),
		Description:   draft.Description,
		Tags:          draft.Tags,
		Properties:    draft.Properties,
		CreatedAt:     now,
		ModifiedAt:    now,
		Version:       1,
	}
	placeUnder(parent, draft.Name).apply(doc)

	cond := Condition{MustNotExist: true}
	if parent != nil {
		cond.Parent = &parent.Key
	}
	if err := s.put(ctx, op, doc, cond); err != nil {
		if errors.Is(err, ErrConditionFailed) {
			return nil, ErrConflict
		}
		return nil, err
	}
	return doc, nil
}

// Get returns an entity by its full locality.
func (s *Store) Get(ctx context.Context, caller, worldID, parentID, id string, opts ReadOptions) (_ *Entity, err error) {
	ctx, end := s.begin(ctx, "get_entity",
		attribute.String("world_id", worldID), attribute.String("entity_id", id))
	defer func() { end(err) }()

	if _, err := s.authorize(ctx, "get_entity", caller, worldID, opts); err != nil {
		return nil, fail(err, "world_id", worldID, "entity_id", id)
	}
	doc, err := s.loadEntity(ctx, "get_entity", worldID, parentID, id, opts)
	if err != nil {
		return nil, fail(err, "world_id", worldID, "entity_id", id)
	}
	return doc.entity(), nil
}

// Find returns an entity knowing only its id.
func (s *Store) Find(ctx context.Context, caller, worldID, id string, opts ReadOptions) (_ *Entity, err error) {
	ctx, end := s.begin(ctx, "find_entity",
		attribute.String("world_id", worldID), attribute.String("entity_id", id))
	defer func() { end(err) }()

	if _, err := s.authorize(ctx, "find_entity", caller, worldID, opts); err != nil {
		return nil, fail(err, "world_id", worldID, "entity_id", id)
	}
	doc, err := s.locateEntity(ctx, "find_entity", worldID, id, opts)
	if err != nil {
		return nil, fail(err, "world_id", worldID, "entity_id", id)
	}
	return doc.entity(), nil
}

// Children returns one page of the children of parentID (the world root when
// empty) ordered by case-folded name, then id.
func (s *Store) Children(ctx context.Context, caller, worldID, parentID string, req paginate.Request, opts ReadOptions) (_ paginate.Page[*Entity], err error) {
	const op = "list_children"
	ctx, end := s.begin(ctx, op,
		attribute.String("world_id", worldID), attribute.String("parent_id", parentID))
	defer func() { end(err) }()

	if _, err := s.authorize(ctx, op, caller, worldID, opts); err != nil {
		return paginate.Page[*Entity]{}, fail(err, "world_id", worldID, "parent_id", parentID)
	}
	if parentID != "" {
		if _, err := s.locateEntity(ctx, op, worldID, parentID, opts); err != nil {
			return paginate.Page[*Entity]{}, fail(err, "world_id", worldID, "parent_id", parentID)
		}
	}

	fp := paginate.Fingerprint("children", worldID, parentID, strconv.FormatBool(opts.IncludeDeleted))
	page, err := paginate.Paginate(ctx, fp, req, s.config.Page,
		s.fetchChildren(op, worldID, parentID, opts.IncludeDeleted), sortNameOf)
	if err != nil {
		return paginate.Page[*Entity]{}, fail(err, "world_id", worldID, "parent_id", parentID)
	}
	return entityPage(page), nil
}

func entityPage(page paginate.Page[*Document]) paginate.Page[*Entity] {
	out := paginate.Page[*Entity]{Items: make([]*Entity, len(page.Items)), NextCursor: page.NextCursor}
	for i, d := range page.Items {
		out.Items[i] = d.entity()
	}
	return out
}

var errStopWalk = errors.New("stop walk")

// Subtree yields rootID and then its active descendants depth-first in
// pre-order, children in name order. An empty rootID walks the whole world.
// Children are read lazily one page at a time; stopping the iteration or
// cancelling ctx ends the walk.
func (s *Store) Subtree(ctx context.Context, caller, worldID, rootID string) iter.Seq2[*Entity, error] {
	const op = "subtree"
	return func(yield func(*Entity, error) bool) {
		ctx, end := s.begin(ctx, op,
			attribute.String("world_id", worldID), attribute.String("entity_id", rootID))
		var err error
		defer func() { end(err) }()

		if _, err = s.authorize(ctx, op, caller, worldID, ReadOptions{}); err != nil {
			err = fail(err, "world_id", worldID)
			yield(nil, err)
			return
		}
		if rootID != "" {
			root, lerr := s.locateEntity(ctx, op, worldID, rootID, ReadOptions{})
			if lerr != nil {
				err = fail(lerr, "world_id", worldID, "entity_id", rootID)
				yield(nil, err)
				return
			}
			if !yield(root.entity(), nil) {
				return
			}
		}

		werr := s.walk(ctx, op, worldID, rootID, map[string]bool{rootID: true}, yield)
		if werr != nil && !errors.Is(werr, errStopWalk) {
			err = fail(werr, "world_id", worldID, "entity_id", rootID)
			yield(nil, err)
		}
	}
}

// walk visits every entity at most once, so a tree corrupted into a cycle
// still yields a finite sequence.
func (s *Store) walk(ctx context.Context, op, worldID, parentID string, seen map[string]bool, yield func(*Entity, error) bool) error {
	return s.eachChild(ctx, op, worldID, parentID, false, func(d *Document) error {
		if seen[d.ID] {
			return nil
		}
		seen[d.ID] = true
		if !yield(d.entity(), nil) {
			return errStopWalk
		}
		return s.walk(ctx, op, worldID, d.ID, seen, yield)
	})
}

// Scan yields every entity of a world ordered by id. Search backends use it
// as their range-query primitive.
func (s *Store) Scan(ctx context.Context, caller, worldID string, opts ReadOptions) iter.Seq2[*Entity, error] {
	const op = "scan_world"
	return func(yield func(*Entity, error) bool) {
		ctx, end := s.begin(ctx, op, attribute.String("world_id", worldID))
		var err error
		defer func() { end(err) }()

		if _, err = s.authorize(ctx, op, caller, worldID, opts); err != nil {
			err = fail(err, "world_id", worldID)
			yield(nil, err)
			return
		}
		after := ""
		for {
			var docs []*Document
			err = s.retry(ctx, op, func(ctx context.Context) error {
				var err error
				docs, err = s.backend.ScanWorld(ctx, WorldScan{
					WorldID:        worldID,
					After:          after,
					Limit:          s.config.Page.MaxSize,
					IncludeDeleted: opts.IncludeDeleted,
					Now:            s.clock(),
				})
				return err
			})
			if err != nil {
				err = fail(err, "world_id", worldID)
				yield(nil, err)
				return
			}
			for _, d := range docs {
				if !yield(d.entity(), nil) {
					return
				}
			}
			if len(docs) < s.config.Page.MaxSize {
				return
			}
			after = docs[len(docs)-1].ID
		}
	}
}

// Update applies patch to an active entity. The schema version is
// re-validated against the stored one even when the patch leaves it unset.
// A non-empty token must match the entity's current version token. Renames
// rewrite the path of every descendant; if that rewrite partially fails the
// updated entity is returned with a *CascadeError and RepairPaths resumes it.
func (s *Store) Update(ctx context.Context, caller, worldID, parentID, id string, patch EntityPatch, token Token) (_ *Entity, err error) {
	const op = "update_entity"
	ctx, end := s.begin(ctx, op,
		attribute.String("world_id", worldID), attribute.String("entity_id", id))
	defer func() { end(err) }()

	if _, err := s.authorize(ctx, op, caller, worldID, ReadOptions{}); err != nil {
		return nil, fail(err, "world_id", worldID, "entity_id", id)
	}
	patch, err = validatePatch(patch)
	if err != nil {
		return nil, fail(err, "world_id", worldID, "entity_id", id)
	}

	var renamed bool
	load := func(ctx context.Context) (*Document, error) {
		return s.loadEntity(ctx, op, worldID, parentID, id, ReadOptions{})
	}
	doc, err := s.mutate(ctx, op, token, load, func(cur *Document) (*Document, error) {
		next := cur.successor(s.clock())
		renamed = false
		if patch.Name != nil && *patch.Name != cur.Name {
			renamed = true
			next.Name = *patch.Name
			next.SortName = shard.SortKey(next.Name, next.ID)
			next.Path[len(next.Path)-1] = next.Name
		}
		if patch.Description != nil {
			next.Description = *patch.Description
		}
		if patch.Tags != nil {
			next.Tags = *patch.Tags
		}
		if patch.Properties != nil {
			next.Properties = patch.Properties
		}

		requested := cur.SchemaVersion
		if patch.SchemaVersion != nil {
			requested = *patch.SchemaVersion
		}
		version, err := s.governor.ValidateTransition(ctx, cur.EntityType, cur.SchemaVersion, requested)
		if err != nil {
			return nil, err
		}
		next.SchemaVersion = version
		if err := s.governor.ValidateProperties(ctx, cur.EntityType, version, next.Properties); err != nil {
			return nil, err
		}
		return next, nil
	})
	if err != nil {
		return nil, fail(err, "world_id", worldID, "entity_id", id)
	}

	if renamed {
		c := s.newCascade(worldID, actionRepair)
		c.enter(doc.ID)
		c.repairChildren(ctx, doc)
		if err := c.result.finish(); err != nil {
			return doc.entity(), fail(err, "world_id", worldID, "entity_id", id)
		}
	}
	return doc.entity(), nil
}

func validatePatch(p EntityPatch) (EntityPatch, error) {
	if p.Name != nil {
		if err := validateName(*p.Name); err != nil {
			return p, err
		}
	}
	if p.Description != nil {
		if err := validateDescription(*p.Description); err != nil {
			return p, err
		}
	}
	if p.Tags != nil {
		tags, err := normalizeTags(*p.Tags)
		if err != nil {
			return p, err
		}
		p.Tags = &tags
	}
	if p.Properties != nil {
		props, err := normalizeProperties(p.Properties)
		if err != nil {
			return p, err
		}
		p.Properties = props
		if p.Properties == nil {
			// An explicitly empty payload clears the properties.
			p.Properties = []byte{}
		}
	}
	return p, nil
}

// Delete soft-deletes an entity. Without opts.Cascade an entity with active
// children is left untouched and *HasChildrenError reports how many. With
// it, every descendant is soft-deleted independently; failed nodes are
// reported in the result and a *CascadeError, and calling Delete again
// resumes the cascade.
func (s *Store) Delete(ctx context.Context, caller, worldID, parentID, id string, opts DeleteOptions) (_ *CascadeResult, err error) {
	const op = "delete_entity"
	ctx, end := s.begin(ctx, op,
		attribute.String("world_id", worldID), attribute.String("entity_id", id),
		attribute.Bool("cascade", opts.Cascade))
	defer func() { end(err) }()

	if _, err := s.authorize(ctx, op, caller, worldID, ReadOptions{}); err != nil {
		return nil, fail(err, "world_id", worldID, "entity_id", id)
	}
	doc, err := s.loadEntity(ctx, op, worldID, parentID, id, ReadOptions{IncludeDeleted: true})
	if err != nil {
		return nil, fail(err, "world_id", worldID, "entity_id", id)
	}
	if !opts.Cascade {
		if doc.IsDeleted {
			return nil, fail(ErrAlreadyDeleted, "world_id", worldID, "entity_id", id)
		}
		n, err := s.countActiveChildren(ctx, op, worldID, id)
		if err != nil {
			return nil, fail(err, "world_id", worldID, "entity_id", id)
		}
		if n > 0 {
			return nil, fail(&HasChildrenError{ChildCount: n}, "world_id", worldID, "entity_id", id, "child_count", n)
		}
	}

	retention := opts.Retention
	if retention <= 0 {
		retention = s.config.DefaultRetention
	}
	c := s.newCascade(worldID, actionDelete)
	c.softDelete(ctx, doc, retention, caller, opts.Cascade)
	if err := c.result.finish(); err != nil {
		if !opts.Cascade {
			// A single-node delete reports its own failure.
			return nil, fail(c.result.Failed[0].Err, "world_id", worldID, "entity_id", id)
		}
		return c.result, fail(err, "world_id", worldID, "entity_id", id)
	}
	return c.result, nil
}

// Restore restores a soft-deleted entity whose parent is active. With
// cascade, descendants deleted together with it (at or after its deletion
// time) are restored too.
func (s *Store) Restore(ctx context.Context, caller, worldID, parentID, id string, cascade bool) (_ *CascadeResult, err error) {
	const op = "restore_entity"
	ctx, end := s.begin(ctx, op,
		attribute.String("world_id", worldID), attribute.String("entity_id", id),
		attribute.Bool("cascade", cascade))
	defer func() { end(err) }()

	if _, err := s.authorize(ctx, op, caller, worldID, ReadOptions{}); err != nil {
		return nil, fail(err, "world_id", worldID, "entity_id", id)
	}
	if _, err := s.activeParent(ctx, op, worldID, parentID); err != nil {
		return nil, fail(err, "world_id", worldID, "entity_id", id, "parent_id", parentID)
	}

	var since time.Time
	load := func(ctx context.Context) (*Document, error) {
		return s.loadRaw(ctx, op, worldID, parentID, id)
	}
	doc, err := s.mutate(ctx, op, "", load, func(cur *Document) (*Document, error) {
		since = cur.DeletedAt
		return restoreDocument(cur, s.clock())
	})
	if err != nil {
		return nil, fail(err, "world_id", worldID, "entity_id", id)
	}

	c := s.newCascade(worldID, actionRestore)
	c.enter(id)
	c.result.succeed(actionRestore, id)
	if cascade {
		c.children(ctx, id, func(ctx context.Context, child *Document) {
			c.restore(ctx, child, since)
		})
	}
	s.logger.DebugContext(ctx, "entity restored", "world_id", worldID, "entity_id", doc.ID, "cascade", cascade)
	if err := c.result.finish(); err != nil {
		return c.result, fail(err, "world_id", worldID, "entity_id", id)
	}
	return c.result, nil
}

// ancestorsOf returns parent and its ancestors up to the root-level entity,
// read fresh from the store.
func (s *Store) ancestorsOf(ctx context.Context, op, worldID string, parent *Document) ([]*Document, error) {
	var chain []*Document
	for cur := parent; cur != nil; {
		if slices.ContainsFunc(chain, func(d *Document) bool { return d.ID == cur.ID }) {
			// A corrupt chain would otherwise loop forever.
			return nil, ErrCircularReference
		}
		chain = append(chain, cur)
		if cur.ParentID == "" {
			break
		}
		next, err := s.locateEntity(ctx, op, worldID, cur.ParentID, ReadOptions{IncludeDeleted: true})
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return chain, nil
}
