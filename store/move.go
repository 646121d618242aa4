package store

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
)

// Move reparents an entity under newParentID (the world root when empty) and
// recomputes depth and path for it and every descendant. Moving an entity
// under itself or one of its descendants fails with ErrCircularReference and
// changes nothing.
//
// The entity itself moves atomically; descendants are rewritten afterwards
// one conditional write at a time. If that rewrite partially fails, the moved
// entity is returned together with a *CascadeError, and RepairPaths (or
// repeating the Move) finishes the job.
func (s *Store) Move(ctx context.Context, caller, worldID, id, newParentID string) (_ *Entity, err error) {
	const op = "move_entity"
	ctx, end := s.begin(ctx, op,
		attribute.String("world_id", worldID), attribute.String("entity_id", id),
		attribute.String("new_parent_id", newParentID))
	defer func() { end(err) }()

	moved, err := s.move(ctx, op, caller, worldID, id, newParentID)
	if err != nil {
		return nil, fail(err, "world_id", worldID, "entity_id", id, "new_parent_id", newParentID)
	}

	c := s.newCascade(worldID, actionRepair)
	c.enter(moved.ID)
	c.repairChildren(ctx, moved)
	if err := c.result.finish(); err != nil {
		return moved.entity(), fail(err, "world_id", worldID, "entity_id", id)
	}
	s.logger.DebugContext(ctx, "entity moved",
		"world_id", worldID, "entity_id", id, "new_parent_id", newParentID,
		"descendants", len(c.result.Succeeded))
	return moved.entity(), nil
}

func (s *Store) move(ctx context.Context, op, caller, worldID, id, newParentID string) (*Document, error) {
	if _, err := s.authorize(ctx, op, caller, worldID, ReadOptions{}); err != nil {
		return nil, err
	}
	if id == newParentID {
		return nil, ErrCircularReference
	}

	for range s.config.ConflictReplays {
		cur, err := s.locateEntity(ctx, op, worldID, id, ReadOptions{})
		if err != nil {
			return nil, err
		}
		if cur.ParentID == newParentID {
			return cur, nil
		}

		parent, err := s.activeParent(ctx, op, worldID, newParentID)
		if err != nil {
			return nil, err
		}
		ancestors, err := s.ancestorsOf(ctx, op, worldID, parent)
		if err != nil {
			return nil, err
		}
		guards := make([]Guard, 0, len(ancestors))
		for _, a := range ancestors {
			if a.ID == id {
				return nil, ErrCircularReference
			}
			guards = append(guards, Guard{Key: a.Key, Version: a.Version})
		}

		next := cur.successor(s.clock())
		next.ParentID = newParentID
		next.Key = s.entityKey(worldID, newParentID, id)
		placeUnder(parent, next.Name).apply(next)

		cond := Condition{Version: cur.Version, Ancestors: guards}
		if parent != nil {
			cond.Parent = &parent.Key
		}
		err = s.relocate(ctx, op, cur.Key, next, cond)
		if err == nil {
			return next, nil
		}
		if !errors.Is(err, ErrConditionFailed) {
			return nil, err
		}
	}
	return nil, ErrConflict
}

// RepairPaths recomputes depth and path for every descendant of id (every
// entity of the world when id is empty). It is idempotent and finishes a
// move or rename whose descendant rewrite was interrupted.
func (s *Store) RepairPaths(ctx context.Context, caller, worldID, id string) (_ *CascadeResult, err error) {
	const op = "repair_paths"
	ctx, end := s.begin(ctx, op,
		attribute.String("world_id", worldID), attribute.String("entity_id", id))
	defer func() { end(err) }()

	if _, err := s.authorize(ctx, op, caller, worldID, ReadOptions{}); err != nil {
		return nil, fail(err, "world_id", worldID, "entity_id", id)
	}

	c := s.newCascade(worldID, actionRepair)
	if id == "" {
		c.repairChildren(ctx, nil)
	} else {
		doc, err := s.locateEntity(ctx, op, worldID, id, ReadOptions{IncludeDeleted: true})
		if err != nil {
			return nil, fail(err, "world_id", worldID, "entity_id", id)
		}
		var parent *Document
		if doc.ParentID != "" {
			parent, err = s.locateEntity(ctx, op, worldID, doc.ParentID, ReadOptions{IncludeDeleted: true})
			if err != nil {
				return nil, fail(err, "world_id", worldID, "entity_id", id)
			}
		}
		c.repair(ctx, parent, doc)
	}
	if err := c.result.finish(); err != nil {
		return c.result, fail(err, "world_id", worldID, "entity_id", id)
	}
	return c.result, nil
}
