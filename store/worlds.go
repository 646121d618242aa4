package store

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/jacentio/arbor/internal/shard"
	"github.com/jacentio/arbor/paginate"
)

// CreateWorld creates a world owned by caller.
func (s *Store) CreateWorld(ctx context.Context, caller string, draft WorldDraft) (_ *World, err error) {
	ctx, end := s.begin(ctx, "create_world")
	defer func() { end(err) }()

	if caller == "" {
		return nil, fail(ErrUnauthorized)
	}
	if err := validateName(draft.Name); err != nil {
		return nil, fail(err)
	}
	if err := validateDescription(draft.Description); err != nil {
		return nil, fail(err)
	}

	now := s.clock()
	id := s.newID()
	doc := &Document{
		Key:         shard.WorldKey(id),
		Kind:        KindWorld,
		ID:          id,
		OwnerID:     caller,
		Name:        draft.Name,
		SortName:    shard.SortKey(draft.Name, id),
		Description: draft.Description,
		CreatedAt:   now,
		ModifiedAt:  now,
		Version:     1,
	}
	if err := s.put(ctx, "create_world", doc, Condition{MustNotExist: true}); err != nil {
		if errors.Is(err, ErrConditionFailed) {
			err = ErrConflict
		}
		return nil, fail(err, "world_id", id)
	}
	s.logger.DebugContext(ctx, "world created", "world_id", id, "owner_id", caller)
	return doc.world(), nil
}

// GetWorld returns a world owned by caller.
func (s *Store) GetWorld(ctx context.Context, caller, id string, opts ReadOptions) (_ *World, err error) {
	ctx, end := s.begin(ctx, "get_world", attribute.String("world_id", id))
	defer func() { end(err) }()

	doc, err := s.authorize(ctx, "get_world", caller, id, opts)
	if err != nil {
		return nil, fail(err, "world_id", id)
	}
	return doc.world(), nil
}

// UpdateWorld applies patch to an active world. A non-empty token must match
// the world's current version token.
func (s *Store) UpdateWorld(ctx context.Context, caller, id string, patch WorldPatch, token Token) (_ *World, err error) {
	ctx, end := s.begin(ctx, "update_world", attribute.String("world_id", id))
	defer func() { end(err) }()

	if patch.Name != nil {
		if err := validateName(*patch.Name); err != nil {
			return nil, fail(err, "world_id", id)
		}
	}
	if patch.Description != nil {
		if err := validateDescription(*patch.Description); err != nil {
			return nil, fail(err, "world_id", id)
		}
	}

	load := func(ctx context.Context) (*Document, error) {
		return s.authorize(ctx, "update_world", caller, id, ReadOptions{})
	}
	doc, err := s.mutate(ctx, "update_world", token, load, func(cur *Document) (*Document, error) {
		next := cur.successor(s.clock())
		if patch.Name != nil {
			next.Name = *patch.Name
			next.SortName = shard.SortKey(next.Name, next.ID)
		}
		if patch.Description != nil {
			next.Description = *patch.Description
		}
		return next, nil
	})
	if err != nil {
		return nil, fail(err, "world_id", id)
	}
	return doc.world(), nil
}

// ListWorlds returns one page of the worlds owned by caller, ordered by id.
func (s *Store) ListWorlds(ctx context.Context, caller string, req paginate.Request, opts ReadOptions) (_ paginate.Page[*World], err error) {
	ctx, end := s.begin(ctx, "list_worlds")
	defer func() { end(err) }()

	if caller == "" {
		return paginate.Page[*World]{}, fail(ErrUnauthorized)
	}
	fetch := func(ctx context.Context, after string, limit int) ([]*Document, error) {
		var docs []*Document
		err := s.retry(ctx, "list_worlds", func(ctx context.Context) error {
			var err error
			docs, err = s.backend.ListWorlds(ctx, OwnerQuery{
				OwnerID:        caller,
				After:          after,
				Limit:          limit,
				IncludeDeleted: opts.IncludeDeleted,
				Now:            s.clock(),
			})
			return err
		})
		return docs, err
	}
	fp := paginate.Fingerprint("worlds", caller, strconv.FormatBool(opts.IncludeDeleted))
	page, err := paginate.Paginate(ctx, fp, req, s.config.Page, fetch, func(d *Document) string { return d.ID })
	if err != nil {
		return paginate.Page[*World]{}, fail(err)
	}
	out := paginate.Page[*World]{Items: make([]*World, len(page.Items)), NextCursor: page.NextCursor}
	for i, d := range page.Items {
		out.Items[i] = d.world()
	}
	return out, nil
}

// DeleteWorld soft-deletes a world and cascades to every entity in it.
// A zero retention selects Config.DefaultRetention. Calling it again on a
// deleted world resumes an interrupted cascade.
func (s *Store) DeleteWorld(ctx context.Context, caller, id string, retention time.Duration) (_ *CascadeResult, err error) {
	ctx, end := s.begin(ctx, "delete_world", attribute.String("world_id", id))
	defer func() { end(err) }()

	if retention <= 0 {
		retention = s.config.DefaultRetention
	}
	load := func(ctx context.Context) (*Document, error) {
		return s.authorize(ctx, "delete_world", caller, id, ReadOptions{IncludeDeleted: true})
	}
	if _, err := s.mutate(ctx, "delete_world", "", load, func(cur *Document) (*Document, error) {
		if cur.IsDeleted {
			return nil, nil
		}
		return softDelete(cur, retention, caller, s.clock()), nil
	}); err != nil {
		return nil, fail(err, "world_id", id)
	}

	c := s.newCascade(id, actionDelete)
	c.children(ctx, "", func(ctx context.Context, d *Document) {
		c.softDelete(ctx, d, retention, caller, true)
	})
	s.logger.InfoContext(ctx, "world deleted",
		"world_id", id, "succeeded", len(c.result.Succeeded), "failed", len(c.result.Failed))
	if err := c.result.finish(); err != nil {
		return c.result, fail(err, "world_id", id)
	}
	return c.result, nil
}

// RestoreWorld restores a soft-deleted world and the entities deleted with it.
func (s *Store) RestoreWorld(ctx context.Context, caller, id string) (_ *CascadeResult, err error) {
	ctx, end := s.begin(ctx, "restore_world", attribute.String("world_id", id))
	defer func() { end(err) }()

	load := func(ctx context.Context) (*Document, error) {
		return s.loadWorld(ctx, "restore_world", caller, id)
	}
	var since time.Time
	if _, err := s.mutate(ctx, "restore_world", "", load, func(cur *Document) (*Document, error) {
		since = cur.DeletedAt
		return restoreDocument(cur, s.clock())
	}); err != nil {
		return nil, fail(err, "world_id", id)
	}

	c := s.newCascade(id, actionRestore)
	c.children(ctx, "", func(ctx context.Context, d *Document) {
		c.restore(ctx, d, since)
	})
	s.logger.InfoContext(ctx, "world restored",
		"world_id", id, "succeeded", len(c.result.Succeeded), "failed", len(c.result.Failed))
	if err := c.result.finish(); err != nil {
		return c.result, fail(err, "world_id", id)
	}
	return c.result, nil
}
