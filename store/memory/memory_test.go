package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/arbor/internal/shard"
	"github.com/jacentio/arbor/store"
)

var now = time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

func entityDoc(world, parent, id, name string) *store.Document {
	return &store.Document{
		Key:      shard.LocalityKey(world, parent, id, 1),
		Kind:     store.KindEntity,
		ID:       id,
		WorldID:  world,
		ParentID: parent,
		Name:     name,
		SortName: shard.SortKey(name, id),
		Version:  1,
	}
}

func TestPut_Conditions(t *testing.T) {
	ctx := context.Background()
	b := New()
	doc := entityDoc("w", "", "e1", "one")

	require.NoError(t, b.Put(ctx, doc, store.Condition{MustNotExist: true}))
	assert.ErrorIs(t, b.Put(ctx, doc, store.Condition{MustNotExist: true}), store.ErrConditionFailed)

	next := doc.Clone()
	next.Version = 2
	assert.ErrorIs(t, b.Put(ctx, next, store.Condition{Version: 5}), store.ErrConditionFailed)
	require.NoError(t, b.Put(ctx, next, store.Condition{Version: 1}))

	got, err := b.Get(ctx, doc.Key)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)

	missing := entityDoc("w", "", "e2", "two")
	assert.ErrorIs(t, b.Put(ctx, missing, store.Condition{Version: 1}), store.ErrConditionFailed)
}

func TestPut_ParentCondition(t *testing.T) {
	ctx := context.Background()
	b := New()
	parent := entityDoc("w", "", "p", "parent")
	require.NoError(t, b.Put(ctx, parent, store.Condition{MustNotExist: true}))

	child := entityDoc("w", "p", "c", "child")
	require.NoError(t, b.Put(ctx, child, store.Condition{MustNotExist: true, Parent: &parent.Key}))

	deleted := parent.Clone()
	deleted.IsDeleted = true
	deleted.Version = 2
	require.NoError(t, b.Put(ctx, deleted, store.Condition{Version: 1}))

	orphan := entityDoc("w", "p", "o", "orphan")
	assert.ErrorIs(t, b.Put(ctx, orphan, store.Condition{MustNotExist: true, Parent: &parent.Key}), store.ErrParentNotFound)
	_, err := b.Get(ctx, orphan.Key)
	assert.ErrorIs(t, err, store.ErrNoDocument)
}

func TestGet_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	b := New()
	doc := entityDoc("w", "", "e1", "one")
	doc.Tags = []string{"a"}
	require.NoError(t, b.Put(ctx, doc, store.Condition{MustNotExist: true}))

	doc.Tags[0] = "mutated"
	got, err := b.Get(ctx, doc.Key)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, got.Tags)

	got.Tags[0] = "also mutated"
	again, err := b.Get(ctx, doc.Key)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, again.Tags)
}

func TestLocatorFollowsRelocate(t *testing.T) {
	ctx := context.Background()
	b := New()
	for _, d := range []*store.Document{entityDoc("w", "", "a", "a"), entityDoc("w", "", "b", "b")} {
		require.NoError(t, b.Put(ctx, d, store.Condition{MustNotExist: true}))
	}
	child := entityDoc("w", "a", "c", "c")
	require.NoError(t, b.Put(ctx, child, store.Condition{MustNotExist: true}))

	parentID, err := b.Locate(ctx, "w", "c")
	require.NoError(t, err)
	assert.Equal(t, "a", parentID)

	moved := entityDoc("w", "b", "c", "c")
	moved.Version = 2
	require.NoError(t, b.Relocate(ctx, child.Key, moved, store.Condition{Version: 1}))

	parentID, err = b.Locate(ctx, "w", "c")
	require.NoError(t, err)
	assert.Equal(t, "b", parentID)

	_, err = b.Get(ctx, child.Key)
	assert.ErrorIs(t, err, store.ErrNoDocument)
	assert.ErrorIs(t, b.Relocate(ctx, child.Key, moved, store.Condition{Version: 1}), store.ErrConditionFailed)

	_, err = b.Locate(ctx, "w", "missing")
	assert.ErrorIs(t, err, store.ErrNoDocument)
}

func TestRelocate_AncestorGuards(t *testing.T) {
	ctx := context.Background()
	b := New()
	top := entityDoc("w", "", "top", "top")
	mid := entityDoc("w", "top", "mid", "mid")
	e := entityDoc("w", "", "e", "e")
	for _, d := range []*store.Document{top, mid, e} {
		require.NoError(t, b.Put(ctx, d, store.Condition{MustNotExist: true}))
	}

	// top changed since the chain was read.
	renamed := top.Clone()
	renamed.Version = 2
	require.NoError(t, b.Put(ctx, renamed, store.Condition{Version: 1}))

	moved := entityDoc("w", "mid", "e", "e")
	moved.Version = 2
	stale := store.Condition{
		Version:   1,
		Parent:    &mid.Key,
		Ancestors: []store.Guard{{Key: mid.Key, Version: 1}, {Key: top.Key, Version: 1}},
	}
	assert.ErrorIs(t, b.Relocate(ctx, e.Key, moved, stale), store.ErrConditionFailed)
	_, err := b.Get(ctx, e.Key)
	require.NoError(t, err, "a failed guard leaves the entity in place")

	gone := stale
	gone.Ancestors = []store.Guard{{Key: entityDoc("w", "", "ghost", "ghost").Key, Version: 1}}
	assert.ErrorIs(t, b.Relocate(ctx, e.Key, moved, gone), store.ErrConditionFailed)

	fresh := stale
	fresh.Ancestors = []store.Guard{{Key: mid.Key, Version: 1}, {Key: top.Key, Version: 2}}
	require.NoError(t, b.Relocate(ctx, e.Key, moved, fresh))
	parentID, err := b.Locate(ctx, "w", "e")
	require.NoError(t, err)
	assert.Equal(t, "mid", parentID)
}

func TestQueryPartition_OrderAndVisibility(t *testing.T) {
	ctx := context.Background()
	b := New()
	for i, name := range []string{"delta", "Alpha", "charlie", "bravo"} {
		d := entityDoc("w", "", fmt.Sprintf("e%d", i), name)
		require.NoError(t, b.Put(ctx, d, store.Condition{MustNotExist: true}))
	}
	gone := entityDoc("w", "", "gone", "echo")
	gone.IsDeleted = true
	gone.PurgeAfter = now.Add(time.Hour)
	require.NoError(t, b.Put(ctx, gone, store.Condition{MustNotExist: true}))

	pk := shard.LocalityKey("w", "", "e0", 1).PK
	names := func(docs []*store.Document) []string {
		var out []string
		for _, d := range docs {
			out = append(out, d.Name)
		}
		return out
	}

	docs, err := b.QueryPartition(ctx, store.PartitionQuery{PK: pk, Now: now})
	require.NoError(t, err)
	assert.Equal(t, []string{"Alpha", "bravo", "charlie", "delta"}, names(docs))

	docs, err = b.QueryPartition(ctx, store.PartitionQuery{PK: pk, Limit: 2, After: docs[0].SortName, Now: now})
	require.NoError(t, err)
	assert.Equal(t, []string{"bravo", "charlie"}, names(docs))

	docs, err = b.QueryPartition(ctx, store.PartitionQuery{PK: pk, IncludeDeleted: true, Now: now})
	require.NoError(t, err)
	assert.Contains(t, names(docs), "echo")

	docs, err = b.QueryPartition(ctx, store.PartitionQuery{PK: pk, IncludeDeleted: true, Now: now.Add(time.Hour)})
	require.NoError(t, err)
	assert.NotContains(t, names(docs), "echo")

	n, err := b.CountPartition(ctx, pk)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestScanWorldAndListWorlds(t *testing.T) {
	ctx := context.Background()
	b := New()
	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, b.Put(ctx, entityDoc("w1", "", id, id), store.Condition{MustNotExist: true}))
	}
	require.NoError(t, b.Put(ctx, entityDoc("w2", "", "z", "z"), store.Condition{MustNotExist: true}))
	world := &store.Document{Key: shard.WorldKey("w1"), Kind: store.KindWorld, ID: "w1", OwnerID: "o", Version: 1}
	require.NoError(t, b.Put(ctx, world, store.Condition{MustNotExist: true}))

	docs, err := b.ScanWorld(ctx, store.WorldScan{WorldID: "w1", After: "a", Now: now})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "b", docs[0].ID)
	assert.Equal(t, "c", docs[1].ID)

	worlds, err := b.ListWorlds(ctx, store.OwnerQuery{OwnerID: "o", Now: now})
	require.NoError(t, err)
	require.Len(t, worlds, 1)
	assert.Equal(t, "w1", worlds[0].ID)

	_, err = b.Locate(ctx, "w1", "w1")
	assert.ErrorIs(t, err, store.ErrNoDocument, "worlds have no locator")
}

func TestExpire(t *testing.T) {
	ctx := context.Background()
	b := New()
	keep := entityDoc("w", "", "keep", "keep")
	gone := entityDoc("w", "", "gone", "gone")
	gone.IsDeleted = true
	gone.PurgeAfter = now.Add(time.Minute)
	for _, d := range []*store.Document{keep, gone} {
		require.NoError(t, b.Put(ctx, d, store.Condition{MustNotExist: true}))
	}

	assert.Empty(t, b.Expire(now))
	assert.Equal(t, 2, b.Len())

	removed := b.Expire(now.Add(time.Minute))
	require.Len(t, removed, 1)
	assert.Equal(t, "gone", removed[0].ID)
	assert.Equal(t, 1, b.Len())

	_, err := b.Locate(ctx, "w", "gone")
	assert.ErrorIs(t, err, store.ErrNoDocument)
}

func TestFault(t *testing.T) {
	ctx := context.Background()
	b := New()
	doc := entityDoc("w", "", "e1", "one")
	boom := errors.New("boom")

	b.SetFault(func(op string, key store.Key) error {
		if op == "put" && key == doc.Key {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, b.Put(ctx, doc, store.Condition{MustNotExist: true}), boom)
	assert.Equal(t, 0, b.Len())

	b.SetFault(nil)
	require.NoError(t, b.Put(ctx, doc, store.Condition{MustNotExist: true}))
}
