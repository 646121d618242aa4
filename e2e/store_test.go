//go:build e2e

package e2e_test

import (
	"strconv"

	"github.com/aws/aws-lambda-go/events"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/jacentio/arbor/paginate"
	"github.com/jacentio/arbor/store"
	"github.com/jacentio/arbor/stream"
)

var _ = Describe("Worlds", func() {
	It("lists only the caller's worlds", func() {
		owner, w := newWorld()
		_, _ = newWorld()

		page, err := env.store.ListWorlds(env.ctx, owner, paginate.Request{}, store.ReadOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(page.Items).To(HaveLen(1))
		Expect(page.Items[0].ID).To(Equal(w.ID))
	})

	It("rejects stale version tokens", func() {
		owner, w := newWorld()
		name := "Renamed"

		_, err := env.store.UpdateWorld(env.ctx, owner, w.ID, store.WorldPatch{Name: &name}, w.VersionToken)
		Expect(err).NotTo(HaveOccurred())

		_, err = env.store.UpdateWorld(env.ctx, owner, w.ID, store.WorldPatch{Name: &name}, w.VersionToken)
		Expect(err).To(MatchError(store.ErrConflict))
	})

	It("hides the world from other callers", func() {
		_, w := newWorld()
		_, err := env.store.GetWorld(env.ctx, "intruder", w.ID, store.ReadOptions{})
		Expect(err).To(MatchError(store.ErrUnauthorized))
	})
})

var _ = Describe("Entities", func() {
	var (
		owner string
		world *store.World
	)

	BeforeEach(func() {
		owner, world = newWorld()
	})

	It("builds paths and finds entities by id alone", func() {
		europe, err := env.store.Create(env.ctx, owner, world.ID, "", location("Europe"))
		Expect(err).NotTo(HaveOccurred())
		france, err := env.store.Create(env.ctx, owner, world.ID, europe.ID, location("France"))
		Expect(err).NotTo(HaveOccurred())
		paris, err := env.store.Create(env.ctx, owner, world.ID, france.ID, location("Paris"))
		Expect(err).NotTo(HaveOccurred())
		Expect(paris.Path).To(Equal([]string{"Europe", "France", "Paris"}))
		Expect(paris.Depth).To(Equal(2))

		found, err := env.store.Find(env.ctx, owner, world.ID, paris.ID, store.ReadOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(found.ParentID).To(Equal(france.ID))
	})

	It("refuses children of a missing parent", func() {
		_, err := env.store.Create(env.ctx, owner, world.ID, "missing", location("Orphan"))
		Expect(err).To(MatchError(store.ErrParentNotFound))
	})

	It("pages children in name order", func() {
		parent, err := env.store.Create(env.ctx, owner, world.ID, "", location("Root"))
		Expect(err).NotTo(HaveOccurred())
		for i := 4; i >= 0; i-- {
			_, err := env.store.Create(env.ctx, owner, world.ID, parent.ID, location("child-"+strconv.Itoa(i)))
			Expect(err).NotTo(HaveOccurred())
		}

		var names []string
		req := paginate.Request{Size: 2}
		for {
			page, err := env.store.Children(env.ctx, owner, world.ID, parent.ID, req, store.ReadOptions{})
			Expect(err).NotTo(HaveOccurred())
			for _, e := range page.Items {
				names = append(names, e.Name)
			}
			if page.NextCursor == "" {
				break
			}
			req.Cursor = page.NextCursor
		}
		Expect(names).To(Equal([]string{"child-0", "child-1", "child-2", "child-3", "child-4"}))
	})

	It("moves a subtree and rewrites descendant paths", func() {
		a, err := env.store.Create(env.ctx, owner, world.ID, "", location("A"))
		Expect(err).NotTo(HaveOccurred())
		b, err := env.store.Create(env.ctx, owner, world.ID, "", location("B"))
		Expect(err).NotTo(HaveOccurred())
		c, err := env.store.Create(env.ctx, owner, world.ID, a.ID, location("C"))
		Expect(err).NotTo(HaveOccurred())
		d, err := env.store.Create(env.ctx, owner, world.ID, c.ID, location("D"))
		Expect(err).NotTo(HaveOccurred())

		moved, err := env.store.Move(env.ctx, owner, world.ID, c.ID, b.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(moved.Path).To(Equal([]string{"B", "C"}))

		got, err := env.store.Find(env.ctx, owner, world.ID, d.ID, store.ReadOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Path).To(Equal([]string{"B", "C", "D"}))

		_, err = env.store.Move(env.ctx, owner, world.ID, b.ID, d.ID)
		Expect(err).To(MatchError(store.ErrCircularReference))
	})

	It("soft-deletes and restores a subtree", func() {
		parent, err := env.store.Create(env.ctx, owner, world.ID, "", location("Parent"))
		Expect(err).NotTo(HaveOccurred())
		child, err := env.store.Create(env.ctx, owner, world.ID, parent.ID, location("Child"))
		Expect(err).NotTo(HaveOccurred())

		_, err = env.store.Delete(env.ctx, owner, world.ID, "", parent.ID, store.DeleteOptions{})
		Expect(err).To(MatchError(store.ErrHasChildren))

		result, err := env.store.Delete(env.ctx, owner, world.ID, "", parent.ID, store.DeleteOptions{Cascade: true})
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Succeeded).To(ConsistOf(parent.ID, child.ID))

		_, err = env.store.Find(env.ctx, owner, world.ID, child.ID, store.ReadOptions{})
		Expect(err).To(MatchError(store.ErrNotFound))

		result, err = env.store.Restore(env.ctx, owner, world.ID, "", parent.ID, true)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Succeeded).To(ConsistOf(parent.ID, child.ID))

		got, err := env.store.Find(env.ctx, owner, world.ID, child.ID, store.ReadOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(got.IsDeleted).To(BeFalse())
	})
})

var _ = Describe("Purge handler", func() {
	It("removes the locator of an entity purged by TTL", func() {
		owner, world := newWorld()
		parent, err := env.store.Create(env.ctx, owner, world.ID, "", location("Keep"))
		Expect(err).NotTo(HaveOccurred())
		e, err := env.store.Create(env.ctx, owner, world.ID, parent.ID, location("Doomed"))
		Expect(err).NotTo(HaveOccurred())

		handler := stream.NewHandler(env.backend, nil, nil)
		err = handler.HandlePurge(env.ctx, events.DynamoDBEvent{Records: []events.DynamoDBEventRecord{{
			EventName:    "REMOVE",
			UserIdentity: &events.DynamoDBUserIdentity{Type: "Service", PrincipalID: stream.TTLPrincipal},
			Change: events.DynamoDBStreamRecord{
				OldImage: map[string]events.DynamoDBAttributeValue{
					"kind":      events.NewStringAttribute(string(store.KindEntity)),
					"id":        events.NewStringAttribute(e.ID),
					"world_id":  events.NewStringAttribute(world.ID),
					"parent_id": events.NewStringAttribute(parent.ID),
				},
			},
		}}})
		Expect(err).NotTo(HaveOccurred())

		_, err = env.backend.Locate(env.ctx, world.ID, e.ID)
		Expect(err).To(MatchError(store.ErrNoDocument))

		parentID, err := env.backend.Locate(env.ctx, world.ID, parent.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(parentID).To(BeEmpty())
	})
})
