package main

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/jacentio/arbor/paginate"
	"github.com/jacentio/arbor/search"
	"github.com/jacentio/arbor/store"
)

func newEntityCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:               "entity",
		Short:             "Manage the entities of a world",
		PersistentPreRunE: a.open,
	}
	cmd.PersistentFlags().String("world", "", "world id")
	_ = cmd.MarkPersistentFlagRequired("world")

	cmd.AddCommand(
		newEntityCreateCmd(a),
		newEntityGetCmd(a),
		newEntityChildrenCmd(a),
		newEntitySubtreeCmd(a),
		newEntityUpdateCmd(a),
		newEntityMoveCmd(a),
		newEntityDeleteCmd(a),
		newEntityRestoreCmd(a),
		newEntityRepairCmd(a),
		newEntitySearchCmd(a),
	)
	return cmd
}

func worldFlag(cmd *cobra.Command) string {
	world, _ := cmd.Flags().GetString("world")
	return world
}

// parentFlag adds --parent. An unset --parent on commands addressing an
// existing entity means "look it up".
func parentFlag(cmd *cobra.Command, usage string) {
	cmd.Flags().String("parent", "", usage)
}

// parentOf returns --parent when given, otherwise the parent recorded for id.
func (a *app) parentOf(ctx context.Context, cmd *cobra.Command, id string, opts store.ReadOptions) (string, error) {
	if cmd.Flags().Changed("parent") {
		parent, _ := cmd.Flags().GetString("parent")
		return parent, nil
	}
	e, err := a.store.Find(ctx, a.caller, worldFlag(cmd), id, opts)
	if err != nil {
		return "", err
	}
	return e.ParentID, nil
}

func newEntityCreateCmd(a *app) *cobra.Command {
	var (
		draft      store.EntityDraft
		properties string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an entity under --parent, or at the world root",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if properties != "" {
				draft.Properties = json.RawMessage(properties)
			}
			parent, _ := cmd.Flags().GetString("parent")
			e, err := a.store.Create(cmd.Context(), a.caller, worldFlag(cmd), parent, draft)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), e)
		},
	}
	parentFlag(cmd, "parent entity id (default: world root)")
	cmd.Flags().StringVar(&draft.EntityType, "type", "", "entity type")
	cmd.Flags().StringVar(&draft.SchemaID, "schema-id", "", "schema identifier")
	cmd.Flags().IntVar(&draft.SchemaVersion, "schema-version", 1, "schema version")
	cmd.Flags().StringVar(&draft.Name, "name", "", "entity name")
	cmd.Flags().StringVar(&draft.Description, "description", "", "entity description")
	cmd.Flags().StringSliceVar(&draft.Tags, "tag", nil, "tag (repeatable)")
	cmd.Flags().StringVar(&properties, "properties", "", "properties as a JSON object")
	return cmd
}

func newEntityGetCmd(a *app) *cobra.Command {
	var opts store.ReadOptions
	cmd := &cobra.Command{
		Use:   "get <entity-id>",
		Short: "Show an entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				e   *store.Entity
				err error
			)
			if cmd.Flags().Changed("parent") {
				parent, _ := cmd.Flags().GetString("parent")
				e, err = a.store.Get(cmd.Context(), a.caller, worldFlag(cmd), parent, args[0], opts)
			} else {
				e, err = a.store.Find(cmd.Context(), a.caller, worldFlag(cmd), args[0], opts)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), e)
		},
	}
	parentFlag(cmd, "parent entity id; empty for the world root")
	cmd.Flags().BoolVar(&opts.IncludeDeleted, "include-deleted", false, "show a soft-deleted entity")
	return cmd
}

func newEntityChildrenCmd(a *app) *cobra.Command {
	var (
		req  paginate.Request
		opts store.ReadOptions
	)
	cmd := &cobra.Command{
		Use:   "children [parent-id]",
		Short: "List the children of an entity, or the root entities",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parent := ""
			if len(args) == 1 {
				parent = args[0]
			}
			page, err := a.store.Children(cmd.Context(), a.caller, worldFlag(cmd), parent, req, opts)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), page)
		},
	}
	pageFlags(cmd, &req)
	cmd.Flags().BoolVar(&opts.IncludeDeleted, "include-deleted", false, "include soft-deleted children")
	return cmd
}

func newEntitySubtreeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "subtree [root-id]",
		Short: "Print an entity and its descendants in pre-order, or the whole world",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := ""
			if len(args) == 1 {
				root = args[0]
			}
			entities := []*store.Entity{}
			for e, err := range a.store.Subtree(cmd.Context(), a.caller, worldFlag(cmd), root) {
				if err != nil {
					return err
				}
				entities = append(entities, e)
			}
			return printJSON(cmd.OutOrStdout(), entities)
		},
	}
}

func newEntityUpdateCmd(a *app) *cobra.Command {
	var (
		name, description, properties, token string
		tags                                 []string
		schemaVersion                        int
	)
	cmd := &cobra.Command{
		Use:   "update <entity-id>",
		Short: "Change fields of an entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			var patch store.EntityPatch
			if flags.Changed("name") {
				patch.Name = &name
			}
			if flags.Changed("description") {
				patch.Description = &description
			}
			if flags.Changed("tag") {
				patch.Tags = &tags
			}
			if flags.Changed("properties") {
				patch.Properties = json.RawMessage(properties)
			}
			if flags.Changed("schema-version") {
				patch.SchemaVersion = &schemaVersion
			}

			parent, err := a.parentOf(cmd.Context(), cmd, args[0], store.ReadOptions{})
			if err != nil {
				return err
			}
			e, err := a.store.Update(cmd.Context(), a.caller, worldFlag(cmd), parent, args[0], patch, store.Token(token))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), e)
		},
	}
	parentFlag(cmd, "parent entity id (default: looked up)")
	cmd.Flags().StringVar(&name, "name", "", "new name")
	cmd.Flags().StringVar(&description, "description", "", "new description")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "replacement tags (repeatable; --tag= clears)")
	cmd.Flags().StringVar(&properties, "properties", "", "replacement properties as a JSON object ('' clears)")
	cmd.Flags().IntVar(&schemaVersion, "schema-version", 0, "new schema version")
	cmd.Flags().StringVar(&token, "token", "", "version token from a previous read")
	return cmd
}

func newEntityMoveCmd(a *app) *cobra.Command {
	var to string
	cmd := &cobra.Command{
		Use:   "move <entity-id>",
		Short: "Move an entity and its subtree under --to, or to the world root",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.store.Move(cmd.Context(), a.caller, worldFlag(cmd), args[0], to)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), e)
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "new parent id (default: world root)")
	return cmd
}

// newEntityDeleteCmd keeps the entity restorable for the configured
// --retention.
func newEntityDeleteCmd(a *app) *cobra.Command {
	var opts store.DeleteOptions
	cmd := &cobra.Command{
		Use:   "delete <entity-id>",
		Short: "Soft-delete an entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parent, err := a.parentOf(cmd.Context(), cmd, args[0], store.ReadOptions{IncludeDeleted: true})
			if err != nil {
				return err
			}
			result, err := a.store.Delete(cmd.Context(), a.caller, worldFlag(cmd), parent, args[0], opts)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
	parentFlag(cmd, "parent entity id (default: looked up)")
	cmd.Flags().BoolVar(&opts.Cascade, "cascade", false, "also delete every descendant")
	return cmd
}

func newEntityRestoreCmd(a *app) *cobra.Command {
	var cascade bool
	cmd := &cobra.Command{
		Use:   "restore <entity-id>",
		Short: "Restore a soft-deleted entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parent, err := a.parentOf(cmd.Context(), cmd, args[0], store.ReadOptions{IncludeDeleted: true})
			if err != nil {
				return err
			}
			result, err := a.store.Restore(cmd.Context(), a.caller, worldFlag(cmd), parent, args[0], cascade)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
	parentFlag(cmd, "parent entity id (default: looked up)")
	cmd.Flags().BoolVar(&cascade, "cascade", false, "also restore descendants deleted with it")
	return cmd
}

func newEntityRepairCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "repair <entity-id>",
		Short: "Recompute depth and path of every descendant",
		Long: `Recompute depth and path below an entity. Use it to finish a move or
rename that was interrupted; running it again is harmless.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := a.store.RepairPaths(cmd.Context(), a.caller, worldFlag(cmd), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
}

func newEntitySearchCmd(a *app) *cobra.Command {
	var (
		q    search.Query
		sort string
		req  paginate.Request
	)
	cmd := &cobra.Command{
		Use:   "search [term]",
		Short: "Find entities by name, description or tag",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				q.Term = args[0]
			}
			var err error
			if q.Sort, err = search.ParseSort(sort); err != nil {
				return err
			}
			q.WorldID = worldFlag(cmd)
			page, err := a.search.Search(cmd.Context(), a.caller, q, req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), page)
		},
	}
	pageFlags(cmd, &req)
	cmd.Flags().StringVar(&q.Filters.EntityType, "type", "", "only entities of this type")
	cmd.Flags().StringSliceVar(&q.Filters.Tags, "tag", nil, "tag glob every result must match (repeatable)")
	cmd.Flags().BoolVar(&q.Filters.LiteralTags, "tag-literal", false, "match --tag values verbatim instead of as globs")
	cmd.Flags().StringVar(&sort, "sort", "name", "name, createdAt or modifiedAt; prefix '-' for descending")
	return cmd
}
