package main

import (
	"github.com/spf13/cobra"

	"github.com/jacentio/arbor/paginate"
	"github.com/jacentio/arbor/store"
)

func newWorldCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:               "world",
		Short:             "Manage worlds",
		PersistentPreRunE: a.open,
	}
	cmd.AddCommand(
		newWorldCreateCmd(a),
		newWorldGetCmd(a),
		newWorldListCmd(a),
		newWorldUpdateCmd(a),
		newWorldDeleteCmd(a),
		newWorldRestoreCmd(a),
	)
	return cmd
}

func newWorldCreateCmd(a *app) *cobra.Command {
	var draft store.WorldDraft
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a world owned by the caller",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w, err := a.store.CreateWorld(cmd.Context(), a.caller, draft)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), w)
		},
	}
	cmd.Flags().StringVar(&draft.Name, "name", "", "world name")
	cmd.Flags().StringVar(&draft.Description, "description", "", "world description")
	return cmd
}

func newWorldGetCmd(a *app) *cobra.Command {
	var opts store.ReadOptions
	cmd := &cobra.Command{
		Use:   "get <world-id>",
		Short: "Show a world",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := a.store.GetWorld(cmd.Context(), a.caller, args[0], opts)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), w)
		},
	}
	cmd.Flags().BoolVar(&opts.IncludeDeleted, "include-deleted", false, "show a soft-deleted world")
	return cmd
}

func newWorldListCmd(a *app) *cobra.Command {
	var (
		req  paginate.Request
		opts store.ReadOptions
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the caller's worlds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			page, err := a.store.ListWorlds(cmd.Context(), a.caller, req, opts)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), page)
		},
	}
	pageFlags(cmd, &req)
	cmd.Flags().BoolVar(&opts.IncludeDeleted, "include-deleted", false, "include soft-deleted worlds")
	return cmd
}

func newWorldUpdateCmd(a *app) *cobra.Command {
	var name, description, token string
	cmd := &cobra.Command{
		Use:   "update <world-id>",
		Short: "Rename or describe a world",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch store.WorldPatch
			if cmd.Flags().Changed("name") {
				patch.Name = &name
			}
			if cmd.Flags().Changed("description") {
				patch.Description = &description
			}
			w, err := a.store.UpdateWorld(cmd.Context(), a.caller, args[0], patch, store.Token(token))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), w)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "new name")
	cmd.Flags().StringVar(&description, "description", "", "new description")
	cmd.Flags().StringVar(&token, "token", "", "version token from a previous read")
	return cmd
}

// newWorldDeleteCmd keeps the world restorable for the configured
// --retention.
func newWorldDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <world-id>",
		Short: "Soft-delete a world and every entity in it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := a.store.DeleteWorld(cmd.Context(), a.caller, args[0], 0)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
}

func newWorldRestoreCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <world-id>",
		Short: "Restore a soft-deleted world and the entities deleted with it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := a.store.RestoreWorld(cmd.Context(), a.caller, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
}

func pageFlags(cmd *cobra.Command, req *paginate.Request) {
	cmd.Flags().IntVar(&req.Size, "size", 0, "page size (default: configured page size)")
	cmd.Flags().StringVar(&req.Cursor, "cursor", "", "cursor from a previous page")
}
