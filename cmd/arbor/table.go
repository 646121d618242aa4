package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/jacentio/arbor/store/dynamo"
)

func newTableCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "table",
		Short: "Provision the DynamoDB table",
	}

	var wait time.Duration
	create := &cobra.Command{
		Use:   "create",
		Short: "Create the table with its indexes, stream and TTL",
		Long: `Create the arbor table if it does not exist, wait until it is active
and enable TTL on the ttl attribute. Running it again is harmless.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.setup(cmd); err != nil {
				return err
			}
			client, err := awsClient(cmd.Context(), a.cfg)
			if err != nil {
				return err
			}
			if err := dynamo.CreateTable(cmd.Context(), client, a.cfg.Table, wait); err != nil {
				return err
			}
			a.logger.Info("table ready", "table", a.cfg.Table)
			return printJSON(cmd.OutOrStdout(), map[string]string{"table": a.cfg.Table, "status": "ACTIVE"})
		},
	}
	create.Flags().DurationVar(&wait, "wait", 2*time.Minute, "how long to wait for the table to become active")

	cmd.AddCommand(create)
	return cmd
}
