package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/jacentio/arbor/internal/config"
	"github.com/jacentio/arbor/internal/logging"
	"github.com/jacentio/arbor/schema"
	"github.com/jacentio/arbor/search"
	"github.com/jacentio/arbor/store"
	"github.com/jacentio/arbor/store/dynamo"
)

// app holds what the subcommands share once flags are parsed.
type app struct {
	configFile string
	caller     string

	cfg    config.Config
	logger *slog.Logger
	store  *store.Store
	search search.Searcher

	// newBackend opens the document store. Tests replace it.
	newBackend func(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Backend, error)
}

// NewRootCmd creates the root command for the arbor CLI.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&app{newBackend: openDynamo})
}

func newRootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "arbor",
		Short: "Manage arbor worlds and entity trees",
		Long: `arbor stores hierarchical entity trees per world in DynamoDB.
Every command prints JSON on stdout.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&a.configFile, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&a.caller, "caller", "", "caller identity that owns the worlds")
	config.Register(cmd.PersistentFlags())

	cmd.AddCommand(newTableCmd(a))
	cmd.AddCommand(newWorldCmd(a))
	cmd.AddCommand(newEntityCmd(a))

	return cmd
}

// setup loads the configuration and logger.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(cmd.Flags(), a.configFile)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logging.Setup("arbor", version, cfg.LogFormat, cfg.Level(), cmd.ErrOrStderr())
	return nil
}

// open builds the repository. Commands that read or write data run it
// as their PersistentPreRunE.
func (a *app) open(cmd *cobra.Command, _ []string) error {
	if err := a.setup(cmd); err != nil {
		return err
	}
	if a.caller == "" {
		return oops.Code(store.CodeInvalidInput).Wrap(fmt.Errorf("%w: --caller is required", store.ErrInvalidInput))
	}

	registry, err := a.cfg.Registry()
	if err != nil {
		return err
	}
	backend, err := a.newBackend(cmd.Context(), a.cfg, a.logger)
	if err != nil {
		return err
	}
	a.store = store.New(backend, schema.NewGovernor(registry), a.cfg.Store(), store.WithLogger(a.logger))
	a.search = search.New(a.store, a.store.Config().Page, a.logger)
	return nil
}

// awsClient builds a DynamoDB client from the shared AWS configuration.
func awsClient(ctx context.Context, cfg config.Config) (*dynamodb.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

func openDynamo(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Backend, error) {
	client, err := awsClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return dynamo.New(client, cfg.Table, logger), nil
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type errorOutput struct {
	Error   string         `json:"error"`
	Code    string         `json:"code"`
	Context map[string]any `json:"context,omitempty"`
	Result  any            `json:"result,omitempty"`
}

// printError writes err as JSON with its stable code and context.
func printError(w io.Writer, err error) {
	out := errorOutput{Error: err.Error(), Code: store.Code(err)}
	if oopsErr, ok := oops.AsOops(err); ok {
		out.Context = oopsErr.Context()
	}
	var cascadeErr *store.CascadeError
	if errors.As(err, &cascadeErr) {
		out.Result = cascadeErr.Result
	}
	_ = printJSON(w, out)
}
