// Package main is the AWS Lambda consuming the arbor table's stream. It
// cleans up after records removed by the TTL sweep.
//
// Configuration comes from the YAML file named by ARBOR_CONFIG, if set, and
// command line flags (see internal/config).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/spf13/pflag"

	"github.com/jacentio/arbor/internal/config"
	"github.com/jacentio/arbor/internal/logging"
	"github.com/jacentio/arbor/store/dynamo"
	"github.com/jacentio/arbor/stream"
)

var version = "dev"

func main() {
	handler, err := newHandler(context.Background(), os.Args[1:], os.Getenv("ARBOR_CONFIG"))
	if err != nil {
		slog.Error("failed to start purge handler", "error", err)
		os.Exit(1)
	}
	lambda.Start(handler.HandlePurge)
}

func newHandler(ctx context.Context, args []string, configFile string) (*stream.Handler, error) {
	fs := pflag.NewFlagSet("arbor-purge", pflag.ContinueOnError)
	config.Register(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cfg, err := config.Load(fs, configFile)
	if err != nil {
		return nil, err
	}
	logger := logging.SetDefault("arbor-purge", version, cfg.LogFormat, cfg.Level())

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	var assets stream.AssetPurger = stream.LogPurger{Logger: logger}
	if cfg.AssetWebhook != "" {
		assets = stream.NewWebhookPurger(cfg.AssetWebhook, nil)
	}
	logger.Info("purge handler ready", "table", cfg.Table, "assetWebhook", cfg.AssetWebhook != "")
	return stream.NewHandler(dynamo.New(client, cfg.Table, logger), assets, logger), nil
}
