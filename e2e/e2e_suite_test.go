//go:build e2e

// Package e2e runs the store against DynamoDB Local in a container.
// Run with: go test -tags=e2e -v ./e2e/...
package e2e_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/jacentio/arbor/schema"
	"github.com/jacentio/arbor/store"
	"github.com/jacentio/arbor/store/dynamo"
)

func TestE2E(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "DynamoDB Store Suite")
}

type testEnv struct {
	ctx       context.Context
	container testcontainers.Container
	client    *dynamodb.Client
	backend   *dynamo.Backend
	store     *store.Store
}

var env *testEnv

var _ = BeforeSuite(func() {
	var err error
	env, err = setupTestEnv()
	Expect(err).NotTo(HaveOccurred())
})

var _ = AfterSuite(func() {
	if env != nil && env.container != nil {
		_ = env.container.Terminate(env.ctx)
	}
})

func setupTestEnv() (*testEnv, error) {
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "amazon/dynamodb-local:latest",
			ExposedPorts: []string{"8000/tcp"},
			Cmd:          []string{"-jar", "DynamoDBLocal.jar", "-inMemory", "-sharedDb"},
			WaitingFor:   wait.ForListeningPort("8000/tcp").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return nil, err
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}
	port, err := container.MappedPort(ctx, "8000/tcp")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion("us-east-1"),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("local", "local", "")),
	)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}
	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		o.BaseEndpoint = aws.String(fmt.Sprintf("http://%s:%s", host, port.Port()))
	})

	table := "arbor-e2e-" + uuid.NewString()[:8]
	if err := dynamo.CreateTable(ctx, client, table, time.Minute); err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}

	registry := schema.NewStaticRegistry()
	registry.Register("location", 3)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := store.DefaultConfig()
	cfg.Shards = 4
	cfg.RetryBaseDelay = 5 * time.Millisecond
	cfg.RetryMaxDelay = 20 * time.Millisecond

	backend := dynamo.New(client, table, logger)
	return &testEnv{
		ctx:       ctx,
		container: container,
		client:    client,
		backend:   backend,
		store:     store.New(backend, schema.NewGovernor(registry), cfg, store.WithLogger(logger)),
	}, nil
}

// newWorld creates a world with a fresh owner so specs do not see each
// other's data.
func newWorld() (string, *store.World) {
	owner := "owner-" + uuid.NewString()
	w, err := env.store.CreateWorld(env.ctx, owner, store.WorldDraft{Name: "World " + owner})
	Expect(err).NotTo(HaveOccurred())
	return owner, w
}

func location(name string) store.EntityDraft {
	return store.EntityDraft{EntityType: "location", SchemaVersion: 1, Name: name}
}
