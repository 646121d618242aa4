package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHandler(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")

	h, err := newHandler(context.Background(),
		[]string{"--region=eu-west-1", "--endpoint=http://127.0.0.1:1", "--log-level=error"}, "")
	require.NoError(t, err)

	// Records other than TTL removals never reach DynamoDB.
	err = h.HandlePurge(context.Background(), events.DynamoDBEvent{Records: []events.DynamoDBEventRecord{
		{EventName: "INSERT"},
		{EventName: "REMOVE"},
	}})
	assert.NoError(t, err)
}

func TestNewHandler_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "purge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log-format: xml\n"), 0o600))

	_, err := newHandler(context.Background(), nil, path)
	assert.ErrorContains(t, err, "log-format")
}

func TestNewHandler_BadFlag(t *testing.T) {
	_, err := newHandler(context.Background(), []string{"--no-such-flag"}, "")
	assert.Error(t, err)
}
