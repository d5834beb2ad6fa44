// Package db_test contains integration tests for the SurrealDB client.
// They require a reachable SurrealDB (SURREALDB_URL) and are skipped in
// short mode.
package db_test

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/repokb-go/internal/db"
)

// getTestConfig returns config from environment or defaults for local testing.
func getTestConfig() db.Config {
	return db.Config{
		URL:          getEnv("SURREALDB_URL", "ws://localhost:8000/rpc"),
		Namespace:    getEnv("SURREALDB_NAMESPACE", "test_repokb"),
		Database:     getEnv("SURREALDB_DATABASE", "test_knowledge"),
		Username:     getEnv("SURREALDB_USER", "root"),
		Password:     getEnv("SURREALDB_PASS", "root"),
		AuthLevel:    getEnv("SURREALDB_AUTH_LEVEL", "root"),
		EmbeddingDim: 4,
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func TestClientConnect(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg := getTestConfig()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))

	client, err := db.NewClient(ctx, cfg, logger)
	require.NoError(t, err, "should connect to SurrealDB")
	defer client.Close(ctx)

	assert.NotNil(t, client.DB(), "should have valid DB reference")
	assert.NoError(t, client.Health(ctx), "health check should pass")
}

func TestClientInitSchema(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg := getTestConfig()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))

	client, err := db.NewClient(ctx, cfg, logger)
	require.NoError(t, err, "should connect to SurrealDB")
	defer client.Close(ctx)

	err = client.InitSchema(ctx)
	require.NoError(t, err, "should initialize schema without error")

	result, err := client.Query(ctx, "INFO FOR DB", nil)
	require.NoError(t, err, "should query database info")
	assert.NotNil(t, result, "should return database info")
}
