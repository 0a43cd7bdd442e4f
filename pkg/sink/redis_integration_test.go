//go:build integration

package sink

import (
	"context"
	"testing"

	"github.com/Sternrassler/bulk-lookup/pkg/lookup"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedisContainer starts a Redis container and returns a client
func setupRedisContainer(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	endpoint, err := redisContainer.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get Redis endpoint: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("Failed to connect to Redis: %v", err)
	}

	t.Cleanup(func() {
		client.Close()
		redisContainer.Terminate(ctx)
	})

	return client
}

func TestRedisSink_Integration_AppendOnly(t *testing.T) {
	client := setupRedisContainer(t)
	ctx := context.Background()

	s, err := NewRedisSink(client, "", FormatJSONLines)
	require.NoError(t, err)

	batches := [][]lookup.Outcome{
		{lookup.Found("A", "va"), lookup.Missing("B"), lookup.Found("C", "")},
		{lookup.Found("D", "vd")},
	}
	for _, b := range batches {
		require.NoError(t, s.Flush(ctx, b))
	}

	got, err := client.LRange(ctx, DefaultRedisList, 0, -1).Result()
	require.NoError(t, err)
	assert.Equal(t, []string{
		`{"key":"A","value":"va"}`,
		`{"key":"D","value":"vd"}`,
	}, got)

	// A second sink on the same list appends after existing records.
	s2, err := NewRedisSink(client, "", FormatKeyValue)
	require.NoError(t, err)
	require.NoError(t, s2.Flush(ctx, []lookup.Outcome{lookup.Found("E", "ve")}))

	n, err := client.LLen(ctx, DefaultRedisList).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}
