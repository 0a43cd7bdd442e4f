//go:build integration

package main

import (
	"context"
	"testing"

	"github.com/Sternrassler/bulk-lookup/internal/testutil"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis starts a Redis container and returns its address.
func setupRedis(t *testing.T) string {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	return host + ":" + port.Port()
}

// TestRun_FileAndRedis runs the full flow: key file, lookup endpoint, file and Redis sinks.
func TestRun_FileAndRedis(t *testing.T) {
	addr := setupRedis(t)

	mock := testutil.NewMockEndpoint()
	defer mock.Close()
	mock.SetResponse("A", testutil.OK("value-a"))
	mock.SetResponse("B", testutil.NotFound())
	mock.SetResponse("C", testutil.OK("value-c"))
	mock.SetSequence("D", testutil.ServerError(), testutil.OK("never"))

	cfg := testConfig(t, mock, "A\nB\nC\nD\n", 2)
	cfg.Redis.Addr = addr
	cfg.Redis.List = "integration:results"

	stats, err := run(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if stats.Batches != 2 || stats.Found != 2 {
		t.Errorf("Expected 2 batches with 2 found, got %+v", stats)
	}

	lines := readLines(t, cfg.Output)
	if len(lines) != 2 || lines[0] != "A,value-a" || lines[1] != "C,value-c" {
		t.Errorf("Unexpected file output: %q", lines)
	}

	rdb, err := connectRedis(context.Background(), cfg)
	if err != nil {
		t.Fatalf("connectRedis() error = %v", err)
	}
	defer rdb.Close()

	got, err := rdb.LRange(context.Background(), cfg.Redis.List, 0, -1).Result()
	if err != nil {
		t.Fatalf("LRange() error = %v", err)
	}
	if len(got) != 2 || got[0] != "A,value-a" || got[1] != "C,value-c" {
		t.Errorf("Unexpected Redis list: %q", got)
	}

	if mock.RequestCount("D") != 1 {
		t.Errorf("Expected non-200 to be requested once, got %d", mock.RequestCount("D"))
	}
}

func TestRun_RedisUnreachable(t *testing.T) {
	mock := testutil.NewMockEndpoint()
	defer mock.Close()

	cfg := testConfig(t, mock, "A\n", 1)
	cfg.Redis.Addr = "127.0.0.1:1"

	if _, err := run(context.Background(), cfg, zerolog.Nop()); err == nil {
		t.Fatal("Expected error for unreachable Redis")
	}
	if mock.TotalRequests() != 0 {
		t.Errorf("Expected no lookups, got %d", mock.TotalRequests())
	}
}
