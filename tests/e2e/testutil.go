package e2e

import (
	"context"
	"fmt"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcpg "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/zap"

	"github.com/elea/athenaeum/internal/memory"
	pgstore "github.com/elea/athenaeum/internal/store"
)

// Suppress unused import warning for testcontainers base package.
var _ = testcontainers.GenericContainerRequest{}

// Package-level shared state — set by TestMain, used by all subtests.
var (
	testLogger   *zap.Logger
	testPGStore  *pgstore.Store
	testRedisURL string
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

// startPostgres starts a PostgreSQL testcontainer, returns DSN + cleanup func.
func startPostgres(ctx context.Context) (string, func(), error) {
	container, err := tcpg.Run(ctx, "postgres:16-alpine",
		tcpg.WithDatabase("athenaeum_test"),
		tcpg.WithUsername("test"),
		tcpg.WithPassword("test"),
		tcpg.BasicWaitStrategies(),
	)
	if err != nil {
		return "", nil, fmt.Errorf("start postgres: %w", err)
	}
	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return "", nil, fmt.Errorf("pg connection string: %w", err)
	}
	cleanup := func() { container.Terminate(ctx) }
	return dsn, cleanup, nil
}

// startRedis starts a Redis testcontainer, returns URL + cleanup func.
func startRedis(ctx context.Context) (string, func(), error) {
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		return "", nil, fmt.Errorf("start redis: %w", err)
	}
	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		container.Terminate(ctx)
		return "", nil, fmt.Errorf("redis endpoint: %w", err)
	}
	url := "redis://" + endpoint
	cleanup := func() { container.Terminate(ctx) }
	return url, cleanup, nil
}

// seedMemoryStore builds a small in-memory stream with every node type, the
// shape an agent accumulates over a short session.
func seedMemoryStore() *memory.Store {
	s := memory.NewStore(testLogger)
	ev := s.AddEvent(t0, nil, memory.Triple{Subject: "Theophilus", Predicate: "reads", Object: "the Physics"},
		"reads the Physics in the west stacks", []string{"physics"}, 6,
		"reads the Physics in the west stacks", []float32{1, 0, 0})
	exp := t0.Add(memory.ThoughtHorizon)
	s.AddThought(t0.Add(time.Minute), &exp, memory.Triple{Subject: "Theophilus", Predicate: "reflects on", Object: "matter"},
		"matter persists beneath change", []string{"matter"}, 7,
		"matter persists beneath change", []float32{0, 1, 0}, []string{ev.ID})
	chatExp := t0.Add(memory.ChatHorizon)
	s.AddChat(t0.Add(2*time.Minute), &chatExp, memory.Triple{Subject: "Theophilus", Predicate: "chat with", Object: "Kallias"},
		"argued with Kallias about rivers", []string{"theophilus", "kallias"}, 5,
		"argued with Kallias about rivers", []float32{0, 0, 1})
	s.AddSource(t0.Add(3*time.Minute), memory.Triple{Subject: "Theophilus", Predicate: "cites", Object: "the Physics"},
		"nature loves to hide", []string{"nature"}, 6, "nature loves to hide",
		nil, "aristotle-physics", "the underlying nature is knowable by analogy")
	return s
}
