// testserver starts a Fusion API server with stub executors for E2E testing.
// Usage: go run ./cmd/testserver
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/seantiz/fusion/internal/api"
	"github.com/seantiz/fusion/internal/engine"
	"github.com/seantiz/fusion/internal/event"
	"github.com/seantiz/fusion/internal/executor"
	"github.com/seantiz/fusion/internal/model"
	"github.com/seantiz/fusion/internal/store"
)

// stubExecutor returns an executor that sleeps for delay and then succeeds
// with the given explanation.
func stubExecutor(id, capType string, delay time.Duration, explanation string) *executor.Func {
	return &executor.Func{
		Name: id,
		Caps: []executor.Capability{{Type: capType, Enabled: true, Confidence: 0.9}},
		Fn: func(ctx context.Context, ec executor.ExecContext) (model.ExecutionResult, error) {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return model.ExecutionResult{}, ctx.Err()
			}
			return model.ExecutionResult{
				Success:     true,
				Confidence:  0.9,
				Payload:     map[string]any{"run_id": ec.RunID, "step": ec.StepIndex},
				Explanation: explanation,
			}, nil
		},
	}
}

func main() {
	addr := ":8080"
	if v := os.Getenv("FUSION_LISTEN_ADDR"); v != "" {
		addr = v
	}

	db, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	broker := event.NewBroker()
	defer broker.Shutdown()

	reg := executor.NewRegistry(broker)
	stubs := []*executor.Func{
		stubExecutor("stub-analysis", "analysis", 500*time.Millisecond, "risk within bounds"),
		stubExecutor("stub-transfer", "token-transfer", 500*time.Millisecond, "transfer submitted"),
		{
			Name: "stub-broken",
			Caps: []executor.Capability{{Type: "report", Enabled: true}},
			Fn: func(context.Context, executor.ExecContext) (model.ExecutionResult, error) {
				return model.ExecutionResult{Success: false, Explanation: "report backend unavailable"}, nil
			},
		},
	}
	for _, s := range stubs {
		if _, err := reg.Register(s); err != nil {
			log.Fatalf("failed to register %s: %v", s.Name, err)
		}
	}

	coord := engine.NewCoordinator(reg, logger, engine.WithStore(db), engine.WithBroker(broker))
	defer coord.Cleanup()

	srv := api.NewServer(addr, coord, reg, logger)

	logger.Info("testserver: starting", "addr", addr)
	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
