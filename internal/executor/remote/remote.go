// Package remote implements executors that delegate a step to an HTTP
// service. The service receives the execution context as JSON and answers
// with an execution result.
package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"time"

	json "github.com/goccy/go-json"

	"github.com/seantiz/fusion/internal/executor"
	"github.com/seantiz/fusion/internal/model"
)

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 1 << 20

// Compile-time interface satisfaction check.
var _ executor.Executor = (*Executor)(nil)

// Executor invokes a remote HTTP endpoint for every step.
type Executor struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

// New creates a remote executor. A nil client uses http.DefaultClient; the
// step deadline arrives through the request context.
func New(cfg Config, client *http.Client, logger *slog.Logger) *Executor {
	if client == nil {
		client = http.DefaultClient
	}
	cfg.Capabilities = slices.Clone(cfg.Capabilities)
	return &Executor{cfg: cfg, client: client, logger: logger}
}

// ID implements executor.Executor.
func (e *Executor) ID() string { return e.cfg.ID }

// Capabilities implements executor.Executor.
func (e *Executor) Capabilities() []executor.Capability {
	return slices.Clone(e.cfg.Capabilities)
}

// Execute implements executor.Executor. HTTP and transport failures are
// reported as unsuccessful results. An expired context is returned as an
// error so the caller can tell it apart from a remote failure.
func (e *Executor) Execute(ctx context.Context, ec executor.ExecContext) (model.ExecutionResult, error) {
	body, err := json.Marshal(ec)
	if err != nil {
		return model.ExecutionResult{}, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return model.ExecutionResult{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "fusion/1.0")
	for k, v := range e.cfg.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return model.ExecutionResult{}, ctxErr
		}
		e.logger.Warn("remote executor request failed",
			"executor_id", e.cfg.ID,
			"run_id", ec.RunID,
			"duration", time.Since(start),
			"error", err,
		)
		return failure("request failed: %v", err), nil
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return model.ExecutionResult{}, ctxErr
		}
		return failure("read response: %v", err), nil
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		e.logger.Warn("remote executor returned error status",
			"executor_id", e.cfg.ID,
			"run_id", ec.RunID,
			"status_code", resp.StatusCode,
		)
		return failure("HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(data)), nil
	}

	var res model.ExecutionResult
	if err := json.Unmarshal(data, &res); err != nil {
		return failure("decode response: %v", err), nil
	}
	return res, nil
}

func failure(format string, args ...any) model.ExecutionResult {
	return model.Failure(model.KindExecutorReportedFailure, fmt.Sprintf(format, args...))
}

// RegisterAll creates an executor for every declaration and registers it.
// It stops at the first registration error.
func RegisterAll(reg *executor.Registry, cfgs []Config, client *http.Client, logger *slog.Logger) ([]string, error) {
	ids := make([]string, 0, len(cfgs))
	for _, c := range cfgs {
		id, err := reg.Register(New(c, client, logger))
		if err != nil {
			return ids, fmt.Errorf("register %q: %w", c.ID, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
