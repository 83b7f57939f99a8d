package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seantiz/fusion/internal/engine"
	"github.com/seantiz/fusion/internal/event"
	"github.com/seantiz/fusion/internal/executor"
	"github.com/seantiz/fusion/internal/model"
	"github.com/seantiz/fusion/internal/telemetry"
)

func TestMetricsEndpointServesSharedRegistry(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	promReg := prometheus.NewRegistry()
	workflowMetrics, err := telemetry.NewPrometheus(promReg, logger)
	require.NoError(t, err)
	httpMetrics, err := telemetry.NewHTTPMetrics(promReg)
	require.NoError(t, err)

	broker := event.NewBroker()
	reg := executor.NewRegistry(broker)
	coord := engine.NewCoordinator(reg, logger, engine.WithBroker(broker), engine.WithTelemetry(workflowMetrics))
	t.Cleanup(coord.Cleanup)

	srv := NewServer(":0", coord, reg, logger, WithMetrics(httpMetrics, promReg))
	registerExecutor(t, srv, "A", "analysis", ok)
	def := defineOneStep(t, srv, "A", "analysis")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := coord.Run(ctx, def.ID, nil)
	require.NoError(t, err)
	require.Equal(t, model.StatusCompleted, st.Status)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	health, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	health.Body.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `fusion_http_requests_total{method="GET",path="/healthz",status="200"} 1`)
	assert.Contains(t, string(body), `fusion_run_results_total{status="completed"} 1`)
	assert.Contains(t, string(body), "fusion_step_duration_seconds")
}

func TestServersDoNotShareDefaultMetrics(t *testing.T) {
	first := newTestServer(t)
	second := newTestServer(t)

	ts := httptest.NewServer(first.Router())
	defer ts.Close()
	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()

	families, err := second.gatherer.Gather()
	require.NoError(t, err)
	for _, fam := range families {
		assert.NotEqual(t, "fusion_http_requests_total", fam.GetName(), "second server saw the first server's requests")
	}

	global, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, fam := range global {
		assert.False(t, strings.HasPrefix(fam.GetName(), "fusion_"), "%s registered globally", fam.GetName())
	}
}
