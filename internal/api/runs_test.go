package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seantiz/fusion/internal/engine"
	"github.com/seantiz/fusion/internal/executor"
	"github.com/seantiz/fusion/internal/model"
)

// blocking returns an executor that waits for release and a signal that
// fires once it has been entered.
func blocking(release <-chan struct{}) (execFunc, <-chan struct{}) {
	entered := make(chan struct{}, 1)
	return func(context.Context, executor.ExecContext) (model.ExecutionResult, error) {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
		return model.ExecutionResult{Success: true}, nil
	}, entered
}

func defineOneStep(t *testing.T, srv *Server, executorID, capType string) model.Definition {
	t.Helper()
	def, err := srv.coord.CreateDefinition("wf", []model.Step{{ExecutorID: executorID, CapabilityType: capType, Timeout: 5 * time.Second}})
	require.NoError(t, err)
	return def
}

func TestStartRunAsync(t *testing.T) {
	srv := newTestServer(t)
	registerExecutor(t, srv, "A", "analysis", ok)
	def := defineOneStep(t, srv, "A", "analysis")

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/v1/runs", fmt.Sprintf(`{"definition_id":%q,"metadata":{"user":"u1"}}`, def.ID))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	st := decode[engine.Status](t, resp)
	assert.Equal(t, def.ID, st.DefinitionID)
	assert.Equal(t, 1, st.StepCount)

	require.Eventually(t, func() bool {
		r, err := http.Get(ts.URL + "/v1/runs/" + st.ID)
		if err != nil {
			return false
		}
		defer r.Body.Close()
		var cur engine.Status
		return json.NewDecoder(r.Body).Decode(&cur) == nil && cur.Status == model.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStartRunWait(t *testing.T) {
	srv := newTestServer(t)
	registerExecutor(t, srv, "A", "analysis", ok)
	def := defineOneStep(t, srv, "A", "analysis")

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/v1/runs?wait=true", fmt.Sprintf(`{"definition_id":%q}`, def.ID))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	st := decode[engine.Status](t, resp)
	assert.Equal(t, model.StatusCompleted, st.Status)
	assert.Equal(t, 100, st.Progress)
	require.Len(t, st.Results, 1)
	assert.True(t, st.Results[0].Result.Success)
}

func TestStartRunErrors(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	tests := []struct {
		name string
		body string
		want int
	}{
		{"unknown definition", `{"definition_id":"missing"}`, http.StatusNotFound},
		{"missing definition id", `{}`, http.StatusBadRequest},
		{"bad json", `nope`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, ts.URL+"/v1/runs", tt.body)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestStartRunAfterShutdown(t *testing.T) {
	srv := newTestServer(t)
	registerExecutor(t, srv, "A", "analysis", ok)
	def := defineOneStep(t, srv, "A", "analysis")
	srv.coord.Cleanup()

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/v1/runs", fmt.Sprintf(`{"definition_id":%q}`, def.ID))
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestGetRunNotFound(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/runs/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStopRun(t *testing.T) {
	srv := newTestServer(t)
	release := make(chan struct{})
	defer close(release)
	fn, entered := blocking(release)
	registerExecutor(t, srv, "B", "token-transfer", fn)
	def := defineOneStep(t, srv, "B", "token-transfer")

	st, err := srv.coord.Start(def.ID, nil)
	require.NoError(t, err)
	<-entered

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	del := func(id string) *http.Response {
		req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/v1/runs/"+id, nil)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	resp := del(st.ID)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[stopRunResponse](t, resp)
	assert.True(t, body.Stopped)
	assert.Equal(t, model.StatusFailed, body.Run.Status)
	require.NotNil(t, body.Run.Error)
	assert.Equal(t, model.KindStoppedByUser, body.Run.Error.Kind)

	again := decode[stopRunResponse](t, del(st.ID))
	assert.False(t, again.Stopped)

	assert.Equal(t, http.StatusNotFound, del("nope").StatusCode)
}

func TestListRunsPagination(t *testing.T) {
	srv := newTestServer(t)
	registerExecutor(t, srv, "A", "analysis", ok)
	def := defineOneStep(t, srv, "A", "analysis")
	for range 5 {
		_, err := srv.coord.Run(t.Context(), def.ID, nil)
		require.NoError(t, err)
	}

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/runs?limit=2&offset=4")
	require.NoError(t, err)
	defer resp.Body.Close()

	body := decode[listRunsResponse](t, resp)
	assert.Equal(t, 5, body.Total)
	assert.Equal(t, 2, body.Limit)
	assert.Len(t, body.Runs, 1)

	resp2, err := http.Get(ts.URL + "/v1/runs?limit=0&offset=-1")
	require.NoError(t, err)
	defer resp2.Body.Close()
	body2 := decode[listRunsResponse](t, resp2)
	assert.Equal(t, defaultListLimit, body2.Limit)
	assert.Equal(t, 0, body2.Offset)
	assert.Len(t, body2.Runs, 5)
}

func TestListExecutors(t *testing.T) {
	srv := newTestServer(t)
	registerExecutor(t, srv, "A", "analysis", ok)
	registerExecutor(t, srv, "B", "token-transfer", ok)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/executors")
	require.NoError(t, err)
	defer resp.Body.Close()
	all := decode[[]executor.Info](t, resp)
	require.Len(t, all, 2)
	assert.Equal(t, "A", all[0].ID)

	filtered, err := http.Get(ts.URL + "/v1/executors?capability=token-transfer")
	require.NoError(t, err)
	defer filtered.Body.Close()
	infos := decode[[]executor.Info](t, filtered)
	require.Len(t, infos, 1)
	assert.Equal(t, "B", infos[0].ID)
}

func TestStatsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	registerExecutor(t, srv, "A", "analysis", ok)
	registerExecutor(t, srv, "F", "report", func(context.Context, executor.ExecContext) (model.ExecutionResult, error) {
		return model.ExecutionResult{Success: false}, nil
	})
	good := defineOneStep(t, srv, "A", "analysis")
	bad := defineOneStep(t, srv, "F", "report")

	_, err := srv.coord.Run(t.Context(), good.ID, nil)
	require.NoError(t, err)
	_, err = srv.coord.Run(t.Context(), bad.ID, nil)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/stats")
	require.NoError(t, err)
	defer resp.Body.Close()

	stats := decode[statsResponse](t, resp)
	assert.Equal(t, 2, stats.Definitions)
	assert.Equal(t, 2, stats.Executors)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.ByStatus[model.StatusCompleted])
	assert.Equal(t, 1, stats.ByStatus[model.StatusFailed])
	assert.Equal(t, 0, stats.ByStatus[model.StatusRunning])
}
