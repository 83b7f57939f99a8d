package api

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seantiz/fusion/internal/engine"
	"github.com/seantiz/fusion/internal/model"
)

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestCreateDefinitionValid(t *testing.T) {
	srv := newTestServer(t)
	registerExecutor(t, srv, "A", "analysis", ok)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/v1/definitions",
		`{"name":"swap","steps":[{"executor_id":"A","capability_type":"analysis","requirements":["model"],"timeout_ms":1500}]}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	def := decode[model.Definition](t, resp)
	assert.Len(t, def.ID, 26)
	assert.Equal(t, "swap", def.Name)
	require.Len(t, def.Steps, 1)
	assert.Equal(t, 1500*time.Millisecond, def.Steps[0].Timeout)
	assert.Equal(t, []string{"model"}, def.Steps[0].Requirements)
}

func TestCreateDefinitionInvalid(t *testing.T) {
	srv := newTestServer(t)
	registerExecutor(t, srv, "A", "analysis", ok)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/v1/definitions",
		`{"name":"bad","steps":[{"executor_id":"A","capability_type":"token-transfer"},{"executor_id":"ghost","capability_type":"analysis"}]}`)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	body := decode[validationResponse](t, resp)
	require.Len(t, body.Violations, 2)
	assert.Equal(t, engine.ViolationCapabilityMissing, body.Violations[0].Kind)
	assert.Equal(t, engine.ViolationExecutorNotFound, body.Violations[1].Kind)
	assert.Equal(t, 1, body.Violations[1].Step)
}

func TestCreateDefinitionBadJSON(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/v1/definitions", `{"name":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetAndListDefinitions(t *testing.T) {
	srv := newTestServer(t)
	registerExecutor(t, srv, "A", "analysis", ok)
	def, err := srv.coord.CreateDefinition("one", []model.Step{{ExecutorID: "A", CapabilityType: "analysis"}})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/definitions/" + def.ID)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, def.ID, decode[model.Definition](t, resp).ID)

	list, err := http.Get(ts.URL + "/v1/definitions")
	require.NoError(t, err)
	defer list.Body.Close()
	defs := decode[[]model.Definition](t, list)
	require.Len(t, defs, 1)
	assert.Equal(t, "one", defs[0].Name)

	missing, err := http.Get(ts.URL + "/v1/definitions/nope")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestListDefinitionRuns(t *testing.T) {
	srv := newTestServer(t)
	registerExecutor(t, srv, "A", "analysis", ok)
	def, err := srv.coord.CreateDefinition("one", []model.Step{{ExecutorID: "A", CapabilityType: "analysis"}})
	require.NoError(t, err)

	st, err := srv.coord.Run(t.Context(), def.ID, nil)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	var body definitionRunsResponse
	require.Eventually(t, func() bool {
		resp, err := http.Get(ts.URL + "/v1/definitions/" + def.ID + "/runs")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		if json.NewDecoder(resp.Body).Decode(&body) != nil {
			return false
		}
		return len(body.Runs) == 1 && body.Runs[0].Status == model.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, def.ID, body.DefinitionID)
	assert.Equal(t, st.ID, body.Runs[0].ID)

	missing, err := http.Get(ts.URL + "/v1/definitions/nope/runs")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}
