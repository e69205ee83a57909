package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reachvector/leadpipe/pkg/api"
	"github.com/reachvector/leadpipe/pkg/config"
	"github.com/reachvector/leadpipe/pkg/models"
	"github.com/reachvector/leadpipe/pkg/store"
	"github.com/reachvector/leadpipe/test/util"
)

type testServer struct {
	store   *store.Store
	handler http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st := store.New(util.SetupTestDatabase(t))
	srv := api.NewServer(st, config.DefaultPipelineConfig(), nil)
	return &testServer{store: st, handler: srv.Handler()}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) createRun(t *testing.T) *models.Run {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/v1/runs", models.CreateRunRequest{
		Criteria:       models.Criteria{PMS: "AppFolio", State: "TX", UnitsMin: 100},
		TargetQuantity: 2,
		ContactsMin:    1,
		ContactsMax:    3,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var run models.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	return &run
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestCreateAndGetRun(t *testing.T) {
	ts := newTestServer(t)
	run := ts.createRun(t)
	assert.Equal(t, models.StageDiscovery, run.Stage)
	assert.Equal(t, models.RunStatusActive, run.Status)

	rec := ts.do(t, http.MethodGet, "/api/v1/runs/"+run.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got models.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, "AppFolio", got.Criteria.PMS)
}

func TestCreateRunRejectsBadBody(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/api/v1/runs", map[string]any{
		"criteria": map[string]any{"pms": "AppFolio"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "target_quantity is required")
}

func TestGetRunNotFound(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/api/v1/runs/9f3a2b1c-0000-0000-0000-000000000000", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListRunsFiltersByStage(t *testing.T) {
	ts := newTestServer(t)
	ts.createRun(t)

	rec := ts.do(t, http.MethodGet, "/api/v1/runs?stage=discovery", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed struct {
		Runs []*models.Run `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.Len(t, listed.Runs, 1)

	rec = ts.do(t, http.MethodGet, "/api/v1/runs?stage=research", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.Empty(t, listed.Runs)
	assert.Contains(t, rec.Body.String(), `"runs":[]`, "empty list, not null")
}

func TestResumePlan(t *testing.T) {
	ts := newTestServer(t)
	run := ts.createRun(t)

	rec := ts.do(t, http.MethodGet, "/api/v1/runs/"+run.ID+"/resume-plan", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var plan models.ResumePlan
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &plan))
	assert.Equal(t, run.ID, plan.RunID)
	assert.Equal(t, models.StageDiscovery, plan.Stage)
}

func TestExportCompanies(t *testing.T) {
	ts := newTestServer(t)
	run := ts.createRun(t)

	_, err := ts.store.InsertCompanyCandidate(context.Background(), &models.CompanyCandidate{
		RunID:           run.ID,
		Name:            "Alpha PM",
		Domain:          "alphapm.com",
		DiscoverySource: "agent:list",
		Status:          models.CandidateStatusValidated,
	})
	require.NoError(t, err)

	rec := ts.do(t, http.MethodGet, "/api/v1/runs/"+run.ID+"/export?kind=companies", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/csv")
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "companies-"+run.ID)

	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "run_id,company_id,name,domain"))
	assert.Contains(t, lines[1], "alphapm.com")
}

func TestExportRejectsUnknownKind(t *testing.T) {
	ts := newTestServer(t)
	run := ts.createRun(t)
	rec := ts.do(t, http.MethodGet, "/api/v1/runs/"+run.ID+"/export?kind=leads", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDecisionRequiresParkedRun(t *testing.T) {
	ts := newTestServer(t)
	run := ts.createRun(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/runs/"+run.ID+"/decision",
		map[string]string{"decision": "accept_partial"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "not awaiting a decision")
}

func TestDecisionAcceptPartialCompletesRun(t *testing.T) {
	ts := newTestServer(t)
	run := ts.createRun(t)
	require.NoError(t, ts.store.SetStatus(context.Background(), run.ID,
		models.RunStatusNeedsUserDecision, "stalled short of target"))

	rec := ts.do(t, http.MethodPost, "/api/v1/runs/"+run.ID+"/decision",
		map[string]string{"decision": "accept_partial"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	updated, err := ts.store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, updated.Status)
}

func TestDecisionExpandGeographyLeavesStatus(t *testing.T) {
	ts := newTestServer(t)
	run := ts.createRun(t)
	require.NoError(t, ts.store.SetStatus(context.Background(), run.ID,
		models.RunStatusNeedsUserDecision, "stalled short of target"))

	rec := ts.do(t, http.MethodPost, "/api/v1/runs/"+run.ID+"/decision",
		map[string]string{"decision": "expand_geography"})
	require.Equal(t, http.StatusOK, rec.Code)

	updated, err := ts.store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusNeedsUserDecision, updated.Status)
	assert.Contains(t, updated.Notes, "expand_geography requested")
}

func TestDecisionRejectsUnknownChoice(t *testing.T) {
	ts := newTestServer(t)
	run := ts.createRun(t)
	rec := ts.do(t, http.MethodPost, "/api/v1/runs/"+run.ID+"/decision",
		map[string]string{"decision": "give_up"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestArchiveAndUnarchive(t *testing.T) {
	ts := newTestServer(t)
	run := ts.createRun(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/runs/"+run.ID+"/archive", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	updated, err := ts.store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	require.Equal(t, models.RunStatusArchived, updated.Status)

	rec = ts.do(t, http.MethodPost, "/api/v1/runs/"+run.ID+"/unarchive", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	updated, err = ts.store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusNeedsUserDecision, updated.Status)
}

func TestArchivedRunRejectsDecision(t *testing.T) {
	ts := newTestServer(t)
	run := ts.createRun(t)
	require.NoError(t, ts.store.ArchiveRun(context.Background(), run.ID))

	rec := ts.do(t, http.MethodPost, "/api/v1/runs/"+run.ID+"/decision",
		map[string]string{"decision": "accept_partial"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestListWorkers(t *testing.T) {
	ts := newTestServer(t)
	require.NoError(t, ts.store.UpsertHeartbeat(context.Background(), &models.WorkerHeartbeat{
		WorkerID:   "discovery-test-1",
		WorkerType: models.WorkerTypeDiscovery,
		Status:     models.WorkerStatusIdle,
	}))

	rec := ts.do(t, http.MethodGet, "/api/v1/workers", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var listed struct {
		Workers []*models.WorkerHeartbeat `json:"workers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed.Workers, 1)
	assert.Equal(t, "discovery-test-1", listed.Workers[0].WorkerID)
}
