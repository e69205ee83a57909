package workers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reachvector/leadpipe/pkg/agent"
	"github.com/reachvector/leadpipe/pkg/models"
)

func researchResponse(t *testing.T, meets *bool, confidence float64, reason string) *agent.Result {
	t.Helper()
	return agentJSON(t, agent.ResearchOutput{
		Facts: map[string]any{
			"pms_confirmed":     true,
			"analysis_markdown": "# Analysis\nLooks solid.",
		},
		Confidence:           confidence,
		MeetsAllRequirements: meets,
		RejectedReason:       reason,
	})
}

func newTestResearchWorker(t *testing.T, gw *fakeGateway) *ResearchWorker {
	t.Helper()
	return NewResearchWorker(newWorkerStore(t), testPipelineConfig(), gw)
}

func TestResearchIterateEnrichesCompany(t *testing.T) {
	ctx := context.Background()
	meets := true

	gw := &fakeGateway{}
	gw.respond = func(inv agent.Invocation) (*agent.Result, error) {
		require.Equal(t, agent.RoleResearch, inv.Role)
		return researchResponse(t, &meets, 0.9, ""), nil
	}

	w := newTestResearchWorker(t, gw)
	run := createTestRun(t, w.store, 1, 1, 3)
	company := insertValidatedCompany(t, w.store, run.ID, "Alpha PM", "alphapm.com")
	advanceRun(t, w.store, run.ID, models.StageResearch)

	require.NoError(t, w.iterate(ctx))

	research, err := w.store.GetCompanyResearch(ctx, run.ID, company.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ResearchStatusComplete, research.Status)
	assert.InDelta(t, 0.9, research.Confidence, 0.001)
	assert.Equal(t, "# Analysis\nLooks solid.", research.Facts["analysis_markdown"])

	kept, err := w.store.GetCompanyCandidate(ctx, company.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CandidateStatusValidated, kept.Status)
	assert.Empty(t, kept.WorkerID, "lease released after the iteration")
}

func TestResearchIterateRejectsDisqualified(t *testing.T) {
	ctx := context.Background()
	meets := false

	gw := &fakeGateway{}
	gw.respond = func(agent.Invocation) (*agent.Result, error) {
		return researchResponse(t, &meets, 0.8, "runs Yardi, not AppFolio"), nil
	}

	w := newTestResearchWorker(t, gw)
	run := createTestRun(t, w.store, 1, 1, 3)
	company := insertValidatedCompany(t, w.store, run.ID, "Wrong PMS Co", "wrongpms.com")
	advanceRun(t, w.store, run.ID, models.StageResearch)

	require.NoError(t, w.iterate(ctx))

	rejected, err := w.store.GetCompanyCandidate(ctx, company.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CandidateStatusRejected, rejected.Status)
	assert.Contains(t, rejected.RejectedReasons, "runs Yardi, not AppFolio")
}

func TestResearchIterateInconclusiveKeepsCandidate(t *testing.T) {
	ctx := context.Background()

	gw := &fakeGateway{}
	gw.respond = func(agent.Invocation) (*agent.Result, error) {
		return researchResponse(t, nil, 0.4, ""), nil
	}

	w := newTestResearchWorker(t, gw)
	run := createTestRun(t, w.store, 1, 1, 3)
	company := insertValidatedCompany(t, w.store, run.ID, "Maybe Co", "maybe.com")
	advanceRun(t, w.store, run.ID, models.StageResearch)

	require.NoError(t, w.iterate(ctx))

	kept, err := w.store.GetCompanyCandidate(ctx, company.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CandidateStatusValidated, kept.Status)
}

func TestResearchIterateSurvivesContractViolation(t *testing.T) {
	ctx := context.Background()

	gw := &fakeGateway{}
	gw.respond = func(agent.Invocation) (*agent.Result, error) {
		return &agent.Result{Output: []byte(`{"facts": {}}`)}, nil
	}

	w := newTestResearchWorker(t, gw)
	run := createTestRun(t, w.store, 1, 1, 3)
	company := insertValidatedCompany(t, w.store, run.ID, "Broken Co", "broken.com")
	advanceRun(t, w.store, run.ID, models.StageResearch)

	require.NoError(t, w.iterate(ctx), "a failed company never fails the run")

	research, err := w.store.GetCompanyResearch(ctx, run.ID, company.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ResearchStatusFailed, research.Status)

	updated, err := w.store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusActive, updated.Status)
	assert.Contains(t, updated.Notes, "research failed for broken.com")
	assert.Equal(t, 1, gw.invoked(), "schema violations are not retried")
}

func TestResearchIterateAdvancesWhenQueueDrained(t *testing.T) {
	ctx := context.Background()
	meets := true

	gw := &fakeGateway{}
	gw.respond = func(agent.Invocation) (*agent.Result, error) {
		return researchResponse(t, &meets, 0.9, ""), nil
	}

	w := newTestResearchWorker(t, gw)
	run := createTestRun(t, w.store, 1, 1, 3)
	insertValidatedCompany(t, w.store, run.ID, "Alpha PM", "alphapm.com")
	advanceRun(t, w.store, run.ID, models.StageResearch)

	require.NoError(t, w.iterate(ctx))
	require.NoError(t, w.iterate(ctx), "drained queue advances the stage")

	updated, err := w.store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageContacts, updated.Stage)
}
