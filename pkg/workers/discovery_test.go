package workers

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reachvector/leadpipe/pkg/agent"
	"github.com/reachvector/leadpipe/pkg/catalog"
	"github.com/reachvector/leadpipe/pkg/models"
	"github.com/reachvector/leadpipe/pkg/suppress"
)

func discoveryResponse(t *testing.T, companies ...agent.DiscoveredCompany) *agent.Result {
	t.Helper()
	if companies == nil {
		// A nil slice marshals to "companies": null, which violates the
		// list-output schema; an empty response must be a real array.
		companies = []agent.DiscoveredCompany{}
	}
	return agentJSON(t, agent.DiscoveryOutput{Companies: companies})
}

func newTestDiscoveryWorker(t *testing.T, gw *fakeGateway) (*DiscoveryWorker, *suppress.Oracle) {
	t.Helper()
	st := newWorkerStore(t)
	oracle := suppress.New(st, nil, 90*24*time.Hour)
	w := NewDiscoveryWorker(st, testPipelineConfig(), gw, oracle, nil, nil)
	return w, oracle
}

func TestDiscoveryIterateFillsAndAdvances(t *testing.T) {
	ctx := context.Background()

	gw := &fakeGateway{}
	gw.respond = func(inv agent.Invocation) (*agent.Result, error) {
		require.Equal(t, agent.RoleList, inv.Role)
		return discoveryResponse(t,
			agent.DiscoveredCompany{Name: "Alpha PM", Domain: "alphapm.com", State: "TX", QualityScore: 0.9},
			agent.DiscoveredCompany{Name: "Beta PM", Domain: "betapm.com", State: "TX", QualityScore: 0.8},
			agent.DiscoveredCompany{Name: "Gamma PM", Domain: "gammapm.com", State: "TX", QualityScore: 0.7},
			agent.DiscoveredCompany{Name: "Delta PM", Domain: "deltapm.com", State: "TX", QualityScore: 0.6},
		), nil
	}

	w, _ := newTestDiscoveryWorker(t, gw)
	run := createTestRun(t, w.store, 2, 1, 3)

	require.NoError(t, w.iterate(ctx))

	// Oversampled target is 4; one response satisfies it and the stage
	// advances on the final target of 2.
	candidates, err := w.store.ListCompanyCandidates(ctx, run.ID)
	require.NoError(t, err)
	assert.Len(t, candidates, 4)
	for _, c := range candidates {
		assert.True(t, strings.HasPrefix(c.DiscoverySource, "agent:region:"),
			"candidate %s carries its region tag, got %q", c.Domain, c.DiscoverySource)
	}

	updated, err := w.store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageResearch, updated.Stage)

	assert.GreaterOrEqual(t, gw.resets, 1, "session reset after the region pass")
}

func TestDiscoveryIterateRejectsPMSMismatch(t *testing.T) {
	ctx := context.Background()

	gw := &fakeGateway{}
	gw.respond = func(agent.Invocation) (*agent.Result, error) {
		return discoveryResponse(t,
			agent.DiscoveredCompany{Name: "Good", Domain: "good.com", State: "TX", PMS: "appfolio", QualityScore: 0.9},
			agent.DiscoveredCompany{Name: "Unknown PMS", Domain: "nopms.com", State: "TX", QualityScore: 0.8},
			agent.DiscoveredCompany{Name: "Wrong PMS", Domain: "wrongpms.com", State: "TX", PMS: "Yardi", QualityScore: 1.0},
		), nil
	}

	w, _ := newTestDiscoveryWorker(t, gw)
	run := createTestRun(t, w.store, 1, 1, 3)

	require.NoError(t, w.iterate(ctx))

	candidates, err := w.store.ListCompanyCandidates(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, candidates, 3)

	byDomain := map[string]*models.CompanyCandidate{}
	for _, c := range candidates {
		byDomain[c.Domain] = c
	}
	assert.Equal(t, models.CandidateStatusValidated, byDomain["good.com"].Status,
		"pms comparison is case-insensitive")
	assert.Equal(t, models.CandidateStatusValidated, byDomain["nopms.com"].Status,
		"an undetected pms is left for research to settle")
	assert.Equal(t, models.CandidateStatusRejected, byDomain["wrongpms.com"].Status)
	assert.Contains(t, byDomain["wrongpms.com"].RejectedReasons, "pms mismatch")

	gap, err := w.store.CompanyGap(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, gap.CompaniesReady, "rejected rows do not count toward the target")
}

func TestDiscoveryIterateDropsSuppressedAndDuplicates(t *testing.T) {
	ctx := context.Background()

	gw := &fakeGateway{}
	gw.respond = func(agent.Invocation) (*agent.Result, error) {
		return discoveryResponse(t,
			agent.DiscoveredCompany{Name: "Kept", Domain: "Kept.com", QualityScore: 0.5},
			agent.DiscoveredCompany{Name: "Kept Better", Domain: "kept.com", QualityScore: 0.9},
			agent.DiscoveredCompany{Name: "Customer", Domain: "customer.com", QualityScore: 1.0},
			agent.DiscoveredCompany{Name: "Other", Domain: "other.com", QualityScore: 0.4},
		), nil
	}

	w, _ := newTestDiscoveryWorker(t, gw)
	_, err := w.store.DB().Exec(`INSERT INTO blocked_domains (domain) VALUES ('customer.com')`)
	require.NoError(t, err)

	run := createTestRun(t, w.store, 1, 1, 3)
	require.NoError(t, w.iterate(ctx))

	candidates, err := w.store.ListCompanyCandidates(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	byDomain := map[string]*models.CompanyCandidate{}
	for _, c := range candidates {
		byDomain[c.Domain] = c
	}
	require.Contains(t, byDomain, "kept.com")
	assert.Equal(t, "Kept Better", byDomain["kept.com"].Name, "highest score wins the domain")
	assert.NotContains(t, byDomain, "customer.com")
}

func TestDiscoveryIterateHardZeroFailsRun(t *testing.T) {
	ctx := context.Background()

	gw := &fakeGateway{}
	gw.respond = func(agent.Invocation) (*agent.Result, error) {
		return discoveryResponse(t), nil
	}

	w, _ := newTestDiscoveryWorker(t, gw)
	run := createTestRun(t, w.store, 2, 1, 3)

	require.NoError(t, w.iterate(ctx))

	updated, err := w.store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusError, updated.Status)
	assert.Contains(t, updated.Notes, "zero companies")
}

func TestDiscoveryIterateKeepsPollingBelowFinalTarget(t *testing.T) {
	ctx := context.Background()

	gw := &fakeGateway{}
	first := true
	gw.respond = func(agent.Invocation) (*agent.Result, error) {
		if first {
			first = false
			return discoveryResponse(t,
				agent.DiscoveredCompany{Name: "Only One", Domain: "only.com", QualityScore: 0.9}), nil
		}
		return discoveryResponse(t), nil
	}

	w, _ := newTestDiscoveryWorker(t, gw)
	run := createTestRun(t, w.store, 3, 1, 3)

	err := w.iterate(ctx)
	require.ErrorIs(t, err, errNoWork)

	updated, err := w.store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageDiscovery, updated.Stage, "one company does not meet a target of 3")
}

func TestDiscoverySeedsFromCatalogWithoutAgentCalls(t *testing.T) {
	ctx := context.Background()

	gw := &fakeGateway{}
	gw.respond = func(agent.Invocation) (*agent.Result, error) {
		t.Fatal("a fully seeded run must not reach the agent")
		return nil, nil
	}

	st := newWorkerStore(t)
	for i, domain := range []string{"seed1.com", "seed2.com", "seed3.com", "seed4.com"} {
		_, err := st.DB().Exec(`
			INSERT INTO catalog_companies (id, catalog, pms, name, domain, website, city, state, units_estimate)
			VALUES ($1, 'appfolio-customers', 'AppFolio', $2, $3, '', 'Houston', 'TX', $4)`,
			uuid.NewString(), "Seed "+domain, domain, 200+i)
		require.NoError(t, err)
	}

	oracle := suppress.New(st, nil, 90*24*time.Hour)
	w := NewDiscoveryWorker(st, testPipelineConfig(), gw, oracle, catalog.New(st.DB()), nil)

	run := createTestRun(t, st, 2, 1, 3)
	require.NoError(t, w.iterate(ctx))

	candidates, err := st.ListCompanyCandidates(ctx, run.ID)
	require.NoError(t, err)
	assert.Len(t, candidates, 4)
	for _, c := range candidates {
		assert.Equal(t, "seed:appfolio-customers", c.DiscoverySource)
	}

	updated, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageResearch, updated.Stage)
}

func TestDiscoveryIterateNoActiveRuns(t *testing.T) {
	gw := &fakeGateway{}
	w, _ := newTestDiscoveryWorker(t, gw)

	err := w.iterate(context.Background())
	require.ErrorIs(t, err, errNoWork)
	assert.Zero(t, gw.invoked())
}
