package workers

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reachvector/leadpipe/pkg/agent"
	"github.com/reachvector/leadpipe/pkg/config"
	"github.com/reachvector/leadpipe/pkg/models"
	"github.com/reachvector/leadpipe/pkg/store"
	"github.com/reachvector/leadpipe/test/util"
)

// fakeGateway scripts Agent responses per invocation.
type fakeGateway struct {
	mu          sync.Mutex
	invocations []agent.Invocation
	resets      int
	respond     func(inv agent.Invocation) (*agent.Result, error)
}

func (g *fakeGateway) Invoke(_ context.Context, inv agent.Invocation) (*agent.Result, error) {
	g.mu.Lock()
	g.invocations = append(g.invocations, inv)
	g.mu.Unlock()
	return g.respond(inv)
}

func (g *fakeGateway) ResetSession(context.Context) error {
	g.mu.Lock()
	g.resets++
	g.mu.Unlock()
	return nil
}

func (g *fakeGateway) invoked() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.invocations)
}

func testPipelineConfig() *config.PipelineConfig {
	cfg := config.DefaultPipelineConfig()
	cfg.SettleSleep = time.Millisecond
	cfg.RegionTimeout = time.Minute
	cfg.WorkerPollInterval = 10 * time.Millisecond
	return cfg
}

func newWorkerStore(t *testing.T) *store.Store {
	t.Helper()
	return store.New(util.SetupTestDatabase(t))
}

func createTestRun(t *testing.T, st *store.Store, target, contactsMin, contactsMax int) *models.Run {
	t.Helper()
	run, err := st.CreateRun(context.Background(), models.CreateRunRequest{
		Criteria:       models.Criteria{PMS: "AppFolio", State: "TX", UnitsMin: 100},
		TargetQuantity: target,
		ContactsMin:    contactsMin,
		ContactsMax:    contactsMax,
	})
	require.NoError(t, err)
	return run
}

func advanceRun(t *testing.T, st *store.Store, runID string, stages ...models.Stage) {
	t.Helper()
	for _, stage := range stages {
		require.NoError(t, st.SetStage(context.Background(), runID, stage))
	}
}

func insertValidatedCompany(t *testing.T, st *store.Store, runID, name, domain string) *models.CompanyCandidate {
	t.Helper()
	c := &models.CompanyCandidate{
		RunID:           runID,
		Name:            name,
		Domain:          domain,
		State:           "TX",
		DiscoverySource: "agent:region:houston",
		Status:          models.CandidateStatusValidated,
	}
	inserted, err := st.InsertCompanyCandidate(context.Background(), c)
	require.NoError(t, err)
	require.True(t, inserted)
	return c
}

func agentJSON(t *testing.T, v any) *agent.Result {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return &agent.Result{Output: raw}
}

func TestForgetLoopResetsTheCounter(t *testing.T) {
	cfg := testPipelineConfig()
	cfg.WorkerMaxLoops = 2
	b := newBase(models.WorkerTypeDiscovery, nil, cfg)

	require.False(t, b.countLoop("run-1"))
	require.False(t, b.countLoop("run-1"))
	require.True(t, b.countLoop("run-1"), "third iteration exceeds the cap of 2")

	// Finishing a run drops its counter, so the map does not accumulate
	// terminal runs and a re-activated run starts fresh.
	b.forgetLoop("run-1")
	assert.Empty(t, b.loops)
	assert.False(t, b.countLoop("run-1"))
}
