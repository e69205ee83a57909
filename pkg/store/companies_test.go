package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reachvector/leadpipe/pkg/models"
	"github.com/reachvector/leadpipe/pkg/store"
)

func insertCompany(t *testing.T, s *store.Store, runID, domain string, status models.CandidateStatus) *models.CompanyCandidate {
	t.Helper()
	c := &models.CompanyCandidate{
		RunID:  runID,
		Name:   domain,
		Domain: domain,
		Status: status,
	}
	inserted, err := s.InsertCompanyCandidate(context.Background(), c)
	require.NoError(t, err)
	require.True(t, inserted)
	return c
}

func TestInsertCompanyCandidateIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	run := createRun(t, s, 5)

	first := &models.CompanyCandidate{RunID: run.ID, Name: "Acme PM", Domain: "Acme-PM.com"}
	inserted, err := s.InsertCompanyCandidate(ctx, first)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, models.CandidateStatusCandidate, first.Status, "status defaults to candidate")

	// Same domain, different case: absorbed, not an error.
	dup := &models.CompanyCandidate{RunID: run.ID, Name: "Acme PM", Domain: "ACME-PM.COM"}
	inserted, err = s.InsertCompanyCandidate(ctx, dup)
	require.NoError(t, err)
	assert.False(t, inserted)

	all, err := s.ListCompanyCandidates(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "acme-pm.com", all[0].Domain, "domain stored lowercased")
}

func TestInsertCompanyCandidateIdempotencyKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	run := createRun(t, s, 5)

	first := &models.CompanyCandidate{RunID: run.ID, Name: "A", Domain: "a.com", IdempotencyKey: "seed:batch-1"}
	inserted, err := s.InsertCompanyCandidate(ctx, first)
	require.NoError(t, err)
	assert.True(t, inserted)

	dup := &models.CompanyCandidate{RunID: run.ID, Name: "B", Domain: "b.com", IdempotencyKey: "seed:batch-1"}
	inserted, err = s.InsertCompanyCandidate(ctx, dup)
	require.NoError(t, err)
	assert.False(t, inserted)
}

func TestClaimCompanyForResearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	run := createRun(t, s, 5)

	first := insertCompany(t, s, run.ID, "one.com", models.CandidateStatusValidated)
	insertCompany(t, s, run.ID, "two.com", models.CandidateStatusValidated)
	insertCompany(t, s, run.ID, "raw.com", models.CandidateStatusCandidate)

	claimed, err := s.ClaimCompanyForResearch(ctx, run.ID, "worker-a", 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, first.ID, claimed.ID, "oldest validated row claimed first")
	assert.Equal(t, "worker-a", claimed.WorkerID)
	require.NotNil(t, claimed.LeaseUntil)
	assert.True(t, claimed.LeaseUntil.After(time.Now()))

	// Second worker gets the other validated row, never the leased one.
	second, err := s.ClaimCompanyForResearch(ctx, run.ID, "worker-b", 10*time.Minute)
	require.NoError(t, err)
	assert.NotEqual(t, claimed.ID, second.ID)

	// Pool exhausted: the candidate-status row is not claimable.
	_, err = s.ClaimCompanyForResearch(ctx, run.ID, "worker-c", 10*time.Minute)
	assert.ErrorIs(t, err, store.ErrNoWorkAvailable)
}

func TestClaimCompanyForResearchSkipsResearched(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	run := createRun(t, s, 5)

	done := insertCompany(t, s, run.ID, "done.com", models.CandidateStatusValidated)
	todo := insertCompany(t, s, run.ID, "todo.com", models.CandidateStatusValidated)

	require.NoError(t, s.UpsertCompanyResearch(ctx, &models.CompanyResearch{
		RunID:     run.ID,
		CompanyID: done.ID,
		Status:    models.ResearchStatusComplete,
	}))

	claimed, err := s.ClaimCompanyForResearch(ctx, run.ID, "worker-a", 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, todo.ID, claimed.ID)

	pending, err := s.CountResearchPending(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, pending)
}

func TestExpiredLeaseIsReclaimable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	run := createRun(t, s, 5)

	c := insertCompany(t, s, run.ID, "one.com", models.CandidateStatusValidated)

	_, err := s.ClaimCompanyForResearch(ctx, run.ID, "worker-a", -time.Minute)
	require.NoError(t, err)

	// The lease is already in the past, so another worker can claim.
	reclaimed, err := s.ClaimCompanyForResearch(ctx, run.ID, "worker-b", 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, c.ID, reclaimed.ID)
	assert.Equal(t, "worker-b", reclaimed.WorkerID)
}

func TestReleaseCompanyLease(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	run := createRun(t, s, 5)

	insertCompany(t, s, run.ID, "one.com", models.CandidateStatusValidated)

	claimed, err := s.ClaimCompanyForResearch(ctx, run.ID, "worker-a", 10*time.Minute)
	require.NoError(t, err)
	require.NoError(t, s.ReleaseCompanyLease(ctx, claimed.ID, "worker-a"))

	got, err := s.GetCompanyCandidate(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Empty(t, got.WorkerID)
	assert.Nil(t, got.LeaseUntil)
}

func TestReleaseByStaleOwnerLeavesNewLeaseIntact(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	run := createRun(t, s, 5)

	insertCompany(t, s, run.ID, "one.com", models.CandidateStatusValidated)

	// worker-a's lease expires and worker-b re-claims the row.
	claimed, err := s.ClaimCompanyForResearch(ctx, run.ID, "worker-a", -time.Minute)
	require.NoError(t, err)
	_, err = s.ClaimCompanyForResearch(ctx, run.ID, "worker-b", 10*time.Minute)
	require.NoError(t, err)

	// worker-a's late release must not clear worker-b's live lease.
	require.NoError(t, s.ReleaseCompanyLease(ctx, claimed.ID, "worker-a"))

	got, err := s.GetCompanyCandidate(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, "worker-b", got.WorkerID)
	require.NotNil(t, got.LeaseUntil)
	assert.True(t, got.LeaseUntil.After(time.Now()))
}

func TestClaimCompanyForContacts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	run, err := s.CreateRun(ctx, models.CreateRunRequest{
		Criteria:       models.Criteria{PMS: "Buildium"},
		TargetQuantity: 2,
		ContactsMin:    2,
		ContactsMax:    3,
	})
	require.NoError(t, err)

	company := insertCompany(t, s, run.ID, "one.com", models.CandidateStatusValidated)

	// One validated contact exists; minimum is 2, so needed is 1.
	_, err = s.InsertContactCandidate(ctx, &models.ContactCandidate{
		RunID:     run.ID,
		CompanyID: company.ID,
		FullName:  "Pat Jones",
		Email:     "pat@one.com",
		Status:    models.CandidateStatusValidated,
	})
	require.NoError(t, err)

	claimed, needed, err := s.ClaimCompanyForContacts(ctx, run.ID, "worker-a", 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, company.ID, claimed.ID)
	assert.Equal(t, 1, needed)

	// Meeting the minimum removes the company from the pool.
	require.NoError(t, s.ReleaseCompanyLease(ctx, claimed.ID, "worker-a"))
	_, err = s.InsertContactCandidate(ctx, &models.ContactCandidate{
		RunID:     run.ID,
		CompanyID: company.ID,
		FullName:  "Sam Smith",
		Email:     "sam@one.com",
		Status:    models.CandidateStatusValidated,
	})
	require.NoError(t, err)

	_, _, err = s.ClaimCompanyForContacts(ctx, run.ID, "worker-a", 10*time.Minute)
	assert.ErrorIs(t, err, store.ErrNoWorkAvailable)
}

func TestRejectCompanyCandidate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	run := createRun(t, s, 5)

	c := insertCompany(t, s, run.ID, "one.com", models.CandidateStatusValidated)
	require.NoError(t, s.RejectCompanyCandidate(ctx, c.ID, "uses a different PMS"))

	got, err := s.GetCompanyCandidate(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CandidateStatusRejected, got.Status)
	require.NotNil(t, got.MeetsAllRequirements)
	assert.False(t, *got.MeetsAllRequirements)
	assert.Equal(t, "uses a different PMS", got.RejectedReasons)

	ready, err := s.ListReadyCompanies(ctx, run.ID)
	require.NoError(t, err)
	assert.Empty(t, ready, "rejected rows stop counting")
}

func TestInsertContactCandidateUniqueEmail(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	run := createRun(t, s, 5)
	company := insertCompany(t, s, run.ID, "one.com", models.CandidateStatusValidated)

	first := &models.ContactCandidate{
		RunID:     run.ID,
		CompanyID: company.ID,
		FullName:  "Pat Jones",
		Email:     "Pat@One.com",
		Status:    models.CandidateStatusValidated,
	}
	inserted, err := s.InsertContactCandidate(ctx, first)
	require.NoError(t, err)
	assert.True(t, inserted)

	dup := &models.ContactCandidate{
		RunID:     run.ID,
		CompanyID: company.ID,
		FullName:  "Patricia Jones",
		Email:     "pat@one.com",
		Status:    models.CandidateStatusValidated,
	}
	inserted, err = s.InsertContactCandidate(ctx, dup)
	require.NoError(t, err)
	assert.False(t, inserted, "email comparison is case-insensitive")
}
