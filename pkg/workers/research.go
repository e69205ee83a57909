package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/reachvector/leadpipe/pkg/agent"
	"github.com/reachvector/leadpipe/pkg/config"
	"github.com/reachvector/leadpipe/pkg/models"
	"github.com/reachvector/leadpipe/pkg/retry"
	"github.com/reachvector/leadpipe/pkg/store"
)

// ResearchWorker enriches one claimed company at a time for runs in the
// research stage, then advances the run once the queue is drained.
type ResearchWorker struct {
	*base
	gateway agent.Gateway
}

// NewResearchWorker constructs a research worker.
func NewResearchWorker(st *store.Store, cfg *config.PipelineConfig, gw agent.Gateway) *ResearchWorker {
	return &ResearchWorker{
		base:    newBase(models.WorkerTypeResearch, st, cfg),
		gateway: gw,
	}
}

// Start begins the polling loop.
func (w *ResearchWorker) Start(ctx context.Context) {
	w.start(ctx, w.iterate)
}

func (w *ResearchWorker) iterate(ctx context.Context) error {
	run, err := w.pickRun(ctx, models.StageResearch)
	if err != nil {
		return err
	}
	if w.countLoop(run.ID) {
		if w.cfg.RunFilterID != "" {
			return errWorkerDone
		}
		return errNoWork
	}

	log := w.logger.With("run_id", run.ID)

	company, err := w.store.ClaimCompanyForResearch(ctx, run.ID, w.id, w.cfg.Lease())
	if err != nil {
		if errors.Is(err, store.ErrNoWorkAvailable) {
			return w.maybeAdvance(ctx, run, log)
		}
		return fmt.Errorf("failed to claim company: %w", err)
	}

	w.setTask(models.WorkerStatusProcessing, run.ID, "research:"+company.Domain, company.LeaseUntil)
	defer w.setTask(models.WorkerStatusIdle, "", "", nil)
	defer func() {
		if err := w.store.ReleaseCompanyLease(ctx, company.ID, w.id); err != nil {
			log.Warn("Failed to release company lease", "company_id", company.ID, "error", err)
		}
	}()
	defer w.resetSession(ctx, w.gateway)

	log.Info("Researching company", "company_id", company.ID, "domain", company.Domain)

	prompt := agent.BuildResearchPrompt(run.Criteria, company)
	res, err := retry.DoValue(ctx, retry.AgentPolicy, "research:"+company.Domain,
		func(ctx context.Context) (*agent.Result, error) {
			return w.gateway.Invoke(ctx, agent.Invocation{
				Role:         agent.RoleResearch,
				Prompt:       prompt,
				OutputSchema: agent.SchemaFor(agent.RoleResearch),
			})
		})

	var out *agent.ResearchOutput
	if err == nil {
		out, err = agent.DecodeResearch(res)
	}
	if err != nil {
		// The run survives a failed company. The failed research row keeps
		// the company out of the claim queue and the breadcrumb lands in
		// notes for the operator.
		log.Error("Research failed", "company_id", company.ID, "error", err)
		failed := &models.CompanyResearch{
			RunID:     run.ID,
			CompanyID: company.ID,
			Facts:     map[string]any{"error": err.Error()},
			Status:    models.ResearchStatusFailed,
		}
		if upsertErr := w.store.UpsertCompanyResearch(ctx, failed); upsertErr != nil {
			return fmt.Errorf("failed to record failed research: %w", upsertErr)
		}
		line := fmt.Sprintf("research failed for %s: %v", company.Domain, err)
		if notesErr := w.store.AppendNotes(ctx, run.ID, line); notesErr != nil {
			log.Warn("Failed to append notes", "error", notesErr)
		}
		return nil
	}

	research := &models.CompanyResearch{
		RunID:      run.ID,
		CompanyID:  company.ID,
		Facts:      out.Facts,
		Signals:    out.Signals,
		Confidence: out.Confidence,
		Status:     models.ResearchStatusComplete,
	}
	if err := w.store.UpsertCompanyResearch(ctx, research); err != nil {
		return fmt.Errorf("failed to upsert research: %w", err)
	}

	// Only an explicit disqualifier demotes the candidate; inconclusive
	// research leaves it counting toward the target.
	if out.MeetsAllRequirements != nil && !*out.MeetsAllRequirements {
		reason := out.RejectedReason
		if reason == "" {
			reason = "research found the company does not meet the requirements"
		}
		log.Info("Rejecting company", "company_id", company.ID, "reason", reason)
		if err := w.store.RejectCompanyCandidate(ctx, company.ID, reason); err != nil {
			return fmt.Errorf("failed to reject candidate: %w", err)
		}
	}

	log.Info("Research complete", "company_id", company.ID, "confidence", out.Confidence)
	return nil
}

// maybeAdvance moves the run to contact discovery once no ready company is
// missing a research row.
func (w *ResearchWorker) maybeAdvance(ctx context.Context, run *models.Run, log *slog.Logger) error {
	pending, err := w.store.CountResearchPending(ctx, run.ID)
	if err != nil {
		return fmt.Errorf("failed to count research pending: %w", err)
	}
	if pending > 0 {
		// Rows exist but are leased by other workers.
		return errNoWork
	}
	log.Info("Research queue drained, advancing to contact discovery")
	if err := w.store.SetStage(ctx, run.ID, models.StageContacts); err != nil {
		return fmt.Errorf("failed to advance stage: %w", err)
	}
	w.forgetLoop(run.ID)
	return nil
}
