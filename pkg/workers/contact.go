package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/reachvector/leadpipe/pkg/agent"
	"github.com/reachvector/leadpipe/pkg/config"
	"github.com/reachvector/leadpipe/pkg/delivery"
	"github.com/reachvector/leadpipe/pkg/models"
	"github.com/reachvector/leadpipe/pkg/retry"
	"github.com/reachvector/leadpipe/pkg/store"
)

// ContactWorker finds decision-makers for runs in contact discovery, one
// under-contact'd company per iteration, completes the run when the
// aggregate contact gap closes, and parks it for a user decision when the
// loop cap runs out first.
type ContactWorker struct {
	*base
	gateway  agent.Gateway
	notifier *delivery.Notifier
}

// NewContactWorker constructs a contact worker. notifier may be nil.
func NewContactWorker(st *store.Store, cfg *config.PipelineConfig, gw agent.Gateway, notifier *delivery.Notifier) *ContactWorker {
	return &ContactWorker{
		base:     newBase(models.WorkerTypeContact, st, cfg),
		gateway:  gw,
		notifier: notifier,
	}
}

// Start begins the polling loop.
func (w *ContactWorker) Start(ctx context.Context) {
	w.start(ctx, w.iterate)
}

func (w *ContactWorker) iterate(ctx context.Context) error {
	run, err := w.pickRun(ctx, models.StageContacts)
	if err != nil {
		return err
	}

	log := w.logger.With("run_id", run.ID)

	if w.countLoop(run.ID) {
		return w.loopCapExhausted(ctx, run, log)
	}

	company, needed, err := w.store.ClaimCompanyForContacts(ctx, run.ID, w.id, w.cfg.Lease())
	if err != nil {
		if errors.Is(err, store.ErrNoWorkAvailable) {
			return w.maybeComplete(ctx, run, log)
		}
		return fmt.Errorf("failed to claim company: %w", err)
	}

	w.setTask(models.WorkerStatusProcessing, run.ID, "contacts:"+company.Domain, company.LeaseUntil)
	defer w.setTask(models.WorkerStatusIdle, "", "", nil)
	defer func() {
		if err := w.store.ReleaseCompanyLease(ctx, company.ID, w.id); err != nil {
			log.Warn("Failed to release company lease", "company_id", company.ID, "error", err)
		}
	}()
	defer w.resetSession(ctx, w.gateway)

	log.Info("Finding contacts", "company_id", company.ID, "domain", company.Domain, "needed", needed)

	research, err := w.store.GetCompanyResearch(ctx, run.ID, company.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("failed to load research: %w", err)
	}

	prompt := agent.BuildContactPrompt(agent.ContactPromptInput{
		Company:     company,
		Research:    research,
		Needed:      needed,
		ContactsMax: run.ContactsMax,
	})
	res, err := retry.DoValue(ctx, retry.AgentPolicy, "contacts:"+company.Domain,
		func(ctx context.Context) (*agent.Result, error) {
			return w.gateway.Invoke(ctx, agent.Invocation{
				Role:         agent.RoleContact,
				Prompt:       prompt,
				OutputSchema: agent.SchemaFor(agent.RoleContact),
			})
		})

	var out *agent.ContactOutput
	if err == nil {
		out, err = agent.DecodeContacts(res)
	}
	if err != nil {
		log.Error("Contact discovery failed", "company_id", company.ID, "error", err)
		line := fmt.Sprintf("contact discovery failed for %s: %v", company.Domain, err)
		if notesErr := w.store.AppendNotes(ctx, run.ID, line); notesErr != nil {
			log.Warn("Failed to append notes", "error", notesErr)
		}
		return nil
	}

	persisted := 0
	for _, c := range out.Contacts {
		if persisted >= needed {
			break
		}
		if c.Email == "" && c.LinkedInURL == "" {
			// No verifiable anchor; the prompt forbids these but the
			// contract cannot.
			continue
		}
		contact := contactFromAgent(run.ID, company.ID, c)
		ok, err := w.store.InsertContactCandidate(ctx, contact)
		if err != nil {
			return fmt.Errorf("failed to insert contact: %w", err)
		}
		if ok {
			persisted++
		}
	}
	log.Info("Contacts persisted", "company_id", company.ID, "persisted", persisted, "needed", needed)

	return w.maybeComplete(ctx, run, log)
}

// contactFromAgent maps an agent contact to a validated candidate row. The
// idempotency key derives from the contact's strongest identity anchor, so
// the same person found twice collapses to one row.
func contactFromAgent(runID, companyID string, c agent.DiscoveredContact) *models.ContactCandidate {
	anchor := strings.ToLower(c.Email)
	if anchor == "" {
		anchor = strings.ToLower(c.LinkedInURL)
	}
	if anchor == "" {
		anchor = strings.ToLower(c.FullName)
	}

	evidence := map[string]any{"agent_output": c.Report}
	for key, body := range agent.ParseReportSections(c.Report) {
		evidence[key] = body
	}

	return &models.ContactCandidate{
		RunID:          runID,
		CompanyID:      companyID,
		FullName:       c.FullName,
		Title:          c.Title,
		Email:          c.Email,
		LinkedInURL:    c.LinkedInURL,
		Department:     c.Department,
		Seniority:      c.Seniority,
		QualityScore:   c.QualityScore,
		Signals:        c.Signals,
		Evidence:       evidence,
		Status:         models.CandidateStatusValidated,
		IdempotencyKey: "contact:" + anchor,
	}
}

// maybeComplete finishes the run when every ready company has reached its
// contact minimum. Delivery failure is recorded in notes, never rolled
// back.
func (w *ContactWorker) maybeComplete(ctx context.Context, run *models.Run, log *slog.Logger) error {
	gap, err := w.store.ContactGap(ctx, run.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errNoWork
		}
		return fmt.Errorf("failed to read contact gap: %w", err)
	}
	if gap.ContactsMinGapTotal > 0 {
		return errNoWork
	}

	log.Info("Contact gap closed, completing run")
	if err := w.store.CompleteRun(ctx, run.ID, "contact discovery complete, run delivered"); err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	w.forgetLoop(run.ID)

	completed, err := w.store.GetRun(ctx, run.ID)
	if err != nil {
		return fmt.Errorf("failed to reload completed run: %w", err)
	}
	if err := delivery.Deliver(ctx, w.store, w.notifier, completed); err != nil {
		log.Error("Delivery failed", "error", err)
		line := fmt.Sprintf("delivery failed: %v", err)
		if notesErr := w.store.AppendNotes(ctx, run.ID, line); notesErr != nil {
			log.Warn("Failed to append notes", "error", notesErr)
		}
	}
	if w.cfg.RunFilterID == run.ID {
		return errWorkerDone
	}
	return nil
}

// loopCapExhausted parks a still-gapped run for an operator decision.
func (w *ContactWorker) loopCapExhausted(ctx context.Context, run *models.Run, log *slog.Logger) error {
	gap, err := w.store.ContactGap(ctx, run.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("failed to read contact gap: %w", err)
	}
	if gap != nil && gap.ContactsMinGapTotal == 0 {
		return w.maybeComplete(ctx, run, log)
	}

	companyGap, err := w.store.CompanyGap(ctx, run.ID)
	if err != nil {
		return fmt.Errorf("failed to read company gap: %w", err)
	}

	remaining := 0
	if gap != nil {
		remaining = gap.ContactsMinGapTotal
	}
	summary := fmt.Sprintf(
		"loop cap reached with work remaining: companies %d/%d ready, contact minimum gap %d. Options: expand_geography, loosen_pms, accept_partial.",
		companyGap.CompaniesReady, companyGap.TargetQuantity, remaining)

	log.Warn("Loop cap exhausted, requesting user decision", "contacts_min_gap_total", remaining)
	if err := w.store.SetStatus(ctx, run.ID, models.RunStatusNeedsUserDecision, summary); err != nil {
		return fmt.Errorf("failed to park run for decision: %w", err)
	}
	w.forgetLoop(run.ID)
	if err := w.notifier.SendDecisionNeeded(ctx, run, summary); err != nil {
		log.Warn("Failed to send decision mail", "error", err)
	}
	if w.cfg.RunFilterID == run.ID {
		return errWorkerDone
	}
	return errNoWork
}
