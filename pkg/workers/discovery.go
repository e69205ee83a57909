package workers

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/reachvector/leadpipe/pkg/agent"
	"github.com/reachvector/leadpipe/pkg/catalog"
	"github.com/reachvector/leadpipe/pkg/config"
	"github.com/reachvector/leadpipe/pkg/delivery"
	"github.com/reachvector/leadpipe/pkg/models"
	"github.com/reachvector/leadpipe/pkg/regions"
	"github.com/reachvector/leadpipe/pkg/retry"
	"github.com/reachvector/leadpipe/pkg/store"
	"github.com/reachvector/leadpipe/pkg/suppress"
)

// DiscoveryWorker fills runs in the discovery stage with company
// candidates: catalog seeds first, then region-parallel Agent searches,
// oversampled to absorb downstream attrition.
type DiscoveryWorker struct {
	*base
	gateway  agent.Gateway
	oracle   *suppress.Oracle
	catalog  *catalog.Catalog
	notifier *delivery.Notifier
}

// NewDiscoveryWorker constructs a discovery worker. catalog and notifier
// may be nil.
func NewDiscoveryWorker(st *store.Store, cfg *config.PipelineConfig, gw agent.Gateway, oracle *suppress.Oracle, cat *catalog.Catalog, notifier *delivery.Notifier) *DiscoveryWorker {
	return &DiscoveryWorker{
		base:     newBase(models.WorkerTypeDiscovery, st, cfg),
		gateway:  gw,
		oracle:   oracle,
		catalog:  cat,
		notifier: notifier,
	}
}

// Start begins the polling loop.
func (w *DiscoveryWorker) Start(ctx context.Context) {
	w.start(ctx, w.iterate)
}

func (w *DiscoveryWorker) iterate(ctx context.Context) error {
	run, err := w.pickRun(ctx, models.StageDiscovery)
	if err != nil {
		return err
	}
	if w.countLoop(run.ID) {
		if w.cfg.RunFilterID != "" {
			return errWorkerDone
		}
		return errNoWork
	}

	w.setTask(models.WorkerStatusProcessing, run.ID, "discovery", nil)
	defer w.setTask(models.WorkerStatusIdle, "", "", nil)

	log := w.logger.With("run_id", run.ID)

	finalTarget := run.TargetQuantity
	discoveryTarget := int(math.Ceil(float64(finalTarget) * w.cfg.OversampleFactor))

	gap, err := w.store.CompanyGap(ctx, run.ID)
	if err != nil {
		return fmt.Errorf("failed to read company gap: %w", err)
	}

	suppressed, err := w.oracle.Set(ctx)
	if err != nil {
		return fmt.Errorf("failed to load suppression set: %w", err)
	}

	ready := gap.CompaniesReady
	if ready < discoveryTarget {
		seeded, err := w.seedFromCatalog(ctx, run, suppressed)
		if err != nil {
			log.Warn("Catalog seeding failed", "error", err)
		} else if seeded > 0 {
			log.Info("Seeded candidates from catalog", "seeded", seeded)
			ready += seeded
		}
	}

	if ready < discoveryTarget {
		inserted, err := w.discoverViaAgent(ctx, run, discoveryTarget-ready, suppressed, log)
		if err != nil {
			return err
		}
		ready += inserted
	}

	// Hard zero: nothing in the run at all after seeds, regions, and
	// retries means the criteria cannot be satisfied.
	if ready == 0 {
		all, err := w.store.ListCompanyCandidates(ctx, run.ID)
		if err != nil {
			return fmt.Errorf("failed to list candidates: %w", err)
		}
		if len(all) == 0 {
			reason := "discovery found zero companies after all regions and retries"
			log.Error("Hard-zero discovery, failing run")
			if err := w.store.FailRun(ctx, run.ID, reason); err != nil {
				return err
			}
			w.forgetLoop(run.ID)
			if err := w.notifier.SendRunError(ctx, run, reason); err != nil {
				log.Warn("Failed to send error mail", "error", err)
			}
			return nil
		}
	}

	// The stage advances on the final target, not the oversampled one; the
	// surplus exists to feed research attrition.
	gap, err = w.store.CompanyGap(ctx, run.ID)
	if err != nil {
		return fmt.Errorf("failed to re-read company gap: %w", err)
	}
	if gap.CompaniesReady >= finalTarget {
		log.Info("Discovery target met, advancing to research",
			"companies_ready", gap.CompaniesReady, "final_target", finalTarget)
		if err := w.store.SetStage(ctx, run.ID, models.StageResearch); err != nil {
			return err
		}
		w.forgetLoop(run.ID)
		return nil
	}

	log.Info("Discovery iteration complete, target not yet met",
		"companies_ready", gap.CompaniesReady,
		"final_target", finalTarget,
		"discovery_target", discoveryTarget)
	return errNoWork
}

// seedFromCatalog inserts pre-vetted catalog matches as validated
// candidates. Returns the number of rows inserted.
func (w *DiscoveryWorker) seedFromCatalog(ctx context.Context, run *models.Run, suppressed map[string]struct{}) (int, error) {
	if w.catalog == nil {
		return 0, nil
	}
	seeds, err := w.catalog.Match(ctx, run.Criteria)
	if err != nil {
		return 0, err
	}

	inserted := 0
	for _, seed := range seeds {
		if suppress.Contains(suppressed, seed.Domain) {
			continue
		}
		candidate := &models.CompanyCandidate{
			RunID:           run.ID,
			Name:            seed.Name,
			Website:         seed.Website,
			Domain:          seed.Domain,
			State:           seed.State,
			DiscoverySource: "seed:" + seed.Catalog,
			PMSDetected:     seed.PMS,
			UnitsEstimate:   seed.UnitsEstimate,
			Status:          models.CandidateStatusValidated,
		}
		ok, err := w.store.InsertCompanyCandidate(ctx, candidate)
		if err != nil {
			return inserted, err
		}
		if ok {
			inserted++
		}
	}
	return inserted, nil
}

// regionResult is a region pass's outcome, collected at the join barrier.
type regionResult struct {
	region    regions.Region
	companies []agent.DiscoveredCompany
	err       error
}

// discoverViaAgent partitions the geography, runs the regional Agent calls
// in parallel, retries failed regions, and ingests the deduplicated union.
// Returns the number of candidates inserted.
func (w *DiscoveryWorker) discoverViaAgent(ctx context.Context, run *models.Run, want int, suppressed map[string]struct{}, log *slog.Logger) (int, error) {
	parts := regions.Partition(run.Criteria, w.cfg.RegionCount)
	perRegion := int(math.Ceil(float64(want) / float64(len(parts))))

	known, err := w.knownDomains(ctx, run.ID)
	if err != nil {
		return 0, err
	}
	suppressedList := suppressedSlice(suppressed)

	results := w.runRegions(ctx, run, parts, perRegion, suppressedList, known)

	// Failed regions get two more rounds with widening backoff. A region
	// that still fails is recorded in notes, never fatal.
	for round, backoff := range []time.Duration{30 * time.Second, 60 * time.Second} {
		var failed []regions.Region
		for _, r := range results {
			if r.err != nil {
				failed = append(failed, r.region)
			}
		}
		if len(failed) == 0 {
			break
		}
		log.Warn("Retrying failed regions", "round", round+1, "failed", len(failed))
		w.sleep(backoff)

		retried := w.runRegions(ctx, run, failed, perRegion, suppressedList, known)
		merged := results[:0]
		for _, r := range results {
			if r.err == nil {
				merged = append(merged, r)
			}
		}
		results = append(merged, retried...)
	}

	var companies []sourcedCompany
	for _, r := range results {
		if r.err != nil {
			line := fmt.Sprintf("discovery region %q failed: %v", r.region.Name, r.err)
			log.Warn("Region failed permanently", "region", r.region.Name, "error", r.err)
			if err := w.store.AppendNotes(ctx, run.ID, line); err != nil {
				log.Warn("Failed to append notes", "error", err)
			}
			continue
		}
		source := "agent:region:" + r.region.Name
		for _, c := range r.companies {
			companies = append(companies, sourcedCompany{company: c, source: source})
		}
	}

	return w.ingest(ctx, run, companies, suppressed)
}

// runRegions invokes the Agent for each region in parallel and joins.
func (w *DiscoveryWorker) runRegions(ctx context.Context, run *models.Run, parts []regions.Region, target int, suppressed, known []string) []regionResult {
	results := make([]regionResult, len(parts))
	var wg sync.WaitGroup
	for i, region := range parts {
		wg.Add(1)
		go func(i int, region regions.Region) {
			defer wg.Done()
			companies, err := w.runRegion(ctx, run, region, target, suppressed, known)
			results[i] = regionResult{region: region, companies: companies, err: err}
		}(i, region)
	}
	wg.Wait()
	return results
}

// runRegion performs one region's batched Agent calls under the region
// timeout. Session state is reset after the pass, success or failure.
func (w *DiscoveryWorker) runRegion(ctx context.Context, run *models.Run, region regions.Region, target int, suppressed, known []string) ([]agent.DiscoveredCompany, error) {
	regionCtx, cancel := context.WithTimeout(ctx, w.cfg.RegionTimeout)
	defer cancel()
	defer w.resetSession(ctx, w.gateway)

	batch := w.cfg.BatchSize
	if batch <= 0 || batch > target {
		batch = target
	}

	collected := make([]agent.DiscoveredCompany, 0, target)
	seen := append([]string(nil), known...)
	for len(collected) < target {
		remaining := target - len(collected)
		if remaining > batch {
			remaining = batch
		}

		prompt := agent.BuildDiscoveryPrompt(agent.DiscoveryPromptInput{
			Criteria:     run.Criteria,
			Region:       region,
			Target:       remaining,
			BatchSize:    w.cfg.BatchSize,
			Suppressed:   suppressed,
			KnownDomains: seen,
		})

		res, err := retry.DoValue(regionCtx, retry.AgentPolicy, "discovery:"+region.Name,
			func(ctx context.Context) (*agent.Result, error) {
				return w.gateway.Invoke(ctx, agent.Invocation{
					Role:         agent.RoleList,
					Prompt:       prompt,
					OutputSchema: agent.SchemaFor(agent.RoleList),
				})
			})
		if err != nil {
			return collected, err
		}

		out, err := agent.DecodeDiscovery(res)
		if err != nil {
			return collected, err
		}
		if len(out.Companies) == 0 {
			break
		}
		for _, c := range out.Companies {
			collected = append(collected, c)
			seen = append(seen, strings.ToLower(c.Domain))
		}
	}
	return collected, nil
}

// sourcedCompany pairs a discovered company with its origin tag, carried
// from the region pass through to the inserted row.
type sourcedCompany struct {
	company agent.DiscoveredCompany
	source  string
}

// ingest deduplicates by lowercased domain keeping the highest quality
// score, drops suppressed domains, and inserts the survivors as validated.
// A detected PMS that contradicts the run's criteria demotes the row to
// rejected instead, so it never counts toward the target. When a target
// distribution is set, states with larger shares are ingested first.
func (w *DiscoveryWorker) ingest(ctx context.Context, run *models.Run, companies []sourcedCompany, suppressed map[string]struct{}) (int, error) {
	best := make(map[string]sourcedCompany)
	for _, sc := range companies {
		domain := strings.ToLower(strings.TrimSpace(sc.company.Domain))
		if domain == "" || suppress.Contains(suppressed, domain) {
			continue
		}
		if prev, ok := best[domain]; !ok || sc.company.QualityScore > prev.company.QualityScore {
			sc.company.Domain = domain
			best[domain] = sc
		}
	}

	deduped := make([]sourcedCompany, 0, len(best))
	for _, sc := range best {
		deduped = append(deduped, sc)
	}
	dist := run.Criteria.TargetDistribution
	sort.Slice(deduped, func(i, j int) bool {
		a, b := deduped[i].company, deduped[j].company
		if len(dist) > 0 && dist[a.State] != dist[b.State] {
			return dist[a.State] > dist[b.State]
		}
		if a.QualityScore != b.QualityScore {
			return a.QualityScore > b.QualityScore
		}
		return a.Domain < b.Domain
	})

	wantPMS := strings.TrimSpace(run.Criteria.PMS)
	inserted := 0
	for _, sc := range deduped {
		c := sc.company
		candidate := &models.CompanyCandidate{
			RunID:           run.ID,
			Name:            c.Name,
			Website:         c.Website,
			Domain:          c.Domain,
			State:           c.State,
			DiscoverySource: sc.source,
			PMSDetected:     c.PMS,
			UnitsEstimate:   c.UnitsEstimate,
			Evidence:        c.Evidence,
			Status:          models.CandidateStatusValidated,
		}
		if wantPMS != "" && c.PMS != "" && !strings.EqualFold(c.PMS, wantPMS) {
			candidate.Status = models.CandidateStatusRejected
			candidate.RejectedReasons = fmt.Sprintf("pms mismatch: detected %s, run requires %s", c.PMS, wantPMS)
		}
		ok, err := w.store.InsertCompanyCandidate(ctx, candidate)
		if err != nil {
			return inserted, err
		}
		if ok && candidate.Status == models.CandidateStatusValidated {
			inserted++
		}
	}
	return inserted, nil
}

func (w *DiscoveryWorker) knownDomains(ctx context.Context, runID string) ([]string, error) {
	existing, err := w.store.ListCompanyCandidates(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list existing candidates: %w", err)
	}
	domains := make([]string, 0, len(existing))
	for _, c := range existing {
		domains = append(domains, c.Domain)
	}
	return domains, nil
}

func suppressedSlice(set map[string]struct{}) []string {
	domains := make([]string, 0, len(set))
	for d := range set {
		domains = append(domains, d)
	}
	sort.Strings(domains)
	return domains
}
