package delivery

import (
	"context"
	"fmt"

	"github.com/reachvector/leadpipe/pkg/models"
	"github.com/reachvector/leadpipe/pkg/store"
)

// Deliver projects a run's final rows into both exports and mails them.
// Called after a run completes; best-effort by contract, so the caller
// records a failure in notes instead of un-completing the run.
func Deliver(ctx context.Context, st *store.Store, n *Notifier, run *models.Run) error {
	companies, err := st.ListCompanyCandidates(ctx, run.ID)
	if err != nil {
		return fmt.Errorf("failed to list companies for delivery: %w", err)
	}
	research, err := st.ListCompanyResearch(ctx, run.ID)
	if err != nil {
		return fmt.Errorf("failed to list research for delivery: %w", err)
	}
	contacts, err := st.ListContactCandidates(ctx, run.ID)
	if err != nil {
		return fmt.Errorf("failed to list contacts for delivery: %w", err)
	}

	companyCSV, err := CompanyCSV(run, companies, research)
	if err != nil {
		return err
	}
	contactCSV, err := ContactCSV(run, companies, contacts)
	if err != nil {
		return err
	}

	return n.SendDelivery(ctx, run, len(readyCompanies(companies)), companyCSV, contactCSV)
}
