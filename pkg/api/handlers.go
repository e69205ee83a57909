package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/reachvector/leadpipe/pkg/database"
	"github.com/reachvector/leadpipe/pkg/delivery"
	"github.com/reachvector/leadpipe/pkg/models"
)

func (s *Server) handleHealth(c *gin.Context) {
	status, err := database.Health(c.Request.Context(), s.store.DB())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "database": status})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "database": status})
}

func (s *Server) handleCreateRun(c *gin.Context) {
	var req models.CreateRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid request body: %v", err)})
		return
	}

	run, err := s.store.CreateRun(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	s.logger.Info("Run created", "run_id", run.ID, "target_quantity", run.TargetQuantity)
	c.JSON(http.StatusCreated, run)
}

func (s *Server) handleListRuns(c *gin.Context) {
	filters := models.RunFilters{Stage: models.Stage(c.Query("stage"))}
	runs, err := s.store.ListActiveRuns(c.Request.Context(), filters)
	if err != nil {
		respondError(c, err)
		return
	}
	if runs == nil {
		runs = []*models.Run{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) handleGetRun(c *gin.Context) {
	run, err := s.store.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) handleResumePlan(c *gin.Context) {
	plan, err := s.store.ResumePlan(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, plan)
}

// handleExport streams one of the two CSV projections for a run.
func (s *Server) handleExport(c *gin.Context) {
	ctx := c.Request.Context()
	runID := c.Param("id")
	kind := c.DefaultQuery("kind", "companies")

	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		respondError(c, err)
		return
	}
	companies, err := s.store.ListCompanyCandidates(ctx, runID)
	if err != nil {
		respondError(c, err)
		return
	}

	var body []byte
	switch kind {
	case "companies":
		research, err := s.store.ListCompanyResearch(ctx, runID)
		if err != nil {
			respondError(c, err)
			return
		}
		body, err = delivery.CompanyCSV(run, companies, research)
		if err != nil {
			respondError(c, err)
			return
		}
	case "contacts":
		contacts, err := s.store.ListContactCandidates(ctx, runID)
		if err != nil {
			respondError(c, err)
			return
		}
		body, err = delivery.ContactCSV(run, companies, contacts)
		if err != nil {
			respondError(c, err)
			return
		}
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind must be companies or contacts"})
		return
	}

	filename := fmt.Sprintf("%s-%s.csv", kind, runID)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "text/csv; charset=utf-8", body)
}

type decisionRequest struct {
	Decision models.UserDecision `json:"decision" binding:"required"`
}

// handleDecision routes an operator's choice on a parked run. Accepting a
// partial result completes and delivers the run; the expand/loosen choices
// append a marker for external orchestration and leave the status alone.
func (s *Server) handleDecision(c *gin.Context) {
	ctx := c.Request.Context()
	runID := c.Param("id")

	var req decisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid request body: %v", err)})
		return
	}
	if !req.Decision.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown decision %q", req.Decision)})
		return
	}

	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		respondError(c, err)
		return
	}
	if run.Status != models.RunStatusNeedsUserDecision {
		c.JSON(http.StatusConflict, gin.H{"error": "run is not awaiting a decision"})
		return
	}

	switch req.Decision {
	case models.UserDecisionAcceptPartial:
		if err := s.store.CompleteRun(ctx, runID, "decision: accept_partial, delivering collected results"); err != nil {
			respondError(c, err)
			return
		}
		completed, err := s.store.GetRun(ctx, runID)
		if err != nil {
			respondError(c, err)
			return
		}
		if err := delivery.Deliver(ctx, s.store, s.notifier, completed); err != nil {
			s.logger.Error("Delivery failed after accept_partial", "run_id", runID, "error", err)
			line := fmt.Sprintf("delivery failed: %v", err)
			if notesErr := s.store.AppendNotes(ctx, runID, line); notesErr != nil {
				s.logger.Warn("Failed to append notes", "run_id", runID, "error", notesErr)
			}
		}
		c.JSON(http.StatusOK, gin.H{"run_id": runID, "decision": req.Decision, "status": models.RunStatusCompleted})

	case models.UserDecisionExpandGeography, models.UserDecisionLoosenPMS:
		marker := fmt.Sprintf("decision: %s requested, awaiting criteria update", req.Decision)
		if err := s.store.AppendNotes(ctx, runID, marker); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"run_id": runID, "decision": req.Decision, "status": models.RunStatusNeedsUserDecision})
	}

	s.logger.Info("Decision applied", "run_id", runID, "decision", req.Decision)
}

func (s *Server) handleArchive(c *gin.Context) {
	if err := s.store.ArchiveRun(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"run_id": c.Param("id"), "status": models.RunStatusArchived})
}

func (s *Server) handleUnarchive(c *gin.Context) {
	if err := s.store.UnarchiveRun(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"run_id": c.Param("id"), "status": models.RunStatusNeedsUserDecision})
}

func (s *Server) handleListWorkers(c *gin.Context) {
	workers, err := s.store.ListActiveWorkers(c.Request.Context(), s.cfg.DeadWorkerThreshold)
	if err != nil {
		respondError(c, err)
		return
	}
	if workers == nil {
		workers = []*models.WorkerHeartbeat{}
	}
	c.JSON(http.StatusOK, gin.H{"workers": workers})
}
