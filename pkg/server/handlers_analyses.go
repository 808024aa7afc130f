package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/voltaudit/voltaudit/pkg/audit"
	"github.com/voltaudit/voltaudit/pkg/auth"
	"github.com/voltaudit/voltaudit/pkg/metrics"
	"github.com/voltaudit/voltaudit/pkg/models"
	"github.com/voltaudit/voltaudit/pkg/report"
	"github.com/voltaudit/voltaudit/pkg/storage"
)

const (
	defaultPerPage = 20
	maxPerPage     = 100

	minReasonLength = 10
	maxReasonLength = 1000
)

func (s *Server) handleListAnalyses(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFrom(r.Context())
	q := r.URL.Query()

	filter := storage.ListFilter{
		OwnerID:   identity.UserID,
		SortBy:    q.Get("sort_by"),
		SortOrder: q.Get("sort_order"),
		Page:      intParam(q.Get("page"), 1),
		PerPage:   intParam(q.Get("per_page"), defaultPerPage),
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PerPage < 1 || filter.PerPage > maxPerPage {
		filter.PerPage = defaultPerPage
	}

	if v := q.Get("status_filter"); v != "" {
		verdict := models.Verdict(v)
		switch verdict {
		case models.VerdictApproved, models.VerdictReview, models.VerdictRejected:
			filter.Verdict = &verdict
		default:
			writeError(w, models.E(models.KindInvalidInput, "VALD_400", "invalid status_filter"))
			return
		}
	}
	var err error
	if filter.DateFrom, err = timeParam(q.Get("date_from")); err != nil {
		writeError(w, models.E(models.KindInvalidInput, "VALD_400", "invalid date_from"))
		return
	}
	if filter.DateTo, err = timeParam(q.Get("date_to")); err != nil {
		writeError(w, models.E(models.KindInvalidInput, "VALD_400", "invalid date_to"))
		return
	}

	page, err := s.store.Analyses.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"items": page.Items,
		"pagination": map[string]int{
			"total":       page.Total,
			"page":        page.Page,
			"per_page":    page.PerPage,
			"total_pages": page.TotalPages,
		},
	})
}

func intParam(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return v
}

func timeParam(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		// Date-only filters are accepted too.
		t, err = time.Parse("2006-01-02", s)
		if err != nil {
			return nil, err
		}
	}
	return &t, nil
}

// ownedAnalysis loads an analysis and enforces ownership through its task.
func (s *Server) ownedAnalysis(r *http.Request) (*models.Analysis, error) {
	identity, _ := auth.IdentityFrom(r.Context())
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return nil, models.E(models.KindNotFound, "VALD_404", "analysis not found")
	}
	ownerID, err := s.store.Analyses.OwnerOf(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if ownerID != identity.UserID {
		return nil, models.E(models.KindAuthorization, "VALD_403", "analysis belongs to another user")
	}
	return s.store.Analyses.GetByID(r.Context(), id)
}

func (s *Server) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	analysis, err := s.ownedAnalysis(r)
	if err != nil {
		writeError(w, err)
		return
	}
	findings, err := s.store.Findings.ListByAnalysis(r.Context(), analysis.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"analysis": analysis,
		"findings": findings,
	})
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	s.review(w, r, models.VerdictApproved, nil)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, models.E(models.KindInvalidInput, "VALD_400", "malformed request body"))
		return
	}
	if n := utf8.RuneCountInString(req.Reason); n < minReasonLength || n > maxReasonLength {
		writeError(w, models.E(models.KindInvalidInput, "VALD_400",
			"rejection reason must be between 10 and 1000 characters"))
		return
	}
	s.review(w, r, models.VerdictRejected, &req.Reason)
}

// review applies a human decision. The precondition is a COMPLETED task and a
// non-terminal verdict; the conditional update in SetVerdict is the arbiter
// against racing reviewers.
func (s *Server) review(w http.ResponseWriter, r *http.Request, decision models.Verdict, reason *string) {
	identity, _ := auth.IdentityFrom(r.Context())
	analysis, err := s.ownedAnalysis(r)
	if err != nil {
		writeError(w, err)
		return
	}

	task, err := s.store.Tasks.GetByID(r.Context(), analysis.TaskID)
	if err != nil {
		writeError(w, err)
		return
	}
	if task.Status != models.TaskCompleted {
		writeError(w, models.E(models.KindInvalidState, "VALD_409",
			"analysis task has not completed processing"))
		return
	}

	applied, err := s.store.Analyses.SetVerdict(r.Context(), analysis.ID, decision, reason)
	if err != nil {
		writeError(w, err)
		return
	}
	if !applied {
		writeError(w, models.E(models.KindInvalidState, "VALD_409",
			"analysis verdict is already final"))
		return
	}

	eventType := models.AuditHumanReviewApproved
	details := map[string]any{"reviewer_id": identity.UserID}
	if decision == models.VerdictRejected {
		eventType = models.AuditHumanReviewRejected
		details["reason"] = *reason
	}
	s.auditLog.Log(r.Context(), analysis.ID, eventType, audit.Event{Details: details})
	metrics.Verdicts.WithLabelValues(string(decision), "review").Inc()

	s.logger.Info("human review applied",
		"analysis_id", analysis.ID, "verdict", decision, "reviewer_id", identity.UserID)
	writeJSON(w, http.StatusOK, map[string]any{
		"analysis_id": analysis.ID,
		"verdict":     decision,
	})
}

func (s *Server) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	analysis, err := s.ownedAnalysis(r)
	if err != nil {
		writeError(w, err)
		return
	}
	events, err := s.store.Audit.ListByAnalysis(r.Context(), analysis.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events":      events,
		"event_count": len(events),
	})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	analysis, err := s.ownedAnalysis(r)
	if err != nil {
		writeError(w, err)
		return
	}
	task, err := s.store.Tasks.GetByID(r.Context(), analysis.TaskID)
	if err != nil {
		writeError(w, err)
		return
	}
	findings, err := s.store.Findings.ListByAnalysis(r.Context(), analysis.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	events, err := s.store.Audit.ListByAnalysis(r.Context(), analysis.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	bundle := report.Build(task, analysis, findings, events)
	writeJSON(w, http.StatusOK, bundle)
}
