package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/klenai/stonecare/internal/domain/entities"
	"github.com/klenai/stonecare/internal/domain/repositories"
)

// PlanApprover defines the approval operation exposed over the API
type PlanApprover interface {
	Approve(ctx context.Context, planID string, overrides entities.ApprovalOverrides) (*entities.PlanVersion, error)
}

// PlanHandler handles care-plan requests
type PlanHandler struct {
	approver PlanApprover
	plans    repositories.PlanRepository
	nudges   repositories.NudgeRepository
}

// NewPlanHandler creates a new plan handler
func NewPlanHandler(approver PlanApprover, plans repositories.PlanRepository, nudges repositories.NudgeRepository) *PlanHandler {
	return &PlanHandler{
		approver: approver,
		plans:    plans,
		nudges:   nudges,
	}
}

// GetPlan handles GET /api/plans/{id}
func (h *PlanHandler) GetPlan(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		respondWithError(w, http.StatusBadRequest, "plan ID is required")
		return
	}

	plan, err := h.plans.GetByID(r.Context(), id)
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, plan)
}

// GetActivePlan handles GET /api/patients/{id}/plan
func (h *PlanHandler) GetActivePlan(w http.ResponseWriter, r *http.Request) {
	patientID := r.PathValue("id")
	if patientID == "" {
		respondWithError(w, http.StatusBadRequest, "patient ID is required")
		return
	}

	plan, err := h.plans.GetActiveByPatient(r.Context(), patientID)
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, plan)
}

// ApprovePlan handles POST /api/plans/{id}/approve
func (h *PlanHandler) ApprovePlan(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		respondWithError(w, http.StatusBadRequest, "plan ID is required")
		return
	}

	var overrides entities.ApprovalOverrides
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&overrides); err != nil {
			respondWithError(w, http.StatusBadRequest, "invalid request payload")
			return
		}
	}

	plan, err := h.approver.Approve(r.Context(), id, overrides)
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, plan)
}

// ListPlanNudges handles GET /api/plans/{id}/nudges
func (h *PlanHandler) ListPlanNudges(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		respondWithError(w, http.StatusBadRequest, "plan ID is required")
		return
	}

	nudges, err := h.nudges.ListByPlan(r.Context(), id)
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, nudges)
}
