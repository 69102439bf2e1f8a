package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/klenai/stonecare/internal/application/services"
	"github.com/klenai/stonecare/internal/domain/entities"
	"github.com/klenai/stonecare/internal/domain/repositories"
	apperrors "github.com/klenai/stonecare/pkg/errors"
)

// WorkflowRunner defines the workflow operations exposed over the API
type WorkflowRunner interface {
	RunFull(ctx context.Context, patientID, scanPath string, labs *entities.LabResults) (*services.RunResult, error)
	RunLabsOnly(ctx context.Context, patientID string, labs *entities.LabResults) (*services.RunResult, error)
}

// AnalysisHandler handles analysis and mesh artifact requests
type AnalysisHandler struct {
	workflow  WorkflowRunner
	analyses  repositories.AnalysisRepository
	artifacts repositories.ArtifactRepository
}

// NewAnalysisHandler creates a new analysis handler
func NewAnalysisHandler(workflow WorkflowRunner, analyses repositories.AnalysisRepository, artifacts repositories.ArtifactRepository) *AnalysisHandler {
	return &AnalysisHandler{
		workflow:  workflow,
		analyses:  analyses,
		artifacts: artifacts,
	}
}

type runRequest struct {
	PatientID string               `json:"patient_id"`
	ScanPath  string               `json:"scan_path"`
	Labs      *entities.LabResults `json:"labs,omitempty"`
}

// StartRun handles POST /api/analyses
func (h *AnalysisHandler) StartRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	if req.PatientID == "" || req.ScanPath == "" {
		respondWithError(w, http.StatusBadRequest, "patient_id and scan_path are required")
		return
	}

	result, err := h.workflow.RunFull(r.Context(), req.PatientID, req.ScanPath, req.Labs)
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, result)
}

type labsRequest struct {
	Labs *entities.LabResults `json:"labs"`
}

// SubmitLabs handles POST /api/patients/{id}/labs
func (h *AnalysisHandler) SubmitLabs(w http.ResponseWriter, r *http.Request) {
	patientID := r.PathValue("id")
	if patientID == "" {
		respondWithError(w, http.StatusBadRequest, "patient ID is required")
		return
	}

	var req labsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request payload")
		return
	}

	result, err := h.workflow.RunLabsOnly(r.Context(), patientID, req.Labs)
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, result)
}

// GetAnalysis handles GET /api/analyses/{id}
func (h *AnalysisHandler) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		respondWithError(w, http.StatusBadRequest, "analysis ID is required")
		return
	}

	analysis, err := h.analyses.GetByID(r.Context(), id)
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, analysis)
}

// ListAnalyses handles GET /api/patients/{id}/analyses
func (h *AnalysisHandler) ListAnalyses(w http.ResponseWriter, r *http.Request) {
	patientID := r.PathValue("id")
	if patientID == "" {
		respondWithError(w, http.StatusBadRequest, "patient ID is required")
		return
	}

	analyses, err := h.analyses.ListByPatient(r.Context(), patientID, 0)
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, analyses)
}

// GetMeshArtifact handles GET /api/analyses/{id}/mesh
func (h *AnalysisHandler) GetMeshArtifact(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		respondWithError(w, http.StatusBadRequest, "analysis ID is required")
		return
	}

	analysis, err := h.analyses.GetByID(r.Context(), id)
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	if analysis.MeshArtifactID == nil {
		respondWithError(w, http.StatusNotFound, "analysis has no mesh artifact")
		return
	}

	data, err := h.artifacts.Fetch(r.Context(), *analysis.MeshArtifactID)
	if err != nil {
		respondWithAppError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		return
	}
}

// respondWithAppError maps the error taxonomy onto HTTP status codes.
func respondWithAppError(w http.ResponseWriter, err error) {
	if appErr, ok := err.(*apperrors.AppError); ok {
		switch appErr.Type {
		case apperrors.ErrorTypeNotFound:
			respondWithError(w, http.StatusNotFound, appErr.Message)
		case apperrors.ErrorTypeValidation, apperrors.ErrorTypeRuleInputMissing:
			respondWithError(w, http.StatusBadRequest, appErr.Message)
		case apperrors.ErrorTypeConflict:
			respondWithError(w, http.StatusConflict, appErr.Message)
		case apperrors.ErrorTypeInputUnavailable:
			respondWithError(w, http.StatusUnprocessableEntity, appErr.Message)
		case apperrors.ErrorTypeInferenceFailure, apperrors.ErrorTypeTransportFailure:
			respondWithError(w, http.StatusBadGateway, appErr.Message)
		default:
			respondWithError(w, http.StatusInternalServerError, appErr.Message)
		}
		return
	}
	respondWithError(w, http.StatusInternalServerError, err.Error())
}

// Helper functions
func respondWithJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(payload)
}

func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	respondWithJSON(w, statusCode, map[string]string{
		"error": message,
	})
}
