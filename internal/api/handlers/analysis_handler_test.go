package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/klenai/stonecare/internal/api/handlers"
	"github.com/klenai/stonecare/internal/application/services"
	"github.com/klenai/stonecare/internal/domain/entities"
	apperrors "github.com/klenai/stonecare/pkg/errors"
)

// Mocks

type MockWorkflowRunner struct {
	mock.Mock
}

func (m *MockWorkflowRunner) RunFull(ctx context.Context, patientID, scanPath string, labs *entities.LabResults) (*services.RunResult, error) {
	args := m.Called(ctx, patientID, scanPath, labs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.RunResult), args.Error(1)
}

func (m *MockWorkflowRunner) RunLabsOnly(ctx context.Context, patientID string, labs *entities.LabResults) (*services.RunResult, error) {
	args := m.Called(ctx, patientID, labs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.RunResult), args.Error(1)
}

type MockAnalysisRepo struct {
	mock.Mock
}

func (m *MockAnalysisRepo) Create(ctx context.Context, analysis *entities.StoneAnalysis) error {
	args := m.Called(ctx, analysis)
	return args.Error(0)
}

func (m *MockAnalysisRepo) GetByID(ctx context.Context, id string) (*entities.StoneAnalysis, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.StoneAnalysis), args.Error(1)
}

func (m *MockAnalysisRepo) GetLatestByPatient(ctx context.Context, patientID string) (*entities.StoneAnalysis, error) {
	args := m.Called(ctx, patientID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.StoneAnalysis), args.Error(1)
}

func (m *MockAnalysisRepo) ListByPatient(ctx context.Context, patientID string, limit int) ([]*entities.StoneAnalysis, error) {
	args := m.Called(ctx, patientID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.StoneAnalysis), args.Error(1)
}

type MockArtifactRepo struct {
	mock.Mock
}

func (m *MockArtifactRepo) Store(ctx context.Context, id string, analysisID string, data []byte) error {
	args := m.Called(ctx, id, analysisID, data)
	return args.Error(0)
}

func (m *MockArtifactRepo) Fetch(ctx context.Context, id string) ([]byte, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func newAnalysisHandler() (*handlers.AnalysisHandler, *MockWorkflowRunner, *MockAnalysisRepo, *MockArtifactRepo) {
	workflow := new(MockWorkflowRunner)
	analyses := new(MockAnalysisRepo)
	artifacts := new(MockArtifactRepo)
	return handlers.NewAnalysisHandler(workflow, analyses, artifacts), workflow, analyses, artifacts
}

func sampleRunResult() *services.RunResult {
	return &services.RunResult{
		Analysis: &entities.StoneAnalysis{ID: "analysis-1", PatientID: "patient-1"},
		Plan:     &entities.PlanVersion{ID: "plan-1", PatientID: "patient-1", Status: entities.PlanStatusPending},
		Nudges:   []*entities.Nudge{{ID: "nudge-1", Status: entities.NudgeStatusPendingApproval}},
	}
}

// Tests

func TestAnalysisHandler_StartRun(t *testing.T) {
	t.Run("starts a full run", func(t *testing.T) {
		handler, workflow, _, _ := newAnalysisHandler()

		workflow.On("RunFull", mock.Anything, "patient-1", "/scans/ct-001.raw", (*entities.LabResults)(nil)).
			Return(sampleRunResult(), nil)

		body, _ := json.Marshal(map[string]string{
			"patient_id": "patient-1",
			"scan_path":  "/scans/ct-001.raw",
		})
		req := httptest.NewRequest("POST", "/api/analyses", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		handler.StartRun(w, req)

		assert.Equal(t, http.StatusCreated, w.Code)
		var result services.RunResult
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
		assert.Equal(t, "analysis-1", result.Analysis.ID)
		workflow.AssertExpectations(t)
	})

	t.Run("rejects missing fields", func(t *testing.T) {
		handler, workflow, _, _ := newAnalysisHandler()

		body, _ := json.Marshal(map[string]string{"patient_id": "patient-1"})
		req := httptest.NewRequest("POST", "/api/analyses", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		handler.StartRun(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		workflow.AssertNotCalled(t, "RunFull", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("rejects invalid payload", func(t *testing.T) {
		handler, _, _, _ := newAnalysisHandler()

		req := httptest.NewRequest("POST", "/api/analyses", bytes.NewBufferString("not-json"))
		w := httptest.NewRecorder()

		handler.StartRun(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("maps a concurrent run to 409", func(t *testing.T) {
		handler, workflow, _, _ := newAnalysisHandler()

		workflow.On("RunFull", mock.Anything, "patient-1", "/scans/ct-001.raw", (*entities.LabResults)(nil)).
			Return(nil, apperrors.NewConflictError("a run is already in progress for patient patient-1"))

		body, _ := json.Marshal(map[string]string{
			"patient_id": "patient-1",
			"scan_path":  "/scans/ct-001.raw",
		})
		req := httptest.NewRequest("POST", "/api/analyses", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		handler.StartRun(w, req)

		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("maps a missing scan to 422", func(t *testing.T) {
		handler, workflow, _, _ := newAnalysisHandler()

		workflow.On("RunFull", mock.Anything, "patient-1", "/scans/gone.raw", (*entities.LabResults)(nil)).
			Return(nil, apperrors.NewInputUnavailableError("reading scan /scans/gone.raw", nil))

		body, _ := json.Marshal(map[string]string{
			"patient_id": "patient-1",
			"scan_path":  "/scans/gone.raw",
		})
		req := httptest.NewRequest("POST", "/api/analyses", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		handler.StartRun(w, req)

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("maps an inference failure to 502", func(t *testing.T) {
		handler, workflow, _, _ := newAnalysisHandler()

		workflow.On("RunFull", mock.Anything, "patient-1", "/scans/ct-001.raw", (*entities.LabResults)(nil)).
			Return(nil, apperrors.NewInferenceFailureError("model returned malformed output", nil))

		body, _ := json.Marshal(map[string]string{
			"patient_id": "patient-1",
			"scan_path":  "/scans/ct-001.raw",
		})
		req := httptest.NewRequest("POST", "/api/analyses", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		handler.StartRun(w, req)

		assert.Equal(t, http.StatusBadGateway, w.Code)
	})
}

func TestAnalysisHandler_SubmitLabs(t *testing.T) {
	handler, workflow, _, _ := newAnalysisHandler()

	workflow.On("RunLabsOnly", mock.Anything, "patient-1", mock.MatchedBy(func(labs *entities.LabResults) bool {
		return labs != nil && labs.Crystallography != nil
	})).Return(sampleRunResult(), nil)

	body, _ := json.Marshal(map[string]interface{}{
		"labs": map[string]interface{}{
			"crystallography": map[string]string{"composition": "uric acid"},
		},
	})
	req := httptest.NewRequest("POST", "/api/patients/patient-1/labs", bytes.NewBuffer(body))
	req.SetPathValue("id", "patient-1")
	w := httptest.NewRecorder()

	handler.SubmitLabs(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	workflow.AssertExpectations(t)
}

func TestAnalysisHandler_GetAnalysis(t *testing.T) {
	t.Run("returns the analysis", func(t *testing.T) {
		handler, _, analyses, _ := newAnalysisHandler()

		analyses.On("GetByID", mock.Anything, "analysis-1").Return(&entities.StoneAnalysis{
			ID:        "analysis-1",
			PatientID: "patient-1",
			CreatedAt: time.Now().UTC(),
		}, nil)

		req := httptest.NewRequest("GET", "/api/analyses/analysis-1", nil)
		req.SetPathValue("id", "analysis-1")
		w := httptest.NewRecorder()

		handler.GetAnalysis(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("maps not found to 404", func(t *testing.T) {
		handler, _, analyses, _ := newAnalysisHandler()

		analyses.On("GetByID", mock.Anything, "missing").
			Return(nil, apperrors.NewNotFoundError("analysis with id missing not found"))

		req := httptest.NewRequest("GET", "/api/analyses/missing", nil)
		req.SetPathValue("id", "missing")
		w := httptest.NewRecorder()

		handler.GetAnalysis(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestAnalysisHandler_GetMeshArtifact(t *testing.T) {
	t.Run("streams the container", func(t *testing.T) {
		handler, _, analyses, artifacts := newAnalysisHandler()

		meshID := "artifact-1"
		analyses.On("GetByID", mock.Anything, "analysis-1").Return(&entities.StoneAnalysis{
			ID:             "analysis-1",
			MeshArtifactID: &meshID,
		}, nil)
		artifacts.On("Fetch", mock.Anything, "artifact-1").Return([]byte{0x50, 0x4b, 0x03, 0x04}, nil)

		req := httptest.NewRequest("GET", "/api/analyses/analysis-1/mesh", nil)
		req.SetPathValue("id", "analysis-1")
		w := httptest.NewRecorder()

		handler.GetMeshArtifact(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "application/zip", w.Header().Get("Content-Type"))
		assert.Equal(t, []byte{0x50, 0x4b, 0x03, 0x04}, w.Body.Bytes())
	})

	t.Run("404 when the analysis has no artifact", func(t *testing.T) {
		handler, _, analyses, artifacts := newAnalysisHandler()

		analyses.On("GetByID", mock.Anything, "analysis-1").Return(&entities.StoneAnalysis{
			ID: "analysis-1",
		}, nil)

		req := httptest.NewRequest("GET", "/api/analyses/analysis-1/mesh", nil)
		req.SetPathValue("id", "analysis-1")
		w := httptest.NewRecorder()

		handler.GetMeshArtifact(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
		artifacts.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)
	})
}
