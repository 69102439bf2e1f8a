package services_test

import (
	"context"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/klenai/stonecare/internal/application/services"
	"github.com/klenai/stonecare/internal/clinical"
	"github.com/klenai/stonecare/internal/domain/entities"
	"github.com/klenai/stonecare/internal/domain/providers"
	"github.com/klenai/stonecare/internal/imaging"
	"github.com/klenai/stonecare/pkg/config"
	apperrors "github.com/klenai/stonecare/pkg/errors"
)

// Mocks

type MockAnalysisRepository struct {
	mock.Mock
}

func (m *MockAnalysisRepository) Create(ctx context.Context, analysis *entities.StoneAnalysis) error {
	args := m.Called(ctx, analysis)
	return args.Error(0)
}

func (m *MockAnalysisRepository) GetByID(ctx context.Context, id string) (*entities.StoneAnalysis, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.StoneAnalysis), args.Error(1)
}

func (m *MockAnalysisRepository) GetLatestByPatient(ctx context.Context, patientID string) (*entities.StoneAnalysis, error) {
	args := m.Called(ctx, patientID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.StoneAnalysis), args.Error(1)
}

func (m *MockAnalysisRepository) ListByPatient(ctx context.Context, patientID string, limit int) ([]*entities.StoneAnalysis, error) {
	args := m.Called(ctx, patientID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.StoneAnalysis), args.Error(1)
}

type MockArtifactRepository struct {
	mock.Mock
}

func (m *MockArtifactRepository) Store(ctx context.Context, id string, analysisID string, data []byte) error {
	args := m.Called(ctx, id, analysisID, data)
	return args.Error(0)
}

func (m *MockArtifactRepository) Fetch(ctx context.Context, id string) ([]byte, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

type MockPlanRepository struct {
	mock.Mock
}

func (m *MockPlanRepository) Create(ctx context.Context, plan *entities.PlanVersion) error {
	args := m.Called(ctx, plan)
	return args.Error(0)
}

func (m *MockPlanRepository) GetByID(ctx context.Context, id string) (*entities.PlanVersion, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.PlanVersion), args.Error(1)
}

func (m *MockPlanRepository) GetActiveByPatient(ctx context.Context, patientID string) (*entities.PlanVersion, error) {
	args := m.Called(ctx, patientID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.PlanVersion), args.Error(1)
}

func (m *MockPlanRepository) MarkApproved(ctx context.Context, id string, overrides entities.ApprovalOverrides) error {
	args := m.Called(ctx, id, overrides)
	return args.Error(0)
}

func (m *MockPlanRepository) MarkSuperseded(ctx context.Context, id string, supersededBy string) error {
	args := m.Called(ctx, id, supersededBy)
	return args.Error(0)
}

type MockNudgeRepository struct {
	mock.Mock
}

func (m *MockNudgeRepository) CreateBatch(ctx context.Context, nudges []*entities.Nudge) error {
	args := m.Called(ctx, nudges)
	return args.Error(0)
}

func (m *MockNudgeRepository) ListQueuedDue(ctx context.Context, now time.Time, limit int) ([]*entities.Nudge, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.Nudge), args.Error(1)
}

func (m *MockNudgeRepository) Claim(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockNudgeRepository) Release(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockNudgeRepository) Finalize(ctx context.Context, id string, status entities.NudgeStatus, reason string, sentAt *time.Time) error {
	args := m.Called(ctx, id, status, reason, sentAt)
	return args.Error(0)
}

func (m *MockNudgeRepository) ReleaseStale(ctx context.Context, cutoff time.Time) (int, error) {
	args := m.Called(ctx, cutoff)
	return args.Int(0), args.Error(1)
}

func (m *MockNudgeRepository) QueueForPlan(ctx context.Context, planID string) error {
	args := m.Called(ctx, planID)
	return args.Error(0)
}

func (m *MockNudgeRepository) SkipForPlan(ctx context.Context, planID string) error {
	args := m.Called(ctx, planID)
	return args.Error(0)
}

func (m *MockNudgeRepository) ListByPlan(ctx context.Context, planID string) ([]*entities.Nudge, error) {
	args := m.Called(ctx, planID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.Nudge), args.Error(1)
}

type MockPatientRepository struct {
	mock.Mock
}

func (m *MockPatientRepository) GetByID(ctx context.Context, id string) (*entities.Patient, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Patient), args.Error(1)
}

type MockInferenceProvider struct {
	mock.Mock
}

func (m *MockInferenceProvider) AnalyzeScan(ctx context.Context, req providers.ScanRequest) (*entities.ScanFindings, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.ScanFindings), args.Error(1)
}

func (m *MockInferenceProvider) GenerateText(ctx context.Context, prompt string) (string, error) {
	args := m.Called(ctx, prompt)
	return args.String(0), args.Error(1)
}

type MockRunLocker struct {
	mock.Mock
}

func (m *MockRunLocker) Acquire(ctx context.Context, patientID string, ttl time.Duration) (string, bool, error) {
	args := m.Called(ctx, patientID, ttl)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *MockRunLocker) Release(ctx context.Context, patientID string, token string) error {
	args := m.Called(ctx, patientID, token)
	return args.Error(0)
}

type MockMessageSender struct {
	mock.Mock
}

func (m *MockMessageSender) SendSMS(ctx context.Context, to string, message string) error {
	args := m.Called(ctx, to, message)
	return args.Error(0)
}

func (m *MockMessageSender) StartCall(ctx context.Context, to string, message string) error {
	args := m.Called(ctx, to, message)
	return args.Error(0)
}

// Test fixtures

type workflowFixture struct {
	analyses  *MockAnalysisRepository
	artifacts *MockArtifactRepository
	plans     *MockPlanRepository
	nudges    *MockNudgeRepository
	inference *MockInferenceProvider
	locker    *MockRunLocker
	service   *services.WorkflowService
}

func newWorkflowFixture(t *testing.T) *workflowFixture {
	t.Helper()
	f := &workflowFixture{
		analyses:  new(MockAnalysisRepository),
		artifacts: new(MockArtifactRepository),
		plans:     new(MockPlanRepository),
		nudges:    new(MockNudgeRepository),
		inference: new(MockInferenceProvider),
		locker:    new(MockRunLocker),
	}
	encode := func(vol *imaging.Volume, count int) ([][]byte, error) {
		return [][]byte{{0x89, 0x50}}, nil
	}
	f.service = services.NewWorkflowService(
		f.analyses, f.artifacts, f.plans, f.nudges,
		f.inference, f.locker, encode, nil,
		config.PipelineConfig{
			HounsfieldLower:    250,
			HounsfieldUpper:    2000,
			MinComponentVoxels: 20,
			ROIRadiusMM:        6.0,
			MeshPaddingVoxels:  2,
			MeshSmoothingSigma: 1.0,
			MeshWorkers:        2,
			RunLockTTL:         time.Minute,
		},
	)
	return f
}

func (f *workflowFixture) expectLock(patientID string) {
	f.locker.On("Acquire", mock.Anything, patientID, time.Minute).Return("token-1", true, nil)
	f.locker.On("Release", mock.Anything, patientID, "token-1").Return(nil)
}

func (f *workflowFixture) expectPersistence() {
	f.analyses.On("Create", mock.Anything, mock.Anything).Return(nil)
	f.plans.On("Create", mock.Anything, mock.Anything).Return(nil)
	f.nudges.On("CreateBatch", mock.Anything, mock.Anything).Return(nil)
}

// writeTestScan writes a 12x12x12 raw float32 volume at 1mm spacing with its
// JSON sidecar and returns the scan path.
func writeTestScan(t *testing.T, fill func(z, y, x int) float32) string {
	t.Helper()
	dir := t.TempDir()
	scanPath := filepath.Join(dir, "scan.raw")

	const n = 12
	buf := make([]byte, 4*n*n*n)
	i := 0
	for z := 0; z < n; z++ {
		for y := 0; y < n; y++ {
			for x := 0; x < n; x++ {
				binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(fill(z, y, x)))
				i++
			}
		}
	}
	require.NoError(t, os.WriteFile(scanPath, buf, 0o644))

	header := []byte(`{"dims":[12,12,12],"spacing_mm":[1,1,1]}`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scan.json"), header, 0o644))
	return scanPath
}

func fptr(v float64) *float64 { return &v }

// Tests

func TestWorkflowService_RunFull_FormulaFallback(t *testing.T) {
	f := newWorkflowFixture(t)

	// An empty volume: segmentation finds nothing and burden falls back to
	// the reported diameter.
	scanPath := writeTestScan(t, func(z, y, x int) float32 {
		return 0
	})

	f.expectLock("patient-1")
	f.inference.On("AnalyzeScan", mock.Anything, mock.MatchedBy(func(req providers.ScanRequest) bool {
		return req.Modality == "CT" && len(req.Slices) > 0
	})).Return(&entities.ScanFindings{
		Stones: []entities.StoneFinding{
			{Location: entities.LocationProximalUreter, SizeMM: fptr(6.0), HounsfieldUnits: fptr(850)},
		},
		Confidence: 0.8,
	}, nil)
	f.inference.On("GenerateText", mock.Anything, mock.Anything).Return("Your stone summary.", nil)
	f.expectPersistence()

	result, err := f.service.RunFull(context.Background(), "patient-1", scanPath, nil)
	require.NoError(t, err)

	analysis := result.Analysis
	require.Len(t, analysis.Stones, 1)
	assert.Equal(t, entities.DerivationFormula, analysis.Stones[0].Derivation)
	assert.False(t, analysis.Stones[0].MeshGenerated)
	assert.Nil(t, analysis.MeshArtifactID)

	// Sphere volume of a 6 mm diameter stone.
	require.NotNil(t, analysis.TotalBurdenMM3)
	assert.InDelta(t, 4.0/3.0*math.Pi*27, *analysis.TotalBurdenMM3, 0.01)

	// HU 850 maps to calcium oxalate in the absence of a model prediction.
	assert.Equal(t, entities.CompositionCalciumOxalate, analysis.PredictedComposition)
	assert.NotEmpty(t, analysis.Warnings)

	assert.Equal(t, "Your stone summary.", result.Plan.PersonalizedSummary)
	assert.Equal(t, analysis.TreatmentRecommendation, result.Plan.TreatmentRecommendation)
	assert.NotEmpty(t, result.Nudges)
	for _, nudge := range result.Nudges {
		assert.Equal(t, entities.NudgeStatusPendingApproval, nudge.Status)
		assert.Equal(t, result.Plan.ID, nudge.PlanID)
	}

	f.artifacts.AssertNotCalled(t, "Store", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.locker.AssertExpectations(t)
	f.analyses.AssertExpectations(t)
	f.plans.AssertExpectations(t)
	f.nudges.AssertExpectations(t)
}

func TestWorkflowService_RunFull_MeshPath(t *testing.T) {
	f := newWorkflowFixture(t)

	// A dense 5x5x5 block in the middle of the volume.
	scanPath := writeTestScan(t, func(z, y, x int) float32 {
		if z >= 4 && z < 9 && y >= 4 && y < 9 && x >= 4 && x < 9 {
			return 1000
		}
		return 0
	})

	f.expectLock("patient-1")
	f.inference.On("AnalyzeScan", mock.Anything, mock.Anything).Return(&entities.ScanFindings{
		Stones: []entities.StoneFinding{
			{
				Location:        entities.LocationKidneyLower,
				LocationCoords:  []float64{0.5, 0.5, 0.5},
				SizeMM:          fptr(5.0),
				HounsfieldUnits: fptr(1000),
			},
		},
		Confidence: 0.9,
	}, nil)
	f.inference.On("GenerateText", mock.Anything, mock.Anything).Return("Summary.", nil)
	var artifact []byte
	f.artifacts.On("Store", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			artifact = args.Get(3).([]byte)
		}).Return(nil)
	f.expectPersistence()

	result, err := f.service.RunFull(context.Background(), "patient-1", scanPath, nil)
	require.NoError(t, err)

	analysis := result.Analysis
	require.Len(t, analysis.Stones, 1)
	assert.Equal(t, entities.DerivationMask, analysis.Stones[0].Derivation)
	assert.True(t, analysis.Stones[0].MeshGenerated)
	require.NotNil(t, analysis.MeshArtifactID)

	require.NotNil(t, analysis.TotalBurdenMM3)
	assert.InDelta(t, 125.0, *analysis.TotalBurdenMM3, 0.01)

	// The artifact is stored under the recorded ID against this analysis.
	f.artifacts.AssertCalled(t, "Store", mock.Anything, *analysis.MeshArtifactID, analysis.ID, mock.Anything)

	// The stored container decodes and its metadata marks the burden as
	// mask-derived.
	meshes, meta, err := imaging.DecodeContainer(artifact)
	require.NoError(t, err)
	require.Len(t, meshes, 1)
	assert.Equal(t, 1, meta.StoneCount)
	assert.Equal(t, entities.DerivationMask, meta.Derivation)
}

func TestWorkflowService_RunFull_NoStonesDetected(t *testing.T) {
	f := newWorkflowFixture(t)

	scanPath := writeTestScan(t, func(z, y, x int) float32 {
		return 0
	})

	f.expectLock("patient-1")
	f.inference.On("AnalyzeScan", mock.Anything, mock.Anything).Return(&entities.ScanFindings{
		Stones:     nil,
		Confidence: 0.7,
	}, nil)
	f.inference.On("GenerateText", mock.Anything, mock.Anything).Return("All clear.", nil)
	f.expectPersistence()

	result, err := f.service.RunFull(context.Background(), "patient-1", scanPath, nil)
	require.NoError(t, err)

	analysis := result.Analysis
	assert.Empty(t, analysis.Stones)
	assert.Nil(t, analysis.TotalBurdenMM3)
	assert.Nil(t, analysis.MeshArtifactID)
	assert.Equal(t, entities.TreatmentObservation, analysis.TreatmentRecommendation)
	assert.Equal(t, entities.UrgencyRoutine, analysis.UrgencyLevel)

	assert.Equal(t, "All clear.", result.Plan.PersonalizedSummary)
	assert.NotEmpty(t, result.Nudges)

	f.artifacts.AssertNotCalled(t, "Store", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.analyses.AssertExpectations(t)
	f.plans.AssertExpectations(t)
}

func TestWorkflowService_RunFull_EducationFallback(t *testing.T) {
	f := newWorkflowFixture(t)

	scanPath := writeTestScan(t, func(z, y, x int) float32 {
		return 0
	})

	f.expectLock("patient-1")
	f.inference.On("AnalyzeScan", mock.Anything, mock.Anything).Return(&entities.ScanFindings{
		Stones:     []entities.StoneFinding{{Location: entities.LocationKidneyUpper, SizeMM: fptr(4.0)}},
		Confidence: 0.8,
	}, nil)
	f.inference.On("GenerateText", mock.Anything, mock.Anything).
		Return("", apperrors.NewInferenceFailureError("model timed out", nil))
	f.expectPersistence()

	result, err := f.service.RunFull(context.Background(), "patient-1", scanPath, nil)
	require.NoError(t, err)
	assert.Equal(t, clinical.FallbackSummary, result.Plan.PersonalizedSummary)
}

func TestWorkflowService_RunFull_InferenceFailurePersistsNothing(t *testing.T) {
	f := newWorkflowFixture(t)

	scanPath := writeTestScan(t, func(z, y, x int) float32 {
		return 0
	})

	f.expectLock("patient-1")
	f.inference.On("AnalyzeScan", mock.Anything, mock.Anything).
		Return(nil, apperrors.NewInferenceFailureError("model returned malformed output", nil))

	_, err := f.service.RunFull(context.Background(), "patient-1", scanPath, nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeInferenceFailure))

	f.analyses.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	f.plans.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	f.nudges.AssertNotCalled(t, "CreateBatch", mock.Anything, mock.Anything)
	f.locker.AssertExpectations(t)
}

func TestWorkflowService_RunFull_MissingScanFailsBeforeInference(t *testing.T) {
	f := newWorkflowFixture(t)

	f.expectLock("patient-1")

	_, err := f.service.RunFull(context.Background(), "patient-1", filepath.Join(t.TempDir(), "missing.raw"), nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeInputUnavailable))

	f.inference.AssertNotCalled(t, "AnalyzeScan", mock.Anything, mock.Anything)
	f.analyses.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestWorkflowService_RunFull_LockHeld(t *testing.T) {
	f := newWorkflowFixture(t)

	f.locker.On("Acquire", mock.Anything, "patient-1", time.Minute).Return("", false, nil)

	_, err := f.service.RunFull(context.Background(), "patient-1", "scan.raw", nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConflict))

	f.inference.AssertNotCalled(t, "AnalyzeScan", mock.Anything, mock.Anything)
	f.locker.AssertNotCalled(t, "Release", mock.Anything, mock.Anything, mock.Anything)
}

func TestWorkflowService_RunLabsOnly_ReusesStoredImaging(t *testing.T) {
	f := newWorkflowFixture(t)

	meshID := "artifact-1"
	stored := &entities.StoneAnalysis{
		ID:                      "analysis-1",
		PatientID:               "patient-1",
		ScanPath:                "/scans/old.raw",
		Stones:                  []entities.StoneFinding{{Location: entities.LocationKidneyUpper, SizeMM: fptr(8)}},
		PredictedComposition:    entities.CompositionCalciumOxalate,
		CompositionConfidence:   0.7,
		HydronephrosisLevel:     entities.HydroNone,
		TotalBurdenMM3:          fptr(268.1),
		TreatmentRecommendation: entities.TreatmentESWL,
		TreatmentRationale:      "8.0mm stone in kidney_upper",
		UrgencyLevel:            entities.UrgencyRoutine,
		MeshArtifactID:          &meshID,
	}

	f.expectLock("patient-1")
	f.analyses.On("GetLatestByPatient", mock.Anything, "patient-1").Return(stored, nil)
	f.inference.On("GenerateText", mock.Anything, mock.Anything).Return("Updated summary.", nil)
	f.expectPersistence()

	labs := &entities.LabResults{
		Crystallography: &entities.Crystallography{Composition: "uric acid"},
	}
	result, err := f.service.RunLabsOnly(context.Background(), "patient-1", labs)
	require.NoError(t, err)

	analysis := result.Analysis
	assert.NotEqual(t, stored.ID, analysis.ID)
	assert.Equal(t, stored.ScanPath, analysis.ScanPath)
	assert.Equal(t, &meshID, analysis.MeshArtifactID)

	// Crystallography overrides the CT prediction and raises confidence.
	assert.Equal(t, entities.CompositionUricAcid, analysis.PredictedComposition)
	assert.Equal(t, 0.9, analysis.CompositionConfidence)

	// The stored treatment decision is reused, never re-derived.
	assert.Equal(t, entities.TreatmentESWL, analysis.TreatmentRecommendation)
	assert.Equal(t, stored.TreatmentRationale, analysis.TreatmentRationale)

	f.inference.AssertNotCalled(t, "AnalyzeScan", mock.Anything, mock.Anything)
	f.artifacts.AssertNotCalled(t, "Store", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestWorkflowService_RunLabsOnly_StoredAnalysisWithoutStones(t *testing.T) {
	f := newWorkflowFixture(t)

	stored := &entities.StoneAnalysis{
		ID:                      "analysis-1",
		PatientID:               "patient-1",
		ScanPath:                "/scans/old.raw",
		Stones:                  nil,
		PredictedComposition:    entities.CompositionUnknown,
		CompositionConfidence:   0.7,
		HydronephrosisLevel:     entities.HydroNone,
		TreatmentRecommendation: entities.TreatmentObservation,
		TreatmentRationale:      "No stones detected on the current scan.",
		UrgencyLevel:            entities.UrgencyRoutine,
	}

	f.expectLock("patient-1")
	f.analyses.On("GetLatestByPatient", mock.Anything, "patient-1").Return(stored, nil)
	f.inference.On("GenerateText", mock.Anything, mock.Anything).Return("Keep drinking water.", nil)
	f.expectPersistence()

	labs := &entities.LabResults{Urine: &entities.UrinePanel{CalciumMgDay: fptr(320)}}
	result, err := f.service.RunLabsOnly(context.Background(), "patient-1", labs)
	require.NoError(t, err)

	assert.Empty(t, result.Analysis.Stones)
	assert.Equal(t, entities.TreatmentObservation, result.Analysis.TreatmentRecommendation)
	assert.Equal(t, "Keep drinking water.", result.Plan.PersonalizedSummary)
}

func TestWorkflowService_RunLabsOnly_RequiresLabs(t *testing.T) {
	f := newWorkflowFixture(t)

	_, err := f.service.RunLabsOnly(context.Background(), "patient-1", nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))

	f.locker.AssertNotCalled(t, "Acquire", mock.Anything, mock.Anything, mock.Anything)
}

func TestWorkflowService_RunLabsOnly_NoPriorAnalysis(t *testing.T) {
	f := newWorkflowFixture(t)

	f.expectLock("patient-1")
	f.analyses.On("GetLatestByPatient", mock.Anything, "patient-1").
		Return(nil, apperrors.NewNotFoundError("no analysis for patient patient-1"))

	labs := &entities.LabResults{Urine: &entities.UrinePanel{CalciumMgDay: fptr(320)}}
	_, err := f.service.RunLabsOnly(context.Background(), "patient-1", labs)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))

	f.analyses.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}
