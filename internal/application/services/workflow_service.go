package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/klenai/stonecare/internal/clinical"
	"github.com/klenai/stonecare/internal/domain/entities"
	"github.com/klenai/stonecare/internal/domain/providers"
	"github.com/klenai/stonecare/internal/domain/repositories"
	"github.com/klenai/stonecare/internal/imaging"
	"github.com/klenai/stonecare/internal/infrastructure/observability"
	"github.com/klenai/stonecare/pkg/config"
	apperrors "github.com/klenai/stonecare/pkg/errors"
)

// runStage is the workflow resume point. A full run enters at Analyze; a
// lab-only re-run enters at IntegrateLabs, reusing the stored imaging output.
type runStage string

const (
	stageAnalyze        runStage = "analyze"
	stageModel          runStage = "model"
	stageDecide         runStage = "decide"
	stageIntegrateLabs  runStage = "integrate_labs"
	stagePlan           runStage = "plan"
	stageEducate        runStage = "educate"
	stageScheduleNudges runStage = "schedule_nudges"
	stageDone           runStage = "done"
)

// SliceEncoder renders key slices of a volume into transport-ready images.
type SliceEncoder func(vol *imaging.Volume, count int) ([][]byte, error)

// RunResult is the persisted output of one workflow run.
type RunResult struct {
	Analysis *entities.StoneAnalysis `json:"analysis"`
	Plan     *entities.PlanVersion   `json:"plan"`
	Nudges   []*entities.Nudge       `json:"nudges"`
}

// WorkflowService orchestrates the imaging-to-care-plan pipeline. All
// persistence happens at the end of a run: a failed run writes nothing.
type WorkflowService struct {
	analyses  repositories.AnalysisRepository
	artifacts repositories.ArtifactRepository
	plans     repositories.PlanRepository
	nudges    repositories.NudgeRepository
	inference providers.InferenceProvider
	locker    providers.RunLocker
	encode    SliceEncoder
	metrics   *observability.Metrics
	cfg       config.PipelineConfig
}

// NewWorkflowService creates a workflow service
func NewWorkflowService(
	analyses repositories.AnalysisRepository,
	artifacts repositories.ArtifactRepository,
	plans repositories.PlanRepository,
	nudges repositories.NudgeRepository,
	inference providers.InferenceProvider,
	locker providers.RunLocker,
	encode SliceEncoder,
	metrics *observability.Metrics,
	cfg config.PipelineConfig,
) *WorkflowService {
	if cfg.MeshWorkers <= 0 {
		cfg.MeshWorkers = 4
	}
	if cfg.RunLockTTL <= 0 {
		cfg.RunLockTTL = 10 * time.Minute
	}
	return &WorkflowService{
		analyses:  analyses,
		artifacts: artifacts,
		plans:     plans,
		nudges:    nudges,
		inference: inference,
		locker:    locker,
		encode:    encode,
		metrics:   metrics,
		cfg:       cfg,
	}
}

// runState carries the pipeline state between stages.
type runState struct {
	patientID string
	scanPath  string
	labs      *entities.LabResults

	vol            *imaging.Volume
	stones         []entities.StoneFinding
	confidence     float64
	composition    entities.Composition
	hydroLevel     string
	totalBurden    *float64
	meshArtifact   []byte
	meshArtifactID *string
	warnings       []string

	decision    clinical.Decision
	riskFactors []entities.RiskFactor
	prevention  entities.Prevention
	summary     string
	nudges      []*entities.Nudge

	result *RunResult
}

// RunFull executes the full pipeline for a patient scan.
func (s *WorkflowService) RunFull(ctx context.Context, patientID, scanPath string, labs *entities.LabResults) (*RunResult, error) {
	st := &runState{patientID: patientID, scanPath: scanPath, labs: labs}
	return s.run(ctx, stageAnalyze, st)
}

// RunLabsOnly re-runs the plan stages on new lab results, reusing the
// stored imaging output of the patient's latest analysis.
func (s *WorkflowService) RunLabsOnly(ctx context.Context, patientID string, labs *entities.LabResults) (*RunResult, error) {
	if !labs.HasAny() {
		return nil, apperrors.NewValidationError("lab results are required for a lab-only run")
	}
	st := &runState{patientID: patientID, labs: labs}
	return s.run(ctx, stageIntegrateLabs, st)
}

func (s *WorkflowService) run(ctx context.Context, entry runStage, st *runState) (*RunResult, error) {
	ctx, span := observability.StartSpan(ctx, "workflow.run")
	defer span.End()

	token, ok, err := s.locker.Acquire(ctx, st.patientID, s.cfg.RunLockTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.NewConflictError(fmt.Sprintf("a run is already in progress for patient %s", st.patientID))
	}
	defer func() {
		if releaseErr := s.locker.Release(context.WithoutCancel(ctx), st.patientID, token); releaseErr != nil {
			observability.LoggerFromContext(ctx).Warn().Err(releaseErr).
				Str("patient_id", st.patientID).Msg("failed to release run lock")
		}
	}()

	if entry == stageIntegrateLabs {
		if err := s.loadStoredAnalysis(ctx, st); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	runErr := s.advance(ctx, entry, st)
	observability.RecordRunMetric(ctx, s.metrics, string(entry), len(st.stones), time.Since(start), runErr)
	if runErr != nil {
		observability.RecordError(span, runErr)
		return nil, runErr
	}
	return st.result, nil
}

func (s *WorkflowService) advance(ctx context.Context, stage runStage, st *runState) error {
	for stage != stageDone {
		if err := ctx.Err(); err != nil {
			return err
		}
		stageStart := time.Now()
		next, err := s.step(ctx, stage, st)
		observability.RecordStageMetric(ctx, s.metrics, string(stage), time.Since(stageStart))
		if err != nil {
			observability.LoggerFromContext(ctx).Error().Err(err).
				Str("patient_id", st.patientID).Str("stage", string(stage)).
				Msg("workflow run aborted")
			return err
		}
		stage = next
	}
	return nil
}

func (s *WorkflowService) step(ctx context.Context, stage runStage, st *runState) (runStage, error) {
	switch stage {
	case stageAnalyze:
		return stageModel, s.analyze(ctx, st)
	case stageModel:
		return stageDecide, s.model(ctx, st)
	case stageDecide:
		return stageIntegrateLabs, s.decide(ctx, st)
	case stageIntegrateLabs:
		return stagePlan, s.integrateLabs(ctx, st)
	case stagePlan:
		return stageEducate, s.plan(ctx, st)
	case stageEducate:
		return stageScheduleNudges, s.educate(ctx, st)
	case stageScheduleNudges:
		return stageDone, s.scheduleAndPersist(ctx, st)
	default:
		return stageDone, apperrors.NewInternalError(fmt.Sprintf("unknown workflow stage %q", stage), nil)
	}
}

// analyze loads the scan and runs stone detection over its key slices.
// Inference failures are fatal: no plan may be built on unvalidated output.
func (s *WorkflowService) analyze(ctx context.Context, st *runState) error {
	vol, err := imaging.LoadVolume(st.scanPath)
	if err != nil {
		return err
	}
	st.vol = vol

	slices, err := s.encode(vol, 0)
	if err != nil {
		return err
	}

	findings, err := s.inference.AnalyzeScan(ctx, providers.ScanRequest{
		Slices:   slices,
		Modality: "CT",
		Spacing:  vol.Spacing,
	})
	if err != nil {
		return err
	}

	for i := range findings.Stones {
		if findings.Stones[i].PredictedComposition == "" && findings.Stones[i].HounsfieldUnits != nil {
			findings.Stones[i].PredictedComposition = clinical.PredictCompositionFromHU(*findings.Stones[i].HounsfieldUnits)
		}
	}

	st.stones = findings.Stones
	st.confidence = findings.Confidence
	st.composition = findings.PredictedComposition
	if st.composition == "" || st.composition == entities.CompositionUnknown {
		st.composition = clinical.AggregateComposition(st.stones)
	}
	st.hydroLevel = clinical.SummarizeHydronephrosis(st.stones)

	observability.LoggerFromContext(ctx).Info().
		Str("patient_id", st.patientID).
		Int("stones", len(st.stones)).
		Float64("confidence", st.confidence).
		Msg("scan analysis complete")
	return nil
}

// model segments the stones, estimates burden per stone, and builds the mesh
// artifact. Segmentation and meshing degrade gracefully: a stone that cannot
// be masked falls back to formula burden, a stone with no size data at all is
// excluded from the aggregate with a warning.
func (s *WorkflowService) model(ctx context.Context, st *runState) error {
	if len(st.stones) == 0 {
		return nil
	}

	segmenter := imaging.NewSegmenter(imaging.SegmentationConfig{
		HounsfieldLower:    s.cfg.HounsfieldLower,
		HounsfieldUpper:    s.cfg.HounsfieldUpper,
		MinComponentVoxels: s.cfg.MinComponentVoxels,
		ROIRadiusMM:        s.cfg.ROIRadiusMM,
	})

	masks, err := segmenter.SegmentStones(st.vol, st.stones)
	if err != nil {
		st.warnings = append(st.warnings, "segmentation unavailable; stone burden estimated from reported dimensions")
		masks = make([]*imaging.Mask, len(st.stones))
	}

	var total float64
	haveBurden := false
	for i := range st.stones {
		var record imaging.BurdenRecord
		if i < len(masks) && masks[i] != nil {
			record = imaging.MaskBurden(masks[i], st.vol.Spacing)
		} else {
			record, err = imaging.FormulaBurden(&st.stones[i], st.vol.Spacing)
			if err != nil {
				st.warnings = append(st.warnings,
					fmt.Sprintf("stone %d in %s has no size data and was excluded from the aggregate burden", i+1, st.stones[i].Location))
				continue
			}
		}
		volume := record.VolumeMM3
		diameter := record.EquivalentDiameterMM
		st.stones[i].VolumeMM3 = &volume
		st.stones[i].EquivalentDiameterMM = &diameter
		st.stones[i].Derivation = record.Method
		total += volume
		haveBurden = true
	}
	if haveBurden {
		st.totalBurden = &total
	}

	if err := s.buildMeshes(ctx, st, masks); err != nil {
		return err
	}
	return nil
}

// buildMeshes extracts per-stone surfaces on a bounded worker pool and
// encodes them into a single container artifact.
func (s *WorkflowService) buildMeshes(ctx context.Context, st *runState, masks []*imaging.Mask) error {
	builder := imaging.NewMeshBuilder(imaging.MeshConfig{
		PaddingVoxels:  s.cfg.MeshPaddingVoxels,
		SmoothingSigma: s.cfg.MeshSmoothingSigma,
		IsoLevel:       0.5,
	})

	meshes := make([]*imaging.Mesh, len(masks))
	var mu sync.Mutex

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MeshWorkers)
	for i := range masks {
		if masks[i] == nil {
			continue
		}
		i := i
		g.Go(func() error {
			mesh, err := builder.Build(masks[i], st.vol.Spacing)
			if errors.Is(err, imaging.ErrNoSurface) {
				mu.Lock()
				st.warnings = append(st.warnings, fmt.Sprintf("stone %d yielded no surface and was skipped in the model", i+1))
				mu.Unlock()
				return nil
			}
			if err != nil {
				return err
			}
			mu.Lock()
			meshes[i] = mesh
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var kept []*imaging.Mesh
	var stoneMeta []imaging.ContainerStoneMeta
	for i, mesh := range meshes {
		if mesh == nil {
			continue
		}
		st.stones[i].MeshGenerated = true
		volume := 0.0
		if st.stones[i].VolumeMM3 != nil {
			volume = *st.stones[i].VolumeMM3
		}
		kept = append(kept, mesh)
		stoneMeta = append(stoneMeta, imaging.ContainerStoneMeta{
			Index:       i,
			Location:    string(st.stones[i].Location),
			VolumeMM3:   volume,
			VertexCount: mesh.VertexCount(),
			FaceCount:   mesh.FaceCount(),
		})
	}
	if len(kept) == 0 {
		return nil
	}

	data, err := imaging.EncodeContainer(kept, imaging.ContainerMetadata{
		StoneCount: len(kept),
		SpacingMM:  st.vol.Spacing,
		Stones:     stoneMeta,
		Derivation: entities.DerivationMask,
	})
	if err != nil {
		return apperrors.NewInternalError("failed to encode mesh container", err)
	}
	st.meshArtifact = data
	id := uuid.NewString()
	st.meshArtifactID = &id
	return nil
}

func (s *WorkflowService) decide(ctx context.Context, st *runState) error {
	st.decision = clinical.Decide(st.stones, st.composition, st.totalBurden, st.hydroLevel)

	observability.LoggerFromContext(ctx).Info().
		Str("patient_id", st.patientID).
		Str("treatment", string(st.decision.Treatment)).
		Str("urgency", string(st.decision.Urgency)).
		Msg("treatment decided")
	return nil
}

func (s *WorkflowService) integrateLabs(_ context.Context, st *runState) error {
	if !st.labs.HasAny() {
		return nil
	}
	integration := clinical.IntegrateLabs(*st.labs, st.composition, st.confidence, st.riskFactors)
	st.composition = integration.Composition
	st.confidence = integration.Confidence
	st.riskFactors = integration.RiskFactors
	return nil
}

func (s *WorkflowService) plan(_ context.Context, st *runState) error {
	st.prevention = clinical.BuildPrevention(st.composition, st.riskFactors)
	return nil
}

// educate asks the model for a plain-language summary. Education is
// best-effort: a failed generation falls back to static text.
func (s *WorkflowService) educate(ctx context.Context, st *runState) error {
	primary := clinical.PrimaryStone(st.stones)
	prompt := clinical.BuildEducationPrompt(st.composition, primary, st.decision.Treatment, st.prevention.FluidTargetML)

	summary, err := s.inference.GenerateText(ctx, prompt)
	if err != nil || summary == "" {
		observability.LoggerFromContext(ctx).Warn().Err(err).
			Str("patient_id", st.patientID).
			Msg("education generation failed, using fallback summary")
		summary = clinical.FallbackSummary
	}
	st.summary = summary
	return nil
}

// scheduleAndPersist builds the nudge campaign and writes the run's output:
// the mesh artifact, one immutable analysis record, one pending plan
// version, and the plan's nudges in pending_approval.
func (s *WorkflowService) scheduleAndPersist(ctx context.Context, st *runState) error {
	now := time.Now().UTC()
	analysisID := uuid.NewString()

	if st.meshArtifact != nil && st.meshArtifactID != nil {
		if err := s.artifacts.Store(ctx, *st.meshArtifactID, analysisID, st.meshArtifact); err != nil {
			return err
		}
	}

	st.result = &RunResult{}
	return s.persistRecords(ctx, st, analysisID, now)
}

func (s *WorkflowService) persistRecords(ctx context.Context, st *runState, analysisID string, now time.Time) error {
	analysis := &entities.StoneAnalysis{
		ID:                      analysisID,
		PatientID:               st.patientID,
		ScanPath:                st.scanPath,
		Stones:                  st.stones,
		PredictedComposition:    st.composition,
		CompositionConfidence:   st.confidence,
		HydronephrosisLevel:     st.hydroLevel,
		TotalBurdenMM3:          st.totalBurden,
		TreatmentRecommendation: st.decision.Treatment,
		TreatmentRationale:      st.decision.Rationale,
		UrgencyLevel:            st.decision.Urgency,
		MetabolicRiskFactors:    st.riskFactors,
		MeshArtifactID:          st.meshArtifactID,
		Warnings:                st.warnings,
		CreatedAt:               now,
	}
	if err := s.analyses.Create(ctx, analysis); err != nil {
		return err
	}

	plan := &entities.PlanVersion{
		ID:                      uuid.NewString(),
		PatientID:               st.patientID,
		AnalysisID:              analysis.ID,
		TreatmentRecommendation: st.decision.Treatment,
		UrgencyLevel:            st.decision.Urgency,
		Prevention:              st.prevention,
		PersonalizedSummary:     st.summary,
		EducationMaterials:      clinical.DefaultEducationMaterials(),
		ComplianceCheckpoints:   clinical.ComplianceSchedule(),
		CreatedAt:               now,
	}
	if err := s.plans.Create(ctx, plan); err != nil {
		return err
	}

	campaign := clinical.BuildNudgeCampaign(st.decision.Treatment, st.prevention.FluidTargetML, now)
	nudges := make([]*entities.Nudge, 0, len(campaign))
	for i := range campaign {
		nudge := campaign[i]
		nudge.ID = uuid.NewString()
		nudge.PlanID = plan.ID
		nudge.PatientID = st.patientID
		nudge.Status = entities.NudgeStatusPendingApproval
		nudge.CreatedAt = now
		nudges = append(nudges, &nudge)
	}
	if err := s.nudges.CreateBatch(ctx, nudges); err != nil {
		return err
	}

	st.result.Analysis = analysis
	st.result.Plan = plan
	st.result.Nudges = nudges

	observability.LoggerFromContext(ctx).Info().
		Str("patient_id", st.patientID).
		Str("analysis_id", analysis.ID).
		Str("plan_id", plan.ID).
		Int("plan_version", plan.Version).
		Int("nudges", len(nudges)).
		Msg("run persisted")
	return nil
}

// loadStoredAnalysis seeds a lab-only run from the patient's latest
// analysis. Imaging output (stones, burden, mesh artifact reference) is
// copied; masks and meshes are never touched.
func (s *WorkflowService) loadStoredAnalysis(ctx context.Context, st *runState) error {
	prior, err := s.analyses.GetLatestByPatient(ctx, st.patientID)
	if err != nil {
		return err
	}

	st.scanPath = prior.ScanPath
	st.stones = prior.Stones
	st.composition = prior.PredictedComposition
	st.confidence = prior.CompositionConfidence
	st.hydroLevel = prior.HydronephrosisLevel
	st.totalBurden = prior.TotalBurdenMM3
	st.riskFactors = prior.MetabolicRiskFactors
	st.meshArtifactID = prior.MeshArtifactID
	st.decision = clinical.Decision{
		Treatment: prior.TreatmentRecommendation,
		Urgency:   prior.UrgencyLevel,
		Rationale: prior.TreatmentRationale,
	}
	return nil
}
