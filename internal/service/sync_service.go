package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-program-sync/internal/models"
)

// Stage names in execution order.
const (
	StageIngestion     = "ingestion"
	StageEncapsulation = "encapsulation"
	StageCalendar      = "calendar"
	StageMasterNotices = "master_notices"
	StageInactivity    = "inactivity"
	StageGradeOverride = "grade_override"
	StageConvalidation = "convalidation"
	StageDispatch      = "dispatch"
)

// RunJobType tags queued on-demand runs.
const RunJobType = "program_sync.run"

type cursorStore interface {
	Load(ctx context.Context) (*models.SyncCursor, error)
	Save(ctx context.Context, cursor *models.SyncCursor) error
}

type pendingCounter interface {
	CountPending(ctx context.Context) (*models.PendingCounts, error)
}

type ingester interface {
	Ingest(ctx context.Context, rc *RunContext) ([]models.ProgramEnrolment, error)
}

type encapsulator interface {
	Encapsulate(ctx context.Context, rc *RunContext) (int, error)
}

type eventGenerator interface {
	Generate(ctx context.Context, rc *RunContext) (int, error)
}

type noticeGenerator interface {
	GenerateMasterMessages(ctx context.Context, rc *RunContext) (int, error)
	GenerateInactivityMessages(ctx context.Context, rc *RunContext) (int, error)
}

type gradeReconciler interface {
	OverrideGrades(ctx context.Context, rc *RunContext) (int, error)
	ConvalidateModules(ctx context.Context, rc *RunContext) (int, error)
}

type dispatcher interface {
	Dispatch(ctx context.Context, rc *RunContext) (DispatchResult, error)
}

// StageReport is the outcome of one stage.
type StageReport struct {
	Name     string        `json:"name"`
	Items    int           `json:"items"`
	Duration time.Duration `json:"duration"`
}

// RunReport summarises a run.
type RunReport struct {
	RunID      string            `json:"run_id"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Stages     []StageReport     `json:"stages"`
	Dispatch   DispatchResult    `json:"dispatch"`
	Cursor     models.SyncCursor `json:"cursor"`
	Error      string            `json:"error,omitempty"`
}

// StatusReport is the persisted cursor with the outstanding work counts.
type StatusReport struct {
	Cursor  models.SyncCursor    `json:"cursor"`
	Pending models.PendingCounts `json:"pending"`
}

// SyncDeps groups the stages run by SyncService.
type SyncDeps struct {
	Cursors       cursorStore
	Pending       pendingCounter
	Ingestion     ingester
	Encapsulation encapsulator
	Calendar      eventGenerator
	Notices       noticeGenerator
	Grades        gradeReconciler
	Dispatch      dispatcher
}

// SyncService runs the batch stages in order and persists the cursor at the end.
type SyncService struct {
	deps    SyncDeps
	options SyncOptions
	metrics *MetricsService
	logger  *zap.Logger
	now     func() time.Time
}

// NewSyncService constructs the orchestrator.
func NewSyncService(deps SyncDeps, options SyncOptions, metrics *MetricsService, logger *zap.Logger) *SyncService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncService{deps: deps, options: options, metrics: metrics, logger: logger, now: time.Now}
}

type stage struct {
	name string
	run  func(ctx context.Context, rc *RunContext) (int, error)
}

// Run executes one batch run. Any stage error aborts the run and leaves the stored
// cursor untouched.
func (s *SyncService) Run(ctx context.Context) (report *RunReport, err error) {
	cursor, err := s.deps.Cursors.Load(ctx)
	if err != nil {
		return nil, err
	}

	rc := NewRunContext(s.now(), s.options, cursor, s.logger)
	report = &RunReport{RunID: rc.RunID, StartedAt: rc.Now}
	defer func() {
		report.FinishedAt = s.now()
		report.Cursor = *rc.Cursor
		if err != nil {
			report.Error = err.Error()
		}
		s.metrics.RecordRun(report, err)
	}()

	for _, st := range s.stages(report) {
		if err = ctx.Err(); err != nil {
			return report, err
		}
		started := time.Now()
		items, stageErr := st.run(ctx, rc)
		elapsed := time.Since(started)
		report.Stages = append(report.Stages, StageReport{Name: st.name, Items: items, Duration: elapsed})
		s.metrics.ObserveStage(st.name, items, elapsed)
		if stageErr != nil {
			err = fmt.Errorf("%s stage: %w", st.name, stageErr)
			rc.log(st.name).Errorw("stage failed", "error", stageErr)
			return report, err
		}
		rc.log(st.name).Debugw("stage finished", "items", items, "duration", elapsed)
	}

	if err = s.deps.Cursors.Save(ctx, rc.Cursor); err != nil {
		return report, err
	}

	rc.Logger.Sugar().Infow("sync run completed",
		"last_enrolment_id", rc.Cursor.LastEnrolmentID,
		"last_grade_check", rc.Cursor.LastGradeCheck,
		"dispatched", report.Dispatch.Sent,
		"failed", report.Dispatch.Failed,
	)
	return report, nil
}

func (s *SyncService) stages(report *RunReport) []stage {
	return []stage{
		{name: StageIngestion, run: func(ctx context.Context, rc *RunContext) (int, error) {
			created, err := s.deps.Ingestion.Ingest(ctx, rc)
			return len(created), err
		}},
		{name: StageEncapsulation, run: s.deps.Encapsulation.Encapsulate},
		{name: StageCalendar, run: s.deps.Calendar.Generate},
		{name: StageMasterNotices, run: s.deps.Notices.GenerateMasterMessages},
		{name: StageInactivity, run: s.deps.Notices.GenerateInactivityMessages},
		{name: StageGradeOverride, run: s.deps.Grades.OverrideGrades},
		{name: StageConvalidation, run: s.deps.Grades.ConvalidateModules},
		{name: StageDispatch, run: func(ctx context.Context, rc *RunContext) (int, error) {
			result, err := s.deps.Dispatch.Dispatch(ctx, rc)
			report.Dispatch = result
			return result.Sent, err
		}},
	}
}

// Status returns the stored cursor and the outstanding work counts.
func (s *SyncService) Status(ctx context.Context) (*StatusReport, error) {
	cursor, err := s.deps.Cursors.Load(ctx)
	if err != nil {
		return nil, err
	}
	pending, err := s.deps.Pending.CountPending(ctx)
	if err != nil {
		return nil, err
	}
	return &StatusReport{Cursor: *cursor, Pending: *pending}, nil
}
