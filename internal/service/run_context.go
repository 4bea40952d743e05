package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-program-sync/internal/models"
	"github.com/noah-isme/sma-program-sync/pkg/config"
)

const (
	dayDuration     = 24 * time.Hour
	shortDateLayout = "02/01/2006"
)

// SyncOptions is the per-run snapshot of the admin toggles and texts.
type SyncOptions struct {
	GenerateCalendarEvents bool

	EnrolNotice         bool
	EnrolText           string
	RMFinishNotice      bool
	RMFinishText        string
	StudentFinishNotice bool
	StudentFinishText   string

	Inactivity6Notice       bool
	Inactivity6Text         string
	Inactivity18Notice      bool
	Inactivity18Text        string
	Inactivity24Notice      bool
	Inactivity24RMText      string
	Inactivity24StudentText string

	GradeOverride  bool
	Convalidations bool
	ReviewRole     string

	StrictDedup         bool
	LegacyDelete        bool
	DispatchMaxAttempts int
	SentRetention       time.Duration
	AdminUserID         int64
	Location            *time.Location
}

// OptionsFromConfig copies the configuration snapshot. Unknown time zones fall back to UTC.
func OptionsFromConfig(cfg config.SyncConfig) SyncOptions {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil || cfg.Timezone == "" {
		loc = time.UTC
	}
	return SyncOptions{
		GenerateCalendarEvents:  cfg.GenerateCalendarEvents,
		EnrolNotice:             cfg.EnrolNotice,
		EnrolText:               cfg.EnrolText,
		RMFinishNotice:          cfg.RMFinishNotice,
		RMFinishText:            cfg.RMFinishText,
		StudentFinishNotice:     cfg.StudentFinishNotice,
		StudentFinishText:       cfg.StudentFinishText,
		Inactivity6Notice:       cfg.Inactivity6Notice,
		Inactivity6Text:         cfg.Inactivity6Text,
		Inactivity18Notice:      cfg.Inactivity18Notice,
		Inactivity18Text:        cfg.Inactivity18Text,
		Inactivity24Notice:      cfg.Inactivity24Notice,
		Inactivity24RMText:      cfg.Inactivity24RMText,
		Inactivity24StudentText: cfg.Inactivity24StudentText,
		GradeOverride:           cfg.GradeOverride,
		Convalidations:          cfg.Convalidations,
		ReviewRole:              cfg.ReviewRole,
		StrictDedup:             cfg.StrictDedup,
		LegacyDelete:            cfg.LegacyDelete,
		DispatchMaxAttempts:     cfg.DispatchMaxAttempts,
		SentRetention:           cfg.SentRetention,
		AdminUserID:             cfg.AdminUserID,
		Location:                loc,
	}
}

func (o SyncOptions) location() *time.Location {
	if o.Location == nil {
		return time.UTC
	}
	return o.Location
}

// RunContext carries the state shared by the stages of one run.
type RunContext struct {
	RunID   string
	Now     time.Time
	Today   time.Time
	Options SyncOptions
	Cursor  *models.SyncCursor
	Logger  *zap.Logger
}

// NewRunContext builds the context of a run started at now.
func NewRunContext(now time.Time, opts SyncOptions, cursor *models.SyncCursor, logger *zap.Logger) *RunContext {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cursor == nil {
		cursor = &models.SyncCursor{ID: 1}
	}
	runID := uuid.NewString()
	return &RunContext{
		RunID:   runID,
		Now:     now,
		Today:   dateOf(now, opts.location()),
		Options: opts,
		Cursor:  cursor,
		Logger:  logger.With(zap.String("run_id", runID)),
	}
}

func (rc *RunContext) log(stage string) *zap.SugaredLogger {
	logger := rc.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return logger.Sugar().With("stage", stage)
}

// DateOf truncates t to midnight of its calendar day in rc's location.
func (rc *RunContext) DateOf(t time.Time) time.Time {
	return dateOf(t, rc.Options.location())
}

func dateOf(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

// monthsBetween counts the full calendar months elapsed from from to to.
func monthsBetween(from, to time.Time) int {
	months := (to.Year()-from.Year())*12 + int(to.Month()) - int(from.Month())
	if to.Day() < from.Day() {
		months--
	}
	if months < 0 {
		return 0
	}
	return months
}

type txProvider interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

// withTx runs fn inside a transaction, or against the repositories' pools when no
// provider is configured.
func withTx(ctx context.Context, provider txProvider, fn func(exec sqlx.ExtContext) error) (err error) {
	if provider == nil {
		return fn(nil)
	}
	tx, err := provider.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
