package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-program-sync/internal/models"
)

type ingestionPlatform interface {
	ListStudentEnrolmentsSince(ctx context.Context, lastID int64) ([]models.RawEnrolment, error)
}

type enrolmentWriter interface {
	Create(ctx context.Context, exec sqlx.ExtContext, enrolment *models.ProgramEnrolment) error
}

type enrolmentCursorWriter interface {
	SaveEnrolmentCursor(ctx context.Context, exec sqlx.ExtContext, lastID int64) error
}

// IngestionService copies new platform enrolments into program_enrolments.
type IngestionService struct {
	platform   ingestionPlatform
	enrolments enrolmentWriter
	cursors    enrolmentCursorWriter
	tx         txProvider
	logger     *zap.Logger
}

// NewIngestionService constructs the service. A nil tx writes rows one by one.
func NewIngestionService(platform ingestionPlatform, enrolments enrolmentWriter, cursors enrolmentCursorWriter, tx txProvider, logger *zap.Logger) *IngestionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IngestionService{platform: platform, enrolments: enrolments, cursors: cursors, tx: tx, logger: logger}
}

// Ingest stores every enrolment newer than the cursor and advances the cursor to the
// highest raw id seen. The stored cursor commits together with the rows, so a run that
// fails in a later stage never ingests the same enrolments twice.
func (s *IngestionService) Ingest(ctx context.Context, rc *RunContext) ([]models.ProgramEnrolment, error) {
	rows, err := s.platform.ListStudentEnrolmentsSince(ctx, rc.Cursor.LastEnrolmentID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	created := make([]models.ProgramEnrolment, 0, len(rows))
	lastID := rc.Cursor.LastEnrolmentID
	err = withTx(ctx, s.tx, func(exec sqlx.ExtContext) error {
		for _, raw := range rows {
			enrolment := NormalizeEnrolment(raw)
			if err := s.enrolments.Create(ctx, exec, &enrolment); err != nil {
				return fmt.Errorf("ingest enrolment %d: %w", raw.EnrolmentID, err)
			}
			created = append(created, enrolment)
			if raw.EnrolmentID > lastID {
				lastID = raw.EnrolmentID
			}
		}
		if s.cursors == nil {
			return nil
		}
		return s.cursors.SaveEnrolmentCursor(ctx, exec, lastID)
	})
	if err != nil {
		return nil, err
	}

	rc.Cursor.LastEnrolmentID = lastID
	rc.log("ingestion").Infow("enrolments ingested", "count", len(created), "last_enrolment_id", lastID)
	return created, nil
}

// NormalizeEnrolment classifies a raw platform enrolment with every pending flag derived
// from its short name.
func NormalizeEnrolment(raw models.RawEnrolment) models.ProgramEnrolment {
	intensive := IsIntensive(raw.ShortName)
	return models.ProgramEnrolment{
		UserID:                  raw.UserID,
		CourseID:                raw.CourseID,
		ShortName:               raw.ShortName,
		CategoryID:              raw.CategoryID,
		StartDate:               time.Unix(raw.TimeStart, 0).UTC(),
		EndDate:                 time.Unix(raw.TimeEnd, 0).UTC(),
		PendingEvent:            !IsCommonCourse(raw.ShortName),
		PendingEncapsulation:    AllowsMaster(raw.ShortName),
		PendingConvalidation:    IsConvalidable(raw.ShortName),
		Intensive:               intensive,
		PendingIntensiveMessage: intensive,
	}
}
