package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-program-sync/internal/models"
)

type calendarEnrolments interface {
	ListPendingEvents(ctx context.Context) ([]models.ProgramEnrolment, error)
	NextPendingEvent(ctx context.Context, userID, categoryID int64, after time.Time) (*models.ProgramEnrolment, error)
	ClearPendingEvent(ctx context.Context, id int64) error
}

type calendarWriter interface {
	Create(ctx context.Context, event *models.CalendarEvent) error
}

// CalendarEventService writes one user calendar event per pending enrolment.
type CalendarEventService struct {
	enrolments calendarEnrolments
	calendar   calendarWriter
	logger     *zap.Logger
}

// NewCalendarEventService constructs the service.
func NewCalendarEventService(enrolments calendarEnrolments, calendar calendarWriter, logger *zap.Logger) *CalendarEventService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CalendarEventService{enrolments: enrolments, calendar: calendar, logger: logger}
}

// Generate creates the events and returns how many were written. Events ending before
// today are skipped but their enrolments are still marked processed.
func (s *CalendarEventService) Generate(ctx context.Context, rc *RunContext) (int, error) {
	if !rc.Options.GenerateCalendarEvents {
		return 0, nil
	}

	pending, err := s.enrolments.ListPendingEvents(ctx)
	if err != nil {
		return 0, err
	}

	created := 0
	skipped := 0
	for _, enrolment := range pending {
		event, err := s.buildEvent(ctx, rc, enrolment)
		if err != nil {
			return created, err
		}
		if event.TimeStart+event.TimeDuration < rc.Today.Unix() {
			skipped++
		} else {
			if err := s.calendar.Create(ctx, event); err != nil {
				return created, fmt.Errorf("event for enrolment %d: %w", enrolment.ID, err)
			}
			created++
		}
		if err := s.enrolments.ClearPendingEvent(ctx, enrolment.ID); err != nil {
			return created, err
		}
	}

	if len(pending) > 0 {
		rc.log("calendar").Infow("calendar events generated", "created", created, "skipped", skipped)
	}
	return created, nil
}

func (s *CalendarEventService) buildEvent(ctx context.Context, rc *RunContext, enrolment models.ProgramEnrolment) (*models.CalendarEvent, error) {
	end := enrolment.EndDate
	next, err := s.enrolments.NextPendingEvent(ctx, enrolment.UserID, enrolment.CategoryID, enrolment.StartDate)
	switch {
	case err == nil:
		end = next.StartDate
	case !errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("next pending event: %w", err)
	}

	start := rc.DateOf(enrolment.StartDate).Unix()
	duration := end.Unix() - enrolment.StartDate.Unix()
	if duration < 0 {
		duration = int64(dayDuration.Seconds())
	}

	name := EventName(enrolment.ShortName)
	return &models.CalendarEvent{
		Name:         name,
		Description:  name,
		UserID:       enrolment.UserID,
		EventType:    "user",
		TimeStart:    start,
		TimeDuration: duration,
		Visible:      1,
		TimeModified: rc.Now.Unix(),
	}, nil
}
