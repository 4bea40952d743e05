package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-program-sync/internal/models"
)

// CalendarRepository writes user events into the platform calendar.
type CalendarRepository struct {
	db *sqlx.DB
}

// NewCalendarRepository constructs a calendar repository.
func NewCalendarRepository(db *sqlx.DB) *CalendarRepository {
	return &CalendarRepository{db: db}
}

func (r *CalendarRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// Create inserts a user event.
func (r *CalendarRepository) Create(ctx context.Context, event *models.CalendarEvent) error {
	if event == nil {
		return fmt.Errorf("calendar event payload is nil")
	}
	if event.EventType == "" {
		event.EventType = "user"
	}

	const query = `INSERT INTO mdl_event (name, description, format, courseid, groupid, userid, modulename, instance,
        eventtype, timestart, timeduration, visible, timemodified)
        VALUES (:name, :description, 1, 0, 0, :userid, '', 0, :eventtype, :timestart, :timeduration, :visible, :timemodified)`
	if _, err := r.db.NamedExecContext(ctx, query, event); err != nil {
		return fmt.Errorf("create calendar event: %w", err)
	}
	return nil
}

// DeleteUserEventsSince removes the user's events whose name starts with prefix and that
// start at or after since (unix seconds).
func (r *CalendarRepository) DeleteUserEventsSince(ctx context.Context, exec sqlx.ExtContext, userID int64, prefix string, since int64) (int64, error) {
	const query = `DELETE FROM mdl_event
        WHERE userid = $1 AND eventtype = 'user' AND starts_with(name, $2) AND timestart >= $3`
	res, err := r.exec(exec).ExecContext(ctx, query, userID, prefix, since)
	if err != nil {
		return 0, fmt.Errorf("delete user events: %w", err)
	}
	return res.RowsAffected()
}
