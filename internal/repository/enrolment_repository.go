package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/sma-program-sync/internal/models"
)

const enrolmentColumns = `id, user_id, course_id, short_name, category_id, start_date, end_date, pending_event,
        pending_encapsulation, pending_convalidation, intensive, pending_intensive_message, master_id, created_at`

// EnrolmentRepository persists normalized program enrolments.
type EnrolmentRepository struct {
	db *sqlx.DB
}

// NewEnrolmentRepository constructs the repository.
func NewEnrolmentRepository(db *sqlx.DB) *EnrolmentRepository {
	return &EnrolmentRepository{db: db}
}

func (r *EnrolmentRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// Create inserts an enrolment and fills its ID. A nil exec uses the repository's pool.
func (r *EnrolmentRepository) Create(ctx context.Context, exec sqlx.ExtContext, enrolment *models.ProgramEnrolment) error {
	if enrolment == nil {
		return fmt.Errorf("enrolment payload is nil")
	}
	if enrolment.CreatedAt.IsZero() {
		enrolment.CreatedAt = time.Now().UTC()
	}

	const query = `INSERT INTO program_enrolments (user_id, course_id, short_name, category_id, start_date, end_date,
        pending_event, pending_encapsulation, pending_convalidation, intensive, pending_intensive_message, master_id, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
        RETURNING id`
	if err := sqlx.GetContext(ctx, r.exec(exec), &enrolment.ID, query,
		enrolment.UserID,
		enrolment.CourseID,
		enrolment.ShortName,
		enrolment.CategoryID,
		enrolment.StartDate,
		enrolment.EndDate,
		enrolment.PendingEvent,
		enrolment.PendingEncapsulation,
		enrolment.PendingConvalidation,
		enrolment.Intensive,
		enrolment.PendingIntensiveMessage,
		enrolment.MasterID,
		enrolment.CreatedAt,
	); err != nil {
		return fmt.Errorf("create program enrolment: %w", err)
	}
	return nil
}

// ListPendingEncapsulation returns the category's enrolments awaiting a master, ordered by user and start.
func (r *EnrolmentRepository) ListPendingEncapsulation(ctx context.Context, categoryID int64) ([]models.ProgramEnrolment, error) {
	query := `SELECT ` + enrolmentColumns + ` FROM program_enrolments
        WHERE pending_encapsulation = TRUE AND category_id = $1
        ORDER BY user_id, start_date ASC`
	var enrolments []models.ProgramEnrolment
	if err := r.db.SelectContext(ctx, &enrolments, query, categoryID); err != nil {
		return nil, fmt.Errorf("list pending encapsulation: %w", err)
	}
	return enrolments, nil
}

// AssignMaster links the enrolments to masterID and clears their encapsulation flag.
func (r *EnrolmentRepository) AssignMaster(ctx context.Context, exec sqlx.ExtContext, masterID int64, enrolmentIDs []int64) error {
	if len(enrolmentIDs) == 0 {
		return nil
	}
	const query = `UPDATE program_enrolments SET master_id = $1, pending_encapsulation = FALSE WHERE id = ANY($2)`
	if _, err := r.exec(exec).ExecContext(ctx, query, masterID, pq.Array(enrolmentIDs)); err != nil {
		return fmt.Errorf("assign master: %w", err)
	}
	return nil
}

// ListPendingEvents returns enrolments awaiting a calendar event by ascending start date.
func (r *EnrolmentRepository) ListPendingEvents(ctx context.Context) ([]models.ProgramEnrolment, error) {
	query := `SELECT ` + enrolmentColumns + ` FROM program_enrolments WHERE pending_event = TRUE ORDER BY start_date ASC, id ASC`
	var enrolments []models.ProgramEnrolment
	if err := r.db.SelectContext(ctx, &enrolments, query); err != nil {
		return nil, fmt.Errorf("list pending events: %w", err)
	}
	return enrolments, nil
}

// NextPendingEvent returns the user's next pending-event enrolment in the category that
// starts strictly after the given instant. sql.ErrNoRows is returned when none exists.
func (r *EnrolmentRepository) NextPendingEvent(ctx context.Context, userID, categoryID int64, after time.Time) (*models.ProgramEnrolment, error) {
	query := `SELECT ` + enrolmentColumns + ` FROM program_enrolments
        WHERE pending_event = TRUE AND category_id = $1 AND user_id = $2 AND start_date > $3
        ORDER BY start_date ASC LIMIT 1`
	var enrolment models.ProgramEnrolment
	if err := r.db.GetContext(ctx, &enrolment, query, categoryID, userID, after); err != nil {
		return nil, err
	}
	return &enrolment, nil
}

// ClearPendingEvent marks the enrolment's event as processed.
func (r *EnrolmentRepository) ClearPendingEvent(ctx context.Context, id int64) error {
	const query = `UPDATE program_enrolments SET pending_event = FALSE WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("clear pending event: %w", err)
	}
	return nil
}

// ListPendingIntensiveMessages returns intensive enrolments whose notices were not generated yet.
func (r *EnrolmentRepository) ListPendingIntensiveMessages(ctx context.Context) ([]models.ProgramEnrolment, error) {
	query := `SELECT ` + enrolmentColumns + ` FROM program_enrolments
        WHERE intensive = TRUE AND pending_intensive_message = TRUE ORDER BY id ASC`
	var enrolments []models.ProgramEnrolment
	if err := r.db.SelectContext(ctx, &enrolments, query); err != nil {
		return nil, fmt.Errorf("list pending intensive messages: %w", err)
	}
	return enrolments, nil
}

// ClearPendingIntensiveMessage marks the intensive enrolment as notified.
func (r *EnrolmentRepository) ClearPendingIntensiveMessage(ctx context.Context, id int64) error {
	const query = `UPDATE program_enrolments SET pending_intensive_message = FALSE WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("clear pending intensive message: %w", err)
	}
	return nil
}

// ListPendingConvalidations returns non-intensive enrolments awaiting the recognition pass.
func (r *EnrolmentRepository) ListPendingConvalidations(ctx context.Context) ([]models.ProgramEnrolment, error) {
	query := `SELECT ` + enrolmentColumns + ` FROM program_enrolments
        WHERE intensive = FALSE AND pending_convalidation = TRUE ORDER BY user_id, start_date ASC`
	var enrolments []models.ProgramEnrolment
	if err := r.db.SelectContext(ctx, &enrolments, query); err != nil {
		return nil, fmt.Errorf("list pending convalidations: %w", err)
	}
	return enrolments, nil
}

// ClearPendingConvalidation marks the enrolment as visited by the recognition pass.
func (r *EnrolmentRepository) ClearPendingConvalidation(ctx context.Context, id int64) error {
	const query = `UPDATE program_enrolments SET pending_convalidation = FALSE WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("clear pending convalidation: %w", err)
	}
	return nil
}

// ListByUser returns every program enrolment of the user.
func (r *EnrolmentRepository) ListByUser(ctx context.Context, userID int64) ([]models.ProgramEnrolment, error) {
	query := `SELECT ` + enrolmentColumns + ` FROM program_enrolments WHERE user_id = $1 ORDER BY start_date ASC, id ASC`
	var enrolments []models.ProgramEnrolment
	if err := r.db.SelectContext(ctx, &enrolments, query, userID); err != nil {
		return nil, fmt.Errorf("list enrolments by user: %w", err)
	}
	return enrolments, nil
}

// DeleteByCategoryUser removes the user's enrolments in the category.
func (r *EnrolmentRepository) DeleteByCategoryUser(ctx context.Context, exec sqlx.ExtContext, categoryID, userID int64) (int64, error) {
	const query = `DELETE FROM program_enrolments WHERE category_id = $1 AND user_id = $2`
	res, err := r.exec(exec).ExecContext(ctx, query, categoryID, userID)
	if err != nil {
		return 0, fmt.Errorf("delete program enrolments: %w", err)
	}
	return res.RowsAffected()
}

// CountPending aggregates outstanding work across the program tables.
func (r *EnrolmentRepository) CountPending(ctx context.Context) (*models.PendingCounts, error) {
	const query = `SELECT
            (SELECT COUNT(*) FROM program_enrolments WHERE pending_event) AS events,
            (SELECT COUNT(*) FROM program_enrolments WHERE pending_encapsulation) AS encapsulations,
            (SELECT COUNT(*) FROM program_enrolments WHERE pending_convalidation AND NOT intensive) AS convalidations,
            (SELECT COUNT(*) FROM program_enrolments WHERE pending_intensive_message) AS intensive_messages,
            (SELECT COUNT(*) FROM program_masters WHERE pending_messages) AS master_messages,
            (SELECT COUNT(*) FROM program_messages WHERE status = 'PENDING') AS queued_messages,
            (SELECT COUNT(*) FROM program_messages WHERE status = 'FAILED') AS failed_messages`
	var counts models.PendingCounts
	if err := r.db.GetContext(ctx, &counts, query); err != nil {
		return nil, fmt.Errorf("count pending work: %w", err)
	}
	return &counts, nil
}
