package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-program-sync/internal/models"
)

const cursorID = 1

// CursorRepository persists the singleton run cursor.
type CursorRepository struct {
	db *sqlx.DB
}

// NewCursorRepository constructs the repository.
func NewCursorRepository(db *sqlx.DB) *CursorRepository {
	return &CursorRepository{db: db}
}

// Load returns the stored cursor or a zero cursor on first run.
func (r *CursorRepository) Load(ctx context.Context) (*models.SyncCursor, error) {
	const query = `SELECT id, last_enrolment_id, last_inactivity_check, last_grade_check, updated_at
        FROM program_sync_cursor WHERE id = $1`
	var cursor models.SyncCursor
	if err := r.db.GetContext(ctx, &cursor, query, cursorID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &models.SyncCursor{ID: cursorID}, nil
		}
		return nil, fmt.Errorf("load sync cursor: %w", err)
	}
	return &cursor, nil
}

// Save upserts the cursor.
func (r *CursorRepository) Save(ctx context.Context, cursor *models.SyncCursor) error {
	if cursor == nil {
		return fmt.Errorf("sync cursor is nil")
	}
	cursor.ID = cursorID
	cursor.UpdatedAt = time.Now().UTC()

	const query = `INSERT INTO program_sync_cursor (id, last_enrolment_id, last_inactivity_check, last_grade_check, updated_at)
        VALUES (:id, :last_enrolment_id, :last_inactivity_check, :last_grade_check, :updated_at)
        ON CONFLICT (id) DO UPDATE SET
            last_enrolment_id = EXCLUDED.last_enrolment_id,
            last_inactivity_check = EXCLUDED.last_inactivity_check,
            last_grade_check = EXCLUDED.last_grade_check,
            updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, cursor); err != nil {
		return fmt.Errorf("save sync cursor: %w", err)
	}
	return nil
}

// SaveEnrolmentCursor stores only last_enrolment_id. A non-nil exec joins the caller's
// transaction so the cursor commits with the ingested rows.
func (r *CursorRepository) SaveEnrolmentCursor(ctx context.Context, exec sqlx.ExtContext, lastID int64) error {
	if exec == nil {
		exec = r.db
	}
	const query = `INSERT INTO program_sync_cursor (id, last_enrolment_id, last_grade_check, updated_at)
        VALUES ($1, $2, 0, $3)
        ON CONFLICT (id) DO UPDATE SET
            last_enrolment_id = EXCLUDED.last_enrolment_id,
            updated_at = EXCLUDED.updated_at`
	if _, err := exec.ExecContext(ctx, query, cursorID, lastID, time.Now().UTC()); err != nil {
		return fmt.Errorf("save enrolment cursor: %w", err)
	}
	return nil
}
