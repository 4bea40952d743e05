package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/sma-program-sync/internal/models"
)

const masterColumns = `m.id, m.user_id, m.category_id, m.start_date, m.end_date, m.pending_holidays, m.pending_messages,
        m.inactivity6, m.inactivity18, m.inactivity24, m.created_at`

// lastAccessJoin aggregates the most recent course access per user.
const lastAccessJoin = `JOIN (SELECT userid, MAX(timeaccess) AS timeaccess FROM mdl_user_lastaccess GROUP BY userid) la
        ON la.userid = m.user_id`

// MasterRepository persists program masters.
type MasterRepository struct {
	db *sqlx.DB
}

// NewMasterRepository constructs the repository.
func NewMasterRepository(db *sqlx.DB) *MasterRepository {
	return &MasterRepository{db: db}
}

func (r *MasterRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// Create inserts a master and fills its ID.
func (r *MasterRepository) Create(ctx context.Context, exec sqlx.ExtContext, master *models.ProgramMaster) error {
	if master == nil {
		return fmt.Errorf("master payload is nil")
	}
	if master.CreatedAt.IsZero() {
		master.CreatedAt = time.Now().UTC()
	}

	const query = `INSERT INTO program_masters (user_id, category_id, start_date, end_date, pending_holidays, pending_messages,
        inactivity6, inactivity18, inactivity24, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        RETURNING id`
	if err := sqlx.GetContext(ctx, r.exec(exec), &master.ID, query,
		master.UserID,
		master.CategoryID,
		master.StartDate,
		master.EndDate,
		master.PendingHolidays,
		master.PendingMessages,
		master.Inactivity6,
		master.Inactivity18,
		master.Inactivity24,
		master.CreatedAt,
	); err != nil {
		return fmt.Errorf("create program master: %w", err)
	}
	return nil
}

// ExistsForUser reports whether the user already owns a master in the category.
func (r *MasterRepository) ExistsForUser(ctx context.Context, categoryID, userID int64) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM program_masters WHERE category_id = $1 AND user_id = $2)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, categoryID, userID); err != nil {
		return false, fmt.Errorf("check master exists: %w", err)
	}
	return exists, nil
}

// ListPendingMessages returns masters whose program notices were not generated yet.
func (r *MasterRepository) ListPendingMessages(ctx context.Context) ([]models.ProgramMaster, error) {
	query := `SELECT ` + masterColumns + ` FROM program_masters m WHERE m.pending_messages = TRUE ORDER BY m.category_id, m.id`
	var masters []models.ProgramMaster
	if err := r.db.SelectContext(ctx, &masters, query); err != nil {
		return nil, fmt.Errorf("list masters pending messages: %w", err)
	}
	return masters, nil
}

// ClearPendingMessages clears the notice flag on the given masters.
func (r *MasterRepository) ClearPendingMessages(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	const query = `UPDATE program_masters SET pending_messages = FALSE WHERE id = ANY($1)`
	if _, err := r.db.ExecContext(ctx, query, pq.Array(ids)); err != nil {
		return fmt.Errorf("clear master pending messages: %w", err)
	}
	return nil
}

// ListInProgram returns masters running at now that were not flagged for 6-month
// inactivity, with their user's last access. Users without any access are excluded.
func (r *MasterRepository) ListInProgram(ctx context.Context, now time.Time) ([]models.InactiveMaster, error) {
	query := `SELECT ` + masterColumns + `, to_timestamp(la.timeaccess) AS last_access
        FROM program_masters m ` + lastAccessJoin + `
        WHERE m.start_date < $1 AND m.end_date > $1 AND m.inactivity6 = FALSE
        ORDER BY m.id`
	var masters []models.InactiveMaster
	if err := r.db.SelectContext(ctx, &masters, query, now); err != nil {
		return nil, fmt.Errorf("list in-program masters: %w", err)
	}
	return masters, nil
}

// ListFinished returns masters that ended more than 18 months before now and have not
// reached the final inactivity stage, with their user's last access.
func (r *MasterRepository) ListFinished(ctx context.Context, now time.Time) ([]models.InactiveMaster, error) {
	query := `SELECT ` + masterColumns + `, to_timestamp(la.timeaccess) AS last_access
        FROM program_masters m ` + lastAccessJoin + `
        WHERE m.end_date + INTERVAL '18 months' < $1 AND m.inactivity24 = FALSE
        ORDER BY m.id`
	var masters []models.InactiveMaster
	if err := r.db.SelectContext(ctx, &masters, query, now); err != nil {
		return nil, fmt.Errorf("list finished masters: %w", err)
	}
	return masters, nil
}

// RaiseInactivity sets the selected flags. Flags already true are never cleared.
func (r *MasterRepository) RaiseInactivity(ctx context.Context, id int64, flags models.InactivityFlags) error {
	const query = `UPDATE program_masters SET
            inactivity6 = inactivity6 OR $2,
            inactivity18 = inactivity18 OR $3,
            inactivity24 = inactivity24 OR $4
        WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, flags.Six, flags.Eighteen, flags.TwentyFour); err != nil {
		return fmt.Errorf("raise master inactivity: %w", err)
	}
	return nil
}

// DeleteByCategoryUser removes the user's masters in the category.
func (r *MasterRepository) DeleteByCategoryUser(ctx context.Context, exec sqlx.ExtContext, categoryID, userID int64) (int64, error) {
	const query = `DELETE FROM program_masters WHERE category_id = $1 AND user_id = $2`
	res, err := r.exec(exec).ExecContext(ctx, query, categoryID, userID)
	if err != nil {
		return 0, fmt.Errorf("delete program masters: %w", err)
	}
	return res.RowsAffected()
}
