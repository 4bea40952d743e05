package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/sma-program-sync/internal/models"
)

const userColumns = `id, username, firstname, lastname, email, password, suspended = 1 AS suspended, deleted = 1 AS deleted`

// UserRepository reads the platform user directory.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new instance of UserRepository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindByUsername returns a user by username.
func (r *UserRepository) FindByUsername(ctx context.Context, username string) (*models.PlatformUser, error) {
	query := `SELECT ` + userColumns + ` FROM mdl_user WHERE username = $1 AND deleted = 0 LIMIT 1`
	var user models.PlatformUser
	if err := r.db.GetContext(ctx, &user, query, username); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find user by username: %w", err)
	}
	return &user, nil
}

// FindByID returns a user by identifier.
func (r *UserRepository) FindByID(ctx context.Context, id int64) (*models.PlatformUser, error) {
	query := `SELECT ` + userColumns + ` FROM mdl_user WHERE id = $1 LIMIT 1`
	var user models.PlatformUser
	if err := r.db.GetContext(ctx, &user, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find user by id: %w", err)
	}
	return &user, nil
}

// ListByIDs returns the users matching ids in ascending id order. Unknown ids are ignored.
func (r *UserRepository) ListByIDs(ctx context.Context, ids []int64) ([]models.PlatformUser, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + userColumns + ` FROM mdl_user WHERE id = ANY($1) ORDER BY id`
	var users []models.PlatformUser
	if err := r.db.SelectContext(ctx, &users, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("list users by ids: %w", err)
	}
	return users, nil
}

// IsSiteAdmin reports whether the user is listed in the platform's siteadmins setting.
func (r *UserRepository) IsSiteAdmin(ctx context.Context, userID int64) (bool, error) {
	const query = `SELECT value FROM mdl_config WHERE name = 'siteadmins'`
	var raw string
	if err := r.db.GetContext(ctx, &raw, query); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("read siteadmins: %w", err)
	}
	want := strconv.FormatInt(userID, 10)
	for _, id := range strings.Split(raw, ",") {
		if strings.TrimSpace(id) == want {
			return true, nil
		}
	}
	return false, nil
}

// LockUser suspends the platform account.
func (r *UserRepository) LockUser(ctx context.Context, userID int64) error {
	const query = `UPDATE mdl_user SET suspended = 1 WHERE id = $1 AND deleted = 0`
	if _, err := r.db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("lock user: %w", err)
	}
	return nil
}
