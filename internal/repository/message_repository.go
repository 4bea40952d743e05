package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-program-sync/internal/models"
)

const messageColumns = `id, category_id, course_short_name, recipient, target, type, scheduled_date, status, attempts,
        last_error, delivered, sent_at, created_at`

// MessageRepository persists the program_messages outbox.
type MessageRepository struct {
	db *sqlx.DB
}

// NewMessageRepository constructs the repository.
func NewMessageRepository(db *sqlx.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

func (r *MessageRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// Enqueue stores a pending message and fills its ID.
func (r *MessageRepository) Enqueue(ctx context.Context, msg *models.QueuedMessage) error {
	if msg == nil {
		return fmt.Errorf("message payload is nil")
	}
	if msg.Status == "" {
		msg.Status = models.MessagePending
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	const query = `INSERT INTO program_messages (category_id, course_short_name, recipient, target, type, scheduled_date,
        status, attempts, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        RETURNING id`
	if err := r.db.GetContext(ctx, &msg.ID, query,
		msg.CategoryID,
		msg.CourseShortName,
		msg.Recipient,
		msg.Target,
		msg.Type,
		msg.ScheduledDate,
		msg.Status,
		msg.Attempts,
		msg.CreatedAt,
	); err != nil {
		return fmt.Errorf("enqueue message: %w", err)
	}
	return nil
}

// Exists reports whether a message with the same key is already queued or sent.
func (r *MessageRepository) Exists(ctx context.Context, key models.MessageKey) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM program_messages
        WHERE category_id = $1 AND recipient = $2 AND target = $3 AND type = $4 AND scheduled_date = $5)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, key.CategoryID, key.Recipient, key.Target, key.Type, key.ScheduledDate); err != nil {
		return false, fmt.Errorf("check message exists: %w", err)
	}
	return exists, nil
}

// ListDue returns messages scheduled on day that are pending, or failed with attempts left.
func (r *MessageRepository) ListDue(ctx context.Context, day time.Time, maxAttempts int) ([]models.QueuedMessage, error) {
	query := `SELECT ` + messageColumns + ` FROM program_messages
        WHERE scheduled_date = $1 AND (status = $2 OR (status = $3 AND attempts < $4))
        ORDER BY id ASC`
	var messages []models.QueuedMessage
	if err := r.db.SelectContext(ctx, &messages, query, day, models.MessagePending, models.MessageFailed, maxAttempts); err != nil {
		return nil, fmt.Errorf("list due messages: %w", err)
	}
	return messages, nil
}

// MarkSent records a successful delivery.
func (r *MessageRepository) MarkSent(ctx context.Context, id int64, at time.Time) error {
	const query = `UPDATE program_messages SET status = $2, sent_at = $3, attempts = attempts + 1, last_error = NULL WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, models.MessageSent, at); err != nil {
		return fmt.Errorf("mark message sent: %w", err)
	}
	return nil
}

// MarkFailed records a failed delivery attempt together with the recipients that were
// already served, so a retry only targets the rest.
func (r *MessageRepository) MarkFailed(ctx context.Context, id int64, delivered, reason string) error {
	const query = `UPDATE program_messages SET status = $2, attempts = attempts + 1, last_error = $3, delivered = $4 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, models.MessageFailed, reason, delivered); err != nil {
		return fmt.Errorf("mark message failed: %w", err)
	}
	return nil
}

// Delete removes a single message.
func (r *MessageRepository) Delete(ctx context.Context, id int64) error {
	const query = `DELETE FROM program_messages WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// PurgeSent removes sent messages delivered before the cutoff.
func (r *MessageRepository) PurgeSent(ctx context.Context, before time.Time) (int64, error) {
	const query = `DELETE FROM program_messages WHERE status = $1 AND sent_at < $2`
	res, err := r.db.ExecContext(ctx, query, models.MessageSent, before)
	if err != nil {
		return 0, fmt.Errorf("purge sent messages: %w", err)
	}
	return res.RowsAffected()
}

// DeleteForUser removes the category's messages addressed to or about the user.
func (r *MessageRepository) DeleteForUser(ctx context.Context, exec sqlx.ExtContext, categoryID int64, userID string) (int64, error) {
	const query = `DELETE FROM program_messages WHERE category_id = $1 AND (recipient = $2 OR target = $2)`
	res, err := r.exec(exec).ExecContext(ctx, query, categoryID, userID)
	if err != nil {
		return 0, fmt.Errorf("delete user messages: %w", err)
	}
	return res.RowsAffected()
}
