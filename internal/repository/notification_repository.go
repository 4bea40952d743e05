package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-program-sync/internal/models"
)

// NotificationRepository writes private messages into the platform notification table.
type NotificationRepository struct {
	db *sqlx.DB
}

// NewNotificationRepository constructs the repository.
func NewNotificationRepository(db *sqlx.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Create inserts a notification.
func (r *NotificationRepository) Create(ctx context.Context, n *models.Notification) error {
	if n == nil {
		return fmt.Errorf("notification payload is nil")
	}
	if n.Component == "" {
		n.Component = "local_program_sync"
	}
	if n.EventType == "" {
		n.EventType = "notice"
	}

	const query = `INSERT INTO mdl_notifications (useridfrom, useridto, subject, fullmessage, fullmessageformat,
        fullmessagehtml, smallmessage, component, eventtype, timecreated)
        VALUES (:useridfrom, :useridto, :subject, :fullmessage, 0, '', :smallmessage, :component, :eventtype, :timecreated)`
	if _, err := r.db.NamedExecContext(ctx, query, n); err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}
