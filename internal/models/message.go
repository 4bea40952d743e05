package models

import "time"

// MessageType enumerates queued notification kinds.
type MessageType string

const (
	MessageNewStudent     MessageType = "NEW_STUDENT"
	MessageStudentFinish  MessageType = "ST_FINISH_MASTER"
	MessageRMFinish       MessageType = "RM_FINISH_MASTER"
	MessageRMInactivity6  MessageType = "RM_INACTIVITY6"
	MessageRMInactivity18 MessageType = "RM_INACTIVITY18"
	MessageRMInactivity24 MessageType = "RM_INACTIVITY24"
	MessageUserLocked     MessageType = "USER_LOCKED"
)

// MessageStatus is the dispatch state of a queued message.
type MessageStatus string

const (
	MessagePending MessageStatus = "PENDING"
	MessageSent    MessageStatus = "SENT"
	MessageFailed  MessageStatus = "FAILED"
)

// QueuedMessage is one row of the program_messages outbox. Recipient is a user id or a
// comma-joined list of ids; Target is a user id list, a date string or free text.
// Delivered lists the recipients already served by an earlier, partially failed attempt.
type QueuedMessage struct {
	ID              int64         `db:"id" json:"id"`
	CategoryID      int64         `db:"category_id" json:"category_id"`
	CourseShortName *string       `db:"course_short_name" json:"course_short_name,omitempty"`
	Recipient       string        `db:"recipient" json:"recipient"`
	Target          string        `db:"target" json:"target"`
	Type            MessageType   `db:"type" json:"type"`
	ScheduledDate   time.Time     `db:"scheduled_date" json:"scheduled_date"`
	Status          MessageStatus `db:"status" json:"status"`
	Attempts        int           `db:"attempts" json:"attempts"`
	LastError       *string       `db:"last_error" json:"last_error,omitempty"`
	Delivered       string        `db:"delivered" json:"delivered,omitempty"`
	SentAt          *time.Time    `db:"sent_at" json:"sent_at,omitempty"`
	CreatedAt       time.Time     `db:"created_at" json:"created_at"`
}

// MessageKey identifies a logical message for duplicate detection.
type MessageKey struct {
	CategoryID    int64
	Recipient     string
	Target        string
	Type          MessageType
	ScheduledDate time.Time
}

// Key returns the deduplication key of the message.
func (m QueuedMessage) Key() MessageKey {
	return MessageKey{
		CategoryID:    m.CategoryID,
		Recipient:     m.Recipient,
		Target:        m.Target,
		Type:          m.Type,
		ScheduledDate: m.ScheduledDate,
	}
}
