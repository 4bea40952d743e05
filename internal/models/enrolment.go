package models

import "time"

// ProgramEnrolment is a platform enrolment copied into program_enrolments with its
// derived classification and pending-work flags.
type ProgramEnrolment struct {
	ID                      int64     `db:"id" json:"id"`
	UserID                  int64     `db:"user_id" json:"user_id"`
	CourseID                int64     `db:"course_id" json:"course_id"`
	ShortName               string    `db:"short_name" json:"short_name"`
	CategoryID              int64     `db:"category_id" json:"category_id"`
	StartDate               time.Time `db:"start_date" json:"start_date"`
	EndDate                 time.Time `db:"end_date" json:"end_date"`
	PendingEvent            bool      `db:"pending_event" json:"pending_event"`
	PendingEncapsulation    bool      `db:"pending_encapsulation" json:"pending_encapsulation"`
	PendingConvalidation    bool      `db:"pending_convalidation" json:"pending_convalidation"`
	Intensive               bool      `db:"intensive" json:"intensive"`
	PendingIntensiveMessage bool      `db:"pending_intensive_message" json:"pending_intensive_message"`
	MasterID                *int64    `db:"master_id" json:"master_id,omitempty"`
	CreatedAt               time.Time `db:"created_at" json:"created_at"`
}

// PendingCounts summarises outstanding work for the status command.
type PendingCounts struct {
	Events            int `db:"events" json:"events"`
	Encapsulations    int `db:"encapsulations" json:"encapsulations"`
	Convalidations    int `db:"convalidations" json:"convalidations"`
	IntensiveMessages int `db:"intensive_messages" json:"intensive_messages"`
	MasterMessages    int `db:"master_messages" json:"master_messages"`
	QueuedMessages    int `db:"queued_messages" json:"queued_messages"`
	FailedMessages    int `db:"failed_messages" json:"failed_messages"`
}
