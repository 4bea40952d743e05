package models

import "time"

// SyncCursor is the singleton run-state row. LastGradeCheck is a platform unix timestamp.
type SyncCursor struct {
	ID                  int64      `db:"id" json:"id"`
	LastEnrolmentID     int64      `db:"last_enrolment_id" json:"last_enrolment_id"`
	LastInactivityCheck *time.Time `db:"last_inactivity_check" json:"last_inactivity_check,omitempty"`
	LastGradeCheck      int64      `db:"last_grade_check" json:"last_grade_check"`
	UpdatedAt           time.Time  `db:"updated_at" json:"updated_at"`
}

// InactivityCheckedOn reports whether the inactivity pass already ran on the calendar day of day.
func (c *SyncCursor) InactivityCheckedOn(day time.Time) bool {
	if c == nil || c.LastInactivityCheck == nil {
		return false
	}
	return c.LastInactivityCheck.Format(DateLayout) == day.Format(DateLayout)
}

// DateLayout is the ISO layout used for DATE columns.
const DateLayout = "2006-01-02"
