package models

import "time"

// ProgramMaster aggregates one user's complete set of module enrolments in a category.
type ProgramMaster struct {
	ID              int64     `db:"id" json:"id"`
	UserID          int64     `db:"user_id" json:"user_id"`
	CategoryID      int64     `db:"category_id" json:"category_id"`
	StartDate       time.Time `db:"start_date" json:"start_date"`
	EndDate         time.Time `db:"end_date" json:"end_date"`
	PendingHolidays bool      `db:"pending_holidays" json:"pending_holidays"`
	PendingMessages bool      `db:"pending_messages" json:"pending_messages"`
	Inactivity6     bool      `db:"inactivity6" json:"inactivity6"`
	Inactivity18    bool      `db:"inactivity18" json:"inactivity18"`
	Inactivity24    bool      `db:"inactivity24" json:"inactivity24"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// InactiveMaster pairs a master with its user's most recent access across all courses.
type InactiveMaster struct {
	ProgramMaster
	LastAccess time.Time `db:"last_access" json:"last_access"`
}

// InactivityFlags selects master inactivity flags to raise.
type InactivityFlags struct {
	Six        bool
	Eighteen   bool
	TwentyFour bool
}
