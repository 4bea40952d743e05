package models

import "github.com/shopspring/decimal"

// RawEnrolment is a student enrolment read from the platform; times are unix seconds.
type RawEnrolment struct {
	EnrolmentID int64  `db:"enrolment_id"`
	UserID      int64  `db:"user_id"`
	CourseID    int64  `db:"course_id"`
	ShortName   string `db:"short_name"`
	CategoryID  int64  `db:"category_id"`
	TimeStart   int64  `db:"time_start"`
	TimeEnd     int64  `db:"time_end"`
}

// Category is a platform course category.
type Category struct {
	ID     int64  `db:"id" json:"id"`
	Name   string `db:"name" json:"name"`
	Parent int64  `db:"parent" json:"parent"`
}

// CalendarEvent is a user event written to the platform calendar; times are unix seconds.
type CalendarEvent struct {
	Name         string `db:"name"`
	Description  string `db:"description"`
	UserID       int64  `db:"userid"`
	EventType    string `db:"eventtype"`
	TimeStart    int64  `db:"timestart"`
	TimeDuration int64  `db:"timeduration"`
	Visible      int    `db:"visible"`
	TimeModified int64  `db:"timemodified"`
}

// IntensiveGrade is a course-total grade recorded on an intensive course.
type IntensiveGrade struct {
	GradeID      int64           `db:"grade_id"`
	UserID       int64           `db:"user_id"`
	CourseID     int64           `db:"course_id"`
	ShortName    string          `db:"short_name"`
	FinalGrade   decimal.Decimal `db:"final_grade"`
	TimeModified int64           `db:"time_modified"`
}

// CourseGrade is the course-total grade item of a course with the user's grade, if any.
type CourseGrade struct {
	ItemID     int64               `db:"item_id"`
	CourseID   int64               `db:"course_id"`
	ShortName  string              `db:"short_name"`
	GradeMax   decimal.Decimal     `db:"grade_max"`
	GradeID    *int64              `db:"grade_id"`
	FinalGrade decimal.NullDecimal `db:"final_grade"`
	Feedback   *string             `db:"feedback"`
}

// HasGrade reports whether the user already holds a final grade on the item.
func (g CourseGrade) HasGrade() bool {
	return g.GradeID != nil && g.FinalGrade.Valid
}

// GradeWrite is a final grade to persist on a course-total item.
type GradeWrite struct {
	ItemID     int64
	UserID     int64
	FinalGrade decimal.Decimal
	Feedback   string
	Time       int64
}

// Notification is a private message delivered through the platform notification table.
type Notification struct {
	UserIDFrom   int64  `db:"useridfrom"`
	UserIDTo     int64  `db:"useridto"`
	Subject      string `db:"subject"`
	FullMessage  string `db:"fullmessage"`
	SmallMessage string `db:"smallmessage"`
	Component    string `db:"component"`
	EventType    string `db:"eventtype"`
	TimeCreated  int64  `db:"timecreated"`
}
