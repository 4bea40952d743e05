package service

import "strings"

const (
	intensiveTag       = "MI"
	moduleTag          = ".M."
	commonCourseTag    = ".M00"
	convalidationOpen  = "[-"
	convalidationClose = "-]"

	// CourseEventPrefix marks calendar events generated for module enrolments.
	CourseEventPrefix = "[[COURSE]]"
	// IntensiveEventPrefix marks calendar events generated for intensive enrolments.
	IntensiveEventPrefix = "[[MI]]"
)

// IsIntensive reports whether the first dot-delimited segment of the short name is MI.
func IsIntensive(shortName string) bool {
	head, _, _ := strings.Cut(shortName, ".")
	return head == intensiveTag
}

// AllowsMaster reports whether the course counts towards a master program.
func AllowsMaster(shortName string) bool {
	return strings.Contains(shortName, moduleTag)
}

// IsConvalidable reports whether the short name carries a convalidation code.
func IsConvalidable(shortName string) bool {
	return strings.Contains(shortName, convalidationOpen) && strings.Contains(shortName, convalidationClose)
}

// IsCommonCourse reports whether the course is a shared module without calendar events.
func IsCommonCourse(shortName string) bool {
	return strings.Contains(shortName, commonCourseTag)
}

// EventName builds the calendar event name for a course.
func EventName(shortName string) string {
	if IsIntensive(shortName) {
		return IntensiveEventPrefix + shortName
	}
	return CourseEventPrefix + shortName
}

// DerivedNormalName strips the leading intensive tag, so "MI.DB01" yields ".DB01".
func DerivedNormalName(shortName string) string {
	return strings.TrimPrefix(shortName, intensiveTag)
}

// ConvalidationCode returns the suffix starting at the last "[", or "" when absent.
func ConvalidationCode(shortName string) string {
	idx := strings.LastIndex(shortName, "[")
	if idx < 0 {
		return ""
	}
	return shortName[idx:]
}
