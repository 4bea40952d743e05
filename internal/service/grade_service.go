package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-program-sync/internal/models"
)

const (
	gradeStampLayout        = "02/01/06, 15:04:05"
	convalidationFeedback   = "convalidation"
	convalidationMinimumPct = "0.5"
)

type gradeBook interface {
	ListIntensiveGradesSince(ctx context.Context, since int64) ([]models.IntensiveGrade, error)
	GetCourseGrade(ctx context.Context, courseID, userID int64) (*models.CourseGrade, error)
	SaveFinalGrade(ctx context.Context, write models.GradeWrite) error
	GrantCourseRole(ctx context.Context, roleShortName string, courseID, userID, modifierID, at int64) (bool, error)
}

type gradeEnrolments interface {
	ListByUser(ctx context.Context, userID int64) ([]models.ProgramEnrolment, error)
	ListPendingConvalidations(ctx context.Context) ([]models.ProgramEnrolment, error)
	ClearPendingConvalidation(ctx context.Context, id int64) error
}

// GradeService reconciles grades between intensive and normal courses and between
// modules sharing a convalidation code.
type GradeService struct {
	grades     gradeBook
	enrolments gradeEnrolments
	logger     *zap.Logger
}

// NewGradeService constructs the service.
func NewGradeService(grades gradeBook, enrolments gradeEnrolments, logger *zap.Logger) *GradeService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GradeService{grades: grades, enrolments: enrolments, logger: logger}
}

// OverrideGrades copies intensive grades onto the matching normal courses when they are
// strictly higher. It returns the number of grades written.
func (s *GradeService) OverrideGrades(ctx context.Context, rc *RunContext) (int, error) {
	if !rc.Options.GradeOverride {
		return 0, nil
	}

	sources, err := s.grades.ListIntensiveGradesSince(ctx, rc.Cursor.LastGradeCheck)
	if err != nil {
		return 0, err
	}

	latest := rc.Cursor.LastGradeCheck
	written := 0
	byUser := make(map[int64][]models.ProgramEnrolment)
	for _, source := range sources {
		enrolments, ok := byUser[source.UserID]
		if !ok {
			enrolments, err = s.enrolments.ListByUser(ctx, source.UserID)
			if err != nil {
				return written, err
			}
			byUser[source.UserID] = enrolments
		}

		pattern := ".M" + DerivedNormalName(source.ShortName)
		seen := make(map[int64]struct{})
		for _, enrolment := range enrolments {
			if enrolment.Intensive || !strings.Contains(enrolment.ShortName, pattern) {
				continue
			}
			if _, dup := seen[enrolment.CourseID]; dup {
				continue
			}
			seen[enrolment.CourseID] = struct{}{}

			ok, err := s.overrideCourse(ctx, rc, source, enrolment.CourseID)
			if err != nil {
				return written, err
			}
			if ok {
				written++
			}
		}

		if source.TimeModified > latest {
			latest = source.TimeModified
		}
	}

	rc.Cursor.LastGradeCheck = latest
	if written > 0 {
		rc.log("grade_override").Infow("intensive grades applied", "sources", len(sources), "written", written)
	}
	return written, nil
}

func (s *GradeService) overrideCourse(ctx context.Context, rc *RunContext, source models.IntensiveGrade, courseID int64) (bool, error) {
	current, err := s.grades.GetCourseGrade(ctx, courseID, source.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("load course grade: %w", err)
	}

	feedback := fmt.Sprintf("Grade of intensive course (%s): %s/ %s. ",
		time.Unix(source.TimeModified, 0).In(rc.Options.location()).Format(gradeStampLayout),
		source.FinalGrade.StringFixed(2),
		current.GradeMax.StringFixed(2),
	)
	if current.HasGrade() {
		if !source.FinalGrade.GreaterThan(current.FinalGrade.Decimal) {
			return false, nil
		}
		previous := ""
		if current.Feedback != nil {
			previous = *current.Feedback
		}
		if previous == "" {
			previous = fmt.Sprintf("Grade of normal course: %s/ %s.", current.FinalGrade.Decimal.StringFixed(2), current.GradeMax.StringFixed(2))
		}
		feedback += previous
	}

	if err := s.grades.SaveFinalGrade(ctx, models.GradeWrite{
		ItemID:     current.ItemID,
		UserID:     source.UserID,
		FinalGrade: source.FinalGrade,
		Feedback:   feedback,
		Time:       rc.Now.Unix(),
	}); err != nil {
		return false, err
	}

	if role := rc.Options.ReviewRole; role != "" {
		if _, err := s.grades.GrantCourseRole(ctx, role, courseID, source.UserID, rc.Options.AdminUserID, rc.Now.Unix()); err != nil {
			return true, err
		}
	}
	rc.log("grade_override").Infow("grade overridden", "user_id", source.UserID, "course_id", courseID, "grade", source.FinalGrade.StringFixed(2))
	return true, nil
}

// ConvalidateModules grants ungraded modules the best grade obtained on another module
// sharing their convalidation code, scaled to the module's maximum, when that grade is
// above half of its maximum. It returns the number of grades written.
func (s *GradeService) ConvalidateModules(ctx context.Context, rc *RunContext) (int, error) {
	if !rc.Options.Convalidations {
		return 0, nil
	}

	pending, err := s.enrolments.ListPendingConvalidations(ctx)
	if err != nil {
		return 0, err
	}

	written := 0
	for _, enrolment := range pending {
		ok, err := s.convalidate(ctx, rc, enrolment)
		if err != nil {
			return written, err
		}
		if ok {
			written++
		}
		if err := s.enrolments.ClearPendingConvalidation(ctx, enrolment.ID); err != nil {
			return written, err
		}
	}

	if len(pending) > 0 {
		rc.log("convalidation").Infow("convalidations processed", "pending", len(pending), "written", written)
	}
	return written, nil
}

func (s *GradeService) convalidate(ctx context.Context, rc *RunContext, enrolment models.ProgramEnrolment) (bool, error) {
	current, err := s.grades.GetCourseGrade(ctx, enrolment.CourseID, enrolment.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("load course grade: %w", err)
	}
	if current.HasGrade() {
		return false, nil
	}

	code := ConvalidationCode(enrolment.ShortName)
	if code == "" {
		return false, nil
	}

	others, err := s.enrolments.ListByUser(ctx, enrolment.UserID)
	if err != nil {
		return false, err
	}

	best := decimal.Zero
	for _, other := range others {
		if other.ID == enrolment.ID || other.CourseID == enrolment.CourseID || !strings.HasSuffix(other.ShortName, code) {
			continue
		}
		grade, err := s.grades.GetCourseGrade(ctx, other.CourseID, enrolment.UserID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			return false, fmt.Errorf("load candidate grade: %w", err)
		}
		if !grade.HasGrade() || !grade.GradeMax.IsPositive() {
			continue
		}
		ratio := grade.FinalGrade.Decimal.Div(grade.GradeMax)
		if ratio.GreaterThan(best) {
			best = ratio
		}
	}

	if !best.GreaterThan(decimal.RequireFromString(convalidationMinimumPct)) {
		return false, nil
	}

	value := best.Mul(current.GradeMax).Round(5)
	if err := s.grades.SaveFinalGrade(ctx, models.GradeWrite{
		ItemID:     current.ItemID,
		UserID:     enrolment.UserID,
		FinalGrade: value,
		Feedback:   convalidationFeedback,
		Time:       rc.Now.Unix(),
	}); err != nil {
		return false, err
	}
	rc.log("convalidation").Infow("module convalidated", "user_id", enrolment.UserID, "course_id", enrolment.CourseID, "grade", value.StringFixed(2))
	return true, nil
}
