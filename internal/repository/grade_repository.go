package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-program-sync/internal/models"
)

// GradeRepository reads and writes course-total grades in the platform grade book.
type GradeRepository struct {
	db *sqlx.DB
}

// NewGradeRepository constructs a grade repository.
func NewGradeRepository(db *sqlx.DB) *GradeRepository {
	return &GradeRepository{db: db}
}

// ListIntensiveGradesSince returns intensive course-total grades modified after since
// (unix seconds), oldest first.
func (r *GradeRepository) ListIntensiveGradesSince(ctx context.Context, since int64) ([]models.IntensiveGrade, error) {
	const query = `SELECT gg.id AS grade_id, gg.userid AS user_id, gi.courseid AS course_id, c.shortname AS short_name,
            gg.finalgrade AS final_grade, gg.timemodified AS time_modified
        FROM mdl_grade_grades gg
        JOIN mdl_grade_items gi ON gg.itemid = gi.id
        JOIN mdl_course c ON gi.courseid = c.id
        WHERE gi.itemtype = 'course'
          AND gg.finalgrade IS NOT NULL
          AND gg.timemodified > $1
          AND upper(c.shortname) LIKE 'MI.%'
        ORDER BY gg.timemodified ASC, gg.id ASC`
	var grades []models.IntensiveGrade
	if err := r.db.SelectContext(ctx, &grades, query, since); err != nil {
		return nil, fmt.Errorf("list intensive grades: %w", err)
	}
	return grades, nil
}

// GetCourseGrade returns the course-total item of the course together with the user's
// grade on it. sql.ErrNoRows is returned when the course has no course-total item.
func (r *GradeRepository) GetCourseGrade(ctx context.Context, courseID, userID int64) (*models.CourseGrade, error) {
	const query = `SELECT gi.id AS item_id, gi.courseid AS course_id, c.shortname AS short_name, gi.grademax AS grade_max,
            gg.id AS grade_id, gg.finalgrade AS final_grade, gg.feedback AS feedback
        FROM mdl_grade_items gi
        JOIN mdl_course c ON c.id = gi.courseid
        LEFT JOIN mdl_grade_grades gg ON gg.itemid = gi.id AND gg.userid = $2
        WHERE gi.courseid = $1 AND gi.itemtype = 'course'
        ORDER BY gi.id
        LIMIT 1`
	var grade models.CourseGrade
	if err := r.db.GetContext(ctx, &grade, query, courseID, userID); err != nil {
		return nil, err
	}
	return &grade, nil
}

// SaveFinalGrade creates or overwrites the user's grade on the item and marks it
// overridden so the grade book keeps the value.
func (r *GradeRepository) SaveFinalGrade(ctx context.Context, write models.GradeWrite) error {
	const query = `INSERT INTO mdl_grade_grades (itemid, userid, rawgrade, finalgrade, feedback, feedbackformat, overridden,
            timecreated, timemodified)
        VALUES ($1, $2, $3, $3, $4, 0, $5, $5, $5)
        ON CONFLICT (itemid, userid) DO UPDATE SET
            finalgrade = EXCLUDED.finalgrade,
            feedback = EXCLUDED.feedback,
            overridden = EXCLUDED.overridden,
            timemodified = EXCLUDED.timemodified`
	if _, err := r.db.ExecContext(ctx, query, write.ItemID, write.UserID, write.FinalGrade, write.Feedback, write.Time); err != nil {
		return fmt.Errorf("save final grade: %w", err)
	}
	return nil
}

// GrantCourseRole assigns the role to the user on the course context unless already held.
// It reports whether a new assignment was created.
func (r *GradeRepository) GrantCourseRole(ctx context.Context, roleShortName string, courseID, userID, modifierID, at int64) (bool, error) {
	const query = `INSERT INTO mdl_role_assignments (roleid, contextid, userid, timemodified, modifierid, component, itemid, sortorder)
        SELECT r.id, cxt.id, $3, $4, $5, '', 0, 0
        FROM mdl_role r
        JOIN mdl_context cxt ON cxt.contextlevel = $6 AND cxt.instanceid = $2
        WHERE r.shortname = $1
          AND NOT EXISTS (
              SELECT 1 FROM mdl_role_assignments ra
              WHERE ra.roleid = r.id AND ra.contextid = cxt.id AND ra.userid = $3
          )`
	res, err := r.db.ExecContext(ctx, query, roleShortName, courseID, userID, at, modifierID, contextLevelCourse)
	if err != nil {
		return false, fmt.Errorf("grant course role: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("grant course role: %w", err)
	}
	return n > 0, nil
}
