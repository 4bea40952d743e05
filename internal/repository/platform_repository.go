package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-program-sync/internal/models"
)

const (
	contextLevelCategory = 40
	contextLevelCourse   = 50

	managerRole = "manager"
)

// studentEnrolmentFrom joins platform enrolments with the student role held in the course
// context. Only module and intensive courses are considered.
const studentEnrolmentFrom = `FROM mdl_user_enrolments ue
        JOIN mdl_enrol e ON e.id = ue.enrolid
        JOIN mdl_course c ON c.id = e.courseid
        JOIN mdl_context ct ON ct.instanceid = c.id AND ct.contextlevel = 50
        JOIN mdl_role_assignments ra ON ra.contextid = ct.id AND ra.userid = ue.userid
        JOIN mdl_role r ON r.id = ra.roleid
        WHERE r.shortname LIKE '%student%'
          AND (c.shortname LIKE '%.M.%' OR c.shortname LIKE 'MI.%')`

const rawEnrolmentColumns = `ue.id AS enrolment_id, ue.userid AS user_id, c.id AS course_id, c.shortname AS short_name,
        c.category AS category_id, ue.timestart AS time_start, ue.timeend AS time_end`

// PlatformRepository reads the platform course directory.
type PlatformRepository struct {
	db *sqlx.DB
}

// NewPlatformRepository constructs the repository.
func NewPlatformRepository(db *sqlx.DB) *PlatformRepository {
	return &PlatformRepository{db: db}
}

// ListStudentEnrolmentsSince returns student enrolments with id above lastID in ascending order.
func (r *PlatformRepository) ListStudentEnrolmentsSince(ctx context.Context, lastID int64) ([]models.RawEnrolment, error) {
	query := `SELECT DISTINCT ON (ue.id) ` + rawEnrolmentColumns + ` ` + studentEnrolmentFrom + `
          AND ue.id > $1
        ORDER BY ue.id ASC`
	var rows []models.RawEnrolment
	if err := r.db.SelectContext(ctx, &rows, query, lastID); err != nil {
		return nil, fmt.Errorf("list student enrolments: %w", err)
	}
	return rows, nil
}

// ListStudentEnrolmentsForUser returns the user's student enrolments in the category by start time.
func (r *PlatformRepository) ListStudentEnrolmentsForUser(ctx context.Context, categoryID, userID int64) ([]models.RawEnrolment, error) {
	query := `SELECT DISTINCT ON (ue.timestart, ue.id) ` + rawEnrolmentColumns + ` ` + studentEnrolmentFrom + `
          AND c.category = $1 AND ue.userid = $2
        ORDER BY ue.timestart ASC, ue.id ASC`
	var rows []models.RawEnrolment
	if err := r.db.SelectContext(ctx, &rows, query, categoryID, userID); err != nil {
		return nil, fmt.Errorf("list user student enrolments: %w", err)
	}
	return rows, nil
}

// ListStudentsEnrolledSince returns the distinct users holding a student enrolment in the
// category that started at or after since (unix seconds).
func (r *PlatformRepository) ListStudentsEnrolledSince(ctx context.Context, categoryID, since int64) ([]int64, error) {
	const query = `SELECT DISTINCT ue.userid
        FROM mdl_user_enrolments ue
        JOIN mdl_enrol e ON e.id = ue.enrolid
        JOIN mdl_course c ON c.id = e.courseid
        JOIN mdl_context ct ON ct.instanceid = c.id AND ct.contextlevel = 50
        JOIN mdl_role_assignments ra ON ra.contextid = ct.id AND ra.userid = ue.userid
        JOIN mdl_role r ON r.id = ra.roleid
        WHERE c.category = $1 AND r.shortname LIKE '%student%' AND ue.timestart >= $2
        ORDER BY ue.userid`
	var ids []int64
	if err := r.db.SelectContext(ctx, &ids, query, categoryID, since); err != nil {
		return nil, fmt.Errorf("list students enrolled since: %w", err)
	}
	return ids, nil
}

// ListTopCategories returns categories without a parent.
func (r *PlatformRepository) ListTopCategories(ctx context.Context) ([]models.Category, error) {
	const query = `SELECT id, name, parent FROM mdl_course_categories WHERE parent = 0 ORDER BY id`
	var categories []models.Category
	if err := r.db.SelectContext(ctx, &categories, query); err != nil {
		return nil, fmt.Errorf("list top categories: %w", err)
	}
	return categories, nil
}

// FindCategory returns a category by id. sql.ErrNoRows is returned when missing.
func (r *PlatformRepository) FindCategory(ctx context.Context, id int64) (*models.Category, error) {
	const query = `SELECT id, name, parent FROM mdl_course_categories WHERE id = $1`
	var category models.Category
	if err := r.db.GetContext(ctx, &category, query, id); err != nil {
		return nil, err
	}
	return &category, nil
}

// CountRequiredModules counts the category's non-intensive courses.
func (r *PlatformRepository) CountRequiredModules(ctx context.Context, categoryID int64) (int, error) {
	const query = `SELECT COUNT(*) FROM mdl_course WHERE category = $1 AND shortname NOT LIKE 'MI.%'`
	var count int
	if err := r.db.GetContext(ctx, &count, query, categoryID); err != nil {
		return 0, fmt.Errorf("count required modules: %w", err)
	}
	return count, nil
}

// FindCategoryManager returns the user holding the manager role on the category context.
// sql.ErrNoRows is returned when no manager is assigned.
func (r *PlatformRepository) FindCategoryManager(ctx context.Context, categoryID int64) (int64, error) {
	const query = `SELECT ra.userid
        FROM mdl_role_assignments ra
        JOIN mdl_role r ON r.id = ra.roleid
        JOIN mdl_context cxt ON cxt.id = ra.contextid
        WHERE cxt.instanceid = $1 AND cxt.contextlevel = $2 AND r.shortname = $3
        ORDER BY ra.id ASC
        LIMIT 1`
	var userID int64
	if err := r.db.GetContext(ctx, &userID, query, categoryID, contextLevelCategory, managerRole); err != nil {
		return 0, err
	}
	return userID, nil
}

// FindIntensiveCategory returns the category holding the intensive courses. sql.ErrNoRows
// is returned when no intensive course exists.
func (r *PlatformRepository) FindIntensiveCategory(ctx context.Context) (int64, error) {
	const query = `SELECT DISTINCT c.category FROM mdl_course c WHERE c.shortname LIKE 'MI.%' ORDER BY c.category LIMIT 1`
	var categoryID int64
	if err := r.db.GetContext(ctx, &categoryID, query); err != nil {
		return 0, err
	}
	return categoryID, nil
}
