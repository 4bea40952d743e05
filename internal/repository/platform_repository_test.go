package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var rawEnrolmentRowColumns = []string{"enrolment_id", "user_id", "course_id", "short_name", "category_id", "time_start", "time_end"}

func TestPlatformRepositoryListStudentEnrolmentsSince(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewPlatformRepository(db)

	rows := sqlmock.NewRows(rawEnrolmentRowColumns).
		AddRow(11, 5, 31, "MBA.M.01", 3, 1704672000, 1712620800).
		AddRow(12, 5, 90, "MI.ECO", 9, 1704672000, 1705276800)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT DISTINCT ON (ue.id)")).
		WithArgs(10).
		WillReturnRows(rows)

	raw, err := repo.ListStudentEnrolmentsSince(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, raw, 2)
	assert.Equal(t, int64(12), raw[1].EnrolmentID)
	assert.Equal(t, "MI.ECO", raw[1].ShortName)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPlatformRepositoryListStudentsEnrolledSince(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewPlatformRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT DISTINCT ue.userid")).
		WithArgs(3, 1704672000).
		WillReturnRows(sqlmock.NewRows([]string{"userid"}).AddRow(5).AddRow(6))

	ids, err := repo.ListStudentsEnrolledSince(context.Background(), 3, 1704672000)
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 6}, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPlatformRepositoryCountRequiredModules(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewPlatformRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM mdl_course WHERE category = $1 AND shortname NOT LIKE 'MI.%'")).
		WithArgs(3).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))

	count, err := repo.CountRequiredModules(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, 4, count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPlatformRepositoryFindCategoryManager(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewPlatformRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE cxt.instanceid = $1 AND cxt.contextlevel = $2 AND r.shortname = $3")).
		WithArgs(3, 40, "manager").
		WillReturnRows(sqlmock.NewRows([]string{"userid"}).AddRow(8))
	mock.ExpectQuery(regexp.QuoteMeta("WHERE cxt.instanceid = $1 AND cxt.contextlevel = $2 AND r.shortname = $3")).
		WithArgs(4, 40, "manager").
		WillReturnRows(sqlmock.NewRows([]string{"userid"}))

	id, err := repo.FindCategoryManager(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, int64(8), id)

	_, err = repo.FindCategoryManager(context.Background(), 4)
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPlatformRepositoryListTopCategories(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewPlatformRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM mdl_course_categories WHERE parent = 0")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "parent"}).AddRow(3, "MBA", 0).AddRow(9, "Intensive", 0))

	categories, err := repo.ListTopCategories(context.Background())
	require.NoError(t, err)
	require.Len(t, categories, 2)
	assert.Equal(t, "MBA", categories[0].Name)
	require.NoError(t, mock.ExpectationsWereMet())
}
