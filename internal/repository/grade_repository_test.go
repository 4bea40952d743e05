package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-program-sync/internal/models"
)

func TestGradeRepositoryListIntensiveGradesSince(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewGradeRepository(db)

	rows := sqlmock.NewRows([]string{"grade_id", "user_id", "course_id", "short_name", "final_grade", "time_modified"}).
		AddRow(300, 5, 90, "MI.ECO", "8.50000", 1714000000)
	mock.ExpectQuery(regexp.QuoteMeta("AND gg.timemodified > $1")).
		WithArgs(1713000000).
		WillReturnRows(rows)

	grades, err := repo.ListIntensiveGradesSince(context.Background(), 1713000000)
	require.NoError(t, err)
	require.Len(t, grades, 1)
	assert.True(t, grades[0].FinalGrade.Equal(decimal.RequireFromString("8.5")))
	assert.Equal(t, int64(1714000000), grades[0].TimeModified)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGradeRepositoryGetCourseGradeWithoutUserGrade(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewGradeRepository(db)

	rows := sqlmock.NewRows([]string{"item_id", "course_id", "short_name", "grade_max", "grade_id", "final_grade", "feedback"}).
		AddRow(70, 31, "MBA.M.ECO", "10.00000", nil, nil, nil)
	mock.ExpectQuery(regexp.QuoteMeta("LEFT JOIN mdl_grade_grades gg ON gg.itemid = gi.id AND gg.userid = $2")).
		WithArgs(31, 5).
		WillReturnRows(rows)

	grade, err := repo.GetCourseGrade(context.Background(), 31, 5)
	require.NoError(t, err)
	assert.False(t, grade.HasGrade())
	assert.True(t, grade.GradeMax.Equal(decimal.NewFromInt(10)))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGradeRepositoryGetCourseGradeNoItem(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewGradeRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE gi.courseid = $1 AND gi.itemtype = 'course'")).
		WithArgs(31, 5).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetCourseGrade(context.Background(), 31, 5)
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGradeRepositorySaveFinalGrade(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewGradeRepository(db)

	grade := decimal.RequireFromString("7.25")
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO mdl_grade_grades")).
		WithArgs(70, 5, grade, "convalidation", 1714000000).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.SaveFinalGrade(context.Background(), models.GradeWrite{
		ItemID: 70, UserID: 5, FinalGrade: grade, Feedback: "convalidation", Time: 1714000000,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGradeRepositoryGrantCourseRole(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewGradeRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO mdl_role_assignments")).
		WithArgs("gradereviewer", 31, 5, 1714000000, 2, 50).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO mdl_role_assignments")).
		WithArgs("gradereviewer", 31, 5, 1714000000, 2, 50).
		WillReturnResult(sqlmock.NewResult(0, 0))

	created, err := repo.GrantCourseRole(context.Background(), "gradereviewer", 31, 5, 2, 1714000000)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = repo.GrantCourseRole(context.Background(), "gradereviewer", 31, 5, 2, 1714000000)
	require.NoError(t, err)
	assert.False(t, created)
	require.NoError(t, mock.ExpectationsWereMet())
}
