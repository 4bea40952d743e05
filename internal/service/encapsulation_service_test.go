package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-program-sync/internal/models"
)

func moduleEnrolment(userID, categoryID int64, shortName string, start, end int) models.ProgramEnrolment {
	return models.ProgramEnrolment{
		UserID:               userID,
		CourseID:             int64(len(shortName)) + userID,
		ShortName:            shortName,
		CategoryID:           categoryID,
		StartDate:            day(2026, 1, start),
		EndDate:              day(2026, 2, end),
		PendingEvent:         true,
		PendingEncapsulation: true,
	}
}

func encapsulationFixture() (*fakePlatform, *fakeEnrolmentStore, *fakeMasterStore) {
	platform := &fakePlatform{
		categories: []models.Category{{ID: 3, Name: "Data"}, {ID: 4, Name: "Sub", Parent: 3}},
		required:   map[int64]int{3: 2},
	}
	store := &fakeEnrolmentStore{}
	store.add(moduleEnrolment(1, 3, "DB.M.01", 5, 10))
	store.add(moduleEnrolment(1, 3, "DB.M.02", 2, 20))
	store.add(moduleEnrolment(2, 3, "DB.M.01", 5, 10))
	return platform, store, &fakeMasterStore{}
}

func TestEncapsulateCompleteGroup(t *testing.T) {
	platform, store, masters := encapsulationFixture()
	svc := NewEncapsulationService(platform, store, masters, nil, nil)

	created, err := svc.Encapsulate(context.Background(), testRunContext(SyncOptions{}, nil))
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	require.Len(t, masters.masters, 1)
	master := masters.masters[0]
	assert.Equal(t, int64(1), master.UserID)
	assert.Equal(t, int64(3), master.CategoryID)
	assert.Equal(t, day(2026, 1, 2), master.StartDate)
	assert.Equal(t, day(2026, 2, 20), master.EndDate)
	assert.True(t, master.PendingHolidays)
	assert.True(t, master.PendingMessages)

	for _, row := range store.rows {
		if row.UserID == 1 {
			require.NotNil(t, row.MasterID)
			assert.Equal(t, master.ID, *row.MasterID)
			assert.False(t, row.PendingEncapsulation)
		} else {
			assert.Nil(t, row.MasterID)
			assert.True(t, row.PendingEncapsulation)
		}
	}
}

func TestEncapsulateIsIdempotent(t *testing.T) {
	platform, store, masters := encapsulationFixture()
	svc := NewEncapsulationService(platform, store, masters, nil, nil)
	rc := testRunContext(SyncOptions{}, nil)

	_, err := svc.Encapsulate(context.Background(), rc)
	require.NoError(t, err)
	created, err := svc.Encapsulate(context.Background(), rc)
	require.NoError(t, err)
	assert.Zero(t, created)
	assert.Len(t, masters.masters, 1)
}

func TestEncapsulateSkipsUserWithExistingMaster(t *testing.T) {
	platform, store, masters := encapsulationFixture()
	masters.masters = append(masters.masters, models.ProgramMaster{ID: 40, UserID: 1, CategoryID: 3})
	svc := NewEncapsulationService(platform, store, masters, nil, nil)

	created, err := svc.Encapsulate(context.Background(), testRunContext(SyncOptions{}, nil))
	require.NoError(t, err)
	assert.Zero(t, created)
	assert.Len(t, masters.masters, 1)
	for _, row := range store.rows {
		assert.Nil(t, row.MasterID)
		assert.True(t, row.PendingEncapsulation)
	}
}

func TestEncapsulateIncompleteGroupStaysPending(t *testing.T) {
	platform, store, masters := encapsulationFixture()
	platform.required[3] = 3
	svc := NewEncapsulationService(platform, store, masters, nil, nil)

	created, err := svc.Encapsulate(context.Background(), testRunContext(SyncOptions{}, nil))
	require.NoError(t, err)
	assert.Zero(t, created)
	assert.Empty(t, masters.masters)
	for _, row := range store.rows {
		assert.True(t, row.PendingEncapsulation)
	}
}

func TestEncapsulateMasterErrorAborts(t *testing.T) {
	platform, store, masters := encapsulationFixture()
	masters.createErr = errBoom
	svc := NewEncapsulationService(platform, store, masters, nil, nil)

	_, err := svc.Encapsulate(context.Background(), testRunContext(SyncOptions{}, nil))
	require.ErrorIs(t, err, errBoom)
	for _, row := range store.rows {
		assert.True(t, row.PendingEncapsulation)
	}
}

type txProviderMock struct {
	db *sqlx.DB
}

func (t *txProviderMock) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return t.db.BeginTxx(ctx, opts)
}

func newTxProviderMock(t *testing.T) (txProvider, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &txProviderMock{db: sqlx.NewDb(db, "sqlmock")}, mock
}

func TestEncapsulateCommitsPerMaster(t *testing.T) {
	platform, store, masters := encapsulationFixture()
	tx, mock := newTxProviderMock(t)
	mock.ExpectBegin()
	mock.ExpectCommit()
	svc := NewEncapsulationService(platform, store, masters, tx, nil)

	created, err := svc.Encapsulate(context.Background(), testRunContext(SyncOptions{}, nil))
	require.NoError(t, err)
	assert.Equal(t, 1, created)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEncapsulateRollsBackOnAssignFailure(t *testing.T) {
	platform, _, masters := encapsulationFixture()
	tx, mock := newTxProviderMock(t)
	mock.ExpectBegin()
	mock.ExpectRollback()
	svc := NewEncapsulationService(platform, failingAssign{}, masters, tx, nil)

	_, err := svc.Encapsulate(context.Background(), testRunContext(SyncOptions{}, nil))
	require.ErrorIs(t, err, errBoom)
	require.NoError(t, mock.ExpectationsWereMet())
}

type failingAssign struct{}

func (failingAssign) ListPendingEncapsulation(ctx context.Context, categoryID int64) ([]models.ProgramEnrolment, error) {
	if categoryID != 3 {
		return nil, nil
	}
	return []models.ProgramEnrolment{
		{ID: 1, UserID: 1, CategoryID: 3, ShortName: "DB.M.01"},
		{ID: 2, UserID: 1, CategoryID: 3, ShortName: "DB.M.02"},
	}, nil
}

func (failingAssign) AssignMaster(ctx context.Context, exec sqlx.ExtContext, masterID int64, enrolmentIDs []int64) error {
	return errBoom
}
