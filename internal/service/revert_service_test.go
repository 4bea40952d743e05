package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-program-sync/internal/models"
	appErrors "github.com/noah-isme/sma-program-sync/pkg/errors"
)

type revertFixture struct {
	platform *fakePlatform
	store    *fakeEnrolmentStore
	masters  *fakeMasterStore
	calendar *fakeCalendar
	queue    *fakeMessageQueue
	users    *fakeUsers
}

func newRevertFixture() revertFixture {
	since := day(2026, 1, 1)
	platform := &fakePlatform{raw: []models.RawEnrolment{
		{EnrolmentID: 1, UserID: 1, CourseID: 10, ShortName: "DB.M.01", CategoryID: 3, TimeStart: day(2026, 1, 10).Unix(), TimeEnd: day(2026, 2, 10).Unix()},
		{EnrolmentID: 2, UserID: 1, CourseID: 11, ShortName: "DB.M.02", CategoryID: 3, TimeStart: day(2026, 2, 10).Unix(), TimeEnd: day(2026, 3, 10).Unix()},
		{EnrolmentID: 3, UserID: 2, CourseID: 10, ShortName: "DB.M.01", CategoryID: 3, TimeStart: day(2026, 1, 10).Unix(), TimeEnd: day(2026, 2, 10).Unix()},
		{EnrolmentID: 4, UserID: 1, CourseID: 40, ShortName: "WEB.M.01", CategoryID: 4, TimeStart: day(2026, 1, 10).Unix(), TimeEnd: day(2026, 2, 10).Unix()},
	}}

	store := &fakeEnrolmentStore{}
	masterID := int64(1)
	store.add(models.ProgramEnrolment{UserID: 1, CourseID: 10, ShortName: "DB.M.01", CategoryID: 3, MasterID: &masterID})
	store.add(models.ProgramEnrolment{UserID: 1, CourseID: 40, ShortName: "WEB.M.01", CategoryID: 4})
	store.add(models.ProgramEnrolment{UserID: 2, CourseID: 10, ShortName: "DB.M.01", CategoryID: 3})

	masters := &fakeMasterStore{}
	_ = masters.Create(context.Background(), nil, &models.ProgramMaster{UserID: 1, CategoryID: 3})
	_ = masters.Create(context.Background(), nil, &models.ProgramMaster{UserID: 2, CategoryID: 3})

	calendar := &fakeCalendar{events: []models.CalendarEvent{
		{Name: "[[COURSE]]DB.M.01", UserID: 1, TimeStart: since.Unix() + 3600},
		{Name: "[[MI]]MI.DB01", UserID: 1, TimeStart: since.Unix() + 3600},
		{Name: "[[COURSE]]DB.M.00", UserID: 1, TimeStart: since.Unix() - 3600},
		{Name: "[[COURSE]]DB.M.01", UserID: 2, TimeStart: since.Unix() + 3600},
	}}

	queue := &fakeMessageQueue{}
	for _, msg := range []models.QueuedMessage{
		{CategoryID: 3, Recipient: "1", Type: models.MessageStudentFinish},
		{CategoryID: 3, Recipient: "99", Target: "1", Type: models.MessageRMInactivity6},
		{CategoryID: 4, Recipient: "1", Type: models.MessageStudentFinish},
		{CategoryID: 3, Recipient: "2", Type: models.MessageStudentFinish},
	} {
		msg := msg
		_ = queue.Enqueue(context.Background(), &msg)
	}

	users := newFakeUsers(
		models.PlatformUser{ID: 1, Username: "ana"},
		models.PlatformUser{ID: 2, Username: "ben"},
	)
	return revertFixture{platform: platform, store: store, masters: masters, calendar: calendar, queue: queue, users: users}
}

func (f revertFixture) service(tx txProvider) *RevertService {
	return NewRevertService(RevertDeps{
		Users:      f.users,
		Platform:   f.platform,
		Calendar:   f.calendar,
		Messages:   f.queue,
		Masters:    f.masters,
		Enrolments: f.store,
		Tx:         tx,
	}, nil, nil)
}

func TestRevertSingleUser(t *testing.T) {
	f := newRevertFixture()

	result, err := f.service(nil).Revert(context.Background(), RevertRequest{CategoryID: 3, Since: day(2026, 1, 1), Username: "ana"})
	require.NoError(t, err)
	assert.True(t, result.Reverted)
	assert.Equal(t, []int64{1}, result.Users)
	assert.Equal(t, int64(1), result.EventsDeleted)
	assert.Equal(t, int64(2), result.MessagesDeleted)
	assert.Equal(t, int64(1), result.MastersDeleted)
	assert.Equal(t, int64(1), result.EnrolmentsDeleted)
	assert.Equal(t, int64(2), result.EnrolmentsCreated)

	assert.Len(t, f.calendar.events, 3)
	assert.Len(t, f.queue.messages, 2)
	require.Len(t, f.masters.masters, 1)
	assert.Equal(t, int64(2), f.masters.masters[0].UserID)

	recreated := f.store.filter(func(e models.ProgramEnrolment) bool { return e.UserID == 1 && e.CategoryID == 3 })
	require.Len(t, recreated, 2)
	for _, row := range recreated {
		assert.Nil(t, row.MasterID)
		assert.True(t, row.PendingEvent)
		assert.True(t, row.PendingEncapsulation)
	}
	untouched := f.store.filter(func(e models.ProgramEnrolment) bool { return e.CategoryID == 4 })
	assert.Len(t, untouched, 1)
}

func TestRevertAllUsersInCategory(t *testing.T) {
	f := newRevertFixture()

	result, err := f.service(nil).Revert(context.Background(), RevertRequest{CategoryID: 3, Since: day(2026, 1, 1)})
	require.NoError(t, err)
	assert.True(t, result.Reverted)
	assert.Equal(t, []int64{1, 2}, result.Users)
	assert.Equal(t, int64(2), result.EventsDeleted)
	assert.Equal(t, int64(3), result.MessagesDeleted)
	assert.Equal(t, int64(2), result.MastersDeleted)
	assert.Equal(t, int64(3), result.EnrolmentsCreated)
	assert.Empty(t, f.masters.masters)
}

func TestRevertEmptyScope(t *testing.T) {
	f := newRevertFixture()

	result, err := f.service(nil).Revert(context.Background(), RevertRequest{CategoryID: 3, Since: day(2026, 6, 1)})
	require.NoError(t, err)
	assert.False(t, result.Reverted)
	assert.Empty(t, result.Users)
	assert.Len(t, f.masters.masters, 2)
}

func TestRevertUnknownUser(t *testing.T) {
	f := newRevertFixture()

	_, err := f.service(nil).Revert(context.Background(), RevertRequest{CategoryID: 3, Since: day(2026, 1, 1), Username: "nobody"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
	assert.Len(t, f.masters.masters, 2)
}

func TestRevertValidation(t *testing.T) {
	f := newRevertFixture()
	svc := f.service(nil)

	err := svc.Validate(RevertRequest{Since: day(2026, 1, 1)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	_, err = svc.Revert(context.Background(), RevertRequest{CategoryID: 3})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	assert.NoError(t, svc.Validate(RevertRequest{CategoryID: 3, Since: day(2026, 1, 1)}))
}

func TestRevertCommitsPerUser(t *testing.T) {
	f := newRevertFixture()
	tx, mock := newTxProviderMock(t)
	mock.ExpectBegin()
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectCommit()

	_, err := f.service(tx).Revert(context.Background(), RevertRequest{CategoryID: 3, Since: day(2026, 1, 1)})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRevertRollsBackOnFailure(t *testing.T) {
	f := newRevertFixture()
	f.store.createErr = errBoom
	tx, mock := newTxProviderMock(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err := f.service(tx).Revert(context.Background(), RevertRequest{CategoryID: 3, Since: day(2026, 1, 1), Username: "ana"})
	require.Error(t, err)
	assert.ErrorIs(t, err, errBoom)
	assert.True(t, errors.Is(err, appErrors.ErrInternal))
	require.NoError(t, mock.ExpectationsWereMet())
}
