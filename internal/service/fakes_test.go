package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-program-sync/internal/models"
)

var fixedNow = time.Date(2026, time.March, 10, 9, 30, 0, 0, time.UTC)

func day(year int, month time.Month, d int) time.Time {
	return time.Date(year, month, d, 0, 0, 0, 0, time.UTC)
}

func testRunContext(opts SyncOptions, cursor *models.SyncCursor) *RunContext {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return NewRunContext(fixedNow, opts, cursor, nil)
}

type fakeEnrolmentStore struct {
	rows      []models.ProgramEnrolment
	nextID    int64
	createErr error
}

func (f *fakeEnrolmentStore) Create(ctx context.Context, exec sqlx.ExtContext, enrolment *models.ProgramEnrolment) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.nextID++
	enrolment.ID = f.nextID
	f.rows = append(f.rows, *enrolment)
	return nil
}

func (f *fakeEnrolmentStore) add(enrolment models.ProgramEnrolment) int64 {
	_ = f.Create(context.Background(), nil, &enrolment)
	return enrolment.ID
}

func (f *fakeEnrolmentStore) get(id int64) *models.ProgramEnrolment {
	for i := range f.rows {
		if f.rows[i].ID == id {
			return &f.rows[i]
		}
	}
	return nil
}

func (f *fakeEnrolmentStore) filter(keep func(models.ProgramEnrolment) bool) []models.ProgramEnrolment {
	out := make([]models.ProgramEnrolment, 0)
	for _, row := range f.rows {
		if keep(row) {
			out = append(out, row)
		}
	}
	return out
}

func (f *fakeEnrolmentStore) ListPendingEncapsulation(ctx context.Context, categoryID int64) ([]models.ProgramEnrolment, error) {
	out := f.filter(func(e models.ProgramEnrolment) bool { return e.PendingEncapsulation && e.CategoryID == categoryID })
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].StartDate.Before(out[j].StartDate)
	})
	return out, nil
}

func (f *fakeEnrolmentStore) AssignMaster(ctx context.Context, exec sqlx.ExtContext, masterID int64, enrolmentIDs []int64) error {
	for _, id := range enrolmentIDs {
		row := f.get(id)
		if row == nil {
			continue
		}
		mid := masterID
		row.MasterID = &mid
		row.PendingEncapsulation = false
	}
	return nil
}

func (f *fakeEnrolmentStore) ListPendingEvents(ctx context.Context) ([]models.ProgramEnrolment, error) {
	out := f.filter(func(e models.ProgramEnrolment) bool { return e.PendingEvent })
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartDate.Before(out[j].StartDate) })
	return out, nil
}

func (f *fakeEnrolmentStore) NextPendingEvent(ctx context.Context, userID, categoryID int64, after time.Time) (*models.ProgramEnrolment, error) {
	var next *models.ProgramEnrolment
	for i := range f.rows {
		row := f.rows[i]
		if !row.PendingEvent || row.UserID != userID || row.CategoryID != categoryID || !row.StartDate.After(after) {
			continue
		}
		if next == nil || row.StartDate.Before(next.StartDate) {
			next = &row
		}
	}
	if next == nil {
		return nil, sql.ErrNoRows
	}
	return next, nil
}

func (f *fakeEnrolmentStore) ClearPendingEvent(ctx context.Context, id int64) error {
	if row := f.get(id); row != nil {
		row.PendingEvent = false
	}
	return nil
}

func (f *fakeEnrolmentStore) ListPendingIntensiveMessages(ctx context.Context) ([]models.ProgramEnrolment, error) {
	return f.filter(func(e models.ProgramEnrolment) bool { return e.Intensive && e.PendingIntensiveMessage }), nil
}

func (f *fakeEnrolmentStore) ClearPendingIntensiveMessage(ctx context.Context, id int64) error {
	if row := f.get(id); row != nil {
		row.PendingIntensiveMessage = false
	}
	return nil
}

func (f *fakeEnrolmentStore) ListPendingConvalidations(ctx context.Context) ([]models.ProgramEnrolment, error) {
	return f.filter(func(e models.ProgramEnrolment) bool { return !e.Intensive && e.PendingConvalidation }), nil
}

func (f *fakeEnrolmentStore) ClearPendingConvalidation(ctx context.Context, id int64) error {
	if row := f.get(id); row != nil {
		row.PendingConvalidation = false
	}
	return nil
}

func (f *fakeEnrolmentStore) ListByUser(ctx context.Context, userID int64) ([]models.ProgramEnrolment, error) {
	return f.filter(func(e models.ProgramEnrolment) bool { return e.UserID == userID }), nil
}

func (f *fakeEnrolmentStore) DeleteByCategoryUser(ctx context.Context, exec sqlx.ExtContext, categoryID, userID int64) (int64, error) {
	kept := f.filter(func(e models.ProgramEnrolment) bool { return e.CategoryID != categoryID || e.UserID != userID })
	removed := int64(len(f.rows) - len(kept))
	f.rows = kept
	return removed, nil
}

type fakeMasterStore struct {
	masters    []models.ProgramMaster
	lastAccess map[int64]time.Time
	nextID     int64
	createErr  error
	cleared    []int64
}

func (f *fakeMasterStore) Create(ctx context.Context, exec sqlx.ExtContext, master *models.ProgramMaster) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.nextID++
	master.ID = f.nextID
	f.masters = append(f.masters, *master)
	return nil
}

func (f *fakeMasterStore) ExistsForUser(ctx context.Context, categoryID, userID int64) (bool, error) {
	for _, m := range f.masters {
		if m.CategoryID == categoryID && m.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeMasterStore) get(id int64) *models.ProgramMaster {
	for i := range f.masters {
		if f.masters[i].ID == id {
			return &f.masters[i]
		}
	}
	return nil
}

func (f *fakeMasterStore) ListPendingMessages(ctx context.Context) ([]models.ProgramMaster, error) {
	out := make([]models.ProgramMaster, 0)
	for _, m := range f.masters {
		if m.PendingMessages {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeMasterStore) ClearPendingMessages(ctx context.Context, ids []int64) error {
	for _, id := range ids {
		if m := f.get(id); m != nil {
			m.PendingMessages = false
		}
	}
	f.cleared = append(f.cleared, ids...)
	return nil
}

func (f *fakeMasterStore) withAccess(keep func(models.ProgramMaster) bool) []models.InactiveMaster {
	out := make([]models.InactiveMaster, 0)
	for _, m := range f.masters {
		access, ok := f.lastAccess[m.UserID]
		if !ok || !keep(m) {
			continue
		}
		out = append(out, models.InactiveMaster{ProgramMaster: m, LastAccess: access})
	}
	return out
}

func (f *fakeMasterStore) ListInProgram(ctx context.Context, now time.Time) ([]models.InactiveMaster, error) {
	return f.withAccess(func(m models.ProgramMaster) bool {
		return m.StartDate.Before(now) && m.EndDate.After(now) && !m.Inactivity6
	}), nil
}

func (f *fakeMasterStore) ListFinished(ctx context.Context, now time.Time) ([]models.InactiveMaster, error) {
	return f.withAccess(func(m models.ProgramMaster) bool {
		return m.EndDate.AddDate(0, 18, 0).Before(now) && !m.Inactivity24
	}), nil
}

func (f *fakeMasterStore) RaiseInactivity(ctx context.Context, id int64, flags models.InactivityFlags) error {
	m := f.get(id)
	if m == nil {
		return sql.ErrNoRows
	}
	m.Inactivity6 = m.Inactivity6 || flags.Six
	m.Inactivity18 = m.Inactivity18 || flags.Eighteen
	m.Inactivity24 = m.Inactivity24 || flags.TwentyFour
	return nil
}

func (f *fakeMasterStore) DeleteByCategoryUser(ctx context.Context, exec sqlx.ExtContext, categoryID, userID int64) (int64, error) {
	kept := make([]models.ProgramMaster, 0, len(f.masters))
	for _, m := range f.masters {
		if m.CategoryID != categoryID || m.UserID != userID {
			kept = append(kept, m)
		}
	}
	removed := int64(len(f.masters) - len(kept))
	f.masters = kept
	return removed, nil
}

type fakeMessageQueue struct {
	messages   []models.QueuedMessage
	nextID     int64
	enqueueErr error
	markErr    error
	deleted    []int64
}

func sameKey(a, b models.MessageKey) bool {
	return a.CategoryID == b.CategoryID && a.Recipient == b.Recipient && a.Target == b.Target &&
		a.Type == b.Type && a.ScheduledDate.Format(models.DateLayout) == b.ScheduledDate.Format(models.DateLayout)
}

func (f *fakeMessageQueue) Enqueue(ctx context.Context, msg *models.QueuedMessage) error {
	if f.enqueueErr != nil {
		return f.enqueueErr
	}
	f.nextID++
	msg.ID = f.nextID
	msg.Status = models.MessagePending
	f.messages = append(f.messages, *msg)
	return nil
}

func (f *fakeMessageQueue) Exists(ctx context.Context, key models.MessageKey) (bool, error) {
	for _, m := range f.messages {
		if sameKey(m.Key(), key) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeMessageQueue) get(id int64) *models.QueuedMessage {
	for i := range f.messages {
		if f.messages[i].ID == id {
			return &f.messages[i]
		}
	}
	return nil
}

func (f *fakeMessageQueue) ofType(msgType models.MessageType) []models.QueuedMessage {
	out := make([]models.QueuedMessage, 0)
	for _, m := range f.messages {
		if m.Type == msgType {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeMessageQueue) ListDue(ctx context.Context, day time.Time, maxAttempts int) ([]models.QueuedMessage, error) {
	out := make([]models.QueuedMessage, 0)
	for _, m := range f.messages {
		if m.ScheduledDate.Format(models.DateLayout) != day.Format(models.DateLayout) {
			continue
		}
		if m.Status == models.MessagePending || (m.Status == models.MessageFailed && m.Attempts < maxAttempts) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeMessageQueue) MarkSent(ctx context.Context, id int64, at time.Time) error {
	if f.markErr != nil {
		return f.markErr
	}
	m := f.get(id)
	if m == nil {
		return sql.ErrNoRows
	}
	m.Status = models.MessageSent
	m.Attempts++
	sentAt := at
	m.SentAt = &sentAt
	m.LastError = nil
	return nil
}

func (f *fakeMessageQueue) MarkFailed(ctx context.Context, id int64, delivered, reason string) error {
	if f.markErr != nil {
		return f.markErr
	}
	m := f.get(id)
	if m == nil {
		return sql.ErrNoRows
	}
	m.Status = models.MessageFailed
	m.Attempts++
	m.LastError = &reason
	m.Delivered = delivered
	return nil
}

func (f *fakeMessageQueue) Delete(ctx context.Context, id int64) error {
	kept := make([]models.QueuedMessage, 0, len(f.messages))
	for _, m := range f.messages {
		if m.ID != id {
			kept = append(kept, m)
		}
	}
	f.messages = kept
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeMessageQueue) PurgeSent(ctx context.Context, before time.Time) (int64, error) {
	kept := make([]models.QueuedMessage, 0, len(f.messages))
	for _, m := range f.messages {
		if m.Status == models.MessageSent && m.SentAt != nil && m.SentAt.Before(before) {
			continue
		}
		kept = append(kept, m)
	}
	removed := int64(len(f.messages) - len(kept))
	f.messages = kept
	return removed, nil
}

func (f *fakeMessageQueue) DeleteForUser(ctx context.Context, exec sqlx.ExtContext, categoryID int64, userID string) (int64, error) {
	kept := make([]models.QueuedMessage, 0, len(f.messages))
	for _, m := range f.messages {
		if m.CategoryID == categoryID && (m.Recipient == userID || m.Target == userID) {
			continue
		}
		kept = append(kept, m)
	}
	removed := int64(len(f.messages) - len(kept))
	f.messages = kept
	return removed, nil
}

type fakePlatform struct {
	raw               []models.RawEnrolment
	categories        []models.Category
	required          map[int64]int
	managers          map[int64]int64
	intensiveCategory int64
	managerErr        error
}

func (f *fakePlatform) ListStudentEnrolmentsSince(ctx context.Context, lastID int64) ([]models.RawEnrolment, error) {
	out := make([]models.RawEnrolment, 0)
	for _, row := range f.raw {
		if row.EnrolmentID > lastID {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EnrolmentID < out[j].EnrolmentID })
	return out, nil
}

func (f *fakePlatform) ListStudentEnrolmentsForUser(ctx context.Context, categoryID, userID int64) ([]models.RawEnrolment, error) {
	out := make([]models.RawEnrolment, 0)
	for _, row := range f.raw {
		if row.CategoryID == categoryID && row.UserID == userID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (f *fakePlatform) ListStudentsEnrolledSince(ctx context.Context, categoryID, since int64) ([]int64, error) {
	seen := make(map[int64]struct{})
	out := make([]int64, 0)
	for _, row := range f.raw {
		if row.CategoryID != categoryID || row.TimeStart < since {
			continue
		}
		if _, ok := seen[row.UserID]; ok {
			continue
		}
		seen[row.UserID] = struct{}{}
		out = append(out, row.UserID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (f *fakePlatform) ListTopCategories(ctx context.Context) ([]models.Category, error) {
	out := make([]models.Category, 0)
	for _, c := range f.categories {
		if c.Parent == 0 {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakePlatform) FindCategory(ctx context.Context, id int64) (*models.Category, error) {
	for _, c := range f.categories {
		if c.ID == id {
			category := c
			return &category, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakePlatform) CountRequiredModules(ctx context.Context, categoryID int64) (int, error) {
	return f.required[categoryID], nil
}

func (f *fakePlatform) FindCategoryManager(ctx context.Context, categoryID int64) (int64, error) {
	if f.managerErr != nil {
		return 0, f.managerErr
	}
	rm, ok := f.managers[categoryID]
	if !ok {
		return 0, sql.ErrNoRows
	}
	return rm, nil
}

func (f *fakePlatform) FindIntensiveCategory(ctx context.Context) (int64, error) {
	if f.intensiveCategory == 0 {
		return 0, sql.ErrNoRows
	}
	return f.intensiveCategory, nil
}

type fakeCalendar struct {
	events    []models.CalendarEvent
	createErr error
	deletes   []int64
}

func (f *fakeCalendar) Create(ctx context.Context, event *models.CalendarEvent) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.events = append(f.events, *event)
	return nil
}

func (f *fakeCalendar) DeleteUserEventsSince(ctx context.Context, exec sqlx.ExtContext, userID int64, prefix string, since int64) (int64, error) {
	kept := make([]models.CalendarEvent, 0, len(f.events))
	for _, e := range f.events {
		if e.UserID == userID && e.TimeStart >= since && len(e.Name) >= len(prefix) && e.Name[:len(prefix)] == prefix {
			continue
		}
		kept = append(kept, e)
	}
	removed := int64(len(f.events) - len(kept))
	f.events = kept
	f.deletes = append(f.deletes, userID)
	return removed, nil
}

type fakeUsers struct {
	users map[int64]models.PlatformUser
	admin map[int64]bool
}

func newFakeUsers(users ...models.PlatformUser) *fakeUsers {
	f := &fakeUsers{users: make(map[int64]models.PlatformUser), admin: make(map[int64]bool)}
	for _, u := range users {
		f.users[u.ID] = u
	}
	return f
}

func (f *fakeUsers) FindByID(ctx context.Context, id int64) (*models.PlatformUser, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &u, nil
}

func (f *fakeUsers) FindByUsername(ctx context.Context, username string) (*models.PlatformUser, error) {
	for _, u := range f.users {
		if u.Username == username {
			user := u
			return &user, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeUsers) ListByIDs(ctx context.Context, ids []int64) ([]models.PlatformUser, error) {
	out := make([]models.PlatformUser, 0, len(ids))
	for _, id := range ids {
		if u, ok := f.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (f *fakeUsers) IsSiteAdmin(ctx context.Context, userID int64) (bool, error) {
	return f.admin[userID], nil
}

type recordingMessenger struct {
	deliveries []Delivery
	failFor    map[int64]error
}

func (m *recordingMessenger) Send(ctx context.Context, delivery Delivery) error {
	if err, ok := m.failFor[delivery.To.ID]; ok {
		return err
	}
	m.deliveries = append(m.deliveries, delivery)
	return nil
}

var errBoom = errors.New("boom")
