package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-program-sync/internal/models"
)

type notificationMasters interface {
	ListPendingMessages(ctx context.Context) ([]models.ProgramMaster, error)
	ClearPendingMessages(ctx context.Context, ids []int64) error
	ListInProgram(ctx context.Context, now time.Time) ([]models.InactiveMaster, error)
	ListFinished(ctx context.Context, now time.Time) ([]models.InactiveMaster, error)
	RaiseInactivity(ctx context.Context, id int64, flags models.InactivityFlags) error
}

type notificationEnrolments interface {
	ListPendingIntensiveMessages(ctx context.Context) ([]models.ProgramEnrolment, error)
	ClearPendingIntensiveMessage(ctx context.Context, id int64) error
}

type notificationPlatform interface {
	managerDirectory
	FindIntensiveCategory(ctx context.Context) (int64, error)
}

// UserLocker suspends a student whose platform inactivity reached 24 months.
type UserLocker interface {
	LockUser(ctx context.Context, userID int64) error
}

type noopLocker struct{}

func (noopLocker) LockUser(context.Context, int64) error { return nil }

// NotificationService queues master, intensive and inactivity notices.
type NotificationService struct {
	masters    notificationMasters
	enrolments notificationEnrolments
	platform   notificationPlatform
	queue      messageQueue
	locker     UserLocker
	logger     *zap.Logger
}

// NewNotificationService constructs the service. A nil locker never suspends anyone.
func NewNotificationService(masters notificationMasters, enrolments notificationEnrolments, platform notificationPlatform, queue messageQueue, locker UserLocker, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if locker == nil {
		locker = noopLocker{}
	}
	return &NotificationService{
		masters:    masters,
		enrolments: enrolments,
		platform:   platform,
		queue:      queue,
		locker:     locker,
		logger:     logger,
	}
}

type pendingNotice struct {
	msg     models.QueuedMessage
	checked bool
}

type finishKey struct {
	categoryID int64
	endDate    int64
}

type finishGroup struct {
	categoryID int64
	startDate  time.Time
	endDate    time.Time
	users      []int64
}

// GenerateMasterMessages queues new-student and completion notices for masters awaiting
// them and for pending intensive enrolments. It returns the number of queued rows.
func (s *NotificationService) GenerateMasterMessages(ctx context.Context, rc *RunContext) (int, error) {
	opts := rc.Options
	if !opts.EnrolNotice && !opts.StudentFinishNotice && !opts.RMFinishNotice {
		return 0, nil
	}
	stack := messageStack{queue: s.queue, strict: opts.StrictDedup}
	log := rc.log("master_notices")

	masters, err := s.masters.ListPendingMessages(ctx)
	if err != nil {
		return 0, err
	}

	byCategory := make(map[int64][]int64)
	categories := make([]int64, 0)
	byFinish := make(map[finishKey]*finishGroup)
	finishes := make([]finishKey, 0)
	visited := make([]int64, 0, len(masters))
	for _, master := range masters {
		if _, ok := byCategory[master.CategoryID]; !ok {
			categories = append(categories, master.CategoryID)
		}
		byCategory[master.CategoryID] = appendUnique(byCategory[master.CategoryID], master.UserID)

		key := finishKey{categoryID: master.CategoryID, endDate: master.EndDate.Unix()}
		group, ok := byFinish[key]
		if !ok {
			group = &finishGroup{categoryID: master.CategoryID, startDate: master.StartDate, endDate: master.EndDate}
			byFinish[key] = group
			finishes = append(finishes, key)
		}
		group.users = appendUnique(group.users, master.UserID)
		visited = append(visited, master.ID)
	}
	sort.Slice(categories, func(i, j int) bool { return categories[i] < categories[j] })
	sort.Slice(finishes, func(i, j int) bool {
		if finishes[i].categoryID != finishes[j].categoryID {
			return finishes[i].categoryID < finishes[j].categoryID
		}
		return finishes[i].endDate < finishes[j].endDate
	})

	queued := 0
	if opts.EnrolNotice {
		for _, categoryID := range categories {
			rm, ok, err := managerOf(ctx, s.platform, categoryID)
			if err != nil {
				return queued, err
			}
			if !ok {
				log.Warnw("no manager for category, skipping new student notice", "category_id", categoryID)
				continue
			}
			written, err := stack.push(ctx, models.QueuedMessage{
				CategoryID:    categoryID,
				Recipient:     strconv.FormatInt(rm, 10),
				Target:        joinIDs(byCategory[categoryID]),
				Type:          models.MessageNewStudent,
				ScheduledDate: rc.Today,
			}, false)
			if err != nil {
				return queued, err
			}
			if written {
				queued++
			}
		}
	}

	for _, key := range finishes {
		group := byFinish[key]
		notifyOn := rc.DateOf(group.endDate).AddDate(0, 0, 1)

		if opts.StudentFinishNotice {
			written, err := stack.push(ctx, models.QueuedMessage{
				CategoryID:    group.categoryID,
				Recipient:     joinIDs(group.users),
				Type:          models.MessageStudentFinish,
				ScheduledDate: notifyOn,
			}, false)
			if err != nil {
				return queued, err
			}
			if written {
				queued++
			}
		}

		if opts.RMFinishNotice {
			rm, ok, err := managerOf(ctx, s.platform, group.categoryID)
			if err != nil {
				return queued, err
			}
			if !ok {
				log.Warnw("no manager for category, skipping finish notice", "category_id", group.categoryID)
				continue
			}
			written, err := stack.push(ctx, models.QueuedMessage{
				CategoryID:    group.categoryID,
				Recipient:     strconv.FormatInt(rm, 10),
				Target:        rc.DateOf(group.startDate).Format(shortDateLayout),
				Type:          models.MessageRMFinish,
				ScheduledDate: notifyOn,
			}, true)
			if err != nil {
				return queued, err
			}
			if written {
				queued++
			}
		}
	}

	if err := s.masters.ClearPendingMessages(ctx, visited); err != nil {
		return queued, err
	}

	queued += s.generateIntensiveMessages(ctx, rc, stack)

	if queued > 0 || len(visited) > 0 {
		log.Infow("master notices queued", "masters", len(visited), "queued", queued)
	}
	return queued, nil
}

// generateIntensiveMessages never fails the run: errors are logged and the pass stops.
func (s *NotificationService) generateIntensiveMessages(ctx context.Context, rc *RunContext, stack messageStack) int {
	opts := rc.Options
	log := rc.log("intensive_notices")

	pending, err := s.enrolments.ListPendingIntensiveMessages(ctx)
	if err != nil {
		log.Warnw("failed to list intensive enrolments", "error", err)
		return 0
	}
	if len(pending) == 0 {
		return 0
	}

	intensiveCategory, err := s.platform.FindIntensiveCategory(ctx)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			log.Warnw("failed to resolve intensive category", "error", err)
			return 0
		}
		intensiveCategory = 0
	}

	var rm int64
	hasRM := false
	if intensiveCategory != 0 {
		rm, hasRM, err = managerOf(ctx, s.platform, intensiveCategory)
		if err != nil {
			log.Warnw("failed to resolve intensive manager", "error", err)
			return 0
		}
	}

	queued := 0
	for _, enrolment := range pending {
		shortName := enrolment.ShortName
		notifyOn := rc.DateOf(enrolment.EndDate).AddDate(0, 0, 1)
		candidates := make([]pendingNotice, 0, 3)

		if opts.EnrolNotice && hasRM {
			candidates = append(candidates, pendingNotice{msg: models.QueuedMessage{
				CategoryID:      intensiveCategory,
				CourseShortName: &shortName,
				Recipient:       strconv.FormatInt(rm, 10),
				Target:          strconv.FormatInt(enrolment.UserID, 10),
				Type:            models.MessageNewStudent,
				ScheduledDate:   rc.Today,
			}})
		}
		if opts.StudentFinishNotice && intensiveCategory != 0 {
			candidates = append(candidates, pendingNotice{msg: models.QueuedMessage{
				CategoryID:      intensiveCategory,
				CourseShortName: &shortName,
				Recipient:       strconv.FormatInt(enrolment.UserID, 10),
				Type:            models.MessageStudentFinish,
				ScheduledDate:   notifyOn,
			}})
		}
		if opts.RMFinishNotice && hasRM {
			candidates = append(candidates, pendingNotice{msg: models.QueuedMessage{
				CategoryID:      enrolment.CategoryID,
				CourseShortName: &shortName,
				Recipient:       strconv.FormatInt(rm, 10),
				Target:          rc.DateOf(enrolment.StartDate).Format(shortDateLayout),
				Type:            models.MessageRMFinish,
				ScheduledDate:   notifyOn,
			}, checked: true})
		}

		for _, candidate := range candidates {
			written, err := stack.push(ctx, candidate.msg, candidate.checked)
			if err != nil {
				log.Warnw("failed to queue intensive notice", "enrolment_id", enrolment.ID, "error", err)
				return queued
			}
			if written {
				queued++
			}
		}
		if err := s.enrolments.ClearPendingIntensiveMessage(ctx, enrolment.ID); err != nil {
			log.Warnw("failed to clear intensive flag", "enrolment_id", enrolment.ID, "error", err)
			return queued
		}
	}
	return queued
}

// GenerateInactivityMessages queues inactivity notices at most once per day and returns
// the number of queued rows.
func (s *NotificationService) GenerateInactivityMessages(ctx context.Context, rc *RunContext) (int, error) {
	if rc.Cursor.InactivityCheckedOn(rc.Today) {
		return 0, nil
	}
	opts := rc.Options
	stack := messageStack{queue: s.queue, strict: opts.StrictDedup}

	queued := 0
	if opts.Inactivity6Notice {
		n, err := s.inProgramInactivity(ctx, rc, stack)
		queued += n
		if err != nil {
			return queued, err
		}
	}
	if opts.Inactivity18Notice || opts.Inactivity24Notice {
		n, err := s.platformInactivity(ctx, rc, stack)
		queued += n
		if err != nil {
			return queued, err
		}
	}

	today := rc.Today
	rc.Cursor.LastInactivityCheck = &today
	if queued > 0 {
		rc.log("inactivity").Infow("inactivity notices queued", "queued", queued)
	}
	return queued, nil
}

func (s *NotificationService) inProgramInactivity(ctx context.Context, rc *RunContext, stack messageStack) (int, error) {
	masters, err := s.masters.ListInProgram(ctx, rc.Now)
	if err != nil {
		return 0, err
	}

	queued := 0
	for _, master := range masters {
		if master.Inactivity6 || monthsBetween(master.LastAccess, rc.Today) < 6 {
			continue
		}
		rm, ok, err := managerOf(ctx, s.platform, master.CategoryID)
		if err != nil {
			return queued, err
		}
		if ok {
			written, err := stack.push(ctx, models.QueuedMessage{
				CategoryID:    master.CategoryID,
				Recipient:     strconv.FormatInt(rm, 10),
				Target:        strconv.FormatInt(master.UserID, 10),
				Type:          models.MessageRMInactivity6,
				ScheduledDate: rc.Today,
			}, false)
			if err != nil {
				return queued, err
			}
			if written {
				queued++
			}
		}
		if err := s.masters.RaiseInactivity(ctx, master.ID, models.InactivityFlags{Six: true}); err != nil {
			return queued, err
		}
	}
	return queued, nil
}

func (s *NotificationService) platformInactivity(ctx context.Context, rc *RunContext, stack messageStack) (int, error) {
	opts := rc.Options
	masters, err := s.masters.ListFinished(ctx, rc.Now)
	if err != nil {
		return 0, err
	}

	queued := 0
	for _, master := range masters {
		months := monthsBetween(master.LastAccess, rc.Today)
		var msgType models.MessageType
		if months >= 18 && !master.Inactivity18 && opts.Inactivity18Notice {
			msgType = models.MessageRMInactivity18
		}
		if months >= 24 && !master.Inactivity24 && opts.Inactivity24Notice {
			msgType = models.MessageRMInactivity24
		}
		if msgType == "" {
			continue
		}

		rm, ok, err := managerOf(ctx, s.platform, master.CategoryID)
		if err != nil {
			return queued, err
		}
		if ok {
			written, err := stack.push(ctx, models.QueuedMessage{
				CategoryID:    master.CategoryID,
				Recipient:     strconv.FormatInt(rm, 10),
				Target:        strconv.FormatInt(master.UserID, 10),
				Type:          msgType,
				ScheduledDate: rc.Today,
			}, false)
			if err != nil {
				return queued, err
			}
			if written {
				queued++
			}
		}

		flags := models.InactivityFlags{Eighteen: true}
		if msgType == models.MessageRMInactivity24 {
			flags.TwentyFour = true
		}
		if err := s.masters.RaiseInactivity(ctx, master.ID, flags); err != nil {
			return queued, err
		}

		if msgType != models.MessageRMInactivity24 {
			continue
		}
		if err := s.locker.LockUser(ctx, master.UserID); err != nil {
			rc.log("inactivity").Warnw("failed to lock user", "user_id", master.UserID, "error", err)
		}
		written, err := stack.push(ctx, models.QueuedMessage{
			CategoryID:    master.CategoryID,
			Recipient:     strconv.FormatInt(master.UserID, 10),
			Type:          models.MessageUserLocked,
			ScheduledDate: rc.Today,
		}, false)
		if err != nil {
			return queued, err
		}
		if written {
			queued++
		}
	}
	return queued, nil
}
