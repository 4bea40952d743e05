package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-program-sync/internal/models"
)

type dispatchQueue interface {
	ListDue(ctx context.Context, day time.Time, maxAttempts int) ([]models.QueuedMessage, error)
	MarkSent(ctx context.Context, id int64, at time.Time) error
	MarkFailed(ctx context.Context, id int64, delivered, reason string) error
	Delete(ctx context.Context, id int64) error
	PurgeSent(ctx context.Context, before time.Time) (int64, error)
}

type categoryDirectory interface {
	FindCategory(ctx context.Context, id int64) (*models.Category, error)
}

type userDirectory interface {
	FindByID(ctx context.Context, id int64) (*models.PlatformUser, error)
	ListByIDs(ctx context.Context, ids []int64) ([]models.PlatformUser, error)
}

// DispatchResult summarises one dispatch pass.
type DispatchResult struct {
	Due     int `json:"due"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
	Purged  int `json:"purged"`
}

// DispatchService renders and delivers today's queued messages.
type DispatchService struct {
	queue      dispatchQueue
	categories categoryDirectory
	users      userDirectory
	messengers []Messenger
	metrics    *MetricsService
	logger     *zap.Logger
}

// NewDispatchService constructs the service. Every messenger receives every delivery; only
// the first one decides whether a recipient was served, the rest are best-effort copies.
func NewDispatchService(queue dispatchQueue, categories categoryDirectory, users userDirectory, metrics *MetricsService, logger *zap.Logger, messengers ...Messenger) *DispatchService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DispatchService{
		queue:      queue,
		categories: categories,
		users:      users,
		messengers: messengers,
		metrics:    metrics,
		logger:     logger,
	}
}

// Dispatch sends every due message once. Delivery failures are recorded on the row and
// never abort the pass; queue persistence failures do.
func (s *DispatchService) Dispatch(ctx context.Context, rc *RunContext) (DispatchResult, error) {
	opts := rc.Options
	log := rc.log("dispatch")
	result := DispatchResult{}

	due, err := s.queue.ListDue(ctx, rc.Today, opts.DispatchMaxAttempts)
	if err != nil {
		return result, err
	}
	result.Due = len(due)

	for _, msg := range due {
		outcome, sendErr := s.deliver(ctx, rc, msg)
		result.Skipped += outcome.skipped
		status := models.MessageSent
		if sendErr != nil {
			status = models.MessageFailed
			result.Failed++
			log.Warnw("message delivery failed", "message_id", msg.ID, "type", msg.Type, "category_id", msg.CategoryID, "error", sendErr)
		} else {
			result.Sent++
		}
		s.metrics.RecordDispatch(string(msg.Type), string(status))

		switch {
		case opts.LegacyDelete:
			err = s.queue.Delete(ctx, msg.ID)
		case sendErr != nil:
			err = s.queue.MarkFailed(ctx, msg.ID, joinIDs(outcome.delivered), sendErr.Error())
		default:
			err = s.queue.MarkSent(ctx, msg.ID, rc.Now)
		}
		if err != nil {
			return result, err
		}
	}

	if !opts.LegacyDelete && opts.SentRetention > 0 {
		purged, err := s.queue.PurgeSent(ctx, rc.Now.Add(-opts.SentRetention))
		if err != nil {
			return result, err
		}
		result.Purged = int(purged)
	}

	if result.Due > 0 || result.Purged > 0 {
		log.Infow("messages dispatched", "due", result.Due, "sent", result.Sent, "failed", result.Failed, "skipped", result.Skipped, "purged", result.Purged)
	}
	return result, nil
}

type composedMessage struct {
	subject    string
	body       string
	recipients []int64
}

type deliveryOutcome struct {
	delivered []int64
	skipped   int
}

// deliver sends msg to every recipient not yet served. Unknown recipients are skipped.
// The outcome always lists the recipients served so far, including those of earlier
// attempts, so a failed row can be retried without repeating them.
func (s *DispatchService) deliver(ctx context.Context, rc *RunContext, msg models.QueuedMessage) (deliveryOutcome, error) {
	outcome := deliveryOutcome{delivered: splitIDs(msg.Delivered)}

	category, err := s.categories.FindCategory(ctx, msg.CategoryID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return outcome, fmt.Errorf("category %d not found", msg.CategoryID)
		}
		return outcome, fmt.Errorf("load category: %w", err)
	}

	composed, err := s.compose(ctx, rc.Options, category.Name, msg)
	if err != nil {
		return outcome, err
	}
	if len(composed.recipients) == 0 {
		return outcome, fmt.Errorf("message %d has no recipient", msg.ID)
	}

	sender, err := s.users.FindByID(ctx, rc.Options.AdminUserID)
	if err != nil {
		return outcome, fmt.Errorf("load sender %d: %w", rc.Options.AdminUserID, err)
	}

	log := rc.log("dispatch")
	for _, recipientID := range composed.recipients {
		if slices.Contains(outcome.delivered, recipientID) {
			continue
		}
		recipient, err := s.users.FindByID(ctx, recipientID)
		if errors.Is(err, sql.ErrNoRows) {
			outcome.skipped++
			log.Warnw("recipient not found, skipped", "message_id", msg.ID, "user_id", recipientID)
			continue
		}
		if err != nil {
			return outcome, fmt.Errorf("load recipient %d: %w", recipientID, err)
		}
		delivery := Delivery{
			From:    *sender,
			To:      *recipient,
			Subject: composed.subject,
			Body:    composed.body,
			Type:    msg.Type,
		}
		for i, messenger := range s.messengers {
			err := messenger.Send(ctx, delivery)
			if err == nil {
				continue
			}
			if i == 0 {
				return outcome, err
			}
			log.Warnw("message copy failed", "message_id", msg.ID, "user_id", recipientID, "error", err)
		}
		outcome.delivered = append(outcome.delivered, recipientID)
	}
	return outcome, nil
}

func (s *DispatchService) compose(ctx context.Context, opts SyncOptions, categoryName string, msg models.QueuedMessage) (composedMessage, error) {
	prefix := categoryName + ". "
	out := composedMessage{recipients: splitIDs(msg.Recipient)}

	switch msg.Type {
	case models.MessageNewStudent:
		names, err := s.userNames(ctx, splitIDs(msg.Target))
		if err != nil {
			return out, err
		}
		out.subject = "New registered users in the course " + categoryName
		out.body = prefix + NewTemplate(opts.EnrolText).Render(map[Slot]string{SlotUser: names})
	case models.MessageStudentFinish:
		out.subject = "Master finished " + categoryName
		out.body = prefix + opts.StudentFinishText
	case models.MessageRMFinish:
		out.subject = "Master finished " + categoryName
		out.body = prefix + NewTemplate(opts.RMFinishText).Render(map[Slot]string{SlotGroup: msg.Target})
	case models.MessageRMInactivity6:
		names, err := s.userNames(ctx, splitIDs(msg.Target))
		if err != nil {
			return out, err
		}
		out.subject = fmt.Sprintf("Inactive user in master (%s) since 6 months", categoryName)
		out.body = prefix + NewTemplate(opts.Inactivity6Text).Render(map[Slot]string{SlotUser: names})
	case models.MessageRMInactivity18, models.MessageRMInactivity24:
		names, err := s.userNames(ctx, splitIDs(msg.Target))
		if err != nil {
			return out, err
		}
		text := opts.Inactivity18Text
		months := 18
		if msg.Type == models.MessageRMInactivity24 {
			text = opts.Inactivity24RMText
			months = 24
		}
		out.subject = fmt.Sprintf("Inactive user in platform since %d months", months)
		out.body = NewTemplate(text).Render(map[Slot]string{SlotUser: names})
	case models.MessageUserLocked:
		out.subject = "Inactive user in platform since 24 months"
		out.body = opts.Inactivity24StudentText
	default:
		return out, fmt.Errorf("unknown message type %q", msg.Type)
	}

	if msg.CourseShortName != nil && *msg.CourseShortName != "" {
		out.body = *msg.CourseShortName + ". " + out.body
	}
	return out, nil
}

// userNames renders "First Last. " for every known user, in id order.
func (s *DispatchService) userNames(ctx context.Context, ids []int64) (string, error) {
	if len(ids) == 0 {
		return "", nil
	}
	users, err := s.users.ListByIDs(ctx, ids)
	if err != nil {
		return "", fmt.Errorf("load users: %w", err)
	}
	byID := make(map[int64]models.PlatformUser, len(users))
	for _, user := range users {
		byID[user.ID] = user
	}
	var b strings.Builder
	for _, id := range ids {
		user, ok := byID[id]
		if !ok {
			continue
		}
		b.WriteString(user.FullName())
		b.WriteString(". ")
	}
	return b.String(), nil
}
