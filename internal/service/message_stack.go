package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/noah-isme/sma-program-sync/internal/models"
)

type messageQueue interface {
	Enqueue(ctx context.Context, msg *models.QueuedMessage) error
	Exists(ctx context.Context, key models.MessageKey) (bool, error)
}

type managerDirectory interface {
	FindCategoryManager(ctx context.Context, categoryID int64) (int64, error)
}

// messageStack queues outbox rows, skipping duplicates when checking applies.
type messageStack struct {
	queue  messageQueue
	strict bool
}

// push enqueues msg and reports whether a row was written. checked forces a duplicate
// check even when strict mode is off.
func (s messageStack) push(ctx context.Context, msg models.QueuedMessage, checked bool) (bool, error) {
	if s.strict || checked {
		exists, err := s.queue.Exists(ctx, msg.Key())
		if err != nil {
			return false, err
		}
		if exists {
			return false, nil
		}
	}
	if err := s.queue.Enqueue(ctx, &msg); err != nil {
		return false, fmt.Errorf("queue %s message: %w", msg.Type, err)
	}
	return true, nil
}

// managerOf resolves the category's responsible manager. A missing assignment is not
// an error and reports ok=false.
func managerOf(ctx context.Context, directory managerDirectory, categoryID int64) (int64, bool, error) {
	userID, err := directory.FindCategoryManager(ctx, categoryID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("find category manager: %w", err)
	}
	return userID, true, nil
}

func appendUnique(ids []int64, id int64) []int64 {
	if slices.Contains(ids, id) {
		return ids
	}
	return append(ids, id)
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}

// splitIDs parses a comma-joined id list, ignoring blank and malformed entries.
func splitIDs(raw string) []int64 {
	ids := make([]int64, 0)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}
