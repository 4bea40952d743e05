package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-program-sync/internal/models"
)

type encapsulationPlatform interface {
	ListTopCategories(ctx context.Context) ([]models.Category, error)
	CountRequiredModules(ctx context.Context, categoryID int64) (int, error)
}

type encapsulationEnrolments interface {
	ListPendingEncapsulation(ctx context.Context, categoryID int64) ([]models.ProgramEnrolment, error)
	AssignMaster(ctx context.Context, exec sqlx.ExtContext, masterID int64, enrolmentIDs []int64) error
}

type masterWriter interface {
	Create(ctx context.Context, exec sqlx.ExtContext, master *models.ProgramMaster) error
	ExistsForUser(ctx context.Context, categoryID, userID int64) (bool, error)
}

// EncapsulationService groups a user's module enrolments into a master once all modules
// of the category are present.
type EncapsulationService struct {
	platform   encapsulationPlatform
	enrolments encapsulationEnrolments
	masters    masterWriter
	tx         txProvider
	logger     *zap.Logger
}

// NewEncapsulationService constructs the service.
func NewEncapsulationService(platform encapsulationPlatform, enrolments encapsulationEnrolments, masters masterWriter, tx txProvider, logger *zap.Logger) *EncapsulationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EncapsulationService{platform: platform, enrolments: enrolments, masters: masters, tx: tx, logger: logger}
}

// Encapsulate creates masters for complete enrolment groups and returns how many were created.
func (s *EncapsulationService) Encapsulate(ctx context.Context, rc *RunContext) (int, error) {
	categories, err := s.platform.ListTopCategories(ctx)
	if err != nil {
		return 0, err
	}

	created := 0
	for _, category := range categories {
		n, err := s.encapsulateCategory(ctx, rc, category.ID)
		if err != nil {
			return created, err
		}
		created += n
	}
	return created, nil
}

func (s *EncapsulationService) encapsulateCategory(ctx context.Context, rc *RunContext, categoryID int64) (int, error) {
	pending, err := s.enrolments.ListPendingEncapsulation(ctx, categoryID)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	required, err := s.platform.CountRequiredModules(ctx, categoryID)
	if err != nil {
		return 0, err
	}

	groups := make(map[int64][]models.ProgramEnrolment)
	users := make([]int64, 0)
	for _, enrolment := range pending {
		if _, ok := groups[enrolment.UserID]; !ok {
			users = append(users, enrolment.UserID)
		}
		groups[enrolment.UserID] = append(groups[enrolment.UserID], enrolment)
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })

	created := 0
	for _, userID := range users {
		group := groups[userID]
		if len(group) != required {
			continue
		}
		exists, err := s.masters.ExistsForUser(ctx, categoryID, userID)
		if err != nil {
			return created, err
		}
		if exists {
			rc.log("encapsulation").Warnw("master already exists, enrolments left pending", "category_id", categoryID, "user_id", userID)
			continue
		}
		master := buildMaster(categoryID, userID, group)
		ids := make([]int64, len(group))
		for i, enrolment := range group {
			ids[i] = enrolment.ID
		}

		err = withTx(ctx, s.tx, func(exec sqlx.ExtContext) error {
			if err := s.masters.Create(ctx, exec, master); err != nil {
				return err
			}
			return s.enrolments.AssignMaster(ctx, exec, master.ID, ids)
		})
		if err != nil {
			return created, fmt.Errorf("encapsulate user %d in category %d: %w", userID, categoryID, err)
		}
		created++
		rc.log("encapsulation").Infow("master created", "category_id", categoryID, "user_id", userID, "master_id", master.ID, "modules", len(group))
	}
	return created, nil
}

func buildMaster(categoryID, userID int64, group []models.ProgramEnrolment) *models.ProgramMaster {
	start := group[0].StartDate
	end := group[0].EndDate
	for _, enrolment := range group[1:] {
		if enrolment.StartDate.Before(start) {
			start = enrolment.StartDate
		}
		if enrolment.EndDate.After(end) {
			end = enrolment.EndDate
		}
	}
	return &models.ProgramMaster{
		UserID:          userID,
		CategoryID:      categoryID,
		StartDate:       start,
		EndDate:         end,
		PendingHolidays: true,
		PendingMessages: true,
	}
}
