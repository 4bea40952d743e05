package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-program-sync/internal/models"
	appErrors "github.com/noah-isme/sma-program-sync/pkg/errors"
)

// RevertRequest scopes a revert to a category, a start instant and optionally one user.
type RevertRequest struct {
	CategoryID int64     `json:"category_id" validate:"required,gt=0"`
	Since      time.Time `json:"since" validate:"required"`
	Username   string    `json:"username,omitempty" validate:"omitempty,max=100"`
}

// RevertResult reports what a revert removed and re-derived.
type RevertResult struct {
	Reverted          bool    `json:"reverted"`
	Users             []int64 `json:"users"`
	EventsDeleted     int64   `json:"events_deleted"`
	MessagesDeleted   int64   `json:"messages_deleted"`
	MastersDeleted    int64   `json:"masters_deleted"`
	EnrolmentsDeleted int64   `json:"enrolments_deleted"`
	EnrolmentsCreated int64   `json:"enrolments_created"`
}

type revertUsers interface {
	FindByUsername(ctx context.Context, username string) (*models.PlatformUser, error)
}

type revertPlatform interface {
	ListStudentsEnrolledSince(ctx context.Context, categoryID, since int64) ([]int64, error)
	ListStudentEnrolmentsForUser(ctx context.Context, categoryID, userID int64) ([]models.RawEnrolment, error)
}

type revertCalendar interface {
	DeleteUserEventsSince(ctx context.Context, exec sqlx.ExtContext, userID int64, prefix string, since int64) (int64, error)
}

type revertMessages interface {
	DeleteForUser(ctx context.Context, exec sqlx.ExtContext, categoryID int64, userID string) (int64, error)
}

type revertMasters interface {
	DeleteByCategoryUser(ctx context.Context, exec sqlx.ExtContext, categoryID, userID int64) (int64, error)
}

type revertEnrolments interface {
	enrolmentWriter
	DeleteByCategoryUser(ctx context.Context, exec sqlx.ExtContext, categoryID, userID int64) (int64, error)
}

// RevertService deletes derived data of a category window and re-derives the program
// enrolments from the platform.
type RevertService struct {
	users      revertUsers
	platform   revertPlatform
	calendar   revertCalendar
	messages   revertMessages
	masters    revertMasters
	enrolments revertEnrolments
	tx         txProvider
	validator  *validator.Validate
	logger     *zap.Logger
}

// RevertDeps groups the collaborators of the revert service.
type RevertDeps struct {
	Users      revertUsers
	Platform   revertPlatform
	Calendar   revertCalendar
	Messages   revertMessages
	Masters    revertMasters
	Enrolments revertEnrolments
	Tx         txProvider
}

// NewRevertService constructs the service.
func NewRevertService(deps RevertDeps, validate *validator.Validate, logger *zap.Logger) *RevertService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &RevertService{
		users:      deps.Users,
		platform:   deps.Platform,
		calendar:   deps.Calendar,
		messages:   deps.Messages,
		masters:    deps.Masters,
		enrolments: deps.Enrolments,
		tx:         deps.Tx,
		validator:  validate,
		logger:     logger,
	}
}

// Validate checks the request without touching any data.
func (s *RevertService) Validate(req RevertRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Invalid(err, "invalid revert request")
	}
	return nil
}

// Revert runs the revert. Without a username every student enrolled in the category
// since the instant is reverted; Reverted is false when there is none.
func (s *RevertService) Revert(ctx context.Context, req RevertRequest) (*RevertResult, error) {
	if err := s.Validate(req); err != nil {
		return nil, err
	}

	since := req.Since.Unix()
	var users []int64
	if req.Username != "" {
		user, err := s.users.FindByUsername(ctx, req.Username)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
			}
			return nil, appErrors.Internal(err, "failed to load user")
		}
		users = []int64{user.ID}
	} else {
		ids, err := s.platform.ListStudentsEnrolledSince(ctx, req.CategoryID, since)
		if err != nil {
			return nil, appErrors.Internal(err, "failed to list enrolled students")
		}
		if len(ids) == 0 {
			return &RevertResult{Reverted: false, Users: []int64{}}, nil
		}
		users = ids
	}

	result := &RevertResult{Users: users}
	for _, userID := range users {
		if err := s.revertUser(ctx, req.CategoryID, userID, since, result); err != nil {
			return nil, appErrors.Internal(err, fmt.Sprintf("failed to revert user %d", userID))
		}
	}
	result.Reverted = true

	s.logger.Sugar().Infow("revert completed",
		"category_id", req.CategoryID,
		"since", req.Since,
		"users", len(users),
		"events_deleted", result.EventsDeleted,
		"messages_deleted", result.MessagesDeleted,
		"masters_deleted", result.MastersDeleted,
		"enrolments_created", result.EnrolmentsCreated,
	)
	return result, nil
}

func (s *RevertService) revertUser(ctx context.Context, categoryID, userID, since int64, result *RevertResult) error {
	raw, err := s.platform.ListStudentEnrolmentsForUser(ctx, categoryID, userID)
	if err != nil {
		return err
	}

	return withTx(ctx, s.tx, func(exec sqlx.ExtContext) error {
		events, err := s.calendar.DeleteUserEventsSince(ctx, exec, userID, CourseEventPrefix, since)
		if err != nil {
			return err
		}
		messages, err := s.messages.DeleteForUser(ctx, exec, categoryID, strconv.FormatInt(userID, 10))
		if err != nil {
			return err
		}
		masters, err := s.masters.DeleteByCategoryUser(ctx, exec, categoryID, userID)
		if err != nil {
			return err
		}
		enrolments, err := s.enrolments.DeleteByCategoryUser(ctx, exec, categoryID, userID)
		if err != nil {
			return err
		}
		for _, row := range raw {
			enrolment := NormalizeEnrolment(row)
			if err := s.enrolments.Create(ctx, exec, &enrolment); err != nil {
				return err
			}
		}

		result.EventsDeleted += events
		result.MessagesDeleted += messages
		result.MastersDeleted += masters
		result.EnrolmentsDeleted += enrolments
		result.EnrolmentsCreated += int64(len(raw))
		return nil
	})
}
