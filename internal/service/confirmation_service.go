package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/sma-program-sync/pkg/errors"
)

const confirmationKeyPrefix = "program-sync:revert:confirmation:"

type confirmationStore interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Take(ctx context.Context, key string, dest interface{}) error
}

type revertRunner interface {
	Validate(req RevertRequest) error
	Revert(ctx context.Context, req RevertRequest) (*RevertResult, error)
}

// RevertConfirmation is a pending revert awaiting its second step.
type RevertConfirmation struct {
	Token       string        `json:"token"`
	Request     RevertRequest `json:"request"`
	RequestedBy int64         `json:"requested_by"`
	ExpiresAt   time.Time     `json:"expires_at"`
}

// ConfirmationService gates reverts behind a one-time token.
type ConfirmationService struct {
	store  confirmationStore
	revert revertRunner
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger
}

// NewConfirmationService constructs the service.
func NewConfirmationService(store confirmationStore, revert revertRunner, ttl time.Duration, logger *zap.Logger) *ConfirmationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &ConfirmationService{store: store, revert: revert, ttl: ttl, now: time.Now, logger: logger}
}

// Request validates the revert and issues a confirmation token bound to the actor.
func (s *ConfirmationService) Request(ctx context.Context, req RevertRequest, actorID int64) (*RevertConfirmation, error) {
	if err := s.revert.Validate(req); err != nil {
		return nil, err
	}
	confirmation := &RevertConfirmation{
		Token:       uuid.NewString(),
		Request:     req,
		RequestedBy: actorID,
		ExpiresAt:   s.now().UTC().Add(s.ttl),
	}
	if err := s.store.Set(ctx, confirmationKeyPrefix+confirmation.Token, confirmation, s.ttl); err != nil {
		return nil, appErrors.Internal(err, "failed to store confirmation")
	}
	s.logger.Sugar().Infow("revert confirmation issued", "category_id", req.CategoryID, "username", req.Username, "actor_id", actorID)
	return confirmation, nil
}

// Execute consumes the token and runs the confirmed revert. Tokens are single use and
// only valid for the actor that requested them.
func (s *ConfirmationService) Execute(ctx context.Context, token string, actorID int64) (*RevertResult, error) {
	if token == "" {
		return nil, appErrors.Clone(appErrors.ErrConfirmationInvalid, "confirmation token is required")
	}

	var confirmation RevertConfirmation
	if err := s.store.Take(ctx, confirmationKeyPrefix+token, &confirmation); err != nil {
		if errors.Is(err, appErrors.ErrCacheMiss) {
			return nil, appErrors.ErrConfirmationInvalid
		}
		return nil, appErrors.Internal(err, "failed to load confirmation")
	}
	if confirmation.RequestedBy != actorID {
		return nil, appErrors.Clone(appErrors.ErrConfirmationInvalid, "confirmation token belongs to another user")
	}

	s.logger.Sugar().Infow("revert confirmed", "category_id", confirmation.Request.CategoryID, "username", confirmation.Request.Username, "actor_id", actorID)
	return s.revert.Revert(ctx, confirmation.Request)
}
