package dto

import (
	"time"

	"github.com/noah-isme/sma-program-sync/internal/models"
)

// Operator describes the admin API session behind the current token.
type Operator struct {
	UserID    int64           `json:"user_id"`
	Username  string          `json:"username"`
	Role      models.UserRole `json:"role"`
	CanRevert bool            `json:"can_revert"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
}
