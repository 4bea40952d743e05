package dto

import "time"

// RevertConfirmationRequest is the first step of a revert. Since accepts RFC 3339 or a
// plain 2006-01-02 date read in the sync time zone.
type RevertConfirmationRequest struct {
	CategoryID int64  `json:"category_id" binding:"required,gt=0"`
	Since      string `json:"since" binding:"required"`
	Username   string `json:"username,omitempty" binding:"omitempty,max=100"`
}

// RevertConfirmationResponse carries the token that authorises the second step.
type RevertConfirmationResponse struct {
	Token      string    `json:"token"`
	CategoryID int64     `json:"category_id"`
	Since      time.Time `json:"since"`
	Username   string    `json:"username,omitempty"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// RevertExecuteRequest confirms a pending revert.
type RevertExecuteRequest struct {
	Token string `json:"token" binding:"required"`
}
