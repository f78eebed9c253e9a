package handler

import (
	"github.com/google/uuid"
)

// StartConversationRequest opens (or returns) the conversation with another
// user, optionally scoped to a job listing.
type StartConversationRequest struct {
	OtherUserID  uuid.UUID  `json:"otherUserId" binding:"required"`
	JobListingID *uuid.UUID `json:"jobListingId,omitempty"`
}

// AutoCloseRequest arms the auto-close timer. AfterHours falls back to the
// configured default when omitted.
type AutoCloseRequest struct {
	AfterHours int    `json:"afterHours,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// DelayAutoCloseRequest pushes an armed auto-close deadline out
type DelayAutoCloseRequest struct {
	ByHours int `json:"byHours" binding:"required,min=1"`
}
