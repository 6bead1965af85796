package mcp

import (
	"errors"
	"fmt"

	"github.com/rpggio/pollit/internal/domain/poll"
)

// APIError represents an MCP error response.
type APIError struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	Retryable    bool   `json:"retryable,omitempty"`
	RecoveryHint string `json:"recovery_hint,omitempty"`
}

func (e *APIError) Error() string {
	if e.RecoveryHint == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.RecoveryHint)
}

// MapError maps domain errors to MCP error codes. Unknown errors return nil.
func MapError(err error) *APIError {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, poll.ErrPollNotFound):
		return &APIError{Code: "POLL_NOT_FOUND", Message: "poll not found", RecoveryHint: "Call list_polls for valid ids"}
	case errors.Is(err, poll.ErrPollInactive):
		return &APIError{Code: "POLL_INACTIVE", Message: "poll closed", RecoveryHint: "The poll no longer accepts votes"}
	case errors.Is(err, poll.ErrDuplicateVote):
		return &APIError{Code: "DUPLICATE_VOTE", Message: "already voted", RecoveryHint: "Your earlier vote is counted; do not retry"}
	case errors.Is(err, poll.ErrInvalidOption):
		return &APIError{Code: "INVALID_OPTION", Message: "unknown option id", RecoveryHint: "Call get_poll for the poll's option ids"}
	case errors.Is(err, poll.ErrInvalidSelectionCount):
		return &APIError{Code: "INVALID_SELECTION_COUNT", Message: "invalid number of options", RecoveryHint: "Pick one option unless allowMultiple is true"}
	case errors.Is(err, poll.ErrInvalidInput):
		return &APIError{Code: "INVALID_ARGUMENT", Message: err.Error()}
	case errors.Is(err, poll.ErrNotEligible):
		return &APIError{Code: "NOT_ELIGIBLE", Message: "voter identity required", RecoveryHint: "Send a bearer token"}
	case errors.Is(err, poll.ErrTransientStorage):
		return &APIError{Code: "TRANSIENT_STORAGE", Message: "transient error", Retryable: true, RecoveryHint: "Try again"}
	default:
		return nil
	}
}
