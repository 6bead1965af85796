package transport

import (
	"errors"
	"net/http"

	"github.com/rpggio/pollit/internal/domain/poll"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

type errorMapping struct {
	target    error
	status    int
	code      string
	message   string
	retryable bool
}

// Order matters: the first matching sentinel wins.
var errorMappings = []errorMapping{
	{poll.ErrPollNotFound, http.StatusNotFound, "POLL_NOT_FOUND", "poll not found", false},
	{poll.ErrPollInactive, http.StatusConflict, "POLL_INACTIVE", "poll closed: it no longer accepts votes", false},
	{poll.ErrDuplicateVote, http.StatusConflict, "DUPLICATE_VOTE", "already voted: your vote on this poll is already counted", false},
	{poll.ErrInvalidOption, http.StatusBadRequest, "INVALID_OPTION", "one or more options do not belong to this poll", false},
	{poll.ErrInvalidSelectionCount, http.StatusBadRequest, "INVALID_SELECTION_COUNT", "select exactly one option, or several distinct options on a multiple-choice poll", false},
	{poll.ErrInvalidInput, http.StatusBadRequest, "INVALID_ARGUMENT", "", false},
	{poll.ErrNotEligible, http.StatusUnauthorized, "NOT_ELIGIBLE", "sign in to continue", false},
	{poll.ErrForbidden, http.StatusForbidden, "FORBIDDEN", "only the poll creator can do this", false},
	{poll.ErrTransientStorage, http.StatusServiceUnavailable, "TRANSIENT_STORAGE", "transient error, try again", true},
}

// StatusFor maps an error to its HTTP status, code and body.
func StatusFor(err error) (int, ErrorBody) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			msg := m.message
			if msg == "" {
				msg = err.Error()
			}
			return m.status, ErrorBody{Error: m.code, Message: msg, Retryable: m.retryable}
		}
	}
	return http.StatusInternalServerError, ErrorBody{Error: "INTERNAL", Message: "internal error"}
}

// WriteError writes err as a JSON error response.
func WriteError(w http.ResponseWriter, err error) {
	status, body := StatusFor(err)
	JSONResponse(w, status, body)
}

// BadRequest writes a 400 response with a caller-facing message.
func BadRequest(w http.ResponseWriter, message string) {
	JSONResponse(w, http.StatusBadRequest, ErrorBody{Error: "INVALID_ARGUMENT", Message: message})
}
