package poll

import "errors"

var (
	// ErrPollNotFound indicates the poll doesn't exist.
	ErrPollNotFound = errors.New("poll not found")
	// ErrPollInactive indicates the poll is closed to voting.
	ErrPollInactive = errors.New("poll is closed to voting")
	// ErrInvalidOption indicates an option id that does not belong to the poll.
	ErrInvalidOption = errors.New("invalid option")
	// ErrInvalidSelectionCount indicates zero options, several options on a
	// single-choice poll, or duplicate option ids.
	ErrInvalidSelectionCount = errors.New("invalid selection count")
	// ErrDuplicateVote indicates the voter already has an effective vote on the poll.
	ErrDuplicateVote = errors.New("voter has already voted on this poll")
	// ErrNotEligible indicates a missing or unauthenticated voter identity.
	ErrNotEligible = errors.New("voter is not eligible")
	// ErrTransientStorage indicates a storage failure that may succeed on retry.
	ErrTransientStorage = errors.New("transient storage failure")
	// ErrConnectionLost indicates a push could not be delivered to a connection.
	ErrConnectionLost = errors.New("connection lost")
	// ErrForbidden indicates the actor may not administer the poll.
	ErrForbidden = errors.New("only the poll creator may do this")
	// ErrInvalidInput indicates invalid input for poll administration.
	ErrInvalidInput = errors.New("invalid poll input")
)

// IsValidation reports whether err is a caller mistake that must not be retried.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidOption) ||
		errors.Is(err, ErrInvalidSelectionCount) ||
		errors.Is(err, ErrInvalidInput)
}
