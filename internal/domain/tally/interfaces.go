package tally

import (
	"context"
	"time"

	"github.com/rpggio/pollit/internal/domain/guard"
	"github.com/rpggio/pollit/internal/domain/poll"
)

// Repository persists tally mutations.
type Repository interface {
	GetPoll(ctx context.Context, pollID string) (*poll.Poll, error)
	// CommitVote writes the vote record, option deltas and version bump in
	// one transaction. It returns repository.ErrConflict when the poll's
	// version no longer equals ExpectedVersion and repository.ErrDuplicate
	// when a new record collides with an existing one.
	CommitVote(ctx context.Context, c Commit) error
}

// Authorizer decides whether a voter may vote on a poll.
type Authorizer interface {
	Authorize(ctx context.Context, pollID, voterID string) (guard.Decision, error)
}

// Commit is one atomic tally mutation.
type Commit struct {
	PollID          string
	ExpectedVersion int64
	NewVersion      int64
	Deltas          map[string]int64
	TotalDelta      int64
	Record          poll.VoteRecord
	// Previous is the record being overwritten, nil for a first vote.
	Previous *poll.VoteRecord
	At       time.Time
}
