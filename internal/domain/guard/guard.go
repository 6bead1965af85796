package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rpggio/pollit/internal/domain/poll"
	"github.com/rpggio/pollit/internal/repository"
)

// RecordReader looks up existing vote records.
type RecordReader interface {
	GetVoteRecord(ctx context.Context, pollID, voterID string) (*poll.VoteRecord, error)
}

// Guard enforces one effective vote per voter per poll.
//
// Guard holds no locks of its own: callers compose Authorize with the tally
// mutation inside the per-poll critical section so that two submissions from
// the same voter cannot both pass the check.
type Guard struct {
	records RecordReader
	policy  Policy
	logger  *slog.Logger
}

// New creates a guard.
func New(records RecordReader, policy Policy, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if policy == "" {
		policy = PolicyReject
	}
	return &Guard{records: records, policy: policy, logger: logger}
}

// Policy returns the configured resubmission policy.
func (g *Guard) Policy() Policy {
	return g.policy
}

// Authorize decides whether voterID may vote on pollID. The returned error is
// reserved for lookup failures; rejections are reported through the Decision.
func (g *Guard) Authorize(ctx context.Context, pollID, voterID string) (Decision, error) {
	if strings.TrimSpace(voterID) == "" {
		return Decision{Verdict: Reject, Reason: poll.ErrNotEligible}, nil
	}

	prev, err := g.records.GetVoteRecord(ctx, pollID, voterID)
	if errors.Is(err, repository.ErrNotFound) {
		return Decision{Verdict: Accept}, nil
	}
	if err != nil {
		return Decision{}, fmt.Errorf("looking up vote record: %w", err)
	}

	if g.policy == PolicyReplace {
		return Decision{Verdict: Replace, Previous: prev}, nil
	}
	g.logger.Debug("duplicate vote rejected", "poll_id", pollID, "voter_id", voterID)
	return Decision{Verdict: Reject, Reason: poll.ErrDuplicateVote}, nil
}
