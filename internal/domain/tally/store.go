package tally

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rpggio/pollit/internal/domain/guard"
	"github.com/rpggio/pollit/internal/domain/poll"
	"github.com/rpggio/pollit/internal/repository"
)

// Outcome describes how an applied vote changed the tally.
type Outcome struct {
	Verdict  guard.Verdict
	Record   poll.VoteRecord
	Previous []string
}

// Store owns the authoritative vote counters. Every read-check-write on a
// poll runs under that poll's lock, so votes on one poll are linearized while
// different polls proceed independently.
type Store struct {
	repo       Repository
	authorizer Authorizer
	locks      *keyedMutex
	logger     *slog.Logger
	tracer     trace.Tracer
	now        func() time.Time
}

// NewStore creates a tally store.
func NewStore(repo Repository, authorizer Authorizer, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{
		repo:       repo,
		authorizer: authorizer,
		locks:      newKeyedMutex(),
		logger:     logger,
		tracer:     otel.Tracer("github.com/rpggio/pollit/internal/domain/tally"),
		now:        time.Now,
	}
}

// ApplyVote authorizes and applies a vote, returning the updated poll.
// Nothing is written unless every check passes.
func (s *Store) ApplyVote(ctx context.Context, pollID, voterID string, optionIDs []string) (*poll.Poll, Outcome, error) {
	ctx, span := s.tracer.Start(ctx, "tally.ApplyVote", trace.WithAttributes(
		attribute.String("poll.id", pollID),
		attribute.Int("vote.options", len(optionIDs)),
	))
	defer span.End()

	updated, outcome, err := s.apply(ctx, pollID, voterID, optionIDs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, Outcome{}, err
	}
	span.SetAttributes(attribute.Int64("poll.version", updated.Version))
	return updated, outcome, nil
}

func (s *Store) apply(ctx context.Context, pollID, voterID string, optionIDs []string) (*poll.Poll, Outcome, error) {
	unlock := s.locks.Lock(pollID)
	defer unlock()

	current, err := s.repo.GetPoll(ctx, pollID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, Outcome{}, poll.ErrPollNotFound
	}
	if err != nil {
		return nil, Outcome{}, fmt.Errorf("loading poll: %w: %w", poll.ErrTransientStorage, err)
	}
	if !current.IsActive {
		return nil, Outcome{}, poll.ErrPollInactive
	}
	if err := poll.ValidateSelection(current, optionIDs); err != nil {
		return nil, Outcome{}, err
	}

	decision, err := s.authorizer.Authorize(ctx, pollID, voterID)
	if err != nil {
		return nil, Outcome{}, fmt.Errorf("authorizing vote: %w: %w", poll.ErrTransientStorage, err)
	}
	if err := decision.Err(); err != nil {
		return nil, Outcome{}, err
	}

	now := s.now().UTC()
	commit := Commit{
		PollID:          pollID,
		ExpectedVersion: current.Version,
		NewVersion:      current.Version + 1,
		Deltas:          make(map[string]int64, len(optionIDs)),
		Record: poll.VoteRecord{
			PollID:    pollID,
			VoterID:   voterID,
			OptionIDs: append([]string(nil), optionIDs...),
			CreatedAt: now,
			UpdatedAt: now,
		},
		At: now,
	}
	outcome := Outcome{Verdict: decision.Verdict, Record: commit.Record}

	if decision.Verdict == guard.Replace && decision.Previous != nil {
		prev := decision.Previous
		commit.Previous = prev
		commit.Record.CreatedAt = prev.CreatedAt
		outcome.Record.CreatedAt = prev.CreatedAt
		outcome.Previous = append([]string(nil), prev.OptionIDs...)
		for _, id := range prev.OptionIDs {
			// Ignore ids the poll no longer carries.
			if _, ok := current.OptionIndex(id); ok {
				commit.Deltas[id]--
				commit.TotalDelta--
			}
		}
	}
	for _, id := range optionIDs {
		commit.Deltas[id]++
		commit.TotalDelta++
	}

	if err := s.repo.CommitVote(ctx, commit); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return nil, Outcome{}, poll.ErrPollNotFound
		case errors.Is(err, repository.ErrDuplicate):
			return nil, Outcome{}, poll.ErrDuplicateVote
		default:
			return nil, Outcome{}, fmt.Errorf("committing vote: %w: %w", poll.ErrTransientStorage, err)
		}
	}

	updated := current.Clone()
	for i := range updated.Options {
		updated.Options[i].Votes += commit.Deltas[updated.Options[i].ID]
	}
	updated.Version = commit.NewVersion
	updated.UpdatedAt = now
	updated.UserVote = nil
	updated.Recount()

	s.logger.Info("vote applied",
		"poll_id", pollID,
		"voter_id", voterID,
		"verdict", decision.Verdict.String(),
		"version", updated.Version,
		"total_votes", updated.TotalVotes,
	)
	return updated, outcome, nil
}
