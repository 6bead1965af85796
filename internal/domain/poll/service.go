package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rpggio/pollit/internal/repository"
)

const maxLifecycleAttempts = 3

// Service handles poll administration and reads.
type Service struct {
	polls     Repository
	votes     VoteRecordReader
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewService creates a new poll service. publisher may be nil.
func NewService(polls Repository, votes VoteRecordReader, publisher Publisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{
		polls:     polls,
		votes:     votes,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// CreateRequest defines poll creation inputs.
type CreateRequest struct {
	Title         string
	Description   string
	Options       []string
	AllowMultiple bool
	CreatedBy     string
}

// Create creates a new active poll with zeroed counters.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Poll, error) {
	if err := ValidateCreateInput(req); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	p := &Poll{
		ID:            uuid.NewString(),
		Title:         strings.TrimSpace(req.Title),
		Description:   strings.TrimSpace(req.Description),
		AllowMultiple: req.AllowMultiple,
		IsActive:      true,
		CreatedBy:     req.CreatedBy,
		CreatedAt:     now,
		UpdatedAt:     now,
		Version:       1,
	}
	for _, text := range req.Options {
		p.Options = append(p.Options, Option{ID: uuid.NewString(), Text: strings.TrimSpace(text)})
	}
	p.Recount()

	if err := s.polls.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("creating poll: %w", err)
	}
	s.logger.Info("poll created", "poll_id", p.ID, "created_by", p.CreatedBy, "options", len(p.Options))

	if s.publisher != nil {
		s.publisher.PublishLifecycle(ctx, LifecycleEvent{Type: EventCreated, PollID: p.ID, OwnerID: p.CreatedBy, Poll: p.Clone()})
	}
	return p, nil
}

// Get fetches a poll. When viewerID is set, the viewer's recorded selection
// is attached as UserVote.
func (s *Service) Get(ctx context.Context, id, viewerID string) (*Poll, error) {
	p, err := s.polls.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrPollNotFound
		}
		return nil, fmt.Errorf("getting poll: %w", err)
	}
	p.Recount()

	if viewerID == "" || s.votes == nil {
		return p, nil
	}
	rec, err := s.votes.GetVoteRecord(ctx, id, viewerID)
	switch {
	case err == nil:
		p.UserVote = append([]string(nil), rec.OptionIDs...)
	case errors.Is(err, repository.ErrNotFound):
	default:
		return nil, fmt.Errorf("getting vote record: %w", err)
	}
	return p, nil
}

// List returns poll summaries.
func (s *Service) List(ctx context.Context, opts ListOptions) ([]Summary, error) {
	if opts.Limit <= 0 || opts.Limit > 100 {
		opts.Limit = 50
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	list, err := s.polls.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("listing polls: %w", err)
	}
	return list, nil
}

// Deactivate closes a poll to further votes. Deactivating an inactive poll
// returns it unchanged.
func (s *Service) Deactivate(ctx context.Context, id, actorID string) (*Poll, error) {
	for attempt := 0; attempt < maxLifecycleAttempts; attempt++ {
		p, err := s.Get(ctx, id, "")
		if err != nil {
			return nil, err
		}
		if p.CreatedBy != actorID {
			return nil, ErrForbidden
		}
		if !p.IsActive {
			return p, nil
		}

		now := s.now().UTC()
		err = s.polls.SetActive(ctx, id, false, p.Version, now)
		if errors.Is(err, repository.ErrConflict) {
			s.logger.Debug("deactivate raced with a vote, retrying", "poll_id", id, "attempt", attempt+1)
			continue
		}
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrPollNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("deactivating poll: %w", err)
		}

		p.IsActive = false
		p.Version++
		p.UpdatedAt = now
		s.logger.Info("poll deactivated", "poll_id", id, "version", p.Version)
		if s.publisher != nil {
			s.publisher.Publish(ctx, p.Clone())
			s.publisher.PublishLifecycle(ctx, LifecycleEvent{Type: EventDeactivated, PollID: id, OwnerID: p.CreatedBy, Poll: p.Clone()})
		}
		return p, nil
	}
	return nil, fmt.Errorf("deactivating poll: %w", ErrTransientStorage)
}

// Delete removes a poll and its vote records.
func (s *Service) Delete(ctx context.Context, id, actorID string) error {
	p, err := s.Get(ctx, id, "")
	if err != nil {
		return err
	}
	if p.CreatedBy != actorID {
		return ErrForbidden
	}
	if err := s.polls.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrPollNotFound
		}
		return fmt.Errorf("deleting poll: %w", err)
	}
	s.logger.Info("poll deleted", "poll_id", id)
	if s.publisher != nil {
		s.publisher.PublishLifecycle(ctx, LifecycleEvent{Type: EventDeleted, PollID: id, OwnerID: p.CreatedBy})
	}
	return nil
}
