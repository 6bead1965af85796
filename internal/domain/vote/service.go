package vote

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rpggio/pollit/internal/domain/poll"
	"github.com/rpggio/pollit/internal/domain/tally"
)

// Applier applies a vote to the authoritative tally.
type Applier interface {
	ApplyVote(ctx context.Context, pollID, voterID string, optionIDs []string) (*poll.Poll, tally.Outcome, error)
}

// Publisher pushes applied votes to connected clients.
type Publisher interface {
	Publish(ctx context.Context, p *poll.Poll)
	PublishVoteCast(ctx context.Context, p *poll.Poll, voterID string)
}

// RetryConfig bounds retries of transient storage failures.
type RetryConfig struct {
	MaxAttempts int
	Initial     time.Duration
	Max         time.Duration
}

// DefaultRetryConfig returns the retry settings used when none are configured.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, Initial: 25 * time.Millisecond, Max: 250 * time.Millisecond}
}

// Result is a successfully applied vote.
type Result struct {
	Poll     *poll.Poll
	Outcome  tally.Outcome
	Attempts int
}

// Service is the vote submission path: guard and tally via the Applier,
// bounded retry, then fan-out.
type Service struct {
	tally     Applier
	publisher Publisher
	retry     RetryConfig
	logger    *slog.Logger
	tracer    trace.Tracer
}

// NewService creates a vote service. publisher may be nil.
func NewService(applier Applier, publisher Publisher, retry RetryConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	def := DefaultRetryConfig()
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = def.MaxAttempts
	}
	if retry.Initial <= 0 {
		retry.Initial = def.Initial
	}
	if retry.Max < retry.Initial {
		retry.Max = retry.Initial
	}
	return &Service{
		tally:     applier,
		publisher: publisher,
		retry:     retry,
		logger:    logger,
		tracer:    otel.Tracer("github.com/rpggio/pollit/internal/domain/vote"),
	}
}

// Submit applies a vote and publishes the new tally. Validation failures and
// rejections return immediately; transient storage failures are retried up to
// the configured attempt count.
func (s *Service) Submit(ctx context.Context, pollID, voterID string, optionIDs []string) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "vote.Submit", trace.WithAttributes(attribute.String("poll.id", pollID)))
	defer span.End()

	type applied struct {
		poll    *poll.Poll
		outcome tally.Outcome
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.retry.Initial
	b.MaxInterval = s.retry.Max

	// A started attempt runs to completion even if the caller goes away; a
	// committed vote stands and only the response is lost.
	detached := context.WithoutCancel(ctx)

	attempts := 0
	res, err := backoff.Retry(ctx, func() (applied, error) {
		attempts++
		p, outcome, err := s.tally.ApplyVote(detached, pollID, voterID, optionIDs)
		if err == nil {
			return applied{poll: p, outcome: outcome}, nil
		}
		if errors.Is(err, poll.ErrTransientStorage) {
			s.logger.Warn("vote attempt failed", "poll_id", pollID, "attempt", attempts, "error", err)
			return applied{}, err
		}
		return applied{}, backoff.Permanent(err)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(s.retry.MaxAttempts)))

	span.SetAttributes(attribute.Int("vote.attempts", attempts))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, poll.ErrTransientStorage) {
			s.logger.Error("vote retries exhausted", "poll_id", pollID, "attempts", attempts, "error", err)
		}
		return nil, err
	}

	if s.publisher != nil {
		s.publisher.Publish(detached, res.poll.Clone())
		s.publisher.PublishVoteCast(detached, res.poll.Clone(), voterID)
	}
	return &Result{Poll: res.poll, Outcome: res.outcome, Attempts: attempts}, nil
}
