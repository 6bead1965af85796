package mocks

import (
	"context"
	"time"

	"github.com/rpggio/pollit/internal/domain/guard"
	"github.com/rpggio/pollit/internal/domain/poll"
	"github.com/rpggio/pollit/internal/domain/tally"
	"github.com/stretchr/testify/mock"
)

// PollRepository is a mock for poll.Repository and poll.VoteRecordReader.
type PollRepository struct {
	mock.Mock
}

func (m *PollRepository) Create(ctx context.Context, p *poll.Poll) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *PollRepository) Get(ctx context.Context, id string) (*poll.Poll, error) {
	args := m.Called(ctx, id)
	if p, ok := args.Get(0).(*poll.Poll); ok {
		return p.Clone(), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *PollRepository) List(ctx context.Context, opts poll.ListOptions) ([]poll.Summary, error) {
	args := m.Called(ctx, opts)
	if list, ok := args.Get(0).([]poll.Summary); ok {
		return list, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *PollRepository) SetActive(ctx context.Context, id string, active bool, expectedVersion int64, at time.Time) error {
	args := m.Called(ctx, id, active, expectedVersion, at)
	return args.Error(0)
}

func (m *PollRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *PollRepository) GetVoteRecord(ctx context.Context, pollID, voterID string) (*poll.VoteRecord, error) {
	args := m.Called(ctx, pollID, voterID)
	if rec, ok := args.Get(0).(*poll.VoteRecord); ok {
		return rec, args.Error(1)
	}
	return nil, args.Error(1)
}

// TallyRepository is a mock for tally.Repository.
type TallyRepository struct {
	mock.Mock
}

func (m *TallyRepository) GetPoll(ctx context.Context, pollID string) (*poll.Poll, error) {
	args := m.Called(ctx, pollID)
	if p, ok := args.Get(0).(*poll.Poll); ok {
		return p.Clone(), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *TallyRepository) CommitVote(ctx context.Context, c tally.Commit) error {
	args := m.Called(ctx, c)
	return args.Error(0)
}

// Authorizer is a mock for tally.Authorizer.
type Authorizer struct {
	mock.Mock
}

func (m *Authorizer) Authorize(ctx context.Context, pollID, voterID string) (guard.Decision, error) {
	args := m.Called(ctx, pollID, voterID)
	return args.Get(0).(guard.Decision), args.Error(1)
}

// Applier is a mock for vote.Applier.
type Applier struct {
	mock.Mock
}

func (m *Applier) ApplyVote(ctx context.Context, pollID, voterID string, optionIDs []string) (*poll.Poll, tally.Outcome, error) {
	args := m.Called(ctx, pollID, voterID, optionIDs)
	p, _ := args.Get(0).(*poll.Poll)
	outcome, _ := args.Get(1).(tally.Outcome)
	return p, outcome, args.Error(2)
}

// Publisher is a mock for the poll and vote publishers.
type Publisher struct {
	mock.Mock
}

func (m *Publisher) Publish(ctx context.Context, p *poll.Poll) {
	m.Called(ctx, p)
}

func (m *Publisher) PublishLifecycle(ctx context.Context, ev poll.LifecycleEvent) {
	m.Called(ctx, ev)
}

func (m *Publisher) PublishVoteCast(ctx context.Context, p *poll.Poll, voterID string) {
	m.Called(ctx, p, voterID)
}
