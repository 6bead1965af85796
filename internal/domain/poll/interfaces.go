package poll

import (
	"context"
	"time"
)

// Repository provides persistence for poll documents.
type Repository interface {
	Create(ctx context.Context, p *Poll) error
	Get(ctx context.Context, id string) (*Poll, error)
	List(ctx context.Context, opts ListOptions) ([]Summary, error)
	SetActive(ctx context.Context, id string, active bool, expectedVersion int64, at time.Time) error
	Delete(ctx context.Context, id string) error
}

// VoteRecordReader looks up a voter's recorded selection.
type VoteRecordReader interface {
	GetVoteRecord(ctx context.Context, pollID, voterID string) (*VoteRecord, error)
}

// Publisher fans poll changes out to connected clients.
type Publisher interface {
	Publish(ctx context.Context, p *Poll)
	PublishLifecycle(ctx context.Context, ev LifecycleEvent)
}

// ListOptions filters poll listings.
type ListOptions struct {
	CreatedBy  string
	ActiveOnly bool
	Limit      int
	Offset     int
}
