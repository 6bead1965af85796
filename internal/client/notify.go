package client

import (
	"fmt"
	"sync"
	"time"
)

// NotificationKind classifies a notification.
type NotificationKind string

const (
	NotifyVoteCast    NotificationKind = "vote_cast"
	NotifyCreated     NotificationKind = "poll_created"
	NotifyDeactivated NotificationKind = "poll_deactivated"
	NotifyDeleted     NotificationKind = "poll_deleted"
	NotifyVoteFailed  NotificationKind = "vote_failed"
	NotifyReconnected NotificationKind = "reconnected"
)

// Notification is an ephemeral event for display. It is never used as poll
// state.
type Notification struct {
	Kind    NotificationKind
	PollID  string
	Message string
	At      time.Time
}

func (n Notification) String() string {
	return fmt.Sprintf("[%s] %s", n.Kind, n.Message)
}

// Feed is a bounded queue of notifications awaiting display. When full, the
// oldest notification is dropped.
type Feed struct {
	mu      sync.Mutex
	items   []Notification
	limit   int
	dropped int
	now     func() time.Time
	signal  chan struct{}
}

// NewFeed creates a feed holding at most limit notifications.
func NewFeed(limit int) *Feed {
	if limit <= 0 {
		limit = 32
	}
	return &Feed{limit: limit, now: time.Now, signal: make(chan struct{}, 1)}
}

// Push appends a notification.
func (f *Feed) Push(kind NotificationKind, pollID, message string) {
	f.mu.Lock()
	if len(f.items) == f.limit {
		f.items = f.items[1:]
		f.dropped++
	}
	f.items = append(f.items, Notification{Kind: kind, PollID: pollID, Message: message, At: f.now()})
	f.mu.Unlock()

	select {
	case f.signal <- struct{}{}:
	default:
	}
}

// Drain returns and discards all pending notifications, oldest first.
func (f *Feed) Drain() []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.items
	f.items = nil
	return out
}

// Ready is signalled after a Push. One signal may cover several pushes.
func (f *Feed) Ready() <-chan struct{} {
	return f.signal
}

// Dropped reports how many notifications were discarded unseen.
func (f *Feed) Dropped() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dropped
}
