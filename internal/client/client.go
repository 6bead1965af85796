// Package client is the voter-side half of pollit: it keeps a local view of
// watched polls in step with the server through snapshot fetches, optimistic
// votes and pushed updates.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/rpggio/pollit/internal/domain/poll"
	"github.com/rpggio/pollit/internal/realtime"
)

// Config configures a Client.
type Config struct {
	// BaseURL is the REST root, e.g. http://localhost:8080.
	BaseURL string
	// StreamURL is the websocket endpoint, e.g. ws://localhost:8080/ws.
	StreamURL  string
	Token      string
	HTTPClient *http.Client
	Stream     StreamOptions
	FeedSize   int

	// AllowRevote mirrors a server running the replace resubmission policy.
	AllowRevote bool
}

// Client ties the REST API, the push stream and the reconciler together.
type Client struct {
	api    *API
	stream *Stream
	rec    *Reconciler
	feed   *Feed
	logger *slog.Logger

	mu      sync.Mutex
	viewers map[string]int
	changed chan string
}

// New creates a client.
func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	streamOpts := cfg.Stream
	streamOpts.URL = cfg.StreamURL
	streamOpts.Token = cfg.Token
	rec := NewReconciler(logger)
	rec.AllowRevotes(cfg.AllowRevote)
	return &Client{
		api:     NewAPI(cfg.BaseURL, cfg.Token, cfg.HTTPClient),
		stream:  NewStream(streamOpts, logger),
		rec:     rec,
		feed:    NewFeed(cfg.FeedSize),
		logger:  logger,
		viewers: make(map[string]int),
		changed: make(chan string, 64),
	}
}

// API returns the REST client.
func (c *Client) API() *API { return c.api }

// Reconciler exposes the view state machine.
func (c *Client) Reconciler() *Reconciler { return c.rec }

// Notifications returns the notification feed.
func (c *Client) Notifications() *Feed { return c.feed }

// Changed delivers the id of a poll whose view changed. Signals are dropped
// when the reader falls behind; View always returns the latest state.
func (c *Client) Changed() <-chan string { return c.changed }

// View returns the displayed state of a poll.
func (c *Client) View(pollID string) (View, bool) { return c.rec.View(pollID) }

// Viewers returns the last reported viewer count for a poll.
func (c *Client) Viewers(pollID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewers[pollID]
}

// Open starts watching a poll and loads its snapshot.
func (c *Client) Open(ctx context.Context, pollID string) (View, error) {
	c.stream.Watch(pollID)
	p, err := c.api.GetPoll(ctx, pollID)
	if err != nil {
		return View{}, fmt.Errorf("loading poll: %w", err)
	}
	v := c.rec.SnapshotLoaded(p)
	c.notifyChanged(pollID)
	return v, nil
}

// Close stops watching a poll and drops its view.
func (c *Client) Close(pollID string) {
	c.stream.Unwatch(pollID)
	c.rec.Forget(pollID)
}

// Vote shows the vote immediately, submits it, and settles the view from the
// server's answer. On failure the view is rolled back.
func (c *Client) Vote(ctx context.Context, pollID string, optionIDs []string) (View, error) {
	if _, err := c.rec.OptimisticVoteApplied(pollID, optionIDs); err != nil {
		return View{}, err
	}
	c.notifyChanged(pollID)

	p, err := c.api.Vote(ctx, pollID, optionIDs)
	if err != nil {
		v := c.rec.VoteFailed(pollID, err)
		c.feed.Push(NotifyVoteFailed, pollID, voteFailureMessage(err))
		c.notifyChanged(pollID)
		if outcomeUnknown(err) {
			// The server may hold a vote this view does not know about.
			if resynced, rerr := c.refresh(ctx, pollID); rerr == nil {
				v = resynced
			}
		}
		return v, err
	}

	v := c.rec.VoteConfirmed(p)
	c.notifyChanged(pollID)
	return v, nil
}

// Run keeps the push stream connected until ctx ends. Each reconnect
// re-fetches every watched poll's snapshot.
func (c *Client) Run(ctx context.Context) error {
	first := true
	return c.stream.Run(ctx, func(ctx context.Context) error {
		if !first {
			c.feed.Push(NotifyReconnected, "", "reconnected, refreshing polls")
		}
		first = false
		return c.resync(ctx)
	}, c.handleFrame)
}

func (c *Client) resync(ctx context.Context) error {
	var errs []error
	for _, id := range c.rec.Tracked() {
		if _, err := c.refresh(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Client) refresh(ctx context.Context, pollID string) (View, error) {
	p, err := c.api.GetPoll(ctx, pollID)
	if errors.Is(err, poll.ErrPollNotFound) {
		c.Close(pollID)
		c.notifyChanged(pollID)
		return View{}, err
	}
	if err != nil {
		return View{}, fmt.Errorf("refreshing poll %s: %w", pollID, err)
	}
	v := c.rec.SnapshotLoaded(p)
	c.notifyChanged(pollID)
	return v, nil
}

func (c *Client) handleFrame(f realtime.Frame) {
	switch f.Type {
	case realtime.FrameUpdate, realtime.FrameDeactivated:
		var p poll.Poll
		if !c.decode(f, &p) {
			return
		}
		c.rec.AuthoritativeUpdateReceived(&p)
		c.notifyChanged(p.ID)
		if f.Type == realtime.FrameDeactivated {
			c.feed.Push(NotifyDeactivated, p.ID, fmt.Sprintf("%q is closed", p.Title))
		}
	case realtime.FrameSnapshot:
		var p poll.Poll
		if !c.decode(f, &p) {
			return
		}
		c.rec.SnapshotLoaded(&p)
		c.notifyChanged(p.ID)
	case realtime.FrameCreated:
		var p poll.Poll
		if c.decode(f, &p) {
			c.feed.Push(NotifyCreated, p.ID, fmt.Sprintf("new poll %q", p.Title))
		}
	case realtime.FrameDeleted:
		var ref realtime.PollRef
		if !c.decode(f, &ref) {
			return
		}
		if _, tracked := c.rec.View(ref.PollID); tracked {
			c.Close(ref.PollID)
			c.feed.Push(NotifyDeleted, ref.PollID, "a poll you were watching was deleted")
			c.notifyChanged(ref.PollID)
		}
	case realtime.FrameVoteCast:
		var vc realtime.VoteCast
		if c.decode(f, &vc) && vc.Poll != nil {
			c.feed.Push(NotifyVoteCast, vc.Poll.ID, fmt.Sprintf("someone voted on %q", vc.Poll.Title))
		}
	case realtime.FrameJoined, realtime.FrameUserJoined, realtime.FrameUserLeft:
		var pr realtime.Presence
		if !c.decode(f, &pr) {
			return
		}
		c.mu.Lock()
		c.viewers[pr.PollID] = pr.Viewers
		c.mu.Unlock()
		c.notifyChanged(pr.PollID)
	case realtime.FrameError:
		var ep realtime.ErrorPayload
		if c.decode(f, &ep) {
			c.logger.Warn("push stream error", "code", ep.Code, "message", ep.Message)
		}
	}
}

func (c *Client) decode(f realtime.Frame, v any) bool {
	if err := json.Unmarshal(f.Payload, v); err != nil {
		c.logger.Warn("bad push payload", "type", f.Type, "error", err)
		return false
	}
	return true
}

func (c *Client) notifyChanged(pollID string) {
	select {
	case c.changed <- pollID:
	default:
	}
}

// outcomeUnknown reports whether a failed vote may still have been counted,
// or was refused because of a vote the view has not seen.
func outcomeUnknown(err error) bool {
	var remote *RemoteError
	if !errors.As(err, &remote) {
		return true
	}
	return errors.Is(err, poll.ErrDuplicateVote) || errors.Is(err, poll.ErrTransientStorage)
}

func voteFailureMessage(err error) string {
	switch {
	case errors.Is(err, poll.ErrDuplicateVote):
		return "already voted: your earlier vote is counted"
	case errors.Is(err, poll.ErrPollInactive):
		return "poll closed: it no longer accepts votes"
	case errors.Is(err, poll.ErrTransientStorage):
		return "transient error, try again"
	case errors.Is(err, poll.ErrNotEligible):
		return "sign in to vote"
	default:
		return fmt.Sprintf("vote failed: %v", err)
	}
}
