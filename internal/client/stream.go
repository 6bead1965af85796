package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/net/websocket"

	"github.com/rpggio/pollit/internal/realtime"
)

// ErrNotConnected indicates a send while the stream has no live connection.
var ErrNotConnected = errors.New("stream not connected")

// StreamOptions configures the push stream.
type StreamOptions struct {
	// URL is the websocket endpoint, e.g. ws://localhost:8080/ws.
	URL    string
	Origin string
	Token  string
	// RetryInitial and RetryMax bound the reconnect backoff.
	RetryInitial time.Duration
	RetryMax     time.Duration
	// GiveUpAfter stops reconnecting after this long without a connection.
	// Zero retries until the context ends.
	GiveUpAfter time.Duration
}

// Stream is a reconnecting push-channel connection. Polls registered with
// Watch are joined again after every reconnect.
type Stream struct {
	opts   StreamOptions
	logger *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	watched map[string]struct{}
}

// NewStream creates a stream; call Run to connect.
func NewStream(opts StreamOptions, logger *slog.Logger) *Stream {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if opts.Origin == "" {
		opts.Origin = "http://localhost/"
	}
	if opts.RetryInitial <= 0 {
		opts.RetryInitial = 250 * time.Millisecond
	}
	if opts.RetryMax < opts.RetryInitial {
		opts.RetryMax = 10 * time.Second
	}
	return &Stream{opts: opts, logger: logger, watched: make(map[string]struct{})}
}

// Watch joins a poll's room now if connected, and on every reconnect.
func (s *Stream) Watch(pollID string) {
	s.mu.Lock()
	s.watched[pollID] = struct{}{}
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		_ = s.send(realtime.FrameJoin, pollID)
	}
}

// Unwatch leaves a poll's room.
func (s *Stream) Unwatch(pollID string) {
	s.mu.Lock()
	delete(s.watched, pollID)
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		_ = s.send(realtime.FrameLeave, pollID)
	}
}

// Connected reports whether a connection is live.
func (s *Stream) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Run connects and dispatches frames to handle until ctx ends or reconnects
// are exhausted. onConnect runs after each successful connect, once the
// watched polls have been joined; it is the place to re-fetch snapshots.
func (s *Stream) Run(ctx context.Context, onConnect func(context.Context) error, handle func(realtime.Frame)) error {
	for {
		conn, err := s.connect(ctx)
		if err != nil {
			return err
		}

		s.mu.Lock()
		s.conn = conn
		watched := make([]string, 0, len(s.watched))
		for id := range s.watched {
			watched = append(watched, id)
		}
		s.mu.Unlock()

		for _, id := range watched {
			if err := s.send(realtime.FrameJoin, id); err != nil {
				s.logger.Warn("failed to rejoin poll", "poll_id", id, "error", err)
			}
		}
		if onConnect != nil {
			if err := onConnect(ctx); err != nil {
				s.logger.Warn("resync after connect failed", "error", err)
			}
		}

		err = s.readLoop(ctx, conn, handle)

		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		_ = conn.Close()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Info("push stream lost, reconnecting", "error", err)
	}
}

func (s *Stream) connect(ctx context.Context) (*websocket.Conn, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.RetryInitial
	b.MaxInterval = s.opts.RetryMax

	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithNotify(func(err error, wait time.Duration) {
			s.logger.Debug("push stream dial failed", "error", err, "retry_in", wait)
		}),
		backoff.WithMaxElapsedTime(s.opts.GiveUpAfter),
	}
	conn, err := backoff.Retry(ctx, func() (*websocket.Conn, error) {
		return s.dial(ctx)
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting push stream: %w", err)
	}
	s.logger.Debug("push stream connected", "url", s.opts.URL)
	return conn, nil
}

func (s *Stream) dial(ctx context.Context) (*websocket.Conn, error) {
	cfg, err := websocket.NewConfig(s.opts.URL, s.opts.Origin)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	if s.opts.Token != "" {
		cfg.Header.Set("Authorization", "Bearer "+s.opts.Token)
	}
	return cfg.DialContext(ctx)
}

func (s *Stream) readLoop(ctx context.Context, conn *websocket.Conn, handle func(realtime.Frame)) error {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		var frame realtime.Frame
		if err := websocket.JSON.Receive(conn, &frame); err != nil {
			return err
		}
		if frame.Type == realtime.FrameHeartbeat {
			continue
		}
		handle(frame)
	}
}

func (s *Stream) send(typ, pollID string) error {
	payload, err := json.Marshal(realtime.PollRef{PollID: pollID})
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ErrNotConnected
	}
	return websocket.JSON.Send(s.conn, realtime.Frame{Type: typ, Payload: payload})
}
