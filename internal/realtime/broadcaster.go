package realtime

import (
	"context"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/rpggio/pollit/internal/domain/poll"
)

// Broadcaster fans poll state out to subscribed connections.
//
// Publishes for one poll are serialized by a per-room lock and enqueued to
// every member before the next publish starts, so each connection observes
// that poll's updates in publish order. A snapshot older than the last one
// published for the room is dropped.
//
// Room state lives only while the room has viewers or a publish is in flight.
// A joiner always starts from a fresh snapshot, so forgetting the last
// version of an empty room only lets through updates the client ignores.
type Broadcaster struct {
	registry *Registry
	logger   *slog.Logger
	tracer   trace.Tracer

	mu    sync.Mutex
	rooms map[string]*roomState
}

type roomState struct {
	mu          sync.Mutex
	lastVersion int64
	// refs counts publishes holding the state; guarded by Broadcaster.mu.
	refs int
}

// NewBroadcaster creates a broadcaster over registry.
func NewBroadcaster(registry *Registry, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Broadcaster{
		registry: registry,
		logger:   logger,
		tracer:   otel.Tracer("github.com/rpggio/pollit/internal/realtime"),
		rooms:    make(map[string]*roomState),
	}
}

// Registry returns the subscription registry the broadcaster delivers to.
func (b *Broadcaster) Registry() *Registry {
	return b.registry
}

// Publish sends the full poll state to every connection in the poll's room.
func (b *Broadcaster) Publish(ctx context.Context, p *poll.Poll) {
	_, span := b.tracer.Start(ctx, "realtime.Publish", trace.WithAttributes(
		attribute.String("poll.id", p.ID),
		attribute.Int64("poll.version", p.Version),
	))
	defer span.End()

	state := b.acquire(p.ID)
	defer b.release(p.ID)

	state.mu.Lock()
	if last := state.lastVersion; p.Version < last {
		state.mu.Unlock()
		b.logger.Debug("dropping stale poll update", "poll_id", p.ID, "version", p.Version, "last_version", last)
		span.SetAttributes(attribute.Bool("publish.stale", true))
		return
	}
	state.lastVersion = p.Version

	frame := newFrame(FrameUpdate, "", broadcastView(p))
	members := b.registry.MembersOf(p.ID)
	failed := deliver(members, frame)
	state.mu.Unlock()

	span.SetAttributes(attribute.Int("publish.recipients", len(members)), attribute.Int("publish.failed", len(failed)))
	b.dropAll(failed)
}

// PublishLifecycle notifies every connected client that a poll was created,
// deactivated or deleted. Deletion also dissolves the poll's room.
func (b *Broadcaster) PublishLifecycle(ctx context.Context, ev poll.LifecycleEvent) {
	var frame Frame
	switch ev.Type {
	case poll.EventDeleted:
		frame = newFrame(FrameDeleted, "", PollRef{PollID: ev.PollID})
	default:
		if ev.Poll == nil {
			b.logger.Warn("lifecycle event without poll", "type", string(ev.Type), "poll_id", ev.PollID)
			return
		}
		frame = newFrame(string(ev.Type), "", broadcastView(ev.Poll))
	}

	b.dropAll(deliver(b.registry.All(), frame))

	if ev.Type == poll.EventDeleted {
		b.registry.DropRoom(ev.PollID)
		b.prune(ev.PollID)
	}
}

// PublishVoteCast tells the poll creator's connections that someone voted.
// Creators voting on their own poll are not notified.
func (b *Broadcaster) PublishVoteCast(ctx context.Context, p *poll.Poll, voterID string) {
	if p.CreatedBy == "" || p.CreatedBy == voterID {
		return
	}
	frame := newFrame(FrameVoteCast, "", VoteCast{Poll: broadcastView(p), User: voterID})
	b.dropAll(deliver(b.registry.ByUser(p.CreatedBy), frame))
}

// Join subscribes c to a poll and announces the new viewer count to the room.
func (b *Broadcaster) Join(c Conn, pollID string) (int, error) {
	added, viewers, err := b.registry.Subscribe(pollID, c)
	if err != nil {
		return 0, err
	}
	if added {
		b.announce(pollID, FrameUserJoined, viewers)
	}
	return viewers, nil
}

// Leave unsubscribes c from a poll.
func (b *Broadcaster) Leave(c Conn, pollID string) int {
	removed, viewers := b.registry.Unsubscribe(pollID, c.ID())
	if removed {
		b.announce(pollID, FrameUserLeft, viewers)
		b.prune(pollID)
	}
	return viewers
}

// Disconnect removes c from the registry and closes it.
func (b *Broadcaster) Disconnect(c Conn) {
	b.dropAll([]Conn{c})
}

func (b *Broadcaster) announce(pollID, typ string, viewers int) {
	frame := newFrame(typ, "", Presence{PollID: pollID, Viewers: viewers})
	b.dropAll(deliver(b.registry.MembersOf(pollID), frame))
}

// dropAll tears down failed connections. Presence updates caused by a drop
// can fail further connections, so work proceeds from a queue.
func (b *Broadcaster) dropAll(conns []Conn) {
	queue := conns
	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]

		polls, ok := b.registry.Remove(c.ID())
		_ = c.Close()
		if !ok {
			continue
		}
		b.logger.Debug("connection removed", "conn_id", c.ID(), "polls", len(polls))

		for _, pollID := range polls {
			frame := newFrame(FrameUserLeft, "", Presence{PollID: pollID, Viewers: b.registry.Viewers(pollID)})
			queue = append(queue, deliver(b.registry.MembersOf(pollID), frame)...)
			b.prune(pollID)
		}
	}
}

func (b *Broadcaster) acquire(pollID string) *roomState {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, ok := b.rooms[pollID]
	if !ok {
		state = &roomState{}
		b.rooms[pollID] = state
	}
	state.refs++
	return state
}

func (b *Broadcaster) release(pollID string) {
	b.mu.Lock()
	if state, ok := b.rooms[pollID]; ok {
		state.refs--
	}
	b.mu.Unlock()
	b.prune(pollID)
}

// prune forgets a room's state once nobody watches it and no publish holds it.
func (b *Broadcaster) prune(pollID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, ok := b.rooms[pollID]
	if !ok || state.refs > 0 || b.registry.Viewers(pollID) > 0 {
		return
	}
	delete(b.rooms, pollID)
}

// deliver sends frame to each connection and returns the ones that failed.
func deliver(conns []Conn, frame Frame) []Conn {
	var failed []Conn
	for _, c := range conns {
		if err := c.Send(frame); err != nil {
			failed = append(failed, c)
		}
	}
	return failed
}
