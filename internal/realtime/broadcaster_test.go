package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/rpggio/pollit/internal/domain/poll"
	"github.com/stretchr/testify/require"
)

func pollAt(id string, version, total int64) *poll.Poll {
	p := &poll.Poll{
		ID:        id,
		CreatedBy: "owner",
		IsActive:  true,
		Version:   version,
		Options:   []poll.Option{{ID: "A", Votes: total}, {ID: "B"}},
		UserVote:  []string{"A"},
	}
	p.Recount()
	return p
}

func joined(t *testing.T, b *Broadcaster, pollID string, conns ...*fakeConn) {
	t.Helper()
	for _, c := range conns {
		b.Registry().Register(c)
		_, err := b.Join(c, pollID)
		require.NoError(t, err)
	}
}

func TestBroadcaster_FanOutToRoomOnly(t *testing.T) {
	ctx := context.Background()
	b := NewBroadcaster(NewRegistry(), nil)

	var room []*fakeConn
	for i := 0; i < 5; i++ {
		room = append(room, newFakeConn(fmt.Sprintf("c%d", i), ""))
	}
	joined(t, b, "P", room...)
	other := newFakeConn("other", "")
	joined(t, b, "Q", other)
	left := newFakeConn("left", "")
	joined(t, b, "P", left)
	b.Leave(left, "P")

	b.Publish(ctx, pollAt("P", 2, 1))

	for _, c := range room {
		updates := c.updates()
		require.Len(t, updates, 1, c.id)
		require.Equal(t, int64(1), updates[0].TotalVotes)
		require.Nil(t, updates[0].UserVote, "broadcasts never carry a viewer's selection")
	}
	require.Empty(t, other.updates())
	require.Empty(t, left.updates())
}

func TestBroadcaster_FailedConnectionDroppedOthersServed(t *testing.T) {
	ctx := context.Background()
	b := NewBroadcaster(NewRegistry(), nil)
	good := newFakeConn("good", "")
	bad := newFakeConn("bad", "")
	joined(t, b, "P", bad, good)
	bad.setFail(true)

	b.Publish(ctx, pollAt("P", 2, 1))

	require.Len(t, good.updates(), 1)
	require.True(t, bad.isClosed())
	require.Len(t, b.Registry().MembersOf("P"), 1)
	require.Empty(t, b.Registry().SubscriptionsOf("bad"))

	left := good.framesOf(FrameUserLeft)
	require.NotEmpty(t, left)
	var presence Presence
	require.NoError(t, json.Unmarshal(left[len(left)-1].Payload, &presence))
	require.Equal(t, 1, presence.Viewers)

	b.Publish(ctx, pollAt("P", 3, 2))
	require.Len(t, good.updates(), 2)
}

func TestBroadcaster_DropsStaleVersions(t *testing.T) {
	ctx := context.Background()
	b := NewBroadcaster(NewRegistry(), nil)
	c := newFakeConn("c", "")
	joined(t, b, "P", c)

	b.Publish(ctx, pollAt("P", 5, 4))
	b.Publish(ctx, pollAt("P", 4, 3))
	b.Publish(ctx, pollAt("P", 6, 5))

	updates := c.updates()
	require.Len(t, updates, 2)
	require.Equal(t, int64(5), updates[0].Version)
	require.Equal(t, int64(6), updates[1].Version)
}

func TestBroadcaster_PerConnectionOrdering(t *testing.T) {
	ctx := context.Background()
	b := NewBroadcaster(NewRegistry(), nil)
	conns := []*fakeConn{newFakeConn("a", ""), newFakeConn("b", ""), newFakeConn("c", "")}
	joined(t, b, "P", conns...)

	var wg sync.WaitGroup
	for v := int64(1); v <= 50; v++ {
		wg.Add(1)
		go func(v int64) {
			defer wg.Done()
			b.Publish(ctx, pollAt("P", v, v))
		}(v)
	}
	wg.Wait()

	for _, c := range conns {
		var last int64
		for _, u := range c.updates() {
			require.Greater(t, u.Version, last)
			last = u.Version
		}
		require.Equal(t, int64(50), last)
	}
}

func TestBroadcaster_ConcurrentStaleAndFreshPublishes(t *testing.T) {
	ctx := context.Background()
	b := NewBroadcaster(NewRegistry(), nil)
	c := newFakeConn("c", "")
	joined(t, b, "P", c)
	b.Publish(ctx, pollAt("P", 100, 1))

	var wg sync.WaitGroup
	for v := int64(1); v <= 60; v++ {
		wg.Add(2)
		go func(v int64) {
			defer wg.Done()
			b.Publish(ctx, pollAt("P", v, v))
		}(v)
		go func(v int64) {
			defer wg.Done()
			b.Publish(ctx, pollAt("P", 100+v, v))
		}(v)
	}
	wg.Wait()

	var last int64
	for _, u := range c.updates() {
		require.GreaterOrEqual(t, u.Version, int64(100))
		require.Greater(t, u.Version, last)
		last = u.Version
	}
	require.Equal(t, int64(160), last)
}

func trackedRooms(b *Broadcaster) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.rooms)
}

func TestBroadcaster_ForgetsEmptyRooms(t *testing.T) {
	ctx := context.Background()
	b := NewBroadcaster(NewRegistry(), nil)

	for i := 0; i < 20; i++ {
		b.Publish(ctx, pollAt(fmt.Sprintf("unwatched-%d", i), 1, 1))
	}
	require.Zero(t, trackedRooms(b))

	c := newFakeConn("c", "")
	d := newFakeConn("d", "")
	joined(t, b, "P", c)
	joined(t, b, "Q", d)
	b.Publish(ctx, pollAt("P", 3, 1))
	b.Publish(ctx, pollAt("Q", 1, 1))
	require.Equal(t, 2, trackedRooms(b))

	// The room keeps filtering stale versions while watched.
	b.Publish(ctx, pollAt("P", 2, 1))
	require.Len(t, c.updates(), 1)

	b.Leave(c, "P")
	require.Equal(t, 1, trackedRooms(b))
	b.Disconnect(d)
	require.Zero(t, trackedRooms(b))

	// A publish landing after deletion does not bring the room back.
	e := newFakeConn("e", "")
	joined(t, b, "R", e)
	b.Publish(ctx, pollAt("R", 1, 1))
	b.PublishLifecycle(ctx, poll.LifecycleEvent{Type: poll.EventDeleted, PollID: "R"})
	b.Publish(ctx, pollAt("R", 2, 1))
	require.Zero(t, trackedRooms(b))
	require.Len(t, e.updates(), 1)
}

func TestBroadcaster_LifecycleReachesEveryone(t *testing.T) {
	ctx := context.Background()
	b := NewBroadcaster(NewRegistry(), nil)
	inRoom := newFakeConn("in", "")
	joined(t, b, "P", inRoom)
	elsewhere := newFakeConn("elsewhere", "")
	b.Registry().Register(elsewhere)

	created := pollAt("N", 1, 0)
	b.PublishLifecycle(ctx, poll.LifecycleEvent{Type: poll.EventCreated, PollID: "N", OwnerID: "owner", Poll: created})
	require.Len(t, inRoom.framesOf(FrameCreated), 1)
	require.Len(t, elsewhere.framesOf(FrameCreated), 1)

	b.PublishLifecycle(ctx, poll.LifecycleEvent{Type: poll.EventDeleted, PollID: "P", OwnerID: "owner"})
	deleted := elsewhere.framesOf(FrameDeleted)
	require.Len(t, deleted, 1)
	var ref PollRef
	require.NoError(t, json.Unmarshal(deleted[0].Payload, &ref))
	require.Equal(t, "P", ref.PollID)

	require.Empty(t, b.Registry().MembersOf("P"))
	b.Publish(ctx, pollAt("P", 9, 1))
	require.Empty(t, inRoom.updates())
}

func TestBroadcaster_VoteCastGoesToCreator(t *testing.T) {
	ctx := context.Background()
	b := NewBroadcaster(NewRegistry(), nil)
	owner := newFakeConn("o", "owner")
	viewer := newFakeConn("v", "viewer")
	b.Registry().Register(owner)
	b.Registry().Register(viewer)

	b.PublishVoteCast(ctx, pollAt("P", 2, 1), "viewer")
	b.PublishVoteCast(ctx, pollAt("P", 3, 2), "owner")

	casts := owner.framesOf(FrameVoteCast)
	require.Len(t, casts, 1)
	var payload VoteCast
	require.NoError(t, json.Unmarshal(casts[0].Payload, &payload))
	require.Equal(t, "viewer", payload.User)
	require.Equal(t, "P", payload.Poll.ID)
	require.Empty(t, viewer.framesOf(FrameVoteCast))
}

func TestBroadcaster_PresenceOnJoinAndLeave(t *testing.T) {
	b := NewBroadcaster(NewRegistry(), nil)
	first := newFakeConn("first", "")
	second := newFakeConn("second", "")
	joined(t, b, "P", first, second)

	joins := first.framesOf(FrameUserJoined)
	require.Len(t, joins, 2)
	var presence Presence
	require.NoError(t, json.Unmarshal(joins[1].Payload, &presence))
	require.Equal(t, Presence{PollID: "P", Viewers: 2}, presence)

	b.Disconnect(second)
	lefts := first.framesOf(FrameUserLeft)
	require.Len(t, lefts, 1)
	require.NoError(t, json.Unmarshal(lefts[0].Payload, &presence))
	require.Equal(t, 1, presence.Viewers)
	require.True(t, second.isClosed())
}
