package realtime

import (
	"sync"

	"github.com/rpggio/pollit/internal/domain/poll"
)

// Conn is one client's push channel.
type Conn interface {
	ID() string
	// UserID is empty for anonymous viewers.
	UserID() string
	// Send queues a frame without blocking. A full or closed channel returns
	// an error wrapping poll.ErrConnectionLost.
	Send(f Frame) error
	Close() error
}

// Registry maps polls to the connections subscribed to them. It only tracks
// registered connections, so a connection removed on teardown can never be
// subscribed again.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]Conn
	rooms map[string]map[string]Conn
	subs  map[string]map[string]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]Conn),
		rooms: make(map[string]map[string]Conn),
		subs:  make(map[string]map[string]struct{}),
	}
}

// Register makes a connection eligible for subscriptions and user fan-out.
func (r *Registry) Register(c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[c.ID()] = c
}

// Remove unregisters a connection and drops every subscription it held.
// It returns the polls the connection was subscribed to and whether it was
// registered at all.
func (r *Registry) Remove(connID string) ([]string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[connID]; !ok {
		return nil, false
	}
	delete(r.conns, connID)

	var polls []string
	for pollID := range r.subs[connID] {
		polls = append(polls, pollID)
		r.removeMember(pollID, connID)
	}
	delete(r.subs, connID)
	return polls, true
}

// Subscribe adds c to the poll's room. Subscribing twice is a no-op.
// It returns whether membership changed and the room size afterwards.
func (r *Registry) Subscribe(pollID string, c Conn) (bool, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[c.ID()]; !ok {
		return false, 0, poll.ErrConnectionLost
	}
	room, ok := r.rooms[pollID]
	if !ok {
		room = make(map[string]Conn)
		r.rooms[pollID] = room
	}
	if _, exists := room[c.ID()]; exists {
		return false, len(room), nil
	}
	room[c.ID()] = c

	subs, ok := r.subs[c.ID()]
	if !ok {
		subs = make(map[string]struct{})
		r.subs[c.ID()] = subs
	}
	subs[pollID] = struct{}{}
	return true, len(room), nil
}

// Unsubscribe removes a connection from a poll's room.
func (r *Registry) Unsubscribe(pollID, connID string) (bool, int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rooms[pollID][connID]; !ok {
		return false, len(r.rooms[pollID])
	}
	r.removeMember(pollID, connID)
	if subs := r.subs[connID]; subs != nil {
		delete(subs, pollID)
		if len(subs) == 0 {
			delete(r.subs, connID)
		}
	}
	return true, len(r.rooms[pollID])
}

// DropRoom removes every subscription to a poll and returns the former members.
func (r *Registry) DropRoom(pollID string) []Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	room := r.rooms[pollID]
	members := make([]Conn, 0, len(room))
	for connID, c := range room {
		members = append(members, c)
		if subs := r.subs[connID]; subs != nil {
			delete(subs, pollID)
			if len(subs) == 0 {
				delete(r.subs, connID)
			}
		}
	}
	delete(r.rooms, pollID)
	return members
}

// MembersOf returns a snapshot of the poll's room.
func (r *Registry) MembersOf(pollID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room := r.rooms[pollID]
	members := make([]Conn, 0, len(room))
	for _, c := range room {
		members = append(members, c)
	}
	return members
}

// Viewers returns the room size for a poll.
func (r *Registry) Viewers(pollID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[pollID])
}

// SubscriptionsOf returns the polls a connection is subscribed to.
func (r *Registry) SubscriptionsOf(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	polls := make([]string, 0, len(r.subs[connID]))
	for pollID := range r.subs[connID] {
		polls = append(polls, pollID)
	}
	return polls
}

// ByUser returns the registered connections of a user.
func (r *Registry) ByUser(userID string) []Conn {
	if userID == "" {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var conns []Conn
	for _, c := range r.conns {
		if c.UserID() == userID {
			conns = append(conns, c)
		}
	}
	return conns
}

// All returns every registered connection.
func (r *Registry) All() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	return conns
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Registry) removeMember(pollID, connID string) {
	room := r.rooms[pollID]
	delete(room, connID)
	if len(room) == 0 {
		delete(r.rooms, pollID)
	}
}
