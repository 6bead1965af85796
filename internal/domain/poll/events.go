package poll

// EventType names a push event on the realtime channel.
type EventType string

const (
	EventUpdate      EventType = "poll:update"
	EventCreated     EventType = "poll:created"
	EventDeactivated EventType = "poll:deactivated"
	EventDeleted     EventType = "poll:deleted"
	EventVoteCast    EventType = "vote:cast"
)

// LifecycleEvent describes a poll being created, deactivated or deleted.
// Poll is nil for deletions.
type LifecycleEvent struct {
	Type    EventType
	PollID  string
	OwnerID string
	Poll    *Poll
}
