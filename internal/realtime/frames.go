package realtime

import (
	"encoding/json"
	"log/slog"

	"github.com/rpggio/pollit/internal/domain/poll"
)

// Frame types exchanged on the push channel.
const (
	FrameJoin  = "poll:join"
	FrameLeave = "poll:leave"
	FramePing  = "ping"

	FrameJoined      = "poll:joined"
	FrameLeft        = "poll:left"
	FrameSnapshot    = "poll:snapshot"
	FrameUpdate      = string(poll.EventUpdate)
	FrameCreated     = string(poll.EventCreated)
	FrameDeactivated = string(poll.EventDeactivated)
	FrameDeleted     = string(poll.EventDeleted)
	FrameVoteCast    = string(poll.EventVoteCast)
	FrameUserJoined  = "user:joined"
	FrameUserLeft    = "user:left"
	FramePong        = "pong"
	FrameHeartbeat   = "heartbeat"
	FrameError       = "error"
)

// Frame is the envelope of every message on the push channel.
type Frame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// PollRef names a poll in join, leave and delete payloads.
type PollRef struct {
	PollID string `json:"pollId"`
}

// Presence reports how many connections are viewing a poll.
type Presence struct {
	PollID  string `json:"pollId"`
	Viewers int    `json:"viewers"`
}

// VoteCast tells a poll's creator that someone voted.
type VoteCast struct {
	Poll *poll.Poll `json:"poll"`
	User string     `json:"user"`
}

// ErrorPayload describes a rejected client frame.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func newFrame(typ, requestID string, payload any) Frame {
	return Frame{Type: typ, RequestID: requestID, Payload: mustJSON(payload)}
}

func mustJSON(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		slog.Default().Error("failed to marshal frame payload", "error", err)
		return nil
	}
	return b
}

// broadcastView strips per-viewer fields before a poll goes to a room.
func broadcastView(p *poll.Poll) *poll.Poll {
	cp := p.Clone()
	cp.UserVote = nil
	return cp
}
