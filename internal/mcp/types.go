package mcp

import "github.com/rpggio/pollit/internal/domain/poll"

// ListPollsInput are the arguments of list_polls.
type ListPollsInput struct {
	ActiveOnly bool `json:"active_only,omitempty" jsonschema:"only return polls that accept votes"`
	Mine       bool `json:"mine,omitempty" jsonschema:"only return polls created by the caller"`
	Limit      int  `json:"limit,omitempty" jsonschema:"maximum number of polls (default 50, max 100)"`
	Offset     int  `json:"offset,omitempty" jsonschema:"offset for pagination"`
}

// GetPollInput are the arguments of get_poll.
type GetPollInput struct {
	PollID string `json:"poll_id" jsonschema:"poll identifier"`
}

// CastVoteInput are the arguments of cast_vote.
type CastVoteInput struct {
	PollID    string   `json:"poll_id" jsonschema:"poll identifier"`
	OptionIDs []string `json:"option_ids" jsonschema:"ids of the selected options"`
}

// CastVoteResult is the JSON body returned by cast_vote.
type CastVoteResult struct {
	Verdict  string     `json:"verdict"`
	Selected []string   `json:"selected"`
	Poll     *poll.Poll `json:"poll"`
}
