package poll

import (
	"math"
	"time"
)

// Poll is a question with an ordered set of options open to voting.
// Option order is fixed at creation; clients address options by position.
type Poll struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Description   string    `json:"description,omitempty"`
	Options       []Option  `json:"options"`
	TotalVotes    int64     `json:"totalVotes"`
	AllowMultiple bool      `json:"allowMultiple"`
	IsActive      bool      `json:"isActive"`
	CreatedBy     string    `json:"createdBy"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
	Version       int64     `json:"version"`
	UserVote      []string  `json:"userVote,omitempty"`
}

// Option is one selectable choice within a poll.
type Option struct {
	ID         string  `json:"id"`
	Text       string  `json:"text"`
	Votes      int64   `json:"votes"`
	Percentage float64 `json:"percentage"`
}

// VoteRecord is the single effective vote of a voter on a poll.
type VoteRecord struct {
	PollID    string    `json:"pollId"`
	VoterID   string    `json:"voterId"`
	OptionIDs []string  `json:"optionIds"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Summary is a lightweight listing entry.
type Summary struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	TotalVotes int64     `json:"totalVotes"`
	IsActive   bool      `json:"isActive"`
	CreatedBy  string    `json:"createdBy"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Clone returns a deep copy safe to hand to another goroutine.
func (p *Poll) Clone() *Poll {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Options = append([]Option(nil), p.Options...)
	if p.UserVote != nil {
		cp.UserVote = append([]string(nil), p.UserVote...)
	}
	return &cp
}

// OptionIndex returns the position of the option with the given id.
func (p *Poll) OptionIndex(optionID string) (int, bool) {
	for i, opt := range p.Options {
		if opt.ID == optionID {
			return i, true
		}
	}
	return -1, false
}

// Recount recomputes TotalVotes and option percentages from the option counters.
func (p *Poll) Recount() {
	var total int64
	for _, opt := range p.Options {
		total += opt.Votes
	}
	p.TotalVotes = total
	for i := range p.Options {
		p.Options[i].Percentage = percentage(p.Options[i].Votes, total)
	}
}

// Summary returns the listing form of the poll.
func (p *Poll) Summary() Summary {
	return Summary{
		ID:         p.ID,
		Title:      p.Title,
		TotalVotes: p.TotalVotes,
		IsActive:   p.IsActive,
		CreatedBy:  p.CreatedBy,
		CreatedAt:  p.CreatedAt,
	}
}

func percentage(votes, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(votes)/float64(total)*1000) / 10
}
