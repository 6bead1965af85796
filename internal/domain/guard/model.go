package guard

import (
	"fmt"

	"github.com/rpggio/pollit/internal/domain/poll"
)

// Policy decides what happens when a voter who already voted submits again.
type Policy string

const (
	// PolicyReject refuses a second submission with poll.ErrDuplicateVote.
	PolicyReject Policy = "reject"
	// PolicyReplace moves the voter's prior selection to the new one.
	PolicyReplace Policy = "replace"
)

// ParsePolicy validates a configured policy name. Empty means PolicyReject.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PolicyReject:
		return PolicyReject, nil
	case PolicyReplace:
		return PolicyReplace, nil
	default:
		return "", fmt.Errorf("unknown resubmission policy %q", s)
	}
}

// Verdict is the outcome kind of an authorization check.
type Verdict int

const (
	Accept Verdict = iota
	Replace
	Reject
)

func (v Verdict) String() string {
	switch v {
	case Accept:
		return "accept"
	case Replace:
		return "replace"
	case Reject:
		return "reject"
	default:
		return "unknown"
	}
}

// Decision is the result of authorizing a vote.
// Previous is set for Replace, Reason for Reject.
type Decision struct {
	Verdict  Verdict
	Previous *poll.VoteRecord
	Reason   error
}

// Err returns the rejection reason, or nil when the vote may proceed.
func (d Decision) Err() error {
	if d.Verdict == Reject {
		return d.Reason
	}
	return nil
}
