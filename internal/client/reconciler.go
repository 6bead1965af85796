package client

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/rpggio/pollit/internal/domain/poll"
)

// State is the reconciliation state of one poll's local view.
type State int

const (
	Unloaded State = iota
	Loaded
	VotedOptimistic
	Confirmed
)

func (s State) String() string {
	switch s {
	case Unloaded:
		return "unloaded"
	case Loaded:
		return "loaded"
	case VotedOptimistic:
		return "voted_optimistic"
	case Confirmed:
		return "confirmed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

var (
	// ErrNotLoaded indicates a vote on a poll whose snapshot was never loaded.
	ErrNotLoaded = errors.New("poll snapshot not loaded")
	// ErrVotePending indicates a vote while an earlier one awaits confirmation.
	ErrVotePending = errors.New("vote already pending")
)

// View is the displayed state of a poll. Poll.UserVote carries this voter's
// selection marker.
type View struct {
	Poll  *poll.Poll
	State State
}

// Selection returns the voter's marked options.
func (v View) Selection() []string {
	if v.Poll == nil {
		return nil
	}
	return v.Poll.UserVote
}

type entry struct {
	state State
	// authoritative is the newest server state seen, without UserVote.
	authoritative *poll.Poll
	// selection is the voter's confirmed marker.
	selection []string
	// optimistic is the pending, unconfirmed selection.
	optimistic []string
	// overlay is set while the optimistic increment is shown on top of the
	// authoritative counts. Any newer server state clears it.
	overlay   bool
	displayed *poll.Poll
}

// Reconciler merges fetched snapshots, optimistic local votes and pushed
// updates into one displayed view per poll.
//
// Server payloads are applied wholesale and only when their version is newer
// than what the view already holds. The voter's selection marker is kept
// across updates that do not carry it.
type Reconciler struct {
	mu     sync.Mutex
	polls  map[string]*entry
	revote bool
	logger *slog.Logger
}

// NewReconciler creates an empty reconciler.
func NewReconciler(logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Reconciler{polls: make(map[string]*entry), logger: logger}
}

// AllowRevotes sets whether a voter with a confirmed selection may vote
// again. It should match the server's resubmission policy; when false a
// second vote is refused locally with poll.ErrDuplicateVote.
func (r *Reconciler) AllowRevotes(allow bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.revote = allow
}

// SnapshotLoaded applies a fetched snapshot. A snapshot carrying UserVote
// restores the selection marker.
func (r *Reconciler) SnapshotLoaded(p *poll.Poll) View {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.entry(p.ID)
	if len(p.UserVote) > 0 {
		e.selection = slices.Clone(p.UserVote)
	}
	if e.authoritative == nil || p.Version >= e.authoritative.Version {
		e.authoritative = authoritativeCopy(p)
		e.overlay = false
	}
	if e.state != VotedOptimistic {
		e.state = settledState(e.selection)
	}
	r.render(e)
	return viewOf(e)
}

// OptimisticVoteApplied shows the voter's selection before the server
// confirms it. The selection is checked against the displayed poll.
func (r *Reconciler) OptimisticVoteApplied(pollID string, optionIDs []string) (View, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.polls[pollID]
	if !ok || e.state == Unloaded || e.authoritative == nil {
		return View{}, ErrNotLoaded
	}
	if e.state == VotedOptimistic {
		return viewOf(e), ErrVotePending
	}
	if !e.authoritative.IsActive {
		return viewOf(e), poll.ErrPollInactive
	}
	if len(e.selection) > 0 && !r.revote {
		return viewOf(e), poll.ErrDuplicateVote
	}
	if err := poll.ValidateSelection(e.authoritative, optionIDs); err != nil {
		return viewOf(e), err
	}

	e.optimistic = slices.Clone(optionIDs)
	e.overlay = true
	e.state = VotedOptimistic
	r.render(e)
	return viewOf(e), nil
}

// AuthoritativeUpdateReceived applies a pushed poll state. Pushes no newer
// than the current view are ignored.
func (r *Reconciler) AuthoritativeUpdateReceived(p *poll.Poll) View {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.polls[p.ID]
	if !ok {
		// Pushes for polls never loaded are not tracked.
		return View{}
	}
	if e.authoritative != nil && p.Version <= e.authoritative.Version {
		r.logger.Debug("ignoring stale poll update", "poll_id", p.ID, "version", p.Version, "have", e.authoritative.Version)
		return viewOf(e)
	}
	e.authoritative = authoritativeCopy(p)
	e.overlay = false
	r.render(e)
	return viewOf(e)
}

// VoteConfirmed applies the server's response to this voter's vote and
// settles the pending selection.
func (r *Reconciler) VoteConfirmed(p *poll.Poll) View {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.entry(p.ID)
	switch {
	case len(p.UserVote) > 0:
		e.selection = slices.Clone(p.UserVote)
	case len(e.optimistic) > 0:
		e.selection = e.optimistic
	}
	e.optimistic = nil
	e.overlay = false
	if e.authoritative == nil || p.Version > e.authoritative.Version {
		e.authoritative = authoritativeCopy(p)
	}
	e.state = Confirmed
	r.render(e)
	return viewOf(e)
}

// VoteFailed rolls the view back to the last authoritative state.
func (r *Reconciler) VoteFailed(pollID string, cause error) View {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.polls[pollID]
	if !ok {
		return View{}
	}
	r.logger.Debug("rolling back optimistic vote", "poll_id", pollID, "error", cause)
	e.optimistic = nil
	e.overlay = false
	if e.authoritative == nil {
		e.state = Unloaded
	} else {
		e.state = settledState(e.selection)
	}
	r.render(e)
	return viewOf(e)
}

// Forget drops a poll's view, e.g. after the poll was deleted.
func (r *Reconciler) Forget(pollID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.polls, pollID)
}

// View returns the displayed state of a poll.
func (r *Reconciler) View(pollID string) (View, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.polls[pollID]
	if !ok {
		return View{State: Unloaded}, false
	}
	return viewOf(e), true
}

// Tracked returns the ids of polls with a view.
func (r *Reconciler) Tracked() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.polls))
	for id := range r.polls {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (r *Reconciler) entry(pollID string) *entry {
	e, ok := r.polls[pollID]
	if !ok {
		e = &entry{state: Unloaded}
		r.polls[pollID] = e
	}
	return e
}

// render rebuilds the displayed poll from the authoritative state, the
// pending optimistic selection and the selection marker.
func (r *Reconciler) render(e *entry) {
	if e.authoritative == nil {
		e.displayed = nil
		return
	}
	d := e.authoritative.Clone()
	switch {
	case e.overlay:
		// Move the voter's previous selection, if any, to the new one.
		for _, id := range e.selection {
			if i, ok := d.OptionIndex(id); ok && d.Options[i].Votes > 0 {
				d.Options[i].Votes--
			}
		}
		for _, id := range e.optimistic {
			if i, ok := d.OptionIndex(id); ok {
				d.Options[i].Votes++
			}
		}
		d.Recount()
		d.UserVote = slices.Clone(e.optimistic)
	case len(e.optimistic) > 0:
		d.UserVote = slices.Clone(e.optimistic)
	case len(e.selection) > 0:
		d.UserVote = slices.Clone(e.selection)
	}
	e.displayed = d
}

func settledState(selection []string) State {
	if len(selection) > 0 {
		return Confirmed
	}
	return Loaded
}

func authoritativeCopy(p *poll.Poll) *poll.Poll {
	cp := p.Clone()
	cp.UserVote = nil
	cp.Recount()
	return cp
}

func viewOf(e *entry) View {
	v := View{State: e.state}
	if e.displayed != nil {
		v.Poll = e.displayed.Clone()
	}
	return v
}
