package storage

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rpggio/pollit/internal/domain/guard"
	"github.com/rpggio/pollit/internal/domain/poll"
	"github.com/rpggio/pollit/internal/domain/tally"
	"github.com/rpggio/pollit/internal/repository"
	"github.com/stretchr/testify/require"
)

func commitFor(p *poll.Poll, voterID string, optionIDs ...string) tally.Commit {
	now := time.Now().UTC()
	c := tally.Commit{
		PollID:          p.ID,
		ExpectedVersion: p.Version,
		NewVersion:      p.Version + 1,
		Deltas:          map[string]int64{},
		Record:          poll.VoteRecord{PollID: p.ID, VoterID: voterID, OptionIDs: optionIDs, CreatedAt: now, UpdatedAt: now},
		At:              now,
	}
	for _, id := range optionIDs {
		c.Deltas[id]++
		c.TotalDelta++
	}
	return c
}

func TestVoteRepository_CommitVote(t *testing.T) {
	db := NewTestDB(t)
	polls := NewPollRepository(db)
	votes := NewVoteRepository(db)
	ctx := context.Background()

	p := createTestPoll(t, polls, "p1", "alice", true)
	red, blue := p.Options[0].ID, p.Options[2].ID

	require.NoError(t, votes.CommitVote(ctx, commitFor(p, "x", red, blue)))

	got, err := votes.GetPoll(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, int64(2), got.TotalVotes)
	require.Equal(t, int64(1), got.Options[0].Votes)
	require.Equal(t, int64(0), got.Options[1].Votes)
	require.Equal(t, int64(1), got.Options[2].Votes)
	require.Equal(t, int64(2), got.Version)

	rec, err := votes.GetVoteRecord(ctx, "p1", "x")
	require.NoError(t, err)
	require.Equal(t, []string{red, blue}, rec.OptionIDs)

	_, err = votes.GetVoteRecord(ctx, "p1", "nobody")
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestVoteRepository_StaleVersionConflicts(t *testing.T) {
	db := NewTestDB(t)
	polls := NewPollRepository(db)
	votes := NewVoteRepository(db)
	ctx := context.Background()

	p := createTestPoll(t, polls, "p1", "alice", false)
	require.NoError(t, votes.CommitVote(ctx, commitFor(p, "x", p.Options[0].ID)))

	// p still carries version 1.
	err := votes.CommitVote(ctx, commitFor(p, "y", p.Options[1].ID))
	require.ErrorIs(t, err, repository.ErrConflict)

	got, err := votes.GetPoll(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, int64(1), got.TotalVotes)
	_, err = votes.GetVoteRecord(ctx, "p1", "y")
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestVoteRepository_DuplicateRecordRollsBack(t *testing.T) {
	db := NewTestDB(t)
	polls := NewPollRepository(db)
	votes := NewVoteRepository(db)
	ctx := context.Background()

	p := createTestPoll(t, polls, "p1", "alice", false)
	require.NoError(t, votes.CommitVote(ctx, commitFor(p, "x", p.Options[0].ID)))

	fresh, err := votes.GetPoll(ctx, "p1")
	require.NoError(t, err)
	err = votes.CommitVote(ctx, commitFor(fresh, "x", p.Options[1].ID))
	require.ErrorIs(t, err, repository.ErrDuplicate)

	after, err := votes.GetPoll(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, fresh.Version, after.Version)
	require.Equal(t, int64(1), after.TotalVotes)
	require.Equal(t, int64(0), after.Options[1].Votes)
}

func TestVoteRepository_ReplaceMovesCounts(t *testing.T) {
	db := NewTestDB(t)
	polls := NewPollRepository(db)
	votes := NewVoteRepository(db)
	ctx := context.Background()

	p := createTestPoll(t, polls, "p1", "alice", false)
	red, green := p.Options[0].ID, p.Options[1].ID
	require.NoError(t, votes.CommitVote(ctx, commitFor(p, "x", red)))

	prev, err := votes.GetVoteRecord(ctx, "p1", "x")
	require.NoError(t, err)
	fresh, err := votes.GetPoll(ctx, "p1")
	require.NoError(t, err)

	c := commitFor(fresh, "x", green)
	c.Previous = prev
	c.Deltas[red]--
	c.TotalDelta--
	require.NoError(t, votes.CommitVote(ctx, c))

	after, err := votes.GetPoll(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, int64(1), after.TotalVotes)
	require.Equal(t, int64(0), after.Options[0].Votes)
	require.Equal(t, int64(1), after.Options[1].Votes)

	rec, err := votes.GetVoteRecord(ctx, "p1", "x")
	require.NoError(t, err)
	require.Equal(t, []string{green}, rec.OptionIDs)
}

func TestTallyStore_ConcurrentVotesOnSQLite(t *testing.T) {
	db := NewTestDB(t)
	polls := NewPollRepository(db)
	votes := NewVoteRepository(db)
	ctx := context.Background()

	p := createTestPoll(t, polls, "p1", "alice", false)
	store := tally.NewStore(votes, guard.New(votes, guard.PolicyReject, nil), nil)

	const voters = 40
	var wg sync.WaitGroup
	var accepted atomic.Int32
	for i := 0; i < voters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			option := p.Options[i%len(p.Options)].ID
			if _, _, err := store.ApplyVote(ctx, "p1", fmt.Sprintf("voter-%d", i), []string{option}); err == nil {
				accepted.Add(1)
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, int32(voters), accepted.Load())
	got, err := votes.GetPoll(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, int64(voters), got.TotalVotes)

	var sum int64
	for _, opt := range got.Options {
		sum += opt.Votes
	}
	require.Equal(t, got.TotalVotes, sum)

	n, err := votes.CountRecords(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, voters, n)
}
