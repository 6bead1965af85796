package storage

import (
	"context"
	"testing"
	"time"

	"github.com/rpggio/pollit/internal/domain/poll"
	"github.com/rpggio/pollit/internal/repository"
	"github.com/stretchr/testify/require"
)

func createTestPoll(t *testing.T, repo *PollRepository, id, owner string, allowMultiple bool) *poll.Poll {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Millisecond)
	p := &poll.Poll{
		ID:            id,
		Title:         "Favourite colour",
		Description:   "pick wisely",
		AllowMultiple: allowMultiple,
		IsActive:      true,
		CreatedBy:     owner,
		CreatedAt:     now,
		UpdatedAt:     now,
		Version:       1,
		Options: []poll.Option{
			{ID: id + "-red", Text: "Red"},
			{ID: id + "-green", Text: "Green"},
			{ID: id + "-blue", Text: "Blue"},
		},
	}
	require.NoError(t, repo.Create(context.Background(), p))
	return p
}

func TestPollRepository_CreateAndGet(t *testing.T) {
	db := NewTestDB(t)
	repo := NewPollRepository(db)
	ctx := context.Background()

	created := createTestPoll(t, repo, "p1", "alice", true)

	got, err := repo.Get(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, created.Title, got.Title)
	require.Equal(t, created.Description, got.Description)
	require.True(t, got.AllowMultiple)
	require.True(t, got.IsActive)
	require.Equal(t, "alice", got.CreatedBy)
	require.Equal(t, int64(1), got.Version)
	require.Len(t, got.Options, 3)
	require.Equal(t, []string{"Red", "Green", "Blue"}, []string{got.Options[0].Text, got.Options[1].Text, got.Options[2].Text})
	require.WithinDuration(t, created.CreatedAt, got.CreatedAt, time.Second)

	_, err = repo.Get(ctx, "missing")
	require.ErrorIs(t, err, repository.ErrNotFound)

	err = repo.Create(ctx, created)
	require.ErrorIs(t, err, repository.ErrDuplicate)
}

func TestPollRepository_List(t *testing.T) {
	db := NewTestDB(t)
	repo := NewPollRepository(db)
	ctx := context.Background()

	createTestPoll(t, repo, "p1", "alice", false)
	createTestPoll(t, repo, "p2", "bob", false)
	p3 := createTestPoll(t, repo, "p3", "alice", false)
	require.NoError(t, repo.SetActive(ctx, "p3", false, p3.Version, time.Now()))

	all, err := repo.List(ctx, poll.ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 3)

	mine, err := repo.List(ctx, poll.ListOptions{CreatedBy: "alice"})
	require.NoError(t, err)
	require.Len(t, mine, 2)

	active, err := repo.List(ctx, poll.ListOptions{ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, active, 2)
	for _, s := range active {
		require.NotEqual(t, "p3", s.ID)
	}

	page, err := repo.List(ctx, poll.ListOptions{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
}

func TestPollRepository_SetActiveVersionCheck(t *testing.T) {
	db := NewTestDB(t)
	repo := NewPollRepository(db)
	ctx := context.Background()

	createTestPoll(t, repo, "p1", "alice", false)

	err := repo.SetActive(ctx, "p1", false, 7, time.Now())
	require.ErrorIs(t, err, repository.ErrConflict)

	err = repo.SetActive(ctx, "missing", false, 1, time.Now())
	require.ErrorIs(t, err, repository.ErrNotFound)

	require.NoError(t, repo.SetActive(ctx, "p1", false, 1, time.Now()))
	got, err := repo.Get(ctx, "p1")
	require.NoError(t, err)
	require.False(t, got.IsActive)
	require.Equal(t, int64(2), got.Version)
}

func TestPollRepository_DeleteRemovesVotes(t *testing.T) {
	db := NewTestDB(t)
	polls := NewPollRepository(db)
	votes := NewVoteRepository(db)
	ctx := context.Background()

	p := createTestPoll(t, polls, "p1", "alice", false)
	require.NoError(t, votes.CommitVote(ctx, commitFor(p, "voter", p.Options[0].ID)))

	require.NoError(t, polls.Delete(ctx, "p1"))
	_, err := polls.Get(ctx, "p1")
	require.ErrorIs(t, err, repository.ErrNotFound)

	n, err := votes.CountRecords(ctx, "p1")
	require.NoError(t, err)
	require.Zero(t, n)

	require.ErrorIs(t, polls.Delete(ctx, "p1"), repository.ErrNotFound)
}
