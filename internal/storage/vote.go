package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/rpggio/pollit/internal/domain/poll"
	"github.com/rpggio/pollit/internal/domain/tally"
	"github.com/rpggio/pollit/internal/repository"
)

// VoteRepository implements tally.Repository and the vote record lookups
// used by the guard.
type VoteRepository struct {
	db *DB
}

// NewVoteRepository creates a new VoteRepository
func NewVoteRepository(db *DB) *VoteRepository {
	return &VoteRepository{db: db}
}

// GetPoll loads the poll a vote applies to.
func (r *VoteRepository) GetPoll(ctx context.Context, pollID string) (*poll.Poll, error) {
	return getPoll(ctx, r.db, r.db.DB, pollID)
}

// GetVoteRecord returns the voter's effective vote on the poll.
func (r *VoteRepository) GetVoteRecord(ctx context.Context, pollID, voterID string) (*poll.VoteRecord, error) {
	var (
		rec     poll.VoteRecord
		options string
	)
	err := r.db.QueryRowContext(ctx, r.db.rebind(`
		SELECT poll_id, voter_id, option_ids, created_at, updated_at
		FROM vote_records
		WHERE poll_id = ? AND voter_id = ?
	`), pollID, voterID).Scan(&rec.PollID, &rec.VoterID, &options, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get vote record: %w", err)
	}
	if err := json.Unmarshal([]byte(options), &rec.OptionIDs); err != nil {
		return nil, fmt.Errorf("failed to decode vote record options: %w", err)
	}
	return &rec, nil
}

// CommitVote applies a tally mutation atomically. The version compare-and-swap
// runs first so concurrent writers on other processes serialize on the poll row.
func (r *VoteRepository) CommitVote(ctx context.Context, c tally.Commit) error {
	options, err := json.Marshal(c.Record.OptionIDs)
	if err != nil {
		return fmt.Errorf("failed to encode vote record options: %w", err)
	}

	return r.db.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, r.db.rebind(`
			UPDATE polls
			SET total_votes = total_votes + ?, version = ?, updated_at = ?
			WHERE id = ? AND version = ?
		`), c.TotalDelta, c.NewVersion, c.At, c.PollID, c.ExpectedVersion)
		if err != nil {
			return fmt.Errorf("failed to update poll tally: %w", err)
		}
		if err := checkVersioned(ctx, r.db, tx, result, c.PollID); err != nil {
			return err
		}

		if c.Previous == nil {
			_, err = tx.ExecContext(ctx, r.db.rebind(`
				INSERT INTO vote_records (poll_id, voter_id, option_ids, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?)
			`), c.PollID, c.Record.VoterID, string(options), c.Record.CreatedAt, c.Record.UpdatedAt)
			if isUniqueViolation(err) {
				return repository.ErrDuplicate
			}
			if isForeignKeyViolation(err) {
				return repository.ErrNotFound
			}
			if err != nil {
				return fmt.Errorf("failed to insert vote record: %w", err)
			}
		} else {
			result, err := tx.ExecContext(ctx, r.db.rebind(`
				UPDATE vote_records SET option_ids = ?, updated_at = ?
				WHERE poll_id = ? AND voter_id = ?
			`), string(options), c.Record.UpdatedAt, c.PollID, c.Record.VoterID)
			if err != nil {
				return fmt.Errorf("failed to replace vote record: %w", err)
			}
			rowsAffected, err := result.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to get rows affected: %w", err)
			}
			if rowsAffected == 0 {
				return repository.ErrConflict
			}
		}

		// Deterministic order keeps row locks consistent across writers.
		ids := make([]string, 0, len(c.Deltas))
		for id, delta := range c.Deltas {
			if delta != 0 {
				ids = append(ids, id)
			}
		}
		sort.Strings(ids)

		updateOption := r.db.rebind(`UPDATE poll_options SET votes = votes + ? WHERE poll_id = ? AND id = ?`)
		for _, id := range ids {
			result, err := tx.ExecContext(ctx, updateOption, c.Deltas[id], c.PollID, id)
			if err != nil {
				return fmt.Errorf("failed to update option tally: %w", err)
			}
			rowsAffected, err := result.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to get rows affected: %w", err)
			}
			if rowsAffected == 0 {
				return fmt.Errorf("option %s: %w", id, repository.ErrNotFound)
			}
		}
		return nil
	})
}

// CountRecords returns the number of vote records stored for a poll.
func (r *VoteRepository) CountRecords(ctx context.Context, pollID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, r.db.rebind(`SELECT COUNT(*) FROM vote_records WHERE poll_id = ?`), pollID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count vote records: %w", err)
	}
	return n, nil
}
