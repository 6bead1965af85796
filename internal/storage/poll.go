package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rpggio/pollit/internal/domain/poll"
	"github.com/rpggio/pollit/internal/repository"
)

// PollRepository implements poll.Repository.
type PollRepository struct {
	db *DB
}

// NewPollRepository creates a new PollRepository
func NewPollRepository(db *DB) *PollRepository {
	return &PollRepository{db: db}
}

// Create inserts a poll and its options.
func (r *PollRepository) Create(ctx context.Context, p *poll.Poll) error {
	return r.db.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, r.db.rebind(`
			INSERT INTO polls (id, title, description, allow_multiple, is_active, created_by,
			                   total_votes, version, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`),
			p.ID,
			p.Title,
			p.Description,
			p.AllowMultiple,
			p.IsActive,
			p.CreatedBy,
			p.TotalVotes,
			p.Version,
			p.CreatedAt,
			p.UpdatedAt,
		)
		if isUniqueViolation(err) {
			return repository.ErrDuplicate
		}
		if err != nil {
			return fmt.Errorf("failed to create poll: %w", err)
		}

		insertOption := r.db.rebind(`INSERT INTO poll_options (poll_id, id, position, text, votes) VALUES (?, ?, ?, ?, ?)`)
		for i, opt := range p.Options {
			if _, err := tx.ExecContext(ctx, insertOption, p.ID, opt.ID, i, opt.Text, opt.Votes); err != nil {
				if isUniqueViolation(err) {
					return repository.ErrDuplicate
				}
				return fmt.Errorf("failed to create poll option: %w", err)
			}
		}
		return nil
	})
}

// Get retrieves a poll with its options in creation order.
func (r *PollRepository) Get(ctx context.Context, id string) (*poll.Poll, error) {
	return getPoll(ctx, r.db, r.db.DB, id)
}

// GetPoll is Get under the name the tally store expects.
func (r *PollRepository) GetPoll(ctx context.Context, id string) (*poll.Poll, error) {
	return r.Get(ctx, id)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func getPoll(ctx context.Context, db *DB, q queryer, id string) (*poll.Poll, error) {
	var p poll.Poll
	err := q.QueryRowContext(ctx, db.rebind(`
		SELECT id, title, description, allow_multiple, is_active, created_by,
		       total_votes, version, created_at, updated_at
		FROM polls
		WHERE id = ?
	`), id).Scan(
		&p.ID,
		&p.Title,
		&p.Description,
		&p.AllowMultiple,
		&p.IsActive,
		&p.CreatedBy,
		&p.TotalVotes,
		&p.Version,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get poll: %w", err)
	}

	rows, err := q.QueryContext(ctx, db.rebind(`
		SELECT id, text, votes FROM poll_options WHERE poll_id = ? ORDER BY position
	`), id)
	if err != nil {
		return nil, fmt.Errorf("failed to get poll options: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var opt poll.Option
		if err := rows.Scan(&opt.ID, &opt.Text, &opt.Votes); err != nil {
			return nil, fmt.Errorf("failed to scan poll option: %w", err)
		}
		p.Options = append(p.Options, opt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate poll options: %w", err)
	}

	p.Recount()
	return &p, nil
}

// List returns poll summaries, newest first.
func (r *PollRepository) List(ctx context.Context, opts poll.ListOptions) ([]poll.Summary, error) {
	query := `SELECT id, title, total_votes, is_active, created_by, created_at FROM polls WHERE 1 = 1`
	var args []any
	if opts.CreatedBy != "" {
		query += ` AND created_by = ?`
		args = append(args, opts.CreatedBy)
	}
	if opts.ActiveOnly {
		query += ` AND is_active = ?`
		args = append(args, true)
	}
	query += ` ORDER BY created_at DESC, id`
	if opts.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, opts.Limit, opts.Offset)
	}

	rows, err := r.db.QueryContext(ctx, r.db.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list polls: %w", err)
	}
	defer rows.Close()

	var list []poll.Summary
	for rows.Next() {
		var s poll.Summary
		if err := rows.Scan(&s.ID, &s.Title, &s.TotalVotes, &s.IsActive, &s.CreatedBy, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan poll: %w", err)
		}
		list = append(list, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate polls: %w", err)
	}
	return list, nil
}

// SetActive flips the active flag if the poll is still at expectedVersion,
// bumping the version.
func (r *PollRepository) SetActive(ctx context.Context, id string, active bool, expectedVersion int64, at time.Time) error {
	result, err := r.db.ExecContext(ctx, r.db.rebind(`
		UPDATE polls
		SET is_active = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`), active, at, id, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update poll: %w", err)
	}
	return checkVersioned(ctx, r.db, r.db.DB, result, id)
}

// Delete removes a poll with its options and vote records.
func (r *PollRepository) Delete(ctx context.Context, id string) error {
	return r.db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, r.db.rebind(`DELETE FROM vote_records WHERE poll_id = ?`), id); err != nil {
			return fmt.Errorf("failed to delete vote records: %w", err)
		}
		if _, err := tx.ExecContext(ctx, r.db.rebind(`DELETE FROM poll_options WHERE poll_id = ?`), id); err != nil {
			return fmt.Errorf("failed to delete poll options: %w", err)
		}
		result, err := tx.ExecContext(ctx, r.db.rebind(`DELETE FROM polls WHERE id = ?`), id)
		if err != nil {
			return fmt.Errorf("failed to delete poll: %w", err)
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return repository.ErrNotFound
		}
		return nil
	})
}

// checkVersioned turns a zero-row versioned update into ErrConflict when the
// poll exists and ErrNotFound when it doesn't.
func checkVersioned(ctx context.Context, db *DB, q queryer, result sql.Result, id string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return nil
	}

	var exists bool
	err = q.QueryRowContext(ctx, db.rebind(`SELECT EXISTS(SELECT 1 FROM polls WHERE id = ?)`), id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check poll existence: %w", err)
	}
	if !exists {
		return repository.ErrNotFound
	}
	return repository.ErrConflict
}
