package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"tiergate/internal/limits/models"
	id "tiergate/pkg/domain"
)

// PostgresStore keeps one usage_windows row per (user, kind, period). Rows
// of past periods stay as history; a missing current-period row means
// nothing was consumed yet.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (s *PostgresStore) Load(ctx context.Context, userID id.UserID, now time.Time) (models.Windows, error) {
	return loadWindows(ctx, s.pool, userID, now)
}

// Update serializes on a transaction-scoped advisory lock derived from the
// user id, so concurrent authorizations for one user run one at a time while
// other users proceed.
func (s *PostgresStore) Update(ctx context.Context, userID id.UserID, now time.Time, fn func(w *models.Windows) (bool, error)) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin usage tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, userID.String()); err != nil {
		return fmt.Errorf("lock usage windows: %w", err)
	}

	windows, err := loadWindows(ctx, tx, userID, now)
	if err != nil {
		return err
	}
	commit, err := fn(&windows)
	if err != nil || !commit {
		return err
	}

	batch := &pgx.Batch{}
	for _, w := range []models.Window{windows.Daily, windows.Monthly} {
		batch.Queue(`
			INSERT INTO usage_windows (user_id, window_kind, period_start, period_end, consumed)
			VALUES ($1, $2, $3, $4, $5::numeric)
			ON CONFLICT (user_id, window_kind, period_start)
			DO UPDATE SET consumed = EXCLUDED.consumed
		`, w.UserID.String(), string(w.Kind), w.PeriodStart, w.PeriodEnd, w.Consumed.String())
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("write usage windows: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit usage tx: %w", err)
	}
	return nil
}

func loadWindows(ctx context.Context, q querier, userID id.UserID, now time.Time) (models.Windows, error) {
	windows := models.NewWindows(userID, now)
	rows, err := q.Query(ctx, `
		SELECT window_kind, consumed::text
		FROM usage_windows
		WHERE user_id = $1
		  AND ((window_kind = 'daily' AND period_start = $2) OR (window_kind = 'monthly' AND period_start = $3))
	`, userID.String(), windows.Daily.PeriodStart, windows.Monthly.PeriodStart)
	if err != nil {
		return models.Windows{}, fmt.Errorf("load usage windows: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var kind, consumed string
		if err := rows.Scan(&kind, &consumed); err != nil {
			return models.Windows{}, fmt.Errorf("scan usage window: %w", err)
		}
		amount, err := decimal.NewFromString(consumed)
		if err != nil {
			return models.Windows{}, fmt.Errorf("parse consumed amount: %w", err)
		}
		switch models.WindowKind(kind) {
		case models.WindowDaily:
			windows.Daily.Consumed = amount
		case models.WindowMonthly:
			windows.Monthly.Consumed = amount
		default:
			return models.Windows{}, errors.New("unknown window kind: " + kind)
		}
	}
	if err := rows.Err(); err != nil {
		return models.Windows{}, fmt.Errorf("iterate usage windows: %w", err)
	}
	return windows, nil
}
