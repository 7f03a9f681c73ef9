package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"tiergate/internal/provisioning/models"
	id "tiergate/pkg/domain"
	"tiergate/pkg/platform/sentinel"
	txcontext "tiergate/pkg/platform/tx"
)

// PostgresStore persists transactions in provisioning_transactions.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const txnColumns = `id, email, identity_account_id, exchange_account_id, state, attempts, last_error, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, txn models.Transaction) error {
	_, err := txcontext.ExecerFrom(ctx, s.db).ExecContext(ctx, `
		INSERT INTO provisioning_transactions (`+txnColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, uuid.UUID(txn.ID), txn.Email, txn.IdentityAccountID, txn.ExchangeAccountID,
		string(txn.State), txn.Attempts, txn.LastError, txn.CreatedAt, txn.UpdatedAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return sentinel.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert provisioning transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, txnID id.TransactionID) (*models.Transaction, error) {
	row := txcontext.ExecerFrom(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+txnColumns+` FROM provisioning_transactions WHERE id = $1`, uuid.UUID(txnID))
	txn, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get provisioning transaction: %w", err)
	}
	return txn, nil
}

// Transition writes next only while the stored state is still from.
func (s *PostgresStore) Transition(ctx context.Context, from models.State, next models.Transaction) error {
	res, err := txcontext.ExecerFrom(ctx, s.db).ExecContext(ctx, `
		UPDATE provisioning_transactions
		SET exchange_account_id = $2, state = $3, attempts = $4, last_error = $5, updated_at = $6
		WHERE id = $1 AND state = $7
	`, uuid.UUID(next.ID), next.ExchangeAccountID, string(next.State), next.Attempts, next.LastError,
		next.UpdatedAt, string(from))
	if err != nil {
		return fmt.Errorf("update provisioning transaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update provisioning transaction: %w", err)
	}
	if n > 0 {
		return nil
	}
	if _, err := s.Get(ctx, next.ID); err != nil {
		return err
	}
	return sentinel.ErrConflict
}

func (s *PostgresStore) ListPending(ctx context.Context, olderThan time.Time, limit int) ([]models.Transaction, error) {
	if limit <= 0 {
		limit = 1000
	}
	pending := models.PendingStates()
	states := make([]string, len(pending))
	for i, st := range pending {
		states[i] = string(st)
	}
	rows, err := txcontext.ExecerFrom(ctx, s.db).QueryContext(ctx, `
		SELECT `+txnColumns+`
		FROM provisioning_transactions
		WHERE state = ANY($1) AND updated_at < $2
		ORDER BY updated_at
		LIMIT $3
	`, pq.Array(states), olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending provisioning transactions: %w", err)
	}
	defer rows.Close()

	var out []models.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan provisioning transaction: %w", err)
		}
		out = append(out, *txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate provisioning transactions: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) PurgeTerminal(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := txcontext.ExecerFrom(ctx, s.db).ExecContext(ctx, `
		DELETE FROM provisioning_transactions
		WHERE state IN ($1, $2) AND updated_at < $3
	`, string(models.StateCompleted), string(models.StateRolledBack), olderThan)
	if err != nil {
		return 0, fmt.Errorf("purge provisioning transactions: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row scanner) (*models.Transaction, error) {
	var (
		txn      models.Transaction
		txnID    uuid.UUID
		exchange sql.NullString
		state    string
	)
	if err := row.Scan(&txnID, &txn.Email, &txn.IdentityAccountID, &exchange, &state,
		&txn.Attempts, &txn.LastError, &txn.CreatedAt, &txn.UpdatedAt); err != nil {
		return nil, err
	}
	txn.ID = id.TransactionID(txnID)
	txn.State = models.State(state)
	if exchange.Valid {
		v := exchange.String
		txn.ExchangeAccountID = &v
	}
	return &txn, nil
}
