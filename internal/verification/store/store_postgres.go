package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"tiergate/internal/tier"
	"tiergate/internal/verification/models"
	id "tiergate/pkg/domain"
	"tiergate/pkg/platform/sentinel"
	txcontext "tiergate/pkg/platform/tx"
)

// PostgresStore persists the ledger in verification_ledger and its history in
// verification_transitions. Writes join the caller's transaction when ctx
// carries one.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const recordColumns = `user_id, requirement, status, satisfied_at, evidence_ref, last_event_seq, updated_at`

func (s *PostgresStore) Get(ctx context.Context, userID id.UserID, k tier.RequirementKind) (*models.Record, error) {
	row := txcontext.ExecerFrom(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM verification_ledger WHERE user_id = $1 AND requirement = $2`,
		userID.String(), string(k))
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ledger record: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID id.UserID) ([]models.Record, error) {
	rows, err := txcontext.ExecerFrom(ctx, s.db).QueryContext(ctx,
		`SELECT `+recordColumns+` FROM verification_ledger WHERE user_id = $1 ORDER BY requirement`,
		userID.String())
	if err != nil {
		return nil, fmt.Errorf("list ledger records: %w", err)
	}
	defer rows.Close()

	var out []models.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger record: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger records: %w", err)
	}
	return out, nil
}

// Save is a compare-and-set on (last_event_seq, status). A lost race returns
// sentinel.ErrConflict and writes nothing.
func (s *PostgresStore) Save(ctx context.Context, next models.Record, prev *models.Record, tr *models.Transition) error {
	return txcontext.Run(ctx, s.db, func(ctx context.Context) error {
		exec := txcontext.ExecerFrom(ctx, s.db)

		var (
			res sql.Result
			err error
		)
		if prev == nil {
			res, err = exec.ExecContext(ctx, `
				INSERT INTO verification_ledger (`+recordColumns+`)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
				ON CONFLICT (user_id, requirement) DO NOTHING
			`, next.UserID.String(), string(next.Requirement), string(next.Status),
				next.SatisfiedAt, next.EvidenceRef, next.LastEventSeq, next.UpdatedAt)
		} else {
			res, err = exec.ExecContext(ctx, `
				UPDATE verification_ledger
				SET status = $3, satisfied_at = $4, evidence_ref = $5, last_event_seq = $6, updated_at = $7
				WHERE user_id = $1 AND requirement = $2
				  AND last_event_seq = $8 AND status = $9
			`, next.UserID.String(), string(next.Requirement), string(next.Status),
				next.SatisfiedAt, next.EvidenceRef, next.LastEventSeq, next.UpdatedAt,
				prev.LastEventSeq, string(prev.Status))
		}
		if err != nil {
			return fmt.Errorf("write ledger record: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("write ledger record: %w", err)
		}
		if n == 0 {
			return sentinel.ErrConflict
		}

		if tr == nil {
			return nil
		}
		if _, err := exec.ExecContext(ctx, `
			INSERT INTO verification_transitions
				(user_id, requirement, from_status, to_status, source, event_seq, evidence_ref, actor_id, reason, occurred_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, tr.UserID.String(), string(tr.Requirement), string(tr.From), string(tr.To), string(tr.Source),
			tr.EventSeq, tr.EvidenceRef, tr.ActorID, tr.Reason, tr.OccurredAt); err != nil {
			return fmt.Errorf("append ledger transition: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) History(ctx context.Context, userID id.UserID) ([]models.Transition, error) {
	rows, err := txcontext.ExecerFrom(ctx, s.db).QueryContext(ctx, `
		SELECT user_id, requirement, from_status, to_status, source, event_seq, evidence_ref, actor_id, reason, occurred_at
		FROM verification_transitions
		WHERE user_id = $1
		ORDER BY id
	`, userID.String())
	if err != nil {
		return nil, fmt.Errorf("list ledger history: %w", err)
	}
	defer rows.Close()

	var out []models.Transition
	for rows.Next() {
		var (
			tr                       models.Transition
			user, req, from, to, src string
		)
		if err := rows.Scan(&user, &req, &from, &to, &src, &tr.EventSeq, &tr.EvidenceRef, &tr.ActorID, &tr.Reason, &tr.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan ledger transition: %w", err)
		}
		tr.UserID = id.UserID(user)
		tr.Requirement = tier.RequirementKind(req)
		tr.From = models.Status(from)
		tr.To = models.Status(to)
		tr.Source = models.Source(src)
		out = append(out, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger history: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*models.Record, error) {
	var (
		rec               models.Record
		user, req, status string
		satisfiedAt       sql.NullTime
	)
	if err := row.Scan(&user, &req, &status, &satisfiedAt, &rec.EvidenceRef, &rec.LastEventSeq, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.UserID = id.UserID(user)
	rec.Requirement = tier.RequirementKind(req)
	rec.Status = models.Status(status)
	if satisfiedAt.Valid {
		t := satisfiedAt.Time
		rec.SatisfiedAt = &t
	}
	return &rec, nil
}
