package store

import (
	"context"
	"fmt"
)

// LedgerStore owns the append-only credit_transactions log. Rows are never
// updated or deleted; the account balance must stay recomputable as the sum
// of deltas.
type LedgerStore struct {
	db DB
}

func NewLedgerStore(db DB) *LedgerStore {
	return &LedgerStore{db: db}
}

type CreditTransactionInput struct {
	ID        string
	AccountID string
	Delta     int64
	Reason    string
	RefID     *string
	Metadata  string
}

type creditTransactionRow struct {
	ID        string  `db:"id"`
	AccountID string  `db:"account_id"`
	Delta     int64   `db:"delta"`
	Reason    string  `db:"reason"`
	RefID     *string `db:"ref_id"`
	Metadata  string  `db:"metadata"`
	CreatedAt any     `db:"created_at"`
}

func (s *LedgerStore) Append(ctx context.Context, tx Execer, input CreditTransactionInput) error {
	query := `
		INSERT INTO credit_transactions (id, account_id, delta, reason, ref_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := tx.ExecContext(ctx, query, input.ID, input.AccountID, input.Delta, input.Reason, input.RefID, input.Metadata)
	return err
}

func (s *LedgerStore) SumByAccount(ctx context.Context, accountID string) (int64, error) {
	var sum int64
	err := s.db.GetContext(ctx, &sum, `
		SELECT COALESCE(SUM(delta), 0)
		FROM credit_transactions
		WHERE account_id = $1
	`, accountID)
	return sum, err
}

func (s *LedgerStore) ExistsRef(ctx context.Context, tx Getter, refID string) (bool, error) {
	var exists bool
	err := tx.GetContext(ctx, &exists, `
		SELECT EXISTS(SELECT 1 FROM credit_transactions WHERE ref_id = $1)
	`, refID)
	return exists, err
}

func (s *LedgerStore) ListByAccount(ctx context.Context, accountID, reason string, limit, offset int) ([]map[string]any, error) {
	var rows []creditTransactionRow
	query := `
		SELECT id, account_id, delta, reason, ref_id, metadata, created_at
		FROM credit_transactions
		WHERE account_id = $1
	`
	args := []any{accountID}
	param := 2
	if reason != "" {
		query += " AND reason = $2"
		args = append(args, reason)
		param = 3
	}
	query += " ORDER BY created_at DESC LIMIT $" + itoa(param) + " OFFSET $" + itoa(param+1)
	args = append(args, limit, offset)
	err := s.db.SelectContext(ctx, &rows, query, args...)
	if err != nil {
		return nil, err
	}
	entries := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, map[string]any{
			"id":         row.ID,
			"account_id": row.AccountID,
			"delta":      row.Delta,
			"reason":     row.Reason,
			"ref_id":     derefStringPtr(row.RefID),
			"metadata":   row.Metadata,
			"created_at": row.CreatedAt,
		})
	}
	return entries, nil
}

func itoa(value int) string {
	return fmt.Sprintf("%d", value)
}

func derefStringPtr(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
