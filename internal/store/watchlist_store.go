package store

import (
	"context"
	"time"
)

type WatchlistStore struct {
	db DB
}

func NewWatchlistStore(db DB) *WatchlistStore {
	return &WatchlistStore{db: db}
}

type WatchRow struct {
	AccountID   string    `db:"account_id"`
	Symbol      string    `db:"symbol"`
	TargetPrice *float64  `db:"target_price"`
	AddedAt     time.Time `db:"added_at"`
}

func (s *WatchlistStore) Add(ctx context.Context, accountID, symbol string, targetPrice *float64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO watchlists (account_id, symbol, target_price)
		VALUES ($1, $2, $3)
		ON CONFLICT (account_id, symbol) DO UPDATE SET target_price = EXCLUDED.target_price
	`, accountID, symbol, targetPrice)
	return err
}

func (s *WatchlistStore) Remove(ctx context.Context, accountID, symbol string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM watchlists
		WHERE account_id = $1 AND symbol = $2
	`, accountID, symbol)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *WatchlistStore) ListByAccount(ctx context.Context, accountID string) ([]WatchRow, error) {
	var rows []WatchRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT account_id, symbol, target_price, added_at
		FROM watchlists
		WHERE account_id = $1
		ORDER BY added_at
	`, accountID)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// AccountIDs returns every account with at least one watched symbol; the
// alert sweep iterates exactly this set.
func (s *WatchlistStore) AccountIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids, `
		SELECT DISTINCT account_id
		FROM watchlists
		ORDER BY account_id
	`)
	if err != nil {
		return nil, err
	}
	return ids, nil
}
