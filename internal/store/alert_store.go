package store

import (
	"context"
	"time"
)

type AlertStore struct {
	db DB
}

func NewAlertStore(db DB) *AlertStore {
	return &AlertStore{db: db}
}

type DeliveredAlertInput struct {
	ID            string
	AccountID     string
	AlertType     string
	Priority      string
	Symbol        string
	Cost          int64
	Score         float64
	TriggerWindow string
}

type DeliveredAlertRow struct {
	ID            string     `db:"id"`
	AccountID     string     `db:"account_id"`
	AlertType     string     `db:"alert_type"`
	Priority      string     `db:"priority"`
	Symbol        string     `db:"symbol"`
	Cost          int64      `db:"cost"`
	Score         float64    `db:"score"`
	TriggerWindow string     `db:"trigger_window"`
	DeliveredAt   time.Time  `db:"delivered_at"`
	ClickedAt     *time.Time `db:"clicked_at"`
}

// Insert relies on the unique (account_id, alert_type, symbol, trigger_window)
// index; a conflict surfaces as a pq unique violation and the caller treats
// the candidate as already delivered.
func (s *AlertStore) Insert(ctx context.Context, tx Execer, input DeliveredAlertInput) error {
	query := `
		INSERT INTO delivered_alerts (id, account_id, alert_type, priority, symbol, cost, score, trigger_window)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := tx.ExecContext(ctx, query,
		input.ID, input.AccountID, input.AlertType, input.Priority, input.Symbol,
		input.Cost, input.Score, input.TriggerWindow,
	)
	return err
}

func (s *AlertStore) Exists(ctx context.Context, accountID, alertType, symbol, triggerWindow string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `
		SELECT EXISTS(
			SELECT 1 FROM delivered_alerts
			WHERE account_id = $1 AND alert_type = $2 AND symbol = $3 AND trigger_window = $4
		)
	`, accountID, alertType, symbol, triggerWindow)
	return exists, err
}

func (s *AlertStore) CountSince(ctx context.Context, accountID string, since time.Time) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `
		SELECT COUNT(1)
		FROM delivered_alerts
		WHERE account_id = $1 AND delivered_at >= $2
	`, accountID, since)
	return count, err
}

func (s *AlertStore) ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]DeliveredAlertRow, error) {
	var rows []DeliveredAlertRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, account_id, alert_type, priority, symbol, cost, score, trigger_window, delivered_at, clicked_at
		FROM delivered_alerts
		WHERE account_id = $1
		ORDER BY delivered_at DESC
		LIMIT $2 OFFSET $3
	`, accountID, limit, offset)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// MarkClicked stamps the first click only; later clicks keep the original
// timestamp. Rows affected 0 means the alert does not belong to the account
// or was already clicked.
func (s *AlertStore) MarkClicked(ctx context.Context, alertID, accountID string, at time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE delivered_alerts
		SET clicked_at = $1
		WHERE id = $2 AND account_id = $3 AND clicked_at IS NULL
	`, at, alertID, accountID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *AlertStore) ClickStatsSince(ctx context.Context, accountID string, since time.Time) (int, int, error) {
	var row struct {
		Delivered int `db:"delivered"`
		Clicked   int `db:"clicked"`
	}
	err := s.db.GetContext(ctx, &row, `
		SELECT COUNT(1) AS delivered,
		       COUNT(clicked_at) AS clicked
		FROM delivered_alerts
		WHERE account_id = $1 AND delivered_at >= $2
	`, accountID, since)
	if err != nil {
		return 0, 0, err
	}
	return row.Delivered, row.Clicked, nil
}
