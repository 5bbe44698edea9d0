package handlers

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/DansiDanutz/ZmartBot-sub008/internal/services"
	"github.com/DansiDanutz/ZmartBot-sub008/internal/store"
)

type AccountStore interface {
	Create(ctx context.Context, tx store.Execer, id, handle, tier, apiKeyHash string) error
	GetByID(ctx context.Context, accountID string) (store.Account, error)
	GetByHandle(ctx context.Context, handle string) (store.Account, error)
}

type ProfileStore interface {
	Init(ctx context.Context, tx store.Execer, accountID string) error
}

type WatchlistStore interface {
	Add(ctx context.Context, accountID, symbol string, targetPrice *float64) error
	Remove(ctx context.Context, accountID, symbol string) (int64, error)
	ListByAccount(ctx context.Context, accountID string) ([]store.WatchRow, error)
}

type AlertReader interface {
	ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]store.DeliveredAlertRow, error)
	MarkClicked(ctx context.Context, alertID, accountID string, at time.Time) (int64, error)
}

type Ledger interface {
	GetBalance(ctx context.Context, accountID string) (int64, error)
	History(ctx context.Context, accountID, reason string, limit, offset int) ([]map[string]any, error)
	Reconcile(ctx context.Context, accountID string) (store.AccountBalanceSummary, error)
	CheckAffordability(ctx context.Context, accountID, action string, modifiers services.CostModifiers) (services.Affordability, error)
	ChargeAction(ctx context.Context, accountID, action string, modifiers services.CostModifiers, metadata string) (services.DebitOutcome, error)
	Credit(ctx context.Context, req services.CreditRequest) (int64, error)
	CreditInTx(ctx context.Context, tx *sqlx.Tx, req services.CreditRequest) (int64, error)
	Invalidate(accountID string)
}

type Scoring interface {
	Report(ctx context.Context, accountID string, now time.Time) (map[string]any, error)
	Recompute(ctx context.Context, accountID string, now time.Time) error
}

type AlertSweeper interface {
	Sweep(ctx context.Context, mode string) (int, error)
}

type MessageQueue interface {
	Enqueue(accountID, message, response string) (string, error)
	Depth() int
}

type RateLimiter interface {
	Allow(ctx context.Context, subject string) (bool, int, error)
}
