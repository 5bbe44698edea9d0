package services

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/DansiDanutz/ZmartBot-sub008/internal/db"
	"github.com/DansiDanutz/ZmartBot-sub008/internal/events"
	"github.com/DansiDanutz/ZmartBot-sub008/internal/metrics"
	"github.com/DansiDanutz/ZmartBot-sub008/internal/store"
	"github.com/DansiDanutz/ZmartBot-sub008/internal/websocket"
)

var (
	ErrAccountNotFound    = errors.New("account not found")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrDuplicateReference = errors.New("duplicate reference")
	ErrUnknownAction      = errors.New("unknown action")
)

// Ledger reason codes.
const (
	ReasonPurchase     = "purchase"
	ReasonBonus        = "bonus"
	ReasonAlertCharge  = "alert_charge"
	ReasonActionCharge = "action_charge"
	ReasonMilestone    = "milestone"
	ReasonSubscription = "subscription"
)

type LedgerAccountStore interface {
	GetBalance(ctx context.Context, accountID string) (int64, error)
	GetBalanceForUpdate(ctx context.Context, tx store.Getter, accountID string) (int64, error)
	ConditionalDebit(ctx context.Context, tx store.Getter, accountID string, amount int64) (bool, int64, error)
	AdjustBalance(ctx context.Context, tx store.Getter, accountID string, delta int64) (int64, error)
	GetSummary(ctx context.Context, accountID string) (store.AccountBalanceSummary, error)
}

type TransactionLog interface {
	Append(ctx context.Context, tx store.Execer, input store.CreditTransactionInput) error
	ExistsRef(ctx context.Context, tx store.Getter, refID string) (bool, error)
	ListByAccount(ctx context.Context, accountID, reason string, limit, offset int) ([]map[string]any, error)
}

type EventHub interface {
	BroadcastEvent(accountID string, event websocket.Event)
}

type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, body any) error
}

// LedgerService owns every balance mutation. Nothing else in the system
// writes accounts.balance, directly or through a store.
type LedgerService struct {
	txRunner db.TxRunner
	accounts LedgerAccountStore
	ledger   TransactionLog
	catalog  *Catalog
	cache    *expirable.LRU[string, int64]
	hub      EventHub
	events   EventPublisher
	metrics  *metrics.Metrics
	log      *logrus.Logger
}

func NewLedgerService(
	txRunner db.TxRunner,
	accounts LedgerAccountStore,
	ledger TransactionLog,
	catalog *Catalog,
	cacheSize int,
	cacheTTL time.Duration,
	hub EventHub,
	publisher EventPublisher,
	m *metrics.Metrics,
	log *logrus.Logger,
) *LedgerService {
	return &LedgerService{
		txRunner: txRunner,
		accounts: accounts,
		ledger:   ledger,
		catalog:  catalog,
		cache:    expirable.NewLRU[string, int64](cacheSize, nil, cacheTTL),
		hub:      hub,
		events:   publisher,
		metrics:  m,
		log:      log,
	}
}

// GetBalance serves from the TTL cache when it can; any write for the
// account drops its entry, so the staleness window is the TTL at worst.
func (s *LedgerService) GetBalance(ctx context.Context, accountID string) (int64, error) {
	if balance, ok := s.cache.Get(accountID); ok {
		s.metrics.CacheHits.Inc()
		return balance, nil
	}
	s.metrics.CacheMisses.Inc()
	balance, err := s.accounts.GetBalance(ctx, accountID)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, ErrAccountNotFound
		}
		return 0, err
	}
	s.cache.Add(accountID, balance)
	return balance, nil
}

// Invalidate drops the cached balance for an account. Callers that commit
// ledger writes through CreditInTx must call it after their transaction.
func (s *LedgerService) Invalidate(accountID string) {
	s.cache.Remove(accountID)
}

type DebitRequest struct {
	AccountID string
	Amount    int64
	Reason    string
	RefID     *string
	Metadata  string
	// Attach runs inside the debit transaction after the conditional update
	// and the ledger append. If it fails the whole debit rolls back.
	Attach func(tx *sqlx.Tx) error
}

type DebitOutcome struct {
	Charged         bool
	Cost            int64
	NewBalance      int64
	Deficit         int64
	SuggestedBundle int64
	TransactionID   string
}

// TryDebit is the only path that spends credits. A refusal for insufficient
// funds is a normal outcome, not an error; the returned outcome carries the
// deficit and the smallest bundle covering it.
func (s *LedgerService) TryDebit(ctx context.Context, req DebitRequest) (DebitOutcome, error) {
	if req.Amount <= 0 {
		return DebitOutcome{}, ErrInvalidAmount
	}
	outcome := DebitOutcome{Cost: req.Amount}
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		charged, newBalance, err := s.accounts.ConditionalDebit(ctx, tx, req.AccountID, req.Amount)
		if err != nil {
			return err
		}
		if !charged {
			balance, err := s.accounts.GetBalanceForUpdate(ctx, tx, req.AccountID)
			if err != nil {
				if err == sql.ErrNoRows {
					return ErrAccountNotFound
				}
				return err
			}
			outcome.Charged = false
			outcome.NewBalance = balance
			outcome.Deficit = req.Amount - balance
			outcome.SuggestedBundle = s.catalog.SuggestBundle(outcome.Deficit)
			return nil
		}
		outcome.TransactionID = uuid.NewString()
		if err := s.ledger.Append(ctx, tx, store.CreditTransactionInput{
			ID:        outcome.TransactionID,
			AccountID: req.AccountID,
			Delta:     -req.Amount,
			Reason:    req.Reason,
			RefID:     req.RefID,
			Metadata:  normalizeMetadata(req.Metadata),
		}); err != nil {
			if db.IsUniqueViolation(err) {
				return ErrDuplicateReference
			}
			return err
		}
		if req.Attach != nil {
			if err := req.Attach(tx); err != nil {
				return err
			}
		}
		outcome.Charged = true
		outcome.NewBalance = newBalance
		return nil
	})
	if err != nil {
		return DebitOutcome{}, err
	}
	if !outcome.Charged {
		return outcome, nil
	}
	s.cache.Remove(req.AccountID)
	s.metrics.CreditsSpent.Add(float64(req.Amount))
	s.hub.BroadcastEvent(req.AccountID, websocket.Event{Type: websocket.EventBalance, Data: map[string]any{
		"account_id": req.AccountID,
		"balance":    outcome.NewBalance,
		"reason":     req.Reason,
	}})
	s.publish(ctx, events.KeyCharged, map[string]any{
		"account_id":     req.AccountID,
		"amount":         req.Amount,
		"reason":         req.Reason,
		"transaction_id": outcome.TransactionID,
	})
	return outcome, nil
}

type CreditRequest struct {
	AccountID string
	Amount    int64
	Reason    string
	RefID     *string
	Metadata  string
}

// CreditInTx applies a credit inside a caller-owned transaction. The caller
// must Invalidate the account's cache entry after committing.
func (s *LedgerService) CreditInTx(ctx context.Context, tx *sqlx.Tx, req CreditRequest) (int64, error) {
	if req.Amount <= 0 {
		return 0, ErrInvalidAmount
	}
	if req.RefID != nil {
		exists, err := s.ledger.ExistsRef(ctx, tx, *req.RefID)
		if err != nil {
			return 0, err
		}
		if exists {
			return 0, ErrDuplicateReference
		}
	}
	balance, err := s.accounts.AdjustBalance(ctx, tx, req.AccountID, req.Amount)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, ErrAccountNotFound
		}
		return 0, err
	}
	if err := s.ledger.Append(ctx, tx, store.CreditTransactionInput{
		ID:        uuid.NewString(),
		AccountID: req.AccountID,
		Delta:     req.Amount,
		Reason:    req.Reason,
		RefID:     req.RefID,
		Metadata:  normalizeMetadata(req.Metadata),
	}); err != nil {
		return 0, err
	}
	return balance, nil
}

// Credit grants credits unconditionally. RefID is the idempotency key for
// external events; a replay returns ErrDuplicateReference and changes
// nothing.
func (s *LedgerService) Credit(ctx context.Context, req CreditRequest) (int64, error) {
	var newBalance int64
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		balance, err := s.CreditInTx(ctx, tx, req)
		if err != nil {
			return err
		}
		newBalance = balance
		return nil
	})
	if err != nil {
		if db.IsUniqueViolation(err) {
			return 0, ErrDuplicateReference
		}
		return 0, err
	}
	s.cache.Remove(req.AccountID)
	s.metrics.CreditsGranted.Add(float64(req.Amount))
	s.hub.BroadcastEvent(req.AccountID, websocket.Event{Type: websocket.EventBalance, Data: map[string]any{
		"account_id": req.AccountID,
		"balance":    newBalance,
		"reason":     req.Reason,
	}})
	s.publish(ctx, events.KeyCredited, map[string]any{
		"account_id": req.AccountID,
		"amount":     req.Amount,
		"reason":     req.Reason,
	})
	return newBalance, nil
}

// CalculateCost is pure: catalog base price times the modifier product,
// rounded up.
func (s *LedgerService) CalculateCost(action string, modifiers CostModifiers) (int64, error) {
	cost, ok := s.catalog.ActionCost(action, modifiers)
	if !ok {
		return 0, ErrUnknownAction
	}
	return cost, nil
}

type Affordability struct {
	CanAfford       bool
	Cost            int64
	Balance         int64
	Deficit         int64
	SuggestedBundle int64
}

func (s *LedgerService) CheckAffordability(ctx context.Context, accountID, action string, modifiers CostModifiers) (Affordability, error) {
	cost, err := s.CalculateCost(action, modifiers)
	if err != nil {
		return Affordability{}, err
	}
	balance, err := s.GetBalance(ctx, accountID)
	if err != nil {
		return Affordability{}, err
	}
	result := Affordability{Cost: cost, Balance: balance}
	if balance >= cost {
		result.CanAfford = true
		return result, nil
	}
	result.Deficit = cost - balance
	result.SuggestedBundle = s.catalog.SuggestBundle(result.Deficit)
	return result, nil
}

// ChargeAction prices the action and debits it in one call.
func (s *LedgerService) ChargeAction(ctx context.Context, accountID, action string, modifiers CostModifiers, metadata string) (DebitOutcome, error) {
	cost, err := s.CalculateCost(action, modifiers)
	if err != nil {
		return DebitOutcome{}, err
	}
	return s.TryDebit(ctx, DebitRequest{
		AccountID: accountID,
		Amount:    cost,
		Reason:    ReasonActionCharge,
		Metadata:  metadata,
	})
}

func (s *LedgerService) History(ctx context.Context, accountID, reason string, limit, offset int) ([]map[string]any, error) {
	return s.ledger.ListByAccount(ctx, accountID, reason, limit, offset)
}

// Reconcile recomputes the balance from the transaction log and reports any
// drift from the stored value.
func (s *LedgerService) Reconcile(ctx context.Context, accountID string) (store.AccountBalanceSummary, error) {
	summary, err := s.accounts.GetSummary(ctx, accountID)
	if err != nil {
		if err == sql.ErrNoRows {
			return store.AccountBalanceSummary{}, ErrAccountNotFound
		}
		return store.AccountBalanceSummary{}, err
	}
	return summary, nil
}

func (s *LedgerService) publish(ctx context.Context, routingKey string, payload any) {
	if err := s.events.Publish(ctx, routingKey, payload); err != nil {
		s.log.WithFields(logrus.Fields{"routing_key": routingKey, "error": err}).Warn("event publish failed")
	}
}

func normalizeMetadata(metadata string) string {
	if metadata == "" {
		return "{}"
	}
	return metadata
}
