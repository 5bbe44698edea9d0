package handlers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jmoiron/sqlx"

	"github.com/DansiDanutz/ZmartBot-sub008/internal/auth"
	"github.com/DansiDanutz/ZmartBot-sub008/internal/config"
	"github.com/DansiDanutz/ZmartBot-sub008/internal/services"
	"github.com/DansiDanutz/ZmartBot-sub008/internal/store"
	"github.com/DansiDanutz/ZmartBot-sub008/internal/websocket"
)

type fakeTxRunner struct {
	withTxFn func(ctx context.Context, fn func(*sqlx.Tx) error) error
}

func (f fakeTxRunner) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	if f.withTxFn != nil {
		return f.withTxFn(ctx, fn)
	}
	return fn(nil)
}

type stubAccountStore struct {
	createFn      func(ctx context.Context, tx store.Execer, id, handle, tier, apiKeyHash string) error
	getByIDFn     func(ctx context.Context, accountID string) (store.Account, error)
	getByHandleFn func(ctx context.Context, handle string) (store.Account, error)
}

func (s stubAccountStore) Create(ctx context.Context, tx store.Execer, id, handle, tier, apiKeyHash string) error {
	if s.createFn == nil {
		return nil
	}
	return s.createFn(ctx, tx, id, handle, tier, apiKeyHash)
}

func (s stubAccountStore) GetByID(ctx context.Context, accountID string) (store.Account, error) {
	if s.getByIDFn == nil {
		return store.Account{ID: accountID}, nil
	}
	return s.getByIDFn(ctx, accountID)
}

func (s stubAccountStore) GetByHandle(ctx context.Context, handle string) (store.Account, error) {
	if s.getByHandleFn == nil {
		return store.Account{Handle: handle}, nil
	}
	return s.getByHandleFn(ctx, handle)
}

type stubProfileStore struct {
	initFn func(ctx context.Context, tx store.Execer, accountID string) error
}

func (s stubProfileStore) Init(ctx context.Context, tx store.Execer, accountID string) error {
	if s.initFn == nil {
		return nil
	}
	return s.initFn(ctx, tx, accountID)
}

type stubWatchlistStore struct {
	addFn    func(ctx context.Context, accountID, symbol string, targetPrice *float64) error
	removeFn func(ctx context.Context, accountID, symbol string) (int64, error)
	listFn   func(ctx context.Context, accountID string) ([]store.WatchRow, error)
}

func (s stubWatchlistStore) Add(ctx context.Context, accountID, symbol string, targetPrice *float64) error {
	if s.addFn == nil {
		return nil
	}
	return s.addFn(ctx, accountID, symbol, targetPrice)
}

func (s stubWatchlistStore) Remove(ctx context.Context, accountID, symbol string) (int64, error) {
	if s.removeFn == nil {
		return 1, nil
	}
	return s.removeFn(ctx, accountID, symbol)
}

func (s stubWatchlistStore) ListByAccount(ctx context.Context, accountID string) ([]store.WatchRow, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx, accountID)
}

type stubAlertReader struct {
	listFn        func(ctx context.Context, accountID string, limit, offset int) ([]store.DeliveredAlertRow, error)
	markClickedFn func(ctx context.Context, alertID, accountID string, at time.Time) (int64, error)
}

func (s stubAlertReader) ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]store.DeliveredAlertRow, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx, accountID, limit, offset)
}

func (s stubAlertReader) MarkClicked(ctx context.Context, alertID, accountID string, at time.Time) (int64, error) {
	if s.markClickedFn == nil {
		return 1, nil
	}
	return s.markClickedFn(ctx, alertID, accountID, at)
}

type stubLedger struct {
	getBalanceFn         func(ctx context.Context, accountID string) (int64, error)
	historyFn            func(ctx context.Context, accountID, reason string, limit, offset int) ([]map[string]any, error)
	reconcileFn          func(ctx context.Context, accountID string) (store.AccountBalanceSummary, error)
	checkAffordabilityFn func(ctx context.Context, accountID, action string, modifiers services.CostModifiers) (services.Affordability, error)
	chargeActionFn       func(ctx context.Context, accountID, action string, modifiers services.CostModifiers, metadata string) (services.DebitOutcome, error)
	creditFn             func(ctx context.Context, req services.CreditRequest) (int64, error)
	creditInTxFn         func(ctx context.Context, tx *sqlx.Tx, req services.CreditRequest) (int64, error)
	invalidated          []string
}

func (s *stubLedger) GetBalance(ctx context.Context, accountID string) (int64, error) {
	if s.getBalanceFn == nil {
		return 0, nil
	}
	return s.getBalanceFn(ctx, accountID)
}

func (s *stubLedger) History(ctx context.Context, accountID, reason string, limit, offset int) ([]map[string]any, error) {
	if s.historyFn == nil {
		return nil, nil
	}
	return s.historyFn(ctx, accountID, reason, limit, offset)
}

func (s *stubLedger) Reconcile(ctx context.Context, accountID string) (store.AccountBalanceSummary, error) {
	if s.reconcileFn == nil {
		return store.AccountBalanceSummary{ID: accountID}, nil
	}
	return s.reconcileFn(ctx, accountID)
}

func (s *stubLedger) CheckAffordability(ctx context.Context, accountID, action string, modifiers services.CostModifiers) (services.Affordability, error) {
	if s.checkAffordabilityFn == nil {
		return services.Affordability{}, nil
	}
	return s.checkAffordabilityFn(ctx, accountID, action, modifiers)
}

func (s *stubLedger) ChargeAction(ctx context.Context, accountID, action string, modifiers services.CostModifiers, metadata string) (services.DebitOutcome, error) {
	if s.chargeActionFn == nil {
		return services.DebitOutcome{Charged: true}, nil
	}
	return s.chargeActionFn(ctx, accountID, action, modifiers, metadata)
}

func (s *stubLedger) Credit(ctx context.Context, req services.CreditRequest) (int64, error) {
	if s.creditFn == nil {
		return req.Amount, nil
	}
	return s.creditFn(ctx, req)
}

func (s *stubLedger) CreditInTx(ctx context.Context, tx *sqlx.Tx, req services.CreditRequest) (int64, error) {
	if s.creditInTxFn == nil {
		return req.Amount, nil
	}
	return s.creditInTxFn(ctx, tx, req)
}

func (s *stubLedger) Invalidate(accountID string) {
	s.invalidated = append(s.invalidated, accountID)
}

type stubScoring struct {
	reportFn    func(ctx context.Context, accountID string, now time.Time) (map[string]any, error)
	recomputeFn func(ctx context.Context, accountID string, now time.Time) error
}

func (s stubScoring) Report(ctx context.Context, accountID string, now time.Time) (map[string]any, error) {
	if s.reportFn == nil {
		return map[string]any{"account_id": accountID}, nil
	}
	return s.reportFn(ctx, accountID, now)
}

func (s stubScoring) Recompute(ctx context.Context, accountID string, now time.Time) error {
	if s.recomputeFn == nil {
		return nil
	}
	return s.recomputeFn(ctx, accountID, now)
}

type stubSweeper struct {
	sweepFn func(ctx context.Context, mode string) (int, error)
}

func (s stubSweeper) Sweep(ctx context.Context, mode string) (int, error) {
	if s.sweepFn == nil {
		return 0, nil
	}
	return s.sweepFn(ctx, mode)
}

type stubQueue struct {
	enqueueFn func(accountID, message, response string) (string, error)
	depth     int
}

func (s stubQueue) Enqueue(accountID, message, response string) (string, error) {
	if s.enqueueFn == nil {
		return "job-1", nil
	}
	return s.enqueueFn(accountID, message, response)
}

func (s stubQueue) Depth() int {
	return s.depth
}

type stubLimiter struct {
	allowFn func(ctx context.Context, subject string) (bool, int, error)
}

func (s stubLimiter) Allow(ctx context.Context, subject string) (bool, int, error) {
	if s.allowFn == nil {
		return true, 0, nil
	}
	return s.allowFn(ctx, subject)
}

type handlerDeps struct {
	txRunner  fakeTxRunner
	accounts  stubAccountStore
	profiles  stubProfileStore
	watchlist stubWatchlistStore
	alertLog  stubAlertReader
	ledger    *stubLedger
	scoring   stubScoring
	alerts    stubSweeper
	queue     stubQueue
	limiter   stubLimiter
}

func newTestHandler(deps handlerDeps) *Handler {
	if deps.ledger == nil {
		deps.ledger = &stubLedger{}
	}
	cfg := config.Config{
		AppEnv:         "test",
		Port:           "0",
		JWTSecret:      "secret",
		TokenTTL:       time.Minute,
		ReceiptSecret:  "receipt-secret",
		ServiceAPIKey:  "service-key",
		AllowedOrigins: "*",
		WelcomeBonus:   10,
	}
	return New(
		deps.txRunner,
		cfg,
		deps.accounts,
		deps.profiles,
		deps.watchlist,
		deps.alertLog,
		deps.ledger,
		deps.scoring,
		deps.alerts,
		deps.queue,
		deps.limiter,
		websocket.NewHub(),
	)
}

// authedRequest builds a request carrying a valid bearer token and optional
// chi URL params, ready to run through the Auth middleware.
func authedRequest(t *testing.T, method, target, accountID, role string, body io.Reader, params map[string]string) *http.Request {
	t.Helper()
	token, err := auth.GenerateToken("secret", accountID, role, time.Minute)
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}
	req := httptest.NewRequest(method, target, body)
	req.Header.Set("Authorization", "Bearer "+token)
	if len(params) > 0 {
		routeCtx := chi.NewRouteContext()
		for key, value := range params {
			routeCtx.URLParams.Add(key, value)
		}
		req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))
	}
	return req
}

func jsonBody(raw string) io.Reader {
	return strings.NewReader(raw)
}
