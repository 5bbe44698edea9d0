package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/DansiDanutz/ZmartBot-sub008/internal/auth"
	"github.com/DansiDanutz/ZmartBot-sub008/internal/middleware"
	"github.com/DansiDanutz/ZmartBot-sub008/internal/services"
	"github.com/DansiDanutz/ZmartBot-sub008/internal/store"
)

func TestCreateAccountGrantsWelcomeBonus(t *testing.T) {
	var createdHandle, createdTier, createdHash string
	var bonus *services.CreditRequest
	ledger := &stubLedger{
		creditInTxFn: func(_ context.Context, _ *sqlx.Tx, req services.CreditRequest) (int64, error) {
			bonus = &req
			return req.Amount, nil
		},
	}
	profileInits := 0
	handler := newTestHandler(handlerDeps{
		accounts: stubAccountStore{
			createFn: func(_ context.Context, _ store.Execer, _, handle, tier, apiKeyHash string) error {
				createdHandle, createdTier, createdHash = handle, tier, apiKeyHash
				return nil
			},
		},
		profiles: stubProfileStore{
			initFn: func(context.Context, store.Execer, string) error {
				profileInits++
				return nil
			},
		},
		ledger: ledger,
	})

	req := httptest.NewRequest(http.MethodPost, "/api/accounts", jsonBody(`{"handle":"trader_42","tier":"free"}`))
	rr := httptest.NewRecorder()
	handler.CreateAccount(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if createdHandle != "trader_42" || createdTier != "free" {
		t.Fatalf("unexpected account row: %s %s", createdHandle, createdTier)
	}
	if createdHash == "" {
		t.Fatalf("api key hash must be stored")
	}
	if profileInits != 1 {
		t.Fatalf("expected profile init, got %d", profileInits)
	}
	if bonus == nil || bonus.Amount != 10 || bonus.Reason != services.ReasonBonus {
		t.Fatalf("expected welcome bonus of 10, got %+v", bonus)
	}
	if len(ledger.invalidated) != 1 {
		t.Fatalf("expected cache invalidation after commit")
	}
	var payload map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if payload["api_key"] == "" {
		t.Fatalf("api key must be returned at provisioning")
	}
}

func TestCreateAccountRejectsBadHandle(t *testing.T) {
	handler := newTestHandler(handlerDeps{})
	req := httptest.NewRequest(http.MethodPost, "/api/accounts", jsonBody(`{"handle":"x"}`))
	rr := httptest.NewRecorder()
	handler.CreateAccount(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestGetBalanceForbiddenForOtherAccount(t *testing.T) {
	handler := newTestHandler(handlerDeps{})
	req := authedRequest(t, http.MethodGet, "/api/accounts/acct-2/balance", "acct-1", auth.RoleAccount, nil,
		map[string]string{"id": "acct-2"})
	rr := httptest.NewRecorder()
	middleware.Auth("secret")(http.HandlerFunc(handler.GetBalance)).ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestGetBalanceServiceRoleMayReadAnyAccount(t *testing.T) {
	handler := newTestHandler(handlerDeps{
		ledger: &stubLedger{
			getBalanceFn: func(context.Context, string) (int64, error) { return 42, nil },
		},
	})
	req := authedRequest(t, http.MethodGet, "/api/accounts/acct-2/balance", "service", auth.RoleService, nil,
		map[string]string{"id": "acct-2"})
	rr := httptest.NewRecorder()
	middleware.Auth("secret")(http.HandlerFunc(handler.GetBalance)).ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var payload map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if payload["balance"] != float64(42) {
		t.Fatalf("unexpected balance: %v", payload["balance"])
	}
}

func TestReconcileReportsDrift(t *testing.T) {
	handler := newTestHandler(handlerDeps{
		ledger: &stubLedger{
			reconcileFn: func(_ context.Context, accountID string) (store.AccountBalanceSummary, error) {
				return store.AccountBalanceSummary{
					ID:                accountID,
					StoredBalance:     12,
					CalculatedBalance: 10,
					Difference:        2,
				}, nil
			},
		},
	})
	req := authedRequest(t, http.MethodGet, "/api/accounts/acct-1/reconcile", "acct-1", auth.RoleAccount, nil,
		map[string]string{"id": "acct-1"})
	rr := httptest.NewRecorder()
	middleware.Auth("secret")(http.HandlerFunc(handler.Reconcile)).ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var payload map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if payload["consistent"] != false || payload["difference"] != float64(2) {
		t.Fatalf("expected drift to be reported, got %#v", payload)
	}
}

func TestListTransactionsPassesFilter(t *testing.T) {
	var gotReason string
	var gotLimit int
	handler := newTestHandler(handlerDeps{
		ledger: &stubLedger{
			historyFn: func(_ context.Context, _, reason string, limit, _ int) ([]map[string]any, error) {
				gotReason, gotLimit = reason, limit
				return []map[string]any{{"delta": int64(-3)}}, nil
			},
		},
	})
	req := authedRequest(t, http.MethodGet, "/api/accounts/acct-1/transactions?reason=alert_charge&limit=500",
		"acct-1", auth.RoleAccount, nil, map[string]string{"id": "acct-1"})
	rr := httptest.NewRecorder()
	middleware.Auth("secret")(http.HandlerFunc(handler.ListTransactions)).ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if gotReason != "alert_charge" {
		t.Fatalf("expected reason filter, got %q", gotReason)
	}
	if gotLimit != maxPageSize {
		t.Fatalf("expected limit clamped to %d, got %d", maxPageSize, gotLimit)
	}
}

func TestGetEngagementNotFound(t *testing.T) {
	handler := newTestHandler(handlerDeps{
		scoring: stubScoring{
			reportFn: func(context.Context, string, time.Time) (map[string]any, error) {
				return nil, services.ErrAccountNotFound
			},
		},
	})
	req := authedRequest(t, http.MethodGet, "/api/accounts/acct-1/engagement", "acct-1", auth.RoleAccount, nil,
		map[string]string{"id": "acct-1"})
	rr := httptest.NewRecorder()
	middleware.Auth("secret")(http.HandlerFunc(handler.GetEngagement)).ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}
