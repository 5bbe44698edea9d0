package handlers

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/DansiDanutz/ZmartBot-sub008/internal/auth"
	"github.com/DansiDanutz/ZmartBot-sub008/internal/db"
	"github.com/DansiDanutz/ZmartBot-sub008/internal/services"
	"github.com/DansiDanutz/ZmartBot-sub008/internal/validator"
)

type createAccountRequest struct {
	Handle string `json:"handle"`
	Tier   string `json:"tier"`
}

// CreateAccount provisions the account row, its engagement profile, and the
// welcome bonus in one transaction. The API key is returned exactly once;
// only its hash is stored.
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if err := validator.ValidateHandle(req.Handle); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Tier == "" {
		req.Tier = "free"
	}
	if err := validator.ValidateTier(req.Tier); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	apiKey, err := auth.NewAPIKey()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to issue api key")
		return
	}
	apiKeyHash, err := auth.HashAPIKey(apiKey)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to secure api key")
		return
	}
	accountID := uuid.NewString()
	var balance int64
	err = h.txRunner.WithTx(r.Context(), func(tx *sqlx.Tx) error {
		if err := h.accounts.Create(r.Context(), tx, accountID, req.Handle, req.Tier, apiKeyHash); err != nil {
			return err
		}
		if err := h.profiles.Init(r.Context(), tx, accountID); err != nil {
			return err
		}
		if h.cfg.WelcomeBonus <= 0 {
			return nil
		}
		ref := fmt.Sprintf("welcome:%s", accountID)
		newBalance, err := h.ledger.CreditInTx(r.Context(), tx, services.CreditRequest{
			AccountID: accountID,
			Amount:    h.cfg.WelcomeBonus,
			Reason:    services.ReasonBonus,
			RefID:     &ref,
		})
		if err != nil {
			return err
		}
		balance = newBalance
		return nil
	})
	if err != nil {
		if db.IsUniqueViolation(err) {
			respondError(w, http.StatusConflict, "handle already exists")
			return
		}
		respondError(w, http.StatusInternalServerError, "account creation failed")
		return
	}
	h.ledger.Invalidate(accountID)
	respondJSON(w, http.StatusCreated, map[string]any{
		"account_id": accountID,
		"handle":     req.Handle,
		"tier":       req.Tier,
		"api_key":    apiKey,
		"balance":    balance,
	})
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")
	if !requireAccount(w, r, accountID) {
		return
	}
	balance, err := h.ledger.GetBalance(r.Context(), accountID)
	if err != nil {
		if err == services.ErrAccountNotFound {
			respondError(w, http.StatusNotFound, "account not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "unable to load balance")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"account_id": accountID,
		"balance":    balance,
	})
}

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")
	if !requireAccount(w, r, accountID) {
		return
	}
	limit, offset := parsePagination(r)
	reason := r.URL.Query().Get("reason")
	transactions, err := h.ledger.History(r.Context(), accountID, reason, limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load transactions")
		return
	}
	if transactions == nil {
		transactions = []map[string]any{}
	}
	respondJSON(w, http.StatusOK, transactions)
}

func (h *Handler) GetEngagement(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")
	if !requireAccount(w, r, accountID) {
		return
	}
	report, err := h.scoring.Report(r.Context(), accountID, time.Now().UTC())
	if err != nil {
		if err == services.ErrAccountNotFound || err == sql.ErrNoRows {
			respondError(w, http.StatusNotFound, "account not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "unable to load engagement")
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// Reconcile reports the stored balance against the transaction-log sum; a
// nonzero difference means the ledger invariant was broken.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")
	if !requireAccount(w, r, accountID) {
		return
	}
	summary, err := h.ledger.Reconcile(r.Context(), accountID)
	if err != nil {
		if err == services.ErrAccountNotFound {
			respondError(w, http.StatusNotFound, "account not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "unable to reconcile")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"account_id":         summary.ID,
		"handle":             summary.Handle,
		"tier":               summary.Tier,
		"stored_balance":     summary.StoredBalance,
		"calculated_balance": summary.CalculatedBalance,
		"difference":         summary.Difference,
		"consistent":         summary.Difference == 0,
	})
}
