package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/DansiDanutz/ZmartBot-sub008/internal/auth"
	"github.com/DansiDanutz/ZmartBot-sub008/internal/middleware"
	"github.com/DansiDanutz/ZmartBot-sub008/internal/services"
	"github.com/DansiDanutz/ZmartBot-sub008/internal/validator"
)

type actionRequest struct {
	Action   string `json:"action"`
	Realtime bool   `json:"realtime"`
	Premium  bool   `json:"premium"`
	Metadata string `json:"metadata"`
}

func (h *Handler) CheckAffordability(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.AccountIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if err := validator.ValidateAction(req.Action); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := h.ledger.CheckAffordability(r.Context(), accountID, req.Action,
		services.CostModifiers{Realtime: req.Realtime, Premium: req.Premium})
	if err != nil {
		switch err {
		case services.ErrUnknownAction:
			respondError(w, http.StatusBadRequest, "unknown action")
		case services.ErrAccountNotFound:
			respondError(w, http.StatusNotFound, "account not found")
		default:
			respondError(w, http.StatusInternalServerError, "affordability check failed")
		}
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"can_afford":       result.CanAfford,
		"cost":             result.Cost,
		"balance":          result.Balance,
		"deficit":          result.Deficit,
		"suggested_bundle": result.SuggestedBundle,
	})
}

// ChargeAction prices and debits in one call. A refusal for insufficient
// funds is 402 with the deficit and the smallest covering bundle; it is not
// a server error.
func (h *Handler) ChargeAction(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.AccountIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if err := validator.ValidateAction(req.Action); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	outcome, err := h.ledger.ChargeAction(r.Context(), accountID, req.Action,
		services.CostModifiers{Realtime: req.Realtime, Premium: req.Premium}, req.Metadata)
	if err != nil {
		switch err {
		case services.ErrUnknownAction:
			respondError(w, http.StatusBadRequest, "unknown action")
		case services.ErrAccountNotFound:
			respondError(w, http.StatusNotFound, "account not found")
		default:
			respondError(w, http.StatusInternalServerError, "charge failed")
		}
		return
	}
	if !outcome.Charged {
		respondJSON(w, http.StatusPaymentRequired, map[string]any{
			"charged":          false,
			"cost":             outcome.Cost,
			"balance":          outcome.NewBalance,
			"deficit":          outcome.Deficit,
			"suggested_bundle": outcome.SuggestedBundle,
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"charged":        true,
		"cost":           outcome.Cost,
		"balance":        outcome.NewBalance,
		"transaction_id": outcome.TransactionID,
	})
}

type redeemRequest struct {
	Receipt string `json:"receipt"`
}

// RedeemReceipt credits a purchase carrying a provider-signed receipt. The
// receipt reference is the idempotency key: replaying one is a 409 and
// grants nothing.
func (h *Handler) RedeemReceipt(w http.ResponseWriter, r *http.Request) {
	callerID, ok := middleware.AccountIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	receipt, err := auth.ParseReceipt(h.cfg.ReceiptSecret, req.Receipt)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid receipt")
		return
	}
	role, _ := middleware.RoleFromContext(r.Context())
	if role != auth.RoleService && receipt.AccountID != callerID {
		respondError(w, http.StatusForbidden, "receipt issued for another account")
		return
	}
	if receipt.Credits <= 0 || receipt.Reference == "" {
		respondError(w, http.StatusBadRequest, "invalid receipt")
		return
	}
	ref := fmt.Sprintf("purchase:%s", receipt.Reference)
	balance, err := h.ledger.Credit(r.Context(), services.CreditRequest{
		AccountID: receipt.AccountID,
		Amount:    receipt.Credits,
		Reason:    services.ReasonPurchase,
		RefID:     &ref,
	})
	if err != nil {
		switch err {
		case services.ErrDuplicateReference:
			respondError(w, http.StatusConflict, "receipt already redeemed")
		case services.ErrAccountNotFound:
			respondError(w, http.StatusNotFound, "account not found")
		default:
			respondError(w, http.StatusInternalServerError, "credit failed")
		}
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"account_id": receipt.AccountID,
		"credited":   receipt.Credits,
		"balance":    balance,
	})
}
