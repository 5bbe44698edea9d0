package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/DansiDanutz/ZmartBot-sub008/internal/config"
	"github.com/DansiDanutz/ZmartBot-sub008/internal/db"
	"github.com/DansiDanutz/ZmartBot-sub008/internal/middleware"
	"github.com/DansiDanutz/ZmartBot-sub008/internal/websocket"
)

type Handler struct {
	txRunner  db.TxRunner
	cfg       config.Config
	accounts  AccountStore
	profiles  ProfileStore
	watchlist WatchlistStore
	alertLog  AlertReader
	ledger    Ledger
	scoring   Scoring
	alerts    AlertSweeper
	queue     MessageQueue
	limiter   RateLimiter
	hub       *websocket.Hub
}

func New(
	txRunner db.TxRunner,
	cfg config.Config,
	accounts AccountStore,
	profiles ProfileStore,
	watchlist WatchlistStore,
	alertLog AlertReader,
	ledger Ledger,
	scoring Scoring,
	alerts AlertSweeper,
	queue MessageQueue,
	limiter RateLimiter,
	hub *websocket.Hub,
) *Handler {
	return &Handler{
		txRunner:  txRunner,
		cfg:       cfg,
		accounts:  accounts,
		profiles:  profiles,
		watchlist: watchlist,
		alertLog:  alertLog,
		ledger:    ledger,
		scoring:   scoring,
		alerts:    alerts,
		queue:     queue,
		limiter:   limiter,
		hub:       hub,
	}
}

func (h *Handler) Routes() http.Handler {
	router := chi.NewRouter()
	router.Use(chimiddleware.Logger)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{h.cfg.AllowedOrigins},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.Route("/api", func(r chi.Router) {
		r.Post("/accounts", h.CreateAccount)
		r.Post("/auth/token", h.IssueToken)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(h.cfg.JWTSecret))
			r.Get("/accounts/{id}/balance", h.GetBalance)
			r.Get("/accounts/{id}/transactions", h.ListTransactions)
			r.Get("/accounts/{id}/engagement", h.GetEngagement)
			r.Get("/accounts/{id}/alerts", h.ListAlerts)
			r.Get("/accounts/{id}/reconcile", h.Reconcile)
			r.Get("/accounts/{id}/watchlist", h.ListWatchlist)
			r.Post("/accounts/{id}/watchlist", h.AddWatch)
			r.Delete("/accounts/{id}/watchlist/{symbol}", h.RemoveWatch)
			r.Post("/affordability", h.CheckAffordability)
			r.Post("/charges", h.ChargeAction)
			r.Post("/credits", h.RedeemReceipt)
			r.Post("/messages", h.EnqueueMessage)
			r.Post("/alerts/{id}/click", h.ClickAlert)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(h.cfg.JWTSecret))
			r.Use(middleware.RequireService)
			r.Post("/ops/sweeps", h.RunSweep)
			r.Post("/ops/recompute", h.RecomputeAccount)
		})
	})

	router.Get("/ws", h.WSEvents)
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return router
}
