package main

import (
	"context"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/DansiDanutz/ZmartBot-sub008/internal/config"
	"github.com/DansiDanutz/ZmartBot-sub008/internal/db"
	"github.com/DansiDanutz/ZmartBot-sub008/internal/events"
	"github.com/DansiDanutz/ZmartBot-sub008/internal/handlers"
	"github.com/DansiDanutz/ZmartBot-sub008/internal/market"
	"github.com/DansiDanutz/ZmartBot-sub008/internal/metrics"
	"github.com/DansiDanutz/ZmartBot-sub008/internal/ratelimit"
	"github.com/DansiDanutz/ZmartBot-sub008/internal/scheduler"
	"github.com/DansiDanutz/ZmartBot-sub008/internal/services"
	"github.com/DansiDanutz/ZmartBot-sub008/internal/store"
	"github.com/DansiDanutz/ZmartBot-sub008/internal/websocket"
)

func main() {
	cfg := config.Load()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	if cfg.AppEnv == "development" {
		log.SetFormatter(&logrus.TextFormatter{})
		log.SetLevel(logrus.DebugLevel)
	}

	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		log.WithField("error", err).Fatal("failed to connect database")
	}
	defer database.Close()

	accounts := store.NewAccountStore(database)
	ledgerLog := store.NewLedgerStore(database)
	profiles := store.NewProfileStore(database)
	alertLog := store.NewAlertStore(database)
	messages := store.NewMessageStore(database)
	watchlists := store.NewWatchlistStore(database)
	jobRuns := store.NewJobRunStore(database)
	txRunner := db.NewTxRunner(database)

	hub := websocket.NewHub()
	m := metrics.New(prometheus.DefaultRegisterer)
	catalog := services.NewCatalog(cfg)

	var publisher events.Publisher
	if cfg.AMQPURL != "" {
		producer, err := events.NewProducer(cfg.AMQPURL, cfg.EventsExchange, log)
		if err != nil {
			log.WithField("error", err).Fatal("failed to connect event broker")
		}
		publisher = producer
	} else {
		publisher = events.NewFallback(log)
	}
	defer publisher.Close()

	var redisClient redis.UniversalClient
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		defer redisClient.Close()
	}
	limiter := ratelimit.New(redisClient, "enqueue", cfg.EnqueueRateLimit, cfg.EnqueueRateWindow)

	ledger := services.NewLedgerService(txRunner, accounts, ledgerLog, catalog,
		cfg.BalanceCacheSize, cfg.BalanceCacheTTL, hub, publisher, m, log)
	random := rand.New(rand.NewSource(time.Now().UnixNano()))
	scoring := services.NewScoringService(txRunner, profiles, messages, alertLog,
		ledger, publisher, hub, random, cfg, log)
	source := market.NewHTTPSource(cfg.MarketBaseURL, cfg.MarketTimeout)
	alerts := services.NewAlertService(ledger, accounts, profiles, watchlists, alertLog,
		source, catalog, hub, publisher, m, cfg, log)
	queue := services.NewQueueProcessor(txRunner, messages, scoring, alerts, jobRuns,
		publisher, m, cfg.QueueMaxDepth, cfg.QueueBatchSize, log)

	criticalSweep := scheduler.NewLoop("critical_sweep", cfg.CriticalSweepEvery, cfg.SweepDeadline,
		func(ctx context.Context) {
			if _, err := alerts.Sweep(ctx, services.SweepCritical); err != nil {
				log.WithField("error", err).Error("critical sweep failed")
			}
		}, log)
	fullSweep := scheduler.NewLoop("full_sweep", cfg.FullSweepEvery, cfg.SweepDeadline,
		func(ctx context.Context) {
			if _, err := alerts.Sweep(ctx, services.SweepFull); err != nil {
				log.WithField("error", err).Error("full sweep failed")
			}
		}, log)
	queueDrain := scheduler.NewLoop("queue_drain", cfg.QueueTick, cfg.JobDeadline,
		func(ctx context.Context) {
			queue.DrainOnce(ctx)
			m.QueueDepth.Set(float64(queue.Depth()))
		}, log)
	criticalSweep.Start()
	fullSweep.Start()
	queueDrain.Start()

	cron := scheduler.NewCron(log)
	cron.Add(cfg.EngagementCron, "engagement_sweep", func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.SweepDeadline)
		defer cancel()
		queue.RunEngagementSweep(ctx)
	})
	cron.Add(cfg.RollupCron, "daily_rollup", func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.SweepDeadline)
		defer cancel()
		queue.RunDailyRollup(ctx)
	})
	cron.Start()

	handler := handlers.New(txRunner, cfg, accounts, profiles, watchlists, alertLog,
		ledger, scoring, alerts, queue, limiter, hub)
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.WithField("addr", server.Addr).Info("engine API listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithField("error", err).Fatal("server error")
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	<-shutdown

	criticalSweep.Stop()
	fullSweep.Stop()
	queueDrain.Stop()
	<-cron.Stop().Done()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.WithField("error", err).Fatal("shutdown error")
	}
}
