package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/DansiDanutz/ZmartBot-sub008/internal/db"
	"github.com/DansiDanutz/ZmartBot-sub008/internal/events"
	"github.com/DansiDanutz/ZmartBot-sub008/internal/metrics"
	"github.com/DansiDanutz/ZmartBot-sub008/internal/models"
	"github.com/DansiDanutz/ZmartBot-sub008/internal/store"
)

var ErrQueueFull = errors.New("queue full")

type QueueScoring interface {
	RecordActivity(ctx context.Context, tx *sqlx.Tx, accountID string, now time.Time) (int, error)
	GrantMilestones(ctx context.Context, accountID string, streakDays, messageCount int, now time.Time) ([]string, error)
	DailyLoginBonus(ctx context.Context, accountID string, now time.Time) (bool, error)
	VariableReward(ctx context.Context, accountID string, now time.Time) (int64, error)
	Recompute(ctx context.Context, accountID string, now time.Time) error
}

type QueueMessageStore interface {
	Insert(ctx context.Context, tx store.Execer, input store.MessageInput) error
	ActiveAccountsSince(ctx context.Context, since time.Time) ([]string, error)
	CountByAccount(ctx context.Context, accountID string) (int, error)
}

type SummaryDeliverer interface {
	DeliverSummary(ctx context.Context, accountID string, now time.Time) error
}

type JobRunLog interface {
	Begin(ctx context.Context, id, name, periodKey string) (bool, error)
	Finish(ctx context.Context, id, status, detail string) error
}

// QueueProcessor decouples per-message analysis from the request path. The
// message handler enqueues without blocking; a drain tick works the backlog
// in batches. A job failure is recorded and emitted, never retried here.
type QueueProcessor struct {
	jobs      chan models.ProcessingJob
	batchSize int

	txRunner  db.TxRunner
	messages  QueueMessageStore
	scoring   QueueScoring
	summaries SummaryDeliverer
	jobRuns   JobRunLog
	events    EventPublisher
	metrics   *metrics.Metrics
	log       *logrus.Logger
	now       func() time.Time
}

func NewQueueProcessor(
	txRunner db.TxRunner,
	messages QueueMessageStore,
	scoring QueueScoring,
	summaries SummaryDeliverer,
	jobRuns JobRunLog,
	publisher EventPublisher,
	m *metrics.Metrics,
	maxDepth, batchSize int,
	log *logrus.Logger,
) *QueueProcessor {
	return &QueueProcessor{
		jobs:      make(chan models.ProcessingJob, maxDepth),
		batchSize: batchSize,
		txRunner:  txRunner,
		messages:  messages,
		scoring:   scoring,
		summaries: summaries,
		jobRuns:   jobRuns,
		events:    publisher,
		metrics:   m,
		log:       log,
		now:       time.Now,
	}
}

// Enqueue accepts a message/response pair without blocking the caller.
// Returns ErrQueueFull when the backlog is at capacity.
func (q *QueueProcessor) Enqueue(accountID, message, response string) (string, error) {
	job := models.ProcessingJob{
		ID:         uuid.NewString(),
		AccountID:  accountID,
		Message:    message,
		Response:   response,
		Status:     models.JobPending,
		EnqueuedAt: q.now(),
	}
	select {
	case q.jobs <- job:
		q.metrics.QueueDepth.Set(float64(len(q.jobs)))
		return job.ID, nil
	default:
		return "", ErrQueueFull
	}
}

// Depth reports the current backlog size.
func (q *QueueProcessor) Depth() int {
	return len(q.jobs)
}

// DrainOnce processes up to one batch. Each job is independent: a failure is
// counted, emitted, and the batch keeps going.
func (q *QueueProcessor) DrainOnce(ctx context.Context) int {
	processed := 0
	for processed < q.batchSize {
		select {
		case job := <-q.jobs:
			q.process(ctx, job)
			processed++
		default:
			q.metrics.QueueDepth.Set(float64(len(q.jobs)))
			return processed
		}
	}
	q.metrics.QueueDepth.Set(float64(len(q.jobs)))
	return processed
}

func (q *QueueProcessor) process(ctx context.Context, job models.ProcessingJob) {
	if err := q.handle(ctx, job); err != nil {
		q.metrics.JobsProcessed.WithLabelValues(models.JobFailed).Inc()
		q.log.WithFields(logrus.Fields{"job_id": job.ID, "account_id": job.AccountID, "error": err}).Warn("message job failed")
		q.publish(ctx, events.KeyJobFailed, map[string]any{
			"job_id":     job.ID,
			"account_id": job.AccountID,
			"error":      err.Error(),
		})
		return
	}
	q.metrics.JobsProcessed.WithLabelValues(models.JobCompleted).Inc()
}

func (q *QueueProcessor) handle(ctx context.Context, job models.ProcessingJob) error {
	now := q.now()
	topic, category := analyzeMessage(job.Message)
	var streak int
	err := q.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := q.messages.Insert(ctx, tx, store.MessageInput{
			ID:            job.ID,
			AccountID:     job.AccountID,
			Content:       job.Message,
			Response:      job.Response,
			Topic:         topic,
			Category:      category,
			ContentLength: len([]rune(job.Message)),
		}); err != nil {
			return err
		}
		days, err := q.scoring.RecordActivity(ctx, tx, job.AccountID, now)
		if err != nil {
			return err
		}
		streak = days
		return nil
	})
	if err != nil {
		if db.IsUniqueViolation(err) {
			// Same job id seen twice; the first run already counted it.
			return nil
		}
		return err
	}
	count, err := q.messages.CountByAccount(ctx, job.AccountID)
	if err != nil {
		return err
	}
	if _, err := q.scoring.DailyLoginBonus(ctx, job.AccountID, now); err != nil {
		return err
	}
	if _, err := q.scoring.GrantMilestones(ctx, job.AccountID, streak, count, now); err != nil {
		return err
	}
	if _, err := q.scoring.VariableReward(ctx, job.AccountID, now); err != nil {
		return err
	}
	return nil
}

// RunEngagementSweep recomputes scores for every account active in the
// trailing 24 hours. Driven hourly by the scheduler.
func (q *QueueProcessor) RunEngagementSweep(ctx context.Context) {
	now := q.now()
	accountIDs, err := q.messages.ActiveAccountsSince(ctx, now.Add(-24*time.Hour))
	if err != nil {
		q.log.WithField("error", err).Error("engagement sweep aborted")
		return
	}
	for _, accountID := range accountIDs {
		if ctx.Err() != nil {
			return
		}
		if err := q.scoring.Recompute(ctx, accountID, now); err != nil {
			q.log.WithFields(logrus.Fields{"account_id": accountID, "error": err}).Warn("recompute failed")
		}
	}
}

// RunDailyRollup emits the daily digest for every active account. The
// (name, period_key) claim in job_runs makes a second run for the same day a
// no-op before any side effect, and each digest is additionally deduplicated
// by its calendar-day trigger window.
func (q *QueueProcessor) RunDailyRollup(ctx context.Context) {
	now := q.now()
	periodKey := now.UTC().Format("2006-01-02")
	runID := uuid.NewString()
	claimed, err := q.jobRuns.Begin(ctx, runID, "daily_rollup", periodKey)
	if err != nil {
		q.log.WithField("error", err).Error("daily rollup aborted")
		return
	}
	if !claimed {
		q.log.WithField("period", periodKey).Info("daily rollup already ran for this period")
		return
	}
	accountIDs, err := q.messages.ActiveAccountsSince(ctx, now.Add(-24*time.Hour))
	if err != nil {
		_ = q.jobRuns.Finish(ctx, runID, models.JobFailed, err.Error())
		return
	}
	failures := 0
	for _, accountID := range accountIDs {
		if ctx.Err() != nil {
			break
		}
		if err := q.summaries.DeliverSummary(ctx, accountID, now); err != nil {
			failures++
			q.log.WithFields(logrus.Fields{"account_id": accountID, "error": err}).Warn("summary delivery failed")
		}
	}
	status := models.JobCompleted
	if failures > 0 {
		status = models.JobFailed
	}
	_ = q.jobRuns.Finish(ctx, runID, status, fmt.Sprintf("accounts=%d failures=%d", len(accountIDs), failures))
}

func (q *QueueProcessor) publish(ctx context.Context, routingKey string, payload any) {
	if err := q.events.Publish(ctx, routingKey, payload); err != nil {
		q.log.WithFields(logrus.Fields{"routing_key": routingKey, "error": err}).Warn("event publish failed")
	}
}

var hypeWords = []string{"moon", "pump", "fomo", "rocket", "ape", "100x", "lambo"}

var topicKeywords = []struct {
	topic string
	words []string
}{
	{TopicPrice, []string{"price", "worth", "cost", "ath", "dip", "buy", "sell"}},
	{TopicTechnical, []string{"rsi", "macd", "support", "resistance", "chart", "indicator", "trend"}},
	{TopicPortfolio, []string{"portfolio", "holdings", "balance", "allocation", "pnl"}},
	{TopicDefi, []string{"defi", "staking", "yield", "liquidity", "airdrop"}},
	{TopicNews, []string{"news", "announcement", "regulation", "etf", "halving"}},
}

// analyzeMessage tags one inbound message with a topic and a category. First
// keyword list that matches wins, so classification stays deterministic.
func analyzeMessage(content string) (topic, category string) {
	lower := strings.ToLower(content)

	category = CategoryChat
	switch {
	case strings.HasPrefix(strings.TrimSpace(lower), "/"):
		category = CategoryCommand
	case containsAny(lower, hypeWords):
		category = CategoryHype
	case strings.Contains(content, "?"):
		category = CategoryQuestion
	}

	topic = TopicGeneral
	for _, entry := range topicKeywords {
		if containsAny(lower, entry.words) {
			topic = entry.topic
			break
		}
	}
	return topic, category
}

func containsAny(text string, words []string) bool {
	for _, word := range words {
		if strings.Contains(text, word) {
			return true
		}
	}
	return false
}
