package services

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/DansiDanutz/ZmartBot-sub008/internal/config"
	"github.com/DansiDanutz/ZmartBot-sub008/internal/db"
	"github.com/DansiDanutz/ZmartBot-sub008/internal/events"
	"github.com/DansiDanutz/ZmartBot-sub008/internal/market"
	"github.com/DansiDanutz/ZmartBot-sub008/internal/metrics"
	"github.com/DansiDanutz/ZmartBot-sub008/internal/store"
	"github.com/DansiDanutz/ZmartBot-sub008/internal/websocket"
)

// Sweep modes. The critical cadence runs often and delivers only
// critical-tier candidates; the full cadence runs everything.
const (
	SweepCritical = "critical"
	SweepFull     = "full"
)

// Candidate is an unpriced, undelivered alert produced by one detector rule.
// Candidates live only for the duration of one sweep.
type Candidate struct {
	Type          string
	Priority      string
	Symbol        string
	BaseCost      int64
	FomoFlag      bool
	Score         float64
	TriggerWindow string
	Detail        string
}

type AlertLedger interface {
	TryDebit(ctx context.Context, req DebitRequest) (DebitOutcome, error)
}

type AlertAccountStore interface {
	GetByID(ctx context.Context, accountID string) (store.Account, error)
}

type AlertProfileStore interface {
	Get(ctx context.Context, accountID string) (store.ProfileRow, error)
}

type AlertWatchlistStore interface {
	AccountIDs(ctx context.Context) ([]string, error)
	ListByAccount(ctx context.Context, accountID string) ([]store.WatchRow, error)
}

type DeliveredAlertStore interface {
	Insert(ctx context.Context, tx store.Execer, input store.DeliveredAlertInput) error
	Exists(ctx context.Context, accountID, alertType, symbol, triggerWindow string) (bool, error)
	CountSince(ctx context.Context, accountID string, since time.Time) (int, error)
}

// AlertService runs the per-account sweep pipeline: generate candidates from
// detector rules, price them from the catalog, rank them by engagement score,
// and deliver each through a conditional ledger debit. The delivered-alert
// insert rides inside the debit transaction, so a row exists iff its charge
// committed.
type AlertService struct {
	ledger     AlertLedger
	accounts   AlertAccountStore
	profiles   AlertProfileStore
	watchlists AlertWatchlistStore
	alerts     DeliveredAlertStore
	source     market.Source
	catalog    *Catalog
	hub        EventHub
	events     EventPublisher
	metrics    *metrics.Metrics
	log        *logrus.Logger
	now        func() time.Time

	proximity     float64
	breakout      float64
	oscLow        float64
	oscHigh       float64
	whaleMinUSD   float64
	volumeRatio   float64
	fomoThreshold float64
}

func NewAlertService(
	ledger AlertLedger,
	accounts AlertAccountStore,
	profiles AlertProfileStore,
	watchlists AlertWatchlistStore,
	alerts DeliveredAlertStore,
	source market.Source,
	catalog *Catalog,
	hub EventHub,
	publisher EventPublisher,
	m *metrics.Metrics,
	cfg config.Config,
	log *logrus.Logger,
) *AlertService {
	return &AlertService{
		ledger:        ledger,
		accounts:      accounts,
		profiles:      profiles,
		watchlists:    watchlists,
		alerts:        alerts,
		source:        source,
		catalog:       catalog,
		hub:           hub,
		events:        publisher,
		metrics:       m,
		log:           log,
		now:           time.Now,
		proximity:     cfg.PriceTargetProximity,
		breakout:      cfg.BreakoutThreshold,
		oscLow:        cfg.OscillatorLow,
		oscHigh:       cfg.OscillatorHigh,
		whaleMinUSD:   cfg.WhaleMinUSD,
		volumeRatio:   cfg.VolumeSpikeRatio,
		fomoThreshold: cfg.FomoBoostThreshold,
	}
}

// Sweep runs one cycle over every account with a watchlist. A failing account
// never blocks the rest. Returns the number of alerts delivered.
func (s *AlertService) Sweep(ctx context.Context, mode string) (int, error) {
	started := s.now()
	accountIDs, err := s.watchlists.AccountIDs(ctx)
	if err != nil {
		return 0, err
	}
	delivered := 0
	for _, accountID := range accountIDs {
		if ctx.Err() != nil {
			break
		}
		count, err := s.sweepAccount(ctx, accountID, mode)
		if err != nil {
			s.log.WithFields(logrus.Fields{"account_id": accountID, "mode": mode, "error": err}).Warn("account sweep failed")
			continue
		}
		delivered += count
	}
	s.metrics.SweepDuration.WithLabelValues(mode).Observe(s.now().Sub(started).Seconds())
	return delivered, nil
}

func (s *AlertService) sweepAccount(ctx context.Context, accountID, mode string) (int, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return 0, err
	}
	now := s.now()
	remaining, err := s.remainingDailyCap(ctx, accountID, account.Tier, now)
	if err != nil {
		return 0, err
	}
	if remaining <= 0 {
		return 0, nil
	}
	watched, err := s.watchlists.ListByAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}
	if len(watched) == 0 {
		return 0, nil
	}
	profile, err := s.profiles.Get(ctx, accountID)
	if err != nil {
		// Missing profile degrades to neutral boosts, never blocks a sweep.
		profile = store.ProfileRow{AccountID: accountID, TradingStyle: StyleObserver, BestHours: "[]"}
	}

	candidates := s.generate(ctx, watched, now)
	if mode == SweepCritical {
		candidates = filterPriority(candidates, PriorityCritical)
	}
	if len(candidates) == 0 {
		return 0, nil
	}
	s.price(candidates)
	s.rank(candidates, profile, now.UTC().Hour())

	delivered := 0
	for i := range candidates {
		if remaining <= 0 {
			break
		}
		ok, err := s.deliver(ctx, accountID, &candidates[i])
		if err != nil {
			s.log.WithFields(logrus.Fields{
				"account_id": accountID,
				"symbol":     candidates[i].Symbol,
				"type":       candidates[i].Type,
				"error":      err,
			}).Warn("candidate delivery failed")
			continue
		}
		if ok {
			delivered++
			remaining--
		}
	}
	return delivered, nil
}

// generate evaluates every detector rule against the latest snapshot of each
// watched symbol. A bad symbol is skipped, not fatal.
func (s *AlertService) generate(ctx context.Context, watched []store.WatchRow, now time.Time) []Candidate {
	window := now.UTC().Format("2006-01-02T15")
	var candidates []Candidate
	for _, watch := range watched {
		snap, err := s.source.GetSnapshot(ctx, watch.Symbol)
		if err != nil {
			s.log.WithFields(logrus.Fields{"symbol": watch.Symbol, "error": err}).Warn("market snapshot failed")
			continue
		}
		candidates = append(candidates, s.detect(watch, snap, window)...)
	}
	return candidates
}

func (s *AlertService) detect(watch store.WatchRow, snap market.Snapshot, window string) []Candidate {
	var out []Candidate
	if watch.TargetPrice != nil && *watch.TargetPrice > 0 {
		distance := math.Abs(snap.Price-*watch.TargetPrice) / *watch.TargetPrice
		if distance <= s.proximity {
			out = append(out, Candidate{
				Type:          AlertPriceTarget,
				Priority:      PriorityCritical,
				Symbol:        watch.Symbol,
				TriggerWindow: window,
				Detail:        fmt.Sprintf(`{"price":%g,"target":%g}`, snap.Price, *watch.TargetPrice),
			})
		}
	}
	if math.Abs(snap.Change24h) >= s.breakout {
		out = append(out, Candidate{
			Type:          AlertBreakout,
			Priority:      PriorityImportant,
			Symbol:        watch.Symbol,
			FomoFlag:      snap.Change24h > 0,
			TriggerWindow: window,
			Detail:        fmt.Sprintf(`{"change_24h":%g}`, snap.Change24h),
		})
	}
	if rsi, ok := snap.Indicators["rsi"]; ok && (rsi <= s.oscLow || rsi >= s.oscHigh) {
		out = append(out, Candidate{
			Type:          AlertIndicator,
			Priority:      PriorityStandard,
			Symbol:        watch.Symbol,
			FomoFlag:      rsi >= s.oscHigh,
			TriggerWindow: window,
			Detail:        fmt.Sprintf(`{"rsi":%g}`, rsi),
		})
	}
	for _, transfer := range snap.LargeTransfers {
		if transfer.AmountUSD >= s.whaleMinUSD {
			out = append(out, Candidate{
				Type:          AlertWhale,
				Priority:      PriorityImportant,
				Symbol:        watch.Symbol,
				FomoFlag:      true,
				TriggerWindow: window,
				Detail:        fmt.Sprintf(`{"amount_usd":%g,"direction":%q}`, transfer.AmountUSD, transfer.Direction),
			})
			break
		}
	}
	if snap.AvgVolume > 0 && snap.Volume24h >= s.volumeRatio*snap.AvgVolume {
		out = append(out, Candidate{
			Type:          AlertActivity,
			Priority:      PriorityStandard,
			Symbol:        watch.Symbol,
			FomoFlag:      true,
			TriggerWindow: window,
			Detail:        fmt.Sprintf(`{"volume_24h":%g,"avg_volume":%g}`, snap.Volume24h, snap.AvgVolume),
		})
	}
	return out
}

func (s *AlertService) price(candidates []Candidate) {
	for i := range candidates {
		candidates[i].BaseCost = s.catalog.AlertCost(candidates[i].Type, candidates[i].Priority)
	}
}

// rank scores each candidate and sorts the batch descending. Ties go to the
// higher base cost; symbol and type keep the order deterministic beyond that.
func (s *AlertService) rank(candidates []Candidate, profile store.ProfileRow, hour int) {
	best := decodeHours(profile.BestHours)
	for i := range candidates {
		candidates[i].Score = s.scoreCandidate(candidates[i], profile, best, hour)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		if candidates[i].BaseCost != candidates[j].BaseCost {
			return candidates[i].BaseCost > candidates[j].BaseCost
		}
		if candidates[i].Symbol != candidates[j].Symbol {
			return candidates[i].Symbol < candidates[j].Symbol
		}
		return candidates[i].Type < candidates[j].Type
	})
}

var engagementMultiplier = map[string]float64{
	AlertPriceTarget: 2.0,
	AlertBreakout:    1.6,
	AlertWhale:       1.5,
	AlertIndicator:   1.3,
	AlertActivity:    1.2,
	AlertSummary:     1.0,
}

var styleBoosts = map[string]map[string]float64{
	StyleDaytrader: {AlertPriceTarget: 1.3, AlertBreakout: 1.4, AlertActivity: 1.2},
	StyleAnalyst:   {AlertIndicator: 1.4, AlertPriceTarget: 1.2},
	StyleInvestor:  {AlertWhale: 1.3, AlertSummary: 1.2},
	StyleExplorer:  {AlertWhale: 1.2, AlertActivity: 1.3},
	StyleMomentum:  {AlertBreakout: 1.5, AlertActivity: 1.3},
}

func (s *AlertService) scoreCandidate(c Candidate, profile store.ProfileRow, bestHours map[int]struct{}, hour int) float64 {
	score, ok := engagementMultiplier[c.Type]
	if !ok {
		score = 1.0
	}
	if boost, ok := styleBoosts[profile.TradingStyle][c.Type]; ok {
		score *= boost
	}
	if c.FomoFlag && profile.FomoScore >= s.fomoThreshold {
		score *= 1.5
	}
	if _, ok := bestHours[hour]; ok {
		score *= 1.25
	}
	return score
}

// deliver charges one candidate and persists it inside the same transaction.
// A refusal for insufficient funds is recorded and the caller moves on to the
// next candidate; an already-delivered duplicate is silently skipped.
func (s *AlertService) deliver(ctx context.Context, accountID string, c *Candidate) (bool, error) {
	exists, err := s.alerts.Exists(ctx, accountID, c.Type, c.Symbol, c.TriggerWindow)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	alertID := uuid.NewString()
	outcome, err := s.ledger.TryDebit(ctx, DebitRequest{
		AccountID: accountID,
		Amount:    c.BaseCost,
		Reason:    ReasonAlertCharge,
		Metadata:  fmt.Sprintf(`{"alert_id":%q,"symbol":%q,"type":%q}`, alertID, c.Symbol, c.Type),
		Attach: func(tx *sqlx.Tx) error {
			return s.alerts.Insert(ctx, tx, store.DeliveredAlertInput{
				ID:            alertID,
				AccountID:     accountID,
				AlertType:     c.Type,
				Priority:      c.Priority,
				Symbol:        c.Symbol,
				Cost:          c.BaseCost,
				Score:         c.Score,
				TriggerWindow: c.TriggerWindow,
			})
		},
	})
	if err != nil {
		// The unique (account, type, symbol, window) index caught a concurrent
		// duplicate; the whole debit rolled back with it.
		if db.IsUniqueViolation(err) {
			return false, nil
		}
		return false, err
	}
	if !outcome.Charged {
		s.metrics.AlertsRefused.Inc()
		s.publish(ctx, events.KeyAlertRefused, map[string]any{
			"account_id":       accountID,
			"symbol":           c.Symbol,
			"type":             c.Type,
			"cost":             c.BaseCost,
			"deficit":          outcome.Deficit,
			"suggested_bundle": outcome.SuggestedBundle,
		})
		return false, nil
	}
	s.metrics.AlertsDelivered.WithLabelValues(c.Priority).Inc()
	s.hub.BroadcastEvent(accountID, websocket.Event{Type: websocket.EventAlert, Data: map[string]any{
		"id":       alertID,
		"symbol":   c.Symbol,
		"type":     c.Type,
		"priority": c.Priority,
		"cost":     c.BaseCost,
		"score":    c.Score,
		"detail":   json.RawMessage(normalizeDetail(c.Detail)),
	}})
	s.publish(ctx, events.KeyAlertDelivered, map[string]any{
		"id":         alertID,
		"account_id": accountID,
		"symbol":     c.Symbol,
		"type":       c.Type,
		"priority":   c.Priority,
		"cost":       c.BaseCost,
		"score":      c.Score,
	})
	return true, nil
}

// DeliverSummary emits the once-daily digest alert through the normal
// pricing, dedup, and charge path. The calendar-day trigger window makes a
// rollup re-run a no-op.
func (s *AlertService) DeliverSummary(ctx context.Context, accountID string, now time.Time) error {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return err
	}
	remaining, err := s.remainingDailyCap(ctx, accountID, account.Tier, now)
	if err != nil {
		return err
	}
	if remaining <= 0 {
		return nil
	}
	candidate := Candidate{
		Type:          AlertSummary,
		Priority:      PriorityInfo,
		Symbol:        "DIGEST",
		BaseCost:      s.catalog.AlertCost(AlertSummary, PriorityInfo),
		Score:         engagementMultiplier[AlertSummary],
		TriggerWindow: now.UTC().Format("2006-01-02"),
	}
	_, err = s.deliver(ctx, accountID, &candidate)
	return err
}

func (s *AlertService) remainingDailyCap(ctx context.Context, accountID, tier string, now time.Time) (int, error) {
	limit := s.catalog.DailyAlertCap(tier)
	deliveredToday, err := s.alerts.CountSince(ctx, accountID, startOfDayUTC(now))
	if err != nil {
		return 0, err
	}
	return limit - deliveredToday, nil
}

func (s *AlertService) publish(ctx context.Context, routingKey string, payload any) {
	if err := s.events.Publish(ctx, routingKey, payload); err != nil {
		s.log.WithFields(logrus.Fields{"routing_key": routingKey, "error": err}).Warn("event publish failed")
	}
}

func filterPriority(candidates []Candidate, priority string) []Candidate {
	filtered := candidates[:0]
	for _, c := range candidates {
		if c.Priority == priority {
			filtered = append(filtered, c)
		}
	}
	return filtered
}

func decodeHours(raw string) map[int]struct{} {
	var hours []int
	if raw != "" {
		_ = json.Unmarshal([]byte(raw), &hours)
	}
	set := make(map[int]struct{}, len(hours))
	for _, hour := range hours {
		set[hour] = struct{}{}
	}
	return set
}

func normalizeDetail(detail string) string {
	if detail == "" {
		return "{}"
	}
	return detail
}
