package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/DansiDanutz/ZmartBot-sub008/internal/config"
	"github.com/DansiDanutz/ZmartBot-sub008/internal/db"
	"github.com/DansiDanutz/ZmartBot-sub008/internal/events"
	"github.com/DansiDanutz/ZmartBot-sub008/internal/store"
	"github.com/DansiDanutz/ZmartBot-sub008/internal/websocket"
)

// Message topics and categories assigned by the queue processor, plus the
// trading styles derived from them.
const (
	TopicPrice     = "price"
	TopicTechnical = "technical"
	TopicNews      = "news"
	TopicPortfolio = "portfolio"
	TopicDefi      = "defi"
	TopicGeneral   = "general"

	CategoryQuestion = "question"
	CategoryCommand  = "command"
	CategoryHype     = "hype"
	CategoryChat     = "chat"

	StyleDaytrader = "daytrader"
	StyleAnalyst   = "analyst"
	StyleInvestor  = "investor"
	StyleExplorer  = "explorer"
	StyleMomentum  = "momentum"
	StyleObserver  = "observer"
)

const dailyLoginKey = "daily_login"

// Rand is the injectable randomness behind the variable reward, so tests can
// force both the reward and the no-reward branch.
type Rand interface {
	Float64() float64
	Int63n(n int64) int64
}

type ScoringProfileStore interface {
	Get(ctx context.Context, accountID string) (store.ProfileRow, error)
	GetForUpdate(ctx context.Context, tx store.Getter, accountID string) (store.ProfileRow, error)
	UpdateScores(ctx context.Context, tx store.Execer, accountID string, scores store.ProfileScores) error
	UpdateActivity(ctx context.Context, tx store.Execer, accountID string, streakDays int, day, at time.Time) error
	InsertGrant(ctx context.Context, tx store.Execer, accountID, key string, at time.Time) (bool, error)
	GetGrant(ctx context.Context, tx store.Getter, accountID, key string) (time.Time, bool, error)
	TouchGrant(ctx context.Context, tx store.Execer, accountID, key string, at time.Time) error
	ListGrantKeys(ctx context.Context, accountID string) ([]string, error)
}

type ScoringMessageStore interface {
	RecentByAccount(ctx context.Context, accountID string, since time.Time, limit int) ([]store.MessageRow, error)
}

type ScoringAlertStats interface {
	ClickStatsSince(ctx context.Context, accountID string, since time.Time) (int, int, error)
}

// LedgerCredits is the slice of the ledger the scoring subsystem needs for
// milestone and bonus grants.
type LedgerCredits interface {
	Credit(ctx context.Context, req CreditRequest) (int64, error)
	CreditInTx(ctx context.Context, tx *sqlx.Tx, req CreditRequest) (int64, error)
	Invalidate(accountID string)
}

type milestoneRule struct {
	key    string
	reward int64
	met    func(streakDays, messageCount int) bool
}

// One-time achievements. A grant row per (account, key) keeps each of these
// idempotent no matter how often evaluation re-runs.
var milestoneRules = []milestoneRule{
	{"first_message", 1, func(_, count int) bool { return count >= 1 }},
	{"hundred_messages", 5, func(_, count int) bool { return count >= 100 }},
	{"streak_3", 2, func(streak, _ int) bool { return streak >= 3 }},
	{"streak_7", 5, func(streak, _ int) bool { return streak >= 7 }},
	{"streak_30", 20, func(streak, _ int) bool { return streak >= 30 }},
}

// ScoringService recomputes engagement profiles from recent message history
// and grants milestone and bonus credits through the ledger. It is the only
// writer of engagement_profiles.
type ScoringService struct {
	txRunner db.TxRunner
	profiles ScoringProfileStore
	messages ScoringMessageStore
	alerts   ScoringAlertStats
	ledger   LedgerCredits
	events   EventPublisher
	hub      EventHub
	rand     Rand
	log      *logrus.Logger

	topicWeight  float64
	dayWeight    float64
	lengthWeight float64
	windowDays   int
	windowLimit  int
	peakHourMin  int

	loginBonus    int64
	loginCooldown time.Duration
	rewardChance  float64
	rewardMax     int64
}

func NewScoringService(
	txRunner db.TxRunner,
	profiles ScoringProfileStore,
	messages ScoringMessageStore,
	alerts ScoringAlertStats,
	ledger LedgerCredits,
	publisher EventPublisher,
	hub EventHub,
	random Rand,
	cfg config.Config,
	log *logrus.Logger,
) *ScoringService {
	return &ScoringService{
		txRunner:      txRunner,
		profiles:      profiles,
		messages:      messages,
		alerts:        alerts,
		ledger:        ledger,
		events:        publisher,
		hub:           hub,
		rand:          random,
		log:           log,
		topicWeight:   cfg.TopicWeight,
		dayWeight:     cfg.ActiveDayWeight,
		lengthWeight:  cfg.MessageLengthWeight,
		windowDays:    cfg.ScoringWindowDays,
		windowLimit:   cfg.ScoringWindowLimit,
		peakHourMin:   cfg.PeakHourMin,
		loginBonus:    cfg.DailyLoginBonus,
		loginCooldown: cfg.DailyLoginCooldown,
		rewardChance:  cfg.VariableRewardChance,
		rewardMax:     cfg.VariableRewardMax,
	}
}

// Recompute rebuilds the profile scores from the trailing message window.
// Deterministic: same window, same scores.
func (s *ScoringService) Recompute(ctx context.Context, accountID string, now time.Time) error {
	since := now.AddDate(0, 0, -s.windowDays)
	rows, err := s.messages.RecentByAccount(ctx, accountID, since, s.windowLimit)
	if err != nil {
		return err
	}
	scores := s.computeScores(rows)
	return s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		return s.profiles.UpdateScores(ctx, tx, accountID, scores)
	})
}

func (s *ScoringService) computeScores(rows []store.MessageRow) store.ProfileScores {
	topics := make(map[string]struct{})
	topicCounts := make(map[string]int)
	days := make(map[string]struct{})
	hourCounts := make(map[int]int)
	hypeCount := 0
	totalLength := 0
	for _, row := range rows {
		if row.Topic != "" {
			topics[row.Topic] = struct{}{}
			topicCounts[row.Topic]++
		}
		days[row.CreatedAt.UTC().Format("2006-01-02")] = struct{}{}
		hourCounts[row.CreatedAt.UTC().Hour()]++
		if row.Category == CategoryHype {
			hypeCount++
		}
		totalLength += row.ContentLength
	}

	curiosity := clamp100(float64(len(topics)) * s.topicWeight)
	consistency := clamp100(float64(len(days)) * s.dayWeight)
	depth := 0.0
	if len(rows) > 0 {
		depth = clamp100(float64(totalLength) / float64(len(rows)) * s.lengthWeight)
	}
	dependency := 0.3*curiosity + 0.4*consistency + 0.3*depth

	hypeRatio := 0.0
	if len(rows) > 0 {
		hypeRatio = float64(hypeCount) / float64(len(rows))
	}

	return store.ProfileScores{
		CuriosityScore:   curiosity,
		ConsistencyScore: consistency,
		DepthScore:       depth,
		DependencyScore:  dependency,
		BestHours:        encodeHours(peakHours(hourCounts, s.peakHourMin)),
		TradingStyle:     deriveTradingStyle(topicCounts, hypeRatio),
		FomoScore:        clamp100(hypeRatio * 200),
	}
}

// RecordActivity applies the streak rules for one activity at now, inside the
// caller's transaction. The streak grows only on an exact one-day gap, resets
// on anything longer, and never moves twice in the same day.
func (s *ScoringService) RecordActivity(ctx context.Context, tx *sqlx.Tx, accountID string, now time.Time) (int, error) {
	profile, err := s.profiles.GetForUpdate(ctx, tx, accountID)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, ErrAccountNotFound
		}
		return 0, err
	}
	day := startOfDayUTC(now)
	streak := 1
	if profile.LastActiveDay != nil {
		gap := int(day.Sub(startOfDayUTC(*profile.LastActiveDay)).Hours() / 24)
		switch {
		case gap <= 0:
			streak = profile.StreakDays
			if streak < 1 {
				streak = 1
			}
		case gap == 1:
			streak = profile.StreakDays + 1
		}
	}
	if err := s.profiles.UpdateActivity(ctx, tx, accountID, streak, day, now); err != nil {
		return 0, err
	}
	return streak, nil
}

// GrantMilestones evaluates every one-time achievement against the account's
// current streak and message count, crediting the ledger for each first-time
// unlock. Safe to call repeatedly.
func (s *ScoringService) GrantMilestones(ctx context.Context, accountID string, streakDays, messageCount int, now time.Time) ([]string, error) {
	var granted []string
	for _, rule := range milestoneRules {
		if !rule.met(streakDays, messageCount) {
			continue
		}
		unlocked := false
		err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
			inserted, err := s.profiles.InsertGrant(ctx, tx, accountID, rule.key, now)
			if err != nil {
				return err
			}
			if !inserted {
				return nil
			}
			ref := fmt.Sprintf("milestone:%s:%s", accountID, rule.key)
			if _, err := s.ledger.CreditInTx(ctx, tx, CreditRequest{
				AccountID: accountID,
				Amount:    rule.reward,
				Reason:    ReasonMilestone,
				RefID:     &ref,
				Metadata:  fmt.Sprintf(`{"milestone":%q}`, rule.key),
			}); err != nil {
				return err
			}
			unlocked = true
			return nil
		})
		if err != nil {
			if db.IsUniqueViolation(err) {
				continue
			}
			return granted, err
		}
		if !unlocked {
			continue
		}
		s.ledger.Invalidate(accountID)
		granted = append(granted, rule.key)
		s.hub.BroadcastEvent(accountID, websocket.Event{Type: websocket.EventMilestone, Data: map[string]any{
			"account_id": accountID,
			"milestone":  rule.key,
			"reward":     rule.reward,
		}})
		s.publish(ctx, events.KeyMilestone, map[string]any{
			"account_id": accountID,
			"milestone":  rule.key,
			"reward":     rule.reward,
		})
	}
	return granted, nil
}

// DailyLoginBonus grants the login bonus at most once per cooldown. The grant
// timestamp and the ledger credit move in one transaction; the day-scoped ref
// keeps replays out even across processes.
func (s *ScoringService) DailyLoginBonus(ctx context.Context, accountID string, now time.Time) (bool, error) {
	granted := false
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		last, ok, err := s.profiles.GetGrant(ctx, tx, accountID, dailyLoginKey)
		if err != nil {
			return err
		}
		if ok && now.Sub(last) < s.loginCooldown {
			return nil
		}
		if err := s.profiles.TouchGrant(ctx, tx, accountID, dailyLoginKey, now); err != nil {
			return err
		}
		ref := fmt.Sprintf("daily_login:%s:%s", accountID, now.UTC().Format("2006-01-02"))
		if _, err := s.ledger.CreditInTx(ctx, tx, CreditRequest{
			AccountID: accountID,
			Amount:    s.loginBonus,
			Reason:    ReasonBonus,
			RefID:     &ref,
			Metadata:  `{"bonus":"daily_login"}`,
		}); err != nil {
			return err
		}
		granted = true
		return nil
	})
	if err != nil {
		if db.IsUniqueViolation(err) {
			return false, nil
		}
		return false, err
	}
	if granted {
		s.ledger.Invalidate(accountID)
	}
	return granted, nil
}

// VariableReward rolls the surprise-bonus dice. Returns the granted amount,
// zero when the roll misses.
func (s *ScoringService) VariableReward(ctx context.Context, accountID string, now time.Time) (int64, error) {
	if s.rewardChance <= 0 || s.rewardMax <= 0 {
		return 0, nil
	}
	if s.rand.Float64() >= s.rewardChance {
		return 0, nil
	}
	amount := int64(1)
	if s.rewardMax > 1 {
		amount += s.rand.Int63n(s.rewardMax)
	}
	if amount > s.rewardMax {
		amount = s.rewardMax
	}
	if _, err := s.ledger.Credit(ctx, CreditRequest{
		AccountID: accountID,
		Amount:    amount,
		Reason:    ReasonBonus,
		Metadata:  fmt.Sprintf(`{"bonus":"surprise","granted_at":%q}`, now.UTC().Format(time.RFC3339)),
	}); err != nil {
		return 0, err
	}
	return amount, nil
}

// Report is the engagement snapshot exposed over the API: profile scores,
// unlocked achievements, and the trailing week's alert click-through.
func (s *ScoringService) Report(ctx context.Context, accountID string, now time.Time) (map[string]any, error) {
	profile, err := s.profiles.Get(ctx, accountID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	achievements, err := s.profiles.ListGrantKeys(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if achievements == nil {
		achievements = []string{}
	}
	delivered, clicked, err := s.alerts.ClickStatsSince(ctx, accountID, now.AddDate(0, 0, -7))
	if err != nil {
		return nil, err
	}
	clickRate := 0.0
	if delivered > 0 {
		clickRate = float64(clicked) / float64(delivered)
	}
	return map[string]any{
		"account_id":          profile.AccountID,
		"curiosity_score":     profile.CuriosityScore,
		"consistency_score":   profile.ConsistencyScore,
		"depth_score":         profile.DepthScore,
		"dependency_score":    profile.DependencyScore,
		"streak_days":         profile.StreakDays,
		"best_hours":          json.RawMessage(normalizeHoursJSON(profile.BestHours)),
		"trading_style":       profile.TradingStyle,
		"fomo_score":          profile.FomoScore,
		"last_active_at":      profile.LastActiveAt,
		"achievements":        achievements,
		"alerts_delivered_7d": delivered,
		"alerts_clicked_7d":   clicked,
		"click_rate_7d":       clickRate,
	}, nil
}

func (s *ScoringService) publish(ctx context.Context, routingKey string, payload any) {
	if err := s.events.Publish(ctx, routingKey, payload); err != nil {
		s.log.WithFields(logrus.Fields{"routing_key": routingKey, "error": err}).Warn("event publish failed")
	}
}

func clamp100(value float64) float64 {
	if value > 100 {
		return 100
	}
	if value < 0 {
		return 0
	}
	return value
}

func startOfDayUTC(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

func peakHours(hourCounts map[int]int, minimum int) []int {
	hours := make([]int, 0)
	for hour, count := range hourCounts {
		if count >= minimum {
			hours = append(hours, hour)
		}
	}
	sort.Ints(hours)
	return hours
}

func encodeHours(hours []int) string {
	encoded, err := json.Marshal(hours)
	if err != nil {
		return "[]"
	}
	return string(encoded)
}

func normalizeHoursJSON(raw string) string {
	if raw == "" {
		return "[]"
	}
	return raw
}

var styleByTopic = []struct {
	topic string
	style string
}{
	{TopicPrice, StyleDaytrader},
	{TopicTechnical, StyleAnalyst},
	{TopicPortfolio, StyleInvestor},
	{TopicDefi, StyleExplorer},
	{TopicNews, StyleObserver},
}

// deriveTradingStyle maps the dominant topic to a style; a hype-heavy window
// overrides everything.
func deriveTradingStyle(topicCounts map[string]int, hypeRatio float64) string {
	if hypeRatio >= 0.3 {
		return StyleMomentum
	}
	best := StyleObserver
	bestCount := 0
	for _, entry := range styleByTopic {
		if count := topicCounts[entry.topic]; count > bestCount {
			best = entry.style
			bestCount = count
		}
	}
	return best
}
