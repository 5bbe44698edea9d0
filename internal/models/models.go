package models

import "time"

type Account struct {
	ID            string    `db:"id" json:"id"`
	Handle        string    `db:"handle" json:"handle"`
	Tier          string    `db:"tier" json:"tier"`
	Balance       int64     `db:"balance" json:"balance"`
	LifetimeSpent int64     `db:"lifetime_spent" json:"lifetime_spent"`
	APIKeyHash    string    `db:"api_key_hash" json:"-"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

type CreditTransaction struct {
	ID        string    `db:"id" json:"id"`
	AccountID string    `db:"account_id" json:"account_id"`
	Delta     int64     `db:"delta" json:"delta"`
	Reason    string    `db:"reason" json:"reason"`
	RefID     *string   `db:"ref_id" json:"ref_id,omitempty"`
	Metadata  string    `db:"metadata" json:"metadata"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

type DeliveredAlert struct {
	ID            string     `db:"id" json:"id"`
	AccountID     string     `db:"account_id" json:"account_id"`
	AlertType     string     `db:"alert_type" json:"alert_type"`
	Priority      string     `db:"priority" json:"priority"`
	Symbol        string     `db:"symbol" json:"symbol"`
	Cost          int64      `db:"cost" json:"cost"`
	Score         float64    `db:"score" json:"score"`
	TriggerWindow string     `db:"trigger_window" json:"trigger_window"`
	DeliveredAt   time.Time  `db:"delivered_at" json:"delivered_at"`
	ClickedAt     *time.Time `db:"clicked_at" json:"clicked_at,omitempty"`
}

type EngagementProfile struct {
	AccountID        string     `db:"account_id" json:"account_id"`
	CuriosityScore   float64    `db:"curiosity_score" json:"curiosity_score"`
	ConsistencyScore float64    `db:"consistency_score" json:"consistency_score"`
	DepthScore       float64    `db:"depth_score" json:"depth_score"`
	DependencyScore  float64    `db:"dependency_score" json:"dependency_score"`
	StreakDays       int        `db:"streak_days" json:"streak_days"`
	BestHours        string     `db:"best_hours" json:"best_hours"`
	TradingStyle     string     `db:"trading_style" json:"trading_style"`
	FomoScore        float64    `db:"fomo_score" json:"fomo_score"`
	LastActiveDay    *time.Time `db:"last_active_day" json:"last_active_day,omitempty"`
	LastActiveAt     *time.Time `db:"last_active_at" json:"last_active_at,omitempty"`
	Achievements     string     `db:"achievements" json:"achievements"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}

type Message struct {
	ID            string    `db:"id" json:"id"`
	AccountID     string    `db:"account_id" json:"account_id"`
	Content       string    `db:"content" json:"content"`
	Response      string    `db:"response" json:"response"`
	Topic         string    `db:"topic" json:"topic"`
	Category      string    `db:"category" json:"category"`
	ContentLength int       `db:"content_length" json:"content_length"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

type WatchItem struct {
	AccountID   string    `db:"account_id" json:"account_id"`
	Symbol      string    `db:"symbol" json:"symbol"`
	TargetPrice *float64  `db:"target_price" json:"target_price,omitempty"`
	AddedAt     time.Time `db:"added_at" json:"added_at"`
}

// ProcessingJob lives only in memory; it is enqueued by the message path and
// destroyed once the queue processor has handled it.
type ProcessingJob struct {
	ID         string    `json:"id"`
	AccountID  string    `json:"account_id"`
	Message    string    `json:"message"`
	Response   string    `json:"response"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

const (
	JobPending    = "pending"
	JobProcessing = "processing"
	JobCompleted  = "completed"
	JobFailed     = "failed"
)
