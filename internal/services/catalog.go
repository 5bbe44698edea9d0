package services

import (
	"github.com/shopspring/decimal"

	"github.com/DansiDanutz/ZmartBot-sub008/internal/config"
	"github.com/DansiDanutz/ZmartBot-sub008/internal/credits"
)

// Priority tiers and the alert types that feed them.
const (
	PriorityCritical  = "critical"
	PriorityImportant = "important"
	PriorityStandard  = "standard"
	PriorityInfo      = "info"

	AlertPriceTarget = "price_target"
	AlertBreakout    = "breakout"
	AlertIndicator   = "indicator"
	AlertWhale       = "whale"
	AlertActivity    = "activity"
	AlertSummary     = "summary"
)

// CostModifiers are the multiplicative adjustments applied to a base price.
type CostModifiers struct {
	Realtime bool
	Premium  bool
}

// Catalog holds every priced thing: the action table, the alert tier table,
// the modifier multipliers, the top-up bundles, and the daily caps. Built
// once from config; read-only afterwards.
type Catalog struct {
	actionCosts map[string]int64
	alertCosts  map[string]int64
	bundles     []int64

	realtimeModifier decimal.Decimal
	premiumModifier  decimal.Decimal

	dailyCapFree int
	dailyCapPaid int
}

func defaultActionCosts() map[string]int64 {
	return map[string]int64{
		"chat_response":    1,
		"realtime_price":   2,
		"deep_analysis":    3,
		"portfolio_report": 3,
		"summary_digest":   1,
	}
}

func NewCatalog(cfg config.Config) *Catalog {
	actionCosts := defaultActionCosts()
	for action, cost := range credits.ParseCostTable(cfg.ActionCosts) {
		actionCosts[action] = cost
	}
	bundles := credits.ParseBundles(cfg.CreditBundles)
	if len(bundles) == 0 {
		bundles = []int64{10, 50, 200, 1000}
	}
	return &Catalog{
		actionCosts: actionCosts,
		alertCosts: map[string]int64{
			PriorityCritical:  cfg.CostCritical,
			PriorityImportant: cfg.CostImportant,
			PriorityStandard:  cfg.CostStandard,
			PriorityInfo:      cfg.CostInfo,
			AlertSummary:      cfg.CostSummary,
		},
		bundles:          bundles,
		realtimeModifier: decimal.NewFromFloat(cfg.RealtimeModifier),
		premiumModifier:  decimal.NewFromFloat(cfg.PremiumModifier),
		dailyCapFree:     cfg.DailyAlertCapFree,
		dailyCapPaid:     cfg.DailyAlertCapPaid,
	}
}

func (c *Catalog) ActionBaseCost(action string) (int64, bool) {
	cost, ok := c.actionCosts[action]
	return cost, ok
}

// ActionCost applies the modifiers to the base price and rounds up to a
// whole credit.
func (c *Catalog) ActionCost(action string, modifiers CostModifiers) (int64, bool) {
	base, ok := c.actionCosts[action]
	if !ok {
		return 0, false
	}
	cost := decimal.NewFromInt(base)
	if modifiers.Realtime {
		cost = cost.Mul(c.realtimeModifier)
	}
	if modifiers.Premium {
		cost = cost.Mul(c.premiumModifier)
	}
	return cost.Ceil().IntPart(), true
}

// AlertCost prices a candidate. Summary alerts have their own entry;
// everything else is priced by priority tier.
func (c *Catalog) AlertCost(alertType, priority string) int64 {
	if alertType == AlertSummary {
		return c.alertCosts[AlertSummary]
	}
	if cost, ok := c.alertCosts[priority]; ok {
		return cost
	}
	return c.alertCosts[PriorityInfo]
}

func (c *Catalog) SuggestBundle(deficit int64) int64 {
	return credits.SuggestBundle(c.bundles, deficit)
}

func (c *Catalog) DailyAlertCap(tier string) int {
	if tier == "paid" || tier == "premium" {
		return c.dailyCapPaid
	}
	return c.dailyCapFree
}
