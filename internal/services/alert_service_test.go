package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/DansiDanutz/ZmartBot-sub008/internal/config"
	"github.com/DansiDanutz/ZmartBot-sub008/internal/market"
	"github.com/DansiDanutz/ZmartBot-sub008/internal/store"
)

func alertConfig() config.Config {
	cfg := catalogConfig()
	cfg.PriceTargetProximity = 0.01
	cfg.BreakoutThreshold = 8.0
	cfg.OscillatorLow = 30
	cfg.OscillatorHigh = 70
	cfg.WhaleMinUSD = 500000
	cfg.VolumeSpikeRatio = 3.0
	cfg.FomoBoostThreshold = 60
	return cfg
}

func newTestAlertService(
	ledger AlertLedger,
	accounts stubAccountReader,
	profiles stubProfileStore,
	watchlists stubWatchlistStore,
	alerts *stubAlertStore,
	source stubMarketSource,
) *AlertService {
	if alerts == nil {
		alerts = &stubAlertStore{}
	}
	svc := NewAlertService(
		ledger,
		accounts,
		profiles,
		watchlists,
		alerts,
		source,
		NewCatalog(alertConfig()),
		&stubHub{},
		&stubPublisher{},
		newTestMetrics(),
		alertConfig(),
		newTestServiceLogger(),
	)
	svc.now = func() time.Time { return time.Date(2026, 8, 24, 14, 0, 0, 0, time.UTC) }
	return svc
}

func floatPtr(value float64) *float64 {
	return &value
}

func TestDetectorsFireIndependently(t *testing.T) {
	svc := newTestAlertService(&fakeAlertLedger{}, stubAccountReader{}, stubProfileStore{}, stubWatchlistStore{}, nil, stubMarketSource{})
	watch := store.WatchRow{AccountID: "acct", Symbol: "BTC", TargetPrice: floatPtr(100000)}
	snap := market.Snapshot{
		Symbol:     "BTC",
		Price:      100500, // within 1% of the 100000 target
		Change24h:  9.2,
		Volume24h:  400,
		AvgVolume:  100,
		Indicators: map[string]float64{"rsi": 78},
		LargeTransfers: []market.Transfer{
			{AmountUSD: 750000, Direction: "in"},
		},
	}
	candidates := svc.detect(watch, snap, "2026-08-24T14")
	if len(candidates) != 5 {
		t.Fatalf("expected all 5 detectors to fire, got %d: %+v", len(candidates), candidates)
	}
	types := make(map[string]string)
	for _, c := range candidates {
		types[c.Type] = c.Priority
	}
	if types[AlertPriceTarget] != PriorityCritical {
		t.Fatalf("expected critical price target, got %q", types[AlertPriceTarget])
	}
	if types[AlertBreakout] != PriorityImportant || types[AlertWhale] != PriorityImportant {
		t.Fatalf("expected important breakout and whale, got %+v", types)
	}
	if types[AlertIndicator] != PriorityStandard || types[AlertActivity] != PriorityStandard {
		t.Fatalf("expected standard indicator and activity, got %+v", types)
	}
}

func TestDetectorsQuietMarket(t *testing.T) {
	svc := newTestAlertService(&fakeAlertLedger{}, stubAccountReader{}, stubProfileStore{}, stubWatchlistStore{}, nil, stubMarketSource{})
	watch := store.WatchRow{AccountID: "acct", Symbol: "BTC", TargetPrice: floatPtr(100000)}
	snap := market.Snapshot{
		Symbol:     "BTC",
		Price:      90000,
		Change24h:  1.5,
		Volume24h:  100,
		AvgVolume:  100,
		Indicators: map[string]float64{"rsi": 50},
	}
	if candidates := svc.detect(watch, snap, "2026-08-24T14"); len(candidates) != 0 {
		t.Fatalf("expected no candidates, got %+v", candidates)
	}
}

func TestRankingOrderAndTieBreak(t *testing.T) {
	svc := newTestAlertService(&fakeAlertLedger{}, stubAccountReader{}, stubProfileStore{}, stubWatchlistStore{}, nil, stubMarketSource{})
	profile := store.ProfileRow{TradingStyle: StyleObserver, BestHours: "[]"}
	candidates := []Candidate{
		{Type: AlertActivity, Priority: PriorityStandard, Symbol: "ETH", BaseCost: 2},
		{Type: AlertPriceTarget, Priority: PriorityCritical, Symbol: "BTC", BaseCost: 5},
		{Type: AlertSummary, Priority: PriorityInfo, Symbol: "DIGEST", BaseCost: 1},
	}
	svc.rank(candidates, profile, 14)
	if candidates[0].Type != AlertPriceTarget {
		t.Fatalf("expected price target ranked first, got %s", candidates[0].Type)
	}
	if candidates[2].Type != AlertSummary {
		t.Fatalf("expected summary ranked last, got %s", candidates[2].Type)
	}

	// Equal scores: the costlier candidate wins the tie.
	tied := []Candidate{
		{Type: AlertSummary, Symbol: "A", BaseCost: 1},
		{Type: "unknown_type", Symbol: "B", BaseCost: 4},
	}
	svc.rank(tied, profile, 14)
	if tied[0].BaseCost != 4 {
		t.Fatalf("expected tie broken by higher cost, got %+v", tied)
	}
}

func TestScoreBoosts(t *testing.T) {
	svc := newTestAlertService(&fakeAlertLedger{}, stubAccountReader{}, stubProfileStore{}, stubWatchlistStore{}, nil, stubMarketSource{})
	base := Candidate{Type: AlertBreakout, FomoFlag: true}
	neutral := store.ProfileRow{TradingStyle: StyleObserver, FomoScore: 0}
	boosted := store.ProfileRow{TradingStyle: StyleMomentum, FomoScore: 80}

	plain := svc.scoreCandidate(base, neutral, decodeHours("[]"), 14)
	if plain != 1.6 {
		t.Fatalf("expected bare multiplier 1.6, got %v", plain)
	}
	want := plain
	want *= 1.5 // style
	want *= 1.5 // fomo
	offHourWant := want
	want *= 1.25 // hour
	full := svc.scoreCandidate(base, boosted, decodeHours("[14]"), 14)
	if full != want {
		t.Fatalf("expected %v with style, fomo and hour boosts, got %v", want, full)
	}
	offHour := svc.scoreCandidate(base, boosted, decodeHours("[14]"), 3)
	if offHour != offHourWant {
		t.Fatalf("expected no hour boost at 3, got %v", offHour)
	}
}

// sweepFixture wires a sweep that generates exactly two candidates for one
// account: a critical price target (cost 5) and an important breakout (cost 3).
func sweepFixture(balance int64) (*AlertService, *fakeAlertLedger, *stubAlertStore) {
	ledger := &fakeAlertLedger{balance: balance, bundles: []int64{10, 50, 200, 1000}}
	var mu sync.Mutex
	var insertedRows []store.DeliveredAlertInput
	alerts := &stubAlertStore{
		insertFn: func(_ context.Context, _ store.Execer, input store.DeliveredAlertInput) error {
			mu.Lock()
			defer mu.Unlock()
			insertedRows = append(insertedRows, input)
			return nil
		},
	}
	watchlists := stubWatchlistStore{
		accountIDsFn: func(context.Context) ([]string, error) { return []string{"acct"}, nil },
		listFn: func(_ context.Context, accountID string) ([]store.WatchRow, error) {
			return []store.WatchRow{{AccountID: accountID, Symbol: "BTC", TargetPrice: floatPtr(100000)}}, nil
		},
	}
	source := stubMarketSource{
		snapshotFn: func(_ context.Context, symbol string) (market.Snapshot, error) {
			return market.Snapshot{Symbol: symbol, Price: 100200, Change24h: 9.0}, nil
		},
	}
	svc := newTestAlertService(ledger, stubAccountReader{}, stubProfileStore{}, watchlists, alerts, source)
	return svc, ledger, alerts
}

func TestSweepDeliversBothWhenAffordable(t *testing.T) {
	svc, ledger, _ := sweepFixture(10)
	delivered, err := svc.Sweep(context.Background(), SweepFull)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if delivered != 2 {
		t.Fatalf("expected 2 delivered, got %d", delivered)
	}
	if ledger.balance != 2 {
		t.Fatalf("expected final balance 2, got %d", ledger.balance)
	}
	// Critical (cost 5) ranks above important (cost 3).
	if len(ledger.attempts) != 2 || ledger.attempts[0] != 5 || ledger.attempts[1] != 3 {
		t.Fatalf("expected debit order [5 3], got %v", ledger.attempts)
	}
}

func TestSweepSkipsUnaffordableAndContinues(t *testing.T) {
	svc, ledger, _ := sweepFixture(4)
	delivered, err := svc.Sweep(context.Background(), SweepFull)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Critical (cost 5, deficit 1) is refused; important (cost 3) is still
	// attempted and delivered.
	if delivered != 1 {
		t.Fatalf("expected 1 delivered, got %d", delivered)
	}
	if ledger.balance != 1 {
		t.Fatalf("expected final balance 1, got %d", ledger.balance)
	}
	if len(ledger.attempts) != 2 {
		t.Fatalf("expected both candidates attempted, got %v", ledger.attempts)
	}
}

func TestSweepCriticalModeFiltersTiers(t *testing.T) {
	svc, ledger, _ := sweepFixture(10)
	delivered, err := svc.Sweep(context.Background(), SweepCritical)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if delivered != 1 {
		t.Fatalf("expected only the critical candidate, got %d", delivered)
	}
	if len(ledger.attempts) != 1 || ledger.attempts[0] != 5 {
		t.Fatalf("expected single debit of 5, got %v", ledger.attempts)
	}
}

func TestSweepHonorsDailyCap(t *testing.T) {
	svc, ledger, alerts := sweepFixture(100)
	alerts.countSinceFn = func(context.Context, string, time.Time) (int, error) {
		return 5, nil // free-tier cap already reached
	}
	delivered, err := svc.Sweep(context.Background(), SweepFull)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if delivered != 0 || len(ledger.attempts) != 0 {
		t.Fatalf("expected cap to block all deliveries, got %d (%v)", delivered, ledger.attempts)
	}
}

func TestSweepDeduplicatesDeliveredCandidates(t *testing.T) {
	svc, ledger, alerts := sweepFixture(100)
	alerts.existsFn = func(context.Context, string, string, string, string) (bool, error) {
		return true, nil
	}
	delivered, err := svc.Sweep(context.Background(), SweepFull)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if delivered != 0 || len(ledger.attempts) != 0 {
		t.Fatalf("expected duplicates to skip the ledger entirely, got %d (%v)", delivered, ledger.attempts)
	}
}

func TestSweepEmptyWatchlistIsNoOp(t *testing.T) {
	ledger := &fakeAlertLedger{balance: 100}
	watchlists := stubWatchlistStore{
		accountIDsFn: func(context.Context) ([]string, error) { return []string{"acct"}, nil },
	}
	svc := newTestAlertService(ledger, stubAccountReader{}, stubProfileStore{}, watchlists, nil, stubMarketSource{})
	delivered, err := svc.Sweep(context.Background(), SweepFull)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if delivered != 0 || len(ledger.attempts) != 0 {
		t.Fatalf("expected no-op cycle, got %d deliveries", delivered)
	}
}

func TestSweepBadSymbolSkipsAndContinues(t *testing.T) {
	ledger := &fakeAlertLedger{balance: 100}
	watchlists := stubWatchlistStore{
		accountIDsFn: func(context.Context) ([]string, error) { return []string{"acct"}, nil },
		listFn: func(_ context.Context, accountID string) ([]store.WatchRow, error) {
			return []store.WatchRow{
				{AccountID: accountID, Symbol: "BAD"},
				{AccountID: accountID, Symbol: "BTC"},
			}, nil
		},
	}
	source := stubMarketSource{
		snapshotFn: func(_ context.Context, symbol string) (market.Snapshot, error) {
			if symbol == "BAD" {
				return market.Snapshot{}, context.DeadlineExceeded
			}
			return market.Snapshot{Symbol: symbol, Change24h: 12}, nil
		},
	}
	svc := newTestAlertService(ledger, stubAccountReader{}, stubProfileStore{}, watchlists, nil, source)
	delivered, err := svc.Sweep(context.Background(), SweepFull)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if delivered != 1 {
		t.Fatalf("expected the healthy symbol to still deliver, got %d", delivered)
	}
}

func TestDeliverSummaryOncePerDay(t *testing.T) {
	ledger := &fakeAlertLedger{balance: 10}
	seen := make(map[string]bool)
	var mu sync.Mutex
	alerts := &stubAlertStore{
		existsFn: func(_ context.Context, accountID, alertType, symbol, window string) (bool, error) {
			mu.Lock()
			defer mu.Unlock()
			return seen[accountID+alertType+symbol+window], nil
		},
		insertFn: func(_ context.Context, _ store.Execer, input store.DeliveredAlertInput) error {
			mu.Lock()
			defer mu.Unlock()
			seen[input.AccountID+input.AlertType+input.Symbol+input.TriggerWindow] = true
			return nil
		},
	}
	svc := newTestAlertService(ledger, stubAccountReader{}, stubProfileStore{}, stubWatchlistStore{}, alerts, stubMarketSource{})
	now := time.Date(2026, 8, 24, 3, 10, 0, 0, time.UTC)

	if err := svc.DeliverSummary(context.Background(), "acct", now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.DeliverSummary(context.Background(), "acct", now.Add(2*time.Hour)); err != nil {
		t.Fatalf("unexpected error on re-run: %v", err)
	}
	if ledger.balance != 9 {
		t.Fatalf("expected a single summary charge of 1, balance %d", ledger.balance)
	}
}
