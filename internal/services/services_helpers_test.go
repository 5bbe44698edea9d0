package services

import (
	"context"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/DansiDanutz/ZmartBot-sub008/internal/market"
	"github.com/DansiDanutz/ZmartBot-sub008/internal/metrics"
	"github.com/DansiDanutz/ZmartBot-sub008/internal/store"
	"github.com/DansiDanutz/ZmartBot-sub008/internal/websocket"
)

type fakeTxRunner struct {
	err error
}

func (f fakeTxRunner) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	if f.err != nil {
		return f.err
	}
	return fn(nil)
}

type stubLedgerAccounts struct {
	getBalanceFn          func(ctx context.Context, accountID string) (int64, error)
	getBalanceForUpdateFn func(ctx context.Context, tx store.Getter, accountID string) (int64, error)
	conditionalDebitFn    func(ctx context.Context, tx store.Getter, accountID string, amount int64) (bool, int64, error)
	adjustBalanceFn       func(ctx context.Context, tx store.Getter, accountID string, delta int64) (int64, error)
	getSummaryFn          func(ctx context.Context, accountID string) (store.AccountBalanceSummary, error)
}

func (s stubLedgerAccounts) GetBalance(ctx context.Context, accountID string) (int64, error) {
	if s.getBalanceFn == nil {
		return 0, nil
	}
	return s.getBalanceFn(ctx, accountID)
}

func (s stubLedgerAccounts) GetBalanceForUpdate(ctx context.Context, tx store.Getter, accountID string) (int64, error) {
	if s.getBalanceForUpdateFn == nil {
		return 0, nil
	}
	return s.getBalanceForUpdateFn(ctx, tx, accountID)
}

func (s stubLedgerAccounts) ConditionalDebit(ctx context.Context, tx store.Getter, accountID string, amount int64) (bool, int64, error) {
	if s.conditionalDebitFn == nil {
		return true, 0, nil
	}
	return s.conditionalDebitFn(ctx, tx, accountID, amount)
}

func (s stubLedgerAccounts) AdjustBalance(ctx context.Context, tx store.Getter, accountID string, delta int64) (int64, error) {
	if s.adjustBalanceFn == nil {
		return delta, nil
	}
	return s.adjustBalanceFn(ctx, tx, accountID, delta)
}

func (s stubLedgerAccounts) GetSummary(ctx context.Context, accountID string) (store.AccountBalanceSummary, error) {
	if s.getSummaryFn == nil {
		return store.AccountBalanceSummary{}, nil
	}
	return s.getSummaryFn(ctx, accountID)
}

type stubTransactionLog struct {
	appendFn    func(ctx context.Context, tx store.Execer, input store.CreditTransactionInput) error
	existsRefFn func(ctx context.Context, tx store.Getter, refID string) (bool, error)
	listFn      func(ctx context.Context, accountID, reason string, limit, offset int) ([]map[string]any, error)
}

func (s stubTransactionLog) Append(ctx context.Context, tx store.Execer, input store.CreditTransactionInput) error {
	if s.appendFn == nil {
		return nil
	}
	return s.appendFn(ctx, tx, input)
}

func (s stubTransactionLog) ExistsRef(ctx context.Context, tx store.Getter, refID string) (bool, error) {
	if s.existsRefFn == nil {
		return false, nil
	}
	return s.existsRefFn(ctx, tx, refID)
}

func (s stubTransactionLog) ListByAccount(ctx context.Context, accountID, reason string, limit, offset int) ([]map[string]any, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx, accountID, reason, limit, offset)
}

type stubHub struct {
	mu     sync.Mutex
	events []websocket.Event
}

func (s *stubHub) BroadcastEvent(_ string, event websocket.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *stubHub) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

type stubPublisher struct {
	mu   sync.Mutex
	keys []string
}

func (s *stubPublisher) Publish(_ context.Context, routingKey string, _ any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = append(s.keys, routingKey)
	return nil
}

func (s *stubPublisher) published() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.keys...)
}

func newTestMetrics() *metrics.Metrics {
	return metrics.New(prometheus.NewRegistry())
}

func newTestServiceLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

type stubProfileStore struct {
	getFn            func(ctx context.Context, accountID string) (store.ProfileRow, error)
	getForUpdateFn   func(ctx context.Context, tx store.Getter, accountID string) (store.ProfileRow, error)
	updateScoresFn   func(ctx context.Context, tx store.Execer, accountID string, scores store.ProfileScores) error
	updateActivityFn func(ctx context.Context, tx store.Execer, accountID string, streakDays int, day, at time.Time) error
	insertGrantFn    func(ctx context.Context, tx store.Execer, accountID, key string, at time.Time) (bool, error)
	getGrantFn       func(ctx context.Context, tx store.Getter, accountID, key string) (time.Time, bool, error)
	touchGrantFn     func(ctx context.Context, tx store.Execer, accountID, key string, at time.Time) error
	listGrantKeysFn  func(ctx context.Context, accountID string) ([]string, error)
}

func (s stubProfileStore) Get(ctx context.Context, accountID string) (store.ProfileRow, error) {
	if s.getFn == nil {
		return store.ProfileRow{AccountID: accountID, TradingStyle: StyleObserver, BestHours: "[]"}, nil
	}
	return s.getFn(ctx, accountID)
}

func (s stubProfileStore) GetForUpdate(ctx context.Context, tx store.Getter, accountID string) (store.ProfileRow, error) {
	if s.getForUpdateFn == nil {
		return store.ProfileRow{AccountID: accountID}, nil
	}
	return s.getForUpdateFn(ctx, tx, accountID)
}

func (s stubProfileStore) UpdateScores(ctx context.Context, tx store.Execer, accountID string, scores store.ProfileScores) error {
	if s.updateScoresFn == nil {
		return nil
	}
	return s.updateScoresFn(ctx, tx, accountID, scores)
}

func (s stubProfileStore) UpdateActivity(ctx context.Context, tx store.Execer, accountID string, streakDays int, day, at time.Time) error {
	if s.updateActivityFn == nil {
		return nil
	}
	return s.updateActivityFn(ctx, tx, accountID, streakDays, day, at)
}

func (s stubProfileStore) InsertGrant(ctx context.Context, tx store.Execer, accountID, key string, at time.Time) (bool, error) {
	if s.insertGrantFn == nil {
		return true, nil
	}
	return s.insertGrantFn(ctx, tx, accountID, key, at)
}

func (s stubProfileStore) GetGrant(ctx context.Context, tx store.Getter, accountID, key string) (time.Time, bool, error) {
	if s.getGrantFn == nil {
		return time.Time{}, false, nil
	}
	return s.getGrantFn(ctx, tx, accountID, key)
}

func (s stubProfileStore) TouchGrant(ctx context.Context, tx store.Execer, accountID, key string, at time.Time) error {
	if s.touchGrantFn == nil {
		return nil
	}
	return s.touchGrantFn(ctx, tx, accountID, key, at)
}

func (s stubProfileStore) ListGrantKeys(ctx context.Context, accountID string) ([]string, error) {
	if s.listGrantKeysFn == nil {
		return nil, nil
	}
	return s.listGrantKeysFn(ctx, accountID)
}

type stubMessageStore struct {
	insertFn      func(ctx context.Context, tx store.Execer, input store.MessageInput) error
	recentFn      func(ctx context.Context, accountID string, since time.Time, limit int) ([]store.MessageRow, error)
	activeSinceFn func(ctx context.Context, since time.Time) ([]string, error)
	countFn       func(ctx context.Context, accountID string) (int, error)
}

func (s stubMessageStore) Insert(ctx context.Context, tx store.Execer, input store.MessageInput) error {
	if s.insertFn == nil {
		return nil
	}
	return s.insertFn(ctx, tx, input)
}

func (s stubMessageStore) RecentByAccount(ctx context.Context, accountID string, since time.Time, limit int) ([]store.MessageRow, error) {
	if s.recentFn == nil {
		return nil, nil
	}
	return s.recentFn(ctx, accountID, since, limit)
}

func (s stubMessageStore) ActiveAccountsSince(ctx context.Context, since time.Time) ([]string, error) {
	if s.activeSinceFn == nil {
		return nil, nil
	}
	return s.activeSinceFn(ctx, since)
}

func (s stubMessageStore) CountByAccount(ctx context.Context, accountID string) (int, error) {
	if s.countFn == nil {
		return 0, nil
	}
	return s.countFn(ctx, accountID)
}

type stubAlertStore struct {
	insertFn     func(ctx context.Context, tx store.Execer, input store.DeliveredAlertInput) error
	existsFn     func(ctx context.Context, accountID, alertType, symbol, triggerWindow string) (bool, error)
	countSinceFn func(ctx context.Context, accountID string, since time.Time) (int, error)
	clickStatsFn func(ctx context.Context, accountID string, since time.Time) (int, int, error)
}

func (s *stubAlertStore) Insert(ctx context.Context, tx store.Execer, input store.DeliveredAlertInput) error {
	if s.insertFn == nil {
		return nil
	}
	return s.insertFn(ctx, tx, input)
}

func (s *stubAlertStore) Exists(ctx context.Context, accountID, alertType, symbol, triggerWindow string) (bool, error) {
	if s.existsFn == nil {
		return false, nil
	}
	return s.existsFn(ctx, accountID, alertType, symbol, triggerWindow)
}

func (s *stubAlertStore) CountSince(ctx context.Context, accountID string, since time.Time) (int, error) {
	if s.countSinceFn == nil {
		return 0, nil
	}
	return s.countSinceFn(ctx, accountID, since)
}

func (s *stubAlertStore) ClickStatsSince(ctx context.Context, accountID string, since time.Time) (int, int, error) {
	if s.clickStatsFn == nil {
		return 0, 0, nil
	}
	return s.clickStatsFn(ctx, accountID, since)
}

type stubWatchlistStore struct {
	accountIDsFn func(ctx context.Context) ([]string, error)
	listFn       func(ctx context.Context, accountID string) ([]store.WatchRow, error)
}

func (s stubWatchlistStore) AccountIDs(ctx context.Context) ([]string, error) {
	if s.accountIDsFn == nil {
		return nil, nil
	}
	return s.accountIDsFn(ctx)
}

func (s stubWatchlistStore) ListByAccount(ctx context.Context, accountID string) ([]store.WatchRow, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx, accountID)
}

type stubAccountReader struct {
	getByIDFn func(ctx context.Context, accountID string) (store.Account, error)
}

func (s stubAccountReader) GetByID(ctx context.Context, accountID string) (store.Account, error) {
	if s.getByIDFn == nil {
		return store.Account{ID: accountID, Tier: "free"}, nil
	}
	return s.getByIDFn(ctx, accountID)
}

type stubMarketSource struct {
	snapshotFn func(ctx context.Context, symbol string) (market.Snapshot, error)
}

func (s stubMarketSource) GetSnapshot(ctx context.Context, symbol string) (market.Snapshot, error) {
	if s.snapshotFn == nil {
		return market.Snapshot{Symbol: symbol}, nil
	}
	return s.snapshotFn(ctx, symbol)
}

// fakeAlertLedger mimics TryDebit against an in-memory balance, including the
// attach callback semantics of the real ledger.
type fakeAlertLedger struct {
	mu       sync.Mutex
	balance  int64
	bundles  []int64
	attempts []int64
}

func (f *fakeAlertLedger) TryDebit(ctx context.Context, req DebitRequest) (DebitOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts = append(f.attempts, req.Amount)
	if f.balance < req.Amount {
		outcome := DebitOutcome{Cost: req.Amount, NewBalance: f.balance, Deficit: req.Amount - f.balance}
		outcome.SuggestedBundle = suggestFromBundles(f.bundles, outcome.Deficit)
		return outcome, nil
	}
	if req.Attach != nil {
		if err := req.Attach(nil); err != nil {
			return DebitOutcome{}, err
		}
	}
	f.balance -= req.Amount
	return DebitOutcome{Charged: true, Cost: req.Amount, NewBalance: f.balance}, nil
}

func suggestFromBundles(bundles []int64, deficit int64) int64 {
	for _, bundle := range bundles {
		if bundle >= deficit {
			return bundle
		}
	}
	return 0
}

// stubRand replays scripted values so both reward branches are reachable.
type stubRand struct {
	floats []float64
	ints   []int64
	fi, ii int
}

func (r *stubRand) Float64() float64 {
	if r.fi >= len(r.floats) {
		return 1
	}
	value := r.floats[r.fi]
	r.fi++
	return value
}

func (r *stubRand) Int63n(n int64) int64 {
	if r.ii >= len(r.ints) {
		return 0
	}
	value := r.ints[r.ii] % n
	r.ii++
	return value
}

type stubLedgerCredits struct {
	mu       sync.Mutex
	credits  []CreditRequest
	creditFn func(ctx context.Context, req CreditRequest) (int64, error)
}

func (s *stubLedgerCredits) Credit(ctx context.Context, req CreditRequest) (int64, error) {
	s.mu.Lock()
	s.credits = append(s.credits, req)
	s.mu.Unlock()
	if s.creditFn != nil {
		return s.creditFn(ctx, req)
	}
	return req.Amount, nil
}

func (s *stubLedgerCredits) CreditInTx(ctx context.Context, tx *sqlx.Tx, req CreditRequest) (int64, error) {
	return s.Credit(ctx, req)
}

func (s *stubLedgerCredits) Invalidate(string) {}

func (s *stubLedgerCredits) credited() []CreditRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]CreditRequest(nil), s.credits...)
}

type stubJobRuns struct {
	mu       sync.Mutex
	claimed  map[string]bool
	finished []string
}

func newStubJobRuns() *stubJobRuns {
	return &stubJobRuns{claimed: make(map[string]bool)}
}

func (s *stubJobRuns) Begin(_ context.Context, _, name, periodKey string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := name + ":" + periodKey
	if s.claimed[key] {
		return false, nil
	}
	s.claimed[key] = true
	return true, nil
}

func (s *stubJobRuns) Finish(_ context.Context, _, status, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished = append(s.finished, status)
	return nil
}

func newTestLedger(accounts stubLedgerAccounts, ledgerLog stubTransactionLog, hub *stubHub, publisher *stubPublisher) *LedgerService {
	return NewLedgerService(
		fakeTxRunner{},
		accounts,
		ledgerLog,
		NewCatalog(catalogConfig()),
		64,
		time.Minute,
		hub,
		publisher,
		newTestMetrics(),
		newTestServiceLogger(),
	)
}
