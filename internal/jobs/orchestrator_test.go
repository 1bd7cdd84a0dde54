package jobs

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"marketlens/internal/cache"
	"marketlens/internal/interfaces"
	"marketlens/internal/source"
	"marketlens/internal/store"
	"marketlens/internal/types"
)

// --- fakes ---

type fakeAdapter struct {
	name    string
	metrics map[string]float64
	fail    bool
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Fetch(ctx context.Context, symbol string) types.SourceReading {
	r := types.SourceReading{SourceName: f.name, FetchedAt: time.Now()}
	if f.fail {
		r.Status = types.ReadingFailed
		r.Err = "provider down"
		return r
	}
	r.Status = types.ReadingSuccess
	r.Metrics = f.metrics
	return r
}

type fakeCandles struct {
	fail bool
}

func (f *fakeCandles) Name() string { return "candles" }

func (f *fakeCandles) RecentCandles(ctx context.Context, symbol string, n int) ([]interfaces.Candle, error) {
	if f.fail {
		return nil, errors.New("kline endpoint down")
	}
	now := time.Now()
	bars := make([]interfaces.Candle, n)
	for i := range bars {
		close := 100 + float64(i)*0.1
		bars[i] = interfaces.Candle{
			Ts:    now.Add(-time.Duration(n-1-i) * 5 * time.Minute).Unix(),
			Open:  close - 0.05,
			High:  close + 1,
			Low:   close - 1,
			Close: close,
			Vol:   10,
		}
	}
	return bars, nil
}

type fakeHeadlines struct {
	fail bool
}

func (f *fakeHeadlines) Name() string { return "headlines" }

func (f *fakeHeadlines) Headlines(ctx context.Context, symbol string, max int) ([]string, error) {
	if f.fail {
		return nil, errors.New("scrape blocked")
	}
	return []string{
		symbol + " rallies as institutional inflows continue",
		"Analysts split on " + symbol + " outlook",
	}, nil
}

type fakeAnalyst struct {
	calls int
	err   error
	last  types.AnalysisContext
}

func (f *fakeAnalyst) Analyze(ctx context.Context, actx types.AnalysisContext) (types.Verdict, error) {
	f.calls++
	f.last = actx
	if f.err != nil {
		return types.Verdict{}, f.err
	}
	return types.Verdict{Outlook: "NEUTRAL", Confidence: 0.6, Summary: "range-bound"}, nil
}

// --- fixture ---

type fixture struct {
	orch    *Orchestrator
	db      *gorm.DB
	cache   *cache.Cache
	analyst *fakeAnalyst
}

func testConfig() *store.Config {
	cfg := &store.Config{}
	cfg.Symbols = []string{"BTC"}
	cfg.Purity.DivergenceTolerancePct = 0.5
	cfg.Purity.QualityFloor = 70
	cfg.Purity.MaxJumpFactor = 3
	cfg.Purity.FreshnessWindowMinutes = 15
	cfg.Sources.AdapterTimeoutSeconds = 2
	cfg.Sources.PhaseDeadlineSeconds = 5
	cfg.Cache.DefaultTTLSeconds = 900
	cfg.Jobs.DedupeWindowMinutes = 30
	cfg.Jobs.ReclaimGraceMinutes = 5
	cfg.Retry.MaxAttempts = 2
	cfg.Retry.BaseDelayMs = 1
	cfg.Retry.MaxDelayMs = 2
	return cfg
}

func healthyMarket() *source.Cascade {
	return source.NewCascade(time.Second,
		&fakeAdapter{name: "m1", metrics: map[string]float64{"price_usd": 95000, "volume_24h_usd": 4.1e10}},
		&fakeAdapter{name: "m2", metrics: map[string]float64{"price_usd": 95050}},
		&fakeAdapter{name: "m3", metrics: map[string]float64{"price_usd": 94950}},
	)
}

func newFixture(t *testing.T, mutate ...func(*Deps)) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "jobs_test.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := Migrate(db); err != nil {
		t.Fatalf("failed to migrate jobs: %v", err)
	}
	if err := cache.Migrate(db); err != nil {
		t.Fatalf("failed to migrate cache: %v", err)
	}

	analyst := &fakeAnalyst{}
	deps := Deps{
		DB:     db,
		Cache:  cache.New(db),
		Config: testConfig(),
		Market: healthyMarket(),
		Sentiment: source.NewCascade(time.Second,
			&fakeAdapter{name: "fg", metrics: map[string]float64{
				"index_value":    42,
				"data_timestamp": float64(time.Now().Unix()),
			}},
		),
		OnChain: source.NewCascade(time.Second,
			&fakeAdapter{name: "c1", metrics: map[string]float64{"mempool_tx_count": 45000, "tx_count_24h": 400000}},
			&fakeAdapter{name: "c2", metrics: map[string]float64{"mempool_tx_count": 45100}},
		),
		Candles:   &fakeCandles{},
		Headlines: &fakeHeadlines{},
		Analyst:   analyst,
	}
	for _, m := range mutate {
		m(&deps)
	}

	return &fixture{
		orch:    New(deps),
		db:      db,
		cache:   deps.Cache,
		analyst: analyst,
	}
}

// elapse simulates the gap between ticks: in production the tick interval
// exceeds the phase deadline, so by the time the next tick fires any
// in-flight lease has lapsed. Tests compress that wait by backdating.
func elapse(t *testing.T, f *fixture) {
	t.Helper()
	lapsed := time.Now().Add(-f.orch.deps.Config.PhaseDeadline() - time.Second)
	err := f.db.Model(&Job{}).Where("status = ?", StatusProcessing).
		UpdateColumn("updated_at", lapsed).Error
	if err != nil {
		t.Fatalf("backdate failed: %v", err)
	}
}

// drive ticks the orchestrator until the job reaches a terminal status.
func drive(t *testing.T, f *fixture, id string) *Job {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 12; i++ {
		elapse(t, f)
		job, err := f.orch.ClaimAndAdvance(ctx)
		if job == nil && err == nil {
			break
		}
		current, gerr := f.orch.GetJobStatus(ctx, id)
		if gerr != nil {
			t.Fatalf("status read failed: %v", gerr)
		}
		if current.Terminal() {
			return current
		}
	}
	job, err := f.orch.GetJobStatus(ctx, id)
	if err != nil {
		t.Fatalf("status read failed: %v", err)
	}
	return job
}

// --- tests ---

func TestStartOrReuseIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.orch.StartOrReuse(ctx, "btc")
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	second, err := f.orch.StartOrReuse(ctx, "BTC")
	if err != nil {
		t.Fatalf("second start failed: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("expected the same job inside the dedupe window, got %s and %s", first.ID, second.ID)
	}
	if first.Symbol != "BTC" {
		t.Errorf("symbol should be normalized, got %q", first.Symbol)
	}
}

func TestStartOrReuseOutsideDedupeWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.orch.StartOrReuse(ctx, "BTC")
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	// Age the job out of the window.
	old := time.Now().Add(-time.Hour)
	if err := f.db.Model(&Job{}).Where("id = ?", first.ID).UpdateColumn("created_at", old).Error; err != nil {
		t.Fatalf("backdate failed: %v", err)
	}

	second, err := f.orch.StartOrReuse(ctx, "BTC")
	if err != nil {
		t.Fatalf("second start failed: %v", err)
	}
	if first.ID == second.ID {
		t.Error("a job older than the dedupe window must not be reused")
	}
}

func TestClaimQueuedIsExclusive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.orch.StartOrReuse(ctx, "BTC"); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	winner, err := f.orch.claimQueued(ctx)
	if err != nil {
		t.Fatalf("first claim failed: %v", err)
	}
	if winner == nil || winner.Status != StatusProcessing {
		t.Fatalf("first claim should own the job, got %+v", winner)
	}

	loser, err := f.orch.claimQueued(ctx)
	if err != nil {
		t.Fatalf("second claim errored: %v", err)
	}
	if loser != nil {
		t.Errorf("second claim must observe no eligible job, got %s", loser.ID)
	}
}

type slowAdapter struct {
	name    string
	metrics map[string]float64
	delay   time.Duration
	fetches int32
}

func (s *slowAdapter) Name() string { return s.name }

func (s *slowAdapter) Fetch(ctx context.Context, symbol string) types.SourceReading {
	atomic.AddInt32(&s.fetches, 1)
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
	}
	return types.SourceReading{
		SourceName: s.name,
		Status:     types.ReadingSuccess,
		Metrics:    s.metrics,
		FetchedAt:  time.Now(),
	}
}

func TestClaimAndAdvanceIsExclusiveWhileWorking(t *testing.T) {
	slow := &slowAdapter{
		name:    "m1",
		delay:   400 * time.Millisecond,
		metrics: map[string]float64{"price_usd": 95000, "volume_24h_usd": 4.1e10},
	}
	f := newFixture(t, func(d *Deps) {
		d.Market = source.NewCascade(time.Second, slow)
	})
	ctx := context.Background()

	started, err := f.orch.StartOrReuse(ctx, "BTC")
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	// Move past Init so the contested claim executes the slow market fetch.
	if _, err := f.orch.ClaimAndAdvance(ctx); err != nil {
		t.Fatalf("init advance failed: %v", err)
	}
	elapse(t, f)

	type outcome struct {
		job *Job
		err error
	}
	results := make(chan outcome, 2)
	go func() {
		job, cerr := f.orch.ClaimAndAdvance(ctx)
		results <- outcome{job, cerr}
	}()
	// The second caller arrives while the first is still mid-fetch.
	time.Sleep(150 * time.Millisecond)
	go func() {
		job, cerr := f.orch.ClaimAndAdvance(ctx)
		results <- outcome{job, cerr}
	}()

	claims := 0
	for i := 0; i < 2; i++ {
		r := <-results
		if r.err != nil {
			t.Fatalf("concurrent advance errored: %v", r.err)
		}
		if r.job != nil {
			claims++
		}
	}
	if claims != 1 {
		t.Errorf("exactly one caller may own a working job, got %d claims", claims)
	}
	if n := atomic.LoadInt32(&slow.fetches); n != 1 {
		t.Errorf("market phase executed %d times, want 1", n)
	}
	job, err := f.orch.GetJobStatus(ctx, started.ID)
	if err != nil {
		t.Fatalf("status read failed: %v", err)
	}
	if job.Phase != PhaseSentiment {
		t.Errorf("a single advance should land on Sentiment, got %s", job.Phase)
	}
}

func TestHappyPathCompletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	started, err := f.orch.StartOrReuse(ctx, "BTC")
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	job := drive(t, f, started.ID)
	if job.Status != StatusCompleted {
		t.Fatalf("expected Completed, got %s (error: %s)", job.Status, job.Error)
	}
	if job.Phase != PhaseDone || job.Progress != 100 {
		t.Errorf("expected Done/100, got %s/%d", job.Phase, job.Progress)
	}
	if job.Verdict == "" {
		t.Error("completed job must carry the analyst verdict")
	}
	if job.CompletedAt == nil {
		t.Error("completed job must carry a completion timestamp")
	}
	if f.analyst.calls != 1 {
		t.Errorf("analyst should be called exactly once, got %d", f.analyst.calls)
	}
	if f.analyst.last.Market == nil || f.analyst.last.Market.PriceUSD != 95000 {
		t.Errorf("analyst context missing triangulated market data: %+v", f.analyst.last.Market)
	}
	if f.analyst.last.OverallQuality < 70 {
		t.Errorf("all-healthy run should clear the floor, got %d", f.analyst.last.OverallQuality)
	}

	var cached types.MarketDataPayload
	if _, err := f.cache.GetPayload(ctx, "BTC", types.DataMarket, &cached); err != nil {
		t.Errorf("market payload should be cached: %v", err)
	}
}

func TestRequiredPhaseFailureFailsJob(t *testing.T) {
	f := newFixture(t, func(d *Deps) {
		d.Market = source.NewCascade(time.Second,
			&fakeAdapter{name: "m1", fail: true},
			&fakeAdapter{name: "m2", fail: true},
		)
	})
	ctx := context.Background()

	started, err := f.orch.StartOrReuse(ctx, "BTC")
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	job := drive(t, f, started.ID)
	if job.Status != StatusFailed {
		t.Fatalf("expected Failed, got %s", job.Status)
	}
	if job.Error == "" {
		t.Error("a failed job must carry a descriptive error")
	}
	if !strings.Contains(job.Error, "market data") {
		t.Errorf("error should name the failed phase, got %q", job.Error)
	}
	if f.analyst.calls != 0 {
		t.Error("analyst must never run for a failed job")
	}
}

func TestOptionalPhaseFailureStillAdvances(t *testing.T) {
	f := newFixture(t, func(d *Deps) {
		d.Sentiment = source.NewCascade(time.Second, &fakeAdapter{name: "fg", fail: true})
	})
	ctx := context.Background()

	started, err := f.orch.StartOrReuse(ctx, "BTC")
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	job := drive(t, f, started.ID)
	if job.Status != StatusCompleted {
		t.Fatalf("optional failure must not fail the job, got %s (error: %s)", job.Status, job.Error)
	}

	results, err := job.Results()
	if err != nil {
		t.Fatalf("accumulator decode failed: %v", err)
	}
	raw, ok := results[PhaseSentiment]
	if !ok {
		t.Fatal("failed optional phase must still be recorded")
	}
	if !isNull(raw) {
		t.Errorf("failed optional phase must record null, got %s", raw)
	}
	if f.analyst.last.Sentiment != nil {
		t.Error("analyst context must not contain sentiment data")
	}
}

func TestAggregateQualityBelowFloorFails(t *testing.T) {
	f := newFixture(t, func(d *Deps) {
		// One of three price sources up, everything optional down: the only
		// contributing score is the degraded market one.
		d.Market = source.NewCascade(time.Second,
			&fakeAdapter{name: "m1", metrics: map[string]float64{"price_usd": 95000, "volume_24h_usd": 4.1e10}},
			&fakeAdapter{name: "m2", fail: true},
			&fakeAdapter{name: "m3", fail: true},
		)
		d.Sentiment = source.NewCascade(time.Second, &fakeAdapter{name: "fg", fail: true})
		d.OnChain = source.NewCascade(time.Second, &fakeAdapter{name: "c1", fail: true})
		d.Candles = &fakeCandles{fail: true}
		d.Headlines = &fakeHeadlines{fail: true}
	})
	ctx := context.Background()

	started, err := f.orch.StartOrReuse(ctx, "BTC")
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	job := drive(t, f, started.ID)
	if job.Status != StatusFailed {
		t.Fatalf("expected quality gate failure, got %s", job.Status)
	}
	if !strings.Contains(job.Error, "quality") {
		t.Errorf("error should mention the quality gate, got %q", job.Error)
	}
	if f.analyst.calls != 0 {
		t.Error("analyst must not run below the quality floor")
	}
}

func TestAnalystFailureFailsJob(t *testing.T) {
	f := newFixture(t)
	f.analyst.err = errors.New("model overloaded")
	ctx := context.Background()

	started, err := f.orch.StartOrReuse(ctx, "BTC")
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	job := drive(t, f, started.ID)
	if job.Status != StatusFailed {
		t.Fatalf("expected Failed after analyst exhaustion, got %s", job.Status)
	}
	if f.analyst.calls != 2 {
		t.Errorf("analyst should be retried up to the policy limit, got %d calls", f.analyst.calls)
	}
}

func TestReclaimStalePreservesPhaseAndResults(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	started, err := f.orch.StartOrReuse(ctx, "BTC")
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	// Advance through Init and MarketData, leaving the job mid-pipeline.
	for i := 0; i < 2; i++ {
		elapse(t, f)
		if _, err := f.orch.ClaimAndAdvance(ctx); err != nil {
			t.Fatalf("advance %d failed: %v", i, err)
		}
	}
	mid, err := f.orch.GetJobStatus(ctx, started.ID)
	if err != nil {
		t.Fatalf("status read failed: %v", err)
	}
	if mid.Status != StatusProcessing || mid.Phase != PhaseSentiment {
		t.Fatalf("expected Processing/Sentiment mid-pipeline, got %s/%s", mid.Status, mid.Phase)
	}

	// Simulate the claiming worker dying: age the row past the grace window.
	stale := time.Now().Add(-10 * time.Minute)
	if err := f.db.Model(&Job{}).Where("id = ?", mid.ID).UpdateColumn("updated_at", stale).Error; err != nil {
		t.Fatalf("backdate failed: %v", err)
	}

	reclaimed, err := f.orch.ReclaimStale(ctx)
	if err != nil {
		t.Fatalf("reclaim failed: %v", err)
	}
	if reclaimed != 1 {
		t.Fatalf("expected 1 reclaimed job, got %d", reclaimed)
	}

	after, err := f.orch.GetJobStatus(ctx, mid.ID)
	if err != nil {
		t.Fatalf("status read failed: %v", err)
	}
	if after.Status != StatusQueued {
		t.Errorf("reclaimed job must be Queued, got %s", after.Status)
	}
	if after.Phase != mid.Phase {
		t.Errorf("reclaim must not touch phase: %s != %s", after.Phase, mid.Phase)
	}
	if after.ResultAccumulator != mid.ResultAccumulator {
		t.Error("reclaim must not touch the result accumulator")
	}

	// The next ticks resume from Sentiment and finish the job.
	job := drive(t, f, mid.ID)
	if job.Status != StatusCompleted {
		t.Errorf("resumed job should complete, got %s (error: %s)", job.Status, job.Error)
	}
}

func TestReclaimIgnoresFreshProcessing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.orch.StartOrReuse(ctx, "BTC"); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if _, err := f.orch.ClaimAndAdvance(ctx); err != nil {
		t.Fatalf("advance failed: %v", err)
	}

	reclaimed, err := f.orch.ReclaimStale(ctx)
	if err != nil {
		t.Fatalf("reclaim failed: %v", err)
	}
	if reclaimed != 0 {
		t.Errorf("a freshly updated Processing job must not be reclaimed, got %d", reclaimed)
	}
}

func TestClaimWithEmptyQueue(t *testing.T) {
	f := newFixture(t)

	job, err := f.orch.ClaimAndAdvance(context.Background())
	if err != nil {
		t.Fatalf("idle tick errored: %v", err)
	}
	if job != nil {
		t.Errorf("idle tick should claim nothing, got %s", job.ID)
	}
}

func TestGetJobStatusUnknown(t *testing.T) {
	f := newFixture(t)

	_, err := f.orch.GetJobStatus(context.Background(), "no-such-id")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestTerminalJobsAreNeverReclaimed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	started, err := f.orch.StartOrReuse(ctx, "BTC")
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	done := drive(t, f, started.ID)
	if done.Status != StatusCompleted {
		t.Fatalf("setup: expected completed job, got %s", done.Status)
	}

	stale := time.Now().Add(-time.Hour)
	if err := f.db.Model(&Job{}).Where("id = ?", done.ID).UpdateColumn("updated_at", stale).Error; err != nil {
		t.Fatalf("backdate failed: %v", err)
	}
	reclaimed, err := f.orch.ReclaimStale(ctx)
	if err != nil {
		t.Fatalf("reclaim failed: %v", err)
	}
	if reclaimed != 0 {
		t.Errorf("terminal jobs must stay terminal, reclaimed %d", reclaimed)
	}

	after, _ := f.orch.GetJobStatus(ctx, done.ID)
	if after.Status != StatusCompleted {
		t.Errorf("completed job mutated to %s", after.Status)
	}
}

func TestDifferentSymbolsGetDifferentJobs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	btc, err := f.orch.StartOrReuse(ctx, "BTC")
	if err != nil {
		t.Fatalf("start BTC failed: %v", err)
	}
	eth, err := f.orch.StartOrReuse(ctx, "ETH")
	if err != nil {
		t.Fatalf("start ETH failed: %v", err)
	}
	if btc.ID == eth.ID {
		t.Error("different symbols must never share a job")
	}
}

func TestProgressIsMonotonic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	started, err := f.orch.StartOrReuse(ctx, "BTC")
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	last := -1
	for i := 0; i < 10; i++ {
		elapse(t, f)
		if _, err := f.orch.ClaimAndAdvance(ctx); err != nil {
			t.Fatalf("advance failed: %v", err)
		}
		job, err := f.orch.GetJobStatus(ctx, started.ID)
		if err != nil {
			t.Fatalf("status read failed: %v", err)
		}
		if job.Progress < last {
			t.Fatalf("progress regressed from %d to %d at %s", last, job.Progress, job.Phase)
		}
		last = job.Progress
		if job.Terminal() {
			break
		}
	}
	if last != 100 {
		t.Errorf("expected final progress 100, got %d", last)
	}
}

func TestPhaseOrderIsFixed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	started, err := f.orch.StartOrReuse(ctx, "BTC")
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	want := []Phase{PhaseMarketData, PhaseSentiment, PhaseTechnical, PhaseOnChain, PhaseNews, PhaseAIAnalysis, PhaseDone}
	for i, expect := range want {
		elapse(t, f)
		if _, err := f.orch.ClaimAndAdvance(ctx); err != nil {
			t.Fatalf("tick %d failed: %v", i, err)
		}
		job, err := f.orch.GetJobStatus(ctx, started.ID)
		if err != nil {
			t.Fatalf("status read failed: %v", err)
		}
		if job.Phase != expect {
			t.Fatalf("tick %d: expected phase %s, got %s", i, expect, job.Phase)
		}
	}
}

func TestAccumulatorHoldsEveryCollectionPhase(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	started, err := f.orch.StartOrReuse(ctx, "BTC")
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	job := drive(t, f, started.ID)
	if job.Status != StatusCompleted {
		t.Fatalf("setup: job did not complete: %s", job.Error)
	}

	results, err := job.Results()
	if err != nil {
		t.Fatalf("accumulator decode failed: %v", err)
	}
	for _, phase := range []Phase{PhaseMarketData, PhaseSentiment, PhaseTechnical, PhaseOnChain, PhaseNews} {
		raw, ok := results[phase]
		if !ok {
			t.Errorf("accumulator missing phase %s", phase)
			continue
		}
		if isNull(raw) {
			t.Errorf("healthy phase %s recorded null", phase)
		}
	}
}

func TestExampleScenarioScores(t *testing.T) {
	// 95000/95050/94950 with all sources up scores at or above the floor;
	// the same prices with two sources down scores strictly below it.
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.orch.StartOrReuse(ctx, "BTC"); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		elapse(t, f)
		if _, err := f.orch.ClaimAndAdvance(ctx); err != nil {
			t.Fatalf("advance failed: %v", err)
		}
	}

	var healthy types.MarketDataPayload
	if _, err := f.cache.GetPayload(ctx, "BTC", types.DataMarket, &healthy); err != nil {
		t.Fatalf("cached market payload missing: %v", err)
	}
	if healthy.PriceUSD != 95000 {
		t.Errorf("expected median 95000, got %f", healthy.PriceUSD)
	}
	if healthy.QualityScore < 70 {
		t.Errorf("healthy triangulation should clear the floor, got %d", healthy.QualityScore)
	}

	degraded := newFixture(t, func(d *Deps) {
		d.Market = source.NewCascade(time.Second,
			&fakeAdapter{name: "m1", metrics: map[string]float64{"price_usd": 95000, "volume_24h_usd": 4.1e10}},
			&fakeAdapter{name: "m2", fail: true},
			&fakeAdapter{name: "m3", fail: true},
		)
	})
	if _, err := degraded.orch.StartOrReuse(ctx, "BTC"); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		elapse(t, degraded)
		if _, err := degraded.orch.ClaimAndAdvance(ctx); err != nil {
			t.Fatalf("advance failed: %v", err)
		}
	}

	var weak types.MarketDataPayload
	if _, err := degraded.cache.GetPayload(ctx, "BTC", types.DataMarket, &weak); err != nil {
		t.Fatalf("cached market payload missing: %v", err)
	}
	if weak.QualityScore >= healthy.QualityScore {
		t.Errorf("two sources down must score lower: %d vs %d", weak.QualityScore, healthy.QualityScore)
	}
	if weak.QualityScore >= 70 {
		t.Errorf("two of three sources down must score below the floor, got %d", weak.QualityScore)
	}
}

func TestComputeIndicators(t *testing.T) {
	payload, err := ComputeIndicators(context.Background(), &fakeCandles{}, "BTC")
	if err != nil {
		t.Fatalf("compute failed: %v", err)
	}
	if payload.LastClose <= 0 {
		t.Error("last close missing")
	}
	// Closes rise monotonically, so the short average leads the long one.
	if payload.SMA20 <= payload.SMA50 {
		t.Errorf("expected SMA20 > SMA50 on an uptrend, got %f <= %f", payload.SMA20, payload.SMA50)
	}
	if payload.BBUpper < payload.BBMiddle || payload.BBMiddle < payload.BBLower {
		t.Error("bollinger bands out of order")
	}
	if payload.RSI14 < 50 {
		t.Errorf("uptrend RSI should be high, got %f", payload.RSI14)
	}
}

func TestComputeIndicatorsTooFewCandles(t *testing.T) {
	short := &shortCandles{n: 10}
	_, err := ComputeIndicators(context.Background(), short, "BTC")
	if err == nil {
		t.Fatal("expected an error with too few candles")
	}
	if !strings.Contains(err.Error(), "51") {
		t.Errorf("error should state the minimum window, got %v", err)
	}
}

type shortCandles struct{ n int }

func (s *shortCandles) Name() string { return "short" }

func (s *shortCandles) RecentCandles(ctx context.Context, symbol string, n int) ([]interfaces.Candle, error) {
	full, _ := (&fakeCandles{}).RecentCandles(ctx, symbol, s.n)
	return full, nil
}

