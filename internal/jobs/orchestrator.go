package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"marketlens/internal/cache"
	"marketlens/internal/interfaces"
	"marketlens/internal/logger"
	"marketlens/internal/purity"
	"marketlens/internal/retry"
	"marketlens/internal/source"
	"marketlens/internal/store"
	"marketlens/internal/types"
)

// ErrNotFound is returned when a job id does not exist.
var ErrNotFound = errors.New("job not found")

// Deps are the collaborators the orchestrator drives. Market and OnChain run
// in triangulation mode (all sources queried and cross-validated); Sentiment
// walks its tiers and stops at the first success.
type Deps struct {
	DB        *gorm.DB
	Cache     *cache.Cache
	Config    *store.Config
	Market    *source.Cascade
	Sentiment *source.Cascade
	OnChain   *source.Cascade
	Candles   interfaces.CandleSource
	Headlines interfaces.HeadlineSource
	Analyst   interfaces.Analyst
}

// Orchestrator owns the job state machine. It is safe for concurrent use:
// every mutation is a single-row upsert or compare-and-swap update, so two
// ticks can never advance the same job at once.
type Orchestrator struct {
	deps         Deps
	tri          *purity.Triangulator
	sanity       *purity.SanityChecker
	marketSanity *purity.SanityChecker
	scorer       *purity.QualityScorer
	policy       retry.Policy
}

// New wires an orchestrator from its collaborators and config.
func New(deps Deps) *Orchestrator {
	cfg := deps.Config
	base := purity.SanityConfig{
		FreshnessWindow: cfg.FreshnessWindow(),
		MaxJumpFactor:   cfg.Purity.MaxJumpFactor,
	}
	// A market with zero reported volume structurally cannot exist.
	market := base
	market.RequiredNonZero = []string{"volume_24h_usd"}

	return &Orchestrator{
		deps:         deps,
		tri:          purity.NewTriangulator(cfg.Purity.DivergenceTolerancePct),
		sanity:       purity.NewSanityChecker(base),
		marketSanity: purity.NewSanityChecker(market),
		scorer:       purity.NewQualityScorer(purity.DefaultScorerConfig(cfg.Purity.DivergenceTolerancePct)),
		policy: retry.Policy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.RetryBaseDelay(),
			MaxDelay:    cfg.RetryMaxDelay(),
		},
	}
}

// StartOrReuse returns the live job for symbol created within the dedupe
// window, or inserts a new Queued one. This makes "start analysis" idempotent
// under client retries and double-clicks.
func (o *Orchestrator) StartOrReuse(ctx context.Context, symbol string) (*Job, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, errors.New("symbol cannot be empty")
	}

	cutoff := time.Now().Add(-o.deps.Config.DedupeWindow())

	var existing Job
	err := o.deps.DB.WithContext(ctx).
		Where("symbol = ? AND status IN ? AND created_at > ?",
			symbol, []JobStatus{StatusQueued, StatusProcessing}, cutoff).
		Order("created_at asc").
		First(&existing).Error
	if err == nil {
		logger.JobEvent(ctx, existing.ID, symbol, string(existing.Status), string(existing.Phase), "reused", true)
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("job lookup failed: %w", err)
	}

	job := &Job{
		ID:                uuid.NewString(),
		Symbol:            symbol,
		Status:            StatusQueued,
		Phase:             PhaseInit,
		Progress:          0,
		ResultAccumulator: "{}",
	}
	if err := o.deps.DB.WithContext(ctx).Create(job).Error; err != nil {
		return nil, fmt.Errorf("job insert failed: %w", err)
	}

	logger.JobEvent(ctx, job.ID, symbol, string(job.Status), string(job.Phase), "reused", false)
	return job, nil
}

// GetJobStatus is the poll-friendly read used by the API layer.
func (o *Orchestrator) GetJobStatus(ctx context.Context, id string) (*Job, error) {
	var job Job
	err := o.deps.DB.WithContext(ctx).First(&job, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("job read failed: %w", err)
	}
	return &job, nil
}

// ReclaimStale returns abandoned Processing jobs to Queued. Phase and
// accumulator are left untouched so the next tick resumes where the dead
// worker stopped instead of restarting the pipeline.
func (o *Orchestrator) ReclaimStale(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-o.deps.Config.ReclaimGrace())
	res := o.deps.DB.WithContext(ctx).
		Model(&Job{}).
		Where("status = ? AND updated_at < ?", StatusProcessing, cutoff).
		Update("status", StatusQueued)
	if res.Error != nil {
		return 0, fmt.Errorf("stale reclaim failed: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		logger.Info(ctx, "Reclaimed stale jobs", "count", res.RowsAffected)
	}
	return res.RowsAffected, nil
}

// ClaimAndAdvance claims at most one job and executes exactly one phase of
// its work. It returns (nil, nil) when no job is eligible, which is the
// normal idle case.
func (o *Orchestrator) ClaimAndAdvance(ctx context.Context) (*Job, error) {
	job, err := o.claim(ctx)
	if err != nil || job == nil {
		return nil, err
	}

	timer := logger.StartOperation(ctx, "advance-phase",
		"job_id", job.ID, "symbol", job.Symbol, "phase", string(job.Phase))
	err = o.advance(timer.GetContext(), job)
	if err != nil {
		timer.EndWithError(err)
		return job, err
	}
	timer.End("status", string(job.Status), "next_phase", string(job.Phase))
	return job, nil
}

// claim atomically takes ownership of one job. In-flight Processing work is
// preferred over starting a fresh Queued job. Ownership of a Processing row
// is a lease: the row is claimable only once updated_at is older than the
// phase deadline, because a live worker's phase cannot outlast that deadline.
// Of two concurrent callers exactly one wins and the other observes no
// eligible job.
func (o *Orchestrator) claim(ctx context.Context) (*Job, error) {
	job, err := o.claimInflight(ctx)
	if err != nil || job != nil {
		return job, err
	}
	return o.claimQueued(ctx)
}

// claimInflight continues the oldest Processing job whose lease has lapsed.
// A row updated within the phase deadline belongs to a worker that may still
// be executing; claiming it would run the same phase twice. The CAS on
// updated_at settles the race between two callers that both saw the lease as
// lapsed.
func (o *Orchestrator) claimInflight(ctx context.Context) (*Job, error) {
	db := o.deps.DB.WithContext(ctx)
	leaseCutoff := time.Now().Add(-o.deps.Config.PhaseDeadline())

	var inflight Job
	err := db.Where("status = ? AND updated_at < ?", StatusProcessing, leaseCutoff).
		Order("created_at asc").First(&inflight).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("job claim lookup failed: %w", err)
	}

	res := db.Model(&Job{}).
		Where("id = ? AND status = ? AND updated_at = ?", inflight.ID, StatusProcessing, inflight.UpdatedAt).
		Update("updated_at", time.Now())
	if res.Error != nil {
		return nil, fmt.Errorf("job claim failed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		// Lost the race.
		return nil, nil
	}
	return o.GetJobStatus(ctx, inflight.ID)
}

// claimQueued takes the oldest Queued job by flipping its status as part of
// the same update, so exactly one of N concurrent callers wins the row.
func (o *Orchestrator) claimQueued(ctx context.Context) (*Job, error) {
	db := o.deps.DB.WithContext(ctx)

	var queued Job
	err := db.Where("status = ?", StatusQueued).Order("created_at asc").First(&queued).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("job claim lookup failed: %w", err)
	}

	res := db.Model(&Job{}).
		Where("id = ? AND status = ?", queued.ID, StatusQueued).
		Update("status", StatusProcessing)
	if res.Error != nil {
		return nil, fmt.Errorf("job claim failed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return o.GetJobStatus(ctx, queued.ID)
}

// advance executes the claimed job's current phase and persists the outcome.
// Every transition is written before the next phase can begin.
func (o *Orchestrator) advance(ctx context.Context, job *Job) error {
	switch job.Phase {
	case PhaseInit:
		return o.completePhase(ctx, job, nil, false)
	case PhaseMarketData:
		payload, err := o.runMarketData(ctx, job.Symbol)
		if err != nil {
			// MarketData is the one required phase.
			return o.fail(ctx, job, fmt.Errorf("market data collection failed: %w", err))
		}
		return o.completePhase(ctx, job, payload, true)
	case PhaseSentiment:
		payload, err := o.runSentiment(ctx, job.Symbol)
		return o.completeOptional(ctx, job, payload, err)
	case PhaseTechnical:
		payload, err := o.runTechnical(ctx, job.Symbol)
		return o.completeOptional(ctx, job, payload, err)
	case PhaseOnChain:
		payload, err := o.runOnChain(ctx, job.Symbol)
		return o.completeOptional(ctx, job, payload, err)
	case PhaseNews:
		payload, err := o.runNews(ctx, job.Symbol)
		return o.completeOptional(ctx, job, payload, err)
	case PhaseAIAnalysis:
		return o.runAIAnalysis(ctx, job)
	case PhaseDone:
		// Should be unreachable while Processing; close the job out anyway.
		return o.complete(ctx, job)
	default:
		return o.fail(ctx, job, fmt.Errorf("unknown phase %q", job.Phase))
	}
}

// completeOptional records an optional phase outcome. Failures store an
// explicit null and still advance.
func (o *Orchestrator) completeOptional(ctx context.Context, job *Job, payload any, err error) error {
	if err != nil {
		logger.Warn(ctx, "Optional phase produced no data",
			"job_id", job.ID, "symbol", job.Symbol, "phase", string(job.Phase), "error", err)
		return o.completePhase(ctx, job, nil, true)
	}
	return o.completePhase(ctx, job, payload, true)
}

func (o *Orchestrator) completePhase(ctx context.Context, job *Job, payload any, record bool) error {
	if record {
		if err := job.SetResult(job.Phase, payload); err != nil {
			return o.fail(ctx, job, err)
		}
	}
	job.Phase = job.Phase.Next()
	job.Progress = ProgressFor(job.Phase)
	if err := o.persist(ctx, job); err != nil {
		return err
	}
	logger.JobEvent(ctx, job.ID, job.Symbol, string(job.Status), string(job.Phase), "progress", job.Progress)
	return nil
}

func (o *Orchestrator) complete(ctx context.Context, job *Job) error {
	now := time.Now()
	job.Status = StatusCompleted
	job.Phase = PhaseDone
	job.Progress = 100
	job.CompletedAt = &now
	if err := o.persist(ctx, job); err != nil {
		return err
	}
	logger.JobEvent(ctx, job.ID, job.Symbol, string(job.Status), string(job.Phase))
	return nil
}

func (o *Orchestrator) fail(ctx context.Context, job *Job, cause error) error {
	now := time.Now()
	job.Status = StatusFailed
	job.Error = cause.Error()
	job.CompletedAt = &now
	if err := o.persist(ctx, job); err != nil {
		return errors.Join(cause, err)
	}
	logger.JobEvent(ctx, job.ID, job.Symbol, string(job.Status), string(job.Phase), "error", job.Error)
	return cause
}

// persist saves the job with bounded retries. If the store stays down the
// job is marked Failed with one last best-effort write rather than being
// left in an ambiguous state.
func (o *Orchestrator) persist(ctx context.Context, job *Job) error {
	err := o.policy.Do(ctx, "job-persist", func() error {
		return o.deps.DB.WithContext(ctx).Save(job).Error
	})
	if err == nil {
		return nil
	}
	job.Status = StatusFailed
	job.Error = fmt.Sprintf("job persistence failed: %v", err)
	o.deps.DB.WithContext(ctx).Save(job)
	return err
}

// phaseCtx bounds one phase's work so a slow provider can never overrun the
// tick that claimed the job.
func (o *Orchestrator) phaseCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, o.deps.Config.PhaseDeadline())
}

func (o *Orchestrator) runMarketData(ctx context.Context, symbol string) (*types.MarketDataPayload, error) {
	ctx, cancel := o.phaseCtx(ctx)
	defer cancel()

	readings := o.deps.Market.FetchAll(ctx, symbol)
	tri := o.tri.Triangulate(readings, "price_usd")
	if tri.MedianValue == nil {
		return nil, source.ErrNoData
	}

	var prev *float64
	var cached types.MarketDataPayload
	if _, err := o.deps.Cache.GetPayload(ctx, symbol, types.DataMarket, &cached); err == nil {
		prev = &cached.PriceUSD
	}

	sanity := o.marketSanity.Check(purity.SanityInput{
		Triangulation: tri,
		Aux:           auxMetrics(readings, "volume_24h_usd"),
		PreviousValue: prev,
		DataTimestamp: dataTimestamp(readings),
	})
	score := o.scorer.Score(tri, sanity, source.Statuses(readings))

	payload := &types.MarketDataPayload{
		Symbol:           symbol,
		PriceUSD:         *tri.MedianValue,
		PerSourceValues:  tri.PerSourceValues,
		MaxDivergencePct: tri.Divergence.MaxDivergencePct,
		QualityScore:     score,
		FetchedAt:        time.Now(),
	}
	o.cachePayload(ctx, symbol, types.DataMarket, payload, score)
	logger.Quality(ctx, symbol, string(types.DataMarket), score,
		"median_price", payload.PriceUSD,
		"max_divergence_pct", payload.MaxDivergencePct,
		"fatal_discrepancies", sanity.FatalCount(),
	)
	return payload, nil
}

func (o *Orchestrator) runSentiment(ctx context.Context, symbol string) (*types.SentimentPayload, error) {
	ctx, cancel := o.phaseCtx(ctx)
	defer cancel()

	res, err := o.deps.Sentiment.Fetch(ctx, symbol)
	if err != nil {
		return nil, err
	}

	value, ok := res.Reading.Value("index_value")
	if !ok {
		return nil, fmt.Errorf("sentiment reading from %s has no index value", res.Reading.SourceName)
	}

	tri := o.tri.Triangulate([]types.SourceReading{res.Reading}, "index_value")
	sanity := o.sanity.Check(purity.SanityInput{
		Triangulation: tri,
		DataTimestamp: metricTimestamp(res.Reading, "data_timestamp"),
	})
	score := o.scorer.Score(tri, sanity, []types.SourceStatus{{Name: res.Reading.SourceName, Status: res.Reading.Status}})

	payload := &types.SentimentPayload{
		Symbol:         symbol,
		IndexValue:     value,
		Classification: source.ClassifyFearGreed(value),
		QualityScore:   score,
		FetchedAt:      time.Now(),
	}
	o.cachePayload(ctx, symbol, types.DataSentiment, payload, score)
	logger.Quality(ctx, symbol, string(types.DataSentiment), score, "index_value", value)
	return payload, nil
}

func (o *Orchestrator) runTechnical(ctx context.Context, symbol string) (*types.TechnicalPayload, error) {
	ctx, cancel := o.phaseCtx(ctx)
	defer cancel()

	payload, err := ComputeIndicators(ctx, o.deps.Candles, symbol)
	if err != nil {
		return nil, err
	}

	// One provider, no cross-validation possible; score on availability and
	// freshness of the latest bar.
	value := payload.LastClose
	tri := types.TriangulationResult{
		MedianValue:     &value,
		PerSourceValues: map[string]*float64{o.deps.Candles.Name(): &value},
		ComputedAt:      time.Now(),
	}
	sanity := o.sanity.Check(purity.SanityInput{
		Triangulation: tri,
		DataTimestamp: payload.FetchedAt,
	})
	score := o.scorer.Score(tri, sanity, []types.SourceStatus{{Name: o.deps.Candles.Name(), Status: types.ReadingSuccess}})

	payload.Symbol = symbol
	payload.QualityScore = score
	o.cachePayload(ctx, symbol, types.DataTechnical, payload, score)
	logger.Quality(ctx, symbol, string(types.DataTechnical), score, "rsi_14", payload.RSI14)
	return payload, nil
}

func (o *Orchestrator) runOnChain(ctx context.Context, symbol string) (*types.OnChainPayload, error) {
	ctx, cancel := o.phaseCtx(ctx)
	defer cancel()

	readings := o.deps.OnChain.FetchAll(ctx, symbol)
	tri := o.tri.Triangulate(readings, "mempool_tx_count")
	if tri.MedianValue == nil {
		return nil, source.ErrNoData
	}

	sanity := o.sanity.Check(purity.SanityInput{
		Triangulation: tri,
		Aux:           auxMetrics(readings, "tx_count_24h"),
		DataTimestamp: dataTimestamp(readings),
	})
	score := o.scorer.Score(tri, sanity, source.Statuses(readings))

	payload := &types.OnChainPayload{
		Symbol:         symbol,
		MempoolTxCount: *tri.MedianValue,
		QualityScore:   score,
		FetchedAt:      time.Now(),
	}
	for _, r := range readings {
		if v, ok := r.Value("tx_count_24h"); ok {
			payload.TxCount24h = v
		}
		if v, ok := r.Value("hash_rate_ghs"); ok {
			payload.HashRateEHS = v / 1e9
		}
	}
	o.cachePayload(ctx, symbol, types.DataOnChain, payload, score)
	logger.Quality(ctx, symbol, string(types.DataOnChain), score, "mempool_tx_count", payload.MempoolTxCount)
	return payload, nil
}

func (o *Orchestrator) runNews(ctx context.Context, symbol string) (*types.NewsPayload, error) {
	ctx, cancel := o.phaseCtx(ctx)
	defer cancel()

	headlines, err := o.deps.Headlines.Headlines(ctx, symbol, 15)
	if err != nil {
		return nil, err
	}

	count := float64(len(headlines))
	tri := types.TriangulationResult{
		MedianValue:     &count,
		PerSourceValues: map[string]*float64{o.deps.Headlines.Name(): &count},
		ComputedAt:      time.Now(),
	}
	sanity := o.sanity.Check(purity.SanityInput{Triangulation: tri})
	score := o.scorer.Score(tri, sanity, []types.SourceStatus{{Name: o.deps.Headlines.Name(), Status: types.ReadingSuccess}})

	payload := &types.NewsPayload{
		Symbol:       symbol,
		ArticleCount: len(headlines),
		Headlines:    headlines,
		QualityScore: score,
		FetchedAt:    time.Now(),
	}
	o.cachePayload(ctx, symbol, types.DataNews, payload, score)
	logger.Quality(ctx, symbol, string(types.DataNews), score, "article_count", payload.ArticleCount)
	return payload, nil
}

// runAIAnalysis aggregates the accumulator, applies the overall quality gate
// and hands the context to the analyst. This is the only phase that touches
// the external analyst collaborator.
func (o *Orchestrator) runAIAnalysis(ctx context.Context, job *Job) error {
	actx, err := o.buildContext(job)
	if err != nil {
		return o.fail(ctx, job, err)
	}
	if actx.Market == nil {
		return o.fail(ctx, job, errors.New("no market data collected, nothing to analyze"))
	}

	floor := o.deps.Config.Purity.QualityFloor
	if actx.OverallQuality < floor {
		return o.fail(ctx, job, fmt.Errorf("aggregate quality %d below floor %d", actx.OverallQuality, floor))
	}

	var verdict types.Verdict
	err = o.policy.Do(ctx, "ai-analysis", func() error {
		var aerr error
		verdict, aerr = o.deps.Analyst.Analyze(ctx, *actx)
		return aerr
	})
	if err != nil {
		return o.fail(ctx, job, fmt.Errorf("analyst failed: %w", err))
	}

	raw, err := json.Marshal(verdict)
	if err != nil {
		return o.fail(ctx, job, err)
	}
	job.Verdict = string(raw)
	return o.complete(ctx, job)
}

// buildContext decodes every accumulated phase payload and derives the
// aggregate quality. Market quality counts double because every downstream
// judgement hangs off the price.
func (o *Orchestrator) buildContext(job *Job) (*types.AnalysisContext, error) {
	results, err := job.Results()
	if err != nil {
		return nil, err
	}

	actx := &types.AnalysisContext{Symbol: job.Symbol}
	var weighted, weights int

	if raw, ok := results[PhaseMarketData]; ok && !isNull(raw) {
		var p types.MarketDataPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("corrupt market payload: %w", err)
		}
		actx.Market = &p
		weighted += 2 * p.QualityScore
		weights += 2
	}
	if raw, ok := results[PhaseSentiment]; ok && !isNull(raw) {
		var p types.SentimentPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("corrupt sentiment payload: %w", err)
		}
		actx.Sentiment = &p
		weighted += p.QualityScore
		weights++
	}
	if raw, ok := results[PhaseTechnical]; ok && !isNull(raw) {
		var p types.TechnicalPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("corrupt technical payload: %w", err)
		}
		actx.Technical = &p
		weighted += p.QualityScore
		weights++
	}
	if raw, ok := results[PhaseOnChain]; ok && !isNull(raw) {
		var p types.OnChainPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("corrupt onchain payload: %w", err)
		}
		actx.OnChain = &p
		weighted += p.QualityScore
		weights++
	}
	if raw, ok := results[PhaseNews]; ok && !isNull(raw) {
		var p types.NewsPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("corrupt news payload: %w", err)
		}
		actx.News = &p
		weighted += p.QualityScore
		weights++
	}

	if weights > 0 {
		actx.OverallQuality = weighted / weights
	}
	return actx, nil
}

// cachePayload writes a phase result through to the cache. Cache failures are
// logged but never fail the phase: the accumulator already holds the data.
func (o *Orchestrator) cachePayload(ctx context.Context, symbol string, dataType types.DataType, payload any, score int) {
	if _, err := o.deps.Cache.Set(ctx, symbol, dataType, payload, o.deps.Config.CacheTTL(), score); err != nil {
		logger.ErrorWithErr(ctx, "Cache write failed", err, "symbol", symbol, "data_type", string(dataType))
	}
}

// auxMetrics collects named auxiliary metrics from whichever readings carry
// them. Later readings win on key collisions.
func auxMetrics(readings []types.SourceReading, names ...string) map[string]float64 {
	aux := make(map[string]float64)
	for _, r := range readings {
		if !r.OK() {
			continue
		}
		for _, name := range names {
			if v, ok := r.Value(name); ok {
				aux[name] = v
			}
		}
	}
	return aux
}

// dataTimestamp returns the earliest explicit data timestamp any successful
// reading carries, or zero when none does.
func dataTimestamp(readings []types.SourceReading) time.Time {
	var earliest time.Time
	for _, r := range readings {
		if !r.OK() {
			continue
		}
		ts := metricTimestamp(r, "last_updated_at")
		if ts.IsZero() {
			ts = metricTimestamp(r, "data_timestamp")
		}
		if !ts.IsZero() && (earliest.IsZero() || ts.Before(earliest)) {
			earliest = ts
		}
	}
	return earliest
}

func metricTimestamp(r types.SourceReading, metric string) time.Time {
	if v, ok := r.Value(metric); ok && v > 0 {
		return time.Unix(int64(v), 0)
	}
	return time.Time{}
}

// isNull reports whether a stored phase result is the explicit "ran but
// produced nothing" marker.
func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
