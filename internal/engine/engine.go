// Package engine drives evaluation: streaming updates trigger per-symbol
// checks immediately, and a periodic sweep re-examines the whole universe
// as a backstop.
package engine

import (
	"context"
	"math"
	"sync"
	"time"

	"bybit-funding-bot/internal/bybit"
	"bybit-funding-bot/internal/database"
	"bybit-funding-bot/internal/dispatch"
	"bybit-funding-bot/internal/indicators"
	"bybit-funding-bot/internal/logging"
	"bybit-funding-bot/internal/market"
	"bybit-funding-bot/internal/signals"
)

const (
	numWorkers    = 8
	triggerBuffer = 1024

	sweepInterval = 5 * time.Minute
	// Batch sizes for the sweep; high-priority symbols go first in
	// smaller batches.
	highPriorityBatch   = 5
	normalPriorityBatch = 10
	interBatchDelay     = 1000 * time.Millisecond

	// High-priority sweep thresholds.
	highPriorityFunding  = 0.03
	highPriorityVelocity = 0.0001

	recentSignalCap = 50
)

// Repository is the optional persistence sink. Writes are best-effort;
// failures never block dispatch.
type Repository interface {
	InsertSignal(ctx context.Context, sig *signals.Signal, dispatched bool) error
	InsertFundingSnapshot(ctx context.Context, snap *database.FundingSnapshot) error
}

// Stats reports engine counters for the ops API.
type Stats struct {
	Evaluations      int64 `json:"evaluations"`
	CandidateSignals int64 `json:"candidate_signals"`
	Dispatched       int64 `json:"dispatched"`
	TriggersDropped  int64 `json:"triggers_dropped"`
	SweepsCompleted  int64 `json:"sweeps_completed"`
}

// Engine wires the stream into the store and schedules evaluations.
type Engine struct {
	store     *market.Store
	stream    *bybit.PublicStream
	evaluator *signals.Evaluator
	governor  *dispatch.Governor
	repo      Repository
	logger    *logging.Logger

	triggers chan string

	mu     sync.Mutex
	stats  Stats
	recent []*signals.Signal

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates an engine. repo may be nil when persistence is not
// configured.
func New(store *market.Store, stream *bybit.PublicStream, evaluator *signals.Evaluator,
	governor *dispatch.Governor, repo Repository, logger *logging.Logger) *Engine {
	return &Engine{
		store:     store,
		stream:    stream,
		evaluator: evaluator,
		governor:  governor,
		repo:      repo,
		logger:    logger.WithComponent("engine"),
		triggers:  make(chan string, triggerBuffer),
		stopChan:  make(chan struct{}),
	}
}

// Start launches the ingest loops, worker pool, and sweep loop.
func (e *Engine) Start() {
	e.wg.Add(3 + numWorkers)
	go e.fundingLoop()
	go e.tickerLoop()
	go e.sweepLoop()
	for i := 0; i < numWorkers; i++ {
		go e.worker()
	}
	e.logger.Info("engine started", "workers", numWorkers)
}

// Stop shuts the engine down and waits for in-flight evaluations.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopChan) })
	e.wg.Wait()
	e.logger.Info("engine stopped")
}

// Stats returns a snapshot of engine counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// RecentSignals returns the most recently dispatched signals, newest first.
func (e *Engine) RecentSignals() []*signals.Signal {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*signals.Signal, len(e.recent))
	copy(out, e.recent)
	return out
}

// fundingLoop ingests streamed funding updates and triggers evaluation.
func (e *Engine) fundingLoop() {
	defer e.wg.Done()
	for {
		select {
		case <-e.stopChan:
			return
		case update := <-e.stream.Funding():
			e.store.IngestFunding(update)
			e.trigger(update.Symbol)
		}
	}
}

// tickerLoop ingests streamed ticker updates and triggers evaluation.
func (e *Engine) tickerLoop() {
	defer e.wg.Done()
	for {
		select {
		case <-e.stopChan:
			return
		case update := <-e.stream.Tickers():
			e.store.IngestTicker(update)
			e.trigger(update.Symbol)
		}
	}
}

// trigger enqueues a symbol for evaluation. A full queue drops the
// trigger; the periodic sweep picks the symbol up later.
func (e *Engine) trigger(symbol string) {
	select {
	case e.triggers <- symbol:
	default:
		e.mu.Lock()
		e.stats.TriggersDropped++
		e.mu.Unlock()
	}
}

func (e *Engine) worker() {
	defer e.wg.Done()
	for {
		select {
		case <-e.stopChan:
			return
		case symbol := <-e.triggers:
			e.processSymbol(symbol)
		}
	}
}

// sweepLoop periodically re-evaluates every tracked symbol, high-priority
// symbols first.
func (e *Engine) sweepLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopChan:
			return
		case <-ticker.C:
			e.sweep()
		}
	}
}

func (e *Engine) sweep() {
	start := time.Now()
	high, normal := e.partition(e.store.Symbols())

	e.runBatches(high, highPriorityBatch)
	e.runBatches(normal, normalPriorityBatch)

	e.mu.Lock()
	e.stats.SweepsCompleted++
	e.mu.Unlock()
	e.logger.Debug("sweep completed",
		"high_priority", len(high), "normal", len(normal), "elapsed", time.Since(start).String())
}

// partition splits symbols by whether their current state warrants a
// faster look: extreme funding, extreme RSI, or fast-moving funding.
func (e *Engine) partition(symbols []string) (high, normal []string) {
	for _, symbol := range symbols {
		if e.isHighPriority(symbol) {
			high = append(high, symbol)
		} else {
			normal = append(normal, symbol)
		}
	}
	return high, normal
}

func (e *Engine) isHighPriority(symbol string) bool {
	if funding, ok := e.store.FundingRate(symbol); ok && math.Abs(funding.Rate) >= highPriorityFunding {
		return true
	}
	if math.Abs(e.store.FundingVelocity(symbol)) > highPriorityVelocity {
		return true
	}
	if rsi := indicators.RSI(e.store.PriceHistory(symbol), indicators.DefaultRSIPeriod); rsi != nil {
		if *rsi >= 75 || *rsi <= 25 {
			return true
		}
	}
	return false
}

// runBatches evaluates symbols in parallel batches with a fixed pause
// between batches to spread the load.
func (e *Engine) runBatches(symbols []string, batchSize int) {
	for i := 0; i < len(symbols); i += batchSize {
		select {
		case <-e.stopChan:
			return
		default:
		}

		end := i + batchSize
		if end > len(symbols) {
			end = len(symbols)
		}

		var wg sync.WaitGroup
		for _, symbol := range symbols[i:end] {
			wg.Add(1)
			go func(sym string) {
				defer wg.Done()
				e.processSymbol(sym)
			}(symbol)
		}
		wg.Wait()

		if end < len(symbols) {
			select {
			case <-e.stopChan:
				return
			case <-time.After(interBatchDelay):
			}
		}
	}
}

// processSymbol runs the full pipeline for one symbol: gate, evaluate,
// score, persist, dispatch. The governor re-checks its own state under
// lock, so the pre-checks here are only cheap skips.
func (e *Engine) processSymbol(symbol string) {
	if e.governor.InCooldown(symbol) || e.governor.RateLimited() {
		return
	}

	e.mu.Lock()
	e.stats.Evaluations++
	e.mu.Unlock()

	sigCtx := e.evaluator.BuildContext(symbol)
	if sigCtx == nil {
		return
	}

	sig := signals.Evaluate(sigCtx)
	if sig == nil {
		return
	}
	sig.Score = signals.Score(sigCtx)

	e.mu.Lock()
	e.stats.CandidateSignals++
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	res := e.governor.TryDispatch(ctx, sig)
	if res.Sent {
		e.recordDispatched(sig)
	}

	e.persist(ctx, sig, sigCtx, res.Sent)
}

func (e *Engine) recordDispatched(sig *signals.Signal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats.Dispatched++
	e.recent = append([]*signals.Signal{sig}, e.recent...)
	if len(e.recent) > recentSignalCap {
		e.recent = e.recent[:recentSignalCap]
	}
}

// persist writes the signal and a funding snapshot. Failures are logged
// and dropped; persistence never gates alerting.
func (e *Engine) persist(ctx context.Context, sig *signals.Signal, sigCtx *signals.Context, dispatched bool) {
	if e.repo == nil {
		return
	}

	if err := e.repo.InsertSignal(ctx, sig, dispatched); err != nil {
		e.logger.Warn("failed to persist signal", "symbol", sig.Symbol, "error", err)
	}

	snap := &database.FundingSnapshot{
		Symbol:       sigCtx.Symbol,
		FundingRate:  sigCtx.FundingRate,
		FundingDelta: sigCtx.FundingDelta,
		Price:        sigCtx.Price,
		Volume24h:    sigCtx.Volume24h,
		CapturedAt:   sig.CreatedAt,
	}
	if funding, ok := e.store.FundingRate(sigCtx.Symbol); ok && funding.NextFundingTime > 0 {
		t := time.UnixMilli(funding.NextFundingTime)
		snap.NextFundingTime = &t
	}
	if ticker, ok := e.store.Market(sigCtx.Symbol); ok {
		snap.OpenInterest = ticker.OpenInterestValue
	}
	if err := e.repo.InsertFundingSnapshot(ctx, snap); err != nil {
		e.logger.Warn("failed to persist funding snapshot", "symbol", sig.Symbol, "error", err)
	}
}
