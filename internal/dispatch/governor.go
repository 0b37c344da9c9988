// Package dispatch gates signal delivery behind a per-symbol cooldown and a
// global hourly budget. The governor exclusively owns both pieces of state.
package dispatch

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"bybit-funding-bot/internal/cache"
	"bybit-funding-bot/internal/signals"
)

// Reason explains why a dispatch attempt was suppressed.
type Reason string

const (
	ReasonSent           Reason = "sent"
	ReasonCooldown       Reason = "cooldown"
	ReasonRateLimited    Reason = "rate_limited"
	ReasonBelowThreshold Reason = "below_threshold"
	ReasonSinkFailure    Reason = "sink_failure"
)

// Result is the outcome of a TryDispatch call.
type Result struct {
	Sent   bool
	Reason Reason
}

// Sink accepts payloads for delivery.
type Sink interface {
	Deliver(ctx context.Context, sig *signals.Signal) error
}

// KV is the optional external store backing cooldowns and the hourly
// counter. On any error the governor permanently fails over to its
// in-process state for the remainder of the run.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	SetEx(ctx context.Context, key, value string, ttl time.Duration) error
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	IsHealthy() bool
}

// Config holds governor settings.
type Config struct {
	Cooldown       time.Duration
	MaxPerHour     int
	ScoreThreshold float64
}

// Stats reports governor counters for the ops API.
type Stats struct {
	Sent                int64     `json:"sent"`
	SuppressedCooldown  int64     `json:"suppressed_cooldown"`
	SuppressedRate      int64     `json:"suppressed_rate_limited"`
	SuppressedThreshold int64     `json:"suppressed_below_threshold"`
	SinkFailures        int64     `json:"sink_failures"`
	WindowCount         int       `json:"window_count"`
	WindowResetAt       time.Time `json:"window_reset_at"`
	StoreDegraded       bool      `json:"store_degraded"`
}

// Governor enforces the cooldown and rate budget. A single mutex covers the
// whole check-deliver-record sequence so overlapping triggers for the same
// symbol dispatch exactly once per window.
type Governor struct {
	mu sync.Mutex

	cfg    Config
	sink   Sink
	kv     KV
	logger zerolog.Logger

	cooldowns map[string]time.Time
	count     int
	resetAt   time.Time

	degraded bool
	stats    Stats

	now func() time.Time
}

// New creates a governor. kv may be nil when no external store is
// configured.
func New(cfg Config, sink Sink, kv KV, logger zerolog.Logger) *Governor {
	return &Governor{
		cfg:       cfg,
		sink:      sink,
		kv:        kv,
		logger:    logger,
		cooldowns: make(map[string]time.Time),
		now:       time.Now,
	}
}

// TryDispatch delivers a signal unless suppressed. Cooldown-set and
// count-increment happen only after the sink accepts the payload, so a sink
// failure leaves the budget untouched and the next trigger may retry.
func (g *Governor) TryDispatch(ctx context.Context, sig *signals.Signal) Result {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	symbol := strings.ToUpper(sig.Symbol)

	if sig.Score < g.cfg.ScoreThreshold {
		g.stats.SuppressedThreshold++
		return Result{Reason: ReasonBelowThreshold}
	}

	if g.inCooldownLocked(ctx, symbol, now) {
		g.stats.SuppressedCooldown++
		g.logger.Debug().Str("symbol", symbol).Msg("dispatch suppressed by cooldown")
		return Result{Reason: ReasonCooldown}
	}

	g.rollWindowLocked(now)
	if g.count >= g.cfg.MaxPerHour {
		g.stats.SuppressedRate++
		g.logger.Debug().Str("symbol", symbol).Int("count", g.count).Msg("dispatch suppressed by rate limit")
		return Result{Reason: ReasonRateLimited}
	}

	if err := g.sink.Deliver(ctx, sig); err != nil {
		g.stats.SinkFailures++
		g.logger.Warn().Err(err).Str("symbol", symbol).Msg("sink delivery failed, budget untouched")
		return Result{Reason: ReasonSinkFailure}
	}

	g.recordLocked(ctx, symbol, now)
	g.stats.Sent++
	g.logger.Info().
		Str("symbol", symbol).
		Str("type", string(sig.Type)).
		Str("bias", string(sig.Bias)).
		Float64("score", sig.Score).
		Int("window_count", g.count).
		Msg("signal dispatched")
	return Result{Sent: true, Reason: ReasonSent}
}

// InCooldown reports whether a symbol is currently throttled. Cheap
// pre-check for the scheduler; TryDispatch re-checks under its own lock.
func (g *Governor) InCooldown(symbol string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inCooldownLocked(context.Background(), strings.ToUpper(symbol), g.now())
}

// RateLimited reports whether the hourly budget is exhausted.
func (g *Governor) RateLimited() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollWindowLocked(g.now())
	return g.count >= g.cfg.MaxPerHour
}

// Stats returns a snapshot of governor counters.
func (g *Governor) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := g.stats
	s.WindowCount = g.count
	s.WindowResetAt = g.resetAt
	s.StoreDegraded = g.degraded
	return s
}

func (g *Governor) inCooldownLocked(ctx context.Context, symbol string, now time.Time) bool {
	if expiry, ok := g.cooldowns[symbol]; ok {
		if now.Before(expiry) {
			return true
		}
		delete(g.cooldowns, symbol)
	}

	if !g.storeUsable() {
		return false
	}
	_, err := g.kv.Get(ctx, cooldownKey(symbol))
	if err != nil {
		if cache.IsNil(err) {
			return false
		}
		g.failoverLocked(err)
		return false
	}
	// Key present: another replica set the cooldown.
	return true
}

func (g *Governor) rollWindowLocked(now time.Time) {
	if g.resetAt.IsZero() || !now.Before(g.resetAt) {
		g.count = 0
		g.resetAt = now.Add(time.Hour)
	}
}

// recordLocked sets the cooldown and consumes rate budget, mirroring both
// into the external store best-effort.
func (g *Governor) recordLocked(ctx context.Context, symbol string, now time.Time) {
	g.cooldowns[symbol] = now.Add(g.cfg.Cooldown)
	g.count++

	if !g.storeUsable() {
		return
	}
	if err := g.kv.SetEx(ctx, cooldownKey(symbol), "1", g.cfg.Cooldown); err != nil {
		g.failoverLocked(err)
		return
	}
	val, err := g.kv.Incr(ctx, rateKey())
	if err != nil {
		g.failoverLocked(err)
		return
	}
	if val == 1 {
		if err := g.kv.Expire(ctx, rateKey(), time.Hour); err != nil {
			g.failoverLocked(err)
			return
		}
	}
	// Adopt the shared count when other replicas have consumed budget.
	if int(val) > g.count {
		g.count = int(val)
	}
}

func (g *Governor) storeUsable() bool {
	return g.kv != nil && !g.degraded && g.kv.IsHealthy()
}

func (g *Governor) failoverLocked(err error) {
	if g.degraded {
		return
	}
	g.degraded = true
	g.logger.Warn().Err(err).Msg("governor store failed, using in-process state for the rest of the run")
}

func cooldownKey(symbol string) string { return "governor:cooldown:" + symbol }

func rateKey() string { return "governor:alerts:hourly" }
