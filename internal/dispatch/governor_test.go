package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"bybit-funding-bot/internal/signals"
)

// countingSink records deliveries and can be set to fail
type countingSink struct {
	mu        sync.Mutex
	delivered []string
	err       error
}

func (s *countingSink) Deliver(ctx context.Context, sig *signals.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.delivered = append(s.delivered, sig.Symbol)
	return nil
}

func (s *countingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.delivered)
}

// fakeKV is an in-memory governor store that can be set to fail
type fakeKV struct {
	mu   sync.Mutex
	data map[string]string
	err  error
}

func newFakeKV() *fakeKV { return &fakeKV{data: make(map[string]string)} }

func (f *fakeKV) Get(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	v, ok := f.data[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (f *fakeKV) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.data[key] = value
	return nil
}

func (f *fakeKV) Incr(ctx context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.data[key] += "x"
	return int64(len(f.data[key])), nil
}

func (f *fakeKV) Expire(ctx context.Context, key string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeKV) IsHealthy() bool { return true }

func testSignal(symbol string, score float64) *signals.Signal {
	return &signals.Signal{
		ID: "test", Symbol: symbol, Type: signals.TypeReversal,
		Bias: signals.BiasLong, Score: score, CreatedAt: time.Now(),
	}
}

func newTestGovernor(sink Sink, kv KV) *Governor {
	return New(Config{
		Cooldown:       300 * time.Second,
		MaxPerHour:     20,
		ScoreThreshold: 75,
	}, sink, kv, zerolog.Nop())
}

// TestBelowThresholdSuppressed verifies the sink is never reached
func TestBelowThresholdSuppressed(t *testing.T) {
	sink := &countingSink{}
	g := newTestGovernor(sink, nil)

	res := g.TryDispatch(context.Background(), testSignal("BTCUSDT", 74.9))
	if res.Sent || res.Reason != ReasonBelowThreshold {
		t.Errorf("Expected below_threshold, got %+v", res)
	}
	if sink.count() != 0 {
		t.Error("Sink should not be called for sub-threshold signals")
	}
}

// TestCooldownSuppressesRepeat verifies one alert per symbol per window
func TestCooldownSuppressesRepeat(t *testing.T) {
	sink := &countingSink{}
	g := newTestGovernor(sink, nil)

	res := g.TryDispatch(context.Background(), testSignal("BTCUSDT", 80))
	if !res.Sent {
		t.Fatalf("First dispatch should send, got %+v", res)
	}

	res = g.TryDispatch(context.Background(), testSignal("BTCUSDT", 90))
	if res.Sent || res.Reason != ReasonCooldown {
		t.Errorf("Repeat within cooldown should suppress, got %+v", res)
	}
	if sink.count() != 1 {
		t.Errorf("Expected exactly one delivery, got %d", sink.count())
	}
	if !g.InCooldown("btcusdt") {
		t.Error("InCooldown should be case-insensitive and true")
	}
}

// TestCooldownExpiry verifies dispatch resumes after the window
func TestCooldownExpiry(t *testing.T) {
	sink := &countingSink{}
	g := newTestGovernor(sink, nil)

	current := time.Now()
	g.now = func() time.Time { return current }

	if res := g.TryDispatch(context.Background(), testSignal("BTCUSDT", 80)); !res.Sent {
		t.Fatalf("First dispatch should send, got %+v", res)
	}

	current = current.Add(301 * time.Second)
	if res := g.TryDispatch(context.Background(), testSignal("BTCUSDT", 80)); !res.Sent {
		t.Errorf("Dispatch after cooldown expiry should send, got %+v", res)
	}
	if sink.count() != 2 {
		t.Errorf("Expected two deliveries, got %d", sink.count())
	}
}

// TestHourlyBudget verifies the global cap across symbols
func TestHourlyBudget(t *testing.T) {
	sink := &countingSink{}
	g := New(Config{Cooldown: 300 * time.Second, MaxPerHour: 2, ScoreThreshold: 75},
		sink, nil, zerolog.Nop())

	current := time.Now()
	g.now = func() time.Time { return current }

	if res := g.TryDispatch(context.Background(), testSignal("AUSDT", 80)); !res.Sent {
		t.Fatalf("First dispatch should send, got %+v", res)
	}
	if res := g.TryDispatch(context.Background(), testSignal("BUSDT", 80)); !res.Sent {
		t.Fatalf("Second dispatch should send, got %+v", res)
	}

	res := g.TryDispatch(context.Background(), testSignal("CUSDT", 80))
	if res.Sent || res.Reason != ReasonRateLimited {
		t.Errorf("Third dispatch should be rate limited, got %+v", res)
	}
	if !g.RateLimited() {
		t.Error("RateLimited should report true at the cap")
	}

	// A new hour restores the budget.
	current = current.Add(61 * time.Minute)
	if res := g.TryDispatch(context.Background(), testSignal("CUSDT", 80)); !res.Sent {
		t.Errorf("Dispatch after window reset should send, got %+v", res)
	}
}

// TestSinkFailureLeavesStateUntouched verifies a failed delivery can retry
func TestSinkFailureLeavesStateUntouched(t *testing.T) {
	sink := &countingSink{err: errors.New("webhook 500")}
	g := newTestGovernor(sink, nil)

	res := g.TryDispatch(context.Background(), testSignal("BTCUSDT", 80))
	if res.Sent || res.Reason != ReasonSinkFailure {
		t.Fatalf("Expected sink_failure, got %+v", res)
	}
	if g.InCooldown("BTCUSDT") {
		t.Error("Failed delivery should not set a cooldown")
	}

	sink.mu.Lock()
	sink.err = nil
	sink.mu.Unlock()

	res = g.TryDispatch(context.Background(), testSignal("BTCUSDT", 80))
	if !res.Sent {
		t.Errorf("Retry after sink recovery should send, got %+v", res)
	}
	stats := g.Stats()
	if stats.Sent != 1 || stats.SinkFailures != 1 || stats.WindowCount != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

// TestConcurrentDispatchIdempotent verifies overlapping triggers send once
func TestConcurrentDispatchIdempotent(t *testing.T) {
	sink := &countingSink{}
	g := newTestGovernor(sink, nil)

	var wg sync.WaitGroup
	sent := make(chan bool, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := g.TryDispatch(context.Background(), testSignal("BTCUSDT", 80))
			sent <- res.Sent
		}()
	}
	wg.Wait()
	close(sent)

	sentCount := 0
	for ok := range sent {
		if ok {
			sentCount++
		}
	}
	if sentCount != 1 || sink.count() != 1 {
		t.Errorf("Expected exactly one send, got %d sends and %d deliveries", sentCount, sink.count())
	}
}

// TestExternalStoreCooldown verifies cooldowns set by another replica suppress
func TestExternalStoreCooldown(t *testing.T) {
	sink := &countingSink{}
	kv := newFakeKV()
	kv.data["governor:cooldown:BTCUSDT"] = "1"
	g := newTestGovernor(sink, kv)

	res := g.TryDispatch(context.Background(), testSignal("BTCUSDT", 80))
	if res.Sent || res.Reason != ReasonCooldown {
		t.Errorf("External cooldown should suppress, got %+v", res)
	}
}

// TestExternalStoreRecordsDispatch verifies keys are written on send
func TestExternalStoreRecordsDispatch(t *testing.T) {
	sink := &countingSink{}
	kv := newFakeKV()
	g := newTestGovernor(sink, kv)

	if res := g.TryDispatch(context.Background(), testSignal("ETHUSDT", 80)); !res.Sent {
		t.Fatalf("Dispatch should send, got %+v", res)
	}

	kv.mu.Lock()
	_, hasCooldown := kv.data["governor:cooldown:ETHUSDT"]
	_, hasCounter := kv.data["governor:alerts:hourly"]
	kv.mu.Unlock()
	if !hasCooldown || !hasCounter {
		t.Errorf("Expected cooldown and counter keys, got %v", kv.data)
	}
}

// TestStoreFailoverIsPermanent verifies one error degrades to local state
func TestStoreFailoverIsPermanent(t *testing.T) {
	sink := &countingSink{}
	kv := newFakeKV()
	kv.err = errors.New("connection refused")
	g := newTestGovernor(sink, kv)

	// The store error on the cooldown check is swallowed and the
	// dispatch proceeds on local state.
	res := g.TryDispatch(context.Background(), testSignal("BTCUSDT", 80))
	if !res.Sent {
		t.Fatalf("Store failure should not block dispatch, got %+v", res)
	}
	if !g.Stats().StoreDegraded {
		t.Error("Governor should be degraded after the first store error")
	}

	// Local cooldown still enforced while degraded.
	res = g.TryDispatch(context.Background(), testSignal("BTCUSDT", 90))
	if res.Sent || res.Reason != ReasonCooldown {
		t.Errorf("Local cooldown should hold in degraded mode, got %+v", res)
	}
}
