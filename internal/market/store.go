// Package market holds the authoritative in-memory state per symbol: latest
// ticker, latest funding, rolling close-price history and a short funding
// history. It consumes both transports and exposes point reads.
package market

import (
	"context"
	"log"
	"math"
	"strings"
	"sync"
	"time"

	"bybit-funding-bot/internal/bybit"
)

const (
	// PriceSeriesCap bounds the rolling close-price history.
	PriceSeriesCap = 100
	// FundingHistoryCap bounds the retained funding observations.
	FundingHistoryCap = 10

	// Startup seeding is batched to respect exchange request-rate limits.
	initBatchSize  = 20
	initBatchDelay = 300 * time.Millisecond
)

// KlineSource provides the request/response calls needed to seed a symbol.
type KlineSource interface {
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]bybit.Kline, error)
	GetTicker(ctx context.Context, symbol string) (*bybit.Ticker, error)
}

// Store is the single source of truth for per-symbol live state. Mutations
// happen under a per-symbol lock; readers see consistent snapshots and no
// entry is ever created by a getter.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry

	client KlineSource
}

type entry struct {
	mu          sync.RWMutex
	ticker      *bybit.PriceData
	funding     *bybit.Funding
	closes      []float64
	fundingHist []bybit.Funding
}

// NewStore creates an empty store backed by the given REST client.
func NewStore(client KlineSource) *Store {
	return &Store{
		entries: make(map[string]*entry),
		client:  client,
	}
}

// InitSymbols seeds all given symbols in batches of 20 with 300 ms spacing.
// Individual seed failures are logged and skipped; the symbol is still
// registered so streaming updates can fill it in.
func (s *Store) InitSymbols(ctx context.Context, symbols []string) {
	for i := 0; i < len(symbols); i += initBatchSize {
		end := i + initBatchSize
		if end > len(symbols) {
			end = len(symbols)
		}

		var wg sync.WaitGroup
		for _, symbol := range symbols[i:end] {
			wg.Add(1)
			go func(sym string) {
				defer wg.Done()
				if err := s.InitSymbol(ctx, sym); err != nil {
					log.Printf("[MARKET] Failed to seed %s: %v", sym, err)
				}
			}(symbol)
		}
		wg.Wait()

		if end < len(symbols) {
			select {
			case <-time.After(initBatchDelay):
			case <-ctx.Done():
				return
			}
		}
	}
	log.Printf("[MARKET] Seeded %d symbols", len(symbols))
}

// InitSymbol seeds a single symbol: 100 one-minute closes plus first ticker
// and funding snapshots.
func (s *Store) InitSymbol(ctx context.Context, symbol string) error {
	symbol = strings.ToUpper(symbol)
	e := s.getOrCreate(symbol)

	klines, err := s.client.GetKlines(ctx, symbol, "1m", PriceSeriesCap)
	if err != nil {
		return err
	}

	ticker, err := s.client.GetTicker(ctx, symbol)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.closes = e.closes[:0]
	for _, k := range klines {
		e.closes = append(e.closes, k.Close)
	}
	if len(e.closes) > PriceSeriesCap {
		e.closes = e.closes[len(e.closes)-PriceSeriesCap:]
	}

	e.ticker = &bybit.PriceData{
		Symbol:            symbol,
		LastPrice:         ticker.LastPrice,
		Turnover24h:       ticker.Turnover24h,
		OpenInterestValue: ticker.OpenInterestValue,
		Timestamp:         ticker.Timestamp,
	}
	if ticker.HasFundingRate && math.Abs(ticker.FundingRate) <= bybit.MaxFundingRatePercent {
		f := bybit.Funding{
			Symbol:          symbol,
			Rate:            ticker.FundingRate,
			NextFundingTime: ticker.NextFundingTime,
			Timestamp:       ticker.Timestamp,
		}
		e.funding = &f
		e.fundingHist = append(e.fundingHist, f)
	}
	return nil
}

// IngestTicker applies a streaming price update: refresh the ticker cache and
// append the price to the rolling series, evicting beyond capacity.
func (s *Store) IngestTicker(update bybit.PriceData) {
	if update.LastPrice <= 0 {
		return
	}
	e := s.getOrCreate(strings.ToUpper(update.Symbol))

	e.mu.Lock()
	defer e.mu.Unlock()

	// Delta frames omit unchanged fields; carry the previous values forward.
	if e.ticker != nil {
		if update.Turnover24h == 0 {
			update.Turnover24h = e.ticker.Turnover24h
		}
		if update.OpenInterestValue == 0 {
			update.OpenInterestValue = e.ticker.OpenInterestValue
		}
		if update.Timestamp.Before(e.ticker.Timestamp) {
			update.Timestamp = e.ticker.Timestamp
		}
	}
	e.ticker = &update

	e.closes = append(e.closes, update.LastPrice)
	if len(e.closes) > PriceSeriesCap {
		e.closes = e.closes[len(e.closes)-PriceSeriesCap:]
	}
}

// IngestFunding applies a streaming funding update: refresh the funding cache
// and append to the bounded history. Rates outside the sanity band never
// enter the store.
func (s *Store) IngestFunding(update bybit.Funding) {
	if math.Abs(update.Rate) > bybit.MaxFundingRatePercent {
		log.Printf("[MARKET] Discarding out-of-band funding rate %.4f%% for %s", update.Rate, update.Symbol)
		return
	}
	e := s.getOrCreate(strings.ToUpper(update.Symbol))

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.funding != nil && update.Timestamp.Before(e.funding.Timestamp) {
		update.Timestamp = e.funding.Timestamp
	}
	e.funding = &update

	e.fundingHist = append(e.fundingHist, update)
	if len(e.fundingHist) > FundingHistoryCap {
		e.fundingHist = e.fundingHist[len(e.fundingHist)-FundingHistoryCap:]
	}
}

// Market returns the latest ticker snapshot for a symbol.
func (s *Store) Market(symbol string) (bybit.PriceData, bool) {
	e := s.lookup(symbol)
	if e == nil {
		return bybit.PriceData{}, false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.ticker == nil {
		return bybit.PriceData{}, false
	}
	return *e.ticker, true
}

// FundingRate returns the latest funding observation for a symbol.
func (s *Store) FundingRate(symbol string) (bybit.Funding, bool) {
	e := s.lookup(symbol)
	if e == nil {
		return bybit.Funding{}, false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.funding == nil {
		return bybit.Funding{}, false
	}
	return *e.funding, true
}

// PriceHistory returns a copy of the rolling close-price series, oldest
// first.
func (s *Store) PriceHistory(symbol string) []float64 {
	e := s.lookup(symbol)
	if e == nil {
		return nil
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]float64, len(e.closes))
	copy(out, e.closes)
	return out
}

// FundingHistory returns a copy of the retained funding observations, oldest
// first.
func (s *Store) FundingHistory(symbol string) []bybit.Funding {
	e := s.lookup(symbol)
	if e == nil {
		return nil
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]bybit.Funding, len(e.fundingHist))
	copy(out, e.fundingHist)
	return out
}

// Symbols returns all tracked symbols.
func (s *Store) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.entries))
	for sym := range s.entries {
		out = append(out, sym)
	}
	return out
}

// FundingDelta returns latest minus previous funding rate, or 0 with fewer
// than two observations.
func (s *Store) FundingDelta(symbol string) float64 {
	e := s.lookup(symbol)
	if e == nil {
		return 0
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	n := len(e.fundingHist)
	if n < 2 {
		return 0
	}
	return e.fundingHist[n-1].Rate - e.fundingHist[n-2].Rate
}

// FundingVelocity returns the funding delta per second between the two most
// recent observations, or 0 when the time delta is not positive.
func (s *Store) FundingVelocity(symbol string) float64 {
	e := s.lookup(symbol)
	if e == nil {
		return 0
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	n := len(e.fundingHist)
	if n < 2 {
		return 0
	}
	latest, prev := e.fundingHist[n-1], e.fundingHist[n-2]
	dt := latest.Timestamp.Sub(prev.Timestamp).Seconds()
	if dt <= 0 {
		return 0
	}
	return (latest.Rate - prev.Rate) / dt
}

func (s *Store) lookup(symbol string) *entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[strings.ToUpper(symbol)]
}

func (s *Store) getOrCreate(symbol string) *entry {
	s.mu.RLock()
	e := s.entries[symbol]
	s.mu.RUnlock()
	if e != nil {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e = s.entries[symbol]; e == nil {
		e = &entry{}
		s.entries[symbol] = e
	}
	return e
}
