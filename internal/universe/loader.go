// Package universe constructs the monitored symbol set at startup by
// intersecting listing metadata with quality thresholds and a blacklist.
package universe

import (
	"context"
	"fmt"
	"log"
	"strings"

	"bybit-funding-bot/config"
	"bybit-funding-bot/internal/bybit"
)

// ExchangeClient is the subset of the REST client the loader needs.
type ExchangeClient interface {
	GetInstruments(ctx context.Context) ([]bybit.Instrument, error)
	GetTickers(ctx context.Context) ([]bybit.Ticker, error)
}

// Loader builds the universe once at startup.
type Loader struct {
	client    ExchangeClient
	cfg       config.UniverseConfig
	blacklist map[string]bool
}

// NewLoader creates a loader with the given thresholds.
func NewLoader(client ExchangeClient, cfg config.UniverseConfig) *Loader {
	blacklist := make(map[string]bool, len(cfg.Blacklist))
	for _, sym := range cfg.Blacklist {
		blacklist[strings.ToUpper(sym)] = true
	}
	return &Loader{client: client, cfg: cfg, blacklist: blacklist}
}

// Load fetches tradable linear perpetuals and filters them against the
// configured thresholds. An instrument-fetch failure is fatal and propagates;
// a bulk-ticker failure degrades gracefully to the unfiltered instrument
// list.
func (l *Loader) Load(ctx context.Context) ([]string, error) {
	instruments, err := l.client.GetInstruments(ctx)
	if err != nil {
		return nil, fmt.Errorf("universe: fetching instruments: %w", err)
	}

	trading := make([]string, 0, len(instruments))
	for _, inst := range instruments {
		if inst.Status != "Trading" {
			continue
		}
		trading = append(trading, inst.Symbol)
	}

	tickers, err := l.client.GetTickers(ctx)
	if err != nil {
		log.Printf("[UNIVERSE] Bulk ticker fetch failed (%v), monitoring all %d trading instruments unfiltered", err, len(trading))
		return l.applyBlacklist(trading), nil
	}

	byTicker := make(map[string]bybit.Ticker, len(tickers))
	for _, t := range tickers {
		byTicker[t.Symbol] = t
	}

	var (
		accepted      []string
		lowVolume     int
		lowOI         int
		priceOutside  int
		noFunding     int
		blacklisted   int
		missingTicker int
	)

	for _, symbol := range trading {
		if l.blacklist[strings.ToUpper(symbol)] {
			blacklisted++
			continue
		}

		t, ok := byTicker[symbol]
		if !ok {
			missingTicker++
			continue
		}
		if t.Turnover24h < l.cfg.MinVolume24hUSDT {
			lowVolume++
			continue
		}
		if !l.passesOpenInterest(t) {
			lowOI++
			continue
		}
		if t.LastPrice < l.cfg.MinPriceUSDT || t.LastPrice > l.cfg.MaxPriceUSDT {
			priceOutside++
			continue
		}
		if !t.HasFundingRate {
			noFunding++
			continue
		}

		accepted = append(accepted, symbol)
	}

	log.Printf("[UNIVERSE] Accepted %d/%d symbols (low_volume=%d low_oi=%d price_outside=%d no_funding=%d blacklisted=%d missing_ticker=%d)",
		len(accepted), len(trading), lowVolume, lowOI, priceOutside, noFunding, blacklisted, missingTicker)

	return accepted, nil
}

// passesOpenInterest checks the OI value threshold, falling back to the raw
// OI count when the exchange does not populate the value field.
func (l *Loader) passesOpenInterest(t bybit.Ticker) bool {
	if t.OpenInterestValue > 0 {
		return t.OpenInterestValue >= l.cfg.MinOpenInterestUSDT
	}
	return t.OpenInterest >= l.cfg.MinOpenInterestUSDT/1000
}

func (l *Loader) applyBlacklist(symbols []string) []string {
	out := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		if l.blacklist[strings.ToUpper(sym)] {
			continue
		}
		out = append(out, sym)
	}
	return out
}
