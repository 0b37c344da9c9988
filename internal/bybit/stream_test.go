package bybit

import (
	"testing"
	"time"
)

// TestHandleFundingScalesToPercent verifies streamed rates follow the same
// percent convention as the REST client
func TestHandleFundingScalesToPercent(t *testing.T) {
	s := NewPublicStream(false)

	s.handleMessage([]byte(`{"topic":"funding.BTCUSDT","data":{"fundingRate":"0.0003","nextFundingTime":"1700000000000"}}`))

	select {
	case update := <-s.Funding():
		if update.Symbol != "BTCUSDT" {
			t.Errorf("Expected BTCUSDT, got %s", update.Symbol)
		}
		if update.Rate != 0.03 {
			t.Errorf("Wire rate 0.0003 should scale to 0.03 percent, got %v", update.Rate)
		}
		if update.NextFundingTime != 1700000000000 {
			t.Errorf("Unexpected next funding time %d", update.NextFundingTime)
		}
	case <-time.After(time.Second):
		t.Fatal("Expected a funding update")
	}
}

// TestHandleFundingSkipsEmptyRate verifies empty-rate frames are dropped
func TestHandleFundingSkipsEmptyRate(t *testing.T) {
	s := NewPublicStream(false)

	s.handleMessage([]byte(`{"topic":"funding.BTCUSDT","data":{"fundingRate":""}}`))

	select {
	case update := <-s.Funding():
		t.Errorf("Empty rate should not produce an update, got %+v", update)
	default:
	}
}

// TestHandleFundingRejectsOutOfBandRate verifies implausible rates are
// discarded at ingress
func TestHandleFundingRejectsOutOfBandRate(t *testing.T) {
	s := NewPublicStream(false)

	// 0.5 fractional is 50 percent, far outside the sanity band.
	s.handleMessage([]byte(`{"topic":"funding.BTCUSDT","data":{"fundingRate":"0.5","nextFundingTime":"1700000000000"}}`))
	s.handleMessage([]byte(`{"topic":"funding.BTCUSDT","data":{"fundingRate":"-0.5","nextFundingTime":"1700000000000"}}`))

	select {
	case update := <-s.Funding():
		t.Errorf("Out-of-band rate should not produce an update, got %+v", update)
	default:
	}

	// A rate on the band edge still passes.
	s.handleMessage([]byte(`{"topic":"funding.BTCUSDT","data":{"fundingRate":"0.1","nextFundingTime":"1700000000000"}}`))

	select {
	case update := <-s.Funding():
		if update.Rate != 10 {
			t.Errorf("Expected edge rate 10 percent, got %v", update.Rate)
		}
	case <-time.After(time.Second):
		t.Fatal("Expected a funding update for an in-band rate")
	}
}

// TestHandleTickerDeltaWithoutPrice verifies priceless delta frames are dropped
func TestHandleTickerDeltaWithoutPrice(t *testing.T) {
	s := NewPublicStream(false)

	s.handleMessage([]byte(`{"topic":"tickers.ETHUSDT","data":{"turnover24h":"123456"}}`))

	select {
	case update := <-s.Tickers():
		t.Errorf("Delta frame without a price should not produce an update, got %+v", update)
	default:
	}

	s.handleMessage([]byte(`{"topic":"tickers.ETHUSDT","data":{"lastPrice":"2500.5","turnover24h":"123456"}}`))

	select {
	case update := <-s.Tickers():
		if update.LastPrice != 2500.5 || update.Turnover24h != 123456 {
			t.Errorf("Unexpected ticker update %+v", update)
		}
	case <-time.After(time.Second):
		t.Fatal("Expected a ticker update")
	}
}

// TestHandleMessageIgnoresAcksAndGarbage verifies non-topic frames are inert
func TestHandleMessageIgnoresAcksAndGarbage(t *testing.T) {
	s := NewPublicStream(false)

	s.handleMessage([]byte(`{"op":"subscribe","success":true}`))
	s.handleMessage([]byte(`{"op":"pong","success":true}`))
	s.handleMessage([]byte(`not json`))
	s.handleMessage([]byte(`{"topic":"orderbook.BTCUSDT","data":{}}`))

	select {
	case update := <-s.Funding():
		t.Errorf("No funding update expected, got %+v", update)
	default:
	}
	select {
	case update := <-s.Tickers():
		t.Errorf("No ticker update expected, got %+v", update)
	default:
	}
}

// TestSubscribeIsIdempotent verifies the intent set dedupes
func TestSubscribeIsIdempotent(t *testing.T) {
	s := NewPublicStream(false)

	if err := s.Subscribe("btcusdt"); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if err := s.Subscribe("BTCUSDT"); err != nil {
		t.Fatalf("Repeat subscribe failed: %v", err)
	}
	if err := s.Subscribe("ETHUSDT"); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if got := s.Stats().Subscriptions; got != 2 {
		t.Errorf("Expected 2 unique subscriptions, got %d", got)
	}
}
