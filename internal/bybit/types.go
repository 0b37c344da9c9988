package bybit

import "time"

// MaxFundingRatePercent bounds plausible funding rates, in percent. Rates
// outside the band are malformed exchange data and are discarded at ingress.
const MaxFundingRatePercent = 10.0

// Instrument represents a tradable linear perpetual contract.
type Instrument struct {
	Symbol       string
	Status       string
	ContractType string
	QuoteCoin    string
}

// Ticker represents a market snapshot for a symbol. FundingRate is expressed
// in percent (the exchange's fractional rate scaled by 100 on ingress).
type Ticker struct {
	Symbol            string
	LastPrice         float64
	Turnover24h       float64
	OpenInterestValue float64
	OpenInterest      float64
	FundingRate       float64
	HasFundingRate    bool
	NextFundingTime   int64 // epoch ms
	Timestamp         time.Time
}

// Funding represents a funding-rate observation, in percent.
type Funding struct {
	Symbol          string
	Rate            float64
	NextFundingTime int64 // epoch ms
	Timestamp       time.Time
}

// PriceData represents a streaming price update for a symbol.
type PriceData struct {
	Symbol            string
	LastPrice         float64
	Turnover24h       float64
	OpenInterestValue float64
	Timestamp         time.Time
}

// Kline represents a candlestick.
type Kline struct {
	OpenTime int64
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}
