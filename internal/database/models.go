package database

import "time"

// FundingSnapshot is one observed funding reading for a symbol, captured
// whenever an evaluation produced a candidate signal.
type FundingSnapshot struct {
	ID              int64      `json:"id"`
	Symbol          string     `json:"symbol"`
	FundingRate     float64    `json:"funding_rate"`
	FundingDelta    float64    `json:"funding_delta"`
	Price           float64    `json:"price"`
	Volume24h       float64    `json:"volume_24h"`
	OpenInterest    float64    `json:"open_interest"`
	NextFundingTime *time.Time `json:"next_funding_time,omitempty"`
	CapturedAt      time.Time  `json:"captured_at"`
}
