package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	mainnetRESTURL = "https://api.bybit.com"
	testnetRESTURL = "https://api-testnet.bybit.com"

	// All market-data endpoints use the linear (USDT perpetual) category.
	categoryLinear = "linear"
)

// Client provides stateless request/response access to the Bybit v5 market
// endpoints. Wire-format funding rates (decimal fractions) are scaled to
// percent before they leave this package.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a REST client for mainnet or testnet.
func NewClient(testnet bool) *Client {
	baseURL := mainnetRESTURL
	if testnet {
		baseURL = testnetRESTURL
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// NewClientWithBaseURL creates a client against an explicit base URL. Used by
// tests to point at a local server.
func NewClientWithBaseURL(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// response is the common Bybit v5 envelope.
type response struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

// GetInstruments fetches all linear USDT-settled perpetual instruments,
// following the pagination cursor until exhausted.
func (c *Client) GetInstruments(ctx context.Context) ([]Instrument, error) {
	var out []Instrument
	cursor := ""

	for {
		params := url.Values{}
		params.Set("category", categoryLinear)
		params.Set("limit", "1000")
		if cursor != "" {
			params.Set("cursor", cursor)
		}

		var result struct {
			List []struct {
				Symbol       string `json:"symbol"`
				Status       string `json:"status"`
				ContractType string `json:"contractType"`
				QuoteCoin    string `json:"quoteCoin"`
			} `json:"list"`
			NextPageCursor string `json:"nextPageCursor"`
		}
		if err := c.get(ctx, "getInstruments", "/v5/market/instruments-info", params, &result); err != nil {
			return nil, err
		}

		for _, raw := range result.List {
			if raw.ContractType != "LinearPerpetual" || raw.QuoteCoin != "USDT" {
				continue
			}
			out = append(out, Instrument{
				Symbol:       raw.Symbol,
				Status:       raw.Status,
				ContractType: raw.ContractType,
				QuoteCoin:    raw.QuoteCoin,
			})
		}

		if result.NextPageCursor == "" {
			break
		}
		cursor = result.NextPageCursor
	}

	return out, nil
}

// GetTickers fetches a bulk snapshot covering all linear symbols.
func (c *Client) GetTickers(ctx context.Context) ([]Ticker, error) {
	params := url.Values{}
	params.Set("category", categoryLinear)
	return c.fetchTickers(ctx, "getTickers", params)
}

// GetTicker fetches a snapshot for a single symbol.
func (c *Client) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	params := url.Values{}
	params.Set("category", categoryLinear)
	params.Set("symbol", symbol)

	tickers, err := c.fetchTickers(ctx, "getTicker", params)
	if err != nil {
		return nil, err
	}
	if len(tickers) == 0 {
		return nil, &ExchangeError{Op: "getTicker", RetMsg: fmt.Sprintf("no ticker for %s", symbol)}
	}
	return &tickers[0], nil
}

func (c *Client) fetchTickers(ctx context.Context, op string, params url.Values) ([]Ticker, error) {
	var result struct {
		List []struct {
			Symbol            string `json:"symbol"`
			LastPrice         string `json:"lastPrice"`
			Turnover24h       string `json:"turnover24h"`
			OpenInterestValue string `json:"openInterestValue"`
			OpenInterest      string `json:"openInterest"`
			FundingRate       string `json:"fundingRate"`
			NextFundingTime   string `json:"nextFundingTime"`
		} `json:"list"`
	}
	if err := c.get(ctx, op, "/v5/market/tickers", params, &result); err != nil {
		return nil, err
	}

	now := time.Now()
	tickers := make([]Ticker, 0, len(result.List))
	for _, raw := range result.List {
		t := Ticker{
			Symbol:            raw.Symbol,
			LastPrice:         parseFloat(raw.LastPrice),
			Turnover24h:       parseFloat(raw.Turnover24h),
			OpenInterestValue: parseFloat(raw.OpenInterestValue),
			OpenInterest:      parseFloat(raw.OpenInterest),
			NextFundingTime:   parseInt(raw.NextFundingTime),
			Timestamp:         now,
		}
		if raw.FundingRate != "" {
			t.FundingRate = parseFloat(raw.FundingRate) * 100
			t.HasFundingRate = true
		}
		tickers = append(tickers, t)
	}
	return tickers, nil
}

// GetKlines fetches close-price history for a symbol. The exchange returns
// newest first; the result is reversed to oldest first before return.
// Supported intervals: "1m" and "5m".
func (c *Client) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	wireInterval, ok := map[string]string{"1m": "1", "5m": "5"}[interval]
	if !ok {
		return nil, fmt.Errorf("bybit: getKlines: unsupported interval %q", interval)
	}

	params := url.Values{}
	params.Set("category", categoryLinear)
	params.Set("symbol", symbol)
	params.Set("interval", wireInterval)
	params.Set("limit", strconv.Itoa(limit))

	var result struct {
		List [][]string `json:"list"`
	}
	if err := c.get(ctx, "getKlines", "/v5/market/kline", params, &result); err != nil {
		return nil, err
	}

	klines := make([]Kline, 0, len(result.List))
	// Exchange order is newest first; walk backwards.
	for i := len(result.List) - 1; i >= 0; i-- {
		raw := result.List[i]
		if len(raw) < 6 {
			return nil, &ParseError{Op: "getKlines", Err: fmt.Errorf("kline row has %d fields", len(raw))}
		}
		klines = append(klines, Kline{
			OpenTime: parseInt(raw[0]),
			Open:     parseFloat(raw[1]),
			High:     parseFloat(raw[2]),
			Low:      parseFloat(raw[3]),
			Close:    parseFloat(raw[4]),
			Volume:   parseFloat(raw[5]),
		})
	}
	return klines, nil
}

// get performs a GET request and decodes the v5 envelope.
func (c *Client) get(ctx context.Context, op, path string, params url.Values, result interface{}) error {
	endpoint := fmt.Sprintf("%s%s?%s", c.baseURL, path, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return &ExchangeError{Op: op, Status: resp.StatusCode, RetMsg: string(body)}
	}

	var envelope response
	if err := json.Unmarshal(body, &envelope); err != nil {
		return &ParseError{Op: op, Err: err}
	}
	if envelope.RetCode != 0 {
		return &ExchangeError{Op: op, Status: resp.StatusCode, RetCode: envelope.RetCode, RetMsg: envelope.RetMsg}
	}

	if err := json.Unmarshal(envelope.Result, result); err != nil {
		return &ParseError{Op: op, Err: err}
	}
	return nil
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func parseInt(s string) int64 {
	i, _ := strconv.ParseInt(s, 10, 64)
	return i
}
