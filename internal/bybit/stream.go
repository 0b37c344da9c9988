package bybit

import (
	"encoding/json"
	"log"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	mainnetWSURL = "wss://stream.bybit.com/v5/public/linear"
	testnetWSURL = "wss://stream-testnet.bybit.com/v5/public/linear"

	heartbeatInterval = 20 * time.Second
	reconnectDelay    = 5 * time.Second

	// Per-channel buffer. Consumers (the engine) drain promptly; when a
	// buffer is full the read loop blocks rather than reorder or drop.
	streamBuffer = 512
)

// ConnState is the streaming transport connection state.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateClosing
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// StreamStats reports transport health for the ops API.
type StreamStats struct {
	State           string    `json:"state"`
	Subscriptions   int       `json:"subscriptions"`
	Reconnects      int       `json:"reconnects"`
	UpdatesReceived int64     `json:"updates_received"`
	LastUpdateTime  time.Time `json:"last_update_time"`
}

// PublicStream maintains a resilient stream of per-symbol funding and ticker
// updates over a single persistent connection. The subscription intent set
// persists across reconnects; on every successful connect all accumulated
// subscriptions are replayed.
type PublicStream struct {
	mu sync.RWMutex

	url       string
	conn      *websocket.Conn
	state     ConnState
	isRunning bool
	stopChan  chan struct{}

	// wanted is the subscription intent set, keyed by uppercase symbol.
	wanted map[string]bool

	writeMu sync.Mutex

	fundingCh chan Funding
	tickerCh  chan PriceData

	reconnects      int
	updatesReceived int64
	lastUpdateTime  time.Time
}

// NewPublicStream creates a streaming transport for mainnet or testnet.
func NewPublicStream(testnet bool) *PublicStream {
	url := mainnetWSURL
	if testnet {
		url = testnetWSURL
	}
	return &PublicStream{
		url:       url,
		state:     StateDisconnected,
		wanted:    make(map[string]bool),
		stopChan:  make(chan struct{}),
		fundingCh: make(chan Funding, streamBuffer),
		tickerCh:  make(chan PriceData, streamBuffer),
	}
}

// Funding returns the ordered stream of funding updates.
func (s *PublicStream) Funding() <-chan Funding { return s.fundingCh }

// Tickers returns the ordered stream of price updates.
func (s *PublicStream) Tickers() <-chan PriceData { return s.tickerCh }

// Start begins the connection loop.
func (s *PublicStream) Start() {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.mu.Unlock()

	go s.connectLoop()
}

// Stop closes the transport. In-flight reads drain; the update channels are
// not closed so late consumers never panic.
func (s *PublicStream) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.state = StateClosing
	close(s.stopChan)
	conn := s.conn
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	log.Printf("[STREAM] Stopped")
}

// Subscribe records intent for a symbol and, if connected, issues subscribe
// frames for both its funding and ticker topics. Idempotent.
func (s *PublicStream) Subscribe(symbol string) error {
	symbol = strings.ToUpper(symbol)

	s.mu.Lock()
	if s.wanted[symbol] {
		s.mu.Unlock()
		return nil
	}
	s.wanted[symbol] = true
	connected := s.state == StateConnected
	s.mu.Unlock()

	if !connected {
		return nil
	}
	return s.sendSubscribe([]string{symbol})
}

// sendSubscribe issues subscribe frames for the given symbols.
func (s *PublicStream) sendSubscribe(symbols []string) error {
	args := make([]string, 0, len(symbols)*2)
	for _, sym := range symbols {
		args = append(args, "funding."+sym, "tickers."+sym)
	}

	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil {
		return nil
	}

	// Bybit caps args per request; chunk conservatively.
	const chunk = 10
	for i := 0; i < len(args); i += chunk {
		end := i + chunk
		if end > len(args) {
			end = len(args)
		}
		frame := map[string]interface{}{"op": "subscribe", "args": args[i:end]}

		s.writeMu.Lock()
		err := conn.WriteJSON(frame)
		s.writeMu.Unlock()
		if err != nil {
			return &TransportError{Op: "subscribe", Err: err}
		}
	}
	return nil
}

// connectLoop dials, resubscribes and reads until stopped, reconnecting
// after a fixed delay on any failure.
func (s *PublicStream) connectLoop() {
	for {
		s.mu.Lock()
		if !s.isRunning {
			s.mu.Unlock()
			return
		}
		s.state = StateConnecting
		s.mu.Unlock()

		log.Printf("[STREAM] Connecting to %s", s.url)

		conn, _, err := websocket.DefaultDialer.Dial(s.url, nil)
		if err != nil {
			log.Printf("[STREAM] Connection failed: %v, retrying in %v", err, reconnectDelay)
			s.mu.Lock()
			s.state = StateDisconnected
			s.reconnects++
			s.mu.Unlock()

			select {
			case <-time.After(reconnectDelay):
				continue
			case <-s.stopChan:
				return
			}
		}

		s.mu.Lock()
		s.conn = conn
		s.state = StateConnected
		wanted := make([]string, 0, len(s.wanted))
		for sym := range s.wanted {
			wanted = append(wanted, sym)
		}
		s.mu.Unlock()

		log.Printf("[STREAM] Connected, replaying %d subscriptions", len(wanted))
		if err := s.sendSubscribe(wanted); err != nil {
			log.Printf("[STREAM] Resubscribe failed: %v", err)
		}

		heartbeatDone := make(chan struct{})
		go s.heartbeatLoop(conn, heartbeatDone)

		s.readLoop(conn)
		close(heartbeatDone)

		s.mu.Lock()
		s.conn = nil
		s.state = StateDisconnected
		running := s.isRunning
		if running {
			s.reconnects++
		}
		s.mu.Unlock()

		if !running {
			return
		}

		log.Printf("[STREAM] Connection lost, reconnecting in %v", reconnectDelay)
		select {
		case <-time.After(reconnectDelay):
		case <-s.stopChan:
			return
		}
	}
}

// heartbeatLoop sends a protocol ping every 20 s for the life of one
// connection.
func (s *PublicStream) heartbeatLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(5 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				log.Printf("[STREAM] Heartbeat failed: %v", err)
				conn.Close()
				return
			}
		case <-done:
			return
		case <-s.stopChan:
			return
		}
	}
}

func (s *PublicStream) readLoop(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("[STREAM] Connection closed normally")
			} else {
				log.Printf("[STREAM] Read error: %v", err)
			}
			return
		}
		s.handleMessage(message)
	}
}

// serverFrame is the common shape of server messages: acks carry op/success,
// data frames carry topic and payload.
type serverFrame struct {
	Op      string          `json:"op,omitempty"`
	Success *bool           `json:"success,omitempty"`
	RetMsg  string          `json:"ret_msg,omitempty"`
	Topic   string          `json:"topic,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (s *PublicStream) handleMessage(message []byte) {
	var frame serverFrame
	if err := json.Unmarshal(message, &frame); err != nil {
		log.Printf("[STREAM] Discarding malformed frame: %v", err)
		return
	}

	if frame.Topic == "" {
		// Subscribe/ping acknowledgement.
		if frame.Success != nil && !*frame.Success {
			log.Printf("[STREAM] Server rejected %s: %s", frame.Op, frame.RetMsg)
		}
		return
	}

	switch {
	case strings.HasPrefix(frame.Topic, "funding."):
		s.handleFunding(strings.TrimPrefix(frame.Topic, "funding."), frame.Data)
	case strings.HasPrefix(frame.Topic, "tickers."):
		s.handleTicker(strings.TrimPrefix(frame.Topic, "tickers."), frame.Data)
	default:
		log.Printf("[STREAM] Unknown topic: %s", frame.Topic)
	}
}

func (s *PublicStream) handleFunding(symbol string, data json.RawMessage) {
	var payload struct {
		FundingRate     string `json:"fundingRate"`
		NextFundingTime string `json:"nextFundingTime"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		log.Printf("[STREAM] Discarding malformed funding frame for %s: %v", symbol, err)
		return
	}
	if payload.FundingRate == "" {
		return
	}

	rate := parseFloat(payload.FundingRate) * 100
	if math.Abs(rate) > MaxFundingRatePercent {
		log.Printf("[STREAM] Discarding out-of-band funding rate %.4f%% for %s", rate, symbol)
		return
	}

	update := Funding{
		Symbol:          symbol,
		Rate:            rate,
		NextFundingTime: parseInt(payload.NextFundingTime),
		Timestamp:       time.Now(),
	}
	s.recordUpdate()

	select {
	case s.fundingCh <- update:
	case <-s.stopChan:
	}
}

func (s *PublicStream) handleTicker(symbol string, data json.RawMessage) {
	var payload struct {
		LastPrice         string `json:"lastPrice"`
		Turnover24h       string `json:"turnover24h"`
		OpenInterestValue string `json:"openInterestValue"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		log.Printf("[STREAM] Discarding malformed ticker frame for %s: %v", symbol, err)
		return
	}
	if payload.LastPrice == "" {
		// Delta frame with no price change; nothing to apply.
		return
	}

	update := PriceData{
		Symbol:            symbol,
		LastPrice:         parseFloat(payload.LastPrice),
		Turnover24h:       parseFloat(payload.Turnover24h),
		OpenInterestValue: parseFloat(payload.OpenInterestValue),
		Timestamp:         time.Now(),
	}
	s.recordUpdate()

	select {
	case s.tickerCh <- update:
	case <-s.stopChan:
	}
}

func (s *PublicStream) recordUpdate() {
	s.mu.Lock()
	s.updatesReceived++
	s.lastUpdateTime = time.Now()
	s.mu.Unlock()
}

// Stats returns transport statistics.
func (s *PublicStream) Stats() StreamStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return StreamStats{
		State:           s.state.String(),
		Subscriptions:   len(s.wanted),
		Reconnects:      s.reconnects,
		UpdatesReceived: s.updatesReceived,
		LastUpdateTime:  s.lastUpdateTime,
	}
}
