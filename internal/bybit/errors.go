package bybit

import "fmt"

// TransportError reports a network or timeout failure against the exchange.
// It is locally recoverable: callers retry on the next tick or reconnect.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("bybit: %s: transport error: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ExchangeError reports a non-success response from the exchange.
type ExchangeError struct {
	Op      string
	Status  int
	RetCode int
	RetMsg  string
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("bybit: %s: exchange error: status=%d retCode=%d retMsg=%q",
		e.Op, e.Status, e.RetCode, e.RetMsg)
}

// ParseError reports a malformed REST body or stream frame. The offending
// observation is logged and discarded.
type ParseError struct {
	Op  string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("bybit: %s: parse error: %v", e.Op, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
