package optimization

import (
	"errors"
	"fmt"
)

// ErrorKind classifies optimization failures independently of any transport
type ErrorKind string

const (
	// KindNoSymbols - the request named no symbols
	KindNoSymbols ErrorKind = "no_symbols"
	// KindDataFetch - price history for a symbol could not be retrieved
	KindDataFetch ErrorKind = "data_fetch"
	// KindInsufficientData - fewer than 2 aligned rows, or no symbol with usable data
	KindInsufficientData ErrorKind = "insufficient_data"
	// KindNoUsableReturns - every return row contained a non-finite value
	KindNoUsableReturns ErrorKind = "no_usable_returns"
	// KindInfeasibleConstraints - the solver could not satisfy the constraint set
	// (also used for non-convergence, iteration caps and timeouts)
	KindInfeasibleConstraints ErrorKind = "infeasible_constraints"
	// KindDegenerateVolatility - optimal volatility is zero, Sharpe ratio undefined
	KindDegenerateVolatility ErrorKind = "degenerate_volatility"
)

// Error is the single error type surfaced by the optimization module.
// Symbol is set for per-symbol failures; Err carries the underlying cause, if any.
type Error struct {
	Kind    ErrorKind
	Symbol  string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Symbol != "" {
		msg = e.Symbol + ": " + msg
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so the Err* sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Symbol == ""
}

// Sentinels for errors.Is
var (
	ErrNoSymbols             = &Error{Kind: KindNoSymbols}
	ErrDataFetch             = &Error{Kind: KindDataFetch}
	ErrInsufficientData      = &Error{Kind: KindInsufficientData}
	ErrNoUsableReturns       = &Error{Kind: KindNoUsableReturns}
	ErrInfeasibleConstraints = &Error{Kind: KindInfeasibleConstraints}
	ErrDegenerateVolatility  = &Error{Kind: KindDegenerateVolatility}
)

// KindOf returns the kind of an optimization error, or "" for foreign errors
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func NewNoSymbolsError() *Error {
	return &Error{Kind: KindNoSymbols, Message: "no stock symbols provided"}
}

func NewDataFetchError(symbol string, cause error) *Error {
	return &Error{Kind: KindDataFetch, Symbol: symbol, Message: "failed to fetch price history", Err: cause}
}

func NewInsufficientDataError(symbol, message string) *Error {
	return &Error{Kind: KindInsufficientData, Symbol: symbol, Message: message}
}

func NewNoUsableReturnsError(message string) *Error {
	return &Error{Kind: KindNoUsableReturns, Message: message}
}

func NewInfeasibleConstraintsError(message string, cause error) *Error {
	return &Error{Kind: KindInfeasibleConstraints, Message: message, Err: cause}
}

func NewDegenerateVolatilityError(volatility float64) *Error {
	return &Error{
		Kind:    KindDegenerateVolatility,
		Message: fmt.Sprintf("optimal portfolio volatility %.3g is zero, Sharpe ratio undefined", volatility),
	}
}
