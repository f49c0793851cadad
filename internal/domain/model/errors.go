package model

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidAsset asset symbol is empty, too long or contains unsupported characters
	ErrInvalidAsset = errors.New("invalid asset symbol")
	// ErrInvalidRule rule parameters rejected
	ErrInvalidRule = errors.New("invalid alert rule")
	// ErrRuleNotFound unknown rule id
	ErrRuleNotFound = errors.New("alert rule not found")
	// ErrMalformedMessage inbound payload could not be turned into a tick
	ErrMalformedMessage = errors.New("malformed market message")
	// ErrNotificationUnavailable permission denied or capability missing
	ErrNotificationUnavailable = errors.New("notification unavailable")
	// ErrMultiplexerClosed operation on a closed multiplexer
	ErrMultiplexerClosed = errors.New("multiplexer closed")
)

// TransportError wraps an adapter open/receive failure.
type TransportError struct {
	Source string
	Asset  string
	Op     string // "open" or "read"
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s %s: %v", e.Source, e.Op, e.Asset, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewTransportError creates a new TransportError.
func NewTransportError(source, asset, op string, err error) *TransportError {
	return &TransportError{Source: source, Asset: asset, Op: op, Err: err}
}
