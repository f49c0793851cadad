package market

import "time"

// State is the per-asset connection indicator shown by the presentation layer.
type State string

const (
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateClosed       State = "closed"
)

// StreamStatus is a point-in-time view of one asset stream.
type StreamStatus struct {
	Asset       string    `json:"asset"`
	State       State     `json:"state"`
	Subscribers int       `json:"subscribers"`
	Attempt     int       `json:"attempt"` // consecutive failed opens
	LastError   string    `json:"last_error,omitempty"`
	NextRetryAt time.Time `json:"next_retry_at"`
}
