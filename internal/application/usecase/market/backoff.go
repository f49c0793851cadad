package market

import "time"

// RetryConfig controls reconnect backoff. Attempts are unlimited while the asset
// still has subscribers.
type RetryConfig struct {
	InitialDel time.Duration // first delay
	MaxDelay   time.Duration // cap
	Factor     float64       // multiplier per attempt
}

// DefaultRetryConfig 1s, 2s, 4s ... capped at 30s.
var DefaultRetryConfig = RetryConfig{
	InitialDel: 1 * time.Second,
	MaxDelay:   30 * time.Second,
	Factor:     2,
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.InitialDel <= 0 {
		c.InitialDel = DefaultRetryConfig.InitialDel
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultRetryConfig.MaxDelay
	}
	if c.MaxDelay < c.InitialDel {
		c.MaxDelay = c.InitialDel
	}
	if c.Factor < 1 {
		c.Factor = DefaultRetryConfig.Factor
	}
	return c
}

// Delay returns the wait before the given attempt (1-based).
func (c RetryConfig) Delay(attempt int) time.Duration {
	delay := c.InitialDel
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * c.Factor)
		if delay >= c.MaxDelay {
			return c.MaxDelay
		}
	}
	return delay
}
