package port

import "time"

// Sink is the terminal-style output used by the monitor loop.
type Sink interface {
	WriteLive(line string) error
	WriteSnapshot(ts time.Time, line string) error
	NewLine() error
}
