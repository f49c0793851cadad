package service

import (
	"sync"

	"github.com/shopspring/decimal"

	"assetwatch/internal/domain/model"
)

// DefaultSeriesCapacity matches the chart's 50-point window.
const DefaultSeriesCapacity = 50

var hundred = decimal.NewFromInt(100)

// SeriesBuffer keeps a bounded, arrival-ordered window of ticks per asset.
// Windows are only mutated from the ingestion path of their asset; readers get copies.
type SeriesBuffer struct {
	mu       sync.RWMutex
	windows  map[string]*seriesWindow // asset -> window
	capacity int
}

type seriesWindow struct {
	mu    sync.RWMutex
	ticks []model.Tick
}

// NewSeriesBuffer creates a buffer; capacity <= 0 falls back to DefaultSeriesCapacity.
func NewSeriesBuffer(capacity int) *SeriesBuffer {
	if capacity <= 0 {
		capacity = DefaultSeriesCapacity
	}
	return &SeriesBuffer{
		windows:  make(map[string]*seriesWindow),
		capacity: capacity,
	}
}

func (b *SeriesBuffer) Capacity() int { return b.capacity }

func (b *SeriesBuffer) window(asset string, create bool) *seriesWindow {
	b.mu.RLock()
	w := b.windows[asset]
	b.mu.RUnlock()
	if w != nil || !create {
		return w
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if w = b.windows[asset]; w == nil {
		w = &seriesWindow{ticks: make([]model.Tick, 0, b.capacity)}
		b.windows[asset] = w
	}
	return w
}

// Append adds t in arrival order and evicts from the front until len <= capacity.
// Out-of-order timestamps are kept as-is; the window is never re-sorted.
func (b *SeriesBuffer) Append(asset string, t model.Tick) {
	w := b.window(asset, true)
	w.mu.Lock()
	defer w.mu.Unlock()

	w.ticks = append(w.ticks, t)
	if over := len(w.ticks) - b.capacity; over > 0 {
		// copy down so the backing array does not grow without bound
		n := copy(w.ticks, w.ticks[over:])
		clear(w.ticks[n:])
		w.ticks = w.ticks[:n]
	}
}

// Seed replaces the window with the most recent capacity samples of history.
func (b *SeriesBuffer) Seed(asset string, history []model.Tick) {
	if over := len(history) - b.capacity; over > 0 {
		history = history[over:]
	}
	w := b.window(asset, true)
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ticks = append(w.ticks[:0], history...)
}

// Snapshot returns a copy of the current window (nil when the asset has none).
func (b *SeriesBuffer) Snapshot(asset string) []model.Tick {
	w := b.window(asset, false)
	if w == nil {
		return nil
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]model.Tick, len(w.ticks))
	copy(out, w.ticks)
	return out
}

// Len returns the number of samples held for asset.
func (b *SeriesBuffer) Len(asset string) int {
	w := b.window(asset, false)
	if w == nil {
		return 0
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.ticks)
}

// Latest returns the most recently appended tick.
func (b *SeriesBuffer) Latest(asset string) (model.Tick, bool) {
	w := b.window(asset, false)
	if w == nil {
		return model.Tick{}, false
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	if len(w.ticks) == 0 {
		return model.Tick{}, false
	}
	return w.ticks[len(w.ticks)-1], true
}

// ChangeSince compares the first and last samples in the window.
func (b *SeriesBuffer) ChangeSince(asset string) model.Change {
	w := b.window(asset, false)
	if w == nil {
		return model.Change{}
	}
	w.mu.RLock()
	if len(w.ticks) < 2 {
		w.mu.RUnlock()
		return model.Change{}
	}
	first, last := w.ticks[0].Price, w.ticks[len(w.ticks)-1].Price
	w.mu.RUnlock()

	abs := last.Sub(first)
	if first.IsZero() {
		return model.Change{Absolute: abs}
	}
	return model.Change{Absolute: abs, Percent: abs.Div(first).Mul(hundred)}
}

// Drop discards the window; called when the asset loses its last subscriber.
func (b *SeriesBuffer) Drop(asset string) {
	b.mu.Lock()
	delete(b.windows, asset)
	b.mu.Unlock()
}
