package market

import (
	"sync/atomic"

	"assetwatch/internal/domain/model"
	"assetwatch/internal/metrics"
)

// DefaultQueueSize is the per-consumer delivery buffer.
const DefaultQueueSize = 64

// Subscription is one consumer's handle on an asset stream. Ticks are pushed to C();
// the channel is closed once the subscription is released.
type Subscription struct {
	id         uint64
	consumerID string
	asset      string
	ch         chan model.Tick
	dropped    atomic.Uint64

	stream *assetStream
	mux    *Multiplexer
}

func (s *Subscription) C() <-chan model.Tick { return s.ch }
func (s *Subscription) Asset() string        { return s.asset }
func (s *Subscription) ConsumerID() string   { return s.consumerID }

// Dropped is the number of ticks evicted because the consumer fell behind.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Close is shorthand for Multiplexer.Unsubscribe.
func (s *Subscription) Close() { s.mux.Unsubscribe(s) }

// push enqueues t without blocking, evicting the oldest queued tick when full.
// Caller holds the stream lock, which also serializes it against close.
func (s *Subscription) push(t model.Tick) {
	for {
		select {
		case s.ch <- t:
			return
		default:
		}
		select {
		case <-s.ch:
			s.dropped.Add(1)
			metrics.DroppedTicks.WithLabelValues(s.asset).Inc()
		default:
		}
	}
}
