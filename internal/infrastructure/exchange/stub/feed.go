// Package stub generates synthetic prices for offline runs and demos.
package stub

import (
	"context"
	"hash/fnv"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"assetwatch/internal/application/port"
	"assetwatch/internal/domain/model"
)

const (
	Name            = "stub"
	DefaultInterval = 5 * time.Second
)

var basePrices = map[string]float64{
	"BTC":  42500,
	"ETH":  3000,
	"SOL":  150,
	"AAPL": 150,
	"GOOG": 2800,
	"TSLA": 700,
	"AMZN": 3400,
}

// Feed emits a bounded random walk around a per-asset base price. The sequence
// for a given asset is the same on every run.
type Feed struct {
	interval time.Duration
	now      func() time.Time
}

func NewFeed(interval time.Duration) *Feed {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Feed{interval: interval, now: time.Now}
}

func (f *Feed) Name() string { return Name }

func (f *Feed) Open(ctx context.Context, asset string, h port.TickHandler) (port.FeedHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, model.NewTransportError(Name, asset, "open", err)
	}
	hnd := &handle{stop: make(chan struct{})}
	go f.run(asset, h, hnd.stop)
	return hnd, nil
}

func (f *Feed) run(asset string, h port.TickHandler, stop <-chan struct{}) {
	seed := fnv.New64a()
	_, _ = seed.Write([]byte(asset))
	r := rand.New(rand.NewSource(int64(seed.Sum64())))

	base, ok := basePrices[asset]
	if !ok {
		base = 100
	}
	price := base

	t := time.NewTicker(f.interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			// +-0.5% step, kept within 10% of base
			price += price * (r.Float64() - 0.5) / 100
			if price < base*0.9 {
				price = base * 0.9
			} else if price > base*1.1 {
				price = base * 1.1
			}
			h.OnTick(model.Tick{
				Asset:      asset,
				Price:      decimal.NewFromFloat(price).Round(2),
				ObservedAt: f.now().UTC(),
			})
		}
	}
}

type handle struct {
	once sync.Once
	stop chan struct{}
}

func (h *handle) Close() error {
	h.once.Do(func() { close(h.stop) })
	return nil
}
