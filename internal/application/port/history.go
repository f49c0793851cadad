package port

import (
	"context"
	"time"

	"assetwatch/internal/domain/model"
)

// HistoryProvider returns recent ticks for asset, oldest first. Used once per stream
// to seed its window before live ticks arrive.
type HistoryProvider interface {
	History(ctx context.Context, asset string, lookback time.Duration) ([]model.Tick, error)
}

// PriceRecorder persists live ticks so later sessions can seed from them.
type PriceRecorder interface {
	RecordPrice(ctx context.Context, t model.Tick) error
}

// RecorderFunc adapts a plain function (e.g. a cache upsert) to PriceRecorder.
type RecorderFunc func(ctx context.Context, t model.Tick) error

func (f RecorderFunc) RecordPrice(ctx context.Context, t model.Tick) error { return f(ctx, t) }
