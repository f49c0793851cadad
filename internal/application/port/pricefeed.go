package port

import (
	"context"

	"assetwatch/internal/domain/model"
)

// TickHandler receives the output of one adapter connection.
// OnTick is invoked from the adapter's single reader goroutine, so calls for one
// asset never overlap and arrive in transport order.
type TickHandler interface {
	OnTick(t model.Tick)
	// OnDisconnect is reported at most once per opened handle, after which no
	// more ticks are delivered. It is never called from inside Open or Close.
	OnDisconnect(asset string, err error)
}

// FeedHandle is one live streaming connection scoped to a single asset.
// Close must not block on the reader goroutine and must be idempotent.
type FeedHandle interface {
	Close() error
}

// TickSource opens per-asset streams. ctx only bounds connection setup; the
// stream lives until Close or disconnect. Reconnecting is the caller's job.
type TickSource interface {
	Name() string
	Open(ctx context.Context, asset string, h TickHandler) (FeedHandle, error)
}
