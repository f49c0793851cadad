package composite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"assetwatch/internal/application/port"
	"assetwatch/internal/domain/model"
)

var ErrNoHistory = errors.New("no history provider configured")

// Repo fans recorded prices out to every recorder and reads history from the first
// provider that answers without error.
type Repo struct {
	recorders []port.PriceRecorder
	histories []port.HistoryProvider
}

// New providers are tried in the given order.
func New(recorders []port.PriceRecorder, histories []port.HistoryProvider) *Repo {
	// nil entries are allowed; filter in constructor for safety
	r := &Repo{}
	for _, rec := range recorders {
		if rec != nil {
			r.recorders = append(r.recorders, rec)
		}
	}
	for _, h := range histories {
		if h != nil {
			r.histories = append(r.histories, h)
		}
	}
	return r
}

func (r *Repo) HasRecorders() bool { return len(r.recorders) > 0 }

func (r *Repo) RecordPrice(ctx context.Context, t model.Tick) error {
	var firstErr error
	for _, rec := range r.recorders {
		if err := rec.RecordPrice(ctx, t); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Repo) History(ctx context.Context, asset string, lookback time.Duration) ([]model.Tick, error) {
	if len(r.histories) == 0 {
		return nil, ErrNoHistory
	}
	var errs []error
	for i, h := range r.histories {
		ticks, err := h.History(ctx, asset, lookback)
		if err == nil {
			return ticks, nil
		}
		log.Debug().Err(err).Int("provider", i).Str("asset", asset).Msg("history provider failed, trying next")
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("all history providers failed: %w", errors.Join(errs...))
}

var (
	_ port.HistoryProvider = (*Repo)(nil)
	_ port.PriceRecorder   = (*Repo)(nil)
)
