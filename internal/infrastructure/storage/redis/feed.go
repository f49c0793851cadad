package redis

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"assetwatch/internal/application/port"
	"assetwatch/internal/domain/model"
	"assetwatch/internal/infrastructure/exchange/marketws"
	"assetwatch/internal/metrics"
)

const (
	FeedName      = "redis"
	ChannelPrefix = "prices."
)

// Feed reads ticks from pub/sub channel prices.<asset>, payloads in the market
// stream format {"asset","price","time"}.
type Feed struct {
	rdb *redis.Client
}

func NewFeed(rdb *redis.Client) *Feed {
	return &Feed{rdb: rdb}
}

func (f *Feed) Name() string { return FeedName }

func (f *Feed) Open(ctx context.Context, asset string, h port.TickHandler) (port.FeedHandle, error) {
	ps := f.rdb.Subscribe(ctx, ChannelPrefix+asset)
	// wait for the subscription confirmation so failures surface here
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, model.NewTransportError(FeedName, asset, "open", err)
	}

	sh := &subHandle{ps: ps}
	go sh.read(asset, h)
	return sh, nil
}

type subHandle struct {
	ps      *redis.PubSub
	stopped atomic.Bool
	once    sync.Once
}

func (s *subHandle) read(asset string, h port.TickHandler) {
	for {
		msg, err := s.ps.ReceiveMessage(context.Background())
		if s.stopped.Load() {
			return
		}
		if err != nil {
			s.shutdown()
			h.OnDisconnect(asset, model.NewTransportError(FeedName, asset, "read", err))
			return
		}
		t, _, err := marketws.Decode(asset, []byte(msg.Payload))
		if err != nil {
			metrics.MalformedMessages.WithLabelValues(FeedName, asset).Inc()
			log.Debug().Err(err).Str("feed", FeedName).Str("asset", asset).Msg("malformed payload dropped")
			continue
		}
		h.OnTick(t)
	}
}

func (s *subHandle) shutdown() {
	s.once.Do(func() { _ = s.ps.Close() })
}

func (s *subHandle) Close() error {
	s.stopped.Store(true)
	s.shutdown()
	return nil
}
