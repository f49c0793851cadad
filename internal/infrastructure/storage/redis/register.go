package redis

import (
	"errors"

	"assetwatch/internal/application/port"
	"assetwatch/internal/infrastructure/pricefeed"
)

func init() {
	pricefeed.Register(FeedName, func(opts pricefeed.Options) (port.TickSource, error) {
		if opts.Redis == nil {
			return nil, errors.New("redis tick source requires [redis] to be enabled")
		}
		return NewFeed(opts.Redis), nil
	})
}
