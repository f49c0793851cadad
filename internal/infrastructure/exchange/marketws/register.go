package marketws

import (
	"assetwatch/internal/application/port"
	"assetwatch/internal/infrastructure/pricefeed"
)

func init() {
	pricefeed.Register(Name, func(opts pricefeed.Options) (port.TickSource, error) {
		return NewFeed(opts.URL), nil
	})
}
