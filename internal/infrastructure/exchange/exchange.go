package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"assetwatch/internal/application/port"
	"assetwatch/internal/domain/model"
	"assetwatch/internal/infrastructure/websocket"
	"assetwatch/internal/metrics"
)

// Decoder turns one inbound frame into a tick. skip reports frames that carry no
// price at all (acks, heartbeats, partial deltas); those are neither ticks nor errors.
type Decoder func(asset string, frame []byte) (tick model.Tick, skip bool, err error)

// Endpoint builds the stream URL for an asset.
type Endpoint func(asset string) (string, error)

// Hello builds an optional subscribe frame sent right after the handshake.
type Hello func(asset string) any

// WSFeed is a port.TickSource over one websocket per asset.
type WSFeed struct {
	name     string
	endpoint Endpoint
	hello    Hello
	decode   Decoder
}

func NewWSFeed(name string, endpoint Endpoint, hello Hello, decode Decoder) *WSFeed {
	return &WSFeed{name: name, endpoint: endpoint, hello: hello, decode: decode}
}

func (f *WSFeed) Name() string { return f.name }

func (f *WSFeed) Open(ctx context.Context, asset string, h port.TickHandler) (port.FeedHandle, error) {
	url, err := f.endpoint(asset)
	if err != nil {
		return nil, model.NewTransportError(f.name, asset, "open", err)
	}

	log.Debug().Str("feed", f.name).Str("asset", asset).Str("url", url).Msg("ws connecting")
	conn, err := websocket.Dial(ctx, url)
	if err != nil {
		return nil, model.NewTransportError(f.name, asset, "open", err)
	}

	if f.hello != nil {
		if err := websocket.WriteJSON(conn, f.hello(asset)); err != nil {
			_ = conn.Close()
			return nil, model.NewTransportError(f.name, asset, "subscribe", err)
		}
	}

	stream := websocket.Start(conn, func(b []byte) {
		t, skip, err := f.decode(asset, b)
		if err != nil {
			metrics.MalformedMessages.WithLabelValues(f.name, asset).Inc()
			log.Debug().Err(err).Str("feed", f.name).Str("asset", asset).Msg("malformed frame dropped")
			return
		}
		if skip {
			return
		}
		h.OnTick(t)
	}, func(err error) {
		h.OnDisconnect(asset, model.NewTransportError(f.name, asset, "read", err))
	})

	log.Info().Str("feed", f.name).Str("asset", asset).Msg("ws connected")
	return stream, nil
}

// ========== Parsing helpers ==========

// ParsePrice accepts a JSON number or numeric string.
func ParsePrice(raw json.RawMessage) (decimal.Decimal, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return decimal.Zero, fmt.Errorf("%w: missing price", model.ErrMalformedMessage)
	}
	s = strings.Trim(s, `"`)
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: price %q", model.ErrMalformedMessage, s)
	}
	return d, nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
}

// ParseTimestamp accepts RFC3339, "YYYY-MM-DD HH:MM:SS[.ffffff]" with or without
// offset (naive values are UTC), or unix milliseconds as number or string.
func ParseTimestamp(raw json.RawMessage) (time.Time, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return time.Time{}, fmt.Errorf("%w: missing time", model.ErrMalformedMessage)
	}
	s = strings.Trim(s, `"`)
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return UnixMilli(ms), nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: time %q", model.ErrMalformedMessage, s)
}

func UnixMilli(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
