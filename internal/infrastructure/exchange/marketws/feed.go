// Package marketws reads the dashboard backend's per-asset market stream
// (ws/market/{asset}), frames shaped {"asset","price","time"}.
package marketws

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"assetwatch/internal/domain/model"
	"assetwatch/internal/infrastructure/exchange"
)

const Name = "marketws"

type marketMsg struct {
	Asset string          `json:"asset"`
	Price json.RawMessage `json:"price"`
	Time  json.RawMessage `json:"time"`
}

// NewFeed base is the server root, e.g. ws://localhost:8000.
func NewFeed(base string) *exchange.WSFeed {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	return exchange.NewWSFeed(Name, func(asset string) (string, error) {
		return endpoint(base, asset)
	}, nil, Decode)
}

func endpoint(base, asset string) (string, error) {
	if base == "" {
		return "", errors.New("marketws url empty")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/market/" + url.PathEscape(asset)
	return u.String(), nil
}

// Decode parses one frame. Unknown fields are ignored; a frame for another asset is malformed.
func Decode(asset string, frame []byte) (model.Tick, bool, error) {
	var msg marketMsg
	if err := json.Unmarshal(frame, &msg); err != nil {
		return model.Tick{}, false, fmt.Errorf("%w: %v", model.ErrMalformedMessage, err)
	}
	if msg.Asset != "" && msg.Asset != asset {
		return model.Tick{}, false, fmt.Errorf("%w: asset %q on %s stream", model.ErrMalformedMessage, msg.Asset, asset)
	}
	price, err := exchange.ParsePrice(msg.Price)
	if err != nil {
		return model.Tick{}, false, err
	}
	ts, err := exchange.ParseTimestamp(msg.Time)
	if err != nil {
		return model.Tick{}, false, err
	}
	t, err := model.NewTick(asset, price, ts)
	return t, false, err
}
