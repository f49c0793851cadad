package binance

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"assetwatch/internal/domain/model"
	"assetwatch/internal/infrastructure/exchange"
)

const Name = "binance"

type binanceCombined struct {
	Stream string          `json:"stream"`
	Data   *binanceMiniMsg `json:"data"`
}

type binanceMiniMsg struct {
	Event     string          `json:"e"`
	EventTime int64           `json:"E"`
	Symbol    string          `json:"s"`
	Close     json.RawMessage `json:"c"`
}

// NewTickerFeed base e.g. wss://stream.binance.com:9443
func NewTickerFeed(base, quote string) *exchange.WSFeed {
	conv := exchange.NewQuoteConverter(quote)
	base = strings.TrimSpace(base)
	return exchange.NewWSFeed(Name, func(asset string) (string, error) {
		return buildStreamURL(base, conv.Asset2Symbol(asset))
	}, nil, func(asset string, frame []byte) (model.Tick, bool, error) {
		return decode(conv, asset, frame)
	})
}

func buildStreamURL(base, symbol string) (string, error) {
	if base == "" {
		return "", errors.New("binance ws_base empty")
	}
	if symbol == "" {
		return "", errors.New("symbol empty")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	u.Path = "/stream"
	u.RawQuery = "streams=" + strings.ToLower(symbol) + "@miniTicker"
	return u.String(), nil
}

func decode(conv exchange.SymbolConverter, asset string, frame []byte) (model.Tick, bool, error) {
	var env binanceCombined
	if err := json.Unmarshal(frame, &env); err != nil {
		return model.Tick{}, false, fmt.Errorf("%w: %v", model.ErrMalformedMessage, err)
	}
	msg := env.Data
	if msg == nil {
		// raw /ws endpoint frames are not wrapped
		var raw binanceMiniMsg
		if err := json.Unmarshal(frame, &raw); err != nil {
			return model.Tick{}, false, fmt.Errorf("%w: %v", model.ErrMalformedMessage, err)
		}
		if raw.Symbol == "" {
			// subscription acks {"result":null,"id":1}
			return model.Tick{}, true, nil
		}
		msg = &raw
	}

	if got := conv.Symbol2Asset(msg.Symbol); got != strings.ToUpper(asset) {
		return model.Tick{}, false, fmt.Errorf("%w: symbol %q on %s stream", model.ErrMalformedMessage, msg.Symbol, asset)
	}
	price, err := exchange.ParsePrice(msg.Close)
	if err != nil {
		return model.Tick{}, false, err
	}
	if msg.EventTime <= 0 {
		return model.Tick{}, false, fmt.Errorf("%w: missing event time", model.ErrMalformedMessage)
	}
	t, err := model.NewTick(asset, price, exchange.UnixMilli(msg.EventTime))
	return t, false, err
}
