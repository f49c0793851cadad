package bybit

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"assetwatch/internal/domain/model"
	"assetwatch/internal/infrastructure/exchange"
)

const Name = "bybit"

type bybitSubReq struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

type bybitTickerItem struct {
	Symbol    string          `json:"symbol"`
	LastPrice json.RawMessage `json:"lastPrice"`
}

// BybitDataList data can be object OR array
type BybitDataList []bybitTickerItem

func (d *BybitDataList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*d = nil
		return nil
	}
	switch b[0] {
	case '[':
		var arr []bybitTickerItem
		if err := json.Unmarshal(b, &arr); err != nil {
			return err
		}
		*d = arr
		return nil
	case '{':
		var one bybitTickerItem
		if err := json.Unmarshal(b, &one); err != nil {
			return err
		}
		*d = BybitDataList{one}
		return nil
	default:
		return fmt.Errorf("unexpected data json: %s", string(b))
	}
}

type bybitTickerMsg struct {
	Topic string        `json:"topic"`
	Type  string        `json:"type"` // snapshot | delta
	Ts    int64         `json:"ts"`
	Data  BybitDataList `json:"data"`

	Success *bool  `json:"success,omitempty"`
	RetMsg  string `json:"ret_msg,omitempty"`
	Op      string `json:"op,omitempty"`
}

// NewTickerFeed wsURL e.g. wss://stream.bybit.com/v5/public/spot
func NewTickerFeed(wsURL, quote string) *exchange.WSFeed {
	conv := exchange.NewQuoteConverter(quote)
	wsURL = strings.TrimSpace(wsURL)
	return exchange.NewWSFeed(Name, func(asset string) (string, error) {
		if wsURL == "" {
			return "", errors.New("bybit ws_url empty")
		}
		return wsURL, nil
	}, func(asset string) any {
		return bybitSubReq{Op: "subscribe", Args: []string{topic(conv, asset)}}
	}, func(asset string, frame []byte) (model.Tick, bool, error) {
		return decode(conv, asset, frame)
	})
}

func topic(conv exchange.SymbolConverter, asset string) string {
	return "tickers." + conv.Asset2Symbol(asset)
}

// decode skips acks, pongs and delta frames that don't carry lastPrice.
func decode(conv exchange.SymbolConverter, asset string, frame []byte) (model.Tick, bool, error) {
	var msg bybitTickerMsg
	if err := json.Unmarshal(frame, &msg); err != nil {
		return model.Tick{}, false, fmt.Errorf("%w: %v", model.ErrMalformedMessage, err)
	}
	if msg.Success != nil || msg.Op != "" {
		return model.Tick{}, true, nil
	}
	if msg.Topic != topic(conv, asset) {
		return model.Tick{}, false, fmt.Errorf("%w: topic %q on %s stream", model.ErrMalformedMessage, msg.Topic, asset)
	}

	for _, d := range msg.Data {
		if len(bytes.TrimSpace(d.LastPrice)) == 0 {
			continue
		}
		price, err := exchange.ParsePrice(d.LastPrice)
		if err != nil {
			return model.Tick{}, false, err
		}
		if msg.Ts <= 0 {
			return model.Tick{}, false, fmt.Errorf("%w: missing ts", model.ErrMalformedMessage)
		}
		t, err := model.NewTick(asset, price, exchange.UnixMilli(msg.Ts))
		return t, false, err
	}
	return model.Tick{}, true, nil
}
