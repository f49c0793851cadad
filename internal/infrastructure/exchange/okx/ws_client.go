package okx

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"assetwatch/internal/domain/model"
	"assetwatch/internal/infrastructure/exchange"
)

const Name = "okx"

type okxSubReq struct {
	Op   string      `json:"op"`
	Args []okxSubArg `json:"args"`
}

type okxSubArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

type okxTickerMsg struct {
	Event string          `json:"event,omitempty"`
	Arg   okxSubArg       `json:"arg"`
	Data  []okxTickerData `json:"data,omitempty"`
}

type okxTickerData struct {
	InstID string          `json:"instId"`
	Last   json.RawMessage `json:"last"`
	Ts     json.RawMessage `json:"ts"`
}

// InstID BTC -> BTC-USDT
func InstID(asset, quote string) string {
	return strings.ToUpper(asset) + "-" + strings.ToUpper(strings.TrimSpace(quote))
}

// NewTickerFeed wsURL e.g. wss://ws.okx.com:8443/ws/v5/public
func NewTickerFeed(wsURL, quote string) *exchange.WSFeed {
	wsURL = strings.TrimSpace(wsURL)
	return exchange.NewWSFeed(Name, func(asset string) (string, error) {
		if wsURL == "" {
			return "", errors.New("okx wsURL empty")
		}
		return wsURL, nil
	}, func(asset string) any {
		return okxSubReq{Op: "subscribe", Args: []okxSubArg{{Channel: "tickers", InstID: InstID(asset, quote)}}}
	}, func(asset string, frame []byte) (model.Tick, bool, error) {
		return decode(InstID(asset, quote), asset, frame)
	})
}

func decode(instID, asset string, frame []byte) (model.Tick, bool, error) {
	var msg okxTickerMsg
	if err := json.Unmarshal(frame, &msg); err != nil {
		return model.Tick{}, false, fmt.Errorf("%w: %v", model.ErrMalformedMessage, err)
	}
	if msg.Event != "" || len(msg.Data) == 0 {
		return model.Tick{}, true, nil
	}

	d := msg.Data[len(msg.Data)-1]
	if d.InstID != instID {
		return model.Tick{}, false, fmt.Errorf("%w: instId %q on %s stream", model.ErrMalformedMessage, d.InstID, asset)
	}
	price, err := exchange.ParsePrice(d.Last)
	if err != nil {
		return model.Tick{}, false, err
	}
	ts, err := exchange.ParseTimestamp(d.Ts)
	if err != nil {
		return model.Tick{}, false, err
	}
	t, err := model.NewTick(asset, price, ts)
	return t, false, err
}
