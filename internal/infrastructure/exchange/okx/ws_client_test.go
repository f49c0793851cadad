package okx

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"assetwatch/internal/domain/model"
)

func TestDecodeTickers(t *testing.T) {
	if got := InstID("btc", "usdt"); got != "BTC-USDT" {
		t.Fatalf("InstID got %s", got)
	}

	tick, skip, err := decode("BTC-USDT", "BTC", []byte(`{"arg":{"channel":"tickers","instId":"BTC-USDT"},"data":[{"instId":"BTC-USDT","last":"60500.2","ts":"1709294400000"}]}`))
	if err != nil || skip {
		t.Fatalf("decode failed: %v skip=%v", err, skip)
	}
	if !tick.Price.Equal(decimal.RequireFromString("60500.2")) || tick.ObservedAt.UnixMilli() != 1709294400000 {
		t.Errorf("unexpected tick %+v", tick)
	}

	if _, skip, err := decode("BTC-USDT", "BTC", []byte(`{"event":"subscribe","arg":{"channel":"tickers","instId":"BTC-USDT"}}`)); err != nil || !skip {
		t.Errorf("subscribe event must be skipped, err=%v skip=%v", err, skip)
	}
	if _, _, err := decode("BTC-USDT", "BTC", []byte(`{"data":[{"instId":"BTC-USDT","last":"1"}]}`)); !errors.Is(err, model.ErrMalformedMessage) {
		t.Errorf("expected malformed for missing ts, got %v", err)
	}
}
