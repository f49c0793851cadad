package stub

import (
	"context"
	"testing"
	"time"

	"assetwatch/internal/domain/model"
)

type chanHandler struct {
	ticks chan model.Tick
}

func (c chanHandler) OnTick(t model.Tick) {
	select {
	case c.ticks <- t:
	default:
	}
}

func (c chanHandler) OnDisconnect(asset string, err error) {}

func TestFeedEmitsBoundedPrices(t *testing.T) {
	f := NewFeed(5 * time.Millisecond)
	h := chanHandler{ticks: make(chan model.Tick, 8)}

	handle, err := f.Open(context.Background(), "BTC", h)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer handle.Close()

	for i := 0; i < 3; i++ {
		select {
		case tk := <-h.ticks:
			p := tk.Price.InexactFloat64()
			if tk.Asset != "BTC" || p < 42500*0.9 || p > 42500*1.1 {
				t.Fatalf("unexpected tick %+v", tk)
			}
		case <-time.After(time.Second):
			t.Fatalf("no tick within a second")
		}
	}
}

func TestFeedOpenRespectsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewFeed(0).Open(ctx, "BTC", chanHandler{}); err == nil {
		t.Fatalf("expected error for cancelled context")
	}
}
