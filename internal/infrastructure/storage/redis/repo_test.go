package redis

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"assetwatch/internal/domain/model"
)

func newTestClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb, mr
}

func TestRepoPublishTrigger(t *testing.T) {
	rdb, _ := newTestClient(t)
	repo := New(rdb, "aw", 0, "", "")
	ctx := context.Background()

	sub := rdb.Subscribe(ctx, "aw:triggers:pub")
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	ev := model.TriggerEvent{
		RuleID:        "r1",
		Asset:         "BTC",
		Comparison:    model.Above,
		Threshold:     decimal.NewFromInt(50000),
		ObservedPrice: decimal.NewFromInt(50100),
		TriggeredAt:   time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := repo.PublishTrigger(ctx, ev); err != nil {
		t.Fatalf("PublishTrigger failed: %v", err)
	}

	entries, err := rdb.XRange(ctx, "aw:triggers", "-", "+").Result()
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one stream entry, got %v (%v)", entries, err)
	}
	if entries[0].Values["rule_id"] != "r1" || entries[0].Values["price"] != "50100" {
		t.Errorf("unexpected stream values %v", entries[0].Values)
	}

	msg, err := sub.ReceiveMessage(ctx)
	if err != nil {
		t.Fatalf("no pub/sub message: %v", err)
	}
	var p triggerPayload
	if err := json.Unmarshal([]byte(msg.Payload), &p); err != nil {
		t.Fatalf("bad payload: %v", err)
	}
	if p.Message != "BTC price is 50100, alert condition met (above 50000)" {
		t.Errorf("unexpected message %q", p.Message)
	}
}

func TestRepoUpsertLatestPrice(t *testing.T) {
	rdb, mr := newTestClient(t)
	repo := New(rdb, "aw", time.Minute, "", "")
	ctx := context.Background()

	tick := model.Tick{Asset: "ETH", Price: decimal.RequireFromString("3001.5"), ObservedAt: time.Now()}
	if err := repo.UpsertLatestPrice(ctx, tick); err != nil {
		t.Fatalf("UpsertLatestPrice failed: %v", err)
	}

	lp, err := repo.LatestPrice(ctx, "ETH")
	if err != nil || lp.Price != "3001.5" {
		t.Fatalf("unexpected latest %+v (%v)", lp, err)
	}
	if ttl := mr.TTL("aw:latest"); ttl != time.Minute {
		t.Errorf("expected ttl 1m, got %v", ttl)
	}
	if _, err := repo.LatestPrice(ctx, "SOL"); err != redis.Nil {
		t.Errorf("expected redis.Nil for missing asset, got %v", err)
	}
}

type collectingHandler struct {
	mu     sync.Mutex
	ticks  []model.Tick
	got    chan struct{}
	closed chan error
}

func (c *collectingHandler) OnTick(t model.Tick) {
	c.mu.Lock()
	c.ticks = append(c.ticks, t)
	c.mu.Unlock()
	c.got <- struct{}{}
}

func (c *collectingHandler) OnDisconnect(asset string, err error) { c.closed <- err }

func TestFeedReceivesPublishedTicks(t *testing.T) {
	rdb, mr := newTestClient(t)
	h := &collectingHandler{got: make(chan struct{}, 4), closed: make(chan error, 1)}

	handle, err := NewFeed(rdb).Open(context.Background(), "AAPL", h)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	mr.Publish("prices.AAPL", `{"asset":"AAPL","price":"150.5","time":"2024-03-01T12:00:00Z"}`)
	mr.Publish("prices.AAPL", `{"symbol":"AAPL"}`)
	mr.Publish("prices.AAPL", `{"asset":"AAPL","price":151,"time":"2024-03-01 12:00:01"}`)

	for i := 0; i < 2; i++ {
		select {
		case <-h.got:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for tick %d", i)
		}
	}
	h.mu.Lock()
	if !h.ticks[0].Price.Equal(decimal.RequireFromString("150.5")) || !h.ticks[1].Price.Equal(decimal.NewFromInt(151)) {
		t.Errorf("unexpected ticks %+v", h.ticks)
	}
	h.mu.Unlock()

	_ = handle.Close()
	_ = handle.Close()
	select {
	case err := <-h.closed:
		t.Fatalf("Close must not report a disconnect, got %v", err)
	case <-time.After(100 * time.Millisecond):
	}
}
