package monitor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/shopspring/decimal"

	"assetwatch/internal/application/port"
	"assetwatch/internal/application/usecase/market"
	"assetwatch/internal/domain/model"
	"assetwatch/internal/domain/service"
)

func init() {
	color.NoColor = true
}

type fakeSource struct {
	mu       sync.Mutex
	handlers map[string]port.TickHandler
	closed   map[string]int
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) Open(ctx context.Context, asset string, h port.TickHandler) (port.FeedHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[asset] = h
	return &fakeHandle{src: f, asset: asset}, nil
}

func (f *fakeSource) handler(asset string) port.TickHandler {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handlers[asset]
}

func (f *fakeSource) closes(asset string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed[asset]
}

type fakeHandle struct {
	src   *fakeSource
	asset string
}

func (h *fakeHandle) Close() error {
	h.src.mu.Lock()
	h.src.closed[h.asset]++
	h.src.mu.Unlock()
	return nil
}

type memSink struct {
	mu    sync.Mutex
	live  []string
	snaps []string
}

func (s *memSink) WriteLive(line string) error {
	s.mu.Lock()
	s.live = append(s.live, line)
	s.mu.Unlock()
	return nil
}

func (s *memSink) WriteSnapshot(ts time.Time, line string) error {
	s.mu.Lock()
	s.snaps = append(s.snaps, line)
	s.mu.Unlock()
	return nil
}

func (s *memSink) NewLine() error { return nil }

func (s *memSink) lastLive() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.live) == 0 {
		return ""
	}
	return s.live[len(s.live)-1]
}

type memRecorder struct {
	mu    sync.Mutex
	ticks []model.Tick
}

func (r *memRecorder) RecordPrice(ctx context.Context, t model.Tick) error {
	r.mu.Lock()
	r.ticks = append(r.ticks, t)
	r.mu.Unlock()
	return nil
}

func (r *memRecorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ticks)
}

func tick(asset, price string) model.Tick {
	return model.Tick{Asset: asset, Price: decimal.RequireFromString(price), ObservedAt: time.Now()}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestStateApplyTracksDirection(t *testing.T) {
	st := NewState([]string{"BTC", "ETH", "BTC"})
	if got := strings.Join(st.Symbols(), ","); got != "BTC,ETH" {
		t.Fatalf("symbols = %s", got)
	}

	if !st.Apply(tick("BTC", "100")) {
		t.Fatalf("first tick should change display")
	}
	if st.Apply(tick("BTC", "100.00")) {
		t.Fatalf("equal price should not change display")
	}
	if !st.Apply(tick("BTC", "101")) || st.Snapshot()["BTC"].dir != DirUp {
		t.Fatalf("expected up move")
	}
	if !st.Apply(tick("BTC", "99")) || st.Snapshot()["BTC"].dir != DirDown {
		t.Fatalf("expected down move")
	}
	if st.Apply(tick("DOGE", "1")) {
		t.Fatalf("unknown asset should be ignored")
	}
}

type fakeView struct {
	change map[string]model.Change
	status map[string]market.StreamStatus
}

func (v fakeView) ChangeSince(asset string) model.Change { return v.change[asset] }

func (v fakeView) Status(asset string) (market.StreamStatus, bool) {
	s, ok := v.status[asset]
	return s, ok
}

func TestFormatterRender(t *testing.T) {
	st := NewState([]string{"BTC", "ETH"})
	st.Apply(tick("BTC", "43012.5"))

	view := fakeView{
		change: map[string]model.Change{"BTC": {Percent: decimal.RequireFromString("-0.4213")}},
		status: map[string]market.StreamStatus{"ETH": {Asset: "ETH", State: market.StateReconnecting, Attempt: 2}},
	}
	line := NewFormatter(view).Render(st, RenderSnapshot)
	for _, want := range []string{"[ASSETWATCH]", "BTC 43012.5 -0.42%", "ETH -- (reconnecting #2)"} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %q", line, want)
		}
	}

	live := NewFormatter(nil).Render(st, RenderLive)
	if !strings.HasPrefix(live, "\r") || !strings.HasSuffix(live, ansiClearEOL) {
		t.Errorf("live line not framed for redraw: %q", live)
	}
}

func TestServiceRunStreamsRecordsAndReleases(t *testing.T) {
	src := &fakeSource{handlers: map[string]port.TickHandler{}, closed: map[string]int{}}
	mux := market.NewMultiplexer(market.MultiplexerDeps{
		Source: src,
		Series: service.NewSeriesBuffer(10),
	})
	defer mux.Close()

	sink := &memSink{}
	rec := &memRecorder{}
	svc := NewService(ServiceDeps{
		Mux:         mux,
		Symbols:     []string{"BTC", "ETH"},
		RenderEvery: time.Hour,
		Sink:        sink,
		Recorder:    rec,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	waitFor(t, "subscriptions", func() bool { return src.handler("BTC") != nil && src.handler("ETH") != nil })
	src.handler("BTC").OnTick(tick("BTC", "42000"))
	src.handler("ETH").OnTick(tick("ETH", "3000"))

	waitFor(t, "recorded ticks", func() bool { return rec.len() == 2 })
	waitFor(t, "live line", func() bool {
		l := sink.lastLive()
		return strings.Contains(l, "BTC 42000") && strings.Contains(l, "ETH 3000")
	})

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}

	if src.closes("BTC") != 1 || src.closes("ETH") != 1 {
		t.Fatalf("feeds not released: BTC=%d ETH=%d", src.closes("BTC"), src.closes("ETH"))
	}
	if _, ok := mux.Status("BTC"); ok {
		t.Fatalf("BTC stream still registered after Run returned")
	}
}

func TestServiceRunRejectsInvalidSymbol(t *testing.T) {
	src := &fakeSource{handlers: map[string]port.TickHandler{}, closed: map[string]int{}}
	mux := market.NewMultiplexer(market.MultiplexerDeps{Source: src})
	defer mux.Close()

	svc := NewService(ServiceDeps{Mux: mux, Symbols: []string{"BTC", "bad symbol"}, Sink: &memSink{}})
	err := svc.Run(context.Background())
	if !errors.Is(err, model.ErrInvalidAsset) {
		t.Fatalf("Run error = %v, want ErrInvalidAsset", err)
	}
	waitFor(t, "BTC released", func() bool {
		_, ok := mux.Status("BTC")
		return !ok
	})
}

type fakeRules struct {
	mu     sync.Mutex
	assets []string
}

func (f *fakeRules) Assets() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.assets...)
}

func (f *fakeRules) set(assets ...string) {
	f.mu.Lock()
	f.assets = assets
	f.mu.Unlock()
}

func TestRuleWatcherFollowsRuleAssets(t *testing.T) {
	src := &fakeSource{handlers: map[string]port.TickHandler{}, closed: map[string]int{}}
	mux := market.NewMultiplexer(market.MultiplexerDeps{Source: src})
	defer mux.Close()

	rules := &fakeRules{}
	rules.set("SOL", "ETH")
	w := NewRuleWatcher(RuleWatcherDeps{Mux: mux, Rules: rules})

	w.Sync(context.Background())
	if got := strings.Join(w.Watching(), ","); got != "ETH,SOL" {
		t.Fatalf("watching = %s, want ETH,SOL", got)
	}
	if src.handler("SOL") == nil {
		t.Fatalf("SOL feed not opened")
	}

	w.Sync(context.Background())
	if st, _ := mux.Status("SOL"); st.Subscribers != 1 {
		t.Fatalf("repeated sync must not add subscribers, got %d", st.Subscribers)
	}

	rules.set("ETH")
	w.Sync(context.Background())
	if got := strings.Join(w.Watching(), ","); got != "ETH" {
		t.Fatalf("watching = %s, want ETH", got)
	}
	if src.closes("SOL") != 1 {
		t.Fatalf("SOL feed not released")
	}
	if _, ok := mux.Status("SOL"); ok {
		t.Fatalf("SOL stream still registered")
	}
}

type fakeTriggers struct {
	recent []model.TriggerEvent
	ch     chan model.TriggerEvent
}

func (f *fakeTriggers) Recent() []model.TriggerEvent { return f.recent }

func (f *fakeTriggers) Listen(buffer int) (<-chan model.TriggerEvent, func()) {
	return f.ch, func() {}
}

func (s *memSink) counts() (live, snaps int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live), len(s.snaps)
}

func (s *memSink) lastSnapshot() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.snaps) == 0 {
		return ""
	}
	return s.snaps[len(s.snaps)-1]
}

func TestServiceShowsRecentTriggers(t *testing.T) {
	src := &fakeSource{handlers: map[string]port.TickHandler{}, closed: map[string]int{}}
	mux := market.NewMultiplexer(market.MultiplexerDeps{Source: src})
	defer mux.Close()

	ev := model.TriggerEvent{
		RuleID:        "r1",
		Asset:         "BTC",
		Threshold:     decimal.RequireFromString("45000"),
		Comparison:    model.Above,
		ObservedPrice: decimal.RequireFromString("45010.5"),
		TriggeredAt:   time.Date(2025, 1, 2, 3, 4, 5, 0, time.Local),
	}
	triggers := &fakeTriggers{recent: []model.TriggerEvent{ev}, ch: make(chan model.TriggerEvent, 1)}
	sink := &memSink{}
	svc := NewService(ServiceDeps{
		Mux:         mux,
		Symbols:     []string{"BTC"},
		RenderEvery: 20 * time.Millisecond,
		Sink:        sink,
		Triggers:    triggers,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = svc.Run(ctx) }()

	waitFor(t, "snapshot with recent triggers", func() bool {
		return strings.Contains(sink.lastSnapshot(), "triggered 03:04:05 BTC above 45000 at 45010.5")
	})

	before, _ := sink.counts()
	triggers.ch <- ev
	waitFor(t, "live redraw after trigger", func() bool {
		live, _ := sink.counts()
		return live > before
	})
}
