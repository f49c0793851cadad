package market

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"assetwatch/internal/application/port"
	"assetwatch/internal/domain/model"
	"assetwatch/internal/domain/service"
	"assetwatch/internal/metrics"
)

const (
	DefaultOpenTimeout     = 5 * time.Second
	DefaultHistoryLookback = time.Hour
)

// Config tunes the multiplexer; zero values fall back to defaults.
type Config struct {
	QueueSize       int
	OpenTimeout     time.Duration
	HistoryLookback time.Duration
	Retry           RetryConfig
}

// MultiplexerDeps are the collaborators wired in by the service context.
type MultiplexerDeps struct {
	Source  port.TickSource
	History port.HistoryProvider // optional
	Series  *service.SeriesBuffer
	Alerts  *service.AlertEngine // optional
	Config  Config

	// AfterFunc schedules reconnect attempts. Defaults to time.AfterFunc.
	AfterFunc func(d time.Duration, f func()) *time.Timer
}

// Multiplexer shares one upstream feed per asset among any number of consumers.
//
// The streams map lock only guards lookup, insert and delete. Everything about a
// single asset (subscribers, adapter handle, retry timer) is guarded by that
// asset's own lock, so opening a slow feed never stalls other assets.
type Multiplexer struct {
	source    port.TickSource
	history   port.HistoryProvider
	series    *service.SeriesBuffer
	alerts    *service.AlertEngine
	cfg       Config
	afterFunc func(time.Duration, func()) *time.Timer

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	streams map[string]*assetStream
	closed  bool

	nextSubID atomic.Uint64
}

type assetStream struct {
	asset string

	mu        sync.Mutex
	subs      map[uint64]*Subscription
	handle    port.FeedHandle
	gen       uint64 // bumped per open attempt and on teardown
	retry     *time.Timer
	retrySeq  uint64
	attempt   int
	state     State
	lastErr   error
	nextRetry time.Time
	seeded    bool
	closed    bool
}

func NewMultiplexer(deps MultiplexerDeps) *Multiplexer {
	cfg := deps.Config
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = DefaultOpenTimeout
	}
	if cfg.HistoryLookback <= 0 {
		cfg.HistoryLookback = DefaultHistoryLookback
	}
	cfg.Retry = cfg.Retry.withDefaults()

	series := deps.Series
	if series == nil {
		series = service.NewSeriesBuffer(service.DefaultSeriesCapacity)
	}
	afterFunc := deps.AfterFunc
	if afterFunc == nil {
		afterFunc = time.AfterFunc
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Multiplexer{
		source:    deps.Source,
		history:   deps.History,
		series:    series,
		alerts:    deps.Alerts,
		cfg:       cfg,
		afterFunc: afterFunc,
		ctx:       ctx,
		cancel:    cancel,
		streams:   make(map[string]*assetStream),
	}
}

// ========== Subscribe / Unsubscribe ==========

// Subscribe registers consumerID on asset. The first subscriber seeds the window
// from history and opens the upstream feed; an open failure does not fail the
// subscription, the stream just starts out reconnecting.
func (m *Multiplexer) Subscribe(ctx context.Context, consumerID, asset string) (*Subscription, error) {
	if err := model.ValidateAsset(asset); err != nil {
		return nil, err
	}

	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return nil, model.ErrMultiplexerClosed
		}
		st := m.streams[asset]
		if st == nil {
			st = &assetStream{
				asset: asset,
				subs:  make(map[uint64]*Subscription),
				state: StateClosed,
			}
			m.streams[asset] = st
		}
		m.mu.Unlock()

		st.mu.Lock()
		if st.closed {
			// lost a race with the last unsubscribe; start over with a fresh stream
			st.mu.Unlock()
			m.forget(st)
			continue
		}

		sub := &Subscription{
			id:         m.nextSubID.Add(1),
			consumerID: consumerID,
			asset:      asset,
			ch:         make(chan model.Tick, m.cfg.QueueSize),
			stream:     st,
			mux:        m,
		}
		st.subs[sub.id] = sub

		if st.handle == nil && st.retry == nil {
			// seed and open share one deadline
			octx, cancel := context.WithTimeout(ctx, m.cfg.OpenTimeout)
			if !st.seeded {
				m.seedLocked(octx, st)
				st.seeded = true
			}
			m.openLocked(octx, st)
			cancel()
		}
		st.mu.Unlock()

		log.Debug().Str("asset", asset).Str("consumer", consumerID).Msg("subscribed")
		return sub, nil
	}
}

// Unsubscribe releases sub. Releasing the last subscriber of an asset cancels any
// pending retry, closes the feed and drops the window. Safe to call repeatedly.
func (m *Multiplexer) Unsubscribe(sub *Subscription) {
	if sub == nil || sub.stream == nil {
		return
	}
	st := sub.stream

	st.mu.Lock()
	if _, ok := st.subs[sub.id]; !ok {
		st.mu.Unlock()
		return
	}
	delete(st.subs, sub.id)
	close(sub.ch)
	last := len(st.subs) == 0 && !st.closed
	if last {
		m.teardownLocked(st)
	}
	st.mu.Unlock()

	if last {
		m.forget(st)
	}
	log.Debug().Str("asset", sub.asset).Str("consumer", sub.consumerID).Msg("unsubscribed")
}

// Close tears down every stream. Later Subscribe calls return ErrMultiplexerClosed.
func (m *Multiplexer) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	streams := make([]*assetStream, 0, len(m.streams))
	for _, st := range m.streams {
		streams = append(streams, st)
	}
	m.streams = make(map[string]*assetStream)
	m.mu.Unlock()

	m.cancel()
	for _, st := range streams {
		st.mu.Lock()
		for id, sub := range st.subs {
			delete(st.subs, id)
			close(sub.ch)
		}
		if !st.closed {
			m.teardownLocked(st)
		}
		st.mu.Unlock()
	}
}

func (m *Multiplexer) forget(st *assetStream) {
	m.mu.Lock()
	if m.streams[st.asset] == st {
		delete(m.streams, st.asset)
	}
	m.mu.Unlock()
}

// ========== Stream lifecycle (st.mu held) ==========

func (m *Multiplexer) seedLocked(ctx context.Context, st *assetStream) {
	if m.history == nil {
		return
	}
	ticks, err := m.history.History(ctx, st.asset, m.cfg.HistoryLookback)
	if err != nil {
		log.Warn().Err(err).Str("asset", st.asset).Msg("history seed failed, starting with empty window")
		return
	}
	m.series.Seed(st.asset, ticks)
	log.Debug().Str("asset", st.asset).Int("samples", m.series.Len(st.asset)).Msg("window seeded")
}

func (m *Multiplexer) openLocked(ctx context.Context, st *assetStream) {
	st.gen++
	h := &streamHandler{m: m, st: st, gen: st.gen}

	octx, cancel := context.WithTimeout(ctx, m.cfg.OpenTimeout)
	handle, err := m.source.Open(octx, st.asset, h)
	cancel()

	if err != nil {
		var te *model.TransportError
		if !errors.As(err, &te) {
			err = model.NewTransportError(m.source.Name(), st.asset, "open", err)
		}
		st.lastErr = err
		m.scheduleRetryLocked(st)
		return
	}

	prev := st.state
	st.handle = handle
	st.state = StateConnected
	st.attempt = 0
	st.lastErr = nil
	st.nextRetry = time.Time{}
	if prev != StateConnected {
		log.Info().Str("asset", st.asset).Str("source", m.source.Name()).Msg("stream connected")
	}
}

func (m *Multiplexer) scheduleRetryLocked(st *assetStream) {
	st.attempt++
	delay := m.cfg.Retry.Delay(st.attempt)
	st.state = StateReconnecting
	st.nextRetry = time.Now().Add(delay)
	st.retrySeq++
	seq := st.retrySeq
	st.retry = m.afterFunc(delay, func() { m.reconnect(st, seq) })

	metrics.Reconnects.WithLabelValues(st.asset).Inc()
	log.Warn().
		Err(st.lastErr).
		Str("asset", st.asset).
		Int("attempt", st.attempt).
		Dur("delay", delay).
		Msg("stream disconnected, retrying")
}

func (m *Multiplexer) reconnect(st *assetStream, seq uint64) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.closed || seq != st.retrySeq || st.handle != nil {
		return
	}
	st.retry = nil
	m.openLocked(m.ctx, st)
}

func (m *Multiplexer) teardownLocked(st *assetStream) {
	st.closed = true
	st.state = StateClosed
	st.gen++
	st.retrySeq++
	if st.retry != nil {
		st.retry.Stop()
		st.retry = nil
	}
	if st.handle != nil {
		if err := st.handle.Close(); err != nil {
			log.Debug().Err(err).Str("asset", st.asset).Msg("close feed")
		}
		st.handle = nil
	}
	m.series.Drop(st.asset)
	log.Info().Str("asset", st.asset).Msg("stream closed")
}

// ========== Ingestion ==========

// streamHandler binds adapter callbacks to one open attempt so that a replaced
// adapter can never feed or disturb its successor.
type streamHandler struct {
	m   *Multiplexer
	st  *assetStream
	gen uint64
}

func (h *streamHandler) OnTick(t model.Tick) {
	st := h.st
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.closed || h.gen != st.gen {
		return
	}
	if t.Asset != st.asset {
		metrics.MalformedMessages.WithLabelValues(h.m.source.Name(), st.asset).Inc()
		return
	}

	metrics.TicksTotal.WithLabelValues(st.asset).Inc()
	h.m.series.Append(st.asset, t)
	if h.m.alerts != nil {
		h.m.alerts.OnTick(t)
	}
	for _, sub := range st.subs {
		sub.push(t)
	}
}

func (h *streamHandler) OnDisconnect(asset string, err error) {
	st := h.st
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.closed || h.gen != st.gen || st.handle == nil {
		return
	}
	if err == nil {
		err = errors.New("stream ended")
	}
	_ = st.handle.Close()
	st.handle = nil
	st.lastErr = model.NewTransportError(h.m.source.Name(), asset, "read", err)
	h.m.scheduleRetryLocked(st)
}

// ========== Queries ==========

// Status reports the connection state of asset. The bool is false when nobody is
// subscribed to it.
func (m *Multiplexer) Status(asset string) (StreamStatus, bool) {
	m.mu.Lock()
	st := m.streams[asset]
	m.mu.Unlock()
	if st == nil {
		return StreamStatus{Asset: asset, State: StateClosed}, false
	}
	return st.status(), true
}

// Statuses lists every active stream ordered by asset.
func (m *Multiplexer) Statuses() []StreamStatus {
	m.mu.Lock()
	streams := make([]*assetStream, 0, len(m.streams))
	for _, st := range m.streams {
		streams = append(streams, st)
	}
	m.mu.Unlock()

	out := make([]StreamStatus, 0, len(streams))
	for _, st := range streams {
		out = append(out, st.status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out
}

func (st *assetStream) status() StreamStatus {
	st.mu.Lock()
	defer st.mu.Unlock()
	s := StreamStatus{
		Asset:       st.asset,
		State:       st.state,
		Subscribers: len(st.subs),
		Attempt:     st.attempt,
		NextRetryAt: st.nextRetry,
	}
	if st.lastErr != nil {
		s.LastError = st.lastErr.Error()
	}
	return s
}

func (m *Multiplexer) Snapshot(asset string) []model.Tick { return m.series.Snapshot(asset) }

func (m *Multiplexer) ChangeSince(asset string) model.Change { return m.series.ChangeSince(asset) }

func (m *Multiplexer) Latest(asset string) (model.Tick, bool) { return m.series.Latest(asset) }
