package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"assetwatch/internal/application/port"
	"assetwatch/internal/application/usecase/market"
	"assetwatch/internal/domain/model"
)

const (
	ConsumerID           = "monitor"
	DefaultRenderEvery   = 5 * time.Second
	defaultRecordTimeout = 2 * time.Second
)

type ServiceDeps struct {
	Mux         *market.Multiplexer
	Symbols     []string
	RenderEvery time.Duration
	Sink        port.Sink
	Recorder    port.PriceRecorder // optional: persists every live tick
	Triggers    TriggerFeed        // optional: recently triggered list and live trigger events
}

// TriggerFeed is the presentation side of the notification service.
type TriggerFeed interface {
	Recent() []model.TriggerEvent
	Listen(buffer int) (<-chan model.TriggerEvent, func())
}

// Service is the host-side consumer: it keeps one subscription per configured
// asset, redraws the live line on every price change, prints a snapshot line on
// a fixed interval and records ticks.
type Service struct {
	deps ServiceDeps
	st   *State
	fmt  *Formatter
}

func NewService(deps ServiceDeps) *Service {
	if deps.RenderEvery <= 0 {
		deps.RenderEvery = DefaultRenderEvery
	}
	var view MarketView
	if deps.Mux != nil {
		view = deps.Mux
	}
	return &Service{
		deps: deps,
		st:   NewState(deps.Symbols),
		fmt:  NewFormatter(view),
	}
}

func (s *Service) Run(ctx context.Context) error {
	if s.deps.Mux == nil {
		return errors.New("no multiplexer")
	}
	if len(s.deps.Symbols) == 0 {
		return errors.New("no symbols")
	}

	subs, err := s.subscribeAll(ctx)
	if err != nil {
		return err
	}
	defer func() {
		for _, sub := range subs {
			sub.Close()
		}
	}()

	merged := make(chan model.Tick, 1024)
	for _, sub := range subs {
		go forward(ctx, sub, merged)
		log.Info().Str("asset", sub.Asset()).Msg("monitor subscribed")
	}

	var triggers <-chan model.TriggerEvent
	if s.deps.Triggers != nil {
		ch, stop := s.deps.Triggers.Listen(0)
		defer stop()
		triggers = ch
	}

	snapTicker := time.NewTicker(s.deps.RenderEvery)
	defer snapTicker.Stop()

	s.writeLive()

	for {
		select {
		case <-ctx.Done():
			if s.deps.Sink != nil {
				_ = s.deps.Sink.NewLine()
			}
			return ctx.Err()

		case now := <-snapTicker.C:
			if s.deps.Sink != nil {
				line := s.fmt.Render(s.st, RenderSnapshot)
				if s.deps.Triggers != nil {
					line += s.fmt.RenderRecent(s.deps.Triggers.Recent())
				}
				_ = s.deps.Sink.WriteSnapshot(now, line)
			}

		case _, ok := <-triggers:
			if !ok {
				triggers = nil
				continue
			}
			// the notifier printed over the live line
			s.writeLive()

		case t := <-merged:
			if s.st.Apply(t) {
				s.writeLive()
			}
			s.record(ctx, t)
		}
	}
}

// subscribeAll opens every asset in parallel; on any failure the ones that
// succeeded are released again.
func (s *Service) subscribeAll(ctx context.Context) ([]*market.Subscription, error) {
	subs := make([]*market.Subscription, len(s.deps.Symbols))
	g, gctx := errgroup.WithContext(ctx)
	for i, asset := range s.deps.Symbols {
		i, asset := i, asset
		g.Go(func() error {
			sub, err := s.deps.Mux.Subscribe(gctx, ConsumerID, asset)
			if err != nil {
				return fmt.Errorf("subscribe %s: %w", asset, err)
			}
			subs[i] = sub
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, sub := range subs {
			if sub != nil {
				sub.Close()
			}
		}
		return nil, err
	}
	return subs, nil
}

func forward(ctx context.Context, sub *market.Subscription, out chan<- model.Tick) {
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-sub.C():
			if !ok {
				return
			}
			select {
			case out <- t:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *Service) writeLive() {
	if s.deps.Sink == nil {
		return
	}
	_ = s.deps.Sink.WriteLive(s.fmt.Render(s.st, RenderLive))
}

func (s *Service) record(ctx context.Context, t model.Tick) {
	if s.deps.Recorder == nil {
		return
	}
	rctx, cancel := context.WithTimeout(ctx, defaultRecordTimeout)
	defer cancel()
	if err := s.deps.Recorder.RecordPrice(rctx, t); err != nil {
		log.Warn().Err(err).Str("asset", t.Asset).Msg("record price failed")
	}
}
