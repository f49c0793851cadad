package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"assetwatch/internal/application/port"
	"assetwatch/internal/domain/model"
	"assetwatch/internal/metrics"
)

const (
	DefaultNotifyQueueSize = 256
	DefaultNotifyTimeout   = 5 * time.Second
	RecentLimit            = 10
)

type NotificationConfig struct {
	QueueSize int
	Timeout   time.Duration // per channel call
}

type NotificationDeps struct {
	Permission port.PermissionSource
	Notifiers  []port.UserNotifier
	Publishers []port.EventPublisher
	Config     NotificationConfig
}

// NotificationService is the alert engine's TriggerEmitter. Deliver only enqueues;
// Run drains the queue and fans events out to listeners, the recent list, user
// notifiers (permission gated) and publishers. Channel failures never propagate.
type NotificationService struct {
	perm       port.PermissionSource
	notifiers  []port.UserNotifier
	publishers []port.EventPublisher
	timeout    time.Duration

	queue chan model.TriggerEvent

	mu           sync.Mutex
	listeners    map[uint64]chan model.TriggerEvent
	nextListener uint64
	recent       []model.TriggerEvent // newest first
}

func NewNotificationService(deps NotificationDeps) *NotificationService {
	size := deps.Config.QueueSize
	if size <= 0 {
		size = DefaultNotifyQueueSize
	}
	timeout := deps.Config.Timeout
	if timeout <= 0 {
		timeout = DefaultNotifyTimeout
	}
	return &NotificationService{
		perm:       deps.Permission,
		notifiers:  deps.Notifiers,
		publishers: deps.Publishers,
		timeout:    timeout,
		queue:      make(chan model.TriggerEvent, size),
		listeners:  make(map[uint64]chan model.TriggerEvent),
	}
}

// Deliver enqueues ev without blocking. When the queue is full the oldest pending
// event is discarded.
func (s *NotificationService) Deliver(ev model.TriggerEvent) {
	metrics.TriggersTotal.WithLabelValues(ev.Asset, string(ev.Comparison)).Inc()
	for {
		select {
		case s.queue <- ev:
			return
		default:
		}
		select {
		case old := <-s.queue:
			metrics.DroppedNotifications.Inc()
			log.Warn().Str("rule", old.RuleID).Str("asset", old.Asset).Msg("notification queue full, dropped oldest")
		default:
		}
	}
}

// Run processes queued events until ctx is cancelled.
func (s *NotificationService) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-s.queue:
			s.dispatch(ctx, ev)
		}
	}
}

func (s *NotificationService) dispatch(ctx context.Context, ev model.TriggerEvent) {
	s.record(ev)

	log.Info().
		Str("rule", ev.RuleID).
		Str("asset", ev.Asset).
		Str("comparison", string(ev.Comparison)).
		Str("threshold", ev.Threshold.String()).
		Str("price", ev.ObservedPrice.String()).
		Msg("alert triggered")

	if len(s.notifiers) > 0 {
		perm := s.permission(ctx)
		if perm == model.PermissionGranted {
			for _, n := range s.notifiers {
				s.safeCall(ctx, n.Name(), func(cctx context.Context) error { return n.Notify(cctx, ev) })
			}
		} else {
			log.Debug().
				Err(model.ErrNotificationUnavailable).
				Str("permission", string(perm)).
				Str("rule", ev.RuleID).
				Msg("user notification skipped")
		}
	}

	for _, p := range s.publishers {
		s.safeCall(ctx, p.Name(), func(cctx context.Context) error { return p.PublishTrigger(cctx, ev) })
	}
}

func (s *NotificationService) record(ev model.TriggerEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.recent = append([]model.TriggerEvent{ev}, s.recent...)
	if len(s.recent) > RecentLimit {
		s.recent = s.recent[:RecentLimit]
	}

	for _, ch := range s.listeners {
		pushDropOldest(ch, ev)
	}
}

func pushDropOldest(ch chan model.TriggerEvent, ev model.TriggerEvent) {
	for {
		select {
		case ch <- ev:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func (s *NotificationService) safeCall(ctx context.Context, channel string, fn func(context.Context) error) {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return fn(cctx)
	}()
	if err != nil {
		metrics.NotificationFailures.WithLabelValues(channel).Inc()
		log.Error().Err(err).Str("channel", channel).Msg("notification delivery failed")
	}
}

func (s *NotificationService) permission(ctx context.Context) model.Permission {
	if s.perm == nil {
		return model.PermissionUndetermined
	}
	return s.perm.NotificationPermission(ctx)
}

// ========== Presentation queries ==========

// Listen returns a stream of trigger events. Slow listeners lose their oldest
// events. The returned func unregisters and closes the channel.
func (s *NotificationService) Listen(buffer int) (<-chan model.TriggerEvent, func()) {
	if buffer <= 0 {
		buffer = RecentLimit
	}
	ch := make(chan model.TriggerEvent, buffer)

	s.mu.Lock()
	s.nextListener++
	id := s.nextListener
	s.listeners[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
			close(ch)
		})
	}
}

// Recent returns up to RecentLimit triggered events, newest first.
func (s *NotificationService) Recent() []model.TriggerEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.TriggerEvent, len(s.recent))
	copy(out, s.recent)
	return out
}

func (s *NotificationService) ClearRecent() {
	s.mu.Lock()
	s.recent = nil
	s.mu.Unlock()
}

// RequestPermission asks the host to prompt the user. Sources that cannot prompt
// just report their current value.
func (s *NotificationService) RequestPermission(ctx context.Context) (model.Permission, error) {
	if s.perm == nil {
		return model.PermissionDenied, model.ErrNotificationUnavailable
	}
	if r, ok := s.perm.(port.PermissionRequester); ok {
		return r.RequestNotificationPermission(ctx)
	}
	return s.perm.NotificationPermission(ctx), nil
}
