package monitor

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"assetwatch/internal/application/usecase/market"
)

const (
	RulesConsumerID  = "alerts"
	DefaultSyncEvery = time.Second
)

// RuleAssets lists the assets that currently have alert rules.
type RuleAssets interface {
	Assets() []string
}

type RuleWatcherDeps struct {
	Mux       *market.Multiplexer
	Rules     RuleAssets
	SyncEvery time.Duration
}

// RuleWatcher keeps exactly one subscription open per asset that has a rule, so
// rules on assets nobody displays still see live ticks. The ticks themselves are
// discarded; evaluation happens inside the multiplexer.
type RuleWatcher struct {
	deps RuleWatcherDeps

	mu   sync.Mutex
	subs map[string]*market.Subscription
}

func NewRuleWatcher(deps RuleWatcherDeps) *RuleWatcher {
	if deps.SyncEvery <= 0 {
		deps.SyncEvery = DefaultSyncEvery
	}
	return &RuleWatcher{deps: deps, subs: make(map[string]*market.Subscription)}
}

func (w *RuleWatcher) Run(ctx context.Context) error {
	defer w.releaseAll()

	w.Sync(ctx)
	ticker := time.NewTicker(w.deps.SyncEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.Sync(ctx)
		}
	}
}

// Sync subscribes to newly ruled assets and releases assets whose last rule is gone.
func (w *RuleWatcher) Sync(ctx context.Context) {
	want := make(map[string]struct{})
	for _, a := range w.deps.Rules.Assets() {
		want[a] = struct{}{}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	for asset, sub := range w.subs {
		if _, ok := want[asset]; !ok {
			sub.Close()
			delete(w.subs, asset)
			log.Info().Str("asset", asset).Msg("rule watch released")
		}
	}
	for asset := range want {
		if _, ok := w.subs[asset]; ok {
			continue
		}
		sub, err := w.deps.Mux.Subscribe(ctx, RulesConsumerID, asset)
		if err != nil {
			log.Warn().Err(err).Str("asset", asset).Msg("rule watch subscribe failed")
			continue
		}
		w.subs[asset] = sub
		go drain(sub)
		log.Info().Str("asset", asset).Msg("rule watch subscribed")
	}
}

// Watching lists the assets currently held open, sorted.
func (w *RuleWatcher) Watching() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.subs))
	for a := range w.subs {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

func (w *RuleWatcher) releaseAll() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for asset, sub := range w.subs {
		sub.Close()
		delete(w.subs, asset)
	}
}

// drain empties the queue until the subscription is released.
func drain(sub *market.Subscription) {
	for range sub.C() {
	}
}
