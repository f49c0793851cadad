package service

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"

	"assetwatch/internal/domain/model"
)

type recordingEmitter struct {
	mu     sync.Mutex
	events []model.TriggerEvent
}

func (r *recordingEmitter) Deliver(ev model.TriggerEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recordingEmitter) count(ruleID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.RuleID == ruleID {
			n++
		}
	}
	return n
}

func price(v int64) model.Tick {
	return model.Tick{Asset: "BTC", Price: decimal.NewFromInt(v), ObservedAt: time.Now()}
}

func TestAlertEngineAboveScenario(t *testing.T) {
	em := &recordingEmitter{}
	e := NewAlertEngine(em)

	id, err := e.AddRule("BTC", model.Above, decimal.NewFromInt(50000))
	if err != nil {
		t.Fatalf("AddRule failed: %v", err)
	}

	e.OnTick(price(49000))
	if r, _ := e.Rule(id); !r.Armed() || em.count(id) != 0 {
		t.Fatalf("49000 must not fire an above-50000 rule")
	}

	fired := e.OnTick(price(50000))
	if len(fired) != 1 {
		t.Fatalf("expected 1 event, got %d", len(fired))
	}
	ev := fired[0]
	if ev.Asset != "BTC" || !ev.Threshold.Equal(decimal.NewFromInt(50000)) || !ev.ObservedPrice.Equal(decimal.NewFromInt(50000)) {
		t.Errorf("unexpected event %+v", ev)
	}
	if r, _ := e.Rule(id); r.State != model.RuleFired || r.FiredAt.IsZero() {
		t.Errorf("rule should be fired, got %+v", r)
	}

	e.OnTick(price(51000))
	if em.count(id) != 1 {
		t.Errorf("fired rule must stay silent, got %d events", em.count(id))
	}
}

func TestAlertEngineBelowAndOtherAssets(t *testing.T) {
	em := &recordingEmitter{}
	e := NewAlertEngine(em)
	id, _ := e.AddRule("BTC", model.Below, decimal.NewFromInt(100))

	e.OnTick(model.Tick{Asset: "ETH", Price: decimal.NewFromInt(1), ObservedAt: time.Now()})
	if em.count(id) != 0 {
		t.Fatalf("tick for another asset must not fire")
	}
	e.OnTick(price(100))
	if em.count(id) != 1 {
		t.Fatalf("below rule should fire at equality")
	}
}

func TestAlertEngineRejectsInvalidRules(t *testing.T) {
	e := NewAlertEngine(nil)
	if _, err := e.AddRule("", model.Above, decimal.NewFromInt(1)); !errors.Is(err, model.ErrInvalidRule) {
		t.Errorf("empty asset: expected ErrInvalidRule, got %v", err)
	}
	if _, err := e.AddRule("BTC", model.Comparison("cross"), decimal.NewFromInt(1)); !errors.Is(err, model.ErrInvalidRule) {
		t.Errorf("bad comparison: expected ErrInvalidRule, got %v", err)
	}
	if _, err := e.AddRule("BTC", model.Above, decimal.NewFromInt(-1)); !errors.Is(err, model.ErrInvalidRule) {
		t.Errorf("negative threshold: expected ErrInvalidRule, got %v", err)
	}
}

func TestAlertEngineRemoveIsIdempotent(t *testing.T) {
	em := &recordingEmitter{}
	e := NewAlertEngine(em)
	id, _ := e.AddRule("BTC", model.Above, decimal.NewFromInt(10))

	e.RemoveRule(id)
	e.RemoveRule(id)
	e.RemoveRule("does-not-exist")

	e.OnTick(price(20))
	if em.count(id) != 0 || len(e.Rules()) != 0 {
		t.Errorf("removed rule must not fire or be listed")
	}
	if len(e.Assets()) != 0 {
		t.Errorf("asset index should be empty, got %v", e.Assets())
	}
}

func TestAlertEngineReAddCreatesFreshRule(t *testing.T) {
	em := &recordingEmitter{}
	e := NewAlertEngine(em)
	first, _ := e.AddRule("BTC", model.Above, decimal.NewFromInt(10))
	e.OnTick(price(20))
	e.RemoveRule(first)

	second, _ := e.AddRule("BTC", model.Above, decimal.NewFromInt(10))
	if first == second {
		t.Fatalf("re-added rule must get a new identity")
	}
	e.OnTick(price(20))
	if em.count(first) != 1 || em.count(second) != 1 {
		t.Errorf("expected one event per identity, got %d/%d", em.count(first), em.count(second))
	}
}

func TestAlertEngineRearm(t *testing.T) {
	em := &recordingEmitter{}
	e := NewAlertEngine(em)
	id, _ := e.AddRule("BTC", model.Above, decimal.NewFromInt(10))
	e.OnTick(price(20))

	if err := e.Rearm(id); err != nil {
		t.Fatalf("Rearm failed: %v", err)
	}
	e.OnTick(price(21))
	if em.count(id) != 2 {
		t.Errorf("expected second firing after explicit re-arm, got %d", em.count(id))
	}
	if err := e.Rearm("missing"); !errors.Is(err, model.ErrRuleNotFound) {
		t.Errorf("expected ErrRuleNotFound, got %v", err)
	}
}

func TestAlertEngineRulesCreationOrder(t *testing.T) {
	n := 0
	e := NewAlertEngine(nil, WithIDGenerator(func() string { n++; return fmt.Sprintf("r%d", n) }))
	for i := 0; i < 5; i++ {
		_, _ = e.AddRule("BTC", model.Above, decimal.NewFromInt(int64(i)))
	}
	rules := e.Rules()
	for i, r := range rules {
		if r.ID != fmt.Sprintf("r%d", i+1) {
			t.Fatalf("rules out of creation order: %v", rules)
		}
	}
}

func TestAlertEngineConcurrentTicksFireOnce(t *testing.T) {
	var delivered int64
	em := emitterFunc(func(model.TriggerEvent) { atomic.AddInt64(&delivered, 1) })
	e := NewAlertEngine(em)
	_, _ = e.AddRule("BTC", model.Above, decimal.NewFromInt(100))

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(p int64) {
			defer wg.Done()
			<-start
			e.OnTick(price(p))
		}(int64(100 + i))
	}
	close(start)
	wg.Wait()

	if delivered != 1 {
		t.Fatalf("expected exactly one trigger under racing ticks, got %d", delivered)
	}
}

type emitterFunc func(model.TriggerEvent)

func (f emitterFunc) Deliver(ev model.TriggerEvent) { f(ev) }

func TestProperty_AtMostOneTriggerPerRule(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("each rule fires at most once per arming", prop.ForAll(
		func(prices []int64, threshold int64, above bool) bool {
			em := &recordingEmitter{}
			e := NewAlertEngine(em)
			cmp := model.Below
			if above {
				cmp = model.Above
			}
			id, err := e.AddRule("BTC", cmp, decimal.NewFromInt(threshold))
			if err != nil {
				return false
			}
			shouldFire := false
			for _, p := range prices {
				e.OnTick(price(p))
				if cmp.Matches(decimal.NewFromInt(p), decimal.NewFromInt(threshold)) {
					shouldFire = true
				}
			}
			n := em.count(id)
			if shouldFire {
				return n == 1
			}
			return n == 0
		},
		gen.SliceOf(gen.Int64Range(0, 1000)),
		gen.Int64Range(0, 1000),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
