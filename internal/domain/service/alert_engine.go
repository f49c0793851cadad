package service

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"assetwatch/internal/domain/model"
)

// TriggerEmitter receives trigger events. Deliver is called while the firing rule
// is still locked, so implementations must not block.
type TriggerEmitter interface {
	Deliver(ev model.TriggerEvent)
}

// AlertEngine evaluates armed rules against incoming ticks.
//
// The rule index is guarded by mu; each rule's Armed -> Fired transition is guarded by
// its own mutex so ticks for unrelated assets never contend on a shared lock.
type AlertEngine struct {
	mu      sync.RWMutex
	byID    map[string]*ruleEntry
	byAsset map[string][]*ruleEntry // creation order
	seq     uint64

	emitter TriggerEmitter
	now     func() time.Time
	newID   func() string
}

type ruleEntry struct {
	mu      sync.Mutex
	seq     uint64
	rule    model.AlertRule
	removed bool
}

// AlertEngineOption configures an AlertEngine.
type AlertEngineOption func(*AlertEngine)

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) AlertEngineOption {
	return func(e *AlertEngine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithIDGenerator overrides uuid rule ids (tests).
func WithIDGenerator(gen func() string) AlertEngineOption {
	return func(e *AlertEngine) {
		if gen != nil {
			e.newID = gen
		}
	}
}

// NewAlertEngine creates an engine emitting to emitter (may be nil and set later).
func NewAlertEngine(emitter TriggerEmitter, opts ...AlertEngineOption) *AlertEngine {
	e := &AlertEngine{
		byID:    make(map[string]*ruleEntry),
		byAsset: make(map[string][]*ruleEntry),
		emitter: emitter,
		now:     time.Now,
		newID:   func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetEmitter wires the emitter after construction. Call before ticks flow.
func (e *AlertEngine) SetEmitter(emitter TriggerEmitter) {
	e.mu.Lock()
	e.emitter = emitter
	e.mu.Unlock()
}

// AddRule creates a fresh armed rule and returns its id.
func (e *AlertEngine) AddRule(asset string, cmp model.Comparison, threshold decimal.Decimal) (string, error) {
	if err := model.ValidateAsset(asset); err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrInvalidRule, err)
	}
	if cmp != model.Above && cmp != model.Below {
		return "", fmt.Errorf("%w: unknown comparison %q", model.ErrInvalidRule, cmp)
	}
	if threshold.IsNegative() {
		return "", fmt.Errorf("%w: negative threshold %s", model.ErrInvalidRule, threshold)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.seq++
	entry := &ruleEntry{
		seq: e.seq,
		rule: model.AlertRule{
			ID:         e.newID(),
			Asset:      asset,
			Comparison: cmp,
			Threshold:  threshold,
			State:      model.RuleArmed,
			CreatedAt:  e.now(),
		},
	}
	e.byID[entry.rule.ID] = entry
	e.byAsset[asset] = append(e.byAsset[asset], entry)
	return entry.rule.ID, nil
}

// RemoveRule deletes a rule in any state. Unknown ids are a no-op.
func (e *AlertEngine) RemoveRule(id string) {
	e.mu.Lock()
	entry, ok := e.byID[id]
	if !ok {
		e.mu.Unlock()
		return
	}
	delete(e.byID, id)
	asset := entry.rule.Asset
	list := e.byAsset[asset]
	for i, x := range list {
		if x == entry {
			list = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(e.byAsset, asset)
	} else {
		e.byAsset[asset] = list
	}
	e.mu.Unlock()

	// an in-flight OnTick holding a copy of the entry must see it as gone
	entry.mu.Lock()
	entry.removed = true
	entry.mu.Unlock()
}

// Rearm puts a fired rule back into the armed state. Only the user does this.
func (e *AlertEngine) Rearm(id string) error {
	e.mu.RLock()
	entry, ok := e.byID[id]
	e.mu.RUnlock()
	if !ok {
		return model.ErrRuleNotFound
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.removed {
		return model.ErrRuleNotFound
	}
	entry.rule.State = model.RuleArmed
	entry.rule.FiredAt = time.Time{}
	return nil
}

// OnTick evaluates every armed rule for t.Asset and returns the events it fired.
func (e *AlertEngine) OnTick(t model.Tick) []model.TriggerEvent {
	e.mu.RLock()
	entries := append([]*ruleEntry(nil), e.byAsset[t.Asset]...)
	emitter := e.emitter
	e.mu.RUnlock()

	var fired []model.TriggerEvent
	for _, entry := range entries {
		if ev, ok := entry.evaluate(t, e.now, emitter); ok {
			fired = append(fired, ev)
		}
	}
	return fired
}

// evaluate performs the check-and-fire under the rule's lock so two racing
// qualifying ticks can never both fire it.
func (r *ruleEntry) evaluate(t model.Tick, now func() time.Time, emitter TriggerEmitter) (model.TriggerEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.removed || r.rule.State != model.RuleArmed {
		return model.TriggerEvent{}, false
	}
	if !r.rule.Comparison.Matches(t.Price, r.rule.Threshold) {
		return model.TriggerEvent{}, false
	}

	ts := now()
	r.rule.State = model.RuleFired
	r.rule.FiredAt = ts
	ev := model.TriggerEvent{
		RuleID:        r.rule.ID,
		Asset:         r.rule.Asset,
		Threshold:     r.rule.Threshold,
		Comparison:    r.rule.Comparison,
		ObservedPrice: t.Price,
		TriggeredAt:   ts,
	}
	if emitter != nil {
		emitter.Deliver(ev)
	}
	return ev, true
}

// Rule returns a snapshot of one rule.
func (e *AlertEngine) Rule(id string) (model.AlertRule, bool) {
	e.mu.RLock()
	entry, ok := e.byID[id]
	e.mu.RUnlock()
	if !ok {
		return model.AlertRule{}, false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.rule, true
}

// Rules returns snapshots of every rule in creation order.
func (e *AlertEngine) Rules() []model.AlertRule {
	e.mu.RLock()
	entries := make([]*ruleEntry, 0, len(e.byID))
	for _, entry := range e.byID {
		entries = append(entries, entry)
	}
	e.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	out := make([]model.AlertRule, 0, len(entries))
	for _, entry := range entries {
		entry.mu.Lock()
		out = append(out, entry.rule)
		entry.mu.Unlock()
	}
	return out
}

// Assets lists assets that have at least one rule, armed or fired.
func (e *AlertEngine) Assets() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.byAsset))
	for a := range e.byAsset {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}
