package monitor

import (
	"sync"

	"github.com/shopspring/decimal"

	"assetwatch/internal/domain/model"
)

type Dir int

const (
	DirSame Dir = 0
	DirUp   Dir = +1
	DirDown Dir = -1
)

type pxState struct {
	price decimal.Decimal
	has   bool
	dir   Dir
}

// State tracks the last displayed price per asset, in display order.
type State struct {
	mu sync.Mutex

	order []string
	syms  map[string]*pxState
}

func NewState(assets []string) *State {
	order := make([]string, 0, len(assets))
	syms := make(map[string]*pxState, len(assets))
	for _, a := range assets {
		if a == "" {
			continue
		}
		if _, ok := syms[a]; ok {
			continue
		}
		order = append(order, a)
		syms[a] = &pxState{}
	}
	return &State{order: order, syms: syms}
}

func (s *State) Symbols() []string {
	return s.order
}

// Apply records t and reports whether the displayed price changed.
// Ticks for assets that are not being displayed are ignored.
func (s *State) Apply(t model.Tick) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	ps := s.syms[t.Asset]
	if ps == nil {
		return false
	}
	if !ps.has {
		ps.has = true
		ps.price = t.Price
		ps.dir = DirSame
		return true
	}

	switch ps.price.Cmp(t.Price) {
	case 0:
		return false
	case -1:
		ps.dir = DirUp
	default:
		ps.dir = DirDown
	}
	ps.price = t.Price
	return true
}

func (s *State) Snapshot() map[string]pxState {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]pxState, len(s.syms))
	for k, v := range s.syms {
		out[k] = *v
	}
	return out
}
