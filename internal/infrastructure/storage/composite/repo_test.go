package composite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"assetwatch/internal/application/port"
	"assetwatch/internal/domain/model"
)

type fakeStore struct {
	ticks    []model.Tick
	err      error
	recorded []model.Tick
	calls    int
}

func (f *fakeStore) History(ctx context.Context, asset string, lookback time.Duration) ([]model.Tick, error) {
	f.calls++
	return f.ticks, f.err
}

func (f *fakeStore) RecordPrice(ctx context.Context, t model.Tick) error {
	f.recorded = append(f.recorded, t)
	return f.err
}

func TestCompositeHistoryFallback(t *testing.T) {
	down := &fakeStore{err: errors.New("connection refused")}
	up := &fakeStore{ticks: []model.Tick{{Asset: "BTC", Price: decimal.NewFromInt(1), ObservedAt: time.Now()}}}
	never := &fakeStore{}

	repo := New(nil, []port.HistoryProvider{nil, down, up, never})
	got, err := repo.History(context.Background(), "BTC", time.Hour)
	if err != nil || len(got) != 1 {
		t.Fatalf("expected fallback result, got %v (%v)", got, err)
	}
	if never.calls != 0 {
		t.Errorf("providers after the first success must not be queried")
	}

	allDown := New(nil, []port.HistoryProvider{down})
	if _, err := allDown.History(context.Background(), "BTC", time.Hour); err == nil {
		t.Errorf("expected error when every provider fails")
	}
	if _, err := New(nil, nil).History(context.Background(), "BTC", time.Hour); !errors.Is(err, ErrNoHistory) {
		t.Errorf("expected ErrNoHistory, got %v", err)
	}
}

func TestCompositeRecordFansOut(t *testing.T) {
	bad := &fakeStore{err: errors.New("disk full")}
	good := &fakeStore{}
	repo := New([]port.PriceRecorder{bad, good}, nil)
	if !repo.HasRecorders() || New([]port.PriceRecorder{nil}, nil).HasRecorders() {
		t.Fatalf("HasRecorders mismatch")
	}

	err := repo.RecordPrice(context.Background(), model.Tick{Asset: "ETH", Price: decimal.NewFromInt(2), ObservedAt: time.Now()})
	if err == nil {
		t.Errorf("expected first error to be returned")
	}
	if len(good.recorded) != 1 {
		t.Errorf("a failing recorder must not stop the others")
	}
}
