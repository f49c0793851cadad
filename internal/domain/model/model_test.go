package model

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestComparisonMatchesInclusive(t *testing.T) {
	th := decimal.NewFromInt(50000)
	cases := []struct {
		cmp   Comparison
		price int64
		want  bool
	}{
		{Above, 49000, false},
		{Above, 50000, true},
		{Above, 51000, true},
		{Below, 51000, false},
		{Below, 50000, true},
		{Below, 10, true},
		{Comparison("sideways"), 50000, false},
	}
	for _, c := range cases {
		if got := c.cmp.Matches(decimal.NewFromInt(c.price), th); got != c.want {
			t.Errorf("%s %d vs 50000: expected %v, got %v", c.cmp, c.price, c.want, got)
		}
	}
}

func TestParseComparison(t *testing.T) {
	if c, err := ParseComparison(" ABOVE "); err != nil || c != Above {
		t.Fatalf("expected above, got %q err=%v", c, err)
	}
	if c, err := ParseComparison("below"); err != nil || c != Below {
		t.Fatalf("expected below, got %q err=%v", c, err)
	}
	if _, err := ParseComparison("cross"); !errors.Is(err, ErrInvalidRule) {
		t.Fatalf("expected ErrInvalidRule, got %v", err)
	}
}

func TestValidateAsset(t *testing.T) {
	for _, ok := range []string{"BTC", "eth", "BRK.B", "SOL-PERP", "X_1"} {
		if err := ValidateAsset(ok); err != nil {
			t.Errorf("%q should be valid: %v", ok, err)
		}
	}
	for _, bad := range []string{"", " BTC", "BTC/USDT", "A VERY LONG NAME", "ABCDEFGHIJKLMNOPQ"} {
		if err := ValidateAsset(bad); !errors.Is(err, ErrInvalidAsset) {
			t.Errorf("%q should be rejected, got %v", bad, err)
		}
	}
}

func TestNewTickRejectsNegativePrice(t *testing.T) {
	if _, err := NewTick("BTC", decimal.NewFromInt(-1), time.Now()); !errors.Is(err, ErrMalformedMessage) {
		t.Fatalf("expected ErrMalformedMessage, got %v", err)
	}
	if _, err := NewTick("BTC", decimal.NewFromInt(1), time.Time{}); !errors.Is(err, ErrMalformedMessage) {
		t.Fatalf("expected ErrMalformedMessage for zero time, got %v", err)
	}
	tk, err := NewTick("BTC", decimal.Zero, time.Unix(1, 0))
	if err != nil || tk.Asset != "BTC" {
		t.Fatalf("zero price must be accepted: %+v %v", tk, err)
	}
}

func TestTriggerEventMessage(t *testing.T) {
	ev := TriggerEvent{
		Asset:         "BTC",
		Comparison:    Above,
		Threshold:     decimal.NewFromInt(50000),
		ObservedPrice: decimal.NewFromInt(50100),
	}
	want := "BTC price is 50100, alert condition met (above 50000)"
	if got := ev.Message(); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
	if ev.Title() != "Price Alert: BTC" {
		t.Errorf("unexpected title %q", ev.Title())
	}
}

func TestTransportErrorUnwrap(t *testing.T) {
	base := errors.New("eof")
	err := NewTransportError("marketws", "BTC", "read", base)
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to match")
	}
	var te *TransportError
	if !errors.As(err, &te) || te.Asset != "BTC" {
		t.Fatalf("expected *TransportError, got %v", err)
	}
}

func TestParsePermission(t *testing.T) {
	if ParsePermission("Granted") != PermissionGranted {
		t.Error("granted")
	}
	if ParsePermission("denied") != PermissionDenied {
		t.Error("denied")
	}
	if ParsePermission("default") != PermissionUndetermined {
		t.Error("default maps to undetermined")
	}
}
