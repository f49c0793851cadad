package model

import (
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
)

// AssetSymbol is the case-sensitive join key shared by every component (e.g. "BTC").
type AssetSymbol = string

const maxSymbolLen = 16

// ValidateAsset rejects anything that is not a simple short symbol.
func ValidateAsset(asset string) error {
	if asset == "" || len(asset) > maxSymbolLen || strings.TrimSpace(asset) != asset {
		return ErrInvalidAsset
	}
	for _, r := range asset {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '.' || r == '-' || r == '_' {
			continue
		}
		return ErrInvalidAsset
	}
	return nil
}

// Tick is one timestamped price observation. Treat as immutable.
type Tick struct {
	Asset      AssetSymbol     `json:"asset"`
	Price      decimal.Decimal `json:"price"`
	ObservedAt time.Time       `json:"time"`
}

// NewTick builds a tick, returning ErrMalformedMessage for negative prices or a zero time.
func NewTick(asset string, price decimal.Decimal, observedAt time.Time) (Tick, error) {
	if asset == "" || price.IsNegative() || observedAt.IsZero() {
		return Tick{}, ErrMalformedMessage
	}
	return Tick{Asset: asset, Price: price, ObservedAt: observedAt}, nil
}

// Change is the movement between the first and last sample of a window.
type Change struct {
	Absolute decimal.Decimal `json:"absolute"`
	Percent  decimal.Decimal `json:"percent"` // (last-first)/first*100, 0 when first == 0
}
