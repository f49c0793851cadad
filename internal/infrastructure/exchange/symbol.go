package exchange

import (
	"strings"
)

// SymbolConverter maps between a bare asset (BTC) and a venue trading pair (BTCUSDT).
type SymbolConverter interface {
	// Symbol2Asset BTCUSDT -> BTC
	Symbol2Asset(symbol string) string
	// Asset2Symbol BTC -> BTCUSDT
	Asset2Symbol(asset string) string
	Quote() string
}

// QuoteConverter appends or strips a fixed quote currency.
type QuoteConverter struct {
	quote string
}

func NewQuoteConverter(quote string) *QuoteConverter {
	return &QuoteConverter{quote: strings.ToUpper(strings.TrimSpace(quote))}
}

func (c *QuoteConverter) Quote() string { return c.quote }

func (c *QuoteConverter) Symbol2Asset(symbol string) string {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	if c.quote == "" {
		return sym
	}
	return strings.TrimSuffix(sym, c.quote)
}

// Asset2Symbol leaves symbols that already end in the quote untouched.
func (c *QuoteConverter) Asset2Symbol(asset string) string {
	a := strings.ToUpper(strings.TrimSpace(asset))
	if a == "" || strings.HasSuffix(a, c.quote) {
		return a
	}
	return a + c.quote
}
