// Package storage holds the pieces shared by the sql history stores. Both read and
// write the market_prices(asset_name, price, timestamp) table used by the dashboard
// backend, so an existing database can seed windows directly.
package storage

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"assetwatch/internal/domain/model"
)

// TimeLayout naive UTC, the form the backend's ORM writes.
const TimeLayout = "2006-01-02 15:04:05.000000"

// MarketPrice one market_prices row.
type MarketPrice struct {
	ID        int64
	AssetName string
	Price     decimal.Decimal
	Timestamp time.Time
}

func (p MarketPrice) Tick() model.Tick {
	return model.Tick{Asset: p.AssetName, Price: p.Price, ObservedAt: p.Timestamp}
}

// ParsePrice accepts whatever the driver hands back for a numeric column.
func ParsePrice(v any) (decimal.Decimal, error) {
	switch x := v.(type) {
	case float64:
		return decimal.NewFromFloat(x), nil
	case int64:
		return decimal.NewFromInt(x), nil
	case []byte:
		return decimal.NewFromString(string(x))
	case string:
		return decimal.NewFromString(x)
	default:
		return decimal.Zero, fmt.Errorf("unsupported price type %T", v)
	}
}

// ParseTime accepts time.Time, text in TimeLayout/RFC3339, or unix millis.
func ParseTime(v any) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		return x.UTC(), nil
	case int64:
		return time.UnixMilli(x).UTC(), nil
	case []byte:
		return parseTimeString(string(x))
	case string:
		return parseTimeString(x)
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp type %T", v)
	}
}

func parseTimeString(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999Z07:00", "2006-01-02 15:04:05.999999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

// FormatTime renders t the way TimeLayout expects.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// Scan builds a MarketPrice from raw column values.
func Scan(id int64, asset string, price, ts any) (MarketPrice, error) {
	p, err := ParsePrice(price)
	if err != nil {
		return MarketPrice{}, err
	}
	t, err := ParseTime(ts)
	if err != nil {
		return MarketPrice{}, err
	}
	return MarketPrice{ID: id, AssetName: asset, Price: p, Timestamp: t}, nil
}
