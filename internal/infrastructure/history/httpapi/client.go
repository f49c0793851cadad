// Package httpapi reads price history from the dashboard backend's REST API.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"assetwatch/internal/application/port"
	"assetwatch/internal/domain/model"
	"assetwatch/internal/infrastructure/exchange"
)

const defaultTimeout = 5 * time.Second

type marketOutput struct {
	ID        int64           `json:"id"`
	AssetName string          `json:"asset_name"`
	Price     json.RawMessage `json:"price"`
	Timestamp json.RawMessage `json:"timestamp"`
}

// Client GET {base}/market/history/{asset}?hours=N
type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// hours rounds lookback up to whole hours, at least one.
func hours(lookback time.Duration) int {
	h := int(math.Ceil(lookback.Hours()))
	if h < 1 {
		h = 1
	}
	return h
}

func (c *Client) History(ctx context.Context, asset string, lookback time.Duration) ([]model.Tick, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("history base url empty")
	}
	u := c.baseURL + "/market/history/" + url.PathEscape(asset) + "?hours=" + strconv.Itoa(hours(lookback))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("history request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("history status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var rows []marketOutput
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}

	ticks := make([]model.Tick, 0, len(rows))
	for _, row := range rows {
		if row.AssetName != asset {
			continue
		}
		price, err := exchange.ParsePrice(row.Price)
		if err != nil {
			log.Debug().Err(err).Int64("id", row.ID).Msg("skip history row")
			continue
		}
		ts, err := exchange.ParseTimestamp(row.Timestamp)
		if err != nil {
			log.Debug().Err(err).Int64("id", row.ID).Msg("skip history row")
			continue
		}
		t, err := model.NewTick(asset, price, ts)
		if err != nil {
			continue
		}
		ticks = append(ticks, t)
	}
	return ticks, nil
}

var _ port.HistoryProvider = (*Client)(nil)
