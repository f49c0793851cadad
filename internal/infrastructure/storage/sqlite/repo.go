package sqlite

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"assetwatch/internal/application/port"
	"assetwatch/internal/domain/model"
	"assetwatch/internal/infrastructure/storage"
)

type Repo struct {
	db *sql.DB
}

func New(path string) (*Repo, error) {
	// ensure directory exists
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		_ = os.MkdirAll(dir, 0o755)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	r := &Repo{db: db}
	if err := r.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repo) Close() error { return r.db.Close() }

func (r *Repo) migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS market_prices (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  asset_name TEXT NOT NULL,
  price TEXT NOT NULL,
  timestamp TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_market_prices_asset ON market_prices(asset_name);
CREATE INDEX IF NOT EXISTS idx_market_prices_ts ON market_prices(timestamp);
`)
	return err
}

func (r *Repo) RecordPrice(ctx context.Context, t model.Tick) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO market_prices(asset_name, price, timestamp) VALUES(?, ?, ?)`,
		t.Asset, t.Price.String(), storage.FormatTime(t.ObservedAt))
	return err
}

// History rows newer than now-lookback, oldest first. Timestamps are compared as
// text, which orders correctly for the fixed-width layout.
func (r *Repo) History(ctx context.Context, asset string, lookback time.Duration) ([]model.Tick, error) {
	since := storage.FormatTime(time.Now().Add(-lookback))
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, asset_name, price, timestamp FROM market_prices
		WHERE asset_name = ? AND timestamp >= ?
		ORDER BY timestamp ASC, id ASC`, asset, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ticks []model.Tick
	for rows.Next() {
		var (
			id        int64
			name      string
			price, ts any
		)
		if err := rows.Scan(&id, &name, &price, &ts); err != nil {
			return nil, err
		}
		mp, err := storage.Scan(id, name, price, ts)
		if err != nil {
			log.Debug().Err(err).Int64("id", id).Msg("skip unreadable market_prices row")
			continue
		}
		ticks = append(ticks, mp.Tick())
	}
	return ticks, rows.Err()
}

var (
	_ port.HistoryProvider = (*Repo)(nil)
	_ port.PriceRecorder   = (*Repo)(nil)
)
