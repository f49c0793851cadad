package postgres

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog/log"

	"assetwatch/internal/application/port"
	"assetwatch/internal/domain/model"
	"assetwatch/internal/infrastructure/storage"
)

type Repo struct {
	db *sql.DB
}

func New(dsn string) (*Repo, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

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
  id BIGSERIAL PRIMARY KEY,
  asset_name TEXT NOT NULL,
  price NUMERIC NOT NULL,
  timestamp TIMESTAMP NOT NULL DEFAULT (now() AT TIME ZONE 'utc')
);
CREATE INDEX IF NOT EXISTS idx_market_prices_asset_ts ON market_prices(asset_name, timestamp);
`)
	return err
}

func (r *Repo) RecordPrice(ctx context.Context, t model.Tick) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO market_prices(asset_name, price, timestamp) VALUES($1, $2, $3)`,
		t.Asset, t.Price.String(), t.ObservedAt.UTC())
	return err
}

// History rows newer than now-lookback, oldest first.
func (r *Repo) History(ctx context.Context, asset string, lookback time.Duration) ([]model.Tick, error) {
	since := time.Now().UTC().Add(-lookback)
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, asset_name, price::text, timestamp FROM market_prices
		WHERE asset_name = $1 AND timestamp >= $2
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
