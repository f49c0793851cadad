package svc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	redisclient "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"assetwatch/internal/application/port"
	"assetwatch/internal/application/service"
	"assetwatch/internal/application/usecase/market"
	"assetwatch/internal/application/usecase/monitor"
	"assetwatch/internal/domain/model"
	domainservice "assetwatch/internal/domain/service"
	"assetwatch/internal/infrastructure/config"
	"assetwatch/internal/infrastructure/history/httpapi"
	"assetwatch/internal/infrastructure/permission"
	"assetwatch/internal/infrastructure/pricefeed"
	"assetwatch/internal/infrastructure/storage/composite"
	postgresrepo "assetwatch/internal/infrastructure/storage/postgres"
	redisrepo "assetwatch/internal/infrastructure/storage/redis"
	sqliterepo "assetwatch/internal/infrastructure/storage/sqlite"
	"assetwatch/internal/interfaces/console"

	// tick source providers register themselves
	_ "assetwatch/internal/infrastructure/exchange/binance"
	_ "assetwatch/internal/infrastructure/exchange/bybit"
	_ "assetwatch/internal/infrastructure/exchange/marketws"
	_ "assetwatch/internal/infrastructure/exchange/okx"
	_ "assetwatch/internal/infrastructure/exchange/stub"
)

type ServiceContext struct {
	Ctx    context.Context
	Config *config.Config

	// 基础设施层
	redisClient  *redisclient.Client
	redisRepo    *redisrepo.Repo
	sqliteRepo   *sqliterepo.Repo
	postgresRepo *postgresrepo.Repo
	store        *composite.Repo
	source       port.TickSource
	permission   *permission.Static

	// 核心组件
	Series        *domainservice.SeriesBuffer
	Alerts        *domainservice.AlertEngine
	Notifications *service.NotificationService
	Mux           *market.Multiplexer

	// 输出端口
	Sink port.Sink

	closerChain []func() error
}

// New builds every component in dependency order. On failure whatever was
// already opened is closed again.
func New(ctx context.Context, cfg *config.Config) (*ServiceContext, error) {
	sc := &ServiceContext{
		Ctx:         ctx,
		Config:      cfg,
		Sink:        console.NewSink(),
		closerChain: make([]func() error, 0),
	}
	if err := sc.initializeComponents(); err != nil {
		_ = sc.Close()
		return nil, err
	}
	return sc, nil
}

func (sc *ServiceContext) initializeComponents() error {
	if err := sc.initializeStorage(); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageInitFailed, err)
	}
	if err := sc.initSource(); err != nil {
		return err
	}
	sc.initNotifications()

	sc.Series = domainservice.NewSeriesBuffer(sc.Config.Stream.WindowSize)
	sc.Alerts = domainservice.NewAlertEngine(sc.Notifications)

	var history port.HistoryProvider
	if len(sc.Config.History.Providers) > 0 {
		history = sc.store
	}
	sc.Mux = market.NewMultiplexer(market.MultiplexerDeps{
		Source:  sc.source,
		History: history,
		Series:  sc.Series,
		Alerts:  sc.Alerts,
		Config: market.Config{
			QueueSize:       sc.Config.Stream.QueueSize,
			OpenTimeout:     sc.Config.OpenTimeout(),
			HistoryLookback: sc.Config.HistoryLookback(),
			Retry: market.RetryConfig{
				InitialDel: sc.Config.RetryBase(),
				MaxDelay:   sc.Config.RetryMax(),
				Factor:     sc.Config.Stream.RetryFactor,
			},
		},
	})
	sc.closerChain = append(sc.closerChain, func() error {
		sc.Mux.Close()
		return nil
	})

	if err := sc.loadRules(); err != nil {
		return err
	}

	log.Info().
		Str("source", sc.source.Name()).
		Int("window", sc.Config.Stream.WindowSize).
		Int("rules", len(sc.Alerts.Rules())).
		Msg("✓ All components initialized")
	return nil
}

// ========== Storage ==========

func (sc *ServiceContext) initializeStorage() error {
	if sc.Config.Redis.Enabled {
		if err := sc.initRedis(); err != nil {
			return fmt.Errorf("redis initialization failed: %w", err)
		}
	}
	if sc.Config.SQLite.Enabled {
		if err := sc.initSQLite(); err != nil {
			return fmt.Errorf("sqlite initialization failed: %w", err)
		}
	}
	if sc.Config.Postgres.Enabled {
		if err := sc.initPostgres(); err != nil {
			return fmt.Errorf("postgres initialization failed: %w", err)
		}
	}

	var recorders []port.PriceRecorder
	if sc.Config.History.Record {
		if sc.sqliteRepo != nil {
			recorders = append(recorders, sc.sqliteRepo)
		}
		if sc.postgresRepo != nil {
			recorders = append(recorders, sc.postgresRepo)
		}
	}
	if sc.redisRepo != nil && sc.Config.Redis.MirrorLatest {
		recorders = append(recorders, port.RecorderFunc(sc.redisRepo.UpsertLatestPrice))
	}

	var histories []port.HistoryProvider
	for _, name := range sc.Config.History.Providers {
		switch name {
		case "http":
			histories = append(histories, httpapi.New(sc.Config.History.BaseURL, sc.Config.HistoryTimeout()))
		case "sqlite":
			histories = append(histories, sc.sqliteRepo)
		case "postgres":
			histories = append(histories, sc.postgresRepo)
		}
	}

	sc.store = composite.New(recorders, histories)
	return nil
}

func (sc *ServiceContext) initRedis() error {
	rdb := redisclient.NewClient(&redisclient.Options{
		Addr:     sc.Config.Redis.Addr,
		Password: sc.Config.Redis.Password,
		DB:       sc.Config.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(sc.Ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return fmt.Errorf("redis ping failed: %w", err)
	}

	sc.redisClient = rdb
	sc.redisRepo = redisrepo.New(
		rdb,
		sc.Config.Redis.Prefix,
		sc.Config.RedisTTL(),
		sc.Config.Redis.TriggerStream,
		sc.Config.Redis.TriggerChannel,
	)
	sc.closerChain = append(sc.closerChain, func() error {
		log.Info().Msg("closing redis connection")
		return rdb.Close()
	})

	log.Info().
		Str("addr", sc.Config.Redis.Addr).
		Int("db", sc.Config.Redis.DB).
		Msg("✓ Redis initialized")
	return nil
}

func (sc *ServiceContext) initSQLite() error {
	repo, err := sqliterepo.New(sc.Config.SQLite.Path)
	if err != nil {
		return fmt.Errorf("sqlite repo creation failed: %w", err)
	}
	sc.sqliteRepo = repo
	sc.closerChain = append(sc.closerChain, func() error {
		log.Info().Msg("closing sqlite connection")
		return repo.Close()
	})

	log.Info().
		Str("path", sc.Config.SQLite.Path).
		Msg("✓ SQLite initialized")
	return nil
}

func (sc *ServiceContext) initPostgres() error {
	repo, err := postgresrepo.New(sc.Config.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("postgres repo creation failed: %w", err)
	}
	sc.postgresRepo = repo
	sc.closerChain = append(sc.closerChain, func() error {
		log.Info().Msg("closing postgres connection")
		return repo.Close()
	})

	log.Info().Msg("✓ Postgres initialized")
	return nil
}

// ========== Feed / notifications ==========

func (sc *ServiceContext) initSource() error {
	src, err := pricefeed.New(sc.Config.Feed.Provider, pricefeed.Options{
		URL:      sc.Config.Feed.URL,
		Quote:    sc.Config.Symbols.Quote,
		Redis:    sc.redisClient,
		Interval: sc.Config.FeedInterval(),
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNoTickSource, err)
	}
	sc.source = src
	log.Info().
		Str("provider", src.Name()).
		Str("url", sc.Config.Feed.URL).
		Msg("✓ Tick source initialized")
	return nil
}

func (sc *ServiceContext) initNotifications() {
	sc.permission = permission.NewStatic(
		model.ParsePermission(sc.Config.Notify.Permission),
		model.ParsePermission(sc.Config.Notify.OnRequest),
	)

	var publishers []port.EventPublisher
	if sc.redisRepo != nil {
		publishers = append(publishers, sc.redisRepo)
	}
	sc.Notifications = service.NewNotificationService(service.NotificationDeps{
		Permission: sc.permission,
		Notifiers:  []port.UserNotifier{console.NewNotifier(os.Stdout, sc.Config.Notify.Bell)},
		Publishers: publishers,
		Config: service.NotificationConfig{
			QueueSize: sc.Config.Notify.QueueSize,
			Timeout:   sc.Config.NotifyTimeout(),
		},
	})
}

// loadRules arms the rules listed under [alerts].
func (sc *ServiceContext) loadRules() error {
	for i, r := range sc.Config.Alerts.Rules {
		cmp, err := model.ParseComparison(r.Comparison)
		if err != nil {
			return fmt.Errorf("alerts.rules[%d]: %w", i, err)
		}
		threshold, err := decimal.NewFromString(strings.TrimSpace(r.Threshold))
		if err != nil {
			return fmt.Errorf("alerts.rules[%d]: %w: threshold %q", i, model.ErrInvalidRule, r.Threshold)
		}
		id, err := sc.Alerts.AddRule(r.Asset, cmp, threshold)
		if err != nil {
			return fmt.Errorf("alerts.rules[%d]: %w", i, err)
		}
		log.Info().
			Str("rule", id).
			Str("asset", r.Asset).
			Str("comparison", string(cmp)).
			Str("threshold", threshold.String()).
			Msg("rule armed")
	}
	return nil
}

// ========== Accessors ==========

func (sc *ServiceContext) GetRedisRepo() *redisrepo.Repo {
	return sc.redisRepo
}

func (sc *ServiceContext) GetSQLiteRepo() *sqliterepo.Repo {
	return sc.sqliteRepo
}

func (sc *ServiceContext) Permission() *permission.Static {
	return sc.permission
}

// BuildMonitorServiceDeps wires the console monitor to the multiplexer and the
// configured recorders.
func (sc *ServiceContext) BuildMonitorServiceDeps() monitor.ServiceDeps {
	var rec port.PriceRecorder
	if sc.store != nil && sc.store.HasRecorders() {
		rec = sc.store
	}
	return monitor.ServiceDeps{
		Mux:         sc.Mux,
		Symbols:     sc.Config.Symbols.List,
		RenderEvery: sc.Config.RenderEvery(),
		Sink:        sc.Sink,
		Recorder:    rec,
		Triggers:    sc.Notifications,
	}
}

// BuildRuleWatcherDeps keeps every asset with a rule streaming, including assets
// that are not in symbols.list.
func (sc *ServiceContext) BuildRuleWatcherDeps() monitor.RuleWatcherDeps {
	return monitor.RuleWatcherDeps{
		Mux:   sc.Mux,
		Rules: sc.Alerts,
	}
}

// Close releases resources in reverse order of creation.
func (sc *ServiceContext) Close() error {
	var errs []error
	for i := len(sc.closerChain) - 1; i >= 0; i-- {
		if err := sc.closerChain[i](); err != nil {
			log.Error().Err(err).Msg("error closing resource")
			errs = append(errs, err)
		}
	}
	sc.closerChain = nil
	return errors.Join(errs...)
}
