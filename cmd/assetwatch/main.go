package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"assetwatch/internal/application/usecase/monitor"
	"assetwatch/internal/domain/model"
	"assetwatch/internal/infrastructure/config"
	"assetwatch/internal/infrastructure/logger"
	"assetwatch/internal/infrastructure/svc"
	"assetwatch/internal/metrics"
)

func main() {
	logger.Setup("info", "")

	configPath := flag.String("config", "configs/config.toml", "path to config.toml")
	envPath := flag.String("env", ".env", "optional dotenv file with secrets")
	askPermission := flag.Bool("ask-permission", true, "request notification permission at startup if undetermined")
	flag.Parse()

	if err := godotenv.Load(*envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Str("env", *envPath).Msg("load dotenv failed")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config", *configPath).Msg("load config failed")
	}
	logger.Setup(cfg.App.LogLevel, cfg.App.LogFile)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sc, err := svc.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("service context initialization failed")
	}
	defer sc.Close()

	if cfg.App.MetricsAddr != "" {
		srv := metrics.Serve(cfg.App.MetricsAddr)
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
		log.Info().Str("addr", cfg.App.MetricsAddr).Msg("metrics listening")
	}

	if *askPermission && sc.Permission().NotificationPermission(ctx) == model.PermissionUndetermined {
		perm, err := sc.Notifications.RequestPermission(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("notification permission request failed")
		}
		log.Info().Str("permission", string(perm)).Msg("notification permission")
	}

	log.Info().
		Str("config", *configPath).
		Str("provider", cfg.Feed.Provider).
		Strs("symbols", cfg.Symbols.List).
		Int("rules", len(cfg.Alerts.Rules)).
		Msg("assetwatch started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sc.Notifications.Run(gctx) })
	g.Go(func() error { return monitor.NewService(sc.BuildMonitorServiceDeps()).Run(gctx) })
	g.Go(func() error { return monitor.NewRuleWatcher(sc.BuildRuleWatcherDeps()).Run(gctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("assetwatch exited")
		return
	}
	log.Info().Msg("assetwatch stopped")
}
