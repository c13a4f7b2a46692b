// botpulse collects telemetry from a fleet of chat-bot client instances and
// serves aggregate statistics to dashboards and a Telegram admin bot.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/soaska/botpulse/internal/api"
	"github.com/soaska/botpulse/internal/bot"
	"github.com/soaska/botpulse/internal/cache"
	"github.com/soaska/botpulse/internal/diag"
	"github.com/soaska/botpulse/internal/engine"
	"github.com/soaska/botpulse/internal/geoip"
	"github.com/soaska/botpulse/internal/logger"
	"github.com/soaska/botpulse/internal/maintenance"
	"github.com/soaska/botpulse/internal/report"
	"github.com/soaska/botpulse/internal/store"
)

func main() {
	if err := loadConfig(); err != nil {
		panic(err)
	}
	log := logger.New(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Diagnostic sink, best effort: the collector runs without it.
	var sink *diag.Sink
	var recorder diag.Recorder = diag.Nop{}
	if cfg.Data.DiagnosticsPath != "" {
		var err error
		sink, err = diag.Open(cfg.Data.DiagnosticsPath, log)
		if err != nil {
			log.Warn().Err(err).Msg("diagnostics sink unavailable")
		} else {
			recorder = sink
			defer sink.Close()
		}
	}

	fileStore, err := store.NewFileStore(cfg.Data.DatasetPath, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize dataset store")
	}
	registry := store.NewRegistry(cfg.Data.IdentityPath)

	// GeoIP enrichment is optional.
	var geoSvc *geoip.Service
	if cfg.GeoIP.Path != "" {
		geoSvc, err = geoip.NewService(cfg.GeoIP.Path, log)
		if err != nil {
			log.Warn().Err(err).Msg("running without GeoIP enrichment")
			geoSvc = nil
		} else {
			defer geoSvc.Close()
		}
	}

	opts := []engine.Option{
		engine.WithLogger(log),
		engine.WithWindows(cfg.Windows),
		engine.WithDiagnostics(recorder),
	}
	if geoSvc != nil {
		opts = append(opts, engine.WithGeoResolver(geoSvc))
	}
	collector := engine.New(fileStore, registry, opts...)

	projector := report.New(fileStore, cfg.Windows,
		report.WithRatchet(collector),
		report.WithLogger(log),
	)

	// Redis is optional; retry a few times, then run without cache.
	var redisCache *cache.RedisCache
	if cfg.Redis.Enabled {
		for i := 0; i < 5; i++ {
			redisCache, err = cache.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.TTL)
			if err == nil {
				log.Info().Str("addr", cfg.Redis.Addr).Msg("connected to Redis")
				break
			}
			log.Warn().Err(err).Int("attempt", i+1).Msg("Redis connection failed")
			if i < 4 {
				time.Sleep(time.Duration(i+1) * time.Second)
			}
		}
		if redisCache == nil {
			log.Warn().Msg("running without read-model cache")
		} else {
			defer redisCache.Close()
		}
	}

	maint := maintenance.New(collector, fileStore, sink, redisCache, maintenance.Config{
		Interval:      cfg.Maintenance.Interval,
		BackupDir:     cfg.Maintenance.BackupDir,
		RetentionDays: cfg.Maintenance.RetentionDays,
		EvictAfter:    cfg.Maintenance.EvictAfter,
	}, log)
	go maint.Loop(ctx)

	if cfg.Telegram.Enabled && cfg.Telegram.BotToken != "" {
		tgBot, err := bot.NewBot(cfg.Telegram.BotToken, cfg.Telegram.AdminIDs, projector, maint, log)
		if err != nil {
			log.Warn().Err(err).Msg("telegram bot disabled")
		} else {
			go func() {
				if err := tgBot.Start(ctx); err != nil {
					log.Error().Err(err).Msg("telegram bot stopped")
				}
			}()
		}
	}

	server := api.NewServer(api.Config{
		Collector:      collector,
		Projector:      projector,
		Diagnostics:    sink,
		Cache:          redisCache,
		APIKey:         cfg.API.APIKey,
		CORSOrigins:    cfg.API.CORSOrigins,
		TrustedProxies: api.NewTrustedProxies(cfg.API.TrustedProxies),
		Logger:         log,
	})

	log.Info().Str("listen", cfg.API.Listen).Msg("botpulse starting")
	if err := server.Start(ctx, cfg.API.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("server error")
		os.Exit(1)
	}
	log.Info().Msg("botpulse stopped")
}
