// Command gateway is the grok-gateway process entrypoint: loads config,
// initializes logging, wires the settings store, the batch registry, the
// optional Postgres-backed log store, and starts the Gin HTTP server with
// hot config reload and graceful shutdown.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/aprpure/grok-gateway/internal/api"
	"github.com/aprpure/grok-gateway/internal/assetcache"
	"github.com/aprpure/grok-gateway/internal/batch"
	"github.com/aprpure/grok-gateway/internal/config"
	"github.com/aprpure/grok-gateway/internal/logging"
	"github.com/aprpure/grok-gateway/internal/settings"
	"github.com/aprpure/grok-gateway/internal/store"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the gateway's YAML config file")
	envPath := flag.String("env", ".env", "path to an optional .env overlay")
	debug := flag.Bool("debug", false, "force debug-level logging regardless of config")
	flag.Parse()

	cfg, err := config.Load(*configPath, *envPath)
	if err != nil {
		log.WithError(err).Fatal("gateway: failed to load config")
	}
	if *debug {
		cfg.Debug = true
	}

	logging.Init(logging.Options{
		Level:      cfg.Logging.Level,
		FilePath:   cfg.Logging.FilePath,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Debug:      cfg.Debug,
	})

	settingsStore, err := settings.Open(cfg.SettingsPath)
	if err != nil {
		log.WithError(err).Fatal("gateway: failed to open settings store")
	}

	var db *store.Store
	if cfg.Database.DSN != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		db, err = store.Open(ctx, cfg.Database.DSN)
		cancel()
		if err != nil {
			log.WithError(err).Fatal("gateway: failed to open database")
		}
		defer db.Close()

		if raw, err := db.LoadSettingsSections(context.Background()); err != nil {
			log.WithError(err).Warn("gateway: failed to load persisted settings sections")
		} else if len(raw) > 0 {
			sections := make(map[settings.Section][]byte, len(raw))
			for k, v := range raw {
				sections[settings.Section(k)] = v
			}
			doc, err := settings.BuildDocument(sections)
			if err != nil {
				log.WithError(err).Warn("gateway: failed to build settings document from persisted sections")
			} else if reopened, err := settings.OpenFromBytes(cfg.SettingsPath, doc); err != nil {
				log.WithError(err).Warn("gateway: failed to apply persisted settings document")
			} else {
				settingsStore = reopened
			}
		}
	} else {
		log.Warn("gateway: no database configured, running without persisted request log or settings backup")
	}

	var assets *assetcache.Cache
	if cfg.AssetCache.Endpoint != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		assets, err = assetcache.New(ctx, assetcache.Config{
			Endpoint:        cfg.AssetCache.Endpoint,
			Bucket:          cfg.AssetCache.Bucket,
			AccessKeyID:     cfg.AssetCache.AccessKeyID,
			SecretAccessKey: cfg.AssetCache.SecretAccessKey,
			UseSSL:          cfg.AssetCache.UseSSL,
		})
		cancel()
		if err != nil {
			log.WithError(err).Warn("gateway: asset cache unavailable, generated assets will not be mirrored")
			assets = nil
		}
	}

	registry := batch.NewRegistry()
	server := api.New(cfg, settingsStore, registry, db, assets)

	if watcher, err := config.Watch(*configPath, *envPath, func(reloaded *config.Config) {
		log.Info("gateway: configuration reloaded from disk")
		*cfg = *reloaded
	}); err != nil {
		log.WithError(err).Warn("gateway: config hot-reload disabled")
	} else {
		defer watcher.Close()
	}

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: server.Router(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.WithField("port", cfg.Port).Info("gateway: listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("gateway: server failed")
		}
	}()

	<-ctx.Done()
	log.Info("gateway: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("gateway: graceful shutdown failed")
	}
}
