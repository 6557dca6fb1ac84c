// Package config loads the gateway's YAML configuration, overlays a
// .env file over it, and watches the file for hot-reload with the
// plain-struct-plus-yaml.Unmarshal-plus-fsnotify combination used
// throughout this codebase.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// TimeoutsConfig holds the four layered stream timeouts the transcoder
// enforces, in seconds as written in YAML.
type TimeoutsConfig struct {
	FirstResponseSeconds int `yaml:"first_response_seconds"`
	ChunkSeconds         int `yaml:"chunk_seconds"`
	TotalSeconds         int `yaml:"total_seconds"`
	IdleSeconds          int `yaml:"idle_seconds"`
	VideoIdleSeconds     int `yaml:"video_idle_seconds"`
}

func (t TimeoutsConfig) FirstResponse() time.Duration { return time.Duration(t.FirstResponseSeconds) * time.Second }
func (t TimeoutsConfig) Chunk() time.Duration          { return time.Duration(t.ChunkSeconds) * time.Second }
func (t TimeoutsConfig) Total() time.Duration          { return time.Duration(t.TotalSeconds) * time.Second }
func (t TimeoutsConfig) Idle() time.Duration           { return time.Duration(t.IdleSeconds) * time.Second }
func (t TimeoutsConfig) VideoIdle() time.Duration      { return time.Duration(t.VideoIdleSeconds) * time.Second }

// DatabaseConfig points at the Postgres instance backing internal/store.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// AssetCacheConfig points at the minio-compatible bucket internal/assetcache
// writes generated images/videos through to.
type AssetCacheConfig struct {
	Endpoint        string `yaml:"endpoint"`
	Bucket          string `yaml:"bucket"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UseSSL          bool   `yaml:"use_ssl"`
}

// LoggingConfig configures internal/logging.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	FilePath   string `yaml:"file_path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Config is the gateway's top-level configuration document.
type Config struct {
	Port             int              `yaml:"port"`
	Debug            bool             `yaml:"debug"`
	SettingsPath     string           `yaml:"settings_path"`
	WorkerConcurrency int             `yaml:"worker_concurrency"`
	Timeouts         TimeoutsConfig   `yaml:"timeouts"`
	Database         DatabaseConfig   `yaml:"database"`
	AssetCache       AssetCacheConfig `yaml:"asset_cache"`
	Logging          LoggingConfig    `yaml:"logging"`
}

func defaultConfig() *Config {
	return &Config{
		Port:              8080,
		SettingsPath:      "settings.json",
		WorkerConcurrency: 4,
		Timeouts: TimeoutsConfig{
			FirstResponseSeconds: 30,
			ChunkSeconds:         30,
			TotalSeconds:         600,
			IdleSeconds:          15,
			VideoIdleSeconds:     120,
		},
		Logging: LoggingConfig{
			Level:      "info",
			FilePath:   "gateway.log",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
	}
}

// Load reads path into a Config seeded with defaults, overlaying any
// environment variables declared in envPath (if it exists; a missing
// .env file is not an error).
func Load(path, envPath string) (*Config, error) {
	if envPath != "" {
		if err := godotenv.Overload(envPath); err != nil && !os.IsNotExist(err) {
			log.WithError(err).Warn("config: failed to load .env overlay")
		}
	}

	cfg := defaultConfig()
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Watch watches path for writes and invokes onChange with the freshly
// reloaded Config. It runs until ctx-less caller stops the returned
// watcher with Close. Reload errors are logged, not propagated — a
// transient bad write (editor swap file) shouldn't kill the watcher.
func Watch(path, envPath string, onChange func(*Config)) (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, err
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := Load(path, envPath)
				if err != nil {
					log.WithError(err).Warn("config: reload failed, keeping previous config")
					continue
				}
				log.Info("config: reloaded")
				onChange(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.WithError(err).Warn("config: watcher error")
			}
		}
	}()

	return watcher, nil
}
