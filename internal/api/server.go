// Package api wires the gateway's Gin HTTP surface: chat completions
// (streaming and non-stream), batch admin tasks with SSE progress, the
// request-log stats endpoint, and settings management, one handler file
// per concern.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/aprpure/grok-gateway/internal/assetcache"
	"github.com/aprpure/grok-gateway/internal/batch"
	"github.com/aprpure/grok-gateway/internal/config"
	"github.com/aprpure/grok-gateway/internal/settings"
	"github.com/aprpure/grok-gateway/internal/statslog"
	"github.com/aprpure/grok-gateway/internal/store"
)

// Server holds every collaborator the HTTP handlers need. It carries no
// state of its own; settings are read from the settings store on each
// request, and everything else lives in the collaborators.
type Server struct {
	cfg       *config.Config
	settings  *settings.Store
	registry  *batch.Registry
	db        *store.Store // nil when running without Postgres configured
	estimator *statslog.Estimator
	assets    *assetcache.Cache // nil when no asset cache bucket is configured
	http      *http.Client
}

// New builds a Server. db and assets may both be nil; handlers that need
// them degrade to best-effort behavior (see chat_handler.go, including
// its transcoder OnAsset wiring, and stats_handler.go).
func New(cfg *config.Config, settingsStore *settings.Store, registry *batch.Registry, db *store.Store, assets *assetcache.Cache) *Server {
	estimator, err := statslog.NewEstimator()
	if err != nil {
		log.WithError(err).Warn("api: token estimator unavailable, request log token counts will be zero")
		estimator = nil
	}
	return &Server{
		cfg:       cfg,
		settings:  settingsStore,
		registry:  registry,
		db:        db,
		estimator: estimator,
		assets:    assets,
		http:      &http.Client{Timeout: 0}, // streaming calls manage their own deadlines via context
	}
}

// Router builds the Gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.requestLogger())

	r.POST("/v1/chat/completions", s.handleChatCompletions)

	admin := r.Group("/admin")
	{
		admin.GET("/settings/:section", s.handleGetSettings)
		admin.PUT("/settings/:section", s.handlePutSettings)

		admin.POST("/batch/token-refresh", s.handleSubmitTokenRefresh)
		admin.POST("/batch/prune-logs", s.handleSubmitPruneLogs)
		admin.GET("/batch", s.handleListBatchTasks)
		admin.GET("/batch/:id", s.handleBatchStatus)
		admin.GET("/batch/:id/events", s.handleBatchEvents)
		admin.POST("/batch/:id/cancel", s.handleCancelBatchTask)

		admin.GET("/stats", s.handleStats)
	}

	return r
}

// requestLogger emits one structured logrus line per request, fields at
// the call site, rather than gin's default combined-log-format text line.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(log.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		}).Info("api: request")
	}
}

func contextWithTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, d)
}

// persistSettingsDocument mirrors the in-memory settings document into
// Postgres, one row per section, so it survives a process restart even
// when the on-disk JSON file is on ephemeral storage.
func (s *Server) persistSettingsDocument() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sections := s.settings.SectionsRaw()
	raw := make(map[string][]byte, len(sections))
	for sec, v := range sections {
		raw[string(sec)] = v
	}
	if err := s.db.SaveSettingsSections(ctx, raw); err != nil {
		log.WithError(err).Warn("api: failed to persist settings sections")
	}
}
