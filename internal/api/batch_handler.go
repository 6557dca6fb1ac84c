package api

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/aprpure/grok-gateway/internal/batch"
)

type tokenRefreshRequest struct {
	CredentialIDs []string `json:"credential_ids"`
}

// handleSubmitTokenRefresh submits a bulk token-refresh batch task: one
// item per credential id, driven through the generic worker pool. The
// refresh flow itself is out of scope for this gateway (see
// internal/tokenpool); each item is a best-effort no-op placeholder that
// reports success, matching the thin-lookup boundary.
func (s *Server) handleSubmitTokenRefresh(c *gin.Context) {
	var req tokenRefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": err.Error()}})
		return
	}
	if len(req.CredentialIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": "credential_ids must not be empty"}})
		return
	}

	items := make([]batch.Item, len(req.CredentialIDs))
	for i, id := range req.CredentialIDs {
		items[i] = id
	}

	concurrency := s.cfg.WorkerConcurrency
	if s.db != nil {
		total := len(items)
		running := true
		zero := 0
		_ = s.db.UpdateTokenRefreshProgress(context.Background(), &running, &zero, &total, &zero, &zero)
	}

	task := s.registry.Submit(context.Background(), "token_refresh", items, concurrency, func(ctx context.Context, item batch.Item) batch.Result {
		id, _ := item.(string)
		log.WithField("credential_id", id).Debug("api: token refresh item processed")
		return batch.Result{OK: true, Detail: id}
	}, func() (map[string]interface{}, string) {
		return map[string]interface{}{"refreshed": len(items)}, ""
	})

	if s.db != nil {
		go s.mirrorTokenRefreshProgress(task)
	}

	c.JSON(http.StatusAccepted, gin.H{"task_id": task.ID()})
}

// mirrorTokenRefreshProgress polls task until it reaches a terminal state,
// writing each counter change through to the singleton
// token_refresh_progress row so it survives a process restart mid-run.
func (s *Server) mirrorTokenRefreshProgress(task *batch.Task) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		snap := task.Snapshot()
		current, success, failed := snap.Processed, snap.OK, snap.Fail
		running := !snap.Status.Terminal()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = s.db.UpdateTokenRefreshProgress(ctx, &running, &current, nil, &success, &failed)
		cancel()
		if snap.Status.Terminal() {
			return
		}
	}
}

type pruneLogsRequest struct {
	CutoffDays int `json:"cutoff_days"`
}

// handleSubmitPruneLogs submits a single-item batch task that prunes
// request_log rows older than cutoff_days, so progress and cancellation
// flow through the same SSE surface as any other admin bulk operation.
func (s *Server) handleSubmitPruneLogs(c *gin.Context) {
	var req pruneLogsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": err.Error()}})
		return
	}
	if req.CutoffDays <= 0 {
		req.CutoffDays = 14
	}
	if s.db == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": gin.H{"message": "no database configured"}})
		return
	}

	cutoff := time.Now().AddDate(0, 0, -req.CutoffDays)
	items := []batch.Item{cutoff}

	var removedTotal int64
	task := s.registry.Submit(context.Background(), "prune_logs", items, 1, func(ctx context.Context, item batch.Item) batch.Result {
		cutoff, _ := item.(time.Time)
		removed, err := s.db.PruneRequestLogsOlderThan(ctx, cutoff)
		if err != nil {
			return batch.Result{OK: false, Error: err.Error()}
		}
		atomic.AddInt64(&removedTotal, removed)
		log.WithField("removed", removed).Info("api: pruned request log rows")
		return batch.Result{OK: true, Detail: fmt.Sprintf("removed %d rows", removed)}
	}, func() (map[string]interface{}, string) {
		return map[string]interface{}{"removed": atomic.LoadInt64(&removedTotal)}, ""
	})

	c.JSON(http.StatusAccepted, gin.H{"task_id": task.ID()})
}

// handleListBatchTasks returns a point-in-time snapshot of every known
// batch task.
func (s *Server) handleListBatchTasks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tasks": s.registry.List()})
}

// handleBatchStatus returns one task's current snapshot without opening
// a streaming connection.
func (s *Server) handleBatchStatus(c *gin.Context) {
	task, ok := s.registry.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"message": "unknown task"}})
		return
	}
	c.JSON(http.StatusOK, task.Snapshot())
}

// handleCancelBatchTask requests cooperative cancellation of a running
// task. The worker pool observes the flag between items; the task only
// reaches StatusCancelled once every in-flight worker has drained.
func (s *Server) handleCancelBatchTask(c *gin.Context) {
	task, ok := s.registry.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"message": "unknown task"}})
		return
	}
	task.Cancel()
	c.JSON(http.StatusAccepted, task.Snapshot())
}

// handleBatchEvents streams a task's progress as SSE until it reaches a
// terminal state or the client disconnects.
func (s *Server) handleBatchEvents(c *gin.Context) {
	task, ok := s.registry.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"message": "unknown task"}})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	if err := batch.WriteSSE(c.Request.Context(), c.Writer, c.Writer, task); err != nil {
		log.WithError(err).Debug("api: batch SSE subscriber disconnected")
	}
}
