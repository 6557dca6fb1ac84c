package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aprpure/grok-gateway/internal/statslog"
)

// handleStats scans the last 14 days of request_log rows once and
// derives both hourly (last 24h, 24 buckets) and daily (14 buckets)
// bucketizations plus an aggregate success rate.
func (s *Server) handleStats(c *gin.Context) {
	if s.db == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": gin.H{"message": "no database configured"}})
		return
	}

	now := time.Now()
	entries, err := s.db.RequestLogSince(c.Request.Context(), now.Add(-14*24*time.Hour))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"message": err.Error()}})
		return
	}

	c.JSON(http.StatusOK, statslog.Summarize(entries, now))
}
