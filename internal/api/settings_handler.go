package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/aprpure/grok-gateway/internal/settings"
)

// handleGetSettings returns one section merged over its defaults.
func (s *Server) handleGetSettings(c *gin.Context) {
	section := settings.Section(c.Param("section"))
	if !validSection(section) {
		c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"message": "unknown settings section"}})
		return
	}
	c.JSON(http.StatusOK, s.settings.Get(section))
}

// handlePutSettings applies a field-level update to one section and
// persists it atomically. Only the changed section name is logged, not
// its values, since some (cf_clearance) carry secrets.
func (s *Server) handlePutSettings(c *gin.Context) {
	section := settings.Section(c.Param("section"))
	if !validSection(section) {
		c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"message": "unknown settings section"}})
		return
	}

	var fields map[string]interface{}
	if err := c.ShouldBindJSON(&fields); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": err.Error()}})
		return
	}

	if err := s.settings.SetBatch(map[settings.Section]map[string]interface{}{section: fields}); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"message": err.Error()}})
		return
	}
	log.WithField("section", section).Info("api: settings updated")

	if s.db != nil {
		go s.persistSettingsDocument()
	}

	c.JSON(http.StatusOK, s.settings.Get(section))
}

func validSection(section settings.Section) bool {
	for _, s := range settings.AllSections() {
		if s == section {
			return true
		}
	}
	return false
}
