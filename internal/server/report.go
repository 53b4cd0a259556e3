package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const defaultStaleDays = 90

func (s *Server) StaleReport(c *gin.Context) {
	days, err := parseOptionalInt(c.Query("days"), defaultStaleDays)
	if err != nil {
		AbortWithError(c, newValidationError("days", "invalid_days", "invalid days"))
		return
	}

	items, err := s.reports.Stale(c.Request.Context(), tenantFrom(c), days)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": items})
}

func (s *Server) OrphansReport(c *gin.Context) {
	orphans, err := s.reports.Orphans(c.Request.Context(), tenantFrom(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": orphans})
}
