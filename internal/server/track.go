package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/lantern/internal/observability/tracing"
)

type trackRequest struct {
	Name         string `json:"name"`
	RequestClass string `json:"request_class"`
}

func (s *Server) Track(c *gin.Context) {
	var req trackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		AbortWithError(c, newValidationError("name", "required", "name is required"))
		return
	}

	access, err := s.tracker.OnResourceAccessed(c.Request.Context(), tenantFrom(c), req.Name, req.RequestClass)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Set(tracing.ContextResourceKey, access.ResourceKey)

	c.JSON(http.StatusAccepted, gin.H{"data": access})
}
