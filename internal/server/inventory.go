package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/lantern/internal/observability/logger"
	"go.uber.org/zap"
)

func (s *Server) ListInventory(c *gin.Context) {
	items, err := s.inventory.ListKnownResources(c.Request.Context(), tenantFrom(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": items})
}

// ScanInventory runs a scan inline and resets the scan debounce on success.
func (s *Server) ScanInventory(c *gin.Context) {
	ctx := c.Request.Context()
	tenantID := tenantFrom(c)

	res := s.inventory.Scan(ctx, tenantID)
	if res.Err != nil {
		AbortWithError(c, res.Err)
		return
	}

	if s.scheduler != nil {
		if err := s.scheduler.MarkScanned(ctx, tenantID); err != nil {
			logger.FromContext(ctx).Warn("failed to mark inventory scan", zap.Error(err))
		}
	}
	c.JSON(http.StatusOK, gin.H{"data": res})
}
