package server

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/lantern/internal/observability/context"
	"github.com/smallbiznis/lantern/internal/observability/logger"
	"go.uber.org/zap"
)

const (
	HeaderTenant     = "X-Tenant-ID"
	contextTenantKey = "tenant_id"
)

// TenantContext resolves the tenant from the header or the tenant_id query
// parameter, falling back to the configured default.
func (s *Server) TenantContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(HeaderTenant))
		if raw == "" {
			raw = strings.TrimSpace(c.Query("tenant_id"))
		}

		tenantID := s.cfg.DefaultTenantID
		if raw != "" {
			parsed, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || parsed <= 0 {
				AbortWithError(c, newValidationError("tenant_id", "invalid_tenant", "tenant id must be a positive integer"))
				return
			}
			tenantID = parsed
		}
		if tenantID <= 0 {
			AbortWithError(c, newValidationError("tenant_id", "invalid_tenant", "tenant id is required"))
			return
		}

		c.Set(contextTenantKey, tenantID)
		c.Request = c.Request.WithContext(obscontext.WithTenantID(c.Request.Context(), tenantID))
		c.Next()
	}
}

func tenantFrom(c *gin.Context) int64 {
	return c.GetInt64(contextTenantKey)
}

// TrackRateLimit bounds track calls per tenant. Limiter failures fail open.
func (s *Server) TrackRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Enabled() {
			c.Next()
			return
		}
		ctx := c.Request.Context()
		res, err := s.limiter.Allow(ctx, tenantFrom(c))
		if err != nil {
			logger.FromContext(ctx).Warn("track rate limit check failed", zap.Error(err))
			c.Next()
			return
		}
		if !res.Allowed {
			seconds := int(res.RetryAfter.Seconds()) + 1
			c.Header("Retry-After", strconv.Itoa(seconds))
			c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}
