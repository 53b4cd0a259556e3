package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	usagedomain "github.com/smallbiznis/lantern/internal/usage/domain"
	"github.com/smallbiznis/lantern/pkg/db/pagination"
)

// Flush persists the tenant's accumulator. all=true flushes every tenant.
func (s *Server) Flush(c *gin.Context) {
	all, err := parseOptionalBool(c.Query("all"))
	if err != nil {
		AbortWithError(c, newValidationError("all", "invalid_all", "invalid all"))
		return
	}

	ctx := c.Request.Context()
	if all {
		results := s.usage.FlushAll(ctx)
		status := http.StatusOK
		for _, res := range results {
			if !res.Success {
				status = http.StatusInternalServerError
				break
			}
		}
		c.JSON(status, gin.H{"data": results})
		return
	}

	res := s.usage.Flush(ctx, tenantFrom(c))
	status := http.StatusOK
	if !res.Success {
		status = http.StatusInternalServerError
	}
	c.JSON(status, gin.H{"data": res})
}

type aggregateRequest struct {
	TenantIDs                   []int64            `json:"tenant_ids"`
	SinceMonth                  *usagedomain.Month `json:"since_month"`
	UntilMonth                  *usagedomain.Month `json:"until_month"`
	DailyRetentionDays          *int               `json:"daily_retention_days"`
	MonthlyRetentionMonths      *int               `json:"monthly_retention_months"`
	Prune                       *bool              `json:"prune"`
	AllowUnaggregatedDailyPrune *bool              `json:"allow_unaggregated_daily_prune"`
	DryRun                      bool               `json:"dry_run"`
}

func (s *Server) Aggregate(c *gin.Context) {
	var req aggregateRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, newValidationError("body", "invalid_request", err.Error()))
			return
		}
	}
	if req.DailyRetentionDays != nil && *req.DailyRetentionDays < 0 {
		AbortWithError(c, newValidationError("daily_retention_days", "invalid_retention", "must not be negative"))
		return
	}
	if req.MonthlyRetentionMonths != nil && *req.MonthlyRetentionMonths < 0 {
		AbortWithError(c, newValidationError("monthly_retention_months", "invalid_retention", "must not be negative"))
		return
	}

	res := s.usage.Aggregate(c.Request.Context(), usagedomain.AggregateOptions{
		TenantIDs:                   req.TenantIDs,
		SinceMonth:                  req.SinceMonth,
		UntilMonth:                  req.UntilMonth,
		DailyRetentionDays:          req.DailyRetentionDays,
		MonthlyRetentionMonths:      req.MonthlyRetentionMonths,
		Prune:                       req.Prune,
		AllowUnaggregatedDailyPrune: req.AllowUnaggregatedDailyPrune,
		DryRun:                      req.DryRun,
	})
	if !res.Success && res.MonthsProcessed == 0 && isValidationError(res.Err) {
		AbortWithError(c, res.Err)
		return
	}
	status := http.StatusOK
	if !res.Success {
		status = http.StatusInternalServerError
	}
	c.JSON(status, gin.H{"data": res})
}

func (s *Server) ResetTracking(c *gin.Context) {
	removed, err := s.usage.ResetTracking(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"rows_removed": removed}})
}

// ListTotals pages through totals, most used first.
func (s *Server) ListTotals(c *gin.Context) {
	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		AbortWithError(c, newValidationError("page_size", "invalid_page_size", "invalid page size"))
		return
	}
	size, err := page.Size()
	if err != nil {
		AbortWithError(c, newValidationError("page_size", "invalid_page_size", "invalid page size"))
		return
	}
	cursor, err := pagination.DecodeCursor(page.PageToken)
	if err != nil {
		AbortWithError(c, newValidationError("page_token", "invalid_page_token", "invalid page token"))
		return
	}

	filter := usagedomain.TotalsFilter{
		TenantID: tenantFrom(c),
		Prefix:   strings.TrimSpace(c.Query("prefix")),
		Limit:    size + 1,
	}
	if cursor != nil {
		filter.After = &usagedomain.TotalsCursor{TotalHits: cursor.Hits, ResourceKey: cursor.Key}
	}

	items, err := s.usage.ListTotals(c.Request.Context(), filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	items, info, err := pagination.BuildCursorPageInfo(items, size, func(t usagedomain.UsageTotal) pagination.Cursor {
		return pagination.Cursor{Key: t.ResourceKey, Hits: t.TotalHits}
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": items, "page_info": info})
}

func (s *Server) GetTotal(c *gin.Context) {
	resource := strings.TrimSpace(c.Query("resource"))
	if resource == "" {
		AbortWithError(c, newValidationError("resource", "required", "resource is required"))
		return
	}

	total, err := s.usage.GetTotal(c.Request.Context(), tenantFrom(c), resource)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": total})
}

func (s *Server) ListDaily(c *gin.Context) {
	days, err := parseOptionalInt(c.Query("days"), 0)
	if err != nil {
		AbortWithError(c, newValidationError("days", "invalid_days", "invalid days"))
		return
	}
	items, err := s.usage.ListDaily(c.Request.Context(), usagedomain.DailyQuery{
		TenantID:    tenantFrom(c),
		ResourceKey: strings.TrimSpace(c.Query("resource")),
		From:        c.Query("from"),
		To:          c.Query("to"),
		LastDays:    days,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": items})
}

func (s *Server) ListMonthly(c *gin.Context) {
	months, err := parseOptionalInt(c.Query("months"), 0)
	if err != nil {
		AbortWithError(c, newValidationError("months", "invalid_months", "invalid months"))
		return
	}
	items, err := s.usage.ListMonthly(c.Request.Context(), usagedomain.MonthlyQuery{
		TenantID:    tenantFrom(c),
		ResourceKey: strings.TrimSpace(c.Query("resource")),
		From:        c.Query("from"),
		To:          c.Query("to"),
		LastMonths:  months,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": items})
}

func (s *Server) ListUnused(c *gin.Context) {
	days, err := parseOptionalInt(c.Query("days"), 0)
	if err != nil || days < 0 {
		AbortWithError(c, newValidationError("days", "invalid_days", "invalid days"))
		return
	}

	items, err := s.usage.ListUnused(c.Request.Context(), tenantFrom(c), days)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": items})
}

type trackingInfo struct {
	TenantID          int64      `json:"tenant_id"`
	TrackingStartedAt *time.Time `json:"tracking_started_at,omitempty"`
	PendingResources  int        `json:"pending_resources"`
	PendingHits       int64      `json:"pending_hits"`
	AutoFlushEnabled  bool       `json:"auto_flush_enabled"`
	AggregationActive bool       `json:"aggregation_enabled"`
}

// TrackingInfo reports when tracking began and what is still pending.
func (s *Server) TrackingInfo(c *gin.Context) {
	ctx := c.Request.Context()
	tenantID := tenantFrom(c)

	started, err := s.usage.TrackingStartedAt(ctx, tenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	snap, err := s.accumulator.Snapshot(ctx, tenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	settings := s.settings.Get()
	c.JSON(http.StatusOK, gin.H{"data": trackingInfo{
		TenantID:          tenantID,
		TrackingStartedAt: started,
		PendingResources:  len(snap.Entries),
		PendingHits:       snap.TotalHits(),
		AutoFlushEnabled:  settings.AutoFlushEnabled,
		AggregationActive: settings.EnableAggregation,
	}})
}
