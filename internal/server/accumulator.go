package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type accumulatorEntry struct {
	ResourceKey string     `json:"resource_key"`
	Hits        int64      `json:"hits"`
	LastHitAt   *time.Time `json:"last_hit_at,omitempty"`
}

type accumulatorResponse struct {
	TenantID  int64              `json:"tenant_id"`
	Resources int                `json:"resources"`
	TotalHits int64              `json:"total_hits"`
	Entries   []accumulatorEntry `json:"entries"`
}

// GetAccumulator shows hits recorded since the last flush.
func (s *Server) GetAccumulator(c *gin.Context) {
	snap, err := s.accumulator.Snapshot(c.Request.Context(), tenantFrom(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp := accumulatorResponse{
		TenantID:  snap.TenantID,
		Resources: len(snap.Entries),
		TotalHits: snap.TotalHits(),
		Entries:   make([]accumulatorEntry, 0, len(snap.Entries)),
	}
	for _, key := range snap.Keys() {
		entry := snap.Entries[key]
		resp.Entries = append(resp.Entries, accumulatorEntry{
			ResourceKey: key,
			Hits:        entry.Hits,
			LastHitAt:   entry.LastHitAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ClearAccumulator(c *gin.Context) {
	res, err := s.accumulator.Clear(c.Request.Context(), tenantFrom(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": res})
}
