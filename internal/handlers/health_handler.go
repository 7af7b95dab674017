package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/forbiddenlink/mindchain-sub000/internal/cache"
	"github.com/forbiddenlink/mindchain-sub000/internal/debate"
	"github.com/forbiddenlink/mindchain-sub000/internal/events"
	"github.com/forbiddenlink/mindchain-sub000/internal/store"
)

// HealthHandler reports service and dependency health.
type HealthHandler struct {
	store   store.Store
	manager *debate.Manager
	cache   *cache.SemanticCache
	bus     *events.Bus
	version string
}

// NewHealthHandler creates the handler. cache and bus may be nil.
func NewHealthHandler(st store.Store, m *debate.Manager, c *cache.SemanticCache, bus *events.Bus, version string) *HealthHandler {
	return &HealthHandler{store: st, manager: m, cache: c, bus: bus, version: version}
}

// Health returns overall service health. The service reports healthy even
// while storage is down; reads degrade rather than fail, and the storage
// block carries the detail.
func (h *HealthHandler) Health(c *gin.Context) {
	storeHealth := h.store.Health(c.Request.Context())

	resp := gin.H{
		"status":        "ok",
		"version":       h.version,
		"storage":       storeHealth,
		"activeDebates": len(h.manager.List()),
	}
	if storeHealth.Status == store.StatusDisconnected {
		resp["status"] = "degraded"
	}
	if h.bus != nil {
		resp["events"] = h.bus.Metrics()
	}
	c.JSON(http.StatusOK, resp)
}

// CacheStats returns semantic cache accounting: hit ratio, tokens and
// estimated cost saved.
func (h *HealthHandler) CacheStats(c *gin.Context) {
	if h.cache == nil {
		c.JSON(http.StatusOK, gin.H{"success": true, "cache": cache.Stats{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "cache": h.cache.Stats(c.Request.Context())})
}
