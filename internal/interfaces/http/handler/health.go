package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/storefront/backend/internal/application/reconcile"
	"github.com/storefront/backend/internal/interfaces/http/dto"
	"github.com/storefront/backend/internal/interfaces/http/router"
)

// SnapshotReader exposes the current read model
type SnapshotReader interface {
	Snapshot() reconcile.Snapshot
}

// HealthHandler reports service and source health
type HealthHandler struct {
	BaseHandler
	reader SnapshotReader
}

// NewHealthHandler creates a new HealthHandler
func NewHealthHandler(reader SnapshotReader) *HealthHandler {
	return &HealthHandler{reader: reader}
}

// Routes returns the /health route group
func (h *HealthHandler) Routes() *router.DomainGroup {
	g := router.NewDomainGroup("health", "/health")
	g.GET("", h.Health)
	return g
}

// Health always answers 200 while the process serves requests.
// Degraded mode and per-source origins are reported in the body.
func (h *HealthHandler) Health(c *gin.Context) {
	snap := h.reader.Snapshot()

	resp := dto.HealthResponse{
		Status:   "ok",
		Degraded: snap.Degraded,
		Sources:  make(map[string]string, len(snap.Sources)),
	}
	if snap.Degraded {
		resp.Status = "degraded"
	}
	for name, st := range snap.Sources {
		resp.Sources[name] = st.Origin
	}
	h.Success(c, resp)
}
