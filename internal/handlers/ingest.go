package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aiemr/graphrag-backend/internal/emr/sync"
	"github.com/aiemr/graphrag-backend/internal/platform/logger"
)

type syncRunner interface {
	SyncOnce(ctx context.Context) (sync.SyncStats, error)
}

type IngestHandler struct {
	syncer syncRunner
	log    *logger.Logger
}

func NewIngestHandler(syncer *sync.Syncer, log *logger.Logger) *IngestHandler {
	return &IngestHandler{
		syncer: syncer,
		log:    log.With("handler", "IngestHandler"),
	}
}

// Sync runs one on-demand pass over the EMR directory. It shares the
// in-flight pass with the background scheduler rather than stacking one.
func (h *IngestHandler) Sync(c *gin.Context) {
	stats, err := h.syncer.SyncOnce(c.Request.Context())
	if err != nil {
		h.log.Error("on-demand sync failed", "error", err)
		RespondError(c, http.StatusInternalServerError, "sync_failed", err)
		return
	}
	RespondOK(c, stats)
}
