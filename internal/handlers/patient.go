package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/aiemr/graphrag-backend/internal/emr/graph"
	"github.com/aiemr/graphrag-backend/internal/platform/logger"
)

type patientGrapher interface {
	PatientGraph(ctx context.Context, pid string) (*graph.PatientGraph, error)
}

type PatientHandler struct {
	engine patientGrapher
	log    *logger.Logger
}

func NewPatientHandler(engine *graph.Engine, log *logger.Logger) *PatientHandler {
	return &PatientHandler{
		engine: engine,
		log:    log.With("handler", "PatientHandler"),
	}
}

func (h *PatientHandler) GetGraph(c *gin.Context) {
	pid := strings.TrimSpace(c.Param("id"))
	if pid == "" {
		RespondError(c, http.StatusBadRequest, "invalid_patient_id", errors.New("patient id is required"))
		return
	}

	g, err := h.engine.PatientGraph(c.Request.Context(), pid)
	if err != nil {
		h.log.Error("fetch patient graph failed", "patient_id", pid, "error", err)
		RespondError(c, http.StatusInternalServerError, "graph_fetch_failed", err)
		return
	}
	if len(g.Nodes) == 0 {
		RespondError(c, http.StatusNotFound, "not_found", errors.New("no graph found for patient"))
		return
	}
	RespondOK(c, g)
}
