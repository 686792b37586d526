package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/aiemr/graphrag-backend/internal/emr/index"
	"github.com/aiemr/graphrag-backend/internal/emr/retrieve"
	"github.com/aiemr/graphrag-backend/internal/platform/logger"
)

// maxUploadBytes caps the consultation document accepted on upload queries.
const maxUploadBytes = 4 << 20

type ragIndexer interface {
	RebuildAll(ctx context.Context) (*index.IndexStats, error)
	UpsertPatients(ctx context.Context, pids []string) (*index.IndexStats, error)
}

type ragRetriever interface {
	HybridAnswer(ctx context.Context, question string, patientIDs []string, extraDoc string) (*retrieve.Answer, error)
	GraphAnswer(ctx context.Context, question string) (*retrieve.GraphDebugAnswer, error)
}

type RAGHandler struct {
	indexer   ragIndexer
	retriever ragRetriever
	log       *logger.Logger
}

func NewRAGHandler(indexer *index.Indexer, retriever *retrieve.Retriever, log *logger.Logger) *RAGHandler {
	return &RAGHandler{
		indexer:   indexer,
		retriever: retriever,
		log:       log.With("handler", "RAGHandler"),
	}
}

func (h *RAGHandler) IndexRebuild(c *gin.Context) {
	stats, err := h.indexer.RebuildAll(c.Request.Context())
	if err != nil {
		h.log.Error("index rebuild failed", "error", err)
		RespondError(c, http.StatusInternalServerError, "index_rebuild_failed", err)
		return
	}
	RespondOK(c, stats)
}

func (h *RAGHandler) IndexUpsert(c *gin.Context) {
	var pids []string
	if err := c.ShouldBindJSON(&pids); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	stats, err := h.indexer.UpsertPatients(c.Request.Context(), pids)
	if err != nil {
		h.log.Error("index upsert failed", "error", err)
		RespondError(c, http.StatusInternalServerError, "index_upsert_failed", err)
		return
	}
	RespondOK(c, stats)
}

type queryRequest struct {
	Question   string   `json:"question" binding:"required"`
	Mode       string   `json:"mode"`
	PatientIDs []string `json:"patient_ids"`
}

func (h *RAGHandler) Query(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	h.answer(c, req.Question, req.Mode, req.PatientIDs, "")
}

// QueryUpload is the multipart variant: the document file rides along as
// extra model context.
func (h *RAGHandler) QueryUpload(c *gin.Context) {
	question := strings.TrimSpace(c.PostForm("question"))
	if question == "" {
		RespondError(c, http.StatusBadRequest, "invalid_body", errors.New("question is required"))
		return
	}
	mode := c.PostForm("mode")
	pids := splitPatientIDs(c.PostForm("patient_ids"))

	fileHeader, err := c.FormFile("document")
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", errors.New("document file is required"))
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	defer file.Close()

	doc, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}

	h.answer(c, question, mode, pids, string(doc))
}

func (h *RAGHandler) answer(c *gin.Context, question, mode string, pids []string, extraDoc string) {
	switch mode {
	case "", "hybrid":
		answer, err := h.retriever.HybridAnswer(c.Request.Context(), question, pids, extraDoc)
		if err != nil {
			h.log.Error("hybrid query failed", "error", err)
			RespondError(c, http.StatusInternalServerError, "query_failed", err)
			return
		}
		RespondOK(c, answer)
	case "graph":
		answer, err := h.retriever.GraphAnswer(c.Request.Context(), question)
		if err != nil {
			h.log.Error("graph query failed", "error", err)
			RespondError(c, http.StatusInternalServerError, "query_failed", err)
			return
		}
		RespondOK(c, answer)
	default:
		RespondError(c, http.StatusBadRequest, "invalid_mode", errors.New("mode must be 'hybrid' or 'graph'"))
	}
}

func splitPatientIDs(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
