package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/forbiddenlink/mindchain-sub000/internal/debate"
	"github.com/forbiddenlink/mindchain-sub000/internal/llm"
	"github.com/forbiddenlink/mindchain-sub000/internal/store"
)

// DebateHandler exposes the debate lifecycle over HTTP.
type DebateHandler struct {
	manager   *debate.Manager
	store     store.Store
	generator llm.Generator
	errs      *errorWriter
}

// NewDebateHandler creates the handler. generator may be nil; summarize
// then reports upstream unavailable.
func NewDebateHandler(m *debate.Manager, st store.Store, gen llm.Generator, log *logrus.Logger, production bool) *DebateHandler {
	return &DebateHandler{
		manager:   m,
		store:     st,
		generator: gen,
		errs:      &errorWriter{log: log, production: production},
	}
}

// StartRequest is the debate-start payload.
type StartRequest struct {
	DebateID string   `json:"debateId"`
	Topic    string   `json:"topic"`
	Agents   []string `json:"agents"`
}

// StartBatchRequest is the multi-topic start payload.
type StartBatchRequest struct {
	Topics []string `json:"topics"`
	Agents []string `json:"agents"`
}

// Start godoc
// @Summary Start a debate
// @Tags debates
// @Accept json
// @Produce json
// @Success 201 {object} debate.Info
// @Failure 409 {object} ErrorResponse
// @Failure 429 {object} ErrorResponse
// @Router /api/debate/start [post]
func (h *DebateHandler) Start(c *gin.Context) {
	var req StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "malformed JSON body", Code: CodeValidation})
		return
	}

	info, err := h.manager.Start(debate.StartRequest{
		ID:     req.DebateID,
		Topic:  req.Topic,
		Agents: req.Agents,
	})
	if err != nil {
		h.errs.write(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"success":       true,
		"debate":        info,
		"activeDebates": len(h.manager.List()),
	})
}

// StartBatch starts one debate per topic with a shared agent roster. The
// batch is atomic: over the ceiling, nothing starts.
func (h *DebateHandler) StartBatch(c *gin.Context) {
	var req StartBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "malformed JSON body", Code: CodeValidation})
		return
	}

	infos, err := h.manager.StartBatch(req.Topics, req.Agents)
	if err != nil {
		h.errs.write(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "debates": infos, "count": len(infos)})
}

// Stop ends one debate.
func (h *DebateHandler) Stop(c *gin.Context) {
	id := c.Param("id")
	if err := h.manager.Stop(id); err != nil {
		h.errs.write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "debateId": id, "status": debate.StatusStopped})
}

// StopAll ends every running debate.
func (h *DebateHandler) StopAll(c *gin.Context) {
	ids := h.manager.StopAll()
	c.JSON(http.StatusOK, gin.H{"success": true, "stopped": ids, "count": len(ids)})
}

// ListActive returns a snapshot of the running debates.
func (h *DebateHandler) ListActive(c *gin.Context) {
	infos := h.manager.List()
	c.JSON(http.StatusOK, gin.H{"success": true, "debates": infos, "count": len(infos)})
}

// Messages returns a debate's message history, newest first. History is
// served for stopped debates too; the log outlives the instance. When the
// store is unreachable the list degrades to empty.
func (h *DebateHandler) Messages(c *gin.Context) {
	id := c.Param("id")
	limit := int64(50)
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 || n > 500 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be in 1..500", Code: CodeValidation})
			return
		}
		limit = n
	}

	entries, err := h.store.LogRead(c.Request.Context(), store.DebateMessagesKey(id), "", "", limit)
	if err != nil {
		h.errs.write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "debateId": id, "messages": entries, "count": len(entries)})
}

// FactChecks returns a debate's recorded fact-check verdicts, newest first.
func (h *DebateHandler) FactChecks(c *gin.Context) {
	id := c.Param("id")
	entries, err := h.store.LogRead(c.Request.Context(), store.DebateFactChecksKey(id), "", "", 100)
	if err != nil {
		h.errs.write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "debateId": id, "factChecks": entries, "count": len(entries)})
}

// SummarizeRequest is the optional summarize payload.
type SummarizeRequest struct {
	MaxMessages int64 `json:"maxMessages"`
}

// Summarize condenses the debate so far into a short synthesis.
func (h *DebateHandler) Summarize(c *gin.Context) {
	id := c.Param("id")
	if h.generator == nil {
		h.errs.write(c, llm.ErrUpstream)
		return
	}

	// The body is optional; absent or empty means the default window.
	limit := int64(100)
	var req SummarizeRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "malformed JSON body", Code: CodeValidation})
		return
	}
	if req.MaxMessages != 0 {
		if req.MaxMessages < 0 || req.MaxMessages > 500 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "maxMessages must be in 1..500", Code: CodeValidation})
			return
		}
		limit = req.MaxMessages
	}

	info, running := h.manager.Get(id)
	topic := info.Topic

	entries, err := h.store.LogRead(c.Request.Context(), store.DebateMessagesKey(id), "", "", limit)
	if err != nil {
		h.errs.write(c, err)
		return
	}
	if len(entries) == 0 && !running {
		h.errs.write(c, debate.ErrNotFound)
		return
	}

	// Oldest first for the summary prompt.
	texts := make([]string, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		if text, ok := entries[i].Fields["text"].(string); ok {
			texts = append(texts, text)
		}
	}

	summary, err := h.generator.Summarize(c.Request.Context(), topic, texts)
	if err != nil {
		h.errs.write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "debateId": id, "summary": summary, "messageCount": len(texts)})
}
