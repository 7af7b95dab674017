package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/forbiddenlink/mindchain-sub000/internal/agents"
)

// AgentHandler exposes agent profiles, memory and stance history.
type AgentHandler struct {
	agents *agents.Service
	errs   *errorWriter
}

// NewAgentHandler creates the handler.
func NewAgentHandler(svc *agents.Service, log *logrus.Logger, production bool) *AgentHandler {
	return &AgentHandler{
		agents: svc,
		errs:   &errorWriter{log: log, production: production},
	}
}

// GetProfile returns one agent's persona document.
func (h *AgentHandler) GetProfile(c *gin.Context) {
	profile, err := h.agents.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.errs.write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "agent": profile})
}

// UpdateProfile applies a partial merge. Any out-of-range stance or
// unknown tone rejects the whole patch.
func (h *AgentHandler) UpdateProfile(c *gin.Context) {
	var patch agents.ProfileUpdate
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "malformed JSON body", Code: CodeValidation})
		return
	}

	profile, err := h.agents.Update(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		h.errs.write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "agent": profile})
}

// Memory returns the agent's remembered statements for one debate, newest
// first. Degrades to empty when the store is unreachable.
func (h *AgentHandler) Memory(c *gin.Context) {
	limit := int64(20)
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 || n > 200 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be in 1..200", Code: CodeValidation})
			return
		}
		limit = n
	}

	entries, err := h.agents.Memory(c.Request.Context(), c.Param("id"), c.Param("debateId"), limit)
	if err != nil {
		h.errs.write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "memory": entries, "count": len(entries)})
}

// StanceHistory returns the recorded stance trajectory for one (debate,
// agent, topic), oldest first.
func (h *AgentHandler) StanceHistory(c *gin.Context) {
	topic := c.Query("topic")
	if topic == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "topic query parameter is required", Code: CodeValidation})
		return
	}

	points, err := h.agents.StanceHistory(c.Request.Context(), c.Param("debateId"), c.Param("id"), topic)
	if err != nil {
		h.errs.write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "stances": points, "count": len(points)})
}
