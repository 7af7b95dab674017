// Package handlers maps service operations onto HTTP endpoints and service
// errors onto the shared error envelope.
package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/forbiddenlink/mindchain-sub000/internal/agents"
	"github.com/forbiddenlink/mindchain-sub000/internal/debate"
	"github.com/forbiddenlink/mindchain-sub000/internal/llm"
	"github.com/forbiddenlink/mindchain-sub000/internal/store"
)

// Error codes of the envelope. Validation failures are the caller's fault,
// rate_limit asks for patience, storage and upstream name the failing
// dependency, internal is everything else.
const (
	CodeValidation = "validation"
	CodeRateLimit  = "rate_limit"
	CodeStorage    = "storage"
	CodeUpstream   = "upstream"
	CodeInternal   = "internal"
)

// ErrorResponse is the envelope every failing endpoint returns.
type ErrorResponse struct {
	Success    bool   `json:"success"`
	Error      string `json:"error"`
	Code       string `json:"code"`
	Details    any    `json:"details,omitempty"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

// errorWriter maps service errors to the envelope. In production mode
// internal error text is suppressed; the log keeps the detail.
type errorWriter struct {
	log        *logrus.Logger
	production bool
}

func (w *errorWriter) write(c *gin.Context, err error) {
	var (
		cooldown   *debate.CooldownError
		ceiling    *debate.CeilingError
		agentCount *debate.AgentCountError
		validation *agents.ValidationError
	)

	switch {
	case errors.Is(err, debate.ErrNotFound), errors.Is(err, agents.ErrAgentNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: CodeValidation})

	case errors.Is(err, debate.ErrDebateExists):
		c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error(), Code: CodeValidation})

	case errors.As(err, &agentCount):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: CodeValidation})

	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid profile update",
			Code:    CodeValidation,
			Details: validation.Fields,
		})

	case errors.As(err, &cooldown):
		secs := retrySeconds(cooldown.RetryAfter)
		c.Header("Retry-After", strconv.Itoa(secs))
		c.JSON(http.StatusTooManyRequests, ErrorResponse{
			Error:      err.Error(),
			Code:       CodeRateLimit,
			RetryAfter: secs,
		})

	case errors.As(err, &ceiling):
		secs := retrySeconds(ceiling.RetryAfter)
		c.Header("Retry-After", strconv.Itoa(secs))
		c.JSON(http.StatusTooManyRequests, ErrorResponse{
			Error:      err.Error(),
			Code:       CodeRateLimit,
			RetryAfter: secs,
		})

	case errors.Is(err, store.ErrUnavailable):
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: "storage unavailable, please retry",
			Code:  CodeStorage,
		})

	case errors.Is(err, llm.ErrUpstream):
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: "generation service unavailable, please retry",
			Code:  CodeUpstream,
		})

	default:
		w.log.WithError(err).Error("unhandled request error")
		msg := err.Error()
		if w.production {
			msg = "internal server error"
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: msg, Code: CodeInternal})
	}
}

func retrySeconds(d time.Duration) int {
	secs := int(d.Seconds())
	if secs < 1 {
		secs = 1
	}
	return secs
}
