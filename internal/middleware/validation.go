package middleware

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// ValidationConfig bounds request payloads before they reach a handler.
type ValidationConfig struct {
	MaxBodySize    int64
	MaxTopicLength int
	MaxAgents      int
	MaxBatchTopics int
}

// DefaultValidationConfig returns the standard payload bounds.
func DefaultValidationConfig() ValidationConfig {
	return ValidationConfig{
		MaxBodySize:    1 << 20, // 1MB
		MaxTopicLength: 500,
		MaxAgents:      5,
		MaxBatchTopics: 5,
	}
}

// idPattern is the accepted shape for debate and agent ids.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// FieldError names one invalid field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Validator checks request payloads against the configured bounds.
type Validator struct {
	cfg ValidationConfig
}

// NewValidator creates a validator.
func NewValidator(cfg ValidationConfig) *Validator {
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = 1 << 20
	}
	if cfg.MaxTopicLength <= 0 {
		cfg.MaxTopicLength = 500
	}
	if cfg.MaxAgents <= 0 {
		cfg.MaxAgents = 5
	}
	if cfg.MaxBatchTopics <= 0 {
		cfg.MaxBatchTopics = 5
	}
	return &Validator{cfg: cfg}
}

// BodySize rejects oversized payloads before reading them.
func (v *Validator) BodySize() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > v.cfg.MaxBodySize {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"success": false,
				"error":   fmt.Sprintf("request body exceeds %d bytes", v.cfg.MaxBodySize),
				"code":    "validation",
			})
			return
		}
		c.Next()
	}
}

// startRequest mirrors the debate-start payload for validation only.
type startRequest struct {
	DebateID string   `json:"debateId"`
	Topic    string   `json:"topic"`
	Agents   []string `json:"agents"`
}

// batchRequest mirrors the batch-start payload for validation only.
type batchRequest struct {
	Topics []string `json:"topics"`
	Agents []string `json:"agents"`
}

// DebateStart validates the single-debate start payload. The body is
// restored for the handler after reading.
func (v *Validator) DebateStart() gin.HandlerFunc {
	return func(c *gin.Context) {
		body, ok := v.readBody(c)
		if !ok {
			return
		}

		var req startRequest
		if err := json.Unmarshal(body, &req); err != nil {
			abortMalformed(c)
			return
		}

		var errs []FieldError
		if req.DebateID != "" && !idPattern.MatchString(req.DebateID) {
			errs = append(errs, FieldError{"debateId", "must match [A-Za-z0-9_-]{1,64}"})
		}
		errs = append(errs, v.checkTopic("topic", req.Topic)...)
		errs = append(errs, v.checkAgents(req.Agents)...)
		if len(errs) > 0 {
			abortInvalid(c, errs)
			return
		}

		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		c.Next()
	}
}

// DebateStartBatch validates the multi-topic start payload.
func (v *Validator) DebateStartBatch() gin.HandlerFunc {
	return func(c *gin.Context) {
		body, ok := v.readBody(c)
		if !ok {
			return
		}

		var req batchRequest
		if err := json.Unmarshal(body, &req); err != nil {
			abortMalformed(c)
			return
		}

		var errs []FieldError
		if len(req.Topics) == 0 {
			errs = append(errs, FieldError{"topics", "at least one topic is required"})
		}
		if len(req.Topics) > v.cfg.MaxBatchTopics {
			errs = append(errs, FieldError{"topics", fmt.Sprintf("at most %d topics per batch", v.cfg.MaxBatchTopics)})
		}
		for i, topic := range req.Topics {
			errs = append(errs, v.checkTopic(fmt.Sprintf("topics[%d]", i), topic)...)
		}
		errs = append(errs, v.checkAgents(req.Agents)...)
		if len(errs) > 0 {
			abortInvalid(c, errs)
			return
		}

		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		c.Next()
	}
}

// PathID validates the :id path parameter.
func PathID(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !idPattern.MatchString(c.Param(param)) {
			abortInvalid(c, []FieldError{{param, "must match [A-Za-z0-9_-]{1,64}"}})
			return
		}
		c.Next()
	}
}

func (v *Validator) readBody(c *gin.Context) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, v.cfg.MaxBodySize+1))
	if err != nil {
		abortMalformed(c)
		return nil, false
	}
	if int64(len(body)) > v.cfg.MaxBodySize {
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
			"success": false,
			"error":   fmt.Sprintf("request body exceeds %d bytes", v.cfg.MaxBodySize),
			"code":    "validation",
		})
		return nil, false
	}
	return body, true
}

func (v *Validator) checkTopic(field, topic string) []FieldError {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return []FieldError{{field, "topic is required"}}
	}
	if len(topic) > v.cfg.MaxTopicLength {
		return []FieldError{{field, fmt.Sprintf("at most %d characters", v.cfg.MaxTopicLength)}}
	}
	return nil
}

func (v *Validator) checkAgents(agents []string) []FieldError {
	var errs []FieldError
	if len(agents) == 0 {
		errs = append(errs, FieldError{"agents", "at least one agent is required"})
	}
	if len(agents) > v.cfg.MaxAgents {
		errs = append(errs, FieldError{"agents", fmt.Sprintf("at most %d agents", v.cfg.MaxAgents)})
	}
	for i, id := range agents {
		if !idPattern.MatchString(id) {
			errs = append(errs, FieldError{fmt.Sprintf("agents[%d]", i), "must match [A-Za-z0-9_-]{1,64}"})
		}
	}
	return errs
}

func abortMalformed(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
		"success": false,
		"error":   "malformed JSON body",
		"code":    "validation",
	})
}

func abortInvalid(c *gin.Context, errs []FieldError) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
		"success": false,
		"error":   "invalid request",
		"code":    "validation",
		"details": errs,
	})
}
