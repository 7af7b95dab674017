// Package router wires handlers, admission middleware and the metrics
// endpoint into one gin engine.
package router

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/forbiddenlink/mindchain-sub000/internal/config"
	"github.com/forbiddenlink/mindchain-sub000/internal/handlers"
	"github.com/forbiddenlink/mindchain-sub000/internal/middleware"
	"github.com/forbiddenlink/mindchain-sub000/internal/realtime"
)

// Deps carries everything the router mounts.
type Deps struct {
	Config   *config.Config
	Debates  *handlers.DebateHandler
	Agents   *handlers.AgentHandler
	Health   *handlers.HealthHandler
	Hub      *realtime.Hub
	Limiter  *middleware.RateLimiter
	Registry *prometheus.Registry
	Log      *logrus.Logger
}

// New builds the engine. The admission order is general limit, then the
// per-group limits, then payload validation, then the handler.
func New(d Deps) *gin.Engine {
	if d.Config.Server.Production {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(d.Log))

	general := middleware.Policy{
		Name:     "general",
		Requests: d.Config.Rate.General.Requests,
		Window:   d.Config.Rate.General.Window,
	}
	apiPolicy := middleware.Policy{
		Name:     "api",
		Requests: d.Config.Rate.API.Requests,
		Window:   d.Config.Rate.API.Window,
	}
	genPolicy := middleware.Policy{
		Name:     "generation",
		Requests: d.Config.Rate.Generation.Requests,
		Window:   d.Config.Rate.Generation.Window,
	}
	engine.Use(d.Limiter.Middleware(general))

	validator := middleware.NewValidator(middleware.ValidationConfig{
		MaxTopicLength: 500,
		MaxAgents:      d.Config.Debate.MaxAgents,
		MaxBatchTopics: d.Config.Debate.MaxBatchTopics,
	})

	engine.GET("/health", d.Health.Health)
	if d.Registry != nil {
		engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Registry, promhttp.HandlerOpts{})))
	}
	if d.Hub != nil {
		engine.GET("/ws", d.Hub.Handler())
	}

	api := engine.Group("/api", d.Limiter.Middleware(apiPolicy))
	{
		api.POST("/debate/start",
			d.Limiter.Middleware(genPolicy), validator.BodySize(), validator.DebateStart(), d.Debates.Start)
		api.POST("/debates/start-multiple",
			d.Limiter.Middleware(genPolicy), validator.BodySize(), validator.DebateStartBatch(), d.Debates.StartBatch)
		api.POST("/debate/:id/stop", middleware.PathID("id"), d.Debates.Stop)
		api.POST("/debates/stop-all", d.Debates.StopAll)
		api.GET("/debates/active", d.Debates.ListActive)
		api.GET("/debate/:id/messages", middleware.PathID("id"), d.Debates.Messages)
		api.GET("/debate/:id/fact-checks", middleware.PathID("id"), d.Debates.FactChecks)
		api.POST("/debate/:id/summarize",
			d.Limiter.Middleware(genPolicy), middleware.PathID("id"), d.Debates.Summarize)

		api.GET("/agent/:id/profile", middleware.PathID("id"), d.Agents.GetProfile)
		api.POST("/agent/:id/update", middleware.PathID("id"), validator.BodySize(), d.Agents.UpdateProfile)
		api.GET("/agent/:id/memory/:debateId",
			middleware.PathID("id"), middleware.PathID("debateId"), d.Agents.Memory)
		api.GET("/agent/:id/stances/:debateId",
			middleware.PathID("id"), middleware.PathID("debateId"), d.Agents.StanceHistory)

		api.GET("/cache/stats", d.Health.CacheStats)
	}

	return engine
}

// requestLogger logs one line per request with latency and status.
func requestLogger(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
			"ip":      c.ClientIP(),
		})
		if c.Writer.Status() >= 500 {
			entry.Error("request failed")
		} else {
			entry.Debug("request completed")
		}
	}
}
