package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/forbiddenlink/mindchain-sub000/internal/agents"
	"github.com/forbiddenlink/mindchain-sub000/internal/cache"
	"github.com/forbiddenlink/mindchain-sub000/internal/config"
	"github.com/forbiddenlink/mindchain-sub000/internal/debate"
	"github.com/forbiddenlink/mindchain-sub000/internal/events"
	"github.com/forbiddenlink/mindchain-sub000/internal/handlers"
	"github.com/forbiddenlink/mindchain-sub000/internal/llm"
	"github.com/forbiddenlink/mindchain-sub000/internal/metrics"
	"github.com/forbiddenlink/mindchain-sub000/internal/middleware"
	"github.com/forbiddenlink/mindchain-sub000/internal/realtime"
	"github.com/forbiddenlink/mindchain-sub000/internal/router"
	"github.com/forbiddenlink/mindchain-sub000/internal/store"
)

const version = "1.0.0"

func main() {
	cfg := config.Load()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	if level, err := logrus.ParseLevel(cfg.Server.LogLevel); err == nil {
		log.SetLevel(level)
	}

	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("configuration invalid")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	st := store.NewRedisStore(store.RedisOptions{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		MaxRetries: cfg.Redis.MaxRetries,
		OpTimeout:  cfg.Redis.OpTimeout,
	}, log)

	health := st.Health(ctx)
	log.WithFields(logrus.Fields{"status": health.Status, "keys": health.Keys}).Info("storage probe")

	agentSvc := agents.NewService(st, log)
	if err := agentSvc.SeedDefaults(ctx); err != nil {
		// The service still comes up; reads degrade until storage returns.
		log.WithError(err).Warn("agent seeding failed")
	}

	llmClient := llm.NewHTTPClient(llm.HTTPClientConfig{
		BaseURL:    cfg.LLM.BaseURL,
		APIKey:     cfg.LLM.APIKey,
		Model:      cfg.LLM.Model,
		EmbedModel: cfg.LLM.EmbedModel,
		RPS:        cfg.LLM.RPS,
		Burst:      cfg.LLM.Burst,
		Timeout:    cfg.LLM.Timeout,
	}, log)

	semCache := cache.New(st, llmClient, cache.Config{
		IndexName:           cfg.Cache.IndexName,
		SimilarityThreshold: cfg.Cache.SimilarityThreshold,
		TTL:                 cfg.Cache.TTL,
		MaxEntries:          cfg.Cache.MaxEntries,
		TopK:                cfg.Cache.TopK,
	}, m, log)

	bus := events.NewBus(256)
	hub := realtime.NewHub(realtime.Config{
		MaxSessionsPerIP:  cfg.Realtime.MaxSessionsPerIP,
		MaxMessagesPerMin: cfg.Realtime.MaxMessagesPerMin,
	}, bus, m, log)
	go hub.Run()

	runner := debate.NewTurnRunner(st, agentSvc, semCache, llmClient, llmClient,
		bus, m, log, cfg.Debate.TurnInterval, cfg.Debate.FactCheckEvery)
	manager := debate.NewManager(debate.Config{
		MaxConcurrent: cfg.Debate.MaxConcurrent,
		StartCooldown: cfg.Debate.StartCooldown,
		MaxAgents:     cfg.Debate.MaxAgents,
	}, runner, bus, m, log)

	limiter := middleware.NewRateLimiter(m)
	go pruneLoop(ctx, limiter)

	engine := router.New(router.Deps{
		Config:   cfg,
		Debates:  handlers.NewDebateHandler(manager, st, llmClient, log, cfg.Server.Production),
		Agents:   handlers.NewAgentHandler(agentSvc, log, cfg.Server.Production),
		Health:   handlers.NewHealthHandler(st, manager, semCache, bus, version),
		Hub:      hub,
		Limiter:  limiter,
		Registry: registry,
		Log:      log,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.WithField("port", cfg.Server.Port).Info("server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("server shutdown incomplete")
	}
	if err := manager.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("debate shutdown incomplete")
	}
	bus.Close()
	hub.Close()
	if err := st.Close(); err != nil {
		log.WithError(err).Warn("store disconnect failed")
	}

	log.Info("shutdown complete")
}

// pruneLoop bounds the rate limiter's window table.
func pruneLoop(ctx context.Context, limiter *middleware.RateLimiter) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			limiter.Prune(10 * time.Minute)
		}
	}
}
