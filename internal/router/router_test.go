package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forbiddenlink/mindchain-sub000/internal/agents"
	"github.com/forbiddenlink/mindchain-sub000/internal/config"
	"github.com/forbiddenlink/mindchain-sub000/internal/debate"
	"github.com/forbiddenlink/mindchain-sub000/internal/handlers"
	"github.com/forbiddenlink/mindchain-sub000/internal/llm"
	"github.com/forbiddenlink/mindchain-sub000/internal/middleware"
	"github.com/forbiddenlink/mindchain-sub000/internal/store"
	"github.com/forbiddenlink/mindchain-sub000/internal/store/storetest"
)

func init() { gin.SetMode(gin.TestMode) }

type stubGenerator struct{}

func (stubGenerator) GenerateTurn(_ context.Context, req llm.TurnRequest) (*llm.Turn, error) {
	return &llm.Turn{Text: "a point about " + req.Topic, Stance: 0.5, TokensUsed: 10}, nil
}

func (stubGenerator) Summarize(_ context.Context, topic string, messages []string) (string, error) {
	return "summary of " + topic, nil
}

type testEnv struct {
	engine  http.Handler
	store   *storetest.Store
	manager *debate.Manager
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	st := storetest.New()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	agentSvc := agents.NewService(st, log)
	require.NoError(t, agentSvc.SeedDefaults(context.Background()))

	manager := debate.NewManager(debate.Config{MaxConcurrent: 3, MaxAgents: 5}, nil, nil, nil, log)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		manager.Shutdown(ctx)
	})

	cfg := config.Load()
	cfg.Server.Production = false

	engine := New(Deps{
		Config:   cfg,
		Debates:  handlers.NewDebateHandler(manager, st, stubGenerator{}, log, false),
		Agents:   handlers.NewAgentHandler(agentSvc, log, false),
		Health:   handlers.NewHealthHandler(st, manager, nil, nil, "test"),
		Limiter:  middleware.NewRateLimiter(nil),
		Registry: prometheus.NewRegistry(),
		Log:      log,
	})
	return &testEnv{engine: engine, store: st, manager: manager}
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	req.RemoteAddr = "10.1.1.1:5000"
	e.engine.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestDebateLifecycleOverHTTP(t *testing.T) {
	env := newEnv(t)

	w := env.do(http.MethodPost, "/api/debate/start",
		`{"debateId":"d1","topic":"ai-ethics","agents":["logic","skeptic"]}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	// Duplicate id conflicts.
	w = env.do(http.MethodPost, "/api/debate/start",
		`{"debateId":"d1","topic":"ai-ethics","agents":["logic"]}`)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"validation"`)

	w = env.do(http.MethodGet, "/api/debates/active", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(1), body["count"])

	w = env.do(http.MethodPost, "/api/debate/d1/stop", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(http.MethodPost, "/api/debate/d1/stop", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCeilingReturns429WithRetryAfter(t *testing.T) {
	env := newEnv(t)

	for _, id := range []string{"d1", "d2", "d3"} {
		w := env.do(http.MethodPost, "/api/debate/start",
			`{"debateId":"`+id+`","topic":"t","agents":["logic"]}`)
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := env.do(http.MethodPost, "/api/debate/start",
		`{"debateId":"d4","topic":"t","agents":["logic"]}`)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), `"code":"rate_limit"`)
}

func TestValidationRejectsBeforeManager(t *testing.T) {
	env := newEnv(t)

	w := env.do(http.MethodPost, "/api/debate/start", `{"topic":"","agents":[]}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"validation"`)
	assert.Empty(t, env.manager.List())
}

func TestBatchStartAndStopAll(t *testing.T) {
	env := newEnv(t)

	w := env.do(http.MethodPost, "/api/debates/start-multiple",
		`{"topics":["t1","t2"],"agents":["logic","optimist"]}`)
	require.Equal(t, http.StatusCreated, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(2), body["count"])

	w = env.do(http.MethodPost, "/api/debates/stop-all", "")
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.Equal(t, float64(2), body["count"])
	assert.Empty(t, env.manager.List())
}

func TestMessagesServedAfterStop(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	w := env.do(http.MethodPost, "/api/debate/start",
		`{"debateId":"d1","topic":"t","agents":["logic"]}`)
	require.Equal(t, http.StatusCreated, w.Code)

	_, err := env.store.LogAppend(ctx, store.DebateMessagesKey("d1"), map[string]any{
		"agent_id": "logic", "text": "opening statement",
	})
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/api/debate/d1/stop", "").Code)

	// History outlives the instance.
	w = env.do(http.MethodGet, "/api/debate/d1/messages", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(1), body["count"])
}

func TestMessagesDegradeToEmptyWhenStoreDown(t *testing.T) {
	env := newEnv(t)
	env.store.SetDegraded(true)

	w := env.do(http.MethodGet, "/api/debate/d1/messages", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(0), body["count"])
}

func TestAgentProfileRoundTrip(t *testing.T) {
	env := newEnv(t)

	w := env.do(http.MethodGet, "/api/agent/logic/profile", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"analytical"`)

	w = env.do(http.MethodPost, "/api/agent/logic/update",
		`{"name":"Logic Prime","stances":{"climate":0.9}}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Logic Prime")

	// Out-of-range stance rejects in full.
	w = env.do(http.MethodPost, "/api/agent/logic/update", `{"stances":{"climate":1.5}}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "stances.climate")

	w = env.do(http.MethodGet, "/api/agent/ghost/profile", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSummarizeDebate(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	w := env.do(http.MethodPost, "/api/debate/start",
		`{"debateId":"d1","topic":"ai-ethics","agents":["logic"]}`)
	require.Equal(t, http.StatusCreated, w.Code)

	for _, text := range []string{"opening", "rebuttal", "closing"} {
		_, err := env.store.LogAppend(ctx, store.DebateMessagesKey("d1"), map[string]any{
			"agent_id": "logic", "text": text,
		})
		require.NoError(t, err)
	}

	// Empty body means the default window.
	w = env.do(http.MethodPost, "/api/debate/d1/summarize", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Contains(t, body["summary"], "summary of ai-ethics")
	assert.Equal(t, float64(3), body["messageCount"])

	// maxMessages bounds the window from the newest end.
	w = env.do(http.MethodPost, "/api/debate/d1/summarize", `{"maxMessages":2}`)
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.Equal(t, float64(2), body["messageCount"])

	// Out-of-range maxMessages is a validation error.
	w = env.do(http.MethodPost, "/api/debate/d1/summarize", `{"maxMessages":1000}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"validation"`)

	// Unknown debate with no history is a 404.
	w = env.do(http.MethodPost, "/api/debate/ghost/summarize", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthReportsDegradedStorage(t *testing.T) {
	env := newEnv(t)

	w := env.do(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)

	env.store.SetDegraded(true)
	w = env.do(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"degraded"`)
}

func TestMetricsEndpointExposed(t *testing.T) {
	env := newEnv(t)

	w := env.do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
}
