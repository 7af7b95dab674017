package realtime

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forbiddenlink/mindchain-sub000/internal/events"
)

func newTestHub(t *testing.T, cfg Config) (*Hub, *events.Bus, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	bus := events.NewBus(16)
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	hub := NewHub(cfg, bus, nil, log)

	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Run()
	}()

	r := gin.New()
	r.GET("/ws", hub.Handler())
	srv := httptest.NewServer(r)

	t.Cleanup(func() {
		bus.Close()
		hub.Close()
		srv.Close()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("hub.Run did not stop after bus close")
		}
	})

	return hub, bus, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestEventsReachSubscribers(t *testing.T) {
	_, bus, url := newTestHub(t, Config{MaxSessionsPerIP: 5, MaxMessagesPerMin: 60})

	conn := dial(t, url)
	time.Sleep(20 * time.Millisecond) // registration races the emit otherwise

	bus.Emit(events.New(events.TypeDebateStarted, "d1", map[string]any{"topic": "ai"}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev events.Event
	require.NoError(t, json.Unmarshal(payload, &ev))
	assert.Equal(t, events.TypeDebateStarted, ev.Type)
	assert.Equal(t, "d1", ev.DebateID)
}

func TestSessionCapPerAddress(t *testing.T) {
	hub, _, url := newTestHub(t, Config{MaxSessionsPerIP: 2, MaxMessagesPerMin: 60})

	dial(t, url)
	dial(t, url)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 2, hub.Sessions())

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestSlotFreedOnDisconnect(t *testing.T) {
	hub, _, url := newTestHub(t, Config{MaxSessionsPerIP: 1, MaxMessagesPerMin: 60})

	conn := dial(t, url)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 1, hub.Sessions())

	conn.Close()
	require.Eventually(t, func() bool { return hub.Sessions() == 0 },
		2*time.Second, 10*time.Millisecond)

	dial(t, url)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, hub.Sessions())
}

func TestMessageBudgetClosesWithPolicyViolation(t *testing.T) {
	_, _, url := newTestHub(t, Config{MaxSessionsPerIP: 5, MaxMessagesPerMin: 2})

	conn := dial(t, url)
	for i := 0; i < 3; i++ {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hi")))
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue // broadcast frames may arrive first
		}
		var closeErr *websocket.CloseError
		require.ErrorAs(t, err, &closeErr)
		assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
		return
	}
}
