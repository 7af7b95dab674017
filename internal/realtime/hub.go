// Package realtime pushes debate events to WebSocket subscribers. Clients
// are read-mostly: they receive the event stream and may send occasional
// control messages, bounded by a per-connection message budget.
package realtime

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/forbiddenlink/mindchain-sub000/internal/events"
	"github.com/forbiddenlink/mindchain-sub000/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
)

// Config bounds realtime sessions.
type Config struct {
	MaxSessionsPerIP  int
	MaxMessagesPerMin int
}

// Hub upgrades connections, fans the event bus out to them, and enforces
// the session and message budgets.
type Hub struct {
	cfg      Config
	bus      *events.Bus
	metrics  *metrics.Metrics
	log      *logrus.Logger
	upgrader websocket.Upgrader

	mu        sync.Mutex
	perIP     map[string]int
	conns     map[*client]struct{}
	closed    bool
	closeOnce sync.Once
	wg        sync.WaitGroup
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	ip   string
}

// NewHub creates the hub.
func NewHub(cfg Config, bus *events.Bus, m *metrics.Metrics, log *logrus.Logger) *Hub {
	if cfg.MaxSessionsPerIP <= 0 {
		cfg.MaxSessionsPerIP = 5
	}
	if cfg.MaxMessagesPerMin <= 0 {
		cfg.MaxMessagesPerMin = 60
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &Hub{
		cfg:     cfg,
		bus:     bus,
		metrics: m,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		perIP: make(map[string]int),
		conns: make(map[*client]struct{}),
	}
}

// Handler is the gin endpoint that upgrades to WebSocket. The per-IP
// session cap is enforced before the upgrade.
func (h *Hub) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()

		if !h.reserve(ip) {
			h.metrics.RateLimited.Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"error":   "too many concurrent sessions from this address",
				"code":    "rate_limit",
			})
			return
		}

		conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			h.release(ip)
			h.log.WithError(err).Debug("websocket upgrade failed")
			return
		}

		cl := &client{conn: conn, send: make(chan []byte, sendBuffer), ip: ip}
		if !h.register(cl) {
			conn.Close()
			h.release(ip)
			return
		}

		h.wg.Add(2)
		go h.writePump(cl)
		go h.readPump(cl)
	}
}

// reserve takes a session slot for the address, failing at the cap.
func (h *Hub) reserve(ip string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || h.perIP[ip] >= h.cfg.MaxSessionsPerIP {
		return false
	}
	h.perIP[ip]++
	return true
}

func (h *Hub) release(ip string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.perIP[ip] <= 1 {
		delete(h.perIP, ip)
	} else {
		h.perIP[ip]--
	}
}

func (h *Hub) register(cl *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.conns[cl] = struct{}{}
	return true
}

func (h *Hub) unregister(cl *client) {
	h.mu.Lock()
	_, ok := h.conns[cl]
	if ok {
		delete(h.conns, cl)
		close(cl.send)
	}
	h.mu.Unlock()
	if ok {
		h.release(cl.ip)
	}
}

// Run fans bus events out to connected clients until the bus closes. The
// subscription channel drops on overflow upstream; a slow client's own
// buffer dropping is accounted here.
func (h *Hub) Run() {
	ch, cancel := h.bus.Subscribe()
	defer cancel()

	for event := range ch {
		payload, err := json.Marshal(event)
		if err != nil {
			h.log.WithError(err).Warn("event serialization failed")
			continue
		}

		h.mu.Lock()
		for cl := range h.conns {
			select {
			case cl.send <- payload:
			default:
				h.metrics.EventsDropped.Inc()
			}
		}
		h.mu.Unlock()
	}
}

// readPump drains inbound frames and enforces the per-connection message
// budget: exceeding it closes the session with a policy violation.
func (h *Hub) readPump(cl *client) {
	defer h.wg.Done()
	defer func() {
		h.unregister(cl)
		cl.conn.Close()
	}()

	cl.conn.SetReadLimit(maxMessageSize)
	cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	windowStart := time.Now()
	count := 0
	for {
		if _, _, err := cl.conn.ReadMessage(); err != nil {
			return
		}

		now := time.Now()
		if now.Sub(windowStart) >= time.Minute {
			windowStart = now
			count = 0
		}
		count++
		if count > h.cfg.MaxMessagesPerMin {
			h.metrics.RateLimited.Inc()
			msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "message rate exceeded")
			cl.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			return
		}
	}
}

func (h *Hub) writePump(cl *client) {
	defer h.wg.Done()
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cl.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-cl.send:
			cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				cl.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := cl.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Sessions reports the number of connected clients.
func (h *Hub) Sessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Close tears every session down and waits for the pumps to exit.
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		h.closed = true
		for cl := range h.conns {
			delete(h.conns, cl)
			close(cl.send)
			cl.conn.Close()
		}
		h.perIP = make(map[string]int)
		h.mu.Unlock()
	})
	h.wg.Wait()
}
