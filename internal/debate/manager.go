// Package debate owns the in-memory table of running debates and the
// background turn runners attached to them. All table access goes through
// the Manager; every read-then-mutate sequence runs inside one critical
// section, so two concurrent starts for the same id cannot both win.
package debate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/forbiddenlink/mindchain-sub000/internal/events"
	"github.com/forbiddenlink/mindchain-sub000/internal/metrics"
)

// Named failure conditions. Callers need to tell "try again shortly" apart
// from "system at capacity", so each precondition failure has its own type.
var (
	// ErrDebateExists reports an id collision with a running debate.
	ErrDebateExists = errors.New("debate: id already running")
	// ErrNotFound reports a stop or query for an id not in the live table.
	ErrNotFound = errors.New("debate: not found")
)

// CooldownError reports a start attempt before the global start-cooldown
// elapsed.
type CooldownError struct {
	RetryAfter time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("debate: start cooldown active, retry in %s", e.RetryAfter)
}

// CeilingError reports that the concurrency ceiling would be exceeded.
type CeilingError struct {
	Active     int
	Requested  int
	Max        int
	RetryAfter time.Duration
}

func (e *CeilingError) Error() string {
	return fmt.Sprintf("debate: concurrency ceiling reached (%d active, %d requested, max %d)",
		e.Active, e.Requested, e.Max)
}

// AgentCountError reports a participant list outside the allowed bounds.
type AgentCountError struct {
	Count int
	Max   int
}

func (e *AgentCountError) Error() string {
	return fmt.Sprintf("debate: agent count %d outside 1..%d", e.Count, e.Max)
}

// Status of a live debate. Stopping removes the entry, so "stopped" never
// appears in the table; it exists for API responses.
const (
	StatusRunning = "running"
	StatusStopped = "stopped"
)

// Info is a snapshot of one debate instance.
type Info struct {
	ID         string    `json:"debateId"`
	Topic      string    `json:"topic"`
	Agents     []string  `json:"agents"`
	Status     string    `json:"status"`
	StartedAt  time.Time `json:"startedAt"`
	Messages   int64     `json:"messageCount"`
	FactChecks int64     `json:"factCheckCount"`
}

type instance struct {
	info   Info
	cancel context.CancelFunc
}

// Recorder receives counter events from background tasks. Events for ids
// no longer in the table are dropped, reported by the false return.
type Recorder interface {
	RecordMessage(debateID string) bool
	RecordFactCheck(debateID string) bool
}

// Runner is the background work attached to a running debate. Run must
// return promptly after ctx is cancelled; in-flight generation calls
// finish and discard their result.
type Runner interface {
	Run(ctx context.Context, d Info, rec Recorder)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, d Info, rec Recorder)

func (f RunnerFunc) Run(ctx context.Context, d Info, rec Recorder) { f(ctx, d, rec) }

// Config bounds the lifecycle manager.
type Config struct {
	MaxConcurrent int
	StartCooldown time.Duration
	MaxAgents     int
}

// StartRequest describes one debate to start. An empty ID gets a random
// one.
type StartRequest struct {
	ID     string
	Topic  string
	Agents []string
}

// Manager is the debate lifecycle state machine.
type Manager struct {
	mu        sync.Mutex
	cfg       Config
	debates   map[string]*instance
	lastStart time.Time

	runner  Runner
	sink    events.Sink
	metrics *metrics.Metrics
	log     *logrus.Logger
	now     func() time.Time
	wg      sync.WaitGroup
}

// NewManager creates the manager. sink and m may be nil; runner may be nil
// for a manager that tracks lifecycle only.
func NewManager(cfg Config, runner Runner, sink events.Sink, m *metrics.Metrics, log *logrus.Logger) *Manager {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 10
	}
	if cfg.MaxAgents <= 0 {
		cfg.MaxAgents = 5
	}
	if sink == nil {
		sink = events.Discard
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &Manager{
		cfg:     cfg,
		debates: make(map[string]*instance),
		runner:  runner,
		sink:    sink,
		metrics: m,
		log:     log,
		now:     time.Now,
	}
}

// SetClock replaces the time source, for cooldown tests.
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// admit checks every start precondition for n additional debates. Caller
// holds m.mu.
func (m *Manager) admit(n int) error {
	if len(m.debates)+n > m.cfg.MaxConcurrent {
		return &CeilingError{
			Active:     len(m.debates),
			Requested:  n,
			Max:        m.cfg.MaxConcurrent,
			RetryAfter: 10 * time.Second,
		}
	}
	if m.cfg.StartCooldown > 0 && !m.lastStart.IsZero() {
		elapsed := m.now().Sub(m.lastStart)
		if elapsed < m.cfg.StartCooldown {
			return &CooldownError{RetryAfter: m.cfg.StartCooldown - elapsed}
		}
	}
	return nil
}

// insert adds one instance and spawns its runner. Caller holds m.mu.
func (m *Manager) insert(req StartRequest) Info {
	info := Info{
		ID:        req.ID,
		Topic:     req.Topic,
		Agents:    append([]string(nil), req.Agents...),
		Status:    StatusRunning,
		StartedAt: m.now(),
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.debates[info.ID] = &instance{info: info, cancel: cancel}

	if m.runner != nil {
		m.wg.Add(1)
		go func(d Info) {
			defer m.wg.Done()
			m.runner.Run(ctx, d, m)
		}(info)
	} else {
		cancel()
	}

	m.metrics.DebatesStarted.Inc()
	m.metrics.ActiveDebates.Set(float64(len(m.debates)))
	return info
}

// Start admits and inserts one debate. Exactly one of two concurrent
// starts with the same id succeeds; the other observes ErrDebateExists.
func (m *Manager) Start(req StartRequest) (Info, error) {
	if len(req.Agents) == 0 || len(req.Agents) > m.cfg.MaxAgents {
		return Info{}, &AgentCountError{Count: len(req.Agents), Max: m.cfg.MaxAgents}
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	m.mu.Lock()
	if _, exists := m.debates[req.ID]; exists {
		m.mu.Unlock()
		return Info{}, ErrDebateExists
	}
	if err := m.admit(1); err != nil {
		m.mu.Unlock()
		return Info{}, err
	}
	info := m.insert(req)
	m.lastStart = m.now()
	m.mu.Unlock()

	m.log.WithFields(logrus.Fields{"debate_id": info.ID, "topic": info.Topic}).Info("debate started")
	m.sink.Emit(events.New(events.TypeDebateStarted, info.ID, info))
	return info, nil
}

// StartBatch starts one debate per topic, all sharing the agent list. The
// ceiling is checked against existing + requested before any insert, so an
// oversized batch starts zero debates.
func (m *Manager) StartBatch(topics []string, agentIDs []string) ([]Info, error) {
	if len(agentIDs) == 0 || len(agentIDs) > m.cfg.MaxAgents {
		return nil, &AgentCountError{Count: len(agentIDs), Max: m.cfg.MaxAgents}
	}
	if len(topics) == 0 {
		return nil, errors.New("debate: no topics given")
	}

	m.mu.Lock()
	if err := m.admit(len(topics)); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	infos := make([]Info, 0, len(topics))
	for _, topic := range topics {
		infos = append(infos, m.insert(StartRequest{
			ID:     uuid.NewString(),
			Topic:  topic,
			Agents: agentIDs,
		}))
	}
	m.lastStart = m.now()
	m.mu.Unlock()

	for _, info := range infos {
		m.log.WithFields(logrus.Fields{"debate_id": info.ID, "topic": info.Topic}).Info("debate started")
		m.sink.Emit(events.New(events.TypeDebateStarted, info.ID, info))
	}
	return infos, nil
}

// Stop cancels the debate's background task cooperatively and removes the
// entry. The durable logs are untouched; history outlives the instance.
func (m *Manager) Stop(debateID string) error {
	m.mu.Lock()
	inst, ok := m.debates[debateID]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	inst.cancel()
	delete(m.debates, debateID)
	m.metrics.DebatesStopped.Inc()
	m.metrics.ActiveDebates.Set(float64(len(m.debates)))
	m.mu.Unlock()

	m.log.WithField("debate_id", debateID).Info("debate stopped")
	m.sink.Emit(events.New(events.TypeDebateStopped, debateID, nil))
	return nil
}

// StopAll snapshots and clears the whole table in one critical section and
// returns the stopped ids. A start racing with StopAll either lands after
// the clear or fails with an id collision, never half-applied.
func (m *Manager) StopAll() []string {
	m.mu.Lock()
	ids := make([]string, 0, len(m.debates))
	for id, inst := range m.debates {
		inst.cancel()
		ids = append(ids, id)
	}
	m.debates = make(map[string]*instance)
	m.metrics.DebatesStopped.Add(float64(len(ids)))
	m.metrics.ActiveDebates.Set(0)
	m.mu.Unlock()

	sort.Strings(ids)
	for _, id := range ids {
		m.sink.Emit(events.New(events.TypeDebateStopped, id, nil))
	}
	if len(ids) > 0 {
		m.log.WithField("count", len(ids)).Info("all debates stopped")
	}
	return ids
}

// List snapshots the live table, oldest debate first.
func (m *Manager) List() []Info {
	m.mu.Lock()
	infos := make([]Info, 0, len(m.debates))
	for _, inst := range m.debates {
		info := inst.info
		info.Agents = append([]string(nil), inst.info.Agents...)
		infos = append(infos, info)
	}
	m.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].StartedAt.Equal(infos[j].StartedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].StartedAt.Before(infos[j].StartedAt)
	})
	return infos
}

// Get returns the live snapshot for one id.
func (m *Manager) Get(debateID string) (Info, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.debates[debateID]
	if !ok {
		return Info{}, false
	}
	info := inst.info
	info.Agents = append([]string(nil), inst.info.Agents...)
	return info, true
}

// RecordMessage bumps the message counter for a live debate. Late events
// for a stopped id are dropped silently.
func (m *Manager) RecordMessage(debateID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.debates[debateID]
	if !ok {
		return false
	}
	inst.info.Messages++
	m.metrics.MessagesTotal.Inc()
	return true
}

// RecordFactCheck bumps the fact-check counter for a live debate.
func (m *Manager) RecordFactCheck(debateID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.debates[debateID]
	if !ok {
		return false
	}
	inst.info.FactChecks++
	m.metrics.FactChecksTotal.Inc()
	return true
}

// Shutdown stops every debate and waits for the runners to quiesce or the
// context to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.StopAll()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ Recorder = (*Manager)(nil)
