package debate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forbiddenlink/mindchain-sub000/internal/agents"
	"github.com/forbiddenlink/mindchain-sub000/internal/llm"
	"github.com/forbiddenlink/mindchain-sub000/internal/store"
	"github.com/forbiddenlink/mindchain-sub000/internal/store/storetest"
)

type scriptedGenerator struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (g *scriptedGenerator) GenerateTurn(_ context.Context, req llm.TurnRequest) (*llm.Turn, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.fail {
		return nil, llm.ErrUpstream
	}
	return &llm.Turn{
		Text:       "statement by " + req.AgentID,
		Stance:     0.7,
		TokensUsed: 42,
	}, nil
}

func (g *scriptedGenerator) Summarize(context.Context, string, []string) (string, error) {
	return "", errors.New("not used")
}

type staticChecker struct {
	mu    sync.Mutex
	calls int
}

func (c *staticChecker) Check(_ context.Context, statement string) (*llm.FactCheck, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return &llm.FactCheck{Claim: statement, Verdict: "supported", Confidence: 0.9}, nil
}

type countingRecorder struct {
	mu         sync.Mutex
	messages   int
	factChecks int
}

func (r *countingRecorder) RecordMessage(string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages++
	return true
}

func (r *countingRecorder) RecordFactCheck(string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factChecks++
	return true
}

func (r *countingRecorder) snapshot() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.messages, r.factChecks
}

func runForTurns(t *testing.T, r *TurnRunner, d Info, rec Recorder, wait time.Duration) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(ctx, d, rec)
	}()
	time.Sleep(wait)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop after cancel")
	}
}

func TestRunnerWritesMessagesRoundRobin(t *testing.T) {
	st := storetest.New()
	ag := agents.NewService(st, quietLog())
	require.NoError(t, ag.SeedDefaults(context.Background()))

	gen := &scriptedGenerator{}
	r := NewTurnRunner(st, ag, nil, gen, nil, nil, nil, quietLog(), 5*time.Millisecond, 0)

	rec := &countingRecorder{}
	d := Info{ID: "d1", Topic: "ai-ethics", Agents: []string{"logic", "skeptic"}}
	runForTurns(t, r, d, rec, 40*time.Millisecond)

	entries, err := st.LogRead(context.Background(), store.DebateMessagesKey("d1"), "", "", 100)
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	msgs, _ := rec.snapshot()
	assert.Equal(t, len(entries), msgs)

	// Newest first; the two agents alternate.
	if len(entries) >= 2 {
		assert.NotEqual(t, entries[0].Fields["agent_id"], entries[1].Fields["agent_id"])
	}
	assert.Equal(t, "logic", entries[len(entries)-1].Fields["agent_id"])
}

func TestRunnerRecordsStanceAndMemory(t *testing.T) {
	st := storetest.New()
	ag := agents.NewService(st, quietLog())
	require.NoError(t, ag.SeedDefaults(context.Background()))

	gen := &scriptedGenerator{}
	r := NewTurnRunner(st, ag, nil, gen, nil, nil, nil, quietLog(), 5*time.Millisecond, 0)

	d := Info{ID: "d1", Topic: "ai-ethics", Agents: []string{"logic"}}
	runForTurns(t, r, d, &countingRecorder{}, 30*time.Millisecond)

	mem, err := ag.Memory(context.Background(), "logic", "d1", 10)
	require.NoError(t, err)
	assert.NotEmpty(t, mem)

	points, err := ag.StanceHistory(context.Background(), "d1", "logic", "ai-ethics")
	require.NoError(t, err)
	assert.NotEmpty(t, points)
	assert.Equal(t, 0.7, points[len(points)-1].Value)

	// The generated stance was merged back into the profile.
	p, err := ag.Get(context.Background(), "logic")
	require.NoError(t, err)
	assert.Equal(t, 0.7, p.Stances["ai-ethics"])
}

func TestRunnerFactChecksEveryN(t *testing.T) {
	st := storetest.New()
	ag := agents.NewService(st, quietLog())
	require.NoError(t, ag.SeedDefaults(context.Background()))

	gen := &scriptedGenerator{}
	checker := &staticChecker{}
	r := NewTurnRunner(st, ag, nil, gen, checker, nil, nil, quietLog(), 5*time.Millisecond, 2)

	rec := &countingRecorder{}
	d := Info{ID: "d1", Topic: "ai-ethics", Agents: []string{"logic"}}
	runForTurns(t, r, d, rec, 60*time.Millisecond)

	msgs, checks := rec.snapshot()
	require.Greater(t, msgs, 1)
	// Every second successful turn is checked. Cancellation can land
	// between the final turn and its check, so allow one in flight.
	assert.GreaterOrEqual(t, checks, msgs/2-1)
	assert.LessOrEqual(t, checks, (msgs+1)/2)

	entries, err := st.LogRead(context.Background(), store.DebateFactChecksKey("d1"), "", "", 100)
	require.NoError(t, err)
	require.Len(t, entries, checks)
	assert.Equal(t, "supported", entries[0].Fields["verdict"])
}

func TestRunnerSkipsFailedTurnsAndContinues(t *testing.T) {
	st := storetest.New()
	ag := agents.NewService(st, quietLog())
	require.NoError(t, ag.SeedDefaults(context.Background()))

	gen := &scriptedGenerator{fail: true}
	r := NewTurnRunner(st, ag, nil, gen, nil, nil, nil, quietLog(), 5*time.Millisecond, 0)

	rec := &countingRecorder{}
	d := Info{ID: "d1", Topic: "ai-ethics", Agents: []string{"logic"}}
	runForTurns(t, r, d, rec, 30*time.Millisecond)

	msgs, _ := rec.snapshot()
	assert.Zero(t, msgs)

	gen.mu.Lock()
	calls := gen.calls
	gen.mu.Unlock()
	assert.Greater(t, calls, 1) // the loop kept retrying with later turns

	entries, err := st.LogRead(context.Background(), store.DebateMessagesKey("d1"), "", "", 100)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestManagerStopCancelsRunner(t *testing.T) {
	st := storetest.New()
	ag := agents.NewService(st, quietLog())
	require.NoError(t, ag.SeedDefaults(context.Background()))

	r := NewTurnRunner(st, ag, nil, &scriptedGenerator{}, nil, nil, nil, quietLog(), 5*time.Millisecond, 0)
	m := NewManager(Config{MaxConcurrent: 5, MaxAgents: 5}, r, nil, nil, quietLog())

	_, err := m.Start(StartRequest{ID: "d1", Topic: "ai-ethics", Agents: []string{"logic"}})
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, m.Stop("d1"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))

	// History outlives the instance.
	entries, err := st.LogRead(context.Background(), store.DebateMessagesKey("d1"), "", "", 100)
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
}
