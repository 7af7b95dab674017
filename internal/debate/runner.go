package debate

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/forbiddenlink/mindchain-sub000/internal/agents"
	"github.com/forbiddenlink/mindchain-sub000/internal/cache"
	"github.com/forbiddenlink/mindchain-sub000/internal/events"
	"github.com/forbiddenlink/mindchain-sub000/internal/llm"
	"github.com/forbiddenlink/mindchain-sub000/internal/metrics"
	"github.com/forbiddenlink/mindchain-sub000/internal/store"
)

// historyWindow is how many recent statements the generator sees.
const historyWindow = 10

// TurnRunner drives one debate: agents speak round-robin at a fixed
// interval, statements land in the durable log, and every Nth turn the
// latest statement goes through the fact checker.
type TurnRunner struct {
	store       store.Store
	agents      *agents.Service
	cache       *cache.SemanticCache
	generator   llm.Generator
	factChecker llm.FactChecker
	sink        events.Sink
	metrics     *metrics.Metrics
	log         *logrus.Logger

	turnInterval   time.Duration
	factCheckEvery int
}

// NewTurnRunner creates the runner. cache and checker may be nil; caching
// and fact checking are then skipped.
func NewTurnRunner(
	st store.Store,
	ag *agents.Service,
	c *cache.SemanticCache,
	gen llm.Generator,
	checker llm.FactChecker,
	sink events.Sink,
	m *metrics.Metrics,
	log *logrus.Logger,
	turnInterval time.Duration,
	factCheckEvery int,
) *TurnRunner {
	if sink == nil {
		sink = events.Discard
	}
	if m == nil {
		m = metrics.NewNop()
	}
	if turnInterval <= 0 {
		turnInterval = 8 * time.Second
	}
	return &TurnRunner{
		store:          st,
		agents:         ag,
		cache:          c,
		generator:      gen,
		factChecker:    checker,
		sink:           sink,
		metrics:        m,
		log:            log,
		turnInterval:   turnInterval,
		factCheckEvery: factCheckEvery,
	}
}

// Run executes the turn loop until ctx is cancelled. A failed turn is
// logged and skipped; the loop keeps going with the next agent.
func (r *TurnRunner) Run(ctx context.Context, d Info, rec Recorder) {
	log := r.log.WithFields(logrus.Fields{"debate_id": d.ID, "topic": d.Topic})

	var history []string
	turn := 0
	for {
		agentID := d.Agents[turn%len(d.Agents)]
		text, ok := r.takeTurn(ctx, d, agentID, history, rec)
		if ctx.Err() != nil {
			return
		}
		if ok {
			history = append(history, text)
			if len(history) > historyWindow {
				history = history[len(history)-historyWindow:]
			}
			if r.factChecker != nil && r.factCheckEvery > 0 && (turn+1)%r.factCheckEvery == 0 {
				r.factCheck(ctx, d, agentID, text, rec)
			}
		} else {
			r.metrics.TurnFailures.Inc()
			log.WithField("agent_id", agentID).Warn("turn skipped")
		}
		turn++

		select {
		case <-ctx.Done():
			return
		case <-time.After(r.turnInterval):
		}
	}
}

// takeTurn produces and records one statement. Returns the statement text
// and whether the turn succeeded.
func (r *TurnRunner) takeTurn(ctx context.Context, d Info, agentID string, history []string, rec Recorder) (string, bool) {
	profile, err := r.agents.Get(ctx, agentID)
	if err != nil {
		r.log.WithError(err).WithField("agent_id", agentID).Warn("agent profile unavailable")
		return "", false
	}

	req := llm.TurnRequest{
		DebateID:  d.ID,
		Topic:     d.Topic,
		AgentID:   profile.ID,
		AgentName: profile.Name,
		Role:      profile.Role,
		Tone:      string(profile.Tone),
		Stance:    profile.Stances[d.Topic],
		Biases:    profile.Biases,
		History:   history,
	}

	result, cached := r.generate(ctx, req)
	if result == nil {
		return "", false
	}

	ts := time.Now().UnixMilli()
	if _, err := r.store.LogAppend(ctx, store.DebateMessagesKey(d.ID), map[string]any{
		"agent_id":  agentID,
		"agent":     profile.Name,
		"text":      result.Text,
		"stance":    result.Stance,
		"cached":    cached,
		"timestamp": ts,
	}); err != nil {
		r.log.WithError(err).WithField("debate_id", d.ID).Warn("message write failed")
		return "", false
	}

	if !rec.RecordMessage(d.ID) {
		// Debate was stopped while we were generating; the message stays
		// in the durable log but no live counters move.
		return result.Text, true
	}

	r.agents.RecordStance(ctx, d.ID, agentID, d.Topic, result.Stance)
	if err := r.agents.RecordMemory(ctx, agentID, d.ID, result.Text); err != nil {
		r.log.WithError(err).WithField("agent_id", agentID).Debug("memory write failed")
	}
	if _, err := r.agents.Update(ctx, agentID, agents.ProfileUpdate{
		Stances: map[string]float64{d.Topic: result.Stance},
	}); err != nil {
		r.log.WithError(err).WithField("agent_id", agentID).Debug("stance merge failed")
	}

	r.sink.Emit(events.New(events.TypeDebateMessage, d.ID, map[string]any{
		"agent":     profile.Name,
		"text":      result.Text,
		"stance":    result.Stance,
		"cached":    cached,
		"timestamp": ts,
	}).WithAgent(agentID))
	return result.Text, true
}

// generate serves the turn from the semantic cache when possible,
// otherwise calls the generator and caches the fresh result. The cached
// flag reports which path produced the statement.
func (r *TurnRunner) generate(ctx context.Context, req llm.TurnRequest) (*llm.Turn, bool) {
	// Cache key: topic, speaker and the statement being replied to. Two
	// agents reacting to the same statement on the same topic embed apart,
	// two near-identical exchanges embed together.
	last := ""
	if len(req.History) > 0 {
		last = req.History[len(req.History)-1]
	}
	prompt := req.Topic + "|" + req.AgentID + "|" + last

	if r.cache != nil {
		if hit, ok := r.cache.Lookup(ctx, prompt); ok {
			return &llm.Turn{Text: hit.Response, Stance: req.Stance, TokensUsed: 0}, true
		}
	}

	turn, err := r.generator.GenerateTurn(ctx, req)
	if err != nil {
		if ctx.Err() == nil {
			r.log.WithError(err).WithField("agent_id", req.AgentID).Warn("generation failed")
		}
		return nil, false
	}

	if r.cache != nil {
		if err := r.cache.Store(ctx, prompt, turn.Text, turn.TokensUsed); err != nil {
			r.log.WithError(err).Debug("cache store failed")
		}
	}
	return turn, false
}

// factCheck verifies the latest statement and records the verdict.
func (r *TurnRunner) factCheck(ctx context.Context, d Info, agentID, text string, rec Recorder) {
	check, err := r.factChecker.Check(ctx, text)
	if err != nil {
		if ctx.Err() == nil {
			r.log.WithError(err).WithField("debate_id", d.ID).Warn("fact check failed")
		}
		return
	}

	if _, err := r.store.LogAppend(ctx, store.DebateFactChecksKey(d.ID), map[string]any{
		"agent_id":   agentID,
		"claim":      check.Claim,
		"verdict":    check.Verdict,
		"confidence": check.Confidence,
	}); err != nil {
		r.log.WithError(err).WithField("debate_id", d.ID).Warn("fact check write failed")
		return
	}

	if !rec.RecordFactCheck(d.ID) {
		return
	}
	r.sink.Emit(events.New(events.TypeDebateFactCheck, d.ID, map[string]any{
		"claim":      check.Claim,
		"verdict":    check.Verdict,
		"confidence": check.Confidence,
	}).WithAgent(agentID))
}
