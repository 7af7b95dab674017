// Package agents manages agent profiles and their per-debate memory and
// stance history. Profiles are documents in the store; updates are partial
// merges that are rejected in full when any stance value is out of range.
package agents

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/forbiddenlink/mindchain-sub000/internal/store"
)

// ErrAgentNotFound reports an unknown agent id.
var ErrAgentNotFound = errors.New("agents: agent not found")

// Tone is the communication style of an agent.
type Tone string

const (
	ToneAnalytical Tone = "analytical"
	ToneAggressive Tone = "aggressive"
	ToneDiplomatic Tone = "diplomatic"
	TonePassionate Tone = "passionate"
	ToneNeutral    Tone = "neutral"
)

func validTone(t Tone) bool {
	switch t {
	case ToneAnalytical, ToneAggressive, ToneDiplomatic, TonePassionate, ToneNeutral:
		return true
	}
	return false
}

// Profile is one agent's persona document.
type Profile struct {
	ID      string             `json:"id"`
	Name    string             `json:"name"`
	Role    string             `json:"role"`
	Tone    Tone               `json:"tone"`
	Stances map[string]float64 `json:"stances"` // topic key -> position in [0, 1]
	Biases  []string           `json:"biases"`
}

// ProfileUpdate is a partial profile change. Nil fields are left untouched;
// Stances merges per key.
type ProfileUpdate struct {
	Name    *string            `json:"name,omitempty"`
	Role    *string            `json:"role,omitempty"`
	Tone    *Tone              `json:"tone,omitempty"`
	Stances map[string]float64 `json:"stances,omitempty"`
	Biases  []string           `json:"biases,omitempty"`
}

// ValidationError names the profile fields that failed validation. The
// update is never partially applied.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("agents: invalid profile update: %v", e.Fields)
}

// MemoryEntry is one remembered statement from a debate.
type MemoryEntry struct {
	ID        string `json:"id"`
	DebateID  string `json:"debateId"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

// Service reads and mutates agent state through the store facade.
type Service struct {
	store store.Store
	log   *logrus.Logger

	mu      sync.Mutex
	updates map[string]*sync.Mutex // per-agent update serialization
}

// NewService creates the agent service.
func NewService(st store.Store, log *logrus.Logger) *Service {
	return &Service{store: st, log: log, updates: make(map[string]*sync.Mutex)}
}

func (s *Service) updateLock(agentID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.updates[agentID]
	if !ok {
		l = &sync.Mutex{}
		s.updates[agentID] = l
	}
	return l
}

// Get loads one agent profile.
func (s *Service) Get(ctx context.Context, agentID string) (*Profile, error) {
	var p Profile
	found, err := s.store.DocumentGet(ctx, store.AgentProfileKey(agentID), &p)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrAgentNotFound
	}
	return &p, nil
}

// Update applies a partial merge to an existing profile. Any stance value
// outside [0, 1] or an unknown tone rejects the whole update before the
// merge; the stored document is left untouched.
func (s *Service) Update(ctx context.Context, agentID string, patch ProfileUpdate) (*Profile, error) {
	var invalid []string
	for topic, v := range patch.Stances {
		if v < 0 || v > 1 {
			invalid = append(invalid, fmt.Sprintf("stances.%s", topic))
		}
	}
	if patch.Tone != nil && !validTone(*patch.Tone) {
		invalid = append(invalid, "tone")
	}
	if patch.Name != nil && *patch.Name == "" {
		invalid = append(invalid, "name")
	}
	if len(invalid) > 0 {
		return nil, &ValidationError{Fields: invalid}
	}

	// Serialize read-merge-write per agent so concurrent merges (two debate
	// runners recording stances) cannot drop each other's keys.
	l := s.updateLock(agentID)
	l.Lock()
	defer l.Unlock()

	current, err := s.Get(ctx, agentID)
	if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		current.Name = *patch.Name
	}
	if patch.Role != nil {
		current.Role = *patch.Role
	}
	if patch.Tone != nil {
		current.Tone = *patch.Tone
	}
	if patch.Biases != nil {
		current.Biases = patch.Biases
	}
	if len(patch.Stances) > 0 {
		if current.Stances == nil {
			current.Stances = make(map[string]float64, len(patch.Stances))
		}
		for topic, v := range patch.Stances {
			current.Stances[topic] = v
		}
	}

	if err := s.store.DocumentSet(ctx, store.AgentProfileKey(agentID), current); err != nil {
		return nil, err
	}
	return current, nil
}

// RecordStance persists the agent's current position on a topic, both into
// the profile document and as a time-series sample. The series write uses
// the degraded sentinel contract and never fails the turn.
func (s *Service) RecordStance(ctx context.Context, debateID, agentID, topic string, value float64) {
	point, err := s.store.SeriesAppend(ctx, store.StanceKey(debateID, agentID, topic), time.Now().UnixMilli(), value)
	if err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"debate_id": debateID,
			"agent_id":  agentID,
		}).Warn("stance sample write failed")
		return
	}
	if point == nil {
		s.log.WithField("agent_id", agentID).Debug("stance sample dropped, store degraded")
	}
}

// RecordMemory appends one statement to the agent's per-debate memory log.
func (s *Service) RecordMemory(ctx context.Context, agentID, debateID, text string) error {
	_, err := s.store.LogAppend(ctx, store.AgentMemoryKey(agentID, debateID), map[string]any{
		"debate_id": debateID,
		"text":      text,
	})
	return err
}

// Memory returns the agent's remembered statements for one debate, newest
// first. Degrades to empty when the store is unreachable.
func (s *Service) Memory(ctx context.Context, agentID, debateID string, limit int64) ([]MemoryEntry, error) {
	entries, err := s.store.LogRead(ctx, store.AgentMemoryKey(agentID, debateID), "", "", limit)
	if err != nil {
		return nil, err
	}
	out := make([]MemoryEntry, 0, len(entries))
	for _, e := range entries {
		text, _ := e.Fields["text"].(string)
		out = append(out, MemoryEntry{
			ID:       e.ID,
			DebateID: debateID,
			Text:     text,
		})
	}
	return out, nil
}

// StanceHistory returns the recorded stance samples for one (debate,
// agent, topic), oldest first.
func (s *Service) StanceHistory(ctx context.Context, debateID, agentID, topic string) ([]store.SeriesPoint, error) {
	return s.store.SeriesRange(ctx, store.StanceKey(debateID, agentID, topic), 0, 0)
}

// SeedDefaults creates the built-in agent roster for profiles that do not
// exist yet. Existing profiles are never overwritten.
func (s *Service) SeedDefaults(ctx context.Context) error {
	for _, p := range DefaultProfiles() {
		var existing Profile
		found, err := s.store.DocumentGet(ctx, store.AgentProfileKey(p.ID), &existing)
		if err != nil {
			return err
		}
		if found {
			continue
		}
		if err := s.store.DocumentSet(ctx, store.AgentProfileKey(p.ID), p); err != nil {
			return fmt.Errorf("agents: seed %s: %w", p.ID, err)
		}
		s.log.WithField("agent_id", p.ID).Info("seeded agent profile")
	}
	return nil
}

// DefaultProfiles is the seed roster.
func DefaultProfiles() []Profile {
	return []Profile{
		{
			ID: "logic", Name: "Logic", Role: "analyst", Tone: ToneAnalytical,
			Stances: map[string]float64{"ai-ethics": 0.6},
			Biases:  []string{"prefers peer-reviewed evidence", "distrusts anecdotes"},
		},
		{
			ID: "skeptic", Name: "Skeptic", Role: "critic", Tone: ToneAggressive,
			Stances: map[string]float64{"ai-ethics": 0.3},
			Biases:  []string{"questions every premise", "wary of hype"},
		},
		{
			ID: "optimist", Name: "Optimist", Role: "advocate", Tone: TonePassionate,
			Stances: map[string]float64{"ai-ethics": 0.8},
			Biases:  []string{"believes technology improves lives"},
		},
		{
			ID: "mediator", Name: "Mediator", Role: "moderator", Tone: ToneDiplomatic,
			Stances: map[string]float64{"ai-ethics": 0.5},
			Biases:  []string{"seeks common ground"},
		},
	}
}
