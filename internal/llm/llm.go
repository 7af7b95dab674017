// Package llm defines the external collaborator boundary: turn generation,
// summarization, embeddings and fact checking are remote services invoked
// through these interfaces. The orchestration layer never depends on how
// statements are produced, only on these contracts.
package llm

import (
	"context"
	"errors"
)

// ErrUpstream classifies failures of the external generation or
// verification service; handlers map it to the upstream error code.
var ErrUpstream = errors.New("llm: upstream service failure")

// TurnRequest carries everything the generator needs for one statement.
type TurnRequest struct {
	DebateID  string
	Topic     string
	AgentID   string
	AgentName string
	Role      string
	Tone      string
	Stance    float64 // current stance on the topic, in [0, 1]
	Biases    []string
	History   []string // recent statements, oldest first
}

// Turn is one generated statement plus the agent's adjusted stance.
type Turn struct {
	Text       string  `json:"text"`
	Stance     float64 `json:"stance"`
	TokensUsed int     `json:"tokensUsed"`
}

// Generator produces debate statements and summaries.
type Generator interface {
	GenerateTurn(ctx context.Context, req TurnRequest) (*Turn, error)
	Summarize(ctx context.Context, topic string, messages []string) (string, error)
}

// Embedder converts text into a dense vector for similarity search.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// FactCheck is the verdict for one checked statement.
type FactCheck struct {
	Claim      string  `json:"claim"`
	Verdict    string  `json:"verdict"` // supported | disputed | unverifiable
	Confidence float64 `json:"confidence"`
}

// FactChecker verifies a statement against external knowledge.
type FactChecker interface {
	Check(ctx context.Context, statement string) (*FactCheck, error)
}
