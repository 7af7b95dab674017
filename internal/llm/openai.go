package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
)

// HTTPClientConfig configures the OpenAI-compatible client.
type HTTPClientConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	EmbedModel string
	RPS        float64 // shared generation budget across all debates
	Burst      int
	Timeout    time.Duration
}

// HTTPClient talks to an OpenAI-compatible API and implements Generator,
// Embedder and FactChecker. All calls go through one process-global rate
// limiter (the shared generation budget) and a circuit breaker, so a
// failing upstream trips fast instead of piling up blocked turns.
type HTTPClient struct {
	cfg     HTTPClientConfig
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
	limiter *rate.Limiter
	log     *logrus.Logger
}

// NewHTTPClient creates the client.
func NewHTTPClient(cfg HTTPClientConfig, log *logrus.Logger) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:    "llm-upstream",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &HTTPClient{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: breaker,
		limiter: rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
		log:     log,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingsResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// post sends one JSON request through the rate limiter and breaker.
func (c *HTTPClient) post(ctx context.Context, path string, payload any) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("llm: encode request: %w", err)
	}

	out, err := c.breaker.Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.cfg.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(data), 200))
		}
		return data, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUpstream, path, err)
	}
	return out, nil
}

func (c *HTTPClient) chat(ctx context.Context, system, user string, maxTokens int) (string, int, error) {
	data, err := c.post(ctx, "/chat/completions", chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: 0.8,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", 0, err
	}
	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", 0, fmt.Errorf("%w: decode chat response: %v", ErrUpstream, err)
	}
	if len(parsed.Choices) == 0 {
		return "", 0, fmt.Errorf("%w: empty chat response", ErrUpstream)
	}
	return parsed.Choices[0].Message.Content, parsed.Usage.TotalTokens, nil
}

// GenerateTurn asks the model for the agent's next statement and adjusted
// stance as a JSON object. A reply that is not valid JSON is used verbatim
// with the stance unchanged.
func (c *HTTPClient) GenerateTurn(ctx context.Context, req TurnRequest) (*Turn, error) {
	system := fmt.Sprintf(
		"You are %s, a %s debater with a %s tone. Your current stance on %q is %.2f on a 0..1 scale. Beliefs: %s. "+
			`Reply with a JSON object {"text": "...", "stance": 0.0} where stance is your adjusted position.`,
		req.AgentName, req.Role, req.Tone, req.Topic, req.Stance, strings.Join(req.Biases, "; "))
	user := fmt.Sprintf("Debate topic: %s\nRecent statements:\n%s\nGive your next statement.",
		req.Topic, strings.Join(req.History, "\n"))

	content, tokens, err := c.chat(ctx, system, user, 300)
	if err != nil {
		return nil, err
	}

	turn := Turn{Stance: req.Stance, TokensUsed: tokens}
	if err := json.Unmarshal([]byte(content), &turn); err != nil || turn.Text == "" {
		turn.Text = content
		turn.Stance = req.Stance
	}
	turn.TokensUsed = tokens
	turn.Stance = clamp01(turn.Stance)
	return &turn, nil
}

// Summarize condenses a debate's recent messages.
func (c *HTTPClient) Summarize(ctx context.Context, topic string, messages []string) (string, error) {
	if len(messages) == 0 {
		return "No messages to summarize.", nil
	}
	system := "You summarize debates neutrally in at most four sentences."
	user := fmt.Sprintf("Topic: %s\nStatements:\n%s", topic, strings.Join(messages, "\n"))
	summary, _, err := c.chat(ctx, system, user, 200)
	return summary, err
}

// Check asks the model for a fact-check verdict on one statement.
func (c *HTTPClient) Check(ctx context.Context, statement string) (*FactCheck, error) {
	system := `You fact-check debate statements. Reply with a JSON object ` +
		`{"claim": "...", "verdict": "supported|disputed|unverifiable", "confidence": 0.0}.`
	content, _, err := c.chat(ctx, system, statement, 150)
	if err != nil {
		return nil, err
	}
	var fc FactCheck
	if err := json.Unmarshal([]byte(content), &fc); err != nil || fc.Verdict == "" {
		fc = FactCheck{Claim: truncate(statement, 120), Verdict: "unverifiable", Confidence: 0}
	}
	return &fc, nil
}

// Embed converts text into an embedding vector.
func (c *HTTPClient) Embed(ctx context.Context, text string) ([]float32, error) {
	data, err := c.post(ctx, "/embeddings", embeddingsRequest{
		Model: c.cfg.EmbedModel,
		Input: []string{text},
	})
	if err != nil {
		return nil, err
	}
	var parsed embeddingsResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("%w: decode embeddings response: %v", ErrUpstream, err)
	}
	if len(parsed.Data) == 0 {
		return nil, fmt.Errorf("%w: empty embeddings response", ErrUpstream)
	}
	return parsed.Data[0].Embedding, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

var (
	_ Generator   = (*HTTPClient)(nil)
	_ Embedder    = (*HTTPClient)(nil)
	_ FactChecker = (*HTTPClient)(nil)
)
