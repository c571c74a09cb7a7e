// Package llm implements the text-generation client used for agent probes and
// replies. It speaks the OpenAI-compatible chat completions REST surface, so any
// provider exposing that API works; the engine only selects base URL and model.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/turingden/find-the-ai/internal/v1/logging"
	"github.com/turingden/find-the-ai/internal/v1/metrics"
)

// ErrUnavailable is returned after retries are exhausted or the breaker is open.
// Agent-side callers swallow it; the agent simply does not speak this cycle.
var ErrUnavailable = errors.New("llm unavailable")

// Config selects the provider endpoint.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
}

// Client is a stateless chat-completion client. Safe for concurrent use from
// worker pool goroutines; every call carries its own request state.
type Client struct {
	cfg        Config
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker
	maxRetries int
}

// NewClient creates a Client with a circuit breaker around the provider.
func NewClient(cfg Config) *Client {
	st := gobreaker.Settings{
		Name:        "llm",
		MaxRequests: 3,
		Interval:    1 * time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("llm").Set(stateVal)
		},
	}

	return &Client{
		cfg: cfg,
		// Per-call deadlines come from the caller's context; the transport-level
		// timeout is a backstop for stuck connections.
		httpClient: &http.Client{Timeout: 60 * time.Second},
		cb:         gobreaker.NewCircuitBreaker(st),
		maxRetries: 2,
	}
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Complete sends one chat completion request and returns the assistant text.
// Transient failures (429, 5xx, network) are retried with jitter; persistent
// failure surfaces as ErrUnavailable.
func (c *Client) Complete(ctx context.Context, system, prompt string, maxTokens int) (string, error) {
	start := time.Now()
	text, err := c.completeWithRetry(ctx, system, prompt, maxTokens)

	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.LLMCallDuration.WithLabelValues("complete", status).Observe(time.Since(start).Seconds())

	return text, err
}

func (c *Client) completeWithRetry(ctx context.Context, system, prompt string, maxTokens int) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff with jitter, bounded by the caller's deadline.
			backoff := time.Duration(attempt) * 500 * time.Millisecond
			backoff += time.Duration(rand.Int63n(int64(250 * time.Millisecond)))
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
			case <-time.After(backoff):
			}
		}

		text, retryable, err := c.doOnce(ctx, system, prompt, maxTokens)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}
	return "", fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

// doOnce performs a single request through the circuit breaker.
func (c *Client) doOnce(ctx context.Context, system, prompt string, maxTokens int) (text string, retryable bool, err error) {
	result, err := c.cb.Execute(func() (interface{}, error) {
		return c.request(ctx, system, prompt, maxTokens)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.CircuitBreakerFailures.WithLabelValues("llm").Inc()
			return "", false, err
		}
		var re *retryableError
		if errors.As(err, &re) {
			return "", true, err
		}
		if ctx.Err() != nil {
			return "", false, err
		}
		// Network-level failures are worth one more try; anything else the
		// provider said deliberately (4xx, malformed body) is final.
		var ue *url.Error
		if errors.As(err, &ue) {
			return "", true, err
		}
		return "", false, err
	}
	return result.(string), false, nil
}

// retryableError marks provider responses that justify a retry (429/5xx).
type retryableError struct{ err error }

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

func (c *Client) request(ctx context.Context, system, prompt string, maxTokens int) (string, error) {
	msgs := make([]chatMessage, 0, 2)
	if system != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: system})
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: prompt})

	body, err := json.Marshal(chatRequest{
		Model:     c.cfg.Model,
		Messages:  msgs,
		MaxTokens: maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal chat request: %w", err)
	}

	url := strings.TrimSuffix(c.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read chat response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		logging.Warn(ctx, "LLM provider transient failure",
			zap.Int("status", resp.StatusCode), zap.String("model", c.cfg.Model))
		return "", &retryableError{fmt.Errorf("provider returned %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("provider returned %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("failed to decode chat response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("provider error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", errors.New("provider returned no choices")
	}

	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Silent is the no-provider completer used in development mode without an API
// key. Every call fails with ErrUnavailable, so agents never speak.
type Silent struct{}

// Complete implements types.Completer.
func (Silent) Complete(context.Context, string, string, int) (string, error) {
	return "", ErrUnavailable
}
