package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Default configuration values.
const (
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	defaultAnthropicModel   = "claude-3-5-sonnet-20241022"
	defaultOpenAIBaseURL    = "https://api.openai.com"
	defaultOpenAIModel      = "gpt-4o-mini"
	defaultMaxTokens        = 2048
	defaultTimeout          = 60 * time.Second
	defaultMaxRetries       = 3
	defaultBaseBackoff      = 1 * time.Second
)

// Rate limiter defaults: 50 requests per minute for both APIs.
const (
	defaultRateLimit = 50.0 / 60.0
	defaultBurst     = 5
)

// Generator sends a prompt to a text-generation service.
type Generator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)

	// Available reports whether Generate reaches a real service.
	Available() bool
}

// httpGenerator holds what the Anthropic and OpenAI clients share.
type httpGenerator struct {
	model       string
	apiKey      string
	baseURL     string
	maxTokens   int
	httpClient  *http.Client
	limiter     *rate.Limiter
	maxRetries  int
	baseBackoff time.Duration
}

func newHTTPGenerator(cfg Config, defaultModel, defaultBaseURL string) httpGenerator {
	g := httpGenerator{
		model:       cfg.Model,
		apiKey:      cfg.APIKey,
		baseURL:     cfg.BaseURL,
		maxTokens:   cfg.MaxTokens,
		limiter:     rate.NewLimiter(rate.Limit(defaultRateLimit), defaultBurst),
		maxRetries:  defaultMaxRetries,
		baseBackoff: defaultBaseBackoff,
	}
	if g.model == "" {
		g.model = defaultModel
	}
	if g.baseURL == "" {
		g.baseURL = defaultBaseURL
	}
	if g.maxTokens <= 0 {
		g.maxTokens = defaultMaxTokens
	}
	timeout := defaultTimeout
	if cfg.Timeout > 0 {
		timeout = cfg.Timeout
	}
	g.httpClient = &http.Client{Timeout: timeout}
	return g
}

// retry runs do with rate limiting and exponential backoff on retryable
// errors.
func (g *httpGenerator) retry(ctx context.Context, do func(context.Context) (string, error)) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter error: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := g.baseBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		text, err := do(ctx)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !isRetryableError(err) {
			return "", err
		}
	}
	return "", fmt.Errorf("max retries exceeded: %w", lastErr)
}

// post sends body as JSON and returns the response body of a 200 reply.
// Transport failures, 429 and 5xx are retryable.
func (g *httpGenerator) post(ctx context.Context, path string, body any, headers map[string]string, apiErr func([]byte) string) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, &retryableError{err: fmt.Errorf("API request failed: %w", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &retryableError{err: errors.New("rate limited (429)")}
	case resp.StatusCode >= 500:
		return nil, &retryableError{err: fmt.Errorf("server error (%d): %s", resp.StatusCode, string(respBody))}
	case resp.StatusCode != http.StatusOK:
		if msg := apiErr(respBody); msg != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, msg)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

// anthropicGenerator calls the Anthropic messages API.
type anthropicGenerator struct {
	httpGenerator
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	Temperature float64            `json:"temperature"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

type anthropicError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func newAnthropicGenerator(cfg Config) (*anthropicGenerator, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic API key required")
	}
	return &anthropicGenerator{newHTTPGenerator(cfg, defaultAnthropicModel, defaultAnthropicBaseURL)}, nil
}

// Generate implements Generator.
func (a *anthropicGenerator) Generate(ctx context.Context, system, prompt string) (string, error) {
	req := anthropicRequest{
		Model:       a.model,
		MaxTokens:   a.maxTokens,
		System:      system,
		Temperature: 0.3,
		Messages:    []anthropicMessage{{Role: "user", Content: prompt}},
	}
	headers := map[string]string{
		"X-API-Key":         a.apiKey,
		"Anthropic-Version": "2023-06-01",
	}

	return a.retry(ctx, func(ctx context.Context) (string, error) {
		body, err := a.post(ctx, "/v1/messages", req, headers, func(b []byte) string {
			var e anthropicError
			if json.Unmarshal(b, &e) == nil {
				return e.Error.Message
			}
			return ""
		})
		if err != nil {
			return "", err
		}

		var resp anthropicResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return "", fmt.Errorf("failed to parse response: %w", err)
		}
		if len(resp.Content) == 0 {
			return "", errors.New("empty response from API")
		}
		return resp.Content[0].Text, nil
	})
}

// Available implements Generator.
func (a *anthropicGenerator) Available() bool { return true }

// openAIGenerator calls the OpenAI chat completions API.
type openAIGenerator struct {
	httpGenerator
}

type openAIRequest struct {
	Model       string          `json:"model"`
	MaxTokens   int             `json:"max_tokens"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type openAIError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func newOpenAIGenerator(cfg Config) (*openAIGenerator, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai API key required")
	}
	return &openAIGenerator{newHTTPGenerator(cfg, defaultOpenAIModel, defaultOpenAIBaseURL)}, nil
}

// Generate implements Generator.
func (o *openAIGenerator) Generate(ctx context.Context, system, prompt string) (string, error) {
	req := openAIRequest{
		Model:       o.model,
		MaxTokens:   o.maxTokens,
		Temperature: 0.3,
		Messages: []openAIMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
	}
	headers := map[string]string{"Authorization": "Bearer " + o.apiKey}

	return o.retry(ctx, func(ctx context.Context) (string, error) {
		body, err := o.post(ctx, "/v1/chat/completions", req, headers, func(b []byte) string {
			var e openAIError
			if json.Unmarshal(b, &e) == nil {
				return e.Error.Message
			}
			return ""
		})
		if err != nil {
			return "", err
		}

		var resp openAIResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return "", fmt.Errorf("failed to parse response: %w", err)
		}
		if len(resp.Choices) == 0 {
			return "", errors.New("empty response from API")
		}
		return resp.Choices[0].Message.Content, nil
	})
}

// Available implements Generator.
func (o *openAIGenerator) Available() bool { return true }

// retryableError wraps an error to indicate it can be retried.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }

func (e *retryableError) Unwrap() error { return e.err }

func isRetryableError(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

var (
	_ Generator = (*anthropicGenerator)(nil)
	_ Generator = (*openAIGenerator)(nil)
)
