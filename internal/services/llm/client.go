package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultHTTPTimeout = 15 * time.Second

// Config captures the endpoint and sampling settings for one provider.
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	TimeoutSeconds int
	Temperature    float64
	MaxTokens      int
}

// Client talks to an OpenAI-compatible chat completion endpoint. BaseURL is
// the full completions URL, as published by DashScope, DeepSeek and
// OpenRouter.
type Client struct {
	cfg        Config
	httpClient *http.Client
	retry      retryPolicy
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithRetryMaxAttempts overrides the attempt budget (default 5).
func WithRetryMaxAttempts(attempts int) Option {
	return func(c *Client) { c.retry.attempts = attempts }
}

// WithRetryBackoff overrides the exponential backoff bounds.
func WithRetryBackoff(baseDelay, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.retry.base = baseDelay
		c.retry.max = maxDelay
	}
}

// WithSleeper replaces the retry sleep. Tests use it to record delays.
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(c *Client) { c.retry.sleeper = sleeper }
}

// NewClient constructs a client for cfg.
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.BaseURL = strings.TrimSpace(cfg.BaseURL)
	cfg.Model = strings.TrimSpace(cfg.Model)
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		retry:      defaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.cfg.Model }

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		Delta        chatMessage `json:"delta"`
		Text         string      `json:"text"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// content returns the first non-empty answer. Some compatible endpoints
// answer with the streaming delta or the legacy text field even when
// stream=false.
func (r chatResponse) content() (string, string) {
	var finish string
	for _, choice := range r.Choices {
		if finish == "" {
			finish = strings.TrimSpace(choice.FinishReason)
		}
		for _, candidate := range []string{choice.Message.Content, choice.Delta.Content, choice.Text} {
			if s := strings.TrimSpace(candidate); s != "" {
				return s, finish
			}
		}
	}
	return "", finish
}

type statusError struct {
	code       int
	body       string
	retryAfter time.Duration
}

func (e *statusError) Error() string {
	return fmt.Sprintf("llm request: http %d: %s", e.code, e.body)
}

type emptyAnswerError struct {
	op      string
	finish  string
	snippet string
}

func (e *emptyAnswerError) Error() string {
	return fmt.Sprintf("%s: empty content (finish_reason=%q, response_snippet=%s)", e.op, e.finish, e.snippet)
}

// CompleteText sends one system/user exchange and returns the first line of
// the answer without surrounding quotes.
func (c *Client) CompleteText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	userPrompt = strings.TrimSpace(userPrompt)
	if userPrompt == "" {
		return "", errors.New("llm text: user prompt required")
	}
	if c.cfg.APIKey == "" {
		return "", errors.New("llm text: api key required")
	}
	req := chatRequest{
		Model:       c.cfg.Model,
		Messages:    messages(systemPrompt, userPrompt),
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	}
	answer, err := c.complete(ctx, "llm text", req)
	if err != nil {
		return "", err
	}
	return FirstLine(answer), nil
}

// HealthCheck asks the model for a fixed JSON reply, which proves the key,
// endpoint and model name are all accepted.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.cfg.APIKey == "" {
		return errors.New("llm health: api key required")
	}
	req := chatRequest{
		Model:          c.cfg.Model,
		Messages:       messages("You must respond with JSON only.", `Respond with {"ok":true}`),
		ResponseFormat: map[string]string{"type": "json_object"},
	}
	answer, err := c.complete(ctx, "llm health", req)
	if err != nil {
		return err
	}
	var parsed struct {
		OK bool `json:"ok"`
	}
	if err := DecodeJSON(answer, &parsed); err != nil {
		return fmt.Errorf("llm health: parse payload: %w", err)
	}
	if !parsed.OK {
		return errors.New("llm health: unexpected response")
	}
	return nil
}

func messages(system, user string) []chatMessage {
	out := make([]chatMessage, 0, 2)
	if system = strings.TrimSpace(system); system != "" {
		out = append(out, chatMessage{Role: "system", Content: system})
	}
	return append(out, chatMessage{Role: "user", Content: user})
}

func (c *Client) complete(ctx context.Context, op string, req chatRequest) (string, error) {
	var lastErr error
	attempts := c.retry.maxAttempts()
	for attempt := 1; attempt <= attempts; attempt++ {
		answer, err := c.post(ctx, op, req)
		if err == nil {
			return answer, nil
		}
		lastErr = err
		delay, again := c.retry.next(ctx, err, attempt)
		if !again {
			return "", err
		}
		if err := c.retry.wait(ctx, delay); err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("%s: failed after %d attempts: %w", op, attempts, lastErr)
}

func (c *Client) post(ctx context.Context, op string, payload chatRequest) (string, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("llm request: encode body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(encoded))
	if err != nil {
		return "", fmt.Errorf("llm request: new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm request: http error (timeout=%s): %w", c.httpClient.Timeout, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("llm request: read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		retryAfter, _ := parseRetryAfter(resp.Header.Get("Retry-After"))
		return "", &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(body)), retryAfter: retryAfter}
	}

	var decoded chatResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("llm request: decode response: %w", err)
	}
	if decoded.Error != nil {
		return "", fmt.Errorf("llm request: api error: %s", strings.TrimSpace(decoded.Error.Message))
	}
	answer, finish := decoded.content()
	if answer == "" {
		if len(decoded.Choices) == 0 {
			return "", fmt.Errorf("%s: empty choices", op)
		}
		return "", &emptyAnswerError{op: op, finish: finish, snippet: snippet(string(body))}
	}
	return answer, nil
}

// FirstLine returns the first non-empty line of a completion without
// wrapping quotes or backticks.
func FirstLine(content string) string {
	for line := range strings.SplitSeq(content, "\n") {
		line = strings.TrimSpace(strings.Trim(strings.TrimSpace(line), "\"'`"))
		if line != "" {
			return line
		}
	}
	return ""
}

// DecodeJSON decodes a model answer that should be JSON but may be wrapped in
// a code fence or surrounded by prose.
func DecodeJSON(content string, target any) error {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return errors.New("empty payload")
	}
	err := json.Unmarshal([]byte(trimmed), target)
	if err == nil {
		return nil
	}
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start < 0 || end <= start {
		return fmt.Errorf("%w (payload snippet: %s)", err, snippet(trimmed))
	}
	inner := trimmed[start : end+1]
	if err := json.Unmarshal([]byte(inner), target); err != nil {
		return fmt.Errorf("%w (payload snippet: %s)", err, snippet(inner))
	}
	return nil
}

func snippet(content string) string {
	clean := strings.Join(strings.Fields(content), " ")
	if clean == "" {
		return "<empty>"
	}
	const limit = 160
	if runes := []rune(clean); len(runes) > limit {
		return string(runes[:limit]) + "..."
	}
	return clean
}
