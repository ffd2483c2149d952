package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://openai.qiniu.com/v1"
	defaultModelID = "gpt-oss-120b"
	defaultTimeout = 30 * time.Second

	maxAttempts   = 2
	retryBaseWait = 500 * time.Millisecond
)

var (
	// ErrUnavailable indicates the client was constructed without credentials.
	ErrUnavailable = errors.New("llm: text generation is not available")
	// ErrGeneration wraps any failure of a remote completion call.
	ErrGeneration = errors.New("llm: generation failed")
)

// Client wraps the HTTP calls to an OpenAI-compatible chat completions API.
//
// Availability is decided once at construction: a client built without an API
// key still exists but reports Available() == false, and every Generate call
// fails with ErrUnavailable. Callers degrade to fallback behaviour instead of
// treating this as a hard error.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	modelID    string
	available  bool
}

// NewClientFromEnv constructs a Client using environment variables.
//
// Expected variables:
//   - LLM_API_KEY: API key for the provider; when absent the client is
//     created in unavailable mode rather than failing startup
//   - LLM_BASE_URL: optional override for the API base URL
//   - LLM_MODEL_ID: optional override for the target model
//   - LLM_TIMEOUT_SECONDS: optional per-call timeout override
func NewClientFromEnv() (*Client, error) {
	apiKey := strings.TrimSpace(os.Getenv("LLM_API_KEY"))

	baseURL := strings.TrimSpace(os.Getenv("LLM_BASE_URL"))
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("llm: invalid base URL %q", baseURL)
	}

	modelID := strings.TrimSpace(os.Getenv("LLM_MODEL_ID"))
	if modelID == "" {
		modelID = defaultModelID
	}

	timeout := defaultTimeout
	if raw := strings.TrimSpace(os.Getenv("LLM_TIMEOUT_SECONDS")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			timeout = time.Duration(parsed) * time.Second
		}
	}

	client := &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		apiKey:     apiKey,
		modelID:    modelID,
		available:  apiKey != "",
	}

	if !client.available {
		log.Printf("llm: LLM_API_KEY is not set, AI features will be limited")
	}

	return client, nil
}

// Available reports whether the client holds credentials for the provider.
func (c *Client) Available() bool {
	return c != nil && c.available
}

type chatCompletionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model    string                  `json:"model"`
	Stream   bool                    `json:"stream"`
	Messages []chatCompletionMessage `json:"messages"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatCompletionMessage `json:"message"`
	} `json:"choices"`
}

// Generate sends the prompt to the chat completions API and returns the
// trimmed assistant reply. Failures are retried once with jittered backoff;
// a second failure surfaces as ErrGeneration.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	if !c.Available() {
		return "", ErrUnavailable
	}

	trimmed := strings.TrimSpace(prompt)
	if trimmed == "" {
		return "", fmt.Errorf("%w: prompt is empty", ErrGeneration)
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		content, err := c.complete(ctx, trimmed)
		if err == nil {
			return content, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if attempt < maxAttempts {
			wait := retryBaseWait + time.Duration(rand.Int63n(int64(retryBaseWait)))
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return "", fmt.Errorf("%w: %v", ErrGeneration, ctx.Err())
			}
		}
	}

	return "", fmt.Errorf("%w: %v", ErrGeneration, lastErr)
}

func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	payload := chatCompletionRequest{
		Model:  c.modelID,
		Stream: false,
		Messages: []chatCompletionMessage{
			{Role: "system", Content: "You are a helpful assistant for a personal knowledge base."},
			{Role: "user", Content: prompt},
		},
	}

	body := &bytes.Buffer{}
	if err := json.NewEncoder(body).Encode(payload); err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	endpoint := c.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return "", fmt.Errorf("unexpected status %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}

	var decoded chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	if len(decoded.Choices) == 0 {
		return "", errors.New("response contains no choices")
	}

	return strings.TrimSpace(decoded.Choices[0].Message.Content), nil
}
