// Package oracle holds the clients for the two external decision services:
// the scoring oracle that judges maliciousness and the persona oracle that
// writes honeypot replies. Both are treated as untrusted, best-effort
// collaborators: any transport or parse failure degrades to a safe default
// instead of failing the turn.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/scamtrap-ai/scamtrap/pkg/httputil"
)

// DefaultBaseURL is the OpenAI-compatible endpoint used unless overridden.
const DefaultBaseURL = "https://api.groq.com/openai/v1"

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// llmClient is the shared chat-completions transport. Multiple API keys are
// rotated on rate limits and transport errors, each tried at most once per
// call.
type llmClient struct {
	client  *http.Client
	baseURL string

	mu     sync.Mutex
	keys   []string
	keyIdx int
}

func newLLMClient(baseURL string, keys []string, client *http.Client) *llmClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if client == nil {
		client = httputil.MediumClient()
	}
	return &llmClient{client: client, baseURL: strings.TrimRight(baseURL, "/"), keys: keys}
}

func (c *llmClient) currentKey() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.keys) == 0 {
		return ""
	}
	return c.keys[c.keyIdx%len(c.keys)]
}

func (c *llmClient) rotateKey() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.keys) > 1 {
		c.keyIdx = (c.keyIdx + 1) % len(c.keys)
	}
}

// completion performs one chat completion, rotating through keys on
// failure. The returned string is the first choice's content.
func (c *llmClient) completion(ctx context.Context, req chatRequest) (string, error) {
	if len(c.keys) == 0 {
		return "", fmt.Errorf("no API keys configured")
	}

	var lastErr error
	for attempt := 0; attempt < len(c.keys); attempt++ {
		content, err := c.completionOnce(ctx, req, c.currentKey())
		if err == nil {
			return content, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", lastErr
		}
		// Rate limits and server errors alike: try the next key.
		c.rotateKey()
	}
	return "", fmt.Errorf("all API keys exhausted: %w", lastErr)
}

func (c *llmClient) completionOnce(ctx context.Context, req chatRequest, key string) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+key)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("oracle request: %w", err)
	}
	defer httputil.DrainAndClose(resp.Body)

	data, err := httputil.ReadResponseBody(resp.Body, httputil.MaxResponseSize)
	if err != nil {
		return "", fmt.Errorf("read oracle response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("oracle status %d: %s", resp.StatusCode, truncate(string(data), 200))
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("decode oracle response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("oracle returned no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

// extractJSON pulls the outermost JSON object from model output, stripping
// markdown fences and any prose around it.
func extractJSON(s string) string {
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```", "")
	s = strings.TrimSpace(s)

	first := strings.Index(s, "{")
	last := strings.LastIndex(s, "}")
	if first != -1 && last > first {
		return s[first : last+1]
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
