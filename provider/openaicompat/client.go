package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/mirvand/strata"
)

// Client implements strata.LLM for any OpenAI-compatible API.
type Client struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
	name    string
	opts    []Option
}

var _ strata.LLM = (*Client)(nil)

// NewClient creates an OpenAI-compatible chat client.
//
// baseURL is the API base (e.g. "https://api.openai.com/v1",
// "https://api.groq.com/openai/v1", "http://localhost:11434/v1").
// The /chat/completions path is appended automatically.
func NewClient(apiKey, model, baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
		client:  &http.Client{},
		name:    "openai",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the provider name (default "openai", configurable via WithName).
func (c *Client) Name() string { return c.name }

// Invoke sends a non-streaming chat request and returns the complete
// response.
func (c *Client) Invoke(ctx context.Context, messages []strata.ChatMessage) (strata.ChatResponse, error) {
	body := ChatRequest{Model: c.model}
	for _, m := range messages {
		body.Messages = append(body.Messages, Message{Role: m.Role, Content: m.Content})
	}
	for _, opt := range c.opts {
		opt(&body)
	}

	resp, err := c.sendHTTP(ctx, body)
	if err != nil {
		return strata.ChatResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return strata.ChatResponse{}, httpErr(resp)
	}

	var chatResp ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return strata.ChatResponse{}, &strata.ErrLLM{Provider: c.name, Message: fmt.Sprintf("decode response: %v", err)}
	}

	return parseResponse(chatResp), nil
}

// sendHTTP marshals the request body and sends it to the chat completions
// endpoint.
func (c *Client) sendHTTP(ctx context.Context, body ChatRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &strata.ErrLLM{Provider: c.name, Message: fmt.Sprintf("marshal request: %v", err)}
	}

	url := c.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, &strata.ErrLLM{Provider: c.name, Message: fmt.Sprintf("create request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	return c.client.Do(httpReq)
}

// parseResponse converts an OpenAI-format ChatResponse to a strata
// ChatResponse, extracting content and usage from choices[0].
func parseResponse(resp ChatResponse) strata.ChatResponse {
	var out strata.ChatResponse

	if len(resp.Choices) > 0 && resp.Choices[0].Message != nil {
		out.Content = resp.Choices[0].Message.Content
	}
	if resp.Usage != nil {
		out.Usage = strata.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}
	}
	return out
}

// httpErr reads the response body and returns an ErrHTTP carrying any
// Retry-After hint (429/503 responses).
func httpErr(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	return &strata.ErrHTTP{
		Status:     resp.StatusCode,
		Body:       string(body),
		RetryAfter: strata.ParseRetryAfter(resp.Header.Get("Retry-After")),
	}
}

// BaseURL returns the API base for a known provider name, or "" for
// providers that need an explicit base URL.
func BaseURL(provider string) string {
	switch provider {
	case "openai":
		return "https://api.openai.com/v1"
	case "groq":
		return "https://api.groq.com/openai/v1"
	case "deepseek":
		return "https://api.deepseek.com/v1"
	case "together":
		return "https://api.together.xyz/v1"
	case "mistral":
		return "https://api.mistral.ai/v1"
	case "ollama":
		return "http://localhost:11434/v1"
	default:
		return ""
	}
}
