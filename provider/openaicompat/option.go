package openaicompat

import "net/http"

// Option configures an OpenAI-compatible chat request.
type Option func(*ChatRequest)

// WithTemperature sets the sampling temperature (0.0-2.0).
func WithTemperature(t float64) Option {
	return func(r *ChatRequest) { r.Temperature = &t }
}

// WithTopP sets nucleus sampling top-p (0.0-1.0).
func WithTopP(p float64) Option {
	return func(r *ChatRequest) { r.TopP = &p }
}

// WithMaxTokens sets the maximum number of output tokens.
func WithMaxTokens(n int) Option {
	return func(r *ChatRequest) { r.MaxTokens = n }
}

// WithStop sets one or more stop sequences.
func WithStop(s ...string) Option {
	return func(r *ChatRequest) { r.Stop = s }
}

// WithSeed sets a deterministic seed for reproducible outputs.
func WithSeed(s int) Option {
	return func(r *ChatRequest) { r.Seed = &s }
}

// ClientOption configures a Client instance.
type ClientOption func(*Client)

// WithName sets the provider name used in error messages (default "openai").
// Use this to distinguish providers in logs and observability.
func WithName(name string) ClientOption {
	return func(c *Client) { c.name = name }
}

// WithHTTPClient sets a custom HTTP client (e.g. for timeouts or proxies).
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.client = hc }
}

// WithOptions appends request-level options (temperature, top_p, etc.)
// that are applied to every request made by this client.
func WithOptions(opts ...Option) ClientOption {
	return func(c *Client) { c.opts = append(c.opts, opts...) }
}

// EmbeddingOption configures an Embedding instance.
type EmbeddingOption func(*Embedding)

// WithEmbeddingName sets the provider name used in error messages.
func WithEmbeddingName(name string) EmbeddingOption {
	return func(e *Embedding) { e.name = name }
}

// WithEmbeddingHTTPClient sets a custom HTTP client.
func WithEmbeddingHTTPClient(hc *http.Client) EmbeddingOption {
	return func(e *Embedding) { e.client = hc }
}

// WithDimensions requests vectors of the given dimensionality, for models
// that support shortening (e.g. text-embedding-3-*). Zero keeps the model
// default.
func WithDimensions(n int) EmbeddingOption {
	return func(e *Embedding) { e.dimensions = n }
}
