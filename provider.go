package strata

import "context"

// Embedder is the embedding gateway. Implementations are supplied by the
// caller; the core never selects a provider itself.
type Embedder interface {
	// EmbedDocuments returns one vector per input text.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	// EmbedQuery returns the vector for a single query string.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// LLM is the chat-completion gateway consumed by the graph builder.
type LLM interface {
	// Invoke sends the messages and returns the completed response.
	Invoke(ctx context.Context, messages []ChatMessage) (ChatResponse, error)
}

// ChatMessage is one turn of an LLM conversation.
type ChatMessage struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// ChatResponse is the completed output of one LLM call.
type ChatResponse struct {
	Content string `json:"content"`
	Usage   Usage  `json:"usage"`
}

// Usage reports token consumption for one LLM call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// --- ChatMessage constructors ---

func UserMessage(text string) ChatMessage {
	return ChatMessage{Role: "user", Content: text}
}

func SystemMessage(text string) ChatMessage {
	return ChatMessage{Role: "system", Content: text}
}

func AssistantMessage(text string) ChatMessage {
	return ChatMessage{Role: "assistant", Content: text}
}
