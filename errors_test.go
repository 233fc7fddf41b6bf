package strata

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestErrNoContentError(t *testing.T) {
	tests := []struct {
		source string
		reason string
		want   string
	}{
		{"notes.pdf", "empty after extraction", "no usable content in notes.pdf: empty after extraction"},
		{"slides.docx", "unsupported format", "no usable content in slides.docx: unsupported format"},
	}
	for _, tt := range tests {
		e := &ErrNoContent{Source: tt.source, Reason: tt.reason}
		if got := e.Error(); got != tt.want {
			t.Errorf("ErrNoContent{%q, %q}.Error() = %q, want %q", tt.source, tt.reason, got, tt.want)
		}
	}
}

func TestErrLLMError(t *testing.T) {
	tests := []struct {
		provider string
		message  string
		want     string
	}{
		{"gemini", "rate limited", "gemini: rate limited"},
		{"openai", "context length exceeded", "openai: context length exceeded"},
	}
	for _, tt := range tests {
		e := &ErrLLM{Provider: tt.provider, Message: tt.message}
		if got := e.Error(); got != tt.want {
			t.Errorf("ErrLLM{%q, %q}.Error() = %q, want %q", tt.provider, tt.message, got, tt.want)
		}
	}
}

func TestErrLLMImplementsError(t *testing.T) {
	var _ error = (*ErrLLM)(nil)
}

func TestErrHTTPError(t *testing.T) {
	tests := []struct {
		status int
		body   string
		want   string
	}{
		{429, "too many requests", "http 429: too many requests"},
		{500, "internal server error", "http 500: internal server error"},
	}
	for _, tt := range tests {
		e := &ErrHTTP{Status: tt.status, Body: tt.body}
		if got := e.Error(); got != tt.want {
			t.Errorf("ErrHTTP{%d, %q}.Error() = %q, want %q", tt.status, tt.body, got, tt.want)
		}
	}
}

func TestErrHTTPImplementsError(t *testing.T) {
	var _ error = (*ErrHTTP)(nil)
}

func TestErrLLMEmptyFields(t *testing.T) {
	e := &ErrLLM{}
	want := ": "
	if got := e.Error(); got != want {
		t.Errorf("ErrLLM{}.Error() = %q, want %q", got, want)
	}
}

func TestErrHTTPZeroStatus(t *testing.T) {
	e := &ErrHTTP{}
	want := "http 0: "
	if got := e.Error(); got != want {
		t.Errorf("ErrHTTP{}.Error() = %q, want %q", got, want)
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"", 0},
		{"5", 5 * time.Second},
		{"0", 0},
		{"-3", 0},
		{"soon", 0},
	}
	for _, tt := range tests {
		if got := ParseRetryAfter(tt.value); got != tt.want {
			t.Errorf("ParseRetryAfter(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestParseRetryAfterHTTPDate(t *testing.T) {
	future := time.Now().Add(30 * time.Second).UTC().Format("Mon, 02 Jan 2006 15:04:05 GMT")
	got := ParseRetryAfter(future)
	if got <= 0 || got > 31*time.Second {
		t.Errorf("ParseRetryAfter(future date) = %v, want roughly 30s", got)
	}

	past := time.Now().Add(-time.Minute).UTC().Format("Mon, 02 Jan 2006 15:04:05 GMT")
	if got := ParseRetryAfter(past); got != 0 {
		t.Errorf("ParseRetryAfter(past date) = %v, want 0", got)
	}
}

func TestErrorsUnwrapWithAs(t *testing.T) {
	wrapped := fmt.Errorf("invoke: %w", &ErrHTTP{Status: 503, Body: "overloaded"})
	var httpErr *ErrHTTP
	if !errors.As(wrapped, &httpErr) {
		t.Fatalf("errors.As failed to find *ErrHTTP in %v", wrapped)
	}
	if httpErr.Status != 503 {
		t.Errorf("Status = %d, want 503", httpErr.Status)
	}

	wrapped = fmt.Errorf("embed: %w", &ErrLLM{Provider: "openai", Message: "bad response"})
	var llmErr *ErrLLM
	if !errors.As(wrapped, &llmErr) {
		t.Fatalf("errors.As failed to find *ErrLLM in %v", wrapped)
	}
	if llmErr.Provider != "openai" {
		t.Errorf("Provider = %q, want %q", llmErr.Provider, "openai")
	}
}
