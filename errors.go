package strata

import (
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// ErrNoContent reports a document that yielded zero usable chunks after
// cleaning and quality filtering. The source name is included so callers
// can tell the user exactly which upload failed.
type ErrNoContent struct {
	Source string
	Reason string
}

func (e *ErrNoContent) Error() string {
	return fmt.Sprintf("no usable content in %s: %s", e.Source, e.Reason)
}

// ErrHTTP reports a non-2xx response from a provider endpoint. RetryAfter is
// the server-suggested wait parsed from the Retry-After header, or zero when
// the header was absent.
type ErrHTTP struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// ParseRetryAfter parses a Retry-After header value, accepting both the
// delta-seconds and HTTP-date forms. Returns 0 for empty or malformed values.
func ParseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// ErrLLM reports a provider-level failure that is not a plain HTTP status,
// such as a request that could not be built or a response that could not be
// decoded.
type ErrLLM struct {
	Provider string
	Message  string
}

func (e *ErrLLM) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}
