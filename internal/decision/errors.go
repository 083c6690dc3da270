package decision

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrAllProvidersExhausted is returned when every provider in the cascade failed.
	ErrAllProvidersExhausted = errors.New("all providers exhausted")
	// ErrMalformedProviderResponse marks a single unusable item; the rest of the response survives.
	ErrMalformedProviderResponse = errors.New("malformed provider response")
	ErrProviderTimeout           = errors.New("provider timed out")
	ErrProviderUnhealthy         = errors.New("provider skipped: health breaker open")
	ErrUnrecognizedShape         = errors.New("unrecognized response shape")
)

// ProviderError is one failed attempt of the cascade.
type ProviderError struct {
	ProviderID string
	Err        error
	Elapsed    time.Duration
}

func (e ProviderError) Error() string {
	return fmt.Sprintf("%s: %v", e.ProviderID, e.Err)
}

func (e ProviderError) Unwrap() error { return e.Err }

// ExhaustedError carries every attempt's failure.
type ExhaustedError struct {
	Attempts []ProviderError
}

func (e *ExhaustedError) Error() string {
	if len(e.Attempts) == 0 {
		return ErrAllProvidersExhausted.Error() + ": no providers configured"
	}
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, a.Error())
	}
	return fmt.Sprintf("%s: %s", ErrAllProvidersExhausted, strings.Join(parts, "; "))
}

func (e *ExhaustedError) Is(target error) bool {
	return target == ErrAllProvidersExhausted
}

// MalformedItemError describes why item Index of a response was dropped.
type MalformedItemError struct {
	Index  int
	Reason string
}

func (e *MalformedItemError) Error() string {
	return fmt.Sprintf("%s: item #%d: %s", ErrMalformedProviderResponse, e.Index, e.Reason)
}

func (e *MalformedItemError) Unwrap() error { return ErrMalformedProviderResponse }
