package provider

import "context"

// ChatPayload is one request/response exchange with a reasoning provider.
type ChatPayload struct {
	System     string
	User       string
	ExpectJSON bool
	MaxTokens  int
	TraceID    string
}

// ModelProvider is a reasoning backend. Call must honour ctx cancellation.
type ModelProvider interface {
	ID() string
	Enabled() bool
	Call(ctx context.Context, payload ChatPayload) (string, error)
}
