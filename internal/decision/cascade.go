package decision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"phinance/internal/gateway/provider"
	"phinance/internal/logger"
	"phinance/internal/market"
	"phinance/internal/pkg/circuit"
)

const defaultProviderTimeout = 60 * time.Second

// RawResponse is the first structurally valid answer of the cascade.
type RawResponse struct {
	ProviderID string
	Text       string
	Envelope   Envelope
	Elapsed    time.Duration
	Attempts   []ProviderError
}

type CascadeOptions struct {
	// Timeout bounds each provider attempt independently.
	Timeout          time.Duration
	FailureThreshold int
	Cooloff          time.Duration
	SystemPrompt     string
}

type cascadeEntry struct {
	provider provider.ModelProvider
	health   *circuit.Breaker
}

// Cascade queries providers strictly in priority order. Cascading is the retry
// strategy: a provider is called at most once per Query.
type Cascade struct {
	entries []cascadeEntry
	opts    CascadeOptions
}

func NewCascade(providers []provider.ModelProvider, opts CascadeOptions) *Cascade {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultProviderTimeout
	}
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = 3
	}
	if opts.Cooloff <= 0 {
		opts.Cooloff = 5 * time.Minute
	}
	c := &Cascade{opts: opts}
	for _, p := range providers {
		if p == nil || !p.Enabled() {
			continue
		}
		c.entries = append(c.entries, cascadeEntry{
			provider: p,
			health:   circuit.NewBreaker(p.ID(), opts.FailureThreshold, opts.Cooloff),
		})
	}
	return c
}

// ProviderIDs lists the cascade order.
func (c *Cascade) ProviderIDs() []string {
	out := make([]string, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e.provider.ID())
	}
	return out
}

// Health reports each provider's breaker state.
func (c *Cascade) Health() map[string]string {
	out := make(map[string]string, len(c.entries))
	for _, e := range c.entries {
		out[e.provider.ID()] = e.health.State().String()
	}
	return out
}

// Query returns the first response that normalizes into a known shape.
// If ctx itself is cancelled the context error is returned as is.
func (c *Cascade) Query(ctx context.Context, snap market.Snapshot, traceID string) (RawResponse, string, error) {
	payload, err := buildPayload(snap, c.opts.SystemPrompt, traceID)
	if err != nil {
		return RawResponse{}, "", err
	}
	var attempts []ProviderError
	for _, e := range c.entries {
		if err := ctx.Err(); err != nil {
			return RawResponse{}, "", err
		}
		id := e.provider.ID()
		if !e.health.Allow() {
			attempts = append(attempts, ProviderError{ProviderID: id, Err: ErrProviderUnhealthy})
			continue
		}
		started := time.Now()
		text, env, err := c.attempt(ctx, e.provider, payload)
		elapsed := time.Since(started)
		if err != nil {
			if ctx.Err() != nil {
				return RawResponse{}, "", ctx.Err()
			}
			e.health.RecordFailure()
			attempts = append(attempts, ProviderError{ProviderID: id, Err: err, Elapsed: elapsed})
			logger.Warnf("provider %s failed after %s: %v", id, elapsed.Round(time.Millisecond), err)
			continue
		}
		e.health.RecordSuccess()
		logger.Infof("provider %s answered (%s, %d items) in %s", id, env.Shape, len(env.Items), elapsed.Round(time.Millisecond))
		return RawResponse{
			ProviderID: id,
			Text:       text,
			Envelope:   env,
			Elapsed:    elapsed,
			Attempts:   attempts,
		}, id, nil
	}
	return RawResponse{}, "", &ExhaustedError{Attempts: attempts}
}

func (c *Cascade) attempt(ctx context.Context, p provider.ModelProvider, payload provider.ChatPayload) (string, Envelope, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()
	type callResult struct {
		text string
		err  error
	}
	// buffered so a provider that ignores ctx does not leak a blocked sender
	done := make(chan callResult, 1)
	go func() {
		text, err := p.Call(attemptCtx, payload)
		done <- callResult{text: text, err: err}
	}()
	var res callResult
	select {
	case res = <-done:
	case <-attemptCtx.Done():
		res.err = attemptCtx.Err()
	}
	if res.err != nil {
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return "", Envelope{}, fmt.Errorf("%w after %s", ErrProviderTimeout, c.opts.Timeout)
		}
		return "", Envelope{}, res.err
	}
	text := res.text
	env, err := NormalizeText(text)
	if err != nil {
		return "", Envelope{}, err
	}
	return text, env, nil
}
