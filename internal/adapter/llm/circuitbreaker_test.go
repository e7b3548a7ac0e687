package llm

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studyportal/internal/domain"
	"studyportal/internal/infra/config"
)

type flakyProvider struct {
	calls atomic.Int64
	err   error
}

func (f *flakyProvider) Chat(_ context.Context, _ domain.ChatRequest) (*domain.ChatResponse, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &domain.ChatResponse{Content: "ok"}, nil
}

func (f *flakyProvider) Name() string { return "flaky" }

func TestCircuitBreakerPassesThroughSuccess(t *testing.T) {
	inner := &flakyProvider{}
	p := NewCircuitBreakerProvider(inner, config.CircuitBreakerConfig{}, noopLogger())

	resp, err := p.Chat(context.Background(), domain.ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, "flaky", p.Name())
	assert.Equal(t, gobreaker.StateClosed, p.State())
}

func TestCircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	inner := &flakyProvider{err: domain.ErrGeneration}
	p := NewCircuitBreakerProvider(inner, config.CircuitBreakerConfig{MaxFailures: 3}, noopLogger())

	for i := 0; i < 3; i++ {
		_, err := p.Chat(context.Background(), domain.ChatRequest{})
		assert.ErrorIs(t, err, domain.ErrGeneration)
	}
	assert.Equal(t, gobreaker.StateOpen, p.State())

	// Open circuit fails fast without reaching the provider.
	before := inner.calls.Load()
	_, err := p.Chat(context.Background(), domain.ChatRequest{})
	require.Error(t, err)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, before, inner.calls.Load())
}

func TestCircuitBreakerStaysClosedBelowThreshold(t *testing.T) {
	inner := &flakyProvider{err: errors.New("transient")}
	p := NewCircuitBreakerProvider(inner, config.CircuitBreakerConfig{MaxFailures: 5}, noopLogger())

	for i := 0; i < 4; i++ {
		_, err := p.Chat(context.Background(), domain.ChatRequest{})
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateClosed, p.State())

	// A success resets the consecutive-failure count.
	inner.err = nil
	_, err := p.Chat(context.Background(), domain.ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, uint32(0), p.Counts().ConsecutiveFailures)
}
