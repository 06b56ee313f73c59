package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubClient struct {
	response string
	err      error
	calls    int
}

func (s *stubClient) Generate(_ context.Context, _ string) (string, error) {
	s.calls++
	return s.response, s.err
}

func (s *stubClient) ModelName() string { return "stub-model" }

func TestBreakerClient_PassesThrough(t *testing.T) {
	stub := &stubClient{response: "generated prose"}
	c := NewBreakerClient(stub, DefaultBreakerConfig())

	got, err := c.Generate(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, "generated prose", got)
	assert.Equal(t, "stub-model", c.ModelName())
}

func TestBreakerClient_OpensAfterRepeatedFailures(t *testing.T) {
	stub := &stubClient{err: errors.New("upstream down")}
	c := NewBreakerClient(stub, BreakerConfig{
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          time.Minute,
		ReadyToTripRatio: 0.6,
	})

	for i := 0; i < 3; i++ {
		_, err := c.Generate(context.Background(), "prompt")
		require.Error(t, err)
	}

	// Breaker is open now; the client is no longer invoked.
	before := stub.calls
	_, err := c.Generate(context.Background(), "prompt")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, before, stub.calls)
}

func TestNewOpenAIClient_Validation(t *testing.T) {
	_, err := NewOpenAIClient(Config{Model: "gpt-4o"})
	assert.Error(t, err)

	_, err = NewOpenAIClient(Config{APIKey: "sk-test"})
	assert.Error(t, err)

	c, err := NewOpenAIClient(Config{APIKey: "sk-test", Model: "gpt-4o"})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", c.ModelName())
	assert.Equal(t, DefaultMaxTokens, c.maxTokens)
}
