package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCompleter struct {
	name    string
	content string
	err     error
	calls   int
}

func (s *stubCompleter) Complete(ctx context.Context, req Request) (string, error) {
	s.calls++
	return s.content, s.err
}

func (s *stubCompleter) Provider() string {
	return s.name
}

func stubFactory(stubs map[string]*stubCompleter) CompleterFactory {
	return func(profile Profile) (Completer, error) {
		stub, ok := stubs[profile.ID]
		if !ok {
			return nil, errors.New("no stub for profile")
		}
		return stub, nil
	}
}

func TestNewPool(t *testing.T) {
	t.Run("no profiles", func(t *testing.T) {
		_, err := NewPool(nil, nil)
		assert.Error(t, err)
	})

	t.Run("unsupported provider", func(t *testing.T) {
		_, err := NewPool([]Profile{{ID: "p", Provider: "mystery", APIKey: "k"}}, nil)
		assert.Error(t, err)
	})

	t.Run("real factory builds known providers", func(t *testing.T) {
		pool, err := NewPool([]Profile{
			{ID: "a", Provider: "openai", APIKey: "sk-test", BaseURL: "https://openrouter.ai/api/v1"},
			{ID: "b", Provider: "anthropic", APIKey: "sk-ant-test"},
		}, nil)
		require.NoError(t, err)
		assert.Equal(t, "openai", pool.Provider())
	})
}

func TestPoolPriorityOrder(t *testing.T) {
	stubs := map[string]*stubCompleter{
		"low":  {name: "openai", content: "from low"},
		"high": {name: "anthropic", content: "from high"},
	}

	pool, err := NewPool([]Profile{
		{ID: "low", Provider: "openai", Priority: 2},
		{ID: "high", Provider: "anthropic", Priority: 1},
	}, stubFactory(stubs))
	require.NoError(t, err)

	out, err := pool.Complete(context.Background(), Request{Model: "m", Prompt: "hi"})
	assert.NoError(t, err)
	assert.Equal(t, "from high", out)
	assert.Equal(t, 0, stubs["low"].calls)
}

func TestPoolFailoverOnRetryableError(t *testing.T) {
	stubs := map[string]*stubCompleter{
		"primary":  {name: "openai", err: errors.New("429 rate limit exceeded")},
		"fallback": {name: "anthropic", content: "fallback answer"},
	}

	pool, err := NewPool([]Profile{
		{ID: "primary", Provider: "openai", Priority: 1},
		{ID: "fallback", Provider: "anthropic", Priority: 2},
	}, stubFactory(stubs))
	require.NoError(t, err)

	out, err := pool.Complete(context.Background(), Request{Model: "m", Prompt: "hi"})
	assert.NoError(t, err)
	assert.Equal(t, "fallback answer", out)
	assert.Equal(t, 1, stubs["primary"].calls)
}

func TestPoolPermanentErrorStopsFailover(t *testing.T) {
	stubs := map[string]*stubCompleter{
		"primary":  {name: "openai", err: errors.New("401 invalid api key")},
		"fallback": {name: "anthropic", content: "never used"},
	}

	pool, err := NewPool([]Profile{
		{ID: "primary", Provider: "openai", Priority: 1},
		{ID: "fallback", Provider: "anthropic", Priority: 2},
	}, stubFactory(stubs))
	require.NoError(t, err)

	_, err = pool.Complete(context.Background(), Request{Model: "m", Prompt: "hi"})
	assert.Error(t, err)
	assert.Equal(t, 0, stubs["fallback"].calls)
}

func TestPoolCooldownSkipsFailedProfile(t *testing.T) {
	stubs := map[string]*stubCompleter{
		"flaky":  {name: "openai", err: errors.New("503 service unavailable")},
		"steady": {name: "anthropic", content: "ok"},
	}

	pool, err := NewPool([]Profile{
		{ID: "flaky", Provider: "openai", Priority: 1},
		{ID: "steady", Provider: "anthropic", Priority: 2},
	}, stubFactory(stubs))
	require.NoError(t, err)

	// First call fails over and puts the flaky profile in cooldown
	_, err = pool.Complete(context.Background(), Request{Model: "m", Prompt: "hi"})
	require.NoError(t, err)
	require.Equal(t, 1, stubs["flaky"].calls)

	// Second call skips the cooled-down profile entirely
	out, err := pool.Complete(context.Background(), Request{Model: "m", Prompt: "hi"})
	assert.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 1, stubs["flaky"].calls)
}

func TestPoolAllProfilesInCooldown(t *testing.T) {
	stubs := map[string]*stubCompleter{
		"only": {name: "openai", err: errors.New("502 bad gateway")},
	}

	pool, err := NewPool([]Profile{
		{ID: "only", Provider: "openai", Priority: 1},
	}, stubFactory(stubs))
	require.NoError(t, err)

	_, err = pool.Complete(context.Background(), Request{Model: "m", Prompt: "hi"})
	require.Error(t, err)

	_, err = pool.Complete(context.Background(), Request{Model: "m", Prompt: "hi"})
	assert.ErrorContains(t, err, "cooldown")
}

func TestPoolProfileModelOverride(t *testing.T) {
	var seenModel string
	factory := func(profile Profile) (Completer, error) {
		return completerFunc(func(ctx context.Context, req Request) (string, error) {
			seenModel = req.Model
			return "done", nil
		}), nil
	}

	pool, err := NewPool([]Profile{
		{ID: "pinned", Provider: "openai", Model: "qwen/qwq-32b:free", Priority: 1},
	}, factory)
	require.NoError(t, err)

	_, err = pool.Complete(context.Background(), Request{Model: "request-model", Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "qwen/qwq-32b:free", seenModel)
}

type completerFunc func(ctx context.Context, req Request) (string, error)

func (f completerFunc) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

func (f completerFunc) Provider() string { return "stub" }

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"nil", nil, false},
		{"rate limit", errors.New("429 too many requests"), true},
		{"server error", errors.New("500 internal server error"), true},
		{"bad gateway", errors.New("502 bad gateway"), true},
		{"timeout", errors.New("request timeout"), true},
		{"auth failure", errors.New("401 unauthorized"), false},
		{"bad request", errors.New("400 invalid model"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, IsRetryableError(tt.err))
		})
	}
}
