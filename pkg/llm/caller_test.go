package llm_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyreel/pkg/llm"
	"storyreel/pkg/llm/llmtest"
	"storyreel/pkg/request"
	"storyreel/pkg/tracker"
)

func TestCaller_RetryBudgets(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCalls int
		wantIs    error
	}{
		{"transient uses long budget", llm.ErrRateLimited, 10, llm.ErrRateLimited},
		{"overload is transient", fmt.Errorf("529: %w", llm.ErrOverloaded), 10, llm.ErrOverloaded},
		{"other uses short budget", errors.New("boom"), 3, nil},
		{"fatal is not retried", llm.ErrUnauthorized, 1, llm.ErrUnauthorized},
		{"server error status is other", &request.StatusError{Code: 500}, 3, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := llmtest.New(func(string, string) (string, error) { return "", tt.err })
			c := llm.NewCaller(stub, nil, llmtest.FastPolicy(), nil)

			_, err := c.Call(context.Background(), "tone", "p", false)
			require.Error(t, err)

			var ee *llm.ExtractionError
			require.True(t, errors.As(err, &ee))
			assert.Equal(t, "tone", ee.Profile)
			assert.Equal(t, tt.wantCalls, ee.Attempts)
			assert.Equal(t, tt.wantCalls, stub.Count("tone"))
			if tt.wantIs != nil {
				assert.True(t, errors.Is(err, tt.wantIs))
			}
		})
	}
}

func TestCaller_RecoversAfterTransient(t *testing.T) {
	stub := llmtest.New(llmtest.Sequence(
		[]string{"", "", `{"ok": true}`},
		[]error{llm.ErrRateLimited, llm.ErrOverloaded, nil},
	))
	tr := tracker.New()
	c := llm.NewCaller(stub, nil, llmtest.FastPolicy(), tr)

	var out struct {
		OK bool `json:"ok"`
	}
	require.NoError(t, c.CallJSON(context.Background(), "plot", "p", &out))
	assert.True(t, out.OK)
	assert.Equal(t, 3, stub.Count("plot"))
	assert.Equal(t, int64(2), tr.Snapshot()["stub"].APIRetries)
}

func TestCaller_MalformedOutputRetriedThenSurfaced(t *testing.T) {
	stub := llmtest.New(func(string, string) (string, error) { return "I refuse to answer in JSON.", nil })
	c := llm.NewCaller(stub, nil, llmtest.FastPolicy(), nil)

	_, err := c.Call(context.Background(), "characters", "p", true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, llm.ErrMalformedOutput))
	assert.Equal(t, 3, stub.Count("characters"))
}

func TestCaller_FencedJSONIsCoerced(t *testing.T) {
	stub := llmtest.New(func(string, string) (string, error) { return "```json\n[1,2,3]\n```", nil })
	c := llm.NewCaller(stub, nil, llmtest.FastPolicy(), nil)

	got, err := c.Call(context.Background(), "x", "p", true)
	require.NoError(t, err)
	assert.Equal(t, "[1,2,3]", got)

	text, err := c.Call(context.Background(), "x", "p", false)
	require.NoError(t, err)
	assert.Equal(t, "```json\n[1,2,3]\n```", text, "text calls are returned raw")
}

func TestCaller_TokenAccounting(t *testing.T) {
	stub := llmtest.New(func(string, string) (string, error) { return "ok", nil })
	stub.Usage = llm.Usage{InputTokens: 100, OutputTokens: 20}
	c := llm.NewCaller(stub, nil, llmtest.FastPolicy(), nil)

	for i := 0; i < 3; i++ {
		_, err := c.Call(context.Background(), "scene", "p", false)
		require.NoError(t, err)
	}
	assert.Equal(t, int64(360), c.TokensUsed())
	assert.Equal(t, "stub-model", c.ModelUsed())
}

func TestCaller_ContextCancelStopsRetries(t *testing.T) {
	stub := llmtest.New(func(string, string) (string, error) { return "", llm.ErrRateLimited })
	policy := llmtest.FastPolicy()
	policy.BaseDelay = time.Second
	policy.MaxDelay = time.Second
	c := llm.NewCaller(stub, nil, policy, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.Call(ctx, "tone", "p", false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, 1, stub.Count("tone"))
}

func TestCaller_UsesLimiter(t *testing.T) {
	stub := llmtest.New(func(string, string) (string, error) { return "ok", nil })
	limiter := request.NewRateLimiter(1200) // 50ms spacing
	c := llm.NewCaller(stub, limiter, llmtest.FastPolicy(), nil)

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := c.Call(context.Background(), "scene", "p", false)
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 95*time.Millisecond)
}
