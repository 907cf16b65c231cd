package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyreel/pkg/config"
	"storyreel/pkg/llm"
	"storyreel/pkg/request"
	"storyreel/pkg/tracker"
)

func testRC() *request.Client {
	return request.New(config.RequestConfig{
		Timeout: config.Duration(5 * time.Second),
		Retries: 1,
		Backoff: config.BackoffConfig{
			BaseDelay: config.Duration(time.Millisecond),
			MaxDelay:  config.Duration(5 * time.Millisecond),
		},
	}, tracker.New())
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := NewClient(config.ProviderConfig{
		Type:     "groq",
		Key:      "test_key",
		BaseURL:  url,
		Model:    "default-model",
		Profiles: map[string]string{llm.ProfileScene: "scene-model"},
	}, testRC())
	require.NoError(t, err)
	return c
}

func TestOpenAI_GenerateText(t *testing.T) {
	var got Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test_key", r.Header.Get("Authorization"))
		assert.Equal(t, "/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"model":"scene-model-0801","choices":[{"message":{"content":"pong"}}],"usage":{"prompt_tokens":12,"completion_tokens":3}}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	res, err := c.GenerateText(context.Background(), llm.ProfileScene, "ping")
	require.NoError(t, err)

	assert.Equal(t, "pong", res.Text)
	assert.Equal(t, "scene-model-0801", res.Model)
	assert.Equal(t, 15, res.Usage.Total())
	assert.Equal(t, "scene-model", got.Model)
	assert.Nil(t, got.ResponseFormat)
	assert.Equal(t, "groq", c.Name())
}

func TestOpenAI_GenerateJSON(t *testing.T) {
	var got Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"choices":[{"message":{"content":"{\"result\": \"ok\"}"}}]}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	res, err := c.GenerateJSON(context.Background(), llm.ProfileTone, "describe the tone")
	require.NoError(t, err)

	assert.JSONEq(t, `{"result":"ok"}`, res.Text)
	assert.Equal(t, "default-model", res.Model)
	require.NotNil(t, got.ResponseFormat)
	assert.Equal(t, "json_object", got.ResponseFormat.Type)
	require.Len(t, got.Messages, 1)
	assert.True(t, strings.HasSuffix(got.Messages[0].Content, "Respond in JSON."))
}

func TestOpenAI_StatusErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   llm.Class
	}{
		{"bad request", http.StatusBadRequest, llm.ClassOther},
		{"unauthorized", http.StatusUnauthorized, llm.ClassFatal},
		{"rate limited", http.StatusTooManyRequests, llm.ClassTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"error": {"message": "nope", "type": "invalid_request_error"}}`))
			}))
			defer server.Close()

			c := newTestClient(t, server.URL)
			_, err := c.GenerateText(context.Background(), llm.ProfileScene, "ping")
			require.Error(t, err)
			assert.Contains(t, err.Error(), "status")
			assert.Equal(t, tt.want, llm.Classify(err))
		})
	}
}

func TestOpenAI_BodyErrors(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantMsg   string
		malformed bool
	}{
		{"error in 200 body", `{"error": {"message": "internal limitation", "type": "proxy_error"}}`, "internal limitation", false},
		{"invalid json", `invalid json`, "failed to unmarshal", true},
		{"no choices", `{"choices":[]}`, "returned no choices", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			c := newTestClient(t, server.URL)
			_, err := c.GenerateText(context.Background(), llm.ProfileScene, "ping")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
			if tt.malformed {
				assert.ErrorIs(t, err, llm.ErrMalformedOutput)
			} else {
				assert.NotErrorIs(t, err, llm.ErrMalformedOutput)
			}
		})
	}
}

func TestOpenAI_HealthCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models", r.URL.Path)
		w.Write([]byte(`{"data":[{"id":"default-model"},{"id":"scene-model"}]}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	assert.NoError(t, c.HealthCheck(context.Background()))

	c.profiles[llm.ProfileBreakdown] = "missing-model"
	err := c.HealthCheck(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing-model")
}

func TestOpenAI_ResolveModel(t *testing.T) {
	c, err := NewClient(config.ProviderConfig{
		Type:     "openai",
		Key:      "k",
		Profiles: map[string]string{llm.ProfileScene: "pro-model"},
	}, testRC())
	require.NoError(t, err)
	assert.Equal(t, "https://api.openai.com/v1", c.baseURL)

	m, err := c.ResolveModel(llm.ProfileScene)
	require.NoError(t, err)
	assert.Equal(t, "pro-model", m)

	_, err = c.ResolveModel(llm.ProfileTone)
	assert.Error(t, err)
	assert.False(t, c.HasProfile(llm.ProfileTone))
	assert.True(t, c.HasProfile(llm.ProfileScene))
}

func TestOpenAI_MissingKey(t *testing.T) {
	c, err := NewClient(config.ProviderConfig{Type: "deepseek", Model: "deepseek-reasoner"}, testRC())
	require.NoError(t, err)

	_, err = c.GenerateText(context.Background(), llm.ProfileScene, "ping")
	assert.ErrorIs(t, err, llm.ErrUnauthorized)
	assert.False(t, c.HasProfile(llm.ProfileScene))
}

func TestNewClient_UnknownType(t *testing.T) {
	_, err := NewClient(config.ProviderConfig{Type: "mystery"}, testRC())
	assert.Error(t, err)
}

func TestIsReasoner(t *testing.T) {
	assert.True(t, isReasoner("deepseek-reasoner"))
	assert.True(t, isReasoner("DeepSeek-R1"))
	assert.False(t, isReasoner("gpt-4o"))
}
