package azurechat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/neocore-ai/swarm/types"
)

func newTestClient(t *testing.T, serverURL string) *Client {
	t.Helper()
	c, err := New(Config{
		Endpoint:   serverURL,
		Deployment: "gpt-4o",
		APIVersion: "2024-06-01",
		APIKey:     "test-key",
		Timeout:    5 * time.Second,
	}, zap.NewNop())
	require.NoError(t, err)
	return c
}

func okResponse() chatResponse {
	return chatResponse{
		ID:    "chatcmpl-123",
		Model: "gpt-4o",
		Choices: []chatChoice{{
			Index:        0,
			Message:      chatMessage{Role: "assistant", Content: "hello back"},
			FinishReason: "stop",
		}},
		Usage: &chatUsage{PromptTokens: 12, CompletionTokens: 3, TotalTokens: 15},
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Deployment: "d", APIKey: "k"}, zap.NewNop())
	assert.Error(t, err)

	_, err = New(Config{Endpoint: "https://acme.openai.azure.com", APIKey: "k"}, zap.NewNop())
	assert.Error(t, err)

	_, err = New(Config{Endpoint: "https://acme.openai.azure.com", Deployment: "d"}, zap.NewNop())
	assert.Error(t, err)
}

func TestNew_ResolvesKeyFromEnv(t *testing.T) {
	t.Setenv("AZURE_TEST_KEY", "env-key")

	c, err := New(Config{
		Endpoint:   "https://acme.openai.azure.com",
		Deployment: "gpt-4o",
		APIKey:     "literal-key",
		APIKeyEnv:  "AZURE_TEST_KEY",
	}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "env-key", c.apiKey)
}

func TestClient_InvokeSendsAzureWireFormat(t *testing.T) {
	var (
		capturedPath   string
		capturedQuery  string
		capturedKey    string
		capturedBody   chatRequest
		capturedAccept string
	)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedPath = r.URL.Path
		capturedQuery = r.URL.RawQuery
		capturedKey = r.Header.Get("api-key")
		capturedAccept = r.Header.Get("Accept")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&capturedBody))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(okResponse())
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	task := types.NewTask("worker", types.Prompt{
		System:      "be terse",
		User:        "say hello",
		MaxTokens:   64,
		Temperature: 0.2,
	})

	completion, err := c.Invoke(context.Background(), task)
	require.NoError(t, err)

	assert.Equal(t, "/openai/deployments/gpt-4o/chat/completions", capturedPath)
	assert.Equal(t, "api-version=2024-06-01", capturedQuery)
	assert.Equal(t, "test-key", capturedKey)
	assert.Equal(t, "application/json", capturedAccept)

	require.Len(t, capturedBody.Messages, 2)
	assert.Equal(t, "system", capturedBody.Messages[0].Role)
	assert.Equal(t, "be terse", capturedBody.Messages[0].Content)
	assert.Equal(t, "user", capturedBody.Messages[1].Role)
	assert.Equal(t, "say hello", capturedBody.Messages[1].Content)
	assert.Equal(t, 64, capturedBody.MaxTokens)
	assert.InDelta(t, 0.2, float64(capturedBody.Temperature), 0.001)

	assert.Equal(t, "hello back", completion.Content)
	assert.Equal(t, "gpt-4o", completion.Model)
	assert.Equal(t, 15, completion.Usage.TotalTokens)
}

func TestClient_InvokeDefaultsMaxTokens(t *testing.T) {
	var capturedBody chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&capturedBody))
		json.NewEncoder(w).Encode(okResponse())
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	_, err := c.Invoke(context.Background(), types.NewTask("worker", types.Prompt{User: "hi"}))
	require.NoError(t, err)

	require.Len(t, capturedBody.Messages, 1)
	assert.Equal(t, "user", capturedBody.Messages[0].Role)
	assert.Equal(t, 1024, capturedBody.MaxTokens)
}

func TestClient_InvokeMapsStatusCodes(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		body          string
		expectedCode  types.ErrorCode
		expectedRetry bool
	}{
		{
			name:          "401 unauthorized",
			status:        http.StatusUnauthorized,
			body:          `{"error":{"code":"401","message":"invalid api key"}}`,
			expectedCode:  types.ErrAuthentication,
			expectedRetry: false,
		},
		{
			name:          "403 forbidden",
			status:        http.StatusForbidden,
			body:          `{"error":{"code":"403","message":"access denied"}}`,
			expectedCode:  types.ErrAuthentication,
			expectedRetry: false,
		},
		{
			name:          "400 bad request",
			status:        http.StatusBadRequest,
			body:          `{"error":{"code":"invalid_request","message":"bad payload"}}`,
			expectedCode:  types.ErrInvalidRequest,
			expectedRetry: false,
		},
		{
			name:          "404 unknown deployment",
			status:        http.StatusNotFound,
			body:          `{"error":{"code":"DeploymentNotFound","message":"no such deployment"}}`,
			expectedCode:  types.ErrInvalidRequest,
			expectedRetry: false,
		},
		{
			name:          "429 throttled",
			status:        http.StatusTooManyRequests,
			body:          `{"error":{"code":"429","message":"rate limit"}}`,
			expectedCode:  types.ErrRateLimited,
			expectedRetry: true,
		},
		{
			name:          "500 internal",
			status:        http.StatusInternalServerError,
			body:          `{"error":{"code":"500","message":"server error"}}`,
			expectedCode:  types.ErrUpstreamError,
			expectedRetry: true,
		},
		{
			name:          "503 overloaded",
			status:        http.StatusServiceUnavailable,
			body:          `{"error":{"code":"503","message":"overloaded"}}`,
			expectedCode:  types.ErrUpstreamError,
			expectedRetry: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer server.Close()

			c := newTestClient(t, server.URL)
			_, err := c.Invoke(context.Background(), types.NewTask("worker", types.Prompt{User: "hi"}))

			require.Error(t, err)
			var typed *types.Error
			require.ErrorAs(t, err, &typed)
			assert.Equal(t, tc.expectedCode, typed.Code)
			assert.Equal(t, tc.expectedRetry, typed.Retryable)
			assert.Equal(t, tc.status, typed.HTTPStatus)
		})
	}
}

func TestClient_InvokeNetworkErrorIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // connection refused from here on

	c := newTestClient(t, server.URL)
	_, err := c.Invoke(context.Background(), types.NewTask("worker", types.Prompt{User: "hi"}))

	require.Error(t, err)
	var typed *types.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, types.ErrNetwork, typed.Code)
	assert.True(t, typed.Retryable)
}

func TestClient_InvokeDeadlineSurfacesThroughChain(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		json.NewEncoder(w).Encode(okResponse())
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Invoke(ctx, types.NewTask("worker", types.Prompt{User: "hi"}))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestClient_InvokeEmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(chatResponse{ID: "x", Model: "gpt-4o"})
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	_, err := c.Invoke(context.Background(), types.NewTask("worker", types.Prompt{User: "hi"}))

	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrUpstreamError))
}

func TestClient_Ping(t *testing.T) {
	var capturedBody chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&capturedBody))
		json.NewEncoder(w).Encode(okResponse())
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	require.NoError(t, c.Ping(context.Background()))
	assert.Equal(t, 1, capturedBody.MaxTokens)

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key"}}`))
	}))
	defer failing.Close()

	c2 := newTestClient(t, failing.URL)
	err := c2.Ping(context.Background())
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrAuthentication))
}

func TestReadErrMsg_FallsBackToRawBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream exploded"))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	_, err := c.Invoke(context.Background(), types.NewTask("worker", types.Prompt{User: "hi"}))

	require.Error(t, err)
	var typed *types.Error
	require.ErrorAs(t, err, &typed)
	assert.Contains(t, typed.Message, "upstream exploded")
}
