// Package azurechat implements backend.Caller over the Azure OpenAI chat
// completions API.
//
// Azure differs from the plain OpenAI surface in two ways that matter here:
// the deployment name is part of the URL rather than the request body, and
// authentication uses an api-key header instead of a bearer token.
package azurechat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/neocore-ai/swarm/internal/tlsutil"
	"github.com/neocore-ai/swarm/types"
)

// Config describes one Azure OpenAI deployment.
type Config struct {
	// Endpoint is the resource base URL, e.g. https://acme.openai.azure.com.
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// Deployment is the deployment name serving the model.
	Deployment string `json:"deployment" yaml:"deployment"`

	// APIVersion selects the REST API version.
	APIVersion string `json:"api_version" yaml:"api_version"`

	// APIKey is the literal credential. Prefer APIKeyEnv outside tests.
	APIKey string `json:"api_key" yaml:"api_key"`

	// APIKeyEnv names an environment variable holding the credential. When
	// set and non-empty it takes precedence over APIKey.
	APIKeyEnv string `json:"api_key_env" yaml:"api_key_env"`

	// Timeout bounds one HTTP exchange.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// Client calls one Azure OpenAI chat deployment.
type Client struct {
	cfg    Config
	apiKey string
	client *http.Client
	logger *zap.Logger
}

// New validates the config, resolves the credential, and builds the client.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("azurechat: endpoint is required")
	}
	if strings.TrimSpace(cfg.Deployment) == "" {
		return nil, fmt.Errorf("azurechat: deployment is required")
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = "2024-06-01"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	apiKey := cfg.APIKey
	if cfg.APIKeyEnv != "" {
		if v := os.Getenv(cfg.APIKeyEnv); v != "" {
			apiKey = v
		}
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("azurechat: no api key (set api_key or export %s)", cfg.APIKeyEnv)
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		cfg:    cfg,
		apiKey: apiKey,
		client: tlsutil.NewClient(cfg.Timeout),
		logger: logger.With(zap.String("component", "azurechat"), zap.String("deployment", cfg.Deployment)),
	}, nil
}

// Azure wire shapes.

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float32       `json:"temperature,omitempty"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   *chatUsage   `json:"usage,omitempty"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Invoke runs one chat completion for the task prompt.
func (c *Client) Invoke(ctx context.Context, task *types.Task) (*types.Completion, error) {
	body := chatRequest{
		Messages:    buildMessages(task.Prompt),
		MaxTokens:   chooseMaxTokens(task.Prompt),
		Temperature: task.Prompt.Temperature,
	}

	resp, err := c.post(ctx, body)
	if err != nil {
		return nil, err
	}

	if len(resp.Choices) == 0 {
		return nil, types.NewUpstreamError("azure returned no choices")
	}

	completion := &types.Completion{
		Content: resp.Choices[0].Message.Content,
		Model:   resp.Model,
	}
	if resp.Usage != nil {
		completion.Usage = types.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return completion, nil
}

// Ping issues a minimal one-token completion to verify the deployment
// accepts requests under the configured credential.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.post(ctx, chatRequest{
		Messages:  []chatMessage{{Role: "user", Content: "ping"}},
		MaxTokens: 1,
	})
	return err
}

func (c *Client) post(ctx context.Context, body chatRequest) (*chatResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, types.NewInternalError("encode request").WithCause(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(payload))
	if err != nil {
		return nil, types.NewInternalError("build request").WithCause(err)
	}
	c.buildHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, types.NewNetworkError(err.Error()).WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, mapAzureError(resp.StatusCode, readErrMsg(resp.Body))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, types.NewUpstreamError(fmt.Sprintf("decode response: %v", err)).WithCause(err)
	}
	return &out, nil
}

func (c *Client) endpoint() string {
	return fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		strings.TrimRight(c.cfg.Endpoint, "/"), c.cfg.Deployment, c.cfg.APIVersion)
}

func (c *Client) buildHeaders(req *http.Request) {
	req.Header.Set("api-key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
}

func buildMessages(p types.Prompt) []chatMessage {
	msgs := make([]chatMessage, 0, 2)
	if p.System != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: p.System})
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: p.User})
	return msgs
}

func chooseMaxTokens(p types.Prompt) int {
	if p.MaxTokens > 0 {
		return p.MaxTokens
	}
	// Azure rejects requests without max_tokens on older API versions.
	return 1024
}

func readErrMsg(body io.Reader) string {
	data, _ := io.ReadAll(body)
	var errResp errorResponse
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		if errResp.Error.Code != "" {
			return fmt.Sprintf("%s (code: %s)", errResp.Error.Message, errResp.Error.Code)
		}
		return errResp.Error.Message
	}
	return string(data)
}

func mapAzureError(status int, msg string) *types.Error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return types.NewAuthenticationError(msg).WithHTTPStatus(status)
	case http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity:
		return types.NewInvalidRequestError(msg).WithHTTPStatus(status)
	case http.StatusRequestTimeout:
		return types.NewUpstreamTimeoutError(msg)
	case http.StatusTooManyRequests:
		return types.NewRateLimitedError(msg)
	default:
		if status >= 500 {
			return types.NewUpstreamError(msg).WithHTTPStatus(status)
		}
		return types.NewUpstreamError(msg).WithHTTPStatus(status).WithRetryable(false)
	}
}
