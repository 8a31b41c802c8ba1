// Package fixtures provides canned wire payloads for transport and
// integration tests: Azure chat-completions bodies and council JSON
// replies.
package fixtures

import (
	"encoding/json"
)

// AzureChatCompletion returns an Azure chat-completions response body with
// the given assistant content and a fixed 10/20 token usage.
func AzureChatCompletion(content string) string {
	return AzureChatCompletionWithUsage(content, 10, 20)
}

// AzureChatCompletionWithUsage returns an Azure chat-completions response
// body with explicit token usage.
func AzureChatCompletionWithUsage(content string, promptTokens, completionTokens int) string {
	payload, _ := json.Marshal(map[string]any{
		"id":    "chatcmpl-fixture",
		"model": "gpt-4o",
		"choices": []map[string]any{
			{
				"index":         0,
				"finish_reason": "stop",
				"message": map[string]string{
					"role":    "assistant",
					"content": content,
				},
			},
		},
		"usage": map[string]int{
			"prompt_tokens":     promptTokens,
			"completion_tokens": completionTokens,
			"total_tokens":      promptTokens + completionTokens,
		},
	})
	return string(payload)
}

// AzureChatNoChoices returns a well-formed response without choices, which
// the transport must reject as an upstream error.
func AzureChatNoChoices() string {
	return `{"id":"chatcmpl-fixture","model":"gpt-4o","choices":[]}`
}

// AzureError returns an Azure error body for the given code and message.
func AzureError(code, message string) string {
	payload, _ := json.Marshal(map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
	return string(payload)
}

// AzureRateLimited returns the standard 429 body.
func AzureRateLimited() string {
	return AzureError("429", "Requests to the deployment have exceeded the call rate limit.")
}

// AzureContentFilter returns the standard 400 content-filter body.
func AzureContentFilter() string {
	return AzureError("content_filter", "The response was filtered due to the prompt triggering content management policy.")
}
