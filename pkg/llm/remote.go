// Package llm provides the Remote and Local Completion Backends (spec
// §4.5, §4.6), both implementing translator.CompletionBackend.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/lokutor-ai/turnscribe/pkg/apperr"
	"github.com/lokutor-ai/turnscribe/pkg/config"
	"github.com/lokutor-ai/turnscribe/pkg/translator"
)

// providerBaseURLs maps a model-string provider prefix to its
// chat-completions base URL. Unrecognized prefixes fall back to
// defaultBaseURL unless StrictProviders is set on Remote.
var providerBaseURLs = map[string]string{
	"openai":    "https://api.openai.com/v1/chat/completions",
	"groq":      "https://api.groq.com/openai/v1/chat/completions",
	"together":  "https://api.together.xyz/v1/chat/completions",
	"fireworks": "https://api.fireworks.ai/inference/v1/chat/completions",
}

const defaultBaseURL = "https://api.openai.com/v1/chat/completions"

// promptCacheProviders support wrapping the system message with a
// cache-control marker.
var promptCacheProviders = map[string]bool{
	"groq":      true,
	"together":  true,
	"fireworks": true,
}

// Remote is a provider-agnostic OpenAI-compatible chat-completions
// backend. Providers are selected by the "provider/model-id" prefix of
// Model.
type Remote struct {
	client          *http.Client
	apiKey          string
	model           string
	provider        string
	baseURL         string
	providerKnown   bool
	StrictProviders bool
}

// NewRemote builds a Remote backend for "provider/model-id". apiKey is
// resolved by the caller via a config.CredentialStore lookup.
func NewRemote(apiKey, model string) (*Remote, error) {
	provider, rest, ok := strings.Cut(model, "/")
	if !ok {
		provider, rest = "openai", model
	}

	base, known := providerBaseURLs[provider]
	if !known {
		base = defaultBaseURL
	}

	dialer := &net.Dialer{Timeout: 5 * time.Second}
	return &Remote{
		client: &http.Client{
			// Single shared connection pool (the zero-value Transport
			// fields already pool); only the connect timeout is tightened,
			// the overall response timeout stays generous.
			Transport: &http.Transport{DialContext: dialer.DialContext},
			Timeout:   120 * time.Second,
		},
		apiKey:        apiKey,
		model:         rest,
		provider:      provider,
		baseURL:       base,
		providerKnown: known,
	}, nil
}

// ResolveCredential looks up the provider's API key from store under
// namespace "llm".
func ResolveCredential(store config.CredentialStore, provider string) (string, error) {
	return store.Lookup("llm", provider)
}

type wireMessage struct {
	Role       string          `json:"role"`
	Content    any             `json:"content"`
	ToolCalls  []wireToolCall  `json:"tool_calls,omitempty"`
	ToolCallId string          `json:"tool_call_id,omitempty"`
}

type wireToolCall struct {
	Id       string           `json:"id"`
	Type     string           `json:"type"`
	Function wireToolFunction `json:"function"`
}

type wireToolFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireTool struct {
	Type     string           `json:"type"`
	Function wireToolFunctionDef `json:"function"`
}

type wireToolFunctionDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

func (r *Remote) Complete(ctx context.Context, messages []translator.Message, tools []translator.ToolDef) (translator.CompletionResult, error) {
	if r.StrictProviders && !r.providerKnown {
		return translator.CompletionResult{}, fmt.Errorf("%s: %w", r.provider, apperr.ErrUnknownProvider)
	}

	wireMessages := make([]wireMessage, len(messages))
	for i, m := range messages {
		wm := wireMessage{Role: m.Role, ToolCallId: m.ToolCallId}
		if m.Role == "system" && promptCacheProviders[r.provider] {
			wm.Content = []map[string]any{{"type": "text", "text": m.Content, "cache_control": map[string]string{"type": "ephemeral"}}}
		} else {
			wm.Content = m.Content
		}
		for _, tc := range m.ToolCalls {
			wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
				Id:   tc.Id,
				Type: "function",
				Function: wireToolFunction{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		wireMessages[i] = wm
	}

	wireTools := make([]wireTool, len(tools))
	for i, td := range tools {
		wireTools[i] = wireTool{
			Type: "function",
			Function: wireToolFunctionDef{
				Name:        td.Name,
				Description: td.Description,
				Parameters:  td.Parameters,
			},
		}
	}

	payload := map[string]any{
		"model":       r.model,
		"messages":    wireMessages,
		"tools":       wireTools,
		"tool_choice": "required",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return translator.CompletionResult{}, fmt.Errorf("%w: marshal request: %v", apperr.ErrLlmDecode, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL, bytes.NewReader(body))
	if err != nil {
		return translator.CompletionResult{}, fmt.Errorf("%w: %v", apperr.ErrLlmTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.apiKey)

	resp, err := r.client.Do(req)
	if err != nil {
		return translator.CompletionResult{}, fmt.Errorf("%w: %w", apperr.ErrLlmTransport, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return translator.CompletionResult{}, fmt.Errorf("%w: read response: %v", apperr.ErrLlmTransport, err)
	}

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return translator.CompletionResult{}, fmt.Errorf("%w: llm backend %s rejected request (status %d): request=%s response=%s",
			apperr.ErrLlmDecode, r.provider, resp.StatusCode, string(body), string(respBody))
	}
	if resp.StatusCode != http.StatusOK {
		return translator.CompletionResult{}, fmt.Errorf("%w: llm backend %s status %d: %s", apperr.ErrLlmTransport, r.provider, resp.StatusCode, string(respBody))
	}

	var result struct {
		Choices []struct {
			Message struct {
				Role      string `json:"role"`
				Content   string `json:"content"`
				ToolCalls []struct {
					Id       string `json:"id"`
					Function struct {
						Name      string `json:"name"`
						Arguments string `json:"arguments"`
					} `json:"function"`
				} `json:"tool_calls"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return translator.CompletionResult{}, fmt.Errorf("%w: decode response: %v", apperr.ErrLlmDecode, err)
	}
	if len(result.Choices) == 0 {
		return translator.CompletionResult{}, fmt.Errorf("%w: no choices returned", apperr.ErrLlmDecode)
	}

	choice := result.Choices[0]
	out := translator.Message{Role: choice.Message.Role, Content: choice.Message.Content}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, translator.ToolCall{
			Id:        tc.Id,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}

	if len(out.ToolCalls) == 0 {
		return translator.CompletionResult{}, fmt.Errorf("%w: model did not call a tool", apperr.ErrLlmToolUseFailed)
	}

	return translator.CompletionResult{Message: out}, nil
}
