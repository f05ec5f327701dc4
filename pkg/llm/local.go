package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lokutor-ai/turnscribe/pkg/apperr"
	"github.com/lokutor-ai/turnscribe/pkg/translator"
)

// Local is interface-identical to Remote but talks to a self-hosted,
// OpenAI-compatible server whose chat template requires a strictly
// alternating user/assistant sequence (optionally preceded by a single
// system message).
type Local struct {
	client *http.Client
	url    string
	model  string
}

func NewLocal(url, model string) *Local {
	return &Local{
		client: &http.Client{Timeout: 120 * time.Second},
		url:    url,
		model:  model,
	}
}

func (l *Local) Complete(ctx context.Context, messages []translator.Message, tools []translator.ToolDef) (translator.CompletionResult, error) {
	normalized := normalize(messages)

	wireMessages := make([]wireMessage, len(normalized))
	for i, m := range normalized {
		wireMessages[i] = wireMessage{Role: m.Role, Content: m.Content, ToolCallId: m.ToolCallId}
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
		"model":       l.model,
		"messages":    wireMessages,
		"tools":       wireTools,
		"tool_choice": "required",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return translator.CompletionResult{}, fmt.Errorf("%w: marshal request: %v", apperr.ErrLlmDecode, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.url, bytes.NewReader(body))
	if err != nil {
		return translator.CompletionResult{}, fmt.Errorf("%w: %v", apperr.ErrLlmTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return translator.CompletionResult{}, fmt.Errorf("%w: %w", apperr.ErrLlmTransport, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return translator.CompletionResult{}, fmt.Errorf("%w: read response: %v", apperr.ErrLlmTransport, err)
	}
	if resp.StatusCode != http.StatusOK {
		return translator.CompletionResult{}, fmt.Errorf("%w: local backend status %d: %s", apperr.ErrLlmTransport, resp.StatusCode, string(respBody))
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

// normalize converts a tool-calling-protocol message sequence into the
// role sequence accepted by a local chat template per §4.6: tool-role
// messages become user messages prefixed with "Tool output: ", and
// consecutive messages of the same role are merged.
func normalize(messages []translator.Message) []translator.Message {
	var out []translator.Message
	for _, m := range messages {
		role := m.Role
		content := m.Content
		if role == "tool" {
			role = "user"
			content = "Tool output: " + content
		}

		if len(out) > 0 && out[len(out)-1].Role == role {
			out[len(out)-1].Content += "\n" + content
			continue
		}
		out = append(out, translator.Message{Role: role, Content: content})
	}
	return out
}
