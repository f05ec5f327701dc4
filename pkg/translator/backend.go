package translator

import "context"

// CompletionBackend is the only external call the Incremental Translator
// makes. tool_choice is always "required": the model must call exactly
// one of translate/delete_turn/pass (or several, in sequence).
type CompletionBackend interface {
	Complete(ctx context.Context, messages []Message, tools []ToolDef) (CompletionResult, error)
}
