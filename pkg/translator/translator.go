// Package translator implements the Incremental Translator (spec §4.4),
// the core of the core: a stateful coordinator that absorbs revised Turn
// snapshots, drives a tool-calling LLM protocol, prunes old context while
// keeping TranslatedTurn ids monotonic, and emits the visible translated
// sequence to a Sink at every incremental step.
package translator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/lokutor-ai/turnscribe/pkg/apperr"
	"github.com/lokutor-ai/turnscribe/pkg/logging"
	"github.com/lokutor-ai/turnscribe/pkg/model"
	"github.com/lokutor-ai/turnscribe/pkg/telemetry"
)

// Sink receives the current visible translated sequence at every
// incremental step.
type Sink interface {
	Translated(visible []model.TranslatedTurn)
}

// entry is the internal TranslationEntry: completion == nil iff
// translated == nil iff this entry is dirty and must be recomputed.
type entry struct {
	sourceId    int64
	turn        model.Turn
	completion  *Message
	toolOutputs []string
	translated  []model.TranslatedTurn

	absorbedAt   time.Time
	completedAt  time.Time
}

// Translator is the driver-loop coordinator. Exactly one completion call
// is in flight at a time; update_turns is non-blocking and may be called
// from any goroutine.
type Translator struct {
	backend        CompletionBackend
	sink           Sink
	targetLanguage string
	logger         logging.Logger
	metrics        *telemetry.Metrics

	mu      sync.Mutex
	ids     []int64 // entry ids, ascending, kept in sync with entries
	entries map[int64]*entry
	nextId  int64

	queuedMu sync.Mutex
	queued   []model.Turn // single-slot latest-value cell
	haveNew  chan struct{}

	lastLatency time.Duration
}

// New builds a Translator. targetLanguage is appended to the system
// prompt verbatim (e.g. "French").
func New(backend CompletionBackend, sink Sink, targetLanguage string, logger logging.Logger) *Translator {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Translator{
		backend:        backend,
		sink:           sink,
		targetLanguage: targetLanguage,
		logger:         logger,
		entries:        make(map[int64]*entry),
		haveNew:        make(chan struct{}, 1),
	}
}

// SetMetrics attaches the instruments used to observe completion-call and
// translated-turn volume. Optional; a nil metrics value (the default)
// just skips instrumentation.
func (t *Translator) SetMetrics(m *telemetry.Metrics) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.metrics = m
}

// UpdateTurns stores snapshot in the single-slot queue and raises the
// have-new-turns flag. Non-blocking; intermediate snapshots observed while
// a translation step is in flight may be dropped — only the latest
// matters.
func (t *Translator) UpdateTurns(snapshot []model.Turn) {
	t.queuedMu.Lock()
	t.queued = snapshot
	t.queuedMu.Unlock()

	select {
	case t.haveNew <- struct{}{}:
	default:
	}
}

// LastLatency returns the duration of the most recently completed
// completion call, for observability only.
func (t *Translator) LastLatency() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastLatency
}

// Run is the driver loop. It blocks until ctx is cancelled. Exceptions
// other than cancellation are logged and the loop continues.
func (t *Translator) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.haveNew:
			t.absorbQueuedTurns()
			for t.translateNextDirtyEntry(ctx) {
				t.emitVisible()
			}
		}
	}
}

// absorbQueuedTurns implements §4.4 Absorption.
func (t *Translator) absorbQueuedTurns() {
	t.queuedMu.Lock()
	snapshot := t.queued
	t.queued = nil
	t.queuedMu.Unlock()

	if len(snapshot) == 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	minDirty := int64(-1)
	for _, turn := range snapshot {
		if !turn.HasWords() {
			continue
		}
		e, known := t.entries[turn.Id]
		if !known {
			e = &entry{sourceId: turn.Id, turn: turn, absorbedAt: time.Now()}
			t.entries[turn.Id] = e
			t.insertId(turn.Id)
			if minDirty == -1 || turn.Id < minDirty {
				minDirty = turn.Id
			}
			continue
		}
		if e.turn.Text != turn.Text {
			e.turn = turn
			if minDirty == -1 || turn.Id < minDirty {
				minDirty = turn.Id
			}
		}
	}

	if minDirty == -1 {
		return
	}
	for _, id := range t.ids {
		if id >= minDirty {
			e := t.entries[id]
			e.completion = nil
			e.translated = nil
			e.toolOutputs = nil
		}
	}
}

func (t *Translator) insertId(id int64) {
	i := sort.Search(len(t.ids), func(i int) bool { return t.ids[i] >= id })
	t.ids = append(t.ids, 0)
	copy(t.ids[i+1:], t.ids[i:])
	t.ids[i] = id
}

// translateNextDirtyEntry finds the lowest-id dirty entry, runs the
// completion call (with retry), dispatches tool calls, updates state, and
// prunes. Returns false when no dirty entry remains.
func (t *Translator) translateNextDirtyEntry(ctx context.Context) bool {
	t.mu.Lock()
	var dirtyId int64 = -1
	for _, id := range t.ids {
		if t.entries[id].completion == nil {
			dirtyId = id
			break
		}
	}
	if dirtyId == -1 {
		t.mu.Unlock()
		return false
	}
	messages, tools := t.buildConversationLocked(dirtyId)
	t.mu.Unlock()

	start := time.Now()
	result, err := t.completeWithRetry(ctx, messages, tools)
	latency := time.Since(start)

	t.mu.Lock()
	defer t.mu.Unlock()

	t.lastLatency = latency
	e := t.entries[dirtyId]
	if e == nil {
		// pruned concurrently with nobody else mutating state; shouldn't
		// happen since we hold the lock across pruning, but stay safe.
		return true
	}

	if err != nil {
		t.logger.Warn("translator: completion failed after retries, marking entry empty", "source_id", dirtyId, "error", err)
		e.completion = &Message{Role: "assistant", Content: ""}
		e.translated = []model.TranslatedTurn{}
		e.toolOutputs = nil
		e.completedAt = time.Now()
		t.pruneLocked()
		return true
	}

	outputs := make([]string, 0, len(result.Message.ToolCalls))
	for _, call := range result.Message.ToolCalls {
		out := t.dispatchToolCallLocked(e, call)
		outputs = append(outputs, out)
	}

	e.completion = &Message{Role: "assistant", Content: result.Message.Content, ToolCalls: result.Message.ToolCalls}
	e.toolOutputs = outputs
	if e.translated == nil {
		e.translated = []model.TranslatedTurn{}
	}
	e.completedAt = time.Now()

	t.pruneLocked()
	return true
}

// completeWithRetry retries on a recognized "model did not call tool"
// error and on transport timeouts, up to 3 attempts total.
func (t *Translator) completeWithRetry(ctx context.Context, messages []Message, tools []ToolDef) (CompletionResult, error) {
	const maxAttempts = 3
	metrics := t.metricsSnapshot()
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		spanCtx, span := telemetry.StartSpan(ctx, "translator.complete")
		if metrics != nil {
			metrics.CompletionCalls.Add(ctx, 1)
		}
		result, err := t.backend.Complete(spanCtx, messages, tools)
		span.End()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !retryable(err) {
			return CompletionResult{}, err
		}
		t.logger.Warn("translator: completion attempt failed, retrying", "attempt", attempt+1, "error", err)
	}
	return CompletionResult{}, lastErr
}

func (t *Translator) metricsSnapshot() *telemetry.Metrics {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.metrics
}

func retryable(err error) bool {
	return errors.Is(err, apperr.ErrLlmToolUseFailed) || errors.Is(err, context.DeadlineExceeded)
}

// dispatchToolCallLocked applies one tool call's effect and returns the
// tool-output string recorded back to the model. Malformed or
// missing-required-field arguments are skipped with a warning; the call
// still produces a (harmless) tool-output string so the conversation
// stays well-formed.
func (t *Translator) dispatchToolCallLocked(e *entry, call ToolCall) string {
	if !gjson.Valid(call.Arguments) {
		t.logger.Warn("translator: tool call arguments not valid JSON, skipping", "tool", call.Name)
		return "Ignored: invalid arguments"
	}

	switch call.Name {
	case "translate":
		speaker := gjson.Get(call.Arguments, "speaker")
		text := gjson.Get(call.Arguments, "text")
		if !speaker.Exists() || !text.Exists() {
			t.logger.Warn("translator: translate call missing required field, skipping", "source_id", e.sourceId)
			return "Ignored: missing required field"
		}
		id := t.nextId
		t.nextId++
		tt := model.TranslatedTurn{
			Id:         id,
			OriginalId: e.sourceId,
			Speaker:    speaker.String(),
			Text:       text.String(),
		}
		if comment := gjson.Get(call.Arguments, "comment"); comment.Exists() {
			tt.Debug = comment.String()
		}
		e.translated = append(e.translated, tt)
		if t.metrics != nil {
			t.metrics.TranslatedTurns.Add(context.Background(), 1)
		}
		return fmt.Sprintf("%d", id)

	case "delete_turn":
		turnId := gjson.Get(call.Arguments, "turn_id")
		if !turnId.Exists() {
			t.logger.Warn("translator: delete_turn call missing required field, skipping", "source_id", e.sourceId)
			return "Ignored: missing required field"
		}
		target := turnId.Int()
		t.nextId++ // consume an id slot to keep deletion visible to the model
		for _, other := range t.entries {
			for i := range other.translated {
				if other.translated[i].Id == target {
					other.translated[i].Hidden = true
				}
			}
		}
		return "Deleted"

	case "pass":
		return "Passed"

	default:
		t.logger.Warn("translator: unknown tool call, skipping", "tool", call.Name)
		return "Ignored: unknown tool"
	}
}

// buildConversationLocked implements §4.4 Conversation assembly and
// Retention/pruning's windowing rule. Must be called with t.mu held.
func (t *Translator) buildConversationLocked(dirtyId int64) ([]Message, []ToolDef) {
	n := len(t.ids)
	keep := 10 + (n % 10)
	start := 0
	if n > keep {
		start = n - keep
	}
	window := t.ids[start:]

	messages := []Message{{Role: "system", Content: t.systemPrompt()}}
	for _, id := range window {
		e := t.entries[id]
		messages = append(messages, Message{Role: "user", Content: wordsBySpeakerJSON(e.turn)})
		if e.completion == nil {
			break
		}
		messages = append(messages, *e.completion)
		for i, call := range e.completion.ToolCalls {
			content := ""
			if i < len(e.toolOutputs) {
				content = e.toolOutputs[i]
			}
			messages = append(messages, Message{Role: "tool", ToolCallId: call.Id, Content: content})
		}
		messages = append(messages, Message{Role: "assistant", Content: "ok"})
		if id == dirtyId {
			break
		}
	}

	return messages, toolDefs()
}

func (t *Translator) systemPrompt() string {
	return "You are a real-time translator receiving noisy, incrementally-revised " +
		"automatic speech recognition output. Infer who said what, fix ASR errors, " +
		"separate overlapping speech, remove filler words, and produce grammatical " +
		"sentences in the target language. Reply only by calling the translate tool, " +
		"the delete_turn tool, or the pass tool. Target language: " + t.targetLanguage + "."
}

// pruneLocked drops entries outside the current retention window. It
// leaves the next-id counter untouched: nextId only ever grows, so ids
// stay monotonic and are never reused across pruning. Must be called with
// t.mu held.
func (t *Translator) pruneLocked() {
	n := len(t.ids)
	keep := 10 + (n % 10)
	if n <= keep {
		return
	}
	cut := n - keep
	for _, id := range t.ids[:cut] {
		delete(t.entries, id)
	}
	t.ids = append([]int64(nil), t.ids[cut:]...)
}

// visibleLocked returns all non-hidden TranslatedTurns from all entries,
// sorted by id. Must be called with t.mu held.
func (t *Translator) visibleLocked() []model.TranslatedTurn {
	var out []model.TranslatedTurn
	for _, id := range t.ids {
		for _, tt := range t.entries[id].translated {
			if !tt.Hidden {
				out = append(out, tt)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Id < out[j].Id })
	return out
}

func (t *Translator) emitVisible() {
	t.mu.Lock()
	visible := t.visibleLocked()
	t.mu.Unlock()
	t.sink.Translated(visible)
}

func toolDefs() []ToolDef {
	return []ToolDef{
		{
			Name:        "translate",
			Description: "Emit one translated utterance for the current source turn.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"speaker": map[string]any{"type": "string"},
					"text":    map[string]any{"type": "string"},
					"comment": map[string]any{"type": "string"},
				},
				"required": []string{"speaker", "text"},
			},
		},
		{
			Name:        "delete_turn",
			Description: "Retract a previously-emitted translated turn by id.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"turn_id": map[string]any{"type": "integer"},
				},
				"required": []string{"turn_id"},
			},
		},
		{
			Name:        "pass",
			Description: "Decline to translate the current source turn.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"question": map[string]any{"type": "string"},
				},
			},
		},
	}
}
