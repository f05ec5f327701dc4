package translator

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/lokutor-ai/turnscribe/pkg/model"
)

// scriptedBackend returns one CompletionResult per call, in order, cycling
// the last one if exhausted.
type scriptedBackend struct {
	results []CompletionResult
	calls   int
}

func (b *scriptedBackend) Complete(ctx context.Context, messages []Message, tools []ToolDef) (CompletionResult, error) {
	i := b.calls
	if i >= len(b.results) {
		i = len(b.results) - 1
	}
	b.calls++
	return b.results[i], nil
}

type recordingSink struct {
	snapshots [][]model.TranslatedTurn
}

func (s *recordingSink) Translated(visible []model.TranslatedTurn) {
	cp := make([]model.TranslatedTurn, len(visible))
	copy(cp, visible)
	s.snapshots = append(s.snapshots, cp)
}

func (s *recordingSink) last() []model.TranslatedTurn {
	if len(s.snapshots) == 0 {
		return nil
	}
	return s.snapshots[len(s.snapshots)-1]
}

func translateArgs(speaker, text string) string {
	b, _ := json.Marshal(map[string]string{"speaker": speaker, "text": text})
	return string(b)
}

func deleteArgs(turnID int64) string {
	b, _ := json.Marshal(map[string]int64{"turn_id": turnID})
	return string(b)
}

func wordTurn(id int64, speaker, text string) model.Turn {
	return model.Turn{
		Id:   id,
		Text: text,
		Words: []model.Word{
			{Text: text, Speaker: speaker},
		},
	}
}

func runUntilIdle(t *testing.T, tr *Translator, snapshot []model.Turn) {
	t.Helper()
	tr.UpdateTurns(snapshot)
	tr.absorbQueuedTurns()
	for tr.translateNextDirtyEntry(context.Background()) {
		tr.emitVisible()
	}
}

func TestSingleTurnSingleCall(t *testing.T) {
	backend := &scriptedBackend{results: []CompletionResult{
		{Message: Message{Role: "assistant", ToolCalls: []ToolCall{
			{Id: "call_1", Name: "translate", Arguments: translateArgs("A", "Bonjour le monde")},
		}}},
	}}
	out := &recordingSink{}
	tr := New(backend, out, "French", nil)

	runUntilIdle(t, tr, []model.Turn{wordTurn(1, "A", "Hello world")})

	visible := out.last()
	if len(visible) != 1 {
		t.Fatalf("expected 1 visible turn, got %d", len(visible))
	}
	got := visible[0]
	if got.Id != 0 || got.OriginalId != 1 || got.Speaker != "A" || got.Text != "Bonjour le monde" {
		t.Errorf("unexpected translated turn: %+v", got)
	}
}

func TestTailRevisionDeleteThenTranslate(t *testing.T) {
	backend := &scriptedBackend{results: []CompletionResult{
		{Message: Message{Role: "assistant", ToolCalls: []ToolCall{
			{Id: "call_1", Name: "translate", Arguments: translateArgs("A", "Bonjour")},
		}}},
		{Message: Message{Role: "assistant", ToolCalls: []ToolCall{
			{Id: "call_2", Name: "delete_turn", Arguments: deleteArgs(0)},
			{Id: "call_3", Name: "translate", Arguments: translateArgs("A", "Bonjour le monde")},
		}}},
	}}
	out := &recordingSink{}
	tr := New(backend, out, "French", nil)

	runUntilIdle(t, tr, []model.Turn{wordTurn(1, "A", "Hello")})
	runUntilIdle(t, tr, []model.Turn{wordTurn(1, "A", "Hello"), wordTurn(2, "A", "world")})

	visible := out.last()
	if len(visible) != 1 {
		t.Fatalf("expected 1 visible turn after delete+translate, got %d: %+v", len(visible), visible)
	}
	got := visible[0]
	if got.Id != 2 || got.OriginalId != 2 || got.Text != "Bonjour le monde" {
		t.Errorf("unexpected translated turn: %+v", got)
	}
	if tr.nextId != 3 {
		t.Errorf("expected next id 3, got %d", tr.nextId)
	}
}

func TestEmptyWordsTurnIgnored(t *testing.T) {
	backend := &scriptedBackend{}
	out := &recordingSink{}
	tr := New(backend, out, "French", nil)

	tr.UpdateTurns([]model.Turn{{Id: 1, Text: ""}})
	tr.absorbQueuedTurns()

	if len(tr.entries) != 0 {
		t.Errorf("expected empty-words turn to be ignored, got %d entries", len(tr.entries))
	}
}

func TestZeroToolCallsDoesNotStall(t *testing.T) {
	backend := &scriptedBackend{results: []CompletionResult{
		{Message: Message{Role: "assistant", Content: "no translation needed"}},
	}}
	out := &recordingSink{}
	tr := New(backend, out, "French", nil)

	runUntilIdle(t, tr, []model.Turn{wordTurn(1, "A", "Hello")})

	e := tr.entries[1]
	if e == nil || e.translated == nil || len(e.translated) != 0 {
		t.Errorf("expected entry.translated == [], got %+v", e)
	}
}

func TestInvalidToolArgsSkippedNotFatal(t *testing.T) {
	backend := &scriptedBackend{results: []CompletionResult{
		{Message: Message{Role: "assistant", ToolCalls: []ToolCall{
			{Id: "call_1", Name: "translate", Arguments: `{"text":"missing speaker"}`},
		}}},
	}}
	out := &recordingSink{}
	tr := New(backend, out, "French", nil)

	runUntilIdle(t, tr, []model.Turn{wordTurn(1, "A", "Hello")})

	if len(out.last()) != 0 {
		t.Errorf("expected no visible turns from a malformed tool call, got %+v", out.last())
	}
}

func TestMonotonicIdsAcrossManyTurns(t *testing.T) {
	results := make([]CompletionResult, 0, 30)
	for i := 0; i < 30; i++ {
		results = append(results, CompletionResult{Message: Message{Role: "assistant", ToolCalls: []ToolCall{
			{Id: "c", Name: "translate", Arguments: translateArgs("A", "x")},
		}}})
	}
	backend := &scriptedBackend{results: results}
	out := &recordingSink{}
	tr := New(backend, out, "French", nil)

	var snapshot []model.Turn
	for i := int64(1); i <= 25; i++ {
		snapshot = append(snapshot, wordTurn(i, "A", "word"))
		runUntilIdle(t, tr, append([]model.Turn(nil), snapshot...))
	}

	seen := map[int64]bool{}
	var lastId int64 = -1
	for _, tt := range out.last() {
		if seen[tt.Id] {
			t.Fatalf("duplicate id %d", tt.Id)
		}
		seen[tt.Id] = true
		if tt.Id <= lastId {
			t.Fatalf("ids not strictly increasing: %d after %d", tt.Id, lastId)
		}
		lastId = tt.Id
	}
}

func TestLastLatencyRecorded(t *testing.T) {
	backend := &scriptedBackend{results: []CompletionResult{
		{Message: Message{Role: "assistant", ToolCalls: []ToolCall{
			{Id: "c", Name: "translate", Arguments: translateArgs("A", "x")},
		}}},
	}}
	out := &recordingSink{}
	tr := New(backend, out, "French", nil)
	runUntilIdle(t, tr, []model.Turn{wordTurn(1, "A", "Hello")})

	if tr.LastLatency() < 0 || tr.LastLatency() > time.Second {
		t.Errorf("unexpected latency: %v", tr.LastLatency())
	}
}
