package translator

import (
	"bytes"
	"encoding/json"

	"github.com/lokutor-ai/turnscribe/pkg/model"
)

type asrWordJSON struct {
	Text     string  `json:"text"`
	StartMs  int64   `json:"start_ms"`
	EndMs    int64   `json:"end_ms"`
	Confidence float64 `json:"confidence"`
}

type speakerGroupJSON struct {
	Speaker  string        `json:"speaker"`
	AsrWords []asrWordJSON `json:"asr_words"`
}

// wordsBySpeakerJSON serializes turn.Words grouped into contiguous
// same-speaker runs, UTF-8 without ASCII-escaping, per §4.4 Conversation
// assembly.
func wordsBySpeakerJSON(turn model.Turn) string {
	var groups []speakerGroupJSON
	for _, w := range turn.Words {
		jw := asrWordJSON{
			Text:       w.Text,
			StartMs:    w.Start.Milliseconds(),
			EndMs:      w.End.Milliseconds(),
			Confidence: w.Confidence,
		}
		if len(groups) == 0 || groups[len(groups)-1].Speaker != w.Speaker {
			groups = append(groups, speakerGroupJSON{Speaker: w.Speaker, AsrWords: []asrWordJSON{jw}})
			continue
		}
		last := &groups[len(groups)-1]
		last.AsrWords = append(last.AsrWords, jw)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(groups); err != nil {
		return "[]"
	}
	// Encode appends a trailing newline; callers treat this as plain text
	// content so trim it for a clean message body.
	out := buf.Bytes()
	if n := len(out); n > 0 && out[n-1] == '\n' {
		out = out[:n-1]
	}
	return string(out)
}
