package asr

import (
	"encoding/json"
	"time"

	"github.com/lokutor-ai/turnscribe/pkg/model"
)

// wireEnvelope is decoded first to dispatch on the "type" field before the
// full shape is parsed; unknown types are logged and skipped.
type wireEnvelope struct {
	Type string `json:"type"`
}

type wireBegin struct {
	Type      string `json:"type"`
	Id        string `json:"id"`
	ExpiresAt int64  `json:"expires_at"`
}

type wireWord struct {
	Text       string  `json:"text"`
	Start      int64   `json:"start"` // ms
	End        int64   `json:"end"`   // ms
	Confidence float64 `json:"confidence"`
	WordIsFinal bool   `json:"word_is_final"`
	Speaker    string  `json:"speaker"`
}

type wireTurn struct {
	Type                 string     `json:"type"`
	TurnOrder            int64      `json:"turn_order"`
	TurnIsFormatted      bool       `json:"turn_is_formatted"`
	EndOfTurn            bool       `json:"end_of_turn"`
	Transcript           string     `json:"transcript"`
	EndOfTurnConfidence  float64    `json:"end_of_turn_confidence"`
	Words                []wireWord `json:"words"`
	Language             string     `json:"language"`
	LanguageConfidence   float64    `json:"language_confidence"`
}

type wireTermination struct {
	Type                   string  `json:"type"`
	AudioDurationSeconds   float64 `json:"audio_duration_seconds"`
	SessionDurationSeconds float64 `json:"session_duration_seconds"`
}

// EventType tags the variants a Session delivers to its sink.
type EventType string

const (
	EventBegin       EventType = "begin"
	EventTurn        EventType = "turn"
	EventTermination EventType = "termination"
)

// Event is the normalized, tagged-union form of an inbound ASR frame.
type Event struct {
	Type EventType

	// EventBegin
	SessionId string
	ExpiresAt time.Time

	// EventTurn
	Turn model.Turn

	// EventTermination
	AudioDuration   time.Duration
	SessionDuration time.Duration
}

func decodeTurn(w wireTurn) model.Turn {
	words := make([]model.Word, len(w.Words))
	for i, ww := range w.Words {
		words[i] = model.Word{
			Text:       ww.Text,
			Start:      time.Duration(ww.Start) * time.Millisecond,
			End:        time.Duration(ww.End) * time.Millisecond,
			Confidence: ww.Confidence,
			Final:      ww.WordIsFinal,
			Speaker:    ww.Speaker,
		}
	}
	return model.Turn{
		Id:                 w.TurnOrder,
		Text:               w.Transcript,
		Final:              w.EndOfTurn,
		Words:              words,
		Language:           w.Language,
		LanguageConfidence: w.LanguageConfidence,
	}
}

// decodeFrame parses a text frame's JSON body and returns the normalized
// Event, or ok=false for a frame type we don't recognize (logged by the
// caller and skipped, never fatal).
func decodeFrame(payload []byte) (Event, bool, error) {
	var env wireEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Event{}, false, err
	}

	switch env.Type {
	case "Begin":
		var b wireBegin
		if err := json.Unmarshal(payload, &b); err != nil {
			return Event{}, false, err
		}
		return Event{
			Type:      EventBegin,
			SessionId: b.Id,
			ExpiresAt: time.Unix(b.ExpiresAt, 0),
		}, true, nil
	case "Turn":
		var t wireTurn
		if err := json.Unmarshal(payload, &t); err != nil {
			return Event{}, false, err
		}
		return Event{Type: EventTurn, Turn: decodeTurn(t)}, true, nil
	case "Termination":
		var term wireTermination
		if err := json.Unmarshal(payload, &term); err != nil {
			return Event{}, false, err
		}
		return Event{
			Type:            EventTermination,
			AudioDuration:   time.Duration(term.AudioDurationSeconds * float64(time.Second)),
			SessionDuration: time.Duration(term.SessionDurationSeconds * float64(time.Second)),
		}, true, nil
	default:
		return Event{}, false, nil
	}
}
