package audio

import (
	"encoding/binary"
	"testing"
	"time"
)

func silentChunk(n int) []byte {
	return make([]byte, n*2)
}

func loudChunk(n int) []byte {
	buf := make([]byte, n*2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(int16(20000)))
	}
	return buf
}

func TestSpeechGateRequiresConfirmedFramesBeforeStart(t *testing.T) {
	g := NewSpeechGate(0.1, 500*time.Millisecond)
	now := time.Now()

	var sawStart bool
	for i := 0; i < 6; i++ {
		ev, _ := g.Observe(loudChunk(160), now)
		if ev == SpeechGateSpeechStart {
			sawStart = true
		}
	}
	if sawStart {
		t.Fatal("should not confirm speech start before minConfirmed consecutive loud frames")
	}

	ev, _ := g.Observe(loudChunk(160), now)
	if ev != SpeechGateSpeechStart {
		t.Fatalf("expected SpeechGateSpeechStart on the 7th consecutive loud frame, got %v", ev)
	}
}

func TestSpeechGateEndsAfterSilenceLimit(t *testing.T) {
	g := NewSpeechGate(0.1, 200*time.Millisecond)
	now := time.Now()

	for i := 0; i < 7; i++ {
		g.Observe(loudChunk(160), now)
	}

	ev, _ := g.Observe(silentChunk(160), now)
	if ev != SpeechGateNone {
		t.Fatalf("expected no event on first silent frame, got %v", ev)
	}

	ev, _ = g.Observe(silentChunk(160), now.Add(250*time.Millisecond))
	if ev != SpeechGateSpeechEnd {
		t.Fatalf("expected SpeechGateSpeechEnd once silence exceeds the limit, got %v", ev)
	}
}

func TestSpeechGateIgnoresEmptyChunk(t *testing.T) {
	g := NewSpeechGate(0.1, time.Second)
	ev, rms := g.Observe(nil, time.Now())
	if ev != SpeechGateNone || rms != 0 {
		t.Errorf("expected (SpeechGateNone, 0) for an empty chunk, got (%v, %v)", ev, rms)
	}
}
