package audio

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lokutor-ai/turnscribe/pkg/config"
)

// fastReplayConfig yields a tiny chunk size and a small queue so a
// back-pressure test runs in milliseconds instead of real-time seconds.
func fastReplayConfig() config.AudioConfig {
	return config.AudioConfig{
		SampleRate:     100,
		BufferDuration: 0.01, // 1 frame == 2 bytes per chunk
		MaxLatency:     0.03, // queue capacity 3
	}
}

func TestOpenFileReplayQueueCapacityMatchesConfig(t *testing.T) {
	cfg := fastReplayConfig()
	if got, want := cfg.QueueCapacity(), 3; got != want {
		t.Fatalf("QueueCapacity() = %d, want %d", got, want)
	}

	pcm := make([]byte, 20) // 10 chunks of 2 bytes
	for i := range pcm {
		pcm[i] = byte(i)
	}
	path := filepath.Join(t.TempDir(), "audio.pcm")
	if err := os.WriteFile(path, pcm, 0o644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	source, err := OpenFileReplay(ctx, "cat", []string{path}, Options{Config: cfg})
	if err != nil {
		t.Fatalf("OpenFileReplay() error: %v", err)
	}
	defer source.Close()

	if got, want := cap(source.Chunks()), cfg.QueueCapacity(); got != want {
		t.Errorf("chunk queue capacity = %d, want %d", got, want)
	}

	var delivered []byte
	sawEnd := false
	for chunk := range source.Chunks() {
		if len(chunk) == 0 {
			sawEnd = true
			break
		}
		delivered = append(delivered, chunk...)
	}

	if !sawEnd {
		t.Error("expected an empty end-of-stream chunk")
	}
	if len(delivered) != len(pcm) {
		t.Errorf("delivered %d bytes, want %d", len(delivered), len(pcm))
	}
	for i := range pcm {
		if i < len(delivered) && delivered[i] != pcm[i] {
			t.Errorf("byte %d = %d, want %d", i, delivered[i], pcm[i])
			break
		}
	}

	if err := source.Close(); err != nil {
		t.Errorf("Close() after clean decoder exit returned error: %v", err)
	}
}

func TestOpenFileReplaySurfacesDecoderFailure(t *testing.T) {
	cfg := fastReplayConfig()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// "cat" on a nonexistent path exits nonzero after writing nothing to
	// stdout, so feed() hits a clean EOF and the nonzero exit is only
	// observable through Close()'s decoder-wait path.
	source, err := OpenFileReplay(ctx, "cat", []string{filepath.Join(t.TempDir(), "missing.pcm")}, Options{Config: cfg})
	if err != nil {
		t.Fatalf("OpenFileReplay() error: %v", err)
	}

	for range source.Chunks() {
	}

	if err := source.Close(); err == nil {
		t.Error("expected Close() to surface the decoder's nonzero exit")
	}
}
