package config

import (
	"errors"
	"os"
	"testing"

	"github.com/lokutor-ai/turnscribe/pkg/apperr"
)

func TestEnvCredentialStoreLookup(t *testing.T) {
	os.Setenv("ASR_ASSEMBLYAI_API_KEY", "secret-value")
	defer os.Unsetenv("ASR_ASSEMBLYAI_API_KEY")

	store := EnvCredentialStore{}
	got, err := store.Lookup("asr", "assemblyai")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "secret-value" {
		t.Errorf("got %q, want %q", got, "secret-value")
	}
}

func TestEnvCredentialStoreMissing(t *testing.T) {
	os.Unsetenv("LLM_NOBODY_API_KEY")

	store := EnvCredentialStore{}
	_, err := store.Lookup("llm", "nobody")
	if !errors.Is(err, apperr.ErrMissingCredential) {
		t.Fatalf("expected ErrMissingCredential, got %v", err)
	}
}

func TestEnvKeyUppercasesAndNormalizesDashes(t *testing.T) {
	got := envKey("llm", "open-router")
	want := "LLM_OPEN_ROUTER_API_KEY"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestAudioConfigDerivations(t *testing.T) {
	cfg := DefaultAudioConfig()

	if fpb := cfg.FramesPerBuffer(); fpb != 1600 {
		t.Errorf("FramesPerBuffer() = %d, want 1600", fpb)
	}
	if cb := cfg.ChunkBytes(); cb != 3200 {
		t.Errorf("ChunkBytes() = %d, want 3200", cb)
	}
	if qc := cfg.QueueCapacity(); qc != 30 {
		t.Errorf("QueueCapacity() = %d, want 30", qc)
	}
}
