// Package config carries the tunables and the credential-lookup contract
// the core packages depend on. The core itself never reads the process
// environment; cmd/ wires a concrete CredentialStore.
package config

import (
	"fmt"
	"os"

	"github.com/lokutor-ai/turnscribe/pkg/apperr"
)

// CredentialStore resolves an opaque (namespace, provider) key to a secret
// value. The core packages only ever see this interface.
type CredentialStore interface {
	Lookup(namespace, provider string) (string, error)
}

// EnvCredentialStore resolves credentials from process environment
// variables named "<NAMESPACE>_<PROVIDER>_API_KEY" (both upper-cased).
// It is the concrete store cmd/captioner wires at startup.
type EnvCredentialStore struct{}

func (EnvCredentialStore) Lookup(namespace, provider string) (string, error) {
	key := envKey(namespace, provider)
	v := os.Getenv(key)
	if v == "" {
		return "", fmt.Errorf("%s (env %s): %w", provider, key, apperr.ErrMissingCredential)
	}
	return v, nil
}

func envKey(namespace, provider string) string {
	return fmt.Sprintf("%s_%s_API_KEY", upper(namespace), upper(provider))
}

func upper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - ('a' - 'A')
		} else if c == '-' {
			b[i] = '_'
		}
	}
	return string(b)
}

// AudioConfig holds the Audio Source's enumerated configuration (spec
// §4.1): the per-chunk frame count and back-pressure sizing are derived
// from the sample rate and the duration knobs, never configured directly.
type AudioConfig struct {
	SampleRate     int // Hz
	BufferDuration float64 // seconds, target per-chunk duration
	MaxLatency     float64 // seconds, back-pressure budget
}

func DefaultAudioConfig() AudioConfig {
	return AudioConfig{
		SampleRate:     16000,
		BufferDuration: 0.1,
		MaxLatency:     3.0,
	}
}

// FramesPerBuffer is sample_rate * buffer_duration, rounded to the nearest
// sample.
func (c AudioConfig) FramesPerBuffer() int {
	return int(float64(c.SampleRate)*c.BufferDuration + 0.5)
}

// ChunkBytes is the byte size of one frames-per-buffer chunk of 16-bit
// mono PCM.
func (c AudioConfig) ChunkBytes() int {
	return c.FramesPerBuffer() * 2
}

// QueueCapacity is max_latency / buffer_duration, rounded up so at least
// one chunk of headroom is always available.
func (c AudioConfig) QueueCapacity() int {
	n := int(c.MaxLatency/c.BufferDuration + 0.999999)
	if n < 1 {
		n = 1
	}
	return n
}

// AsrConfig holds the ASR Session's URL parameters (spec §4.2).
type AsrConfig struct {
	SampleRate                        int
	Encoding                          string // "pcm_s16le" | "pcm_mulaw"
	EndOfTurnConfidenceThreshold      float64
	FormatTurns                       bool
	InactivityTimeoutSeconds          int // 0 means unset
	KeytermsPrompt                    []string
	LanguageDetection                 bool
	MinEndOfTurnSilenceWhenConfidentMs int
	MaxTurnSilenceMs                  int
	SpeechModel                       string
}

func DefaultAsrConfig() AsrConfig {
	return AsrConfig{
		SampleRate:                          16000,
		Encoding:                            "pcm_s16le",
		EndOfTurnConfidenceThreshold:        0.4,
		FormatTurns:                         true,
		MinEndOfTurnSilenceWhenConfidentMs:  400,
		MaxTurnSilenceMs:                    1280,
	}
}
