package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrappedSentinelsAreInspectable(t *testing.T) {
	cases := []error{
		ErrDeviceUnavailable,
		ErrDecoderFailed,
		ErrAsrAuth,
		ErrAsrTransport,
		ErrAsrProtocol,
		ErrLlmTransport,
		ErrLlmToolUseFailed,
		ErrLlmDecode,
		ErrMissingCredential,
		ErrUnknownProvider,
	}
	for _, sentinel := range cases {
		wrapped := fmt.Errorf("context: %w", sentinel)
		if !errors.Is(wrapped, sentinel) {
			t.Errorf("errors.Is failed for wrapped %v", sentinel)
		}
	}
}

func TestDistinctSentinelsAreNotConfused(t *testing.T) {
	if errors.Is(ErrAsrAuth, ErrLlmTransport) {
		t.Error("unrelated sentinels should not match")
	}
}
