// Package apperr defines the sentinel error values for the pipeline's four
// error kinds. Call sites wrap the relevant sentinel with fmt.Errorf and
// %w so callers can still errors.Is against the kind.
package apperr

import "errors"

var (
	// ErrDeviceUnavailable is returned when the audio capture device
	// cannot be opened.
	ErrDeviceUnavailable = errors.New("audio device unavailable")

	// ErrDecoderFailed is returned when the file-replay decoder
	// subprocess exits nonzero.
	ErrDecoderFailed = errors.New("decoder subprocess failed")
)

var (
	// ErrAsrAuth is returned when the ASR token fetch is rejected.
	ErrAsrAuth = errors.New("asr authentication failed")

	// ErrAsrTransport is returned on websocket handshake or connection
	// failures.
	ErrAsrTransport = errors.New("asr transport error")

	// ErrAsrProtocol is returned for malformed frames that cannot be
	// skipped (session-level, not per-message).
	ErrAsrProtocol = errors.New("asr protocol error")
)

var (
	// ErrLlmTransport is returned on completion-call network failures.
	ErrLlmTransport = errors.New("llm transport error")

	// ErrLlmToolUseFailed is returned when the model refuses to call a
	// tool after the retry budget is exhausted.
	ErrLlmToolUseFailed = errors.New("llm tool use failed")

	// ErrLlmDecode is returned when a completion request cannot be encoded,
	// when the backend rejects it with a 4xx status, or when the response
	// body cannot be decoded as the expected shape.
	ErrLlmDecode = errors.New("llm response decode error")
)

var (
	// ErrMissingCredential is returned when a CredentialStore has no
	// entry for the requested namespace/provider pair.
	ErrMissingCredential = errors.New("missing credential")

	// ErrUnknownProvider is returned when a provider prefix has no
	// registered base URL and strict routing is enabled.
	ErrUnknownProvider = errors.New("unknown provider")
)
