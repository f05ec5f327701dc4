// Package asr implements the ASR Session component (spec §4.2): token
// lifecycle, the bidirectional streaming websocket, and the graceful
// shutdown handshake.
package asr

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/lokutor-ai/turnscribe/pkg/apperr"
	"github.com/lokutor-ai/turnscribe/pkg/config"
	"github.com/lokutor-ai/turnscribe/pkg/logging"
	"github.com/lokutor-ai/turnscribe/pkg/telemetry"
)

// Options configures one ASR Session.
type Options struct {
	TokenURL    string // e.g. https://.../v3/token
	SocketURL   string // e.g. wss://.../v3/ws
	Credentials config.CredentialStore
	Namespace   string // passed to Credentials.Lookup
	Provider    string
	Config      config.AsrConfig
	AudioChunks <-chan []byte
	Logger      logging.Logger
	Metrics     *telemetry.Metrics
}

// Session runs the TX/RX task pair for the lifetime of one streaming
// connection and delivers normalized Events to its output channel.
type Session struct {
	events chan Event
	logger logging.Logger

	closeOnce sync.Once
	cancel    context.CancelFunc
	wait      func() error
}

// Events returns the channel of normalized inbound frames; it is closed
// once the session has fully shut down.
func (s *Session) Events() <-chan Event { return s.events }

// Wait blocks until the TX/RX pair has exited and returns the first error
// encountered by either (errgroup FIRST_EXCEPTION semantics), or nil on a
// clean shutdown.
func (s *Session) Wait() error { return s.wait() }

// Close cancels the session immediately without running the graceful
// shutdown handshake; prefer letting the audio source's end-of-stream
// chunk drive the graceful shutdown instead.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
	})
}

const terminationTimeout = 5 * time.Second

// Open fetches a session token, dials the streaming socket, and launches
// the TX/RX task pair. The returned Session's Events channel is closed and
// the socket is torn down once AudioChunks is drained to its end-of-stream
// (empty) chunk and the Termination frame is received, or the 5s
// termination timeout elapses, or ctx is cancelled.
func Open(ctx context.Context, opts Options) (*Session, error) {
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	apiKey, err := opts.Credentials.Lookup(opts.Namespace, opts.Provider)
	if err != nil {
		return nil, err
	}

	tokenCtx, tokenSpan := telemetry.StartSpan(ctx, "asr.fetch_token")
	token, err := fetchToken(tokenCtx, opts.TokenURL, apiKey)
	tokenSpan.End()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrAsrAuth, err)
	}

	u, err := socketURL(opts.SocketURL, opts.Config, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrAsrTransport, err)
	}

	conn, _, err := websocket.Dial(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial: %v", apperr.ErrAsrTransport, err)
	}

	sessCtx, cancel := context.WithCancel(ctx)
	s := &Session{
		events: make(chan Event, 64),
		logger: opts.Logger,
		cancel: cancel,
	}

	shouldTerminate := make(chan struct{})
	terminationSeen := make(chan struct{})

	g, gctx := errgroup.WithContext(sessCtx)
	g.Go(func() error {
		return s.txLoop(gctx, conn, opts.AudioChunks, shouldTerminate, opts.Metrics)
	})
	g.Go(func() error {
		return s.rxLoop(gctx, conn, terminationSeen)
	})
	g.Go(func() error {
		return s.shutdownLoop(sessCtx, conn, shouldTerminate, terminationSeen)
	})

	done := make(chan struct{})
	var waitErr error
	go func() {
		waitErr = g.Wait()
		conn.Close(websocket.StatusNormalClosure, "")
		close(s.events)
		close(done)
	}()

	s.wait = func() error {
		<-done
		return waitErr
	}

	return s, nil
}

// txLoop drains the audio queue and sends binary frames; an empty chunk
// or upstream cancellation signals "should terminate" exactly once.
func (s *Session) txLoop(ctx context.Context, conn *websocket.Conn, audio <-chan []byte, shouldTerminate chan<- struct{}, metrics *telemetry.Metrics) error {
	defer close(shouldTerminate)
	for {
		select {
		case <-ctx.Done():
			return nil
		case chunk, ok := <-audio:
			if !ok || len(chunk) == 0 {
				return nil
			}
			if metrics != nil {
				metrics.QueueDepth.Add(ctx, -1)
			}
			if err := conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return fmt.Errorf("%w: write: %v", apperr.ErrAsrTransport, err)
			}
		}
	}
}

// rxLoop reads text frames, decodes them by type, and forwards normalized
// events to the sink. Per-message decode errors are logged and skipped;
// they are never fatal to the session.
func (s *Session) rxLoop(ctx context.Context, conn *websocket.Conn, terminationSeen chan<- struct{}) error {
	closedTermination := false
	defer func() {
		if !closedTermination {
			close(terminationSeen)
		}
	}()

	for {
		msgType, payload, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%w: read: %v", apperr.ErrAsrTransport, err)
		}
		if msgType != websocket.MessageText {
			continue
		}

		_, span := telemetry.StartSpan(ctx, "asr.decode_frame")
		ev, ok, err := decodeFrame(payload)
		span.End()
		if err != nil {
			s.logger.Warn("asr: failed to decode frame", "error", err)
			continue
		}
		if !ok {
			s.logger.Debug("asr: unknown frame type, skipping")
			continue
		}

		s.emit(ev)

		if ev.Type == EventTermination {
			closedTermination = true
			close(terminationSeen)
			return nil
		}
	}
}

// shutdownLoop implements the §4.2 shutdown protocol: once TX signals
// "should terminate", send the Terminate control frame and wait up to 5s
// for the Termination event before giving up and cancelling the session
// context, which tears everything down.
func (s *Session) shutdownLoop(ctx context.Context, conn *websocket.Conn, shouldTerminate <-chan struct{}, terminationSeen <-chan struct{}) error {
	select {
	case <-ctx.Done():
		return nil
	case <-terminationSeen:
		return nil
	case <-shouldTerminate:
	}

	select {
	case <-terminationSeen:
		return nil
	default:
	}

	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"Terminate"}`)); err != nil {
		return fmt.Errorf("%w: terminate write: %v", apperr.ErrAsrTransport, err)
	}

	select {
	case <-terminationSeen:
		return nil
	case <-time.After(terminationTimeout):
		s.logger.Warn("asr: termination frame not received within timeout")
		s.cancel()
		return nil
	case <-ctx.Done():
		return nil
	}
}

func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.logger.Warn("asr: event channel full, dropping event", "type", ev.Type)
	}
}

func fetchToken(ctx context.Context, tokenURL, apiKey string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tokenURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("token fetch failed (status %d): %s", resp.StatusCode, string(body))
	}

	var result struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	if result.Token == "" {
		return "", fmt.Errorf("token fetch returned empty token")
	}
	return result.Token, nil
}

func socketURL(base string, cfg config.AsrConfig, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("sample_rate", strconv.Itoa(cfg.SampleRate))
	q.Set("encoding", cfg.Encoding)
	q.Set("end_of_turn_confidence_threshold", strconv.FormatFloat(cfg.EndOfTurnConfidenceThreshold, 'f', -1, 64))
	q.Set("format_turns", strconv.FormatBool(cfg.FormatTurns))
	if cfg.InactivityTimeoutSeconds > 0 {
		q.Set("inactivity_timeout", strconv.Itoa(cfg.InactivityTimeoutSeconds))
	}
	for _, kt := range cfg.KeytermsPrompt {
		q.Add("keyterms_prompt", kt)
	}
	q.Set("language_detection", strconv.FormatBool(cfg.LanguageDetection))
	q.Set("min_end_of_turn_silence_when_confident", strconv.Itoa(cfg.MinEndOfTurnSilenceWhenConfidentMs))
	q.Set("max_turn_silence", strconv.Itoa(cfg.MaxTurnSilenceMs))
	if cfg.SpeechModel != "" {
		q.Set("speech_model", cfg.SpeechModel)
	}
	q.Set("token", token)
	u.RawQuery = q.Encode()

	return u.String(), nil
}
