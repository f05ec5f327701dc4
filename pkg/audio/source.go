// Package audio implements the Audio Source component (spec §4.1): a
// scoped acquisition yielding a bounded asynchronous queue of 16-bit
// little-endian mono PCM chunks, with a live-microphone variant and a
// real-time-paced file-replay variant.
package audio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/google/uuid"

	"github.com/lokutor-ai/turnscribe/pkg/apperr"
	"github.com/lokutor-ai/turnscribe/pkg/config"
	"github.com/lokutor-ai/turnscribe/pkg/logging"
	"github.com/lokutor-ai/turnscribe/pkg/telemetry"
)

// Options configures a Source. Metrics and DebugDumpPath are both
// optional: a nil Metrics just skips queue-depth instrumentation, and an
// empty DebugDumpPath skips the raw-capture WAV dump entirely.
type Options struct {
	Config        config.AudioConfig
	Logger        logging.Logger
	Metrics       *telemetry.Metrics
	DebugDumpPath string
}

// Source is a scoped audio producer. Chunks yields an empty chunk once, as
// the end-of-stream signal, then closes; if the Source is closed while the
// queue is full the empty chunk is dropped and the channel just closes.
// A file-replay Source ends its stream by itself once the decoder's output
// is exhausted; a microphone Source ends it from Close. Close stops the
// underlying capture and releases all resources; it is safe to call more
// than once and safe to call before Chunks is drained. Close returns
// apperr.ErrDecoderFailed if the file-replay decoder exited abnormally.
type Source struct {
	id     string
	chunks chan []byte
	closed chan struct{}
	once   sync.Once
	stop   func() error

	debugMu  sync.Mutex
	debugBuf bytes.Buffer
}

func (s *Source) ID() string            { return s.id }
func (s *Source) Chunks() <-chan []byte { return s.chunks }

func (s *Source) Close() error {
	var err error
	s.once.Do(func() {
		close(s.closed)
		if s.stop != nil {
			err = s.stop()
		}
	})
	return err
}

func (s *Source) recordDebug(chunk []byte) {
	s.debugMu.Lock()
	s.debugBuf.Write(chunk)
	s.debugMu.Unlock()
}

func (s *Source) dumpDebug(path string, cfg config.AudioConfig, logger logging.Logger) {
	s.debugMu.Lock()
	pcm := append([]byte(nil), s.debugBuf.Bytes()...)
	s.debugMu.Unlock()

	if err := DumpWav(path, pcm, cfg); err != nil {
		logger.Warn("failed to write debug capture dump", "path", path, "error", err)
		return
	}
	logger.Info("wrote debug capture dump", "path", path, "bytes", len(pcm))
}

// OpenMicrophone starts a dedicated capture device and returns a Source
// whose queue is filled from a blocking OS-thread callback. When the
// queue is full the callback blocks, enforcing back-pressure; malgo's own
// ring-buffer overflow (if the callback ever falls behind further than
// that) is non-fatal and only logged.
func OpenMicrophone(opts Options) (*Source, error) {
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = logging.NoOpLogger{}
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: init audio context: %v", apperr.ErrDeviceUnavailable, err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(cfg.SampleRate)
	deviceConfig.Alsa.NoMMap = 1

	s := &Source{
		id:     uuid.NewString(),
		chunks: make(chan []byte, cfg.QueueCapacity()),
		closed: make(chan struct{}),
	}

	onSamples := func(_, pInput []byte, _ uint32) {
		if len(pInput) == 0 {
			return
		}
		buf := make([]byte, len(pInput))
		copy(buf, pInput)

		if opts.DebugDumpPath != "" {
			s.recordDebug(buf)
		}
		select {
		case s.chunks <- buf:
			if opts.Metrics != nil {
				opts.Metrics.QueueDepth.Add(context.Background(), 1)
			}
		case <-s.closed:
		}
	}

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onSamples})
	if err != nil {
		mctx.Uninit()
		return nil, fmt.Errorf("%w: init capture device: %v", apperr.ErrDeviceUnavailable, err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		mctx.Uninit()
		return nil, fmt.Errorf("%w: start capture device: %v", apperr.ErrDeviceUnavailable, err)
	}

	s.stop = func() error {
		device.Uninit()
		mctx.Uninit()
		if opts.DebugDumpPath != "" {
			s.dumpDebug(opts.DebugDumpPath, cfg, logger)
		}
		// end-of-stream sentinel; best-effort, queue may already be full
		select {
		case s.chunks <- nil:
		default:
		}
		close(s.chunks)
		return nil
	}

	logger.Info("microphone source opened", "id", s.id, "sample_rate", cfg.SampleRate)
	return s, nil
}

const decoderKillTimeout = 5 * time.Second

// OpenFileReplay spawns decoderPath with decoderArgs (e.g. an ffmpeg
// invocation) expected to write raw 16-bit LE mono PCM at cfg.SampleRate
// on stdout, then feeds fixed-size chunks from that stream into the
// returned Source, sleeping between chunks so delivery paces real time.
// Every delivered chunk is also run through a SpeechGate for
// segment-boundary logging (it never gates delivery — it only
// annotates). On Close the subprocess is terminated; if it has not
// exited within 5s it is killed, and any decoder failure is returned from
// Close as apperr.ErrDecoderFailed.
func OpenFileReplay(ctx context.Context, decoderPath string, decoderArgs []string, opts Options) (*Source, error) {
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = logging.NoOpLogger{}
	}

	cmd := exec.CommandContext(ctx, decoderPath, decoderArgs...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: decoder stdout pipe: %v", apperr.ErrDecoderFailed, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start decoder: %v", apperr.ErrDecoderFailed, err)
	}

	s := &Source{
		id:     uuid.NewString(),
		chunks: make(chan []byte, cfg.QueueCapacity()),
		closed: make(chan struct{}),
	}

	chunkBytes := cfg.ChunkBytes()
	sleepPerChunk := time.Duration(float64(chunkBytes) / float64(cfg.SampleRate*2) * float64(time.Second))

	gate := NewSpeechGate(0.02, 800*time.Millisecond)
	onChunk := func(chunk []byte) {
		if opts.DebugDumpPath != "" {
			s.recordDebug(chunk)
		}
		if ev, rms := gate.Observe(chunk, time.Now()); ev != SpeechGateNone {
			switch ev {
			case SpeechGateSpeechStart:
				logger.Debug("file-replay speech segment started", "rms", rms)
			case SpeechGateSpeechEnd:
				logger.Debug("file-replay speech segment ended", "rms", rms)
			}
		}
	}

	// The feeder sends the end-of-stream sentinel and closes the queue once
	// the decoder's output is exhausted (or the Source is closed).
	feedDone := make(chan error, 1)
	fed := make(chan struct{})
	go func() {
		err := feed(stdout, chunkBytes, sleepPerChunk, s.chunks, s.closed, onChunk, opts.Metrics)
		select {
		case s.chunks <- nil:
		case <-s.closed:
		}
		close(s.chunks)
		close(fed)
		feedDone <- err
	}()

	// cmd.Wait closes the stdout pipe, so it runs only after the feeder has
	// read everything the decoder wrote.
	waitDone := make(chan error, 1)
	go func() {
		<-fed
		waitDone <- cmd.Wait()
	}()

	s.stop = func() error {
		if cmd.Process != nil {
			_ = cmd.Process.Signal(syscall.SIGTERM)
		}

		var decodeErr error
		select {
		case err := <-waitDone:
			if err != nil {
				decodeErr = fmt.Errorf("%w: decoder exited nonzero: %v", apperr.ErrDecoderFailed, err)
			}
		case <-time.After(decoderKillTimeout):
			if cmd.Process != nil {
				_ = cmd.Process.Kill()
			}
			<-waitDone
			decodeErr = fmt.Errorf("%w: decoder killed after %s timeout", apperr.ErrDecoderFailed, decoderKillTimeout)
		}

		if feedErr := <-feedDone; feedErr != nil && decodeErr == nil {
			decodeErr = feedErr
		}

		if opts.DebugDumpPath != "" {
			s.dumpDebug(opts.DebugDumpPath, cfg, logger)
		}

		return decodeErr
	}

	logger.Info("file-replay source opened", "id", s.id, "path", decoderPath, "chunk_bytes", chunkBytes)
	return s, nil
}

func feed(r io.Reader, chunkBytes int, sleepPerChunk time.Duration, out chan<- []byte, closed <-chan struct{}, onChunk func([]byte), metrics *telemetry.Metrics) error {
	buf := make([]byte, chunkBytes)
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if onChunk != nil {
				onChunk(chunk)
			}
			select {
			case out <- chunk:
				if metrics != nil {
					metrics.QueueDepth.Add(context.Background(), 1)
				}
			case <-closed:
				return nil
			}
			select {
			case <-time.After(sleepPerChunk):
			case <-closed:
				return nil
			}
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %v", apperr.ErrDecoderFailed, err)
		}
	}
}
