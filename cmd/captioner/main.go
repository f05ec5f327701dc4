// Command captioner wires the Audio Source, ASR Session, Turn Store,
// Incremental Translator and Sink into one running pipeline.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/lokutor-ai/turnscribe/pkg/asr"
	"github.com/lokutor-ai/turnscribe/pkg/audio"
	"github.com/lokutor-ai/turnscribe/pkg/config"
	"github.com/lokutor-ai/turnscribe/pkg/llm"
	"github.com/lokutor-ai/turnscribe/pkg/logging"
	"github.com/lokutor-ai/turnscribe/pkg/sink"
	"github.com/lokutor-ai/turnscribe/pkg/telemetry"
	"github.com/lokutor-ai/turnscribe/pkg/translator"
	"github.com/lokutor-ai/turnscribe/pkg/turnstore"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: no .env file found, using system environment variables")
	}

	logger := logging.NewSlog(slog.LevelInfo)
	creds := config.EnvCredentialStore{}

	sourceKind := os.Getenv("AUDIO_SOURCE")
	if sourceKind == "" {
		sourceKind = "microphone"
	}
	llmModel := os.Getenv("TRANSLATOR_MODEL")
	if llmModel == "" {
		llmModel = "openai/gpt-4o"
	}
	targetLanguage := os.Getenv("TARGET_LANGUAGE")
	if targetLanguage == "" {
		targetLanguage = "French"
	}

	metrics, err := telemetry.NewMetrics()
	if err != nil {
		logger.Warn("telemetry: failed to start metrics exporter", "error", err)
	}
	if metrics != nil {
		defer metrics.Shutdown(context.Background())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	audioCfg := config.DefaultAudioConfig()
	audioOpts := audio.Options{
		Config:        audioCfg,
		Logger:        logger,
		Metrics:       metrics,
		DebugDumpPath: os.Getenv("AUDIO_DEBUG_DUMP_PATH"),
	}

	var source *audio.Source
	switch sourceKind {
	case "file":
		path := os.Getenv("AUDIO_FILE")
		if path == "" {
			log.Fatal("Error: AUDIO_FILE must be set when AUDIO_SOURCE=file")
		}
		source, err = audio.OpenFileReplay(ctx, "ffmpeg", []string{
			"-i", path, "-f", "s16le", "-ar", "16000", "-ac", "1", "-",
		}, audioOpts)
	default:
		source, err = audio.OpenMicrophone(audioOpts)
	}
	if err != nil {
		log.Fatalf("Error: failed to open audio source: %v", err)
	}
	defer func() {
		if err := source.Close(); err != nil {
			logger.Warn("audio source closed with error", "error", err)
		}
	}()

	asrProvider := os.Getenv("ASR_PROVIDER")
	if asrProvider == "" {
		asrProvider = "assemblyai"
	}
	session, err := asr.Open(ctx, asr.Options{
		TokenURL:    os.Getenv("ASR_TOKEN_URL"),
		SocketURL:   os.Getenv("ASR_SOCKET_URL"),
		Credentials: creds,
		Namespace:   "asr",
		Provider:    asrProvider,
		Config:      config.DefaultAsrConfig(),
		AudioChunks: source.Chunks(),
		Logger:      logger,
		Metrics:     metrics,
	})
	if err != nil {
		log.Fatalf("Error: failed to open asr session: %v", err)
	}

	llmProviderName := os.Getenv("LLM_BACKEND")
	var backend translator.CompletionBackend
	switch llmProviderName {
	case "local":
		localURL := os.Getenv("LOCAL_LLM_URL")
		if localURL == "" {
			log.Fatal("Error: LOCAL_LLM_URL must be set when LLM_BACKEND=local")
		}
		backend = llm.NewLocal(localURL, llmModel)
	default:
		provider, _, _ := cutProvider(llmModel)
		apiKey, err := llm.ResolveCredential(creds, provider)
		if err != nil {
			log.Fatalf("Error: %v", err)
		}
		remote, err := llm.NewRemote(apiKey, llmModel)
		if err != nil {
			log.Fatalf("Error: failed to configure llm backend: %v", err)
		}
		backend = remote
	}

	consoleSink := sink.NewConsole()
	store := turnstore.New()
	trans := translator.New(backend, consoleSink, targetLanguage, logger)
	trans.SetMetrics(metrics)

	go func() {
		if err := trans.Run(ctx); err != nil {
			logger.Error("translator driver exited with error", "error", err)
		}
	}()

	go func() {
		for ev := range session.Events() {
			switch ev.Type {
			case asr.EventBegin:
				logger.Info("asr session began", "session_id", ev.SessionId, "expires_at", ev.ExpiresAt)
			case asr.EventTurn:
				store.Put(ev.Turn)
				consoleSink.SourceTurn(ev.Turn)
				trans.UpdateTurns(store.Snapshot())
			case asr.EventTermination:
				logger.Info("asr session terminated", "audio_duration", ev.AudioDuration, "session_duration", ev.SessionDuration)
			}
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sig
		log.Println("Shutting down...")
		cancel()
	}()

	if err := session.Wait(); err != nil {
		logger.Error("asr session ended with error", "error", err)
	}
}

func cutProvider(model string) (provider, rest string, hadSlash bool) {
	for i := 0; i < len(model); i++ {
		if model[i] == '/' {
			return model[:i], model[i+1:], true
		}
	}
	return "openai", model, false
}
