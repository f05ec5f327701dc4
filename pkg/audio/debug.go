package audio

import (
	"os"

	"github.com/lokutor-ai/turnscribe/pkg/config"
)

// DumpWav writes pcm as a WAV file at path for offline inspection of a
// captured turn's raw audio. Errors are returned, never fatal to a caller.
// Wired behind Options.DebugDumpPath: OpenMicrophone/OpenFileReplay record
// every delivered chunk and call this once, from Close, when a path is set.
func DumpWav(path string, pcm []byte, cfg config.AudioConfig) error {
	return os.WriteFile(path, NewWavBuffer(pcm, cfg), 0o644)
}
