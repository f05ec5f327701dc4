package audio

import (
	"bytes"
	"encoding/binary"

	"github.com/lokutor-ai/turnscribe/pkg/config"
)

// NewWavBuffer wraps pcm (16-bit little-endian samples, as produced by
// every Source in this package) in a minimal RIFF/WAVE header sized off
// cfg, so a debug dump always reflects the capture's actual sample rate
// rather than an assumed constant.
func NewWavBuffer(pcm []byte, cfg config.AudioConfig) []byte {
	const channels = 1    // spec §4.1: mono only
	const bitsPerSample = 16

	byteRate := cfg.SampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	buf := new(bytes.Buffer)

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1))
	binary.Write(buf, binary.LittleEndian, uint16(channels))
	binary.Write(buf, binary.LittleEndian, uint32(cfg.SampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}
