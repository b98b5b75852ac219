// Package capture feeds live audio into the ring buffer from either a local
// input device (PortAudio) or an FFmpeg-decoded stream.
package capture

import (
	"fmt"

	"github.com/benjamayden/rejoice-slim/internal/audio"
	"github.com/benjamayden/rejoice-slim/internal/config"
	"github.com/benjamayden/rejoice-slim/pkg/logger"
)

// Import logger functions
var (
	String = logger.String
	Int    = logger.Int
	Error  = logger.Error
)

// Source is a live audio input that pushes samples into a ring buffer
type Source interface {
	Start() error
	Stop() error
	IsRunning() bool
}

// New builds the configured capture source
func New(cfg config.AudioConfig, buf *audio.RingBuffer, log *logger.Logger) (Source, error) {
	switch cfg.SourceType {
	case "portaudio":
		return NewPortAudioSource(cfg, buf, log), nil
	case "ffmpeg":
		return NewFFmpegSource(cfg, buf, log), nil
	default:
		return nil, fmt.Errorf("unknown capture source type: %s", cfg.SourceType)
	}
}

// s16leDecoder converts a little-endian 16-bit PCM byte stream to normalized
// float32 samples. Pipe reads can split a sample across two chunks, so a
// trailing odd byte is carried into the next call; dropping it would leave
// every later sample byte-shifted.
type s16leDecoder struct {
	carry    byte
	hasCarry bool
}

func (d *s16leDecoder) decode(data []byte) []float32 {
	if d.hasCarry {
		data = append([]byte{d.carry}, data...)
		d.hasCarry = false
	}

	n := len(data) / 2
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		v := int16(data[2*i]) | int16(data[2*i+1])<<8
		samples[i] = float32(v) / 32768.0
	}

	if len(data)%2 == 1 {
		d.carry = data[len(data)-1]
		d.hasCarry = true
	}
	return samples
}
