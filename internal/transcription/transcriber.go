package transcription

import (
	"context"

	"github.com/benjamayden/rejoice-slim/pkg/logger"
)

// Import logger functions
var (
	String  = logger.String
	Int     = logger.Int
	Int64   = logger.Int64
	Float64 = logger.Float64
	Bool    = logger.Bool
	Error   = logger.Error
)

// Transcriber converts normalized mono float32 samples into text. Inputs
// shorter than about 0.1s must short-circuit to empty text without invoking
// the backing model.
type Transcriber interface {
	Transcribe(ctx context.Context, samples []float32) (string, error)
}

// Config represents the configuration for the transcription service
type Config struct {
	Provider string // "openai" or "gemini"
	APIKey   string
	BaseURL  string // Optional override for proxies / custom endpoints
	Model    string
	Language string // e.g., "en"; empty means auto-detect

	SampleRate     int // Hz of the samples handed to Transcribe
	TimeoutSeconds int // HTTP timeout for API requests

	// Auto-stop policy: combined character count of the last
	// EmptySegmentThreshold segments below EmptySegmentMinChars signals
	// sustained near-silence
	EmptySegmentThreshold int
	EmptySegmentMinChars  int
}

// minSamples is the short-input floor below which Transcribe implementations
// return empty text without calling the model
func (c Config) minSamples() int {
	return c.SampleRate / 10
}
