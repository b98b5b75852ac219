package transcription

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/benjamayden/rejoice-slim/internal/audio"
	"github.com/benjamayden/rejoice-slim/pkg/logger"
)

const defaultGeminiModel = "gemini-2.0-flash"

const geminiPrompt = "Transcribe this audio verbatim. Return only the spoken words, " +
	"with normal punctuation and no commentary. If there is no speech, return nothing."

// GeminiClient transcribes audio through the Google Gemini API
type GeminiClient struct {
	client     *genai.Client
	model      string
	language   string
	sampleRate int
	minSamples int
	logger     *logger.Logger
}

// NewGeminiClient creates a new Gemini transcription client
func NewGeminiClient(ctx context.Context, cfg Config, log *logger.Logger) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = defaultGeminiModel
	}

	return &GeminiClient{
		client:     client,
		model:      model,
		language:   cfg.Language,
		sampleRate: cfg.SampleRate,
		minSamples: cfg.minSamples(),
		logger:     log.Named("gemini"),
	}, nil
}

// Transcribe sends the samples as inline WAV data and returns the text
func (c *GeminiClient) Transcribe(ctx context.Context, samples []float32) (string, error) {
	if len(samples) < c.minSamples {
		c.logger.Debug("Skipping transcription of very short input", Int("samples", len(samples)))
		return "", nil
	}

	wavData, err := audio.EncodeWAV(samples, c.sampleRate)
	if err != nil {
		return "", fmt.Errorf("failed to encode segment audio: %w", err)
	}

	prompt := geminiPrompt
	if c.language != "" && !strings.EqualFold(c.language, "auto") {
		prompt += fmt.Sprintf(" The language is %q.", c.language)
	}

	parts := []*genai.Part{
		genai.NewPartFromBytes(wavData, "audio/wav"),
		genai.NewPartFromText(prompt),
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	start := time.Now()
	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("Gemini transcription failed: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	c.logger.Debug("Transcription completed",
		Float64("audio_secs", float64(len(samples))/float64(c.sampleRate)),
		Int("chars", len(text)),
		logger.Duration("elapsed", time.Since(start)))

	return text, nil
}
