package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/benjamayden/rejoice-slim/internal/audio"
	"github.com/benjamayden/rejoice-slim/pkg/logger"
)

// OpenAIClient transcribes audio through an OpenAI-compatible
// /v1/audio/transcriptions endpoint (Whisper-style multipart upload)
type OpenAIClient struct {
	apiKey     string
	model      string
	language   string
	baseURL    string // Stored without trailing slash
	sampleRate int
	minSamples int
	httpClient *http.Client
	logger     *logger.Logger
}

// NewOpenAIClient creates a new OpenAI transcription client
func NewOpenAIClient(cfg Config, log *logger.Logger) *OpenAIClient {
	// Determine base URL (prefer explicit config, then env, then default)
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		if env := os.Getenv("OPENAI_API_BASE"); env != "" {
			base = strings.TrimRight(env, "/")
		} else {
			base = "https://api.openai.com"
		}
	}

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	model := cfg.Model
	if model == "" {
		model = "whisper-1"
	}

	return &OpenAIClient{
		apiKey:     cfg.APIKey,
		model:      model,
		language:   cfg.Language,
		baseURL:    base,
		sampleRate: cfg.SampleRate,
		minSamples: cfg.minSamples(),
		httpClient: &http.Client{Timeout: timeout},
		logger:     log.Named("openai"),
	}
}

// Transcribe uploads the samples as a WAV payload and returns the text
func (c *OpenAIClient) Transcribe(ctx context.Context, samples []float32) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("OpenAI API key is required")
	}

	if len(samples) < c.minSamples {
		c.logger.Debug("Skipping transcription of very short input", Int("samples", len(samples)))
		return "", nil
	}

	wavData, err := audio.EncodeWAV(samples, c.sampleRate)
	if err != nil {
		return "", fmt.Errorf("failed to encode segment audio: %w", err)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", "segment.wav")
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(wavData); err != nil {
		return "", fmt.Errorf("failed to write form file: %w", err)
	}

	if err := writer.WriteField("model", c.model); err != nil {
		return "", fmt.Errorf("failed to write model field: %w", err)
	}
	if c.language != "" && !strings.EqualFold(c.language, "auto") {
		if err := writer.WriteField("language", c.language); err != nil {
			return "", fmt.Errorf("failed to write language field: %w", err)
		}
	}
	if err := writer.WriteField("response_format", "json"); err != nil {
		return "", fmt.Errorf("failed to write response_format field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	apiURL := c.baseURL + "/v1/audio/transcriptions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, &body)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcription request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("transcription API returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("failed to parse transcription response: %w", err)
	}

	text := strings.TrimSpace(result.Text)
	c.logger.Debug("Transcription completed",
		Float64("audio_secs", float64(len(samples))/float64(c.sampleRate)),
		Int("chars", len(text)),
		logger.Duration("elapsed", time.Since(start)))

	return text, nil
}
