package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config represents the main application configuration structure
// containing all configuration sections
type Config struct {
	Audio         AudioConfig         `toml:"audio"`         // Audio capture and buffering settings
	Segmenter     SegmenterConfig     `toml:"segmenter"`     // Volume-based segmentation settings
	Transcription TranscriptionConfig `toml:"transcription"` // Transcription backend settings
	Session       SessionConfig       `toml:"session"`       // Recording session behavior
	Storage       StorageConfig       `toml:"storage"`       // Data persistence settings
	Server        ServerConfig        `toml:"server"`        // HTTP server settings
	Logging       LoggingConfig       `toml:"logging"`       // Application logging settings
	Clipboard     ClipboardConfig     `toml:"clipboard"`     // Clipboard integration settings
}

// AudioConfig contains audio capture and ring buffer settings
type AudioConfig struct {
	// Source selection
	// Allowed values:
	// - "portaudio": Capture from a local input device via PortAudio
	// - "ffmpeg": Spawn an FFmpeg process reading from a URL or device and pipe raw PCM
	SourceType string `toml:"source_type"`

	SampleRate         int     `toml:"sample_rate"`          // Capture sample rate in Hz (16000 is what the transcription models expect)
	Channels           int     `toml:"channels"`             // Number of capture channels (1 = mono)
	BufferCapacitySecs float64 `toml:"buffer_capacity_secs"` // Ring buffer capacity in seconds of audio

	// PortAudio source settings (used when source_type = "portaudio")
	InputDevice string `toml:"input_device"` // Substring match against device names; empty = system default input

	// FFmpeg source settings (used when source_type = "ffmpeg")
	FFmpegPath      string `toml:"ffmpeg_path"`      // Path to the ffmpeg binary
	FFmpegInput     string `toml:"ffmpeg_input"`     // Input argument passed to ffmpeg -i (URL, file, or device)
	FFmpegInputArgs string `toml:"ffmpeg_input_args"` // Extra arguments inserted before -i (e.g., "-f avfoundation")

	// Master recording settings
	MasterRecordingDir string `toml:"master_recording_dir"` // Directory for whole-session WAV files; empty disables the master recording
}

// SegmenterConfig contains volume-based segmentation settings
type SegmenterConfig struct {
	MinSegmentSecs    float64 `toml:"min_segment_secs"`    // Hard floor below which no boundary is placed
	TargetSegmentSecs float64 `toml:"target_segment_secs"` // After this point natural pauses are honored
	MaxSegmentSecs    float64 `toml:"max_segment_secs"`    // Hard ceiling; a boundary is forced here regardless of speech
	VolumeWindowSecs  float64 `toml:"volume_window_secs"`  // RMS analysis window size
	SilenceThreshold  float64 `toml:"silence_threshold"`   // Absolute RMS below which a window counts as silent
	VolumeDropRatio   float64 `toml:"volume_drop_ratio"`   // Relative drop from baseline that also counts as silent
	MinPauseSecs      float64 `toml:"min_pause_secs"`      // Minimum silent run length that qualifies as a natural pause
	PauseLookbackSecs float64 `toml:"pause_lookback_secs"` // How far back to search for a pause once past the target
}

// TranscriptionConfig contains transcription backend settings
type TranscriptionConfig struct {
	Provider string `toml:"provider"` // Transcription backend: "openai" or "gemini"

	// OpenAI API settings
	OpenAIAPIKey  string `toml:"openai_api_key"`      // OpenAI API key for transcription service
	OpenAIBaseURL string `toml:"openai_api_base_url"` // Optional OpenAI base URL (e.g., for proxies). Defaults to https://api.openai.com
	OpenAIModel   string `toml:"openai_model"`        // OpenAI model to use (e.g., "whisper-1")

	// Gemini API settings
	GeminiAPIKey string `toml:"gemini_api_key"` // Google Gemini API key
	GeminiModel  string `toml:"gemini_model"`   // Gemini model to use (e.g., "gemini-2.0-flash")

	Language       string `toml:"language"`        // Primary language hint ("auto" disables the hint)
	TimeoutSecs    int    `toml:"timeout_seconds"` // Per-request timeout for transcription calls

	// Silence auto-stop settings
	EmptySegmentThreshold int `toml:"empty_segment_threshold"` // Number of trailing segments inspected for the auto-stop check
	EmptySegmentMinChars  int `toml:"empty_segment_min_chars"` // Combined character count below which the session auto-stops
}

// SessionConfig contains recording session behavior settings
type SessionConfig struct {
	PollIntervalMs        int     `toml:"poll_interval_ms"`        // Segmentation poll cadence in milliseconds (capped at 500)
	StallTimeoutSecs      float64 `toml:"stall_timeout_secs"`      // Seconds without new audio before the input is declared stalled
	MinStreamingSecs      float64 `toml:"min_streaming_secs"`      // Recordings shorter than this skip streaming and transcribe whole
	SilenceTimeoutSecs    float64 `toml:"silence_timeout_secs"`    // Stop the recording after this many seconds without speech (0 disables)
	DedupeRepeatedPhrases bool    `toml:"dedupe_repeated_phrases"` // Collapse immediately repeated short phrases in the final text
}

// StorageConfig contains data persistence configuration
type StorageConfig struct {
	Type             string `toml:"type"`               // Storage backend type (currently only "sqlite" is supported)
	SQLitePath       string `toml:"sqlite_path"`        // Path to the SQLite database file
	TranscriptsDir   string `toml:"transcripts_dir"`    // Directory for exported markdown transcripts
	KeepSessionAudio bool   `toml:"keep_session_audio"` // Keep session WAV files after a successful transcript (default: remove them)
}

// ServerConfig contains HTTP server configuration settings
type ServerConfig struct {
	Enabled            bool     `toml:"enabled"`               // Whether to run the HTTP status server at all
	Port               int      `toml:"port"`                  // HTTP port for the status server
	Host               string   `toml:"host"`                  // Host address to bind to (e.g., 127.0.0.1 for localhost only)
	CORSAllowedOrigins []string `toml:"cors_allowed_origins"`  // List of origins allowed for CORS requests (use ["*"] for all origins)
	ReadTimeoutSecs    int      `toml:"read_timeout_seconds"`  // Maximum duration for reading the entire request (0 = no timeout)
	WriteTimeoutSecs   int      `toml:"write_timeout_seconds"` // Maximum duration for writing the response (0 = no timeout, recommended for streaming)
	IdleTimeoutSecs    int      `toml:"idle_timeout_seconds"`  // Maximum duration to wait for the next request when keep-alives are enabled
}

// LoggingConfig contains application logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`  // Log level: "debug", "info", "warn", or "error"
	Format string `toml:"format"` // Log format: "json" (structured) or "console" (human-readable)
}

// ClipboardConfig contains clipboard integration settings
type ClipboardConfig struct {
	AutoCopy bool `toml:"auto_copy"` // Copy the final transcript to the system clipboard automatically
}

// Default returns a configuration with working defaults for every section
func Default() *Config {
	return &Config{
		Audio: AudioConfig{
			SourceType:         "portaudio",
			SampleRate:         16000,
			Channels:           1,
			BufferCapacitySecs: 300,
			FFmpegPath:         "ffmpeg",
		},
		Segmenter: SegmenterConfig{
			MinSegmentSecs:    30,
			TargetSegmentSecs: 45,
			MaxSegmentSecs:    90,
			VolumeWindowSecs:  1.0,
			SilenceThreshold:  0.02,
			VolumeDropRatio:   0.7,
			MinPauseSecs:      0.5,
			PauseLookbackSecs: 5.0,
		},
		Transcription: TranscriptionConfig{
			Provider:              "openai",
			OpenAIModel:           "whisper-1",
			GeminiModel:           "gemini-2.0-flash",
			Language:              "auto",
			TimeoutSecs:           120,
			EmptySegmentThreshold: 3,
			EmptySegmentMinChars:  10,
		},
		Session: SessionConfig{
			PollIntervalMs:        500,
			StallTimeoutSecs:      5.0,
			MinStreamingSecs:      90,
			SilenceTimeoutSecs:    120,
			DedupeRepeatedPhrases: true,
		},
		Storage: StorageConfig{
			Type:           "sqlite",
			SQLitePath:     "rejoice.db",
			TranscriptsDir: "transcripts",
		},
		Server: ServerConfig{
			Enabled:            true,
			Port:               8080,
			Host:               "127.0.0.1",
			CORSAllowedOrigins: []string{"*"},
			WriteTimeoutSecs:   0,
			ReadTimeoutSecs:    30,
			IdleTimeoutSecs:    120,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Clipboard: ClipboardConfig{
			AutoCopy: true,
		},
	}
}

// Load reads the configuration from the given TOML file, applied on top of
// the defaults, and validates the result
func Load(path string) (*Config, error) {
	config := Default()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	if _, err := toml.DecodeFile(path, config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	config.applyEnvOverrides()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// LoadWithFallback tries the preferred path first and falls back to the
// conventional locations. A missing file everywhere yields the defaults so
// the tool remains usable without any configuration.
func LoadWithFallback(preferredPath string) (*Config, error) {
	searchPaths := []string{
		preferredPath,
		"configs/config.toml",
		"config.toml",
	}

	for _, path := range searchPaths {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	config := Default()
	config.applyEnvOverrides()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// applyEnvOverrides lets API keys come from the environment so they never
// need to live in the config file
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && c.Transcription.OpenAIAPIKey == "" {
		c.Transcription.OpenAIAPIKey = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" && c.Transcription.GeminiAPIKey == "" {
		c.Transcription.GeminiAPIKey = key
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate audio config
	switch c.Audio.SourceType {
	case "portaudio", "ffmpeg":
	default:
		return fmt.Errorf("invalid audio source_type: %s (must be \"portaudio\" or \"ffmpeg\")", c.Audio.SourceType)
	}
	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("audio sample_rate must be positive, got %d", c.Audio.SampleRate)
	}
	if c.Audio.Channels <= 0 {
		return fmt.Errorf("audio channels must be positive, got %d", c.Audio.Channels)
	}
	if c.Audio.BufferCapacitySecs <= 0 {
		return fmt.Errorf("audio buffer_capacity_secs must be positive, got %v", c.Audio.BufferCapacitySecs)
	}
	if c.Audio.SourceType == "ffmpeg" && c.Audio.FFmpegInput == "" {
		return fmt.Errorf("ffmpeg_input is required when source_type is \"ffmpeg\"")
	}

	// Validate segmenter config
	s := c.Segmenter
	if s.MinSegmentSecs <= 0 {
		return fmt.Errorf("segmenter min_segment_secs must be positive, got %v", s.MinSegmentSecs)
	}
	if s.MinSegmentSecs > s.TargetSegmentSecs {
		return fmt.Errorf("segmenter min_segment_secs (%v) must not exceed target_segment_secs (%v)",
			s.MinSegmentSecs, s.TargetSegmentSecs)
	}
	if s.TargetSegmentSecs > s.MaxSegmentSecs {
		return fmt.Errorf("segmenter target_segment_secs (%v) must not exceed max_segment_secs (%v)",
			s.TargetSegmentSecs, s.MaxSegmentSecs)
	}
	if s.VolumeWindowSecs <= 0 {
		return fmt.Errorf("segmenter volume_window_secs must be positive, got %v", s.VolumeWindowSecs)
	}
	if s.SilenceThreshold < 0 {
		return fmt.Errorf("segmenter silence_threshold must not be negative, got %v", s.SilenceThreshold)
	}
	if s.VolumeDropRatio <= 0 || s.VolumeDropRatio > 1 {
		return fmt.Errorf("segmenter volume_drop_ratio must be in (0, 1], got %v", s.VolumeDropRatio)
	}
	if c.Audio.BufferCapacitySecs < s.MaxSegmentSecs {
		return fmt.Errorf("audio buffer_capacity_secs (%v) must be at least max_segment_secs (%v)",
			c.Audio.BufferCapacitySecs, s.MaxSegmentSecs)
	}

	// Validate transcription config
	switch c.Transcription.Provider {
	case "openai", "gemini":
	default:
		return fmt.Errorf("invalid transcription provider: %s (must be \"openai\" or \"gemini\")", c.Transcription.Provider)
	}
	if c.Transcription.EmptySegmentThreshold <= 0 {
		return fmt.Errorf("transcription empty_segment_threshold must be positive, got %d", c.Transcription.EmptySegmentThreshold)
	}
	if c.Transcription.EmptySegmentMinChars <= 0 {
		return fmt.Errorf("transcription empty_segment_min_chars must be positive, got %d", c.Transcription.EmptySegmentMinChars)
	}

	// Validate session config
	if c.Session.PollIntervalMs <= 0 || c.Session.PollIntervalMs > 500 {
		return fmt.Errorf("session poll_interval_ms must be in (0, 500], got %d", c.Session.PollIntervalMs)
	}
	if c.Session.StallTimeoutSecs <= 0 {
		return fmt.Errorf("session stall_timeout_secs must be positive, got %v", c.Session.StallTimeoutSecs)
	}
	if c.Session.SilenceTimeoutSecs < 0 {
		return fmt.Errorf("session silence_timeout_secs must not be negative, got %v", c.Session.SilenceTimeoutSecs)
	}

	// Validate storage config
	if c.Storage.Type != "sqlite" {
		return fmt.Errorf("invalid storage type: %s (only \"sqlite\" is supported)", c.Storage.Type)
	}
	if c.Storage.SQLitePath == "" {
		return fmt.Errorf("storage sqlite_path is required")
	}

	// Validate server config
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			return fmt.Errorf("invalid server port: %d", c.Server.Port)
		}
	}

	// Validate logging config
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging level: %s", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid logging format: %s", c.Logging.Format)
	}

	return nil
}
