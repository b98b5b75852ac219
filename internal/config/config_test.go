package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("default config must validate, got: %v", err)
	}
}

func TestLoadAppliesOverridesOnDefaults(t *testing.T) {
	path := writeConfig(t, `
[segmenter]
min_segment_secs = 10.0
target_segment_secs = 20.0
max_segment_secs = 40.0

[logging]
level = "debug"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Segmenter.MinSegmentSecs != 10 {
		t.Errorf("min_segment_secs = %v, want 10", cfg.Segmenter.MinSegmentSecs)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("level = %q, want debug", cfg.Logging.Level)
	}
	// Untouched sections keep their defaults
	if cfg.Audio.SampleRate != 16000 {
		t.Errorf("sample_rate = %d, want default 16000", cfg.Audio.SampleRate)
	}
	if cfg.Transcription.Provider != "openai" {
		t.Errorf("provider = %q, want default openai", cfg.Transcription.Provider)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestLoadWithFallbackUsesDefaults(t *testing.T) {
	cfg, err := LoadWithFallback(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("fallback load: %v", err)
	}
	if cfg.Segmenter.MaxSegmentSecs != 90 {
		t.Errorf("max_segment_secs = %v, want default 90", cfg.Segmenter.MaxSegmentSecs)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name:   "segment ordering",
			mutate: func(c *Config) { c.Segmenter.MinSegmentSecs = 60; c.Segmenter.TargetSegmentSecs = 45 },
			want:   "min_segment_secs",
		},
		{
			name:   "target above max",
			mutate: func(c *Config) { c.Segmenter.TargetSegmentSecs = 100 },
			want:   "target_segment_secs",
		},
		{
			name:   "unknown provider",
			mutate: func(c *Config) { c.Transcription.Provider = "whisper-local" },
			want:   "provider",
		},
		{
			name:   "unknown source",
			mutate: func(c *Config) { c.Audio.SourceType = "alsa" },
			want:   "source_type",
		},
		{
			name:   "ffmpeg without input",
			mutate: func(c *Config) { c.Audio.SourceType = "ffmpeg" },
			want:   "ffmpeg_input",
		},
		{
			name:   "buffer smaller than max segment",
			mutate: func(c *Config) { c.Audio.BufferCapacitySecs = 60 },
			want:   "buffer_capacity_secs",
		},
		{
			name:   "poll interval above cap",
			mutate: func(c *Config) { c.Session.PollIntervalMs = 1000 },
			want:   "poll_interval_ms",
		},
		{
			name:   "drop ratio above one",
			mutate: func(c *Config) { c.Segmenter.VolumeDropRatio = 1.5 },
			want:   "volume_drop_ratio",
		},
		{
			name:   "negative silence timeout",
			mutate: func(c *Config) { c.Session.SilenceTimeoutSecs = -1 },
			want:   "silence_timeout_secs",
		},
		{
			name:   "bad log level",
			mutate: func(c *Config) { c.Logging.Level = "verbose" },
			want:   "logging level",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestEnvOverridesFillEmptyKeys(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-from-env")
	t.Setenv("GEMINI_API_KEY", "g-from-env")

	cfg := Default()
	cfg.Transcription.GeminiAPIKey = "g-from-file"
	cfg.applyEnvOverrides()

	if cfg.Transcription.OpenAIAPIKey != "sk-from-env" {
		t.Errorf("openai key = %q, want env value", cfg.Transcription.OpenAIAPIKey)
	}
	// File value wins over the environment
	if cfg.Transcription.GeminiAPIKey != "g-from-file" {
		t.Errorf("gemini key = %q, want file value", cfg.Transcription.GeminiAPIKey)
	}
}
