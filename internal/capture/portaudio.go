package capture

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/benjamayden/rejoice-slim/internal/audio"
	"github.com/benjamayden/rejoice-slim/internal/config"
	"github.com/benjamayden/rejoice-slim/pkg/logger"
)

const portAudioFramesPerBuffer = 1024

// PortAudioSource captures from a local input device via PortAudio and pushes
// the samples into the ring buffer.
type PortAudioSource struct {
	sampleRate  int
	channels    int
	deviceMatch string

	buf    *audio.RingBuffer
	logger *logger.Logger

	mu         sync.Mutex
	isRunning  bool
	stream     *portaudio.Stream
	captureBuf []float32
	done       chan struct{}
}

// NewPortAudioSource creates a PortAudio-backed capture source
func NewPortAudioSource(cfg config.AudioConfig, buf *audio.RingBuffer, log *logger.Logger) *PortAudioSource {
	return &PortAudioSource{
		sampleRate:  cfg.SampleRate,
		channels:    cfg.Channels,
		deviceMatch: cfg.InputDevice,
		buf:         buf,
		logger:      log.Named("portaudio"),
	}
}

// Start initializes PortAudio and begins the capture loop
func (s *PortAudioSource) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return nil
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize portaudio: %w", err)
	}

	stream, err := s.openStream()
	if err != nil {
		_ = portaudio.Terminate()
		return err
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		_ = portaudio.Terminate()
		return fmt.Errorf("failed to start audio stream: %w", err)
	}

	s.stream = stream
	s.isRunning = true
	s.done = make(chan struct{})

	go s.captureLoop()

	s.logger.Info("Audio capture started",
		Int("sample_rate", s.sampleRate),
		Int("channels", s.channels))
	return nil
}

// openStream opens either the default input device or the first device whose
// name contains the configured substring. Caller holds the lock.
func (s *PortAudioSource) openStream() (*portaudio.Stream, error) {
	in := make([]float32, portAudioFramesPerBuffer*s.channels)

	if s.deviceMatch == "" {
		stream, err := portaudio.OpenDefaultStream(s.channels, 0, float64(s.sampleRate), portAudioFramesPerBuffer, in)
		if err != nil {
			return nil, fmt.Errorf("failed to open default input stream: %w", err)
		}
		s.captureBuf = in
		return stream, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list audio devices: %w", err)
	}

	for _, dev := range devices {
		if dev.MaxInputChannels < s.channels {
			continue
		}
		if !strings.Contains(strings.ToLower(dev.Name), strings.ToLower(s.deviceMatch)) {
			continue
		}

		s.logger.Info("Using input device", String("name", dev.Name))
		params := portaudio.LowLatencyParameters(dev, nil)
		params.Input.Channels = s.channels
		params.SampleRate = float64(s.sampleRate)
		params.FramesPerBuffer = portAudioFramesPerBuffer

		stream, err := portaudio.OpenStream(params, in)
		if err != nil {
			return nil, fmt.Errorf("failed to open stream on %q: %w", dev.Name, err)
		}
		s.captureBuf = in
		return stream, nil
	}

	return nil, fmt.Errorf("no input device matching %q", s.deviceMatch)
}

// captureLoop reads from the stream until Stop closes it
func (s *PortAudioSource) captureLoop() {
	for {
		s.mu.Lock()
		stream := s.stream
		running := s.isRunning
		s.mu.Unlock()

		if !running || stream == nil {
			close(s.done)
			return
		}

		if err := stream.Read(); err != nil {
			s.mu.Lock()
			stillRunning := s.isRunning
			s.mu.Unlock()
			if stillRunning {
				s.logger.Error("Audio stream read failed", Error(err))
			}
			close(s.done)
			return
		}

		samples := make([]float32, len(s.captureBuf))
		copy(samples, s.captureBuf)
		s.buf.Write(samples)
	}
}

// Stop halts capture and releases PortAudio
func (s *PortAudioSource) Stop() error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	stream := s.stream
	s.stream = nil
	done := s.done
	s.mu.Unlock()

	if stream != nil {
		_ = stream.Abort()
		stream.Close()
	}
	if done != nil {
		<-done
	}
	if err := portaudio.Terminate(); err != nil {
		return fmt.Errorf("failed to terminate portaudio: %w", err)
	}

	s.logger.Info("Audio capture stopped")
	return nil
}

// IsRunning reports whether capture is active
func (s *PortAudioSource) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}
