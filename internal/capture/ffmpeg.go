package capture

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/benjamayden/rejoice-slim/internal/audio"
	"github.com/benjamayden/rejoice-slim/internal/config"
	"github.com/benjamayden/rejoice-slim/pkg/logger"
)

const ffmpegReconnectDelay = 2 * time.Second

// FFmpegSource spawns an ffmpeg process that decodes the configured input to
// raw s16le PCM on stdout and pipes it into the ring buffer. The process is
// restarted automatically if its output stream dies while capture is active.
type FFmpegSource struct {
	ffmpegPath string
	input      string
	inputArgs  []string
	sampleRate int
	channels   int

	buf    *audio.RingBuffer
	logger *logger.Logger

	mu             sync.Mutex
	isRunning      bool
	cmd            *exec.Cmd
	stdout         io.ReadCloser
	reconnectTimer *time.Timer
	ctx            context.Context
	cancel         context.CancelFunc
}

// NewFFmpegSource creates an FFmpeg-backed capture source
func NewFFmpegSource(cfg config.AudioConfig, buf *audio.RingBuffer, log *logger.Logger) *FFmpegSource {
	var inputArgs []string
	if cfg.FFmpegInputArgs != "" {
		inputArgs = strings.Fields(cfg.FFmpegInputArgs)
	}

	return &FFmpegSource{
		ffmpegPath: cfg.FFmpegPath,
		input:      cfg.FFmpegInput,
		inputArgs:  inputArgs,
		sampleRate: cfg.SampleRate,
		channels:   cfg.Channels,
		buf:        buf,
		logger:     log.Named("ffmpeg"),
	}
}

// Start launches the ffmpeg process
func (s *FFmpegSource) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return nil
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.isRunning = true

	if err := s.startFFmpeg(); err != nil {
		s.isRunning = false
		s.cancel()
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	return nil
}

// Stop terminates the ffmpeg process
func (s *FFmpegSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return nil
	}
	s.isRunning = false
	s.cancel()
	s.stopFFmpeg()
	return nil
}

// IsRunning reports whether capture is active
func (s *FFmpegSource) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

// startFFmpeg builds the argument list and spawns the process. Caller holds
// the lock.
func (s *FFmpegSource) startFFmpeg() error {
	s.logger.Debug("Starting ffmpeg process",
		String("path", s.ffmpegPath),
		String("input", s.input))

	args := []string{
		"-loglevel", "error",
		"-fflags", "nobuffer",
		"-flags", "low_delay",
	}
	args = append(args, s.inputArgs...)
	args = append(args,
		"-i", s.input,
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ac", fmt.Sprintf("%d", s.channels),
		"-ar", fmt.Sprintf("%d", s.sampleRate),
		"-flush_packets", "1",
		"pipe:1",
	)

	s.cmd = exec.CommandContext(s.ctx, s.ffmpegPath, args...)

	var err error
	s.stdout, err = s.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	if err := s.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	go s.processOutput(s.stdout)

	return nil
}

// stopFFmpeg kills the process. Errors are expected when ffmpeg has already
// exited, so they are ignored. Caller holds the lock.
func (s *FFmpegSource) stopFFmpeg() {
	if s.cmd != nil && s.cmd.Process != nil {
		s.logger.Info("Stopping ffmpeg process")
		_ = s.cmd.Process.Kill()
		_ = s.cmd.Wait()
	}
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
}

// processOutput pumps raw PCM from ffmpeg into the ring buffer
func (s *FFmpegSource) processOutput(stdout io.ReadCloser) {
	buffer := make([]byte, 8192)
	dec := &s16leDecoder{}
	bytesProcessed := 0

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Debug("Stopping ffmpeg output processing",
				Int("total_bytes_processed", bytesProcessed))
			return
		default:
		}

		n, err := stdout.Read(buffer)
		if n > 0 {
			s.buf.Write(dec.decode(buffer[:n]))
			bytesProcessed += n
		}
		if err != nil {
			if err == io.EOF {
				s.logger.Warn("FFmpeg output ended unexpectedly",
					Int("total_bytes_processed", bytesProcessed))
			} else {
				s.logger.Error("Error reading from ffmpeg", Error(err),
					Int("total_bytes_processed", bytesProcessed))
			}
			s.scheduleRestart()
			return
		}
	}
}

// scheduleRestart restarts ffmpeg after a short delay unless capture has been
// stopped in the meantime
func (s *FFmpegSource) scheduleRestart() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning || s.reconnectTimer != nil {
		return
	}

	s.logger.Warn("Scheduling ffmpeg restart")
	s.reconnectTimer = time.AfterFunc(ffmpegReconnectDelay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		s.reconnectTimer = nil
		if !s.isRunning {
			return
		}
		s.stopFFmpeg()
		if err := s.startFFmpeg(); err != nil {
			s.logger.Error("Failed to restart ffmpeg", Error(err))
		} else {
			s.logger.Info("FFmpeg restarted")
		}
	})
}
