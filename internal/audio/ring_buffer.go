package audio

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benjamayden/rejoice-slim/pkg/logger"
)

// Import logger functions
var (
	String  = logger.String
	Int     = logger.Int
	Int64   = logger.Int64
	Float64 = logger.Float64
	Error   = logger.Error
)

// ErrNotAvailable is returned when a requested span is either older than the
// retained window or not yet written. It is a normal negative result, not a
// pipeline failure; callers match it with errors.Is.
var ErrNotAvailable = errors.New("requested audio span not available")

// RingBuffer is a fixed-capacity circular store of normalized float32 audio
// samples. A single capture goroutine writes; consumers read copies by time
// offset. At most the capacity's worth of most-recent samples is retrievable.
type RingBuffer struct {
	capacitySecs int
	sampleRate   int
	channels     int

	buffer       []float32
	writePos     int
	totalWritten int64

	recording bool
	startTime time.Time
	lastWrite time.Time

	mu     sync.Mutex
	logger *logger.Logger
}

// BufferStats reports ring buffer state for monitoring
type BufferStats struct {
	IsRecording       bool    `json:"is_recording"`
	CapacitySecs      int     `json:"capacity_secs"`
	RecordingDuration float64 `json:"recording_duration_secs"`
	AvailableDuration float64 `json:"available_duration_secs"`
	TotalSamples      int64   `json:"total_samples_written"`
	SampleRate        int     `json:"sample_rate"`
	Channels          int     `json:"channels"`
	Utilization       float64 `json:"buffer_utilization"`
}

// NewRingBuffer creates a ring buffer holding capacitySecs seconds of audio
// at the given sample rate and channel count.
func NewRingBuffer(capacitySecs, sampleRate, channels int, log *logger.Logger) *RingBuffer {
	size := capacitySecs * sampleRate * channels

	rb := &RingBuffer{
		capacitySecs: capacitySecs,
		sampleRate:   sampleRate,
		channels:     channels,
		buffer:       make([]float32, size),
		lastWrite:    time.Now(),
		logger:       log.Named("ring-buffer"),
	}

	rb.logger.Info("Ring buffer initialized",
		Int("capacity_secs", capacitySecs),
		Int("sample_rate", sampleRate),
		Int("channels", channels))

	return rb
}

// StartRecording resets cursors and counters for a new session
func (rb *RingBuffer) StartRecording() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.writePos = 0
	rb.totalWritten = 0
	rb.startTime = time.Now()
	rb.recording = true
	rb.lastWrite = time.Now()

	rb.logger.Info("Recording session started")
}

// StopRecording freezes the buffer state for read-back
func (rb *RingBuffer) StopRecording() {
	rb.mu.Lock()
	rb.recording = false
	duration := rb.recordingDurationLocked()
	rb.mu.Unlock()

	rb.logger.Info("Recording session stopped", Float64("duration_secs", duration))
}

// IsRecording reports whether a session is active
func (rb *RingBuffer) IsRecording() bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.recording
}

// Write appends samples at the head, wrapping around capacity and overwriting
// the oldest data. It is a no-op when not recording.
func (rb *RingBuffer) Write(samples []float32) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if !rb.recording {
		return
	}

	n := len(samples)
	size := len(rb.buffer)
	end := rb.writePos + n

	if end <= size {
		copy(rb.buffer[rb.writePos:end], samples)
	} else {
		first := size - rb.writePos
		copy(rb.buffer[rb.writePos:], samples[:first])
		copy(rb.buffer[:n-first], samples[first:])
	}

	rb.writePos = end % size
	rb.totalWritten += int64(n)
	rb.lastWrite = time.Now()
}

// TimeSinceLastWrite returns the wall-clock time since the last write. The
// session driver uses it to detect a stalled input device.
func (rb *RingBuffer) TimeSinceLastWrite() time.Duration {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return time.Since(rb.lastWrite)
}

// ReadSegment returns a copy of the span starting at startOffset seconds from
// the session start. Spans older than the retained window or beyond what has
// been written return ErrNotAvailable. A negative offset or duration is a
// programming error.
func (rb *RingBuffer) ReadSegment(startOffset, duration float64) ([]float32, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.readSegmentLocked(startOffset, duration)
}

func (rb *RingBuffer) readSegmentLocked(startOffset, duration float64) ([]float32, error) {
	if startOffset < 0 || duration < 0 {
		return nil, fmt.Errorf("invalid segment request: start=%.2f duration=%.2f", startOffset, duration)
	}
	if rb.startTime.IsZero() {
		return nil, fmt.Errorf("no recording session: %w", ErrNotAvailable)
	}

	size := int64(len(rb.buffer))
	rate := int64(rb.sampleRate * rb.channels)
	startSample := int64(startOffset * float64(rate))
	durationSamples := int64(duration * float64(rate))
	endSample := startSample + durationSamples

	if startSample < rb.totalWritten-size {
		rb.logger.Warn("Requested span expired",
			Int64("start_sample", startSample),
			Int64("retained_start", rb.totalWritten-size))
		return nil, fmt.Errorf("span at %.2fs expired from retained window: %w", startOffset, ErrNotAvailable)
	}
	if endSample > rb.totalWritten {
		return nil, fmt.Errorf("span ending at %.2fs not yet written: %w", startOffset+duration, ErrNotAvailable)
	}

	bufStart := int(startSample % size)
	bufEnd := int(endSample % size)

	segment := make([]float32, durationSamples)
	if bufStart < bufEnd || durationSamples == 0 {
		copy(segment, rb.buffer[bufStart:bufStart+int(durationSamples)])
	} else {
		// Span wraps the physical end of the buffer
		first := copy(segment, rb.buffer[bufStart:])
		copy(segment[first:], rb.buffer[:bufEnd])
	}

	return segment, nil
}

// LatestSegment returns the most recent duration seconds of audio
func (rb *RingBuffer) LatestSegment(duration float64) ([]float32, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if !rb.recording || rb.startTime.IsZero() {
		return nil, fmt.Errorf("not recording: %w", ErrNotAvailable)
	}

	available := float64(rb.totalWritten) / float64(rb.sampleRate*rb.channels)
	if available < duration {
		return nil, fmt.Errorf("only %.2fs captured: %w", available, ErrNotAvailable)
	}

	return rb.readSegmentLocked(available-duration, duration)
}

// RecordingDuration returns elapsed audio-time in seconds, derived from the
// samples actually written rather than the wall clock, so analysis is driven
// by captured audio and not scheduling jitter.
func (rb *RingBuffer) RecordingDuration() float64 {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.recordingDurationLocked()
}

func (rb *RingBuffer) recordingDurationLocked() float64 {
	if rb.totalWritten == 0 {
		if rb.recording && !rb.startTime.IsZero() {
			// No audio yet, fall back to wall time
			return time.Since(rb.startTime).Seconds()
		}
		return 0
	}
	return float64(rb.totalWritten) / float64(rb.sampleRate*rb.channels)
}

// AvailableDuration returns the duration of data currently retained
func (rb *RingBuffer) AvailableDuration() float64 {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.availableDurationLocked()
}

func (rb *RingBuffer) availableDurationLocked() float64 {
	available := rb.totalWritten
	if size := int64(len(rb.buffer)); available > size {
		available = size
	}
	return float64(available) / float64(rb.sampleRate*rb.channels)
}

// SampleRate returns the configured sample rate in Hz
func (rb *RingBuffer) SampleRate() int {
	return rb.sampleRate
}

// Channels returns the configured channel count
func (rb *RingBuffer) Channels() int {
	return rb.channels
}

// Stats returns a snapshot of buffer state
func (rb *RingBuffer) Stats() BufferStats {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	utilization := float64(rb.totalWritten) / float64(len(rb.buffer))
	if utilization > 1.0 {
		utilization = 1.0
	}

	return BufferStats{
		IsRecording:       rb.recording,
		CapacitySecs:      rb.capacitySecs,
		RecordingDuration: rb.recordingDurationLocked(),
		AvailableDuration: rb.availableDurationLocked(),
		TotalSamples:      rb.totalWritten,
		SampleRate:        rb.sampleRate,
		Channels:          rb.channels,
		Utilization:       utilization,
	}
}

// Clear zeroes the buffer and resets all state
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	for i := range rb.buffer {
		rb.buffer[i] = 0
	}
	rb.writePos = 0
	rb.totalWritten = 0
	rb.startTime = time.Time{}
	rb.recording = false

	rb.logger.Info("Buffer cleared and reset")
}
