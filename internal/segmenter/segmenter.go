package segmenter

import (
	"fmt"
	"math"
	"sync"

	"github.com/benjamayden/rejoice-slim/internal/audio"
	"github.com/benjamayden/rejoice-slim/pkg/logger"
)

// Import logger functions
var (
	String  = logger.String
	Int     = logger.Int
	Float64 = logger.Float64
	Error   = logger.Error
)

// Reason tags why a segment boundary was placed
type Reason string

const (
	ReasonNaturalPause Reason = "natural_pause"
	ReasonMaxLength    Reason = "max_length"
	ReasonFinalFlush   Reason = "final_flush"
)

// SegmentInfo describes a detected audio segment. It is immutable after
// creation.
type SegmentInfo struct {
	StartTime       float64 `json:"start_time"`
	EndTime         float64 `json:"end_time"`
	Duration        float64 `json:"duration"`
	Reason          Reason  `json:"reason"`
	AvgVolume       float64 `json:"avg_volume"`
	PeakVolume      float64 `json:"peak_volume"`
	SilenceDuration float64 `json:"silence_duration"`
}

// ID returns the deterministic identifier derived from the segment's time
// range, shared with the transcript assembler's bookkeeping.
func (s SegmentInfo) ID() string {
	return fmt.Sprintf("seg_%.1f_%.1f", s.StartTime, s.EndTime)
}

// Config holds the volume-based segmentation policy. All durations are in
// seconds.
type Config struct {
	MinSegmentDuration    float64 // Never break before this
	TargetSegmentDuration float64 // Start looking for natural pauses here
	MaxSegmentDuration    float64 // Always break by this
	VolumeDropThreshold   float64 // Fraction of baseline counting as a drop
	SilenceThreshold      float64 // Absolute RMS level counting as silence
	MinPauseDuration      float64 // Minimum pause length to consider
	AnalysisWindow        float64 // RMS calculation window size
	LookbackWindow        float64 // History range scanned for pauses
}

// DefaultConfig returns the stock segmentation policy
func DefaultConfig() Config {
	return Config{
		MinSegmentDuration:    30.0,
		TargetSegmentDuration: 45.0,
		MaxSegmentDuration:    90.0,
		VolumeDropThreshold:   0.7,
		SilenceThreshold:      0.02,
		MinPauseDuration:      0.5,
		AnalysisWindow:        1.0,
		LookbackWindow:        5.0,
	}
}

// Validate checks the policy's internal consistency
func (c Config) Validate() error {
	if c.MinSegmentDuration <= 0 || c.TargetSegmentDuration <= 0 || c.MaxSegmentDuration <= 0 {
		return fmt.Errorf("segment durations must be positive")
	}
	if c.MinSegmentDuration > c.TargetSegmentDuration || c.TargetSegmentDuration > c.MaxSegmentDuration {
		return fmt.Errorf("segment durations must satisfy min <= target <= max (got %.1f/%.1f/%.1f)",
			c.MinSegmentDuration, c.TargetSegmentDuration, c.MaxSegmentDuration)
	}
	if c.AnalysisWindow <= 0 {
		return fmt.Errorf("analysis window must be positive")
	}
	if c.LookbackWindow <= 0 {
		return fmt.Errorf("lookback window must be positive")
	}
	return nil
}

type volumeSample struct {
	timestamp float64
	rms       float64
}

// VolumeSegmenter finds speaking boundaries in the live stream by tracking
// per-window RMS volume and cutting at natural pauses, so each segment hands
// the transcription backend a clean utterance instead of a mid-word split.
type VolumeSegmenter struct {
	buf    *audio.RingBuffer
	cfg    Config
	logger *logger.Logger

	mu           sync.Mutex
	segmentStart float64
	lastAnalysis float64
	lastSpeech   float64
	history      []volumeSample
	detected     []SegmentInfo
	analyzing    bool
}

// Stats reports segmentation progress for monitoring
type Stats struct {
	IsAnalyzing            bool    `json:"is_analyzing"`
	SegmentsDetected       int     `json:"segments_detected"`
	CurrentSegmentDuration float64 `json:"current_segment_duration"`
	NaturalPauses          int     `json:"natural_pauses"`
	ForcedBreaks           int     `json:"forced_breaks"`
	HistoryLength          int     `json:"volume_history_length"`
}

// NewVolumeSegmenter creates a segmenter over the given ring buffer
func NewVolumeSegmenter(buf *audio.RingBuffer, cfg Config, log *logger.Logger) (*VolumeSegmenter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid segmenter config: %w", err)
	}

	s := &VolumeSegmenter{
		buf:    buf,
		cfg:    cfg,
		logger: log.Named("segmenter"),
	}

	s.logger.Info("Volume segmenter initialized",
		Float64("min_secs", cfg.MinSegmentDuration),
		Float64("target_secs", cfg.TargetSegmentDuration),
		Float64("max_secs", cfg.MaxSegmentDuration))

	return s, nil
}

// StartAnalysis resets segmentation state for a new session
func (s *VolumeSegmenter) StartAnalysis() {
	s.mu.Lock()
	s.segmentStart = 0
	s.lastAnalysis = 0
	s.lastSpeech = 0
	s.history = nil
	s.detected = nil
	s.analyzing = true
	s.mu.Unlock()

	s.logger.Info("Started analysis")
}

// StopAnalysis halts segmentation
func (s *VolumeSegmenter) StopAnalysis() {
	s.mu.Lock()
	s.analyzing = false
	s.mu.Unlock()

	s.logger.Info("Stopped analysis")
}

// AnalyzeAndSegment processes audio captured since the last call and returns
// any newly decided segments. It is polled periodically while recording.
func (s *VolumeSegmenter) AnalyzeAndSegment() []SegmentInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.analyzing {
		return nil
	}

	currentTime := s.buf.RecordingDuration()
	if currentTime <= s.lastAnalysis {
		return nil
	}

	s.updateVolumeHistory(currentTime)

	var newSegments []SegmentInfo
	if seg, ok := s.checkBoundary(currentTime); ok {
		newSegments = append(newSegments, seg)
		s.finalizeSegment(seg)
	}

	s.lastAnalysis = currentTime
	return newSegments
}

// FlushRemaining forces completion of the trailing segment when recording
// stops. Tails shorter than 5 seconds are discarded as likely trailing
// silence; ok reports whether a segment was emitted.
func (s *VolumeSegmenter) FlushRemaining() (SegmentInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.analyzing {
		return SegmentInfo{}, false
	}

	currentTime := s.buf.RecordingDuration()
	remaining := currentTime - s.segmentStart

	if remaining < 5.0 {
		s.logger.Info("Skipping short final segment", Float64("duration_secs", remaining))
		return SegmentInfo{}, false
	}

	seg := SegmentInfo{
		StartTime:  s.segmentStart,
		EndTime:    currentTime,
		Duration:   remaining,
		Reason:     ReasonFinalFlush,
		AvgVolume:  s.averageVolume(s.segmentStart, currentTime),
		PeakVolume: s.peakVolume(s.segmentStart, currentTime),
	}

	s.finalizeSegment(seg)
	s.logger.Info("Flushed final segment", Float64("duration_secs", seg.Duration))
	return seg, true
}

// CurrentSilence returns the audio-time elapsed since speech was last heard.
// The session driver uses it for the whole-recording silence auto-stop,
// independent of segment boundaries.
func (s *VolumeSegmenter) CurrentSilence() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.RecordingDuration() - s.lastSpeech
}

// DetectedSegments returns a copy of all segments decided so far
func (s *VolumeSegmenter) DetectedSegments() []SegmentInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]SegmentInfo, len(s.detected))
	copy(out, s.detected)
	return out
}

// Stats returns a snapshot of segmentation state
func (s *VolumeSegmenter) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		IsAnalyzing:      s.analyzing,
		SegmentsDetected: len(s.detected),
		HistoryLength:    len(s.history),
	}
	if s.analyzing {
		if d := s.buf.RecordingDuration(); d > 0 {
			st.CurrentSegmentDuration = d - s.segmentStart
		}
	}
	for _, seg := range s.detected {
		switch seg.Reason {
		case ReasonNaturalPause:
			st.NaturalPauses++
		case ReasonMaxLength:
			st.ForcedBreaks++
		}
	}
	return st
}

// updateVolumeHistory computes RMS for each new analysis window since the
// last poll and trims history older than twice the lookback window.
func (s *VolumeSegmenter) updateVolumeHistory(currentTime float64) {
	it := audio.NewWindowIterator(s.buf, s.cfg.AnalysisWindow, 0)
	it.Reset(s.lastAnalysis)

	for {
		timestamp, samples, ok := it.Next()
		if !ok || timestamp >= currentTime {
			break
		}

		rms := computeRMS(samples)
		s.history = append(s.history, volumeSample{timestamp: timestamp, rms: rms})

		if rms >= s.cfg.SilenceThreshold {
			s.lastSpeech = timestamp
		}
	}

	cutoff := currentTime - 2*s.cfg.LookbackWindow
	trimmed := s.history[:0]
	for _, v := range s.history {
		if v.timestamp >= cutoff {
			trimmed = append(trimmed, v)
		}
	}
	s.history = trimmed
}

// checkBoundary decides whether the current segment should end now.
// Priority: forced max-length break, then the minimum-duration guard, then
// natural pause search once past the target duration.
func (s *VolumeSegmenter) checkBoundary(currentTime float64) (SegmentInfo, bool) {
	currentDuration := currentTime - s.segmentStart

	if currentDuration >= s.cfg.MaxSegmentDuration {
		s.logger.Debug("Forcing max-length boundary", Float64("duration_secs", currentDuration))
		return s.createSegment(currentTime, ReasonMaxLength, 0), true
	}

	if currentDuration < s.cfg.MinSegmentDuration {
		return SegmentInfo{}, false
	}

	if currentDuration >= s.cfg.TargetSegmentDuration {
		if pauseEnd, silence, found := s.detectNaturalPause(currentTime); found {
			s.logger.Debug("Natural pause boundary",
				Float64("pause_end_secs", pauseEnd),
				Float64("silence_secs", silence))
			return s.createSegment(pauseEnd, ReasonNaturalPause, silence), true
		}
	}

	return SegmentInfo{}, false
}

// detectNaturalPause scans the trailing lookback window for the first maximal
// run of silent windows. Baseline volume is the mean RMS between the segment
// start and two seconds before now, so an in-progress pause does not bias its
// own baseline. A window is silent when its RMS is below the absolute
// threshold or below baseline * drop threshold.
func (s *VolumeSegmenter) detectNaturalPause(currentTime float64) (pauseEnd, silenceDuration float64, found bool) {
	if len(s.history) < 3 {
		return 0, 0, false
	}

	lookbackStart := currentTime - s.cfg.LookbackWindow
	recent := make([]volumeSample, 0, len(s.history))
	for _, v := range s.history {
		if v.timestamp >= lookbackStart {
			recent = append(recent, v)
		}
	}
	if len(recent) < 3 {
		return 0, 0, false
	}

	baselineStart := s.segmentStart
	if lookbackStart > baselineStart {
		baselineStart = lookbackStart
	}

	var baselineSum float64
	var baselineCount int
	for _, v := range recent {
		if v.timestamp >= baselineStart && v.timestamp <= currentTime-2.0 {
			baselineSum += v.rms
			baselineCount++
		}
	}
	if baselineCount == 0 {
		return 0, 0, false
	}
	baseline := baselineSum / float64(baselineCount)

	silenceStart := -1.0
	silenceEnd := -1.0
	for _, v := range recent {
		isSilence := v.rms < s.cfg.SilenceThreshold || v.rms < baseline*s.cfg.VolumeDropThreshold

		if isSilence && silenceStart < 0 {
			silenceStart = v.timestamp
		} else if !isSilence && silenceStart >= 0 {
			silenceEnd = v.timestamp
			break
		}
	}

	// Silence still ongoing at the analysis edge
	if silenceStart >= 0 && silenceEnd < 0 {
		silenceEnd = currentTime
	}

	if silenceStart >= 0 && silenceEnd >= 0 {
		duration := silenceEnd - silenceStart
		if duration >= s.cfg.MinPauseDuration {
			return silenceEnd, duration, true
		}
	}

	return 0, 0, false
}

func (s *VolumeSegmenter) createSegment(endTime float64, reason Reason, silenceDuration float64) SegmentInfo {
	return SegmentInfo{
		StartTime:       s.segmentStart,
		EndTime:         endTime,
		Duration:        endTime - s.segmentStart,
		Reason:          reason,
		AvgVolume:       s.averageVolume(s.segmentStart, endTime),
		PeakVolume:      s.peakVolume(s.segmentStart, endTime),
		SilenceDuration: silenceDuration,
	}
}

func (s *VolumeSegmenter) finalizeSegment(seg SegmentInfo) {
	s.detected = append(s.detected, seg)
	s.segmentStart = seg.EndTime

	s.logger.Info("Segment decided",
		String("reason", string(seg.Reason)),
		Float64("start_secs", seg.StartTime),
		Float64("end_secs", seg.EndTime),
		Float64("duration_secs", seg.Duration))
}

func (s *VolumeSegmenter) averageVolume(start, end float64) float64 {
	var sum float64
	var count int
	for _, v := range s.history {
		if v.timestamp >= start && v.timestamp <= end {
			sum += v.rms
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

func (s *VolumeSegmenter) peakVolume(start, end float64) float64 {
	var peak float64
	for _, v := range s.history {
		if v.timestamp >= start && v.timestamp <= end && v.rms > peak {
			peak = v.rms
		}
	}
	return peak
}

func computeRMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
