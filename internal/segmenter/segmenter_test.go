package segmenter

import (
	"math"
	"testing"

	"github.com/benjamayden/rejoice-slim/internal/audio"
	"github.com/benjamayden/rejoice-slim/pkg/logger"
)

const testSampleRate = 16000

func writeTone(buf *audio.RingBuffer, durationSecs, amplitude float64) {
	n := int(durationSecs * testSampleRate)
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(amplitude * math.Sin(2*math.Pi*440*float64(i)/testSampleRate))
	}
	buf.Write(samples)
}

// feedAndPoll writes the timeline in half-second steps, polling the segmenter
// after each write the way the session driver does, and returns every decided
// segment. spans are (duration, amplitude) pairs.
func feedAndPoll(t *testing.T, s *VolumeSegmenter, buf *audio.RingBuffer, spans [][2]float64) []SegmentInfo {
	t.Helper()

	var segments []SegmentInfo
	const step = 0.5
	for _, span := range spans {
		remaining := span[0]
		for remaining > 1e-9 {
			chunk := step
			if chunk > remaining {
				chunk = remaining
			}
			writeTone(buf, chunk, span[1])
			segments = append(segments, s.AnalyzeAndSegment()...)
			remaining -= chunk
		}
	}
	return segments
}

func newTestSegmenter(t *testing.T, cfg Config) (*VolumeSegmenter, *audio.RingBuffer) {
	t.Helper()
	log := logger.NewNop()
	buf := audio.NewRingBuffer(120, testSampleRate, 1, log)
	buf.StartRecording()

	s, err := NewVolumeSegmenter(buf, cfg, log)
	if err != nil {
		t.Fatalf("new segmenter: %v", err)
	}
	s.StartAnalysis()
	return s, buf
}

func TestNaturalPauseBoundary(t *testing.T) {
	s, buf := newTestSegmenter(t, Config{
		MinSegmentDuration:    2,
		TargetSegmentDuration: 3,
		MaxSegmentDuration:    20,
		VolumeDropThreshold:   0.7,
		SilenceThreshold:      0.02,
		MinPauseDuration:      0.5,
		AnalysisWindow:        0.5,
		LookbackWindow:        4,
	})

	segments := feedAndPoll(t, s, buf, [][2]float64{
		{4, 0.3}, // speech
		{2, 0.0}, // silence
		{4, 0.3}, // speech
	})

	if len(segments) == 0 {
		t.Fatal("expected at least one segment")
	}
	first := segments[0]
	if first.Reason != ReasonNaturalPause {
		t.Errorf("reason = %q, want %q", first.Reason, ReasonNaturalPause)
	}
	if first.StartTime != 0 {
		t.Errorf("start = %v, want 0", first.StartTime)
	}
	// The boundary must land inside or at the edge of the silent span
	if first.EndTime < 4 || first.EndTime > 6.01 {
		t.Errorf("end = %v, want within the 4s-6s silence", first.EndTime)
	}
}

func TestRelativeVolumeDropCountsAsPause(t *testing.T) {
	s, buf := newTestSegmenter(t, Config{
		MinSegmentDuration:    2,
		TargetSegmentDuration: 3,
		MaxSegmentDuration:    20,
		VolumeDropThreshold:   0.7,
		SilenceThreshold:      0.02,
		MinPauseDuration:      0.5,
		AnalysisWindow:        0.5,
		LookbackWindow:        4,
	})

	// The quiet span stays above the absolute threshold but falls below
	// 70% of the speech baseline
	segments := feedAndPoll(t, s, buf, [][2]float64{
		{4, 0.3},
		{2, 0.1},
		{4, 0.3},
	})

	if len(segments) == 0 {
		t.Fatal("expected a segment from the relative volume drop")
	}
	if segments[0].Reason != ReasonNaturalPause {
		t.Errorf("reason = %q, want %q", segments[0].Reason, ReasonNaturalPause)
	}
	if segments[0].EndTime < 4 || segments[0].EndTime > 6.01 {
		t.Errorf("end = %v, want within the quiet span", segments[0].EndTime)
	}
}

func TestForcedMaxLengthBoundary(t *testing.T) {
	s, buf := newTestSegmenter(t, Config{
		MinSegmentDuration:    2,
		TargetSegmentDuration: 6,
		MaxSegmentDuration:    8,
		VolumeDropThreshold:   0.7,
		SilenceThreshold:      0.02,
		MinPauseDuration:      0.5,
		AnalysisWindow:        0.5,
		LookbackWindow:        4,
	})

	// Continuous speech, nothing to pause on
	segments := feedAndPoll(t, s, buf, [][2]float64{{10, 0.3}})

	if len(segments) == 0 {
		t.Fatal("expected a forced segment")
	}
	first := segments[0]
	if first.Reason != ReasonMaxLength {
		t.Errorf("reason = %q, want %q", first.Reason, ReasonMaxLength)
	}
	if first.Duration < 8 || first.Duration > 8.51 {
		t.Errorf("duration = %v, want ~8 (max)", first.Duration)
	}
}

func TestNoBoundaryBeforeMinimumDuration(t *testing.T) {
	s, buf := newTestSegmenter(t, Config{
		MinSegmentDuration:    3,
		TargetSegmentDuration: 4,
		MaxSegmentDuration:    20,
		VolumeDropThreshold:   0.7,
		SilenceThreshold:      0.02,
		MinPauseDuration:      0.5,
		AnalysisWindow:        0.5,
		LookbackWindow:        4,
	})

	// Mostly silence from the start; a boundary before min duration would
	// produce a tiny useless segment
	segments := feedAndPoll(t, s, buf, [][2]float64{
		{1, 0.3},
		{1.5, 0.0},
	})

	if len(segments) != 0 {
		t.Errorf("segments before min duration: %+v", segments)
	}
}

func TestSegmentsAreContiguous(t *testing.T) {
	s, buf := newTestSegmenter(t, Config{
		MinSegmentDuration:    2,
		TargetSegmentDuration: 3,
		MaxSegmentDuration:    6,
		VolumeDropThreshold:   0.7,
		SilenceThreshold:      0.02,
		MinPauseDuration:      0.5,
		AnalysisWindow:        0.5,
		LookbackWindow:        4,
	})

	segments := feedAndPoll(t, s, buf, [][2]float64{
		{4, 0.3}, {1, 0.0}, {5, 0.3}, {1, 0.0}, {5, 0.3},
	})

	if len(segments) < 2 {
		t.Fatalf("expected multiple segments, got %d", len(segments))
	}
	if segments[0].StartTime != 0 {
		t.Errorf("first segment starts at %v, want 0", segments[0].StartTime)
	}
	for i := 1; i < len(segments); i++ {
		if segments[i].StartTime != segments[i-1].EndTime {
			t.Errorf("gap between segment %d (end %v) and %d (start %v)",
				i-1, segments[i-1].EndTime, i, segments[i].StartTime)
		}
	}
}

func TestFlushRemainingEmitsTail(t *testing.T) {
	s, buf := newTestSegmenter(t, Config{
		MinSegmentDuration:    10,
		TargetSegmentDuration: 20,
		MaxSegmentDuration:    30,
		VolumeDropThreshold:   0.7,
		SilenceThreshold:      0.02,
		MinPauseDuration:      0.5,
		AnalysisWindow:        0.5,
		LookbackWindow:        4,
	})

	feedAndPoll(t, s, buf, [][2]float64{{6, 0.3}})

	seg, ok := s.FlushRemaining()
	if !ok {
		t.Fatal("expected flush to emit the tail segment")
	}
	if seg.Reason != ReasonFinalFlush {
		t.Errorf("reason = %q, want %q", seg.Reason, ReasonFinalFlush)
	}
	if seg.StartTime != 0 || math.Abs(seg.EndTime-6) > 0.01 {
		t.Errorf("flush segment = [%v, %v], want [0, 6]", seg.StartTime, seg.EndTime)
	}
}

func TestFlushRemainingDiscardsShortTail(t *testing.T) {
	s, buf := newTestSegmenter(t, Config{
		MinSegmentDuration:    10,
		TargetSegmentDuration: 20,
		MaxSegmentDuration:    30,
		VolumeDropThreshold:   0.7,
		SilenceThreshold:      0.02,
		MinPauseDuration:      0.5,
		AnalysisWindow:        0.5,
		LookbackWindow:        4,
	})

	feedAndPoll(t, s, buf, [][2]float64{{3, 0.3}})

	if _, ok := s.FlushRemaining(); ok {
		t.Error("tails under 5s should be discarded")
	}
}

func TestSegmentIDFormat(t *testing.T) {
	seg := SegmentInfo{StartTime: 0, EndTime: 45.5}
	if got := seg.ID(); got != "seg_0.0_45.5" {
		t.Errorf("ID = %q, want seg_0.0_45.5", got)
	}
}

func TestConfigValidation(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config must validate: %v", err)
	}

	bad := DefaultConfig()
	bad.MinSegmentDuration = 60
	bad.TargetSegmentDuration = 45
	if err := bad.Validate(); err == nil {
		t.Error("expected error for min > target")
	}
}
