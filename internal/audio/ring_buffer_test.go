package audio

import (
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/benjamayden/rejoice-slim/pkg/logger"
)

func newTestBuffer(t *testing.T, capacitySecs int) *RingBuffer {
	t.Helper()
	return NewRingBuffer(capacitySecs, 16000, 1, logger.NewNop())
}

func rampSamples(n int, start float32) []float32 {
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = start + float32(i)/1e6
	}
	return samples
}

func TestWriteIgnoredWhenNotRecording(t *testing.T) {
	buf := newTestBuffer(t, 10)

	buf.Write(make([]float32, 16000))
	if got := buf.RecordingDuration(); got != 0 {
		t.Errorf("duration = %v, want 0 before recording starts", got)
	}

	buf.StartRecording()
	buf.Write(make([]float32, 16000))
	if got := buf.RecordingDuration(); math.Abs(got-1) > 1e-9 {
		t.Errorf("duration = %v, want 1", got)
	}
}

func TestReadSegmentRoundTrip(t *testing.T) {
	buf := newTestBuffer(t, 10)
	buf.StartRecording()

	written := rampSamples(3*16000, 0.1)
	buf.Write(written)

	got, err := buf.ReadSegment(1, 1)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 16000 {
		t.Fatalf("samples = %d, want 16000", len(got))
	}
	if got[0] != written[16000] {
		t.Errorf("first sample = %v, want %v", got[0], written[16000])
	}
	if got[len(got)-1] != written[2*16000-1] {
		t.Errorf("last sample = %v, want %v", got[len(got)-1], written[2*16000-1])
	}
}

func TestReadSegmentAcrossWrap(t *testing.T) {
	// 2s capacity; write 3s so the buffer wraps
	buf := newTestBuffer(t, 2)
	buf.StartRecording()

	written := rampSamples(3*16000, 0.2)
	buf.Write(written)

	// Last 1.5s is inside the retained window even though it wraps the array
	got, err := buf.ReadSegment(1.5, 1.5)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want := written[int(1.5*16000):]
	if len(got) != len(want) {
		t.Fatalf("samples = %d, want %d", len(got), len(want))
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("sample %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestReadSegmentExpired(t *testing.T) {
	buf := newTestBuffer(t, 2)
	buf.StartRecording()
	buf.Write(make([]float32, 5*16000))

	// The first second fell out of the 2s window long ago
	_, err := buf.ReadSegment(0, 1)
	if !errors.Is(err, ErrNotAvailable) {
		t.Errorf("err = %v, want ErrNotAvailable", err)
	}
}

func TestReadSegmentNotYetWritten(t *testing.T) {
	buf := newTestBuffer(t, 10)
	buf.StartRecording()
	buf.Write(make([]float32, 16000))

	_, err := buf.ReadSegment(0.5, 1)
	if !errors.Is(err, ErrNotAvailable) {
		t.Errorf("err = %v, want ErrNotAvailable", err)
	}
}

func TestReadSegmentRejectsNegativeArgs(t *testing.T) {
	buf := newTestBuffer(t, 10)
	buf.StartRecording()
	buf.Write(make([]float32, 16000))

	if _, err := buf.ReadSegment(-1, 1); err == nil {
		t.Error("expected error for negative offset")
	}
	if _, err := buf.ReadSegment(0, -1); err == nil {
		t.Error("expected error for negative duration")
	}
}

func TestLatestSegment(t *testing.T) {
	buf := newTestBuffer(t, 10)
	buf.StartRecording()

	written := rampSamples(4*16000, 0.3)
	buf.Write(written)

	got, err := buf.LatestSegment(2)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if len(got) != 2*16000 {
		t.Fatalf("samples = %d, want %d", len(got), 2*16000)
	}
	if got[0] != written[2*16000] {
		t.Errorf("first sample = %v, want %v", got[0], written[2*16000])
	}
}

func TestClearResetsState(t *testing.T) {
	buf := newTestBuffer(t, 10)
	buf.StartRecording()
	buf.Write(make([]float32, 16000))
	buf.StopRecording()

	buf.Clear()
	if got := buf.RecordingDuration(); got != 0 {
		t.Errorf("duration after clear = %v, want 0", got)
	}
	if got := buf.AvailableDuration(); got != 0 {
		t.Errorf("available after clear = %v, want 0", got)
	}
}

func TestConcurrentWriteAndRead(t *testing.T) {
	buf := newTestBuffer(t, 30)
	buf.StartRecording()

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			buf.Write(make([]float32, 1600))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			d := buf.RecordingDuration()
			if d >= 1 {
				if _, err := buf.ReadSegment(0, 1); err != nil && !errors.Is(err, ErrNotAvailable) {
					t.Errorf("unexpected read error: %v", err)
					return
				}
			}
		}
	}()

	wg.Wait()
	if got := buf.RecordingDuration(); math.Abs(got-10) > 1e-9 {
		t.Errorf("duration = %v, want 10", got)
	}
}

func TestStatsReporting(t *testing.T) {
	buf := newTestBuffer(t, 10)
	buf.StartRecording()
	buf.Write(make([]float32, 2*16000))

	stats := buf.Stats()
	if !stats.IsRecording {
		t.Error("stats should report recording")
	}
	if stats.TotalSamples != 2*16000 {
		t.Errorf("total samples = %d", stats.TotalSamples)
	}
	if math.Abs(stats.RecordingDuration-2) > 1e-9 {
		t.Errorf("recording duration = %v, want 2", stats.RecordingDuration)
	}
}
