package session

import (
	"context"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/benjamayden/rejoice-slim/internal/audio"
	"github.com/benjamayden/rejoice-slim/internal/segmenter"
	"github.com/benjamayden/rejoice-slim/internal/transcription"
	"github.com/benjamayden/rejoice-slim/pkg/logger"
)

type fakeSource struct {
	mu      sync.Mutex
	running bool
}

func (f *fakeSource) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = true
	return nil
}

func (f *fakeSource) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
	return nil
}

func (f *fakeSource) IsRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

type fixedTranscriber struct {
	mu    sync.Mutex
	text  string
	calls int
}

func (f *fixedTranscriber) Transcribe(ctx context.Context, samples []float32) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.text, nil
}

func (f *fixedTranscriber) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingStore struct {
	mu    sync.Mutex
	kinds []string
	texts []string
}

func (r *recordingStore) SaveTranscript(sessionID, text string, meta transcription.TranscriptMetadata) (string, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = append(r.kinds, meta.Kind)
	r.texts = append(r.texts, text)
	return "/tmp/out.md", int64(len(r.texts)), nil
}

func toneSamples(durationSecs float64, sampleRate int, amplitude float64) []float32 {
	n := int(durationSecs * float64(sampleRate))
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(amplitude * math.Sin(2*math.Pi*440*float64(i)/float64(sampleRate)))
	}
	return samples
}

func newTestSession(t *testing.T, cfg Config, tr transcription.Transcriber, store transcription.TranscriptStore) (*Session, *audio.RingBuffer) {
	t.Helper()

	log := logger.NewNop()
	buf := audio.NewRingBuffer(120, 16000, 1, log)

	segCfg := segmenter.DefaultConfig()
	seg, err := segmenter.NewVolumeSegmenter(buf, segCfg, log)
	if err != nil {
		t.Fatalf("new segmenter: %v", err)
	}

	asm := transcription.NewAssembler(context.Background(), tr, store, nil, false, transcription.Config{}, log)

	return New(cfg, buf, &fakeSource{}, seg, asm, tr, store, nil, nil, nil, log), buf
}

func TestShortRecordingTranscribesWhole(t *testing.T) {
	tr := &fixedTranscriber{text: "short recording text"}
	store := &recordingStore{}
	sess, buf := newTestSession(t, Config{
		PollInterval:     20 * time.Millisecond,
		StallTimeout:     time.Hour, // fake source writes nothing; disable the watchdog
		MinStreamingSecs: 90,
	}, tr, store)

	if _, err := sess.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !sess.IsActive() {
		t.Fatal("session should be active after start")
	}

	buf.Write(toneSamples(10, 16000, 0.3))

	result, err := sess.Stop(StopReasonUser)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}

	if result.Text != "short recording text" {
		t.Errorf("text = %q", result.Text)
	}
	if !result.HasContent {
		t.Error("expected content")
	}
	if tr.callCount() != 1 {
		t.Errorf("transcriber calls = %d, want 1 (whole recording)", tr.callCount())
	}
	if len(store.kinds) != 1 || store.kinds[0] != "whole_file" {
		t.Errorf("persisted kinds = %v, want [whole_file]", store.kinds)
	}
	if sess.IsActive() {
		t.Error("session should be inactive after stop")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	tr := &fixedTranscriber{text: "once"}
	sess, buf := newTestSession(t, Config{
		PollInterval:     20 * time.Millisecond,
		StallTimeout:     time.Hour,
		MinStreamingSecs: 90,
	}, tr, nil)

	if _, err := sess.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	buf.Write(toneSamples(5, 16000, 0.3))

	first, err := sess.Stop(StopReasonUser)
	if err != nil {
		t.Fatalf("first stop: %v", err)
	}
	second, err := sess.Stop(StopReasonUser)
	if err != nil {
		t.Fatalf("second stop: %v", err)
	}

	if first != second {
		t.Error("repeated stop should return the same result")
	}
	if tr.callCount() != 1 {
		t.Errorf("transcriber calls = %d, want 1", tr.callCount())
	}
}

func TestStopWithoutStart(t *testing.T) {
	sess, _ := newTestSession(t, Config{MinStreamingSecs: 90}, &fixedTranscriber{}, nil)
	if _, err := sess.Stop(StopReasonUser); err == nil {
		t.Error("expected error when stopping with no session")
	}
}

func TestDoubleStartRejected(t *testing.T) {
	sess, buf := newTestSession(t, Config{
		PollInterval:     20 * time.Millisecond,
		StallTimeout:     time.Hour,
		MinStreamingSecs: 90,
	}, &fixedTranscriber{text: "x"}, nil)

	if _, err := sess.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := sess.Start(); err == nil {
		t.Error("expected second start to fail")
	}

	buf.Write(toneSamples(1, 16000, 0.3))
	if _, err := sess.Stop(StopReasonUser); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestMasterRecordingWritten(t *testing.T) {
	dir := t.TempDir()
	tr := &fixedTranscriber{text: "with master"}
	sess, buf := newTestSession(t, Config{
		PollInterval:       20 * time.Millisecond,
		StallTimeout:       time.Hour,
		MinStreamingSecs:   90,
		MasterRecordingDir: dir,
	}, tr, nil)

	id, err := sess.Start()
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	buf.Write(toneSamples(2, 16000, 0.3))
	// Let at least one poll tick drain into the WAV file
	time.Sleep(80 * time.Millisecond)

	if _, err := sess.Stop(StopReasonUser); err != nil {
		t.Fatalf("stop: %v", err)
	}

	samples, sampleRate, err := audio.ReadWAVFile(filepath.Join(dir, id+".wav"))
	if err != nil {
		t.Fatalf("read master wav: %v", err)
	}
	if sampleRate != 16000 {
		t.Errorf("sample rate = %d", sampleRate)
	}
	if len(samples) != 2*16000 {
		t.Errorf("master samples = %d, want %d", len(samples), 2*16000)
	}
}

func TestSilenceTimeoutStopsSession(t *testing.T) {
	tr := &fixedTranscriber{text: ""}
	sess, buf := newTestSession(t, Config{
		PollInterval:       20 * time.Millisecond,
		StallTimeout:       time.Hour,
		MinStreamingSecs:   90,
		SilenceTimeoutSecs: 0.5,
	}, tr, nil)

	if _, err := sess.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	buf.Write(make([]float32, 16000)) // one second of silence

	deadline := time.Now().Add(2 * time.Second)
	for sess.IsActive() && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}

	if sess.IsActive() {
		t.Fatal("session should have auto-stopped on silence")
	}
	if reason := sess.Status()["last_stop_reason"]; reason != StopReasonSilence {
		t.Errorf("stop reason = %v, want %q", reason, StopReasonSilence)
	}
}

func TestStalledInputStopsSession(t *testing.T) {
	tr := &fixedTranscriber{text: "before stall"}
	sess, buf := newTestSession(t, Config{
		PollInterval:     10 * time.Millisecond,
		StallTimeout:     50 * time.Millisecond,
		MinStreamingSecs: 90,
	}, tr, nil)

	if _, err := sess.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	// One write, then the source goes quiet while still claiming to run
	buf.Write(toneSamples(1, 16000, 0.3))

	deadline := time.Now().Add(2 * time.Second)
	for sess.IsActive() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	if sess.IsActive() {
		t.Fatal("session should have stopped on stalled input")
	}
	if reason := sess.Status()["last_stop_reason"]; reason != StopReasonStalled {
		t.Errorf("stop reason = %v, want %q", reason, StopReasonStalled)
	}
}

func TestTranscribeFileRecoversSession(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "orphan.wav")
	if err := audio.WriteWAVFile(path, toneSamples(3, 16000, 0.3), 16000); err != nil {
		t.Fatalf("write wav: %v", err)
	}

	tr := &fixedTranscriber{text: "recovered text"}
	store := &recordingStore{}
	sess, _ := newTestSession(t, Config{MinStreamingSecs: 90}, tr, store)

	result, err := sess.TranscribeFile("orphan", path)
	if err != nil {
		t.Fatalf("transcribe file: %v", err)
	}
	if result.Text != "recovered text" {
		t.Errorf("text = %q", result.Text)
	}
	if math.Abs(result.TotalDuration-3) > 0.01 {
		t.Errorf("duration = %v, want ~3", result.TotalDuration)
	}
	if len(store.kinds) != 1 || store.kinds[0] != "whole_file" {
		t.Errorf("persisted kinds = %v", store.kinds)
	}
}
