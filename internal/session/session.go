// Package session drives a recording session end to end: it polls the
// segmenter, extracts detected segments, feeds them to the transcript
// assembler, and finalizes the transcript when the session stops.
package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/benjamayden/rejoice-slim/internal/audio"
	"github.com/benjamayden/rejoice-slim/internal/capture"
	"github.com/benjamayden/rejoice-slim/internal/metrics"
	"github.com/benjamayden/rejoice-slim/internal/segmenter"
	"github.com/benjamayden/rejoice-slim/internal/transcription"
	"github.com/benjamayden/rejoice-slim/pkg/logger"
)

// Import logger functions
var (
	String  = logger.String
	Int     = logger.Int
	Int64   = logger.Int64
	Float64 = logger.Float64
	Bool    = logger.Bool
	Error   = logger.Error
)

// Stop reasons reported in session results and logs
const (
	StopReasonUser     = "user"
	StopReasonAutoStop = "auto_stop"
	StopReasonSilence  = "silence_timeout"
	StopReasonStalled  = "input_stalled"
)

// Config controls session behavior
type Config struct {
	PollInterval       time.Duration
	StallTimeout       time.Duration
	MinStreamingSecs   float64
	SilenceTimeoutSecs float64 // zero disables the silence auto-stop
	DedupePhrases      bool
	MasterRecordingDir string
	KeepRecording      bool // keep the session WAV after a successful transcript
}

// EventSink receives live session events, e.g. a WebSocket hub pushing them
// to UI clients
type EventSink interface {
	Broadcast(messageType string, data map[string]any)
}

// Event types published to the sink
const (
	EventSessionStarted   = "session_started"
	EventSessionStopped   = "session_stopped"
	EventSegmentDetected  = "segment_detected"
	EventSegmentCompleted = "segment_completed"
	EventTranscriptUpdate = "transcript_update"
)

// Bookkeeper records session and attempt lifecycle events. Implementations
// must be fast; calls happen on the session's poll goroutine.
type Bookkeeper interface {
	StartSession(sessionID, audioPath string) error
	RegisterAttempt(sessionID, segmentID string) (int64, error)
	CompleteAttempt(attemptID int64, chars int, attemptErr error) error
	CompleteSession(sessionID string, durationSecs float64, segmentCount int, failed bool) error
}

// TranscriptUpdater lets the full-recording pass replace transcript content
// that was stored during streaming
type TranscriptUpdater interface {
	UpdateTranscript(id int64, text string) error
}

// Session coordinates one recording at a time. Start and Stop are safe to
// call from any goroutine; Stop is idempotent per session.
type Session struct {
	cfg         Config
	buf         *audio.RingBuffer
	source      capture.Source
	seg         *segmenter.VolumeSegmenter
	extractor   *segmenter.Extractor
	assembler   *transcription.Assembler
	transcriber transcription.Transcriber
	store       transcription.TranscriptStore // may be nil
	clipboard   transcription.Clipboard       // may be nil
	books       Bookkeeper                    // may be nil
	metrics     *metrics.Metrics              // may be nil
	events      EventSink                     // may be nil
	logger      *logger.Logger

	mu           sync.Mutex
	active       bool
	sessionID    string
	startedAt    time.Time
	masterPath   string
	masterWriter *audio.WAVWriter
	masterOffset float64
	attempts     map[string]int64
	segmentCount int
	sampleTotal  int64
	stopCh       chan struct{}
	stopOnce     *sync.Once
	lastResult   *transcription.Result
	lastReason   string
}

// New creates a session driver. store, clipboard, books, and m may be nil to
// disable persistence, clipboard copy, bookkeeping, or metrics respectively.
func New(
	cfg Config,
	buf *audio.RingBuffer,
	source capture.Source,
	seg *segmenter.VolumeSegmenter,
	assembler *transcription.Assembler,
	transcriber transcription.Transcriber,
	store transcription.TranscriptStore,
	clipboard transcription.Clipboard,
	books Bookkeeper,
	m *metrics.Metrics,
	log *logger.Logger,
) *Session {
	if cfg.PollInterval <= 0 || cfg.PollInterval > 500*time.Millisecond {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.StallTimeout <= 0 {
		cfg.StallTimeout = 5 * time.Second
	}

	return &Session{
		cfg:         cfg,
		buf:         buf,
		source:      source,
		seg:         seg,
		extractor:   segmenter.NewExtractor(buf, log),
		assembler:   assembler,
		transcriber: transcriber,
		store:       store,
		clipboard:   clipboard,
		books:       books,
		metrics:     m,
		logger:      log.Named("session"),
	}
}

// SetEventSink registers a live event observer. Call before Start.
func (s *Session) SetEventSink(sink EventSink) {
	s.mu.Lock()
	s.events = sink
	s.mu.Unlock()
}

func (s *Session) publish(eventType string, data map[string]any) {
	s.mu.Lock()
	sink := s.events
	s.mu.Unlock()
	if sink != nil {
		sink.Broadcast(eventType, data)
	}
}

// Start begins a new recording session
func (s *Session) Start() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active {
		return "", fmt.Errorf("session %s already active", s.sessionID)
	}

	sessionID := "rec_" + time.Now().Format("20060102_150405")

	s.buf.Clear()
	s.buf.StartRecording()

	masterPath := ""
	var masterWriter *audio.WAVWriter
	if s.cfg.MasterRecordingDir != "" {
		masterPath = filepath.Join(s.cfg.MasterRecordingDir, sessionID+".wav")
		var err error
		masterWriter, err = audio.NewWAVWriter(masterPath, s.buf.SampleRate(), s.buf.Channels())
		if err != nil {
			s.logger.Error("Failed to open master recording, continuing without it", Error(err))
			masterPath = ""
			masterWriter = nil
		}
	}

	if s.books != nil {
		if err := s.books.StartSession(sessionID, masterPath); err != nil {
			s.logger.Error("Failed to record session start", Error(err))
		}
	}

	s.assembler.StartSession(sessionID)
	if s.cfg.DedupePhrases {
		s.assembler.SetTextFilter(DedupeRepeatedPhrases)
	}
	s.assembler.SetSegmentCallback(s.onSegmentDone)

	if err := s.source.Start(); err != nil {
		s.buf.StopRecording()
		if masterWriter != nil {
			masterWriter.Close()
		}
		return "", fmt.Errorf("failed to start audio source: %w", err)
	}

	s.seg.StartAnalysis()

	s.active = true
	s.sessionID = sessionID
	s.startedAt = time.Now()
	s.masterPath = masterPath
	s.masterWriter = masterWriter
	s.masterOffset = 0
	s.attempts = make(map[string]int64)
	s.segmentCount = 0
	s.sampleTotal = 0
	s.stopCh = make(chan struct{})
	s.stopOnce = &sync.Once{}
	s.lastResult = nil
	s.lastReason = ""

	if s.metrics != nil {
		s.metrics.SessionsStarted.Inc()
	}

	go s.runLoop(s.stopCh)
	go s.publish(EventSessionStarted, map[string]any{"session_id": sessionID})

	s.logger.Info("Recording session started",
		String("session_id", sessionID),
		String("master_path", masterPath))
	return sessionID, nil
}

// runLoop polls segmentation and watchdogs until the session stops
func (s *Session) runLoop(stopCh chan struct{}) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Session) tick() {
	duration := s.buf.RecordingDuration()

	if s.metrics != nil {
		stats := s.buf.Stats()
		s.metrics.BufferSeconds.Set(stats.AvailableDuration)
		s.mu.Lock()
		if delta := stats.TotalSamples - s.sampleTotal; delta > 0 {
			s.metrics.SamplesWritten.Add(float64(delta))
			s.sampleTotal = stats.TotalSamples
		}
		s.mu.Unlock()
	}

	s.appendMasterRecording(duration)

	// Input stall watchdog
	if duration > 0 && s.source.IsRunning() && s.buf.TimeSinceLastWrite() > s.cfg.StallTimeout {
		s.logger.Error("Audio input stalled, stopping session",
			logger.Duration("since_last_write", s.buf.TimeSinceLastWrite()))
		if s.metrics != nil {
			s.metrics.InputStalls.Inc()
		}
		go s.Stop(StopReasonStalled)
		return
	}

	// Silence timeout, independent of the assembler's empty-text check
	if s.cfg.SilenceTimeoutSecs > 0 {
		if silence := s.seg.CurrentSilence(); silence > s.cfg.SilenceTimeoutSecs {
			s.logger.Info("Auto-stopping after sustained silence",
				Float64("silence_secs", silence))
			go s.Stop(StopReasonSilence)
			return
		}
	}

	for _, seg := range s.seg.AnalyzeAndSegment() {
		s.handleSegment(seg)
	}

	if stop, reason := s.assembler.ShouldAutoStop(); stop {
		s.logger.Info("Silence auto-stop", String("reason", reason))
		go s.Stop(StopReasonAutoStop)
	}
}

// appendMasterRecording drains audio recorded since the last tick into the
// session WAV file
func (s *Session) appendMasterRecording(duration float64) {
	s.mu.Lock()
	writer := s.masterWriter
	offset := s.masterOffset
	s.mu.Unlock()

	if writer == nil || duration <= offset {
		return
	}

	samples, err := s.buf.ReadSegment(offset, duration-offset)
	if err != nil {
		// The span expired from the buffer; skip forward rather than stall
		s.logger.Warn("Master recording fell behind the buffer", Error(err))
		s.mu.Lock()
		s.masterOffset = duration
		s.mu.Unlock()
		return
	}

	if err := writer.WriteSamples(samples); err != nil {
		s.logger.Error("Failed to write master recording", Error(err))
		return
	}

	s.mu.Lock()
	s.masterOffset = duration
	s.mu.Unlock()
}

// handleSegment extracts a detected segment and hands it to the assembler
func (s *Session) handleSegment(seg segmenter.SegmentInfo) {
	if s.metrics != nil {
		s.metrics.SegmentsDetected.WithLabelValues(string(seg.Reason)).Inc()
		s.metrics.SegmentDuration.Observe(seg.Duration)
	}

	samples, err := s.extractor.ExtractAudio(context.Background(), seg)
	if err != nil {
		s.logger.Error("Segment extraction failed, audio lost",
			String("segment_id", seg.ID()),
			Error(err))
		return
	}

	s.mu.Lock()
	sessionID := s.sessionID
	s.segmentCount++
	s.mu.Unlock()

	var attemptID int64
	if s.books != nil {
		attemptID, err = s.books.RegisterAttempt(sessionID, seg.ID())
		if err != nil {
			s.logger.Error("Failed to register attempt", Error(err))
			attemptID = 0
		}
	}

	if _, err := s.assembler.Submit(seg, samples); err != nil {
		s.logger.Error("Failed to submit segment", String("segment_id", seg.ID()), Error(err))
		return
	}

	if attemptID != 0 {
		s.mu.Lock()
		s.attempts[seg.ID()] = attemptID
		s.mu.Unlock()
	}

	if s.metrics != nil {
		s.metrics.TranscriptionRequests.Inc()
	}

	s.publish(EventSegmentDetected, map[string]any{
		"segment_id":    seg.ID(),
		"start_time":    seg.StartTime,
		"end_time":      seg.EndTime,
		"duration_secs": seg.Duration,
		"reason":        string(seg.Reason),
	})
}

// onSegmentDone records attempt completion when the assembler finishes a
// segment
func (s *Session) onSegmentDone(seg transcription.TranscriptionSegment) {
	s.publishSegmentEvents(seg)

	if s.metrics != nil {
		if seg.Status == transcription.StatusCompleted {
			s.metrics.TranscriptionSuccesses.Inc()
		} else {
			s.metrics.TranscriptionFailures.Inc()
		}
		s.metrics.TranscriptionDuration.Observe(seg.ProcessingTime.Seconds())
	}

	s.mu.Lock()
	attemptID, ok := s.attempts[seg.Info.ID()]
	s.mu.Unlock()

	if !ok || s.books == nil {
		return
	}

	var attemptErr error
	if seg.Err != "" {
		attemptErr = fmt.Errorf("%s", seg.Err)
	}
	if err := s.books.CompleteAttempt(attemptID, len(seg.Text), attemptErr); err != nil {
		s.logger.Error("Failed to record attempt completion", Error(err))
	}
}

// publishSegmentEvents pushes per-segment completion and the updated live
// transcript to connected clients
func (s *Session) publishSegmentEvents(seg transcription.TranscriptionSegment) {
	s.publish(EventSegmentCompleted, map[string]any{
		"segment_id": seg.Info.ID(),
		"status":     string(seg.Status),
		"text":       seg.Text,
	})
	if seg.Status == transcription.StatusCompleted {
		s.publish(EventTranscriptUpdate, map[string]any{
			"text": s.assembler.CurrentTranscript(),
		})
	}
}

// Stop ends the active session and produces the final transcript. Repeated
// calls after the first are no-ops returning the recorded result.
func (s *Session) Stop(reason string) (*transcription.Result, error) {
	s.mu.Lock()
	if !s.active && s.stopOnce == nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("no active session")
	}
	once := s.stopOnce
	s.mu.Unlock()

	var result *transcription.Result
	var stopErr error
	once.Do(func() {
		result, stopErr = s.stop(reason)
		s.mu.Lock()
		s.lastResult = result
		s.lastReason = reason
		s.mu.Unlock()
	})

	s.mu.Lock()
	result = s.lastResult
	s.mu.Unlock()
	return result, stopErr
}

func (s *Session) stop(reason string) (*transcription.Result, error) {
	s.mu.Lock()
	sessionID := s.sessionID
	stopCh := s.stopCh
	startedAt := s.startedAt
	s.mu.Unlock()

	s.logger.Info("Stopping session",
		String("session_id", sessionID),
		String("reason", reason))

	close(stopCh)

	if err := s.source.Stop(); err != nil {
		s.logger.Error("Failed to stop audio source", Error(err))
	}

	duration := s.buf.RecordingDuration()

	// Tail flush: anything after the last boundary that is long enough to
	// bother transcribing. Short recordings skip it since the whole recording
	// goes out as a single request anyway.
	if duration >= s.cfg.MinStreamingSecs {
		if flush, ok := s.seg.FlushRemaining(); ok {
			s.handleSegment(flush)
		}
	}
	s.seg.StopAnalysis()

	s.buf.StopRecording()
	s.appendMasterRecording(duration)

	s.mu.Lock()
	if s.masterWriter != nil {
		if err := s.masterWriter.Close(); err != nil {
			s.logger.Error("Failed to close master recording", Error(err))
		}
		s.masterWriter = nil
	}
	masterPath := s.masterPath
	segmentCount := s.segmentCount
	s.active = false
	s.mu.Unlock()

	var result *transcription.Result
	var err error
	if duration >= s.cfg.MinStreamingSecs {
		result, err = s.assembler.FinalizeTranscript()
		if err != nil {
			s.logger.Error("Finalize failed", Error(err))
		} else if !result.HasContent {
			// Streaming produced nothing usable; the full recording gets one
			// more chance as a single request
			s.logger.Warn("Streaming transcript empty, falling back to whole recording")
			if whole, wErr := s.transcribeWhole(sessionID, duration, masterPath); wErr == nil {
				result = whole
			} else {
				s.logger.Error("Whole recording fallback failed", Error(wErr))
			}
		} else {
			s.fullPass(sessionID, duration, masterPath, result)
		}
	} else {
		s.logger.Info("Recording below streaming threshold, transcribing whole",
			Float64("duration_secs", duration),
			Float64("threshold_secs", s.cfg.MinStreamingSecs))
		result, err = s.transcribeWhole(sessionID, duration, masterPath)
	}

	failed := err != nil || result == nil

	// The master recording exists for the fallback and recovery paths; once
	// the transcript is safely persisted it has served its purpose
	if !failed && !s.cfg.KeepRecording && masterPath != "" && result.FilePath != "" {
		if rmErr := os.Remove(masterPath); rmErr != nil {
			s.logger.Warn("Could not remove session recording",
				String("path", masterPath), Error(rmErr))
		} else {
			s.logger.Debug("Removed session recording", String("path", masterPath))
		}
	}

	if s.books != nil {
		if bErr := s.books.CompleteSession(sessionID, duration, segmentCount, failed); bErr != nil {
			s.logger.Error("Failed to record session completion", Error(bErr))
		}
	}

	if s.metrics != nil {
		outcome := reason
		if failed {
			outcome = "failed"
		}
		s.metrics.SessionsCompleted.WithLabelValues(outcome).Inc()
		s.metrics.SessionDuration.Observe(time.Since(startedAt).Seconds())
	}

	stopData := map[string]any{
		"session_id": sessionID,
		"reason":     reason,
	}
	if result != nil {
		stopData["has_content"] = result.HasContent
		stopData["text"] = result.Text
		stopData["file_path"] = result.FilePath
	}
	s.publish(EventSessionStopped, stopData)

	if failed && err == nil {
		err = fmt.Errorf("session produced no transcript")
	}
	return result, err
}

// transcribeWhole sends the entire recording as a single transcription
// request. The ring buffer is preferred; the master WAV file covers the case
// where the recording outlived the buffer capacity.
func (s *Session) transcribeWhole(sessionID string, duration float64, masterPath string) (*transcription.Result, error) {
	if duration <= 0 {
		return nil, fmt.Errorf("nothing recorded")
	}

	samples, err := s.recordingSamples(duration, masterPath)
	if err != nil {
		return nil, err
	}

	return s.TranscribeSamples(sessionID, samples, duration)
}

// recordingSamples returns the whole recording, preferring the ring buffer
// and falling back to the master WAV when the buffer has wrapped
func (s *Session) recordingSamples(duration float64, masterPath string) ([]float32, error) {
	samples, err := s.buf.LatestSegment(duration)
	if err != nil && masterPath != "" {
		s.logger.Warn("Buffer no longer holds the full recording, reading WAV",
			String("path", masterPath))
		samples, _, err = audio.ReadWAVFile(masterPath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to recover recording audio: %w", err)
	}
	return samples, nil
}

// fullPass re-transcribes the entire recording in one request and replaces
// the streaming transcript with the result. The streaming transcript is a
// fast preview; this pass gets the final say.
func (s *Session) fullPass(sessionID string, duration float64, masterPath string, quick *transcription.Result) {
	samples, err := s.recordingSamples(duration, masterPath)
	if err != nil {
		s.logger.Warn("Skipping full transcription pass", Error(err))
		return
	}

	text, err := s.transcribeOnce(sessionID, samples)
	if err != nil {
		s.logger.Warn("Full transcription failed, keeping streaming transcript", Error(err))
		return
	}
	if text == "" {
		s.logger.Warn("Full transcription returned no text, keeping streaming transcript")
		return
	}

	quick.Text = text
	if updater, ok := s.store.(TranscriptUpdater); ok && quick.TranscriptID != 0 {
		if uErr := updater.UpdateTranscript(quick.TranscriptID, text); uErr != nil {
			s.logger.Error("Failed to update stored transcript", Error(uErr))
		}
	}
}

// TranscribeFile transcribes a previously recorded WAV file as one request.
// Used to recover sessions that were interrupted before finalize.
func (s *Session) TranscribeFile(sessionID, path string) (*transcription.Result, error) {
	samples, sampleRate, err := audio.ReadWAVFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read recording: %w", err)
	}
	duration := float64(len(samples)) / float64(sampleRate)
	return s.TranscribeSamples(sessionID, samples, duration)
}

// transcribeOnce runs a single whole-recording transcription request with
// metrics and attempt bookkeeping
func (s *Session) transcribeOnce(sessionID string, samples []float32) (string, error) {
	var attemptID int64
	if s.books != nil {
		id, bErr := s.books.RegisterAttempt(sessionID, "full")
		if bErr != nil {
			s.logger.Error("Failed to record transcription attempt", Error(bErr))
		} else {
			attemptID = id
		}
	}

	if s.metrics != nil {
		s.metrics.TranscriptionRequests.Inc()
	}
	start := time.Now()
	text, err := s.transcriber.Transcribe(context.Background(), samples)
	if s.metrics != nil {
		s.metrics.TranscriptionDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			s.metrics.TranscriptionFailures.Inc()
		} else {
			s.metrics.TranscriptionSuccesses.Inc()
		}
	}

	if s.books != nil && attemptID != 0 {
		if bErr := s.books.CompleteAttempt(attemptID, len(text), err); bErr != nil {
			s.logger.Error("Failed to record attempt completion", Error(bErr))
		}
	}
	if err != nil {
		return "", err
	}

	if s.cfg.DedupePhrases {
		text = DedupeRepeatedPhrases(text)
	}
	return text, nil
}

// TranscribeSamples runs the whole-recording transcription path: one request,
// optional dedupe, then persistence and clipboard like the streaming path
func (s *Session) TranscribeSamples(sessionID string, samples []float32, duration float64) (*transcription.Result, error) {
	text, err := s.transcribeOnce(sessionID, samples)
	if err != nil {
		return nil, fmt.Errorf("whole recording transcription failed: %w", err)
	}

	result := &transcription.Result{
		SessionID:     sessionID,
		Text:          text,
		SegmentCount:  1,
		TotalDuration: duration,
		HasContent:    text != "",
	}

	if !result.HasContent {
		return result, nil
	}

	if s.store != nil {
		path, id, sErr := s.store.SaveTranscript(sessionID, text, transcription.TranscriptMetadata{
			Kind:          "whole_file",
			SegmentCount:  1,
			TotalDuration: duration,
		})
		if sErr != nil {
			s.logger.Error("Failed to persist transcript", Error(sErr))
		} else {
			result.FilePath = path
			result.TranscriptID = id
		}
	}

	if s.clipboard != nil {
		result.ClipboardCopied = s.clipboard.Copy(text)
	}

	return result, nil
}

// IsActive reports whether a session is currently recording
func (s *Session) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Status reports the live session state for the status API
func (s *Session) Status() map[string]any {
	s.mu.Lock()
	active := s.active
	sessionID := s.sessionID
	lastReason := s.lastReason
	s.mu.Unlock()

	status := map[string]any{
		"recording":     active,
		"session_id":    sessionID,
		"duration_secs": s.buf.RecordingDuration(),
		"buffer":        s.buf.Stats(),
		"segmenter":     s.seg.Stats(),
		"assembler":     s.assembler.Progress(),
	}
	if lastReason != "" {
		status["last_stop_reason"] = lastReason
	}
	return status
}

// LastResult returns the result of the most recently finished session
func (s *Session) LastResult() *transcription.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastResult
}
