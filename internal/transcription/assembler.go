package transcription

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/benjamayden/rejoice-slim/internal/segmenter"
	"github.com/benjamayden/rejoice-slim/pkg/logger"
)

// SegmentStatus tracks a transcription work item through its lifecycle
type SegmentStatus string

const (
	StatusPending    SegmentStatus = "pending"
	StatusProcessing SegmentStatus = "processing"
	StatusCompleted  SegmentStatus = "completed"
	StatusFailed     SegmentStatus = "failed"
)

// TranscriptionSegment is a mutable work item owned by the assembler; it
// transitions only under the assembler's lock.
type TranscriptionSegment struct {
	Info           segmenter.SegmentInfo `json:"segment_info"`
	Text           string                `json:"text"`
	EnqueuedAt     time.Time             `json:"enqueued_at"`
	ProcessingTime time.Duration         `json:"processing_time"`
	Status         SegmentStatus         `json:"status"`
	Err            string                `json:"error,omitempty"`
}

// ProcessingSummary aggregates per-session counters
type ProcessingSummary struct {
	SegmentsReceived    int           `json:"segments_received"`
	SegmentsCompleted   int           `json:"segments_completed"`
	SegmentsFailed      int           `json:"segments_failed"`
	TotalProcessingTime time.Duration `json:"total_processing_time"`
	SessionDuration     time.Duration `json:"session_duration"`
}

// Result is the outcome of finalizing a session. HasContent=false explicitly
// signals that the caller should fall back to whole-file transcription
// instead of surfacing an empty transcript as success.
type Result struct {
	SessionID       string            `json:"session_id"`
	Text            string            `json:"text"`
	SegmentCount    int               `json:"segment_count"`
	TotalDuration   float64           `json:"total_duration_secs"`
	Summary         ProcessingSummary `json:"summary"`
	FilePath        string            `json:"file_path,omitempty"`
	TranscriptID    int64             `json:"transcript_id,omitempty"`
	ClipboardCopied bool              `json:"clipboard_copied"`
	HasContent      bool              `json:"has_content"`
}

// TranscriptMetadata accompanies a persisted transcript
type TranscriptMetadata struct {
	Kind          string
	SegmentCount  int
	TotalDuration float64
	Summary       ProcessingSummary
}

// TranscriptStore persists finalized transcripts
type TranscriptStore interface {
	SaveTranscript(sessionID, text string, meta TranscriptMetadata) (path string, id int64, err error)
}

// Clipboard copies text to the system clipboard, best-effort
type Clipboard interface {
	Copy(text string) bool
}

// Assembler fans out extracted segments to the transcription backend
// concurrently, tracks per-segment state, and reassembles completed text in
// submission order regardless of completion order. Submission never blocks on
// transcription latency.
type Assembler struct {
	ctx           context.Context
	transcriber   Transcriber
	store         TranscriptStore // may be nil
	clipboard     Clipboard       // may be nil
	autoClipboard bool
	logger        *logger.Logger

	emptyThreshold int
	emptyMinChars  int

	mu           sync.Mutex
	sessionID    string
	segments     map[string]*TranscriptionSegment
	order        []string
	processing   bool
	finalizing   bool
	sessionStart time.Time
	recentTexts  []string
	stats        ProcessingSummary

	textFilter func(string) string
	onSegment  func(TranscriptionSegment)
	onReady    func(Result)
}

// NewAssembler creates a transcript assembler. store and clipboard may be nil
// when persistence or clipboard copy is disabled.
func NewAssembler(
	ctx context.Context,
	transcriber Transcriber,
	store TranscriptStore,
	clipboard Clipboard,
	autoClipboard bool,
	cfg Config,
	log *logger.Logger,
) *Assembler {
	threshold := cfg.EmptySegmentThreshold
	if threshold <= 0 {
		threshold = 3
	}
	minChars := cfg.EmptySegmentMinChars
	if minChars <= 0 {
		minChars = 10
	}

	return &Assembler{
		ctx:            ctx,
		transcriber:    transcriber,
		store:          store,
		clipboard:      clipboard,
		autoClipboard:  autoClipboard,
		emptyThreshold: threshold,
		emptyMinChars:  minChars,
		segments:       make(map[string]*TranscriptionSegment),
		logger:         log.Named("assembler"),
	}
}

// SetTextFilter registers a transform applied to the assembled text before
// it is persisted or copied (e.g., repeated-phrase cleanup)
func (a *Assembler) SetTextFilter(f func(string) string) {
	a.mu.Lock()
	a.textFilter = f
	a.mu.Unlock()
}

// SetSegmentCallback registers the per-segment completion observer
func (a *Assembler) SetSegmentCallback(cb func(TranscriptionSegment)) {
	a.mu.Lock()
	a.onSegment = cb
	a.mu.Unlock()
}

// SetReadyCallback registers the finalize-result observer; it fires exactly
// once per finalize
func (a *Assembler) SetReadyCallback(cb func(Result)) {
	a.mu.Lock()
	a.onReady = cb
	a.mu.Unlock()
}

// StartSession resets all per-session state
func (a *Assembler) StartSession(sessionID string) {
	a.mu.Lock()
	a.sessionID = sessionID
	a.segments = make(map[string]*TranscriptionSegment)
	a.order = nil
	a.recentTexts = nil
	a.processing = true
	a.finalizing = false
	a.sessionStart = time.Now()
	a.stats = ProcessingSummary{}
	a.mu.Unlock()

	a.logger.Info("Started session", String("session_id", sessionID))
}

// Submit records a pending segment and dispatches its transcription in the
// background, returning the segment id immediately.
func (a *Assembler) Submit(info segmenter.SegmentInfo, samples []float32) (string, error) {
	a.mu.Lock()
	if !a.processing {
		a.mu.Unlock()
		return "", fmt.Errorf("no active session")
	}

	segmentID := info.ID()
	if _, exists := a.segments[segmentID]; exists {
		a.mu.Unlock()
		return segmentID, fmt.Errorf("segment %s already submitted", segmentID)
	}

	a.segments[segmentID] = &TranscriptionSegment{
		Info:       info,
		EnqueuedAt: time.Now(),
		Status:     StatusPending,
	}
	a.order = append(a.order, segmentID)
	a.stats.SegmentsReceived++
	a.mu.Unlock()

	a.logger.Debug("Submitted segment", String("segment_id", segmentID))

	go a.transcribeSegment(segmentID, samples)

	return segmentID, nil
}

// transcribeSegment runs one unit of background work. The external call
// executes outside the lock; only the state transitions take it. A segment
// that no longer exists in the map (the session was reset) is dropped.
func (a *Assembler) transcribeSegment(segmentID string, samples []float32) {
	a.mu.Lock()
	seg, ok := a.segments[segmentID]
	if !ok {
		a.mu.Unlock()
		return
	}
	seg.Status = StatusProcessing
	a.mu.Unlock()

	start := time.Now()
	text, err := a.transcriber.Transcribe(a.ctx, samples)
	elapsed := time.Since(start)

	a.mu.Lock()
	seg, ok = a.segments[segmentID]
	if !ok {
		a.mu.Unlock()
		return
	}

	var completed TranscriptionSegment
	if err != nil {
		seg.Status = StatusFailed
		seg.Err = err.Error()
		seg.ProcessingTime = elapsed
		a.stats.SegmentsFailed++
		completed = *seg
		cb := a.onSegment
		a.mu.Unlock()

		a.logger.Error("Segment transcription failed",
			String("segment_id", segmentID),
			Error(err))
		if cb != nil {
			cb(completed)
		}
		return
	}

	seg.Text = text
	seg.ProcessingTime = elapsed
	seg.Status = StatusCompleted
	a.stats.SegmentsCompleted++
	a.stats.TotalProcessingTime += elapsed

	// Feed the auto-stop sliding window
	a.recentTexts = append(a.recentTexts, strings.TrimSpace(text))
	if len(a.recentTexts) > a.emptyThreshold {
		a.recentTexts = a.recentTexts[1:]
	}

	completed = *seg
	cb := a.onSegment
	a.mu.Unlock()

	a.logger.Debug("Segment transcription completed",
		String("segment_id", segmentID),
		Int("chars", len(text)),
		logger.Duration("elapsed", elapsed))

	if cb != nil {
		cb(completed)
	}
}

// CurrentTranscript joins the completed segments' non-empty text in
// submission order (which equals temporal order), silently skipping segments
// still pending, processing, or failed.
func (a *Assembler) CurrentTranscript() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentTranscriptLocked()
}

func (a *Assembler) currentTranscriptLocked() string {
	parts := make([]string, 0, len(a.order))
	for _, id := range a.order {
		seg, ok := a.segments[id]
		if !ok || seg.Status != StatusCompleted {
			continue
		}
		if text := strings.TrimSpace(seg.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

// ShouldAutoStop reports whether the last N completed segments' combined text
// falls below the minimum character count. The combined-text check across a
// trailing window keeps several short-but-real utterances from being mistaken
// for silence.
func (a *Assembler) ShouldAutoStop() (bool, string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.recentTexts) < a.emptyThreshold {
		return false, ""
	}

	combined := strings.TrimSpace(strings.Join(a.recentTexts, " "))
	if len(combined) < a.emptyMinChars {
		reason := fmt.Sprintf("last %d segments combined have fewer than %d chars (%d)",
			a.emptyThreshold, a.emptyMinChars, len(combined))
		a.logger.Info("Auto-stop triggered", String("reason", reason))
		return true, reason
	}

	return false, ""
}

// completionTimeout computes the dynamic finalize wait:
// max(30s, 2x longest segment, 1.5x total segment duration). This bounds
// worst-case finalize latency while giving slow final segments a chance
// proportional to how much audio exists.
func (a *Assembler) completionTimeout() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.segments) == 0 {
		return 10 * time.Second
	}

	var total, longest float64
	for _, seg := range a.segments {
		total += seg.Info.Duration
		if seg.Info.Duration > longest {
			longest = seg.Info.Duration
		}
	}

	timeout := 30.0
	if d := longest * 2; d > timeout {
		timeout = d
	}
	if d := total * 1.5; d > timeout {
		timeout = d
	}
	return time.Duration(timeout * float64(time.Second))
}

// WaitForCompletion polls until all segments leave pending/processing or the
// timeout elapses; returns true when everything settled.
func (a *Assembler) WaitForCompletion(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		a.mu.Lock()
		pending := 0
		for _, seg := range a.segments {
			if seg.Status == StatusPending || seg.Status == StatusProcessing {
				pending++
			}
		}
		a.mu.Unlock()

		if pending == 0 {
			return true
		}

		select {
		case <-a.ctx.Done():
			return false
		case <-time.After(100 * time.Millisecond):
		}
	}

	a.logger.Warn("Timeout waiting for segment completion", logger.Duration("timeout", timeout))
	return false
}

// FinalizeTranscript waits for in-flight segments to settle, assembles the
// final text, persists and copies it when non-empty, and returns the result
// bundle. At most one finalize runs per session.
func (a *Assembler) FinalizeTranscript() (*Result, error) {
	a.mu.Lock()
	if a.sessionID == "" {
		a.mu.Unlock()
		return nil, fmt.Errorf("no active session to finalize")
	}
	if a.finalizing {
		a.mu.Unlock()
		return nil, fmt.Errorf("finalize already in progress for session %s", a.sessionID)
	}
	a.finalizing = true
	sessionID := a.sessionID
	a.mu.Unlock()

	timeout := a.completionTimeout()
	a.logger.Info("Waiting for segment completion",
		String("session_id", sessionID),
		logger.Duration("timeout", timeout))
	a.WaitForCompletion(timeout)

	a.mu.Lock()
	text := strings.TrimSpace(a.currentTranscriptLocked())
	if a.textFilter != nil && text != "" {
		text = strings.TrimSpace(a.textFilter(text))
	}
	hasContent := text != ""

	var completedCount int
	var totalDuration float64
	for _, seg := range a.segments {
		if seg.Status == StatusCompleted {
			completedCount++
			if seg.Info.EndTime > totalDuration {
				totalDuration = seg.Info.EndTime
			}
		}
	}

	summary := a.stats
	summary.SessionDuration = time.Since(a.sessionStart)
	a.processing = false
	readyCb := a.onReady
	a.mu.Unlock()

	if !hasContent {
		a.logger.Warn("No transcription content available", String("session_id", sessionID))
	}

	result := &Result{
		SessionID:     sessionID,
		Text:          text,
		SegmentCount:  completedCount,
		TotalDuration: totalDuration,
		Summary:       summary,
		HasContent:    hasContent,
	}

	if hasContent && a.store != nil {
		path, id, err := a.store.SaveTranscript(sessionID, text, TranscriptMetadata{
			Kind:          "streaming",
			SegmentCount:  completedCount,
			TotalDuration: totalDuration,
			Summary:       summary,
		})
		if err != nil {
			a.logger.Error("Failed to persist transcript", Error(err))
		} else {
			result.FilePath = path
			result.TranscriptID = id
			a.logger.Info("Transcript persisted",
				String("path", path),
				Int64("transcript_id", id))
		}
	}

	if hasContent && a.autoClipboard && a.clipboard != nil {
		result.ClipboardCopied = a.clipboard.Copy(text)
	}

	if readyCb != nil {
		readyCb(*result)
	}

	a.logger.Info("Finalized transcript",
		String("session_id", sessionID),
		Int("segments", completedCount),
		Bool("has_content", hasContent))

	return result, nil
}

// Progress reports live session statistics for the status API
func (a *Assembler) Progress() map[string]any {
	a.mu.Lock()
	defer a.mu.Unlock()

	completion := 0
	if a.stats.SegmentsReceived > 0 {
		completion = a.stats.SegmentsCompleted * 100 / a.stats.SegmentsReceived
	}

	return map[string]any{
		"session_id":            a.sessionID,
		"is_processing":         a.processing,
		"segments_received":     a.stats.SegmentsReceived,
		"segments_completed":    a.stats.SegmentsCompleted,
		"segments_failed":       a.stats.SegmentsFailed,
		"completion_percentage": completion,
		"transcript_chars":      len(a.currentTranscriptLocked()),
	}
}

// Segments returns a snapshot of all tracked segments in submission order
func (a *Assembler) Segments() []TranscriptionSegment {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]TranscriptionSegment, 0, len(a.order))
	for _, id := range a.order {
		if seg, ok := a.segments[id]; ok {
			out = append(out, *seg)
		}
	}
	return out
}
