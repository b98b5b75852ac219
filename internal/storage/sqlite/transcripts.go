package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/benjamayden/rejoice-slim/internal/transcription"
	"github.com/benjamayden/rejoice-slim/pkg/logger"
)

// TranscriptRecord represents a saved transcript in the database
type TranscriptRecord struct {
	ID            int64     `json:"id"`
	SessionID     string    `json:"session_id"`
	CreatedAt     time.Time `json:"created_at"`
	Content       string    `json:"content"`
	Kind          string    `json:"kind"` // "streaming" or "whole_file"
	SegmentCount  int       `json:"segment_count"`
	DurationSecs  float64   `json:"duration_secs"`
	FilePath      string    `json:"file_path"`
}

// TranscriptStorage persists finalized transcripts to the database and
// mirrors each one as a markdown file
type TranscriptStorage struct {
	db         *sql.DB
	exportDir  string
	logger     *logger.Logger
}

// NewTranscriptStorage creates a new SQLite transcript storage. exportDir may
// be empty to disable markdown export.
func NewTranscriptStorage(db *sql.DB, exportDir string, log *logger.Logger) (*TranscriptStorage, error) {
	storage := &TranscriptStorage{
		db:        db,
		exportDir: exportDir,
		logger:    log.Named("sqlite-transcripts"),
	}

	if err := storage.initDB(); err != nil {
		return nil, err
	}

	return storage, nil
}

// initDB initializes the database tables
func (s *TranscriptStorage) initDB() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS transcripts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			content TEXT NOT NULL,
			kind TEXT NOT NULL,
			segment_count INTEGER NOT NULL DEFAULT 0,
			duration_secs REAL NOT NULL DEFAULT 0,
			file_path TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create transcripts table: %w", err)
	}

	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_transcripts_session ON transcripts(session_id)`)
	if err != nil {
		return fmt.Errorf("failed to create session index: %w", err)
	}

	return nil
}

// SaveTranscript stores a finalized transcript and writes its markdown
// export, returning the export path and the database row id
func (s *TranscriptStorage) SaveTranscript(sessionID, text string, meta transcription.TranscriptMetadata) (string, int64, error) {
	now := time.Now().UTC()

	path := ""
	if s.exportDir != "" {
		var err error
		path, err = s.exportMarkdown(sessionID, text, meta, now)
		if err != nil {
			// Database row is still written; the export path just stays empty
			s.logger.Error("Failed to export transcript markdown", Error(err))
			path = ""
		}
	}

	result, err := s.db.Exec(
		`INSERT INTO transcripts (session_id, created_at, content, kind, segment_count, duration_secs, file_path)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sessionID, now, text, meta.Kind, meta.SegmentCount, meta.TotalDuration, path,
	)
	if err != nil {
		return "", 0, fmt.Errorf("failed to insert transcript: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return "", 0, fmt.Errorf("failed to get transcript id: %w", err)
	}

	s.logger.Info("Transcript saved",
		String("session_id", sessionID),
		Int64("id", id),
		Int("chars", len(text)))

	return path, id, nil
}

// exportMarkdown writes the transcript to a timestamped markdown file
func (s *TranscriptStorage) exportMarkdown(sessionID, text string, meta transcription.TranscriptMetadata, now time.Time) (string, error) {
	if err := os.MkdirAll(s.exportDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create export directory: %w", err)
	}

	filename := fmt.Sprintf("%s_%s.md", now.Format("2006-01-02_15-04-05"), sessionID)
	path := filepath.Join(s.exportDir, filename)

	content := renderMarkdown(sessionID, text, meta.Kind, meta.SegmentCount, meta.TotalDuration, now)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("failed to write transcript file: %w", err)
	}

	return path, nil
}

func renderMarkdown(sessionID, text, kind string, segments int, durationSecs float64, createdAt time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Transcript %s\n\n", sessionID)
	fmt.Fprintf(&b, "- Date: %s\n", createdAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "- Kind: %s\n", kind)
	fmt.Fprintf(&b, "- Segments: %d\n", segments)
	fmt.Fprintf(&b, "- Duration: %.1fs\n\n", durationSecs)
	b.WriteString(text)
	b.WriteString("\n")
	return b.String()
}

// UpdateTranscript replaces the content of a stored transcript and rewrites
// its markdown export when one exists. Used when the full-recording pass
// supersedes the streaming transcript.
func (s *TranscriptStorage) UpdateTranscript(id int64, text string) error {
	rec, err := s.GetTranscript(id)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("transcript %d not found", id)
	}

	if _, err := s.db.Exec(`UPDATE transcripts SET content = ? WHERE id = ?`, text, id); err != nil {
		return fmt.Errorf("failed to update transcript: %w", err)
	}

	if rec.FilePath != "" {
		content := renderMarkdown(rec.SessionID, text, rec.Kind, rec.SegmentCount, rec.DurationSecs, rec.CreatedAt)
		if wErr := os.WriteFile(rec.FilePath, []byte(content), 0o644); wErr != nil {
			s.logger.Error("Failed to rewrite transcript markdown", Error(wErr))
		}
	}

	s.logger.Info("Transcript updated",
		Int64("id", id),
		Int("chars", len(text)))
	return nil
}

// GetTranscript returns one transcript by id
func (s *TranscriptStorage) GetTranscript(id int64) (*TranscriptRecord, error) {
	var rec TranscriptRecord
	var path sql.NullString
	err := s.db.QueryRow(
		`SELECT id, session_id, created_at, content, kind, segment_count, duration_secs, file_path
		 FROM transcripts WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.SessionID, &rec.CreatedAt, &rec.Content, &rec.Kind,
		&rec.SegmentCount, &rec.DurationSecs, &path)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query transcript: %w", err)
	}
	if path.Valid {
		rec.FilePath = path.String
	}
	return &rec, nil
}

// ListTranscripts returns the most recent transcripts, newest first
func (s *TranscriptStorage) ListTranscripts(limit int) ([]TranscriptRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(
		`SELECT id, session_id, created_at, content, kind, segment_count, duration_secs, file_path
		 FROM transcripts ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query transcripts: %w", err)
	}
	defer rows.Close()

	var records []TranscriptRecord
	for rows.Next() {
		var rec TranscriptRecord
		var path sql.NullString
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.CreatedAt, &rec.Content, &rec.Kind,
			&rec.SegmentCount, &rec.DurationSecs, &path); err != nil {
			return nil, fmt.Errorf("failed to scan transcript row: %w", err)
		}
		if path.Valid {
			rec.FilePath = path.String
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
