package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/benjamayden/rejoice-slim/pkg/logger"
)

// SessionRecord represents a recording session in the database
type SessionRecord struct {
	ID           string    `json:"id"`
	StartedAt    time.Time `json:"started_at"`
	CompletedAt  time.Time `json:"completed_at,omitempty"`
	Status       string    `json:"status"` // "recording", "completed", "failed"
	AudioPath    string    `json:"audio_path,omitempty"`
	DurationSecs float64   `json:"duration_secs"`
	SegmentCount int       `json:"segment_count"`
}

// AttemptRecord represents one transcription attempt within a session
type AttemptRecord struct {
	ID          int64     `json:"id"`
	SessionID   string    `json:"session_id"`
	SegmentID   string    `json:"segment_id"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
	Status      string    `json:"status"` // "pending", "completed", "failed"
	Chars       int       `json:"chars"`
	Error       string    `json:"error,omitempty"`
}

// SessionStorage tracks recording sessions and their transcription attempts
// so interrupted sessions can be found and recovered later
type SessionStorage struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewSessionStorage creates a new SQLite session storage
func NewSessionStorage(db *sql.DB, log *logger.Logger) (*SessionStorage, error) {
	storage := &SessionStorage{
		db:     db,
		logger: log.Named("sqlite-sessions"),
	}

	if err := storage.initDB(); err != nil {
		return nil, err
	}

	return storage, nil
}

// initDB initializes the database tables
func (s *SessionStorage) initDB() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			started_at TIMESTAMP NOT NULL,
			completed_at TIMESTAMP,
			status TEXT NOT NULL,
			audio_path TEXT,
			duration_secs REAL NOT NULL DEFAULT 0,
			segment_count INTEGER NOT NULL DEFAULT 0
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create sessions table: %w", err)
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS attempts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			segment_id TEXT NOT NULL,
			started_at TIMESTAMP NOT NULL,
			completed_at TIMESTAMP,
			status TEXT NOT NULL,
			chars INTEGER NOT NULL DEFAULT 0,
			error TEXT,
			FOREIGN KEY (session_id) REFERENCES sessions(id)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create attempts table: %w", err)
	}

	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_attempts_session ON attempts(session_id)`)
	if err != nil {
		return fmt.Errorf("failed to create session index: %w", err)
	}

	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status)`)
	if err != nil {
		return fmt.Errorf("failed to create status index: %w", err)
	}

	return nil
}

// StartSession records a new recording session
func (s *SessionStorage) StartSession(sessionID, audioPath string) error {
	_, err := s.db.Exec(
		`INSERT INTO sessions (id, started_at, status, audio_path) VALUES (?, ?, 'recording', ?)`,
		sessionID, time.Now().UTC(), audioPath,
	)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}

	s.logger.Debug("Session started", String("session_id", sessionID))
	return nil
}

// RegisterAttempt records a transcription attempt and returns its id
func (s *SessionStorage) RegisterAttempt(sessionID, segmentID string) (int64, error) {
	result, err := s.db.Exec(
		`INSERT INTO attempts (session_id, segment_id, started_at, status) VALUES (?, ?, ?, 'pending')`,
		sessionID, segmentID, time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert attempt: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get attempt id: %w", err)
	}
	return id, nil
}

// CompleteAttempt marks an attempt as completed or failed
func (s *SessionStorage) CompleteAttempt(attemptID int64, chars int, attemptErr error) error {
	status := "completed"
	errText := ""
	if attemptErr != nil {
		status = "failed"
		errText = attemptErr.Error()
	}

	_, err := s.db.Exec(
		`UPDATE attempts SET completed_at = ?, status = ?, chars = ?, error = ? WHERE id = ?`,
		time.Now().UTC(), status, chars, errText, attemptID,
	)
	if err != nil {
		return fmt.Errorf("failed to update attempt: %w", err)
	}
	return nil
}

// CompleteSession marks a session finished with its final statistics
func (s *SessionStorage) CompleteSession(sessionID string, durationSecs float64, segmentCount int, failed bool) error {
	status := "completed"
	if failed {
		status = "failed"
	}

	_, err := s.db.Exec(
		`UPDATE sessions SET completed_at = ?, status = ?, duration_secs = ?, segment_count = ? WHERE id = ?`,
		time.Now().UTC(), status, durationSecs, segmentCount, sessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}

	s.logger.Debug("Session completed",
		String("session_id", sessionID),
		String("status", status),
		Float64("duration_secs", durationSecs))
	return nil
}

// ListRecoverable returns sessions still marked as recording that have an
// audio file on record. These are sessions interrupted before finalize; the
// audio can be re-transcribed whole.
func (s *SessionStorage) ListRecoverable() ([]SessionRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, started_at, status, audio_path, duration_secs, segment_count
		 FROM sessions
		 WHERE status = 'recording' AND audio_path != ''
		 ORDER BY started_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query recoverable sessions: %w", err)
	}
	defer rows.Close()

	var records []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		if err := rows.Scan(&rec.ID, &rec.StartedAt, &rec.Status, &rec.AudioPath,
			&rec.DurationSecs, &rec.SegmentCount); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// GetSession returns one session by id
func (s *SessionStorage) GetSession(sessionID string) (*SessionRecord, error) {
	var rec SessionRecord
	var completedAt sql.NullTime
	err := s.db.QueryRow(
		`SELECT id, started_at, completed_at, status, audio_path, duration_secs, segment_count
		 FROM sessions WHERE id = ?`, sessionID,
	).Scan(&rec.ID, &rec.StartedAt, &completedAt, &rec.Status, &rec.AudioPath,
		&rec.DurationSecs, &rec.SegmentCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	if completedAt.Valid {
		rec.CompletedAt = completedAt.Time
	}
	return &rec, nil
}

// ListAttempts returns all attempts for a session in registration order
func (s *SessionStorage) ListAttempts(sessionID string) ([]AttemptRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, segment_id, started_at, completed_at, status, chars, error
		 FROM attempts WHERE session_id = ? ORDER BY id`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempts: %w", err)
	}
	defer rows.Close()

	var records []AttemptRecord
	for rows.Next() {
		var rec AttemptRecord
		var completedAt sql.NullTime
		var errText sql.NullString
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.SegmentID, &rec.StartedAt,
			&completedAt, &rec.Status, &rec.Chars, &errText); err != nil {
			return nil, fmt.Errorf("failed to scan attempt row: %w", err)
		}
		if completedAt.Valid {
			rec.CompletedAt = completedAt.Time
		}
		if errText.Valid {
			rec.Error = errText.String
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
