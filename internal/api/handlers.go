package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/benjamayden/rejoice-slim/internal/session"
)

// writeJSON writes a JSON response with the given status code
func (rt *Router) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		rt.logger.Error("Failed to encode response", Error(err))
	}
}

func (rt *Router) writeError(w http.ResponseWriter, status int, message string) {
	rt.writeJSON(w, status, map[string]string{"error": message})
}

// GetStatus returns the live session state
func (rt *Router) GetStatus(w http.ResponseWriter, r *http.Request) {
	status := rt.session.Status()
	status["ws_clients"] = rt.wsServer.ClientCount()
	rt.writeJSON(w, http.StatusOK, status)
}

// GetTranscript returns the most recent finished result, or a 404 when no
// session has completed yet
func (rt *Router) GetTranscript(w http.ResponseWriter, r *http.Request) {
	result := rt.session.LastResult()
	if result == nil {
		rt.writeError(w, http.StatusNotFound, "no completed session")
		return
	}
	rt.writeJSON(w, http.StatusOK, result)
}

// StartSession begins a new recording session
func (rt *Router) StartSession(w http.ResponseWriter, r *http.Request) {
	sessionID, err := rt.session.Start()
	if err != nil {
		rt.writeError(w, http.StatusConflict, err.Error())
		return
	}
	rt.writeJSON(w, http.StatusOK, map[string]string{"session_id": sessionID})
}

// StopSession ends the active session and returns the final transcript
func (rt *Router) StopSession(w http.ResponseWriter, r *http.Request) {
	result, err := rt.session.Stop(session.StopReasonUser)
	if err != nil {
		rt.writeError(w, http.StatusConflict, err.Error())
		return
	}
	rt.writeJSON(w, http.StatusOK, result)
}

// GetRecoverableSessions lists sessions interrupted before finalize
func (rt *Router) GetRecoverableSessions(w http.ResponseWriter, r *http.Request) {
	if rt.sessions == nil {
		rt.writeError(w, http.StatusNotImplemented, "session storage disabled")
		return
	}

	records, err := rt.sessions.ListRecoverable()
	if err != nil {
		rt.logger.Error("Failed to list recoverable sessions", Error(err))
		rt.writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	rt.writeJSON(w, http.StatusOK, map[string]any{"sessions": records})
}

// RecoverSession re-transcribes an interrupted session from its WAV file
func (rt *Router) RecoverSession(w http.ResponseWriter, r *http.Request) {
	if rt.sessions == nil {
		rt.writeError(w, http.StatusNotImplemented, "session storage disabled")
		return
	}

	sessionID := chi.URLParam(r, "id")
	rec, err := rt.sessions.GetSession(sessionID)
	if err != nil {
		rt.logger.Error("Failed to load session", Error(err))
		rt.writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	if rec == nil {
		rt.writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if rec.AudioPath == "" {
		rt.writeError(w, http.StatusConflict, "session has no recording to recover")
		return
	}

	result, err := rt.session.TranscribeFile(sessionID, rec.AudioPath)
	if err != nil {
		rt.logger.Error("Failed to recover session",
			String("session_id", sessionID),
			Error(err))
		rt.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := rt.sessions.CompleteSession(sessionID, result.TotalDuration, 1, false); err != nil {
		rt.logger.Error("Failed to mark session recovered", Error(err))
	}

	rt.writeJSON(w, http.StatusOK, result)
}

// ListTranscripts returns stored transcripts, newest first
func (rt *Router) ListTranscripts(w http.ResponseWriter, r *http.Request) {
	if rt.transcripts == nil {
		rt.writeError(w, http.StatusNotImplemented, "transcript storage disabled")
		return
	}

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	records, err := rt.transcripts.ListTranscripts(limit)
	if err != nil {
		rt.logger.Error("Failed to list transcripts", Error(err))
		rt.writeError(w, http.StatusInternalServerError, "failed to list transcripts")
		return
	}
	rt.writeJSON(w, http.StatusOK, map[string]any{"transcripts": records})
}

// GetStoredTranscript returns one stored transcript by id
func (rt *Router) GetStoredTranscript(w http.ResponseWriter, r *http.Request) {
	if rt.transcripts == nil {
		rt.writeError(w, http.StatusNotImplemented, "transcript storage disabled")
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		rt.writeError(w, http.StatusBadRequest, "invalid transcript id")
		return
	}

	rec, err := rt.transcripts.GetTranscript(id)
	if err != nil {
		rt.logger.Error("Failed to load transcript", Error(err))
		rt.writeError(w, http.StatusInternalServerError, "failed to load transcript")
		return
	}
	if rec == nil {
		rt.writeError(w, http.StatusNotFound, "transcript not found")
		return
	}
	rt.writeJSON(w, http.StatusOK, rec)
}
