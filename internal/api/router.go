// Package api exposes the HTTP control surface: session start/stop, live
// status and transcript, stored transcripts, the WebSocket event stream, and
// Prometheus metrics.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/benjamayden/rejoice-slim/internal/config"
	"github.com/benjamayden/rejoice-slim/internal/session"
	"github.com/benjamayden/rejoice-slim/internal/storage/sqlite"
	"github.com/benjamayden/rejoice-slim/internal/websocket"
	"github.com/benjamayden/rejoice-slim/pkg/logger"
)

// Import logger functions
var (
	String = logger.String
	Int    = logger.Int
	Error  = logger.Error
)

// Router builds the HTTP routes for the service
type Router struct {
	session     *session.Session
	transcripts *sqlite.TranscriptStorage // may be nil
	sessions    *sqlite.SessionStorage    // may be nil
	wsServer    *websocket.Server
	cfg         *config.Config
	logger      *logger.Logger
}

// NewRouter creates a new API router
func NewRouter(
	sess *session.Session,
	transcripts *sqlite.TranscriptStorage,
	sessions *sqlite.SessionStorage,
	wsServer *websocket.Server,
	cfg *config.Config,
	log *logger.Logger,
) *Router {
	return &Router{
		session:     sess,
		transcripts: transcripts,
		sessions:    sessions,
		wsServer:    wsServer,
		cfg:         cfg,
		logger:      log.Named("api"),
	}
}

// Routes returns the configured chi router
func (rt *Router) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(rt.corsMiddleware)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", rt.GetStatus)
		r.Get("/transcript", rt.GetTranscript)

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/start", rt.StartSession)
			r.Post("/stop", rt.StopSession)
			r.Get("/recoverable", rt.GetRecoverableSessions)
			r.Post("/{id}/recover", rt.RecoverSession)
		})

		r.Route("/transcripts", func(r chi.Router) {
			r.Get("/", rt.ListTranscripts)
			r.Get("/{id}", rt.GetStoredTranscript)
		})
	})

	r.Get("/ws", rt.wsServer.HandleConnection)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// corsMiddleware applies the configured allowed origins
func (rt *Router) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && rt.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (rt *Router) originAllowed(origin string) bool {
	for _, allowed := range rt.cfg.Server.CORSAllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}
