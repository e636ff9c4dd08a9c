// Package api exposes the tutoring operations over HTTP.
//
// Routes:
//
//	POST   /api/solve       solve a problem, appending to the caller's history
//	POST   /api/speech      narrate a solution
//	POST   /api/flashcard   turn a solved problem into a study card
//	POST   /api/video       analyse a lecture recording
//	POST   /api/transcribe  transcribe a voice note
//	GET    /api/history     the caller's history, newest first
//	DELETE /api/history     clear the caller's history
//	GET    /api/live        WebSocket upgrade into a live voice session
//
// The caller is identified by the X-User-ID header; requests without one
// share the guest history. Failures respond with {"error": "<message>"}
// carrying a message fit to show the user.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/MrWong99/tutorlive/internal/gateway"
	"github.com/MrWong99/tutorlive/internal/history"
	"github.com/MrWong99/tutorlive/internal/live"
	"github.com/MrWong99/tutorlive/internal/observe"
	"github.com/MrWong99/tutorlive/internal/resilience"
	providerlive "github.com/MrWong99/tutorlive/pkg/provider/live"
)

// UserHeader carries the caller's identity.
const UserHeader = "X-User-ID"

const (
	// DefaultMaxUploadBytes caps image and document attachments.
	DefaultMaxUploadBytes int64 = 5 << 20

	// DefaultMaxVideoBytes caps video attachments.
	DefaultMaxVideoBytes int64 = 50 << 20

	// Request bodies carry attachments as base64 inside JSON.
	bodyOverhead = 64 << 10
)

// LiveProviderFactory builds the streaming model provider for one live
// session, using the API key read at session start.
type LiveProviderFactory func(apiKey string) providerlive.Provider

// Option configures a [Server].
type Option func(*Server)

// WithLimits sets the attachment size caps. Values below 1 keep the default.
func WithLimits(upload, video int64) Option {
	return func(s *Server) {
		if upload > 0 {
			s.maxUpload = upload
		}
		if video > 0 {
			s.maxVideo = video
		}
	}
}

// WithLive enables /api/live. Without it the route answers 404.
func WithLive(sessions *live.Manager, factory LiveProviderFactory, cfg providerlive.SessionConfig) Option {
	return func(s *Server) {
		s.sessions = sessions
		s.newLive = factory
		s.liveCfg = cfg
	}
}

// WithOriginPatterns lists the host patterns allowed to open /api/live from
// another origin.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.originPatterns = patterns }
}

// WithMetrics overrides the metrics sink.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// Server holds the handlers' dependencies.
type Server struct {
	gw      *gateway.Gateway
	history history.Store

	sessions       *live.Manager
	newLive        LiveProviderFactory
	liveCfg        providerlive.SessionConfig
	originPatterns []string

	maxUpload int64
	maxVideo  int64
	metrics   *observe.Metrics
	log       *slog.Logger
}

// New creates a Server.
func New(gw *gateway.Gateway, store history.Store, opts ...Option) *Server {
	s := &Server{
		gw:        gw,
		history:   store,
		maxUpload: DefaultMaxUploadBytes,
		maxVideo:  DefaultMaxVideoBytes,
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Register adds every route to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/solve", s.handleSolve)
	mux.HandleFunc("POST /api/speech", s.handleSpeech)
	mux.HandleFunc("POST /api/flashcard", s.handleFlashcard)
	mux.HandleFunc("POST /api/video", s.handleVideo)
	mux.HandleFunc("POST /api/transcribe", s.handleTranscribe)
	mux.HandleFunc("GET /api/history", s.handleListHistory)
	mux.HandleFunc("DELETE /api/history", s.handleClearHistory)
	if s.sessions != nil {
		mux.HandleFunc("GET /api/live", s.handleLive)
	}
}

// Handler returns a mux with every route, wrapped in the HTTP middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	return observe.Middleware(s.metrics, observe.WithUserKey(UserKey))(mux)
}

// UserKey returns the history key of the caller. It is the user identity
// attached to logs and spans.
func UserKey(r *http.Request) string {
	return history.Key(userID(r))
}

// userID returns the caller's identity, or "" for a guest.
func userID(r *http.Request) string {
	return r.Header.Get(UserHeader)
}

// ── Responses ─────────────────────────────────────────────────────────────────

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// writeGatewayError maps a gateway failure onto a status and the user-facing
// message.
func (s *Server) writeGatewayError(w http.ResponseWriter, r *http.Request, op string, err error) {
	if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
		observe.Logger(r.Context()).Debug("client went away", "op", op)
		return
	}
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, gateway.ErrMissingCredential), errors.Is(err, resilience.ErrCircuitOpen):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	observe.Logger(r.Context()).Error("request failed", "op", op, "status", status, "err", err)
	writeError(w, status, gateway.UserMessage(err))
}

// decode reads a JSON body of at most limit bytes into v. It writes the
// error response itself and reports whether decoding succeeded.
func decode(w http.ResponseWriter, r *http.Request, limit int64, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request is too large.")
			return false
		}
		writeError(w, http.StatusBadRequest, "Invalid request body.")
		return false
	}
	return true
}

// bodyLimit is the JSON body size that can carry an attachment of n bytes.
func bodyLimit(n int64) int64 {
	return n/3*4 + 4 + bodyOverhead
}
