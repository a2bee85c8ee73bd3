// Package server exposes the recording service over HTTP.
//
// Routes (Go 1.22 ServeMux patterns):
//
//	POST /recordings                       create and start capturing
//	GET  /recordings?user_id=              list a user's recordings
//	GET  /recordings/{id}                  fetch one recording
//	POST /recordings/{id}/stop             stop capturing and post-process
//	POST /recordings/{id}/transcribe       transcribe the final file
//	POST /recordings/{id}/summarize        summary and action items
//	POST /chat                             free chat, optionally about a recording
//	GET  /events                           websocket event stream
//	GET  /healthz, /readyz                 health probes
//	GET  /metrics                          Prometheus exposition
//
// Errors are JSON objects of the form {"error": "..."}.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/chandeldivyam/samwise/internal/capture"
	"github.com/chandeldivyam/samwise/internal/health"
	"github.com/chandeldivyam/samwise/internal/observe"
	"github.com/chandeldivyam/samwise/internal/recording"
	"github.com/chandeldivyam/samwise/internal/textgen"
)

// defaultMaxBody caps request bodies. Chat histories are the largest input.
const defaultMaxBody = 1 << 20

// Service is the subset of [recording.Service] the API needs.
type Service interface {
	Create(ctx context.Context, userID, name string) (recording.Recording, error)
	Process(ctx context.Context, id string) (recording.Recording, error)
	Transcribe(ctx context.Context, id string) (recording.Recording, error)
	Summarize(ctx context.Context, id string) (recording.Recording, error)
	Chat(ctx context.Context, messages []textgen.Message) (string, error)
	ChatAbout(ctx context.Context, id string, messages []textgen.Message) (string, error)
	Get(ctx context.Context, id string) (recording.Recording, error)
	List(ctx context.Context, userID string) ([]recording.Recording, error)
}

var _ Service = (*recording.Service)(nil)

// Option configures a [Server].
type Option func(*Server)

// WithEvents mounts h at GET /events, typically a [notify.Hub].
func WithEvents(h http.Handler) Option {
	return func(s *Server) { s.events = h }
}

// WithHealth mounts the /healthz and /readyz probes.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetricsHandler mounts h at GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// WithMetrics sets the instruments used by the request middleware.
// Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithMaxBodyBytes caps JSON request bodies. Defaults to 1 MiB.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBody = n
		}
	}
}

// Server routes HTTP requests to a [Service]. It implements http.Handler.
type Server struct {
	svc            Service
	events         http.Handler
	health         *health.Handler
	metricsHandler http.Handler
	metrics        *observe.Metrics
	maxBody        int64

	handler http.Handler
}

var _ http.Handler = (*Server)(nil)

// New builds the route table for svc.
func New(svc Service, opts ...Option) *Server {
	s := &Server{
		svc:     svc,
		maxBody: defaultMaxBody,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /recordings", s.handleCreate)
	mux.HandleFunc("GET /recordings", s.handleList)
	mux.HandleFunc("GET /recordings/{id}", s.handleGet)
	mux.HandleFunc("POST /recordings/{id}/stop", s.handleStop)
	mux.HandleFunc("POST /recordings/{id}/transcribe", s.handleTranscribe)
	mux.HandleFunc("POST /recordings/{id}/summarize", s.handleSummarize)
	mux.HandleFunc("POST /chat", s.handleChat)
	if s.events != nil {
		mux.Handle("GET /events", s.events)
	}
	if s.health != nil {
		s.health.Register(mux)
	}
	if s.metricsHandler != nil {
		mux.Handle("GET /metrics", s.metricsHandler)
	}

	s.handler = observe.Middleware(s.metrics,
		observe.WithQuietPaths("/healthz", "/readyz", "/metrics"),
	)(mux)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// ─── Handlers ────────────────────────────────────────────────────────────────

type createRequest struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
}

type chatRequest struct {
	RecordingID string            `json:"recording_id"`
	Messages    []textgen.Message `json:"messages"`
}

type chatResponse struct {
	Reply string `json:"reply"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !s.decode(w, r, &req) {
		return
	}
	rec, err := s.svc.Create(r.Context(), req.UserID, req.Name)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	rs, err := s.svc.List(r.Context(), r.URL.Query().Get("user_id"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	if rs == nil {
		rs = []recording.Recording{}
	}
	writeJSON(w, http.StatusOK, rs)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, s.svc.Get)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, s.svc.Process)
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, s.svc.Transcribe)
}

func (s *Server) handleSummarize(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, s.svc.Summarize)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !s.decode(w, r, &req) {
		return
	}
	var (
		reply string
		err   error
	)
	if req.RecordingID != "" {
		reply, err = s.svc.ChatAbout(r.Context(), req.RecordingID, req.Messages)
	} else {
		reply, err = s.svc.Chat(r.Context(), req.Messages)
	}
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{Reply: reply})
}

// respond runs a single-recording operation keyed by the {id} path value.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, op func(context.Context, string) (recording.Recording, error)) {
	rec, err := op(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ─── Encoding ────────────────────────────────────────────────────────────────

// decode reads a JSON body into v. It writes a 400 and returns false on
// failure. An empty body leaves v at its zero value.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: "request body too large"})
			return false
		}
		writeJSON(w, http.StatusBadRequest, errorBody{Error: fmt.Sprintf("invalid request body: %v", err)})
		return false
	}
	return true
}

type errorBody struct {
	Error string `json:"error"`
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, recording.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, recording.ErrInvalidArgument),
		errors.Is(err, textgen.ErrNoMessages):
		return http.StatusBadRequest
	case errors.Is(err, recording.ErrInvalidState),
		errors.Is(err, recording.ErrBusy),
		errors.Is(err, recording.ErrNoTranscription),
		errors.Is(err, recording.ErrExists),
		errors.Is(err, capture.ErrAlreadyRecording),
		errors.Is(err, capture.ErrNotRecording):
		return http.StatusConflict
	case errors.Is(err, recording.ErrNoTranscriber),
		errors.Is(err, recording.ErrNoGenerator):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		observe.Logger(ctx).Error("request failed", "status", status, "error", err)
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failed"}`, http.StatusInternalServerError)
	}
}
