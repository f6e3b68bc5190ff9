// Package httpapi exposes translation jobs over HTTP: a one-shot JSON
// endpoint, a server-sent event stream, a WebSocket stream and a zip
// download for several files at once.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mgpai22/sublingo/internal/config"
	"github.com/mgpai22/sublingo/internal/logging"
	"github.com/mgpai22/sublingo/internal/pipeline"
	"github.com/mgpai22/sublingo/internal/subtitle"
)

type Server struct {
	orch   *pipeline.Orchestrator
	cfg    config.Config
	logger *logging.Logger

	maxUpload int64
	upgrader  websocket.Upgrader

	mux *http.ServeMux

	mu     sync.Mutex
	server *http.Server
	closed bool
}

type Option func(*Server)

func WithLogger(logger *logging.Logger) Option {
	return func(s *Server) {
		s.logger = logging.OrNop(logger)
	}
}

// WithMaxUploadSize caps the request body of upload endpoints.
func WithMaxUploadSize(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUpload = n
		}
	}
}

// WithCheckOrigin decides which browser origins may open a WebSocket.
func WithCheckOrigin(check func(r *http.Request) bool) Option {
	return func(s *Server) {
		s.upgrader.CheckOrigin = check
	}
}

// NewServer serves jobs created by orch. cfg is the base configuration of
// every job; requests may only override the display mode and languages.
func NewServer(orch *pipeline.Orchestrator, cfg config.Config, opts ...Option) *Server {
	s := &Server{
		orch:      orch,
		cfg:       cfg,
		logger:    logging.NewNop(),
		maxUpload: cfg.Server.MaxUploadSize,
		mux:       http.NewServeMux(),
	}
	if s.maxUpload <= 0 {
		s.maxUpload = 10 << 20
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe blocks until the server fails or is shut down. It returns
// http.ErrServerClosed when Shutdown was called first.
func (s *Server) ListenAndServe(addr string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return http.ErrServerClosed
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.server = srv
	s.mu.Unlock()

	s.logger.Infow("HTTP server listening", "addr", addr)
	return srv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	srv := s.server
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/translate", s.handleTranslate)
	s.mux.HandleFunc("/translate-stream", s.handleTranslateStream)
	s.mux.HandleFunc("/translate-batch", s.handleTranslateBatch)
	s.mux.HandleFunc("/ws", s.handleWebSocket)
}

// jobConfig applies the per-request overrides carried in the query string
func (s *Server) jobConfig(r *http.Request) (config.Config, error) {
	cfg := s.cfg
	q := r.URL.Query()
	return withOverrides(cfg, q.Get("display_mode"), q.Get("source_language"), q.Get("target_language"))
}

func withOverrides(cfg config.Config, displayMode, source, target string) (config.Config, error) {
	if displayMode != "" {
		mode, err := subtitle.ParseDisplayMode(displayMode)
		if err != nil {
			return cfg, err
		}
		cfg.Translation.DisplayMode = string(mode)
	}
	if source != "" {
		cfg.Translation.SourceLanguage = source
	}
	if target != "" {
		cfg.Translation.TargetLanguage = target
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// upload is one subtitle file taken from a multipart form
type upload struct {
	name string
	raw  []byte
}

func (s *Server) readUploads(w http.ResponseWriter, r *http.Request, field string) ([]upload, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}

	headers := r.MultipartForm.File[field]
	if len(headers) == 0 {
		return nil, fmt.Errorf("missing %q file field", field)
	}
	uploads := make([]upload, 0, len(headers))
	for _, header := range headers {
		f, err := header.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", header.Filename, err)
		}
		raw, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", header.Filename, err)
		}
		uploads = append(uploads, upload{name: header.Filename, raw: raw})
	}
	return uploads, nil
}

func uploadStatus(err error) int {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}
