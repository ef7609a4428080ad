package httpapi

import (
	"context"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/MimeLyc/tune-ripper/internal/config"
	"github.com/MimeLyc/tune-ripper/internal/jobs"
	"github.com/MimeLyc/tune-ripper/internal/telemetry"
)

type submitter interface {
	Submit(ctx context.Context, batch jobs.Batch) (*jobs.Job, error)
}

type statusReader interface {
	Status(jobID string) (jobs.StatusReport, error)
	Artifact(jobID, name string) error
}

type runtimeSettingsStore interface {
	GetRuntimeSettings() (config.RuntimeSettings, error)
	UpdateRuntimeSettings(next config.RuntimeSettings) (config.RuntimeSettings, error)
}

type runtimeSettingsApplier func(next config.RuntimeSettings) error

type Server struct {
	jobs        submitter
	status      statusReader
	downloadDir string
	settings    runtimeSettingsStore
	apply       runtimeSettingsApplier
	limiter     *rate.Limiter
	recorder    *telemetry.Recorder
	metrics     http.Handler

	streamInterval time.Duration
	uiEnabled      bool
	uiStaticDir    string

	mux       *http.ServeMux
	server    *http.Server
	closing   chan struct{}
	closeOnce sync.Once
}

type Option func(*Server)

func WithUI(staticDir string, enabled bool) Option {
	return func(s *Server) {
		s.uiStaticDir = staticDir
		s.uiEnabled = enabled
	}
}

func WithRuntimeSettingsStore(store runtimeSettingsStore) Option {
	return func(s *Server) {
		s.settings = store
	}
}

func WithRuntimeSettingsApplier(apply runtimeSettingsApplier) Option {
	return func(s *Server) {
		s.apply = apply
	}
}

// WithRateLimit bounds accepted submissions per second across all clients.
// A non-positive rps disables the limit.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Server) {
		if rps <= 0 {
			s.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

func WithRecorder(r *telemetry.Recorder) Option {
	return func(s *Server) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithMetrics serves h on GET /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

func WithStreamInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.streamInterval = d
		}
	}
}

func NewServer(submit submitter, status statusReader, downloadDir string, opts ...Option) *Server {
	s := &Server{
		jobs:           submit,
		status:         status,
		downloadDir:    downloadDir,
		streamInterval: time.Second,
		uiEnabled:      false,
		mux:            http.NewServeMux(),
		closing:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.recorder == nil {
		s.recorder = telemetry.Default()
	}
	s.routes()
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return withAccessLog(s.mux)
}

// ListenAndServe serves until Shutdown. A Shutdown that arrives first makes
// it return http.ErrServerClosed right away.
func (s *Server) ListenAndServe(addr string) error {
	s.server.Addr = addr
	return s.server.ListenAndServe()
}

// Shutdown ends open status streams and then drains the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.closing) })
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/convert", s.handleConvert)
	s.mux.HandleFunc("/api/status/{job_id}", s.handleStatus)
	s.mux.HandleFunc("/api/status/{job_id}/stream", s.handleStatusStream)
	s.mux.HandleFunc("/api/download/{job_id}/{filename}", s.handleDownload)
	s.mux.HandleFunc("/api/settings", s.handleSettings)
	s.mux.HandleFunc("/healthz", s.handleHealth)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics)
	}
	s.mux.HandleFunc("/", s.handleStatic)
}

func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	if !s.uiEnabled || s.uiStaticDir == "" {
		http.NotFound(w, r)
		return
	}

	rel := strings.TrimPrefix(path.Clean(r.URL.Path), "/")
	indexPath := filepath.Join(s.uiStaticDir, "index.html")

	if rel == "" || !strings.Contains(filepath.Base(rel), ".") {
		http.ServeFile(w, r, indexPath)
		return
	}

	filePath := filepath.Join(s.uiStaticDir, rel)
	if _, err := os.Stat(filePath); err != nil {
		http.ServeFile(w, r, indexPath)
		return
	}
	http.ServeFile(w, r, filePath)
}
