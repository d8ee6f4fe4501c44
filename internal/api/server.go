// Package api serves the operations over HTTP. Handled outcomes, including
// engine failures, are 200 with an envelope; input validation failures are
// 400 with {"detail": ...}.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"extractkit/internal/logging"
	"extractkit/internal/service"
)

// Prefix is the mount point of the operation routes.
const Prefix = "/api/v1"

// DefaultMaxUpload bounds request bodies when no limit is configured.
const DefaultMaxUpload = 100 << 20

// multipartMemory is how much of a multipart body is kept in memory; the rest
// spills to temp files.
const multipartMemory = 32 << 20

// Server holds the HTTP handlers.
type Server struct {
	svc       *service.Service
	metrics   http.Handler
	maxUpload int64
	logger    *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics mounts h at /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithMaxUpload bounds request bodies to n bytes.
func WithMaxUpload(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUpload = n
		}
	}
}

// New returns a Server for svc.
func New(svc *service.Service, opts ...Option) *Server {
	s := &Server{
		svc:       svc,
		maxUpload: DefaultMaxUpload,
		logger:    logging.New("api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors)

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route(Prefix, func(api chi.Router) {
		api.Group(func(ops chi.Router) {
			ops.Use(s.limitBody)
			ops.Post("/upload", s.operation(s.upload))
			ops.Post("/layout-detection", s.operation(s.layoutDetection))
			ops.Post("/ocr", s.operation(s.ocr))
			ops.Post("/formula-detection", s.operation(s.formulaDetection))
			ops.Post("/formula-recognition", s.operation(s.formulaRecognition))
			ops.Post("/table-parsing", s.operation(s.tableParsing))
			ops.Post("/pdf2markdown", s.operation(s.pdf2Markdown))
			ops.Post("/run-project", s.operation(s.runProject))
			ops.Post("/pdf-to-images", s.operation(s.pdfToImages))
			ops.Post("/pdf-to-images-save", s.operation(s.pdfToImagesSave))
		})
		api.Get("/outputs", s.handleOutputs)
		api.Get("/outputs/{id}", s.handleOutput)
	})
	return r
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			s.logger.InfoContext(r.Context(), "request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"elapsed", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "extractkit document extraction API"})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}
