package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/andresmejia3/rollcall/internal/enroll"
	"github.com/andresmejia3/rollcall/internal/logger"
	"github.com/andresmejia3/rollcall/internal/types"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// MaxUploadSize bounds the multipart form kept in memory per request.
const MaxUploadSize = 32 << 20

type Recognizer interface {
	Recognize(ctx context.Context, image []byte) (*types.RecognitionResponse, error)
}

type Enroller interface {
	Enroll(ctx context.Context, req enroll.Request) (*enroll.Result, error)
}

type Regenerator interface {
	RegenerateAll(ctx context.Context, progress func(key string, ok bool)) (ok, failed []string, err error)
}

type Roster interface {
	ListMetadata(ctx context.Context) ([]types.IdentityMeta, error)
}

// Deps are the services exposed over HTTP.
type Deps struct {
	Recognizer  Recognizer
	Enroller    Enroller
	Regenerator Regenerator
	Roster      Roster
}

// Server represents the web server
type Server struct {
	deps       Deps
	router     *chi.Mux
	httpServer *http.Server
}

// NewServer creates a new web server. requestTimeout caps every handler; the
// recognition pipeline applies its own, shorter deadline.
func NewServer(deps Deps, host string, port int, requestTimeout time.Duration) *Server {
	r := chi.NewRouter()
	s := &Server{deps: deps, router: r}

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(requestTimeout + 30*time.Second))

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: requestTimeout + time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	h := &handlers{deps: s.deps}

	s.router.Get("/api/v1/health", healthCheck)

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/recognize-group", h.recognizeGroup)
		r.Post("/upload-face", h.uploadFace)
		r.Post("/regenerate-all-features", h.regenerateAll)
		r.Get("/identities", h.identities)
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	logger.Info("starting web server", logger.LoggerOptions{Key: "addr", Data: s.httpServer.Addr})
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Info("shutting down web server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing
func (s *Server) Router() *chi.Mux {
	return s.router
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logger.Info("request",
			logger.LoggerOptions{Key: "request_id", Data: chiMiddleware.GetReqID(r.Context())},
			logger.LoggerOptions{Key: "method", Data: r.Method},
			logger.LoggerOptions{Key: "path", Data: r.URL.Path},
			logger.LoggerOptions{Key: "status", Data: ww.Status()},
			logger.LoggerOptions{Key: "duration", Data: time.Since(start).String()})
	})
}
