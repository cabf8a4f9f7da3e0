// Package web serves the register, verify and identify flows over HTTP.
package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/andresmejia3/faceauth/internal/config"
	"github.com/andresmejia3/faceauth/internal/logger"
	"github.com/andresmejia3/faceauth/internal/pipeline"
	"github.com/andresmejia3/faceauth/internal/verify"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Service is the part of the pipeline the HTTP layer depends on.
type Service interface {
	Register(ctx context.Context, req pipeline.RegisterRequest) (pipeline.RegistrationResult, error)
	Verify(ctx context.Context, req pipeline.VerifyRequest) (verify.Result, error)
	Identify(ctx context.Context, image []byte) (verify.Result, error)
}

// Server represents the web server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
}

// NewServer creates a new web server
func NewServer(cfg config.WebConfig, svc Service) *Server {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(5 * time.Minute))
	r.Use(CORS(cfg.AllowedOrigins))

	h := &handlers{svc: svc, maxUpload: cfg.MaxUploadBytes()}
	r.Get("/health", h.health)
	r.Route("/face", func(r chi.Router) {
		r.Post("/register", h.register)
		r.Post("/verify", h.verify)
		r.Post("/identify", h.identify)
	})

	return &Server{
		router: r,
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:      r,
			ReadTimeout:  2 * time.Minute, // video uploads
			WriteTimeout: 5 * time.Minute,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Start blocks serving requests until Shutdown is called.
func (s *Server) Start() error {
	logger.Info("starting web server", zap.String("addr", s.httpServer.Addr))
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
