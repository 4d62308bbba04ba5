package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RouterConfig holds the collaborators mounted on the public router.
type RouterConfig struct {
	Logger          *zap.Logger
	Ingest          Ingester
	Actions         ActionSubmitter
	Auth            *Authenticator
	SignatureHeader string
}

// NewRouter builds the gin engine serving webhooks under /webhooks and the
// action API under /v1.
func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(RequestContext(cfg.Logger), Recovery(), AccessLog(), Metrics())

	NewWebhookHandler(cfg.Ingest, cfg.SignatureHeader).Register(r.Group("/webhooks"))

	v1 := r.Group("/v1")
	v1.Use(RequireBearer(cfg.Auth))
	NewActionHandler(cfg.Actions).Register(v1)

	return r
}

// Server wraps the public HTTP listener.
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
}

// NewServer creates a server for handler on addr.
func NewServer(addr string, handler http.Handler, readTimeout, writeTimeout time.Duration, logger *zap.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       readTimeout,
			WriteTimeout:      writeTimeout,
		},
		logger: logger,
	}
}

// Start serves in the background. A listener failure is sent on the returned channel.
func (s *Server) Start() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting API server", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("API server error", zap.Error(err))
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Stop drains in-flight requests until ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server")
	return s.httpServer.Shutdown(ctx)
}
