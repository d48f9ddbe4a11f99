// Package server exposes deployments over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mcdonaldj/sitedrop/internal/deploy"
	"github.com/mcdonaldj/sitedrop/internal/history"
	"github.com/mcdonaldj/sitedrop/internal/logging"
	"github.com/mcdonaldj/sitedrop/internal/metrics"
)

// multipartSlack covers form field and boundary overhead on top of the
// archive itself.
const multipartSlack = 1 << 20

// Deployer is the deployment service the server fronts.
type Deployer interface {
	Deploy(ctx context.Context, req deploy.Request) (*deploy.Result, error)
	Lookup(ctx context.Context, id string) (history.Record, error)
	Recent(ctx context.Context, limit int) ([]history.Record, error)
}

// Compile-time check that the real service satisfies Deployer.
var _ Deployer = (*deploy.Service)(nil)

// Options configures a Server.
type Options struct {
	Addr            string
	MaxArchiveBytes int64
	// Gatherer serves /metrics when set.
	Gatherer prometheus.Gatherer
	Metrics  metrics.GatewayMetrics
	Logger   *slog.Logger
}

// Server is the HTTP front end.
type Server struct {
	opts     Options
	deployer Deployer
	engine   *gin.Engine
	server   *http.Server
	listener net.Listener
	logger   *slog.Logger
	metrics  metrics.GatewayMetrics
}

// New builds the router. Call Start to begin serving.
func New(d Deployer, opts Options) *Server {
	if opts.Metrics == nil {
		opts.Metrics = metrics.Noop{}
	}
	s := &Server{
		opts:     opts,
		deployer: d,
		logger:   logging.Component(opts.Logger, "http"),
		metrics:  opts.Metrics,
	}

	gin.SetMode(gin.ReleaseMode)
	s.engine = gin.New()
	s.engine.Use(gin.Recovery())
	s.engine.Use(s.requestIDMiddleware())
	s.engine.Use(s.loggingMiddleware())
	s.engine.MaxMultipartMemory = 8 << 20

	s.registerRoutes()
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) registerRoutes() {
	s.engine.POST("/deploy", s.handleDeploy)
	s.engine.GET("/api/health", s.handleHealth)

	v1 := s.engine.Group("/api/v1")
	{
		v1.GET("/deploys", s.handleRecent)
		v1.GET("/deploys/:id", s.handleLookup)
	}

	if s.opts.Gatherer != nil {
		s.engine.GET("/metrics", gin.WrapH(metrics.Handler(s.opts.Gatherer)))
	}
}

// Start binds the listen address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return err
	}
	s.listener = ln
	// No write timeout: a deployment response waits for every upload.
	s.server = &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		s.logger.Info("HTTP server starting", "addr", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.opts.Addr
	}
	return s.listener.Addr().String()
}

// Stop drains in-flight requests until ctx is done.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}
