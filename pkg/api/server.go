// Package api exposes the coordinator over HTTP: health and status, the
// node registry and blacklist, Prometheus metrics and a WebSocket feed of
// blacklist snapshots.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/aegis-protocol/meshguard/pkg/blacklist"
	"github.com/aegis-protocol/meshguard/pkg/coordinator"
	"github.com/aegis-protocol/meshguard/pkg/registry"
)

// Inspector answers read-only queries about coordinator state.
type Inspector interface {
	Status(ctx context.Context) (coordinator.Status, error)
	Nodes(ctx context.Context) ([]registry.NodeStat, error)
	Blacklist(ctx context.Context) ([]blacklist.Entry, error)
}

// Feed hands out blacklist snapshot subscriptions.
type Feed interface {
	Subscribe() (string, <-chan []byte)
	Unsubscribe(id string)
}

const (
	queryTimeout    = 2 * time.Second
	writeTimeout    = 10 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Server is the HTTP API server.
type Server struct {
	inspector  Inspector
	feed       Feed
	gatherer   prometheus.Gatherer
	log        logrus.FieldLogger
	router     *gin.Engine
	httpServer *http.Server
	upgrader   websocket.Upgrader
}

// NewServer builds the router. gatherer may be nil to serve the default
// Prometheus registry.
func NewServer(addr string, insp Inspector, feed Feed, gatherer prometheus.Gatherer, log logrus.FieldLogger) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	s := &Server{
		inspector: insp,
		feed:      feed,
		gatherer:  gatherer,
		log:       log.WithField("component", "api"),
		router:    gin.New(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	s.router.Use(gin.Recovery(), s.loggerMiddleware())
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Serve listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", s.httpServer.Addr).Info("Starting API server")
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.httpServer.Shutdown(sctx)
	}
}

func (s *Server) setupRoutes() {
	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/health", s.handleHealth)
		v1.GET("/status", s.handleStatus)
		v1.GET("/nodes", s.handleNodes)
		v1.GET("/blacklist", s.handleBlacklist)
		v1.GET("/feed", s.handleFeed)
	}
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
}

func (s *Server) loggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		s.log.WithFields(logrus.Fields{
			"status":     c.Writer.Status(),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"ip":         c.ClientIP(),
			"latency_ms": time.Since(start).Milliseconds(),
		}).Debug("API request")
	}
}
