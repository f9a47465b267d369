package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// handleHealth handles GET /api/v1/health.
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleStatus handles GET /api/v1/status.
func (s *Server) handleStatus(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), queryTimeout)
	defer cancel()

	status, err := s.inspector.Status(ctx)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, status)
}

// handleNodes handles GET /api/v1/nodes.
func (s *Server) handleNodes(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), queryTimeout)
	defer cancel()

	nodes, err := s.inspector.Nodes(ctx)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(nodes), "nodes": nodes})
}

// handleBlacklist handles GET /api/v1/blacklist.
func (s *Server) handleBlacklist(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), queryTimeout)
	defer cancel()

	entries, err := s.inspector.Blacklist(ctx)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(entries), "entries": entries})
}

// handleFeed handles GET /api/v1/feed. The connection receives the latest
// blacklist snapshot and then every update until either side closes.
func (s *Server) handleFeed(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.WithError(err).Warn("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	id, ch := s.feed.Subscribe()
	defer s.feed.Unsubscribe(id)
	log := s.log.WithField("subscriber", id)
	log.Info("Feed subscriber connected")

	// Reads only detect the peer going away; subscribers send nothing.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case data, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.WithError(err).Info("Feed subscriber write failed")
				return
			}
		case <-closed:
			log.Info("Feed subscriber disconnected")
			return
		}
	}
}
