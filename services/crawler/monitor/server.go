// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package monitor serves the latest report checkpoint of a long-running
// scan over HTTP.
//
// Routes:
//
//	GET /healthz    liveness
//	GET /report     latest checkpoint as JSON, 404 before the first one
//	GET /report/ws  websocket that receives every new checkpoint
//	GET /metrics    Prometheus metrics
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/AleutianAI/hypickle/services/crawler/report"
	"github.com/AleutianAI/hypickle/services/crawler/telemetry"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// DefaultAddr is the listen address when none is configured.
const DefaultAddr = "127.0.0.1:8642"

// subscriberBuffer is how many checkpoints a slow websocket client may
// fall behind before it starts missing intermediate ones.
const subscriberBuffer = 4

const writeTimeout = 10 * time.Second

// Config configures a Server.
type Config struct {
	Addr    string
	Logger  *slog.Logger
	Metrics *telemetry.Metrics
}

// Server publishes checkpoints. It implements report.Checkpointer.
//
// # Thread Safety
//
// Safe for concurrent use. Checkpoint is called from the scan goroutine
// while handlers read from the HTTP server's goroutines.
type Server struct {
	cfg      Config
	logger   *slog.Logger
	router   *gin.Engine
	upgrader websocket.Upgrader

	mu     sync.RWMutex
	latest *report.Checkpoint
	subs   map[chan report.Checkpoint]struct{}
}

var _ report.Checkpointer = (*Server)(nil)

// New creates a server with its routes registered.
func New(cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		cfg:    cfg,
		logger: logger,
		router: gin.New(),
		upgrader: websocket.Upgrader{
			// The monitor binds to loopback by default; any local page may watch.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		subs: make(map[chan report.Checkpoint]struct{}),
	}
	s.router.Use(gin.Recovery())
	s.router.Use(otelgin.Middleware("hypickle-monitor"))

	metrics := telemetry.MetricsHandler()
	if metrics == nil {
		metrics = promhttp.Handler()
	}

	s.router.GET("/healthz", s.handleHealth)
	s.router.GET("/report", s.handleReport)
	s.router.GET("/report/ws", s.handleReportWS)
	s.router.GET("/metrics", gin.WrapH(metrics))
	return s
}

// Router returns the gin engine, for tests and embedding.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("monitor listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Info("monitor listening", slog.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("monitor serve: %w", err)
	case <-ctx.Done():
	}

	s.closeSubscribers()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("monitor shutdown: %w", err)
	}
	return nil
}

// Checkpoint stores cp as the latest report and pushes it to websocket
// subscribers. Subscribers whose buffer is full miss this checkpoint.
func (s *Server) Checkpoint(ctx context.Context, cp report.Checkpoint) error {
	s.mu.Lock()
	s.latest = &cp
	for ch := range s.subs {
		select {
		case ch <- cp:
		default:
			s.logger.Debug("websocket subscriber behind, dropping checkpoint")
		}
	}
	s.mu.Unlock()
	s.cfg.Metrics.RecordCheckpoint(ctx, "monitor")
	return nil
}

// Latest returns the most recent checkpoint.
func (s *Server) Latest() (report.Checkpoint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return report.Checkpoint{}, false
	}
	return *s.latest, true
}

func (s *Server) subscribe() chan report.Checkpoint {
	ch := make(chan report.Checkpoint, subscriberBuffer)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()
	return ch
}

func (s *Server) unsubscribe(ch chan report.Checkpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[ch]; ok {
		delete(s.subs, ch)
		close(ch)
	}
}

func (s *Server) closeSubscribers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subs {
		delete(s.subs, ch)
		close(ch)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleReport(c *gin.Context) {
	cp, ok := s.Latest()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no checkpoint yet"})
		return
	}
	c.JSON(http.StatusOK, cp)
}

func (s *Server) handleReportWS(c *gin.Context) {
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer ws.Close()

	ch := s.subscribe()
	defer s.unsubscribe(ch)

	// Reads only detect the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if cp, ok := s.Latest(); ok {
		if err := s.send(ws, cp); err != nil {
			return
		}
	}
	for {
		select {
		case cp, ok := <-ch:
			if !ok {
				_ = ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(time.Second))
				return
			}
			if err := s.send(ws, cp); err != nil {
				return
			}
		case <-gone:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}

func (s *Server) send(ws *websocket.Conn, cp report.Checkpoint) error {
	_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := ws.WriteJSON(cp); err != nil {
		s.logger.Warn("websocket write failed", slog.String("error", err.Error()))
		return err
	}
	return nil
}
