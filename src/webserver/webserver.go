// Package webserver serves the board page, the live websocket feed, a JSON
// listing and the secret-gated ingestion endpoint.
package webserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/stake-plus/roomboard/src/board"
	"github.com/stake-plus/roomboard/src/board/validate"
	"github.com/stake-plus/roomboard/src/hub"
)

// Board is the part of the board manager the HTTP app needs.
type Board interface {
	Save(ctx context.Context, raw validate.Fields) (board.Room, error)
	Snapshot(ctx context.Context) (board.Event, error)
}

// Options configures the HTTP app.
type Options struct {
	Listen        string
	AllowOrigins  []string
	BackendSecret string
	ExpireSec     int
	InviteURL     string
	CDN           bool
	Description   string

	// RateLimit requests per RateWindow per client on POST /party.
	RateLimit  int
	RateWindow time.Duration
}

// Server is the HTTP app. It implements modules.Module.
type Server struct {
	opts    Options
	board   Board
	hub     *hub.Hub
	engine  *gin.Engine
	limiter *RateLimiter
	srv     *http.Server
	done    chan struct{}
}

func New(opts Options, b Board, h *hub.Hub) *Server {
	if opts.RateLimit <= 0 {
		opts.RateLimit = 30
	}
	if opts.RateWindow <= 0 {
		opts.RateWindow = time.Minute
	}
	if len(opts.AllowOrigins) == 0 {
		opts.AllowOrigins = []string{"*"}
	}

	s := &Server{
		opts:    opts,
		board:   b,
		hub:     h,
		engine:  gin.New(),
		limiter: NewRateLimiter(opts.RateLimit, opts.RateWindow),
	}
	s.engine.Use(requestLogger(), gin.Recovery())
	attachRoutes(s.engine, s)
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) Name() string { return "webserver" }

// Start binds the listener and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Listen)
	if err != nil {
		return err
	}
	s.srv = &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		zap.L().Named("webserver").Info("serving requests", zap.String("addr", ln.Addr().String()))
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.L().Named("webserver").Error("failed to serve http requests", zap.Error(err))
		}
	}()
	return nil
}

// Stop drains HTTP requests and disconnects websocket subscribers.
func (s *Server) Stop(ctx context.Context) {
	s.limiter.Close()
	if s.srv == nil {
		return
	}
	if err := s.srv.Shutdown(ctx); err != nil {
		zap.L().Named("webserver").Warn("shutdown", zap.Error(err))
	}
	s.hub.Close()
	<-s.done
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		zap.L().Named("http").Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("client", c.ClientIP()),
		)
	}
}
