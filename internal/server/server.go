// Package server exposes the messaging operations over HTTP and mounts the real-time channel.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

const shutdownTimeout = 15 * time.Second

// Services are the components routes delegate to. Chat, Identity and Store are required.
type Services struct {
	Chat     ChatService
	Identity Authenticator
	Store    Pinger
	// Bus is optional; without it messages sent over HTTP are not pushed to live connections
	Bus Publisher
	// Realtime serves the websocket endpoint, optional
	Realtime http.Handler
}

// Server defines fields used in HTTP processing
type Server struct {
	logger        *zap.SugaredLogger
	httpServer    *http.Server
	afterShutdown []func()
}

// NewServer returns new Server struct with provided zap.SugaredLogger and Services
func NewServer(logger *zap.SugaredLogger, services Services, opts ...Option) (*Server, error) {
	if services.Chat == nil || services.Identity == nil || services.Store == nil {
		return nil, errors.New("chat, identity and store services are required")
	}

	h := &handler{
		logger: logger,
		chat:   services.Chat,
		bus:    services.Bus,
		store:  services.Store,
	}

	cfg := &config{
		httpServer: &http.Server{
			Addr: ":5000",
		},
		handlers: map[string]http.Handler{
			"/conversations":          enforceGET(http.HandlerFunc(h.conversations)),
			"/messages/{otherUserId}": enforceGET(http.HandlerFunc(h.history)),
			"/messages":               enforcePOSTJSON(http.HandlerFunc(h.createMessage)),
			"/users/search":           enforceGET(http.HandlerFunc(h.searchUsers)),
			"/unread-count":           enforceGET(http.HandlerFunc(h.unreadCount)),
			"/health":                 enforceGET(http.HandlerFunc(h.health)),
			"/":                       http.HandlerFunc(notFound),
		},
		streams: make(map[string]http.Handler),
	}

	if services.Realtime != nil {
		cfg.streams["/ws"] = enforceGET(services.Realtime)
	}

	for _, opt := range opts {
		opt.apply(cfg)
	}

	for _, opt := range []Option{
		applyAuthenticate(services.Identity, logger, "/health", "/"),
		applyLog(logger.Desugar()),
		registerHandlers(),
	} {
		opt.apply(cfg)
	}

	return &Server{
		logger:        logger,
		httpServer:    cfg.httpServer,
		afterShutdown: cfg.afterShutdown,
	}, nil
}

// Handler returns the root http.Handler of the server
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start calls ListenAndServe on http.Server instance inside Server struct
// and implements graceful shutdown via goroutine waiting for signals
func (s *Server) Start() error {
	idleConnsClosed := make(chan struct{})

	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		s.logger.Info("Shutting down HTTP server")

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Errorf("srv.Shutdown: %v", err)
		}
		s.logger.Info("HTTP server is stopped")

		close(idleConnsClosed)
	}()

	s.logger.Infof("Starting HTTP server on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("s.httpServer.ListenAndServe: %v", err)
	}

	<-idleConnsClosed

	for _, f := range s.afterShutdown {
		f()
	}

	return nil
}
