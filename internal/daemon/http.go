package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/matheus3301/mirror/internal/api"
	"go.uber.org/zap"
)

// HTTPServer serves the gin API on a TCP address.
type HTTPServer struct {
	srv      *http.Server
	listener net.Listener
	logger   *zap.Logger
}

// NewHTTPServer binds addr and prepares the API handler.
func NewHTTPServer(addr string, handlers *api.Server, logger *zap.Logger) (*HTTPServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return &HTTPServer{
		srv: &http.Server{
			Handler:           handlers.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		},
		listener: ln,
		logger:   logger,
	}, nil
}

// Addr returns the bound address, useful when addr had port 0.
func (h *HTTPServer) Addr() string {
	return h.listener.Addr().String()
}

// Start serves until Stop. Blocks.
func (h *HTTPServer) Start() error {
	h.logger.Info("HTTP API starting", zap.String("addr", h.Addr()))
	if err := h.srv.Serve(h.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts the server down, waiting for in-flight requests until ctx ends.
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("HTTP API stopping")
	return h.srv.Shutdown(ctx)
}
