package daemon

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/matheus3301/mirror/internal/bus"
	"github.com/matheus3301/mirror/internal/profile"
	"github.com/matheus3301/mirror/internal/status"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthService is the service name reported alongside the overall "" status.
const HealthService = "mirror.Daemon"

// Server manages the gRPC health endpoint on the profile's Unix domain socket.
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	listener   net.Listener
	socketPath string
	logger     *zap.Logger
	unsub      func()
	done       chan struct{}
}

// NewServer creates a gRPC server bound to the profile's Unix domain socket.
func NewServer(p Params, logger *zap.Logger) (*Server, error) {
	socketPath := p.SocketPath
	if socketPath == "" {
		socketPath = profile.SocketPath(p.ProfileName)
	}

	// Clean stale socket if it exists.
	if _, err := os.Stat(socketPath); err == nil {
		_ = os.Remove(socketPath)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix socket: %w", err)
	}
	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	hs := health.NewServer()
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	s := &Server{
		grpcServer: srv,
		health:     hs,
		listener:   listener,
		socketPath: socketPath,
		logger:     logger,
		done:       make(chan struct{}),
	}
	s.setServing(status.Booting)
	return s, nil
}

// Watch mirrors status machine transitions into the health status until Stop.
func (s *Server) Watch(b *bus.Bus, m *status.Machine) {
	ch, unsub := b.Subscribe(status.StatusChanged, 16)
	s.unsub = unsub
	s.setServing(m.Current())
	go func() {
		for {
			select {
			case <-s.done:
				return
			case evt := <-ch:
				if change, ok := evt.Payload.(status.StatusChange); ok {
					s.setServing(change.To)
				}
			}
		}
	}()
}

func (s *Server) setServing(state status.State) {
	st := healthpb.HealthCheckResponse_SERVING
	switch state {
	case status.Booting, status.Error:
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(HealthService, st)
}

// Start begins serving gRPC requests. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("gRPC health server starting", zap.String("socket", s.socketPath))
	return s.grpcServer.Serve(s.listener)
}

// Stop performs a graceful shutdown and removes the socket file.
func (s *Server) Stop(_ context.Context) {
	s.logger.Info("gRPC health server stopping")
	if s.unsub != nil {
		s.unsub()
	}
	close(s.done)
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
	_ = os.Remove(s.socketPath)
}
