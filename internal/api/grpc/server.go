// Package grpc hosts the OTLP receiver that collectors and pipeline
// agents export metrics to.
package grpc

import (
	"context"
	"fmt"
	"net"

	collectormetrics "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"
)

const defaultMaxMsgSize = 16 << 20

// ServerConfig holds the receiver listen settings.
type ServerConfig struct {
	Port             int
	MaxRecvMsgSize   int
	MaxSendMsgSize   int
	EnableReflection bool
}

// DefaultServerConfig returns the stock receiver configuration: the
// conventional OTLP port with 16MB message caps.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:             4317,
		MaxRecvMsgSize:   defaultMaxMsgSize,
		MaxSendMsgSize:   defaultMaxMsgSize,
		EnableReflection: true,
	}
}

// Server runs the gRPC endpoint carrying the OTLP metrics service.
type Server struct {
	srv    *grpc.Server
	config *ServerConfig
	logger *zap.Logger
}

// NewServer builds the receiver around the given metrics service. A nil
// config falls back to DefaultServerConfig.
func NewServer(config *ServerConfig, metrics *OTLPMetricsService, logger *zap.Logger) *Server {
	if config == nil {
		config = DefaultServerConfig()
	}

	srv := grpc.NewServer(
		grpc.MaxRecvMsgSize(config.MaxRecvMsgSize),
		grpc.MaxSendMsgSize(config.MaxSendMsgSize),
	)
	collectormetrics.RegisterMetricsServiceServer(srv, metrics)

	// Reflection lets grpcurl hit the endpoint without compiled protos.
	if config.EnableReflection {
		reflection.Register(srv)
	}

	return &Server{srv: srv, config: config, logger: logger}
}

// Start binds the listener and begins serving in the background. It
// returns once the port is bound.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.Port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.logger.Info("OTLP gRPC receiver listening", zap.String("addr", addr))

	go func() {
		if err := s.srv.Serve(lis); err != nil {
			s.logger.Error("gRPC server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop drains in-flight RPCs until ctx expires, then cuts them off.
func (s *Server) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.srv.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.srv.Stop()
		return ctx.Err()
	}
}
