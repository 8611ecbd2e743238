// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/stacklok/summerboot/pkg/lifecycle"
	"github.com/stacklok/summerboot/pkg/logger"
	"github.com/stacklok/summerboot/pkg/registry"
)

const grpcStopTimeout = 5 * time.Second

// GRPCServer serves the gRPC services in the registry together with the
// standard health service.
type GRPCServer struct {
	server *grpc.Server
	health *health.Server
	names  []string
}

// NewGRPCServer registers every gRPC service of reg. Calls are rejected
// with Unavailable while pause is set, and the health service reports
// NOT_SERVING.
func NewGRPCServer(reg *registry.Registry, pause *lifecycle.PauseFlag) *GRPCServer {
	if pause == nil {
		pause = lifecycle.NewPauseFlag()
	}
	g := &GRPCServer{
		server: grpc.NewServer(
			grpc.ChainUnaryInterceptor(pauseUnaryInterceptor(pause)),
			grpc.ChainStreamInterceptor(pauseStreamInterceptor(pause)),
		),
		health: health.NewServer(),
	}
	for _, svc := range reg.GRPCServices() {
		g.server.RegisterService(svc.Desc, svc.Impl)
		g.names = append(g.names, svc.Desc.ServiceName)
		logger.Debugf("gRPC service %s registered", svc.Desc.ServiceName)
	}
	healthpb.RegisterHealthServer(g.server, g.health)
	g.setServing(!pause.IsPaused())
	pause.OnChange(func(paused bool, _ string) { g.setServing(!paused) })
	return g
}

func (g *GRPCServer) setServing(serving bool) {
	st := healthpb.HealthCheckResponse_SERVING
	if !serving {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	g.health.SetServingStatus("", st)
	for _, name := range g.names {
		g.health.SetServingStatus(name, st)
	}
}

// Serve serves on listener until ctx is done, then stops gracefully, forcing
// the stop if in-flight calls do not finish in time.
func (g *GRPCServer) Serve(ctx context.Context, listener net.Listener) error {
	logger.Infof("starting gRPC server on %s", listener.Addr())

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		g.health.Shutdown()
		done := make(chan struct{})
		go func() {
			g.server.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(grpcStopTimeout):
			g.server.Stop()
		}
	}()

	err := g.server.Serve(listener)
	if err != nil && !errors.Is(err, net.ErrClosed) && !errors.Is(err, grpc.ErrServerStopped) {
		g.server.Stop()
		return err
	}
	<-stopped
	logger.Infof("gRPC server stopped")
	return nil
}

func pauseUnaryInterceptor(pause *lifecycle.PauseFlag) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if paused, reason := pause.Status(); paused && !isHealthMethod(info.FullMethod) {
			return nil, status.Error(codes.Unavailable, reason)
		}
		return handler(ctx, req)
	}
}

func pauseStreamInterceptor(pause *lifecycle.PauseFlag) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if paused, reason := pause.Status(); paused && !isHealthMethod(info.FullMethod) {
			return status.Error(codes.Unavailable, reason)
		}
		return handler(srv, ss)
	}
}

func isHealthMethod(fullMethod string) bool {
	return strings.HasPrefix(fullMethod, "/"+healthpb.Health_ServiceDesc.ServiceName+"/")
}
