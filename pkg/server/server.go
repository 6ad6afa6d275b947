package server

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"

	"github.com/ansel1/merry"
	"github.com/rs/zerolog"
	"github.com/tommy351/reqecho/pkg/admin"
	"github.com/tommy351/reqecho/pkg/config"
	"github.com/tommy351/reqecho/pkg/history"
	"github.com/tommy351/reqecho/pkg/registry"
	"github.com/tommy351/reqecho/pkg/wire"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type Server struct {
	Config   *config.Config
	Handler  http.Handler
	Admin    *admin.Server
	Registry registry.Registry
	Hostname string

	database *history.SQLite
}

// Listeners are the sockets the server runs on. Admin and GRPC are optional.
type Listeners struct {
	Echo  net.Listener
	Admin net.Listener
	GRPC  net.Listener
}

func (l *Listeners) Close() {
	for _, ln := range []net.Listener{l.Echo, l.Admin, l.GRPC} {
		if ln != nil {
			ln.Close()
		}
	}
}

func (s *Server) Listen() (*Listeners, error) {
	conf := s.Config.Server
	ls := new(Listeners)

	for _, item := range []struct {
		addr string
		ln   *net.Listener
	}{
		{conf.Address, &ls.Echo},
		{conf.AdminAddress, &ls.Admin},
		{conf.GRPCAddress, &ls.GRPC},
	} {
		if item.addr == "" {
			continue
		}

		ln, err := net.Listen("tcp", item.addr)

		if err != nil {
			ls.Close()
			return nil, merry.Wrap(err).WithValue("addr", item.addr)
		}

		*item.ln = ln
	}

	return ls, nil
}

func (s *Server) Serve(ctx context.Context) error {
	ls, err := s.Listen()

	if err != nil {
		return err
	}

	return s.ServeListeners(ctx, ls)
}

// ServeListeners blocks until ctx is done or a listener fails, then shuts
// everything down.
func (s *Server) ServeListeners(ctx context.Context, ls *Listeners) (err error) {
	if ls == nil || ls.Echo == nil {
		return merry.New("echo listener is required")
	}

	logger := zerolog.Ctx(ctx)
	conf := s.Config.Server
	errCh := make(chan error, 3)
	baseCtx := context.WithoutCancel(ctx)

	echoServer := s.newEchoServer(baseCtx, logger)
	echoLn := ls.Echo

	if conf.WireOrder {
		echoLn = wire.NewListener(echoLn, conf.MaxHeaderBytes)
	}

	go func() {
		logger.Info().Str("addr", ls.Echo.Addr().String()).Msg("Starting server")
		if err := serveHTTP(echoServer, echoLn); err != nil {
			errCh <- err
		}
	}()

	var adminServer *http.Server

	if ls.Admin != nil && s.Admin != nil {
		adminServer = &http.Server{
			Handler:           s.Admin.Handler(),
			ReadHeaderTimeout: conf.ReadHeaderTimeout,
			BaseContext:       func(net.Listener) context.Context { return baseCtx },
			ErrorLog:          newErrorLog(logger, "admin"),
		}

		go func() {
			logger.Info().Str("addr", ls.Admin.Addr().String()).Msg("Starting admin server")
			if err := serveHTTP(adminServer, ls.Admin); err != nil {
				errCh <- err
			}
		}()
	}

	healthServer := health.NewServer()
	var grpcServer *grpc.Server

	if ls.GRPC != nil {
		grpcServer = grpc.NewServer()
		healthpb.RegisterHealthServer(grpcServer, healthServer)
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

		go func() {
			logger.Info().Str("addr", ls.GRPC.Addr().String()).Msg("Starting gRPC health server")

			if err := grpcServer.Serve(ls.GRPC); err != nil {
				errCh <- merry.Wrap(err)
			}
		}()
	}

	instance := s.register(ctx, ls.Echo.Addr())

	select {
	case <-ctx.Done():
	case err = <-errCh:
		logger.Error().Stack().Err(err).Msg("Server stopped unexpectedly")
	}

	s.shutdown(baseCtx, instance, healthServer, grpcServer, echoServer, adminServer)
	return
}

func (s *Server) newEchoServer(ctx context.Context, logger *zerolog.Logger) *http.Server {
	conf := s.Config.Server
	handler := s.Handler

	if conf.H2C {
		handler = h2c.NewHandler(handler, &http2.Server{})
	}

	return &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: conf.ReadHeaderTimeout,
		MaxHeaderBytes:    conf.MaxHeaderBytes,
		BaseContext:       func(net.Listener) context.Context { return ctx },
		ConnContext:       wire.WithConn,
		ErrorLog:          newErrorLog(logger, "echo"),
	}
}

func (s *Server) register(ctx context.Context, addr net.Addr) *registry.Instance {
	if s.Registry == nil {
		return nil
	}

	logger := zerolog.Ctx(ctx)
	instance, err := registry.InstanceFromAddr(addr, s.Hostname)

	if err == nil {
		err = s.Registry.Register(instance)
	}

	if err != nil {
		logger.Warn().Stack().Err(err).Msg("Failed to register the instance")
		return nil
	}

	logger.Info().
		Str("ip", instance.IP).
		Uint64("port", instance.Port).
		Msg("Registered instance")

	return instance
}

func (s *Server) shutdown(ctx context.Context, instance *registry.Instance, healthServer *health.Server, grpcServer *grpc.Server, servers ...*http.Server) {
	logger := zerolog.Ctx(ctx)
	healthServer.Shutdown()

	if instance != nil {
		if err := s.Registry.Deregister(instance); err != nil {
			logger.Warn().Stack().Err(err).Msg("Failed to deregister the instance")
		}
	}

	if s.Admin != nil {
		s.Admin.Close()
	}

	ctx, cancel := context.WithTimeout(ctx, s.Config.Server.ShutdownTimeout)
	defer cancel()

	for _, srv := range servers {
		if srv == nil {
			continue
		}

		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn().Err(err).Msg("Failed to shut down gracefully")
			srv.Close()
		}
	}

	if grpcServer != nil {
		grpcServer.GracefulStop()
	}

	logger.Info().Msg("Server stopped")
}

// Close releases resources owned by the server.
func (s *Server) Close() error {
	if s.database != nil {
		return s.database.Close()
	}

	return nil
}

func serveHTTP(srv *http.Server, ln net.Listener) error {
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return merry.Wrap(err)
	}

	return nil
}

func newErrorLog(logger *zerolog.Logger, component string) *log.Logger {
	l := logger.With().Str("component", component).Logger()
	return log.New(l, "", 0)
}
