package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"

	api "github.com/oshokin/procdb/internal/api/grpc/record"
	"github.com/oshokin/procdb/internal/config"
	"github.com/oshokin/procdb/internal/database"
	"github.com/oshokin/procdb/internal/logger"
	repository "github.com/oshokin/procdb/internal/repository/state"
	"github.com/oshokin/procdb/internal/service/common"
)

// Options controls the procdb-server process and configuration.
type Options struct {
	// ConfigPath specifies the path to settings YAML file.
	ConfigPath string
	// ListenAddress provides an optional listen address override for the gRPC server.
	ListenAddress string
	// DatabaseFile overrides the record definition file from the settings.
	DatabaseFile string
	// AutosaveFile overrides the autosave file from the settings.
	AutosaveFile string
	// LogLevel overrides the log level from the settings.
	LogLevel string
	// AccessLog writes one line per RPC whatever the log level is.
	AccessLog bool
	// SingleInstance refuses to start next to another server process.
	SingleInstance bool
}

// ErrNoServerAddress indicates missing server configuration.
var ErrNoServerAddress = errors.New("no server address configured")

// metricsShutdownTimeout bounds the graceful stop of the metrics endpoint.
const metricsShutdownTimeout = 5 * time.Second

// Run loads the records, starts scanning and serves the gRPC API until ctx
// is canceled.
//
//nolint:funlen // Linear wiring of the whole process.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "procdb-server")

	settings, err := loadSettings(opts)
	if err != nil {
		return err
	}

	if err = logger.SetLevelString(settings.LogLevel); err != nil {
		return fmt.Errorf("set log level: %w", err)
	}

	if opts.SingleInstance {
		if err = common.EnsureSingleInstance(); err != nil {
			return err
		}
	}

	listenAddress, err := resolveListenAddress(settings.ServerAddress, opts.ListenAddress)
	if err != nil {
		return fmt.Errorf("resolve listen address: %w", err)
	}

	defs, err := database.LoadFile(settings.DatabaseFile)
	if err != nil {
		return err
	}

	var repo repository.Repository
	if settings.AutosaveFile != "" {
		repo = repository.NewFileRepository(settings.AutosaveFile)
	}

	eng, err := newEngine(ctx, settings, defs, repo, nil)
	if err != nil {
		return fmt.Errorf("initialise engine: %w", err)
	}

	lc := net.ListenConfig{}

	lis, err := lc.Listen(ctx, "tcp", listenAddress)
	if err != nil {
		eng.db.Close()

		return fmt.Errorf("listen on %s: %w", listenAddress, err)
	}

	unary, stream := accessLog(ctx, opts.AccessLog)
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(unary), grpc.ChainStreamInterceptor(stream))
	api.RegisterRecordServiceServer(grpcServer, api.NewServer(eng.db, eng.scheduler, eng.hub))

	eng.start(ctx)

	metricsServer := startMetrics(ctx, settings.MetricsAddress)

	logger.InfoKV(ctx, "Record server listening",
		"listen_address", listenAddress,
		"database_file", settings.DatabaseFile,
		"records", len(defs),
		"autosave_file", settings.AutosaveFile,
	)

	// Done channel is closed after GracefulStop finishes to ensure we block
	// until the server fully stops before returning.
	done := make(chan struct{})

	go func() {
		<-ctx.Done()
		logger.Info(ctx, "Shutting down gRPC server")

		// Monitor streams end when the hub closes.
		eng.stop(ctx)
		grpcServer.GracefulStop()
		stopMetrics(ctx, metricsServer)
		close(done)
	}()

	if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("serve gRPC: %w", err)
	}

	<-done
	logger.Info(ctx, "GRPC server stopped")

	return nil
}

// loadSettings reads the settings and applies command-line overrides.
func loadSettings(opts *Options) (*config.Config, error) {
	settings, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	if opts.DatabaseFile != "" {
		settings.DatabaseFile = opts.DatabaseFile
	}

	if opts.AutosaveFile != "" {
		settings.AutosaveFile = opts.AutosaveFile
	}

	if opts.LogLevel != "" {
		settings.LogLevel = opts.LogLevel
	}

	if err = config.Validate(settings); err != nil {
		return nil, err
	}

	return settings, nil
}

// startMetrics serves /metrics on address. An empty address disables it.
func startMetrics(ctx context.Context, address string) *http.Server {
	if address == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              address,
		Handler:           mux,
		ReadHeaderTimeout: metricsShutdownTimeout,
	}

	go func() {
		logger.InfoKV(ctx, "Metrics endpoint listening", "address", address)

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorKV(ctx, "Metrics endpoint failed", "error", err)
		}
	}()

	return srv
}

func stopMetrics(ctx context.Context, srv *http.Server) {
	if srv == nil {
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), metricsShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.ErrorKV(ctx, "Metrics endpoint shutdown failed", "error", err)
	}
}

// resolveListenAddress determines the listen address for the gRPC server.
// If override is provided, uses it directly. Otherwise extracts port from configAddr.
// Returns appropriate listen address (e.g., ":8080" for port-only binding).
func resolveListenAddress(configAddr, override string) (string, error) {
	if override != "" {
		return override, nil
	}

	if configAddr == "" {
		return "", ErrNoServerAddress
	}

	_, port, err := net.SplitHostPort(configAddr)
	if err != nil {
		return "", fmt.Errorf("invalid server address format %q: %w", configAddr, err)
	}

	return ":" + port, nil
}
