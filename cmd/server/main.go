// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/afero"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/SyedDaiam9101/liveness-service/internal/cache"
	"github.com/SyedDaiam9101/liveness-service/internal/config"
	"github.com/SyedDaiam9101/liveness-service/internal/handler"
	"github.com/SyedDaiam9101/liveness-service/internal/httpapi"
	"github.com/SyedDaiam9101/liveness-service/internal/inference"
	"github.com/SyedDaiam9101/liveness-service/internal/liveness"
	"github.com/SyedDaiam9101/liveness-service/internal/logging"
	"github.com/SyedDaiam9101/liveness-service/internal/metrics"
	"github.com/SyedDaiam9101/liveness-service/internal/middleware"
	"github.com/SyedDaiam9101/liveness-service/internal/modelstore"
	"github.com/SyedDaiam9101/liveness-service/internal/motion"
	"github.com/SyedDaiam9101/liveness-service/internal/repository"
)

const serviceName = "liveness-service"

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(2)
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger.Info("starting "+serviceName,
		zap.Int("port", cfg.Port),
		zap.Int("http_port", cfg.HTTPPort),
		zap.String("model", cfg.Model),
		zap.Float64("threshold", cfg.Threshold),
		zap.Int("pool_size", cfg.PoolSize),
		zap.Bool("redis", cfg.Redis != ""),
		zap.Bool("audit_log", cfg.DatabaseDSN != ""),
		zap.Bool("otel", cfg.OTELEnabled),
		zap.Bool("motion", cfg.MotionEnabled))

	ctx := context.Background()

	// Initialize OpenTelemetry tracer
	if cfg.OTELEnabled {
		tracerShutdown, err := initTracer(cfg.OTELEndpoint)
		if err != nil {
			logger.Warn("failed to initialize tracer", zap.Error(err))
		} else {
			defer func() { _ = tracerShutdown(context.Background()) }()
			logger.Info("OpenTelemetry tracing enabled", zap.String("endpoint", cfg.OTELEndpoint))
		}
	}

	pool, err := buildPool(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := pool.Close(); err != nil {
			logger.Warn("failed to close classifiers", zap.Error(err))
		}
	}()

	opts := []handler.ServiceOption{
		handler.WithEvaluateTimeout(cfg.AcquireTimeout),
		handler.WithMaxImagePixels(cfg.MaxImagePixels),
	}

	// Initialize Redis cache (optional)
	if cfg.Redis != "" {
		cacheClient, err := cache.New(ctx, cfg.Redis)
		if err != nil {
			logger.Warn("failed to connect to Redis, continuing without cache", zap.Error(err))
		} else {
			defer cacheClient.Close()
			opts = append(opts, handler.WithCache(cacheClient, cfg.CacheTTL))
			logger.Info("Redis verdict cache enabled", zap.String("addr", cfg.Redis))
		}
	}

	// The audit log is required once configured.
	if cfg.DatabaseDSN != "" {
		repo, err := repository.Open(ctx, cfg.DatabaseDSN, logger)
		if err != nil {
			return err
		}
		defer repo.Close()
		if err := repo.AutoMigrate(ctx); err != nil {
			return err
		}
		opts = append(opts, handler.WithAuditLog(repo))
		logger.Info("verdict audit log enabled")
	}

	var registry *motion.Registry
	if cfg.MotionEnabled {
		registry = motion.NewRegistry(cfg.MotionMaxSessions, cfg.MotionSessionTTL)
		opts = append(opts, handler.WithMotion(registry))
	}

	svc := handler.NewService(pool, logger, opts...)

	// Create gRPC health server
	healthServer := health.NewServer()

	httpServer := startHTTPServer(cfg, svc, registry, healthServer, logger)

	// Build interceptor chain
	interceptors := []grpc.UnaryServerInterceptor{
		middleware.UnaryRequestIDInterceptor(),
		middleware.UnaryLoggingInterceptor(logger.Named("grpc")),
		middleware.UnaryMetricsInterceptor(),
	}
	var serverOpts []grpc.ServerOption
	if cfg.OTELEnabled {
		serverOpts = append(serverOpts, grpc.StatsHandler(otelgrpc.NewServerHandler()))
	}
	serverOpts = append(serverOpts, grpc.ChainUnaryInterceptor(interceptors...))

	grpcServer := grpc.NewServer(serverOpts...)
	handler.Register(grpcServer, handler.New(svc))
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	// Enable server reflection for debugging
	reflection.Register(grpcServer)

	addr := fmt.Sprintf(":%d", cfg.Port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	healthServer.SetServingStatus(handler.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	metrics.SetHealthy()

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("gRPC server listening", zap.String("addr", addr))

	// The drain delay gives load balancers time to detect the unhealthy status.
	if err := serve(lis, grpcServer, httpServer, healthServer, sigChan, 5*time.Second, logger); err != nil {
		return err
	}

	logger.Info("server shutdown complete")
	return nil
}

// serve runs grpcServer on lis until a signal arrives on stop, then marks the
// service unhealthy, waits drainDelay and stops both servers. It returns only
// after httpServer has finished shutting down.
func serve(lis net.Listener, grpcServer *grpc.Server, httpServer *http.Server, healthServer *health.Server,
	stop <-chan os.Signal, drainDelay time.Duration, logger *zap.Logger) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		sig := <-stop
		logger.Info("shutting down gracefully", zap.String("signal", sig.String()))

		healthServer.SetServingStatus(handler.ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		metrics.SetUnhealthy()

		time.Sleep(drainDelay)

		grpcServer.GracefulStop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("HTTP server shutdown failed", zap.Error(err))
		}
	}()

	// A signal that lands before Serve starts leaves the server stopped.
	if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("failed to serve: %w", err)
	}
	<-done
	return nil
}

// buildPool loads cfg.PoolSize classifiers. In mock mode the model bytes come
// from an in-memory filesystem so no artifact is needed on disk.
func buildPool(cfg *config.Config, logger *zap.Logger) (*liveness.Pool, error) {
	loader := modelstore.NewOS()
	ref := cfg.Model
	var open inference.Opener

	if cfg.UseMockInference {
		logger.Info("using mock inference engine", zap.Float64("score", cfg.MockScore))
		fs := afero.NewMemMapFs()
		ref = "mock.onnx"
		if err := afero.WriteFile(fs, ref, []byte("mock"), 0o644); err != nil {
			return nil, fmt.Errorf("failed to stage mock model: %w", err)
		}
		loader = modelstore.New(fs)
		open = inference.MockOpener(inference.NewMock(float32(cfg.MockScore)))
	} else {
		opts := inference.DefaultONNXOptions()
		opts.SharedLibraryPath = cfg.ORTLibrary
		opts.InputName = cfg.InputName
		opts.OutputName = cfg.OutputName
		open = inference.OpenONNX(opts)
		logger.Info("loading ONNX model", zap.String("model", ref))
	}

	pool, err := liveness.NewPool(cfg.PoolSize, func() (*liveness.Classifier, error) {
		return liveness.New(loader, open, ref, float32(cfg.Threshold), liveness.WithLogger(logger))
	})
	if err != nil {
		return nil, err
	}
	logger.Info("liveness classifiers ready", zap.Int("pool_size", pool.Size()))
	return pool, nil
}

func startHTTPServer(cfg *config.Config, svc *handler.Service, registry *motion.Registry, healthServer *health.Server, logger *zap.Logger) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	opts := httpapi.Options{
		Logger: logger.Named("http"),
		Ready: func(ctx context.Context) error {
			resp, err := healthServer.Check(ctx, &healthpb.HealthCheckRequest{})
			if err != nil {
				return err
			}
			if resp.Status != healthpb.HealthCheckResponse_SERVING {
				return errors.New(resp.Status.String())
			}
			return nil
		},
	}
	if registry != nil {
		opts.Frames = registry
	}
	httpapi.RegisterRoutes(router, svc, opts)

	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("HTTP server listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return server
}

func initTracer(endpoint string) (func(context.Context) error, error) {
	// Spans go to stdout; endpoint is recorded on the resource only.
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	attrs := []attribute.KeyValue{
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion("1.0.0"),
	}
	if endpoint != "" {
		attrs = append(attrs, attribute.String("otel.exporter.endpoint", endpoint))
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL, attrs...),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}
