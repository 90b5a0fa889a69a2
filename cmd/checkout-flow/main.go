package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/fjod/go_cart/checkout-flow/internal/api"
	"github.com/fjod/go_cart/checkout-flow/internal/checkout"
	"github.com/fjod/go_cart/checkout-flow/internal/config"
	h "github.com/fjod/go_cart/checkout-flow/internal/http"
	"github.com/fjod/go_cart/checkout-flow/internal/publisher"
	"github.com/fjod/go_cart/checkout-flow/internal/retry"
	"github.com/fjod/go_cart/checkout-flow/internal/storage"
	"github.com/fjod/go_cart/checkout-flow/pkg/logger"
	"github.com/fjod/go_cart/checkout-flow/pkg/shutdown"
)

const serviceName = "checkout-flow"

func main() {
	cfg := config.Load()
	log := logger.New(logger.Options{
		Service: serviceName,
		Env:     cfg.AppEnv,
		Level:   cfg.LogLevel,
	})

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, log); err != nil {
		log.Error("checkout-flow stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("checkout-flow exited")
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := shutdown.WithSignals(context.Background())
	defer stop()

	store, err := openStorage(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	client := api.NewClient(api.Config{
		BaseURL:          cfg.CheckoutAPIURL,
		Timeout:          cfg.APITimeout,
		BreakerThreshold: cfg.BreakerThreshold,
		BreakerTimeout:   cfg.BreakerTimeout,
	}, log)

	var events interface {
		checkout.EventPublisher
		Close() error
	} = publisher.Nop{}
	if len(cfg.KafkaBrokers) > 0 {
		events = publisher.NewOrderEventPublisher(cfg.KafkaTopic, log, cfg.KafkaBrokers...)
		log.Info("publishing order events", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}
	defer events.Close()

	factory := checkout.NewFlowFactory(checkout.FlowDeps{
		Backend: client,
		Storage: store,
		Carts:   client,
		Events:  events,
		Log:     log,
		Retry: retry.Policy{
			MaxAttempts: cfg.RetryMaxAttempts,
			BaseDelay:   cfg.RetryBaseDelay,
			ShouldRetry: api.IsTransient,
		},
		Debounce:             cfg.PersistDebounce,
		CompletionDelay:      cfg.CompletionDelay,
		SubmissionStaleAfter: cfg.SubmissionStaleAfter,
	})
	registry := checkout.NewRegistry(factory, checkout.RegistryConfig{
		IdleTimeout:   cfg.FlowIdleTimeout,
		SweepInterval: cfg.FlowSweepInterval,
	}, log)

	checkoutHandler := h.NewCheckoutHandler(registry, cfg.RequestTimeout, cfg.MaxRequestBodySize, log)

	// Setup router
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))
	r.Use(middleware.Compress(5))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"status":"ok","flows":%d,"checkoutApi":%q}`+"\n", registry.Len(), client.BreakerState())
	})

	r.Route("/api/v1/checkout", func(r chi.Router) {
		r.Use(h.AuthMiddleware)
		checkoutHandler.Routes(r)
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      otelhttp.NewHandler(r, serviceName),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		return fmt.Errorf("failed to listen on grpc port: %w", err)
	}
	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	healthServer.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("http server starting", "port", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		log.Info("grpc health server starting", "port", cfg.GRPCPort)
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return registry.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		healthServer.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-shutdownCtx.Done():
			grpcServer.Stop()
		}

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// openStorage connects the persistence backend named by STORAGE_DRIVER.
func openStorage(ctx context.Context, cfg *config.Config, log *slog.Logger) (storage.Store, error) {
	log = log.With("driver", cfg.StorageDriver)

	switch cfg.StorageDriver {
	case config.DriverFile:
		s, err := storage.NewFileStore(cfg.FileDir)
		if err != nil {
			return nil, err
		}
		log.Info("checkout state stored on disk", "dir", cfg.FileDir)
		return s, nil

	case config.DriverRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		log.Info("connected to redis", "addr", cfg.RedisAddr)
		return storage.NewRedisStore(client, cfg.RedisTTL), nil

	case config.DriverSQLite:
		s, err := storage.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		if err := s.RunMigrations(); err != nil {
			s.Close()
			return nil, err
		}
		log.Info("sqlite migrations completed", "path", cfg.SQLitePath)
		return s, nil

	case config.DriverPostgres:
		s, err := storage.NewPostgresStore(&storage.Credentials{
			Host:     cfg.DBHost,
			Port:     cfg.DBPort,
			User:     cfg.DBUser,
			Password: cfg.DBPassword,
			DBName:   cfg.DBName,
		})
		if err != nil {
			return nil, err
		}
		if err := s.RunMigrations(); err != nil {
			s.Close()
			return nil, err
		}
		log.Info("postgres migrations completed", "host", cfg.DBHost, "db", cfg.DBName)
		return s, nil

	case config.DriverMongo:
		db, err := storage.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, err
		}
		s := storage.NewMongoStore(db)
		if err := s.CreateIndexes(ctx); err != nil {
			s.Close()
			return nil, err
		}
		log.Info("connected to mongodb", "database", cfg.MongoDatabase)
		return s, nil

	default:
		log.Warn("checkout state is kept in memory and lost on restart")
		return storage.NewMemoryStore(), nil
	}
}
