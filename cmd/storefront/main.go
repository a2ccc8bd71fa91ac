package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	c "github.com/fjod/storefront/internal/cache"
	"github.com/fjod/storefront/internal/catalog"
	"github.com/fjod/storefront/internal/config"
	"github.com/fjod/storefront/internal/consumer"
	h "github.com/fjod/storefront/internal/http"
	"github.com/fjod/storefront/internal/publisher"
	"github.com/fjod/storefront/internal/repository"
	s "github.com/fjod/storefront/internal/service"
	"github.com/fjod/storefront/internal/telemetry"
	"github.com/fjod/storefront/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.ServiceName, cfg.LogLevel)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("storefront stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracer, err := telemetry.SetupTracer(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer scancel()
		if err := shutdownTracer(sctx); err != nil {
			log.Error("failed to flush traces", "error", err)
		}
	}()

	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	products, err := catalog.NewRepository(cfg.CatalogDBPath)
	if err != nil {
		return fmt.Errorf("failed to open catalog: %w", err)
	}
	defer products.Close()
	if err := products.RunMigrations(cfg.CatalogMigrationsPath); err != nil {
		return fmt.Errorf("failed to migrate catalog: %w", err)
	}
	lookup := catalog.NewBreakerLookup(products, cfg.CatalogTimeout, log)

	var cartCache c.CartCache = c.Nop{}
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       0,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		log.Info("redis ping succeeded", "addr", cfg.RedisAddr)
		cartCache = c.NewRedisCache(redisClient)
	}

	opts := []s.Option{
		s.WithCurrency(cfg.StoreCurrency),
		s.WithMaxRetries(cfg.CartMaxRetries),
		s.WithLogger(log),
	}
	carts := s.NewCartService(store, lookup, cartCache, opts...)
	customers := s.NewCustomerService(store, opts...)
	checkoutOpts := append([]s.Option{}, opts...)
	if cfg.RequireCustomer {
		checkoutOpts = append(checkoutOpts, s.WithCustomerVerifier(customers))
	}
	checkout := s.NewCheckoutService(carts, checkoutOpts...)
	orders := s.NewOrderService(store, opts...)

	var workers sync.WaitGroup
	if len(cfg.KafkaBrokers) > 0 {
		poller := publisher.NewOutboxPoller(store, publisher.NewKafkaWriter(cfg.KafkaTopic, cfg.KafkaBrokers...), log)
		defer poller.Close()
		events := consumer.NewOrderEventsConsumer(consumer.NewKafkaReader(cfg.KafkaTopic, cfg.KafkaBrokers...), cartCache, log)
		defer events.Close()

		workers.Add(2)
		go func() {
			defer workers.Done()
			poller.Run(ctx)
		}()
		go func() {
			defer workers.Done()
			events.Run(ctx)
		}()
		log.Info("outbox publishing enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	router := h.NewRouter(h.Handlers{
		Cart:      h.NewCartHandler(carts, cfg.RequestTimeout, log),
		Checkout:  h.NewCheckoutHandler(checkout, cfg.RequestTimeout, log),
		Orders:    h.NewOrdersHandler(orders, cfg.RequestTimeout, log),
		Products:  h.NewProductHandler(products, cfg.RequestTimeout, log),
		Customers: h.NewCustomerHandler(customers, cfg.RequestTimeout, log),
	}, h.RouterConfig{
		RequestTimeout:     cfg.RequestTimeout,
		MaxRequestBodySize: cfg.MaxRequestBodySize,
		Logger:             log,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		return fmt.Errorf("failed to listen on grpc port: %w", err)
	}
	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	// Enable reflection for grpcurl/grpcui
	reflection.Register(grpcServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	serveErr := make(chan error, 2)
	go func() {
		log.Info("http server starting", "port", cfg.HTTPPort, "store", cfg.StoreDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		log.Info("grpc health server starting", "port", cfg.GRPCPort)
		if err := grpcServer.Serve(lis); err != nil {
			serveErr <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	var runErr error
	select {
	case sig := <-quit:
		log.Info("shutting down", "signal", sig.String())
	case runErr = <-serveErr:
		log.Error("server failed, shutting down", "error", runErr)
	}

	healthServer.Shutdown()
	sctx, scancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer scancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Error("http server forced to shutdown", "error", err)
	}
	grpcServer.GracefulStop()

	cancel()
	workers.Wait()
	log.Info("storefront exited")
	return runErr
}

// storage is what every configured backend provides.
type storage interface {
	repository.Store
	repository.CustomerStore
}

func openStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (storage, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		cred := &repository.Credentials{
			Host:              cfg.Postgres.Host,
			Port:              cfg.Postgres.Port,
			User:              cfg.Postgres.User,
			Password:          cfg.Postgres.Password,
			DBName:            cfg.Postgres.DBName,
			MigrationsDirPath: cfg.Postgres.MigrationsPath,
		}
		repo, err := repository.NewPostgresRepository(cred)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		if err := repo.RunMigrations(cred); err != nil {
			repo.Close()
			return nil, fmt.Errorf("failed to migrate postgres: %w", err)
		}
		log.Info("connected to postgres", "host", cfg.Postgres.Host, "db", cfg.Postgres.DBName)
		return repo, nil

	case config.DriverMongo:
		db, err := repository.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
		}
		repo := repository.NewMongoRepository(db)
		if err := repo.CreateIndexes(ctx); err != nil {
			repo.Close()
			return nil, fmt.Errorf("failed to create mongodb indexes: %w", err)
		}
		log.Info("connected to mongodb", "db", cfg.MongoDBName)
		return repo, nil

	default:
		log.Warn("using in-memory store, data is lost on restart")
		return repository.NewMemoryStore(), nil
	}
}
