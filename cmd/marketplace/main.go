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
	"syscall"
	"time"

	"github.com/fjod/go_marketplace/internal/cache"
	"github.com/fjod/go_marketplace/internal/catalog"
	"github.com/fjod/go_marketplace/internal/config"
	mgrpc "github.com/fjod/go_marketplace/internal/grpc"
	h "github.com/fjod/go_marketplace/internal/http"
	"github.com/fjod/go_marketplace/internal/lock"
	"github.com/fjod/go_marketplace/internal/notification"
	"github.com/fjod/go_marketplace/internal/payment"
	"github.com/fjod/go_marketplace/internal/repository"
	"github.com/fjod/go_marketplace/internal/service"
	"github.com/fjod/go_marketplace/internal/telemetry"
	"github.com/fjod/go_marketplace/pkg/logger"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("marketplace stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("marketplace stopped")
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.Endpoint)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			log.Warn("tracer shutdown failed", "error", err)
		}
	}()

	// Carts
	mongoDB, err := repository.ConnectMongoDB(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
	if err != nil {
		return fmt.Errorf("connect mongodb: %w", err)
	}
	defer mongoDB.Client().Disconnect(context.Background())
	cartRepo := repository.NewMongoRepository(mongoDB)
	if err := cartRepo.CreateIndexes(ctx); err != nil {
		return fmt.Errorf("create cart indexes: %w", err)
	}
	log.Info("connected to mongodb", "database", cfg.Mongo.Database)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	log.Info("redis ping succeeded", "addr", cfg.Redis.Addr)

	// Order ledger
	cred := &repository.Credentials{
		Host:              cfg.DB.Host,
		Port:              cfg.DB.Port,
		User:              cfg.DB.User,
		Password:          cfg.DB.Password,
		DBName:            cfg.DB.Name,
		MigrationsDirPath: cfg.DB.MigrationsPath,
	}
	orderRepo, err := repository.NewPostgresRepository(cred)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer orderRepo.Close()
	if err := orderRepo.RunMigrations(cred); err != nil {
		return err
	}
	log.Info("order ledger migrated", "host", cfg.DB.Host, "database", cfg.DB.Name)

	// Catalog
	productRepo, err := catalog.NewRepository(cfg.Catalog.DSN)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer productRepo.Close()
	if err := productRepo.RunMigrations(cfg.Catalog.MigrationsPath); err != nil {
		return err
	}
	products := catalog.New(productRepo, cache.NewRedisStore(redisClient, catalog.CachePrefix),
		cfg.Catalog.CacheTTL, cfg.Catalog.Timeout, log.With("component", "catalog"))

	var notifier notification.Notifier = notification.LogNotifier{Log: log}
	if cfg.Kafka.Enabled {
		publisher := notification.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.Timeout, log.With("component", "notification"))
		defer publisher.Close()
		notifier = publisher
	}

	gateway := payment.NewClient(cfg.Payment.BaseURL, cfg.Payment.KeyID, cfg.Payment.KeySecret, cfg.Payment.Timeout, log).
		WithTransport(otelhttp.NewTransport(http.DefaultTransport))
	intents := payment.NewRedisIntentStore(redisClient, cfg.Payment.IntentTTL)

	carts := service.NewCartService(cartRepo, cache.NewRedisCache(redisClient), products, cfg.Payment.Currency, log)
	orders := service.NewOrderService(carts, products, orderRepo, lock.NewRedisLocker(redisClient, cfg.Checkout.LockTTL), notifier, cfg.Payment.Currency, log)
	payments := service.NewPaymentService(gateway, intents, orderRepo, orders, cfg.Payment.KeySecret, cfg.Payment.Currency, log)
	fulfillment := service.NewFulfillmentService(orderRepo, log)
	catalogAdmin := service.NewCatalogService(products, cfg.Payment.Currency, log)

	checks := map[string]func(context.Context) error{
		"postgres": orderRepo.Ping,
		"redis":    func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		"mongodb":  func(ctx context.Context) error { return mongoDB.Client().Ping(ctx, nil) },
	}
	httpChecks := make(map[string]h.HealthCheck, len(checks))
	grpcChecks := make(map[string]mgrpc.Check, len(checks))
	for name, c := range checks {
		httpChecks[name] = c
		grpcChecks[name] = c
	}

	router := h.NewRouter(h.Services{
		Carts:       carts,
		Orders:      orders,
		Fulfillment: fulfillment,
		Payments:    payments,
		Products:    catalogAdmin,
	}, h.RouterConfig{
		RequestTimeout:     cfg.HTTP.RequestTimeout,
		MaxRequestBodySize: cfg.HTTP.MaxRequestBodySize,
		JWTSecret:          cfg.Auth.JWTSecret,
		ServiceName:        cfg.Telemetry.ServiceName,
	}, httpChecks, log)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTP.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.HTTP.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	grpcLis, err := net.Listen("tcp", ":"+cfg.GRPC.Port)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}
	grpcServer := mgrpc.NewServer(grpcChecks, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http server listening", "port", cfg.HTTP.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return grpcServer.Serve(gctx, grpcLis)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
