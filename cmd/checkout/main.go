package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/fjod/go_cart/storefront-checkout/internal/cart"
	"github.com/fjod/go_cart/storefront-checkout/internal/cart/cache"
	"github.com/fjod/go_cart/storefront-checkout/internal/cart/repository"
	"github.com/fjod/go_cart/storefront-checkout/internal/catalog"
	"github.com/fjod/go_cart/storefront-checkout/internal/checkout"
	"github.com/fjod/go_cart/storefront-checkout/internal/config"
	"github.com/fjod/go_cart/storefront-checkout/internal/database"
	h "github.com/fjod/go_cart/storefront-checkout/internal/http"
	"github.com/fjod/go_cart/storefront-checkout/internal/inventory"
	"github.com/fjod/go_cart/storefront-checkout/internal/loyalty"
	"github.com/fjod/go_cart/storefront-checkout/internal/notification"
	"github.com/fjod/go_cart/storefront-checkout/internal/orders"
	"github.com/fjod/go_cart/storefront-checkout/internal/pricing"
	"github.com/fjod/go_cart/storefront-checkout/internal/voucher"
	"github.com/fjod/go_cart/storefront-checkout/pkg/logger"
	"github.com/fjod/go_cart/storefront-checkout/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.ServiceName, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	zap.ReplaceGlobals(log)

	m := metrics.New(prometheus.DefaultRegisterer, cfg.ServiceName)

	db, err := openDatabase(cfg.Database)
	if err != nil {
		log.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()
	if err := database.RunMigrations(db, cfg.Database.Driver); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}
	log.Info("database ready", zap.String("driver", cfg.Database.Driver))

	connectCtx, cancelConnect := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelConnect()

	mongoClient, mongoDB, err := repository.ConnectMongoDB(connectCtx, cfg.Mongo.URI, cfg.Mongo.Database)
	if err != nil {
		log.Fatal("failed to connect to mongodb", zap.Error(err))
	}
	cartRepo := repository.NewMongoRepository(mongoDB, cfg.Cart.StoreTTL)
	if err := cartRepo.CreateIndexes(connectCtx); err != nil {
		log.Fatal("failed to create cart indexes", zap.Error(err))
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(connectCtx).Err(); err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}

	var stockStore inventory.StockStore
	switch cfg.Stock.Backend {
	case config.StockRedis:
		stockStore = inventory.NewRedisStore(rdb, 0)
	case config.StockMemory:
		stockStore = inventory.NewMemoryStore()
	default:
		stockStore = inventory.NewSQLStore(db)
	}
	retry := inventory.RetryPolicy{
		MaxTries:        cfg.Stock.RestoreMaxTries,
		InitialInterval: cfg.Stock.RestoreInterval,
		MaxElapsed:      cfg.Stock.RestoreMaxElapse,
	}
	stock := inventory.NewService(stockStore, retry, log.Named("inventory"), m)

	variants := catalog.NewSQLStore(db)
	carts := cart.NewService(cartRepo, cache.NewRedisCache(rdb, cfg.Cart.CacheTTL), variants, stock, log.Named("cart"))

	orderRepo := orders.NewSQLRepository(db)
	sm := orders.NewStateMachine(orderRepo, stock, log.Named("orders"), m)

	var notifier notification.Notifier = notification.NewLogNotifier(log)
	if len(cfg.Kafka.Brokers) > 0 {
		kn := notification.NewKafkaNotifier(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
		defer kn.Close()
		notifier = kn
	}

	orch := checkout.NewOrchestrator(checkout.Deps{
		Carts:    carts,
		Catalog:  variants,
		Vouchers: voucher.NewSQLStore(db),
		Loyalty:  loyalty.NewSQLStore(db),
		Pricing: pricing.NewEngine(pricing.Config{
			PointValue:            cfg.Pricing.PointValue,
			ShippingFee:           cfg.Pricing.ShippingFee,
			FreeShippingThreshold: cfg.Pricing.FreeShippingThreshold,
		}),
		Stock:     stock,
		Orders:    orderRepo,
		Canceller: sm,
		Notifier:  notifier,
		Retry:     retry,
	}, log.Named("checkout"), m)

	pollCtx, stopPolling := context.WithCancel(context.Background())
	defer stopPolling()
	poller := orders.NewRecoveryPoller(orderRepo, sm, stock, log, cfg.Recovery.Interval, cfg.Recovery.Lease)
	go poller.Run(pollCtx)

	router := h.NewRouter(h.RouterConfig{
		RequestTimeout:     cfg.HTTP.RequestTimeout,
		MaxRequestBodySize: cfg.HTTP.MaxRequestBodySize,
	}, h.Handlers{
		Cart:     h.NewCartHandler(carts, cfg.HTTP.RequestTimeout),
		Checkout: h.NewCheckoutHandler(orch, cfg.HTTP.RequestTimeout),
		Orders:   h.NewOrdersHandler(sm, cfg.HTTP.RequestTimeout),
		Health: func(r *http.Request) error {
			return db.PingContext(r.Context())
		},
	}, log, m)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTP.Port,
		Handler:      otelhttp.NewHandler(router, cfg.ServiceName),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.HTTP.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("checkout service starting", zap.String("port", cfg.HTTP.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")
	stopPolling()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	orch.Wait()
	if err := mongoClient.Disconnect(ctx); err != nil {
		log.Error("failed to disconnect mongodb", zap.Error(err))
	}

	log.Info("server exited")
}

func openDatabase(c config.DatabaseConfig) (*sql.DB, error) {
	cred := &database.Credentials{
		Driver:   c.Driver,
		Host:     c.Host,
		User:     c.User,
		Password: c.Password,
		DBName:   c.Name,
		Path:     c.Path,
	}
	if c.Driver != database.DriverSQLite {
		port, err := strconv.Atoi(c.Port)
		if err != nil {
			return nil, fmt.Errorf("invalid database port %q: %w", c.Port, err)
		}
		cred.Port = port
	}
	return database.Open(cred)
}
