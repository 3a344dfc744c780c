/**
 * @description
 * This is the main entry point for the wallet service. It loads configuration, opens
 * the configured ledger store, connects the optional collaborators (Redis, the event
 * broker, the currency API), starts the reconciliation scheduler and serves HTTP.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: Rate cache and rate limiting.
 * - github.com/joho/godotenv: Local .env loading.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/rabbitmq, pkg/kafka: Ledger event publishers.
 * - pkg/currencyclient, pkg/mysql: External clients.
 */
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/transfa/wallet-service/internal/api"
	"github.com/transfa/wallet-service/internal/app"
	"github.com/transfa/wallet-service/internal/config"
	"github.com/transfa/wallet-service/internal/store"
	"github.com/transfa/wallet-service/pkg/currencyclient"
	"github.com/transfa/wallet-service/pkg/kafka"
	"github.com/transfa/wallet-service/pkg/mysql"
	rmrabbit "github.com/transfa/wallet-service/pkg/rabbitmq"
)

// schemaStore is implemented by the SQL repositories.
type schemaStore interface {
	store.Repository
	EnsureSchema(ctx context.Context) error
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("level=info component=bootstrap msg=\"no .env file found; using environment\"")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	log.Printf("level=info component=bootstrap msg=\"starting wallet-service\" port=%s store=%s broker=%s", cfg.ServerPort, cfg.StoreDriver, cfg.EventBroker)

	repository, closeStore := openStore(cfg)
	defer closeStore()

	redisClient := connectRedis(cfg.RedisURL)
	if redisClient != nil {
		defer redisClient.Close()
	}

	publisher, closePublisher := newEventPublisher(cfg)
	defer closePublisher()

	// Rates are cached in Redis when available so every instance shares them.
	var rateCache app.RateCache = app.NewMemoryRateCache()
	var limiter api.RateLimiter
	if redisClient != nil {
		rateCache = app.NewRedisRateCache(redisClient, cfg.RedisKeyPrefix, 0)
		if cfg.PaymentRateLimitPerMinute > 0 {
			limiter = app.NewPaymentRateLimiter(redisClient, cfg.RedisKeyPrefix, cfg.PaymentRateLimitPerMinute)
		}
	} else if cfg.PaymentRateLimitPerMinute > 0 {
		log.Println("level=warn component=bootstrap msg=\"redis unavailable; payment rate limiting disabled\"")
	}

	var rateSource app.RateSource
	if strings.TrimSpace(cfg.CurrencyAPIKey) == "" {
		log.Println("level=warn component=bootstrap msg=\"currency api key missing; using fallback rates only\" env=CURRENCY_API_KEY")
	} else {
		rateSource = currencyclient.NewClient(cfg.CurrencyAPIBaseURL, cfg.CurrencyAPIKey)
	}
	rates := app.NewRateProvider(rateSource, rateCache, cfg.RateCacheTTL(), cfg.FallbackRates)

	if strings.TrimSpace(cfg.AuthJWTSecret) == "" {
		log.Println("level=warn component=bootstrap msg=\"jwt secret missing; bearer tokens disabled\" env=AUTH_JWT_SECRET")
	}
	walletService := app.NewService(repository, rates, publisher, app.Options{
		BaseCurrency:   cfg.BaseCurrency,
		EventsExchange: cfg.LedgerEventsExchange,
		PasswordCost:   cfg.BcryptCost,
		JWTSecret:      cfg.AuthJWTSecret,
		JWTIssuer:      cfg.AuthJWTIssuer,
	})

	schedulerLogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	scheduler := app.NewScheduler(walletService, schedulerLogger, cfg.ReconcileSchedule)
	if err := scheduler.Start(); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"scheduler start failed\" err=%v", err)
	}

	handlers := api.NewHandlers(walletService, cfg.MaxFunding)
	router := api.NewRouter(handlers, walletService, api.RouterOptions{
		AllowedOrigins: cfg.AllowedOrigins(),
		Limiter:        limiter,
	})

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Println("level=info component=http msg=\"shutdown started\"")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}
	select {
	case <-scheduler.Stop().Done():
	case <-ctx.Done():
		log.Println("level=warn component=scheduler msg=\"reconciliation job still running at shutdown\"")
	}
	log.Println("level=info component=http msg=\"shutdown complete\"")
}

// openStore opens the ledger store named by STORE_DRIVER and makes sure its schema exists.
func openStore(cfg config.Config) (store.Repository, func()) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var repository schemaStore
	closeFn := func() {}

	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
		}
		poolConfig.MaxConns = 100
		poolConfig.MinConns = 20
		poolConfig.MaxConnLifetime = 30 * time.Minute
		poolConfig.MaxConnIdleTime = 5 * time.Minute
		poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

		dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
		}
		if err := dbpool.Ping(ctx); err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"database ping failed\" err=%v", err)
		}
		log.Println("level=info component=bootstrap msg=\"postgres connected\"")
		repository = store.NewPostgresRepository(dbpool)
		closeFn = dbpool.Close

	case config.StoreDriverMySQL:
		client, err := mysql.NewClient(mysql.Config{
			Host:            cfg.MySQLHost,
			Port:            cfg.MySQLPort,
			User:            cfg.MySQLUser,
			Password:        cfg.MySQLPassword,
			DBName:          cfg.MySQLDatabase,
			MaxOpenConns:    50,
			MaxIdleConns:    10,
			ConnMaxLifetime: 30 * time.Minute,
			LogLevel:        cfg.MySQLLogLevel,
		})
		if err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"mysql connection failed\" err=%v", err)
		}
		repository = store.NewMySQLRepository(client)
		closeFn = func() {
			if err := client.Close(); err != nil {
				log.Printf("level=warn component=store msg=\"mysql close failed\" err=%v", err)
			}
		}

	default:
		if strings.TrimSpace(cfg.WALPath) == "" {
			log.Println("level=warn component=bootstrap msg=\"memory store without WAL_PATH; data is lost on restart\"")
			return store.NewMemoryRepository(), func() {}
		}
		mem, err := store.OpenMemoryRepository(cfg.WALPath)
		if err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"memory store open failed\" wal_path=%s err=%v", cfg.WALPath, err)
		}
		log.Printf("level=info component=bootstrap msg=\"memory store recovered from wal\" wal_path=%s", cfg.WALPath)
		return mem, func() {
			if err := mem.Close(); err != nil {
				log.Printf("level=warn component=store msg=\"wal close failed\" err=%v", err)
			}
		}
	}

	if err := repository.EnsureSchema(ctx); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"schema setup failed\" store=%s err=%v", cfg.StoreDriver, err)
	}
	return repository, closeFn
}

// connectRedis returns nil when Redis is not configured or not reachable.
func connectRedis(redisURL string) *redis.Client {
	if strings.TrimSpace(redisURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; using in-process rate cache\" env=REDIS_URL")
		return nil
	}
	redisOptions, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; using in-process rate cache\" err=%v", err)
		return nil
	}
	client := redis.NewClient(redisOptions)
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Printf("level=warn component=bootstrap msg=\"redis ping failed; using in-process rate cache\" err=%v", err)
		client.Close()
		return nil
	}
	log.Println("level=info component=bootstrap msg=\"redis connected\"")
	return client
}

// newEventPublisher connects the configured broker, degrading to the no-op publisher.
func newEventPublisher(cfg config.Config) (app.EventPublisher, func()) {
	switch cfg.EventBroker {
	case config.EventBrokerRabbitMQ:
		producer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
		if err != nil {
			log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
			return &rmrabbit.EventProducerFallback{}, func() {}
		}
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
		return producer, producer.Close

	case config.EventBrokerKafka:
		brokers := kafka.ParseBrokers(cfg.KafkaBrokers)
		if len(brokers) == 0 {
			log.Println("level=warn component=bootstrap msg=\"kafka brokers missing; using fallback\" env=KAFKA_BROKERS")
			return &rmrabbit.EventProducerFallback{}, func() {}
		}
		publisher := kafka.NewPublisher(brokers)
		log.Printf("level=info component=bootstrap msg=\"kafka publisher configured\" brokers=%s", strings.Join(brokers, ","))
		return publisher, publisher.Close

	default:
		log.Println("level=info component=bootstrap msg=\"ledger events disabled\"")
		return nil, func() {}
	}
}
