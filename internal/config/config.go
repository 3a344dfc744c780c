/**
 * @description
 * This package handles the configuration management for the wallet service. It uses
 * Viper to read configuration from environment variables and an optional .env file.
 *
 * @dependencies
 * - github.com/spf13/viper: Application configuration.
 * - github.com/shopspring/decimal: Fallback exchange rates.
 */

package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMySQL    = "mysql"
	StoreDriverMemory   = "memory"

	EventBrokerRabbitMQ = "rabbitmq"
	EventBrokerKafka    = "kafka"
	EventBrokerNone     = "none"

	defaultFallbackRates = "INR_USD=0.012,INR_EUR=0.011,INR_GBP=0.0095"
)

// Config holds all the configuration variables for the wallet service.
type Config struct {
	ServerPort  string `mapstructure:"SERVER_PORT"`
	StoreDriver string `mapstructure:"STORE_DRIVER"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	WALPath     string `mapstructure:"WAL_PATH"`

	MySQLHost     string `mapstructure:"MYSQL_HOST"`
	MySQLPort     int    `mapstructure:"MYSQL_PORT"`
	MySQLUser     string `mapstructure:"MYSQL_USER"`
	MySQLPassword string `mapstructure:"MYSQL_PASSWORD"`
	MySQLDatabase string `mapstructure:"MYSQL_DATABASE"`
	MySQLLogLevel string `mapstructure:"MYSQL_LOG_LEVEL"`

	RedisURL       string `mapstructure:"REDIS_URL"`
	RedisKeyPrefix string `mapstructure:"REDIS_KEY_PREFIX"`

	EventBroker          string `mapstructure:"EVENT_BROKER"`
	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`
	KafkaBrokers         string `mapstructure:"KAFKA_BROKERS"`
	LedgerEventsExchange string `mapstructure:"LEDGER_EVENTS_EXCHANGE"`

	CurrencyAPIBaseURL  string `mapstructure:"CURRENCY_API_BASE_URL"`
	CurrencyAPIKey      string `mapstructure:"CURRENCY_API_KEY"`
	BaseCurrency        string `mapstructure:"BASE_CURRENCY"`
	RateCacheTTLMinutes int    `mapstructure:"RATE_CACHE_TTL_MINUTES"`
	FallbackRatesRaw    string `mapstructure:"FALLBACK_RATES"`

	AuthJWTSecret string `mapstructure:"AUTH_JWT_SECRET"`
	AuthJWTIssuer string `mapstructure:"AUTH_JWT_ISSUER"`
	BcryptCost    int    `mapstructure:"BCRYPT_COST"`

	MaxFundingAmount          string `mapstructure:"MAX_FUNDING_AMOUNT"`
	PaymentRateLimitPerMinute int    `mapstructure:"PAYMENT_RATE_LIMIT_PER_MINUTE"`
	ReconcileSchedule         string `mapstructure:"RECONCILE_SCHEDULE"`
	CORSAllowedOrigins        string `mapstructure:"CORS_ALLOWED_ORIGINS"`

	// Derived values, filled in after unmarshalling.
	FallbackRates map[string]decimal.Decimal `mapstructure:"-"`
	MaxFunding    decimal.Decimal            `mapstructure:"-"`
}

// RateCacheTTL is the freshness window for cached exchange rates.
func (c Config) RateCacheTTL() time.Duration {
	return time.Duration(c.RateCacheTTLMinutes) * time.Minute
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS.
func (c Config) AllowedOrigins() []string {
	var origins []string
	for _, o := range strings.Split(c.CORSAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

// ParseFallbackRates reads "FROM_TO=rate" pairs separated by commas.
func ParseFallbackRates(raw string) (map[string]decimal.Decimal, error) {
	rates := make(map[string]decimal.Decimal)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, value, ok := strings.Cut(pair, "=")
		key = strings.ToUpper(strings.TrimSpace(key))
		if !ok || key == "" || !strings.Contains(key, "_") {
			return nil, fmt.Errorf("invalid fallback rate %q", pair)
		}
		rate, err := decimal.NewFromString(strings.TrimSpace(value))
		if err != nil || !rate.IsPositive() {
			return nil, fmt.Errorf("invalid fallback rate %q", pair)
		}
		rates[key] = rate
	}
	return rates, nil
}

// LoadConfig reads configuration from environment variables and an optional .env file in path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("STORE_DRIVER", StoreDriverMemory)
	viper.SetDefault("MYSQL_PORT", 3306)
	viper.SetDefault("MYSQL_LOG_LEVEL", "warn")
	viper.SetDefault("REDIS_KEY_PREFIX", "wallet")
	viper.SetDefault("EVENT_BROKER", EventBrokerNone)
	viper.SetDefault("LEDGER_EVENTS_EXCHANGE", "wallet_events")
	viper.SetDefault("BASE_CURRENCY", "INR")
	viper.SetDefault("RATE_CACHE_TTL_MINUTES", 60)
	viper.SetDefault("FALLBACK_RATES", defaultFallbackRates)
	viper.SetDefault("BCRYPT_COST", 12)
	viper.SetDefault("MAX_FUNDING_AMOUNT", "1000000")
	viper.SetDefault("PAYMENT_RATE_LIMIT_PER_MINUTE", 60)
	viper.SetDefault("RECONCILE_SCHEDULE", "@every 15m")

	for _, key := range []string{
		"SERVER_PORT", "PORT", "STORE_DRIVER", "DATABASE_URL", "WAL_PATH",
		"MYSQL_HOST", "MYSQL_PORT", "MYSQL_USER", "MYSQL_PASSWORD", "MYSQL_DATABASE", "MYSQL_LOG_LEVEL",
		"REDIS_URL", "REDIS_KEY_PREFIX",
		"EVENT_BROKER", "RABBITMQ_URL", "KAFKA_BROKERS", "LEDGER_EVENTS_EXCHANGE",
		"CURRENCY_API_BASE_URL", "CURRENCY_API_KEY", "BASE_CURRENCY", "RATE_CACHE_TTL_MINUTES", "FALLBACK_RATES",
		"AUTH_JWT_SECRET", "AUTH_JWT_ISSUER", "BCRYPT_COST",
		"MAX_FUNDING_AMOUNT", "PAYMENT_RATE_LIMIT_PER_MINUTE", "RECONCILE_SCHEDULE", "CORS_ALLOWED_ORIGINS",
	} {
		_ = viper.BindEnv(key)
	}

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}

	config.StoreDriver = strings.ToLower(strings.TrimSpace(config.StoreDriver))
	switch config.StoreDriver {
	case StoreDriverPostgres, StoreDriverMySQL, StoreDriverMemory:
	default:
		err = fmt.Errorf("unsupported STORE_DRIVER %q", config.StoreDriver)
		return
	}
	if config.StoreDriver == StoreDriverPostgres && strings.TrimSpace(config.DatabaseURL) == "" {
		err = fmt.Errorf("DATABASE_URL is required when STORE_DRIVER=%s", StoreDriverPostgres)
		return
	}

	config.EventBroker = strings.ToLower(strings.TrimSpace(config.EventBroker))
	switch config.EventBroker {
	case EventBrokerRabbitMQ, EventBrokerKafka, EventBrokerNone:
	case "":
		config.EventBroker = EventBrokerNone
	default:
		log.Printf("level=warn component=config msg=\"unknown EVENT_BROKER; disabling ledger events\" value=%q", config.EventBroker)
		config.EventBroker = EventBrokerNone
	}

	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisKeyPrefix = strings.TrimSpace(config.RedisKeyPrefix)
	if config.RedisKeyPrefix == "" {
		config.RedisKeyPrefix = "wallet"
	}
	config.BaseCurrency = strings.ToUpper(strings.TrimSpace(config.BaseCurrency))
	if config.BaseCurrency == "" {
		config.BaseCurrency = "INR"
	}

	if config.RateCacheTTLMinutes <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive RATE_CACHE_TTL_MINUTES; using default\" value=%d", config.RateCacheTTLMinutes)
		config.RateCacheTTLMinutes = 60
	}
	if config.BcryptCost < 4 || config.BcryptCost > 31 {
		log.Printf("level=warn component=config msg=\"BCRYPT_COST out of range; using default\" value=%d", config.BcryptCost)
		config.BcryptCost = 12
	}
	if config.PaymentRateLimitPerMinute < 0 {
		config.PaymentRateLimitPerMinute = 0
	}

	config.FallbackRates, err = ParseFallbackRates(config.FallbackRatesRaw)
	if err != nil {
		return
	}

	config.MaxFunding, err = decimal.NewFromString(strings.TrimSpace(config.MaxFundingAmount))
	if err != nil || !config.MaxFunding.IsPositive() {
		err = fmt.Errorf("invalid MAX_FUNDING_AMOUNT %q", config.MaxFundingAmount)
		return
	}

	return
}
