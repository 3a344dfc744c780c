package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

var configKeys = []string{
	"SERVER_PORT", "PORT", "STORE_DRIVER", "DATABASE_URL", "EVENT_BROKER", "BASE_CURRENCY",
	"RATE_CACHE_TTL_MINUTES", "FALLBACK_RATES", "BCRYPT_COST", "MAX_FUNDING_AMOUNT", "REDIS_KEY_PREFIX",
}

func resetEnv(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	for _, key := range configKeys {
		unsetEnvWithCleanup(t, key)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	resetEnv(t)

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "8080" || cfg.StoreDriver != StoreDriverMemory || cfg.EventBroker != EventBrokerNone {
		t.Fatalf("unexpected defaults: port=%q store=%q broker=%q", cfg.ServerPort, cfg.StoreDriver, cfg.EventBroker)
	}
	if cfg.BaseCurrency != "INR" || cfg.RateCacheTTLMinutes != 60 || cfg.BcryptCost != 12 {
		t.Fatalf("unexpected defaults: currency=%q ttl=%d cost=%d", cfg.BaseCurrency, cfg.RateCacheTTLMinutes, cfg.BcryptCost)
	}
	if !cfg.MaxFunding.Equal(decimal.NewFromInt(1000000)) {
		t.Fatalf("expected max funding 1000000, got %s", cfg.MaxFunding)
	}
	if !cfg.FallbackRates["INR_USD"].Equal(decimal.RequireFromString("0.012")) {
		t.Fatalf("expected default INR_USD fallback, got %v", cfg.FallbackRates)
	}
	if cfg.RedisKeyPrefix != "wallet" {
		t.Fatalf("expected default redis prefix, got %q", cfg.RedisKeyPrefix)
	}
}

func TestLoadConfig_PortOverridesServerPort(t *testing.T) {
	resetEnv(t)
	setEnvWithCleanup(t, "SERVER_PORT", "9000")
	setEnvWithCleanup(t, "PORT", "7000")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "7000" {
		t.Fatalf("expected PORT to win, got %q", cfg.ServerPort)
	}
}

func TestLoadConfig_ReadsDotEnvFile(t *testing.T) {
	resetEnv(t)
	dir := t.TempDir()
	content := "BASE_CURRENCY=usd\nBCRYPT_COST=10\nEVENT_BROKER=Kafka\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(content), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.BaseCurrency != "USD" || cfg.BcryptCost != 10 || cfg.EventBroker != EventBrokerKafka {
		t.Fatalf("expected .env values, got currency=%q cost=%d broker=%q", cfg.BaseCurrency, cfg.BcryptCost, cfg.EventBroker)
	}
}

func TestLoadConfig_Validation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown store", map[string]string{"STORE_DRIVER": "sqlite"}},
		{"postgres without url", map[string]string{"STORE_DRIVER": "postgres"}},
		{"bad fallback rates", map[string]string{"FALLBACK_RATES": "INR_USD=abc"}},
		{"bad max funding", map[string]string{"MAX_FUNDING_AMOUNT": "-5"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetEnv(t)
			for k, v := range tt.env {
				setEnvWithCleanup(t, k, v)
			}
			if _, err := LoadConfig(t.TempDir()); err == nil {
				t.Fatalf("expected an error")
			}
		})
	}
}

func TestLoadConfig_CoercesOutOfRangeValues(t *testing.T) {
	resetEnv(t)
	setEnvWithCleanup(t, "BCRYPT_COST", "99")
	setEnvWithCleanup(t, "RATE_CACHE_TTL_MINUTES", "0")
	setEnvWithCleanup(t, "EVENT_BROKER", "nats")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.BcryptCost != 12 || cfg.RateCacheTTLMinutes != 60 || cfg.EventBroker != EventBrokerNone {
		t.Fatalf("expected coerced values, got cost=%d ttl=%d broker=%q", cfg.BcryptCost, cfg.RateCacheTTLMinutes, cfg.EventBroker)
	}
}

func TestParseFallbackRates(t *testing.T) {
	rates, err := ParseFallbackRates(" inr_usd=0.012 , INR_EUR=0.011,")
	if err != nil {
		t.Fatalf("ParseFallbackRates returned error: %v", err)
	}
	if len(rates) != 2 || !rates["INR_USD"].Equal(decimal.RequireFromString("0.012")) {
		t.Fatalf("unexpected rates %v", rates)
	}

	for _, raw := range []string{"INRUSD=0.1", "INR_USD", "INR_USD=0", "=0.1"} {
		if _, err := ParseFallbackRates(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestAllowedOrigins(t *testing.T) {
	if got := (Config{}).AllowedOrigins(); len(got) != 1 || got[0] != "*" {
		t.Fatalf("expected wildcard by default, got %v", got)
	}
	got := Config{CORSAllowedOrigins: "https://a.example, https://b.example"}.AllowedOrigins()
	if len(got) != 2 || got[1] != "https://b.example" {
		t.Fatalf("unexpected origins %v", got)
	}
}

func setEnvWithCleanup(t *testing.T, key string, value string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}

func unsetEnvWithCleanup(t *testing.T, key string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
		}
	})
}
