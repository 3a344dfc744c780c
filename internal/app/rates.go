/**
 * @description
 * Display-only currency conversion. Rates come from a RateSource, are cached for a
 * TTL, and degrade to a stale cached rate, then a static fallback table, then 1.
 * Conversion never returns an error, so a balance read cannot fail because of it.
 */

package app

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/transfa/wallet-service/internal/domain"
)

const DefaultRateTTL = time.Hour

// RateSource fetches a live exchange rate.
type RateSource interface {
	LatestRate(ctx context.Context, from, to string) (decimal.Decimal, error)
}

// RateEntry is a cached rate and when it was fetched.
type RateEntry struct {
	Rate      decimal.Decimal `json:"rate"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// RateCache stores rates keyed by "FROM_TO". Entries outlive the TTL so a stale rate
// can still serve when the source is down.
type RateCache interface {
	Get(ctx context.Context, key string) (RateEntry, bool, error)
	Set(ctx context.Context, key string, entry RateEntry) error
}

// MemoryRateCache is a process-local RateCache.
type MemoryRateCache struct {
	mu      sync.RWMutex
	entries map[string]RateEntry
}

func NewMemoryRateCache() *MemoryRateCache {
	return &MemoryRateCache{entries: make(map[string]RateEntry)}
}

func (c *MemoryRateCache) Get(ctx context.Context, key string) (RateEntry, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[key]
	return entry, ok, nil
}

func (c *MemoryRateCache) Set(ctx context.Context, key string, entry RateEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry
	return nil
}

// RateProvider implements CurrencyConverter.
type RateProvider struct {
	source   RateSource
	cache    RateCache
	ttl      time.Duration
	fallback map[string]decimal.Decimal
	now      func() time.Time
}

// NewRateProvider wires a provider. source may be nil, in which case only the
// fallback table is used; a nil cache gets a MemoryRateCache.
func NewRateProvider(source RateSource, cache RateCache, ttl time.Duration, fallback map[string]decimal.Decimal) *RateProvider {
	if cache == nil {
		cache = NewMemoryRateCache()
	}
	if ttl <= 0 {
		ttl = DefaultRateTTL
	}
	table := make(map[string]decimal.Decimal, len(fallback))
	for k, v := range fallback {
		table[strings.ToUpper(k)] = v
	}
	return &RateProvider{source: source, cache: cache, ttl: ttl, fallback: table, now: time.Now}
}

// RateKey builds the cache and fallback key for a currency pair.
func RateKey(from, to string) string {
	return fmt.Sprintf("%s_%s", strings.ToUpper(strings.TrimSpace(from)), strings.ToUpper(strings.TrimSpace(to)))
}

// Rate returns the best available rate for from->to.
func (p *RateProvider) Rate(ctx context.Context, from, to string) decimal.Decimal {
	from = strings.ToUpper(strings.TrimSpace(from))
	to = strings.ToUpper(strings.TrimSpace(to))
	if from == to {
		return decimal.NewFromInt(1)
	}
	key := RateKey(from, to)

	cached, hit, err := p.cache.Get(ctx, key)
	if err != nil {
		log.Printf("level=warn component=rates msg=\"rate cache read failed\" pair=%s err=%v", key, err)
		hit = false
	}
	if hit && p.now().Sub(cached.FetchedAt) < p.ttl {
		return cached.Rate
	}

	if p.source != nil {
		rate, err := p.source.LatestRate(ctx, from, to)
		if err == nil && rate.IsPositive() {
			if err := p.cache.Set(ctx, key, RateEntry{Rate: rate, FetchedAt: p.now()}); err != nil {
				log.Printf("level=warn component=rates msg=\"rate cache write failed\" pair=%s err=%v", key, err)
			}
			return rate
		}
		log.Printf("level=warn component=rates msg=\"rate fetch failed; degrading\" pair=%s err=%v", key, err)
	}

	if hit {
		return cached.Rate
	}
	if rate, ok := p.fallback[key]; ok {
		return rate
	}
	log.Printf("level=warn component=rates msg=\"no rate available; using identity\" pair=%s", key)
	return decimal.NewFromInt(1)
}

// Convert converts amount and rounds to the money scale.
func (p *RateProvider) Convert(ctx context.Context, amount decimal.Decimal, from, to string) decimal.Decimal {
	return amount.Mul(p.Rate(ctx, from, to)).Round(domain.MoneyScale)
}
