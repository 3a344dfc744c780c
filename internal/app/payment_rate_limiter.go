/**
 * @description
 * Per-account budget for mutating ledger operations, shared by every instance through
 * Redis. Each account has one counter per clock-aligned window; every operation draws
 * its cost from that counter.
 *
 * @notes
 * - A bulk payment fans out into many transfers and is charged accordingly.
 * - The limiter never blocks on its own failure; callers decide how to treat errors.
 */

package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// LedgerOperation names a rate-limited, balance-changing request.
type LedgerOperation string

const (
	OpFund       LedgerOperation = "fund"
	OpPay        LedgerOperation = "pay"
	OpBulkPay    LedgerOperation = "bulk_pay"
	OpPurchase   LedgerOperation = "purchase"
	OpAddProduct LedgerOperation = "add_product"
)

const bulkPaymentCost = 5

// Cost is the number of budget units one request of op consumes.
func (op LedgerOperation) Cost() int64 {
	if op == OpBulkPay {
		return bulkPaymentCost
	}
	return 1
}

// RateDecision is the outcome of charging one operation against an account's budget.
type RateDecision struct {
	Allowed    bool
	Used       int64
	Remaining  int64
	RetryAfter time.Duration
}

// PaymentRateLimiter charges ledger operations against a per-account budget per window.
type PaymentRateLimiter struct {
	client redis.UniversalClient
	prefix string
	limit  int64
	window time.Duration
	now    func() time.Time
}

func NewPaymentRateLimiter(client redis.UniversalClient, prefix string, perMinute int) *PaymentRateLimiter {
	trimmed := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if trimmed == "" {
		trimmed = "wallet"
	}
	return &PaymentRateLimiter{
		client: client,
		prefix: trimmed + ":ledger_budget",
		limit:  int64(perMinute),
		window: time.Minute,
		now:    time.Now,
	}
}

// Allow charges op to accountID's budget for the current window. A disabled limiter
// allows everything.
func (l *PaymentRateLimiter) Allow(ctx context.Context, accountID int64, op LedgerOperation) (RateDecision, error) {
	if l == nil || l.client == nil || l.limit <= 0 {
		return RateDecision{Allowed: true}, nil
	}

	now := l.now()
	windowStart := now.Truncate(l.window)
	key := l.budgetKey(accountID, windowStart)

	var used *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		used = pipe.IncrBy(ctx, key, l.chargeFor(op))
		pipe.ExpireAt(ctx, key, windowStart.Add(l.window+time.Second))
		return nil
	})
	if err != nil {
		return RateDecision{}, fmt.Errorf("charge ledger budget for account %d: %w", accountID, err)
	}
	return l.decide(used.Val(), now, windowStart), nil
}

func (l *PaymentRateLimiter) budgetKey(accountID int64, windowStart time.Time) string {
	return fmt.Sprintf("%s:account:%d:%d", l.prefix, accountID, windowStart.Unix())
}

// chargeFor caps the cost at the limit so a bulk payment is never refused outright.
func (l *PaymentRateLimiter) chargeFor(op LedgerOperation) int64 {
	cost := op.Cost()
	if cost > l.limit {
		return l.limit
	}
	return cost
}

func (l *PaymentRateLimiter) decide(used int64, now, windowStart time.Time) RateDecision {
	d := RateDecision{Used: used, Allowed: used <= l.limit}
	if remaining := l.limit - used; remaining > 0 {
		d.Remaining = remaining
	}
	if !d.Allowed {
		d.RetryAfter = windowStart.Add(l.window).Sub(now)
		if d.RetryAfter < time.Second {
			d.RetryAfter = time.Second
		}
	}
	return d
}
