package app

import (
	"context"
	"testing"
	"time"
)

func TestLedgerOperationCost(t *testing.T) {
	tests := map[LedgerOperation]int64{
		OpFund:       1,
		OpPay:        1,
		OpPurchase:   1,
		OpAddProduct: 1,
		OpBulkPay:    bulkPaymentCost,
	}
	for op, want := range tests {
		if got := op.Cost(); got != want {
			t.Errorf("%s: expected cost %d, got %d", op, want, got)
		}
	}
}

func TestPaymentRateLimiterBudgetKeyIsPerAccountWindow(t *testing.T) {
	l := NewPaymentRateLimiter(nil, " wallet: ", 10)
	start := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)

	got := l.budgetKey(7, start)
	if got != "wallet:ledger_budget:account:7:1714566600" {
		t.Fatalf("unexpected key %q", got)
	}
	if l.budgetKey(8, start) == got {
		t.Fatal("accounts must not share a budget")
	}
	if l.budgetKey(7, start.Add(time.Minute)) == got {
		t.Fatal("windows must not share a budget")
	}
}

func TestPaymentRateLimiterDecide(t *testing.T) {
	l := NewPaymentRateLimiter(nil, "", 3)
	start := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)

	tests := []struct {
		name       string
		used       int64
		now        time.Time
		allowed    bool
		remaining  int64
		retryAfter time.Duration
	}{
		{"under budget", 1, start.Add(5 * time.Second), true, 2, 0},
		{"exactly at budget", 3, start.Add(5 * time.Second), true, 0, 0},
		{"over budget", 4, start.Add(20 * time.Second), false, 0, 40 * time.Second},
		{"over budget at window end", 9, start.Add(59*time.Second + 800*time.Millisecond), false, 0, time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := l.decide(tt.used, tt.now, start)
			if d.Allowed != tt.allowed || d.Remaining != tt.remaining || d.RetryAfter != tt.retryAfter {
				t.Fatalf("unexpected decision %+v", d)
			}
		})
	}
}

func TestPaymentRateLimiterChargeIsCappedAtLimit(t *testing.T) {
	l := NewPaymentRateLimiter(nil, "", 2)
	if got := l.chargeFor(OpBulkPay); got != 2 {
		t.Fatalf("expected bulk charge capped at 2, got %d", got)
	}
	if got := l.chargeFor(OpPay); got != 1 {
		t.Fatalf("expected single charge 1, got %d", got)
	}
}

func TestPaymentRateLimiterDisabledAllowsEverything(t *testing.T) {
	for _, l := range []*PaymentRateLimiter{nil, NewPaymentRateLimiter(nil, "", 5)} {
		d, err := l.Allow(context.Background(), 1, OpPay)
		if err != nil || !d.Allowed {
			t.Fatalf("expected allow without redis, got %+v %v", d, err)
		}
	}
}
