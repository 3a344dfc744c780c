package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseKind(t *testing.T) {
	tests := []struct {
		raw     string
		want    Kind
		wantErr error
	}{
		{"", "", nil},
		{"  ", "", nil},
		{"credit", KindCredit, nil},
		{" DEBIT ", KindDebit, nil},
		{"refund", "", ErrInvalidKind},
	}
	for _, tt := range tests {
		got, err := ParseKind(tt.raw)
		if !errors.Is(err, tt.wantErr) || got != tt.want {
			t.Errorf("ParseKind(%q) = %q, %v; want %q, %v", tt.raw, got, err, tt.want, tt.wantErr)
		}
	}
}

func TestValidAmount(t *testing.T) {
	tests := map[string]bool{
		"0.01":                  true,
		"10":                    true,
		"999999999999999999.99": true,
		"1000000000000000000":   false,
		"0":                     false,
		"-5":                    false,
		"1.005":                 false,
	}
	for raw, want := range tests {
		if got := ValidAmount(decimal.RequireFromString(raw)); got != want {
			t.Errorf("ValidAmount(%s) = %v, want %v", raw, got, want)
		}
	}
}

func TestStorageErrorClassification(t *testing.T) {
	transient := fmt.Errorf("%w: connection reset", ErrStorageFailure)
	unavailable := fmt.Errorf("%w: wal poisoned", ErrStorageUnavailable)

	tests := []struct {
		name      string
		err       error
		code      string
		business  bool
		retryable bool
	}{
		{"transient failure", transient, "StorageFailure", false, true},
		{"unavailable store", unavailable, "StorageUnavailable", false, false},
		{"business error", ErrInsufficientFunds, "InsufficientFunds", true, false},
		{"balance limit", ErrBalanceLimit, "BalanceLimitExceeded", true, false},
		{"unknown", errors.New("boom"), "InternalError", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ErrorCode(tt.err); got != tt.code {
				t.Errorf("code: got %s, want %s", got, tt.code)
			}
			if got := IsBusinessError(tt.err); got != tt.business {
				t.Errorf("business: got %v, want %v", got, tt.business)
			}
			if got := IsRetryable(tt.err); got != tt.retryable {
				t.Errorf("retryable: got %v, want %v", got, tt.retryable)
			}
		})
	}
}
