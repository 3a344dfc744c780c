package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	DefaultStatementLimit = 10
	MaxStatementLimit     = 100

	DefaultProductLimit = 20
	MaxProductLimit     = 100

	// TrendWindow is how many of the most recent records the weekly trend inspects.
	TrendWindow = 7
	// TrendActiveThreshold is exceeded by the window count when the trend is active.
	TrendActiveThreshold = 5

	TrendActive = "active"
	TrendLow    = "low"
)

// StatementFilter narrows a history read. Zero values mean "no filter".
type StatementFilter struct {
	Kind   Kind
	Search string
	Limit  int
}

// Normalize clamps the limit into the supported range.
func (f StatementFilter) Normalize() StatementFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultStatementLimit
	}
	if f.Limit > MaxStatementLimit {
		f.Limit = MaxStatementLimit
	}
	return f
}

// RecordStats is the aggregate a store computes over one account's records.
type RecordStats struct {
	TotalDebits decimal.Decimal
	AvgAmount   decimal.Decimal
	Count       int64
}

// Insights is the spending summary returned to callers.
type Insights struct {
	TotalSpent         decimal.Decimal `json:"total_spent"`
	AvgTransactionSize decimal.Decimal `json:"avg_transaction_size"`
	TotalTransactions  int64           `json:"total_transactions"`
	WeeklyTrend        string          `json:"weekly_trend"`
}

// BalanceView is a balance optionally converted into a display currency.
type BalanceView struct {
	Balance      decimal.Decimal `json:"balance"`
	Currency     string          `json:"currency"`
	BaseBalance  decimal.Decimal `json:"base_balance"`
	BaseCurrency string          `json:"base_currency"`
}

// BalanceDrift reports an account whose stored balance disagrees with its log.
type BalanceDrift struct {
	AccountID     int64           `json:"account_id"`
	StoredBalance decimal.Decimal `json:"stored_balance"`
	LedgerBalance decimal.Decimal `json:"ledger_balance"`
}

// Product is a purchasable catalog item.
type Product struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Price       decimal.Decimal `json:"price"`
	Description string          `json:"description"`
	CreatedAt   time.Time       `json:"created_at"`
}

// ProductFilter narrows a catalog listing.
type ProductFilter struct {
	Search string
	Limit  int
}

// Normalize clamps the limit into the supported range.
func (f ProductFilter) Normalize() ProductFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultProductLimit
	}
	if f.Limit > MaxProductLimit {
		f.Limit = MaxProductLimit
	}
	return f
}

// PurchaseResult is the outcome of buying a product.
type PurchaseResult struct {
	Product    *Product           `json:"product"`
	NewBalance decimal.Decimal    `json:"new_balance"`
	Record     *TransactionRecord `json:"record"`
}
