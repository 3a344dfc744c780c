/**
 * @description
 * Core domain models for the wallet ledger. Accounts carry a materialized balance,
 * and every change to that balance is described by exactly one TransactionRecord.
 *
 * @notes
 * - Money values use shopspring/decimal and are kept at two fractional digits.
 * - Records are immutable once committed; their ID and CreatedAt are assigned by the store.
 */

package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MoneyScale is the number of fractional digits a ledger amount may carry.
const MoneyScale int32 = 2

// MaxAmount is the exclusive upper bound for amounts and balances; the SQL stores
// hold money in NUMERIC(20,2).
var MaxAmount = decimal.New(1, 18)

// Kind is the direction of a balance mutation.
type Kind string

const (
	KindCredit Kind = "credit"
	KindDebit  Kind = "debit"
)

// Valid reports whether k is one of the supported kinds.
func (k Kind) Valid() bool {
	return k == KindCredit || k == KindDebit
}

// ParseKind normalizes a user supplied kind. An empty string yields an empty Kind.
func ParseKind(raw string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(raw)))
	if k == "" {
		return "", nil
	}
	if !k.Valid() {
		return "", ErrInvalidKind
	}
	return k, nil
}

// Account is a user's identity plus the materialized balance.
type Account struct {
	ID           int64           `json:"id"`
	Username     string          `json:"username"`
	PasswordHash string          `json:"-"`
	Balance      decimal.Decimal `json:"balance"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// TransactionRecord is one immutable entry in the transaction log.
type TransactionRecord struct {
	ID             int64           `json:"id"`
	CreatedAt      time.Time       `json:"created_at"`
	AccountID      int64           `json:"account_id"`
	Kind           Kind            `json:"kind"`
	Amount         decimal.Decimal `json:"amount"`
	Description    string          `json:"description"`
	BalanceAfter   decimal.Decimal `json:"balance_after"`
	CounterpartyID *int64          `json:"counterparty_id,omitempty"`
	ProductID      *int64          `json:"product_id,omitempty"`

	// Populated by history reads only.
	CounterpartyUsername string `json:"counterparty_username,omitempty"`
	ProductName          string `json:"product_name,omitempty"`
}

// Signed returns the amount with the sign implied by its kind.
func (r TransactionRecord) Signed() decimal.Decimal {
	if r.Kind == KindDebit {
		return r.Amount.Neg()
	}
	return r.Amount
}

// Mutation is a request to change one account's balance.
type Mutation struct {
	AccountID      int64
	Kind           Kind
	Amount         decimal.Decimal
	Description    string
	CounterpartyID *int64
	ProductID      *int64
}

// MutationResult is the committed outcome of a Mutation.
type MutationResult struct {
	NewBalance decimal.Decimal    `json:"new_balance"`
	Record     *TransactionRecord `json:"record"`
}

// AccountRef identifies a transfer recipient by id or by username.
type AccountRef struct {
	ID       int64
	Username string
}

// IsZero reports whether neither an id nor a username was supplied.
func (r AccountRef) IsZero() bool {
	return r.ID == 0 && strings.TrimSpace(r.Username) == ""
}

// TransferResult holds both legs of a committed transfer.
type TransferResult struct {
	SenderBalance    decimal.Decimal    `json:"sender_balance"`
	RecipientBalance decimal.Decimal    `json:"recipient_balance"`
	Recipient        string             `json:"recipient"`
	DebitRecord      *TransactionRecord `json:"debit_record"`
	CreditRecord     *TransactionRecord `json:"credit_record"`
}

// ValidAmount reports whether amount is strictly positive, below MaxAmount and fits
// the money scale.
func ValidAmount(amount decimal.Decimal) bool {
	if !amount.IsPositive() || !amount.LessThan(MaxAmount) {
		return false
	}
	return amount.Equal(amount.Truncate(MoneyScale))
}
