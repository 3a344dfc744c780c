/**
 * @description
 * The event emitted to the message broker for each committed transaction record.
 */

package domain

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// LedgerEventType is the event_type carried by every committed record event.
const LedgerEventType = "ledger.record.committed"

// LedgerEvent is published once per committed TransactionRecord.
type LedgerEvent struct {
	EventID        string          `json:"event_id"`
	EventType      string          `json:"event_type"`
	BatchID        string          `json:"batch_id,omitempty"`
	RecordID       int64           `json:"record_id"`
	AccountID      int64           `json:"account_id"`
	Kind           Kind            `json:"kind"`
	Amount         decimal.Decimal `json:"amount"`
	BalanceAfter   decimal.Decimal `json:"balance_after"`
	Description    string          `json:"description"`
	CounterpartyID *int64          `json:"counterparty_id,omitempty"`
	ProductID      *int64          `json:"product_id,omitempty"`
	OccurredAt     time.Time       `json:"occurred_at"`
}

// RoutingKey is the topic routing key for the event, e.g. "ledger.debit.recorded".
func (e LedgerEvent) RoutingKey() string {
	return fmt.Sprintf("ledger.%s.recorded", e.Kind)
}

// PartitionKey keys the event by account so one account's events stay in order.
func (e LedgerEvent) PartitionKey() string {
	return strconv.FormatInt(e.AccountID, 10)
}
