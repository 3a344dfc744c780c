package domain

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Bulk item outcomes.
const (
	BulkItemSucceeded = "success"
	BulkItemFailed    = "failed"
)

// BulkTransferItem is one recipient instruction within a bulk payment.
type BulkTransferItem struct {
	To     AccountRef
	Amount decimal.Decimal
}

// BulkTransferItemResult is the per-item outcome of a bulk payment.
type BulkTransferItemResult struct {
	To     string             `json:"to"`
	Amount decimal.Decimal    `json:"amount"`
	Status string             `json:"status"`
	Reason string             `json:"reason,omitempty"`
	Record *TransactionRecord `json:"record,omitempty"`
}

// BulkTransferResult summarizes a whole batch.
type BulkTransferResult struct {
	BatchID      uuid.UUID                `json:"batch_id"`
	Items        []BulkTransferItemResult `json:"items"`
	Succeeded    int                      `json:"succeeded"`
	Failed       int                      `json:"failed"`
	FinalBalance decimal.Decimal          `json:"final_balance"`
}
