/**
 * @description
 * Account-to-account payments. A transfer debits the sender and credits the recipient
 * in one unit of work; a bulk payment runs one transfer per item after checking that
 * the sender covers the whole batch.
 *
 * @notes
 * - Bulk items succeed or fail independently and report a reason code.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/transfa/wallet-service/internal/domain"
	"github.com/transfa/wallet-service/internal/store"
)

type transferWording struct {
	debit  string
	credit string
}

var (
	paymentWording = transferWording{debit: "Payment to %s", credit: "Payment from %s"}
	bulkWording    = transferWording{debit: "Bulk payment to %s", credit: "Bulk payment from %s"}
)

func (w transferWording) describe(format, name, note string) string {
	desc := fmt.Sprintf(format, name)
	if note = strings.TrimSpace(note); note != "" {
		desc += ": " + note
	}
	return desc
}

func refLabel(ref domain.AccountRef) string {
	if name := strings.TrimSpace(ref.Username); name != "" {
		return name
	}
	return strconv.FormatInt(ref.ID, 10)
}

// resolveRecipient maps a username or id onto an account.
func (s *Service) resolveRecipient(ctx context.Context, ref domain.AccountRef) (*domain.Account, error) {
	if ref.IsZero() {
		return nil, domain.ErrRecipientNotFound
	}
	var (
		acc *domain.Account
		err error
	)
	if ref.ID != 0 {
		acc, err = s.repo.FindAccountByID(ctx, ref.ID)
	} else {
		acc, err = s.repo.FindAccountByUsername(ctx, ref.Username)
	}
	if errors.Is(err, domain.ErrAccountNotFound) {
		return nil, domain.ErrRecipientNotFound
	}
	if err != nil {
		return nil, storageFailure(err)
	}
	return acc, nil
}

// Transfer moves amount from one account to another as a single unit of work:
// either both legs commit or neither does.
func (s *Service) Transfer(ctx context.Context, fromID int64, to domain.AccountRef, amount decimal.Decimal, note string) (*domain.TransferResult, error) {
	return s.transfer(ctx, fromID, to, amount, note, paymentWording, "")
}

func (s *Service) transfer(
	ctx context.Context,
	fromID int64,
	to domain.AccountRef,
	amount decimal.Decimal,
	note string,
	wording transferWording,
	batchID string,
) (*domain.TransferResult, error) {
	if !domain.ValidAmount(amount) {
		return nil, domain.ErrInvalidAmount
	}
	recipient, err := s.resolveRecipient(ctx, to)
	if err != nil {
		return nil, err
	}
	if recipient.ID == fromID {
		return nil, domain.ErrSelfTransfer
	}

	var result domain.TransferResult
	err = s.repo.RunInTx(ctx, []int64{fromID, recipient.ID}, func(tx store.LedgerTx) error {
		sender, err := tx.LockedAccount(ctx, fromID)
		if err != nil {
			return err
		}
		receiver, err := tx.LockedAccount(ctx, recipient.ID)
		if errors.Is(err, domain.ErrAccountNotFound) {
			return domain.ErrRecipientNotFound
		}
		if err != nil {
			return err
		}

		senderID, receiverID := sender.ID, receiver.ID
		debit, err := applyLeg(ctx, tx, domain.Mutation{
			AccountID:      senderID,
			Kind:           domain.KindDebit,
			Amount:         amount,
			Description:    wording.describe(wording.debit, receiver.Username, note),
			CounterpartyID: &receiverID,
		})
		if err != nil {
			return err
		}
		credit, err := applyLeg(ctx, tx, domain.Mutation{
			AccountID:      receiverID,
			Kind:           domain.KindCredit,
			Amount:         amount,
			Description:    wording.describe(wording.credit, sender.Username, note),
			CounterpartyID: &senderID,
		})
		if err != nil {
			return err
		}

		result = domain.TransferResult{
			SenderBalance:    debit.BalanceAfter,
			RecipientBalance: credit.BalanceAfter,
			Recipient:        receiver.Username,
			DebitRecord:      debit,
			CreditRecord:     credit,
		}
		return nil
	})
	if err != nil {
		err = storageFailure(err)
		if domain.IsRetryable(err) {
			log.Printf("level=error component=ledger msg=\"transfer rolled back\" from=%d to=%d amount=%s err=%v", fromID, recipient.ID, amount, err)
		}
		return nil, err
	}

	s.publishRecords(ctx, batchID, result.DebitRecord, result.CreditRecord)
	return &result, nil
}

// BulkTransfer pays several recipients from one account. The summed amount is checked
// against the balance once, up front; each item then runs as its own transfer and may
// fail independently without affecting the others.
func (s *Service) BulkTransfer(ctx context.Context, fromID int64, items []domain.BulkTransferItem) (*domain.BulkTransferResult, error) {
	if len(items) == 0 {
		return nil, domain.ErrEmptyBatch
	}
	total := decimal.Zero
	for _, item := range items {
		if !domain.ValidAmount(item.Amount) {
			return nil, domain.ErrInvalidAmount
		}
		total = total.Add(item.Amount)
	}

	sender, err := s.repo.FindAccountByID(ctx, fromID)
	if err != nil {
		return nil, storageFailure(err)
	}
	if total.GreaterThan(sender.Balance) {
		return nil, domain.ErrInsufficientFunds
	}

	batchID := uuid.New()
	result := &domain.BulkTransferResult{
		BatchID: batchID,
		Items:   make([]domain.BulkTransferItemResult, 0, len(items)),
	}
	lastKnown := sender.Balance
	for _, item := range items {
		itemResult := domain.BulkTransferItemResult{To: refLabel(item.To), Amount: item.Amount}

		res, err := s.transfer(ctx, fromID, item.To, item.Amount, "", bulkWording, batchID.String())
		if err != nil {
			itemResult.Status = domain.BulkItemFailed
			itemResult.Reason = domain.ErrorCode(err)
			result.Failed++
			log.Printf("level=warn component=ledger msg=\"bulk item failed\" batch_id=%s from=%d to=%s reason=%s", batchID, fromID, itemResult.To, itemResult.Reason)
		} else {
			itemResult.Status = domain.BulkItemSucceeded
			itemResult.To = res.Recipient
			itemResult.Record = res.DebitRecord
			result.Succeeded++
			lastKnown = res.SenderBalance
		}
		result.Items = append(result.Items, itemResult)
	}

	result.FinalBalance = lastKnown
	if current, err := s.repo.FindAccountByID(ctx, fromID); err == nil {
		result.FinalBalance = current.Balance
	} else {
		log.Printf("level=warn component=ledger msg=\"bulk final balance read failed; using last known\" batch_id=%s from=%d err=%v", batchID, fromID, err)
	}

	log.Printf("level=info component=ledger msg=\"bulk payment finished\" batch_id=%s from=%d succeeded=%d failed=%d", batchID, fromID, result.Succeeded, result.Failed)
	return result, nil
}
