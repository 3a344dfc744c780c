/**
 * @description
 * Single-account balance mutations. Every mutation runs in its own unit of work and
 * writes the balance change together with its transaction record.
 */

package app

import (
	"context"
	"log"

	"github.com/shopspring/decimal"
	"github.com/transfa/wallet-service/internal/domain"
	"github.com/transfa/wallet-service/internal/store"
)

const fundingDescription = "Account funding"

func validateMutation(m domain.Mutation) error {
	if !domain.ValidAmount(m.Amount) {
		return domain.ErrInvalidAmount
	}
	if !m.Kind.Valid() {
		return domain.ErrInvalidKind
	}
	return nil
}

// applyLeg performs one balance change plus its record inside an open unit of work.
func applyLeg(ctx context.Context, tx store.LedgerTx, m domain.Mutation) (*domain.TransactionRecord, error) {
	acc, err := tx.LockedAccount(ctx, m.AccountID)
	if err != nil {
		return nil, err
	}

	var next decimal.Decimal
	switch m.Kind {
	case domain.KindCredit:
		next = acc.Balance.Add(m.Amount)
		if !next.LessThan(domain.MaxAmount) {
			return nil, domain.ErrBalanceLimit
		}
	case domain.KindDebit:
		next = acc.Balance.Sub(m.Amount)
		if next.IsNegative() {
			return nil, domain.ErrInsufficientFunds
		}
	default:
		return nil, domain.ErrInvalidKind
	}

	if err := tx.UpdateBalance(ctx, m.AccountID, next); err != nil {
		return nil, err
	}
	rec := &domain.TransactionRecord{
		AccountID:      m.AccountID,
		Kind:           m.Kind,
		Amount:         m.Amount,
		Description:    m.Description,
		BalanceAfter:   next,
		CounterpartyID: m.CounterpartyID,
		ProductID:      m.ProductID,
	}
	if err := tx.InsertRecord(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// ApplyMutation atomically changes one account's balance and appends the matching record.
func (s *Service) ApplyMutation(ctx context.Context, m domain.Mutation) (*domain.MutationResult, error) {
	if err := validateMutation(m); err != nil {
		return nil, err
	}

	var rec *domain.TransactionRecord
	err := s.repo.RunInTx(ctx, []int64{m.AccountID}, func(tx store.LedgerTx) error {
		var legErr error
		rec, legErr = applyLeg(ctx, tx, m)
		return legErr
	})
	if err != nil {
		err = storageFailure(err)
		if domain.IsRetryable(err) {
			log.Printf("level=error component=ledger msg=\"mutation rolled back\" account_id=%d kind=%s amount=%s err=%v", m.AccountID, m.Kind, m.Amount, err)
		}
		return nil, err
	}

	s.publishRecords(ctx, "", rec)
	return &domain.MutationResult{NewBalance: rec.BalanceAfter, Record: rec}, nil
}

// Fund credits an account from outside the ledger.
func (s *Service) Fund(ctx context.Context, accountID int64, amount decimal.Decimal) (*domain.MutationResult, error) {
	return s.ApplyMutation(ctx, domain.Mutation{
		AccountID:   accountID,
		Kind:        domain.KindCredit,
		Amount:      amount,
		Description: fundingDescription,
	})
}
