/**
 * @description
 * Read side of the ledger: statements, spending insights, balances converted for
 * display, and the drift check used by the reconciliation job.
 */

package app

import (
	"context"
	"log"
	"strings"

	"github.com/transfa/wallet-service/internal/domain"
)

// Statement returns the account's history, newest first.
func (s *Service) Statement(ctx context.Context, accountID int64, filter domain.StatementFilter) ([]domain.TransactionRecord, error) {
	if filter.Kind != "" && !filter.Kind.Valid() {
		return nil, domain.ErrInvalidKind
	}
	if _, err := s.repo.FindAccountByID(ctx, accountID); err != nil {
		return nil, storageFailure(err)
	}
	records, err := s.repo.ListRecords(ctx, accountID, filter.Normalize())
	if err != nil {
		return nil, storageFailure(err)
	}
	return records, nil
}

// Insights summarizes spending for an account.
func (s *Service) Insights(ctx context.Context, accountID int64) (*domain.Insights, error) {
	if _, err := s.repo.FindAccountByID(ctx, accountID); err != nil {
		return nil, storageFailure(err)
	}
	stats, err := s.repo.RecordStats(ctx, accountID)
	if err != nil {
		return nil, storageFailure(err)
	}
	recent, err := s.repo.CountRecentRecords(ctx, accountID, domain.TrendWindow)
	if err != nil {
		return nil, storageFailure(err)
	}

	trend := domain.TrendLow
	if recent > domain.TrendActiveThreshold {
		trend = domain.TrendActive
	}
	return &domain.Insights{
		TotalSpent:         stats.TotalDebits,
		AvgTransactionSize: stats.AvgAmount.Round(domain.MoneyScale),
		TotalTransactions:  stats.Count,
		WeeklyTrend:        trend,
	}, nil
}

// Balance returns the account balance, converted into currency for display when it
// differs from the base currency. Conversion never fails the read.
func (s *Service) Balance(ctx context.Context, accountID int64, currency string) (*domain.BalanceView, error) {
	acc, err := s.repo.FindAccountByID(ctx, accountID)
	if err != nil {
		return nil, storageFailure(err)
	}

	view := &domain.BalanceView{
		Balance:      acc.Balance,
		Currency:     s.baseCurrency,
		BaseBalance:  acc.Balance,
		BaseCurrency: s.baseCurrency,
	}
	target := strings.ToUpper(strings.TrimSpace(currency))
	if target == "" || target == s.baseCurrency || s.rates == nil {
		return view, nil
	}
	view.Balance = s.rates.Convert(ctx, acc.Balance, s.baseCurrency, target)
	view.Currency = target
	return view, nil
}

// ReconcileBalances compares every materialized balance with its transaction log and
// logs any account that disagrees.
func (s *Service) ReconcileBalances(ctx context.Context) ([]domain.BalanceDrift, error) {
	drifts, err := s.repo.FindBalanceDrifts(ctx)
	if err != nil {
		return nil, storageFailure(err)
	}
	for _, d := range drifts {
		log.Printf("level=error component=ledger msg=\"balance drift detected\" account_id=%d stored=%s ledger=%s", d.AccountID, d.StoredBalance, d.LedgerBalance)
	}
	return drifts, nil
}
