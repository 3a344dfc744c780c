/**
 * @description
 * This file defines the storage contracts used by the ledger engine. Every balance
 * change flows through Ledger.RunInTx, a unit of work that locks the named accounts
 * in ascending id order and commits the balance updates together with their
 * transaction records, or nothing at all.
 *
 * @dependencies
 * - context: Standard Go library.
 * - github.com/shopspring/decimal: Money values.
 * - internal/domain: Domain models and sentinel errors.
 */

package store

import (
	"context"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/transfa/wallet-service/internal/domain"
)

// AccountStore covers identity and the materialized balance.
type AccountStore interface {
	CreateAccount(ctx context.Context, username, passwordHash string) (*domain.Account, error)
	FindAccountByID(ctx context.Context, id int64) (*domain.Account, error)
	// FindAccountByUsername matches case-insensitively.
	FindAccountByUsername(ctx context.Context, username string) (*domain.Account, error)
}

// ProductCatalog is the catalog lookup used by purchases plus basic management.
type ProductCatalog interface {
	CreateProduct(ctx context.Context, product *domain.Product) (*domain.Product, error)
	FindProductByID(ctx context.Context, id int64) (*domain.Product, error)
	ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error)
}

// LedgerTx is the view of the store available inside a unit of work.
type LedgerTx interface {
	// LockedAccount returns the current state of an account locked by this unit.
	// Accounts that were not requested, or do not exist, yield domain.ErrAccountNotFound.
	LockedAccount(ctx context.Context, id int64) (*domain.Account, error)
	UpdateBalance(ctx context.Context, id int64, balance decimal.Decimal) error
	// InsertRecord appends rec; ID and CreatedAt are filled in by the store.
	InsertRecord(ctx context.Context, rec *domain.TransactionRecord) error
}

// Ledger runs units of work.
type Ledger interface {
	// RunInTx locks accountIDs (de-duplicated, ascending), runs fn and commits when fn
	// returns nil. Any error from fn, or a cancelled ctx, discards every change.
	RunInTx(ctx context.Context, accountIDs []int64, fn func(tx LedgerTx) error) error
}

// History is the read side of the transaction log.
type History interface {
	// ListRecords returns matching records newest first.
	ListRecords(ctx context.Context, accountID int64, filter domain.StatementFilter) ([]domain.TransactionRecord, error)
	RecordStats(ctx context.Context, accountID int64) (*domain.RecordStats, error)
	// CountRecentRecords counts how many of the newest `window` records exist.
	CountRecentRecords(ctx context.Context, accountID int64, window int) (int, error)
	// FindBalanceDrifts lists accounts whose balance differs from the signed sum of their records.
	FindBalanceDrifts(ctx context.Context) ([]domain.BalanceDrift, error)
}

// Repository is everything the service needs from a backing store.
type Repository interface {
	AccountStore
	ProductCatalog
	Ledger
	History
}

// LockOrder returns ids de-duplicated and sorted ascending, the only order in which
// a unit of work may acquire account locks.
func LockOrder(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// likeEscape is the escape character used by the SQL stores' search patterns.
const likeEscape = "!"

var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

// containsPattern turns a search term into a lower-case LIKE pattern that matches the
// term literally anywhere in the value. An empty term yields "".
func containsPattern(search string) string {
	search = strings.ToLower(strings.TrimSpace(search))
	if search == "" {
		return ""
	}
	return "%" + likeEscaper.Replace(search) + "%"
}
