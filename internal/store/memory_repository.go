/**
 * @description
 * In-memory implementation of Repository. Units of work take per-account locks in
 * ascending id order, stage their changes privately and publish them under a single
 * write lock, so readers never see half of a transfer.
 *
 * @notes
 * - When opened with a write-ahead log, every committed unit is appended as one
 *   JSON line before it becomes visible, and the log is replayed on start-up.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/transfa/wallet-service/internal/domain"
	"github.com/transfa/wallet-service/pkg/wal"
)

const (
	walEntryAccount = "account"
	walEntryProduct = "product"
	walEntryCommit  = "commit"
)

type walAccount struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"password_hash"`
	CreatedAt    time.Time `json:"created_at"`
}

type walEntry struct {
	Type     string                     `json:"type"`
	Account  *walAccount                `json:"account,omitempty"`
	Product  *domain.Product            `json:"product,omitempty"`
	Records  []domain.TransactionRecord `json:"records,omitempty"`
	Balances map[int64]decimal.Decimal  `json:"balances,omitempty"`
}

// accountLock is a one-slot semaphore so waiters can give up when ctx is done.
type accountLock chan struct{}

// MemoryRepository keeps the whole ledger in process memory.
type MemoryRepository struct {
	mu         sync.RWMutex
	accounts   map[int64]*domain.Account
	byUsername map[string]int64
	records    []domain.TransactionRecord
	products   []domain.Product

	nextAccountID int64
	nextRecordID  int64
	nextProductID int64

	locksMu sync.Mutex
	locks   map[int64]accountLock

	wal *wal.Log
	now func() time.Time
}

// NewMemoryRepository creates an empty, non-durable repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		accounts:   make(map[int64]*domain.Account),
		byUsername: make(map[string]int64),
		locks:      make(map[int64]accountLock),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// OpenMemoryRepository creates a repository backed by the write-ahead log at path,
// replaying any existing entries first.
func OpenMemoryRepository(path string) (*MemoryRepository, error) {
	walLog, err := wal.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open wal: %w", err)
	}
	return openWithLog(walLog)
}

func openWithLog(walLog *wal.Log) (*MemoryRepository, error) {
	r := NewMemoryRepository()
	if err := walLog.Replay(r.replay); err != nil {
		walLog.Close()
		return nil, fmt.Errorf("replay wal: %w", err)
	}
	r.wal = walLog
	return r, nil
}

// Close releases the write-ahead log, if any.
func (r *MemoryRepository) Close() error {
	if r.wal == nil {
		return nil
	}
	return r.wal.Close()
}

func (r *MemoryRepository) replay(line []byte) error {
	var entry walEntry
	if err := json.Unmarshal(line, &entry); err != nil {
		return err
	}
	switch entry.Type {
	case walEntryAccount:
		if entry.Account == nil {
			return fmt.Errorf("account entry without payload")
		}
		r.putAccount(&domain.Account{
			ID:           entry.Account.ID,
			Username:     entry.Account.Username,
			PasswordHash: entry.Account.PasswordHash,
			Balance:      decimal.Zero,
			CreatedAt:    entry.Account.CreatedAt,
			UpdatedAt:    entry.Account.CreatedAt,
		})
	case walEntryProduct:
		if entry.Product == nil {
			return fmt.Errorf("product entry without payload")
		}
		r.products = append(r.products, *entry.Product)
		if entry.Product.ID > r.nextProductID {
			r.nextProductID = entry.Product.ID
		}
	case walEntryCommit:
		for _, rec := range entry.Records {
			r.records = append(r.records, rec)
			if rec.ID > r.nextRecordID {
				r.nextRecordID = rec.ID
			}
			if acc, ok := r.accounts[rec.AccountID]; ok {
				acc.UpdatedAt = rec.CreatedAt
			}
		}
		for id, balance := range entry.Balances {
			if acc, ok := r.accounts[id]; ok {
				acc.Balance = balance
			}
		}
	default:
		return fmt.Errorf("unknown wal entry type %q", entry.Type)
	}
	return nil
}

func (r *MemoryRepository) putAccount(acc *domain.Account) {
	r.accounts[acc.ID] = acc
	r.byUsername[strings.ToLower(acc.Username)] = acc.ID
	if acc.ID > r.nextAccountID {
		r.nextAccountID = acc.ID
	}
}

func (r *MemoryRepository) appendWAL(entry walEntry) error {
	if r.wal == nil {
		return nil
	}
	err := r.wal.Append(entry)
	if errors.Is(err, wal.ErrPoisoned) {
		return fmt.Errorf("%w: %w", domain.ErrStorageUnavailable, err)
	}
	return err
}

// CreateAccount registers a new account with a zero balance.
func (r *MemoryRepository) CreateAccount(ctx context.Context, username, passwordHash string) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byUsername[strings.ToLower(username)]; exists {
		return nil, domain.ErrUsernameTaken
	}
	now := r.now()
	acc := &domain.Account{
		ID:           r.nextAccountID + 1,
		Username:     username,
		PasswordHash: passwordHash,
		Balance:      decimal.Zero,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err := r.appendWAL(walEntry{Type: walEntryAccount, Account: &walAccount{
		ID: acc.ID, Username: acc.Username, PasswordHash: acc.PasswordHash, CreatedAt: now,
	}})
	if err != nil {
		return nil, err
	}
	r.putAccount(acc)
	out := *acc
	return &out, nil
}

func (r *MemoryRepository) FindAccountByID(ctx context.Context, id int64) (*domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	acc, ok := r.accounts[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	out := *acc
	return &out, nil
}

func (r *MemoryRepository) FindAccountByUsername(ctx context.Context, username string) (*domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byUsername[strings.ToLower(strings.TrimSpace(username))]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	out := *r.accounts[id]
	return &out, nil
}

func (r *MemoryRepository) CreateProduct(ctx context.Context, product *domain.Product) (*domain.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := *product
	p.ID = r.nextProductID + 1
	p.CreatedAt = r.now()
	if err := r.appendWAL(walEntry{Type: walEntryProduct, Product: &p}); err != nil {
		return nil, err
	}
	r.nextProductID = p.ID
	r.products = append(r.products, p)
	return &p, nil
}

func (r *MemoryRepository) FindProductByID(ctx context.Context, id int64) (*domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := range r.products {
		if r.products[i].ID == id {
			p := r.products[i]
			return &p, nil
		}
	}
	return nil, domain.ErrProductNotFound
}

func (r *MemoryRepository) ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	filter = filter.Normalize()
	search := strings.ToLower(strings.TrimSpace(filter.Search))

	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Product, 0, filter.Limit)
	for i := len(r.products) - 1; i >= 0 && len(out) < filter.Limit; i-- {
		p := r.products[i]
		if search != "" &&
			!strings.Contains(strings.ToLower(p.Name), search) &&
			!strings.Contains(strings.ToLower(p.Description), search) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (r *MemoryRepository) lockFor(id int64) accountLock {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	l, ok := r.locks[id]
	if !ok {
		l = make(accountLock, 1)
		r.locks[id] = l
	}
	return l
}

// RunInTx implements Ledger.
func (r *MemoryRepository) RunInTx(ctx context.Context, accountIDs []int64, fn func(tx LedgerTx) error) error {
	ordered := LockOrder(accountIDs)
	held := make([]accountLock, 0, len(ordered))
	defer func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i]
		}
	}()
	for _, id := range ordered {
		l := r.lockFor(id)
		select {
		case l <- struct{}{}:
			held = append(held, l)
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	tx := &memoryTx{locked: make(map[int64]*domain.Account, len(ordered)), dirty: make(map[int64]bool)}
	r.mu.RLock()
	for _, id := range ordered {
		if acc, ok := r.accounts[id]; ok {
			snapshot := *acc
			tx.locked[id] = &snapshot
		}
	}
	r.mu.RUnlock()

	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.commit(tx)
}

func (r *MemoryRepository) commit(tx *memoryTx) error {
	if len(tx.records) == 0 && len(tx.dirty) == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	nextID := r.nextRecordID
	committed := make([]domain.TransactionRecord, len(tx.records))
	for i, rec := range tx.records {
		nextID++
		c := *rec
		c.ID = nextID
		c.CreatedAt = now
		committed[i] = c
	}
	balances := make(map[int64]decimal.Decimal, len(tx.dirty))
	for id := range tx.dirty {
		balances[id] = tx.locked[id].Balance
	}

	if err := r.appendWAL(walEntry{Type: walEntryCommit, Records: committed, Balances: balances}); err != nil {
		return err
	}

	r.nextRecordID = nextID
	for i, rec := range tx.records {
		rec.ID = committed[i].ID
		rec.CreatedAt = now
	}
	r.records = append(r.records, committed...)
	for id, balance := range balances {
		acc := r.accounts[id]
		acc.Balance = balance
		acc.UpdatedAt = now
	}
	return nil
}

type memoryTx struct {
	locked  map[int64]*domain.Account
	dirty   map[int64]bool
	records []*domain.TransactionRecord
}

func (t *memoryTx) LockedAccount(ctx context.Context, id int64) (*domain.Account, error) {
	acc, ok := t.locked[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	out := *acc
	return &out, nil
}

func (t *memoryTx) UpdateBalance(ctx context.Context, id int64, balance decimal.Decimal) error {
	acc, ok := t.locked[id]
	if !ok {
		return domain.ErrAccountNotFound
	}
	if balance.IsNegative() {
		return domain.ErrInsufficientFunds
	}
	acc.Balance = balance
	t.dirty[id] = true
	return nil
}

func (t *memoryTx) InsertRecord(ctx context.Context, rec *domain.TransactionRecord) error {
	if _, ok := t.locked[rec.AccountID]; !ok {
		return domain.ErrAccountNotFound
	}
	t.records = append(t.records, rec)
	return nil
}

func (r *MemoryRepository) decorate(rec domain.TransactionRecord) domain.TransactionRecord {
	if rec.CounterpartyID != nil {
		if acc, ok := r.accounts[*rec.CounterpartyID]; ok {
			rec.CounterpartyUsername = acc.Username
		}
	}
	if rec.ProductID != nil {
		for i := range r.products {
			if r.products[i].ID == *rec.ProductID {
				rec.ProductName = r.products[i].Name
				break
			}
		}
	}
	return rec
}

func (r *MemoryRepository) ListRecords(ctx context.Context, accountID int64, filter domain.StatementFilter) ([]domain.TransactionRecord, error) {
	filter = filter.Normalize()
	search := strings.ToLower(strings.TrimSpace(filter.Search))

	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.TransactionRecord, 0, filter.Limit)
	for i := len(r.records) - 1; i >= 0 && len(out) < filter.Limit; i-- {
		rec := r.records[i]
		if rec.AccountID != accountID {
			continue
		}
		if filter.Kind != "" && rec.Kind != filter.Kind {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(rec.Description), search) {
			continue
		}
		out = append(out, r.decorate(rec))
	}
	return out, nil
}

func (r *MemoryRepository) RecordStats(ctx context.Context, accountID int64) (*domain.RecordStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := &domain.RecordStats{TotalDebits: decimal.Zero, AvgAmount: decimal.Zero}
	sum := decimal.Zero
	for _, rec := range r.records {
		if rec.AccountID != accountID {
			continue
		}
		stats.Count++
		sum = sum.Add(rec.Amount)
		if rec.Kind == domain.KindDebit {
			stats.TotalDebits = stats.TotalDebits.Add(rec.Amount)
		}
	}
	if stats.Count > 0 {
		stats.AvgAmount = sum.Div(decimal.NewFromInt(stats.Count))
	}
	return stats, nil
}

func (r *MemoryRepository) CountRecentRecords(ctx context.Context, accountID int64, window int) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for i := len(r.records) - 1; i >= 0 && count < window; i-- {
		if r.records[i].AccountID == accountID {
			count++
		}
	}
	return count, nil
}

func (r *MemoryRepository) FindBalanceDrifts(ctx context.Context) ([]domain.BalanceDrift, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sums := make(map[int64]decimal.Decimal, len(r.accounts))
	for _, rec := range r.records {
		sums[rec.AccountID] = sums[rec.AccountID].Add(rec.Signed())
	}
	var drifts []domain.BalanceDrift
	for id := int64(1); id <= r.nextAccountID; id++ {
		acc, ok := r.accounts[id]
		if !ok {
			continue
		}
		if !acc.Balance.Equal(sums[id]) {
			drifts = append(drifts, domain.BalanceDrift{
				AccountID:     id,
				StoredBalance: acc.Balance,
				LedgerBalance: sums[id],
			})
		}
	}
	return drifts, nil
}

var _ Repository = (*MemoryRepository)(nil)
