/**
 * @description
 * MySQL implementation of Repository built on gorm. Units of work lock account rows
 * with SELECT ... FOR UPDATE in ascending id order.
 *
 * @dependencies
 * - gorm.io/gorm: ORM and transaction handling.
 * - pkg/mysql: Connection setup.
 */

package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/transfa/wallet-service/internal/domain"
	"github.com/transfa/wallet-service/pkg/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type sqlAccount struct {
	ID           int64           `gorm:"primaryKey;autoIncrement"`
	Username     string          `gorm:"size:32;not null;uniqueIndex"`
	PasswordHash string          `gorm:"size:255;not null"`
	Balance      decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0"`
	CreatedAt    time.Time       `gorm:"type:datetime(6)"`
	UpdatedAt    time.Time       `gorm:"type:datetime(6)"`
}

func (*sqlAccount) TableName() string {
	return "accounts"
}

func (a *sqlAccount) toDomain() *domain.Account {
	return &domain.Account{
		ID:           a.ID,
		Username:     a.Username,
		PasswordHash: a.PasswordHash,
		Balance:      a.Balance,
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
}

type sqlProduct struct {
	ID          int64           `gorm:"primaryKey;autoIncrement"`
	Name        string          `gorm:"size:255;not null"`
	Price       decimal.Decimal `gorm:"type:decimal(20,2);not null"`
	Description string          `gorm:"type:text"`
	CreatedAt   time.Time       `gorm:"type:datetime(6)"`
}

func (*sqlProduct) TableName() string {
	return "products"
}

func (p *sqlProduct) toDomain() domain.Product {
	return domain.Product{ID: p.ID, Name: p.Name, Price: p.Price, Description: p.Description, CreatedAt: p.CreatedAt}
}

type sqlRecord struct {
	ID             int64           `gorm:"primaryKey;autoIncrement"`
	AccountID      int64           `gorm:"not null;index:idx_records_account_created,priority:1"`
	Kind           string          `gorm:"size:8;not null"`
	Amount         decimal.Decimal `gorm:"type:decimal(20,2);not null"`
	Description    string          `gorm:"size:512"`
	BalanceAfter   decimal.Decimal `gorm:"type:decimal(20,2);not null"`
	CounterpartyID *int64
	ProductID      *int64
	CreatedAt      time.Time `gorm:"type:datetime(6);index:idx_records_account_created,priority:2"`
}

func (*sqlRecord) TableName() string {
	return "transaction_records"
}

// MySQLRepository implements Repository on MySQL through GORM. Row locks come from
// SELECT ... FOR UPDATE inside a GORM transaction.
type MySQLRepository struct {
	client *mysql.Client
}

func NewMySQLRepository(client *mysql.Client) *MySQLRepository {
	return &MySQLRepository{client: client}
}

func (r *MySQLRepository) db(ctx context.Context) *gorm.DB {
	return r.client.DB().WithContext(ctx)
}

// EnsureSchema migrates the ledger tables.
func (r *MySQLRepository) EnsureSchema(ctx context.Context) error {
	return r.db(ctx).AutoMigrate(&sqlAccount{}, &sqlProduct{}, &sqlRecord{})
}

func (r *MySQLRepository) CreateAccount(ctx context.Context, username, passwordHash string) (*domain.Account, error) {
	row := sqlAccount{Username: username, PasswordHash: passwordHash, Balance: decimal.Zero}
	if err := r.db(ctx).Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, domain.ErrUsernameTaken
		}
		return nil, err
	}
	return row.toDomain(), nil
}

func (r *MySQLRepository) FindAccountByID(ctx context.Context, id int64) (*domain.Account, error) {
	var row sqlAccount
	if err := r.db(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, err
	}
	return row.toDomain(), nil
}

// FindAccountByUsername relies on the column's case-insensitive collation.
func (r *MySQLRepository) FindAccountByUsername(ctx context.Context, username string) (*domain.Account, error) {
	var row sqlAccount
	if err := r.db(ctx).Where("username = ?", strings.TrimSpace(username)).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, err
	}
	return row.toDomain(), nil
}

func (r *MySQLRepository) CreateProduct(ctx context.Context, product *domain.Product) (*domain.Product, error) {
	row := sqlProduct{Name: product.Name, Price: product.Price, Description: product.Description}
	if err := r.db(ctx).Create(&row).Error; err != nil {
		return nil, err
	}
	p := row.toDomain()
	return &p, nil
}

func (r *MySQLRepository) FindProductByID(ctx context.Context, id int64) (*domain.Product, error) {
	var row sqlProduct
	if err := r.db(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrProductNotFound
		}
		return nil, err
	}
	p := row.toDomain()
	return &p, nil
}

func (r *MySQLRepository) ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	filter = filter.Normalize()
	q := r.db(ctx).Model(&sqlProduct{})
	if like := containsPattern(filter.Search); like != "" {
		q = q.Where("LOWER(name) LIKE ? ESCAPE '"+likeEscape+"' OR LOWER(description) LIKE ? ESCAPE '"+likeEscape+"'", like, like)
	}
	var rows []sqlProduct
	if err := q.Order("created_at DESC, id DESC").Limit(filter.Limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	products := make([]domain.Product, 0, len(rows))
	for i := range rows {
		products = append(products, rows[i].toDomain())
	}
	return products, nil
}

// RunInTx implements Ledger.
func (r *MySQLRepository) RunInTx(ctx context.Context, accountIDs []int64, fn func(tx LedgerTx) error) error {
	ordered := LockOrder(accountIDs)
	return r.db(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []sqlAccount
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id IN ?", ordered).
			Order("id").
			Find(&rows).Error; err != nil {
			return err
		}
		locked := make(map[int64]*domain.Account, len(rows))
		for i := range rows {
			locked[rows[i].ID] = rows[i].toDomain()
		}
		return fn(&gormTx{db: tx, locked: locked})
	})
}

type gormTx struct {
	db     *gorm.DB
	locked map[int64]*domain.Account
}

func (t *gormTx) LockedAccount(ctx context.Context, id int64) (*domain.Account, error) {
	acc, ok := t.locked[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	out := *acc
	return &out, nil
}

func (t *gormTx) UpdateBalance(ctx context.Context, id int64, balance decimal.Decimal) error {
	acc, ok := t.locked[id]
	if !ok {
		return domain.ErrAccountNotFound
	}
	if balance.IsNegative() {
		return domain.ErrInsufficientFunds
	}
	err := t.db.Model(&sqlAccount{}).Where("id = ?", id).
		Updates(map[string]any{"balance": balance, "updated_at": time.Now().UTC()}).Error
	if err != nil {
		return err
	}
	acc.Balance = balance
	return nil
}

func (t *gormTx) InsertRecord(ctx context.Context, rec *domain.TransactionRecord) error {
	if _, ok := t.locked[rec.AccountID]; !ok {
		return domain.ErrAccountNotFound
	}
	row := sqlRecord{
		AccountID:      rec.AccountID,
		Kind:           string(rec.Kind),
		Amount:         rec.Amount,
		Description:    rec.Description,
		BalanceAfter:   rec.BalanceAfter,
		CounterpartyID: rec.CounterpartyID,
		ProductID:      rec.ProductID,
	}
	if err := t.db.Create(&row).Error; err != nil {
		return err
	}
	rec.ID = row.ID
	rec.CreatedAt = row.CreatedAt
	return nil
}

type recordView struct {
	ID                   int64
	CreatedAt            time.Time
	AccountID            int64
	Kind                 string
	Amount               decimal.Decimal
	Description          string
	BalanceAfter         decimal.Decimal
	CounterpartyID       *int64
	ProductID            *int64
	CounterpartyUsername string
	ProductName          string
}

func (r *MySQLRepository) ListRecords(ctx context.Context, accountID int64, filter domain.StatementFilter) ([]domain.TransactionRecord, error) {
	filter = filter.Normalize()
	q := r.db(ctx).Table("transaction_records AS t").
		Select("t.id, t.created_at, t.account_id, t.kind, t.amount, t.description, t.balance_after, " +
			"t.counterparty_id, t.product_id, " +
			"COALESCE(c.username, '') AS counterparty_username, COALESCE(p.name, '') AS product_name").
		Joins("LEFT JOIN accounts c ON c.id = t.counterparty_id").
		Joins("LEFT JOIN products p ON p.id = t.product_id").
		Where("t.account_id = ?", accountID)
	if filter.Kind != "" {
		q = q.Where("t.kind = ?", string(filter.Kind))
	}
	if like := containsPattern(filter.Search); like != "" {
		q = q.Where("LOWER(t.description) LIKE ? ESCAPE '"+likeEscape+"'", like)
	}

	var rows []recordView
	if err := q.Order("t.created_at DESC, t.id DESC").Limit(filter.Limit).Scan(&rows).Error; err != nil {
		return nil, err
	}
	records := make([]domain.TransactionRecord, 0, len(rows))
	for _, v := range rows {
		records = append(records, domain.TransactionRecord{
			ID:                   v.ID,
			CreatedAt:            v.CreatedAt,
			AccountID:            v.AccountID,
			Kind:                 domain.Kind(v.Kind),
			Amount:               v.Amount,
			Description:          v.Description,
			BalanceAfter:         v.BalanceAfter,
			CounterpartyID:       v.CounterpartyID,
			ProductID:            v.ProductID,
			CounterpartyUsername: v.CounterpartyUsername,
			ProductName:          v.ProductName,
		})
	}
	return records, nil
}

func (r *MySQLRepository) RecordStats(ctx context.Context, accountID int64) (*domain.RecordStats, error) {
	var out struct {
		TotalDebits decimal.Decimal
		AvgAmount   decimal.Decimal
		RecordCount int64
	}
	err := r.db(ctx).Raw(`
		SELECT
			COALESCE(SUM(CASE WHEN kind = 'debit' THEN amount ELSE 0 END), 0) AS total_debits,
			COALESCE(AVG(amount), 0) AS avg_amount,
			COUNT(*) AS record_count
		FROM transaction_records
		WHERE account_id = ?`, accountID).Scan(&out).Error
	if err != nil {
		return nil, err
	}
	return &domain.RecordStats{TotalDebits: out.TotalDebits, AvgAmount: out.AvgAmount, Count: out.RecordCount}, nil
}

func (r *MySQLRepository) CountRecentRecords(ctx context.Context, accountID int64, window int) (int, error) {
	var count int64
	err := r.db(ctx).Raw(`
		SELECT COUNT(*) FROM (
			SELECT id FROM transaction_records
			WHERE account_id = ?
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		) recent`, accountID, window).Scan(&count).Error
	return int(count), err
}

func (r *MySQLRepository) FindBalanceDrifts(ctx context.Context) ([]domain.BalanceDrift, error) {
	var rows []struct {
		AccountID     int64
		StoredBalance decimal.Decimal
		LedgerBalance decimal.Decimal
	}
	err := r.db(ctx).Raw(`
		SELECT a.id AS account_id, a.balance AS stored_balance,
		       COALESCE(SUM(CASE WHEN t.kind = 'credit' THEN t.amount ELSE -t.amount END), 0) AS ledger_balance
		FROM accounts a
		LEFT JOIN transaction_records t ON t.account_id = a.id
		GROUP BY a.id, a.balance
		HAVING stored_balance <> ledger_balance
		ORDER BY a.id`).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	drifts := make([]domain.BalanceDrift, 0, len(rows))
	for _, row := range rows {
		drifts = append(drifts, domain.BalanceDrift{
			AccountID:     row.AccountID,
			StoredBalance: row.StoredBalance,
			LedgerBalance: row.LedgerBalance,
		})
	}
	return drifts, nil
}

var _ Repository = (*MySQLRepository)(nil)
