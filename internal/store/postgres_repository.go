/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * Units of work run inside one database transaction and lock the participating
 * account rows with `SELECT ... ORDER BY id FOR UPDATE`.
 *
 * @dependencies
 * - context, errors, fmt, strings: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - github.com/shopspring/decimal: NUMERIC columns scan into decimal.Decimal.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/transfa/wallet-service/internal/domain"
)

//go:embed schema_postgres.sql
var postgresSchema string

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// EnsureSchema creates the ledger tables when they do not exist yet.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.Exec(ctx, postgresSchema)
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isCheckViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23514"
}

const accountColumns = "id, username, password_hash, balance, created_at, updated_at"

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var acc domain.Account
	if err := row.Scan(&acc.ID, &acc.Username, &acc.PasswordHash, &acc.Balance, &acc.CreatedAt, &acc.UpdatedAt); err != nil {
		return nil, err
	}
	return &acc, nil
}

func (r *PostgresRepository) CreateAccount(ctx context.Context, username, passwordHash string) (*domain.Account, error) {
	query := `INSERT INTO accounts (username, password_hash) VALUES ($1, $2) RETURNING ` + accountColumns
	acc, err := scanAccount(r.db.QueryRow(ctx, query, username, passwordHash))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.ErrUsernameTaken
		}
		return nil, err
	}
	return acc, nil
}

func (r *PostgresRepository) FindAccountByID(ctx context.Context, id int64) (*domain.Account, error) {
	acc, err := scanAccount(r.db.QueryRow(ctx, "SELECT "+accountColumns+" FROM accounts WHERE id = $1", id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrAccountNotFound
		}
		return nil, err
	}
	return acc, nil
}

func (r *PostgresRepository) FindAccountByUsername(ctx context.Context, username string) (*domain.Account, error) {
	query := "SELECT " + accountColumns + " FROM accounts WHERE lower(username) = lower(btrim($1))"
	acc, err := scanAccount(r.db.QueryRow(ctx, query, username))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrAccountNotFound
		}
		return nil, err
	}
	return acc, nil
}

func (r *PostgresRepository) CreateProduct(ctx context.Context, product *domain.Product) (*domain.Product, error) {
	query := `
		INSERT INTO products (name, price, description)
		VALUES ($1, $2, $3)
		RETURNING id, name, price, description, created_at
	`
	var p domain.Product
	err := r.db.QueryRow(ctx, query, product.Name, product.Price, product.Description).
		Scan(&p.ID, &p.Name, &p.Price, &p.Description, &p.CreatedAt)
	if err != nil {
		if isCheckViolation(err) {
			return nil, domain.ErrInvalidProduct
		}
		return nil, err
	}
	return &p, nil
}

func (r *PostgresRepository) FindProductByID(ctx context.Context, id int64) (*domain.Product, error) {
	var p domain.Product
	err := r.db.QueryRow(ctx, "SELECT id, name, price, description, created_at FROM products WHERE id = $1", id).
		Scan(&p.ID, &p.Name, &p.Price, &p.Description, &p.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrProductNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *PostgresRepository) ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	filter = filter.Normalize()
	query := `
		SELECT id, name, price, description, created_at
		FROM products
		WHERE ($1 = '' OR lower(name) LIKE $1 ESCAPE '!' OR lower(description) LIKE $1 ESCAPE '!')
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, containsPattern(filter.Search), filter.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.Description, &p.CreatedAt); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// RunInTx implements Ledger.
func (r *PostgresRepository) RunInTx(ctx context.Context, accountIDs []int64, fn func(tx LedgerTx) error) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	ordered := LockOrder(accountIDs)
	// ORDER BY is applied before the row locks are taken, so locks are acquired ascending.
	rows, err := tx.Query(ctx, "SELECT "+accountColumns+" FROM accounts WHERE id = ANY($1) ORDER BY id FOR UPDATE", ordered)
	if err != nil {
		return err
	}
	locked := make(map[int64]*domain.Account, len(ordered))
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			rows.Close()
			return err
		}
		locked[acc.ID] = acc
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	if err := fn(&postgresTx{tx: tx, locked: locked}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type postgresTx struct {
	tx     pgx.Tx
	locked map[int64]*domain.Account
}

func (t *postgresTx) LockedAccount(ctx context.Context, id int64) (*domain.Account, error) {
	acc, ok := t.locked[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	out := *acc
	return &out, nil
}

func (t *postgresTx) UpdateBalance(ctx context.Context, id int64, balance decimal.Decimal) error {
	acc, ok := t.locked[id]
	if !ok {
		return domain.ErrAccountNotFound
	}
	_, err := t.tx.Exec(ctx, "UPDATE accounts SET balance = $1, updated_at = NOW() WHERE id = $2", balance, id)
	if err != nil {
		if isCheckViolation(err) {
			return domain.ErrInsufficientFunds
		}
		return err
	}
	acc.Balance = balance
	return nil
}

func (t *postgresTx) InsertRecord(ctx context.Context, rec *domain.TransactionRecord) error {
	if _, ok := t.locked[rec.AccountID]; !ok {
		return domain.ErrAccountNotFound
	}
	query := `
		INSERT INTO transaction_records
			(account_id, kind, amount, description, balance_after, counterparty_id, product_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`
	return t.tx.QueryRow(ctx, query,
		rec.AccountID,
		string(rec.Kind),
		rec.Amount,
		rec.Description,
		rec.BalanceAfter,
		rec.CounterpartyID,
		rec.ProductID,
	).Scan(&rec.ID, &rec.CreatedAt)
}

func (r *PostgresRepository) ListRecords(ctx context.Context, accountID int64, filter domain.StatementFilter) ([]domain.TransactionRecord, error) {
	filter = filter.Normalize()
	query := `
		SELECT t.id, t.created_at, t.account_id, t.kind, t.amount, t.description, t.balance_after,
		       t.counterparty_id, t.product_id,
		       COALESCE(c.username, ''), COALESCE(p.name, '')
		FROM transaction_records t
		LEFT JOIN accounts c ON c.id = t.counterparty_id
		LEFT JOIN products p ON p.id = t.product_id
		WHERE t.account_id = $1
		  AND ($2 = '' OR t.kind = $2)
		  AND ($3 = '' OR lower(t.description) LIKE $3 ESCAPE '!')
		ORDER BY t.created_at DESC, t.id DESC
		LIMIT $4
	`
	rows, err := r.db.Query(ctx, query, accountID, string(filter.Kind), containsPattern(filter.Search), filter.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]domain.TransactionRecord, 0)
	for rows.Next() {
		var rec domain.TransactionRecord
		var kind string
		if err := rows.Scan(
			&rec.ID, &rec.CreatedAt, &rec.AccountID, &kind, &rec.Amount, &rec.Description, &rec.BalanceAfter,
			&rec.CounterpartyID, &rec.ProductID, &rec.CounterpartyUsername, &rec.ProductName,
		); err != nil {
			return nil, err
		}
		rec.Kind = domain.Kind(kind)
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *PostgresRepository) RecordStats(ctx context.Context, accountID int64) (*domain.RecordStats, error) {
	query := `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE kind = 'debit'), 0) AS total_debits,
			COALESCE(AVG(amount), 0) AS avg_amount,
			COUNT(*) AS record_count
		FROM transaction_records
		WHERE account_id = $1
	`
	var stats domain.RecordStats
	if err := r.db.QueryRow(ctx, query, accountID).Scan(&stats.TotalDebits, &stats.AvgAmount, &stats.Count); err != nil {
		return nil, fmt.Errorf("record stats: %w", err)
	}
	return &stats, nil
}

func (r *PostgresRepository) CountRecentRecords(ctx context.Context, accountID int64, window int) (int, error) {
	query := `
		SELECT COUNT(*) FROM (
			SELECT id FROM transaction_records
			WHERE account_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		) recent
	`
	var count int
	if err := r.db.QueryRow(ctx, query, accountID, window).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *PostgresRepository) FindBalanceDrifts(ctx context.Context) ([]domain.BalanceDrift, error) {
	query := `
		SELECT a.id, a.balance,
		       COALESCE(SUM(CASE WHEN t.kind = 'credit' THEN t.amount ELSE -t.amount END), 0) AS ledger_balance
		FROM accounts a
		LEFT JOIN transaction_records t ON t.account_id = a.id
		GROUP BY a.id, a.balance
		HAVING a.balance <> COALESCE(SUM(CASE WHEN t.kind = 'credit' THEN t.amount ELSE -t.amount END), 0)
		ORDER BY a.id
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var drifts []domain.BalanceDrift
	for rows.Next() {
		var d domain.BalanceDrift
		if err := rows.Scan(&d.AccountID, &d.StoredBalance, &d.LedgerBalance); err != nil {
			return nil, err
		}
		drifts = append(drifts, d)
	}
	return drifts, rows.Err()
}

var _ Repository = (*PostgresRepository)(nil)
