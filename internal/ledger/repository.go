package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fanfare-hq/fanfare/internal/access"
	"github.com/fanfare-hq/fanfare/internal/identity"
	"github.com/fanfare-hq/fanfare/internal/leadership"
	"github.com/fanfare-hq/fanfare/internal/platform/db"
)

// ConstraintIdempotencyKey guards against replayed transaction requests.
const ConstraintIdempotencyKey = "uq_transactions_idempotency_key"

// Repository defines ledger data access.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error

	// FindCategory implements access.CategoryReader.
	FindCategory(ctx context.Context, id int64) (access.Category, error)
	GetCategory(ctx context.Context, id int64) (Category, error)
	ListCategories(ctx context.Context, groupID int64) ([]Category, error)
	ListTransactions(ctx context.Context, categoryID int64, limit int) ([]Transaction, error)
	FindEvent(ctx context.Context, id int64) (PaymentEvent, error)
}

// TxRepository defines operations within a transaction.
type TxRepository interface {
	LockCategory(ctx context.Context, id int64) (Category, error)
	ActiveLeaders(ctx context.Context, categoryID int64) (access.LeaderSet, error)
	// InsertTransaction maps a reused idempotency key to
	// ErrDuplicateTransaction.
	InsertTransaction(ctx context.Context, t Transaction) (Transaction, error)
	AdjustBalance(ctx context.Context, categoryID, delta int64) (int64, error)
	InsertEvent(ctx context.Context, e PaymentEvent) (PaymentEvent, error)
	LockEvent(ctx context.Context, id int64) (PaymentEvent, error)
	UpdateEvent(ctx context.Context, e PaymentEvent) (PaymentEvent, error)
	DeleteEvent(ctx context.Context, id int64) error
}

var _ Repository = (*pgRepository)(nil)
var _ TxRepository = (*pgTxRepository)(nil)

type pgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

func (r *pgRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgTxRepository{tx: tx})
	})
}

const categoryColumns = `id, group_id, name, is_locked, balance_cents`

func scanCategory(row pgx.Row) (Category, error) {
	var c Category
	if err := row.Scan(&c.ID, &c.GroupID, &c.Name, &c.IsLocked, &c.Balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Category{}, ErrCategoryNotFound
		}
		return Category{}, err
	}
	return c, nil
}

func (r *pgRepository) FindCategory(ctx context.Context, id int64) (access.Category, error) {
	c, err := r.GetCategory(ctx, id)
	if err != nil {
		return access.Category{}, err
	}
	return c.Lockable(), nil
}

func (r *pgRepository) GetCategory(ctx context.Context, id int64) (Category, error) {
	return scanCategory(r.pool.QueryRow(ctx, `SELECT `+categoryColumns+` FROM financial_categories WHERE id = $1`, id))
}

func (r *pgRepository) ListCategories(ctx context.Context, groupID int64) ([]Category, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+categoryColumns+` FROM financial_categories WHERE group_id = $1 ORDER BY name`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

const transactionColumns = `id, category_id, amount_cents, description, authored_by_kind, authored_by_id, idempotency_key, created_at`

func (r *pgRepository) ListTransactions(ctx context.Context, categoryID int64, limit int) ([]Transaction, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+transactionColumns+` FROM transactions
WHERE category_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`, categoryID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Transaction
	for rows.Next() {
		var (
			t    Transaction
			kind string
		)
		if err := rows.Scan(&t.ID, &t.CategoryID, &t.Amount, &t.Description, &kind, &t.AuthoredBy.ID, &t.IdempotencyKey, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.AuthoredBy.Kind = identity.Kind(kind)
		out = append(out, t)
	}
	return out, rows.Err()
}

const eventColumns = `id, group_id, category_id, title, amount_cents, due_at, created_by_kind, created_by_id, created_at, updated_at`

func scanEvent(row pgx.Row) (PaymentEvent, error) {
	var (
		e          PaymentEvent
		categoryID pgtype.Int8
		dueAt      pgtype.Timestamptz
		kind       string
	)
	err := row.Scan(&e.ID, &e.GroupID, &categoryID, &e.Title, &e.Amount, &dueAt, &kind, &e.CreatedBy.ID, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PaymentEvent{}, ErrEventNotFound
		}
		return PaymentEvent{}, err
	}
	if categoryID.Valid {
		id := categoryID.Int64
		e.CategoryID = &id
	}
	if dueAt.Valid {
		t := dueAt.Time
		e.DueAt = &t
	}
	e.CreatedBy.Kind = identity.Kind(kind)
	return e, nil
}

func (r *pgRepository) FindEvent(ctx context.Context, id int64) (PaymentEvent, error) {
	return scanEvent(r.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM payment_events WHERE id = $1`, id))
}

type pgTxRepository struct {
	tx pgx.Tx
}

func (r *pgTxRepository) LockCategory(ctx context.Context, id int64) (Category, error) {
	return scanCategory(r.tx.QueryRow(ctx, `SELECT `+categoryColumns+` FROM financial_categories WHERE id = $1 FOR UPDATE`, id))
}

func (r *pgTxRepository) ActiveLeaders(ctx context.Context, categoryID int64) (access.LeaderSet, error) {
	return leadership.ActiveLeadersTx(ctx, r.tx, categoryID)
}

func (r *pgTxRepository) InsertTransaction(ctx context.Context, t Transaction) (Transaction, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO transactions (category_id, amount_cents, description, authored_by_kind, authored_by_id, idempotency_key, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id`, t.CategoryID, t.Amount, t.Description, string(t.AuthoredBy.Kind), t.AuthoredBy.ID, t.IdempotencyKey, t.CreatedAt).Scan(&t.ID)
	if err != nil {
		if constraint, ok := db.UniqueConstraint(err); ok && constraint == ConstraintIdempotencyKey {
			return Transaction{}, ErrDuplicateTransaction
		}
		return Transaction{}, err
	}
	return t, nil
}

func (r *pgTxRepository) AdjustBalance(ctx context.Context, categoryID, delta int64) (int64, error) {
	var balance int64
	err := r.tx.QueryRow(ctx, `UPDATE financial_categories SET balance_cents = balance_cents + $2, updated_at = NOW()
WHERE id = $1 RETURNING balance_cents`, categoryID, delta).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrCategoryNotFound
	}
	return balance, err
}

func (r *pgTxRepository) InsertEvent(ctx context.Context, e PaymentEvent) (PaymentEvent, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO payment_events (group_id, category_id, title, amount_cents, due_at, created_by_kind, created_by_id, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
RETURNING id`, e.GroupID, e.CategoryID, e.Title, e.Amount, e.DueAt, string(e.CreatedBy.Kind), e.CreatedBy.ID, e.CreatedAt).Scan(&e.ID)
	if err != nil {
		return PaymentEvent{}, fmt.Errorf("ledger: insert event: %w", err)
	}
	e.UpdatedAt = e.CreatedAt
	return e, nil
}

func (r *pgTxRepository) LockEvent(ctx context.Context, id int64) (PaymentEvent, error) {
	return scanEvent(r.tx.QueryRow(ctx, `SELECT `+eventColumns+` FROM payment_events WHERE id = $1 FOR UPDATE`, id))
}

func (r *pgTxRepository) UpdateEvent(ctx context.Context, e PaymentEvent) (PaymentEvent, error) {
	tag, err := r.tx.Exec(ctx, `UPDATE payment_events
SET category_id = $2, title = $3, amount_cents = $4, due_at = $5, updated_at = $6
WHERE id = $1`, e.ID, e.CategoryID, e.Title, e.Amount, e.DueAt, e.UpdatedAt)
	if err != nil {
		return PaymentEvent{}, err
	}
	if tag.RowsAffected() == 0 {
		return PaymentEvent{}, ErrEventNotFound
	}
	return e, nil
}

func (r *pgTxRepository) DeleteEvent(ctx context.Context, id int64) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM payment_events WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrEventNotFound
	}
	return nil
}
