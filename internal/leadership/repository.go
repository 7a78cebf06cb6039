package leadership

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fanfare-hq/fanfare/internal/access"
	"github.com/fanfare-hq/fanfare/internal/identity"
	"github.com/fanfare-hq/fanfare/internal/platform/db"
)

// Unique indexes guarding the roster invariants.
const (
	ConstraintExclusiveRole = "uq_category_leaders_role"
	ConstraintOneRoleMember = "uq_category_leaders_member"
)

// Repository defines leadership data access.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error

	ListActive(ctx context.Context, categoryID int64) ([]Assignment, error)
	ListForMember(ctx context.Context, memberID int64) ([]Assignment, error)
	ActiveLeaders(ctx context.Context, categoryID int64) (access.LeaderSet, error)
}

// TxRepository defines operations within a transaction.
type TxRepository interface {
	// LockCategory loads the category FOR UPDATE.
	LockCategory(ctx context.Context, categoryID int64) (access.Category, error)
	FindMember(ctx context.Context, memberID int64) (MemberRef, error)
	RoleHeld(ctx context.Context, categoryID int64, role Role) (bool, error)
	MemberLeads(ctx context.Context, categoryID, memberID int64) (bool, error)
	// Insert maps unique violations to ErrRoleAlreadyAssigned and
	// ErrMemberAlreadyLeader.
	Insert(ctx context.Context, a Assignment) (Assignment, error)
	FindActive(ctx context.Context, assignmentID int64) (Assignment, error)
	Deactivate(ctx context.Context, assignmentID int64, by identity.Ref, at time.Time) (Assignment, error)
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

const assignmentColumns = `cl.id, cl.category_id, fc.name, cl.member_id, m.name, cl.role, cl.is_active,
	cl.assigned_by_kind, cl.assigned_by_id, cl.assigned_at, cl.revoked_by_kind, cl.revoked_by_id, cl.revoked_at`

const assignmentFrom = `FROM category_leaders cl
JOIN financial_categories fc ON fc.id = cl.category_id
JOIN members m ON m.id = cl.member_id`

func (r *pgRepository) ListActive(ctx context.Context, categoryID int64) ([]Assignment, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+assignmentColumns+` `+assignmentFrom+`
WHERE cl.category_id = $1 AND cl.is_active
ORDER BY CASE cl.role WHEN 'president' THEN 0 WHEN 'secretary' THEN 1 ELSE 2 END, cl.assigned_at`, categoryID)
	if err != nil {
		return nil, err
	}
	return collectAssignments(rows)
}

func (r *pgRepository) ListForMember(ctx context.Context, memberID int64) ([]Assignment, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+assignmentColumns+` `+assignmentFrom+`
WHERE cl.member_id = $1 AND cl.is_active
ORDER BY fc.name`, memberID)
	if err != nil {
		return nil, err
	}
	return collectAssignments(rows)
}

func (r *pgRepository) ActiveLeaders(ctx context.Context, categoryID int64) (access.LeaderSet, error) {
	return activeLeaders(ctx, r.pool, categoryID)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func activeLeaders(ctx context.Context, q querier, categoryID int64) (access.LeaderSet, error) {
	rows, err := q.Query(ctx, `SELECT member_id FROM category_leaders WHERE category_id = $1 AND is_active`, categoryID)
	if err != nil {
		return access.LeaderSet{}, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return access.LeaderSet{}, err
	}
	return access.NewLeaderSet(ids...), nil
}

// ActiveLeadersTx loads the leaders inside an existing transaction. The
// ledger uses it to evaluate writes under the category row lock.
func ActiveLeadersTx(ctx context.Context, tx pgx.Tx, categoryID int64) (access.LeaderSet, error) {
	return activeLeaders(ctx, tx, categoryID)
}

type pgTxRepository struct {
	tx pgx.Tx
}

func (r *pgTxRepository) LockCategory(ctx context.Context, categoryID int64) (access.Category, error) {
	var cat access.Category
	err := r.tx.QueryRow(ctx, `SELECT id, group_id, name, is_locked FROM financial_categories WHERE id = $1 FOR UPDATE`, categoryID).
		Scan(&cat.ID, &cat.GroupID, &cat.Name, &cat.IsLocked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return access.Category{}, ErrCategoryNotFound
		}
		return access.Category{}, err
	}
	return cat, nil
}

func (r *pgTxRepository) FindMember(ctx context.Context, memberID int64) (MemberRef, error) {
	var m MemberRef
	err := r.tx.QueryRow(ctx, `SELECT id, group_id, name FROM members WHERE id = $1 AND is_active`, memberID).
		Scan(&m.ID, &m.GroupID, &m.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return MemberRef{}, ErrMemberNotFound
		}
		return MemberRef{}, err
	}
	return m, nil
}

func (r *pgTxRepository) RoleHeld(ctx context.Context, categoryID int64, role Role) (bool, error) {
	var held bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM category_leaders WHERE category_id = $1 AND role = $2 AND is_active)`,
		categoryID, string(role)).Scan(&held)
	return held, err
}

func (r *pgTxRepository) MemberLeads(ctx context.Context, categoryID, memberID int64) (bool, error) {
	var leads bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM category_leaders WHERE category_id = $1 AND member_id = $2 AND is_active)`,
		categoryID, memberID).Scan(&leads)
	return leads, err
}

func (r *pgTxRepository) Insert(ctx context.Context, a Assignment) (Assignment, error) {
	kind, id := refColumns(a.AssignedBy)
	err := r.tx.QueryRow(ctx, `INSERT INTO category_leaders (category_id, member_id, role, is_active, assigned_by_kind, assigned_by_id, assigned_at)
VALUES ($1, $2, $3, TRUE, $4, $5, $6)
RETURNING id`, a.CategoryID, a.MemberID, string(a.Role), kind, id, a.AssignedAt).Scan(&a.ID)
	if err != nil {
		return Assignment{}, mapUniqueViolation(err)
	}
	a.IsActive = true
	return a, nil
}

func (r *pgTxRepository) FindActive(ctx context.Context, assignmentID int64) (Assignment, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+assignmentColumns+` `+assignmentFrom+`
WHERE cl.id = $1 AND cl.is_active`, assignmentID)
	if err != nil {
		return Assignment{}, err
	}
	items, err := collectAssignments(rows)
	if err != nil {
		return Assignment{}, err
	}
	if len(items) == 0 {
		return Assignment{}, ErrAssignmentNotFound
	}
	return items[0], nil
}

func (r *pgTxRepository) Deactivate(ctx context.Context, assignmentID int64, by identity.Ref, at time.Time) (Assignment, error) {
	tag, err := r.tx.Exec(ctx, `UPDATE category_leaders
SET is_active = FALSE, revoked_at = $2, revoked_by_kind = $3, revoked_by_id = $4
WHERE id = $1 AND is_active`, assignmentID, at, string(by.Kind), by.ID)
	if err != nil {
		return Assignment{}, err
	}
	if tag.RowsAffected() == 0 {
		return Assignment{}, ErrAssignmentNotFound
	}
	rows, err := r.tx.Query(ctx, `SELECT `+assignmentColumns+` `+assignmentFrom+` WHERE cl.id = $1`, assignmentID)
	if err != nil {
		return Assignment{}, err
	}
	items, err := collectAssignments(rows)
	if err != nil {
		return Assignment{}, err
	}
	if len(items) == 0 {
		return Assignment{}, ErrAssignmentNotFound
	}
	return items[0], nil
}

func mapUniqueViolation(err error) error {
	constraint, ok := db.UniqueConstraint(err)
	if !ok {
		return err
	}
	switch constraint {
	case ConstraintExclusiveRole:
		return ErrRoleAlreadyAssigned
	case ConstraintOneRoleMember:
		return ErrMemberAlreadyLeader
	default:
		return fmt.Errorf("leadership: unexpected unique violation on %s: %w", constraint, err)
	}
}

func refColumns(ref *identity.Ref) (pgtype.Text, pgtype.Int8) {
	if ref == nil {
		return pgtype.Text{}, pgtype.Int8{}
	}
	return pgtype.Text{String: string(ref.Kind), Valid: true}, pgtype.Int8{Int64: ref.ID, Valid: true}
}

func refFromColumns(kind pgtype.Text, id pgtype.Int8) *identity.Ref {
	if !kind.Valid || !id.Valid {
		return nil
	}
	return &identity.Ref{Kind: identity.Kind(kind.String), ID: id.Int64}
}

func collectAssignments(rows pgx.Rows) ([]Assignment, error) {
	defer rows.Close()
	var out []Assignment
	for rows.Next() {
		var (
			a               Assignment
			role            string
			byKind, revKind pgtype.Text
			byID, revID     pgtype.Int8
			revokedAt       pgtype.Timestamptz
		)
		if err := rows.Scan(&a.ID, &a.CategoryID, &a.CategoryName, &a.MemberID, &a.MemberName, &role, &a.IsActive,
			&byKind, &byID, &a.AssignedAt, &revKind, &revID, &revokedAt); err != nil {
			return nil, err
		}
		a.Role = Role(role)
		a.AssignedBy = refFromColumns(byKind, byID)
		a.RevokedBy = refFromColumns(revKind, revID)
		if revokedAt.Valid {
			t := revokedAt.Time
			a.RevokedAt = &t
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
