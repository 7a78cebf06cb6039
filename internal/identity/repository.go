package identity

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository defines persistence operations for identity resolution.
type Repository interface {
	FindAdministratorByCode(ctx context.Context, code string) (Administrator, error)
	FindGroupByCode(ctx context.Context, code string) (Group, error)
	FindMemberByCode(ctx context.Context, code string) (Member, error)
	// FindAdministrator, FindGroup and FindMember load by id regardless of
	// the active flag.
	FindAdministrator(ctx context.Context, id int64) (Administrator, error)
	FindGroup(ctx context.Context, id int64) (Group, error)
	FindMember(ctx context.Context, id int64) (Member, error)
	FindSessionBinding(ctx context.Context, tokenDigest []byte) (SessionBinding, error)
	UpsertSessionBinding(ctx context.Context, binding SessionBinding) error
	DeleteSessionBinding(ctx context.Context, tokenDigest []byte) error
	// DeleteExpiredSessionBindings removes bindings that expired before the
	// given instant and reports how many were removed.
	DeleteExpiredSessionBindings(ctx context.Context, before time.Time) (int64, error)
}

type pgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

var _ Repository = (*pgRepository)(nil)

func (r *pgRepository) FindAdministratorByCode(ctx context.Context, code string) (Administrator, error) {
	const query = `SELECT id, name, level, access_attempts, locked_until
FROM administrators
WHERE access_code = $1 AND is_active`
	var (
		admin       Administrator
		lockedUntil pgtype.Timestamptz
	)
	err := r.pool.QueryRow(ctx, query, code).Scan(&admin.ID, &admin.Name, &admin.Level, &admin.AccessAttempts, &lockedUntil)
	if err != nil {
		return Administrator{}, mapNoRows(err)
	}
	if lockedUntil.Valid {
		t := lockedUntil.Time
		admin.LockedUntil = &t
	}
	admin.IsActive = true
	return admin, nil
}

func (r *pgRepository) FindGroupByCode(ctx context.Context, code string) (Group, error) {
	const query = `SELECT id, name FROM groups WHERE access_code = $1 AND is_active`
	group := Group{IsActive: true}
	if err := r.pool.QueryRow(ctx, query, code).Scan(&group.ID, &group.Name); err != nil {
		return Group{}, mapNoRows(err)
	}
	return group, nil
}

func (r *pgRepository) FindMemberByCode(ctx context.Context, code string) (Member, error) {
	const query = `SELECT id, group_id, name, role FROM members WHERE access_code = $1 AND is_active`
	var (
		member Member
		role   pgtype.Text
	)
	if err := r.pool.QueryRow(ctx, query, code).Scan(&member.ID, &member.GroupID, &member.Name, &role); err != nil {
		return Member{}, mapNoRows(err)
	}
	if role.Valid {
		v := role.String
		member.Role = &v
	}
	member.IsActive = true
	return member, nil
}

func (r *pgRepository) FindAdministrator(ctx context.Context, id int64) (Administrator, error) {
	const query = `SELECT id, name, level, access_attempts, locked_until, is_active FROM administrators WHERE id = $1`
	var (
		admin       Administrator
		lockedUntil pgtype.Timestamptz
	)
	err := r.pool.QueryRow(ctx, query, id).Scan(&admin.ID, &admin.Name, &admin.Level, &admin.AccessAttempts, &lockedUntil, &admin.IsActive)
	if err != nil {
		return Administrator{}, mapNoRows(err)
	}
	if lockedUntil.Valid {
		t := lockedUntil.Time
		admin.LockedUntil = &t
	}
	return admin, nil
}

func (r *pgRepository) FindMember(ctx context.Context, id int64) (Member, error) {
	const query = `SELECT id, group_id, name, role, is_active FROM members WHERE id = $1`
	var (
		member Member
		role   pgtype.Text
	)
	if err := r.pool.QueryRow(ctx, query, id).Scan(&member.ID, &member.GroupID, &member.Name, &role, &member.IsActive); err != nil {
		return Member{}, mapNoRows(err)
	}
	if role.Valid {
		v := role.String
		member.Role = &v
	}
	return member, nil
}

func (r *pgRepository) FindSessionBinding(ctx context.Context, tokenDigest []byte) (SessionBinding, error) {
	const query = `SELECT token_digest, principal_kind, principal_id, COALESCE(group_id, 0), bound_at, expires_at
FROM principal_sessions
WHERE token_digest = $1`
	var (
		binding SessionBinding
		kind    string
	)
	err := r.pool.QueryRow(ctx, query, tokenDigest).Scan(
		&binding.TokenDigest,
		&kind,
		&binding.Principal.ID,
		&binding.GroupID,
		&binding.BoundAt,
		&binding.ExpiresAt,
	)
	if err != nil {
		return SessionBinding{}, mapNoRows(err)
	}
	binding.Principal.Kind = Kind(kind)
	return binding, nil
}

func (r *pgRepository) FindGroup(ctx context.Context, id int64) (Group, error) {
	const query = `SELECT id, name, is_active FROM groups WHERE id = $1`
	var group Group
	if err := r.pool.QueryRow(ctx, query, id).Scan(&group.ID, &group.Name, &group.IsActive); err != nil {
		return Group{}, mapNoRows(err)
	}
	return group, nil
}

func (r *pgRepository) UpsertSessionBinding(ctx context.Context, binding SessionBinding) error {
	const query = `INSERT INTO principal_sessions (token_digest, principal_kind, principal_id, group_id, bound_at, expires_at)
VALUES ($1, $2, $3, NULLIF($4, 0), $5, $6)
ON CONFLICT (token_digest) DO UPDATE SET
	principal_kind = EXCLUDED.principal_kind,
	principal_id = EXCLUDED.principal_id,
	group_id = EXCLUDED.group_id,
	bound_at = EXCLUDED.bound_at,
	expires_at = EXCLUDED.expires_at`
	_, err := r.pool.Exec(ctx, query,
		binding.TokenDigest,
		string(binding.Principal.Kind),
		binding.Principal.ID,
		binding.GroupID,
		binding.BoundAt,
		binding.ExpiresAt,
	)
	return err
}

func (r *pgRepository) DeleteSessionBinding(ctx context.Context, tokenDigest []byte) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM principal_sessions WHERE token_digest = $1`, tokenDigest)
	return err
}

func (r *pgRepository) DeleteExpiredSessionBindings(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM principal_sessions WHERE expires_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func mapNoRows(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
