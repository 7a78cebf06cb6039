package notify

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists member notifications.
type Repository interface {
	// Insert stores n unless its event id was already stored. It reports
	// whether a row was written.
	Insert(ctx context.Context, n Notification) (bool, error)
	Find(ctx context.Context, id int64) (Notification, error)
	ListForRecipient(ctx context.Context, recipientID int64, filter ListFilter) ([]Notification, error)
	// MarkRead sets is_read and keeps the first read_at.
	MarkRead(ctx context.Context, id int64, at time.Time) (Notification, error)
}

type pgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

var _ Repository = (*pgRepository)(nil)

const notificationColumns = `id, event_id, recipient_id, kind, payload, is_read, created_at, read_at`

func (r *pgRepository) Insert(ctx context.Context, n Notification) (bool, error) {
	tag, err := r.pool.Exec(ctx, `INSERT INTO member_notifications (event_id, recipient_id, kind, payload)
VALUES ($1, $2, $3, $4)
ON CONFLICT (event_id) DO NOTHING`, n.EventID, n.RecipientID, n.Kind, []byte(n.Payload))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *pgRepository) Find(ctx context.Context, id int64) (Notification, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+notificationColumns+` FROM member_notifications WHERE id = $1`, id)
	return scanNotification(row)
}

func (r *pgRepository) ListForRecipient(ctx context.Context, recipientID int64, filter ListFilter) ([]Notification, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `SELECT `+notificationColumns+`
FROM member_notifications
WHERE recipient_id = $1 AND ($2::boolean = FALSE OR NOT is_read)
ORDER BY created_at DESC, id DESC
LIMIT $3`, recipientID, filter.UnreadOnly, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *pgRepository) MarkRead(ctx context.Context, id int64, at time.Time) (Notification, error) {
	row := r.pool.QueryRow(ctx, `UPDATE member_notifications
SET is_read = TRUE, read_at = COALESCE(read_at, $2)
WHERE id = $1
RETURNING `+notificationColumns, id, at)
	return scanNotification(row)
}

func scanNotification(row pgx.Row) (Notification, error) {
	var (
		n       Notification
		payload []byte
		readAt  pgtype.Timestamptz
	)
	if err := row.Scan(&n.ID, &n.EventID, &n.RecipientID, &n.Kind, &payload, &n.IsRead, &n.CreatedAt, &readAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Notification{}, ErrNotificationNotFound
		}
		return Notification{}, err
	}
	n.Payload = payload
	if readAt.Valid {
		t := readAt.Time
		n.ReadAt = &t
	}
	return n, nil
}
