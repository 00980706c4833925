package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/dispute-service/internal/domain"
)

// NotifyEventRepository stores notify events and their recipients.
type NotifyEventRepository interface {
	Create(ctx context.Context, event *domain.NotifyEvent) error
	GetByID(ctx context.Context, id int64) (*domain.NotifyEvent, error)
	ListByRecipient(ctx context.Context, userID int64, limit, offset int) ([]domain.NotifyEvent, error)
	MarkSeen(ctx context.Context, id int64) error
}

type notifyEventRepository struct {
	db DBTX
}

// NewNotifyEventRepository builds repository.
func NewNotifyEventRepository(db DBTX) NotifyEventRepository {
	return &notifyEventRepository{db: db}
}

const eventSelect = `
        SELECT e.id, e.created_at, e.contract_id, e.stage_id, e.user_by_id, e.seen, e.event_type,
               ARRAY(SELECT r.user_id FROM notify_event_recipients r WHERE r.event_id = e.id ORDER BY r.user_id)
        FROM notify_events e`

// Create inserts the event row and its recipient links. Run it inside a
// transaction.
func (r *notifyEventRepository) Create(ctx context.Context, event *domain.NotifyEvent) error {
	const query = `
        INSERT INTO notify_events (contract_id, stage_id, user_by_id, seen, event_type)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING id, created_at`
	if err := r.db.QueryRow(ctx, query,
		event.ContractID,
		event.StageID,
		event.UserByID,
		event.Seen,
		string(event.Type),
	).Scan(&event.ID, &event.CreatedAt); err != nil {
		return err
	}

	const recipients = `
        INSERT INTO notify_event_recipients (event_id, user_id)
        SELECT $1, unnest($2::bigint[])
        ON CONFLICT DO NOTHING`
	_, err := r.db.Exec(ctx, recipients, event.ID, event.RecipientIDs)
	return err
}

func (r *notifyEventRepository) GetByID(ctx context.Context, id int64) (*domain.NotifyEvent, error) {
	return scanEvent(r.db.QueryRow(ctx, eventSelect+` WHERE e.id=$1`, id))
}

func (r *notifyEventRepository) ListByRecipient(ctx context.Context, userID int64, limit, offset int) ([]domain.NotifyEvent, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	const where = `
        WHERE EXISTS (SELECT 1 FROM notify_event_recipients r WHERE r.event_id = e.id AND r.user_id = $1)
        ORDER BY e.created_at DESC, e.id DESC
        LIMIT $2 OFFSET $3`
	rows, err := r.db.Query(ctx, eventSelect+where, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []domain.NotifyEvent{}
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *event)
	}
	return result, rows.Err()
}

func (r *notifyEventRepository) MarkSeen(ctx context.Context, id int64) error {
	cmd, err := r.db.Exec(ctx, `UPDATE notify_events SET seen=TRUE WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func scanEvent(row pgx.Row) (*domain.NotifyEvent, error) {
	var (
		event     domain.NotifyEvent
		eventType string
	)
	if err := row.Scan(
		&event.ID,
		&event.CreatedAt,
		&event.ContractID,
		&event.StageID,
		&event.UserByID,
		&event.Seen,
		&eventType,
		&event.RecipientIDs,
	); err != nil {
		return nil, err
	}
	event.Type = domain.EventType(eventType)
	return &event, nil
}
