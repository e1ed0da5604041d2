package repositories

import (
	"context"

	"github.com/chat-escrow/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditRepo writes escrow history to Postgres. A nil pool turns it into a
// no-op so the service runs without a database.
type AuditRepo struct {
	pool *pgxpool.Pool
}

func NewAuditRepo(pool *pgxpool.Pool) *AuditRepo {
	return &AuditRepo{pool: pool}
}

func (r *AuditRepo) Log(ctx context.Context, entry models.EscrowAudit) error {
	if r == nil || r.pool == nil {
		return nil
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO escrow_audit (id, chat_id, actor_user_id, actor_type, action, meta)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, entry.ID, entry.ChatID, entry.ActorUserID, entry.ActorType, entry.Action, entry.Meta)
	return err
}

func (r *AuditRepo) GetByChat(ctx context.Context, chatID int64, limit, offset int) ([]models.EscrowAudit, error) {
	if r == nil || r.pool == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, chat_id, actor_user_id, actor_type, action, meta, created_at
		FROM escrow_audit WHERE chat_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, chatID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []models.EscrowAudit
	for rows.Next() {
		var l models.EscrowAudit
		if err := rows.Scan(&l.ID, &l.ChatID, &l.ActorUserID, &l.ActorType, &l.Action, &l.Meta, &l.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
