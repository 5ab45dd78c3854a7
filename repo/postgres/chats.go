package postgres

import (
	"context"

	"github.com/google/uuid"

	bridge "github.com/StarfleetAI/bridge-common"
)

type chatRepo struct {
	q querier
}

const chatColumns = `id, tenant_id, model_id, title, is_pinned, kind, created_at, updated_at`

func (r *chatRepo) Create(ctx context.Context, c *bridge.Chat) error {
	_, err := r.q.Exec(ctx,
		`INSERT INTO chats (`+chatColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		c.ID, c.TenantID, c.ModelID, c.Title, c.IsPinned, c.Kind, c.CreatedAt, c.UpdatedAt)
	return err
}

func (r *chatRepo) Get(ctx context.Context, tenantID, id uuid.UUID) (*bridge.Chat, error) {
	row := r.q.QueryRow(ctx, `SELECT `+chatColumns+` FROM chats WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	var c bridge.Chat
	if err := row.Scan(&c.ID, &c.TenantID, &c.ModelID, &c.Title, &c.IsPinned, &c.Kind, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}
