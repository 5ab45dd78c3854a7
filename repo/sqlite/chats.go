package sqlite

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	bridge "github.com/StarfleetAI/bridge-common"
)

type chatRepo struct {
	q querier
}

const chatColumns = `id, tenant_id, model_id, title, is_pinned, kind, created_at, updated_at`

func (r *chatRepo) Create(ctx context.Context, c *bridge.Chat) error {
	_, err := r.q.ExecContext(ctx, `INSERT INTO chats (`+chatColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		c.ID.String(), c.TenantID.String(), nullUUID(c.ModelID), c.Title, boolToInt(c.IsPinned), c.Kind, c.CreatedAt, c.UpdatedAt)
	return err
}

func (r *chatRepo) Get(ctx context.Context, tenantID, id uuid.UUID) (*bridge.Chat, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+chatColumns+` FROM chats WHERE tenant_id = ? AND id = ?`,
		tenantID.String(), id.String())

	var (
		c                      bridge.Chat
		cid, tid               string
		modelID                sql.NullString
		isPinned               int64
	)
	if err := row.Scan(&cid, &tid, &modelID, &c.Title, &isPinned, &c.Kind, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if c.ID, err = uuid.Parse(cid); err != nil {
		return nil, err
	}
	if c.TenantID, err = uuid.Parse(tid); err != nil {
		return nil, err
	}
	if c.ModelID, err = scanNullUUID(nullStringPtr(modelID)); err != nil {
		return nil, err
	}
	c.IsPinned = isPinned != 0
	return &c, nil
}
