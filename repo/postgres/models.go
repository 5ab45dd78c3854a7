package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	bridge "github.com/StarfleetAI/bridge-common"
)

type modelRepo struct {
	q querier
}

const modelColumns = `id, tenant_id, provider, name, context_length, max_tokens,
	supports_tools, supports_vision, api_url, api_key`

func scanModel(row pgx.Row) (*bridge.Model, error) {
	var m bridge.Model
	if err := row.Scan(&m.ID, &m.TenantID, &m.Provider, &m.Name, &m.ContextLength, &m.MaxTokens,
		&m.SupportsTools, &m.SupportsVision, &m.APIURL, &m.APIKey); err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *modelRepo) Get(ctx context.Context, tenantID, id uuid.UUID) (*bridge.Model, error) {
	row := r.q.QueryRow(ctx, `SELECT `+modelColumns+` FROM models WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	return scanModel(row)
}

func (r *modelRepo) GetByName(ctx context.Context, tenantID uuid.UUID, provider bridge.ModelProvider, name string) (*bridge.Model, error) {
	row := r.q.QueryRow(ctx, `SELECT `+modelColumns+` FROM models WHERE tenant_id = $1 AND provider = $2 AND name = $3`,
		tenantID, provider, name)
	m, err := scanModel(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return m, err
}
