package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	bridge "github.com/StarfleetAI/bridge-common"
)

type modelRepo struct {
	q querier
}

const modelColumns = `id, tenant_id, provider, name, context_length, max_tokens,
	supports_tools, supports_vision, api_url, api_key`

func scanModel(row scanner) (*bridge.Model, error) {
	var (
		m                          bridge.Model
		id, tenantID, provider     string
		supportsTools, supportsVis int64
		apiURL, apiKey             sql.NullString
	)
	if err := row.Scan(&id, &tenantID, &provider, &m.Name, &m.ContextLength, &m.MaxTokens,
		&supportsTools, &supportsVis, &apiURL, &apiKey); err != nil {
		return nil, err
	}
	var err error
	if m.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	if m.TenantID, err = uuid.Parse(tenantID); err != nil {
		return nil, err
	}
	m.Provider = bridge.ModelProvider(provider)
	m.SupportsTools = supportsTools != 0
	m.SupportsVision = supportsVis != 0
	if apiURL.Valid {
		m.APIURL = &apiURL.String
	}
	if apiKey.Valid {
		m.APIKey = &apiKey.String
	}
	return &m, nil
}

func (r *modelRepo) Get(ctx context.Context, tenantID, id uuid.UUID) (*bridge.Model, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+modelColumns+` FROM models WHERE tenant_id = ? AND id = ?`,
		tenantID.String(), id.String())
	return scanModel(row)
}

func (r *modelRepo) GetByName(ctx context.Context, tenantID uuid.UUID, provider bridge.ModelProvider, name string) (*bridge.Model, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+modelColumns+` FROM models WHERE tenant_id = ? AND provider = ? AND name = ?`,
		tenantID.String(), provider, name)
	m, err := scanModel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return m, err
}
