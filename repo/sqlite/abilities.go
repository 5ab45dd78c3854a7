package sqlite

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	bridge "github.com/StarfleetAI/bridge-common"
)

type abilityRepo struct {
	q querier
}

const abilityColumns = `a.id, a.tenant_id, a.name, a.description, a.code, a.parameters_json, a.created_at, a.updated_at`

func scanAbility(row scanner) (*bridge.Ability, error) {
	var (
		a            bridge.Ability
		id, tenantID string
		params       string
	)
	if err := row.Scan(&id, &tenantID, &a.Name, &a.Description, &a.Code, &params, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if a.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	if a.TenantID, err = uuid.Parse(tenantID); err != nil {
		return nil, err
	}
	a.ParametersJSON = json.RawMessage(params)
	return &a, nil
}

func (r *abilityRepo) Get(ctx context.Context, tenantID, id uuid.UUID) (*bridge.Ability, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+abilityColumns+` FROM abilities a WHERE a.tenant_id = ? AND a.id = ?`,
		tenantID.String(), id.String())
	return scanAbility(row)
}
