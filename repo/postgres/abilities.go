package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	bridge "github.com/StarfleetAI/bridge-common"
)

type abilityRepo struct {
	q querier
}

const abilityColumns = `a.id, a.tenant_id, a.name, a.description, a.code, a.parameters_json, a.created_at, a.updated_at`

func scanAbility(row pgx.Row) (*bridge.Ability, error) {
	var a bridge.Ability
	if err := row.Scan(&a.ID, &a.TenantID, &a.Name, &a.Description, &a.Code, &a.ParametersJSON, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *abilityRepo) Get(ctx context.Context, tenantID, id uuid.UUID) (*bridge.Ability, error) {
	row := r.q.QueryRow(ctx, `SELECT `+abilityColumns+` FROM abilities a WHERE a.tenant_id = $1 AND a.id = $2`, tenantID, id)
	return scanAbility(row)
}
