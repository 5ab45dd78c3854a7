package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	bridge "github.com/StarfleetAI/bridge-common"
)

type agentRepo struct {
	q querier
}

const agentColumns = `id, tenant_id, name, description, system_message,
	code_interpreter_enabled, web_browser_enabled, execution_steps_limit, created_at, updated_at`

func scanAgent(row pgx.Row) (*bridge.Agent, error) {
	var a bridge.Agent
	if err := row.Scan(&a.ID, &a.TenantID, &a.Name, &a.Description, &a.SystemMessage,
		&a.CodeInterpreterEnabled, &a.WebBrowserEnabled, &a.ExecutionStepsLimit, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *agentRepo) Get(ctx context.Context, tenantID, id uuid.UUID) (*bridge.Agent, error) {
	row := r.q.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	return scanAgent(row)
}

func (r *agentRepo) ListEnabled(ctx context.Context, tenantID uuid.UUID) ([]bridge.Agent, error) {
	rows, err := r.q.Query(ctx, `SELECT `+agentColumns+` FROM agents WHERE tenant_id = $1 ORDER BY name ASC`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []bridge.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (r *agentRepo) GetForChat(ctx context.Context, tenantID, chatID uuid.UUID) (*bridge.Agent, error) {
	row := r.q.QueryRow(ctx, `SELECT ag.id, ag.tenant_id, ag.name, ag.description, ag.system_message,
		ag.code_interpreter_enabled, ag.web_browser_enabled, ag.execution_steps_limit, ag.created_at, ag.updated_at
		FROM agents ag JOIN agent_chats ac ON ac.agent_id = ag.id
		WHERE ag.tenant_id = $1 AND ac.chat_id = $2 LIMIT 1`, tenantID, chatID)
	return scanAgent(row)
}

func (r *agentRepo) AssignToChat(ctx context.Context, tenantID, chatID, agentID uuid.UUID) error {
	_, err := r.q.Exec(ctx, `INSERT INTO agent_chats (tenant_id, chat_id, agent_id) VALUES ($1, $2, $3)
		ON CONFLICT (chat_id) DO UPDATE SET agent_id = EXCLUDED.agent_id`, tenantID, chatID, agentID)
	return err
}

func (r *agentRepo) ListAbilities(ctx context.Context, tenantID, agentID uuid.UUID) ([]bridge.Ability, error) {
	rows, err := r.q.Query(ctx, `SELECT `+abilityColumns+` FROM abilities a
		JOIN agent_abilities aa ON aa.ability_id = a.id
		WHERE a.tenant_id = $1 AND aa.agent_id = $2 ORDER BY a.name ASC`, tenantID, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []bridge.Ability
	for rows.Next() {
		a, err := scanAbility(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}
