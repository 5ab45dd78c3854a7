package sqlite

import (
	"context"

	"github.com/google/uuid"

	bridge "github.com/StarfleetAI/bridge-common"
)

type agentRepo struct {
	q querier
}

const agentColumns = `id, tenant_id, name, description, system_message,
	code_interpreter_enabled, web_browser_enabled, execution_steps_limit, created_at, updated_at`

func scanAgent(row scanner) (*bridge.Agent, error) {
	var (
		a                                      bridge.Agent
		id, tenantID                           string
		codeInterpreter, webBrowser            int64
	)
	if err := row.Scan(&id, &tenantID, &a.Name, &a.Description, &a.SystemMessage,
		&codeInterpreter, &webBrowser, &a.ExecutionStepsLimit, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if a.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	if a.TenantID, err = uuid.Parse(tenantID); err != nil {
		return nil, err
	}
	a.CodeInterpreterEnabled = codeInterpreter != 0
	a.WebBrowserEnabled = webBrowser != 0
	return &a, nil
}

func (r *agentRepo) Get(ctx context.Context, tenantID, id uuid.UUID) (*bridge.Agent, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE tenant_id = ? AND id = ?`,
		tenantID.String(), id.String())
	return scanAgent(row)
}

func (r *agentRepo) ListEnabled(ctx context.Context, tenantID uuid.UUID) ([]bridge.Agent, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE tenant_id = ? ORDER BY name ASC`, tenantID.String())
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
	row := r.q.QueryRowContext(ctx, `SELECT ag.id, ag.tenant_id, ag.name, ag.description, ag.system_message,
		ag.code_interpreter_enabled, ag.web_browser_enabled, ag.execution_steps_limit, ag.created_at, ag.updated_at
		FROM agents ag JOIN agent_chats ac ON ac.agent_id = ag.id
		WHERE ag.tenant_id = ? AND ac.chat_id = ? LIMIT 1`, tenantID.String(), chatID.String())
	return scanAgent(row)
}

func (r *agentRepo) AssignToChat(ctx context.Context, tenantID, chatID, agentID uuid.UUID) error {
	_, err := r.q.ExecContext(ctx, `INSERT INTO agent_chats (tenant_id, chat_id, agent_id) VALUES (?, ?, ?)
		ON CONFLICT (chat_id) DO UPDATE SET agent_id = excluded.agent_id`,
		tenantID.String(), chatID.String(), agentID.String())
	return err
}

func (r *agentRepo) ListAbilities(ctx context.Context, tenantID, agentID uuid.UUID) ([]bridge.Ability, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+abilityColumns+` FROM abilities a
		JOIN agent_abilities aa ON aa.ability_id = a.id
		WHERE a.tenant_id = ? AND aa.agent_id = ? ORDER BY a.name ASC`, tenantID.String(), agentID.String())
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
