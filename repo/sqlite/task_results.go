package sqlite

import (
	"context"

	"github.com/google/uuid"

	bridge "github.com/StarfleetAI/bridge-common"
)

type taskResultRepo struct {
	q querier
}

const taskResultColumns = `id, tenant_id, agent_id, task_id, kind, data, created_at, updated_at`

func scanTaskResult(row scanner) (*bridge.TaskResult, error) {
	var (
		tr                                bridge.TaskResult
		id, tenantID, agentID, taskID, kind string
	)
	if err := row.Scan(&id, &tenantID, &agentID, &taskID, &kind, &tr.Data, &tr.CreatedAt, &tr.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if tr.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	if tr.TenantID, err = uuid.Parse(tenantID); err != nil {
		return nil, err
	}
	if tr.AgentID, err = uuid.Parse(agentID); err != nil {
		return nil, err
	}
	if tr.TaskID, err = uuid.Parse(taskID); err != nil {
		return nil, err
	}
	tr.Kind = bridge.TaskResultKind(kind)
	return &tr, nil
}

func (r *taskResultRepo) Create(ctx context.Context, tr *bridge.TaskResult) error {
	_, err := r.q.ExecContext(ctx, `INSERT INTO task_results (`+taskResultColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		tr.ID.String(), tr.TenantID.String(), tr.AgentID.String(), tr.TaskID.String(), tr.Kind, tr.Data, tr.CreatedAt, tr.UpdatedAt)
	return err
}

func (r *taskResultRepo) ListByTask(ctx context.Context, tenantID, taskID uuid.UUID) ([]bridge.TaskResult, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+taskResultColumns+` FROM task_results WHERE tenant_id = ? AND task_id = ? ORDER BY created_at ASC`,
		tenantID.String(), taskID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []bridge.TaskResult
	for rows.Next() {
		tr, err := scanTaskResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *tr)
	}
	return out, rows.Err()
}
