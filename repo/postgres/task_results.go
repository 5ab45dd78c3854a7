package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	bridge "github.com/StarfleetAI/bridge-common"
)

type taskResultRepo struct {
	q querier
}

const taskResultColumns = `id, tenant_id, agent_id, task_id, kind, data, created_at, updated_at`

func scanTaskResult(row pgx.Row) (*bridge.TaskResult, error) {
	var tr bridge.TaskResult
	if err := row.Scan(&tr.ID, &tr.TenantID, &tr.AgentID, &tr.TaskID, &tr.Kind, &tr.Data, &tr.CreatedAt, &tr.UpdatedAt); err != nil {
		return nil, err
	}
	return &tr, nil
}

func (r *taskResultRepo) Create(ctx context.Context, tr *bridge.TaskResult) error {
	_, err := r.q.Exec(ctx, `INSERT INTO task_results (`+taskResultColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		tr.ID, tr.TenantID, tr.AgentID, tr.TaskID, tr.Kind, tr.Data, tr.CreatedAt, tr.UpdatedAt)
	return err
}

func (r *taskResultRepo) ListByTask(ctx context.Context, tenantID, taskID uuid.UUID) ([]bridge.TaskResult, error) {
	rows, err := r.q.Query(ctx, `SELECT `+taskResultColumns+` FROM task_results WHERE tenant_id = $1 AND task_id = $2 ORDER BY created_at ASC`,
		tenantID, taskID)
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
