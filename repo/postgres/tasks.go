package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	bridge "github.com/StarfleetAI/bridge-common"
)

type taskRepo struct {
	q querier
}

const taskColumns = `id, tenant_id, user_id, agent_id, origin_chat_id, control_chat_id, execution_chat_id,
	title, summary, status, ancestry, ancestry_level, created_at, updated_at`

func scanTask(row pgx.Row) (*bridge.Task, error) {
	var t bridge.Task
	if err := row.Scan(
		&t.ID, &t.TenantID, &t.UserID, &t.AgentID, &t.OriginChatID, &t.ControlChatID, &t.ExecutionChatID,
		&t.Title, &t.Summary, &t.Status, &t.Ancestry, &t.AncestryLevel, &t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *taskRepo) Create(ctx context.Context, t *bridge.Task) error {
	_, err := r.q.Exec(ctx, fmt.Sprintf(`INSERT INTO tasks (%s) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`, taskColumns),
		t.ID, t.TenantID, t.UserID, t.AgentID, t.OriginChatID, t.ControlChatID, t.ExecutionChatID,
		t.Title, t.Summary, t.Status, t.Ancestry, t.AncestryLevel, t.CreatedAt, t.UpdatedAt)
	return err
}

func (r *taskRepo) Get(ctx context.Context, tenantID, id uuid.UUID) (*bridge.Task, error) {
	row := r.q.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM tasks WHERE tenant_id = $1 AND id = $2`, taskColumns), tenantID, id)
	return scanTask(row)
}

func (r *taskRepo) UpdateStatus(ctx context.Context, tenantID, id uuid.UUID, status bridge.TaskStatus) error {
	_, err := r.q.Exec(ctx, `UPDATE tasks SET status = $1, updated_at = $2 WHERE tenant_id = $3 AND id = $4`,
		status, bridge.NowUnix(), tenantID, id)
	return err
}

func (r *taskRepo) UpdateAgent(ctx context.Context, tenantID, id, agentID uuid.UUID) error {
	_, err := r.q.Exec(ctx, `UPDATE tasks SET agent_id = $1, updated_at = $2 WHERE tenant_id = $3 AND id = $4`,
		agentID, bridge.NowUnix(), tenantID, id)
	return err
}

func (r *taskRepo) SetExecutionChat(ctx context.Context, tenantID, id, chatID uuid.UUID) error {
	_, err := r.q.Exec(ctx, `UPDATE tasks SET execution_chat_id = $1, updated_at = $2 WHERE tenant_id = $3 AND id = $4`,
		chatID, bridge.NowUnix(), tenantID, id)
	return err
}

// GetRootForExecution must run inside a transaction so the select and the
// ToDo->InProgress transition are atomic; callers obtain one via
// Repo.Begin and call this on the resulting Tx's TaskRepo.
func (r *taskRepo) GetRootForExecution(ctx context.Context, tenantID uuid.UUID) (*bridge.Task, error) {
	row := r.q.QueryRow(ctx, fmt.Sprintf(
		`SELECT %s FROM tasks WHERE tenant_id = $1 AND ancestry IS NULL AND status = $2 ORDER BY created_at ASC LIMIT 1 FOR UPDATE`,
		taskColumns), tenantID, bridge.TaskToDo)

	t, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if _, err := r.q.Exec(ctx, `UPDATE tasks SET status = $1, updated_at = $2 WHERE tenant_id = $3 AND id = $4`,
		bridge.TaskInProgress, bridge.NowUnix(), tenantID, t.ID); err != nil {
		return nil, err
	}
	t.Status = bridge.TaskInProgress
	return t, nil
}

func (r *taskRepo) ListAllChildren(ctx context.Context, tenantID uuid.UUID, ancestry string) ([]bridge.Task, error) {
	rows, err := r.q.Query(ctx, fmt.Sprintf(
		`SELECT %s FROM tasks WHERE tenant_id = $1 AND (ancestry = $2 OR ancestry LIKE $3) ORDER BY created_at ASC`,
		taskColumns), tenantID, ancestry, ancestry+"/%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []bridge.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (r *taskRepo) IsAllSiblingsDone(ctx context.Context, tenantID uuid.UUID, task *bridge.Task) (bool, error) {
	var ancestry any
	if task.Ancestry != nil {
		ancestry = *task.Ancestry
	}
	var count int
	err := r.q.QueryRow(ctx,
		`SELECT COUNT(*) FROM tasks WHERE tenant_id = $1 AND ancestry IS NOT DISTINCT FROM $2 AND id != $3 AND status != $4`,
		tenantID, ancestry, task.ID, bridge.TaskDone).Scan(&count)
	if err != nil {
		return false, err
	}
	return count == 0, nil
}

func (r *taskRepo) TransitionAll(ctx context.Context, from, to bridge.TaskStatus) (int, error) {
	tag, err := r.q.Exec(ctx, `UPDATE tasks SET status = $1, updated_at = $2 WHERE status = $3`, to, bridge.NowUnix(), from)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
