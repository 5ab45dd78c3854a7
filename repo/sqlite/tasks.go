package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	bridge "github.com/StarfleetAI/bridge-common"
)

type taskRepo struct {
	q querier
}

const taskColumns = `id, tenant_id, user_id, agent_id, origin_chat_id, control_chat_id, execution_chat_id,
	title, summary, status, ancestry, ancestry_level, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*bridge.Task, error) {
	var (
		t                                             bridge.Task
		id, tenantID, userID, agentID                 string
		originChatID, controlChatID, executionChatID  sql.NullString
		ancestry                                      sql.NullString
	)
	if err := row.Scan(&id, &tenantID, &userID, &agentID, &originChatID, &controlChatID, &executionChatID,
		&t.Title, &t.Summary, &t.Status, &ancestry, &t.AncestryLevel, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}

	var err error
	if t.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	if t.TenantID, err = uuid.Parse(tenantID); err != nil {
		return nil, err
	}
	if t.UserID, err = uuid.Parse(userID); err != nil {
		return nil, err
	}
	if t.AgentID, err = uuid.Parse(agentID); err != nil {
		return nil, err
	}
	if t.OriginChatID, err = scanNullUUID(nullStringPtr(originChatID)); err != nil {
		return nil, err
	}
	if t.ControlChatID, err = scanNullUUID(nullStringPtr(controlChatID)); err != nil {
		return nil, err
	}
	if t.ExecutionChatID, err = scanNullUUID(nullStringPtr(executionChatID)); err != nil {
		return nil, err
	}
	if ancestry.Valid {
		t.Ancestry = &ancestry.String
	}
	return &t, nil
}

func nullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

func (r *taskRepo) Create(ctx context.Context, t *bridge.Task) error {
	_, err := r.q.ExecContext(ctx, `INSERT INTO tasks (`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID.String(), t.TenantID.String(), t.UserID.String(), t.AgentID.String(),
		nullUUID(t.OriginChatID), nullUUID(t.ControlChatID), nullUUID(t.ExecutionChatID),
		t.Title, t.Summary, t.Status, t.Ancestry, t.AncestryLevel, t.CreatedAt, t.UpdatedAt)
	return err
}

func (r *taskRepo) Get(ctx context.Context, tenantID, id uuid.UUID) (*bridge.Task, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE tenant_id = ? AND id = ?`,
		tenantID.String(), id.String())
	return scanTask(row)
}

func (r *taskRepo) UpdateStatus(ctx context.Context, tenantID, id uuid.UUID, status bridge.TaskStatus) error {
	_, err := r.q.ExecContext(ctx, `UPDATE tasks SET status = ?, updated_at = ? WHERE tenant_id = ? AND id = ?`,
		status, bridge.NowUnix(), tenantID.String(), id.String())
	return err
}

func (r *taskRepo) UpdateAgent(ctx context.Context, tenantID, id, agentID uuid.UUID) error {
	_, err := r.q.ExecContext(ctx, `UPDATE tasks SET agent_id = ?, updated_at = ? WHERE tenant_id = ? AND id = ?`,
		agentID.String(), bridge.NowUnix(), tenantID.String(), id.String())
	return err
}

func (r *taskRepo) SetExecutionChat(ctx context.Context, tenantID, id, chatID uuid.UUID) error {
	_, err := r.q.ExecContext(ctx, `UPDATE tasks SET execution_chat_id = ?, updated_at = ? WHERE tenant_id = ? AND id = ?`,
		chatID.String(), bridge.NowUnix(), tenantID.String(), id.String())
	return err
}

func (r *taskRepo) GetRootForExecution(ctx context.Context, tenantID uuid.UUID) (*bridge.Task, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE tenant_id = ? AND ancestry IS NULL AND status = ? ORDER BY created_at ASC LIMIT 1`,
		tenantID.String(), bridge.TaskToDo)

	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if _, err := r.q.ExecContext(ctx, `UPDATE tasks SET status = ?, updated_at = ? WHERE tenant_id = ? AND id = ?`,
		bridge.TaskInProgress, bridge.NowUnix(), tenantID.String(), t.ID.String()); err != nil {
		return nil, err
	}
	t.Status = bridge.TaskInProgress
	return t, nil
}

func (r *taskRepo) ListAllChildren(ctx context.Context, tenantID uuid.UUID, ancestry string) ([]bridge.Task, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE tenant_id = ? AND (ancestry = ? OR ancestry LIKE ?) ORDER BY created_at ASC`,
		tenantID.String(), ancestry, ancestry+"/%")
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
	err := r.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tasks WHERE tenant_id = ? AND ancestry IS ? AND id != ? AND status != ?`,
		tenantID.String(), ancestry, task.ID.String(), bridge.TaskDone).Scan(&count)
	if err != nil {
		return false, err
	}
	return count == 0, nil
}

func (r *taskRepo) TransitionAll(ctx context.Context, from, to bridge.TaskStatus) (int, error) {
	res, err := r.q.ExecContext(ctx, `UPDATE tasks SET status = ?, updated_at = ? WHERE status = ?`, to, bridge.NowUnix(), from)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
