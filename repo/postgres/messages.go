package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	bridge "github.com/StarfleetAI/bridge-common"
)

type messageRepo struct {
	q querier
}

const messageColumns = `id, tenant_id, chat_id, agent_id, user_id, status, role, content,
	prompt_tokens, completion_tokens, tool_calls, tool_call_id, is_self_reflection, is_internal_tool_output,
	created_at, updated_at`

func scanMessage(row pgx.Row) (*bridge.Message, error) {
	var m bridge.Message
	var toolCalls []byte
	if err := row.Scan(
		&m.ID, &m.TenantID, &m.ChatID, &m.AgentID, &m.UserID, &m.Status, &m.Role, &m.Content,
		&m.PromptTokens, &m.CompletionTokens, &toolCalls, &m.ToolCallID, &m.IsSelfReflection, &m.IsInternalToolOutput,
		&m.CreatedAt, &m.UpdatedAt,
	); err != nil {
		return nil, err
	}
	tc, err := unmarshalToolCalls(toolCalls)
	if err != nil {
		return nil, err
	}
	m.ToolCalls = tc
	return &m, nil
}

func (r *messageRepo) Create(ctx context.Context, m *bridge.Message) error {
	toolCalls, err := marshalToolCalls(m.ToolCalls)
	if err != nil {
		return err
	}
	_, err = r.q.Exec(ctx, fmt.Sprintf(`INSERT INTO messages (%s) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`, messageColumns),
		m.ID, m.TenantID, m.ChatID, m.AgentID, m.UserID, m.Status, m.Role, m.Content,
		m.PromptTokens, m.CompletionTokens, toolCalls, m.ToolCallID, m.IsSelfReflection, m.IsInternalToolOutput,
		m.CreatedAt, m.UpdatedAt)
	return err
}

func (r *messageRepo) Get(ctx context.Context, tenantID, id uuid.UUID) (*bridge.Message, error) {
	row := r.q.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM messages WHERE tenant_id = $1 AND id = $2`, messageColumns), tenantID, id)
	return scanMessage(row)
}

func (r *messageRepo) Update(ctx context.Context, m *bridge.Message) error {
	toolCalls, err := marshalToolCalls(m.ToolCalls)
	if err != nil {
		return err
	}
	m.UpdatedAt = bridge.NowUnix()
	_, err = r.q.Exec(ctx, `UPDATE messages SET status=$1, content=$2, prompt_tokens=$3, completion_tokens=$4,
		tool_calls=$5, tool_call_id=$6, updated_at=$7 WHERE tenant_id=$8 AND id=$9`,
		m.Status, m.Content, m.PromptTokens, m.CompletionTokens, toolCalls, m.ToolCallID, m.UpdatedAt, m.TenantID, m.ID)
	return err
}

func (r *messageRepo) ListByChat(ctx context.Context, tenantID, chatID uuid.UUID) ([]bridge.Message, error) {
	rows, err := r.q.Query(ctx, fmt.Sprintf(`SELECT %s FROM messages WHERE tenant_id = $1 AND chat_id = $2 ORDER BY created_at ASC`, messageColumns), tenantID, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []bridge.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (r *messageRepo) GetLast(ctx context.Context, tenantID, chatID uuid.UUID) (*bridge.Message, error) {
	row := r.q.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM messages WHERE tenant_id = $1 AND chat_id = $2 ORDER BY created_at DESC LIMIT 1`, messageColumns), tenantID, chatID)
	m, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return m, err
}

func (r *messageRepo) GetLastNonSelfReflection(ctx context.Context, tenantID, chatID uuid.UUID) (*bridge.Message, error) {
	row := r.q.QueryRow(ctx, fmt.Sprintf(
		`SELECT %s FROM messages WHERE tenant_id = $1 AND chat_id = $2 AND role = $3 AND is_self_reflection = FALSE ORDER BY created_at DESC LIMIT 1`,
		messageColumns), tenantID, chatID, bridge.RoleAssistant)
	m, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return m, err
}

func (r *messageRepo) CountAssistantSteps(ctx context.Context, tenantID, chatID uuid.UUID) (int, error) {
	var count int
	err := r.q.QueryRow(ctx,
		`SELECT COUNT(*) FROM messages WHERE tenant_id = $1 AND chat_id = $2 AND role = $3 AND is_internal_tool_output = FALSE`,
		tenantID, chatID, bridge.RoleAssistant).Scan(&count)
	return count, err
}

func (r *messageRepo) TransitionAll(ctx context.Context, from, to bridge.MessageStatus) (int, error) {
	tag, err := r.q.Exec(ctx, `UPDATE messages SET status = $1, updated_at = $2 WHERE status = $3`, to, bridge.NowUnix(), from)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
