package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	bridge "github.com/StarfleetAI/bridge-common"
)

type messageRepo struct {
	q querier
}

const messageColumns = `id, tenant_id, chat_id, agent_id, user_id, status, role, content,
	prompt_tokens, completion_tokens, tool_calls, tool_call_id, is_self_reflection, is_internal_tool_output,
	created_at, updated_at`

func scanMessage(row scanner) (*bridge.Message, error) {
	var (
		m                               bridge.Message
		id, tenantID, chatID, status, role string
		agentID, userID, toolCallID    sql.NullString
		content                        sql.NullString
		toolCalls                      sql.NullString
		isSelfReflection, isInternal   int64
	)
	if err := row.Scan(&id, &tenantID, &chatID, &agentID, &userID, &status, &role, &content,
		&m.PromptTokens, &m.CompletionTokens, &toolCalls, &toolCallID, &isSelfReflection, &isInternal,
		&m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}

	var err error
	if m.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	if m.TenantID, err = uuid.Parse(tenantID); err != nil {
		return nil, err
	}
	if m.ChatID, err = uuid.Parse(chatID); err != nil {
		return nil, err
	}
	if m.AgentID, err = scanNullUUID(nullStringPtr(agentID)); err != nil {
		return nil, err
	}
	if m.UserID, err = scanNullUUID(nullStringPtr(userID)); err != nil {
		return nil, err
	}
	m.Status = bridge.MessageStatus(status)
	m.Role = bridge.MessageRole(role)
	if content.Valid {
		m.Content = &content.String
	}
	if toolCallID.Valid {
		m.ToolCallID = &toolCallID.String
	}
	m.IsSelfReflection = isSelfReflection != 0
	m.IsInternalToolOutput = isInternal != 0

	if toolCalls.Valid && toolCalls.String != "" {
		if err := json.Unmarshal([]byte(toolCalls.String), &m.ToolCalls); err != nil {
			return nil, err
		}
	}
	return &m, nil
}

func marshalToolCalls(tc []bridge.ToolCall) (any, error) {
	if len(tc) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(tc)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (r *messageRepo) Create(ctx context.Context, m *bridge.Message) error {
	toolCalls, err := marshalToolCalls(m.ToolCalls)
	if err != nil {
		return err
	}
	_, err = r.q.ExecContext(ctx, `INSERT INTO messages (`+messageColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		m.ID.String(), m.TenantID.String(), m.ChatID.String(), nullUUID(m.AgentID), nullUUID(m.UserID),
		m.Status, m.Role, m.Content, m.PromptTokens, m.CompletionTokens, toolCalls, m.ToolCallID,
		boolToInt(m.IsSelfReflection), boolToInt(m.IsInternalToolOutput), m.CreatedAt, m.UpdatedAt)
	return err
}

func (r *messageRepo) Get(ctx context.Context, tenantID, id uuid.UUID) (*bridge.Message, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE tenant_id = ? AND id = ?`,
		tenantID.String(), id.String())
	return scanMessage(row)
}

func (r *messageRepo) Update(ctx context.Context, m *bridge.Message) error {
	toolCalls, err := marshalToolCalls(m.ToolCalls)
	if err != nil {
		return err
	}
	m.UpdatedAt = bridge.NowUnix()
	_, err = r.q.ExecContext(ctx, `UPDATE messages SET status=?, content=?, prompt_tokens=?, completion_tokens=?,
		tool_calls=?, tool_call_id=?, updated_at=? WHERE tenant_id=? AND id=?`,
		m.Status, m.Content, m.PromptTokens, m.CompletionTokens, toolCalls, m.ToolCallID, m.UpdatedAt,
		m.TenantID.String(), m.ID.String())
	return err
}

func (r *messageRepo) ListByChat(ctx context.Context, tenantID, chatID uuid.UUID) ([]bridge.Message, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE tenant_id = ? AND chat_id = ? ORDER BY created_at ASC`,
		tenantID.String(), chatID.String())
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
	row := r.q.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE tenant_id = ? AND chat_id = ? ORDER BY created_at DESC LIMIT 1`,
		tenantID.String(), chatID.String())
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return m, err
}

func (r *messageRepo) GetLastNonSelfReflection(ctx context.Context, tenantID, chatID uuid.UUID) (*bridge.Message, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE tenant_id = ? AND chat_id = ? AND role = ? AND is_self_reflection = 0 ORDER BY created_at DESC LIMIT 1`,
		tenantID.String(), chatID.String(), bridge.RoleAssistant)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return m, err
}

func (r *messageRepo) CountAssistantSteps(ctx context.Context, tenantID, chatID uuid.UUID) (int, error) {
	var count int
	err := r.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE tenant_id = ? AND chat_id = ? AND role = ? AND is_internal_tool_output = 0`,
		tenantID.String(), chatID.String(), bridge.RoleAssistant).Scan(&count)
	return count, err
}

func (r *messageRepo) TransitionAll(ctx context.Context, from, to bridge.MessageStatus) (int, error) {
	res, err := r.q.ExecContext(ctx, `UPDATE messages SET status = ?, updated_at = ? WHERE status = ?`, to, bridge.NowUnix(), from)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
