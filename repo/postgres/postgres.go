// Package postgres implements repo.Repo using PostgreSQL via pgx/pgxpool,
// following the teacher's constructor-injected pool pattern: the caller
// owns the pool's lifecycle, this package only prepares schema and runs
// queries against it.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	bridge "github.com/StarfleetAI/bridge-common"
	"github.com/StarfleetAI/bridge-common/repo"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, letting every
// sub-repo run against either a pooled connection or an open transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repo implements repo.Repo backed by a *pgxpool.Pool.
type Repo struct {
	pool *pgxpool.Pool
}

var _ repo.Repo = (*Repo)(nil)

// New creates a Repo using an existing pgxpool.Pool. The caller owns the
// pool and is responsible for closing it.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

// Init creates every table this package needs. Safe to call multiple
// times.
func (r *Repo) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id UUID PRIMARY KEY,
			tenant_id UUID NOT NULL,
			user_id UUID NOT NULL,
			agent_id UUID NOT NULL,
			origin_chat_id UUID,
			control_chat_id UUID,
			execution_chat_id UUID,
			title TEXT NOT NULL,
			summary TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			ancestry TEXT,
			ancestry_level INTEGER NOT NULL DEFAULT 0,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS tasks_tenant_ancestry_idx ON tasks(tenant_id, ancestry)`,
		`CREATE INDEX IF NOT EXISTS tasks_tenant_status_idx ON tasks(tenant_id, status) WHERE ancestry IS NULL`,

		`CREATE TABLE IF NOT EXISTS chats (
			id UUID PRIMARY KEY,
			tenant_id UUID NOT NULL,
			model_id UUID,
			title TEXT NOT NULL DEFAULT '',
			is_pinned BOOLEAN NOT NULL DEFAULT FALSE,
			kind TEXT NOT NULL,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS messages (
			id UUID PRIMARY KEY,
			tenant_id UUID NOT NULL,
			chat_id UUID NOT NULL,
			agent_id UUID,
			user_id UUID,
			status TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT,
			prompt_tokens INTEGER,
			completion_tokens INTEGER,
			tool_calls JSONB,
			tool_call_id TEXT,
			is_self_reflection BOOLEAN NOT NULL DEFAULT FALSE,
			is_internal_tool_output BOOLEAN NOT NULL DEFAULT FALSE,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS messages_chat_idx ON messages(tenant_id, chat_id, created_at)`,

		`CREATE TABLE IF NOT EXISTS agents (
			id UUID PRIMARY KEY,
			tenant_id UUID NOT NULL,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			system_message TEXT NOT NULL DEFAULT '',
			code_interpreter_enabled BOOLEAN NOT NULL DEFAULT FALSE,
			web_browser_enabled BOOLEAN NOT NULL DEFAULT FALSE,
			execution_steps_limit INTEGER,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS abilities (
			id UUID PRIMARY KEY,
			tenant_id UUID NOT NULL,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			code TEXT NOT NULL DEFAULT '',
			parameters_json JSONB NOT NULL DEFAULT '{}',
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS agent_abilities (
			agent_id UUID NOT NULL,
			ability_id UUID NOT NULL,
			PRIMARY KEY (agent_id, ability_id)
		)`,

		`CREATE TABLE IF NOT EXISTS agent_chats (
			tenant_id UUID NOT NULL,
			chat_id UUID PRIMARY KEY,
			agent_id UUID NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS models (
			id UUID PRIMARY KEY,
			tenant_id UUID NOT NULL,
			provider TEXT NOT NULL,
			name TEXT NOT NULL,
			context_length INTEGER NOT NULL DEFAULT 0,
			max_tokens INTEGER NOT NULL DEFAULT 0,
			supports_tools BOOLEAN NOT NULL DEFAULT FALSE,
			supports_vision BOOLEAN NOT NULL DEFAULT FALSE,
			api_url TEXT,
			api_key TEXT
		)`,

		`CREATE TABLE IF NOT EXISTS task_results (
			id UUID PRIMARY KEY,
			tenant_id UUID NOT NULL,
			agent_id UUID NOT NULL,
			task_id UUID NOT NULL,
			kind TEXT NOT NULL,
			data TEXT NOT NULL,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS task_results_task_idx ON task_results(tenant_id, task_id)`,

		`CREATE TABLE IF NOT EXISTS settings (
			tenant_id UUID PRIMARY KEY,
			data JSONB NOT NULL
		)`,
	}

	for _, stmt := range stmts {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: init schema: %w", err)
		}
	}
	return nil
}

func (r *Repo) Tasks() repo.TaskRepo             { return &taskRepo{q: r.pool} }
func (r *Repo) Messages() repo.MessageRepo       { return &messageRepo{q: r.pool} }
func (r *Repo) Chats() repo.ChatRepo             { return &chatRepo{q: r.pool} }
func (r *Repo) Agents() repo.AgentRepo           { return &agentRepo{q: r.pool} }
func (r *Repo) Abilities() repo.AbilityRepo      { return &abilityRepo{q: r.pool} }
func (r *Repo) Models() repo.ModelRepo           { return &modelRepo{q: r.pool} }
func (r *Repo) Settings() repo.SettingsRepo      { return &settingsRepo{q: r.pool} }
func (r *Repo) TaskResults() repo.TaskResultRepo { return &taskResultRepo{q: r.pool} }

// Begin opens a transaction. The per-row selection queries that advance
// state (GetRootForExecution, the child picker) always run inside one.
func (r *Repo) Begin(ctx context.Context) (repo.Tx, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &pgTx{tx: tx}, nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Tasks() repo.TaskRepo       { return &taskRepo{q: t.tx} }
func (t *pgTx) Messages() repo.MessageRepo { return &messageRepo{q: t.tx} }
func (t *pgTx) Chats() repo.ChatRepo       { return &chatRepo{q: t.tx} }
func (t *pgTx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t *pgTx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

func marshalToolCalls(tc []bridge.ToolCall) ([]byte, error) {
	if len(tc) == 0 {
		return nil, nil
	}
	return json.Marshal(tc)
}

func unmarshalToolCalls(data []byte) ([]bridge.ToolCall, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var tc []bridge.ToolCall
	if err := json.Unmarshal(data, &tc); err != nil {
		return nil, err
	}
	return tc, nil
}
