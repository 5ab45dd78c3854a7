// Package sqlite implements repo.Repo using pure-Go SQLite via
// modernc.org/sqlite. It exists for tests and single-node deployments
// where a Postgres server is not worth running; schema and query shapes
// mirror repo/postgres as closely as SQLite's dialect allows.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/StarfleetAI/bridge-common/repo"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Repo implements repo.Repo backed by a local SQLite database.
type Repo struct {
	db *sql.DB
}

var _ repo.Repo = (*Repo)(nil)

// New opens a SQLite database at dbPath. Use "file::memory:?cache=shared"
// for an in-process database that survives across connections, which is
// what tests use. A single connection is kept open so writers serialize
// and SQLITE_BUSY errors never surface.
func New(dbPath string) (*Repo, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	return &Repo{db: db}, nil
}

// Close releases the underlying database handle.
func (r *Repo) Close() error { return r.db.Close() }

// Init creates every table this package needs. Safe to call multiple times.
func (r *Repo) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			origin_chat_id TEXT,
			control_chat_id TEXT,
			execution_chat_id TEXT,
			title TEXT NOT NULL,
			summary TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			ancestry TEXT,
			ancestry_level INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS tasks_tenant_ancestry_idx ON tasks(tenant_id, ancestry)`,
		`CREATE INDEX IF NOT EXISTS tasks_tenant_status_idx ON tasks(tenant_id, status)`,

		`CREATE TABLE IF NOT EXISTS chats (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			model_id TEXT,
			title TEXT NOT NULL DEFAULT '',
			is_pinned INTEGER NOT NULL DEFAULT 0,
			kind TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			chat_id TEXT NOT NULL,
			agent_id TEXT,
			user_id TEXT,
			status TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT,
			prompt_tokens INTEGER,
			completion_tokens INTEGER,
			tool_calls TEXT,
			tool_call_id TEXT,
			is_self_reflection INTEGER NOT NULL DEFAULT 0,
			is_internal_tool_output INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS messages_chat_idx ON messages(tenant_id, chat_id, created_at)`,

		`CREATE TABLE IF NOT EXISTS agents (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			system_message TEXT NOT NULL DEFAULT '',
			code_interpreter_enabled INTEGER NOT NULL DEFAULT 0,
			web_browser_enabled INTEGER NOT NULL DEFAULT 0,
			execution_steps_limit INTEGER,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS abilities (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			code TEXT NOT NULL DEFAULT '',
			parameters_json TEXT NOT NULL DEFAULT '{}',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS agent_abilities (
			agent_id TEXT NOT NULL,
			ability_id TEXT NOT NULL,
			PRIMARY KEY (agent_id, ability_id)
		)`,

		`CREATE TABLE IF NOT EXISTS agent_chats (
			tenant_id TEXT NOT NULL,
			chat_id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS models (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			provider TEXT NOT NULL,
			name TEXT NOT NULL,
			context_length INTEGER NOT NULL DEFAULT 0,
			max_tokens INTEGER NOT NULL DEFAULT 0,
			supports_tools INTEGER NOT NULL DEFAULT 0,
			supports_vision INTEGER NOT NULL DEFAULT 0,
			api_url TEXT,
			api_key TEXT
		)`,

		`CREATE TABLE IF NOT EXISTS task_results (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			task_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			data TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS task_results_task_idx ON task_results(tenant_id, task_id)`,

		`CREATE TABLE IF NOT EXISTS settings (
			tenant_id TEXT PRIMARY KEY,
			data TEXT NOT NULL
		)`,
	}

	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: init schema: %w", err)
		}
	}
	return nil
}

func (r *Repo) Tasks() repo.TaskRepo             { return &taskRepo{q: r.db} }
func (r *Repo) Messages() repo.MessageRepo       { return &messageRepo{q: r.db} }
func (r *Repo) Chats() repo.ChatRepo             { return &chatRepo{q: r.db} }
func (r *Repo) Agents() repo.AgentRepo           { return &agentRepo{q: r.db} }
func (r *Repo) Abilities() repo.AbilityRepo      { return &abilityRepo{q: r.db} }
func (r *Repo) Models() repo.ModelRepo           { return &modelRepo{q: r.db} }
func (r *Repo) Settings() repo.SettingsRepo      { return &settingsRepo{q: r.db} }
func (r *Repo) TaskResults() repo.TaskResultRepo { return &taskResultRepo{q: r.db} }

// Begin opens a transaction. GetRootForExecution must run inside one so
// the select and the ToDo->InProgress transition are atomic.
func (r *Repo) Begin(ctx context.Context) (repo.Tx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx}, nil
}

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) Tasks() repo.TaskRepo             { return &taskRepo{q: t.tx} }
func (t *sqliteTx) Messages() repo.MessageRepo       { return &messageRepo{q: t.tx} }
func (t *sqliteTx) Chats() repo.ChatRepo             { return &chatRepo{q: t.tx} }
func (t *sqliteTx) Commit(ctx context.Context) error   { return t.tx.Commit() }
func (t *sqliteTx) Rollback(ctx context.Context) error { return t.tx.Rollback() }
