// Package repo defines the typed query surface the orchestration core uses
// against the relational store. Two backends implement these interfaces:
// repo/postgres (the primary, pgxpool-backed store) and repo/sqlite (a
// pure-Go backend used by tests and single-node deployments).
package repo

import (
	"context"

	"github.com/google/uuid"

	bridge "github.com/StarfleetAI/bridge-common"
)

// Tx is an open transaction; callers obtain one from Repo.Begin and must
// call Commit or Rollback exactly once.
type Tx interface {
	Tasks() TaskRepo
	Messages() MessageRepo
	Chats() ChatRepo
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Repo is the full typed query surface, composed of one sub-interface per
// entity plus transaction support. A backend's top-level type (postgres.Repo,
// sqlite.Repo) implements this.
type Repo interface {
	Tasks() TaskRepo
	Messages() MessageRepo
	Chats() ChatRepo
	Agents() AgentRepo
	Abilities() AbilityRepo
	Models() ModelRepo
	Settings() SettingsRepo
	TaskResults() TaskResultRepo

	Begin(ctx context.Context) (Tx, error)
}

// TaskRepo is the typed query surface over Task rows.
type TaskRepo interface {
	Create(ctx context.Context, t *bridge.Task) error
	Get(ctx context.Context, tenantID, id uuid.UUID) (*bridge.Task, error)
	UpdateStatus(ctx context.Context, tenantID, id uuid.UUID, status bridge.TaskStatus) error
	UpdateAgent(ctx context.Context, tenantID, id, agentID uuid.UUID) error
	SetExecutionChat(ctx context.Context, tenantID, id, chatID uuid.UUID) error

	// GetRootForExecution selects the oldest root task with status=ToDo and
	// transitions it to InProgress in the same transaction, returning nil
	// if none is found.
	GetRootForExecution(ctx context.Context, tenantID uuid.UUID) (*bridge.Task, error)

	// ListAllChildren returns every task whose ancestry equals ancestry or
	// starts with ancestry+"/", ordered by creation time.
	ListAllChildren(ctx context.Context, tenantID uuid.UUID, ancestry string) ([]bridge.Task, error)

	// IsAllSiblingsDone reports whether every sibling of task (tasks
	// sharing its exact ancestry, excluding itself) has status Done.
	IsAllSiblingsDone(ctx context.Context, tenantID uuid.UUID, task *bridge.Task) (bool, error)

	// TransitionAll bulk-transitions every row with status=from to status=to,
	// used by crash recovery at startup.
	TransitionAll(ctx context.Context, from, to bridge.TaskStatus) (int, error)
}

// MessageRepo is the typed query surface over Message rows.
type MessageRepo interface {
	Create(ctx context.Context, m *bridge.Message) error
	Get(ctx context.Context, tenantID, id uuid.UUID) (*bridge.Message, error)
	Update(ctx context.Context, m *bridge.Message) error
	ListByChat(ctx context.Context, tenantID, chatID uuid.UUID) ([]bridge.Message, error)

	// GetLast returns the most recently created message in chatID, or nil
	// if the chat is empty.
	GetLast(ctx context.Context, tenantID, chatID uuid.UUID) (*bridge.Message, error)

	// GetLastNonSelfReflection returns the most recent Assistant message in
	// chatID with IsSelfReflection=false, or nil if none exists.
	GetLastNonSelfReflection(ctx context.Context, tenantID, chatID uuid.UUID) (*bridge.Message, error)

	// CountAssistantSteps counts Assistant messages in chatID that are not
	// IsInternalToolOutput, for execution-steps-limit enforcement.
	CountAssistantSteps(ctx context.Context, tenantID, chatID uuid.UUID) (int, error)

	// TransitionAll bulk-transitions every row with status=from to status=to,
	// used by crash recovery at startup.
	TransitionAll(ctx context.Context, from, to bridge.MessageStatus) (int, error)
}

// ChatRepo is the typed query surface over Chat rows.
type ChatRepo interface {
	Create(ctx context.Context, c *bridge.Chat) error
	Get(ctx context.Context, tenantID, id uuid.UUID) (*bridge.Chat, error)
}

// AgentRepo is the typed query surface over Agent rows and their ability
// memberships.
type AgentRepo interface {
	Get(ctx context.Context, tenantID, id uuid.UUID) (*bridge.Agent, error)
	ListEnabled(ctx context.Context, tenantID uuid.UUID) ([]bridge.Agent, error)
	ListAbilities(ctx context.Context, tenantID, agentID uuid.UUID) ([]bridge.Ability, error)

	// GetForChat resolves the agent assigned to chatID via the agent_chats
	// join table.
	GetForChat(ctx context.Context, tenantID, chatID uuid.UUID) (*bridge.Agent, error)

	// AssignToChat upserts the agent_chats row binding chatID to agentID,
	// replacing any prior assignment.
	AssignToChat(ctx context.Context, tenantID, chatID, agentID uuid.UUID) error
}

// AbilityRepo is the typed query surface over Ability rows.
type AbilityRepo interface {
	Get(ctx context.Context, tenantID, id uuid.UUID) (*bridge.Ability, error)
}

// ModelRepo is the typed query surface over Model rows.
type ModelRepo interface {
	Get(ctx context.Context, tenantID, id uuid.UUID) (*bridge.Model, error)
	GetByName(ctx context.Context, tenantID uuid.UUID, provider bridge.ModelProvider, name string) (*bridge.Model, error)
}

// SettingsRepo is the typed query surface over the single per-tenant
// Settings row.
type SettingsRepo interface {
	Get(ctx context.Context, tenantID uuid.UUID) (*bridge.Settings, error)
	Put(ctx context.Context, tenantID uuid.UUID, s *bridge.Settings) error
}

// TaskResultRepo is the typed query surface over TaskResult rows.
type TaskResultRepo interface {
	Create(ctx context.Context, r *bridge.TaskResult) error
	ListByTask(ctx context.Context, tenantID, taskID uuid.UUID) ([]bridge.TaskResult, error)
}
