package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// --- Domain types (database records) ---

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

const (
	TaskDraft           TaskStatus = "Draft"
	TaskToDo            TaskStatus = "ToDo"
	TaskInProgress      TaskStatus = "InProgress"
	TaskWaitingForUser  TaskStatus = "WaitingForUser"
	TaskDone            TaskStatus = "Done"
	TaskFailed          TaskStatus = "Failed"
)

// Task is a node in the task forest. Parent relationships are derived
// entirely from Ancestry, a slash-joined path of ancestor ids; there are
// no back-pointer columns.
type Task struct {
	ID               uuid.UUID  `json:"id"`
	TenantID         uuid.UUID  `json:"tenant_id"`
	UserID           uuid.UUID  `json:"user_id"`
	AgentID          uuid.UUID  `json:"agent_id"`
	OriginChatID     *uuid.UUID `json:"origin_chat_id,omitempty"`
	ControlChatID    *uuid.UUID `json:"control_chat_id,omitempty"`
	ExecutionChatID  *uuid.UUID `json:"execution_chat_id,omitempty"`
	Title            string     `json:"title"`
	Summary          string     `json:"summary"`
	Status           TaskStatus `json:"status"`
	Ancestry         *string    `json:"ancestry,omitempty"`
	AncestryLevel    int        `json:"ancestry_level"`
	CreatedAt        int64      `json:"created_at"`
	UpdatedAt        int64      `json:"updated_at"`
}

// ChildrenAncestry returns the ancestry path new direct children of this
// task should carry.
func (t *Task) ChildrenAncestry() string {
	if t.Ancestry == nil || *t.Ancestry == "" {
		return t.ID.String()
	}
	return *t.Ancestry + "/" + t.ID.String()
}

// ParentID returns the immediate parent's id, or nil for a root task.
func (t *Task) ParentID() (uuid.UUID, bool, error) {
	ids, err := t.ParentIDs()
	if err != nil {
		return uuid.UUID{}, false, err
	}
	if len(ids) == 0 {
		return uuid.UUID{}, false, nil
	}
	return ids[len(ids)-1], true, nil
}

// RootID returns the top ancestor's id, or the task's own id for a root
// task. Every task in one execution tree shares a workdir keyed by this.
func (t *Task) RootID() (uuid.UUID, error) {
	ids, err := t.ParentIDs()
	if err != nil {
		return uuid.UUID{}, err
	}
	if len(ids) == 0 {
		return t.ID, nil
	}
	return ids[0], nil
}

// ParentIDs returns every ancestor id, root-first. A malformed segment in
// Ancestry is a schema violation, not a partial result: returning a
// truncated chain would silently drop real ancestors from RootID and the
// parent-failure walk.
func (t *Task) ParentIDs() ([]uuid.UUID, error) {
	if t.Ancestry == nil || *t.Ancestry == "" {
		return nil, nil
	}
	segs := strings.Split(*t.Ancestry, "/")
	out := make([]uuid.UUID, 0, len(segs))
	for _, s := range segs {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, &ErrSchemaViolation{Detail: fmt.Sprintf("task %s: invalid ancestry segment %q: %s", t.ID, s, err)}
		}
		out = append(out, id)
	}
	return out, nil
}

// ChatKind distinguishes the three roles a Chat can play.
type ChatKind string

const (
	ChatDirect    ChatKind = "Direct"
	ChatControl   ChatKind = "Control"
	ChatExecution ChatKind = "Execution"
)

// Chat is an ordered sequence of Messages.
type Chat struct {
	ID        uuid.UUID  `json:"id"`
	TenantID  uuid.UUID  `json:"tenant_id"`
	ModelID   *uuid.UUID `json:"model_id,omitempty"`
	Title     string     `json:"title"`
	IsPinned  bool       `json:"is_pinned"`
	Kind      ChatKind   `json:"kind"`
	CreatedAt int64      `json:"created_at"`
	UpdatedAt int64      `json:"updated_at"`
}

// MessageRole tags the author of a Message.
type MessageRole string

const (
	RoleSystem          MessageRole = "System"
	RoleUser            MessageRole = "User"
	RoleAssistant       MessageRole = "Assistant"
	RoleTool            MessageRole = "Tool"
	RoleCodeInterpreter MessageRole = "CodeInterpreter"
)

// MessageStatus is the lifecycle state of a Message.
type MessageStatus string

const (
	MessageWriting           MessageStatus = "Writing"
	MessageWaitingForToolCall MessageStatus = "WaitingForToolCall"
	MessageCompleted         MessageStatus = "Completed"
	MessageFailed            MessageStatus = "Failed"
	MessageToolCallDenied    MessageStatus = "ToolCallDenied"
)

// Message is a single row in a Chat's transcript. Only Assistant messages
// may carry ToolCalls; Tool messages carry a ToolCallID resolving to a
// prior Assistant tool call in the same chat.
type Message struct {
	ID                  uuid.UUID     `json:"id"`
	TenantID            uuid.UUID     `json:"tenant_id"`
	ChatID              uuid.UUID     `json:"chat_id"`
	AgentID             *uuid.UUID    `json:"agent_id,omitempty"`
	UserID              *uuid.UUID    `json:"user_id,omitempty"`
	Status              MessageStatus `json:"status"`
	Role                MessageRole   `json:"role"`
	Content             *string       `json:"content,omitempty"`
	PromptTokens        *int          `json:"prompt_tokens,omitempty"`
	CompletionTokens    *int          `json:"completion_tokens,omitempty"`
	ToolCalls           []ToolCall    `json:"tool_calls,omitempty"`
	ToolCallID          *string       `json:"tool_call_id,omitempty"`
	IsSelfReflection    bool          `json:"is_self_reflection"`
	IsInternalToolOutput bool         `json:"is_internal_tool_output"`
	CreatedAt           int64         `json:"created_at"`
	UpdatedAt           int64         `json:"updated_at"`
}

// Agent is an LLM-driven persona with a system prompt and a curated set of
// abilities.
type Agent struct {
	ID                    uuid.UUID `json:"id"`
	TenantID              uuid.UUID `json:"tenant_id"`
	Name                  string    `json:"name"`
	Description           string    `json:"description"`
	SystemMessage         string    `json:"system_message"`
	CodeInterpreterEnabled bool     `json:"code_interpreter_enabled"`
	WebBrowserEnabled     bool      `json:"web_browser_enabled"`
	ExecutionStepsLimit   *int      `json:"execution_steps_limit,omitempty"`
	CreatedAt             int64     `json:"created_at"`
	UpdatedAt             int64     `json:"updated_at"`
}

// Ability is a named callable a user can make available to agents.
// ParametersJSON is a JSON-Schema-shaped description of the function's
// arguments, the same shape a ToolDefinition's Parameters field carries.
type Ability struct {
	ID             uuid.UUID       `json:"id"`
	TenantID       uuid.UUID       `json:"tenant_id"`
	Name           string          `json:"name"`
	Description    string          `json:"description"`
	Code           string          `json:"code"`
	ParametersJSON json.RawMessage `json:"parameters_json"`
	CreatedAt      int64           `json:"created_at"`
	UpdatedAt      int64           `json:"updated_at"`
}

// AgentAbility is the join row granting an Agent an Ability.
type AgentAbility struct {
	AgentID   uuid.UUID `json:"agent_id"`
	AbilityID uuid.UUID `json:"ability_id"`
}

// AgentChat is the join row recording which Agent participates in a Chat.
type AgentChat struct {
	AgentID uuid.UUID `json:"agent_id"`
	ChatID  uuid.UUID `json:"chat_id"`
}

// ModelProvider identifies the LLM vendor a Model routes to.
type ModelProvider string

const (
	ProviderOpenAI ModelProvider = "OpenAI"
	ProviderGroq   ModelProvider = "Groq"
)

// Model is a configured LLM endpoint.
type Model struct {
	ID             uuid.UUID     `json:"id"`
	TenantID       uuid.UUID     `json:"tenant_id"`
	Provider       ModelProvider `json:"provider"`
	Name           string        `json:"name"`
	ContextLength  int           `json:"context_length"`
	MaxTokens      int           `json:"max_tokens"`
	SupportsTools  bool          `json:"supports_tools"`
	SupportsVision bool          `json:"supports_vision"`
	APIURL         *string       `json:"api_url,omitempty"`
	APIKey         *string       `json:"api_key,omitempty"`
}

// SplitModelFullName splits a "Provider/model-name" settings string (e.g.
// "OpenAI/gpt-4-turbo") into its ModelRepo.GetByName lookup parts.
func SplitModelFullName(full string) (provider ModelProvider, name string, ok bool) {
	i := strings.Index(full, "/")
	if i < 0 {
		return "", "", false
	}
	return ModelProvider(full[:i]), full[i+1:], true
}

// TaskResultKind tags the shape of TaskResult.Data.
type TaskResultKind string

const (
	TaskResultText TaskResultKind = "Text"
	TaskResultURL  TaskResultKind = "Url"
)

// TaskResult is a durable output artifact produced by an agent working a
// Task.
type TaskResult struct {
	ID        uuid.UUID      `json:"id"`
	TenantID  uuid.UUID      `json:"tenant_id"`
	AgentID   uuid.UUID      `json:"agent_id"`
	TaskID    uuid.UUID      `json:"task_id"`
	Kind      TaskResultKind `json:"kind"`
	Data      string         `json:"data"`
	CreatedAt int64          `json:"created_at"`
	UpdatedAt int64          `json:"updated_at"`
}

// Settings holds the per-tenant configuration that shapes planning and
// execution behavior.
type Settings struct {
	DefaultModel string            `json:"default_model"`
	APIKeys      map[string]string `json:"api_keys"`
	Agents       AgentSettings     `json:"agents"`
	Embeddings   EmbeddingSettings `json:"embeddings"`
	Tasks        TaskSettings      `json:"tasks"`
}

// AgentSettings bounds how long an agent may dialog before the executor
// forces a Failed terminal state.
type AgentSettings struct {
	ExecutionStepsLimit int `json:"execution_steps_limit"`
}

// EmbeddingSettings names the embedding model used by the (external)
// semantic-search collaborator; the core never calls it directly.
type EmbeddingSettings struct {
	Model string `json:"model"`
}

// TaskSettings controls executor concurrency and planner depth.
type TaskSettings struct {
	ExecutionConcurrency int `json:"execution_concurrency"`
	PlanningDepthLimit   int `json:"planning_depth_limit"`
}

// DefaultSettings mirrors the original implementation's defaults.
func DefaultSettings() Settings {
	return Settings{
		DefaultModel: "OpenAI/gpt-4-turbo",
		APIKeys:      map[string]string{},
		Agents:       AgentSettings{ExecutionStepsLimit: 12},
		Embeddings:   EmbeddingSettings{Model: "sentence-transformers/all-MiniLM-L6-v2"},
		Tasks:        TaskSettings{ExecutionConcurrency: 1, PlanningDepthLimit: 5},
	}
}

// --- LLM protocol types ---

// ChatMessage is the wire form of a Message sent to an LLMClient.
type ChatMessage struct {
	Role       string     `json:"role"` // "system", "user", "assistant", "tool"
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// ToolCall is a structured request from the LLM to invoke a named function
// with JSON-encoded arguments.
type ToolCall struct {
	ID   string `json:"id"`
	Type string `json:"type"` // always "function"
	Function ToolCallFunction `json:"function"`
}

// ToolCallFunction names the function and carries its arguments as a raw
// JSON-encoded string, matching the OpenAI wire shape exactly (arguments
// are NOT a nested object — they are a string that itself contains JSON).
type ToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ChatRequest is issued against LLMClient.Complete / StreamComplete.
type ChatRequest struct {
	Model    string           `json:"model"`
	Messages []ChatMessage    `json:"messages"`
	Tools    []ToolDefinition `json:"tools,omitempty"`
	Stream   bool             `json:"stream"`
}

// ChatResponse is the buffered result of LLMClient.Complete.
type ChatResponse struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     Usage      `json:"usage"`
}

// Usage reports token accounting for one completion.
type Usage struct {
	InputTokens  int `json:"prompt_tokens"`
	OutputTokens int `json:"completion_tokens"`
}

// ToolDefinition describes one callable function offered to the LLM.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"` // JSON Schema
}

// --- Event types (EventEmitter payloads) ---

// EventKind names the variant of an emitted Event.
type EventKind string

const (
	EventChatUpdated       EventKind = "ChatUpdated"
	EventMessageCreated    EventKind = "MessageCreated"
	EventMessageUpdated    EventKind = "MessageUpdated"
	EventTaskCreated       EventKind = "TaskCreated"
	EventTaskUpdated       EventKind = "TaskUpdated"
	EventTaskResultCreated EventKind = "TaskResultCreated"
)

// Event is a typed notification pushed through an EventEmitter. Data holds
// a snapshot of the affected entity.
type Event struct {
	Kind EventKind `json:"event"`
	Data any       `json:"data"`
}

// EventEmitter pushes typed events to subscribed clients. Implementations
// are opaque to the core; Emit is fire-and-forget from the caller's
// perspective, but transport errors are still returned so callers can log
// them — they must never block correctness.
type EventEmitter interface {
	Emit(ctx context.Context, userID uuid.UUID, ev Event) error
}

// --- ChatMessage constructors ---

func UserMessage(text string) ChatMessage {
	return ChatMessage{Role: "user", Content: text}
}

func SystemMessage(text string) ChatMessage {
	return ChatMessage{Role: "system", Content: text}
}

func AssistantMessage(text string) ChatMessage {
	return ChatMessage{Role: "assistant", Content: text}
}

func ToolResultMessage(callID, content string) ChatMessage {
	return ChatMessage{Role: "tool", Content: content, ToolCallID: callID}
}
