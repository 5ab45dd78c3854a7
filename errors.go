package bridge

import (
	"fmt"

	"github.com/google/uuid"
)

// ErrConfigMissing signals a required configuration value was not set.
// Fatal at startup.
type ErrConfigMissing struct {
	Field string
}

func (e *ErrConfigMissing) Error() string {
	return fmt.Sprintf("config: missing required value for %q", e.Field)
}

// ErrTransientTransport wraps an LLM or network transport failure (HTTP
// timeout, stream reset, connection refused). The caller marks the
// in-flight Message and enclosing Task Failed.
type ErrTransientTransport struct {
	Provider string
	Err      error
}

func (e *ErrTransientTransport) Error() string {
	return fmt.Sprintf("%s: transport error: %s", e.Provider, e.Err)
}

func (e *ErrTransientTransport) Unwrap() error { return e.Err }

// ErrParseTruncation signals an SSE frame was not parseable as a complete
// frame (missing "data: " prefix, or JSON decode failure mid-frame).
// Callers retry by prepending the unparsed bytes to the next chunk; this
// never reaches the caller of ChatCompletion, it only drives the internal
// reassembly loop.
type ErrParseTruncation struct {
	Reason string
}

func (e *ErrParseTruncation) Error() string {
	return fmt.Sprintf("truncated SSE frame: %s", e.Reason)
}

// ErrSchemaViolation signals an invariant violation in persisted data: an
// unexpected role in a chat position, a tool call missing its id, a
// malformed ancestry segment.
type ErrSchemaViolation struct {
	Detail string
}

func (e *ErrSchemaViolation) Error() string {
	return fmt.Sprintf("schema violation: %s", e.Detail)
}

// ErrToolFailure wraps a tool execution failure (sandbox exited non-zero,
// ability code raised). Recorded as the tool's own result message; the
// dialog loop continues rather than failing the task outright.
type ErrToolFailure struct {
	Tool string
	Err  error
}

func (e *ErrToolFailure) Error() string {
	return fmt.Sprintf("tool %q failed: %s", e.Tool, e.Err)
}

func (e *ErrToolFailure) Unwrap() error { return e.Err }

// ErrPlanningFailure covers TaskPlanner's failure modes.
type ErrPlanningFailure struct {
	Kind   string // "NoToolCallReceived" | "EmptyPlan" | "PlanningUnavailable" | "NonAssistantMessage" | "CannotLoadModel"
	TaskID uuid.UUID
}

func (e *ErrPlanningFailure) Error() string {
	return fmt.Sprintf("planning failed for task #%s: %s", e.TaskID, e.Kind)
}

// ErrSandboxPortTimeout signals LaunchService never observed the requested
// container port bound to a host port within the poll budget.
type ErrSandboxPortTimeout struct {
	Image string
	Port  string
}

func (e *ErrSandboxPortTimeout) Error() string {
	return fmt.Sprintf("sandbox %q: port %s never bound", e.Image, e.Port)
}

// ErrSandbox covers the remaining SandboxRunner failure modes: image pull,
// container creation/start, and exec failures.
type ErrSandbox struct {
	Kind string // "ImagePullFailed" | "StartFailed" | "ExecFailed"
	Err  error
}

func (e *ErrSandbox) Error() string {
	return fmt.Sprintf("sandbox %s: %s", e.Kind, e.Err)
}

func (e *ErrSandbox) Unwrap() error { return e.Err }

// ErrNoRootTasks signals there was no ToDo root task available to execute.
// Callers treat this as a normal empty-poll result, not a failure.
type ErrNoRootTasks struct{}

func (e *ErrNoRootTasks) Error() string { return "no root tasks to execute" }

// ErrNotAnExecutionChat signals a task's execution_chat_id resolved to a
// chat that is not of Kind Execution — a schema-level inconsistency.
type ErrNotAnExecutionChat struct {
	ChatID uuid.UUID
}

func (e *ErrNotAnExecutionChat) Error() string {
	return fmt.Sprintf("chat #%s is not an execution chat", e.ChatID)
}

// ErrLLM wraps a non-transport LLM-vendor failure: a well-formed HTTP
// response carrying an error body.
type ErrLLM struct {
	Provider string
	Status   int
	Message  string
}

func (e *ErrLLM) Error() string {
	return fmt.Sprintf("%s: http %d: %s", e.Provider, e.Status, e.Message)
}

// ErrHTTP wraps an unexpected HTTP response from a non-LLM external
// dependency (repository migrations endpoint, health probe, etc).
type ErrHTTP struct {
	Status int
	Body   string
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}
