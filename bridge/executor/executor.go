// Package executor drives one task through to completion: it picks the
// oldest ToDo root task, walks its sub-task tree depth-first executing one
// task at a time, and for each task runs the dialog loop that alternates
// between asking the agent for its next move and carrying out whatever that
// move was (a tool call, a shown code block, or a self-reflection turn).
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	bridge "github.com/StarfleetAI/bridge-common"
	"github.com/StarfleetAI/bridge-common/bridge/chat"
	"github.com/StarfleetAI/bridge-common/bridge/tooldispatch"
	"github.com/StarfleetAI/bridge-common/bridge/tools/webbrowse"
	"github.com/StarfleetAI/bridge-common/internal/codeblock"
	"github.com/StarfleetAI/bridge-common/internal/sandbox"
	"github.com/StarfleetAI/bridge-common/repo"
)

// LLMFactory builds a chat.LLMClient targeting model, authenticated with
// apiKey. Execution resolves its model dynamically (the tenant's default
// model, looked up fresh every dialog turn), so the client is built per
// call rather than injected once.
type LLMFactory func(model *bridge.Model, apiKey string) chat.LLMClient

// Deps are the collaborators ExecuteRootTask needs.
type Deps struct {
	Repo             repo.Repo
	Emitter          bridge.EventEmitter
	NewLLM           LLMFactory
	Sandbox          *sandbox.Runner
	WorkdirRoot      string
	PythonImage      string
	BrowserImage     string
	ChromedriverPort string
	NewBrowserLLM    webbrowse.LLMFactory
}

func (d Deps) toolDispatchDeps() tooldispatch.Deps {
	return tooldispatch.Deps{
		Repo:             d.Repo,
		Emitter:          d.Emitter,
		Sandbox:          d.Sandbox,
		WorkdirRoot:      d.WorkdirRoot,
		PythonImage:      d.PythonImage,
		BrowserImage:     d.BrowserImage,
		ChromedriverPort: d.ChromedriverPort,
		NewBrowserLLM:    d.NewBrowserLLM,
	}
}

// ExecuteRootTask picks the oldest ToDo root task and runs it to completion,
// recursing into its sub-task tree when it has children. It returns
// bridge.ErrNoRootTasks when there is nothing to do, which callers should
// treat as a normal empty poll.
func ExecuteRootTask(ctx context.Context, deps Deps, tenantID uuid.UUID) error {
	task, err := deps.Repo.Tasks().GetRootForExecution(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("executor: get root task for execution: %w", err)
	}
	if task == nil {
		return &bridge.ErrNoRootTasks{}
	}

	emit(ctx, deps.Emitter, task.UserID, bridge.Event{Kind: bridge.EventTaskUpdated, Data: task})

	children, err := deps.Repo.Tasks().ListAllChildren(ctx, tenantID, task.ChildrenAncestry())
	if err != nil {
		return fmt.Errorf("executor: list children: %w", err)
	}

	if len(children) > 0 {
		if err := executeChildrenTaskTree(ctx, deps, tenantID, task); err != nil {
			return err
		}
		return nil
	}

	status, err := executeTask(ctx, deps, tenantID, task)
	if err != nil {
		failTask(ctx, deps, tenantID, task)
		return err
	}

	if err := deps.Repo.Tasks().UpdateStatus(ctx, tenantID, task.ID, status); err != nil {
		return fmt.Errorf("executor: update root task status: %w", err)
	}
	task.Status = status
	emit(ctx, deps.Emitter, task.UserID, bridge.Event{Kind: bridge.EventTaskUpdated, Data: task})

	return nil
}

// getTaskExecutionChat resolves task's execution chat, creating it and
// binding task's agent to it on first use.
func getTaskExecutionChat(ctx context.Context, deps Deps, tenantID uuid.UUID, task *bridge.Task) (*bridge.Chat, error) {
	if task.ExecutionChatID != nil {
		c, err := deps.Repo.Chats().Get(ctx, tenantID, *task.ExecutionChatID)
		if err != nil {
			return nil, fmt.Errorf("executor: get execution chat: %w", err)
		}
		if c.Kind != bridge.ChatExecution {
			return nil, &bridge.ErrNotAnExecutionChat{ChatID: c.ID}
		}
		return c, nil
	}

	now := bridge.NowUnix()
	c := &bridge.Chat{
		ID:        bridge.NewID(),
		TenantID:  tenantID,
		Kind:      bridge.ChatExecution,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := deps.Repo.Chats().Create(ctx, c); err != nil {
		return nil, fmt.Errorf("executor: create execution chat: %w", err)
	}
	if err := deps.Repo.Tasks().SetExecutionChat(ctx, tenantID, task.ID, c.ID); err != nil {
		return nil, fmt.Errorf("executor: set execution chat: %w", err)
	}
	if err := deps.Repo.Agents().AssignToChat(ctx, tenantID, c.ID, task.AgentID); err != nil {
		return nil, fmt.Errorf("executor: assign agent to execution chat: %w", err)
	}

	return c, nil
}

// executeTask drives task's dialog loop to a terminal status: it alternates
// between reading the last message in the execution chat and acting on it,
// until a turn produces a new task status.
func executeTask(ctx context.Context, deps Deps, tenantID uuid.UUID, task *bridge.Task) (bridge.TaskStatus, error) {
	chatRow, err := getTaskExecutionChat(ctx, deps, tenantID, task)
	if err != nil {
		return "", err
	}
	task.ExecutionChatID = &chatRow.ID
	emit(ctx, deps.Emitter, task.UserID, bridge.Event{Kind: bridge.EventTaskUpdated, Data: task})

	agent, err := deps.Repo.Agents().GetForChat(ctx, tenantID, chatRow.ID)
	if err != nil {
		return "", fmt.Errorf("executor: resolve agent for execution chat: %w", err)
	}

	settings, err := deps.Repo.Settings().Get(ctx, tenantID)
	if err != nil {
		return "", fmt.Errorf("executor: load settings: %w", err)
	}
	stepsLimit := settings.Agents.ExecutionStepsLimit
	if agent.ExecutionStepsLimit != nil {
		stepsLimit = *agent.ExecutionStepsLimit
	}

	for {
		steps, err := deps.Repo.Messages().CountAssistantSteps(ctx, tenantID, chatRow.ID)
		if err != nil {
			return "", fmt.Errorf("executor: count assistant steps: %w", err)
		}
		if steps >= stepsLimit {
			return bridge.TaskFailed, nil
		}

		message, err := deps.Repo.Messages().GetLast(ctx, tenantID, chatRow.ID)
		if err != nil {
			return "", fmt.Errorf("executor: get last message: %w", err)
		}

		if message == nil {
			if err := sendToAgent(ctx, deps, tenantID, task, chatRow.ID, agent); err != nil {
				return "", err
			}
			continue
		}

		switch message.Role {
		case bridge.RoleCodeInterpreter, bridge.RoleTool, bridge.RoleUser:
			if err := sendToAgent(ctx, deps, tenantID, task, chatRow.ID, agent); err != nil {
				return "", err
			}

		case bridge.RoleAssistant:
			switch {
			case len(message.ToolCalls) == 0 && message.IsSelfReflection:
				if err := sendToAgent(ctx, deps, tenantID, task, chatRow.ID, agent); err != nil {
					return "", err
				}

			case len(message.ToolCalls) == 0:
				content := ""
				if message.Content != nil {
					content = *message.Content
				}
				if blocks := codeblock.Extract(content); len(blocks) > 0 {
					if _, err := tooldispatch.RunCodeInterpreter(ctx, deps.toolDispatchDeps(), tenantID, task.UserID, message, task); err != nil {
						return "", err
					}
				} else if err := selfReflect(ctx, deps, tenantID, task, chatRow.ID, agent); err != nil {
					return "", err
				}

			default:
				status, err := tooldispatch.CallTools(ctx, deps.toolDispatchDeps(), tenantID, task.UserID, message, task)
				if err != nil {
					failMessage(ctx, deps, task.UserID, message)
					return "", err
				}
				completeMessage(ctx, deps, task.UserID, message)
				if status != nil {
					return *status, nil
				}
			}

		case bridge.RoleSystem:
			return "", &bridge.ErrSchemaViolation{Detail: fmt.Sprintf("unexpected system message %s in execution chat %s", message.ID, chatRow.ID)}
		}
	}
}

func completeMessage(ctx context.Context, deps Deps, userID uuid.UUID, message *bridge.Message) {
	message.Status = bridge.MessageCompleted
	if err := deps.Repo.Messages().Update(ctx, message); err != nil {
		return
	}
	emit(ctx, deps.Emitter, userID, bridge.Event{Kind: bridge.EventMessageUpdated, Data: message})
}

func failMessage(ctx context.Context, deps Deps, userID uuid.UUID, message *bridge.Message) {
	message.Status = bridge.MessageFailed
	if err := deps.Repo.Messages().Update(ctx, message); err != nil {
		return
	}
	emit(ctx, deps.Emitter, userID, bridge.Event{Kind: bridge.EventMessageUpdated, Data: message})
}

func failTask(ctx context.Context, deps Deps, tenantID uuid.UUID, task *bridge.Task) {
	if err := deps.Repo.Tasks().UpdateStatus(ctx, tenantID, task.ID, bridge.TaskFailed); err != nil {
		return
	}
	task.Status = bridge.TaskFailed
	emit(ctx, deps.Emitter, task.UserID, bridge.Event{Kind: bridge.EventTaskUpdated, Data: task})
}

func failParentTasks(ctx context.Context, deps Deps, tenantID uuid.UUID, child *bridge.Task) {
	parentIDs, err := child.ParentIDs()
	if err != nil {
		return
	}
	for _, parentID := range parentIDs {
		if err := deps.Repo.Tasks().UpdateStatus(ctx, tenantID, parentID, bridge.TaskFailed); err != nil {
			continue
		}
		parent, err := deps.Repo.Tasks().Get(ctx, tenantID, parentID)
		if err != nil || parent == nil {
			continue
		}
		emit(ctx, deps.Emitter, child.UserID, bridge.Event{Kind: bridge.EventTaskUpdated, Data: parent})
	}
}

// --- sub-task tree walk ---

type taskTree struct {
	root     bridge.Task
	children []*taskTree
}

// getChildTaskForExecution picks the next task to run out of parent's
// sub-tree: a depth-first, children-first search for the first task whose
// status is not already InProgress or Done, and transitions it to
// InProgress. Returns nil when the whole subtree is settled.
func getChildTaskForExecution(ctx context.Context, deps Deps, tenantID uuid.UUID, parent *bridge.Task) (*bridge.Task, error) {
	children, err := deps.Repo.Tasks().ListAllChildren(ctx, tenantID, parent.ChildrenAncestry())
	if err != nil {
		return nil, fmt.Errorf("executor: list children: %w", err)
	}
	sortTaskTree(children)

	tree := &taskTree{root: *parent}
	if err := collectChildren(tree, children); err != nil {
		return nil, err
	}

	candidate := findExecutionCandidate(tree)
	if candidate == nil {
		return nil, nil
	}

	if err := deps.Repo.Tasks().UpdateStatus(ctx, tenantID, candidate.ID, bridge.TaskInProgress); err != nil {
		return nil, fmt.Errorf("executor: start child task progress: %w", err)
	}
	started := *candidate
	started.Status = bridge.TaskInProgress
	return &started, nil
}

// findExecutionCandidate searches tree children-first, depth-first,
// returning the first task that is not InProgress or Done.
func findExecutionCandidate(tree *taskTree) *bridge.Task {
	for _, child := range tree.children {
		if task := findExecutionCandidate(child); task != nil {
			return task
		}
	}

	switch tree.root.Status {
	case bridge.TaskInProgress, bridge.TaskDone:
		return nil
	default:
		root := tree.root
		return &root
	}
}

func collectChildren(tree *taskTree, tasks []bridge.Task) error {
	for _, t := range tasks {
		pid, ok, err := t.ParentID()
		if err != nil {
			return err
		}
		if ok && pid == tree.root.ID {
			child := &taskTree{root: t}
			tree.children = append(tree.children, child)
			if err := collectChildren(child, tasks); err != nil {
				return err
			}
		}
	}
	return nil
}

func sortTaskTree(tasks []bridge.Task) {
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].CreatedAt < tasks[j].CreatedAt })
}

// executeChildrenTaskTree repeatedly picks and runs the next executable
// child task until the subtree is settled. A child finishing successfully
// always completes it, regardless of the status executeTask returned for
// it; once every sibling under one parent is Done, that parent is marked
// Done too. A failure picking a child fails parent and every ancestor up to
// the root; a failure running a child fails that child and every ancestor up
// to the root. Either stops the walk immediately — sibling subtrees already
// visited are left as they are. Errors while persisting a child's or
// parent's Done transition, or checking its siblings, are returned without
// failing any task.
func executeChildrenTaskTree(ctx context.Context, deps Deps, tenantID uuid.UUID, parent *bridge.Task) error {
	for {
		child, err := getChildTaskForExecution(ctx, deps, tenantID, parent)
		if err != nil {
			failTask(ctx, deps, tenantID, parent)
			failParentTasks(ctx, deps, tenantID, parent)
			return err
		}
		if child == nil {
			return nil
		}

		emit(ctx, deps.Emitter, parent.UserID, bridge.Event{Kind: bridge.EventTaskUpdated, Data: child})

		if _, err := executeTask(ctx, deps, tenantID, child); err != nil {
			failTask(ctx, deps, tenantID, child)
			failParentTasks(ctx, deps, tenantID, child)
			return err
		}

		if err := deps.Repo.Tasks().UpdateStatus(ctx, tenantID, child.ID, bridge.TaskDone); err != nil {
			return fmt.Errorf("executor: complete child task: %w", err)
		}

		allSiblingsDone, err := deps.Repo.Tasks().IsAllSiblingsDone(ctx, tenantID, child)
		if err != nil {
			return fmt.Errorf("executor: check siblings done: %w", err)
		}
		if allSiblingsDone {
			parentID, ok, err := child.ParentID()
			if err != nil {
				failTask(ctx, deps, tenantID, child)
				failParentTasks(ctx, deps, tenantID, child)
				return err
			}
			if !ok {
				return fmt.Errorf("executor: parent_id is not set for the child task")
			}
			if err := deps.Repo.Tasks().UpdateStatus(ctx, tenantID, parentID, bridge.TaskDone); err != nil {
				return fmt.Errorf("executor: complete parent task: %w", err)
			}
			updatedParent, err := deps.Repo.Tasks().Get(ctx, tenantID, parentID)
			if err != nil {
				return fmt.Errorf("executor: reload parent task: %w", err)
			}
			emit(ctx, deps.Emitter, parent.UserID, bridge.Event{Kind: bridge.EventTaskUpdated, Data: updatedParent})
		}
	}
}

// --- talking to the agent ---

func resolveDefaultModel(ctx context.Context, deps Deps, tenantID uuid.UUID, settings *bridge.Settings) (*bridge.Model, string, error) {
	provider, name, ok := bridge.SplitModelFullName(settings.DefaultModel)
	if !ok {
		return nil, "", fmt.Errorf("executor: malformed default model name %q", settings.DefaultModel)
	}
	model, err := deps.Repo.Models().GetByName(ctx, tenantID, provider, name)
	if err != nil {
		return nil, "", fmt.Errorf("executor: load default model: %w", err)
	}
	if model == nil {
		return nil, "", fmt.Errorf("executor: default model %q not found", settings.DefaultModel)
	}
	return model, settings.APIKeys[string(model.Provider)], nil
}

// sendToAgent asks the agent for its next move: a plain completion turn
// seeded with the task's system/task prelude.
func sendToAgent(ctx context.Context, deps Deps, tenantID uuid.UUID, task *bridge.Task, chatID uuid.UUID, agent *bridge.Agent) error {
	settings, err := deps.Repo.Settings().Get(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("executor: load settings: %w", err)
	}
	model, apiKey, err := resolveDefaultModel(ctx, deps, tenantID, settings)
	if err != nil {
		return err
	}

	pre := executionPrelude(chatID, task, agent, false)

	client := deps.NewLLM(model, apiKey)
	return chat.CreateCompletion(ctx, chat.Deps{Repo: deps.Repo, Emitter: deps.Emitter, LLM: client}, tenantID, task.UserID, chatID, model, apiKey, chat.Params{
		MessagesPre: pre,
	})
}

// selfReflect asks the agent to judge whether the task is done, failed, or
// blocked on the user, exposing only the three internal control abilities.
func selfReflect(ctx context.Context, deps Deps, tenantID uuid.UUID, task *bridge.Task, chatID uuid.UUID, agent *bridge.Agent) error {
	settings, err := deps.Repo.Settings().Get(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("executor: load settings: %w", err)
	}
	model, apiKey, err := resolveDefaultModel(ctx, deps, tenantID, settings)
	if err != nil {
		return err
	}

	pre := executionPrelude(chatID, task, agent, true)

	now := bridge.NowUnix()
	content := selfReflectionPrompt
	post := []bridge.Message{{
		ChatID:    chatID,
		Role:      bridge.RoleUser,
		Content:   &content,
		CreatedAt: now,
		UpdatedAt: now,
	}}

	client := deps.NewLLM(model, apiKey)
	return chat.CreateCompletion(ctx, chat.Deps{Repo: deps.Repo, Emitter: deps.Emitter, LLM: client}, tenantID, task.UserID, chatID, model, apiKey, chat.Params{
		MessagesPre:      pre,
		MessagesPost:     post,
		Abilities:        internalTaskAbilities(),
		IsSelfReflection: true,
	})
}

const selfReflectionPrompt = `Reflect on everything that has happened in this chat so far. ` +
	`If the task's goal has been fully achieved, call sfai_done. If it cannot be completed, call sfai_fail and explain why. ` +
	`If you are blocked on information only the user can provide, call sfai_wait_for_user. ` +
	`Otherwise, describe what to do next and continue working towards the goal.`

// executionPrelude builds the system/task message pair every dialog turn is
// seeded with: the agent's own system message plus a description of its
// role, and the task's title and summary.
func executionPrelude(chatID uuid.UUID, task *bridge.Task, agent *bridge.Agent, isSelfReflection bool) []bridge.Message {
	now := bridge.NowUnix()
	systemContent := systemMessageContent(agent, isSelfReflection)
	taskContent := taskMessageContent(task)

	return []bridge.Message{
		{ChatID: chatID, Role: bridge.RoleSystem, Content: &systemContent, CreatedAt: now, UpdatedAt: now},
		{ChatID: chatID, Role: bridge.RoleUser, Content: &taskContent, CreatedAt: now, UpdatedAt: now},
	}
}

func systemMessageContent(agent *bridge.Agent, isSelfReflection bool) string {
	var b strings.Builder
	b.WriteString(agent.SystemMessage)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "You are %s: %s\n", agent.Name, agent.Description)
	if isSelfReflection {
		b.WriteString("\nThis is a self-reflection turn. Decide whether the task below is done, failed, or blocked on the user, and record that decision with sfai_done, sfai_fail, or sfai_wait_for_user. Do not call any other ability this turn.")
	} else {
		b.WriteString("\nWork towards completing the task below using your available abilities. Call sfai_done once its goal is met.")
	}
	return b.String()
}

func taskMessageContent(task *bridge.Task) string {
	var b strings.Builder
	b.WriteString("## Task\n\n")
	b.WriteString(task.Title)
	if task.Summary != "" {
		b.WriteString("\n\n")
		b.WriteString(task.Summary)
	}
	return b.String()
}

func internalTaskAbilities() []bridge.Ability {
	empty := json.RawMessage(`{"type":"object","properties":{}}`)
	return []bridge.Ability{
		{Name: "sfai_done", Description: "Mark current task as done", ParametersJSON: empty},
		{Name: "sfai_fail", Description: "Mark current task as failed", ParametersJSON: empty},
		{Name: "sfai_wait_for_user", Description: "Wait for additional user input", ParametersJSON: empty},
	}
}

func emit(ctx context.Context, emitter bridge.EventEmitter, userID uuid.UUID, ev bridge.Event) {
	if emitter == nil {
		return
	}
	_ = emitter.Emit(ctx, userID, ev)
}
