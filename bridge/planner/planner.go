// Package planner turns a single Draft or WaitingForUser task into either a
// direct agent assignment or a tree of sub-tasks. It asks the LLM to choose
// between the sfai_assign_to_agent and sfai_plan_task_execution tool calls,
// then either assigns the task in place or creates one Draft child per
// planned sub-task and recurses into each.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	bridge "github.com/StarfleetAI/bridge-common"
	"github.com/StarfleetAI/bridge-common/repo"
)

const prompt = `You are a project manager with the objective of orchestrating task execution using your team effectively.

## Planning Guidelines

1. Ensure each task is a discrete, manageable unit of work. Avoid splitting broad concepts like "research" and "understanding", "writing" and "executing" scripts or "running a benchmark" and "analyzing results" into separate sub-tasks.
2. Assign each task to only one agent.
3. A task can have multiple sub-tasks.
4. Parent tasks have visibility over the outcomes of their sub-tasks.
5. Sub-tasks have visibility over the outcomes of their sibling tasks.
6. Tasks should be executed in a sequential manner.

## Examples

1. Simple tasks like writing a straight-forward script should not be divided into sub-tasks.
2. Complex tasks, such as those requiring internet data retrieval and script writing, should be split into two sub-tasks: data gathering and script development.
3. Straightforward queries like "tell me about Ruby on Rails" do not require planning. Avoid unnecessary task creation for such direct questions.
4. Try to keep the number of sub-tasks to a minimum to avoid task fragmentation.
5. Keep the number of nesting levels to a minimum.

## Additional Notes

1. Use the web browser sparingly to minimize user billing. Avoid researching well-known topics.
2. Eliminate "review" steps from tasks; the user will review the final results. Focus on creating meaningful, actionable tasks.
3. Plan at a single level of depth only.
4. Do not include tasks for delivering results like "save a file" or "provide a URL."
5. Keep task titles succinct and to the point.
6. When planning, you can safely assume that the working environment is set up correctly.
7. Task summary should have all the relevant information for the agent to complete the task, but avoid unnecessary details.

## Response Format

Approach each task methodically and devise a plan to achieve it. Respond with concise task titles and assigned agents only, omitting any additional explanations.`

// LLMClient is the subset of internal/llm.Client the planner depends on.
type LLMClient interface {
	Complete(ctx context.Context, req bridge.ChatRequest) (bridge.ChatResponse, error)
}

// LLMFactory builds an LLMClient targeting model, authenticated with apiKey.
// Planning resolves its model dynamically per tenant, so the client itself
// must be built per call rather than injected once.
type LLMFactory func(model *bridge.Model, apiKey string) LLMClient

// Deps are the collaborators Plan needs.
type Deps struct {
	Repo    repo.Repo
	Emitter bridge.EventEmitter
	NewLLM  LLMFactory
}

// ExecutionPlanTask is one sub-task the LLM proposed.
type ExecutionPlanTask struct {
	Title   string    `json:"title"`
	Summary string    `json:"summary"`
	AgentID uuid.UUID `json:"agent_id"`
}

// ExecutionPlan is the full set of sub-tasks the LLM proposed for one task.
type ExecutionPlan struct {
	Tasks []ExecutionPlanTask `json:"tasks"`
}

type assignToAgentArgs struct {
	AgentID uuid.UUID `json:"agent_id"`
}

// Plan recursively plans task: it asks the LLM to either assign task to a
// single agent or split it into sub-tasks, persisting whichever outcome the
// model chooses and recursing into any created children.
func Plan(ctx context.Context, deps Deps, tenantID, userID uuid.UUID, task *bridge.Task) error {
	switch task.Status {
	case bridge.TaskToDo, bridge.TaskInProgress:
		return &bridge.ErrPlanningFailure{Kind: "PlanningUnavailable", TaskID: task.ID}
	}

	settings, err := deps.Repo.Settings().Get(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("planner: load settings: %w", err)
	}

	messages, err := buildMessages(ctx, deps, tenantID, task)
	if err != nil {
		return err
	}

	provider, name, ok := bridge.SplitModelFullName(settings.DefaultModel)
	if !ok {
		return &bridge.ErrPlanningFailure{Kind: "CannotLoadModel", TaskID: task.ID}
	}
	model, err := deps.Repo.Models().GetByName(ctx, tenantID, provider, name)
	if err != nil {
		return fmt.Errorf("planner: load model: %w", err)
	}
	if model == nil {
		return &bridge.ErrPlanningFailure{Kind: "CannotLoadModel", TaskID: task.ID}
	}

	apiKey := settings.APIKeys[string(model.Provider)]
	client := deps.NewLLM(model, apiKey)

	resp, err := client.Complete(ctx, bridge.ChatRequest{
		Model:    model.Name,
		Messages: messages,
		Tools:    abilityDefinitions(),
	})
	if err != nil {
		return fmt.Errorf("planner: create chat completion: %w", err)
	}

	plan, err := planFromResponse(resp, task)
	if err != nil {
		return err
	}
	if plan == nil {
		return &bridge.ErrPlanningFailure{Kind: "NoToolCallReceived", TaskID: task.ID}
	}
	if len(plan.Tasks) == 0 {
		return &bridge.ErrPlanningFailure{Kind: "EmptyPlan", TaskID: task.ID}
	}

	if len(plan.Tasks) == 1 {
		agentID := plan.Tasks[0].AgentID
		task.AgentID = agentID
		if err := deps.Repo.Tasks().UpdateAgent(ctx, tenantID, task.ID, agentID); err != nil {
			return fmt.Errorf("planner: assign agent: %w", err)
		}
		emit(ctx, deps.Emitter, userID, bridge.Event{Kind: bridge.EventTaskUpdated, Data: task})
		return nil
	}

	if task.AncestryLevel >= settings.Tasks.PlanningDepthLimit {
		// Nesting limit reached; leave the task as-is with no sub-tasks.
		return nil
	}

	childAncestry := task.ChildrenAncestry()
	for _, st := range plan.Tasks {
		now := bridge.NowUnix()
		child := &bridge.Task{
			ID:            bridge.NewID(),
			TenantID:      tenantID,
			UserID:        task.UserID,
			AgentID:       st.AgentID,
			Title:         st.Title,
			Summary:       st.Summary,
			Status:        bridge.TaskDraft,
			Ancestry:      &childAncestry,
			AncestryLevel: task.AncestryLevel + 1,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := deps.Repo.Tasks().Create(ctx, child); err != nil {
			return fmt.Errorf("planner: create sub-task: %w", err)
		}
		emit(ctx, deps.Emitter, userID, bridge.Event{Kind: bridge.EventTaskCreated, Data: child})

		if err := Plan(ctx, deps, tenantID, userID, child); err != nil {
			return err
		}
	}

	return nil
}

func planFromResponse(resp bridge.ChatResponse, task *bridge.Task) (*ExecutionPlan, error) {
	var plan *ExecutionPlan

	for _, tc := range resp.ToolCalls {
		switch tc.Function.Name {
		case "sfai_plan_task_execution":
			var p ExecutionPlan
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &p); err != nil {
				return nil, fmt.Errorf("planner: parse plan: %w", err)
			}
			plan = &p
		case "sfai_assign_to_agent":
			var args assignToAgentArgs
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return nil, fmt.Errorf("planner: parse sfai_assign_to_agent arguments: %w", err)
			}
			plan = &ExecutionPlan{Tasks: []ExecutionPlanTask{{
				Title:   task.Title,
				Summary: task.Summary,
				AgentID: args.AgentID,
			}}}
		}
	}

	return plan, nil
}

func buildMessages(ctx context.Context, deps Deps, tenantID uuid.UUID, task *bridge.Task) ([]bridge.ChatMessage, error) {
	agents, err := deps.Repo.Agents().ListEnabled(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("planner: list agents: %w", err)
	}

	agentLines := "No agents available"
	if len(agents) > 0 {
		lines := make([]string, 0, len(agents))
		for _, a := range agents {
			lines = append(lines, fmt.Sprintf("- ID: %s. %s: %s", a.ID, a.Name, a.Description))
		}
		agentLines = strings.Join(lines, "\n")
	}

	summary := ""
	if task.Summary != "" {
		summary = "\n\n" + task.Summary
	}

	userContent := fmt.Sprintf(
		"## Available Agents\n\n%s\n\n## Task: %s%s\n\n## Attachments\n\nNo attachments provided.",
		agentLines, task.Title, summary,
	)

	return []bridge.ChatMessage{
		bridge.SystemMessage(prompt),
		bridge.UserMessage(userContent),
	}, nil
}

func abilityDefinitions() []bridge.ToolDefinition {
	return []bridge.ToolDefinition{
		{
			Name:        "sfai_assign_to_agent",
			Description: "No plan required. Assign task to an agent",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"agent_id": {
						"type": "string",
						"description": "ID of the agent to assign the task to"
					}
				}
			}`),
		},
		{
			Name:        "sfai_plan_task_execution",
			Description: "Plan task execution",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"tasks": {
						"type": "array",
						"description": "List of planned sub-tasks",
						"items": {
							"type": "object",
							"properties": {
								"title": {
									"type": "string",
									"description": "Task title"
								},
								"summary": {
									"type": "string",
									"description": "Task summary"
								},
								"agent_id": {
									"type": "string",
									"description": "ID of the agent to assign the task to"
								}
							}
						}
					}
				}
			}`),
		},
	}
}

func emit(ctx context.Context, emitter bridge.EventEmitter, userID uuid.UUID, ev bridge.Event) {
	if emitter == nil {
		return
	}
	_ = emitter.Emit(ctx, userID, ev)
}
