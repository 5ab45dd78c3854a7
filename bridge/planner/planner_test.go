package planner

import (
	"testing"

	"github.com/google/uuid"

	bridge "github.com/StarfleetAI/bridge-common"
)

func TestPlanFromResponseSingleAssignment(t *testing.T) {
	agentID := bridge.NewID()
	task := &bridge.Task{Title: "Write a script", Summary: "Print hello"}
	resp := bridge.ChatResponse{
		ToolCalls: []bridge.ToolCall{{
			Function: bridge.ToolCallFunction{
				Name:      "sfai_assign_to_agent",
				Arguments: `{"agent_id":"` + agentID.String() + `"}`,
			},
		}},
	}

	plan, err := planFromResponse(resp, task)
	if err != nil {
		t.Fatalf("planFromResponse: %v", err)
	}
	if plan == nil || len(plan.Tasks) != 1 {
		t.Fatalf("expected a single-task plan, got %+v", plan)
	}
	if plan.Tasks[0].Title != task.Title || plan.Tasks[0].Summary != task.Summary {
		t.Fatalf("expected plan to carry the original task's title/summary, got %+v", plan.Tasks[0])
	}
	if plan.Tasks[0].AgentID != agentID {
		t.Fatalf("expected agent id %s, got %s", agentID, plan.Tasks[0].AgentID)
	}
}

func TestPlanFromResponseMultiTaskPlan(t *testing.T) {
	agentA, agentB := bridge.NewID(), bridge.NewID()
	task := &bridge.Task{Title: "Ship the feature"}
	args := `{"tasks":[
		{"title":"Research","summary":"Find prior art","agent_id":"` + agentA.String() + `"},
		{"title":"Implement","summary":"Write the code","agent_id":"` + agentB.String() + `"}
	]}`
	resp := bridge.ChatResponse{
		ToolCalls: []bridge.ToolCall{{
			Function: bridge.ToolCallFunction{Name: "sfai_plan_task_execution", Arguments: args},
		}},
	}

	plan, err := planFromResponse(resp, task)
	if err != nil {
		t.Fatalf("planFromResponse: %v", err)
	}
	if plan == nil || len(plan.Tasks) != 2 {
		t.Fatalf("expected a two-task plan, got %+v", plan)
	}
	if plan.Tasks[0].AgentID != agentA || plan.Tasks[1].AgentID != agentB {
		t.Fatalf("unexpected agent assignment: %+v", plan.Tasks)
	}
}

func TestPlanFromResponseNoRecognizedToolCallReturnsNil(t *testing.T) {
	task := &bridge.Task{}
	resp := bridge.ChatResponse{ToolCalls: []bridge.ToolCall{{
		Function: bridge.ToolCallFunction{Name: "sfai_done", Arguments: `{}`},
	}}}

	plan, err := planFromResponse(resp, task)
	if err != nil {
		t.Fatalf("planFromResponse: %v", err)
	}
	if plan != nil {
		t.Fatalf("expected nil plan, got %+v", plan)
	}
}

func TestPlanFromResponseMalformedArgumentsErrors(t *testing.T) {
	task := &bridge.Task{}
	resp := bridge.ChatResponse{ToolCalls: []bridge.ToolCall{{
		Function: bridge.ToolCallFunction{Name: "sfai_assign_to_agent", Arguments: `not json`},
	}}}

	if _, err := planFromResponse(resp, task); err == nil {
		t.Fatalf("expected an error for malformed tool call arguments")
	}
}

func TestAbilityDefinitionsNamesMatchDispatch(t *testing.T) {
	defs := abilityDefinitions()
	if len(defs) != 2 {
		t.Fatalf("expected 2 ability definitions, got %d", len(defs))
	}
	names := map[string]bool{}
	for _, d := range defs {
		names[d.Name] = true
		if len(d.Parameters) == 0 {
			t.Fatalf("ability %q missing parameters schema", d.Name)
		}
	}
	if !names["sfai_assign_to_agent"] || !names["sfai_plan_task_execution"] {
		t.Fatalf("unexpected ability names: %+v", names)
	}
}

func TestPlanGuardsToDoAndInProgressStatus(t *testing.T) {
	for _, status := range []bridge.TaskStatus{bridge.TaskToDo, bridge.TaskInProgress} {
		task := &bridge.Task{ID: bridge.NewID(), Status: status}
		err := Plan(nil, Deps{}, uuid.New(), uuid.New(), task)
		var planErr *bridge.ErrPlanningFailure
		if err == nil {
			t.Fatalf("expected an error for status %s", status)
		}
		if !isPlanningFailure(err, &planErr) || planErr.Kind != "PlanningUnavailable" {
			t.Fatalf("expected PlanningUnavailable, got %v", err)
		}
	}
}

func isPlanningFailure(err error, target **bridge.ErrPlanningFailure) bool {
	pe, ok := err.(*bridge.ErrPlanningFailure)
	if !ok {
		return false
	}
	*target = pe
	return true
}
