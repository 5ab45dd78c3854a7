package sqlite

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	bridge "github.com/StarfleetAI/bridge-common"
)

func newTestRepo(t *testing.T) *Repo {
	t.Helper()
	r, err := New("file::memory:?cache=shared")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	if err := r.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	return r
}

func newTask(tenantID uuid.UUID, ancestry *string) *bridge.Task {
	now := bridge.NowUnix()
	return &bridge.Task{
		ID:        bridge.NewID(),
		TenantID:  tenantID,
		UserID:    bridge.NewID(),
		AgentID:   bridge.NewID(),
		Title:     "do the thing",
		Status:    bridge.TaskToDo,
		Ancestry:  ancestry,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestTaskCreateAndGet(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t)
	tenantID := bridge.NewID()

	task := newTask(tenantID, nil)
	if err := r.Tasks().Create(ctx, task); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := r.Tasks().Get(ctx, tenantID, task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if diff := cmp.Diff(task, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestTaskForestAncestry(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t)
	tenantID := bridge.NewID()

	root := newTask(tenantID, nil)
	if err := r.Tasks().Create(ctx, root); err != nil {
		t.Fatalf("create root: %v", err)
	}

	childAncestry := root.ChildrenAncestry()
	child := newTask(tenantID, &childAncestry)
	if err := r.Tasks().Create(ctx, child); err != nil {
		t.Fatalf("create child: %v", err)
	}

	parentID, ok, err := child.ParentID()
	if err != nil {
		t.Fatalf("parent id: %v", err)
	}
	if !ok || parentID != root.ID {
		t.Fatalf("expected parent %s, got %s (ok=%v)", root.ID, parentID, ok)
	}

	children, err := r.Tasks().ListAllChildren(ctx, tenantID, root.ID.String())
	if err != nil {
		t.Fatalf("list children: %v", err)
	}
	if len(children) != 1 || children[0].ID != child.ID {
		t.Fatalf("unexpected children: %+v", children)
	}
}

func TestGetRootForExecutionTransitionsToInProgress(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t)
	tenantID := bridge.NewID()

	task := newTask(tenantID, nil)
	if err := r.Tasks().Create(ctx, task); err != nil {
		t.Fatalf("create: %v", err)
	}

	tx, err := r.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	got, err := tx.Tasks().GetRootForExecution(ctx, tenantID)
	if err != nil {
		t.Fatalf("get root: %v", err)
	}
	if got == nil || got.ID != task.ID {
		t.Fatalf("expected to pick up %s, got %+v", task.ID, got)
	}
	if got.Status != bridge.TaskInProgress {
		t.Fatalf("expected InProgress, got %s", got.Status)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	again, err := r.Tasks().Get(ctx, tenantID, task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if again.Status != bridge.TaskInProgress {
		t.Fatalf("expected persisted InProgress, got %s", again.Status)
	}

	// No other ToDo root tasks remain.
	tx2, err := r.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	none, err := tx2.Tasks().GetRootForExecution(ctx, tenantID)
	if err != nil {
		t.Fatalf("get root again: %v", err)
	}
	if none != nil {
		t.Fatalf("expected no root task left, got %+v", none)
	}
	_ = tx2.Rollback(ctx)
}

func TestIsAllSiblingsDone(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t)
	tenantID := bridge.NewID()

	root := newTask(tenantID, nil)
	if err := r.Tasks().Create(ctx, root); err != nil {
		t.Fatalf("create root: %v", err)
	}
	ancestry := root.ChildrenAncestry()

	childA := newTask(tenantID, &ancestry)
	childB := newTask(tenantID, &ancestry)
	if err := r.Tasks().Create(ctx, childA); err != nil {
		t.Fatalf("create childA: %v", err)
	}
	if err := r.Tasks().Create(ctx, childB); err != nil {
		t.Fatalf("create childB: %v", err)
	}

	done, err := r.Tasks().IsAllSiblingsDone(ctx, tenantID, childA)
	if err != nil {
		t.Fatalf("siblings done: %v", err)
	}
	if done {
		t.Fatalf("expected siblings not done while childB is ToDo")
	}

	if err := r.Tasks().UpdateStatus(ctx, tenantID, childB.ID, bridge.TaskDone); err != nil {
		t.Fatalf("update status: %v", err)
	}
	done, err = r.Tasks().IsAllSiblingsDone(ctx, tenantID, childA)
	if err != nil {
		t.Fatalf("siblings done: %v", err)
	}
	if !done {
		t.Fatalf("expected siblings done once childB completes")
	}
}

func TestMessageCreateUpdateAndQuery(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t)
	tenantID := bridge.NewID()
	chatID := bridge.NewID()

	content := "hello"
	msg := &bridge.Message{
		ID:        bridge.NewID(),
		TenantID:  tenantID,
		ChatID:    chatID,
		Status:    bridge.MessageWriting,
		Role:      bridge.RoleAssistant,
		Content:   &content,
		CreatedAt: bridge.NowUnix(),
		UpdatedAt: bridge.NowUnix(),
		ToolCalls: []bridge.ToolCall{
			{ID: "call_1", Type: "function", Function: bridge.ToolCallFunction{Name: "sfai_done", Arguments: `{"message":"ok"}`}},
		},
	}
	if err := r.Messages().Create(ctx, msg); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := r.Messages().Get(ctx, tenantID, msg.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.ToolCalls) != 1 || got.ToolCalls[0].Function.Name != "sfai_done" {
		t.Fatalf("unexpected tool calls: %+v", got.ToolCalls)
	}

	got.Status = bridge.MessageCompleted
	if err := r.Messages().Update(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}

	last, err := r.Messages().GetLast(ctx, tenantID, chatID)
	if err != nil {
		t.Fatalf("get last: %v", err)
	}
	if last.Status != bridge.MessageCompleted {
		t.Fatalf("expected Completed, got %s", last.Status)
	}

	count, err := r.Messages().CountAssistantSteps(ctx, tenantID, chatID)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 assistant step, got %d", count)
	}
}

func TestTransitionAllBulkRecovery(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t)
	tenantID := bridge.NewID()

	stuck := newTask(tenantID, nil)
	stuck.Status = bridge.TaskInProgress
	if err := r.Tasks().Create(ctx, stuck); err != nil {
		t.Fatalf("create: %v", err)
	}

	n, err := r.Tasks().TransitionAll(ctx, bridge.TaskInProgress, bridge.TaskToDo)
	if err != nil {
		t.Fatalf("transition all: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 row transitioned, got %d", n)
	}

	recovered, err := r.Tasks().Get(ctx, tenantID, stuck.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if recovered.Status != bridge.TaskToDo {
		t.Fatalf("expected ToDo after recovery, got %s", recovered.Status)
	}
}

func TestSettingsDefaultsWhenMissing(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t)
	tenantID := bridge.NewID()

	s, err := r.Settings().Get(ctx, tenantID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if s.DefaultModel != bridge.DefaultSettings().DefaultModel {
		t.Fatalf("expected default settings, got %+v", s)
	}

	s.Tasks.ExecutionConcurrency = 4
	if err := r.Settings().Put(ctx, tenantID, s); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := r.Settings().Get(ctx, tenantID)
	if err != nil {
		t.Fatalf("get after put: %v", err)
	}
	if got.Tasks.ExecutionConcurrency != 4 {
		t.Fatalf("expected persisted concurrency 4, got %d", got.Tasks.ExecutionConcurrency)
	}
}
