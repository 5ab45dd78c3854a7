package executor

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	bridge "github.com/StarfleetAI/bridge-common"
)

func TestSortTaskTreeOrdersByCreatedAt(t *testing.T) {
	tasks := []bridge.Task{
		{ID: bridge.NewID(), CreatedAt: 30},
		{ID: bridge.NewID(), CreatedAt: 10},
		{ID: bridge.NewID(), CreatedAt: 20},
	}
	sortTaskTree(tasks)
	if tasks[0].CreatedAt != 10 || tasks[1].CreatedAt != 20 || tasks[2].CreatedAt != 30 {
		t.Fatalf("expected ascending created_at order, got %+v", tasks)
	}
}

func mustAncestry(parent *bridge.Task) string {
	return parent.ChildrenAncestry()
}

func TestCollectChildrenBuildsNestedTree(t *testing.T) {
	root := &bridge.Task{ID: bridge.NewID()}
	rootAncestry := mustAncestry(root)

	child := bridge.Task{ID: bridge.NewID(), Ancestry: &rootAncestry}
	childAncestry := child.ChildrenAncestry()
	grandchild := bridge.Task{ID: bridge.NewID(), Ancestry: &childAncestry}

	tree := &taskTree{root: *root}
	if err := collectChildren(tree, []bridge.Task{child, grandchild}); err != nil {
		t.Fatalf("collect children: %v", err)
	}

	want := &taskTree{
		root: *root,
		children: []*taskTree{
			{root: child, children: []*taskTree{{root: grandchild}}},
		},
	}
	if diff := cmp.Diff(want, tree, cmp.AllowUnexported(taskTree{})); diff != "" {
		t.Fatalf("tree mismatch (-want +got):\n%s", diff)
	}
}

func TestFindExecutionCandidatePrefersDeepestUnsettledChild(t *testing.T) {
	tree := &taskTree{
		root: bridge.Task{ID: bridge.NewID(), Status: bridge.TaskInProgress},
		children: []*taskTree{
			{root: bridge.Task{ID: bridge.NewID(), Status: bridge.TaskDone}},
			{root: bridge.Task{ID: bridge.NewID(), Status: bridge.TaskToDo}},
		},
	}

	candidate := findExecutionCandidate(tree)
	if candidate == nil || candidate.Status != bridge.TaskToDo {
		t.Fatalf("expected the ToDo child to be picked, got %+v", candidate)
	}
}

func TestFindExecutionCandidateReturnsSelfWhenNoChildrenQualify(t *testing.T) {
	tree := &taskTree{
		root: bridge.Task{ID: bridge.NewID(), Status: bridge.TaskDraft},
		children: []*taskTree{
			{root: bridge.Task{ID: bridge.NewID(), Status: bridge.TaskDone}},
		},
	}

	candidate := findExecutionCandidate(tree)
	if candidate == nil || candidate.ID != tree.root.ID {
		t.Fatalf("expected the root itself to be picked, got %+v", candidate)
	}
}

func TestFindExecutionCandidateNilWhenEverythingSettled(t *testing.T) {
	tree := &taskTree{
		root: bridge.Task{ID: bridge.NewID(), Status: bridge.TaskInProgress},
		children: []*taskTree{
			{root: bridge.Task{ID: bridge.NewID(), Status: bridge.TaskDone}},
		},
	}

	if candidate := findExecutionCandidate(tree); candidate != nil {
		t.Fatalf("expected no candidate, got %+v", candidate)
	}
}

func TestTaskMessageContentIncludesTitleAndSummary(t *testing.T) {
	task := &bridge.Task{Title: "Write a script", Summary: "Print hello world"}
	content := taskMessageContent(task)
	if !strings.Contains(content, task.Title) || !strings.Contains(content, task.Summary) {
		t.Fatalf("expected content to include title and summary, got %q", content)
	}
}

func TestTaskMessageContentOmitsBlankSummary(t *testing.T) {
	task := &bridge.Task{Title: "Do a thing"}
	content := taskMessageContent(task)
	if !strings.Contains(content, task.Title) {
		t.Fatalf("expected content to include the title, got %q", content)
	}
	if !strings.HasSuffix(content, task.Title) {
		t.Fatalf("expected nothing after the title when the summary is blank, got %q", content)
	}
}

func TestSystemMessageContentDistinguishesSelfReflection(t *testing.T) {
	agent := &bridge.Agent{Name: "Scout", Description: "A researcher", SystemMessage: "Be thorough."}

	reflecting := systemMessageContent(agent, true)
	if !strings.Contains(reflecting, "self-reflection") {
		t.Fatalf("expected self-reflection framing, got %q", reflecting)
	}

	working := systemMessageContent(agent, false)
	if strings.Contains(working, "self-reflection") {
		t.Fatalf("did not expect self-reflection framing in a normal turn, got %q", working)
	}
	if !strings.Contains(working, agent.SystemMessage) {
		t.Fatalf("expected the agent's own system message embedded, got %q", working)
	}
}

func TestInternalTaskAbilitiesNamesAndSchema(t *testing.T) {
	abilities := internalTaskAbilities()
	if len(abilities) != 3 {
		t.Fatalf("expected 3 internal abilities, got %d", len(abilities))
	}
	names := map[string]bool{}
	for _, a := range abilities {
		names[a.Name] = true
		if len(a.ParametersJSON) == 0 {
			t.Fatalf("ability %q missing parameters schema", a.Name)
		}
	}
	for _, want := range []string{"sfai_done", "sfai_fail", "sfai_wait_for_user"} {
		if !names[want] {
			t.Fatalf("expected ability %q among internal task abilities", want)
		}
	}
}
