package bridge

import (
	"testing"

	"github.com/google/uuid"
)

func TestTaskParentIDsRootFirst(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	ancestry := a.String() + "/" + b.String()
	task := &Task{ID: uuid.New(), Ancestry: &ancestry}

	ids, err := task.ParentIDs()
	if err != nil {
		t.Fatalf("parent ids: %v", err)
	}
	if len(ids) != 2 || ids[0] != a || ids[1] != b {
		t.Fatalf("expected [%s %s], got %v", a, b, ids)
	}

	root, err := task.RootID()
	if err != nil {
		t.Fatalf("root id: %v", err)
	}
	if root != a {
		t.Fatalf("expected root %s, got %s", a, root)
	}

	parent, ok, err := task.ParentID()
	if err != nil {
		t.Fatalf("parent id: %v", err)
	}
	if !ok || parent != b {
		t.Fatalf("expected immediate parent %s, got %s (ok=%v)", b, parent, ok)
	}
}

func TestTaskParentIDsRootTaskHasNoParent(t *testing.T) {
	task := &Task{ID: uuid.New()}

	root, err := task.RootID()
	if err != nil {
		t.Fatalf("root id: %v", err)
	}
	if root != task.ID {
		t.Fatalf("expected root task to be its own root, got %s", root)
	}

	_, ok, err := task.ParentID()
	if err != nil {
		t.Fatalf("parent id: %v", err)
	}
	if ok {
		t.Fatal("expected no parent for a root task")
	}
}

func TestTaskParentIDsRejectsMalformedSegment(t *testing.T) {
	ancestry := uuid.New().String() + "/not-a-uuid"
	task := &Task{ID: uuid.New(), Ancestry: &ancestry}

	if _, err := task.ParentIDs(); err == nil {
		t.Fatal("expected a schema violation for a malformed ancestry segment")
	} else if _, ok := err.(*ErrSchemaViolation); !ok {
		t.Fatalf("expected *ErrSchemaViolation, got %T: %v", err, err)
	}

	if _, err := task.RootID(); err == nil {
		t.Fatal("expected RootID to surface the same schema violation")
	}
	if _, _, err := task.ParentID(); err == nil {
		t.Fatal("expected ParentID to surface the same schema violation")
	}
}
