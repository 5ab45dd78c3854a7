package startup

import (
	"context"
	"errors"
	"testing"

	bridge "github.com/StarfleetAI/bridge-common"
	"github.com/StarfleetAI/bridge-common/repo"
)

type mockRepo struct {
	repo.Repo
	messages mockMessageRepo
	tasks    mockTaskRepo
}

func (r *mockRepo) Messages() repo.MessageRepo { return &r.messages }
func (r *mockRepo) Tasks() repo.TaskRepo       { return &r.tasks }

type mockMessageRepo struct {
	repo.MessageRepo
	from, to bridge.MessageStatus
	count    int
	err      error
}

func (m *mockMessageRepo) TransitionAll(ctx context.Context, from, to bridge.MessageStatus) (int, error) {
	m.from, m.to = from, to
	return m.count, m.err
}

type mockTaskRepo struct {
	repo.TaskRepo
	from, to bridge.TaskStatus
	count    int
	err      error
}

func (m *mockTaskRepo) TransitionAll(ctx context.Context, from, to bridge.TaskStatus) (int, error) {
	m.from, m.to = from, to
	return m.count, m.err
}

func TestRecoverTransitionsWritingMessagesAndInProgressTasks(t *testing.T) {
	r := &mockRepo{messages: mockMessageRepo{count: 3}, tasks: mockTaskRepo{count: 2}}

	if err := Recover(context.Background(), r); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if r.messages.from != bridge.MessageWriting || r.messages.to != bridge.MessageFailed {
		t.Fatalf("expected Writing->Failed, got %s->%s", r.messages.from, r.messages.to)
	}
	if r.tasks.from != bridge.TaskInProgress || r.tasks.to != bridge.TaskToDo {
		t.Fatalf("expected InProgress->ToDo, got %s->%s", r.tasks.from, r.tasks.to)
	}
}

func TestRecoverPropagatesMessageRepoError(t *testing.T) {
	r := &mockRepo{messages: mockMessageRepo{err: errors.New("boom")}}
	if err := Recover(context.Background(), r); err == nil {
		t.Fatalf("expected an error")
	}
}

func TestRecoverPropagatesTaskRepoError(t *testing.T) {
	r := &mockRepo{tasks: mockTaskRepo{err: errors.New("boom")}}
	if err := Recover(context.Background(), r); err == nil {
		t.Fatalf("expected an error")
	}
}
