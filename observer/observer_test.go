package observer

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	bridge "github.com/StarfleetAI/bridge-common"
	"github.com/StarfleetAI/bridge-common/bridge/executor"
	"github.com/StarfleetAI/bridge-common/bridge/tooldispatch"
	"github.com/StarfleetAI/bridge-common/repo"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

// fakeLLM implements LLMClient with canned responses.
type fakeLLM struct {
	completeResp bridge.ChatResponse
	completeErr  error

	chunks []string
	err    error
}

func (f *fakeLLM) Complete(_ context.Context, _ bridge.ChatRequest) (bridge.ChatResponse, error) {
	return f.completeResp, f.completeErr
}

func (f *fakeLLM) StreamComplete(_ context.Context, _ bridge.ChatRequest) (<-chan []byte, <-chan error, error) {
	chunks := make(chan []byte, len(f.chunks))
	errs := make(chan error, 1)
	for _, c := range f.chunks {
		chunks <- []byte(c)
	}
	close(chunks)
	if f.err != nil {
		errs <- f.err
	}
	close(errs)
	return chunks, errs, nil
}

// fakeRepo overrides only what a test needs; every other method panics via
// the nil embedded interface if called, which surfaces unintended wiring.
type fakeRepo struct {
	repo.Repo
	tasks fakeTaskRepo
}

func (r *fakeRepo) Tasks() repo.TaskRepo { return r.tasks }

type fakeTaskRepo struct {
	repo.TaskRepo
	root *bridge.Task
	err  error
}

func (t fakeTaskRepo) GetRootForExecution(_ context.Context, _ uuid.UUID) (*bridge.Task, error) {
	return t.root, t.err
}

// testInstruments creates a no-op Instruments using the global OTEL
// providers (no-ops by default), safe for testing delegation behavior
// without a real OTEL backend.
func testInstruments(t *testing.T) *Instruments {
	t.Helper()
	inst, err := newInstruments(nil)
	if err != nil {
		t.Fatalf("newInstruments: %v", err)
	}
	return inst
}

// ---------------------------------------------------------------------------
// ObservedLLMClient tests
// ---------------------------------------------------------------------------

func TestObservedLLMClientCompleteDelegates(t *testing.T) {
	inner := &fakeLLM{completeResp: bridge.ChatResponse{
		Content: "hi",
		Usage:   bridge.Usage{InputTokens: 10, OutputTokens: 5},
	}}
	client := WrapLLMClient(inner, "gpt-4o", "openai", testInstruments(t))

	got, err := client.Complete(context.Background(), bridge.ChatRequest{})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if got.Content != "hi" {
		t.Errorf("Content = %q, want %q", got.Content, "hi")
	}
}

func TestObservedLLMClientCompletePropagatesError(t *testing.T) {
	wantErr := errors.New("boom")
	inner := &fakeLLM{completeErr: wantErr}
	client := WrapLLMClient(inner, "gpt-4o", "openai", testInstruments(t))

	_, err := client.Complete(context.Background(), bridge.ChatRequest{})
	if !errors.Is(err, wantErr) {
		t.Errorf("Complete() error = %v, want %v", err, wantErr)
	}
}

func TestObservedLLMClientStreamCompleteForwardsChunks(t *testing.T) {
	inner := &fakeLLM{chunks: []string{"data: a\n\n", "data: b\n\n"}}
	client := WrapLLMClient(inner, "gpt-4o", "openai", testInstruments(t))

	chunks, errs, err := client.StreamComplete(context.Background(), bridge.ChatRequest{})
	if err != nil {
		t.Fatalf("StreamComplete() error = %v", err)
	}

	var got []string
	for c := range chunks {
		got = append(got, string(c))
	}
	for e := range errs {
		if e != nil {
			t.Errorf("unexpected stream error: %v", e)
		}
	}

	if len(got) != 2 {
		t.Fatalf("got %d chunks, want 2", len(got))
	}
}

func TestObservedLLMClientStreamCompletePropagatesError(t *testing.T) {
	wantErr := errors.New("stream broke")
	inner := &fakeLLM{err: wantErr}
	client := WrapLLMClient(inner, "gpt-4o", "openai", testInstruments(t))

	chunks, errs, err := client.StreamComplete(context.Background(), bridge.ChatRequest{})
	if err != nil {
		t.Fatalf("StreamComplete() error = %v", err)
	}
	for range chunks {
	}
	var got error
	for e := range errs {
		got = e
	}
	if !errors.Is(got, wantErr) {
		t.Errorf("stream error = %v, want %v", got, wantErr)
	}
}

// ---------------------------------------------------------------------------
// ObserveExecuteRootTask tests
// ---------------------------------------------------------------------------

func TestObserveExecuteRootTaskReturnsNoRootTasks(t *testing.T) {
	deps := executor.Deps{Repo: &fakeRepo{tasks: fakeTaskRepo{root: nil}}}

	err := ObserveExecuteRootTask(context.Background(), deps, uuid.New(), testInstruments(t))
	if !isNoRootTasks(err) {
		t.Errorf("ObserveExecuteRootTask() error = %v, want ErrNoRootTasks", err)
	}
}

func TestObserveExecuteRootTaskPropagatesRepoError(t *testing.T) {
	wantErr := errors.New("db down")
	deps := executor.Deps{Repo: &fakeRepo{tasks: fakeTaskRepo{err: wantErr}}}

	err := ObserveExecuteRootTask(context.Background(), deps, uuid.New(), testInstruments(t))
	if err == nil {
		t.Fatal("ObserveExecuteRootTask() error = nil, want non-nil")
	}
}

// ---------------------------------------------------------------------------
// ObserveCallTools tests
// ---------------------------------------------------------------------------

func TestObserveCallToolsNoCallsReturnsNilStatus(t *testing.T) {
	deps := tooldispatch.Deps{}
	message := &bridge.Message{}
	task := &bridge.Task{}

	status, err := ObserveCallTools(context.Background(), deps, uuid.New(), uuid.New(), message, task, testInstruments(t))
	if err != nil {
		t.Fatalf("ObserveCallTools() error = %v", err)
	}
	if status != nil {
		t.Errorf("status = %v, want nil", status)
	}
}

func TestFmtNamesJoinsWithComma(t *testing.T) {
	got := fmtNames([]string{"a", "b", "c"})
	if got != "a,b,c" {
		t.Errorf("fmtNames() = %q, want %q", got, "a,b,c")
	}
}

func TestFmtNamesEmpty(t *testing.T) {
	if got := fmtNames(nil); got != "" {
		t.Errorf("fmtNames(nil) = %q, want empty", got)
	}
}
