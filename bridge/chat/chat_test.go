package chat

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"

	bridge "github.com/StarfleetAI/bridge-common"
)

func TestCleanupJSONStringNewlinesEscapesInsideQuotesDropsOutside(t *testing.T) {
	input := `{
  "text": "line1
line2"
}`
	expected := `{  "text": "line1\nline2"}`

	got := cleanupJSONStringNewlines(input)
	if got != expected {
		t.Fatalf("cleanup mismatch:\ngot:  %q\nwant: %q", got, expected)
	}
}

func TestCleanupJSONStringNewlinesIgnoresEscapedQuote(t *testing.T) {
	input := `"a\"b"`
	if got := cleanupJSONStringNewlines(input); got != input {
		t.Fatalf("expected escaped-quote string unchanged, got %q", got)
	}
}

func TestCleanupJSONStringNewlinesTrimsWhitespace(t *testing.T) {
	input := "  \"ok\"  "
	if got := cleanupJSONStringNewlines(input); got != `"ok"` {
		t.Fatalf("expected trimmed, got %q", got)
	}
}

func TestApplyCompletionChunkAccumulatesContent(t *testing.T) {
	msg := &bridge.Message{}
	if err := applyCompletionChunk(msg, `data: {"choices":[{"delta":{"content":"Hel"}}]}`); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := applyCompletionChunk(msg, `data: {"choices":[{"delta":{"content":"lo"}}]}`); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if msg.Content == nil || *msg.Content != "Hello" {
		t.Fatalf("expected accumulated content 'Hello', got %v", msg.Content)
	}
}

func TestApplyCompletionChunkAccumulatesToolCall(t *testing.T) {
	msg := &bridge.Message{}
	frames := []string{
		`data: {"choices":[{"delta":{"tool_calls":[{"id":"call_1","function":{"name":"sfai_","arguments":""}}]}}]}`,
		`data: {"choices":[{"delta":{"tool_calls":[{"function":{"name":"done","arguments":"{\"mess"}}]}}]}`,
		`data: {"choices":[{"delta":{"tool_calls":[{"function":{"arguments":"age\":\"ok\"}"}}]}}]}`,
	}
	for _, f := range frames {
		if err := applyCompletionChunk(msg, f); err != nil {
			t.Fatalf("apply: %v", err)
		}
	}
	if len(msg.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(msg.ToolCalls))
	}
	tc := msg.ToolCalls[0]
	if tc.ID != "call_1" || tc.Function.Name != "sfai_done" || tc.Function.Arguments != `{"message":"ok"}` {
		t.Fatalf("unexpected tool call: %+v", tc)
	}
}

func TestApplyCompletionChunkNewToolCallOnID(t *testing.T) {
	msg := &bridge.Message{}
	if err := applyCompletionChunk(msg, `data: {"choices":[{"delta":{"tool_calls":[{"id":"call_1","function":{"name":"a"}}]}}]}`); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := applyCompletionChunk(msg, `data: {"choices":[{"delta":{"tool_calls":[{"id":"call_2","function":{"name":"b"}}]}}]}`); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(msg.ToolCalls) != 2 {
		t.Fatalf("expected 2 distinct tool calls, got %d", len(msg.ToolCalls))
	}
}

func TestApplyCompletionChunkMissingPrefixIsIncomplete(t *testing.T) {
	msg := &bridge.Message{}
	err := applyCompletionChunk(msg, `{"choices":[]}`)
	if err == nil || !isIncompleteChunk(err) {
		t.Fatalf("expected incomplete chunk error, got %v", err)
	}
}

func TestSplitFramesTrimsAndFiltersEmpty(t *testing.T) {
	chunk := "data: a\n\n  \n\ndata: b\n\n"
	frames := splitFrames(chunk)
	if len(frames) != 2 || frames[0] != "data: a" || frames[1] != "data: b" {
		t.Fatalf("unexpected frames: %#v", frames)
	}
}

func TestConsumeStreamFailsOnUnboundedRemainder(t *testing.T) {
	chunks := make(chan []byte, 1)
	errs := make(chan error, 1)
	// A chunk with no frame separator and no terminal frame never resolves,
	// so it accumulates in remainder across reads until the bound trips.
	chunks <- []byte(strings.Repeat("x", maxPendingRemainder+1))
	close(chunks)
	close(errs)

	err := consumeStream(context.Background(), Deps{}, uuid.New(), uuid.New(), &bridge.Message{}, chunks, errs)
	if err == nil {
		t.Fatal("expected an error once the pending remainder exceeds the bound")
	}
}

func TestCompletionStatus(t *testing.T) {
	noTools := &bridge.Message{}
	if completionStatus(noTools) != bridge.MessageCompleted {
		t.Fatalf("expected Completed with no tool calls")
	}
	withTools := &bridge.Message{ToolCalls: []bridge.ToolCall{{ID: "x"}}}
	if completionStatus(withTools) != bridge.MessageWaitingForToolCall {
		t.Fatalf("expected WaitingForToolCall with tool calls present")
	}
}
