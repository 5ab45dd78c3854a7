package tooldispatch

import (
	"context"
	"strings"
	"testing"

	bridge "github.com/StarfleetAI/bridge-common"
)

func TestDispatchParallelSingleCallInline(t *testing.T) {
	calls := []bridge.ToolCall{{ID: "1", Function: bridge.ToolCallFunction{Name: "greet"}}}
	results := dispatchParallel(context.Background(), calls, func(ctx context.Context, tc bridge.ToolCall) string {
		return "hello " + tc.Function.Name
	})
	if len(results) != 1 || results[0] != "hello greet" {
		t.Fatalf("unexpected result: %+v", results)
	}
}

func TestDispatchParallelPreservesOrder(t *testing.T) {
	calls := make([]bridge.ToolCall, 0, 20)
	for i := 0; i < 20; i++ {
		calls = append(calls, bridge.ToolCall{ID: strings.Repeat("x", i+1), Function: bridge.ToolCallFunction{Name: "f"}})
	}
	results := dispatchParallel(context.Background(), calls, func(ctx context.Context, tc bridge.ToolCall) string {
		return tc.ID
	})
	if len(results) != len(calls) {
		t.Fatalf("expected %d results, got %d", len(calls), len(results))
	}
	for i, tc := range calls {
		if results[i] != tc.ID {
			t.Fatalf("result %d out of order: want %q, got %q", i, tc.ID, results[i])
		}
	}
}

func TestDispatchParallelRecoversPanic(t *testing.T) {
	calls := []bridge.ToolCall{{ID: "1", Function: bridge.ToolCallFunction{Name: "boom"}}}
	results := dispatchParallel(context.Background(), calls, func(ctx context.Context, tc bridge.ToolCall) string {
		panic("kaboom")
	})
	if len(results) != 1 || !strings.Contains(results[0], "panicked") {
		t.Fatalf("expected a panic-recovery error string, got %+v", results)
	}
}

func TestDispatchParallelCancelledContextFillsErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := []bridge.ToolCall{
		{ID: "1", Function: bridge.ToolCallFunction{Name: "a"}},
		{ID: "2", Function: bridge.ToolCallFunction{Name: "b"}},
	}
	results := dispatchParallel(ctx, calls, func(ctx context.Context, tc bridge.ToolCall) string {
		return "should not run"
	})
	for _, r := range results {
		if !strings.Contains(r, "error") {
			t.Fatalf("expected error results for a cancelled context, got %+v", results)
		}
	}
}

func TestJoinAbilityCodeJoinsWithBlankLine(t *testing.T) {
	abilities := []bridge.Ability{{Code: "def a(): pass"}, {Code: "def b(): pass"}}
	got := joinAbilityCode(abilities)
	want := "def a(): pass\n\ndef b(): pass"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestRenderDriverScriptEmbedsCodeAndCall(t *testing.T) {
	tc := bridge.ToolCall{Function: bridge.ToolCallFunction{Name: "search", Arguments: `{"query":"go"}`}}
	script := renderDriverScript("def search(query): return query", tc)
	if !strings.Contains(script, "def search(query): return query") {
		t.Fatalf("expected ability code embedded in script:\n%s", script)
	}
	if !strings.Contains(script, "print(search(**__sfai_args))") {
		t.Fatalf("expected a call to the named function:\n%s", script)
	}
	if !strings.Contains(script, `{"query":"go"}`) {
		t.Fatalf("expected the raw arguments embedded in script:\n%s", script)
	}
}

func TestRenderDriverScriptDefaultsEmptyArguments(t *testing.T) {
	tc := bridge.ToolCall{Function: bridge.ToolCallFunction{Name: "ping", Arguments: ""}}
	script := renderDriverScript("def ping(): return 'pong'", tc)
	if !strings.Contains(script, `json.loads("""{}""")`) {
		t.Fatalf("expected empty arguments to default to '{}':\n%s", script)
	}
}

func TestPyTripleQuotedEscapesEmbeddedQuotes(t *testing.T) {
	got := pyTripleQuoted(`{"a":"has \"\"\" inside"}`)
	if !strings.HasPrefix(got, `"""`) || !strings.HasSuffix(got, `"""`) {
		t.Fatalf("expected triple-quoted wrapper, got %q", got)
	}
	if !strings.Contains(got, `has \\"\\"\\" inside`) {
		t.Fatalf("expected embedded escaped quotes to keep their backslashes doubled, got %q", got)
	}
}
