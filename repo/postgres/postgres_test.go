package postgres

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	bridge "github.com/StarfleetAI/bridge-common"
)

func TestMarshalToolCallsRoundTrip(t *testing.T) {
	in := []bridge.ToolCall{
		{ID: "call_1", Type: "function", Function: bridge.ToolCallFunction{Name: "sfai_done", Arguments: `{"message":"ok"}`}},
	}
	data, err := marshalToolCalls(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	out, err := unmarshalToolCalls(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if diff := cmp.Diff(in, out); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestMarshalToolCallsEmpty(t *testing.T) {
	data, err := marshalToolCalls(nil)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if data != nil {
		t.Fatalf("expected nil for empty slice, got %q", data)
	}
	out, err := unmarshalToolCalls(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out != nil {
		t.Fatalf("expected nil, got %+v", out)
	}
}
