package webbrowse

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	bridge "github.com/StarfleetAI/bridge-common"
)

type fakeBrowser struct {
	url      string
	elements []Element
	scroll   int64
	clicked  []int64
	typed    []sendKeysArgs
	gone     []string
	clickTo  string
}

func (f *fakeBrowser) Goto(ctx context.Context, url string) error {
	f.gone = append(f.gone, url)
	f.url = url
	return nil
}
func (f *fakeBrowser) CurrentURL(ctx context.Context) (string, error) { return f.url, nil }
func (f *fakeBrowser) ListViewportElements(ctx context.Context) ([]Element, error) {
	return f.elements, nil
}
func (f *fakeBrowser) ScrollDown(ctx context.Context) error       { return nil }
func (f *fakeBrowser) ScrollPosition(ctx context.Context) (int64, error) { return f.scroll, nil }
func (f *fakeBrowser) Click(ctx context.Context, id int64) error {
	f.clicked = append(f.clicked, id)
	if f.clickTo != "" {
		f.url = f.clickTo
	}
	return nil
}
func (f *fakeBrowser) SendKeys(ctx context.Context, id int64, text string) error {
	f.typed = append(f.typed, sendKeysArgs{ID: id, Text: text})
	return nil
}

type fakeLLM struct {
	responses []bridge.ChatResponse
	calls     int
}

func (f *fakeLLM) Complete(ctx context.Context, req bridge.ChatRequest) (bridge.ChatResponse, error) {
	resp := f.responses[f.calls]
	f.calls++
	return resp, nil
}

func toolCall(name, args string) bridge.ToolCall {
	return bridge.ToolCall{ID: name + "-id", Type: "function", Function: bridge.ToolCallFunction{Name: name, Arguments: args}}
}

func TestPerformGotoThenDoneReturnsNotebook(t *testing.T) {
	browser := &fakeBrowser{url: "https://google.com"}
	llm := &fakeLLM{responses: []bridge.ChatResponse{
		{Content: "Navigating and taking notes", ToolCalls: []bridge.ToolCall{
			toolCall("goto", `{"url":"https://example.com"}`),
			toolCall("append_notebook", `{"text":"found it"}`),
		}},
		{ToolCalls: []bridge.ToolCall{toolCall("done", "{}")}},
	}}

	s := &session{browser: browser, objective: "find something", client: llm, model: &bridge.Model{Name: "gpt-4o"}, isActive: true}
	result, err := s.perform(context.Background())
	if err != nil {
		t.Fatalf("perform: %v", err)
	}
	if result.Failed {
		t.Fatalf("expected success, got failure: %q", result.Text)
	}
	if !strings.Contains(result.Text, "found it") {
		t.Fatalf("expected notebook to contain appended text, got %q", result.Text)
	}
	if len(browser.gone) != 1 || browser.gone[0] != "https://example.com" {
		t.Fatalf("expected one navigation to example.com, got %v", browser.gone)
	}
}

func TestPerformFailRecordsReason(t *testing.T) {
	browser := &fakeBrowser{url: "https://google.com"}
	llm := &fakeLLM{responses: []bridge.ChatResponse{
		{Content: "Could not find it", ToolCalls: nil},
		{ToolCalls: []bridge.ToolCall{toolCall("fail", `{"reason":"site is unreachable"}`)}},
	}}

	s := &session{browser: browser, objective: "find something", client: llm, model: &bridge.Model{Name: "gpt-4o"}, isActive: true}
	result, err := s.perform(context.Background())
	if err != nil {
		t.Fatalf("perform: %v", err)
	}
	if !result.Failed {
		t.Fatalf("expected failure result")
	}
	if result.Text != "site is unreachable" {
		t.Fatalf("expected fail reason in result text, got %q", result.Text)
	}
}

func TestCallToolsClearNotebook(t *testing.T) {
	s := &session{browser: &fakeBrowser{}, notebook: "old notes"}
	if err := s.callTools(context.Background(), []bridge.ToolCall{toolCall("clear_notebook", "{}")}); err != nil {
		t.Fatalf("callTools: %v", err)
	}
	if s.notebook != "" {
		t.Fatalf("expected notebook cleared, got %q", s.notebook)
	}
}

func TestCallToolsClickNavigatesRecordsHistory(t *testing.T) {
	// The fake moves to clickTo when clicked, so the click navigates.
	browser := &fakeBrowser{url: "https://a.example", clickTo: "https://b.example"}
	s := &session{browser: browser}

	if err := s.callTools(context.Background(), []bridge.ToolCall{toolCall("click", `{"id":3}`)}); err != nil {
		t.Fatalf("callTools: %v", err)
	}
	if len(browser.clicked) != 1 || browser.clicked[0] != 3 {
		t.Fatalf("expected element 3 clicked, got %v", browser.clicked)
	}
	if len(s.history) != 1 || s.history[0] != "https://a.example" {
		t.Fatalf("expected the page left behind recorded in history, got %v", s.history)
	}
}

func TestCallToolsUnknownToolErrors(t *testing.T) {
	s := &session{browser: &fakeBrowser{}}
	if err := s.callTools(context.Background(), []bridge.ToolCall{toolCall("bogus", "{}")}); err == nil {
		t.Fatalf("expected an error for an unknown tool call")
	}
}

func TestCallSelfReflectionToolsUnknownErrors(t *testing.T) {
	s := &session{}
	if err := s.callSelfReflectionTools([]bridge.ToolCall{toolCall("bogus", "{}")}); err == nil {
		t.Fatalf("expected an error for an unknown self-reflection tool call")
	}
}

func TestAbilitiesHaveDistinctNames(t *testing.T) {
	names := map[string]bool{}
	for _, a := range abilities() {
		if names[a.Name] {
			t.Fatalf("duplicate ability name %q", a.Name)
		}
		names[a.Name] = true
		var schema map[string]any
		if err := json.Unmarshal(a.Parameters, &schema); err != nil {
			t.Fatalf("ability %q has invalid parameters schema: %v", a.Name, err)
		}
	}
	for _, want := range []string{"scroll_down", "goto", "send_keys", "click", "append_notebook", "clear_notebook"} {
		if !names[want] {
			t.Fatalf("expected ability %q among normal-turn abilities", want)
		}
	}
}

func TestSelfReflectionAbilitiesHaveDoneAndFail(t *testing.T) {
	names := map[string]bool{}
	for _, a := range selfReflectionAbilities() {
		names[a.Name] = true
	}
	if !names["done"] || !names["fail"] {
		t.Fatalf("expected done and fail among self-reflection abilities, got %v", names)
	}
}

func TestSystemMessageContentIncludesObjectiveAndNotebook(t *testing.T) {
	content := systemMessageContent("buy milk", "already checked the store")
	if !strings.Contains(content, "buy milk") || !strings.Contains(content, "already checked the store") {
		t.Fatalf("expected objective and notebook in system message, got %q", content)
	}
}

func TestViewportMessageContentIncludesURLAndHistory(t *testing.T) {
	content := viewportMessageContent("https://example.com", 42, "[]", []string{"https://google.com"})
	if !strings.Contains(content, "https://example.com") || !strings.Contains(content, "42") {
		t.Fatalf("expected url and scroll position in viewport message, got %q", content)
	}
	if !strings.Contains(content, "https://google.com") {
		t.Fatalf("expected history entry in viewport message, got %q", content)
	}
}
