package webbrowse

import (
	"context"
	"encoding/json"
	"fmt"

	bridge "github.com/StarfleetAI/bridge-common"
	"github.com/StarfleetAI/bridge-common/internal/sandbox"
)

// LLMClient is the subset of internal/llm.Client a browsing session needs:
// one buffered completion per turn, same as the planner.
type LLMClient interface {
	Complete(ctx context.Context, req bridge.ChatRequest) (bridge.ChatResponse, error)
}

// LLMFactory builds an LLMClient targeting model, authenticated with apiKey.
type LLMFactory func(model *bridge.Model, apiKey string) LLMClient

// Deps are the collaborators Browse needs.
type Deps struct {
	Sandbox          *sandbox.Runner
	BrowserImage     string
	ChromedriverPort string
	NewLLM           LLMFactory
}

// Result is what a browsing objective concluded with: the accumulated
// notebook text on success, or a failure reason.
type Result struct {
	Failed bool
	Text   string
}

// Browse launches a disposable headless-Chrome session, starts it at
// google.com, and lets the LLM work towards objective by alternating tool
// calls against the page with self-reflection turns, until it calls done
// or fail. The browser and its container are always torn down before
// Browse returns.
func Browse(ctx context.Context, deps Deps, objective string, model *bridge.Model, apiKey string) (Result, error) {
	browser, err := Connect(ctx, deps.Sandbox, deps.BrowserImage, deps.ChromedriverPort)
	if err != nil {
		return Result{}, fmt.Errorf("webbrowse: connect: %w", err)
	}
	defer func() { _ = browser.Close(ctx) }()

	if err := browser.Goto(ctx, "https://google.com"); err != nil {
		return Result{}, fmt.Errorf("webbrowse: initial navigation: %w", err)
	}

	s := &session{
		browser:   browser,
		objective: objective,
		client:    deps.NewLLM(model, apiKey),
		model:     model,
		isActive:  true,
	}
	return s.perform(ctx)
}

// pageDriver is the subset of *Browser a session needs, factored out so
// the dialog-loop logic can be tested without a real chromedriver session.
type pageDriver interface {
	Goto(ctx context.Context, url string) error
	CurrentURL(ctx context.Context) (string, error)
	ListViewportElements(ctx context.Context) ([]Element, error)
	ScrollDown(ctx context.Context) error
	ScrollPosition(ctx context.Context) (int64, error)
	Click(ctx context.Context, id int64) error
	SendKeys(ctx context.Context, id int64, text string) error
}

// session holds one objective's running state across turns: the browser it
// drives, the scratch notebook it is building up, and the trailing
// tool-call/tool-result messages not yet folded into a fresh prelude.
type session struct {
	browser    pageDriver
	notebook   string
	objective  string
	client     LLMClient
	model      *bridge.Model
	messages   []bridge.ChatMessage
	isActive   bool
	history    []string
	failReason string
}

func (s *session) perform(ctx context.Context) (Result, error) {
	for {
		messages, err := s.buildMessages(ctx)
		if err != nil {
			return Result{}, err
		}

		resp, err := s.client.Complete(ctx, bridge.ChatRequest{
			Model:    s.model.Name,
			Messages: messages,
			Tools:    abilities(),
		})
		if err != nil {
			return Result{}, fmt.Errorf("webbrowse: chat completion: %w", err)
		}

		assistantMsg := bridge.AssistantMessage(resp.Content)
		assistantMsg.ToolCalls = resp.ToolCalls
		s.messages = append(s.messages, assistantMsg)

		if err := s.callTools(ctx, resp.ToolCalls); err != nil {
			return Result{}, err
		}

		if resp.Content != "" {
			if err := s.reflect(ctx, messages, assistantMsg); err != nil {
				return Result{}, err
			}
		}

		if !s.isActive {
			break
		}
	}

	if s.failReason != "" {
		return Result{Failed: true, Text: s.failReason}, nil
	}
	return Result{Text: s.notebook}, nil
}

// reflect asks the LLM whether the objective is done, failed, or should
// continue, offering only the terminal-control abilities.
func (s *session) reflect(ctx context.Context, turnMessages []bridge.ChatMessage, assistantMsg bridge.ChatMessage) error {
	reflectMessages := append(append([]bridge.ChatMessage{}, turnMessages...), assistantMsg, bridge.UserMessage(selfReflectionPrompt))

	resp, err := s.client.Complete(ctx, bridge.ChatRequest{
		Model:    s.model.Name,
		Messages: reflectMessages,
		Tools:    selfReflectionAbilities(),
	})
	if err != nil {
		return fmt.Errorf("webbrowse: self-reflection completion: %w", err)
	}

	reflectMsg := bridge.AssistantMessage(resp.Content)
	reflectMsg.ToolCalls = resp.ToolCalls
	s.messages = append(s.messages, reflectMsg)

	return s.callSelfReflectionTools(resp.ToolCalls)
}

func (s *session) pushToolMessage(content, toolCallID string) {
	s.messages = append(s.messages, bridge.ToolResultMessage(toolCallID, fmt.Sprintf("```\n%s\n```", content)))
}

type gotoArgs struct {
	URL string `json:"url"`
}

type sendKeysArgs struct {
	ID   int64  `json:"id"`
	Text string `json:"text"`
}

type clickArgs struct {
	ID int64 `json:"id"`
}

type appendNotebookArgs struct {
	Text string `json:"text"`
}

type failArgs struct {
	Reason string `json:"reason"`
}

func (s *session) callTools(ctx context.Context, calls []bridge.ToolCall) error {
	for _, tc := range calls {
		switch tc.Function.Name {
		case "scroll_down":
			s.messages = nil
			if err := s.browser.ScrollDown(ctx); err != nil {
				return fmt.Errorf("webbrowse: scroll down: %w", err)
			}
			s.history = append(s.history, "scroll_down")

		case "goto":
			s.messages = nil
			var args gotoArgs
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return fmt.Errorf("webbrowse: parse goto arguments: %w", err)
			}
			if err := s.browser.Goto(ctx, args.URL); err != nil {
				return fmt.Errorf("webbrowse: goto %q: %w", args.URL, err)
			}
			s.history = append(s.history, args.URL)

		case "send_keys":
			var args sendKeysArgs
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return fmt.Errorf("webbrowse: parse send_keys arguments: %w", err)
			}
			if err := s.browser.SendKeys(ctx, args.ID, args.Text); err != nil {
				return fmt.Errorf("webbrowse: send keys: %w", err)
			}
			s.pushToolMessage("Keys sent", tc.ID)

		case "click":
			currentURL, err := s.browser.CurrentURL(ctx)
			if err != nil {
				return fmt.Errorf("webbrowse: get current url: %w", err)
			}
			var args clickArgs
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return fmt.Errorf("webbrowse: parse click arguments: %w", err)
			}
			if err := s.browser.Click(ctx, args.ID); err != nil {
				return fmt.Errorf("webbrowse: click: %w", err)
			}
			s.pushToolMessage("Clicked", tc.ID)

			newURL, err := s.browser.CurrentURL(ctx)
			if err != nil {
				return fmt.Errorf("webbrowse: get current url: %w", err)
			}
			if newURL != currentURL {
				s.history = append(s.history, currentURL)
				s.messages = nil
			}

		case "append_notebook":
			var args appendNotebookArgs
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return fmt.Errorf("webbrowse: parse append_notebook arguments: %w", err)
			}
			currentURL, err := s.browser.CurrentURL(ctx)
			if err != nil {
				return fmt.Errorf("webbrowse: get current url: %w", err)
			}
			s.notebook += "\n\n---\n\n" + currentURL + "\n\n" + args.Text
			s.pushToolMessage("Appended to notebook", tc.ID)

		case "clear_notebook":
			s.notebook = ""
			s.pushToolMessage("Notebook cleared", tc.ID)

		default:
			return fmt.Errorf("webbrowse: unknown tool call: %s", tc.Function.Name)
		}
	}
	return nil
}

func (s *session) callSelfReflectionTools(calls []bridge.ToolCall) error {
	for _, tc := range calls {
		switch tc.Function.Name {
		case "done":
			s.isActive = false
		case "fail":
			var args failArgs
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return fmt.Errorf("webbrowse: parse fail arguments: %w", err)
			}
			s.failReason = args.Reason
			s.isActive = false
		default:
			return fmt.Errorf("webbrowse: unknown self-reflection tool call: %s", tc.Function.Name)
		}
	}
	return nil
}

func (s *session) buildMessages(ctx context.Context) ([]bridge.ChatMessage, error) {
	elements, err := s.browser.ListViewportElements(ctx)
	if err != nil {
		return nil, err
	}
	elementsJSON, err := json.MarshalIndent(elements, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("webbrowse: marshal viewport elements: %w", err)
	}

	currentURL, err := s.browser.CurrentURL(ctx)
	if err != nil {
		return nil, fmt.Errorf("webbrowse: get current url: %w", err)
	}
	scrollPosition, err := s.browser.ScrollPosition(ctx)
	if err != nil {
		return nil, err
	}

	messages := []bridge.ChatMessage{
		bridge.SystemMessage(systemMessageContent(s.objective, s.notebook)),
		bridge.UserMessage(viewportMessageContent(currentURL, scrollPosition, string(elementsJSON), s.history)),
	}
	messages = append(messages, s.messages...)
	return messages, nil
}
