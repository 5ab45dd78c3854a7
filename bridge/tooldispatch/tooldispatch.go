// Package tooldispatch executes one assistant message's tool calls: the
// built-in sfai_* task-management calls run sequentially against the
// repository, and any remaining calls are dispatched as ability driver
// scripts inside sandboxed containers, concurrently, mirroring the
// teacher's bounded worker-pool dispatch shape.
package tooldispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	bridge "github.com/StarfleetAI/bridge-common"
	"github.com/StarfleetAI/bridge-common/bridge/tools/webbrowse"
	"github.com/StarfleetAI/bridge-common/internal/codeblock"
	"github.com/StarfleetAI/bridge-common/internal/sandbox"
	"github.com/StarfleetAI/bridge-common/repo"
)

// maxParallelDispatch caps the number of concurrent ability driver-script
// containers one message's tool calls can run at once.
const maxParallelDispatch = 10

// Deps are the collaborators CallTools needs.
type Deps struct {
	Repo             repo.Repo
	Emitter          bridge.EventEmitter
	Sandbox          *sandbox.Runner
	WorkdirRoot      string
	PythonImage      string
	BrowserImage     string
	ChromedriverPort string
	NewBrowserLLM    webbrowse.LLMFactory
}

type webBrowseArgs struct {
	Objective string `json:"objective"`
}

type provideTextResultArgs struct {
	Text   string `json:"text"`
	IsDone bool   `json:"is_done"`
}

// CallTools runs every tool call on message against task: sfai_done,
// sfai_fail, sfai_wait_for_user, sfai_code_interpreter,
// sfai_provide_text_result, and sfai_web_browse are handled in-process,
// sequentially, in call order; anything else is treated as an
// ability name and dispatched as a sandboxed driver script, concurrently.
// The returned status, if non-nil, is the new Task status the caller should
// transition to. CallTools never marks message itself Completed or Failed —
// that remains the caller's responsibility once every call has run.
func CallTools(ctx context.Context, deps Deps, tenantID, userID uuid.UUID, message *bridge.Message, task *bridge.Task) (*bridge.TaskStatus, error) {
	var newStatus *bridge.TaskStatus
	var abilityCalls []bridge.ToolCall

	for _, tc := range message.ToolCalls {
		var status *bridge.TaskStatus
		var err error

		switch tc.Function.Name {
		case "sfai_done":
			status, err = sfaiDone(ctx, deps, tenantID, userID, message, task.ID, tc)
		case "sfai_fail":
			status, err = sfaiFail(ctx, deps, tenantID, userID, message, tc)
		case "sfai_wait_for_user":
			status, err = sfaiWaitForUser(ctx, deps, tenantID, userID, message, tc)
		case "sfai_code_interpreter":
			status, err = sfaiCodeInterpreter(ctx, deps, tenantID, userID, message, task)
		case "sfai_provide_text_result":
			var args provideTextResultArgs
			if err = json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return nil, fmt.Errorf("tooldispatch: sfai_provide_text_result: parse arguments: %w", err)
			}
			if err = provideTextResult(ctx, deps, tenantID, userID, message, task.ID, args); err == nil {
				err = createToolResult(ctx, deps, tenantID, message, tc.ID, "```\nText result has been recorded\n```")
			}
			if args.IsDone {
				done := bridge.TaskDone
				status = &done
			}
		case "sfai_web_browse":
			err = sfaiWebBrowse(ctx, deps, tenantID, message, tc)
		default:
			abilityCalls = append(abilityCalls, tc)
			continue
		}
		if err != nil {
			return nil, err
		}
		if status != nil {
			newStatus = status
		}
	}

	if len(abilityCalls) > 0 {
		if err := dispatchAbilities(ctx, deps, tenantID, userID, message, abilityCalls); err != nil {
			return nil, err
		}
	}

	return newStatus, nil
}

func sfaiWaitForUser(ctx context.Context, deps Deps, tenantID, userID uuid.UUID, message *bridge.Message, tc bridge.ToolCall) (*bridge.TaskStatus, error) {
	if err := createToolResult(ctx, deps, tenantID, message, tc.ID, "```\nWaiting for user input\n```"); err != nil {
		return nil, err
	}
	status := bridge.TaskWaitingForUser
	return &status, nil
}

func sfaiFail(ctx context.Context, deps Deps, tenantID, userID uuid.UUID, message *bridge.Message, tc bridge.ToolCall) (*bridge.TaskStatus, error) {
	if err := createToolResult(ctx, deps, tenantID, message, tc.ID, "```\nTask has been marked as failed\n```"); err != nil {
		return nil, err
	}
	status := bridge.TaskFailed
	return &status, nil
}

func sfaiDone(ctx context.Context, deps Deps, tenantID, userID uuid.UUID, message *bridge.Message, taskID uuid.UUID, tc bridge.ToolCall) (*bridge.TaskStatus, error) {
	if err := createToolResult(ctx, deps, tenantID, message, tc.ID, "```\nTask has been marked as done\n```"); err != nil {
		return nil, err
	}

	resultMessage, err := deps.Repo.Messages().GetLastNonSelfReflection(ctx, tenantID, message.ChatID)
	if err != nil {
		return nil, fmt.Errorf("tooldispatch: sfai_done: load last result message: %w", err)
	}
	if resultMessage != nil {
		text := ""
		if resultMessage.Content != nil {
			text = *resultMessage.Content
		}
		if err := provideTextResult(ctx, deps, tenantID, userID, resultMessage, taskID, provideTextResultArgs{Text: text}); err != nil {
			return nil, err
		}
	}

	status := bridge.TaskDone
	return &status, nil
}

func provideTextResult(ctx context.Context, deps Deps, tenantID, userID uuid.UUID, message *bridge.Message, taskID uuid.UUID, args provideTextResultArgs) error {
	if message.AgentID == nil {
		return fmt.Errorf("tooldispatch: provide text result: message %s has no agent", message.ID)
	}

	now := bridge.NowUnix()
	result := &bridge.TaskResult{
		ID:        bridge.NewID(),
		TenantID:  tenantID,
		AgentID:   *message.AgentID,
		TaskID:    taskID,
		Kind:      bridge.TaskResultText,
		Data:      args.Text,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := deps.Repo.TaskResults().Create(ctx, result); err != nil {
		return fmt.Errorf("tooldispatch: create task result: %w", err)
	}
	emit(ctx, deps.Emitter, userID, bridge.Event{Kind: bridge.EventTaskResultCreated, Data: result})
	emit(ctx, deps.Emitter, userID, bridge.Event{Kind: bridge.EventMessageCreated, Data: message})
	return nil
}

func sfaiCodeInterpreter(ctx context.Context, deps Deps, tenantID, userID uuid.UUID, message *bridge.Message, task *bridge.Task) (*bridge.TaskStatus, error) {
	resultMessage, err := deps.Repo.Messages().GetLastNonSelfReflection(ctx, tenantID, message.ChatID)
	if err != nil {
		return nil, fmt.Errorf("tooldispatch: sfai_code_interpreter: load last result message: %w", err)
	}
	if resultMessage == nil {
		return nil, nil
	}

	outLines, err := interpretCode(ctx, deps, resultMessage, task)
	content := strings.Join(outLines, "\n\n")
	if err != nil {
		content = fmt.Sprintf("Failed to interpret code: %s", err)
	}

	now := bridge.NowUnix()
	outMessage := &bridge.Message{
		ID:        bridge.NewID(),
		TenantID:  tenantID,
		ChatID:    message.ChatID,
		Status:    bridge.MessageCompleted,
		Role:      bridge.RoleCodeInterpreter,
		Content:   &content,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := deps.Repo.Messages().Create(ctx, outMessage); err != nil {
		return nil, fmt.Errorf("tooldispatch: create code interpreter result message: %w", err)
	}
	emit(ctx, deps.Emitter, userID, bridge.Event{Kind: bridge.EventMessageCreated, Data: outMessage})

	return nil, nil
}

// RunCodeInterpreter runs sfai_code_interpreter's logic directly, without a
// tool call: used when an Assistant message carries fenced code blocks but
// no tool calls at all — the agent showed code rather than calling the
// ability.
func RunCodeInterpreter(ctx context.Context, deps Deps, tenantID, userID uuid.UUID, message *bridge.Message, task *bridge.Task) (*bridge.TaskStatus, error) {
	return sfaiCodeInterpreter(ctx, deps, tenantID, userID, message, task)
}

// sfaiWebBrowse runs a whole browsing objective to completion inside a
// disposable headless-Chrome session and records the result as the tool
// call's result message: the accumulated notebook on success, the stated
// reason on failure. The calling agent must have WebBrowserEnabled set.
func sfaiWebBrowse(ctx context.Context, deps Deps, tenantID uuid.UUID, message *bridge.Message, tc bridge.ToolCall) error {
	if message.AgentID == nil {
		return fmt.Errorf("tooldispatch: sfai_web_browse: message %s has no agent", message.ID)
	}
	agent, err := deps.Repo.Agents().Get(ctx, tenantID, *message.AgentID)
	if err != nil {
		return fmt.Errorf("tooldispatch: sfai_web_browse: load agent: %w", err)
	}
	if agent == nil || !agent.WebBrowserEnabled {
		return createToolResult(ctx, deps, tenantID, message, tc.ID, "This agent does not have the web browser enabled")
	}

	var args webBrowseArgs
	if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
		return fmt.Errorf("tooldispatch: sfai_web_browse: parse arguments: %w", err)
	}

	settings, err := deps.Repo.Settings().Get(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("tooldispatch: sfai_web_browse: load settings: %w", err)
	}
	provider, name, ok := bridge.SplitModelFullName(settings.DefaultModel)
	if !ok {
		return fmt.Errorf("tooldispatch: sfai_web_browse: invalid default model %q", settings.DefaultModel)
	}
	model, err := deps.Repo.Models().GetByName(ctx, tenantID, provider, name)
	if err != nil {
		return fmt.Errorf("tooldispatch: sfai_web_browse: load model: %w", err)
	}
	if model == nil {
		return fmt.Errorf("tooldispatch: sfai_web_browse: default model %q not found", settings.DefaultModel)
	}
	apiKey := settings.APIKeys[string(model.Provider)]

	result, err := webbrowse.Browse(ctx, webbrowse.Deps{
		Sandbox:          deps.Sandbox,
		BrowserImage:     deps.BrowserImage,
		ChromedriverPort: deps.ChromedriverPort,
		NewLLM:           deps.NewBrowserLLM,
	}, args.Objective, model, apiKey)
	if err != nil {
		return fmt.Errorf("tooldispatch: sfai_web_browse: %w", err)
	}

	content := result.Text
	if result.Failed {
		content = fmt.Sprintf("Objective failed: %s", result.Text)
	}
	return createToolResult(ctx, deps, tenantID, message, tc.ID, content)
}

// interpretCode runs or saves every fenced code block in message's content
// against task's shared workdir, returning one output line per block.
func interpretCode(ctx context.Context, deps Deps, message *bridge.Message, task *bridge.Task) ([]string, error) {
	if message.Content == nil {
		return []string{"No content in the message to interpret"}, nil
	}

	blocks := codeblock.Extract(*message.Content)
	lines := make([]string, 0, len(blocks))

	workdir, err := bridge.EnsureTaskWorkdir(deps.WorkdirRoot, task)
	if err != nil {
		return nil, fmt.Errorf("get task workdir: %w", err)
	}

	for _, block := range blocks {
		if block.Action == codeblock.ActionSave {
			path := filepath.Join(workdir, block.Filename)
			if err := os.WriteFile(path, []byte(block.Code), 0o644); err != nil {
				lines = append(lines, fmt.Sprintf("```\nFailed to save file `%s`: %s\n```", block.Filename, err))
				continue
			}
			lines = append(lines, fmt.Sprintf("```\nFile `%s` has been saved\n```", block.Filename))
			continue
		}

		var cmd []string
		switch block.Language {
		case codeblock.LanguageShell:
			cmd = []string{"sh", "-c", block.Code}
		case codeblock.LanguagePython:
			cmd = []string{"python", "-c", block.Code}
		default:
			lines = append(lines, fmt.Sprintf("```\nError: language `%s` is not supported for code execution\n```", block.Language))
			continue
		}

		out, err := deps.Sandbox.RunScript(ctx, deps.PythonImage, cmd, []sandbox.Mount{{HostPath: workdir}}, workdir)
		if err != nil {
			lines = append(lines, fmt.Sprintf("```\n%s\n```", err))
			continue
		}
		lines = append(lines, fmt.Sprintf("```\n%s\n```", out))
	}

	return lines, nil
}

// createToolResult creates an internal tool-output message: the sfai_*
// handlers' own status-acknowledgement text, excluded from
// execution-steps-limit accounting.
func createToolResult(ctx context.Context, deps Deps, tenantID uuid.UUID, message *bridge.Message, toolCallID, content string) error {
	_, err := createToolResultMessage(ctx, deps, tenantID, message, toolCallID, content, true)
	return err
}

func createToolResultMessage(ctx context.Context, deps Deps, tenantID uuid.UUID, message *bridge.Message, toolCallID, content string, internal bool) (*bridge.Message, error) {
	now := bridge.NowUnix()
	result := &bridge.Message{
		ID:                   bridge.NewID(),
		TenantID:             tenantID,
		ChatID:               message.ChatID,
		Status:               bridge.MessageCompleted,
		Role:                 bridge.RoleTool,
		Content:              &content,
		ToolCallID:           &toolCallID,
		IsInternalToolOutput: internal,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := deps.Repo.Messages().Create(ctx, result); err != nil {
		return nil, err
	}
	return result, nil
}

// --- ability dispatch ---

type abilityResult struct {
	toolCallID string
	content    string
}

// dispatchAbilities runs each non-sfai_ tool call as an ability driver
// script, concurrently across a bounded worker pool, then creates one Tool
// result message per call, in the original call order, emitting
// MessageCreated for each.
func dispatchAbilities(ctx context.Context, deps Deps, tenantID, userID uuid.UUID, message *bridge.Message, calls []bridge.ToolCall) error {
	if message.AgentID == nil {
		return fmt.Errorf("tooldispatch: message %s has no agent, cannot resolve abilities", message.ID)
	}

	abilities, err := deps.Repo.Agents().ListAbilities(ctx, tenantID, *message.AgentID)
	if err != nil {
		return fmt.Errorf("tooldispatch: list agent abilities: %w", err)
	}
	code := joinAbilityCode(abilities)

	results := dispatchParallel(ctx, calls, func(ctx context.Context, tc bridge.ToolCall) string {
		out, err := executeAbility(ctx, deps, message.ChatID, message.ID, code, tc)
		if err != nil {
			return fmt.Sprintf("error: %s", err)
		}
		return out
	})

	for i, tc := range calls {
		content := fmt.Sprintf("```\n%s\n```", results[i])
		resultMessage, err := createToolResultMessage(ctx, deps, tenantID, message, tc.ID, content, false)
		if err != nil {
			return err
		}
		emit(ctx, deps.Emitter, userID, bridge.Event{Kind: bridge.EventMessageCreated, Data: resultMessage})
	}
	return nil
}

func joinAbilityCode(abilities []bridge.Ability) string {
	parts := make([]string, 0, len(abilities))
	for _, a := range abilities {
		parts = append(parts, a.Code)
	}
	return strings.Join(parts, "\n\n")
}

// executeAbility writes a driver script combining every ability's code with
// a call to the named function using the tool call's JSON-decoded
// arguments, runs it in a sandboxed container, and returns its trimmed
// output. The script is removed once the run completes.
func executeAbility(ctx context.Context, deps Deps, chatID, messageID uuid.UUID, code string, tc bridge.ToolCall) (string, error) {
	workdir, err := bridge.EnsureChatWorkdir(deps.WorkdirRoot, chatID)
	if err != nil {
		return "", fmt.Errorf("ensure chat workdir: %w", err)
	}

	scriptPath := bridge.ChatWorkdir(deps.WorkdirRoot, chatID, messageID, tc.ID)
	scriptName := filepath.Base(scriptPath)

	script := renderDriverScript(code, tc)
	if err := os.WriteFile(scriptPath, []byte(script), 0o644); err != nil {
		return "", fmt.Errorf("write driver script: %w", err)
	}
	defer os.Remove(scriptPath)

	cmd := []string{"python", sandbox.ContainerWorkdir + "/" + scriptName}
	out, err := deps.Sandbox.RunScript(ctx, deps.PythonImage, cmd, []sandbox.Mount{{HostPath: workdir}}, workdir)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// renderDriverScript builds the Python script executeAbility runs: the
// agent's ability code, followed by a call to the requested function with
// its JSON-decoded arguments, with the result printed to stdout.
func renderDriverScript(code string, tc bridge.ToolCall) string {
	args := tc.Function.Arguments
	if strings.TrimSpace(args) == "" {
		args = "{}"
	}
	var b strings.Builder
	b.WriteString(code)
	b.WriteString("\n\n")
	b.WriteString("import json\n")
	b.WriteString(fmt.Sprintf("__sfai_args = json.loads(%s)\n", pyTripleQuoted(args)))
	b.WriteString(fmt.Sprintf("print(%s(**__sfai_args))\n", tc.Function.Name))
	return b.String()
}

// pyTripleQuoted renders s as a Python triple-quoted string literal, safe
// for embedding arbitrary JSON text in a generated script.
func pyTripleQuoted(s string) string {
	escaped := strings.ReplaceAll(s, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"""`, `\"\"\"`)
	return `"""` + escaped + `"""`
}

// dispatchFunc executes one tool call and returns its raw output.
type dispatchFunc func(ctx context.Context, tc bridge.ToolCall) string

// dispatchParallel runs every call through dispatch concurrently, returning
// results in call order. A single call runs inline; otherwise a fixed pool
// of min(len(calls), maxParallelDispatch) workers pulls from a shared work
// channel, mirroring the teacher's dispatchParallel shape.
func dispatchParallel(ctx context.Context, calls []bridge.ToolCall, dispatch dispatchFunc) []string {
	if len(calls) == 1 {
		return []string{safeDispatch(ctx, calls[0], dispatch)}
	}

	type workItem struct {
		idx int
		tc  bridge.ToolCall
	}
	type indexedResult struct {
		idx     int
		content string
	}

	workCh := make(chan workItem, len(calls))
	for i, tc := range calls {
		workCh <- workItem{idx: i, tc: tc}
	}
	close(workCh)

	resultCh := make(chan indexedResult, len(calls))
	numWorkers := min(len(calls), maxParallelDispatch)
	var wg sync.WaitGroup
	wg.Add(numWorkers)
	for range numWorkers {
		go func() {
			defer wg.Done()
			for w := range workCh {
				if ctx.Err() != nil {
					resultCh <- indexedResult{w.idx, "error: " + ctx.Err().Error()}
					continue
				}
				resultCh <- indexedResult{w.idx, safeDispatch(ctx, w.tc, dispatch)}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(resultCh)
	}()

	results := make([]string, len(calls))
	seen := make([]bool, len(calls))
collect:
	for received := 0; received < len(calls); received++ {
		select {
		case r, ok := <-resultCh:
			if !ok {
				break collect
			}
			results[r.idx] = r.content
			seen[r.idx] = true
		case <-ctx.Done():
			for i := range results {
				if !seen[i] {
					results[i] = "error: " + ctx.Err().Error()
				}
			}
			return results
		}
	}
	for i := range results {
		if !seen[i] {
			results[i] = "error: result not received"
		}
	}
	return results
}

// safeDispatch recovers a panicking dispatch call into an error string
// instead of crashing the process.
func safeDispatch(ctx context.Context, tc bridge.ToolCall, dispatch dispatchFunc) (out string) {
	defer func() {
		if p := recover(); p != nil {
			out = fmt.Sprintf("error: ability %q panicked: %v", tc.Function.Name, p)
		}
	}()
	return dispatch(ctx, tc)
}

func emit(ctx context.Context, emitter bridge.EventEmitter, userID uuid.UUID, ev bridge.Event) {
	if emitter == nil {
		return
	}
	_ = emitter.Emit(ctx, userID, ev)
}
