// Package chat drives one assistant turn: it lists a chat's transcript,
// resolves the agent and its abilities into tool definitions, streams a
// completion from an LLM, and persists the growing assistant message as
// chunks arrive. It owns SSE frame reassembly and the tool-call argument
// cleanup the underlying LLM client deliberately does not do.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	bridge "github.com/StarfleetAI/bridge-common"
	"github.com/StarfleetAI/bridge-common/repo"
)

const (
	chunkSeparator = "\n\n"
	doneChunk      = "data: [DONE]"
	dataPrefix     = "data: "

	// maxPendingRemainder bounds the truncated-frame carryover consumeStream
	// holds across reads. An upstream that never completes a frame (missing
	// "\n\n", malformed JSON) would otherwise grow it without limit for the
	// life of the stream.
	maxPendingRemainder = 1 << 20 // 1 MiB
)

// LLMClient is the subset of internal/llm.Client this package depends on.
type LLMClient interface {
	StreamComplete(ctx context.Context, req bridge.ChatRequest) (<-chan []byte, <-chan error, error)
}

// Deps are the collaborators CreateCompletion needs.
type Deps struct {
	Repo    repo.Repo
	Emitter bridge.EventEmitter
	LLM     LLMClient
}

// Params customizes one completion call: extra messages to splice around
// the chat's own transcript, extra abilities beyond the agent's assigned
// set, and whether the resulting message is a self-reflection (it still
// counts toward the execution-steps limit like any other Assistant message).
type Params struct {
	MessagesPre      []bridge.Message
	MessagesPost     []bridge.Message
	Abilities        []bridge.Ability
	IsSelfReflection bool
}

// CreateCompletion runs the full completion routine for chatID: it inserts
// a placeholder Assistant message, streams the model's response into it
// chunk by chunk, and leaves the message Completed, WaitingForToolCall, or
// Failed.
func CreateCompletion(ctx context.Context, deps Deps, tenantID, userID, chatID uuid.UUID, model *bridge.Model, apiKey string, params Params) error {
	tx, err := deps.Repo.Begin(ctx)
	if err != nil {
		return fmt.Errorf("chat: begin transaction: %w", err)
	}

	history, err := tx.Messages().ListByChat(ctx, tenantID, chatID)
	if err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("chat: list messages: %w", err)
	}

	messages := make([]bridge.Message, 0, len(params.MessagesPre)+len(history)+len(params.MessagesPost))
	messages = append(messages, params.MessagesPre...)
	messages = append(messages, history...)
	messages = append(messages, params.MessagesPost...)

	agent, err := deps.Repo.Agents().GetForChat(ctx, tenantID, chatID)
	if err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("chat: resolve agent for chat: %w", err)
	}

	agentAbilities, err := deps.Repo.Agents().ListAbilities(ctx, tenantID, agent.ID)
	if err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("chat: list agent abilities: %w", err)
	}
	abilities := append(append([]bridge.Ability{}, params.Abilities...), agentAbilities...)

	reqMessages := make([]bridge.ChatMessage, 0, len(messages))
	for _, m := range messages {
		reqMessages = append(reqMessages, toChatMessage(m))
	}

	agentID := agent.ID
	message := &bridge.Message{
		ID:               bridge.NewID(),
		TenantID:         tenantID,
		ChatID:           chatID,
		AgentID:          &agentID,
		Status:           bridge.MessageWriting,
		Role:             bridge.RoleAssistant,
		IsSelfReflection: params.IsSelfReflection,
		CreatedAt:        bridge.NowUnix(),
		UpdatedAt:        bridge.NowUnix(),
	}
	if err := tx.Messages().Create(ctx, message); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("chat: insert placeholder message: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("chat: commit transaction: %w", err)
	}

	emit(ctx, deps.Emitter, userID, bridge.Event{Kind: bridge.EventMessageCreated, Data: message})

	tools, err := constructTools(abilities)
	if err != nil {
		failMessage(ctx, deps, tenantID, userID, message)
		return err
	}

	req := bridge.ChatRequest{
		Model:    model.Name,
		Messages: reqMessages,
		Tools:    tools,
		Stream:   true,
	}

	chunks, errs, err := deps.LLM.StreamComplete(ctx, req)
	if err != nil {
		failMessage(ctx, deps, tenantID, userID, message)
		return fmt.Errorf("chat: start stream: %w", err)
	}

	if err := consumeStream(ctx, deps, tenantID, userID, message, chunks, errs); err != nil {
		failMessage(ctx, deps, tenantID, userID, message)
		return err
	}

	if message.Status == bridge.MessageWriting {
		failMessage(ctx, deps, tenantID, userID, message)
		return &bridge.ErrLLM{Provider: string(model.Provider), Message: "stream ended without a terminal frame"}
	}

	return nil
}

func consumeStream(ctx context.Context, deps Deps, tenantID, userID uuid.UUID, message *bridge.Message, chunks <-chan []byte, errs <-chan error) error {
	var remainder string

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-errs:
			if !ok {
				errs = nil // closed: stop selecting on it, let chunks drain to completion
				continue
			}
			if err != nil {
				return fmt.Errorf("chat: stream: %w", err)
			}
		case raw, ok := <-chunks:
			if !ok {
				return nil
			}

			remainder += string(raw)
			if len(remainder) > maxPendingRemainder {
				return fmt.Errorf("chat: stream: pending remainder exceeded %d bytes without a complete frame", maxPendingRemainder)
			}
			chunk := remainder
			remainder = ""

			for _, frame := range splitFrames(chunk) {
				if frame == doneChunk {
					finalizeToolCalls(message)
					message.Status = completionStatus(message)
					if err := deps.Repo.Messages().Update(ctx, message); err != nil {
						return fmt.Errorf("chat: persist completed message: %w", err)
					}
				} else {
					if err := applyCompletionChunk(message, frame); err != nil {
						if isIncompleteChunk(err) {
							if len(frame) > maxPendingRemainder {
								return fmt.Errorf("chat: stream: incomplete frame exceeded %d bytes", maxPendingRemainder)
							}
							remainder = frame
							continue
						}
						return err
					}
				}
				emit(ctx, deps.Emitter, userID, bridge.Event{Kind: bridge.EventMessageUpdated, Data: message})
			}
		}
	}
}

func splitFrames(chunk string) []string {
	raw := strings.Split(chunk, chunkSeparator)
	out := make([]string, 0, len(raw))
	for _, f := range raw {
		f = strings.TrimSpace(f)
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func completionStatus(m *bridge.Message) bridge.MessageStatus {
	if len(m.ToolCalls) > 0 {
		return bridge.MessageWaitingForToolCall
	}
	return bridge.MessageCompleted
}

func finalizeToolCalls(m *bridge.Message) {
	for i := range m.ToolCalls {
		m.ToolCalls[i].Function.Arguments = cleanupJSONStringNewlines(m.ToolCalls[i].Function.Arguments)
	}
}

type incompleteChunkError struct{ err error }

func (e *incompleteChunkError) Error() string { return e.err.Error() }
func (e *incompleteChunkError) Unwrap() error { return e.err }

func isIncompleteChunk(err error) bool {
	_, ok := err.(*incompleteChunkError)
	return ok
}

// applyCompletionChunk parses one SSE data frame and folds its delta into
// message. A frame that fails to parse is reported as an incompleteChunkError
// so the caller can prepend it to the next read instead of failing the
// whole completion — streamed chunks can split a JSON object mid-frame.
func applyCompletionChunk(message *bridge.Message, frame string) error {
	payload, ok := strings.CutPrefix(strings.TrimSpace(frame), dataPrefix)
	if !ok {
		return &incompleteChunkError{err: &bridge.ErrParseTruncation{Reason: "frame missing 'data: ' prefix"}}
	}

	var completion struct {
		Choices []struct {
			Delta struct {
				Content   *string `json:"content"`
				ToolCalls []struct {
					ID       *string `json:"id"`
					Function struct {
						Name      *string `json:"name"`
						Arguments *string `json:"arguments"`
					} `json:"function"`
				} `json:"tool_calls"`
			} `json:"delta"`
		} `json:"choices"`
	}
	if err := json.Unmarshal([]byte(payload), &completion); err != nil {
		return &incompleteChunkError{err: &bridge.ErrParseTruncation{Reason: "chunk JSON decode failed: " + err.Error()}}
	}
	if len(completion.Choices) == 0 {
		return nil
	}
	delta := completion.Choices[0].Delta

	if delta.Content != nil {
		if message.Content == nil {
			content := *delta.Content
			message.Content = &content
		} else {
			*message.Content += *delta.Content
		}
	}

	if len(delta.ToolCalls) == 0 {
		return nil
	}

	tc := delta.ToolCalls[0]
	var current *bridge.ToolCall
	if len(message.ToolCalls) > 0 {
		last := &message.ToolCalls[len(message.ToolCalls)-1]
		if tc.ID == nil {
			current = last
		}
	}
	if current == nil {
		message.ToolCalls = append(message.ToolCalls, bridge.ToolCall{Type: "function"})
		current = &message.ToolCalls[len(message.ToolCalls)-1]
	}
	if tc.ID != nil {
		current.ID += *tc.ID
	}
	if tc.Function.Name != nil {
		current.Function.Name += *tc.Function.Name
	}
	if tc.Function.Arguments != nil {
		current.Function.Arguments += *tc.Function.Arguments
	}
	return nil
}

// cleanupJSONStringNewlines removes bare newlines from a JSON-encoded
// string, leaving newlines inside quoted values escaped as \n. Some
// providers emit literal newlines inside tool-call argument strings, which
// is invalid JSON; this repairs it without touching keys or values
// otherwise.
func cleanupJSONStringNewlines(s string) string {
	out := make([]byte, 0, len(s))
	inQuotes := false
	lastChar := byte(' ')

	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '"' && lastChar != '\\' {
			inQuotes = !inQuotes
		}

		if c == '\n' {
			if inQuotes {
				out = append(out, '\\', 'n')
				lastChar = c
			}
			continue
		}

		out = append(out, c)
		lastChar = c
	}

	return strings.ReplaceAll(strings.TrimSpace(string(out)), "\n", "\\n")
}

func constructTools(abilities []bridge.Ability) ([]bridge.ToolDefinition, error) {
	if len(abilities) == 0 {
		return nil, nil
	}
	tools := make([]bridge.ToolDefinition, 0, len(abilities))
	for _, a := range abilities {
		params := a.ParametersJSON
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		tools = append(tools, bridge.ToolDefinition{
			Name:        a.Name,
			Description: a.Description,
			Parameters:  params,
		})
	}
	return tools, nil
}

func toChatMessage(m bridge.Message) bridge.ChatMessage {
	content := ""
	if m.Content != nil {
		content = *m.Content
	}
	toolCallID := ""
	if m.ToolCallID != nil {
		toolCallID = *m.ToolCallID
	}
	return bridge.ChatMessage{
		Role:       wireRole(m.Role),
		Content:    content,
		ToolCalls:  m.ToolCalls,
		ToolCallID: toolCallID,
	}
}

func wireRole(r bridge.MessageRole) string {
	switch r {
	case bridge.RoleCodeInterpreter:
		return "tool"
	default:
		return strings.ToLower(string(r))
	}
}

func failMessage(ctx context.Context, deps Deps, tenantID, userID uuid.UUID, message *bridge.Message) {
	message.Status = bridge.MessageFailed
	_ = deps.Repo.Messages().Update(ctx, message)
	emit(ctx, deps.Emitter, userID, bridge.Event{Kind: bridge.EventMessageUpdated, Data: message})
}

func emit(ctx context.Context, emitter bridge.EventEmitter, userID uuid.UUID, ev bridge.Event) {
	if emitter == nil {
		return
	}
	_ = emitter.Emit(ctx, userID, ev)
}
