// Package llm implements the LLMClient interfaces declared by bridge/chat,
// bridge/planner, bridge/tools/webbrowse and observer against an OpenAI-compatible
// endpoint: a buffered Complete call via sashabaranov/go-openai, and a
// hand-rolled raw-byte-chunk StreamComplete because the chat-completion
// engine owns frame reassembly itself (see bridge/chat).
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	bridge "github.com/StarfleetAI/bridge-common"
)

// Client wraps an OpenAI-compatible endpoint for one provider/base-URL
// pair. OpenAI, Groq, and self-hosted providers all speak this same wire
// contract, so one Client type serves every row in the Model table.
type Client struct {
	name    string
	baseURL string
	apiKey  string
	oa      *openai.Client
	http    *http.Client
}

// defaultBaseURLs maps a ModelProvider to its vendor API root, used when a
// Model row does not override APIURL.
var defaultBaseURLs = map[bridge.ModelProvider]string{
	bridge.ProviderOpenAI: "https://api.openai.com/v1",
	bridge.ProviderGroq:   "https://api.groq.com/openai/v1",
}

// NewForModel builds a Client targeting model's provider, honoring
// model.APIURL when set.
func NewForModel(model *bridge.Model, apiKey string) *Client {
	baseURL := defaultBaseURLs[model.Provider]
	if model.APIURL != nil && *model.APIURL != "" {
		baseURL = *model.APIURL
	}
	return New(string(model.Provider), baseURL, apiKey)
}

// New builds a Client against baseURL (e.g.
// "https://api.openai.com/v1") using apiKey for bearer auth. name is used
// only to tag ErrLLM/ErrTransientTransport.
func New(name, baseURL, apiKey string) *Client {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	return &Client{
		name:    name,
		baseURL: baseURL,
		apiKey:  apiKey,
		oa:      openai.NewClientWithConfig(cfg),
		http:    &http.Client{},
	}
}

// Complete issues a buffered chat completion.
func (c *Client) Complete(ctx context.Context, req bridge.ChatRequest) (bridge.ChatResponse, error) {
	oaReq := toOpenAIRequest(req)
	resp, err := c.oa.CreateChatCompletion(ctx, oaReq)
	if err != nil {
		return bridge.ChatResponse{}, &bridge.ErrTransientTransport{Provider: c.name, Err: err}
	}
	if len(resp.Choices) == 0 {
		return bridge.ChatResponse{}, &bridge.ErrLLM{Provider: c.name, Status: 200, Message: "no choices in response"}
	}

	choice := resp.Choices[0]
	out := bridge.ChatResponse{
		Content: choice.Message.Content,
		Usage: bridge.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, bridge.ToolCall{
			ID:   tc.ID,
			Type: "function",
			Function: bridge.ToolCallFunction{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	return out, nil
}

// StreamComplete issues a raw streaming HTTP request against
// {baseURL}/chat/completions and returns the response body's raw bytes on
// a channel, chunk by chunk, exactly as read off the wire. The caller
// (bridge/chat) owns SSE frame reassembly; this method does no parsing
// beyond establishing the HTTP stream.
//
// The returned channel is closed when the stream ends (EOF) or ctx is
// canceled; a send on errCh, if any, always precedes the channel close.
func (c *Client) StreamComplete(ctx context.Context, req bridge.ChatRequest) (<-chan []byte, <-chan error, error) {
	oaReq := toOpenAIRequest(req)
	oaReq.Stream = true

	payload, err := json.Marshal(oaReq)
	if err != nil {
		return nil, nil, &bridge.ErrLLM{Provider: c.name, Message: fmt.Sprintf("marshal request: %v", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, nil, &bridge.ErrTransientTransport{Provider: c.name, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, nil, &bridge.ErrTransientTransport{Provider: c.name, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body := make([]byte, 4096)
		n, _ := resp.Body.Read(body)
		return nil, nil, &bridge.ErrLLM{Provider: c.name, Status: resp.StatusCode, Message: string(body[:n])}
	}

	chunks := make(chan []byte)
	errCh := make(chan error, 1)

	go func() {
		defer resp.Body.Close()
		defer close(chunks)

		reader := bufio.NewReaderSize(resp.Body, 32*1024)
		buf := make([]byte, 4096)
		for {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			default:
			}

			n, err := reader.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				select {
				case chunks <- chunk:
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				}
			}
			if err != nil {
				if err != io.EOF {
					errCh <- &bridge.ErrTransientTransport{Provider: c.name, Err: err}
				}
				return
			}
		}
	}()

	return chunks, errCh, nil
}

func toOpenAIRequest(req bridge.ChatRequest) openai.ChatCompletionRequest {
	out := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: make([]openai.ChatCompletionMessage, 0, len(req.Messages)),
	}
	for _, m := range req.Messages {
		oaMsg := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			oaMsg.ToolCalls = append(oaMsg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		out.Messages = append(out.Messages, oaMsg)
	}
	for _, t := range req.Tools {
		var schema map[string]any
		if len(t.Parameters) > 0 {
			_ = json.Unmarshal(t.Parameters, &schema)
		}
		out.Tools = append(out.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schema,
			},
		})
	}
	return out
}
