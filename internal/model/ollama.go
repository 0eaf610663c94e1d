package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tmc/langchaingo/llms"
)

// OllamaChat is an llms.Model that talks to ollama's /api/chat endpoint
// with native tool calling: tool definitions are sent with every request,
// assistant tool calls and tool results are replayed as structured
// messages, and message.tool_calls in the reply become llms.ToolCalls.
type OllamaChat struct {
	endpoint string
	model    string
	client   *http.Client
}

var _ llms.Model = (*OllamaChat)(nil)

// NewOllamaChat creates a chat model for the ollama server at endpoint.
// A nil client means http.DefaultClient; call deadlines come from ctx.
func NewOllamaChat(endpoint, model string, client *http.Client) *OllamaChat {
	if client == nil {
		client = http.DefaultClient
	}
	return &OllamaChat{
		endpoint: strings.TrimRight(endpoint, "/"),
		model:    model,
		client:   client,
	}
}

// ---------- wire types ----------

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
	ToolName  string           `json:"tool_name,omitempty"`
}

type ollamaToolCall struct {
	Function ollamaFunctionCall `json:"function"`
}

type ollamaFunctionCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type ollamaTool struct {
	Type     string            `json:"type"`
	Function ollamaFunctionDef `json:"function"`
}

type ollamaFunctionDef struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters,omitempty"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Tools    []ollamaTool    `json:"tools,omitempty"`
	Stream   bool            `json:"stream"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Model           string        `json:"model"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	DoneReason      string        `json:"done_reason"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
}

// GenerateContent sends one non-streaming chat request.
func (o *OllamaChat) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := llms.CallOptions{}
	for _, opt := range options {
		opt(&opts)
	}

	req := ollamaChatRequest{Model: o.model}
	if opts.Model != "" {
		req.Model = opts.Model
	}
	for _, mc := range messages {
		msgs, err := toOllamaMessages(mc)
		if err != nil {
			return nil, err
		}
		req.Messages = append(req.Messages, msgs...)
	}
	for _, t := range opts.Tools {
		if t.Function == nil {
			continue
		}
		req.Tools = append(req.Tools, ollamaTool{
			Type: "function",
			Function: ollamaFunctionDef{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  t.Function.Parameters,
			},
		})
	}
	if opts.Temperature != 0 {
		req.Options = map[string]any{"temperature": opts.Temperature}
	}
	if opts.MaxTokens > 0 {
		if req.Options == nil {
			req.Options = map[string]any{}
		}
		req.Options["num_predict"] = opts.MaxTokens
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding ollama request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating ollama request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, ollamaError(resp)
	}

	var out ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decoding ollama reply: %v", ErrMalformedResponse, err)
	}

	choice := &llms.ContentChoice{
		Content:    out.Message.Content,
		StopReason: out.DoneReason,
		GenerationInfo: map[string]any{
			"PromptTokens":     out.PromptEvalCount,
			"CompletionTokens": out.EvalCount,
		},
	}
	for _, tc := range out.Message.ToolCalls {
		args := strings.TrimSpace(string(tc.Function.Arguments))
		if args == "null" {
			args = ""
		}
		choice.ToolCalls = append(choice.ToolCalls, llms.ToolCall{
			Type:         "function",
			FunctionCall: &llms.FunctionCall{Name: tc.Function.Name, Arguments: args},
		})
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{choice}}, nil
}

// Call implements the single-prompt form of llms.Model.
func (o *OllamaChat) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, o, prompt, options...)
}

// toOllamaMessages converts one langchaingo message. Each tool response
// part becomes its own "tool" message.
func toOllamaMessages(mc llms.MessageContent) ([]ollamaMessage, error) {
	msg := ollamaMessage{}
	switch mc.Role {
	case llms.ChatMessageTypeSystem:
		msg.Role = "system"
	case llms.ChatMessageTypeHuman, llms.ChatMessageTypeGeneric:
		msg.Role = "user"
	case llms.ChatMessageTypeAI:
		msg.Role = "assistant"
	case llms.ChatMessageTypeTool:
		msg.Role = "tool"
	default:
		return nil, fmt.Errorf("ollama: unsupported message role %q", mc.Role)
	}

	var text []string
	var results []ollamaMessage
	for _, part := range mc.Parts {
		switch p := part.(type) {
		case llms.TextContent:
			text = append(text, p.Text)
		case llms.ToolCall:
			if p.FunctionCall == nil {
				continue
			}
			msg.ToolCalls = append(msg.ToolCalls, ollamaToolCall{Function: ollamaFunctionCall{
				Name:      p.FunctionCall.Name,
				Arguments: rawArguments(p.FunctionCall.Arguments),
			}})
		case llms.ToolCallResponse:
			results = append(results, ollamaMessage{Role: "tool", Content: p.Content, ToolName: p.Name})
		default:
			return nil, fmt.Errorf("ollama: unsupported content part %T", part)
		}
	}
	msg.Content = strings.Join(text, "\n")

	if len(results) > 0 && msg.Content == "" && len(msg.ToolCalls) == 0 {
		return results, nil
	}
	return append([]ollamaMessage{msg}, results...), nil
}

// rawArguments returns the call's arguments as a JSON object; ollama
// rejects string-encoded arguments.
func rawArguments(s string) json.RawMessage {
	s = strings.TrimSpace(s)
	if s == "" || !json.Valid([]byte(s)) {
		return json.RawMessage("{}")
	}
	return json.RawMessage(s)
}

func ollamaError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		return fmt.Errorf("ollama returned %s: %s", resp.Status, body.Error)
	}
	return fmt.Errorf("ollama returned %s: %s", resp.Status, strings.TrimSpace(string(data)))
}
