// Package model adapts langchaingo chat models to the decision loop's
// model boundary.
package model

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/klubi/scout/internal/agent"
	"github.com/klubi/scout/internal/config"
	"github.com/klubi/scout/internal/tools"
	v1alpha1 "github.com/klubi/scout/pkg/apis/v1alpha1"
)

var (
	ErrMalformedResponse = errors.New("malformed model response")
	ErrMissingAPIKey     = errors.New("missing API key")
)

// NewLLM creates the langchaingo model for the configured provider.
// ollama uses OllamaChat, which supports native tool calling.
func NewLLM(ctx context.Context, cfg config.ModelConfig) (llms.Model, error) {
	switch cfg.Provider {
	case config.ProviderOllama:
		return NewOllamaChat(cfg.ResolvedEndpoint(), cfg.Name, nil), nil

	case config.ProviderOpenAI:
		key := cfg.ResolvedAPIKey()
		if key == "" {
			return nil, fmt.Errorf("%w: set OPENAI_API_KEY or model.apiKey", ErrMissingAPIKey)
		}
		opts := []openai.Option{openai.WithModel(cfg.Name), openai.WithToken(key)}
		if ep := cfg.ResolvedEndpoint(); ep != "" {
			opts = append(opts, openai.WithBaseURL(ep))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize openai model: %w", err)
		}
		return llm, nil

	case config.ProviderGoogleAI:
		key := cfg.ResolvedAPIKey()
		if key == "" {
			return nil, fmt.Errorf("%w: set GEMINI_API_KEY or model.apiKey", ErrMissingAPIKey)
		}
		llm, err := googleai.New(ctx,
			googleai.WithAPIKey(key),
			googleai.WithDefaultModel(cfg.Name),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize googleai model: %w", err)
		}
		return llm, nil
	}
	return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
}

// Client implements agent.Model on top of a langchaingo model.
type Client struct {
	llm     llms.Model
	logger  *zap.Logger
	timeout time.Duration
	opts    []llms.CallOption
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout bounds every model call.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithCallOptions adds langchaingo call options to every request.
func WithCallOptions(opts ...llms.CallOption) Option {
	return func(c *Client) { c.opts = append(c.opts, opts...) }
}

// New wraps llm.
func New(llm llms.Model, logger *zap.Logger, opts ...Option) *Client {
	c := &Client{llm: llm, logger: logger}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Complete submits the conversation and tool schemas and converts the
// reply. Reasoning blocks are stripped from the text and tool calls
// without an id get one.
func (c *Client) Complete(ctx context.Context, req agent.ModelRequest) (*agent.ModelResponse, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	messages := toMessages(req.Turns)
	opts := append([]llms.CallOption{}, c.opts...)
	if len(req.Tools) > 0 {
		opts = append(opts, llms.WithTools(toTools(req.Tools)))
	}

	c.logger.Debug("calling model",
		zap.Int("messages", len(messages)),
		zap.Int("tools", len(req.Tools)),
	)
	start := time.Now()

	resp, err := c.llm.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return nil, err
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices", ErrMalformedResponse)
	}

	out := fromResponse(resp)
	c.logger.Debug("model replied",
		zap.Duration("duration", time.Since(start)),
		zap.Int("toolCalls", len(out.ToolCalls)),
		zap.Int("contentLen", len(out.Content)),
	)
	return out, nil
}

// ---------- conversion ----------

func toMessages(turns []v1alpha1.Turn) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case v1alpha1.RoleSystem:
			out = append(out, llms.TextParts(llms.ChatMessageTypeSystem, t.Content))
		case v1alpha1.RoleUser:
			out = append(out, llms.TextParts(llms.ChatMessageTypeHuman, t.Content))
		case v1alpha1.RoleAssistant:
			msg := llms.MessageContent{Role: llms.ChatMessageTypeAI}
			if t.Content != "" || len(t.ToolCalls) == 0 {
				msg.Parts = append(msg.Parts, llms.TextContent{Text: t.Content})
			}
			for _, call := range t.ToolCalls {
				msg.Parts = append(msg.Parts, llms.ToolCall{
					ID:   call.ID,
					Type: "function",
					FunctionCall: &llms.FunctionCall{
						Name:      call.Name,
						Arguments: call.Arguments,
					},
				})
			}
			out = append(out, msg)
		case v1alpha1.RoleTool:
			out = append(out, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{llms.ToolCallResponse{
					ToolCallID: t.ToolCallID,
					Name:       t.ToolName,
					Content:    t.Content,
				}},
			})
		}
	}
	return out
}

func toTools(schemas []tools.Schema) []llms.Tool {
	out := make([]llms.Tool, len(schemas))
	for i, s := range schemas {
		out[i] = llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        s.Name,
				Description: s.Description,
				Parameters:  s.Parameters,
			},
		}
	}
	return out
}

// fromResponse merges every choice: the first non-empty text becomes the
// content and tool calls are collected in order.
func fromResponse(resp *llms.ContentResponse) *agent.ModelResponse {
	out := &agent.ModelResponse{}
	for _, choice := range resp.Choices {
		if choice == nil {
			continue
		}
		if out.Content == "" {
			out.Content = Clean(choice.Content)
		}
		for _, tc := range choice.ToolCalls {
			if tc.FunctionCall == nil {
				continue
			}
			out.ToolCalls = append(out.ToolCalls, toolCall(tc.ID, tc.FunctionCall))
		}
		if len(choice.ToolCalls) == 0 && choice.FuncCall != nil {
			out.ToolCalls = append(out.ToolCalls, toolCall("", choice.FuncCall))
		}
	}
	return out
}

func toolCall(id string, fc *llms.FunctionCall) v1alpha1.ToolCall {
	if id == "" {
		id = "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	}
	args := strings.TrimSpace(fc.Arguments)
	if args == "" {
		args = "{}"
	}
	return v1alpha1.ToolCall{ID: id, Name: fc.Name, Arguments: args}
}

// ---------- cleaning ----------

var (
	thinkBlock     = regexp.MustCompile(`(?is)<think>.*?</think>`)
	reasoningBlock = regexp.MustCompile(`(?is)<reasoning>.*?</reasoning>`)
	// Some models start mid-block and emit only the closing tag.
	strayClose = regexp.MustCompile(`(?is)^.*?</think>`)
)

// Clean strips reasoning blocks emitted by reasoning models.
func Clean(s string) string {
	s = thinkBlock.ReplaceAllString(s, "")
	s = reasoningBlock.ReplaceAllString(s, "")
	if strings.Contains(s, "</think>") && !strings.Contains(s, "<think>") {
		s = strayClose.ReplaceAllString(s, "")
	}
	return strings.TrimSpace(s)
}
