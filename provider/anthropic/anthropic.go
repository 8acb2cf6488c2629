// Package anthropic implements drover.LLM over the Anthropic Messages API
// using the official SDK.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"github.com/evrane/drover"
)

// Option configures an LLM.
type Option func(*LLM)

// WithTemperature sets the sampling temperature (default 0.7).
func WithTemperature(t float64) Option {
	return func(m *LLM) { m.temperature = t }
}

// WithMaxTokens sets the response token cap (default 8192).
func WithMaxTokens(n int64) Option {
	return func(m *LLM) { m.maxTokens = n }
}

// LLM implements drover.LLM over the Anthropic Messages API.
type LLM struct {
	client      anthropicsdk.Client
	apiKey      string
	model       string
	temperature float64
	maxTokens   int64
}

var _ drover.LLM = (*LLM)(nil)

// New creates an Anthropic-backed LLM for the given model id
// (e.g. "claude-sonnet-4-5").
func New(apiKey, model string, opts ...Option) *LLM {
	m := &LLM{
		client:      anthropicsdk.NewClient(option.WithAPIKey(apiKey)),
		apiKey:      apiKey,
		model:       model,
		temperature: 0.7,
		maxTokens:   8192,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// ID returns the stable "anthropic:<model>" identifier.
func (m *LLM) ID() string { return "anthropic:" + m.model }

// IsConfigured reports whether an API key is present.
func (m *LLM) IsConfigured() bool { return m.apiKey != "" }

// Generate sends a request without tools.
func (m *LLM) Generate(ctx context.Context, req drover.ChatRequest) (drover.ChatResponse, error) {
	return m.call(ctx, req, nil)
}

// GenerateWithTools sends a request with tool definitions.
func (m *LLM) GenerateWithTools(ctx context.Context, req drover.ChatRequest, tools []drover.ToolDefinition) (drover.ChatResponse, error) {
	return m.call(ctx, req, tools)
}

// GenerateJSON sends a request and decodes the model's JSON output into out,
// repairing minor malformations first.
func (m *LLM) GenerateJSON(ctx context.Context, req drover.ChatRequest, out any) (drover.ChatResponse, error) {
	resp, err := m.call(ctx, req, nil)
	if err != nil {
		return resp, err
	}
	if err := drover.DecodeJSON(resp.Content, out); err != nil {
		return resp, fmt.Errorf("anthropic: decode json response: %w", err)
	}
	return resp, nil
}

func (m *LLM) call(ctx context.Context, req drover.ChatRequest, tools []drover.ToolDefinition) (drover.ChatResponse, error) {
	params := anthropicsdk.MessageNewParams{
		Model:       anthropicsdk.Model(m.model),
		Messages:    buildMessages(req.Messages),
		MaxTokens:   m.maxTokens,
		Temperature: anthropicsdk.Float(m.temperature),
	}
	if req.SystemPrompt != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: req.SystemPrompt}}
	}
	if len(tools) > 0 {
		params.Tools = buildTools(tools)
	}

	start := time.Now()
	resp, err := m.client.Messages.New(ctx, params)
	if err != nil {
		return drover.ChatResponse{}, wrapErr(err)
	}

	out := drover.ChatResponse{
		Stats: drover.GenerationStats{
			Model:        m.ID(),
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
			TotalTime:    time.Since(start),
		},
	}
	out.Stats.Cost = costUSD(m.model, out.Stats.InputTokens, out.Stats.OutputTokens)

	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			out.Content += block.AsText().Text
		case "tool_use":
			tb := block.AsToolUse()
			args, _ := json.Marshal(tb.Input)
			out.ToolCalls = append(out.ToolCalls, drover.FunctionCall{
				ID:   tb.ID,
				Name: tb.Name,
				Args: args,
			})
		}
	}
	return out, nil
}

// buildMessages converts the neutral message history into Anthropic message
// params. Tool results ride in user messages per the Messages API contract.
func buildMessages(msgs []drover.ChatMessage) []anthropicsdk.MessageParam {
	var out []anthropicsdk.MessageParam
	for _, msg := range msgs {
		switch msg.Role {
		case "assistant":
			var blocks []anthropicsdk.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropicsdk.NewTextBlock(msg.Content))
			}
			for _, call := range msg.ToolCalls {
				var input any
				if len(call.Args) > 0 {
					if err := json.Unmarshal(call.Args, &input); err != nil {
						input = string(call.Args)
					}
				}
				blocks = append(blocks, anthropicsdk.NewToolUseBlock(call.ID, input, call.Name))
			}
			if len(blocks) > 0 {
				out = append(out, anthropicsdk.NewAssistantMessage(blocks...))
			}
		case "tool":
			out = append(out, anthropicsdk.NewUserMessage(
				anthropicsdk.NewToolResultBlock(msg.ToolCallID, msg.Content, false)))
		default:
			var blocks []anthropicsdk.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropicsdk.NewTextBlock(msg.Content))
			}
			for _, img := range msg.Images {
				blocks = append(blocks, anthropicsdk.NewImageBlockBase64(img.MimeType, img.Base64))
			}
			if len(blocks) > 0 {
				out = append(out, anthropicsdk.NewUserMessage(blocks...))
			}
		}
	}
	return out
}

// buildTools converts neutral tool definitions to Anthropic tool params.
func buildTools(tools []drover.ToolDefinition) []anthropicsdk.ToolUnionParam {
	out := make([]anthropicsdk.ToolUnionParam, len(tools))
	for i, t := range tools {
		schema := anthropicsdk.ToolInputSchemaParam{Type: constant.Object("object")}
		if len(t.Parameters) > 0 {
			var parsed struct {
				Properties any      `json:"properties"`
				Required   []string `json:"required"`
			}
			if err := json.Unmarshal(t.Parameters, &parsed); err == nil {
				schema.Properties = parsed.Properties
				schema.Required = parsed.Required
			}
		}
		out[i] = anthropicsdk.ToolUnionParamOfTool(schema, t.Name)
	}
	return out
}

// wrapErr maps SDK errors to drover error types so the retry decorator can
// classify them.
func wrapErr(err error) error {
	var apiErr *anthropicsdk.Error
	if errors.As(err, &apiErr) {
		httpErr := &drover.ErrHTTP{Status: apiErr.StatusCode, Body: apiErr.Error()}
		if apiErr.Response != nil {
			if ra := apiErr.Response.Header.Get("Retry-After"); ra != "" {
				if secs, perr := strconv.Atoi(ra); perr == nil {
					httpErr.RetryAfter = time.Duration(secs) * time.Second
				}
			}
		}
		return &drover.LLMError{Provider: "anthropic", Err: httpErr}
	}
	return &drover.LLMError{Provider: "anthropic", Err: err}
}

// pricing is USD per million tokens (input, output) by model family prefix.
var pricing = []struct {
	prefix  string
	in, out float64
}{
	{"claude-opus-4", 15, 75},
	{"claude-sonnet-4", 3, 15},
	{"claude-haiku-4", 1, 5},
	{"claude-3-5-haiku", 0.8, 4},
}

// costUSD computes the call cost from token counts. Unknown models cost 0;
// budget governance then depends on the iteration ceiling alone.
func costUSD(model string, inTokens, outTokens int) float64 {
	for _, p := range pricing {
		if strings.HasPrefix(model, p.prefix) {
			return float64(inTokens)*p.in/1e6 + float64(outTokens)*p.out/1e6
		}
	}
	return 0
}
