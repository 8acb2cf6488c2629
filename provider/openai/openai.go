// Package openai implements drover.LLM over the OpenAI Chat Completions API
// using the official SDK. Any OpenAI-compatible endpoint works via
// WithBaseURL.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

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

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(m *LLM) { m.baseURL = url }
}

// LLM implements drover.LLM over the Chat Completions API.
type LLM struct {
	client      openaisdk.Client
	apiKey      string
	model       string
	baseURL     string
	temperature float64
	maxTokens   int64
}

var _ drover.LLM = (*LLM)(nil)

// New creates an OpenAI-backed LLM for the given model id (e.g. "gpt-5").
func New(apiKey, model string, opts ...Option) *LLM {
	m := &LLM{
		apiKey:      apiKey,
		model:       model,
		temperature: 0.7,
		maxTokens:   8192,
	}
	for _, o := range opts {
		o(m)
	}
	clientOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if m.baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(m.baseURL))
	}
	m.client = openaisdk.NewClient(clientOpts...)
	return m
}

// ID returns the stable "openai:<model>" identifier.
func (m *LLM) ID() string { return "openai:" + m.model }

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
		return resp, fmt.Errorf("openai: decode json response: %w", err)
	}
	return resp, nil
}

func (m *LLM) call(ctx context.Context, req drover.ChatRequest, tools []drover.ToolDefinition) (drover.ChatResponse, error) {
	params := openaisdk.ChatCompletionNewParams{
		Model:               m.model,
		Messages:            buildMessages(req),
		Temperature:         openaisdk.Float(m.temperature),
		MaxCompletionTokens: openaisdk.Int(m.maxTokens),
	}
	if len(tools) > 0 {
		params.Tools = buildTools(tools)
	}

	start := time.Now()
	resp, err := m.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return drover.ChatResponse{}, wrapErr(err)
	}
	if len(resp.Choices) == 0 {
		return drover.ChatResponse{}, &drover.LLMError{Provider: "openai", Err: errors.New("empty choices in response")}
	}

	msg := resp.Choices[0].Message
	out := drover.ChatResponse{
		Content: msg.Content,
		Stats: drover.GenerationStats{
			Model:        m.ID(),
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
			TotalTime:    time.Since(start),
		},
	}
	out.Stats.Cost = costUSD(m.model, out.Stats.InputTokens, out.Stats.OutputTokens)

	for _, call := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, drover.FunctionCall{
			ID:   call.ID,
			Name: call.Function.Name,
			Args: json.RawMessage(call.Function.Arguments),
		})
	}
	return out, nil
}

func buildMessages(req drover.ChatRequest) []openaisdk.ChatCompletionMessageParamUnion {
	var out []openaisdk.ChatCompletionMessageParamUnion
	if req.SystemPrompt != "" {
		out = append(out, openaisdk.SystemMessage(req.SystemPrompt))
	}
	for _, msg := range req.Messages {
		switch msg.Role {
		case "system":
			out = append(out, openaisdk.SystemMessage(msg.Content))
		case "assistant":
			if len(msg.ToolCalls) > 0 {
				assistant := openaisdk.ChatCompletionAssistantMessageParam{}
				if msg.Content != "" {
					assistant.Content.OfString = openaisdk.String(msg.Content)
				}
				for _, call := range msg.ToolCalls {
					assistant.ToolCalls = append(assistant.ToolCalls, openaisdk.ChatCompletionMessageToolCallParam{
						ID: call.ID,
						Function: openaisdk.ChatCompletionMessageToolCallFunctionParam{
							Name:      call.Name,
							Arguments: string(call.Args),
						},
					})
				}
				out = append(out, openaisdk.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
			} else {
				out = append(out, openaisdk.AssistantMessage(msg.Content))
			}
		case "tool":
			out = append(out, openaisdk.ToolMessage(msg.Content, msg.ToolCallID))
		default:
			out = append(out, openaisdk.UserMessage(msg.Content))
		}
	}
	return out
}

func buildTools(tools []drover.ToolDefinition) []openaisdk.ChatCompletionToolParam {
	out := make([]openaisdk.ChatCompletionToolParam, len(tools))
	for i, t := range tools {
		var params openaisdk.FunctionParameters
		if len(t.Parameters) > 0 {
			_ = json.Unmarshal(t.Parameters, &params)
		}
		out[i] = openaisdk.ChatCompletionToolParam{
			Function: openaisdk.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openaisdk.String(t.Description),
				Parameters:  params,
			},
		}
	}
	return out
}

// wrapErr maps SDK errors to drover error types so the retry decorator can
// classify them.
func wrapErr(err error) error {
	var apiErr *openaisdk.Error
	if errors.As(err, &apiErr) {
		httpErr := &drover.ErrHTTP{Status: apiErr.StatusCode, Body: apiErr.Error()}
		if apiErr.Response != nil {
			if ra := apiErr.Response.Header.Get("Retry-After"); ra != "" {
				if secs, perr := strconv.Atoi(ra); perr == nil {
					httpErr.RetryAfter = time.Duration(secs) * time.Second
				}
			}
		}
		return &drover.LLMError{Provider: "openai", Err: httpErr}
	}
	return &drover.LLMError{Provider: "openai", Err: err}
}

// pricing is USD per million tokens (input, output) by model family prefix.
// Longer prefixes are listed first so "gpt-5-mini" does not match "gpt-5".
var pricing = []struct {
	prefix  string
	in, out float64
}{
	{"gpt-5-nano", 0.05, 0.4},
	{"gpt-5-mini", 0.25, 2},
	{"gpt-5", 1.25, 10},
	{"gpt-4o-mini", 0.15, 0.6},
	{"gpt-4o", 2.5, 10},
	{"o3", 2, 8},
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
