package observer

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/evrane/drover"
)

// ObservedLLM wraps a drover.LLM with OTEL instrumentation.
type ObservedLLM struct {
	inner drover.LLM
	inst  *Instruments
}

// WrapLLM returns an instrumented LLM that emits traces, metrics, and logs.
func WrapLLM(inner drover.LLM, inst *Instruments) *ObservedLLM {
	return &ObservedLLM{inner: inner, inst: inst}
}

var _ drover.LLM = (*ObservedLLM)(nil)

func (o *ObservedLLM) ID() string         { return o.inner.ID() }
func (o *ObservedLLM) IsConfigured() bool { return o.inner.IsConfigured() }

func (o *ObservedLLM) Generate(ctx context.Context, req drover.ChatRequest) (drover.ChatResponse, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "llm.generate", trace.WithAttributes(
		AttrLLMModel.String(o.inner.ID()),
	))
	defer span.End()
	start := time.Now()

	resp, err := o.inner.Generate(ctx, req)
	o.record(ctx, span, "generate", start, resp.Stats, err)
	return resp, err
}

func (o *ObservedLLM) GenerateWithTools(ctx context.Context, req drover.ChatRequest, tools []drover.ToolDefinition) (drover.ChatResponse, error) {
	toolNames := make([]string, len(tools))
	for i, t := range tools {
		toolNames[i] = t.Name
	}
	ctx, span := o.inst.Tracer.Start(ctx, "llm.generate_with_tools", trace.WithAttributes(
		AttrLLMModel.String(o.inner.ID()),
		AttrToolCount.Int(len(tools)),
		AttrToolNames.StringSlice(toolNames),
	))
	defer span.End()
	start := time.Now()

	resp, err := o.inner.GenerateWithTools(ctx, req, tools)
	o.record(ctx, span, "generate_with_tools", start, resp.Stats, err)
	return resp, err
}

func (o *ObservedLLM) GenerateJSON(ctx context.Context, req drover.ChatRequest, out any) (drover.ChatResponse, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "llm.generate_json", trace.WithAttributes(
		AttrLLMModel.String(o.inner.ID()),
	))
	defer span.End()
	start := time.Now()

	resp, err := o.inner.GenerateJSON(ctx, req, out)
	o.record(ctx, span, "generate_json", start, resp.Stats, err)
	return resp, err
}

func (o *ObservedLLM) record(ctx context.Context, span trace.Span, method string, start time.Time, stats drover.GenerationStats, err error) {
	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	// Providers report their own cost; fall back to the pricing table for
	// implementations that do not.
	cost := stats.Cost
	if cost == 0 {
		cost = o.inst.Cost.Calculate(bareModel(o.inner.ID()), stats.InputTokens, stats.OutputTokens)
	}

	attrs := metric.WithAttributes(
		AttrLLMModel.String(o.inner.ID()),
		AttrLLMMethod.String(method),
	)

	span.SetAttributes(
		AttrTokensInput.Int(stats.InputTokens),
		AttrTokensOutput.Int(stats.OutputTokens),
		AttrCostUSD.Float64(cost),
	)

	o.inst.TokenUsage.Add(ctx, int64(stats.InputTokens), metric.WithAttributes(
		AttrLLMModel.String(o.inner.ID()),
		attribute.String("direction", "input"),
	))
	o.inst.TokenUsage.Add(ctx, int64(stats.OutputTokens), metric.WithAttributes(
		AttrLLMModel.String(o.inner.ID()),
		attribute.String("direction", "output"),
	))
	o.inst.CostTotal.Add(ctx, cost, attrs)
	o.inst.LLMRequests.Add(ctx, 1, metric.WithAttributes(
		AttrLLMModel.String(o.inner.ID()),
		AttrLLMMethod.String(method),
		attribute.String("status", status),
	))
	o.inst.LLMDuration.Record(ctx, durationMs, attrs)

	// Structured log
	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue("llm call completed"))
	rec.AddAttributes(
		otellog.String("llm.model", o.inner.ID()),
		otellog.String("llm.method", method),
		otellog.Int("llm.tokens.input", stats.InputTokens),
		otellog.Int("llm.tokens.output", stats.OutputTokens),
		otellog.Float64("llm.cost_usd", cost),
		otellog.Float64("llm.duration_ms", durationMs),
		otellog.String("status", status),
	)
	o.inst.Logger.Emit(ctx, rec)
}

// bareModel strips the "provider:" prefix from a model id for pricing lookup.
func bareModel(id string) string {
	if _, model, ok := strings.Cut(id, ":"); ok {
		return model
	}
	return id
}
