package observer

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"

	"github.com/evrane/drover"
)

// NewEventRecorder returns a drover.EventFunc that turns loop lifecycle
// events into metrics and logs. Wire it via drover.WithEvents.
//
// Event delivery is synchronous on the loop goroutine, so only counter
// increments and async log emission happen here.
func NewEventRecorder(inst *Instruments) drover.EventFunc {
	ctx := context.Background()
	return func(e drover.Event) {
		switch e.Type {
		case drover.EventIteration:
			inst.Iterations.Add(ctx, 1, metric.WithAttributes(
				AttrAgentID.String(e.AgentID),
			))
		case drover.EventPause:
			inst.Pauses.Add(ctx, 1, metric.WithAttributes(
				AttrAgentID.String(e.AgentID),
				AttrAgentState.String(string(e.State)),
			))
		case drover.EventCompleted:
			inst.AgentRuns.Add(ctx, 1, metric.WithAttributes(
				AttrAgentID.String(e.AgentID),
				attribute.String("status", "completed"),
			))
			emitRunLog(ctx, inst, e, otellog.SeverityInfo, "agent run completed")
		case drover.EventError:
			inst.AgentRuns.Add(ctx, 1, metric.WithAttributes(
				AttrAgentID.String(e.AgentID),
				attribute.String("status", "error"),
			))
			emitRunLog(ctx, inst, e, otellog.SeverityError, "agent run failed")
		}
	}
}

func emitRunLog(ctx context.Context, inst *Instruments, e drover.Event, sev otellog.Severity, body string) {
	var rec otellog.Record
	rec.SetSeverity(sev)
	rec.SetBody(otellog.StringValue(body))
	rec.AddAttributes(
		otellog.String("agent.id", e.AgentID),
		otellog.Int("agent.iteration", e.Iteration),
		otellog.String("agent.state", string(e.State)),
	)
	if e.Err != "" {
		rec.AddAttributes(otellog.String("error", e.Err))
	}
	inst.Logger.Emit(ctx, rec)
}
