package observer

import (
	"context"
	"time"

	"github.com/google/uuid"

	bridge "github.com/StarfleetAI/bridge-common"
	"github.com/StarfleetAI/bridge-common/bridge/tooldispatch"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oasislog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObserveCallTools wraps tooldispatch.CallTools with a tooldispatch.call_tools span
// covering every tool call in the message. CallTools dispatches the whole
// batch internally rather than exposing a per-call hook, so tool names and
// count come from message.ToolCalls and duration covers the batch, not
// each call individually.
func ObserveCallTools(ctx context.Context, deps tooldispatch.Deps, tenantID, userID uuid.UUID, message *bridge.Message, task *bridge.Task, inst *Instruments) (*bridge.TaskStatus, error) {
	names := make([]string, len(message.ToolCalls))
	for i, tc := range message.ToolCalls {
		names[i] = tc.Function.Name
	}

	ctx, span := inst.Tracer.Start(ctx, "tooldispatch.call_tools", trace.WithAttributes(
		AttrToolCount.Int(len(message.ToolCalls)),
		AttrToolNames.StringSlice(names),
	))
	defer span.End()
	start := time.Now()

	newStatus, err := tooldispatch.CallTools(ctx, deps, tenantID, userID, message, task)

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(AttrToolStatus.String(status))

	for _, name := range names {
		o := metric.WithAttributes(AttrToolName.String(name), attribute.String("status", status))
		inst.ToolExecutions.Add(ctx, 1, o)
		inst.ToolDuration.Record(ctx, durationMs, metric.WithAttributes(AttrToolName.String(name)))
	}

	var rec oasislog.Record
	rec.SetSeverity(oasislog.SeverityInfo)
	rec.SetBody(oasislog.StringValue("tool calls dispatched"))
	rec.AddAttributes(
		oasislog.String("tool.names", fmtNames(names)),
		oasislog.String("tool.status", status),
		oasislog.Float64("tool.duration_ms", durationMs),
	)
	inst.Logger.Emit(ctx, rec)

	return newStatus, err
}

func fmtNames(names []string) string {
	out := ""
	for i, n := range names {
		if i > 0 {
			out += ","
		}
		out += n
	}
	return out
}
