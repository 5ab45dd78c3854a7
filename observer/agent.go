package observer

import (
	"context"
	"time"

	"github.com/google/uuid"

	bridge "github.com/StarfleetAI/bridge-common"
	"github.com/StarfleetAI/bridge-common/bridge/executor"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oasislog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObserveExecuteRootTask wraps executor.ExecuteRootTask with an
// agent.execute span that serves as the parent for every inner LLM call
// and tool execution reached through ctx. ExecuteRootTask's signature
// doesn't surface which task ran or its token usage, so the span carries
// only tenant and status; per-task detail would need ExecuteRootTask
// itself to return it.
func ObserveExecuteRootTask(ctx context.Context, deps executor.Deps, tenantID uuid.UUID, inst *Instruments) error {
	ctx, span := inst.Tracer.Start(ctx, "agent.execute", trace.WithAttributes(
		attribute.String("tenant.id", tenantID.String()),
	))
	defer span.End()
	start := time.Now()

	span.AddEvent("agent.started")

	err := executor.ExecuteRootTask(ctx, deps, tenantID)

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"

	switch {
	case isNoRootTasks(err):
		status = "idle"
		span.AddEvent("agent.idle")
	case ctx.Err() != nil && err != nil:
		status = "cancelled"
		span.AddEvent("agent.cancelled")
		span.SetStatus(codes.Error, "cancelled")
	case err != nil:
		status = "error"
		span.AddEvent("agent.failed", trace.WithAttributes(attribute.String("error", err.Error())))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	default:
		span.AddEvent("agent.completed")
	}

	span.SetAttributes(AttrAgentStatus.String(status))

	attrs := metric.WithAttributes(attribute.String("status", status))
	inst.AgentExecutions.Add(ctx, 1, attrs)
	inst.AgentDuration.Record(ctx, durationMs, metric.WithAttributes())

	var rec oasislog.Record
	rec.SetSeverity(oasislog.SeverityInfo)
	rec.SetBody(oasislog.StringValue("agent execution completed"))
	rec.AddAttributes(
		oasislog.String("tenant.id", tenantID.String()),
		oasislog.String("agent.status", status),
		oasislog.Float64("duration_ms", durationMs),
	)
	inst.Logger.Emit(ctx, rec)

	return err
}

func isNoRootTasks(err error) bool {
	_, ok := err.(*bridge.ErrNoRootTasks)
	return ok
}
