package observer

import (
	"context"
	"time"

	bridge "github.com/StarfleetAI/bridge-common"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oasislog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// LLMClient is the narrow surface ObservedLLMClient instruments. It covers
// both the request/response shape (planner, webbrowse) and the streaming
// shape (chat) so one wrapper serves every caller; *internal/llm.Client
// satisfies it as-is.
type LLMClient interface {
	Complete(ctx context.Context, req bridge.ChatRequest) (bridge.ChatResponse, error)
	StreamComplete(ctx context.Context, req bridge.ChatRequest) (<-chan []byte, <-chan error, error)
}

// ObservedLLMClient wraps an LLMClient with OTEL instrumentation.
type ObservedLLMClient struct {
	inner    LLMClient
	inst     *Instruments
	model    string
	provider string
}

// WrapLLMClient returns an instrumented client that emits traces, metrics,
// and logs for every completion.
func WrapLLMClient(inner LLMClient, model, provider string, inst *Instruments) *ObservedLLMClient {
	return &ObservedLLMClient{inner: inner, inst: inst, model: model, provider: provider}
}

func (o *ObservedLLMClient) Complete(ctx context.Context, req bridge.ChatRequest) (bridge.ChatResponse, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "llm.complete", trace.WithAttributes(
		AttrLLMModel.String(o.model),
		AttrLLMProvider.String(o.provider),
	))
	defer span.End()
	start := time.Now()

	resp, err := o.inner.Complete(ctx, req)

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	o.record(ctx, span, "complete", status, durationMs, resp.Usage)
	return resp, err
}

// StreamComplete instruments the streaming path. The returned chunks are
// raw, unparsed SSE bytes, so token counts and cost can't be attributed
// here; frame reassembly happens downstream in bridge/chat. Only duration,
// status, and chunk count are recorded.
func (o *ObservedLLMClient) StreamComplete(ctx context.Context, req bridge.ChatRequest) (<-chan []byte, <-chan error, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "llm.stream_complete", trace.WithAttributes(
		AttrLLMModel.String(o.model),
		AttrLLMProvider.String(o.provider),
	))

	chunks, errs, err := o.inner.StreamComplete(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		return chunks, errs, err
	}

	start := time.Now()
	outChunks := make(chan []byte)
	outErrs := make(chan error, 1)

	go func() {
		defer span.End()
		defer close(outChunks)
		defer close(outErrs)

		count := 0
		var streamErr error
		for chunks != nil || errs != nil {
			select {
			case c, ok := <-chunks:
				if !ok {
					chunks = nil
					continue
				}
				count++
				outChunks <- c
			case e, ok := <-errs:
				if !ok {
					errs = nil
					continue
				}
				streamErr = e
				outErrs <- e
			}
		}

		durationMs := float64(time.Since(start).Milliseconds())
		status := "ok"
		if streamErr != nil {
			status = "error"
			span.RecordError(streamErr)
			span.SetStatus(codes.Error, streamErr.Error())
		}
		span.SetAttributes(AttrStreamChunks.Int(count))

		attrs := metric.WithAttributes(AttrLLMModel.String(o.model), AttrLLMProvider.String(o.provider), AttrLLMMethod.String("stream_complete"))
		o.inst.LLMRequests.Add(ctx, 1, attrs)
		o.inst.LLMDuration.Record(ctx, durationMs, attrs)

		var rec oasislog.Record
		rec.SetSeverity(oasislog.SeverityInfo)
		rec.SetBody(oasislog.StringValue("llm stream completed"))
		rec.AddAttributes(
			oasislog.String("llm.model", o.model),
			oasislog.String("llm.method", "stream_complete"),
			oasislog.String("status", status),
			oasislog.Int("llm.stream_chunks", count),
			oasislog.Float64("llm.duration_ms", durationMs),
		)
		o.inst.Logger.Emit(ctx, rec)
	}()

	return outChunks, outErrs, nil
}

func (o *ObservedLLMClient) record(ctx context.Context, span trace.Span, method, status string, durationMs float64, usage bridge.Usage) {
	cost := o.inst.Cost.Calculate(o.model, usage.InputTokens, usage.OutputTokens)

	attrs := metric.WithAttributes(
		AttrLLMModel.String(o.model),
		AttrLLMProvider.String(o.provider),
		AttrLLMMethod.String(method),
	)

	span.SetAttributes(
		AttrTokensInput.Int(usage.InputTokens),
		AttrTokensOutput.Int(usage.OutputTokens),
		AttrCostUSD.Float64(cost),
	)

	o.inst.TokenUsage.Add(ctx, int64(usage.InputTokens), metric.WithAttributes(
		AttrLLMModel.String(o.model),
		AttrLLMProvider.String(o.provider),
		attribute.String("direction", "input"),
	))
	o.inst.TokenUsage.Add(ctx, int64(usage.OutputTokens), metric.WithAttributes(
		AttrLLMModel.String(o.model),
		AttrLLMProvider.String(o.provider),
		attribute.String("direction", "output"),
	))
	o.inst.CostTotal.Add(ctx, cost, attrs)
	o.inst.LLMRequests.Add(ctx, 1, metric.WithAttributes(
		AttrLLMModel.String(o.model),
		AttrLLMProvider.String(o.provider),
		AttrLLMMethod.String(method),
		attribute.String("status", status),
	))
	o.inst.LLMDuration.Record(ctx, durationMs, attrs)

	var rec oasislog.Record
	rec.SetSeverity(oasislog.SeverityInfo)
	rec.SetBody(oasislog.StringValue("llm call completed"))
	rec.AddAttributes(
		oasislog.String("llm.model", o.model),
		oasislog.String("llm.provider", o.provider),
		oasislog.String("llm.method", method),
		oasislog.Int("llm.tokens.input", usage.InputTokens),
		oasislog.Int("llm.tokens.output", usage.OutputTokens),
		oasislog.Float64("llm.cost_usd", cost),
		oasislog.Float64("llm.duration_ms", durationMs),
		oasislog.String("status", status),
	)
	o.inst.Logger.Emit(ctx, rec)
}
