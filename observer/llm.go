package observer

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"

	"github.com/mirvand/strata"
)

// ObservedLLM wraps a strata.LLM with OTEL instrumentation.
type ObservedLLM struct {
	inner    strata.LLM
	inst     *Instruments
	provider string
	model    string
}

var _ strata.LLM = (*ObservedLLM)(nil)

// WrapLLM returns an instrumented LLM gateway that emits traces, metrics,
// and logs for every Invoke call.
func WrapLLM(inner strata.LLM, provider, model string, inst *Instruments) *ObservedLLM {
	return &ObservedLLM{inner: inner, inst: inst, provider: provider, model: model}
}

func (o *ObservedLLM) Invoke(ctx context.Context, messages []strata.ChatMessage) (strata.ChatResponse, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "llm.invoke")
	defer span.End()
	span.SetAttributes(
		AttrLLMModel.String(o.model),
		AttrLLMProvider.String(o.provider),
	)
	start := time.Now()

	resp, err := o.inner.Invoke(ctx, messages)

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	cost := o.inst.Cost.Calculate(o.model, resp.Usage.InputTokens, resp.Usage.OutputTokens)
	span.SetAttributes(
		AttrTokensInput.Int(resp.Usage.InputTokens),
		AttrTokensOutput.Int(resp.Usage.OutputTokens),
		AttrCostUSD.Float64(cost),
	)

	attrs := metric.WithAttributes(
		AttrLLMModel.String(o.model),
		AttrLLMProvider.String(o.provider),
		AttrLLMMethod.String("invoke"),
	)

	o.inst.TokenUsage.Add(ctx, int64(resp.Usage.InputTokens), metric.WithAttributes(
		AttrLLMModel.String(o.model),
		AttrLLMProvider.String(o.provider),
		attribute.String("direction", "input"),
	))
	o.inst.TokenUsage.Add(ctx, int64(resp.Usage.OutputTokens), metric.WithAttributes(
		AttrLLMModel.String(o.model),
		AttrLLMProvider.String(o.provider),
		attribute.String("direction", "output"),
	))
	o.inst.CostTotal.Add(ctx, cost, attrs)
	o.inst.LLMRequests.Add(ctx, 1, metric.WithAttributes(
		AttrLLMModel.String(o.model),
		AttrLLMProvider.String(o.provider),
		AttrLLMMethod.String("invoke"),
		attribute.String("status", status),
	))
	o.inst.LLMDuration.Record(ctx, durationMs, attrs)

	// Structured log
	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue("llm call completed"))
	rec.AddAttributes(
		otellog.String("llm.model", o.model),
		otellog.String("llm.provider", o.provider),
		otellog.Int("llm.tokens.input", resp.Usage.InputTokens),
		otellog.Int("llm.tokens.output", resp.Usage.OutputTokens),
		otellog.Float64("llm.cost_usd", cost),
		otellog.Float64("llm.duration_ms", durationMs),
		otellog.String("status", status),
	)
	o.inst.Logger.Emit(ctx, rec)

	return resp, err
}
