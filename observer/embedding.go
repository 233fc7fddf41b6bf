package observer

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/mirvand/strata"
)

// ObservedEmbedder wraps a strata.Embedder with OTEL instrumentation.
type ObservedEmbedder struct {
	inner    strata.Embedder
	inst     *Instruments
	provider string
	model    string
}

var _ strata.Embedder = (*ObservedEmbedder)(nil)

// WrapEmbedder returns an instrumented embedding gateway.
func WrapEmbedder(inner strata.Embedder, provider, model string, inst *Instruments) *ObservedEmbedder {
	return &ObservedEmbedder{inner: inner, inst: inst, provider: provider, model: model}
}

func (o *ObservedEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "llm.embed", trace.WithAttributes(
		AttrLLMModel.String(o.model),
		AttrLLMProvider.String(o.provider),
		AttrEmbedTextCount.Int(len(texts)),
	))
	defer span.End()
	start := time.Now()

	vecs, err := o.inner.EmbedDocuments(ctx, texts)
	o.record(ctx, span, len(texts), time.Since(start), err)
	return vecs, err
}

func (o *ObservedEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "llm.embed_query", trace.WithAttributes(
		AttrLLMModel.String(o.model),
		AttrLLMProvider.String(o.provider),
		AttrEmbedTextCount.Int(1),
	))
	defer span.End()
	start := time.Now()

	vec, err := o.inner.EmbedQuery(ctx, text)
	o.record(ctx, span, 1, time.Since(start), err)
	return vec, err
}

func (o *ObservedEmbedder) record(ctx context.Context, span trace.Span, textCount int, elapsed time.Duration, err error) {
	durationMs := float64(elapsed.Milliseconds())
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	o.inst.EmbedRequests.Add(ctx, 1, metric.WithAttributes(
		AttrLLMModel.String(o.model),
		AttrLLMProvider.String(o.provider),
		attribute.String("status", status),
	))
	o.inst.EmbedDuration.Record(ctx, durationMs, metric.WithAttributes(
		AttrLLMModel.String(o.model),
		AttrLLMProvider.String(o.provider),
	))

	// Structured log
	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue("embedding completed"))
	rec.AddAttributes(
		otellog.String("llm.model", o.model),
		otellog.String("llm.provider", o.provider),
		otellog.Int("llm.embed.text_count", textCount),
		otellog.Float64("llm.duration_ms", durationMs),
		otellog.String("status", status),
	)
	o.inst.Logger.Emit(ctx, rec)
}
