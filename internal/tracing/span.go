package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/torosent/cyclebench/internal/variables"
)

// Span attribute keys.
const (
	AttrActivity   = attribute.Key("cyclebench.activity")
	AttrOp         = attribute.Key("cyclebench.op")
	AttrCycle      = attribute.Key("cyclebench.cycle")
	AttrAttempt    = attribute.Key("cyclebench.attempt")
	AttrResultCode = attribute.Key("cyclebench.result_code")
	AttrErrorName  = attribute.Key("cyclebench.error")
)

// StartOpSpan starts the span for one attempt of one cycle.
func StartOpSpan(ctx context.Context, tracer trace.Tracer, activity, op string, cycle int64, attempt int) (context.Context, trace.Span) {
	return tracer.Start(ctx, op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			AttrActivity.String(activity),
			AttrOp.String(op),
			AttrCycle.Int64(cycle),
			AttrAttempt.Int(attempt),
		),
	)
}

// EndSpan finishes a span with the op's result code, recording error
// status if applicable.
func EndSpan(span trace.Span, err error, code int, attrs ...attribute.KeyValue) {
	span.SetAttributes(AttrResultCode.Int(code))
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// variablesCarrier adapts a variables.Store to the OTel TextMapCarrier
// interface.
type variablesCarrier struct {
	store variables.Store
}

func (c variablesCarrier) Get(key string) string {
	v, _ := c.store.Get(key)
	return v
}

func (c variablesCarrier) Set(key, value string) { c.store.Set(key, value) }

func (c variablesCarrier) Keys() []string {
	all := c.store.GetAll()
	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	return keys
}

// InjectVariables writes the W3C trace context of ctx into store, so
// templates can reference {{traceparent}}.
func InjectVariables(ctx context.Context, store variables.Store) {
	if store == nil {
		return
	}
	otel.GetTextMapPropagator().Inject(ctx, variablesCarrier{store})
}
