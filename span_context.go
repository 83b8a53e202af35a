package apmtracer

import (
	opentracing "github.com/opentracing/opentracing-go"

	"github.com/gchaincl/apm-go-opentracing/agent"
)

// SpanContext is the propagation form of a span: either a traceparent string
// extracted from a carrier, or a live agent entity.
type SpanContext struct {
	raw    string
	entity agent.Entity
}

var _ opentracing.SpanContext = (*SpanContext)(nil)

func newStringContext(s string) *SpanContext {
	return &SpanContext{raw: s}
}

func newEntityContext(e agent.Entity) *SpanContext {
	return &SpanContext{entity: e}
}

// String returns the traceparent string, or "" for the context of a
// placeholder span started outside any transaction.
func (ctx *SpanContext) String() string {
	if ctx.entity != nil {
		return ctx.entity.Traceparent()
	}
	return ctx.raw
}

// ForeachBaggageItem does nothing: baggage is not propagated.
func (ctx *SpanContext) ForeachBaggageItem(handler func(k, v string) bool) {}
