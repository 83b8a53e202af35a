package otelagent

import (
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/gchaincl/apm-go-opentracing/agent"
	"github.com/gchaincl/apm-go-opentracing/internal/traceparent"
)

type entity struct {
	span  trace.Span
	ended bool
}

func (e *entity) SetName(name string) {
	e.span.SetName(name)
}

func (e *entity) SetType(spanType string) {
	e.span.SetAttributes(typeKey.String(spanType))
}

func (e *entity) SetLabels(labels map[string]interface{}) {
	e.span.SetAttributes(attrs(labels)...)
}

func (e *entity) Traceparent() string {
	sc := e.span.SpanContext()
	return traceparent.Format(sc.TraceID(), sc.SpanID(), sc.IsSampled())
}

func (e *entity) end(end time.Time) {
	if e.ended {
		return
	}
	e.ended = true

	if end.IsZero() {
		e.span.End()
		return
	}
	e.span.End(trace.WithTimestamp(end))
}

// Transaction is a server span.
type Transaction struct {
	entity
}

var _ agent.Transaction = (*Transaction)(nil)

func (tx *Transaction) SetResult(result string) {
	tx.span.SetAttributes(resultKey.String(result))
	if result == "error" {
		tx.span.SetStatus(codes.Error, "")
	}
}

func (tx *Transaction) SetUser(user agent.User) {
	var kvs []attribute.KeyValue
	if user.ID != "" {
		kvs = append(kvs, userIDKey.String(user.ID))
	}
	if user.Username != "" {
		kvs = append(kvs, userNameKey.String(user.Username))
	}
	if user.Email != "" {
		kvs = append(kvs, userEmailKey.String(user.Email))
	}
	tx.span.SetAttributes(kvs...)
}

func (tx *Transaction) End(result string, end time.Time) {
	if result != "" && !tx.ended {
		tx.SetResult(result)
	}
	tx.end(end)
}

func (tx *Transaction) Ended() bool { return tx.ended }

// Span is an internal span.
type Span struct {
	entity
}

var _ agent.Span = (*Span)(nil)

func (s *Span) End(end time.Time) { s.end(end) }

// attrs converts labels to attributes, in key order.
func attrs(labels map[string]interface{}) []attribute.KeyValue {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]attribute.KeyValue, 0, len(keys))
	for _, k := range keys {
		out = append(out, attr(k, labels[k]))
	}
	return out
}

func attr(k string, v interface{}) attribute.KeyValue {
	switch v := v.(type) {
	case string:
		return attribute.String(k, v)
	case bool:
		return attribute.Bool(k, v)
	case int:
		return attribute.Int(k, v)
	case int8:
		return attribute.Int64(k, int64(v))
	case int16:
		return attribute.Int64(k, int64(v))
	case int32:
		return attribute.Int64(k, int64(v))
	case int64:
		return attribute.Int64(k, v)
	case uint8:
		return attribute.Int64(k, int64(v))
	case uint16:
		return attribute.Int64(k, int64(v))
	case uint32:
		return attribute.Int64(k, int64(v))
	case float32:
		return attribute.Float64(k, float64(v))
	case float64:
		return attribute.Float64(k, v)
	case fmt.Stringer:
		return attribute.Stringer(k, v)
	}
	return attribute.String(k, fmt.Sprint(v))
}
