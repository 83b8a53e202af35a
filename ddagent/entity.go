package ddagent

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/DataDog/dd-trace-go/tracer"
	"go.opentelemetry.io/otel/trace"

	"github.com/gchaincl/apm-go-opentracing/agent"
	"github.com/gchaincl/apm-go-opentracing/internal/traceparent"
)

type entity struct {
	span  *tracer.Span
	ended bool
}

func (e *entity) SetName(name string) {
	e.span.Name = name
	e.span.Resource = name
}

func (e *entity) SetType(spanType string) {
	e.span.Type = spanType
}

// SetLabels stores numeric labels as metrics and everything else as meta.
func (e *entity) SetLabels(labels map[string]interface{}) {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if f, ok := metric(labels[k]); ok {
			e.span.SetMetric(k, f)
			continue
		}
		e.span.SetMeta(k, fmt.Sprint(labels[k]))
	}
}

func (e *entity) Traceparent() string {
	var (
		traceID trace.TraceID
		spanID  trace.SpanID
	)
	if high, err := hex.DecodeString(e.span.GetMeta(traceIDHighKey)); err == nil && len(high) == 8 {
		copy(traceID[:8], high)
	}
	binary.BigEndian.PutUint64(traceID[8:], e.span.TraceID)
	binary.BigEndian.PutUint64(spanID[:], e.span.SpanID)

	return traceparent.Format(traceID, spanID, e.span.Sampled)
}

func (e *entity) end(end time.Time) {
	if e.ended {
		return
	}
	e.ended = true

	if end.IsZero() {
		e.span.Finish()
		return
	}
	e.span.FinishWithTime(end.UnixNano())
}

// Transaction is the root span of a DataDog trace.
type Transaction struct {
	entity
}

var _ agent.Transaction = (*Transaction)(nil)

func (tx *Transaction) SetResult(result string) {
	tx.span.SetMeta(resultKey, result)
	if result == "error" {
		tx.span.Error = 1
	}
}

func (tx *Transaction) SetUser(user agent.User) {
	if user.ID != "" {
		tx.span.SetMeta(userIDKey, user.ID)
	}
	if user.Username != "" {
		tx.span.SetMeta(userNameKey, user.Username)
	}
	if user.Email != "" {
		tx.span.SetMeta(userEmailKey, user.Email)
	}
}

func (tx *Transaction) End(result string, end time.Time) {
	if result != "" && !tx.ended {
		tx.SetResult(result)
	}
	tx.end(end)
}

func (tx *Transaction) Ended() bool { return tx.ended }

// Span is a child span in a transaction's trace.
type Span struct {
	entity
}

var _ agent.Span = (*Span)(nil)

func (s *Span) End(end time.Time) { s.end(end) }

func metric(v interface{}) (float64, bool) {
	switch v := v.(type) {
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}
