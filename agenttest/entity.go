package agenttest

import (
	"time"

	"github.com/zoobzio/clockz"
	"go.opentelemetry.io/otel/trace"

	"github.com/gchaincl/apm-go-opentracing/agent"
	"github.com/gchaincl/apm-go-opentracing/internal/traceparent"
)

// Transaction is a recorded root unit of work. Fields are exported for
// assertions and must not be modified by callers.
type Transaction struct {
	Name   string
	Type   string
	Result string
	User   *agent.User
	// Labels is nil until labels are set.
	Labels map[string]interface{}

	TraceID  string
	ID       string
	ParentID string // empty for transactions without a parent
	Sampled  bool

	Timestamp time.Time
	Duration  time.Duration

	clock clockz.Clock
	ended bool
}

var _ agent.Transaction = (*Transaction)(nil)

func (tx *Transaction) SetName(name string)     { tx.Name = name }
func (tx *Transaction) SetType(spanType string) { tx.Type = spanType }
func (tx *Transaction) SetResult(result string) { tx.Result = result }

func (tx *Transaction) SetUser(user agent.User) {
	tx.User = &user
}

func (tx *Transaction) SetLabels(labels map[string]interface{}) {
	tx.Labels = mergeLabels(tx.Labels, labels)
}

func (tx *Transaction) Traceparent() string {
	return format(tx.TraceID, tx.ID, tx.Sampled)
}

// End is a no-op on an ended transaction.
func (tx *Transaction) End(result string, end time.Time) {
	if tx.ended {
		return
	}
	if result != "" {
		tx.Result = result
	}
	tx.Duration = duration(tx.clock, tx.Timestamp, end)
	tx.ended = true
}

func (tx *Transaction) Ended() bool { return tx.ended }

// Span is a recorded nested unit of work.
type Span struct {
	Name   string
	Type   string
	Labels map[string]interface{}

	TraceID  string
	ID       string
	ParentID string
	Sampled  bool

	Timestamp time.Time
	Duration  time.Duration

	// Transaction is the transaction the span was started in.
	Transaction *Transaction

	clock clockz.Clock
	ended bool
}

var _ agent.Span = (*Span)(nil)

func (s *Span) SetName(name string)     { s.Name = name }
func (s *Span) SetType(spanType string) { s.Type = spanType }

func (s *Span) SetLabels(labels map[string]interface{}) {
	s.Labels = mergeLabels(s.Labels, labels)
}

func (s *Span) Traceparent() string {
	return format(s.TraceID, s.ID, s.Sampled)
}

// End is a no-op on an ended span.
func (s *Span) End(end time.Time) {
	if s.ended {
		return
	}
	s.Duration = duration(s.clock, s.Timestamp, end)
	s.ended = true
}

func (s *Span) Ended() bool { return s.ended }

func mergeLabels(dst, src map[string]interface{}) map[string]interface{} {
	if dst == nil {
		dst = make(map[string]interface{}, len(src))
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func duration(clock clockz.Clock, start, end time.Time) time.Duration {
	if end.IsZero() {
		end = clock.Now()
	}
	return end.Sub(start)
}

func format(traceID, id string, sampled bool) string {
	// ids are generated or parsed by this package and always decode.
	tid, _ := trace.TraceIDFromHex(traceID)
	sid, _ := trace.SpanIDFromHex(id)
	return traceparent.Format(tid, sid, sampled)
}
