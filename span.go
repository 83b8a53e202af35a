package apmtracer

import (
	"fmt"
	"time"

	opentracing "github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/log"

	"github.com/gchaincl/apm-go-opentracing/agent"
)

type spanKind int

const (
	kindTransaction spanKind = iota
	kindSpan
	kindPlaceholder
)

// Span implements opentracing.Span. It wraps either an agent transaction, an
// agent span, or nothing when the agent declined to record it; in that last
// case every operation is a no-op and the context is the one of the
// transaction that was current when the span was started.
type Span struct {
	tracer *Tracer
	kind   spanKind

	tx   agent.Transaction // kindTransaction, and kindPlaceholder (may be nil)
	span agent.Span        // kindSpan

	ctx *SpanContext
}

var _ opentracing.Span = (*Span)(nil)

func newTransactionSpan(t *Tracer, tx agent.Transaction) *Span {
	return &Span{tracer: t, kind: kindTransaction, tx: tx}
}

func newNestedSpan(t *Tracer, s agent.Span) *Span {
	return &Span{tracer: t, kind: kindSpan, span: s}
}

func newPlaceholderSpan(t *Tracer, tx agent.Transaction) *Span {
	return &Span{tracer: t, kind: kindPlaceholder, tx: tx}
}

// IsTransaction reports whether the span is backed by an agent transaction.
func (s *Span) IsTransaction() bool { return s.kind == kindTransaction }

// IsPlaceholder reports whether the agent declined to record the span.
func (s *Span) IsPlaceholder() bool { return s.kind == kindPlaceholder }

func (s *Span) entity() agent.Entity {
	switch s.kind {
	case kindTransaction:
		return s.tx
	case kindSpan:
		return s.span
	}
	return nil
}

func (s *Span) Finish() {
	s.FinishWithOptions(opentracing.FinishOptions{})
}

func (s *Span) FinishWithOptions(opts opentracing.FinishOptions) {
	for _, lr := range opts.LogRecords {
		s.logFields(lr.Timestamp, lr.Fields)
	}
	for _, ld := range opts.BulkLogData {
		s.Log(ld)
	}

	switch s.kind {
	case kindTransaction:
		s.tx.End("", opts.FinishTime)
	case kindSpan:
		s.span.End(opts.FinishTime)
	}
}

func (s *Span) Context() opentracing.SpanContext {
	if s.ctx == nil {
		if e := s.entity(); e != nil {
			s.ctx = newEntityContext(e)
		} else if s.tx != nil {
			s.ctx = newEntityContext(s.tx)
		} else {
			s.ctx = newStringContext("")
		}
	}
	return s.ctx
}

func (s *Span) SetOperationName(operationName string) opentracing.Span {
	if e := s.entity(); e != nil {
		e.SetName(operationName)
	}
	return s
}

func (s *Span) SetTag(key string, value interface{}) opentracing.Span {
	s.applyTags(tagSet{{Key: key, Value: value}})
	return s
}

// AddTags applies tags as if set one by one in key order. tags is not
// modified.
func (s *Span) AddTags(tags opentracing.Tags) opentracing.Span {
	s.applyTags(tagSetFromMap(tags))
	return s
}

// AddTagList applies tags in the given order: when two keys sanitize to the
// same label, the last one wins. tags is not modified.
func (s *Span) AddTagList(tags ...opentracing.Tag) opentracing.Span {
	s.applyTags(append(tagSet(nil), tags...))
	return s
}

// LogFields reports errors to the agent. Only fields logged with
// log.Event("error") and either log.Error or log.Message are used; anything
// else is dropped.
func (s *Span) LogFields(fields ...log.Field) {
	s.logFields(time.Time{}, fields)
}

func (s *Span) LogKV(alternatingKeyValues ...interface{}) {
	fields, err := log.InterleavedKVToFields(alternatingKeyValues...)
	if err != nil {
		return
	}
	s.LogFields(fields...)
}

func (s *Span) logFields(ts time.Time, fields []log.Field) {
	if s.kind == kindPlaceholder || len(fields) == 0 {
		return
	}

	kv := make(map[string]interface{}, len(fields))
	for _, f := range fields {
		kv[f.Key()] = f.Value()
	}

	if event, _ := kv[logEvent].(string); event != "error" {
		return
	}

	message, hasMessage := kv[logMessage]
	if obj := kv[logErrorObject]; truthy(obj) {
		opts := agent.CaptureOptions{Timestamp: ts}
		if hasMessage && message != nil {
			opts.Message = fmt.Sprint(message)
		}
		s.tracer.agent.CaptureError(obj, opts)
	} else if hasMessage && truthy(message) {
		s.tracer.agent.CaptureError(fmt.Sprint(message), agent.CaptureOptions{Timestamp: ts})
	}
}

func (s *Span) SetBaggageItem(restrictedKey string, value string) opentracing.Span {
	s.tracer.diagnose(DiagBaggageUnsupported, "dropping baggage item %q", restrictedKey)
	return s
}

func (s *Span) BaggageItem(restrictedKey string) string {
	return ""
}

func (s *Span) Tracer() opentracing.Tracer {
	return s.tracer
}

func (s *Span) LogEvent(event string) {
	s.Log(opentracing.LogData{Event: event})
}

func (s *Span) LogEventWithPayload(event string, payload interface{}) {
	s.Log(opentracing.LogData{Event: event, Payload: payload})
}

// Log maps the deprecated LogData onto LogFields: an error payload is logged
// as the error object, a string payload as the message.
func (s *Span) Log(data opentracing.LogData) {
	fields := []log.Field{log.String(logEvent, data.Event)}
	switch p := data.Payload.(type) {
	case error:
		fields = append(fields, log.Error(p))
	case string:
		fields = append(fields, log.Message(p))
	}
	s.logFields(data.Timestamp, fields)
}
