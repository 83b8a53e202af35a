// Package ddagent provides an agent.Agent reporting to a DataDog trace agent.
//
// DataDog trace ids are 64 bits wide. The high half of a 128 bit W3C trace id
// is kept in the "_dd.p.tid" meta of every span of the trace so traceparents
// round trip unchanged.
package ddagent

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/DataDog/dd-trace-go/tracer"
	"github.com/go-logr/logr"
	"github.com/pkg/errors"

	"github.com/gchaincl/apm-go-opentracing/agent"
	"github.com/gchaincl/apm-go-opentracing/internal/traceparent"
)

const (
	// DefaultType is used for entities started without a type.
	DefaultType = "custom"

	traceIDHighKey = "_dd.p.tid"
	resultKey      = "transaction.result"
	messageKey     = "error.message"
	userIDKey      = "usr.id"
	userNameKey    = "usr.name"
	userEmailKey   = "usr.email"
)

// Agent is an agent.Agent backed by the DataDog tracer. It reports a
// transaction and its spans as one DataDog trace.
type Agent struct {
	tracer  *tracer.Tracer
	service string
	logger  logr.Logger
	slot    *agent.Slot
	stop    *sync.Once
}

var _ agent.Agent = (*Agent)(nil)

func newAgent(t *tracer.Tracer, service string) *Agent {
	if service == "" {
		service = DefaultService
	}
	return &Agent{
		tracer:  t,
		service: service,
		logger:  logr.Discard(),
		slot:    &agent.Slot{},
		stop:    &sync.Once{},
	}
}

// Tracer returns the underlying DataDog tracer.
func (a *Agent) Tracer() *tracer.Tracer {
	return a.tracer
}

// Fork returns an agent reporting through the same tracer with an empty
// current transaction. Use one fork per request.
func (a *Agent) Fork() *Agent {
	return &Agent{tracer: a.tracer, service: a.service, logger: a.logger, slot: &agent.Slot{}, stop: a.stop}
}

// Flush sends finished traces to the DataDog agent.
func (a *Agent) Flush() {
	a.tracer.ForceFlush()
}

// Close flushes pending traces and stops the tracer's background worker.
// Forks share the tracer: closing any of them closes all.
func (a *Agent) Close() error {
	a.stop.Do(func() {
		a.tracer.ForceFlush()
		a.tracer.Stop()
	})
	return nil
}

func (a *Agent) CurrentTransaction() agent.Transaction {
	return a.slot.Load()
}

func (a *Agent) StartTransaction(name, spanType string, opts agent.StartOptions) agent.Transaction {
	span := a.tracer.NewRootSpan(name, a.service, name)
	if c, ok := a.parent(opts.Parent); ok {
		continueTrace(span, c)
	}

	span.Type = typeOrDefault(spanType)
	if !opts.Start.IsZero() {
		span.Start = opts.Start.UnixNano()
	}

	tx := &Transaction{entity: entity{span: span}}
	a.slot.Store(tx)

	return tx
}

func (a *Agent) StartSpan(name, spanType string, opts agent.StartOptions) agent.Span {
	cur, _ := a.slot.Current().(*Transaction)
	if cur == nil || !cur.span.Sampled {
		return nil
	}

	// Child spans share the transaction's buffer so they are reported with
	// it, even when they continue a different trace.
	span := a.tracer.NewChildSpan(name, cur.span)
	if c, ok := a.parent(opts.Parent); ok {
		continueTrace(span, c)
	} else if high := cur.span.GetMeta(traceIDHighKey); high != "" {
		span.SetMeta(traceIDHighKey, high)
	}

	span.Type = typeOrDefault(spanType)
	if !opts.Start.IsZero() {
		span.Start = opts.Start.UnixNano()
	}

	return &Span{entity: entity{span: span}}
}

// CaptureError flags the current transaction as failed and attaches the
// error to it. DataDog has no standalone error documents, so the capture
// timestamp is not kept.
func (a *Agent) CaptureError(errOrMessage interface{}, opts agent.CaptureOptions) {
	var err error
	switch e := errOrMessage.(type) {
	case error:
		err = e
	case string:
		err = errors.New(e)
	default:
		err = fmt.Errorf("%v", e)
	}

	cur, _ := a.slot.Current().(*Transaction)
	if cur == nil {
		a.logger.V(1).Info("dropping error captured outside a transaction", "error", err.Error())
		return
	}

	cur.span.SetError(err)
	if opts.Message != "" {
		cur.span.SetMeta(messageKey, opts.Message)
	}
}

func (a *Agent) parent(s string) (traceparent.Context, bool) {
	if s == "" {
		return traceparent.Context{}, false
	}

	c, err := traceparent.Parse(s)
	if err != nil {
		a.logger.V(1).Info("ignoring malformed parent", "traceparent", s, "error", err.Error())
		return traceparent.Context{}, false
	}
	return c, true
}

// continueTrace makes span a child of the remote context c.
func continueTrace(span *tracer.Span, c traceparent.Context) {
	span.TraceID = binary.BigEndian.Uint64(c.TraceID[8:])
	span.ParentID = binary.BigEndian.Uint64(c.SpanID[:])
	span.Sampled = c.Sampled()
	if high := c.TraceID[:8]; binary.BigEndian.Uint64(high) != 0 {
		span.SetMeta(traceIDHighKey, hex.EncodeToString(high))
	}
}

func typeOrDefault(spanType string) string {
	if spanType == "" {
		return DefaultType
	}
	return spanType
}
