// Package otelagent provides an agent.Agent recording transactions and spans
// with the OpenTelemetry Go SDK. Transactions are started as new root (or
// remote-parented) server spans, spans as internal children.
package otelagent

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/gchaincl/apm-go-opentracing/agent"
	"github.com/gchaincl/apm-go-opentracing/internal/traceparent"
)

const (
	// InstrumentationName is the name of the tracer spans are created with.
	InstrumentationName = "github.com/gchaincl/apm-go-opentracing/otelagent"

	// DefaultType is used for entities started without a type.
	DefaultType = "custom"
)

var (
	typeKey      = attribute.Key("type")
	resultKey    = attribute.Key("transaction.result")
	userIDKey    = semconv.EnduserIDKey
	userNameKey  = attribute.Key("user.name")
	userEmailKey = attribute.Key("user.email")
	messageKey   = attribute.Key("error.message")
)

// Agent is an agent.Agent backed by an OpenTelemetry tracer.
type Agent struct {
	tracer trace.Tracer
	logger logr.Logger
	slot   *agent.Slot
}

var _ agent.Agent = (*Agent)(nil)

// Option configures an Agent.
type Option func(*Agent)

// WithLogger sets the logger the agent reports dropped data to.
func WithLogger(l logr.Logger) Option {
	return func(a *Agent) { a.logger = l }
}

// New returns an Agent creating spans with tp.
func New(tp trace.TracerProvider, opts ...Option) *Agent {
	a := &Agent{
		tracer: tp.Tracer(InstrumentationName),
		logger: logr.Discard(),
		slot:   &agent.Slot{},
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Fork returns an agent using the same tracer with an empty current
// transaction. Use one fork per request.
func (a *Agent) Fork() *Agent {
	return &Agent{tracer: a.tracer, logger: a.logger, slot: &agent.Slot{}}
}

func (a *Agent) CurrentTransaction() agent.Transaction {
	return a.slot.Load()
}

func (a *Agent) StartTransaction(name, spanType string, opts agent.StartOptions) agent.Transaction {
	if spanType == "" {
		spanType = DefaultType
	}

	ctx := context.Background()
	startOpts := []trace.SpanStartOption{
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(typeKey.String(spanType)),
	}
	if sc, ok := a.remoteParent(opts.Parent); ok {
		ctx = trace.ContextWithRemoteSpanContext(ctx, sc)
	} else {
		startOpts = append(startOpts, trace.WithNewRoot())
	}
	if !opts.Start.IsZero() {
		startOpts = append(startOpts, trace.WithTimestamp(opts.Start))
	}

	_, span := a.tracer.Start(ctx, name, startOpts...)
	tx := &Transaction{entity: entity{span: span}}
	a.slot.Store(tx)

	return tx
}

func (a *Agent) StartSpan(name, spanType string, opts agent.StartOptions) agent.Span {
	cur, _ := a.slot.Current().(*Transaction)
	if cur == nil || !cur.span.SpanContext().IsSampled() {
		return nil
	}

	if spanType == "" {
		spanType = DefaultType
	}

	ctx := trace.ContextWithSpan(context.Background(), cur.span)
	if sc, ok := a.remoteParent(opts.Parent); ok {
		ctx = trace.ContextWithRemoteSpanContext(context.Background(), sc)
	}

	startOpts := []trace.SpanStartOption{
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(typeKey.String(spanType)),
	}
	if !opts.Start.IsZero() {
		startOpts = append(startOpts, trace.WithTimestamp(opts.Start))
	}

	_, span := a.tracer.Start(ctx, name, startOpts...)
	return &Span{entity: entity{span: span}}
}

// CaptureError records the error on the current transaction and marks it
// as failed.
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

	var eventOpts []trace.EventOption
	if !opts.Timestamp.IsZero() {
		eventOpts = append(eventOpts, trace.WithTimestamp(opts.Timestamp))
	}
	if opts.Message != "" {
		eventOpts = append(eventOpts, trace.WithAttributes(messageKey.String(opts.Message)))
	}
	cur.span.RecordError(err, eventOpts...)
	cur.span.SetStatus(codes.Error, err.Error())
}

func (a *Agent) remoteParent(s string) (trace.SpanContext, bool) {
	if s == "" {
		return trace.SpanContext{}, false
	}

	c, err := traceparent.Parse(s)
	if err != nil {
		a.logger.V(1).Info("ignoring malformed parent", "traceparent", s, "error", err.Error())
		return trace.SpanContext{}, false
	}

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    c.TraceID,
		SpanID:     c.SpanID,
		TraceFlags: c.Flags & trace.FlagsSampled,
		Remote:     true,
	})
	return sc, sc.IsValid()
}
