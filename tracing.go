package apmtracer

import (
	"fmt"

	"github.com/go-logr/logr"
	opentracing "github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/gchaincl/apm-go-opentracing/agent"
)

// DefaultName is the operation name of spans started without one.
const DefaultName = "unnamed"

// ErrMissingAgent is returned by New when no agent is given.
var ErrMissingAgent = errors.New("apmtracer: missing required argument: agent")

// Tracer implements opentracing.Tracer on top of an agent.Agent.
type Tracer struct {
	agent          agent.Agent
	textPropagator *textMapPropagator
	logger         logr.Logger
	onDiagnostic   func(Diagnostic)
	validate       bool
}

var _ opentracing.Tracer = (*Tracer)(nil)

// New returns a Tracer driving a.
func New(a agent.Agent, opts ...Option) (*Tracer, error) {
	if a == nil {
		return nil, ErrMissingAgent
	}

	c := Configuration{}
	for _, o := range opts {
		o(&c)
	}
	if c.Logger.GetSink() == nil {
		c.Logger = logr.Discard()
	}

	t := &Tracer{
		agent:        a,
		logger:       c.Logger,
		onDiagnostic: c.OnDiagnostic,
		validate:     c.ValidateTraceparent,
	}
	t.textPropagator = &textMapPropagator{t}

	return t, nil
}

// Agent returns the agent the tracer drives.
func (t *Tracer) Agent() agent.Agent {
	return t.agent
}

func (t *Tracer) StartSpan(op string, opts ...opentracing.StartSpanOption) opentracing.Span {
	sso := &opentracing.StartSpanOptions{}
	for _, o := range opts {
		o.Apply(sso)
	}

	return t.startSpanWithOptions(op, sso)
}

func (t *Tracer) startSpanWithOptions(op string, opts *opentracing.StartSpanOptions) *Span {
	if op == "" {
		op = DefaultName
	}

	tags := tagSetFromMap(opts.Tags)
	var spanType string
	if v, ok := tags.lookup(tagType); ok && truthy(v) {
		spanType = fmt.Sprint(v)
		tags = tags.without(tagType)
	}

	so := agent.StartOptions{
		Parent: t.resolveParent(opts.References),
		Start:  opts.StartTime,
	}

	var span *Span
	if cur := t.agent.CurrentTransaction(); cur == nil || cur.Ended() {
		if tx := t.agent.StartTransaction(op, spanType, so); tx != nil {
			span = newTransactionSpan(t, tx)
		}
	} else if s := t.agent.StartSpan(op, spanType, so); s != nil {
		span = newNestedSpan(t, s)
	}

	if span == nil {
		t.diagnose(DiagUnsampled, "span %q not recorded by the agent", op)
		return newPlaceholderSpan(t, t.agent.CurrentTransaction())
	}

	if len(tags) != 0 {
		span.applyTags(tags)
	}

	return span
}

// resolveParent returns the context of the first ChildOf reference.
// FollowsFrom references are ignored: a span referencing only a FollowsFrom
// context nests under the current transaction.
func (t *Tracer) resolveParent(refs []opentracing.SpanReference) string {
	if len(refs) > 1 {
		t.diagnose(DiagMultipleReferences, "unsupported number of references: %d", len(refs))
	}

	for _, ref := range refs {
		if ref.Type != opentracing.ChildOfRef {
			t.diagnose(DiagIgnoredReference, "ignoring reference of type %d", ref.Type)
			continue
		}

		sc, ok := ref.ReferencedContext.(*SpanContext)
		if !ok || sc == nil {
			t.diagnose(DiagForeignContext, "ignoring parent context of type %T", ref.ReferencedContext)
			return ""
		}
		return sc.String()
	}

	return ""
}

func (t *Tracer) Inject(sm opentracing.SpanContext, format interface{}, carrier interface{}) error {
	switch format {
	case opentracing.TextMap, opentracing.HTTPHeaders:
	default:
		t.diagnose(DiagUnsupportedFormat, "inject: unsupported format %v", format)
		return nil
	}

	sc, ok := sm.(*SpanContext)
	if !ok || sc == nil {
		t.diagnose(DiagForeignContext, "inject: context of type %T", sm)
		return opentracing.ErrInvalidSpanContext
	}

	return t.textPropagator.Inject(sc, carrier)
}

func (t *Tracer) Extract(format interface{}, carrier interface{}) (opentracing.SpanContext, error) {
	switch format {
	case opentracing.TextMap, opentracing.HTTPHeaders:
		return t.textPropagator.Extract(carrier)
	}

	t.diagnose(DiagUnsupportedFormat, "extract: unsupported format %v", format)
	return nil, opentracing.ErrSpanContextNotFound
}
