package apmtracer

import (
	"net/http"
	"strings"

	opentracing "github.com/opentracing/opentracing-go"

	"github.com/gchaincl/apm-go-opentracing/internal/traceparent"
)

// TraceparentKey is the carrier key contexts are injected under, for both the
// TextMap and HTTPHeaders formats.
const TraceparentKey = "elastic-apm-traceparent"

type textMapPropagator struct {
	t *Tracer
}

// Inject writes the context's traceparent into the supplied carrier, which
// must be an opentracing.TextMapWriter, a map[string]string or an http.Header.
func (p *textMapPropagator) Inject(sc *SpanContext, carrier interface{}) error {
	var set func(k, v string)
	switch c := carrier.(type) {
	case opentracing.TextMapCarrier:
		if c == nil {
			return opentracing.ErrInvalidCarrier
		}
		set = c.Set
	case opentracing.HTTPHeadersCarrier:
		if c == nil {
			return opentracing.ErrInvalidCarrier
		}
		set = c.Set
	case http.Header:
		if c == nil {
			return opentracing.ErrInvalidCarrier
		}
		set = c.Set
	case map[string]string:
		if c == nil {
			return opentracing.ErrInvalidCarrier
		}
		set = func(k, v string) { c[k] = v }
	case opentracing.TextMapWriter:
		set = c.Set
	default:
		return opentracing.ErrInvalidCarrier
	}

	s := sc.String()
	if s == "" {
		p.t.diagnose(DiagEmptyContext, "inject: context carries no trace")
		return nil
	}

	set(TraceparentKey, s)
	return nil
}

// Extract reads a context from the supplied carrier. The traceparent is not
// validated unless the tracer was configured to.
func (p *textMapPropagator) Extract(carrier interface{}) (opentracing.SpanContext, error) {
	var s string
	switch c := carrier.(type) {
	case opentracing.TextMapReader:
		_ = c.ForeachKey(func(k, v string) error {
			if strings.EqualFold(k, TraceparentKey) {
				s = v
			}
			return nil
		})
	case map[string]string:
		s = lookupFold(c, TraceparentKey)
	case http.Header:
		s = c.Get(TraceparentKey)
	default:
		return nil, opentracing.ErrSpanContextNotFound
	}

	if s == "" {
		return nil, opentracing.ErrSpanContextNotFound
	}

	if _, err := traceparent.Parse(s); err != nil {
		if p.t.validate {
			return nil, opentracing.ErrSpanContextCorrupted
		}
		p.t.diagnose(DiagMalformedContext, "extract: accepting %q: %v", s, err)
	}

	return newStringContext(s), nil
}

func lookupFold(m map[string]string, key string) string {
	if v, ok := m[key]; ok {
		return v
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}
