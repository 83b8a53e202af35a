package apmtracer

import (
	"github.com/go-logr/logr"
	opentracing "github.com/opentracing/opentracing-go"

	"github.com/gchaincl/apm-go-opentracing/agent"
)

// Configuration is used to define the bridge properties to be set when creating a new tracer
type Configuration struct {
	Logger              logr.Logger      // Logger for diagnostics, logged at V(1) (default: discard)
	OnDiagnostic        func(Diagnostic) // Called for every silently degraded operation (default: nil)
	ValidateTraceparent bool             // Reject malformed extracted contexts (default: false)
}

// Option configures a Tracer created with New.
type Option func(*Configuration)

// WithLogger sets the logger diagnostics are written to.
func WithLogger(l logr.Logger) Option {
	return func(c *Configuration) { c.Logger = l }
}

// WithDiagnosticHook sets a function called for every silently degraded
// operation: ignored references, unsupported formats, unsampled spans...
func WithDiagnosticHook(fn func(Diagnostic)) Option {
	return func(c *Configuration) { c.OnDiagnostic = fn }
}

// WithTraceparentValidation makes Extract reject contexts that are not valid
// traceparent strings.
func WithTraceparentValidation() Option {
	return func(c *Configuration) { c.ValidateTraceparent = true }
}

// NewTracer initializes the tracer object on top of the given agent
func (c *Configuration) NewTracer(a agent.Agent) (opentracing.Tracer, error) {
	return New(a, func(dst *Configuration) { *dst = *c })
}
