package apmtracer

import "fmt"

// DiagnosticKind identifies an operation the tracer degraded silently.
type DiagnosticKind int

const (
	// DiagMultipleReferences: more than one reference was given to StartSpan;
	// only the first ChildOf reference is used.
	DiagMultipleReferences DiagnosticKind = iota + 1
	// DiagIgnoredReference: a FollowsFrom reference was ignored.
	DiagIgnoredReference
	// DiagForeignContext: a referenced or injected context was not created
	// by this tracer.
	DiagForeignContext
	// DiagUnsampled: the agent declined to record a span; a placeholder
	// carrying the current transaction's context was returned.
	DiagUnsampled
	// DiagUnsupportedFormat: Inject or Extract was called with a format other
	// than TextMap or HTTPHeaders.
	DiagUnsupportedFormat
	// DiagEmptyContext: an empty context was not injected.
	DiagEmptyContext
	// DiagMalformedContext: an extracted context is not a valid traceparent.
	DiagMalformedContext
	// DiagBaggageUnsupported: a baggage item was dropped.
	DiagBaggageUnsupported
)

var diagnosticNames = map[DiagnosticKind]string{
	DiagMultipleReferences: "multiple-references",
	DiagIgnoredReference:   "ignored-reference",
	DiagForeignContext:     "foreign-context",
	DiagUnsampled:          "unsampled",
	DiagUnsupportedFormat:  "unsupported-format",
	DiagEmptyContext:       "empty-context",
	DiagMalformedContext:   "malformed-context",
	DiagBaggageUnsupported: "baggage-unsupported",
}

func (k DiagnosticKind) String() string {
	if name, ok := diagnosticNames[k]; ok {
		return name
	}
	return fmt.Sprintf("DiagnosticKind(%d)", int(k))
}

// Diagnostic describes a silently degraded operation.
type Diagnostic struct {
	Kind    DiagnosticKind
	Message string
}

func (d Diagnostic) String() string {
	return d.Kind.String() + ": " + d.Message
}

func (t *Tracer) diagnose(kind DiagnosticKind, format string, args ...interface{}) {
	d := Diagnostic{Kind: kind, Message: fmt.Sprintf(format, args...)}

	t.logger.V(1).Info(d.Message, "diagnostic", kind.String())
	if t.onDiagnostic != nil {
		t.onDiagnostic(d)
	}
}
