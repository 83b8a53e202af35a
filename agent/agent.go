// Package agent defines the host engine the OpenTracing bridge drives.
//
// A host records work in two tiers: a Transaction is the root unit of work and
// Spans are nested units of work inside the current Transaction. Hosts decide
// sampling, keep timers and store labels; the bridge only maps OpenTracing
// calls onto them.
package agent

import "time"

// Agent is the host engine.
type Agent interface {
	// CurrentTransaction returns the transaction implicitly used as root for
	// new spans in the current execution, or nil.
	CurrentTransaction() Transaction

	// StartTransaction starts a root unit of work and makes it current.
	// A nil return means the host declined to record it.
	StartTransaction(name, spanType string, opts StartOptions) Transaction

	// StartSpan starts a unit of work nested in the current transaction.
	// A nil return means the host declined to record it, typically because
	// the current transaction is not sampled.
	StartSpan(name, spanType string, opts StartOptions) Span

	// CaptureError reports an error or a plain message. errOrMessage is
	// either an error or a string.
	CaptureError(errOrMessage interface{}, opts CaptureOptions)
}

// StartOptions holds the optional arguments for starting an entity.
type StartOptions struct {
	// Parent is the traceparent string of the explicit parent, if any.
	Parent string
	// Start is the start time; zero means now.
	Start time.Time
}

// CaptureOptions holds the optional arguments for CaptureError.
type CaptureOptions struct {
	Timestamp time.Time
	Message   string
}

// User identifies the user a transaction was performed for.
type User struct {
	ID       string
	Username string
	Email    string
}

// Entity is the part shared by transactions and spans.
type Entity interface {
	SetName(name string)
	SetType(spanType string)
	// SetLabels merges labels into the entity's labels.
	SetLabels(labels map[string]interface{})
	// Traceparent returns the entity's propagation string.
	Traceparent() string
}

// Transaction is a root unit of work.
type Transaction interface {
	Entity
	SetResult(result string)
	SetUser(user User)
	// End ends the transaction. A non-empty result replaces the current
	// one; a zero end time means now.
	End(result string, end time.Time)
	Ended() bool
}

// Span is a nested unit of work.
type Span interface {
	Entity
	// End ends the span; a zero end time means now.
	End(end time.Time)
}
