// Package agenttest provides an in-memory host engine that records every
// transaction, span and captured error, for testing code instrumented through
// the OpenTracing bridge.
//
//	rec := agenttest.New()
//	tracer, _ := apmtracer.New(rec)
//	span := tracer.StartSpan("op")
//	span.Finish()
//	rec.Transactions()[0].Name // "op"
package agenttest

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/zoobzio/clockz"

	"github.com/gchaincl/apm-go-opentracing/agent"
	"github.com/gchaincl/apm-go-opentracing/internal/traceparent"
)

// DefaultType is used for entities started without a type.
const DefaultType = "custom"

// Agent is an agent.Agent keeping everything it is given in memory.
// Agents created with Fork share recordings but each have their own current
// transaction.
type Agent struct {
	clock clockz.Clock
	slot  *agent.Slot
	rec   *recorder
}

var _ agent.Agent = (*Agent)(nil)

type recorder struct {
	mu           sync.Mutex
	sampled      bool
	transactions []*Transaction
	spans        []*Span
	errors       []CapturedError
}

// CapturedError is one CaptureError call.
type CapturedError struct {
	// Err is the error or message given to CaptureError.
	Err       interface{}
	Timestamp time.Time
	Message   string
	// Transaction is the transaction current at capture time, or nil.
	Transaction *Transaction
}

// New returns an Agent sampling every transaction and using the real clock.
func New() *Agent {
	return &Agent{
		clock: clockz.RealClock,
		slot:  &agent.Slot{},
		rec:   &recorder{sampled: true},
	}
}

// WithClock returns a new agent with the specified clock.
func (*Agent) WithClock(clock clockz.Clock) *Agent {
	a := New()
	a.clock = clock
	return a
}

// Fork returns an agent sharing a's recordings, clock and sampling decision,
// with an empty current transaction.
func (a *Agent) Fork() *Agent {
	return &Agent{
		clock: a.clock,
		slot:  &agent.Slot{},
		rec:   a.rec,
	}
}

// SetSampled sets whether new transactions without a parent are sampled.
func (a *Agent) SetSampled(sampled bool) {
	a.rec.mu.Lock()
	defer a.rec.mu.Unlock()
	a.rec.sampled = sampled
}

func (a *Agent) CurrentTransaction() agent.Transaction {
	return a.slot.Load()
}

func (a *Agent) StartTransaction(name, spanType string, opts agent.StartOptions) agent.Transaction {
	if spanType == "" {
		spanType = DefaultType
	}

	tx := &Transaction{
		Name:      name,
		Type:      spanType,
		ID:        newID(8),
		Timestamp: a.start(opts.Start),
		clock:     a.clock,
	}

	if parent, err := traceparent.Parse(opts.Parent); err == nil {
		tx.TraceID = parent.TraceID.String()
		tx.ParentID = parent.SpanID.String()
		tx.Sampled = parent.Sampled()
	} else {
		tx.TraceID = newID(16)
		a.rec.mu.Lock()
		tx.Sampled = a.rec.sampled
		a.rec.mu.Unlock()
	}

	a.rec.mu.Lock()
	a.rec.transactions = append(a.rec.transactions, tx)
	a.rec.mu.Unlock()

	a.slot.Store(tx)
	return tx
}

func (a *Agent) StartSpan(name, spanType string, opts agent.StartOptions) agent.Span {
	cur, _ := a.slot.Current().(*Transaction)
	if cur == nil || !cur.Sampled {
		return nil
	}

	if spanType == "" {
		spanType = DefaultType
	}

	span := &Span{
		Name:        name,
		Type:        spanType,
		ID:          newID(8),
		Timestamp:   a.start(opts.Start),
		Sampled:     true,
		Transaction: cur,
		clock:       a.clock,
	}

	if parent, err := traceparent.Parse(opts.Parent); err == nil {
		span.TraceID = parent.TraceID.String()
		span.ParentID = parent.SpanID.String()
		span.Sampled = parent.Sampled()
	} else {
		span.TraceID = cur.TraceID
		span.ParentID = cur.ID
	}

	a.rec.mu.Lock()
	a.rec.spans = append(a.rec.spans, span)
	a.rec.mu.Unlock()

	return span
}

func (a *Agent) CaptureError(errOrMessage interface{}, opts agent.CaptureOptions) {
	cur, _ := a.slot.Current().(*Transaction)

	a.rec.mu.Lock()
	defer a.rec.mu.Unlock()
	a.rec.errors = append(a.rec.errors, CapturedError{
		Err:         errOrMessage,
		Timestamp:   opts.Timestamp,
		Message:     opts.Message,
		Transaction: cur,
	})
}

// Transactions returns the transactions started so far, in start order.
func (a *Agent) Transactions() []*Transaction {
	a.rec.mu.Lock()
	defer a.rec.mu.Unlock()
	return append([]*Transaction(nil), a.rec.transactions...)
}

// Spans returns the spans started so far, in start order.
func (a *Agent) Spans() []*Span {
	a.rec.mu.Lock()
	defer a.rec.mu.Unlock()
	return append([]*Span(nil), a.rec.spans...)
}

// Errors returns the captured errors, in capture order.
func (a *Agent) Errors() []CapturedError {
	a.rec.mu.Lock()
	defer a.rec.mu.Unlock()
	return append([]CapturedError(nil), a.rec.errors...)
}

// Reset drops all recordings and the current transaction.
func (a *Agent) Reset() {
	a.rec.mu.Lock()
	a.rec.transactions = nil
	a.rec.spans = nil
	a.rec.errors = nil
	a.rec.mu.Unlock()

	a.slot.Store(nil)
}

func (a *Agent) start(t time.Time) time.Time {
	if t.IsZero() {
		return a.clock.Now()
	}
	return t
}

func newID(n int) string {
	bytes := make([]byte, n)
	if _, err := rand.Read(bytes); err != nil {
		panic(err)
	}
	return hex.EncodeToString(bytes)
}
