package ddagent

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/http/httputil"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DataDog/dd-trace-go/tracer"
	"github.com/go-logr/logr/testr"
	opentracing "github.com/opentracing/opentracing-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	apmtracer "github.com/gchaincl/apm-go-opentracing"
	"github.com/gchaincl/apm-go-opentracing/agent"
	"github.com/gchaincl/apm-go-opentracing/internal/traceparent"
)

const remoteTraceparent = "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// dd-trace-go starts tracer.DefaultTracer's worker at package init
		goleak.IgnoreCurrent(),
		// keep-alive connections of the tracer's http client outlive the
		// test server by a few milliseconds
		goleak.IgnoreAnyFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreAnyFunction("net/http.(*persistConn).writeLoop"),
	)
}

type env struct {
	t     *testing.T
	mu    sync.Mutex
	reqs  []*http.Request
	ts    *httptest.Server
	agent *Agent
}

func newEnv(t *testing.T, c Configuration) *env {
	e := &env{t: t}
	e.ts = httptest.NewServer(e)
	url, _ := url.Parse(e.ts.URL)
	hostPort := strings.Split(url.Host, ":")

	c.Enabled = true
	c.Logger = testr.New(t)
	e.agent = c.NewAgentTransport(tracer.NewTransport(hostPort[0], hostPort[1]))
	return e
}

func (e *env) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	// Force the JSON encoded v0.2 API
	if strings.Contains(req.URL.String(), "v0.3") {
		w.WriteHeader(415)
		return
	}

	buf, err := httputil.DumpRequest(req, true)
	if err != nil {
		e.t.Error(err)
		return
	}

	newReq, err := http.ReadRequest(bufio.NewReader(bytes.NewBuffer(buf)))
	if err != nil {
		e.t.Error(err)
		return
	}

	e.mu.Lock()
	e.reqs = append(e.reqs, newReq)
	e.mu.Unlock()
}

func (e *env) close() {
	require.NoError(e.t, e.agent.Close())
	e.ts.Close()
}

// traces flushes the agent and returns the traces it sent.
func (e *env) traces() [][]*tracer.Span {
	e.agent.Flush()

	e.mu.Lock()
	defer e.mu.Unlock()

	var out [][]*tracer.Span
	for _, req := range e.reqs {
		var traces [][]*tracer.Span
		require.NoError(e.t, json.NewDecoder(req.Body).Decode(&traces))
		out = append(out, traces...)
	}
	e.reqs = nil
	return out
}

func byName(traces [][]*tracer.Span) map[string]*tracer.Span {
	spans := map[string]*tracer.Span{}
	for _, trace := range traces {
		for _, s := range trace {
			spans[s.Name] = s
		}
	}
	return spans
}

func TestStartTransaction(t *testing.T) {
	env := newEnv(t, Configuration{SampleRate: 1, Service: "users"})
	defer env.close()
	start := time.Now().Add(-time.Second)

	tx := env.agent.StartTransaction("GET /", "", agent.StartOptions{Start: start})
	assert.Equal(t, tx, env.agent.CurrentTransaction())

	tx.SetName("GET /users")
	tx.SetLabels(map[string]interface{}{"count": 3, "db": "users", "ok": true})
	tx.SetUser(agent.User{ID: "42", Username: "jdoe"})
	tx.End("HTTP 2xx", start.Add(2*time.Second))
	assert.True(t, tx.Ended())

	traces := env.traces()
	require.Len(t, traces, 1)
	require.Len(t, traces[0], 1)

	span := traces[0][0]
	assert.Equal(t, "GET /users", span.Name)
	assert.Equal(t, "GET /users", span.Resource)
	assert.Equal(t, "users", span.Service)
	assert.Equal(t, DefaultType, span.Type)
	assert.Equal(t, uint64(0), span.ParentID)
	assert.Equal(t, start.UnixNano(), span.Start)
	assert.Equal(t, int64(2*time.Second), span.Duration)
	assert.Equal(t, float64(3), span.Metrics["count"])
	assert.Equal(t, "users", span.Meta["db"])
	assert.Equal(t, "true", span.Meta["ok"])
	assert.Equal(t, "42", span.Meta[userIDKey])
	assert.Equal(t, "jdoe", span.Meta[userNameKey])
	assert.Equal(t, "HTTP 2xx", span.Meta[resultKey])
}

func TestSpansParenthood(t *testing.T) {
	env := newEnv(t, Configuration{SampleRate: 1})
	defer env.close()

	assert.Nil(t, env.agent.StartSpan("orphan", "", agent.StartOptions{}))

	tx := env.agent.StartTransaction("parent", "request", agent.StartOptions{})
	child := env.agent.StartSpan("child", "db", agent.StartOptions{})
	require.NotNil(t, child)
	child.End(time.Time{})
	tx.End("", time.Time{})

	assert.Nil(t, env.agent.StartSpan("after end", "", agent.StartOptions{}))

	traces := env.traces()
	require.Len(t, traces, 1)
	require.Len(t, traces[0], 2)

	spans := byName(traces)
	c, p := spans["child"], spans["parent"]
	require.NotNil(t, c)
	require.NotNil(t, p)
	assert.Equal(t, "db", c.Type)
	assert.Equal(t, "request", p.Type)
	assert.Equal(t, p.SpanID, c.ParentID)
	assert.Equal(t, c.TraceID, p.TraceID)
}

func TestRemoteParent(t *testing.T) {
	env := newEnv(t, Configuration{SampleRate: 1})
	defer env.close()

	tx := env.agent.StartTransaction("tx", "", agent.StartOptions{Parent: remoteTraceparent})
	child := env.agent.StartSpan("child", "", agent.StartOptions{})

	c, err := traceparent.Parse(child.Traceparent())
	require.NoError(t, err)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", c.TraceID.String())
	assert.True(t, c.Sampled())

	c, err = traceparent.Parse(tx.Traceparent())
	require.NoError(t, err)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", c.TraceID.String())

	child.End(time.Time{})
	tx.End("", time.Time{})

	spans := byName(env.traces())
	require.Len(t, spans, 2)
	require.Contains(t, spans, "tx")
	require.Contains(t, spans, "child")
	assert.Equal(t, uint64(0xa3ce929d0e0e4736), spans["tx"].TraceID)
	assert.Equal(t, uint64(0x00f067aa0ba902b7), spans["tx"].ParentID)
	assert.Equal(t, uint64(0xa3ce929d0e0e4736), spans["child"].TraceID)
	assert.Equal(t, spans["tx"].SpanID, spans["child"].ParentID)
	assert.Equal(t, "4bf92f3577b34da6", spans["tx"].Meta[traceIDHighKey])
	assert.Equal(t, "4bf92f3577b34da6", spans["child"].Meta[traceIDHighKey])

	t.Run("explicit span parent", func(t *testing.T) {
		tx := env.agent.StartTransaction("local", "", agent.StartOptions{})
		span := env.agent.StartSpan("remote child", "", agent.StartOptions{Parent: remoteTraceparent})
		span.End(time.Time{})
		tx.End("", time.Time{})

		spans := byName(env.traces())
		require.Contains(t, spans, "local")
		require.Contains(t, spans, "remote child")
		assert.Equal(t, uint64(0x00f067aa0ba902b7), spans["remote child"].ParentID)
		assert.Equal(t, uint64(0xa3ce929d0e0e4736), spans["remote child"].TraceID)
		assert.Equal(t, "4bf92f3577b34da6", spans["remote child"].Meta[traceIDHighKey])
	})

	t.Run("malformed", func(t *testing.T) {
		tx := env.agent.StartTransaction("tx", "", agent.StartOptions{Parent: "invalid"})
		tx.End("", time.Time{})
		assert.Equal(t, uint64(0), env.traces()[0][0].ParentID)
	})
}

func TestNotSampled(t *testing.T) {
	env := newEnv(t, Configuration{SampleRate: 0})
	defer env.close()

	tx := env.agent.StartTransaction("tx", "", agent.StartOptions{})
	require.NotNil(t, tx)
	assert.Nil(t, env.agent.StartSpan("span", "", agent.StartOptions{}))

	c, err := traceparent.Parse(tx.Traceparent())
	require.NoError(t, err)
	assert.False(t, c.Sampled())

	t.Run("remote decision", func(t *testing.T) {
		env := newEnv(t, Configuration{SampleRate: 1})
		defer env.close()

		env.agent.StartTransaction("tx", "", agent.StartOptions{
			Parent: "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-00",
		})
		assert.Nil(t, env.agent.StartSpan("span", "", agent.StartOptions{}))
	})
}

func TestCaptureError(t *testing.T) {
	env := newEnv(t, Configuration{SampleRate: 1})
	defer env.close()

	env.agent.CaptureError(errors.New("dropped"), agent.CaptureOptions{})

	tx := env.agent.StartTransaction("tx", "", agent.StartOptions{})
	env.agent.CaptureError(errors.New("boom"), agent.CaptureOptions{Message: "it broke"})
	tx.End("", time.Time{})

	span := env.traces()[0][0]
	assert.Equal(t, int32(1), span.Error)
	assert.Equal(t, "boom", span.Meta["error.msg"])
	assert.Equal(t, "it broke", span.Meta[messageKey])
}

func TestTransactionResultError(t *testing.T) {
	env := newEnv(t, Configuration{SampleRate: 1})
	defer env.close()

	tx := env.agent.StartTransaction("tx", "", agent.StartOptions{})
	tx.End("error", time.Time{})
	tx.End("HTTP 2xx", time.Time{})

	span := env.traces()[0][0]
	assert.Equal(t, int32(1), span.Error)
	assert.Equal(t, "error", span.Meta[resultKey])
}

func TestFork(t *testing.T) {
	env := newEnv(t, Configuration{SampleRate: 1})
	defer env.close()
	f := env.agent.Fork()

	tx := env.agent.StartTransaction("tx", "", agent.StartOptions{})
	assert.Nil(t, f.CurrentTransaction())
	assert.Nil(t, f.StartSpan("span", "", agent.StartOptions{}))

	f.StartTransaction("other", "", agent.StartOptions{}).End("", time.Time{})
	tx.End("", time.Time{})
	assert.Len(t, env.traces(), 2)
}

func TestBridgeExtractedParent(t *testing.T) {
	env := newEnv(t, Configuration{SampleRate: 1})
	defer env.close()

	tr, err := apmtracer.New(env.agent)
	require.NoError(t, err)

	sc, err := tr.Extract(opentracing.HTTPHeaders, opentracing.TextMapCarrier{apmtracer.TraceparentKey: remoteTraceparent})
	require.NoError(t, err)

	root := tr.StartSpan("GET /", opentracing.ChildOf(sc))
	child := tr.StartSpan("SELECT", opentracing.ChildOf(root.Context()))
	child.Finish()
	root.Finish()

	spans := byName(env.traces())
	require.Contains(t, spans, "GET /")
	require.Contains(t, spans, "SELECT")
	assert.Equal(t, uint64(0x00f067aa0ba902b7), spans["GET /"].ParentID)
	assert.Equal(t, spans["GET /"].SpanID, spans["SELECT"].ParentID)
	assert.Equal(t, spans["GET /"].TraceID, spans["SELECT"].TraceID)
}
