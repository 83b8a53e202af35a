// Package traceparent formats and parses the W3C traceparent wire string used
// to propagate a trace identity between processes. Ids and flags are the
// OpenTelemetry trace types.
package traceparent

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/trace"
)

// Version is the only traceparent version this package emits.
const Version = 0x00

var (
	// ErrMalformed is returned by Parse for strings that are not four
	// dash-separated lowercase hex fields of lengths 2, 32, 16 and 2.
	ErrMalformed = errors.New("traceparent: malformed")
	// ErrZeroID is returned by Parse when the trace or parent id is all zeroes.
	ErrZeroID = errors.New("traceparent: zero id")
)

// Context is the decoded form of a traceparent string.
type Context struct {
	Version byte
	TraceID trace.TraceID
	SpanID  trace.SpanID
	Flags   trace.TraceFlags
}

// Sampled reports whether the sampled flag is set.
func (c Context) Sampled() bool { return c.Flags.IsSampled() }

// String encodes c in the wire format, e.g.
// 00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01.
func (c Context) String() string {
	return Format(c.TraceID, c.SpanID, c.Sampled())
}

// Format encodes a version 00 traceparent.
func Format(traceID trace.TraceID, spanID trace.SpanID, sampled bool) string {
	var flags trace.TraceFlags
	flags = flags.WithSampled(sampled)

	var b strings.Builder
	b.Grow(55)
	b.WriteString("00-")
	b.WriteString(traceID.String())
	b.WriteByte('-')
	b.WriteString(spanID.String())
	b.WriteByte('-')
	b.WriteString(flags.String())
	return b.String()
}

// Parse decodes s. Only the field layout is checked; unknown versions are
// accepted as long as the layout matches.
func Parse(s string) (Context, error) {
	var c Context

	fields := strings.Split(s, "-")
	if len(fields) != 4 ||
		len(fields[0]) != 2 ||
		len(fields[1]) != 32 ||
		len(fields[2]) != 16 ||
		len(fields[3]) != 2 {
		return c, ErrMalformed
	}

	version, err := strconv.ParseUint(fields[0], 16, 8)
	if err != nil {
		return c, errors.Wrap(ErrMalformed, "version")
	}
	flags, err := strconv.ParseUint(fields[3], 16, 8)
	if err != nil {
		return c, errors.Wrap(ErrMalformed, "flags")
	}
	c.Version = byte(version)
	c.Flags = trace.TraceFlags(flags)

	// The otel decoders reject all-zero ids with their own error, so zero
	// ids are told apart from bad hex before decoding.
	zero := false
	if isZero(fields[1]) {
		zero = true
	} else if c.TraceID, err = trace.TraceIDFromHex(fields[1]); err != nil {
		return c, errors.Wrap(ErrMalformed, "trace-id")
	}
	if isZero(fields[2]) {
		zero = true
	} else if c.SpanID, err = trace.SpanIDFromHex(fields[2]); err != nil {
		return c, errors.Wrap(ErrMalformed, "parent-id")
	}
	if zero {
		return c, ErrZeroID
	}

	return c, nil
}

// Valid reports whether s parses.
func Valid(s string) bool {
	_, err := Parse(s)
	return err == nil
}

func isZero(field string) bool {
	return strings.Trim(field, "0") == ""
}
