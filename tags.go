package apmtracer

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"

	opentracing "github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"

	"github.com/gchaincl/apm-go-opentracing/agent"
)

const (
	tagType         = "type"
	tagResult       = "result"
	tagUserID       = "user.id"
	tagUserUsername = "user.username"
	tagUserEmail    = "user.email"

	logEvent       = "event"
	logMessage     = "message"
	logErrorObject = "error.object"
)

var (
	tagError          = string(ext.Error)
	tagHTTPStatusCode = string(ext.HTTPStatusCode)
)

// Periods are the norm in OpenTracing tag keys but not allowed in agent
// labels, and neither are '*' and '"'.
var labelKeyReplacer = strings.NewReplacer(".", "_", "*", "_", `"`, "_")

// tagSet is an ordered list of tags. Later entries win over earlier ones.
type tagSet []opentracing.Tag

// tagSetFromMap copies m into a tagSet ordered by key.
func tagSetFromMap(m opentracing.Tags) tagSet {
	if len(m) == 0 {
		return nil
	}

	ts := make(tagSet, 0, len(m))
	for k, v := range m {
		ts = append(ts, opentracing.Tag{Key: k, Value: v})
	}
	sort.Slice(ts, func(i, j int) bool { return ts[i].Key < ts[j].Key })
	return ts
}

func (ts tagSet) lookup(key string) (interface{}, bool) {
	for i := len(ts) - 1; i >= 0; i-- {
		if ts[i].Key == key {
			return ts[i].Value, true
		}
	}
	return nil, false
}

// without returns a copy of ts without any tag named in keys.
func (ts tagSet) without(keys ...string) tagSet {
	out := make(tagSet, 0, len(ts))
next:
	for _, t := range ts {
		for _, k := range keys {
			if t.Key == k {
				continue next
			}
		}
		out = append(out, t)
	}
	return out
}

// applyTags redirects the tags the agent has dedicated fields for and sends
// the rest as labels. ts is owned by the callee.
func (s *Span) applyTags(ts tagSet) {
	e := s.entity()
	if e == nil {
		return
	}

	if s.kind == kindTransaction {
		ts = applyTransactionTags(s.tx, ts)
	}

	if v, ok := ts.lookup(tagType); ok && truthy(v) {
		e.SetType(fmt.Sprint(v))
		ts = ts.without(tagType)
	}

	if labels := sanitizeLabels(ts); len(labels) != 0 {
		e.SetLabels(labels)
	}
}

func applyTransactionTags(tx agent.Transaction, ts tagSet) tagSet {
	if v, ok := ts.lookup(tagError); ok {
		if truthy(v) {
			tx.SetResult("error")
		} else {
			tx.SetResult("success")
		}
		ts = ts.without(tagError)
	} else if v, ok := ts.lookup(tagResult); ok && truthy(v) {
		tx.SetResult(fmt.Sprint(v))
		ts = ts.without(tagResult)
	} else if v, ok := ts.lookup(tagHTTPStatusCode); ok && truthy(v) {
		tx.SetResult(statusClass(v))
		ts = ts.without(tagHTTPStatusCode)
	}

	id, hasID := stringTag(ts, tagUserID)
	username, hasUsername := stringTag(ts, tagUserUsername)
	email, hasEmail := stringTag(ts, tagUserEmail)
	if hasID || hasUsername || hasEmail {
		tx.SetUser(agent.User{ID: id, Username: username, Email: email})
		ts = ts.without(tagUserID, tagUserUsername, tagUserEmail)
	}

	return ts
}

// statusClass turns 200 into "HTTP 2xx".
func statusClass(code interface{}) string {
	s := fmt.Sprint(code)
	if s == "" {
		return "HTTP"
	}
	return "HTTP " + s[:1] + "xx"
}

// stringTag returns the tag value as a string, and false when the tag is
// missing or falsy.
func stringTag(ts tagSet, key string) (string, bool) {
	v, ok := ts.lookup(key)
	if !ok || !truthy(v) {
		return "", false
	}
	return fmt.Sprint(v), true
}

func sanitizeLabels(ts tagSet) map[string]interface{} {
	if len(ts) == 0 {
		return nil
	}

	labels := make(map[string]interface{}, len(ts))
	for _, t := range ts {
		labels[labelKeyReplacer.Replace(t.Key)] = t.Value
	}
	return labels
}

// truthy reports whether v is set to something other than nil, false, an
// empty string or a numeric zero.
func truthy(v interface{}) bool {
	switch v := v.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return rv.Len() != 0
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint() != 0
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		return f != 0 && !math.IsNaN(f)
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return !rv.IsNil()
	}
	return true
}
