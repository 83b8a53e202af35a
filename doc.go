// Package apmtracer is an OpenTracing (https://github.com/opentracing/opentracing-go) implementation on top of
// an APM agent whose model has two tiers: transactions, the root units of work, and spans nested in them.
// The goal of the bridge is to instrument code with the OpenTracing API while the agent keeps deciding sampling,
// timing and storage. Both APIs have similar semantics, but some concepts of the agent don't fit the OpenTracing model.
//
// The first span started while no transaction is current becomes a transaction; spans started while it is
// running become spans of it, unless a ChildOf reference names another parent. FollowsFrom references are ignored.
// When the agent declines to record a span, a placeholder is returned: it records nothing, but its context is the
// transaction's so propagation keeps working.
//
// On transactions the "error", "result" and "http.status_code" tags set the transaction result, and the
// "user.id", "user.username" and "user.email" tags set the user. The "type" tag sets the type of any span.
// Every other tag becomes a label, with '.', '*' and '"' replaced by '_'.
//
// Only errors are logged: use log.Event("error") with log.Error(err) or log.Message(msg) (see examples below).
//
// Contexts are propagated as W3C traceparent strings under the "elastic-apm-traceparent" key, for both the
// TextMap and HTTPHeaders formats.
package apmtracer
