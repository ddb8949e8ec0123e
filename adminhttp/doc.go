// Package adminhttp implements the admin HTTP layer: JSON status and
// diagnostics endpoints, plus an HTTP publish path that behaves like
// a TCP publish but redirects to the current leader instead of
// proxying.
//
// (go-chi/chi routing, in the style of influxdata-influxdb's
// kit/transport/http handlers, simplified to write JSON directly
// instead of through a shared API helper type)
package adminhttp
