// Package server exposes a running fanout batch over HTTP.
//
//   - GET /: the embedded live results page
//   - GET /api/results: JSON snapshot of the latest result per job
//   - GET /api/sse: Server-Sent Events, one event per finished request
//   - GET /metrics: Prometheus metrics
//   - GET /healthz: liveness
//
// The server shuts down gracefully when its context is cancelled, giving
// in-flight requests up to five seconds.
package server
