// Package httpserver provides the cooperator's HTTP server shell: chi
// routing, request logging, liveness and readiness probes with a drain
// endpoint for load-balancer rollouts, optional pprof, and a Prometheus
// metrics listener on its own address.
//
// The lock API itself lives in api/lockhandler; this package only hosts it.
package httpserver
