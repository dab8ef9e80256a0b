// Package server provides the HTTP API: session lifecycle endpoints, the
// chunk ingest path, the server-sent event stream for live transcripts, and
// the monitoring surface (health, stats, Prometheus metrics).
package server
