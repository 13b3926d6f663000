// Package metrics registers the Prometheus collectors for scene syncs, file moves,
// remote API traffic and circuit breakers.
//
// Long-running `serve` processes expose them on /metrics; one-shot bulk runs can
// dump them with [WriteTextfile] for the node_exporter textfile collector.
package metrics
