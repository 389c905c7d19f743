// Package prometheus exposes engine metrics as a prometheus.Collector.
//
// Counters are published as authcore_*_total and the Authenticate latency
// histogram as authcore_authenticate_latency_seconds. The collector reads
// Engine.MetricsSnapshot on every scrape; register it on your own registry
// or use Handler for a dedicated one.
package prometheus
