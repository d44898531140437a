// Package prometheus exposes goCred counters as a prometheus.Collector.
//
// Counter names are gocred_*_total; the single histogram is gocred_verify_latency_seconds.
// Register the exporter with your own registry or mount [PrometheusExporter.Handler], which
// uses a private one.
package prometheus
