// Package internaldefs holds the counter names and bucket bounds shared by the metric
// exporters. Prometheus exposes one series per counter; the OTel exporter regroups them
// by concern.
package internaldefs
