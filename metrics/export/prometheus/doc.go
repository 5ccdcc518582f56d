// Package prometheus publishes engine metrics through client_golang.
//
// [Exporter] is a prometheus.Collector that reads [identity.Engine.MetricsSnapshot]
// on every scrape. It registers itself on a private registry; mount
// [Exporter.Handler] or add the exporter to an existing registry.
package prometheus
