// Package metric provides the Prometheus registry shared by the engine and
// its transports, plus the platform-level ingestion and connection metrics.
// Component-specific metrics register themselves against the same Registry
// under a (component, metric) key.
package metric
