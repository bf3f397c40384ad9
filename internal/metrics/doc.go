// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics
