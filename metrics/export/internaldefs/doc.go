// Package internaldefs maps engine counters onto the labeled families shared
// by the Prometheus and OpenTelemetry exporters, so both expose the same
// series under the same names.
package internaldefs
