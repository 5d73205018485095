// Package prometheus renders tokenauth engine metrics in the Prometheus text
// exposition format.
//
// Engine counters are grouped into labeled families such as
// tokenauth_login_attempts_total{outcome="locked"} and
// tokenauth_session_events_total{event="rehydrated"}. Access-token validation
// latency is the one histogram, tokenauth_validate_latency_seconds.
// Nothing is registered globally; callers mount [PrometheusExporter.Handler].
package prometheus
