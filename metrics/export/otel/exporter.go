package otel

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/aivle-project/tokenauth"
	"github.com/aivle-project/tokenauth/metrics/export/internaldefs"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

// MetricsSource is what the exporter observes; *tokenauth.Engine implements it.
type MetricsSource interface {
	MetricsSnapshot() tokenauth.MetricsSnapshot
	AuditDropped() uint64
}

// observation is one engine value reported on an instrument under a fixed
// attribute set.
type observation struct {
	id         tokenauth.MetricID
	instrument metric.Int64ObservableCounter
	opts       []metric.ObserveOption
}

type latencyInstruments struct {
	buckets metric.Int64ObservableCounter
	count   metric.Int64ObservableCounter
	le      [len(internaldefs.LatencyBounds)][]metric.ObserveOption
}

// OTelExporter publishes engine counters as observable instruments on a
// caller-supplied Meter, one instrument per family with the family label as
// an attribute.
type OTelExporter struct {
	source       MetricsSource
	registration metric.Registration
	observations []observation
	latency      latencyInstruments
	auditDropped metric.Int64ObservableCounter
}

func NewOTelExporter(meter metric.Meter, engine *tokenauth.Engine) (*OTelExporter, error) {
	return NewOTelExporterFromSource(meter, engine)
}

func NewOTelExporterFromSource(meter metric.Meter, source MetricsSource) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	exporter := &OTelExporter{source: source}
	observables := make([]metric.Observable, 0, len(internaldefs.Families)+3)

	for _, fam := range internaldefs.Families {
		ins, err := meter.Int64ObservableCounter(fam.Name, metric.WithDescription(fam.Help))
		if err != nil {
			return nil, fmt.Errorf("create observable counter %s: %w", fam.Name, err)
		}
		observables = append(observables, ins)
		for _, s := range fam.Series {
			obs := observation{id: s.ID, instrument: ins}
			if fam.Label != "" {
				obs.opts = attrs(fam.Label, s.Value)
			}
			exporter.observations = append(exporter.observations, obs)
		}
	}

	buckets, err := meter.Int64ObservableCounter(
		internaldefs.LatencyName+"_bucket",
		metric.WithDescription(internaldefs.LatencyHelp+" Cumulative count per upper bound."),
	)
	if err != nil {
		return nil, fmt.Errorf("create latency bucket counter: %w", err)
	}
	count, err := meter.Int64ObservableCounter(
		internaldefs.LatencyName+"_count",
		metric.WithDescription(internaldefs.LatencyHelp+" Total samples."),
	)
	if err != nil {
		return nil, fmt.Errorf("create latency count counter: %w", err)
	}
	exporter.latency.buckets = buckets
	exporter.latency.count = count
	for i, le := range internaldefs.LatencyBounds {
		exporter.latency.le[i] = attrs("le", le)
	}
	observables = append(observables, buckets, count)

	auditDropped, err := meter.Int64ObservableCounter(
		internaldefs.AuditDroppedName,
		metric.WithDescription(internaldefs.AuditDroppedHelp),
	)
	if err != nil {
		return nil, fmt.Errorf("create audit dropped counter: %w", err)
	}
	exporter.auditDropped = auditDropped
	observables = append(observables, auditDropped)

	registration, err := meter.RegisterCallback(exporter.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	exporter.registration = registration
	return exporter, nil
}

func (e *OTelExporter) observe(_ context.Context, observer metric.Observer) error {
	snapshot := e.source.MetricsSnapshot()
	if len(snapshot.Counters) == 0 {
		return nil
	}
	for _, o := range e.observations {
		observer.ObserveInt64(o.instrument, int64(snapshot.Counters[o.id]), o.opts...)
	}
	if raw, ok := snapshot.Histograms[internaldefs.LatencyID]; ok {
		cumulative := internaldefs.CumulativeBuckets(raw)
		for i, v := range cumulative {
			observer.ObserveInt64(e.latency.buckets, int64(v), e.latency.le[i]...)
		}
		observer.ObserveInt64(e.latency.count, int64(cumulative[len(cumulative)-1]))
	}
	observer.ObserveInt64(e.auditDropped, int64(e.source.AuditDropped()))
	return nil
}

func attrs(key, value string) []metric.ObserveOption {
	return []metric.ObserveOption{metric.WithAttributeSet(attribute.NewSet(attribute.String(key, value)))}
}

// Close unregisters the collection callback.
func (e *OTelExporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
