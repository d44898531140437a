package otel

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	goCred "github.com/MrEthical07/goCred"
	"github.com/MrEthical07/goCred/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	// ErrNilMeter is returned when no meter is supplied.
	ErrNilMeter = errors.New("nil meter")
	// ErrNilSource is returned when no snapshot source is supplied.
	ErrNilSource = errors.New("nil metrics source")
)

type metricsSource interface {
	MetricsSnapshot() goCred.MetricsSnapshot
	AuditDropped() uint64
}

// series is one engine counter observed under an attribute set.
type series struct {
	id    goCred.MetricID
	attrs metric.ObserveOption
}

// instrumentDef groups engine counters that describe the same credential concern.
// Counters sharing an instrument differ only by their attribute.
type instrumentDef struct {
	name   string
	help   string
	key    string
	series map[string]goCred.MetricID
}

// instrumentDefs is the OTel view of the engine counters.
var instrumentDefs = []instrumentDef{
	{name: "gocred.sessions.issued", help: "Issued token pairs.",
		series: map[string]goCred.MetricID{"": goCred.MetricSessionIssued}},
	{name: "gocred.blacklist.added", help: "Access tokens added to the blacklist.",
		series: map[string]goCred.MetricID{"": goCred.MetricBlacklistAdded}},
	{name: "gocred.refresh.revoked", help: "Refresh tokens revoked by family revocation or the family cap.",
		series: map[string]goCred.MetricID{"": goCred.MetricFamilyRevoked}},
	{name: "gocred.cleanup.deleted", help: "Records deleted by the cleanup scheduler.",
		series: map[string]goCred.MetricID{"": goCred.MetricCleanupDeleted}},
	{name: "gocred.access.verifications", help: "Access token verifications by outcome.", key: "outcome",
		series: map[string]goCred.MetricID{
			"success":     goCred.MetricVerifySuccess,
			"failure":     goCred.MetricVerifyFailure,
			"blacklisted": goCred.MetricVerifyBlacklisted,
		}},
	{name: "gocred.refresh.rotations", help: "Refresh token rotations by outcome.", key: "outcome",
		series: map[string]goCred.MetricID{
			"rotated": goCred.MetricRotateSuccess,
			"replay":  goCred.MetricRotateReplay,
			"failure": goCred.MetricRotateFailure,
		}},
	{name: "gocred.apikey.requests", help: "API key operations by outcome.", key: "outcome",
		series: map[string]goCred.MetricID{
			"generated":    goCred.MetricAPIKeyGenerated,
			"validated":    goCred.MetricAPIKeyValidated,
			"rejected":     goCred.MetricAPIKeyRejected,
			"rate_limited": goCred.MetricAPIKeyRateLimited,
		}},
	{name: "gocred.lockout.transitions", help: "Account lock state changes.", key: "transition",
		series: map[string]goCred.MetricID{
			"locked":   goCred.MetricLockoutTriggered,
			"unlocked": goCred.MetricUnlock,
		}},
}

type observedInstrument struct {
	instrument metric.Int64ObservableCounter
	series     []series
}

type observedHistogram struct {
	id      goCred.MetricID
	buckets metric.Int64ObservableGauge
	bounds  [8]metric.ObserveOption
	count   metric.Int64ObservableGauge
}

// OTelExporter observes engine counters from a single meter callback.
type OTelExporter struct {
	source       metricsSource
	registration metric.Registration
	instruments  []observedInstrument
	histograms   []observedHistogram
	auditDropped metric.Int64ObservableCounter
}

// NewOTelExporter registers observable instruments on meter that read from engine.
func NewOTelExporter(meter metric.Meter, engine *goCred.Engine) (*OTelExporter, error) {
	return NewOTelExporterFromSource(meter, engine)
}

// NewOTelExporterFromSource is NewOTelExporter over any snapshot source.
func NewOTelExporterFromSource(meter metric.Meter, source metricsSource) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	exporter := &OTelExporter{source: source}
	observables := make([]metric.Observable, 0, len(instrumentDefs)+len(internaldefs.HistogramDefs)*2+1)

	for _, def := range instrumentDefs {
		ins, err := meter.Int64ObservableCounter(def.name, metric.WithDescription(def.help))
		if err != nil {
			return nil, fmt.Errorf("create observable counter %s: %w", def.name, err)
		}
		observed := observedInstrument{instrument: ins}
		for value, id := range def.series {
			s := series{id: id}
			if def.key != "" {
				s.attrs = metric.WithAttributes(attribute.String(def.key, value))
			}
			observed.series = append(observed.series, s)
		}
		exporter.instruments = append(exporter.instruments, observed)
		observables = append(observables, ins)
	}

	for _, def := range internaldefs.HistogramDefs {
		h := observedHistogram{id: def.ID}
		var err error
		h.buckets, err = meter.Int64ObservableGauge(otelName(def.Name)+".bucket",
			metric.WithDescription(def.Help+" Cumulative count per upper bound."))
		if err != nil {
			return nil, fmt.Errorf("create histogram bucket gauge %s: %w", def.Name, err)
		}
		for i := range h.bounds {
			h.bounds[i] = metric.WithAttributes(attribute.String("le", upperBound(i)))
		}
		h.count, err = meter.Int64ObservableGauge(otelName(def.Name)+".count",
			metric.WithDescription(def.Help+" Total samples."))
		if err != nil {
			return nil, fmt.Errorf("create histogram count gauge %s: %w", def.Name, err)
		}
		observables = append(observables, h.buckets, h.count)
		exporter.histograms = append(exporter.histograms, h)
	}

	auditDropped, err := meter.Int64ObservableCounter(
		"gocred.audit.dropped",
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
	for _, ins := range e.instruments {
		for _, s := range ins.series {
			value := int64(snapshot.Counters[s.id])
			if s.attrs == nil {
				observer.ObserveInt64(ins.instrument, value)
				continue
			}
			observer.ObserveInt64(ins.instrument, value, s.attrs)
		}
	}
	for _, h := range e.histograms {
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snapshot.Histograms[h.id]))
		for i, total := range cumulative {
			observer.ObserveInt64(h.buckets, int64(total), h.bounds[i])
		}
		observer.ObserveInt64(h.count, int64(cumulative[len(cumulative)-1]))
	}
	observer.ObserveInt64(e.auditDropped, int64(e.source.AuditDropped()))
	return nil
}

// Close unregisters the callback. Instruments stay registered on the meter.
func (e *OTelExporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}

func upperBound(i int) string {
	if i >= len(internaldefs.HistogramUpperBounds) {
		return "+Inf"
	}
	return strconv.FormatFloat(internaldefs.HistogramUpperBounds[i], 'g', -1, 64)
}

// otelName maps "gocred_verify_latency_seconds" to "gocred.verify.latency".
func otelName(promName string) string {
	return strings.ReplaceAll(strings.TrimSuffix(promName, "_seconds"), "_", ".")
}
