package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OtelFacade backs Facade with go.opentelemetry.io/otel/metric
// instruments: counters and histograms updated synchronously, plus an
// Int64ObservableGauge populated via a single batch callback covering
// every registered pool, per spec.md §4.6.
type OtelFacade struct {
	meter metric.Meter

	operationDuration metric.Float64Histogram
	returnedRows      metric.Int64Histogram
	connCreateTime    metric.Float64Histogram
	connWaitTime      metric.Float64Histogram
	connUseTime       metric.Float64Histogram
	connTimeouts      metric.Int64Counter

	idleGauge    metric.Int64ObservableGauge
	usedGauge    metric.Int64ObservableGauge
	pendingGauge metric.Int64ObservableGauge
	idleMinGauge metric.Int64ObservableGauge
	idleMaxGauge metric.Int64ObservableGauge
	maxGauge     metric.Int64ObservableGauge

	mu    sync.Mutex
	pools map[string]PoolSnapshotFunc
	reg   metric.Registration
}

// NewOtelFacade builds a Facade on top of the given MeterProvider (use
// noop.NewMeterProvider() for a mandatory no-op instance, or a real SDK
// MeterProvider to actually export).
func NewOtelFacade(provider metric.MeterProvider) (*OtelFacade, error) {
	meter := provider.Meter(meterName)
	f := &OtelFacade{meter: meter, pools: make(map[string]PoolSnapshotFunc)}

	var err error
	if f.operationDuration, err = meter.Float64Histogram("mysqlclient.operation.duration",
		metric.WithDescription("Duration of a command-phase operation"), metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if f.returnedRows, err = meter.Int64Histogram("mysqlclient.operation.returned_rows",
		metric.WithDescription("Number of rows returned by a query")); err != nil {
		return nil, err
	}
	if f.connCreateTime, err = meter.Float64Histogram("mysqlclient.connection.create_time",
		metric.WithDescription("Time to establish and authenticate a new connection"), metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if f.connWaitTime, err = meter.Float64Histogram("mysqlclient.connection.wait_time",
		metric.WithDescription("Time a caller waited to acquire a connection"), metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if f.connUseTime, err = meter.Float64Histogram("mysqlclient.connection.use_time",
		metric.WithDescription("Time a connection was held between acquire and release"), metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if f.connTimeouts, err = meter.Int64Counter("mysqlclient.connection.timeouts",
		metric.WithDescription("Acquire attempts that timed out")); err != nil {
		return nil, err
	}

	if f.idleGauge, err = meter.Int64ObservableGauge("mysqlclient.pool.idle_count"); err != nil {
		return nil, err
	}
	if f.usedGauge, err = meter.Int64ObservableGauge("mysqlclient.pool.used_count"); err != nil {
		return nil, err
	}
	if f.pendingGauge, err = meter.Int64ObservableGauge("mysqlclient.pool.pending_request_count"); err != nil {
		return nil, err
	}
	if f.idleMinGauge, err = meter.Int64ObservableGauge("mysqlclient.pool.idle_min"); err != nil {
		return nil, err
	}
	if f.idleMaxGauge, err = meter.Int64ObservableGauge("mysqlclient.pool.idle_max"); err != nil {
		return nil, err
	}
	if f.maxGauge, err = meter.Int64ObservableGauge("mysqlclient.pool.max"); err != nil {
		return nil, err
	}

	reg, err := meter.RegisterCallback(f.observe,
		f.idleGauge, f.usedGauge, f.pendingGauge, f.idleMinGauge, f.idleMaxGauge, f.maxGauge)
	if err != nil {
		return nil, fmt.Errorf("registering pool gauge callback: %w", err)
	}
	f.reg = reg
	return f, nil
}

func (f *OtelFacade) observe(_ context.Context, o metric.Observer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for pool, fn := range f.pools {
		s := fn()
		attr := metric.WithAttributes(attribute.String("pool", pool))
		o.ObserveInt64(f.idleGauge, s.IdleCount, attr)
		o.ObserveInt64(f.usedGauge, s.UsedCount, attr)
		o.ObserveInt64(f.pendingGauge, s.PendingRequestCount, attr)
		o.ObserveInt64(f.idleMinGauge, s.IdleMin, attr)
		o.ObserveInt64(f.idleMaxGauge, s.IdleMax, attr)
		o.ObserveInt64(f.maxGauge, s.Max, attr)
	}
	return nil
}

// RegisterPoolGauges records fn as the snapshot source for pool; it will be
// invoked on every subsequent export tick, until a later call for the same
// pool name replaces it.
func (f *OtelFacade) RegisterPoolGauges(pool string, fn PoolSnapshotFunc) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pools[pool] = fn
	return nil
}

// RecordOperationDuration records a command-phase operation's duration.
func (f *OtelFacade) RecordOperationDuration(ctx context.Context, d time.Duration, attrs ...Attr) {
	f.operationDuration.Record(ctx, d.Seconds(), metric.WithAttributes(otelAttrs(attrs)...))
}

// RecordReturnedRows records how many rows a query returned.
func (f *OtelFacade) RecordReturnedRows(ctx context.Context, n int64, attrs ...Attr) {
	f.returnedRows.Record(ctx, n, metric.WithAttributes(otelAttrs(attrs)...))
}

// RecordConnectionCreateTime records how long dialing and authenticating a
// new connection took.
func (f *OtelFacade) RecordConnectionCreateTime(ctx context.Context, d time.Duration, pool string) {
	f.connCreateTime.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("pool", pool)))
}

// RecordConnectionWaitTime records how long a caller waited in Acquire.
func (f *OtelFacade) RecordConnectionWaitTime(ctx context.Context, d time.Duration, pool string) {
	f.connWaitTime.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("pool", pool)))
}

// RecordConnectionUseTime records how long a connection was checked out.
func (f *OtelFacade) RecordConnectionUseTime(ctx context.Context, d time.Duration, pool string) {
	f.connUseTime.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("pool", pool)))
}

// RecordConnectionTimeout increments the acquire-timeout counter for pool.
func (f *OtelFacade) RecordConnectionTimeout(ctx context.Context, pool string) {
	f.connTimeouts.Add(ctx, 1, metric.WithAttributes(attribute.String("pool", pool)))
}

func otelAttrs(attrs []Attr) []attribute.KeyValue {
	out := make([]attribute.KeyValue, len(attrs))
	for i, a := range attrs {
		out[i] = attribute.String(a.Key, a.Value)
	}
	return out
}
