// Package telemetry is the metrics facade spec.md §4.6/§6 describes:
// operation-duration and row-count histograms/counters, connection
// lifecycle timings, and a batched observable gauge publishing pool
// occupancy at export time. It is backed by
// go.opentelemetry.io/otel/metric, with a mandatory no-op implementation
// for callers with no telemetry backend configured.
package telemetry

import (
	"context"
	"time"
)

// PoolSnapshot is what the registered observable-gauge callback publishes
// on every export tick, per spec.md §4.6.
type PoolSnapshot struct {
	IdleCount          int64
	UsedCount           int64
	PendingRequestCount int64
	IdleMin             int64
	IdleMax             int64
	Max                 int64
}

// PoolSnapshotFunc is called at export time to get the current snapshot for
// one named pool.
type PoolSnapshotFunc func() PoolSnapshot

// Facade is the metrics contract every pool and connection reports through.
// A caller supplies one via DialConfig.Telemetry; NoopFacade is used when
// none is configured.
type Facade interface {
	RecordOperationDuration(ctx context.Context, d time.Duration, attrs ...Attr)
	RecordReturnedRows(ctx context.Context, n int64, attrs ...Attr)
	RecordConnectionCreateTime(ctx context.Context, d time.Duration, pool string)
	RecordConnectionWaitTime(ctx context.Context, d time.Duration, pool string)
	RecordConnectionUseTime(ctx context.Context, d time.Duration, pool string)
	RecordConnectionTimeout(ctx context.Context, pool string)
	// RegisterPoolGauges wires a pool's snapshot function into the
	// batched observable-gauge callback. Calling it twice for the same
	// pool name replaces the previous registration.
	RegisterPoolGauges(pool string, fn PoolSnapshotFunc) error
}

// Attr is a single metric attribute (label), kept independent of any
// specific metrics backend's attribute type.
type Attr struct {
	Key   string
	Value string
}

// String builds an Attr.
func String(key, value string) Attr { return Attr{Key: key, Value: value} }

// meterName identifies this library's instrumentation scope.
const meterName = "github.com/dbbouncer/mysqlclient"
