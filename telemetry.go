package mysqlclient

import (
	"go.opentelemetry.io/otel/metric"

	"github.com/dbbouncer/mysqlclient/internal/telemetry"
)

// TelemetryFacade is the metrics contract a DialConfig accepts, defined in
// internal/telemetry since the pool and connection types that report
// through it also live below the root package.
type TelemetryFacade = telemetry.Facade

// NoopTelemetry discards every measurement; it is the default when
// DialConfig.Telemetry is left nil.
type NoopTelemetry = telemetry.NoopFacade

// NewOtelTelemetry builds a TelemetryFacade backed by the given OTel
// MeterProvider (use go.opentelemetry.io/otel/metric/noop.NewMeterProvider()
// for an explicit no-op, or an SDK provider to actually export).
func NewOtelTelemetry(provider metric.MeterProvider) (TelemetryFacade, error) {
	return telemetry.NewOtelFacade(provider)
}
