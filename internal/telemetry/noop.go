package telemetry

import (
	"context"
	"time"
)

// NoopFacade discards every measurement. It is the mandatory fallback used
// when a caller configures no telemetry backend, per spec.md §4.6.
type NoopFacade struct{}

var _ Facade = NoopFacade{}

func (NoopFacade) RecordOperationDuration(context.Context, time.Duration, ...Attr) {}
func (NoopFacade) RecordReturnedRows(context.Context, int64, ...Attr)              {}
func (NoopFacade) RecordConnectionCreateTime(context.Context, time.Duration, string) {}
func (NoopFacade) RecordConnectionWaitTime(context.Context, time.Duration, string)   {}
func (NoopFacade) RecordConnectionUseTime(context.Context, time.Duration, string)    {}
func (NoopFacade) RecordConnectionTimeout(context.Context, string)                   {}
func (NoopFacade) RegisterPoolGauges(string, PoolSnapshotFunc) error                 { return nil }
