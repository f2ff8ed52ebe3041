// Package fuzzctx replaces the process-wide singletons the original design
// relied on (RNG state, the current bus target, log level) with one
// explicit struct threaded from Traversal down through FuzzEngine. Nothing
// in this module reaches for a package-level variable to get at run state.
package fuzzctx

import (
	"context"
	"sync/atomic"
	"time"

	"dbusfuzz/internal/busclient"
	"dbusfuzz/internal/busmodel"
	"dbusfuzz/internal/procmon"
	"dbusfuzz/internal/randsource"
	"dbusfuzz/internal/suppress"
	"dbusfuzz/internal/telemetry"
)

// Recorder optionally observes every iteration's verdict, call latency,
// and RSS sample, letting FuzzEngine feed live counters without depending
// on internal/metrics directly.
type Recorder interface {
	RecordIteration(busmodel.Verdict)
	RecordLatency(time.Duration)
	RecordRSS(kib int64)
}

// Limits bounds a single run: iteration counts, exception budget, the
// generated-string size hint, and the optional post-call command.
type Limits struct {
	MinIterations uint64
	MaxIterations uint64
	MaxExceptions int
	BufferSizeHint int
	ExternalCommand string
}

// Context is the explicit run state passed from Traversal into FuzzEngine
// and onward into ValueBuilder, in place of the global mutable state a
// process-singleton design would otherwise reach for.
type Context struct {
	Ctx context.Context

	Bus    busclient.Invoker
	Target busmodel.BusTarget
	Rand   *randsource.Source
	Log    *telemetry.Logger
	Filter suppress.Filter
	Limits Limits

	// Monitor is rebuilt by Traversal against the current PID after a
	// Crash-triggered reconnect, so it lives here rather than being owned
	// by FuzzEngine directly.
	Monitor procmon.Observer
	// MonitorState is the last observation taken through Monitor; FuzzEngine
	// updates it every iteration so InitialRSSKiB/SoftLimitKiB (including any
	// doubling from a Warning) persist across iterations and methods.
	MonitorState busmodel.MonitorState

	// Metrics, if set, is notified of every iteration's final verdict.
	Metrics Recorder

	// cancelled is set from the signal-handling goroutine and read by the
	// run loop, so it is only accessed atomically.
	cancelled int32
}

// RecordIteration forwards v to Metrics if one is configured; a nil
// Metrics makes this a no-op so callers never need to check for it.
func (c *Context) RecordIteration(v busmodel.Verdict) {
	if c.Metrics != nil {
		c.Metrics.RecordIteration(v)
	}
}

// RecordLatency forwards one call's wall-clock duration to Metrics.
func (c *Context) RecordLatency(d time.Duration) {
	if c.Metrics != nil {
		c.Metrics.RecordLatency(d)
	}
}

// RecordRSS forwards one RSS observation to Metrics.
func (c *Context) RecordRSS(kib int64) {
	if c.Metrics != nil {
		c.Metrics.RecordRSS(kib)
	}
}

// New builds a Context for one traversal run.
func New(ctx context.Context, bus busclient.Invoker, target busmodel.BusTarget, seed int64, log *telemetry.Logger, filter suppress.Filter, limits Limits, mon procmon.Observer) *Context {
	rnd := randsource.New(seed)
	rnd.SetMaxStringBytes(limits.BufferSizeHint)
	return &Context{
		Ctx:     ctx,
		Bus:     bus,
		Target:  target,
		Rand:    rnd,
		Log:     log,
		Filter:  filter,
		Limits:  limits,
		Monitor: mon,
	}
}

// Cancel marks the run for early termination; Traversal checks Cancelled
// between methods rather than tearing down goroutines, since the run is
// single-threaded by design.
func (c *Context) Cancel() { atomic.StoreInt32(&c.cancelled, 1) }

// Cancelled reports whether Cancel has been called.
func (c *Context) Cancelled() bool { return atomic.LoadInt32(&c.cancelled) == 1 }

// WithMonitor returns a shallow copy of c pointed at a new Monitor and bus
// connection; the copy shares c's RNG stream and keeps its limits.
func (c *Context) WithMonitor(bus busclient.Invoker, mon procmon.Observer) *Context {
	cp := *c
	cp.Bus = bus
	cp.Monitor = mon
	return &cp
}
