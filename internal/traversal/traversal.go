// Package traversal walks a bus name's object tree, running internal/
// fuzzengine over every interface method it finds and folding the results
// into one aggregate verdict. It owns reconnection after a Crash verdict:
// the bus proxy and process monitor for the current target are torn down
// and re-acquired against the respawned process before traversal continues.
package traversal

import (
	"fmt"
	"time"

	"dbusfuzz/internal/busmodel"
	"dbusfuzz/internal/fuzzctx"
	"dbusfuzz/internal/fuzzengine"
	"dbusfuzz/internal/introspect"
	"dbusfuzz/internal/procmon"
	"dbusfuzz/internal/telemetry"
)

// reconnectGrace is the fixed wait after a Crash verdict before
// rediscovering the respawned process's PID; service managers typically
// need a few seconds to restart a crashed unit.
const reconnectGrace = 5 * time.Second

// BusWalker is the subset of busclient.Client traversal needs to walk the
// object tree and recover from a crash: introspection plus the bus driver's
// name/PID lookup, narrow enough that tests substitute a fake instead of
// dialing a real bus.
type BusWalker interface {
	IntrospectXML(busName, objectPath string) (string, error)
	OwnerPID(busName string) (int, error)
	Reconnect() error
}

// Runner drives one fuzzing session against a single bus name.
type Runner struct {
	Bus BusWalker
	Log *telemetry.Logger

	// Grace is how long to wait after a Crash verdict before rediscovering
	// the respawned process. Defaults to reconnectGrace; tests shorten it.
	Grace time.Duration

	// NewMonitor builds the process monitor for a freshly (re)discovered
	// PID. Defaults to procmon.New; tests override it to avoid touching
	// real /proc state after a simulated crash.
	NewMonitor func(pid int) procmon.Observer

	// Summary, if set, records every individual per-method verdict seen
	// during the run (not just each subtree's folded maximum), so the CLI
	// can compute the documented exit code precedence independently of the
	// severity-ordered aggregate Run returns.
	Summary *busmodel.RunSummary
}

func (r *Runner) record(v busmodel.Verdict) {
	if r.Summary != nil {
		r.Summary.Record(v)
	}
}

// NewRunner returns a Runner ready to drive a real bus connection.
func NewRunner(bus BusWalker, log *telemetry.Logger) *Runner {
	return &Runner{
		Bus:   bus,
		Log:   log,
		Grace: reconnectGrace,
		NewMonitor: func(pid int) procmon.Observer {
			return procmon.New(pid)
		},
	}
}

// Run validates that the requested target is reachable (when an object path
// was pinned), then walks the object tree starting at the root, running
// FuzzEngine over every unsuppressed method and aggregating the maximum
// verdict across the whole subtree.
func (r *Runner) Run(fc *fuzzctx.Context) (busmodel.Verdict, error) {
	root := "/"
	if fc.Target.HasObjectPath() {
		root = fc.Target.ObjectPath
		ok, err := r.reachable(fc.Target.Name, root)
		if err != nil {
			return busmodel.VerdictError, err
		}
		if !ok {
			return busmodel.VerdictError, fmt.Errorf("traversal: object %s not reachable on %s", root, fc.Target.Name)
		}
	}
	return r.walk(fc, root), nil
}

// reachable walks the tree once from "/", short-circuiting as soon as
// objectPath is found, so a mistyped -o fails up front instead of silently
// fuzzing nothing.
func (r *Runner) reachable(busName, objectPath string) (bool, error) {
	found := false
	var visit func(path string)
	visit = func(path string) {
		if found {
			return
		}
		node, err := r.fetch(busName, path)
		if err != nil {
			// An introspection failure on an unrelated branch must not abort
			// the reachability search; the branch simply contributes nothing.
			return
		}
		if path == objectPath {
			found = true
			return
		}
		for _, child := range node.Children {
			visit(child)
			if found {
				return
			}
		}
	}
	visit("/")
	return found, nil
}

// walk recurses over the object tree starting at objectPath, fuzzing every
// interface method at each node (or only the one pinned interface/method)
// and recursing into children unless the traversal was pinned to a single
// object. Error on one node never aborts traversal of its siblings; it
// simply contributes VerdictError to the aggregate.
func (r *Runner) walk(fc *fuzzctx.Context, objectPath string) busmodel.Verdict {
	if fc.Cancelled() {
		return busmodel.VerdictOk
	}

	node, err := r.fetch(fc.Target.Name, objectPath)
	if err != nil {
		r.Log.Logf(0, "traversal: introspect %s%s: %v", fc.Target.Name, objectPath, err)
		r.record(busmodel.VerdictError)
		return busmodel.VerdictError
	}

	verdict := busmodel.VerdictOk

	ifaces := node.Interfaces
	if fc.Target.HasInterface() {
		methods, ok := node.Interfaces[fc.Target.Interface]
		if !ok {
			ifaces = nil
		} else {
			ifaces = map[string][]busmodel.MethodDescriptor{fc.Target.Interface: methods}
		}
	}

	for ifaceName, methods := range ifaces {
		for _, m := range methods {
			if fc.Target.HasMethod() && m.Name != fc.Target.Method {
				continue
			}
			if fc.Filter != nil {
				if skip, reason := fc.Filter.Suppressed(objectPath, ifaceName, m.Name); skip {
					r.Log.Logf(1, "traversal: skip %s.%s%s: %s", ifaceName, m.Name, m.Signature, reason)
					continue
				}
			}

			v := r.runMethod(fc, objectPath, ifaceName, m)
			verdict = busmodel.Max(verdict, v)

			if fc.Cancelled() {
				return verdict
			}
		}
	}

	if fc.Target.HasObjectPath() {
		return verdict
	}

	for _, child := range node.Children {
		verdict = busmodel.Max(verdict, r.walk(fc, child))
		if fc.Cancelled() {
			break
		}
	}
	return verdict
}

// runMethod runs one method through FuzzEngine, reconnecting the bus proxy
// and process monitor if it ends on a Crash verdict so that later methods
// in the traversal use a freshly acquired proxy bound to the respawned
// process.
func (r *Runner) runMethod(fc *fuzzctx.Context, objectPath, ifaceName string, m busmodel.MethodDescriptor) busmodel.Verdict {
	verdict, err := fuzzengine.RunMethod(fc, objectPath, ifaceName, m)
	if err != nil {
		r.Log.Logf(0, "traversal: %s.%s%s: %v", ifaceName, m.Name, m.Signature, err)
		r.record(busmodel.VerdictError)
		return busmodel.VerdictError
	}
	r.record(verdict)
	if verdict != busmodel.VerdictCrash {
		return verdict
	}

	if err := r.reconnectAfterCrash(fc); err != nil {
		r.Log.Logf(0, "traversal: reconnect after crash failed, continuing with the stale proxy: %v", err)
	}
	return busmodel.VerdictCrash
}

// reconnectAfterCrash waits the fixed grace period, rediscovers the
// respawned process's PID via the bus driver, and rebinds fc's bus
// connection and process monitor to it. If rediscovery fails, the caller's
// Crash verdict for this method stands and traversal simply continues at
// the next sibling with the stale proxy (which will itself fail fast).
func (r *Runner) reconnectAfterCrash(fc *fuzzctx.Context) error {
	time.Sleep(r.Grace)

	if err := r.Bus.Reconnect(); err != nil {
		return fmt.Errorf("reconnect bus: %w", err)
	}
	pid, err := r.Bus.OwnerPID(fc.Target.Name)
	if err != nil {
		return fmt.Errorf("rediscover pid for %s: %w", fc.Target.Name, err)
	}
	mon := r.NewMonitor(pid)
	state, err := mon.Observe(busmodel.MonitorState{})
	if err != nil {
		return fmt.Errorf("observe respawned process %d: %w", pid, err)
	}
	// r.Bus.Reconnect() mutates the underlying connection in place (see
	// busclient.Client.Reconnect), so fc.Bus — which shares that same
	// concrete Client — needs no reassignment; only the monitor changes.
	fc.Monitor = mon
	fc.MonitorState = state
	return nil
}

// fetch introspects (busName, objectPath) and parses the result, leaving the
// caller to record an Error verdict and continue with siblings on failure.
func (r *Runner) fetch(busName, objectPath string) (*busmodel.Node, error) {
	return introspect.Fetch(r.Bus, busName, objectPath)
}
