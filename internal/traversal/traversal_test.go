package traversal

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"dbusfuzz/internal/busclient"
	"dbusfuzz/internal/busmodel"
	"dbusfuzz/internal/fuzzctx"
	"dbusfuzz/internal/procmon"
	"dbusfuzz/internal/suppress"
	"dbusfuzz/internal/telemetry"
)

// fakeBusWalker stands in for a real busclient.Client: a fixed map of
// objectPath -> introspection XML, plus scriptable reconnect/PID lookup
// behavior for the crash-recovery tests.
type fakeBusWalker struct {
	docs map[string]string

	reconnectCalls int
	reconnectErr   error
	ownerPID       int
	ownerPIDErr    error
}

func (f *fakeBusWalker) IntrospectXML(_ string, objectPath string) (string, error) {
	doc, ok := f.docs[objectPath]
	if !ok {
		return "", fmt.Errorf("fakeBusWalker: no doc registered for %s", objectPath)
	}
	return doc, nil
}

func (f *fakeBusWalker) OwnerPID(string) (int, error) { return f.ownerPID, f.ownerPIDErr }

func (f *fakeBusWalker) Reconnect() error {
	f.reconnectCalls++
	return f.reconnectErr
}

// fakeInvoker always returns the same successful empty reply, standing in
// for busclient.Invoker without dialing a real bus.
type fakeInvoker struct{}

func (fakeInvoker) Invoke(context.Context, busmodel.BusTarget, string, string, []any) (busclient.CallResult, error) {
	return busclient.CallResult{}, nil
}

type fakeObserver struct {
	state busmodel.MonitorState
}

func (f fakeObserver) Observe(busmodel.MonitorState) (busmodel.MonitorState, error) {
	return f.state, nil
}

const rootDoc = `<node><node name="child"/></node>`

const childDoc = `<node>
  <interface name="org.example.Widget">
    <method name="Ping"/>
  </interface>
</node>`

func newTestContext(t *testing.T, target busmodel.BusTarget, filter suppress.Filter) *fuzzctx.Context {
	t.Helper()
	log, err := telemetry.New(0, "")
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })

	fc := fuzzctx.New(context.Background(), fakeInvoker{}, target, 1, log, filter,
		fuzzctx.Limits{MaxExceptions: 8},
		fakeObserver{state: busmodel.MonitorState{Alive: true, InitialRSSKiB: 1000, SoftLimitKiB: 3000}},
	)
	fc.MonitorState = busmodel.MonitorState{Alive: true, InitialRSSKiB: 1000, SoftLimitKiB: 3000}
	return fc
}

func newTestRunner(bus BusWalker, t *testing.T) *Runner {
	t.Helper()
	log, err := telemetry.New(0, "")
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })
	r := NewRunner(bus, log)
	r.Grace = 0
	return r
}

func TestRunWalksWholeTreeAndAggregatesOk(t *testing.T) {
	bus := &fakeBusWalker{docs: map[string]string{"/": rootDoc, "/child": childDoc}}
	r := newTestRunner(bus, t)
	fc := newTestContext(t, busmodel.BusTarget{Name: "org.example.Widget"}, suppress.None{})

	verdict, err := r.Run(fc)
	require.NoError(t, err)
	require.Equal(t, busmodel.VerdictOk, verdict)
}

func TestRunPinnedObjectPathSkipsChildren(t *testing.T) {
	// "/child" has no registered doc: walking into it would add an Error.
	bus := &fakeBusWalker{docs: map[string]string{"/": rootDoc}}
	r := newTestRunner(bus, t)
	fc := newTestContext(t, busmodel.BusTarget{Name: "org.example.Widget", ObjectPath: "/"}, suppress.None{})

	verdict, err := r.Run(fc)
	require.NoError(t, err)
	require.Equal(t, busmodel.VerdictOk, verdict)
}

func TestRunPinnedObjectPathUnreachableIsError(t *testing.T) {
	bus := &fakeBusWalker{docs: map[string]string{"/": rootDoc, "/child": childDoc}}
	r := newTestRunner(bus, t)
	fc := newTestContext(t, busmodel.BusTarget{Name: "org.example.Widget", ObjectPath: "/missing"}, suppress.None{})

	_, err := r.Run(fc)
	require.Error(t, err)
}

func TestRunPinnedInterfaceOnlyRunsThatInterface(t *testing.T) {
	doc := `<node>
  <interface name="org.example.Widget">
    <method name="Ping"/>
  </interface>
  <interface name="org.example.Other">
    <method name="Other">
      <arg type="z" direction="in"/>
    </method>
  </interface>
</node>`
	bus := &fakeBusWalker{docs: map[string]string{"/": doc}}
	r := newTestRunner(bus, t)
	fc := newTestContext(t, busmodel.BusTarget{
		Name: "org.example.Widget", ObjectPath: "/", Interface: "org.example.Widget",
	}, suppress.None{})

	verdict, err := r.Run(fc)
	require.NoError(t, err)
	require.Equal(t, busmodel.VerdictOk, verdict)
}

// suppressAll is a Filter that skips every method, used to verify the
// traversal never invokes a suppressed method at all.
type suppressAll struct{}

func (suppressAll) Suppressed(string, string, string) (bool, string) { return true, "skip everything" }

func TestRunSuppressedMethodNeverRunsButTreeStaysOk(t *testing.T) {
	bus := &fakeBusWalker{docs: map[string]string{"/": rootDoc, "/child": childDoc}}
	r := newTestRunner(bus, t)
	fc := newTestContext(t, busmodel.BusTarget{Name: "org.example.Widget"}, suppressAll{})
	// Running Ping against a monitor reporting the target gone would yield
	// Crash, so an Ok aggregate shows it was never invoked.
	fc.Monitor = fakeObserver{state: busmodel.MonitorState{Alive: false}}

	verdict, err := r.Run(fc)
	require.NoError(t, err)
	require.Equal(t, busmodel.VerdictOk, verdict)
}

func TestRunIntrospectionFailureOnOneChildDoesNotAbortSiblings(t *testing.T) {
	root := `<node><node name="broken"/><node name="child"/></node>`
	bus := &fakeBusWalker{docs: map[string]string{"/": root, "/child": childDoc}}
	// "/broken" deliberately has no registered doc, so IntrospectXML errors.
	r := newTestRunner(bus, t)
	fc := newTestContext(t, busmodel.BusTarget{Name: "org.example.Widget"}, suppress.None{})

	verdict, err := r.Run(fc)
	require.NoError(t, err)
	require.Equal(t, busmodel.VerdictError, verdict)
}

func TestReconnectAfterCrashRebindsMonitor(t *testing.T) {
	bus := &fakeBusWalker{docs: map[string]string{"/": childDoc}, ownerPID: 4242}
	r := newTestRunner(bus, t)

	var sawPID int
	r.NewMonitor = func(pid int) procmon.Observer {
		sawPID = pid
		return fakeObserver{state: busmodel.MonitorState{Alive: true, InitialRSSKiB: 500, SoftLimitKiB: 1500}}
	}

	fc := newTestContext(t, busmodel.BusTarget{Name: "org.example.Widget", ObjectPath: "/"}, suppress.None{})
	// Force the very first Observe to report the process gone, so FuzzEngine
	// returns Crash on iteration 0.
	fc.Monitor = fakeObserver{state: busmodel.MonitorState{Alive: false}}

	verdict, err := r.Run(fc)
	require.NoError(t, err)
	require.Equal(t, busmodel.VerdictCrash, verdict)
	require.Equal(t, 1, bus.reconnectCalls)
	require.Equal(t, 4242, sawPID)
	require.True(t, fc.MonitorState.Alive)
}

func TestSummaryRecordsEveryMethodVerdictIndependentlyOfAggregate(t *testing.T) {
	root := `<node><node name="broken"/><node name="child"/></node>`
	bus := &fakeBusWalker{docs: map[string]string{"/": root, "/child": childDoc}}
	r := newTestRunner(bus, t)
	r.Summary = &busmodel.RunSummary{}
	fc := newTestContext(t, busmodel.BusTarget{Name: "org.example.Widget"}, suppress.None{})

	verdict, err := r.Run(fc)
	require.NoError(t, err)
	// The aggregate favors Error (introspection failure on "/broken") per
	// severity ordering, but the exit-code precedence table treats a run
	// with no Failure/Crash/ExternalCommandFailure and no Warning as clean
	// apart from the harness error, which is exactly what RunSummary
	// computes independently of the folded Max.
	require.Equal(t, busmodel.VerdictError, verdict)
	require.Equal(t, 1, r.Summary.ExitCode())
}

func TestReconnectAfterCrashFailureStillReportsCrash(t *testing.T) {
	bus := &fakeBusWalker{docs: map[string]string{"/": childDoc}, ownerPIDErr: fmt.Errorf("no such name on bus")}
	r := newTestRunner(bus, t)

	fc := newTestContext(t, busmodel.BusTarget{Name: "org.example.Widget", ObjectPath: "/"}, suppress.None{})
	fc.Monitor = fakeObserver{state: busmodel.MonitorState{Alive: false}}

	verdict, err := r.Run(fc)
	require.NoError(t, err)
	require.Equal(t, busmodel.VerdictCrash, verdict)
}
