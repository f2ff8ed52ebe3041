// Package fuzzengine runs the per-method iteration loop: build a value,
// invoke the method, run the optional post-call checker, sample the
// process monitor, and classify the outcome against the fixed table of
// D-Bus error names and process states.
package fuzzengine

import (
	"errors"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"

	"dbusfuzz/internal/busclient"
	"dbusfuzz/internal/busmodel"
	"dbusfuzz/internal/fuzzctx"
	"dbusfuzz/internal/telemetry"
	"dbusfuzz/internal/valuebuilder"
)

const (
	errNameNoReply      = "org.freedesktop.DBus.Error.NoReply"
	errNameTimeout      = "org.freedesktop.DBus.Error.Timeout"
	errNameAccessDenied = "org.freedesktop.DBus.Error.AccessDenied"
	errNameAuthFailed   = "org.freedesktop.DBus.Error.AuthFailed"
)

// timeoutBackoff is how long the loop waits after a remote NoReply/Timeout
// error that didn't kill the target, before giving up on the method. A var
// so tests can shorten it.
var timeoutBackoff = 10 * time.Second

// RunMethod fuzzes one method until its iteration budget is exhausted or a
// classification ends the loop early. With a nil error the returned Verdict
// is one of Ok, Warning, Failure, Crash, or ExternalCommandFailure; a non-nil
// error comes with VerdictError and means the harness itself could not
// complete the attempt (caller should treat the method as Error and move on,
// per the Introspector's own failure contract).
func RunMethod(fc *fuzzctx.Context, objectPath, interfaceName string, desc busmodel.MethodDescriptor) (busmodel.Verdict, error) {
	sig, err := desc.ParsedSignature()
	if err != nil {
		return busmodel.VerdictError, err
	}

	iterations := valuebuilder.IterationsFor(sig, fc.Limits.MinIterations, fc.Limits.MaxIterations)
	exceptions := 0
	sawWarning := false

	logIteration := func(value *busmodel.Value, v busmodel.Verdict) {
		fc.Log.Iteration(telemetry.IterationFields{
			Interface: interfaceName,
			Object:    objectPath,
			Method:    desc.Name,
			Signature: string(desc.Signature),
			ValueRepr: value.Repr(),
			Verdict:   v,
		})
		fc.RecordIteration(v)
	}

	for i := uint64(0); i < iterations; i++ {
		if fc.Cancelled() {
			return busmodel.VerdictOk, nil
		}

		floating, err := valuebuilder.Build(sig, fc.Rand)
		if err != nil {
			return busmodel.VerdictError, err
		}
		value := floating.Sink()

		target := fc.Target
		target.ObjectPath = objectPath
		started := time.Now()
		result, err := fc.Bus.Invoke(fc.Ctx, target, interfaceName, desc.Name, topLevelArgs(value))
		fc.RecordLatency(time.Since(started))
		if err != nil {
			return busmodel.VerdictError, err
		}

		verdict, terminal, timedOut, err := classifyCall(fc, desc, result, &exceptions)
		if err != nil {
			return busmodel.VerdictError, err
		}
		if timedOut {
			// The target survived the timeout; the back-off already gave it
			// room to drain, but a method that hangs once will hang again,
			// so the rest of its budget is skipped.
			fc.Log.Logf(1, "fuzzengine: %s.%s timed out with target alive, timeout skip", interfaceName, desc.Name)
			logIteration(value, busmodel.VerdictOk)
			if sawWarning {
				return busmodel.VerdictWarning, nil
			}
			return busmodel.VerdictOk, nil
		}
		if terminal {
			logIteration(value, verdict)
			if verdict != busmodel.VerdictOk {
				// AccessDenied/AuthFailed and an exhausted exception budget
				// end the loop with Ok and no reproducer; anything worse
				// gets one.
				fc.Log.Reproducer(target, desc.Name, fc.Limits.BufferSizeHint, fc.MonitorState.SoftLimitKiB, fc.Limits.ExternalCommand)
			}
			return verdict, nil
		}

		if fc.Limits.ExternalCommand != "" {
			exitCode, err := runExternalCommand(fc.Limits.ExternalCommand)
			if err != nil {
				return busmodel.VerdictError, err
			}
			if exitCode > 0 {
				logIteration(value, busmodel.VerdictExternalCommandFailure)
				fc.Log.Reproducer(target, desc.Name, fc.Limits.BufferSizeHint, fc.MonitorState.SoftLimitKiB, fc.Limits.ExternalCommand)
				return busmodel.VerdictExternalCommandFailure, nil
			}
		}

		state, err := fc.Monitor.Observe(fc.MonitorState)
		if err != nil {
			return busmodel.VerdictError, err
		}
		fc.MonitorState = state
		fc.RecordRSS(state.RSSKiB)
		if !state.Alive {
			logIteration(value, busmodel.VerdictCrash)
			fc.Log.Reproducer(target, desc.Name, fc.Limits.BufferSizeHint, fc.MonitorState.SoftLimitKiB, fc.Limits.ExternalCommand)
			return busmodel.VerdictCrash, nil
		}
		if state.ExceedsSoftLimit() {
			logIteration(value, busmodel.VerdictWarning)
			fc.MonitorState.SoftLimitKiB *= 2
			sawWarning = true
			continue
		}

		logIteration(value, busmodel.VerdictOk)
	}

	if sawWarning {
		return busmodel.VerdictWarning, nil
	}
	return busmodel.VerdictOk, nil
}

// classifyCall applies the response classification table to one call's
// result. verdict is meaningful only when terminal is true; timedOut means
// the call timed out but the target survived the liveness re-check, which
// never counts toward the exception budget.
func classifyCall(fc *fuzzctx.Context, desc busmodel.MethodDescriptor, result busclient.CallResult, exceptions *int) (verdict busmodel.Verdict, terminal bool, timedOut bool, err error) {
	switch {
	case !desc.ReturnsValue && len(result.Body) > 0:
		return busmodel.VerdictFailure, true, false, nil

	case result.TimedOut || errorNamed(result.RemoteErr, errNameNoReply, errNameTimeout):
		state, merr := fc.Monitor.Observe(fc.MonitorState)
		if merr != nil {
			return 0, false, false, merr
		}
		fc.MonitorState = state
		if !state.Alive {
			return busmodel.VerdictCrash, true, false, nil
		}
		time.Sleep(timeoutBackoff)
		return 0, false, true, nil

	case errorNamed(result.RemoteErr, errNameAccessDenied, errNameAuthFailed):
		return busmodel.VerdictOk, true, false, nil

	case result.RemoteErr != nil:
		*exceptions++
		if *exceptions >= fc.Limits.MaxExceptions {
			return busmodel.VerdictOk, true, false, nil
		}
		return 0, false, false, nil
	}
	return 0, false, false, nil
}

func topLevelArgs(v *busmodel.Value) []any {
	args := make([]any, len(v.Tuple))
	for i, f := range v.Tuple {
		args[i] = f.AsAny()
	}
	return args
}

func errorNamed(err error, names ...string) bool {
	if err == nil {
		return false
	}
	de, ok := err.(dbus.Error)
	if !ok {
		return false
	}
	for _, n := range names {
		if de.Name == n {
			return true
		}
	}
	return false
}

// runExternalCommand runs the configured post-call checker with its
// standard streams redirected to the null device, returning its exit code.
func runExternalCommand(cmdline string) (int, error) {
	fields := strings.Fields(cmdline)
	if len(fields) == 0 {
		return 0, nil
	}
	devnull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return 0, err
	}
	defer devnull.Close()

	cmd := exec.Command(fields[0], fields[1:]...)
	cmd.Stdin = devnull
	cmd.Stdout = devnull
	cmd.Stderr = devnull
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return 0, err
	}
	return 0, nil
}
