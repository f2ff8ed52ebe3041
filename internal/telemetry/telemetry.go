// Package telemetry is the logging facade the rest of the fuzzer calls
// into: human-readable progress on stderr, an optional structured
// append-only log file, and the reproducer-line format emitted when a run
// ends on a Failure/Crash/ExternalCommandFailure verdict.
package telemetry

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"dbusfuzz/internal/busmodel"
)

// maxValueReprBytes bounds how much of a single value's Repr() reaches a
// log line; longer reprs are cut with Truncate.
const maxValueReprBytes = 2048

// Logger wraps a *zap.Logger with the pieces specific to this fuzzer: a
// verbosity-numbered Logf matching the convention call sites expect, an
// optional structured per-iteration log file, and reproducer-line
// formatting.
type Logger struct {
	base     *zap.Logger
	verbose  int
	appendTo *os.File
	runID    string
}

// New builds a Logger. verbosity is the -v flag value: higher means more
// Logf calls are actually emitted. appendLogPath is the optional
// append-only structured log file; an empty path disables it.
func New(verbosity int, appendLogPath string) (*Logger, error) {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewConsoleEncoder(cfg)
	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), zapcore.DebugLevel)
	base := zap.New(core)

	// Every run gets its own id so that reproducer lines from interleaved or
	// restarted runs can be told apart; append-log lines do not carry it.
	l := &Logger{base: base, verbose: verbosity, runID: uuid.NewString()}
	if appendLogPath != "" {
		f, err := os.OpenFile(appendLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("telemetry: open append log %s: %w", appendLogPath, err)
		}
		l.appendTo = f
	}
	return l, nil
}

// RunID returns this run's unique identifier, stamped into every
// reproducer line.
func (l *Logger) RunID() string { return l.runID }

// Close flushes the underlying zap core and closes the append-only file.
func (l *Logger) Close() error {
	_ = l.base.Sync()
	if l.appendTo != nil {
		return l.appendTo.Close()
	}
	return nil
}

// Logf logs a formatted message at the given verbosity level, matching the
// long-standing log.Logf(level, format, args...) calling convention: the
// call is a no-op unless level is at or below the configured verbosity.
func (l *Logger) Logf(level int, format string, args ...any) {
	if level > l.verbose {
		return
	}
	l.base.Sugar().Infof(format, args...)
}

// Fatalf logs at the highest severity and terminates the process, mirroring
// the convention's Fatalf sibling to Logf.
func (l *Logger) Fatalf(format string, args ...any) {
	l.base.Sugar().Fatalf(format, args...)
}

// IterationFields is one fuzzed call's structured log record.
type IterationFields struct {
	Interface string
	Object    string
	Method    string
	Signature string
	ValueRepr string
	Verdict   busmodel.Verdict
}

// Iteration writes one structured "interface;object;method;signature;
// value-repr;verdict" line to the append-only log, if configured, and a
// short human-readable summary to stderr at verbosity 1.
func (l *Logger) Iteration(f IterationFields) {
	l.Logf(1, "%s %s.%s%s -> %s", f.Object, f.Interface, f.Method, f.Signature, f.Verdict)

	if l.appendTo == nil {
		return
	}
	repr := Truncate(f.ValueRepr, maxValueReprBytes/2, maxValueReprBytes/2)
	line := strings.Join([]string{f.Interface, f.Object, f.Method, f.Signature, repr, f.Verdict.String()}, ";")
	fmt.Fprintln(l.appendTo, line)
}

// Reproducer emits a line describing everything needed to reproduce a run
// that ended on Failure, Crash, or ExternalCommandFailure: the bus target,
// the method that triggered it, and the RNG-affecting flags.
func (l *Logger) Reproducer(target busmodel.BusTarget, method string, bufferSizeHint int, memLimitKiB int64, externalCommand string) {
	fields := []string{
		"run-id=" + l.runID,
		"target=" + target.String(),
		"method=" + method,
		"buffer-size=" + strconv.Itoa(bufferSizeHint),
		"mem-limit-kib=" + strconv.FormatInt(memLimitKiB, 10),
	}
	if externalCommand != "" {
		fields = append(fields, "external-command="+externalCommand)
	}
	l.base.Sugar().Errorf("reproducer: %s", strings.Join(fields, " "))
}

// Truncate leaves up to begin bytes at the start of s and up to end bytes
// at the end, replacing anything cut from the middle with a byte count.
func Truncate(s string, begin, end int) string {
	log := []byte(s)
	if begin+end >= len(log) {
		return s
	}
	var b bytes.Buffer
	b.Write(log[:begin])
	if begin > 0 {
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "<<cut %d bytes out>>", len(log)-begin-end)
	if end > 0 {
		b.WriteString("\n\n")
	}
	b.Write(log[len(log)-end:])
	return b.String()
}
