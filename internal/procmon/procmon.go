// Package procmon watches a target process's liveness and memory footprint
// by reading its /proc entry, producing the busmodel.MonitorState the
// fuzzer uses to decide between Ok, Warning, and Crash.
package procmon

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/prometheus/procfs"

	"dbusfuzz/internal/busmodel"
)

// Observer is the Monitor capability internal/fuzzengine and
// internal/traversal depend on, narrow enough that tests can substitute a
// fake instead of reading real /proc state.
type Observer interface {
	Observe(prev busmodel.MonitorState) (busmodel.MonitorState, error)
}

// Monitor tracks one PID across repeated Observe calls.
type Monitor struct {
	pid int
}

// New returns a Monitor for pid. The caller observes it at least once
// before fuzzing begins to capture the initial RSS baseline.
func New(pid int) *Monitor {
	return &Monitor{pid: pid}
}

// Observe reads the current state of the monitored process. prev carries
// forward InitialRSSKiB and SoftLimitKiB from the first observation; pass
// the zero value on the very first call and Observe fills both in.
func (m *Monitor) Observe(prev busmodel.MonitorState) (busmodel.MonitorState, error) {
	proc, err := procfs.NewProc(m.pid)
	if err != nil {
		if os.IsNotExist(err) {
			return busmodel.MonitorState{Alive: false}, nil
		}
		return busmodel.MonitorState{}, fmt.Errorf("procmon: open /proc/%d: %w", m.pid, err)
	}

	status, err := proc.NewStatus()
	if err != nil {
		if os.IsNotExist(err) {
			return busmodel.MonitorState{Alive: false}, nil
		}
		return busmodel.MonitorState{}, fmt.Errorf("procmon: read status for pid %d: %w", m.pid, err)
	}

	coreDumping, err := readCoreDumping(m.pid)
	if err != nil {
		if os.IsNotExist(err) {
			return busmodel.MonitorState{Alive: false}, nil
		}
		return busmodel.MonitorState{}, fmt.Errorf("procmon: read CoreDumping for pid %d: %w", m.pid, err)
	}

	rssKiB := int64(status.VmRSS / 1024)

	initial := prev.InitialRSSKiB
	if initial == 0 {
		initial = rssKiB
	}
	softLimit := prev.SoftLimitKiB
	if softLimit == 0 {
		softLimit = busmodel.DefaultSoftLimitKiB(initial)
	}

	return busmodel.MonitorState{
		Alive:         true,
		CoreDumping:   coreDumping,
		RSSKiB:        rssKiB,
		InitialRSSKiB: initial,
		SoftLimitKiB:  softLimit,
	}, nil
}

// readCoreDumping scans /proc/<pid>/status directly for the CoreDumping
// field, the one piece of state github.com/prometheus/procfs does not
// expose through ProcStatus. Every other field this module needs comes from
// that library.
func readCoreDumping(pid int) (bool, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/status", pid))
	if err != nil {
		return false, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "CoreDumping:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return false, fmt.Errorf("procmon: malformed CoreDumping line %q", line)
		}
		v, err := strconv.Atoi(fields[1])
		if err != nil {
			return false, fmt.Errorf("procmon: malformed CoreDumping value in %q: %w", line, err)
		}
		return v != 0, nil
	}
	if err := scanner.Err(); err != nil {
		return false, err
	}
	// Kernels without the CoreDumping field (pre-4.15) simply never report it.
	return false, nil
}
