// Command dbusfuzz fuzzes a service exposed over the local D-Bus: given a
// well-known bus name, it introspects the service's remote methods,
// synthesizes randomized but type-correct argument payloads, invokes each
// method repeatedly, and classifies the outcome. This file and cli.go are
// the thin CLI/exit-code layer over the packages under internal/.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"dbusfuzz/internal/busclient"
	"dbusfuzz/internal/busmodel"
	"dbusfuzz/internal/config"
	"dbusfuzz/internal/fuzzctx"
	"dbusfuzz/internal/metrics"
	"dbusfuzz/internal/procmon"
	"dbusfuzz/internal/randsource"
	"dbusfuzz/internal/suppress"
	"dbusfuzz/internal/telemetry"
	"dbusfuzz/internal/traversal"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run implements the CLI's documented exit codes: 0 once every
// test has passed (including skips), 1 on a harness error, 2 if at least one
// Failure/Crash/ExternalCommandFailure was seen, 3 if at least one Warning
// was seen and nothing worse.
func run(args []string, stdout, stderr io.Writer) int {
	cfg, err := parseArgs(args, stderr)
	if err != nil {
		return 1
	}
	if cfg.help {
		return 0
	}
	if cfg.version {
		fmt.Fprintln(stdout, "dbusfuzz", cliVersion)
		return 0
	}

	var fileCfg config.File
	if cfg.configPath != "" {
		fileCfg, err = config.Load(cfg.configPath)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
	}
	if cfg.suppressPath == "" {
		cfg.suppressPath = fileCfg.SuppressFile
	}
	if cfg.maxRSSKiB == 0 {
		cfg.maxRSSKiB = fileCfg.MaxRSSKiB
	}

	verbosity := cfg.verbose
	if cfg.debug {
		verbosity = 3
	}
	log, err := telemetry.New(verbosity, cfg.logPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer log.Close()
	log.Logf(1, "dbusfuzz %s run %s", cliVersion, log.RunID())

	bus, err := busclient.Dial(cfg.system)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer bus.Close()

	if cfg.listNames {
		return listNames(bus, cfg.system, stdout, stderr)
	}

	target := busmodel.BusTarget{
		Name:       cfg.busName,
		ObjectPath: cfg.objectPath,
		Interface:  cfg.interfaceName,
		Method:     cfg.methodName,
	}
	if err := target.Validate(); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	filter, err := loadSuppressionFilter(cfg)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	pid, err := bus.OwnerPID(cfg.busName)
	if err != nil {
		fmt.Fprintln(stderr, fmt.Errorf("dbusfuzz: resolve owner pid of %s: %w", cfg.busName, err))
		return 1
	}
	mon := procmon.New(pid)
	initial, err := mon.Observe(busmodel.MonitorState{})
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	initial.SoftLimitKiB = busmodel.NormalizeSoftLimitKiB(cfg.maxRSSKiB, initial.InitialRSSKiB)

	var metricsReg *metrics.Registry
	if cfg.metricsAddr != "" {
		metricsReg, err = metrics.New(cfg.metricsAddr)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		defer metricsReg.Close(context.Background())
		metricsReg.RecordRSS(initial.RSSKiB)
	}

	limits := fuzzctx.Limits{
		MinIterations:   cfg.minIterations,
		MaxIterations:   cfg.maxIterations,
		MaxExceptions:   8,
		BufferSizeHint:  cfg.maxStringBytes,
		ExternalCommand: cfg.externalCommand,
	}
	limits = fileCfg.ApplyDefaults(limits)
	if limits.BufferSizeHint != 0 && limits.BufferSizeHint < minMaxStringBytes {
		fmt.Fprintf(stderr, "dbusfuzz: max_string_bytes must be at least %d, got %d\n", minMaxStringBytes, limits.BufferSizeHint)
		return 1
	}

	fc := fuzzctx.New(context.Background(), bus, target, randsource.SeedFromTime(), log, filter, limits, mon)
	fc.MonitorState = initial
	if metricsReg != nil {
		fc.Metrics = metricsReg
	}

	runner := traversal.NewRunner(bus, log)
	runner.Summary = &busmodel.RunSummary{}

	installSignalHandler(fc)

	if _, err := runner.Run(fc); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if metricsReg != nil {
		metricsReg.RecordRSS(fc.MonitorState.RSSKiB)
		log.Logf(1, "call latency: p50=%.3fs p95=%.3fs",
			metricsReg.LatencyQuantile(0.5), metricsReg.LatencyQuantile(0.95))
	}

	return runner.Summary.ExitCode()
}

// loadSuppressionFilter resolves cfg.suppressPath (or, if unset, the
// default search order: cwd, then $HOME, then /etc) and loads it,
// falling back to a no-op filter when no suppression file is configured or
// found at any candidate path.
func loadSuppressionFilter(cfg *cliConfig) (suppress.Filter, error) {
	path := cfg.suppressPath
	if path == "" {
		found, ok := suppress.DefaultPath("dbusfuzz.suppress")
		if !ok {
			return suppress.None{}, nil
		}
		path = found
	}
	ff, err := suppress.Load(path)
	if err != nil {
		return nil, err
	}
	return suppress.ForBus(ff, cfg.busName), nil
}

// listNames implements -l: dial whichever of the session/system bus wasn't
// already dialed as primary, list names on both, and print them.
func listNames(primary *busclient.Client, primarySystem bool, stdout, stderr io.Writer) int {
	other, err := busclient.Dial(!primarySystem)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer other.Close()

	primaryNames, err := primary.ListNames()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	otherNames, err := other.ListNames()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	sessionNames, systemNames := primaryNames, otherNames
	if primarySystem {
		sessionNames, systemNames = otherNames, primaryNames
	}

	fmt.Fprintln(stdout, "session bus:")
	for _, n := range sessionNames {
		fmt.Fprintln(stdout, " ", n)
	}
	fmt.Fprintln(stdout, "system bus:")
	for _, n := range systemNames {
		fmt.Fprintln(stdout, " ", n)
	}
	return 0
}

// installSignalHandler sets fc's cooperative "please exit" flag on SIGINT/
// SIGTERM. In-flight IPC calls are not cancelled; the flag is checked
// between iterations and between methods.
func installSignalHandler(fc *fuzzctx.Context) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fc.Cancel()
	}()
}
