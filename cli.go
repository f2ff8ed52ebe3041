package main

import (
	"fmt"
	"io"

	"github.com/spf13/pflag"
)

// cliVersion is reported by -V/--version.
const cliVersion = "0.1.0"

// cliConfig is the full flag surface: the fuzzing target and limits, plus
// a config file, a metrics address, an explicit suppression-file override,
// and a --system switch since this tool talks to either message bus.
type cliConfig struct {
	busName       string
	objectPath    string
	interfaceName string
	methodName    string

	maxRSSKiB      int64
	maxStringBytes int

	listNames bool
	verbose   int
	debug     bool
	logPath   string

	externalCommand string

	minIterations uint64
	maxIterations uint64

	version bool
	help    bool

	configPath   string
	suppressPath string
	metricsAddr  string
	system       bool
}

// minMaxStringBytes is the smallest -b value accepted; anything shorter
// would starve the growing-string generator of room past the seeded
// interesting strings.
const minMaxStringBytes = 256

// parseArgs parses args (typically os.Args[1:]) into a cliConfig. Usage
// text is written to stderr on a parse error or when -h/--help is given.
func parseArgs(args []string, stderr io.Writer) (*cliConfig, error) {
	fs := pflag.NewFlagSet("dbusfuzz", pflag.ContinueOnError)
	fs.SetOutput(stderr)

	cfg := &cliConfig{}
	fs.StringVarP(&cfg.busName, "name", "n", "", "well-known bus name to fuzz (required unless -l)")
	fs.StringVarP(&cfg.objectPath, "object", "o", "", "restrict the traversal to one object path")
	fs.StringVarP(&cfg.interfaceName, "interface", "i", "", "restrict the traversal to one interface")
	fs.StringVarP(&cfg.methodName, "method", "t", "", "restrict the traversal to one method")
	fs.Int64VarP(&cfg.maxRSSKiB, "max-rss", "m", 0, "soft RSS limit in KiB (0 uses the default: 3x the target's initial RSS)")
	fs.IntVarP(&cfg.maxStringBytes, "max-string-bytes", "b", 0, "upper bound on generated string length, minimum 256 (0 uses the built-in default)")
	fs.BoolVarP(&cfg.listNames, "list", "l", false, "list names on both the session and system bus, then exit")
	fs.CountVarP(&cfg.verbose, "verbose", "v", "increase logging verbosity (repeatable)")
	fs.BoolVarP(&cfg.debug, "debug", "d", false, "enable debug-level logging")
	fs.StringVarP(&cfg.logPath, "log", "L", "", "append structured per-iteration log lines to this file")
	fs.StringVarP(&cfg.externalCommand, "exec", "e", "", "run this command after every call and treat a nonzero exit as a failure")
	fs.Uint64Var(&cfg.minIterations, "min-iterations", 0, "clamp every method's iteration budget to at least this many calls")
	fs.Uint64Var(&cfg.maxIterations, "max-iterations", 0, "clamp every method's iteration budget to at most this many calls")
	fs.BoolVarP(&cfg.version, "version", "V", false, "print the version and exit")
	fs.BoolVarP(&cfg.help, "help", "h", false, "print usage and exit")
	fs.StringVar(&cfg.configPath, "config", "", "optional YAML file supplying defaults for the numeric flags above")
	fs.StringVar(&cfg.suppressPath, "suppress-file", "", "suppression file path (default: search cwd, then $HOME, then /etc)")
	fs.StringVar(&cfg.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (disabled if empty)")
	fs.BoolVar(&cfg.system, "system", false, "connect to the system bus instead of the session bus")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if cfg.help || cfg.version || cfg.listNames {
		return cfg, nil
	}
	if cfg.busName == "" {
		fmt.Fprintln(stderr, "dbusfuzz: -n/--name is required unless -l/--list is given")
		if fs.Usage != nil {
			fs.Usage()
		}
		return nil, errUsage
	}
	if cfg.maxStringBytes != 0 && cfg.maxStringBytes < minMaxStringBytes {
		return nil, fmt.Errorf("dbusfuzz: -b/--max-string-bytes must be at least %d, got %d", minMaxStringBytes, cfg.maxStringBytes)
	}
	return cfg, nil
}

// errUsage is returned when argument validation fails for a reason other
// than pflag's own parse error; main.go maps both to exit code 1.
var errUsage = fmt.Errorf("dbusfuzz: invalid arguments")
