// Package config loads optional YAML defaults for the numeric flags that
// would otherwise need to be repeated on every invocation against the same
// target: RSS threshold, string-buffer size, and the iteration clamps.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"dbusfuzz/internal/fuzzctx"
)

// File is the on-disk shape of an optional config file, e.g.:
//
//	max_rss_kib: 524288
//	max_string_bytes: 8192
//	min_iterations: 20
//	max_iterations: 5000
//	suppress_file: /etc/dbusfuzz.suppress
type File struct {
	MaxRSSKiB       int64  `yaml:"max_rss_kib"`
	MaxStringBytes  int    `yaml:"max_string_bytes"`
	MinIterations   uint64 `yaml:"min_iterations"`
	MaxIterations   uint64 `yaml:"max_iterations"`
	SuppressFile    string `yaml:"suppress_file"`
	ExternalCommand string `yaml:"external_command"`
}

// Load reads and parses path.
func Load(path string) (File, error) {
	var f File
	data, err := os.ReadFile(path)
	if err != nil {
		return f, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return f, nil
}

// ApplyDefaults fills limits' zero fields from f, leaving any value the
// caller already set (e.g. from a command-line flag) untouched — flags
// always take precedence over the config file.
func (f File) ApplyDefaults(limits fuzzctx.Limits) fuzzctx.Limits {
	if limits.MinIterations == 0 {
		limits.MinIterations = f.MinIterations
	}
	if limits.MaxIterations == 0 {
		limits.MaxIterations = f.MaxIterations
	}
	if limits.ExternalCommand == "" {
		limits.ExternalCommand = f.ExternalCommand
	}
	if limits.BufferSizeHint == 0 {
		limits.BufferSizeHint = f.MaxStringBytes
	}
	return limits
}
