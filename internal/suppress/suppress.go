// Package suppress answers whether a given (object, interface, method)
// triple should be skipped by the traversal, and why.
package suppress

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/ini.v1"
)

// Filter maps (object, interface, method) to a skip decision with a
// description. The fuzzer only ever consumes this interface; how entries
// get into it is an implementation detail of whichever Filter is wired in.
type Filter interface {
	// Suppressed reports whether the given method should be skipped, and if
	// so, the human-readable reason recorded next to it in the file.
	Suppressed(object, iface, method string) (skip bool, description string)
}

// None is a Filter that never suppresses anything, used when no
// suppression file is configured or found.
type None struct{}

func (None) Suppressed(string, string, string) (bool, string) { return false, "" }

// entry is one parsed suppression rule. Object and Interface are empty when
// the rule's key omitted that segment, meaning "match any".
type entry struct {
	object      string
	iface       string
	method      string
	description string
}

// FileFilter is a Filter loaded from an INI-like suppression file: one
// section per bus name, one line per rule within a section.
type FileFilter struct {
	bySection map[string][]entry
}

// Load parses path into a FileFilter.
func Load(path string) (*FileFilter, error) {
	cfg, err := ini.LoadSources(ini.LoadOptions{AllowBooleanKeys: true, KeyValueDelimiters: "="}, path)
	if err != nil {
		return nil, fmt.Errorf("suppress: load %s: %w", path, err)
	}

	ff := &FileFilter{bySection: map[string][]entry{}}
	for _, section := range cfg.Sections() {
		if section.Name() == ini.DefaultSection {
			continue
		}
		var entries []entry
		for _, rawLine := range section.Keys() {
			// ini.v1 treats a bare line with no "=" as a key with an empty
			// value; the whole line (key name) is the rule plus description.
			// Only "=" is a key/value delimiter here, so the ':' separators
			// inside a rule stay part of the key name.
			e, err := parseRuleLine(rawLine.Name())
			if err != nil {
				return nil, fmt.Errorf("suppress: %s: %w", path, err)
			}
			entries = append(entries, e)
		}
		ff.bySection[section.Name()] = entries
	}
	return ff, nil
}

// parseRuleLine parses "[<object>:][<interface>:]<method> [description]".
func parseRuleLine(line string) (entry, error) {
	fields := strings.SplitN(strings.TrimSpace(line), " ", 2)
	rule := fields[0]
	var description string
	if len(fields) == 2 {
		description = strings.TrimSpace(fields[1])
	}
	if rule == "" {
		return entry{}, fmt.Errorf("empty suppression rule in line %q", line)
	}
	parts := strings.Split(rule, ":")
	var e entry
	switch len(parts) {
	case 1:
		e.method = parts[0]
	case 2:
		e.iface, e.method = parts[0], parts[1]
	case 3:
		e.object, e.iface, e.method = parts[0], parts[1], parts[2]
	default:
		return entry{}, fmt.Errorf("too many ':'-separated segments in rule %q", rule)
	}
	e.description = description
	return e, nil
}

// Suppressed looks up a rule in busName's section. It takes the bus name as
// an extra argument, so FileFilter itself is not a Filter; ForBus adapts it.
func (f *FileFilter) Suppressed(busName, object, iface, method string) (bool, string) {
	for _, e := range f.bySection[busName] {
		if e.method != method {
			continue
		}
		if e.iface != "" && e.iface != iface {
			continue
		}
		if e.object != "" && e.object != object {
			continue
		}
		return true, e.description
	}
	return false, ""
}

// BusFilter adapts a (busName, FileFilter) pair to the plain Filter
// interface Traversal consumes, since a single traversal run only ever
// targets one bus name.
type BusFilter struct {
	busName string
	file    *FileFilter
}

// ForBus pins ff to busName.
func ForBus(ff *FileFilter, busName string) BusFilter {
	return BusFilter{busName: busName, file: ff}
}

func (b BusFilter) Suppressed(object, iface, method string) (bool, string) {
	return b.file.Suppressed(b.busName, object, iface, method)
}

// DefaultPath resolves the suppression file path precedence: current
// directory, then $HOME, then /etc. name is typically "dbusfuzz.suppress".
// The first existing candidate wins; if none exist, ok is false and the
// caller should fall back to None{}.
func DefaultPath(name string) (path string, ok bool) {
	candidates := []string{filepath.Join(".", name)}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, name))
	}
	candidates = append(candidates, filepath.Join("/etc", name))

	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, true
		}
	}
	return "", false
}
