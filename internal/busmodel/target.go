package busmodel

import "fmt"

// BusTarget pins down how much of the bus a traversal should cover: always a
// bus name, optionally narrowed to one object path, then one interface, then
// one method.
type BusTarget struct {
	Name       string
	ObjectPath string // optional
	Interface  string // optional, requires ObjectPath
	Method     string // optional, requires Interface
}

// Validate enforces the narrowing invariants: a field can only be set if the
// field above it is also set.
func (t BusTarget) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("busmodel: bus target requires a bus name")
	}
	if t.Interface != "" && t.ObjectPath == "" {
		return fmt.Errorf("busmodel: bus target %q pins interface %q without an object path", t.Name, t.Interface)
	}
	if t.Method != "" && t.Interface == "" {
		return fmt.Errorf("busmodel: bus target %q pins method %q without an interface", t.Name, t.Method)
	}
	return nil
}

// HasObjectPath reports whether the traversal is pinned to a single object.
func (t BusTarget) HasObjectPath() bool { return t.ObjectPath != "" }

// HasInterface reports whether the traversal is pinned to a single interface.
func (t BusTarget) HasInterface() bool { return t.Interface != "" }

// HasMethod reports whether the traversal is pinned to a single method.
func (t BusTarget) HasMethod() bool { return t.Method != "" }

func (t BusTarget) String() string {
	s := t.Name
	if t.ObjectPath != "" {
		s += t.ObjectPath
	}
	if t.Interface != "" {
		s += "/" + t.Interface
	}
	if t.Method != "" {
		s += "." + t.Method
	}
	return s
}
