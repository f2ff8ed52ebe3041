// Package introspect turns a raw Introspectable.Introspect XML document
// into the busmodel.Node shape the rest of the fuzzer walks: methods per
// interface, plus child object names.
package introspect

import (
	"encoding/xml"
	"fmt"
	"strings"

	"dbusfuzz/internal/busmodel"
)

// xmlNode mirrors the subset of the introspection XML schema this module
// consumes; properties and signals are parsed only far enough to be
// skipped, never surfaced.
type xmlNode struct {
	XMLName    xml.Name       `xml:"node"`
	Interfaces []xmlInterface `xml:"interface"`
	Nodes      []xmlChildNode `xml:"node"`
}

type xmlChildNode struct {
	Name string `xml:"name,attr"`
}

type xmlInterface struct {
	Name    string      `xml:"name,attr"`
	Methods []xmlMethod `xml:"method"`
}

type xmlMethod struct {
	Name        string          `xml:"name,attr"`
	Args        []xmlArg        `xml:"arg"`
	Annotations []xmlAnnotation `xml:"annotation"`
}

type xmlArg struct {
	Direction string `xml:"direction,attr"`
	Type      string `xml:"type,attr"`
}

type xmlAnnotation struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

const noReplyAnnotation = "org.freedesktop.DBus.Method.NoReply"

// Fetcher is the one busclient.Client capability Fetch needs.
type Fetcher interface {
	IntrospectXML(busName, objectPath string) (string, error)
}

// Fetch introspects (busName, objectPath) over client and parses the
// result. A transport failure or an XML parse failure both surface as a
// single error, leaving the caller to record an Error verdict for this node
// and continue with its siblings.
func Fetch(client Fetcher, busName, objectPath string) (*busmodel.Node, error) {
	doc, err := client.IntrospectXML(busName, objectPath)
	if err != nil {
		return nil, err
	}
	return Parse(objectPath, doc)
}

// Parse decodes a raw introspection XML document into a busmodel.Node.
func Parse(objectPath string, doc string) (*busmodel.Node, error) {
	var parsed xmlNode
	if err := xml.Unmarshal([]byte(doc), &parsed); err != nil {
		return nil, fmt.Errorf("introspect: parse %s: %w", objectPath, err)
	}

	node := &busmodel.Node{
		ObjectPath: objectPath,
		Interfaces: make(map[string][]busmodel.MethodDescriptor, len(parsed.Interfaces)),
	}
	for _, iface := range parsed.Interfaces {
		methods := make([]busmodel.MethodDescriptor, 0, len(iface.Methods))
		for _, m := range iface.Methods {
			methods = append(methods, busmodel.MethodDescriptor{
				Name:         m.Name,
				Signature:    inputSignature(m),
				ReturnsValue: !hasNoReply(m),
			})
		}
		node.Interfaces[iface.Name] = methods
	}
	for _, child := range parsed.Nodes {
		if child.Name == "" {
			continue
		}
		node.Children = append(node.Children, childObjectPath(objectPath, child.Name))
	}
	return node, nil
}

// inputSignature concatenates the "in" direction argument types in
// declaration order and wraps them in a tuple, e.g. "(sia{sv})". A method
// with no input arguments yields "()".
func inputSignature(m xmlMethod) busmodel.TypeSignature {
	var b strings.Builder
	b.WriteByte('(')
	for _, arg := range m.Args {
		// The schema defaults an omitted direction to "in".
		if arg.Direction != "" && arg.Direction != "in" {
			continue
		}
		b.WriteString(arg.Type)
	}
	b.WriteByte(')')
	return busmodel.TypeSignature(b.String())
}

func hasNoReply(m xmlMethod) bool {
	for _, a := range m.Annotations {
		if a.Name == noReplyAnnotation && a.Value == "true" {
			return true
		}
	}
	return false
}

func childObjectPath(parent, childName string) string {
	if parent == "/" {
		return "/" + childName
	}
	return parent + "/" + childName
}
