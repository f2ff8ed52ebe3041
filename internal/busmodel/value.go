package busmodel

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/godbus/dbus/v5"
)

// Value is a tagged union mirroring Type. It is constructed only by
// internal/valuebuilder, one node at a time, and is never handed out except
// wrapped in a Floating.
type Value struct {
	Sig *Type

	Byte   byte
	Bool   bool
	Int16  int16
	Uint16 uint16
	Int32  int32
	Uint32 uint32
	Int64  int64
	Uint64 uint64
	Double float64
	UnixFD int32
	Str    string // string, object path, or signature payload

	Variant *Value   // payload for KindVariant
	Array   []*Value // elements for KindArray
	Tuple   []*Value // fields for KindTuple and KindDictEntry (len 2)
}

// Floating wraps a newly built Value that has no owner yet. It must be
// Sink'd to its single owner before being handed to a bus invocation: build
// once, Sink once, then both the logger and the bus call share the same
// *Value instead of each holding an independent copy.
type Floating struct {
	v *Value
}

func newFloating(v *Value) *Floating { return &Floating{v: v} }

// Sink converts a floating value into a value the caller now owns. Calling
// Sink twice on the same Floating is a harness bug (the value would have two
// independent owners), so the second call panics.
func (f *Floating) Sink() *Value {
	if f == nil || f.v == nil {
		panic("busmodel: Sink called on an already-sunk or nil Floating value")
	}
	v := f.v
	f.v = nil
	return v
}

// Signature reports the D-Bus type signature of v.
func (v *Value) Signature() TypeSignature {
	return TypeSignature(v.Sig.String())
}

// Repr renders a log-friendly representation of v, including every array
// element and the full text of every string; internal/telemetry truncates
// long reprs before they reach a log line.
func (v *Value) Repr() string {
	var b strings.Builder
	v.repr(&b)
	return b.String()
}

func (v *Value) repr(b *strings.Builder) {
	if v == nil {
		b.WriteString("<nil>")
		return
	}
	switch v.Sig.Kind {
	case KindByte:
		fmt.Fprintf(b, "%d", v.Byte)
	case KindBool:
		fmt.Fprintf(b, "%t", v.Bool)
	case KindInt16:
		fmt.Fprintf(b, "%d", v.Int16)
	case KindUint16:
		fmt.Fprintf(b, "%d", v.Uint16)
	case KindInt32:
		fmt.Fprintf(b, "%d", v.Int32)
	case KindUint32:
		fmt.Fprintf(b, "%d", v.Uint32)
	case KindInt64:
		fmt.Fprintf(b, "%d", v.Int64)
	case KindUint64:
		fmt.Fprintf(b, "%d", v.Uint64)
	case KindDouble:
		fmt.Fprintf(b, "%g", v.Double)
	case KindUnixFD:
		fmt.Fprintf(b, "%d", v.UnixFD)
	case KindString, KindObjectPath, KindSignature:
		b.WriteString(strconv.Quote(v.Str))
	case KindVariant:
		b.WriteString("variant(")
		v.Variant.repr(b)
		b.WriteByte(')')
	case KindArray:
		b.WriteByte('[')
		for i, e := range v.Array {
			if i > 0 {
				b.WriteByte(',')
			}
			e.repr(b)
		}
		b.WriteByte(']')
	case KindTuple, KindDictEntry:
		b.WriteByte('(')
		for i, e := range v.Tuple {
			if i > 0 {
				b.WriteByte(',')
			}
			e.repr(b)
		}
		b.WriteByte(')')
	}
}

// AsAny converts v into the nested-interface{} shape godbus/dbus expects as
// a method-call argument. godbus derives the wire signature from the Go
// type, so every kind with its own signature letter must map to the
// library's corresponding Go type — a plain string would be marshalled as
// "s" even when the method argument is typed "o" or "g", and the call would
// be rejected for signature mismatch before reaching the target. This lives
// on Value rather than in internal/busclient so that internal/fuzzengine
// can build the argument list once and pass it straight to both the bus
// call and the logger.
func (v *Value) AsAny() any {
	switch v.Sig.Kind {
	case KindByte:
		return v.Byte
	case KindBool:
		return v.Bool
	case KindInt16:
		return v.Int16
	case KindUint16:
		return v.Uint16
	case KindInt32:
		return v.Int32
	case KindUint32:
		return v.Uint32
	case KindInt64:
		return v.Int64
	case KindUint64:
		return v.Uint64
	case KindDouble:
		return v.Double
	case KindUnixFD:
		return dbus.UnixFD(v.UnixFD)
	case KindString:
		return v.Str
	case KindObjectPath:
		return dbus.ObjectPath(v.Str)
	case KindSignature:
		// The builder only ever fills Str from the basic-type-alphabet
		// generator, so the string is always a parseable signature.
		return dbus.ParseSignatureMust(v.Str)
	case KindVariant:
		return dbus.MakeVariant(v.Variant.AsAny())
	case KindArray:
		out := make([]any, len(v.Array))
		for i, e := range v.Array {
			out[i] = e.AsAny()
		}
		return out
	case KindTuple, KindDictEntry:
		out := make([]any, len(v.Tuple))
		for i, e := range v.Tuple {
			out[i] = e.AsAny()
		}
		return out
	default:
		panic(fmt.Sprintf("busmodel: unreachable Value kind %q", string(v.Sig.Kind)))
	}
}

// NewValue is exported for internal/valuebuilder, the only legitimate
// constructor of Values; it returns a Floating to force the build/sink
// hand-off described above.
func NewValue(v *Value) *Floating { return newFloating(v) }
