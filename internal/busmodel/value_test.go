package busmodel

import (
	"strings"
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/require"
)

// mustType parses sig into the single type it names. ParseSignature
// normalizes a bare sequence into a tuple, so a lone unparenthesized type
// is unwrapped again here.
func mustType(t *testing.T, sig TypeSignature) *Type {
	t.Helper()
	typ, err := ParseSignature(sig)
	require.NoError(t, err)
	if len(typ.Fields) == 1 && !strings.HasPrefix(string(sig), "(") {
		return typ.Fields[0]
	}
	return typ
}

func TestFloatingSinkOnce(t *testing.T) {
	typ := mustType(t, "y")
	f := NewValue(&Value{Sig: typ, Byte: 7})
	v := f.Sink()
	require.Equal(t, byte(7), v.Byte)
	require.Panics(t, func() { f.Sink() })
}

func TestValueAsAnyScalars(t *testing.T) {
	typ := mustType(t, "s")
	v := NewValue(&Value{Sig: typ, Str: "hello"}).Sink()
	require.Equal(t, "hello", v.AsAny())
}

func TestValueAsAnyUsesWireTypes(t *testing.T) {
	op := NewValue(&Value{Sig: mustType(t, "o"), Str: "/org/example/Widget"}).Sink()
	require.Equal(t, dbus.ObjectPath("/org/example/Widget"), op.AsAny())

	sig := NewValue(&Value{Sig: mustType(t, "g"), Str: "sv"}).Sink()
	require.Equal(t, dbus.ParseSignatureMust("sv"), sig.AsAny())

	fd := NewValue(&Value{Sig: mustType(t, "h"), UnixFD: -1}).Sink()
	require.Equal(t, dbus.UnixFD(-1), fd.AsAny())

	va := NewValue(&Value{
		Sig:     mustType(t, "v"),
		Variant: &Value{Sig: mustType(t, "s"), Str: "payload"},
	}).Sink()
	require.Equal(t, dbus.MakeVariant("payload"), va.AsAny())
}

func TestValueAsAnyArray(t *testing.T) {
	elemType := mustType(t, "i")
	arrType := &Type{Kind: KindArray, Elem: elemType}
	v := NewValue(&Value{
		Sig: arrType,
		Array: []*Value{
			{Sig: elemType, Int32: 1},
			{Sig: elemType, Int32: 2},
		},
	}).Sink()
	got, ok := v.AsAny().([]any)
	require.True(t, ok)
	require.Equal(t, []any{int32(1), int32(2)}, got)
}

func TestValueReprTruncatesNothingButIsStable(t *testing.T) {
	typ := mustType(t, "(sv)")
	inner := mustType(t, "i")
	v := NewValue(&Value{
		Sig: typ,
		Tuple: []*Value{
			{Sig: mustType(t, "s"), Str: "x"},
			{Sig: mustType(t, "v"), Variant: &Value{Sig: inner, Int32: 5}},
		},
	}).Sink()
	require.Equal(t, `("x",variant(5))`, v.Repr())
}

func TestValueSignatureMatchesSig(t *testing.T) {
	typ := mustType(t, "a{sv}")
	v := NewValue(&Value{Sig: typ}).Sink()
	require.Equal(t, TypeSignature("a{sv}"), v.Signature())
}
