// Package valuebuilder turns a parsed type signature into a populated
// busmodel.Value by recursive descent, dispatching each leaf to
// internal/randsource.
package valuebuilder

import (
	"fmt"

	"dbusfuzz/internal/busmodel"
	"dbusfuzz/internal/randsource"
)

// stringType is the signature a variant's internal payload is always built
// against: RandomSource treats a variant as a single string-shaped basic
// value, never a recursively-typed one.
var stringType = &busmodel.Type{Kind: busmodel.KindString}

// Build populates a Value for t using src, recursing once per nested type
// node. The returned Floating must be sunk by the caller before the value is
// handed to a bus invocation.
func Build(t *busmodel.Type, src *randsource.Source) (*busmodel.Floating, error) {
	v, err := build(t, src)
	if err != nil {
		return nil, err
	}
	return busmodel.NewValue(v), nil
}

func build(t *busmodel.Type, src *randsource.Source) (*busmodel.Value, error) {
	switch t.Kind {
	case busmodel.KindByte:
		return &busmodel.Value{Sig: t, Byte: src.Byte()}, nil
	case busmodel.KindBool:
		return &busmodel.Value{Sig: t, Bool: src.Bool()}, nil
	case busmodel.KindInt16:
		return &busmodel.Value{Sig: t, Int16: src.Int16()}, nil
	case busmodel.KindUint16:
		return &busmodel.Value{Sig: t, Uint16: src.Uint16()}, nil
	case busmodel.KindInt32:
		return &busmodel.Value{Sig: t, Int32: src.Int32()}, nil
	case busmodel.KindUint32:
		return &busmodel.Value{Sig: t, Uint32: src.Uint32()}, nil
	case busmodel.KindInt64:
		return &busmodel.Value{Sig: t, Int64: src.Int64()}, nil
	case busmodel.KindUint64:
		return &busmodel.Value{Sig: t, Uint64: src.Uint64()}, nil
	case busmodel.KindDouble:
		return &busmodel.Value{Sig: t, Double: src.Double()}, nil
	case busmodel.KindUnixFD:
		return &busmodel.Value{Sig: t, UnixFD: src.UnixFD()}, nil
	case busmodel.KindString:
		return &busmodel.Value{Sig: t, Str: src.String()}, nil
	case busmodel.KindObjectPath:
		return &busmodel.Value{Sig: t, Str: src.ObjectPath()}, nil
	case busmodel.KindSignature:
		return &busmodel.Value{Sig: t, Str: src.Signature()}, nil
	case busmodel.KindVariant:
		return &busmodel.Value{Sig: t, Variant: &busmodel.Value{Sig: stringType, Str: src.VariantPayload()}}, nil
	case busmodel.KindArray:
		n := src.ArrayLength()
		elems := make([]*busmodel.Value, n)
		for i := range elems {
			e, err := build(t.Elem, src)
			if err != nil {
				return nil, fmt.Errorf("valuebuilder: array element %d of %q: %w", i, t.String(), err)
			}
			elems[i] = e
		}
		return &busmodel.Value{Sig: t, Array: elems}, nil
	case busmodel.KindTuple, busmodel.KindDictEntry:
		fields := make([]*busmodel.Value, len(t.Fields))
		for i, ft := range t.Fields {
			v, err := build(ft, src)
			if err != nil {
				return nil, fmt.Errorf("valuebuilder: field %d of %q: %w", i, t.String(), err)
			}
			fields[i] = v
		}
		return &busmodel.Value{Sig: t, Tuple: fields}, nil
	default:
		return nil, fmt.Errorf("valuebuilder: unsupported type kind %q", string(t.Kind))
	}
}

// iterationFloor is the per-code minimum iteration contribution used by
// IterationsFor, one entry per basic type.
var iterationFloor = map[busmodel.Kind]uint64{
	busmodel.KindByte:       8,
	busmodel.KindBool:       2,
	busmodel.KindInt16:      16,
	busmodel.KindUint16:     16,
	busmodel.KindInt32:      24,
	busmodel.KindUint32:     24,
	busmodel.KindUnixFD:     24,
	busmodel.KindInt64:      32,
	busmodel.KindUint64:     32,
	busmodel.KindDouble:     32,
	busmodel.KindString:     64,
	busmodel.KindObjectPath: 64,
	busmodel.KindSignature:  64,
	busmodel.KindVariant:    64,
}

// IterationsFor computes the iteration budget for sig: the sum of the
// per-code floor of every basic type reachable in the signature, multiplied
// by the deepest array nesting found, raised to at least 10, then raised to
// userMin and finally capped at userMax (so a userMax below 10 wins). A zero
// userMin or userMax leaves that side of the clamp open.
func IterationsFor(sig *busmodel.Type, userMin, userMax uint64) uint64 {
	var floorSum uint64
	sig.Walk(func(n *busmodel.Type) {
		if f, ok := iterationFloor[n.Kind]; ok {
			floorSum += f
		}
	})
	depth := sig.MaxArrayDepth()
	if depth < 1 {
		depth = 1
	}
	total := floorSum * uint64(depth)
	if total < 10 {
		total = 10
	}
	if userMin > 0 && total < userMin {
		total = userMin
	}
	if userMax > 0 && total > userMax {
		total = userMax
	}
	return total
}
