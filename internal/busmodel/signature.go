// Package busmodel holds the shared vocabulary used across the fuzzer: type
// signatures, values, method descriptors, bus targets, monitor state, and
// verdicts. Every other internal package imports this one rather than
// redeclaring these shapes.
package busmodel

import (
	"fmt"
	"strings"
)

// Kind is one grammar letter from the D-Bus type alphabet, or one of the
// three container markers ('a', '(', '{').
type Kind byte

const (
	KindByte       Kind = 'y'
	KindBool       Kind = 'b'
	KindInt16      Kind = 'n'
	KindUint16     Kind = 'q'
	KindInt32      Kind = 'i'
	KindUint32     Kind = 'u'
	KindInt64      Kind = 'x'
	KindUint64     Kind = 't'
	KindDouble     Kind = 'd'
	KindUnixFD     Kind = 'h'
	KindString     Kind = 's'
	KindObjectPath Kind = 'o'
	KindSignature  Kind = 'g'
	KindVariant    Kind = 'v'
	KindArray      Kind = 'a'
	KindTuple      Kind = '('
	KindDictEntry  Kind = '{'
)

// basicKinds lists the single-letter type codes, variant included, that
// IsBasic accepts; parseOne consults it to check dict-entry keys. Characters
// outside the grammar are rejected by parseOne's own switch.
var basicKinds = map[Kind]bool{
	KindByte: true, KindBool: true, KindInt16: true, KindUint16: true,
	KindInt32: true, KindUint32: true, KindInt64: true, KindUint64: true,
	KindDouble: true, KindUnixFD: true, KindString: true, KindObjectPath: true,
	KindSignature: true, KindVariant: true,
}

// IsBasic reports whether k is a basic (non-container) type code.
func (k Kind) IsBasic() bool { return basicKinds[k] }

// Type is a node in the recursive type-signature tree. Basic types are
// leaves; KindArray carries one Elem; KindTuple carries Fields of any
// length; KindDictEntry carries exactly two Fields (key, value), and is
// only ever built as the Elem of a KindArray.
type Type struct {
	Kind   Kind
	Elem   *Type
	Fields []*Type
}

// TypeSignature is a raw D-Bus type-signature string, e.g. "(sia{sv})".
type TypeSignature string

// String reconstructs the signature string for t.
func (t *Type) String() string {
	var b strings.Builder
	t.write(&b)
	return b.String()
}

func (t *Type) write(b *strings.Builder) {
	if t == nil {
		return
	}
	switch t.Kind {
	case KindArray:
		b.WriteByte('a')
		t.Elem.write(b)
	case KindTuple:
		b.WriteByte('(')
		for _, f := range t.Fields {
			f.write(b)
		}
		b.WriteByte(')')
	case KindDictEntry:
		b.WriteByte('{')
		for _, f := range t.Fields {
			f.write(b)
		}
		b.WriteByte('}')
	default:
		b.WriteByte(byte(t.Kind))
	}
}

// ParseSignature parses sig into a Type tree. Method-argument signatures are
// always a top-level tuple (e.g. "()" or "(sv)"); ParseSignature also
// accepts a bare sequence of complete types for use inside nested
// containers and by tests exercising the grammar directly.
func ParseSignature(sig TypeSignature) (*Type, error) {
	s := string(sig)
	fields, n, err := parseSequence(s, 0, 0)
	if err != nil {
		return nil, err
	}
	if n != len(s) {
		return nil, fmt.Errorf("busmodel: trailing characters in signature %q at offset %d", s, n)
	}
	if len(fields) == 1 && fields[0].Kind == KindTuple {
		return fields[0], nil
	}
	return &Type{Kind: KindTuple, Fields: fields}, nil
}

// parseSequence parses complete types starting at i until it hits stop (')'
// '}' or 0 for end-of-string) or the end of s.
func parseSequence(s string, i int, stop byte) ([]*Type, int, error) {
	var fields []*Type
	for i < len(s) {
		if stop != 0 && s[i] == stop {
			return fields, i, nil
		}
		t, next, err := parseOne(s, i, false)
		if err != nil {
			return nil, 0, err
		}
		fields = append(fields, t)
		i = next
	}
	return fields, i, nil
}

// parseOne parses one complete type at offset i. allowDict is set only for
// the element position of an array, the one place the grammar permits a
// dict entry.
func parseOne(s string, i int, allowDict bool) (*Type, int, error) {
	if i >= len(s) {
		return nil, 0, fmt.Errorf("busmodel: unexpected end of signature %q", s)
	}
	switch c := s[i]; c {
	case 'y', 'b', 'n', 'q', 'i', 'u', 'x', 't', 'd', 'h', 's', 'o', 'g', 'v':
		return &Type{Kind: Kind(c)}, i + 1, nil
	case 'a':
		elem, next, err := parseOne(s, i+1, true)
		if err != nil {
			return nil, 0, fmt.Errorf("busmodel: array element in %q: %w", s, err)
		}
		return &Type{Kind: KindArray, Elem: elem}, next, nil
	case '(':
		fields, next, err := parseSequence(s, i+1, ')')
		if err != nil {
			return nil, 0, err
		}
		if next >= len(s) || s[next] != ')' {
			return nil, 0, fmt.Errorf("busmodel: unterminated tuple in %q", s)
		}
		return &Type{Kind: KindTuple, Fields: fields}, next + 1, nil
	case '{':
		if !allowDict {
			return nil, 0, fmt.Errorf("busmodel: dict entry outside an array in %q", s)
		}
		fields, next, err := parseSequence(s, i+1, '}')
		if err != nil {
			return nil, 0, err
		}
		if next >= len(s) || s[next] != '}' {
			return nil, 0, fmt.Errorf("busmodel: unterminated dict entry in %q", s)
		}
		if len(fields) != 2 {
			return nil, 0, fmt.Errorf("busmodel: dict entry %q must have exactly 2 fields, got %d", s, len(fields))
		}
		if !fields[0].Kind.IsBasic() {
			return nil, 0, fmt.Errorf("busmodel: dict entry key in %q must be a basic type", s)
		}
		return &Type{Kind: KindDictEntry, Fields: fields}, next + 1, nil
	default:
		return nil, 0, fmt.Errorf("busmodel: %q is outside the D-Bus type grammar in signature %q", string(c), s)
	}
}

// MaxArrayDepth returns the deepest array nesting reachable from t (e.g. the
// depth of "aav" is 2, "v" is 0).
func (t *Type) MaxArrayDepth() int {
	return maxArrayDepth(t, 0)
}

func maxArrayDepth(t *Type, cur int) int {
	if t == nil {
		return cur
	}
	switch t.Kind {
	case KindArray:
		return maxArrayDepth(t.Elem, cur+1)
	case KindTuple, KindDictEntry:
		best := cur
		for _, f := range t.Fields {
			if d := maxArrayDepth(f, cur); d > best {
				best = d
			}
		}
		return best
	default:
		return cur
	}
}

// Walk calls fn for every node in the tree rooted at t, including t itself.
func (t *Type) Walk(fn func(*Type)) {
	if t == nil {
		return
	}
	fn(t)
	switch t.Kind {
	case KindArray:
		t.Elem.Walk(fn)
	case KindTuple, KindDictEntry:
		for _, f := range t.Fields {
			f.Walk(fn)
		}
	}
}
