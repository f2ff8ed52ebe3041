package valuebuilder

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"

	"dbusfuzz/internal/busmodel"
	"dbusfuzz/internal/randsource"
	"dbusfuzz/internal/testutil"
)

func parse(t *testing.T, sig string) *busmodel.Type {
	t.Helper()
	typ, err := busmodel.ParseSignature(busmodel.TypeSignature(sig))
	require.NoError(t, err)
	return typ
}

func TestBuildRoundTripsSignature(t *testing.T) {
	sigs := []string{"", "y", "(sv)", "a{sv}", "aai", "(ya(sv)g)", "a(ii)"}
	src := randsource.New(1)
	for _, sig := range sigs {
		typ := parse(t, sig)
		floating, err := Build(typ, src)
		require.NoError(t, err, sig)
		v := floating.Sink()
		require.Equal(t, typ.String(), string(v.Signature()))
	}
}

func TestBuildArrayLengthWithinBounds(t *testing.T) {
	typ := parse(t, "ai")
	src := randsource.New(2)
	for i := 0; i < testutil.IterCount(); i++ {
		floating, err := Build(typ, src)
		require.NoError(t, err)
		v := floating.Sink()
		require.Less(t, len(v.Tuple[0].Array), 10)
	}
}

func TestBuildNestedArrayRecurses(t *testing.T) {
	typ := parse(t, "aai")
	src := randsource.New(3)
	floating, err := Build(typ, src)
	require.NoError(t, err)
	v := floating.Sink()
	for _, outer := range v.Tuple[0].Array {
		require.Equal(t, busmodel.KindArray, outer.Sig.Kind)
	}
}

func TestBuildObjectPathAndSignatureUseDedicatedGenerators(t *testing.T) {
	objectPathPattern := regexp.MustCompile(`^(/[A-Za-z][A-Za-z0-9_]*)+$`)
	signaturePattern := regexp.MustCompile(`^[ybnqiuxtdhsogv]+$`)

	src := randsource.New(5)
	for i := 0; i < 100; i++ {
		floating, err := Build(parse(t, "o"), src)
		require.NoError(t, err)
		v := floating.Sink()
		require.Regexp(t, objectPathPattern, v.Tuple[0].Str)

		floating, err = Build(parse(t, "g"), src)
		require.NoError(t, err)
		v = floating.Sink()
		require.Regexp(t, signaturePattern, v.Tuple[0].Str)
	}
}

func TestBuildDictEntryHasBasicKey(t *testing.T) {
	typ := parse(t, "a{sv}")
	src := randsource.New(4)
	floating, err := Build(typ, src)
	require.NoError(t, err)
	v := floating.Sink()
	for _, entry := range v.Tuple[0].Array {
		require.Len(t, entry.Tuple, 2)
		require.Equal(t, busmodel.KindString, entry.Tuple[0].Sig.Kind)
	}
}

func TestIterationsForFloorAndClamp(t *testing.T) {
	empty := parse(t, "()")
	require.Equal(t, uint64(10), IterationsFor(empty, 0, 0))

	byteSig := parse(t, "y")
	require.GreaterOrEqual(t, IterationsFor(byteSig, 0, 0), uint64(10))

	stringSig := parse(t, "s")
	require.Equal(t, uint64(64), IterationsFor(stringSig, 0, 0))
}

func TestIterationsForRespectsUserBounds(t *testing.T) {
	sig := parse(t, "s")
	require.Equal(t, uint64(5), IterationsFor(sig, 0, 5))
	require.Equal(t, uint64(1000), IterationsFor(sig, 1000, 0))
}

func TestIterationsForScalesWithArrayDepth(t *testing.T) {
	flat := parse(t, "i")
	nested := parse(t, "aai")
	require.Greater(t, IterationsFor(nested, 0, 0), IterationsFor(flat, 0, 0))
}
