package randsource

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"
)

// biasSampleSize is large enough that each extreme class (weight >= 50/65535)
// is expected roughly 50+ times, comfortably clearing the required >= 1/700
// probability floor.
const biasSampleSize = 200000

func TestInt16BiasHitsAllExtremes(t *testing.T) {
	src := New(1)
	var sawMax, sawHalfMax, sawZero, sawMin bool
	for i := 0; i < biasSampleSize; i++ {
		switch src.Int16() {
		case 32767:
			sawMax = true
		case 32767 / 2:
			sawHalfMax = true
		case 0:
			sawZero = true
		case -32768:
			sawMin = true
		}
	}
	require.True(t, sawMax, "never saw int16 max")
	require.True(t, sawHalfMax, "never saw int16 half-max")
	require.True(t, sawZero, "never saw int16 zero")
	require.True(t, sawMin, "never saw int16 negative extreme")
}

func TestUint32BiasHitsExtremes(t *testing.T) {
	src := New(2)
	var sawMax, sawHalfMax, sawZero bool
	for i := 0; i < biasSampleSize; i++ {
		switch src.Uint32() {
		case 4294967295:
			sawMax = true
		case 4294967295 / 2:
			sawHalfMax = true
		case 0:
			sawZero = true
		}
	}
	require.True(t, sawMax)
	require.True(t, sawHalfMax)
	require.True(t, sawZero)
}

func TestDoubleBiasHitsSmallestPositive(t *testing.T) {
	src := New(4)
	sawExact := false
	for i := 0; i < biasSampleSize; i++ {
		if v := src.Double(); v == smallestPositiveFloat64() {
			sawExact = true
			break
		}
	}
	require.True(t, sawExact, "never produced the smallest-positive extreme")
}

func TestUnixFDMostlyNonNegative(t *testing.T) {
	src := New(5)
	var sawNegativeOne bool
	for i := 0; i < 1000; i++ {
		v := src.UnixFD()
		require.True(t, v >= -1)
		if v == -1 {
			sawNegativeOne = true
		}
	}
	require.True(t, sawNegativeOne)
}

func TestStringReplaysInterestingTableThenGrows(t *testing.T) {
	src := New(6)
	for range interestingStrings {
		_ = src.String()
	}
	first := src.String()
	second := src.String()
	require.Len(t, second, len(first)+1, "string length should grow by one call over call")
}

var objectPathPattern = regexp.MustCompile(`^(/[A-Za-z][A-Za-z0-9_]*){3}$`)

func TestObjectPathShape(t *testing.T) {
	src := New(7)
	for i := 0; i < 500; i++ {
		p := src.ObjectPath()
		require.Regexp(t, objectPathPattern, p)
	}
}

var signaturePattern = regexp.MustCompile(`^[ybnqiuxtdhsogv]+$`)

func TestSignatureShape(t *testing.T) {
	src := New(8)
	for i := 0; i < 500; i++ {
		require.Regexp(t, signaturePattern, src.Signature())
	}
}

func TestArrayLengthRange(t *testing.T) {
	src := New(9)
	for i := 0; i < 1000; i++ {
		n := src.ArrayLength()
		require.GreaterOrEqual(t, n, 0)
		require.Less(t, n, 10)
	}
}

func smallestPositiveFloat64() float64 {
	return 5e-324
}
