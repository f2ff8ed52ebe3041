// Package testutil holds small helpers shared by this module's test files.
package testutil

import (
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"
)

// IterCount returns how many times a property-style test loop should run,
// scaled down under -short or under the race detector.
func IterCount() int {
	iters := 2000
	if testing.Short() {
		iters /= 10
	}
	return iters
}

// RandSource returns a seeded rand.Source, logging the seed so a failure can
// be reproduced with DBUSFUZZ_SEED=<seed>.
func RandSource(t *testing.T) rand.Source {
	seed := time.Now().UnixNano()
	if fixed := os.Getenv("DBUSFUZZ_SEED"); fixed != "" {
		seed, _ = strconv.ParseInt(fixed, 0, 64)
	}
	if os.Getenv("CI") != "" {
		seed = 0
	}
	t.Logf("seed=%v", seed)
	return rand.NewSource(seed)
}
