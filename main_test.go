package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunHelpExitsZeroWithoutDialingBus(t *testing.T) {
	var out, errOut bytes.Buffer
	code := run([]string{"-h"}, &out, &errOut)
	require.Equal(t, 0, code)
}

func TestRunVersionPrintsAndExitsZero(t *testing.T) {
	var out, errOut bytes.Buffer
	code := run([]string{"-V"}, &out, &errOut)
	require.Equal(t, 0, code)
	require.Contains(t, out.String(), cliVersion)
}

func TestRunMissingNameExitsOne(t *testing.T) {
	var out, errOut bytes.Buffer
	code := run([]string{}, &out, &errOut)
	require.Equal(t, 1, code)
}

func TestRunBadConfigPathExitsOneBeforeDialingBus(t *testing.T) {
	var out, errOut bytes.Buffer
	code := run([]string{"-n", "org.example.Widget", "--config", filepath.Join(t.TempDir(), "missing.yaml")}, &out, &errOut)
	require.Equal(t, 1, code)
}

func TestRunTooSmallMaxStringBytesExitsOne(t *testing.T) {
	var out, errOut bytes.Buffer
	code := run([]string{"-n", "org.example.Widget", "-b", "1"}, &out, &errOut)
	require.Equal(t, 1, code)
}
