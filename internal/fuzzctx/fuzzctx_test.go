package fuzzctx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"dbusfuzz/internal/busmodel"
	"dbusfuzz/internal/suppress"
	"dbusfuzz/internal/telemetry"
)

func TestNewAndCancel(t *testing.T) {
	log, err := telemetry.New(0, "")
	require.NoError(t, err)
	defer log.Close()

	c := New(context.Background(), nil, busmodel.BusTarget{Name: "org.example.Widget"}, 42, log, suppress.None{}, Limits{MinIterations: 10, MaxIterations: 1000}, nil)
	require.False(t, c.Cancelled())
	c.Cancel()
	require.True(t, c.Cancelled())
}

func TestWithMonitorPreservesRandAndLimits(t *testing.T) {
	log, err := telemetry.New(0, "")
	require.NoError(t, err)
	defer log.Close()

	c := New(context.Background(), nil, busmodel.BusTarget{Name: "org.example.Widget"}, 7, log, suppress.None{}, Limits{MaxExceptions: 8}, nil)
	next := c.WithMonitor(nil, nil)
	require.Same(t, c.Rand, next.Rand)
	require.Equal(t, c.Limits, next.Limits)
}
