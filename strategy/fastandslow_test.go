package strategy_test

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/absmach/flock/client"
	"github.com/absmach/flock/strategy"
)

func fasTestConfig() strategy.FastAndSlowConfig {
	cfg := strategy.DefaultFastAndSlowConfig()
	cfg.MinFitClients = 1
	cfg.MinEvaluateClients = 1
	cfg.MinAvailableClients = 1
	cfg.TSlow = 10 * time.Second

	return cfg
}

func timedFitResult(id string, fitSeconds float64) strategy.FitResult {
	return strategy.FitResult{
		Proxy: stubProxy(id),
		Res: client.FitRes{
			Parameters:  scalarParams(1.0),
			NumExamples: 10,
			Metrics:     map[string]float64{"fit_duration": fitSeconds},
		},
	}
}

func TestFastAndSlowConstructorValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*strategy.FastAndSlowConfig)
	}{
		{
			name:   "missing t_slow",
			mutate: func(c *strategy.FastAndSlowConfig) { c.TSlow = 0 },
		},
		{
			name: "alternating without t_fast",
			mutate: func(c *strategy.FastAndSlowConfig) {
				c.AlternatingTimeout = true
				c.TFast = 0
			},
		},
		{
			name: "dynamic percentile out of range",
			mutate: func(c *strategy.FastAndSlowConfig) {
				c.DynamicTimeout = true
				c.DynamicTimeoutPercentile = 1.5
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := fasTestConfig()
			tt.mutate(&cfg)
			_, err := strategy.NewFastAndSlow(cfg, slog.Default())
			assert.Error(t, err)
		})
	}
}

func TestAlternatingTimeoutSchedule(t *testing.T) {
	cfg := fasTestConfig()
	cfg.AlternatingTimeout = true
	cfg.TFast = 2 * time.Second
	s, err := strategy.NewFastAndSlow(cfg, slog.Default())
	require.NoError(t, err)

	cm := managerWith(t, 1)
	params := scalarParams(0)

	expected := []time.Duration{2 * time.Second, 10 * time.Second, 2 * time.Second, 10 * time.Second}
	for round := uint64(1); round <= 4; round++ {
		ins := s.ConfigureFit(round, params, cm)
		require.NotEmpty(t, ins, "round %d", round)
		assert.Equal(t, expected[round-1], ins[0].Ins.Config.Timeout(0), "round %d", round)
	}
}

func TestDynamicTimeoutPercentile(t *testing.T) {
	cfg := fasTestConfig()
	cfg.DynamicTimeout = true
	s, err := strategy.NewFastAndSlow(cfg, slog.Default())
	require.NoError(t, err)

	cm := managerWith(t, 1)
	params := scalarParams(0)

	// Three rounds with observed fit durations of 2s, 4s and 6s for
	// the same client.
	for i, secs := range []float64{2, 4, 6} {
		round := uint64(i + 1)
		s.ConfigureFit(round, params, cm)
		require.NotNil(t, s.AggregateFit(round, []strategy.FitResult{timedFitResult("c1", secs)}, nil))
	}

	ins := s.ConfigureFit(4, params, cm)
	require.NotEmpty(t, ins)
	timeout := ins[0].Ins.Config.Timeout(0)
	assert.GreaterOrEqual(t, timeout, 4*time.Second)
	assert.LessOrEqual(t, timeout, 6*time.Second)
}

func TestDynamicTimeoutDefaultsToSlowBound(t *testing.T) {
	cfg := fasTestConfig()
	cfg.DynamicTimeout = true
	s, err := strategy.NewFastAndSlow(cfg, slog.Default())
	require.NoError(t, err)

	ins := s.ConfigureFit(1, scalarParams(0), managerWith(t, 1))
	require.NotEmpty(t, ins)
	assert.Equal(t, 10*time.Second, ins[0].Ins.Config.Timeout(0))
}

func TestImportanceSamplingPrefersFastClients(t *testing.T) {
	cfg := fasTestConfig()
	cfg.ImportanceSampling = true
	s, err := strategy.NewFastAndSlow(cfg, slog.Default())
	require.NoError(t, err)

	cm := managerWith(t, 4)
	params := scalarParams(0)

	// Give client "a" a short history; others stay unknown.
	s.ConfigureFit(1, params, cm)
	require.NotNil(t, s.AggregateFit(1, []strategy.FitResult{timedFitResult("a", 1)}, nil))

	ins := s.ConfigureFit(2, params, cm)
	require.Len(t, ins, 1)
	assert.Equal(t, "a", ins[0].Proxy.ID())
}

func TestImportanceSamplingTopsUpFromUnknownClients(t *testing.T) {
	cfg := fasTestConfig()
	cfg.ImportanceSampling = true
	cfg.MinFitClients = 3
	s, err := strategy.NewFastAndSlow(cfg, slog.Default())
	require.NoError(t, err)

	cm := managerWith(t, 4)
	params := scalarParams(0)

	s.ConfigureFit(1, params, cm)
	require.NotNil(t, s.AggregateFit(1, []strategy.FitResult{timedFitResult("a", 1)}, nil))

	ins := s.ConfigureFit(2, params, cm)
	require.Len(t, ins, 3)

	seen := map[string]bool{}
	for _, ci := range ins {
		assert.False(t, seen[ci.Proxy.ID()])
		seen[ci.Proxy.ID()] = true
	}
	assert.True(t, seen["a"])
}

func TestFailedClientFeedsTimeoutHistory(t *testing.T) {
	cfg := fasTestConfig()
	cfg.DynamicTimeout = true
	s, err := strategy.NewFastAndSlow(cfg, slog.Default())
	require.NoError(t, err)

	cm := managerWith(t, 1)
	params := scalarParams(0)

	// Round 1 runs at the slow bound; client "b" misses it.
	s.ConfigureFit(1, params, cm)
	agg := s.AggregateFit(1,
		[]strategy.FitResult{timedFitResult("a", 1)},
		[]client.Failure{{ClientID: "b", Err: client.ErrCallTimeout}})
	require.NotNil(t, agg)

	// b's miss is attributed at the full bound, pulling the next
	// estimate above a's observed second.
	ins := s.ConfigureFit(2, params, cm)
	require.NotEmpty(t, ins)
	assert.Equal(t, 10*time.Second, ins[0].Ins.Config.Timeout(0))
}
