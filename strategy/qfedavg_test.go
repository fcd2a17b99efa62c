package strategy_test

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/absmach/flock/client"
	"github.com/absmach/flock/strategy"
)

func qFitResult(id string, value, loss float64, numExamples int64) strategy.FitResult {
	return strategy.FitResult{
		Proxy: stubProxy(id),
		Res: client.FitRes{
			Parameters:  scalarParams(value),
			NumExamples: numExamples,
			Metrics:     map[string]float64{"loss": loss},
		},
	}
}

func qTestConfig() strategy.QFedAvgConfig {
	cfg := strategy.DefaultQFedAvgConfig()
	cfg.MinFitClients = 1
	cfg.MinEvaluateClients = 1
	cfg.MinAvailableClients = 1

	return cfg
}

func TestQFedAvgZeroExponentIsPlainMean(t *testing.T) {
	cfg := qTestConfig()
	cfg.Q = 0
	s, err := strategy.NewQFedAvg(cfg, slog.Default())
	require.NoError(t, err)

	s.ConfigureFit(1, scalarParams(1.0), managerWith(t, 1))
	agg := s.AggregateFit(1, []strategy.FitResult{
		qFitResult("c1", 0.4, 2.0, 10),
		qFitResult("c2", 0.8, 2.0, 10),
	}, nil)

	// With q = 0 every client weighs the same and the update reduces
	// to the unweighted mean of client parameters.
	require.NotNil(t, agg)
	assert.InDelta(t, 0.6, agg[0].Values[0], 1e-9)
}

func TestQFedAvgOrderInvariant(t *testing.T) {
	run := func(results []strategy.FitResult) float64 {
		s, err := strategy.NewQFedAvg(qTestConfig(), slog.Default())
		require.NoError(t, err)
		s.ConfigureFit(1, scalarParams(1.0), managerWith(t, 1))
		agg := s.AggregateFit(1, results, nil)
		require.NotNil(t, agg)

		return agg[0].Values[0]
	}

	a := qFitResult("c1", 0.4, 3.0, 10)
	b := qFitResult("c2", 0.8, 1.0, 10)
	c := qFitResult("c3", 1.2, 0.5, 10)

	assert.InDelta(t,
		run([]strategy.FitResult{a, b, c}),
		run([]strategy.FitResult{c, a, b}),
		1e-12)
}

func TestQFedAvgRequiresLossMetric(t *testing.T) {
	s, err := strategy.NewQFedAvg(qTestConfig(), slog.Default())
	require.NoError(t, err)

	s.ConfigureFit(1, scalarParams(1.0), managerWith(t, 1))
	agg := s.AggregateFit(1, []strategy.FitResult{fitResult("c1", 0.4, 10)}, nil)

	assert.Nil(t, agg)
}

func TestQFedAvgFailClosed(t *testing.T) {
	cfg := qTestConfig()
	cfg.AcceptFailures = false
	s, err := strategy.NewQFedAvg(cfg, slog.Default())
	require.NoError(t, err)

	s.ConfigureFit(1, scalarParams(1.0), managerWith(t, 1))
	agg := s.AggregateFit(1,
		[]strategy.FitResult{qFitResult("c1", 0.4, 2.0, 10)},
		[]client.Failure{{ClientID: "c2", Err: client.ErrCallTimeout}})

	assert.Nil(t, agg)
}

func TestQFedAvgConstructorValidation(t *testing.T) {
	cfg := qTestConfig()
	cfg.Q = -1
	_, err := strategy.NewQFedAvg(cfg, slog.Default())
	assert.Error(t, err)

	cfg = qTestConfig()
	cfg.LearningRate = 0
	_, err = strategy.NewQFedAvg(cfg, slog.Default())
	assert.Error(t, err)
}
