package federation_test

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/absmach/flock/client"
	"github.com/absmach/flock/client/mocks"
	"github.com/absmach/flock/federation"
	"github.com/absmach/flock/model"
	pkgerrors "github.com/absmach/flock/pkg/errors"
	"github.com/absmach/flock/pkg/storage"
	"github.com/absmach/flock/strategy"
)

func scalarParams(v float64) model.Parameters {
	return model.Parameters{model.Scalar(v)}
}

// trainingProxy pretends to hold numExamples local examples and always
// converges to value.
func trainingProxy(id string, value float64, numExamples int64) *mocks.MockProxy {
	p := &mocks.MockProxy{}
	p.On("ID").Return(id)
	p.On("GetParameters", mock.Anything, mock.Anything).Return(scalarParams(0), nil)
	p.On("Fit", mock.Anything, mock.Anything, mock.Anything).Return(client.FitRes{Parameters: scalarParams(value), NumExamples: numExamples}, nil)
	p.On("Evaluate", mock.Anything, mock.Anything, mock.Anything).Return(client.EvaluateRes{Loss: value, NumExamples: numExamples}, nil)

	return p
}

func newManager(t *testing.T, proxies ...*mocks.MockProxy) client.Manager {
	t.Helper()

	m := client.NewManager(slog.Default(), client.WithRand(rand.New(rand.NewSource(1))), client.WithWaitTimeout(50*time.Millisecond))
	for _, p := range proxies {
		require.NoError(t, m.Register(p))
	}

	return m
}

func fullParticipationConfig() strategy.FedAvgConfig {
	cfg := strategy.DefaultFedAvgConfig()
	cfg.FractionFit = 1.0
	cfg.FractionEvaluate = 1.0
	cfg.MinFitClients = 2
	cfg.MinEvaluateClients = 2
	cfg.MinAvailableClients = 2
	cfg.InitialParameters = scalarParams(0)

	return cfg
}

func TestRunAggregatesWeightedAverage(t *testing.T) {
	cm := newManager(t,
		trainingProxy("c1", 1.0, 10),
		trainingProxy("c2", 2.0, 30),
	)
	checkpoints := storage.NewInMemoryStorage()
	svc := federation.NewService(strategy.NewFedAvg(fullParticipationConfig(), slog.Default()), cm, checkpoints, slog.Default())

	hist, err := svc.Run(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, hist.Rounds, 1)

	rec := hist.Rounds[0]
	assert.Equal(t, uint64(1), rec.Round)
	assert.True(t, rec.Aggregated)
	assert.Equal(t, 2, rec.FitClients)
	assert.Equal(t, 0, rec.FitFailures)
	require.NotNil(t, rec.LossFed)
	assert.InDelta(t, 1.75, *rec.LossFed, 1e-9)

	params, err := svc.Checkpoint(context.Background(), 1)
	require.NoError(t, err)
	assert.InDelta(t, 1.75, params[0].Values[0], 1e-9)
}

func TestRunSamplesConfiguredFraction(t *testing.T) {
	proxies := []*mocks.MockProxy{
		trainingProxy("c1", 1.0, 10),
		trainingProxy("c2", 1.0, 10),
		trainingProxy("c3", 1.0, 10),
		trainingProxy("c4", 1.0, 10),
	}
	cfg := fullParticipationConfig()
	cfg.FractionFit = 0.5
	svc := federation.NewService(strategy.NewFedAvg(cfg, slog.Default()), newManager(t, proxies...), nil, slog.Default())

	hist, err := svc.Run(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, hist.Rounds, 3)
	for _, rec := range hist.Rounds {
		assert.Equal(t, 2, rec.FitClients)
	}
}

func TestRunKeepsParametersOnFailedAggregation(t *testing.T) {
	broken := &mocks.MockProxy{}
	broken.On("ID").Return("broken")
	broken.On("Fit", mock.Anything, mock.Anything, mock.Anything).Return(client.FitRes{}, client.Failure{ClientID: "broken", Err: errors.New("connection reset")})
	broken.On("Evaluate", mock.Anything, mock.Anything, mock.Anything).Return(client.EvaluateRes{Loss: 1, NumExamples: 10}, nil)

	cfg := fullParticipationConfig()
	cfg.AcceptFailures = false

	var mu sync.Mutex
	var seen []float64
	cfg.EvalFn = func(params model.Parameters) (float64, map[string]float64, error) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, params[0].Values[0])

		return 0, nil, nil
	}

	cm := newManager(t, trainingProxy("ok", 5.0, 10), broken)
	svc := federation.NewService(strategy.NewFedAvg(cfg, slog.Default()), cm, storage.NewInMemoryStorage(), slog.Default())

	hist, err := svc.Run(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, hist.Rounds, 3) // initial centralized eval + 2 rounds

	for _, rec := range hist.Rounds[1:] {
		assert.False(t, rec.Aggregated)
		assert.Equal(t, 1, rec.FitFailures)
	}

	// The global model never moved off its initial value.
	for _, v := range seen {
		assert.Equal(t, 0.0, v)
	}

	_, err = svc.Checkpoint(context.Background(), 1)
	assert.ErrorIs(t, err, pkgerrors.ErrNotFound)
}

func TestRunContinuesAfterSkippedRounds(t *testing.T) {
	// Population stays below the sampling minimum, so every round is a
	// recorded no-op and the run still finishes.
	cfg := fullParticipationConfig()
	cfg.MinAvailableClients = 5
	cm := newManager(t, trainingProxy("c1", 1.0, 10))
	svc := federation.NewService(strategy.NewFedAvg(cfg, slog.Default()), cm, nil, slog.Default())

	hist, err := svc.Run(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, hist.Rounds, 3)

	for i, rec := range hist.Rounds {
		assert.Equal(t, uint64(i+1), rec.Round)
		assert.True(t, rec.Skipped)
	}
}

func TestRunPullsInitialParametersFromClient(t *testing.T) {
	seed := &mocks.MockProxy{}
	seed.On("ID").Return("c1")
	seed.On("GetParameters", mock.Anything, mock.Anything).Return(scalarParams(7), nil)
	seed.On("Fit", mock.Anything, mock.Anything, mock.Anything).Return(client.FitRes{Parameters: scalarParams(1.0), NumExamples: 10}, nil)
	seed.On("Evaluate", mock.Anything, mock.Anything, mock.Anything).Return(client.EvaluateRes{Loss: 1.0, NumExamples: 10}, nil)

	cfg := fullParticipationConfig()
	cfg.InitialParameters = nil
	cfg.MinFitClients = 1
	cfg.MinEvaluateClients = 1
	cfg.MinAvailableClients = 1

	var mu sync.Mutex
	var first float64
	cfg.EvalFn = func(params model.Parameters) (float64, map[string]float64, error) {
		mu.Lock()
		defer mu.Unlock()
		if first == 0 {
			first = params[0].Values[0]
		}

		return 0, nil, nil
	}

	svc := federation.NewService(strategy.NewFedAvg(cfg, slog.Default()), newManager(t, seed), nil, slog.Default())

	_, err := svc.Run(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 7.0, first)
}

func TestRunFailsWithoutInitialParameterSource(t *testing.T) {
	cfg := fullParticipationConfig()
	cfg.InitialParameters = nil

	cm := client.NewManager(slog.Default(), client.WithWaitTimeout(10*time.Millisecond))
	svc := federation.NewService(strategy.NewFedAvg(cfg, slog.Default()), cm, nil, slog.Default(),
		federation.WithInitTimeout(20*time.Millisecond))

	_, err := svc.Run(context.Background(), 1)
	assert.ErrorIs(t, err, federation.ErrNoInitClient)
}

func TestDispatchRunsClientsConcurrently(t *testing.T) {
	delay := 100 * time.Millisecond
	mkSlow := func(id string) *mocks.MockProxy {
		p := &mocks.MockProxy{}
		p.On("ID").Return(id)
		p.On("Fit", mock.Anything, mock.Anything, mock.Anything).
			Run(func(mock.Arguments) { time.Sleep(delay) }).
			Return(client.FitRes{Parameters: scalarParams(1.0), NumExamples: 10}, nil)

		return p
	}

	cfg := fullParticipationConfig()
	cfg.FractionEvaluate = 0
	cfg.MinEvaluateClients = 0
	cm := newManager(t, mkSlow("c1"), mkSlow("c2"), mkSlow("c3"), mkSlow("c4"))
	svc := federation.NewService(strategy.NewFedAvg(cfg, slog.Default()), cm, nil, slog.Default())

	start := time.Now()
	_, err := svc.Run(context.Background(), 1)
	require.NoError(t, err)

	// Four sequential calls would take at least 4x the delay.
	assert.Less(t, time.Since(start), 3*delay)
}

func TestStatusProgression(t *testing.T) {
	cm := newManager(t, trainingProxy("c1", 1.0, 10), trainingProxy("c2", 2.0, 30))
	svc := federation.NewService(strategy.NewFedAvg(fullParticipationConfig(), slog.Default()), cm, nil, slog.Default())

	st, err := svc.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "idle", st.State)

	_, err = svc.Run(context.Background(), 2)
	require.NoError(t, err)

	st, err = svc.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "done", st.State)
	assert.Equal(t, uint64(2), st.CurrentRound)
	assert.Equal(t, 2, st.AvailableClients)
}

func TestHistoryBeforeRun(t *testing.T) {
	cm := newManager(t)
	svc := federation.NewService(strategy.NewFedAvg(fullParticipationConfig(), slog.Default()), cm, nil, slog.Default())

	_, err := svc.History(context.Background())
	assert.ErrorIs(t, err, pkgerrors.ErrEmptyRun)
}

func TestClients(t *testing.T) {
	p := trainingProxy("c1", 1.0, 10)
	p.On("Properties").Return(map[string]string{"tier": "edge"})
	svc := federation.NewService(strategy.NewFedAvg(fullParticipationConfig(), slog.Default()), newManager(t, p), nil, slog.Default())

	infos, err := svc.Clients(context.Background())
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "c1", infos[0].ID)
	assert.Equal(t, "edge", infos[0].Properties["tier"])
}
