package strategy

import (
	"log/slog"
	"math"

	"github.com/absmach/flock/client"
	"github.com/absmach/flock/model"
)

// FedAvgConfig tunes client selection and fault handling shared by all
// averaging strategies. Build it with DefaultFedAvgConfig and override
// fields as needed.
type FedAvgConfig struct {
	// FractionFit and FractionEvaluate are the shares of the available
	// population asked to train resp. evaluate each round.
	FractionFit      float64
	FractionEvaluate float64
	// MinFitClients and MinEvaluateClients floor the sample sizes
	// computed from the fractions.
	MinFitClients      int
	MinEvaluateClients int
	// MinAvailableClients must be registered before sampling proceeds.
	MinAvailableClients int
	// AcceptFailures decides whether a round with partial failures
	// still aggregates. When false, any failure voids the round.
	AcceptFailures bool
	// MinCompletionRateFit and MinCompletionRateEvaluate void a round
	// when fewer than this fraction of asked clients responded.
	MinCompletionRateFit      float64
	MinCompletionRateEvaluate float64
	// OnFitConfig and OnEvaluateConfig build the per-round client
	// configuration. Optional.
	OnFitConfig      ConfigFn
	OnEvaluateConfig ConfigFn
	// EvalFn enables centralized evaluation. Optional.
	EvalFn EvalFn
	// InitialParameters seeds the global model. When nil the server
	// pulls initial parameters from a connected client.
	InitialParameters model.Parameters
}

func DefaultFedAvgConfig() FedAvgConfig {
	return FedAvgConfig{
		FractionFit:         0.1,
		FractionEvaluate:    0.1,
		MinFitClients:       2,
		MinEvaluateClients:  2,
		MinAvailableClients: 2,
		AcceptFailures:      true,
	}
}

// FedAvg averages client parameters weighted by the number of local
// examples each client trained on.
type FedAvg struct {
	cfg    FedAvgConfig
	logger *slog.Logger
}

var _ Strategy = (*FedAvg)(nil)

func NewFedAvg(cfg FedAvgConfig, logger *slog.Logger) *FedAvg {
	return &FedAvg{cfg: cfg, logger: logger}
}

func (s *FedAvg) InitialParameters() model.Parameters {
	return s.cfg.InitialParameters
}

// numFitClients scales the fit sample with the population, floored by
// the configured minimum.
func (s *FedAvg) numFitClients(available int) int {
	n := int(math.Ceil(s.cfg.FractionFit * float64(available)))
	if n < s.cfg.MinFitClients {
		n = s.cfg.MinFitClients
	}

	return n
}

func (s *FedAvg) numEvaluateClients(available int) int {
	n := int(math.Ceil(s.cfg.FractionEvaluate * float64(available)))
	if n < s.cfg.MinEvaluateClients {
		n = s.cfg.MinEvaluateClients
	}

	return n
}

func (s *FedAvg) ConfigureFit(round uint64, params model.Parameters, cm client.Manager) []ClientFitIns {
	cfg := client.Config{}
	if s.cfg.OnFitConfig != nil {
		cfg = s.cfg.OnFitConfig(round)
	}

	sampled := cm.Sample(s.numFitClients(cm.NumAvailable()), s.cfg.MinAvailableClients, nil)

	ins := make([]ClientFitIns, 0, len(sampled))
	for _, p := range sampled {
		ins = append(ins, ClientFitIns{Proxy: p, Ins: client.FitIns{Parameters: params, Config: cfg}})
	}

	return ins
}

func (s *FedAvg) ConfigureEvaluate(round uint64, params model.Parameters, cm client.Manager) []ClientEvaluateIns {
	cfg := client.Config{}
	if s.cfg.OnEvaluateConfig != nil {
		cfg = s.cfg.OnEvaluateConfig(round)
	}

	sampled := cm.Sample(s.numEvaluateClients(cm.NumAvailable()), s.cfg.MinAvailableClients, nil)

	ins := make([]ClientEvaluateIns, 0, len(sampled))
	for _, p := range sampled {
		ins = append(ins, ClientEvaluateIns{Proxy: p, Ins: client.EvaluateIns{Parameters: params, Config: cfg}})
	}

	return ins
}

// fitFeasible applies the shared failure policy: fail closed on any
// failure unless failures are accepted, and require the configured
// completion rate.
func (s *FedAvg) fitFeasible(results []FitResult, failures []client.Failure) bool {
	if len(results) == 0 {
		return false
	}
	if !s.cfg.AcceptFailures && len(failures) > 0 {
		return false
	}

	return completionRate(len(results), len(failures)) >= s.cfg.MinCompletionRateFit
}

func (s *FedAvg) evaluateFeasible(results []EvaluateResult, failures []client.Failure) bool {
	if len(results) == 0 {
		return false
	}
	if !s.cfg.AcceptFailures && len(failures) > 0 {
		return false
	}

	return completionRate(len(results), len(failures)) >= s.cfg.MinCompletionRateEvaluate
}

func (s *FedAvg) AggregateFit(round uint64, results []FitResult, failures []client.Failure) model.Parameters {
	if !s.fitFeasible(results, failures) {
		return nil
	}

	return weightedParameters(results)
}

func (s *FedAvg) AggregateEvaluate(round uint64, results []EvaluateResult, failures []client.Failure) *Evaluation {
	if !s.evaluateFeasible(results, failures) {
		return nil
	}
	loss, ok := weightedLoss(results)
	if !ok {
		return nil
	}

	return &Evaluation{Loss: loss, Metrics: weightedMetrics(results)}
}

func (s *FedAvg) Evaluate(params model.Parameters) *Evaluation {
	if s.cfg.EvalFn == nil {
		return nil
	}
	loss, metrics, err := s.cfg.EvalFn(params)
	if err != nil {
		s.logger.Warn("centralized evaluation failed", slog.Any("error", err))

		return nil
	}

	return &Evaluation{Loss: loss, Metrics: metrics}
}
