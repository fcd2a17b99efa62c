package strategy

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/absmach/flock/client"
	"github.com/absmach/flock/model"
)

var errInvalidHyperparams = errors.New("invalid strategy hyperparameters")

// FedOptConfig extends FedAvgConfig with the server-side optimizer
// hyperparameters shared by the adaptive strategies.
type FedOptConfig struct {
	FedAvgConfig
	// Eta is the server-side learning rate, EtaL the client-side one
	// forwarded to clients through the round config.
	Eta  float64
	EtaL float64
	// Tau keeps the adaptive denominator away from zero.
	Tau float64
	// Beta1 and Beta2 are the moment decay rates used by the Adam and
	// Yogi variants.
	Beta1 float64
	Beta2 float64
}

func DefaultFedOptConfig() FedOptConfig {
	return FedOptConfig{
		FedAvgConfig: DefaultFedAvgConfig(),
		Eta:          1e-1,
		EtaL:         1e-1,
		Tau:          1e-9,
		Beta1:        0.9,
		Beta2:        0.99,
	}
}

// fedOpt treats the round's weighted average as a pseudo-gradient
// against the previous global parameters and lets each variant turn it
// into a server-side optimizer step. Moment accumulators live for the
// life of one strategy instance.
type fedOpt struct {
	*FedAvg
	cfg     FedOptConfig
	current model.Parameters
	mt      model.Parameters
	vt      model.Parameters
}

func newFedOpt(cfg FedOptConfig, logger *slog.Logger) (fedOpt, error) {
	if cfg.Eta <= 0 {
		return fedOpt{}, fmt.Errorf("%w: eta must be positive, got %g", errInvalidHyperparams, cfg.Eta)
	}
	if cfg.Tau <= 0 {
		return fedOpt{}, fmt.Errorf("%w: tau must be positive, got %g", errInvalidHyperparams, cfg.Tau)
	}

	return fedOpt{FedAvg: NewFedAvg(cfg.FedAvgConfig, logger), cfg: cfg}, nil
}

// ConfigureFit records the outgoing global parameters so the aggregate
// step can compute the round's pseudo-gradient against them, and hands
// the client learning rate to the sampled clients. A learning_rate set
// by OnFitConfig wins over EtaL.
func (s *fedOpt) ConfigureFit(round uint64, params model.Parameters, cm client.Manager) []ClientFitIns {
	s.current = model.Clone(params)

	ins := s.FedAvg.ConfigureFit(round, params, cm)
	for i := range ins {
		if _, ok := ins[i].Ins.Config["learning_rate"]; !ok {
			ins[i].Ins.Config["learning_rate"] = strconv.FormatFloat(s.cfg.EtaL, 'f', -1, 64)
		}
	}

	return ins
}

// pseudoGradient aggregates the round and returns its delta against
// the previous global parameters, initializing the moment accumulators
// to zero on first use.
func (s *fedOpt) pseudoGradient(round uint64, results []FitResult, failures []client.Failure) (model.Parameters, bool) {
	avg := s.FedAvg.AggregateFit(round, results, failures)
	if avg == nil || s.current == nil {
		return nil, false
	}
	delta, err := model.Sub(avg, s.current)
	if err != nil {
		return nil, false
	}

	// Explicit zero initialization: an all-zero first delta must still
	// mark the accumulators as initialized.
	if s.vt == nil {
		s.vt = model.ZerosLike(delta)
	}
	if s.mt == nil {
		s.mt = model.ZerosLike(delta)
	}

	return delta, true
}

// step applies the shared update shape: previous parameters plus
// eta * m / (sqrt(v) + tau).
func (s *fedOpt) step(numerator model.Parameters) model.Parameters {
	scaled, err := model.Zip(numerator, s.vt, func(m, v float64) float64 {
		return s.cfg.Eta * m / (sqrt(v) + s.cfg.Tau)
	})
	if err != nil {
		return nil
	}
	next, err := model.Add(s.current, scaled)
	if err != nil {
		return nil
	}

	return next
}
