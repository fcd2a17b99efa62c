package strategy

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/absmach/flock/client"
	"github.com/absmach/flock/model"
)

// lossEps keeps the fairness weight defined when a client reports a
// zero loss.
const lossEps = 1e-10

// QFedAvgConfig tunes the fairness-weighted aggregation.
type QFedAvgConfig struct {
	FedAvgConfig
	// Q is the fairness exponent: higher values up-weight clients with
	// higher loss, trading average accuracy for lower variance across
	// clients. Zero degenerates to plain FedAvg weighting.
	Q float64
	// LearningRate is the rate clients train with, used to recover
	// their gradients from the returned parameters and to normalize
	// the server step.
	LearningRate float64
}

func DefaultQFedAvgConfig() QFedAvgConfig {
	return QFedAvgConfig{
		FedAvgConfig: DefaultFedAvgConfig(),
		Q:            0.2,
		LearningRate: 0.1,
	}
}

// QFedAvg reweights each client's update by loss^q before averaging.
// It needs every fit result to carry the client's training loss in the
// "loss" metric; results without it are left out of the reduction.
type QFedAvg struct {
	*FedAvg
	cfg QFedAvgConfig
	pre model.Parameters
}

var _ Strategy = (*QFedAvg)(nil)

func NewQFedAvg(cfg QFedAvgConfig, logger *slog.Logger) (*QFedAvg, error) {
	if cfg.Q < 0 {
		return nil, fmt.Errorf("%w: fairness exponent q must not be negative, got %g", errInvalidHyperparams, cfg.Q)
	}
	if cfg.LearningRate <= 0 {
		return nil, fmt.Errorf("%w: learning rate must be positive, got %g", errInvalidHyperparams, cfg.LearningRate)
	}

	return &QFedAvg{FedAvg: NewFedAvg(cfg.FedAvgConfig, logger), cfg: cfg}, nil
}

func (s *QFedAvg) ConfigureFit(round uint64, params model.Parameters, cm client.Manager) []ClientFitIns {
	s.pre = model.Clone(params)

	return s.FedAvg.ConfigureFit(round, params, cm)
}

func (s *QFedAvg) AggregateFit(round uint64, results []FitResult, failures []client.Failure) model.Parameters {
	if !s.fitFeasible(results, failures) || s.pre == nil {
		return nil
	}

	sumDeltas := model.ZerosLike(s.pre)
	var sumH float64
	var used int
	for _, r := range results {
		loss, ok := r.Res.Metrics["loss"]
		if !ok {
			continue
		}
		loss += lossEps

		grad, err := model.Sub(s.pre, r.Res.Parameters)
		if err != nil {
			return nil
		}
		grad = model.Scale(grad, 1/s.cfg.LearningRate)

		weight := math.Pow(loss, s.cfg.Q)
		sumDeltas, err = model.Add(sumDeltas, model.Scale(grad, weight))
		if err != nil {
			return nil
		}

		norm := model.Norm(grad)
		sumH += s.cfg.Q*math.Pow(loss, s.cfg.Q-1)*norm*norm + weight/s.cfg.LearningRate
		used++
	}
	if used == 0 || sumH == 0 {
		return nil
	}

	update := model.Scale(sumDeltas, 1/sumH)
	next, err := model.Sub(s.pre, update)
	if err != nil {
		return nil
	}

	return next
}
