package strategy

import (
	"log/slog"
	"math"

	"github.com/absmach/flock/client"
	"github.com/absmach/flock/model"
)

func sqrt(v float64) float64 {
	return math.Sqrt(v)
}

// FedAdagrad accumulates the squared pseudo-gradient into a running
// second moment, scaling the server step per coordinate.
type FedAdagrad struct {
	fedOpt
}

var _ Strategy = (*FedAdagrad)(nil)

func NewFedAdagrad(cfg FedOptConfig, logger *slog.Logger) (*FedAdagrad, error) {
	base, err := newFedOpt(cfg, logger)
	if err != nil {
		return nil, err
	}

	return &FedAdagrad{fedOpt: base}, nil
}

func (s *FedAdagrad) AggregateFit(round uint64, results []FitResult, failures []client.Failure) model.Parameters {
	delta, ok := s.pseudoGradient(round, results, failures)
	if !ok {
		return nil
	}

	vt, err := model.Zip(s.vt, delta, func(v, d float64) float64 { return v + d*d })
	if err != nil {
		return nil
	}
	s.vt = vt

	return s.step(delta)
}
