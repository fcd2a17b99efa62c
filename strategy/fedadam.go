package strategy

import (
	"log/slog"

	"github.com/absmach/flock/client"
	"github.com/absmach/flock/model"
)

// FedAdam keeps exponential moving averages of the pseudo-gradient and
// its square as first and second moments.
type FedAdam struct {
	fedOpt
}

var _ Strategy = (*FedAdam)(nil)

func NewFedAdam(cfg FedOptConfig, logger *slog.Logger) (*FedAdam, error) {
	base, err := newFedOpt(cfg, logger)
	if err != nil {
		return nil, err
	}

	return &FedAdam{fedOpt: base}, nil
}

func (s *FedAdam) AggregateFit(round uint64, results []FitResult, failures []client.Failure) model.Parameters {
	delta, ok := s.pseudoGradient(round, results, failures)
	if !ok {
		return nil
	}

	mt, err := model.Zip(s.mt, delta, func(m, d float64) float64 {
		return s.cfg.Beta1*m + (1-s.cfg.Beta1)*d
	})
	if err != nil {
		return nil
	}
	s.mt = mt

	vt, err := model.Zip(s.vt, delta, func(v, d float64) float64 {
		return s.cfg.Beta2*v + (1-s.cfg.Beta2)*d*d
	})
	if err != nil {
		return nil
	}
	s.vt = vt

	return s.step(s.mt)
}
