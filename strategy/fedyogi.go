package strategy

import (
	"log/slog"

	"github.com/absmach/flock/client"
	"github.com/absmach/flock/model"
)

// FedYogi is the sign-aware sibling of FedAdam: the second moment only
// moves toward the squared pseudo-gradient, which keeps the effective
// learning rate from collapsing under heavy-tailed updates.
type FedYogi struct {
	fedOpt
}

var _ Strategy = (*FedYogi)(nil)

func NewFedYogi(cfg FedOptConfig, logger *slog.Logger) (*FedYogi, error) {
	base, err := newFedOpt(cfg, logger)
	if err != nil {
		return nil, err
	}

	return &FedYogi{fedOpt: base}, nil
}

func (s *FedYogi) AggregateFit(round uint64, results []FitResult, failures []client.Failure) model.Parameters {
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
		sq := d * d

		return v - (1-s.cfg.Beta2)*sq*sign(v-sq)
	})
	if err != nil {
		return nil
	}
	s.vt = vt

	return s.step(s.mt)
}

func sign(x float64) float64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	default:
		return 0
	}
}
