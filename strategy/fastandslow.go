package strategy

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/absmach/flock/client"
	"github.com/absmach/flock/model"
)

// FastAndSlowConfig tunes the timeout-adaptive strategy. TSlow is
// always required; TFast additionally when the alternating schedule is
// on.
type FastAndSlowConfig struct {
	FedAvgConfig
	// RFast and RSlow set the alternation cadence: each cycle runs
	// RFast rounds under TFast followed by RSlow rounds under TSlow.
	RFast uint64
	RSlow uint64
	// TFast and TSlow are the short and long round timeouts.
	TFast time.Duration
	TSlow time.Duration
	// AlternatingTimeout switches between TFast and TSlow round by
	// round; DynamicTimeout instead estimates the timeout from a
	// percentile of observed client durations. Dynamic wins when both
	// are set.
	AlternatingTimeout bool
	DynamicTimeout     bool
	// DynamicTimeoutPercentile picks the estimate from the observed
	// duration distribution.
	DynamicTimeoutPercentile float64
	// ImportanceSampling biases selection toward clients whose history
	// suggests they finish within the round budget.
	ImportanceSampling bool
	// HistorySize bounds the per-client duration window.
	HistorySize int
}

func DefaultFastAndSlowConfig() FastAndSlowConfig {
	return FastAndSlowConfig{
		FedAvgConfig:             DefaultFedAvgConfig(),
		RFast:                    1,
		RSlow:                    1,
		DynamicTimeoutPercentile: 0.8,
	}
}

// FastAndSlow adapts the per-round fit timeout to the observed client
// population instead of waiting out stragglers with a fixed bound.
// Clients that miss the round timeout are failures for that round but
// stay registered, and the missed bound still feeds the duration
// history so future estimates account for them.
type FastAndSlow struct {
	*FedAvg
	cfg FastAndSlowConfig

	hist *durationHistory
	// lastTimeout remembers the bound sent out by the latest
	// ConfigureFit so failures can be scored against it.
	lastTimeout time.Duration
}

var _ Strategy = (*FastAndSlow)(nil)

func NewFastAndSlow(cfg FastAndSlowConfig, logger *slog.Logger) (*FastAndSlow, error) {
	if cfg.TSlow <= 0 {
		return nil, fmt.Errorf("%w: t_slow timeout is required", errInvalidHyperparams)
	}
	if cfg.AlternatingTimeout {
		if cfg.TFast <= 0 || cfg.TFast > cfg.TSlow {
			return nil, fmt.Errorf("%w: t_fast must be in (0, t_slow], got %s", errInvalidHyperparams, cfg.TFast)
		}
		if cfg.RFast == 0 || cfg.RSlow == 0 {
			return nil, fmt.Errorf("%w: r_fast and r_slow must be positive", errInvalidHyperparams)
		}
	}
	if cfg.DynamicTimeout && (cfg.DynamicTimeoutPercentile <= 0 || cfg.DynamicTimeoutPercentile > 1) {
		return nil, fmt.Errorf("%w: dynamic timeout percentile must be in (0, 1], got %g", errInvalidHyperparams, cfg.DynamicTimeoutPercentile)
	}

	return &FastAndSlow{
		FedAvg: NewFedAvg(cfg.FedAvgConfig, logger),
		cfg:    cfg,
		hist:   newDurationHistory(cfg.HistorySize),
	}, nil
}

// isFastRound places round (1-based) inside the fast/slow cycle.
func isFastRound(round, rFast, rSlow uint64) bool {
	return (round-1)%(rFast+rSlow) < rFast
}

// roundTimeout picks this round's fit timeout.
func (s *FastAndSlow) roundTimeout(round uint64) time.Duration {
	switch {
	case s.cfg.DynamicTimeout:
		cands := s.hist.Candidates(s.cfg.TSlow)
		if len(cands) == 0 {
			return s.cfg.TSlow
		}

		return percentile(cands, s.cfg.DynamicTimeoutPercentile)
	case s.cfg.AlternatingTimeout:
		if isFastRound(round, s.cfg.RFast, s.cfg.RSlow) {
			return s.cfg.TFast
		}

		return s.cfg.TSlow
	default:
		return s.cfg.TSlow
	}
}

func (s *FastAndSlow) ConfigureFit(round uint64, params model.Parameters, cm client.Manager) []ClientFitIns {
	timeout := s.roundTimeout(round)
	s.lastTimeout = timeout

	cfg := client.Config{}
	if s.cfg.OnFitConfig != nil {
		for k, v := range s.cfg.OnFitConfig(round) {
			cfg[k] = v
		}
	}
	cfg.SetTimeout(timeout)

	sampled := s.sampleFit(timeout, cm)

	ins := make([]ClientFitIns, 0, len(sampled))
	for _, p := range sampled {
		ins = append(ins, ClientFitIns{Proxy: p, Ins: client.FitIns{Parameters: params, Config: cfg}})
	}

	return ins
}

// sampleFit selects the round's clients, preferring ones whose mean
// observed duration fits the budget when importance sampling is on and
// topping up from the rest of the population.
func (s *FastAndSlow) sampleFit(timeout time.Duration, cm client.Manager) []client.Proxy {
	want := s.numFitClients(cm.NumAvailable())
	if !s.cfg.ImportanceSampling {
		return cm.Sample(want, s.cfg.MinAvailableClients, nil)
	}

	withinBudget := func(p client.Proxy) bool {
		mean, ok := s.hist.Mean(p.ID())

		return ok && mean <= timeout
	}

	sampled := cm.Sample(want, s.cfg.MinAvailableClients, withinBudget)
	if len(sampled) < want {
		chosen := make(map[string]bool, len(sampled))
		for _, p := range sampled {
			chosen[p.ID()] = true
		}
		rest := cm.Sample(want-len(sampled), s.cfg.MinAvailableClients, func(p client.Proxy) bool {
			return !chosen[p.ID()]
		})
		sampled = append(sampled, rest...)
	}

	return sampled
}

func (s *FastAndSlow) AggregateFit(round uint64, results []FitResult, failures []client.Failure) model.Parameters {
	for _, r := range results {
		if secs, ok := r.Res.Metrics["fit_duration"]; ok && secs > 0 {
			s.hist.Observe(r.Proxy.ID(), time.Duration(secs*float64(time.Second)))
		}
	}
	// A client that missed the bound took at least the bound.
	if s.lastTimeout > 0 {
		for _, f := range failures {
			s.hist.Observe(f.ClientID, s.lastTimeout)
		}
	}

	return s.FedAvg.AggregateFit(round, results, failures)
}
