package federation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/absmach/flock/client"
	"github.com/absmach/flock/model"
	pkgerrors "github.com/absmach/flock/pkg/errors"
	"github.com/absmach/flock/pkg/storage"
	"github.com/absmach/flock/strategy"
)

const (
	defCallTimeout = 60 * time.Second
	defInitTimeout = 5 * time.Minute

	stateIdle    = "idle"
	stateRunning = "running"
	stateDone    = "done"
)

var (
	ErrAlreadyRunning = errors.New("a run is already in progress")
	ErrNoInitClient   = errors.New("no client available to supply initial parameters")
)

type service struct {
	mu sync.RWMutex

	strategy    strategy.Strategy
	clients     client.Manager
	checkpoints storage.Storage
	logger      *slog.Logger

	callTimeout time.Duration
	initTimeout time.Duration

	state     string
	round     uint64
	numRounds uint64
	params    model.Parameters
	history   History
}

// Option adjusts service construction.
type Option func(*service)

// WithCallTimeout sets the default remote-call timeout used when a
// round's config does not carry one.
func WithCallTimeout(d time.Duration) Option {
	return func(s *service) {
		s.callTimeout = d
	}
}

// WithInitTimeout bounds the wait for a first client when the strategy
// supplies no initial parameters.
func WithInitTimeout(d time.Duration) Option {
	return func(s *service) {
		s.initTimeout = d
	}
}

func NewService(str strategy.Strategy, cm client.Manager, checkpoints storage.Storage, logger *slog.Logger, opts ...Option) Service {
	svc := &service{
		strategy:    str,
		clients:     cm,
		checkpoints: checkpoints,
		logger:      logger,
		callTimeout: defCallTimeout,
		initTimeout: defInitTimeout,
		state:       stateIdle,
	}
	for _, opt := range opts {
		opt(svc)
	}

	return svc
}

func (s *service) Run(ctx context.Context, numRounds uint64) (History, error) {
	s.mu.Lock()
	if s.state == stateRunning {
		s.mu.Unlock()

		return History{}, ErrAlreadyRunning
	}
	s.state = stateRunning
	s.round = 0
	s.numRounds = numRounds
	s.history = History{StartedAt: time.Now()}
	s.mu.Unlock()

	params, err := s.initialParameters(ctx)
	if err != nil {
		s.setState(stateIdle)

		return History{}, err
	}
	s.setParams(params)
	s.logger.Info("initialized global parameters", slog.Int("num_tensors", len(params)))

	if eval := s.strategy.Evaluate(params); eval != nil {
		s.logger.Info("initial centralized evaluation", slog.Float64("loss", eval.Loss))
		s.appendRecord(RoundRecord{Round: 0, LossCentral: &eval.Loss, MetricsCent: eval.Metrics})
	}

	for round := uint64(1); round <= numRounds; round++ {
		if err := ctx.Err(); err != nil {
			s.setState(stateDone)

			return s.snapshotHistory(), err
		}

		s.setRound(round)
		begin := time.Now()
		rec := s.fitRound(ctx, round)

		if eval := s.strategy.Evaluate(s.currentParams()); eval != nil {
			rec.LossCentral = &eval.Loss
			rec.MetricsCent = eval.Metrics
		}

		s.evaluateRound(ctx, round, &rec)
		rec.Duration = time.Since(begin)
		s.appendRecord(rec)

		s.logger.Info("round finished",
			slog.Uint64("round", round),
			slog.Bool("aggregated", rec.Aggregated),
			slog.Int("fit_clients", rec.FitClients),
			slog.Int("fit_failures", rec.FitFailures),
			slog.String("duration", rec.Duration.String()))
	}

	s.mu.Lock()
	s.state = stateDone
	s.history.FinishedAt = time.Now()
	hist := s.history
	s.mu.Unlock()

	return hist, nil
}

// initialParameters asks the strategy first and falls back to pulling
// the model from the first connected client.
func (s *service) initialParameters(ctx context.Context) (model.Parameters, error) {
	if params := s.strategy.InitialParameters(); params != nil {
		return model.Clone(params), nil
	}

	if !s.clients.WaitFor(1, s.initTimeout) {
		return nil, ErrNoInitClient
	}
	sampled := s.clients.Sample(1, 1, nil)
	if len(sampled) == 0 {
		return nil, ErrNoInitClient
	}

	s.logger.Info("requesting initial parameters", slog.String("client_id", sampled[0].ID()))
	params, err := sampled[0].GetParameters(ctx, s.callTimeout)
	if err != nil {
		return nil, fmt.Errorf("get initial parameters: %w", err)
	}

	return params, nil
}

// fitRound runs one training round: sample, concurrent dispatch,
// collect, aggregate. A failed aggregation leaves the global
// parameters untouched and the run continues.
func (s *service) fitRound(ctx context.Context, round uint64) RoundRecord {
	rec := RoundRecord{Round: round}

	ins := s.strategy.ConfigureFit(round, s.currentParams(), s.clients)
	if len(ins) == 0 {
		s.logger.Warn("fit round skipped, no clients selected", slog.Uint64("round", round))
		rec.Skipped = true

		return rec
	}

	results, failures := s.dispatchFit(ctx, ins)
	rec.FitClients = len(results)
	rec.FitFailures = len(failures)
	for _, f := range failures {
		s.logger.Warn("client fit failed",
			slog.Uint64("round", round),
			slog.String("client_id", f.ClientID),
			slog.Any("error", f.Err))
	}

	newParams := s.strategy.AggregateFit(round, results, failures)
	if newParams == nil {
		s.logger.Warn("fit aggregation produced no parameters, keeping previous model",
			slog.Uint64("round", round),
			slog.Int("results", len(results)),
			slog.Int("failures", len(failures)))

		return rec
	}

	rec.Aggregated = true
	s.setParams(newParams)
	s.checkpoint(ctx, round, newParams)

	return rec
}

// dispatchFit fans one fit call out per selected client. Calls are
// independent: each is bounded by its own timeout and a straggler
// never delays the others beyond that bound.
func (s *service) dispatchFit(ctx context.Context, ins []strategy.ClientFitIns) ([]strategy.FitResult, []client.Failure) {
	type outcome struct {
		result  *strategy.FitResult
		failure *client.Failure
	}

	ch := make(chan outcome, len(ins))
	var wg sync.WaitGroup
	for _, ci := range ins {
		wg.Add(1)
		go func(ci strategy.ClientFitIns) {
			defer wg.Done()

			res, err := ci.Proxy.Fit(ctx, ci.Ins, ci.Ins.Config.Timeout(s.callTimeout))
			if err != nil {
				ch <- outcome{failure: &client.Failure{ClientID: ci.Proxy.ID(), Err: err}}

				return
			}
			ch <- outcome{result: &strategy.FitResult{Proxy: ci.Proxy, Res: res}}
		}(ci)
	}
	wg.Wait()
	close(ch)

	var results []strategy.FitResult
	var failures []client.Failure
	for o := range ch {
		if o.failure != nil {
			failures = append(failures, *o.failure)

			continue
		}
		results = append(results, *o.result)
	}

	return results, failures
}

func (s *service) evaluateRound(ctx context.Context, round uint64, rec *RoundRecord) {
	ins := s.strategy.ConfigureEvaluate(round, s.currentParams(), s.clients)
	if len(ins) == 0 {
		s.logger.Warn("evaluate round skipped, no clients selected", slog.Uint64("round", round))

		return
	}

	results, failures := s.dispatchEvaluate(ctx, ins)
	rec.EvalClients = len(results)
	rec.EvalFailures = len(failures)

	eval := s.strategy.AggregateEvaluate(round, results, failures)
	if eval == nil {
		s.logger.Warn("evaluate aggregation produced no result", slog.Uint64("round", round))

		return
	}
	rec.LossFed = &eval.Loss
	rec.MetricsFed = eval.Metrics
}

func (s *service) dispatchEvaluate(ctx context.Context, ins []strategy.ClientEvaluateIns) ([]strategy.EvaluateResult, []client.Failure) {
	type outcome struct {
		result  *strategy.EvaluateResult
		failure *client.Failure
	}

	ch := make(chan outcome, len(ins))
	var wg sync.WaitGroup
	for _, ci := range ins {
		wg.Add(1)
		go func(ci strategy.ClientEvaluateIns) {
			defer wg.Done()

			res, err := ci.Proxy.Evaluate(ctx, ci.Ins, ci.Ins.Config.Timeout(s.callTimeout))
			if err != nil {
				ch <- outcome{failure: &client.Failure{ClientID: ci.Proxy.ID(), Err: err}}

				return
			}
			ch <- outcome{result: &strategy.EvaluateResult{Proxy: ci.Proxy, Res: res}}
		}(ci)
	}
	wg.Wait()
	close(ch)

	var results []strategy.EvaluateResult
	var failures []client.Failure
	for o := range ch {
		if o.failure != nil {
			failures = append(failures, *o.failure)

			continue
		}
		results = append(results, *o.result)
	}

	return results, failures
}

// checkpoint persists the round's parameters. Checkpointing is best
// effort and never fails the round.
func (s *service) checkpoint(ctx context.Context, round uint64, params model.Parameters) {
	if s.checkpoints == nil {
		return
	}
	if err := s.checkpoints.Create(ctx, strconv.FormatUint(round, 10), model.Clone(params)); err != nil {
		s.logger.Warn("failed to store parameter checkpoint",
			slog.Uint64("round", round),
			slog.Any("error", err))
	}
}

func (s *service) Status(_ context.Context) (Status, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Status{
		State:            s.state,
		CurrentRound:     s.round,
		NumRounds:        s.numRounds,
		AvailableClients: s.clients.NumAvailable(),
	}, nil
}

func (s *service) History(_ context.Context) (History, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.history.StartedAt.IsZero() {
		return History{}, pkgerrors.ErrEmptyRun
	}

	return s.history, nil
}

func (s *service) Clients(_ context.Context) ([]ClientInfo, error) {
	proxies := s.clients.All()
	infos := make([]ClientInfo, 0, len(proxies))
	for _, p := range proxies {
		infos = append(infos, ClientInfo{ID: p.ID(), Properties: p.Properties()})
	}

	return infos, nil
}

func (s *service) Checkpoint(ctx context.Context, round uint64) (model.Parameters, error) {
	if s.checkpoints == nil {
		return nil, pkgerrors.ErrNotFound
	}
	data, err := s.checkpoints.Get(ctx, strconv.FormatUint(round, 10))
	if err != nil {
		return nil, err
	}
	params, ok := data.(model.Parameters)
	if !ok {
		return nil, pkgerrors.ErrInvalidData
	}

	return model.Clone(params), nil
}

func (s *service) currentParams() model.Parameters {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.params
}

func (s *service) setParams(params model.Parameters) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.params = params
}

func (s *service) setRound(round uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.round = round
}

func (s *service) setState(state string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = state
}

func (s *service) appendRecord(rec RoundRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history.Rounds = append(s.history.Rounds, rec)
}

func (s *service) snapshotHistory() History {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.history
}
