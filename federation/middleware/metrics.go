package middleware

import (
	"context"
	"time"

	"github.com/go-kit/kit/metrics"

	"github.com/absmach/flock/federation"
	"github.com/absmach/flock/model"
)

var _ federation.Service = (*metricsMiddleware)(nil)

type metricsMiddleware struct {
	counter metrics.Counter
	latency metrics.Histogram
	svc     federation.Service
}

func Metrics(counter metrics.Counter, latency metrics.Histogram, svc federation.Service) federation.Service {
	return &metricsMiddleware{
		counter: counter,
		latency: latency,
		svc:     svc,
	}
}

func (mm *metricsMiddleware) Run(ctx context.Context, numRounds uint64) (federation.History, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "run").Add(1)
		mm.latency.With("method", "run").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.Run(ctx, numRounds)
}

func (mm *metricsMiddleware) Status(ctx context.Context) (federation.Status, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "status").Add(1)
		mm.latency.With("method", "status").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.Status(ctx)
}

func (mm *metricsMiddleware) History(ctx context.Context) (federation.History, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "history").Add(1)
		mm.latency.With("method", "history").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.History(ctx)
}

func (mm *metricsMiddleware) Clients(ctx context.Context) ([]federation.ClientInfo, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "list-clients").Add(1)
		mm.latency.With("method", "list-clients").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.Clients(ctx)
}

func (mm *metricsMiddleware) Checkpoint(ctx context.Context, round uint64) (model.Parameters, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "checkpoint").Add(1)
		mm.latency.With("method", "checkpoint").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.Checkpoint(ctx, round)
}
