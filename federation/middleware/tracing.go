package middleware

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/absmach/flock/federation"
	"github.com/absmach/flock/model"
)

var _ federation.Service = (*tracing)(nil)

type tracing struct {
	tracer trace.Tracer
	svc    federation.Service
}

func Tracing(tracer trace.Tracer, svc federation.Service) federation.Service {
	return &tracing{tracer, svc}
}

func (tm *tracing) Run(ctx context.Context, numRounds uint64) (federation.History, error) {
	ctx, span := tm.tracer.Start(ctx, "run", trace.WithAttributes(
		attribute.Int64("num_rounds", int64(numRounds)),
	))
	defer span.End()

	return tm.svc.Run(ctx, numRounds)
}

func (tm *tracing) Status(ctx context.Context) (federation.Status, error) {
	ctx, span := tm.tracer.Start(ctx, "status")
	defer span.End()

	return tm.svc.Status(ctx)
}

func (tm *tracing) History(ctx context.Context) (federation.History, error) {
	ctx, span := tm.tracer.Start(ctx, "history")
	defer span.End()

	return tm.svc.History(ctx)
}

func (tm *tracing) Clients(ctx context.Context) ([]federation.ClientInfo, error) {
	ctx, span := tm.tracer.Start(ctx, "list-clients")
	defer span.End()

	return tm.svc.Clients(ctx)
}

func (tm *tracing) Checkpoint(ctx context.Context, round uint64) (model.Parameters, error) {
	ctx, span := tm.tracer.Start(ctx, "checkpoint", trace.WithAttributes(
		attribute.Int64("round", int64(round)),
	))
	defer span.End()

	return tm.svc.Checkpoint(ctx, round)
}
