package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/absmach/flock/federation"
	"github.com/absmach/flock/model"
)

var _ federation.Service = (*loggingMiddleware)(nil)

type loggingMiddleware struct {
	logger *slog.Logger
	svc    federation.Service
}

func Logging(logger *slog.Logger, svc federation.Service) federation.Service {
	return &loggingMiddleware{
		logger: logger,
		svc:    svc,
	}
}

func (lm *loggingMiddleware) Run(ctx context.Context, numRounds uint64) (hist federation.History, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Uint64("num_rounds", numRounds),
			slog.Int("recorded_rounds", len(hist.Rounds)),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Run failed", args...)

			return
		}
		lm.logger.Info("Run completed successfully", args...)
	}(time.Now())

	return lm.svc.Run(ctx, numRounds)
}

func (lm *loggingMiddleware) Status(ctx context.Context) (st federation.Status, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.String("state", st.State),
			slog.Uint64("current_round", st.CurrentRound),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Get status failed", args...)

			return
		}
		lm.logger.Info("Get status completed successfully", args...)
	}(time.Now())

	return lm.svc.Status(ctx)
}

func (lm *loggingMiddleware) History(ctx context.Context) (hist federation.History, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Int("rounds", len(hist.Rounds)),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Get history failed", args...)

			return
		}
		lm.logger.Info("Get history completed successfully", args...)
	}(time.Now())

	return lm.svc.History(ctx)
}

func (lm *loggingMiddleware) Clients(ctx context.Context) (infos []federation.ClientInfo, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Int("clients", len(infos)),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("List clients failed", args...)

			return
		}
		lm.logger.Info("List clients completed successfully", args...)
	}(time.Now())

	return lm.svc.Clients(ctx)
}

func (lm *loggingMiddleware) Checkpoint(ctx context.Context, round uint64) (params model.Parameters, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Uint64("round", round),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Get checkpoint failed", args...)

			return
		}
		lm.logger.Info("Get checkpoint completed successfully", args...)
	}(time.Now())

	return lm.svc.Checkpoint(ctx, round)
}
