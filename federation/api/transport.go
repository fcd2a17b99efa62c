package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	kithttp "github.com/go-kit/kit/transport/http"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/absmach/flock/federation"
	"github.com/absmach/flock/pkg/api"
)

func MakeHandler(svc federation.Service, logger *slog.Logger, instanceID string) http.Handler {
	mux := chi.NewRouter()

	opts := []kithttp.ServerOption{
		kithttp.ServerErrorEncoder(loggingErrorEncoder(logger)),
	}

	mux.Get("/status", otelhttp.NewHandler(kithttp.NewServer(
		statusEndpoint(svc),
		decodeStatusReq,
		api.EncodeResponse,
		opts...,
	), "status").ServeHTTP)

	mux.Get("/history", otelhttp.NewHandler(kithttp.NewServer(
		historyEndpoint(svc),
		decodeHistoryReq,
		api.EncodeResponse,
		opts...,
	), "history").ServeHTTP)

	mux.Get("/clients", otelhttp.NewHandler(kithttp.NewServer(
		clientsEndpoint(svc),
		decodeClientsReq,
		api.EncodeResponse,
		opts...,
	), "list-clients").ServeHTTP)

	mux.Get("/checkpoints/{round}", otelhttp.NewHandler(kithttp.NewServer(
		checkpointEndpoint(svc),
		decodeCheckpointReq,
		api.EncodeResponse,
		opts...,
	), "checkpoint").ServeHTTP)

	mux.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", api.ContentType)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status":      "pass",
			"service":     "flock",
			"instance_id": instanceID,
		})
	})
	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

func decodeStatusReq(_ context.Context, _ *http.Request) (any, error) {
	return statusReq{}, nil
}

func decodeHistoryReq(_ context.Context, _ *http.Request) (any, error) {
	return historyReq{}, nil
}

func decodeClientsReq(_ context.Context, r *http.Request) (any, error) {
	offset, err := api.ReadUintQuery(r, api.OffsetKey, api.DefOffset)
	if err != nil {
		return nil, err
	}
	limit, err := api.ReadUintQuery(r, api.LimitKey, api.DefLimit)
	if err != nil {
		return nil, err
	}

	return clientsReq{offset: offset, limit: limit}, nil
}

func decodeCheckpointReq(_ context.Context, r *http.Request) (any, error) {
	round, err := strconv.ParseUint(chi.URLParam(r, "round"), 10, 64)
	if err != nil {
		return nil, errors.Join(api.ErrValidation, err)
	}

	return checkpointReq{round: round}, nil
}

func loggingErrorEncoder(logger *slog.Logger) kithttp.ErrorEncoder {
	return func(ctx context.Context, err error, w http.ResponseWriter) {
		logger.Warn("request failed", slog.Any("error", err))
		api.EncodeError(ctx, err, w)
	}
}
