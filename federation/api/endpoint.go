package api

import (
	"context"
	"errors"

	"github.com/go-kit/kit/endpoint"

	"github.com/absmach/flock/federation"
	"github.com/absmach/flock/pkg/api"
	pkgerrors "github.com/absmach/flock/pkg/errors"
)

var errZeroRound = errors.New("round numbering starts at 1")

func statusEndpoint(svc federation.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		if _, ok := request.(statusReq); !ok {
			return statusResponse{}, errors.Join(api.ErrValidation, pkgerrors.ErrInvalidData)
		}

		st, err := svc.Status(ctx)
		if err != nil {
			return statusResponse{}, err
		}

		return statusResponse{Status: st}, nil
	}
}

func historyEndpoint(svc federation.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		if _, ok := request.(historyReq); !ok {
			return historyResponse{}, errors.Join(api.ErrValidation, pkgerrors.ErrInvalidData)
		}

		hist, err := svc.History(ctx)
		if err != nil {
			return historyResponse{}, err
		}

		return historyResponse{History: hist}, nil
	}
}

func clientsEndpoint(svc federation.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(clientsReq)
		if !ok {
			return clientsResponse{}, errors.Join(api.ErrValidation, pkgerrors.ErrInvalidData)
		}

		infos, err := svc.Clients(ctx)
		if err != nil {
			return clientsResponse{}, err
		}

		total := len(infos)
		if req.offset >= uint64(total) {
			return clientsResponse{Clients: []federation.ClientInfo{}, Total: total}, nil
		}
		end := req.offset + req.limit
		if end > uint64(total) {
			end = uint64(total)
		}

		return clientsResponse{Clients: infos[req.offset:end], Total: total}, nil
	}
}

func checkpointEndpoint(svc federation.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(checkpointReq)
		if !ok {
			return checkpointResponse{}, errors.Join(api.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return checkpointResponse{}, errors.Join(api.ErrValidation, err)
		}

		params, err := svc.Checkpoint(ctx, req.round)
		if err != nil {
			return checkpointResponse{}, err
		}

		return checkpointResponse{Round: req.round, Parameters: params}, nil
	}
}
