// Package federation drives federated learning runs: it owns the
// global model parameters, fans training and evaluation rounds out to
// sampled clients and folds their results back through the configured
// strategy.
package federation

import (
	"context"
	"time"

	"github.com/absmach/flock/model"
)

// RoundRecord captures the observable outcome of one round.
type RoundRecord struct {
	Round        uint64             `json:"round"`
	Skipped      bool               `json:"skipped"`
	Aggregated   bool               `json:"aggregated"`
	FitClients   int                `json:"fit_clients"`
	FitFailures  int                `json:"fit_failures"`
	EvalClients  int                `json:"eval_clients"`
	EvalFailures int                `json:"eval_failures"`
	LossFed      *float64           `json:"loss_federated,omitempty"`
	MetricsFed   map[string]float64 `json:"metrics_federated,omitempty"`
	LossCentral  *float64           `json:"loss_centralized,omitempty"`
	MetricsCent  map[string]float64 `json:"metrics_centralized,omitempty"`
	Duration     time.Duration      `json:"duration"`
}

// History accumulates round records over one run.
type History struct {
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at,omitzero"`
	Rounds     []RoundRecord `json:"rounds"`
}

// Status is a point-in-time view of the orchestrator.
type Status struct {
	State            string `json:"state"`
	CurrentRound     uint64 `json:"current_round"`
	NumRounds        uint64 `json:"num_rounds"`
	AvailableClients int    `json:"available_clients"`
}

// ClientInfo describes one registered client.
type ClientInfo struct {
	ID         string            `json:"id"`
	Properties map[string]string `json:"properties,omitempty"`
}

// Service orchestrates federated runs and exposes their observable
// state. Run drives the round loop to completion; the remaining
// methods are read-only and safe to call while a run is in flight.
type Service interface {
	Run(ctx context.Context, numRounds uint64) (History, error)
	Status(ctx context.Context) (Status, error)
	History(ctx context.Context) (History, error)
	Clients(ctx context.Context) ([]ClientInfo, error)
	Checkpoint(ctx context.Context, round uint64) (model.Parameters, error)
}
