// Package strategy holds the pluggable per-round policies of a
// federated run: which clients to use, what instructions to send them
// and how to reduce their results into the next global model.
package strategy

import (
	"github.com/absmach/flock/client"
	"github.com/absmach/flock/model"
)

// ConfigFn builds the client configuration for one round, e.g. a
// learning-rate decay schedule or per-round epoch counts.
type ConfigFn func(round uint64) client.Config

// EvalFn evaluates parameters on data the coordinator itself holds.
type EvalFn func(params model.Parameters) (loss float64, metrics map[string]float64, err error)

// ClientFitIns pairs one sampled client with its fit instructions.
type ClientFitIns struct {
	Proxy client.Proxy
	Ins   client.FitIns
}

// ClientEvaluateIns pairs one sampled client with its evaluate
// instructions.
type ClientEvaluateIns struct {
	Proxy client.Proxy
	Ins   client.EvaluateIns
}

// FitResult is one successful fit response, tagged with the client
// that produced it.
type FitResult struct {
	Proxy client.Proxy
	Res   client.FitRes
}

// EvaluateResult is one successful evaluate response.
type EvaluateResult struct {
	Proxy client.Proxy
	Res   client.EvaluateRes
}

// Evaluation is an aggregated or centralized evaluation outcome.
type Evaluation struct {
	Loss    float64
	Metrics map[string]float64
}

// Strategy decides, per round, which clients participate and how their
// results fold into the global model. Aggregate methods own any
// accumulator state; the server calls them strictly sequentially, so
// implementations need no internal locking.
type Strategy interface {
	// InitialParameters returns the starting global model, or nil to
	// make the server pull it from a connected client.
	InitialParameters() model.Parameters
	// ConfigureFit samples clients through cm and builds their fit
	// instructions. An empty return skips the round.
	ConfigureFit(round uint64, params model.Parameters, cm client.Manager) []ClientFitIns
	// AggregateFit reduces fit results into new global parameters. A
	// nil return leaves the global model unchanged for this round.
	AggregateFit(round uint64, results []FitResult, failures []client.Failure) model.Parameters
	// ConfigureEvaluate samples clients for federated evaluation.
	ConfigureEvaluate(round uint64, params model.Parameters, cm client.Manager) []ClientEvaluateIns
	// AggregateEvaluate reduces evaluate results into an aggregate
	// loss. A nil return records the round as unevaluated.
	AggregateEvaluate(round uint64, results []EvaluateResult, failures []client.Failure) *Evaluation
	// Evaluate runs centralized evaluation of params, when the
	// strategy was configured with an evaluation function. Returns nil
	// otherwise.
	Evaluate(params model.Parameters) *Evaluation
}
