// Package client abstracts the remote participants of a federated run:
// the proxy through which the coordinator reaches one client, the
// instruction/result payloads exchanged with it, and the registry that
// tracks and samples the connected population.
package client

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/absmach/flock/model"
)

var (
	ErrDuplicateClient = errors.New("client is already registered")
	ErrCallTimeout     = errors.New("client call timed out")
)

// Config carries per-round instructions as string-encoded scalars.
// Clients are free to ignore keys they do not understand.
type Config map[string]string

// Timeout returns the duration stored under the "timeout" key (seconds,
// float) or def when absent or malformed.
func (c Config) Timeout(def time.Duration) time.Duration {
	raw, ok := c["timeout"]
	if !ok {
		return def
	}
	secs, err := strconv.ParseFloat(raw, 64)
	if err != nil || secs <= 0 {
		return def
	}

	return time.Duration(secs * float64(time.Second))
}

// SetTimeout stores d under the "timeout" key in seconds.
func (c Config) SetTimeout(d time.Duration) {
	c["timeout"] = strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}

type FitIns struct {
	Parameters model.Parameters `json:"parameters"`
	Config     Config           `json:"config"`
}

type FitRes struct {
	Parameters  model.Parameters   `json:"parameters"`
	NumExamples int64              `json:"num_examples"`
	Metrics     map[string]float64 `json:"metrics,omitempty"`
}

type EvaluateIns struct {
	Parameters model.Parameters `json:"parameters"`
	Config     Config           `json:"config"`
}

type EvaluateRes struct {
	Loss        float64            `json:"loss"`
	NumExamples int64              `json:"num_examples"`
	Metrics     map[string]float64 `json:"metrics,omitempty"`
}

// Proxy is the coordinator-side handle for one remote client. Every
// method is a single blocking remote call bounded by the given timeout;
// a call that misses its deadline or loses its transport returns only
// an error, so whatever the client sends back later is discarded.
// Implementations allow at most one in-flight call per operation.
type Proxy interface {
	ID() string
	Properties() map[string]string
	GetParameters(ctx context.Context, timeout time.Duration) (model.Parameters, error)
	Fit(ctx context.Context, ins FitIns, timeout time.Duration) (FitRes, error)
	Evaluate(ctx context.Context, ins EvaluateIns, timeout time.Duration) (EvaluateRes, error)
}

// Failure tags an error from a remote call with the client that
// produced it. Failed clients stay registered for future rounds.
type Failure struct {
	ClientID string
	Err      error
}

func (f Failure) Error() string {
	return fmt.Sprintf("client %s: %s", f.ClientID, f.Err)
}

func (f Failure) Unwrap() error {
	return f.Err
}
