package sdk

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	statusEndpoint      = "/status"
	historyEndpoint     = "/history"
	clientsEndpoint     = "/clients"
	checkpointsEndpoint = "/checkpoints"
)

type Status struct {
	State            string `json:"state"`
	CurrentRound     uint64 `json:"current_round"`
	NumRounds        uint64 `json:"num_rounds"`
	AvailableClients int    `json:"available_clients"`
}

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

type History struct {
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at,omitzero"`
	Rounds     []RoundRecord `json:"rounds"`
}

type Client struct {
	ID         string            `json:"id"`
	Properties map[string]string `json:"properties,omitempty"`
}

type ClientsPage struct {
	Clients []Client `json:"clients"`
	Total   int      `json:"total"`
}

type Tensor struct {
	Shape  []int     `json:"shape"`
	Values []float64 `json:"values"`
}

type Checkpoint struct {
	Round      uint64   `json:"round"`
	Parameters []Tensor `json:"parameters"`
}

func (sdk *flockSDK) Status() (Status, error) {
	url := sdk.coordinatorURL + statusEndpoint

	body, err := sdk.processRequest(http.MethodGet, url, nil, http.StatusOK)
	if err != nil {
		return Status{}, err
	}

	var s Status
	if err := json.Unmarshal(body, &s); err != nil {
		return Status{}, err
	}

	return s, nil
}

func (sdk *flockSDK) History() (History, error) {
	url := sdk.coordinatorURL + historyEndpoint

	body, err := sdk.processRequest(http.MethodGet, url, nil, http.StatusOK)
	if err != nil {
		return History{}, err
	}

	var h History
	if err := json.Unmarshal(body, &h); err != nil {
		return History{}, err
	}

	return h, nil
}

func (sdk *flockSDK) Clients(offset, limit uint64) (ClientsPage, error) {
	queries := make([]string, 0)
	if offset > 0 {
		queries = append(queries, fmt.Sprintf("offset=%d", offset))
	}
	if limit > 0 {
		queries = append(queries, fmt.Sprintf("limit=%d", limit))
	}
	query := ""
	if len(queries) > 0 {
		query = "?" + strings.Join(queries, "&")
	}
	url := sdk.coordinatorURL + clientsEndpoint + query

	body, err := sdk.processRequest(http.MethodGet, url, nil, http.StatusOK)
	if err != nil {
		return ClientsPage{}, err
	}

	var p ClientsPage
	if err := json.Unmarshal(body, &p); err != nil {
		return ClientsPage{}, err
	}

	return p, nil
}

func (sdk *flockSDK) Checkpoint(round uint64) (Checkpoint, error) {
	url := fmt.Sprintf("%s%s/%d", sdk.coordinatorURL, checkpointsEndpoint, round)

	body, err := sdk.processRequest(http.MethodGet, url, nil, http.StatusOK)
	if err != nil {
		return Checkpoint{}, err
	}

	var cp Checkpoint
	if err := json.Unmarshal(body, &cp); err != nil {
		return Checkpoint{}, err
	}

	return cp, nil
}
