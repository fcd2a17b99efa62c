package sdk_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/absmach/flock/pkg/sdk"
)

func newTestServer(t *testing.T, routes map[string]any) (*httptest.Server, sdk.SDK) {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := routes[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)

			return
		}
		w.Header().Set("Content-Type", sdk.CTJSON)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)

	return srv, sdk.NewSDK(sdk.Config{CoordinatorURL: srv.URL})
}

func TestStatus(t *testing.T) {
	t.Parallel()

	_, s := newTestServer(t, map[string]any{
		"/status": sdk.Status{State: "running", CurrentRound: 2, NumRounds: 5, AvailableClients: 3},
	})

	status, err := s.Status()
	require.NoError(t, err)
	assert.Equal(t, "running", status.State)
	assert.Equal(t, uint64(2), status.CurrentRound)
	assert.Equal(t, 3, status.AvailableClients)
}

func TestHistory(t *testing.T) {
	t.Parallel()

	loss := 0.42
	_, s := newTestServer(t, map[string]any{
		"/history": sdk.History{Rounds: []sdk.RoundRecord{
			{Round: 1, Aggregated: true, FitClients: 2, LossFed: &loss},
		}},
	})

	hist, err := s.History()
	require.NoError(t, err)
	require.Len(t, hist.Rounds, 1)
	assert.True(t, hist.Rounds[0].Aggregated)
	require.NotNil(t, hist.Rounds[0].LossFed)
	assert.Equal(t, 0.42, *hist.Rounds[0].LossFed)
}

func TestClientsQuery(t *testing.T) {
	t.Parallel()

	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_ = json.NewEncoder(w).Encode(sdk.ClientsPage{Clients: []sdk.Client{{ID: "c1"}}, Total: 7})
	}))
	t.Cleanup(srv.Close)
	s := sdk.NewSDK(sdk.Config{CoordinatorURL: srv.URL})

	page, err := s.Clients(5, 10)
	require.NoError(t, err)
	assert.Equal(t, "offset=5&limit=10", gotQuery)
	assert.Equal(t, 7, page.Total)
	require.Len(t, page.Clients, 1)
	assert.Equal(t, "c1", page.Clients[0].ID)
}

func TestCheckpoint(t *testing.T) {
	t.Parallel()

	_, s := newTestServer(t, map[string]any{
		"/checkpoints/3": sdk.Checkpoint{Round: 3, Parameters: []sdk.Tensor{
			{Shape: []int{2}, Values: []float64{1.5, 2.5}},
		}},
	})

	cp, err := s.Checkpoint(3)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), cp.Round)
	require.Len(t, cp.Parameters, 1)
	assert.Equal(t, []float64{1.5, 2.5}, cp.Parameters[0].Values)
}

func TestUnexpectedStatusCode(t *testing.T) {
	t.Parallel()

	_, s := newTestServer(t, map[string]any{})

	_, err := s.Checkpoint(9)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected response code")
}
