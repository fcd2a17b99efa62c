package api

import (
	"net/http"

	"github.com/absmach/flock/federation"
	"github.com/absmach/flock/model"
	"github.com/absmach/flock/pkg/api"
)

var (
	_ api.Response = (*statusResponse)(nil)
	_ api.Response = (*historyResponse)(nil)
	_ api.Response = (*clientsResponse)(nil)
	_ api.Response = (*checkpointResponse)(nil)
)

type statusResponse struct {
	federation.Status
}

func (r statusResponse) Code() int {
	return http.StatusOK
}

func (r statusResponse) Headers() map[string]string {
	return map[string]string{}
}

func (r statusResponse) Empty() bool {
	return false
}

type historyResponse struct {
	federation.History
}

func (r historyResponse) Code() int {
	return http.StatusOK
}

func (r historyResponse) Headers() map[string]string {
	return map[string]string{}
}

func (r historyResponse) Empty() bool {
	return false
}

type clientsResponse struct {
	Clients []federation.ClientInfo `json:"clients"`
	Total   int                     `json:"total"`
}

func (r clientsResponse) Code() int {
	return http.StatusOK
}

func (r clientsResponse) Headers() map[string]string {
	return map[string]string{}
}

func (r clientsResponse) Empty() bool {
	return false
}

type checkpointResponse struct {
	Round      uint64           `json:"round"`
	Parameters model.Parameters `json:"parameters"`
}

func (r checkpointResponse) Code() int {
	return http.StatusOK
}

func (r checkpointResponse) Headers() map[string]string {
	return map[string]string{}
}

func (r checkpointResponse) Empty() bool {
	return false
}
