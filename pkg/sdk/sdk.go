// Package sdk is a thin HTTP client for the coordinator API, used by
// the CLI and by external tooling.
package sdk

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
)

const CTJSON string = "application/json"

type SDK interface {
	// Status reports the coordinator's run state.
	//
	// example:
	//  status, _ := sdk.Status()
	//  fmt.Println(status)
	Status() (Status, error)

	// History returns the per-round records of the finished or
	// in-progress run.
	//
	// example:
	//  history, _ := sdk.History()
	//  fmt.Println(history)
	History() (History, error)

	// Clients lists the connected clients.
	//
	// example:
	//  page, _ := sdk.Clients(0, 10)
	//  fmt.Println(page)
	Clients(offset uint64, limit uint64) (ClientsPage, error)

	// Checkpoint fetches the global parameters saved after the given
	// round.
	//
	// example:
	//  cp, _ := sdk.Checkpoint(3)
	//  fmt.Println(cp)
	Checkpoint(round uint64) (Checkpoint, error)
}

type flockSDK struct {
	coordinatorURL string
	client         *http.Client
}

type Config struct {
	CoordinatorURL  string
	TLSVerification bool
}

func NewSDK(cfg Config) SDK {
	return &flockSDK{
		coordinatorURL: cfg.CoordinatorURL,
		client: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					InsecureSkipVerify: !cfg.TLSVerification,
				},
			},
		},
	}
}

func (sdk *flockSDK) processRequest(method, reqURL string, data []byte, expectedRespCode int) ([]byte, error) {
	req, err := http.NewRequest(method, reqURL, bytes.NewReader(data))
	if err != nil {
		return []byte{}, err
	}

	req.Header.Add("Content-Type", CTJSON)

	resp, err := sdk.client.Do(req)
	if err != nil {
		return []byte{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return []byte{}, err
	}

	if resp.StatusCode != expectedRespCode {
		return []byte{}, fmt.Errorf("unexpected response code: %d", resp.StatusCode)
	}

	return body, nil
}
