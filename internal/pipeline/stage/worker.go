// SPDX-License-Identifier: MIT

package stage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ManuGH/autocast/internal/pipeline/model"
)

// WorkerResult is the wire shape every external worker returns.
type WorkerResult struct {
	Success   bool              `json:"success"`
	OutputRef string            `json:"outputRef,omitempty"`
	Error     *model.StageError `json:"error,omitempty"`
}

// workerRequest is the wire shape every external worker accepts. All other
// inputs come from the context store.
type workerRequest struct {
	ProjectID string        `json:"projectId"`
	Options   model.Options `json:"options"`
}

// Invoker performs the external work of one stage.
type Invoker interface {
	Invoke(ctx context.Context, projectID string, opts model.Options) (WorkerResult, error)
}

// InvokerFunc adapts a function to the Invoker interface.
type InvokerFunc func(ctx context.Context, projectID string, opts model.Options) (WorkerResult, error)

func (f InvokerFunc) Invoke(ctx context.Context, projectID string, opts model.Options) (WorkerResult, error) {
	return f(ctx, projectID, opts)
}

// HTTPInvoker calls a worker endpoint with the uniform JSON contract.
// Clients are per-stage and not shared across runs.
type HTTPInvoker struct {
	Endpoint string
	Client   *http.Client
}

// NewHTTPInvoker builds an invoker with a bounded connection pool.
func NewHTTPInvoker(endpoint string) *HTTPInvoker {
	return &HTTPInvoker{
		Endpoint: endpoint,
		Client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        4,
				MaxConnsPerHost:     4,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
	}
}

func (h *HTTPInvoker) Invoke(ctx context.Context, projectID string, opts model.Options) (WorkerResult, error) {
	body, err := json.Marshal(workerRequest{ProjectID: projectID, Options: opts})
	if err != nil {
		return WorkerResult{}, model.NewStageError(model.KindValidation, "encode worker request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.Endpoint, bytes.NewReader(body))
	if err != nil {
		return WorkerResult{}, model.NewStageError(model.KindConfig, "build worker request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.Client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return WorkerResult{}, model.NewStageError(model.KindOf(ctx.Err()), "worker call aborted", err)
		}
		return WorkerResult{}, model.NewStageError(model.KindBackend, "worker unreachable", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return WorkerResult{}, model.Errorf(model.KindThrottled, "worker throttled (%d)", resp.StatusCode)
	case resp.StatusCode >= 500:
		return WorkerResult{}, model.Errorf(model.KindBackend, "worker failed (%d)", resp.StatusCode)
	case resp.StatusCode >= 400:
		return WorkerResult{}, model.Errorf(model.KindValidation, "worker rejected request (%d)", resp.StatusCode)
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return WorkerResult{}, model.NewStageError(model.KindBackend, "read worker response", err)
	}
	var out WorkerResult
	if err := json.Unmarshal(payload, &out); err != nil {
		return WorkerResult{}, model.NewStageError(model.KindBackend,
			fmt.Sprintf("decode worker response (%d bytes)", len(payload)), err)
	}
	return out, nil
}
