// SPDX-License-Identifier: MIT

package gate

import (
	"context"
	"time"

	"github.com/ManuGH/autocast/internal/pipeline/model"
	"github.com/ManuGH/autocast/internal/pipeline/registry"
	"github.com/ManuGH/autocast/internal/pipeline/stage"
)

// Adapter exposes the gate as a pipeline stage. Admission decisions are
// final: the retry policy allows a single attempt and a rejection is never
// retried within the run.
type Adapter struct {
	gate    *Gate
	timeout time.Duration
}

// NewAdapter wraps a gate with its stage declaration.
func NewAdapter(g *Gate, timeout time.Duration) *Adapter {
	return &Adapter{gate: g, timeout: timeout}
}

func (a *Adapter) Spec() stage.Spec {
	return stage.Spec{
		Name: model.StageQualityGate,
		InputContextTypes: []model.ContextType{
			model.CtxTopic, model.CtxScene, model.CtxMedia, model.CtxAudio,
		},
		OutputContextType: model.CtxManifest,
		Timeout:           a.timeout,
		Retry:             stage.RetryPolicy{MaxAttempts: 1},
	}
}

func (a *Adapter) Invoke(ctx context.Context, projectID string, opts model.Options) (stage.Result, error) {
	if _, _, err := a.gate.Run(ctx, projectID, opts); err != nil {
		return stage.Result{}, err
	}
	return stage.Result{
		OutputRef: registry.LayoutFor(projectID).ManifestPath(),
	}, nil
}
