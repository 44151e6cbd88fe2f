// SPDX-License-Identifier: MIT

package stage

import (
	"context"
	"errors"
	"fmt"

	"github.com/ManuGH/autocast/internal/log"
	"github.com/ManuGH/autocast/internal/pipeline/ctxstore"
	"github.com/ManuGH/autocast/internal/pipeline/model"
)

// Remote is the generic adapter around an external worker. It fetches input
// contexts from the store, delegates the external work to its Invoker, and
// verifies the declared output context afterwards. A worker that reports
// success without writing its output is surfaced as ContextMissing rather
// than masked.
type Remote struct {
	spec    Spec
	store   *ctxstore.Store
	invoker Invoker
}

// NewRemote wires a remote adapter.
func NewRemote(spec Spec, store *ctxstore.Store, invoker Invoker) *Remote {
	return &Remote{spec: spec, store: store, invoker: invoker}
}

func (r *Remote) Spec() Spec { return r.spec }

func (r *Remote) Invoke(ctx context.Context, projectID string, opts model.Options) (Result, error) {
	logger := log.WithComponentFromContext(ctx, "stage")

	for _, t := range r.spec.InputContextTypes {
		doc, err := r.store.Get(ctx, projectID, t)
		if err != nil {
			if errors.Is(err, ctxstore.ErrNotFound) || errors.Is(err, ctxstore.ErrExpired) {
				return Result{}, model.Errorf(model.KindContextMissing,
					"%s: required input context %q is absent", r.spec.Name, t)
			}
			return Result{}, err
		}
		if r.spec.OutputContextType != "" {
			if compat := ctxstore.ValidateCompatibility(doc, t, r.spec.OutputContextType); !compat.Compatible {
				return Result{}, model.Errorf(model.KindValidation,
					"%s: input %q incompatible, missing %v", r.spec.Name, t, compat.MissingFields)
			}
		}
	}

	res, err := r.invoker.Invoke(ctx, projectID, opts)
	if err != nil {
		return Result{}, err
	}
	if !res.Success {
		if res.Error != nil {
			return Result{}, res.Error
		}
		return Result{}, model.Errorf(model.KindBackend, "%s: worker reported failure", r.spec.Name)
	}

	ref := res.OutputRef
	if r.spec.OutputContextType != "" {
		doc, err := r.store.Get(ctx, projectID, r.spec.OutputContextType)
		if err != nil {
			if errors.Is(err, ctxstore.ErrNotFound) || errors.Is(err, ctxstore.ErrExpired) {
				return Result{}, model.Errorf(model.KindContextMissing,
					"%s: worker succeeded but output context %q is absent", r.spec.Name, r.spec.OutputContextType)
			}
			return Result{}, err
		}
		if err := doc.Validate(); err != nil {
			return Result{}, err
		}
		if ref == "" {
			ref = fmt.Sprintf("ctx://%s/%s", projectID, r.spec.OutputContextType)
		}
	}

	logger.Debug().
		Str(log.FieldEvent, "stage.invoke_ok").
		Str(log.FieldStage, r.spec.Name).
		Str(log.FieldProjectID, projectID).
		Msg("worker invocation complete")
	return Result{OutputRef: ref}, nil
}
