// SPDX-License-Identifier: MIT

package stage

import (
	"fmt"
	"time"

	"github.com/ManuGH/autocast/internal/pipeline/model"
)

// stageIO declares which context types each worker stage consumes and
// produces. The quality gate is not listed; it is an in-process stage with
// its own adapter.
var stageIO = map[string]struct {
	in  []model.ContextType
	out model.ContextType
}{
	model.StageTopicPlanner: {in: nil, out: model.CtxTopic},
	model.StageScriptWriter: {in: []model.ContextType{model.CtxTopic}, out: model.CtxScene},
	model.StageMediaCurator: {in: []model.ContextType{model.CtxScene}, out: model.CtxMedia},
	model.StageAudioSynth:   {in: []model.ContextType{model.CtxScene}, out: model.CtxAudio},
	model.StageAssembler:    {in: []model.ContextType{model.CtxManifest}, out: model.CtxVideo},
	// The publisher consumes the approved manifest and the rendered video
	// and writes no new context; its effects live outside the store.
	model.StagePublisher: {in: []model.ContextType{model.CtxManifest, model.CtxVideo}, out: ""},
}

// WorkerSpec returns the declaration for a worker-backed stage.
func WorkerSpec(name string, timeout time.Duration, retry RetryPolicy) (Spec, error) {
	io, ok := stageIO[name]
	if !ok {
		return Spec{}, fmt.Errorf("stage: no worker declaration for %q", name)
	}
	return Spec{
		Name:              name,
		InputContextTypes: io.in,
		OutputContextType: io.out,
		Timeout:           timeout,
		Retry:             retry,
	}, nil
}

// WorkerStages lists the stages that run as external workers.
func WorkerStages() []string {
	return []string{
		model.StageTopicPlanner,
		model.StageScriptWriter,
		model.StageMediaCurator,
		model.StageAudioSynth,
		model.StageAssembler,
		model.StagePublisher,
	}
}
