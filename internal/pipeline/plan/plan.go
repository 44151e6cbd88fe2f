// SPDX-License-Identifier: MIT

// Package plan computes execution schedules over the fixed pipeline DAG.
package plan

import (
	"fmt"
	"sort"

	"github.com/ManuGH/autocast/internal/pipeline/model"
)

// Graph is a stage dependency graph: stage name -> names it waits for.
type Graph struct {
	deps map[string][]string
}

// Pipeline returns the fixed production DAG. MediaCurator and AudioSynth
// are concurrent; QualityGate admits or rejects everything downstream.
func Pipeline() *Graph {
	return &Graph{deps: map[string][]string{
		model.StageTopicPlanner: {},
		model.StageScriptWriter: {model.StageTopicPlanner},
		model.StageMediaCurator: {model.StageScriptWriter},
		model.StageAudioSynth:   {model.StageScriptWriter},
		model.StageQualityGate:  {model.StageMediaCurator, model.StageAudioSynth},
		model.StageAssembler:    {model.StageQualityGate},
		model.StagePublisher:    {model.StageAssembler},
	}}
}

// NewGraph builds a graph from an explicit dependency map (used by tests
// and extensions). The map is copied.
func NewGraph(deps map[string][]string) *Graph {
	out := make(map[string][]string, len(deps))
	for k, v := range deps {
		out[k] = append([]string(nil), v...)
	}
	return &Graph{deps: out}
}

// Stages returns all stage names, lexicographically sorted.
func (g *Graph) Stages() []string {
	out := make([]string, 0, len(g.deps))
	for name := range g.deps {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Dependencies returns the direct dependencies of a stage.
func (g *Graph) Dependencies(name string) []string {
	return append([]string(nil), g.deps[name]...)
}

// Waves returns the execution schedule: wave N contains every stage whose
// dependencies all live in earlier waves. Within a wave the order is
// lexicographic by name so test oracles are stable. An unknown dependency
// or a cycle is an error.
func (g *Graph) Waves() ([][]string, error) {
	for name, deps := range g.deps {
		for _, d := range deps {
			if _, ok := g.deps[d]; !ok {
				return nil, fmt.Errorf("plan: stage %q depends on unknown stage %q", name, d)
			}
		}
	}

	level := make(map[string]int, len(g.deps))
	placed := 0
	for placed < len(g.deps) {
		progressed := false
		for name, deps := range g.deps {
			if _, done := level[name]; done {
				continue
			}
			max := 0
			ready := true
			for _, d := range deps {
				l, done := level[d]
				if !done {
					ready = false
					break
				}
				if l+1 > max {
					max = l + 1
				}
			}
			if ready {
				level[name] = max
				placed++
				progressed = true
			}
		}
		if !progressed {
			return nil, fmt.Errorf("plan: dependency cycle detected")
		}
	}

	depth := 0
	for _, l := range level {
		if l+1 > depth {
			depth = l + 1
		}
	}
	waves := make([][]string, depth)
	for name, l := range level {
		waves[l] = append(waves[l], name)
	}
	for _, w := range waves {
		sort.Strings(w)
	}
	return waves, nil
}

// Dependents returns the transitive closure of stages that depend on name,
// directly or indirectly. Used to mark downstream stages skipped.
func (g *Graph) Dependents(name string) []string {
	out := map[string]bool{}
	changed := true
	for changed {
		changed = false
		for stage, deps := range g.deps {
			if out[stage] {
				continue
			}
			for _, d := range deps {
				if d == name || out[d] {
					out[stage] = true
					changed = true
					break
				}
			}
		}
	}
	names := make([]string, 0, len(out))
	for s := range out {
		names = append(names, s)
	}
	sort.Strings(names)
	return names
}
