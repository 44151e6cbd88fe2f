// SPDX-License-Identifier: MIT

package ctxstore

import (
	"encoding/json"
	"sort"

	"github.com/ManuGH/autocast/internal/pipeline/model"
)

// Compatibility is the outcome of a hand-off pre-check between stages.
type Compatibility struct {
	Compatible    bool     `json:"compatible"`
	MissingFields []string `json:"missingFields,omitempty"`
}

type edge struct {
	src, tgt model.ContextType
}

// compatTable lists, per producer→consumer hand-off, the fields the source
// document must populate for the consumer to work at all. Pairs not listed
// carry no structural requirement.
var compatTable = map[edge][]string{
	{model.CtxTopic, model.CtxScene}:    {"projectId", "videoStructure", "expandedTopics"},
	{model.CtxScene, model.CtxMedia}:    {"projectId", "scenes", "totalDuration"},
	{model.CtxScene, model.CtxAudio}:    {"projectId", "scenes", "totalDuration"},
	{model.CtxTopic, model.CtxManifest}: {"projectId", "seoContext"},
	{model.CtxScene, model.CtxManifest}: {"projectId", "scenes"},
	{model.CtxMedia, model.CtxManifest}: {"projectId", "sceneMediaMapping"},
	{model.CtxAudio, model.CtxManifest}: {"projectId", "masterAudioId", "timingMarks"},
	{model.CtxManifest, model.CtxVideo}: {"projectId", "scenes", "export"},
}

// ValidateCompatibility checks whether the source document satisfies the
// fixed hand-off requirements towards the target type.
func ValidateCompatibility(doc model.Document, src, tgt model.ContextType) Compatibility {
	required, ok := compatTable[edge{src, tgt}]
	if !ok {
		return Compatibility{Compatible: true}
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return Compatibility{Compatible: false, MissingFields: required}
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Compatibility{Compatible: false, MissingFields: required}
	}

	var missing []string
	for _, f := range required {
		v, ok := fields[f]
		if !ok || emptyJSON(v) {
			missing = append(missing, f)
		}
	}
	sort.Strings(missing)
	return Compatibility{Compatible: len(missing) == 0, MissingFields: missing}
}

// emptyJSON treats null, "", [], {} and 0 as absent.
func emptyJSON(v json.RawMessage) bool {
	switch string(v) {
	case "null", `""`, "[]", "{}", "0":
		return true
	}
	return false
}
