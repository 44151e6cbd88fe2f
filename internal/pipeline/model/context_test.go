// SPDX-License-Identifier: MIT

package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testProject = "2026-03-01_10-00-00_quantum-computing"

func validTopic() *TopicContext {
	return &TopicContext{
		ProjectID:      testProject,
		SelectedTopic:  "Quantum Computing",
		ExpandedTopics: []string{"Quantum Computing Basics"},
		VideoStructure: VideoStructure{RecommendedScenes: 5},
		SEOContext:     SEOContext{PrimaryKeywords: []string{"quantum"}},
	}
}

func validScenes() *SceneContext {
	return &SceneContext{
		ProjectID:        testProject,
		SelectedSubtopic: "Quantum Computing Basics",
		TotalDuration:    30,
		Scenes: []Scene{
			{SceneNumber: 1, Duration: 10, Script: "intro"},
			{SceneNumber: 2, Duration: 10, Script: "middle"},
			{SceneNumber: 3, Duration: 10, Script: "outro"},
		},
	}
}

func TestTopicContextValidate(t *testing.T) {
	require.NoError(t, validTopic().Validate())

	missingKeywords := validTopic()
	missingKeywords.SEOContext.PrimaryKeywords = nil
	err := missingKeywords.Validate()
	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestSceneContextValidate(t *testing.T) {
	require.NoError(t, validScenes().Validate())
}

func TestSceneContextRejectsNonContiguousNumbering(t *testing.T) {
	c := validScenes()
	c.Scenes[2].SceneNumber = 5
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has number 5")
}

func TestSceneContextRejectsZeroBasedNumbering(t *testing.T) {
	c := validScenes()
	for i := range c.Scenes {
		c.Scenes[i].SceneNumber = i
	}
	require.Error(t, c.Validate())
}

func TestSceneNumbers(t *testing.T) {
	assert.Equal(t, []int{1, 2, 3}, validScenes().SceneNumbers())
}

func TestManifestValidate(t *testing.T) {
	m := &Manifest{
		ProjectID: testProject,
		VideoID:   testProject,
		Title:     "Quantum Computing",
		Scenes:    []ManifestScene{{ID: 1, Script: "intro"}},
	}
	require.NoError(t, m.Validate())

	m.Scenes = nil
	require.Error(t, m.Validate())
}

func TestNewDocumentCoversAllTypes(t *testing.T) {
	for _, ct := range []ContextType{
		CtxTopic, CtxScene, CtxMedia, CtxAudio, CtxVideo, CtxManifest, CtxSchedule,
	} {
		doc, err := NewDocument(ct)
		require.NoError(t, err, "type %s", ct)
		assert.Equal(t, ct, doc.Type())
	}
	_, err := NewDocument(ContextType("bogus"))
	require.Error(t, err)
}
