package models

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPairID_Symmetric(t *testing.T) {
	tests := []struct {
		name  string
		left  RecordID
		right RecordID
	}{
		{"default source", RecordID{LocalID: "1"}, RecordID{LocalID: "2"}},
		{"mixed sources", RecordID{LocalID: "1", SourceID: "A"}, RecordID{LocalID: "1", SourceID: "B"}},
		{"same record", RecordID{LocalID: "7"}, RecordID{LocalID: "7"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, PairID(tt.left, tt.right), PairID(tt.right, tt.left))
		})
	}

	t.Run("greater id first", func(t *testing.T) {
		id := PairID(RecordID{LocalID: "1"}, RecordID{LocalID: "2"})
		assert.Equal(t, "rec-2-DEFAULT_SOURCE##rec-1-DEFAULT_SOURCE", id)
	})
}

func TestProjectPhase_Ordering(t *testing.T) {
	assert.True(t, PhaseClassification.IsAtLeast(PhaseBlocking))
	assert.True(t, PhaseBlocking.IsAtMost(PhaseBlocking))
	assert.False(t, PhaseClustering.IsAtMost(PhasePostprocessing))
	assert.Equal(t, []ProjectPhase{PhasePostprocessing, PhaseClustering}, PhaseClassification.Later())
	assert.Empty(t, PhaseClustering.Later())

	p, err := ParsePhase("linking")
	require.NoError(t, err)
	assert.Equal(t, PhaseLinking, p)

	_, err = ParsePhase("DONE")
	assert.Error(t, err)
}

func TestMatchGrade_Ordering(t *testing.T) {
	tests := []struct {
		grade   MatchGrade
		isMatch bool
	}{
		{GradeUnknown, false},
		{GradeNonMatch, false},
		{GradePossibleMatch, false},
		{GradeProbableMatch, true},
		{GradeCertainMatch, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.grade), func(t *testing.T) {
			assert.Equal(t, tt.isMatch, tt.grade.IsMatch())
		})
	}
	assert.True(t, GradeCertainMatch.IsAtLeast(GradePossibleMatch))
	assert.False(t, GradeUnknown.IsClassified())
}

func TestPropertySet_ResolveNegations(t *testing.T) {
	set := NewPropertySet("FOO", "!FOO", "!BAR", PropertyActive, PropertyImprovedLink)
	set.ResolveNegations()

	assert.False(t, set.Has("FOO"))
	assert.False(t, set.Has("!FOO"))
	assert.False(t, set.Has("!BAR"))
	assert.True(t, set.HasAll(PropertyActive, PropertyImprovedLink))
}

func TestPropertySet_JSON(t *testing.T) {
	set := NewPropertySet(PropertyNew, PropertyActive)
	data, err := json.Marshal(set)
	require.NoError(t, err)
	assert.JSONEq(t, `["active","new"]`, string(data))

	var decoded PropertySet
	require.NoError(t, json.Unmarshal([]byte(`["replaced","UNCERTAIN_LINK"]`), &decoded))
	assert.True(t, decoded.HasAll(PropertyReplaced, PropertyUncertainLink))
}

func TestRecordPair_UpdateActiveProperty(t *testing.T) {
	pair := NewRecordPair(RecordID{LocalID: "1"}, RecordID{LocalID: "2"})
	assert.True(t, pair.Properties.Has(PropertyActive))

	pair.Tags.Set(NewTag(TagRemovedByPostprocessing))
	pair.UpdateActiveProperty()
	assert.False(t, pair.Properties.Has(PropertyActive))

	pair.Tags.Remove(TagRemovedByPostprocessing)
	pair.UpdateActiveProperty()
	assert.True(t, pair.Properties.Has(PropertyActive))
}

func TestRecordPair_DuplicateIsIndependent(t *testing.T) {
	pair := NewRecordPair(RecordID{LocalID: "1"}, RecordID{LocalID: "2"})
	pair.ID = "abc"
	pair.AttributeSimilarities = map[string]float64{"name": 0.5}

	dup := pair.Duplicate()
	dup.Properties.Add(PropertyNew)
	dup.AttributeSimilarities["name"] = 1

	assert.Empty(t, dup.ID)
	assert.False(t, pair.Properties.Has(PropertyNew))
	assert.Equal(t, 0.5, pair.AttributeSimilarities["name"])
	assert.Equal(t, "abc", pair.Clone().ID)
}

func TestRecordPair_Labels(t *testing.T) {
	pair := NewRecordPair(RecordID{LocalID: "1"}, RecordID{LocalID: "2"})
	pair.Classification = GradeProbableMatch
	pair.AddLabelFromGrade()

	isMatch, ok := pair.Label()
	require.True(t, ok)
	assert.True(t, isMatch)

	pair.RemoveLabels()
	_, ok = pair.Label()
	assert.False(t, ok)
}

func TestLinkageError(t *testing.T) {
	err := NewLinkageError(ErrReconciliation, "pair %s", "x")
	assert.True(t, errors.Is(err, ErrReconciliation))
	assert.Equal(t, http.StatusConflict, err.StatusCode())
	assert.False(t, IsNotFound(err))
	assert.True(t, IsNotFound(NewLinkageError(ErrNotFound, "project")))
}

func TestLinkageProject_Config(t *testing.T) {
	p := &LinkageProject{Method: "DBSLeipzig/PPCR/test", Config: map[string]string{ConfigProjectIDToReportTo: " parent "}}
	parent, ok := p.ParentProjectID()
	assert.True(t, ok)
	assert.Equal(t, "parent", parent)
	assert.True(t, p.IsClericalReviewMethod())

	_, ok = p.ConfigValue(ConfigWishMethod)
	assert.False(t, ok)
}
