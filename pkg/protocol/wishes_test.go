package protocol

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/models"
)

func TestCreateEncodingWishes_SelectivePlaintext(t *testing.T) {
	f := newFixture(t, nil)
	project := f.project(t, "p1", "d1", map[string]string{
		models.ConfigWishMethod: "x/" + SelectivePlaintextMethod,
	})

	p := pair("1", "2", models.GradePossibleMatch, 0.7)
	p.AttributeSimilarities = map[string]float64{"DATEOFBIRTH": 0.9, "GENDER": 1, "FIRSTNAME": 0.7, "LASTNAME": 0.6, "PLZ": 0.2}
	wishes, err := f.wishes.CreateEncodingWishes(context.Background(), project, []*models.RecordPair{p})
	require.NoError(t, err)
	require.Len(t, wishes, 2)
	assert.Equal(t, "FIRSTNAME#LASTNAME#DATEOFBIRTH#", wishes[0].RecordSecret)
	assert.Equal(t, wishes[0].RecordSecret, wishes[1].RecordSecret)
}

func TestPlaintextSelection(t *testing.T) {
	tests := []struct {
		name         string
		min          float64
		similarities map[string]float64
		expected     string
	}{
		{name: "empty", min: 0.4, similarities: nil, expected: ""},
		{name: "excludes certain and bounds", min: 0.4, similarities: map[string]float64{"a": 1, "b": 0.4, "c": 0.41}, expected: "c#"},
		{
			name:         "personal attribute order",
			min:          0.4,
			similarities: map[string]float64{"FIRSTNAME": 0.7, "LASTNAME": 0.6, "DATEOFBIRTH": 0.9, "GENDER": 1},
			expected:     "FIRSTNAME#LASTNAME#DATEOFBIRTH#",
		},
		{
			name:         "full attribute order",
			min:          0,
			similarities: map[string]float64{"CITY": 0.5, "YEAROFBIRTH": 0.5, "MIDDLENAME": 0.5, "REGISTRATION_DATE": 0.5, "NAMEATBIRTH": 0.5},
			expected:     "MIDDLENAME#NAMEATBIRTH#YEAROFBIRTH#CITY#REGISTRATION_DATE#",
		},
		{name: "unknown names by string", min: 0, similarities: map[string]float64{"b": 0.5, "a": 0.5}, expected: "a#b#"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, plaintextSelection(tt.min, tt.similarities))
		})
	}
}

func TestAttributeNameLess(t *testing.T) {
	tests := []struct {
		a, b     string
		expected bool
	}{
		{a: "FIRSTNAME", b: "LASTNAME", expected: true},
		{a: "LASTNAME", b: "FIRSTNAME", expected: false},
		{a: "GENDER", b: "DATEOFBIRTH", expected: true},
		{a: "FIRSTNAME", b: "ALIAS", expected: false},
		{a: "ALIAS", b: "FIRSTNAME", expected: true},
		{a: "x", b: "y", expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.a+"<"+tt.b, func(t *testing.T) {
			assert.Equal(t, tt.expected, attributeNameLess(tt.a, tt.b))
		})
	}
}
