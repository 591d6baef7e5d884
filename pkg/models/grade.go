package models

import (
	"fmt"
	"strings"
)

// MatchGrade is the ordered outcome of classifying a record pair.
type MatchGrade string

const (
	GradeUnknown       MatchGrade = "UNKNOWN"
	GradeNonMatch      MatchGrade = "NON_MATCH"
	GradePossibleMatch MatchGrade = "POSSIBLE_MATCH"
	GradeProbableMatch MatchGrade = "PROBABLE_MATCH"
	GradeCertainMatch  MatchGrade = "CERTAIN_MATCH"
)

var gradeOrder = []MatchGrade{
	GradeUnknown,
	GradeNonMatch,
	GradePossibleMatch,
	GradeProbableMatch,
	GradeCertainMatch,
}

// ClassifiedGrades are the grades a classifier can assign.
var ClassifiedGrades = []MatchGrade{
	GradeCertainMatch,
	GradeProbableMatch,
	GradePossibleMatch,
	GradeNonMatch,
}

// Ordinal returns the position of the grade. Empty and unknown values
// count as UNKNOWN.
func (g MatchGrade) Ordinal() int {
	for i, grade := range gradeOrder {
		if grade == g {
			return i
		}
	}
	return 0
}

func (g MatchGrade) IsAtLeast(other MatchGrade) bool {
	return g.Ordinal() >= other.Ordinal()
}

func (g MatchGrade) IsAtMost(other MatchGrade) bool {
	return g.Ordinal() <= other.Ordinal()
}

// IsClassified reports whether g is one of ClassifiedGrades.
func (g MatchGrade) IsClassified() bool {
	return g.Ordinal() > 0
}

// IsMatch reports whether g counts as a match for selection and labelling.
func (g MatchGrade) IsMatch() bool {
	return g.IsAtLeast(GradeProbableMatch)
}

func (g MatchGrade) String() string {
	if g == "" {
		return string(GradeUnknown)
	}
	return string(g)
}

// ParseGrade parses a grade name case-insensitively.
func ParseGrade(s string) (MatchGrade, error) {
	g := MatchGrade(strings.ToUpper(strings.TrimSpace(s)))
	for _, grade := range gradeOrder {
		if grade == g {
			return g, nil
		}
	}
	return GradeUnknown, fmt.Errorf("unknown match grade %q", s)
}
