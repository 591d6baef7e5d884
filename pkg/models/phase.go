package models

import (
	"fmt"
	"strings"
)

// ProjectPhase is the processing phase of a linkage project. Phases are
// totally ordered: COLLECTING < BLOCKING < LINKING < CLASSIFICATION <
// POSTPROCESSING < CLUSTERING.
type ProjectPhase string

const (
	PhaseCollecting     ProjectPhase = "COLLECTING"
	PhaseBlocking       ProjectPhase = "BLOCKING"
	PhaseLinking        ProjectPhase = "LINKING"
	PhaseClassification ProjectPhase = "CLASSIFICATION"
	PhasePostprocessing ProjectPhase = "POSTPROCESSING"
	PhaseClustering     ProjectPhase = "CLUSTERING"
)

// Phases lists all phases in order.
var Phases = []ProjectPhase{
	PhaseCollecting,
	PhaseBlocking,
	PhaseLinking,
	PhaseClassification,
	PhasePostprocessing,
	PhaseClustering,
}

// Ordinal returns the position of the phase, or -1 for an unknown phase.
func (p ProjectPhase) Ordinal() int {
	for i, phase := range Phases {
		if phase == p {
			return i
		}
	}
	return -1
}

// Valid reports whether p is a known phase.
func (p ProjectPhase) Valid() bool {
	return p.Ordinal() >= 0
}

// IsAtLeast reports whether p is the same as or later than other.
func (p ProjectPhase) IsAtLeast(other ProjectPhase) bool {
	return p.Ordinal() >= other.Ordinal()
}

// IsAtMost reports whether p is the same as or earlier than other.
func (p ProjectPhase) IsAtMost(other ProjectPhase) bool {
	return p.Ordinal() <= other.Ordinal()
}

// Later returns the phases strictly after p.
func (p ProjectPhase) Later() []ProjectPhase {
	i := p.Ordinal()
	if i < 0 {
		return nil
	}
	return append([]ProjectPhase(nil), Phases[i+1:]...)
}

func (p ProjectPhase) String() string {
	return string(p)
}

// ParsePhase parses a phase name case-insensitively. An empty name yields an
// empty phase and no error.
func ParsePhase(s string) (ProjectPhase, error) {
	if s == "" {
		return "", nil
	}
	p := ProjectPhase(strings.ToUpper(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("unknown project phase %q", s)
	}
	return p, nil
}
