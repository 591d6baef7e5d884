package models

import (
	"encoding/json"
	"sort"
	"strings"
)

// Property is a flag on a record pair or record. The string values are the
// wire vocabulary shared between linkage layers.
type Property string

const (
	PropertyActive   Property = "active"
	PropertyNew      Property = "new"
	PropertyReplaced Property = "replaced"

	PropertyImprovedLink     Property = "IMPROVED_LINK"
	PropertyUncertainLink    Property = "UNCERTAIN_LINK"
	PropertyReportedLink     Property = "REPORTED_LINK"
	PropertyUnreportableLink Property = "UNREPORTABLE_LINK"

	// PropertyAll is a filter pseudo-property selecting every version of a
	// pair, including replaced ones. It is never stored.
	PropertyAll Property = "ALL"
)

// NegationPrefix marks a property that removes its positive form on merge.
const NegationPrefix = "!"

// Negate returns the negation marker for p.
func (p Property) Negate() Property {
	return Property(NegationPrefix + string(p))
}

// IsNegation reports whether p is a negation marker.
func (p Property) IsNegation() bool {
	return strings.HasPrefix(string(p), NegationPrefix)
}

// Positive strips the negation prefix.
func (p Property) Positive() Property {
	return Property(strings.TrimPrefix(string(p), NegationPrefix))
}

// PropertySet is an unordered set of properties. It serializes to a sorted
// JSON array of strings.
type PropertySet map[Property]struct{}

// NewPropertySet builds a set from the given properties.
func NewPropertySet(props ...Property) PropertySet {
	s := make(PropertySet, len(props))
	for _, p := range props {
		s[p] = struct{}{}
	}
	return s
}

// Has reports whether p is in the set. A nil set contains nothing.
func (s PropertySet) Has(p Property) bool {
	_, ok := s[p]
	return ok
}

// HasAll reports whether every given property is in the set.
func (s PropertySet) HasAll(props ...Property) bool {
	for _, p := range props {
		if !s.Has(p) {
			return false
		}
	}
	return true
}

// HasAny reports whether at least one given property is in the set.
func (s PropertySet) HasAny(props ...Property) bool {
	for _, p := range props {
		if s.Has(p) {
			return true
		}
	}
	return false
}

func (s PropertySet) Add(props ...Property) {
	for _, p := range props {
		s[p] = struct{}{}
	}
}

func (s PropertySet) Remove(props ...Property) {
	for _, p := range props {
		delete(s, p)
	}
}

// Clone returns an independent copy. Cloning nil yields an empty set.
func (s PropertySet) Clone() PropertySet {
	c := make(PropertySet, len(s))
	for p := range s {
		c[p] = struct{}{}
	}
	return c
}

// ResolveNegations removes every negation marker "!X" together with "X".
func (s PropertySet) ResolveNegations() {
	for p := range s {
		if p.IsNegation() {
			delete(s, p)
			delete(s, p.Positive())
		}
	}
}

// Slice returns the properties sorted by name.
func (s PropertySet) Slice() []Property {
	out := make([]Property, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Strings returns the sorted property names.
func (s PropertySet) Strings() []string {
	props := s.Slice()
	out := make([]string, len(props))
	for i, p := range props {
		out[i] = string(p)
	}
	return out
}

func (s PropertySet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Strings())
}

func (s *PropertySet) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	set := make(PropertySet, len(names))
	for _, name := range names {
		set[Property(name)] = struct{}{}
	}
	*s = set
	return nil
}

// ParseProperties splits a comma separated list of property names.
func ParseProperties(csv string) []Property {
	var out []Property
	for _, part := range strings.Split(csv, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, Property(part))
		}
	}
	return out
}
