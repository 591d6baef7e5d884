package models

import "time"

// RecordPair is one version of a candidate pair of records within a project.
type RecordPair struct {
	ID                    string             `json:"id,omitempty"`
	ProjectID             string             `json:"project_id"`
	PairID                string             `json:"pair_id"`
	LeftRecordID          RecordID           `json:"left_record_id" validate:"required"`
	RightRecordID         RecordID           `json:"right_record_id" validate:"required"`
	Similarity            float64            `json:"similarity"`
	Classification        MatchGrade         `json:"classification"`
	AttributeSimilarities map[string]float64 `json:"attribute_similarities,omitempty"`
	Properties            PropertySet        `json:"properties"`
	Tags                  Tags               `json:"tags"`
	CreatedAt             time.Time          `json:"created_at"`
}

// UnknownSimilarity marks a pair that has not been compared.
const UnknownSimilarity = -1.0

// NewRecordPair creates an uncompared, active candidate pair.
func NewRecordPair(left, right RecordID) *RecordPair {
	return &RecordPair{
		PairID:         PairID(left, right),
		LeftRecordID:   left,
		RightRecordID:  right,
		Similarity:     UnknownSimilarity,
		Classification: GradeUnknown,
		Properties:     NewPropertySet(PropertyActive),
		Tags:           Tags{},
	}
}

// Normalize fills derived fields and empty collections.
func (p *RecordPair) Normalize() {
	p.PairID = PairID(p.LeftRecordID, p.RightRecordID)
	if p.Properties == nil {
		p.Properties = PropertySet{}
	}
	if p.Tags == nil {
		p.Tags = Tags{}
	}
	if p.Classification == "" {
		p.Classification = GradeUnknown
	}
}

// Duplicate copies the pair with independent collections. The copy keeps
// the project and pair ids but has no storage identity.
func (p *RecordPair) Duplicate() *RecordPair {
	c := *p
	c.ID = ""
	c.Properties = p.Properties.Clone()
	c.Tags = p.Tags.Clone()
	if p.AttributeSimilarities != nil {
		c.AttributeSimilarities = make(map[string]float64, len(p.AttributeSimilarities))
		for k, v := range p.AttributeSimilarities {
			c.AttributeSimilarities[k] = v
		}
	}
	return &c
}

// Clone copies the pair including its storage identity.
func (p *RecordPair) Clone() *RecordPair {
	c := p.Duplicate()
	c.ID = p.ID
	return c
}

// IsCurrent reports whether this is the current (non-replaced) version.
func (p *RecordPair) IsCurrent() bool {
	return !p.Properties.Has(PropertyReplaced)
}

// IsRemoved reports whether the classifier or postprocessing removed the pair.
func (p *RecordPair) IsRemoved() bool {
	return p.Tags.Has(TagRemovedByClassifier) || p.Tags.Has(TagRemovedByPostprocessing)
}

// UpdateActiveProperty sets ACTIVE iff the pair was not removed by the
// classifier or by postprocessing.
func (p *RecordPair) UpdateActiveProperty() {
	if p.Properties == nil {
		p.Properties = PropertySet{}
	}
	if p.IsRemoved() {
		p.Properties.Remove(PropertyActive)
	} else {
		p.Properties.Add(PropertyActive)
	}
}

// Probability returns the classifier probability tag, if present.
func (p *RecordPair) Probability() (float64, bool) {
	tag, ok := p.Tags.Get(TagProbability)
	if !ok || tag.NumericValue == nil {
		return 0, false
	}
	return *tag.NumericValue, true
}

// AddLabelFromGrade tags the pair TRUE_MATCH or TRUE_NON_MATCH from its
// classification.
func (p *RecordPair) AddLabelFromGrade() {
	if p.Classification.IsMatch() {
		p.Tags.Set(NewTag(TagTrueMatch))
	} else {
		p.Tags.Set(NewTag(TagTrueNonMatch))
	}
}

// RemoveLabels drops the training label tags.
func (p *RecordPair) RemoveLabels() {
	p.Tags.Remove(TagTrueMatch, TagTrueNonMatch)
}

// Label returns the training label, if any.
func (p *RecordPair) Label() (isMatch bool, ok bool) {
	if p.Tags.Has(TagTrueMatch) {
		return true, true
	}
	if p.Tags.Has(TagTrueNonMatch) {
		return false, true
	}
	return false, false
}

// CurrentPairs filters out replaced versions.
func CurrentPairs(pairs []*RecordPair) []*RecordPair {
	out := make([]*RecordPair, 0, len(pairs))
	for _, p := range pairs {
		if p.IsCurrent() {
			out = append(out, p)
		}
	}
	return out
}

// PairIDs returns the pair ids of the given pairs.
func PairIDs(pairs []*RecordPair) []string {
	ids := make([]string, len(pairs))
	for i, p := range pairs {
		ids[i] = p.PairID
	}
	return ids
}

// UncertainPairsRequest asks a parent for its uncertain links with the given
// pair ids.
type UncertainPairsRequest struct {
	PairIDs []string `json:"pair_ids" validate:"required,min=1,dive,required"`
}
