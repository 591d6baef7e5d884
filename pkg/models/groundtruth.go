package models

// GroundTruth holds the true-match pairs of a dataset as canonical pair ids.
type GroundTruth struct {
	DatasetID       string              `json:"dataset_id"`
	TrueMatchPairID map[string]struct{} `json:"-"`
}

// NewGroundTruth builds a ground truth from labelled record id pairs.
func NewGroundTruth(datasetID string, matches []RecordIDPair) *GroundTruth {
	gt := &GroundTruth{DatasetID: datasetID, TrueMatchPairID: make(map[string]struct{}, len(matches))}
	for _, m := range matches {
		gt.TrueMatchPairID[PairID(m.Left, m.Right)] = struct{}{}
	}
	return gt
}

// IsTrueMatch reports whether the pair id is a labelled true match.
func (g *GroundTruth) IsTrueMatch(pairID string) bool {
	_, ok := g.TrueMatchPairID[pairID]
	return ok
}

// PairIDs returns the true-match pair ids.
func (g *GroundTruth) PairIDs() []string {
	out := make([]string, 0, len(g.TrueMatchPairID))
	for id := range g.TrueMatchPairID {
		out = append(out, id)
	}
	return out
}

// RecordIDPair is an unordered pair of record ids.
type RecordIDPair struct {
	Left  RecordID `json:"left" validate:"required"`
	Right RecordID `json:"right" validate:"required"`
}

// PairID returns the canonical pair id.
func (p RecordIDPair) PairID() string {
	return PairID(p.Left, p.Right)
}

// LoadGroundTruthRequest loads the true matches of a dataset.
type LoadGroundTruthRequest struct {
	Matches []RecordIDPair `json:"matches" validate:"required,dive"`
}
