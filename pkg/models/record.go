package models

// DefaultSourceID is the source of a record id without an explicit source.
const DefaultSourceID = "DEFAULT_SOURCE"

// RecordID identifies a record across sources and layers.
type RecordID struct {
	LocalID  string `json:"local_id" validate:"required"`
	SourceID string `json:"source_id,omitempty"`
	GlobalID string `json:"global_id,omitempty"`
	// BlockID groups the two records of a pair escalated from a child layer.
	BlockID string `json:"block_id,omitempty"`
}

// Source returns the source id, falling back to DefaultSourceID.
func (id RecordID) Source() string {
	if id.SourceID == "" {
		return DefaultSourceID
	}
	return id.SourceID
}

// UniqueLikeID is the layer-independent identity of the record: local id
// and source combined.
func (id RecordID) UniqueLikeID() string {
	return "rec-" + id.LocalID + "-" + id.Source()
}

// Record is an encoded record of a dataset.
type Record struct {
	ID         RecordID          `json:"id" validate:"required"`
	DatasetID  string            `json:"dataset_id"`
	Properties PropertySet       `json:"properties"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	c := *r
	c.Properties = r.Properties.Clone()
	if r.Attributes != nil {
		c.Attributes = make(map[string]string, len(r.Attributes))
		for k, v := range r.Attributes {
			c.Attributes[k] = v
		}
	}
	return &c
}

// PairID is the canonical, order-independent id of two records.
func PairID(left, right RecordID) string {
	return PairIDFromUnique(left.UniqueLikeID(), right.UniqueLikeID())
}

// PairIDFromUnique builds the pair id from two unique-like ids: the greater
// id first.
func PairIDFromUnique(a, b string) string {
	if a > b {
		return a + "##" + b
	}
	return b + "##" + a
}
