package models

import (
	"encoding/json"
	"sort"
)

// Tag keys used by the linkage core.
const (
	TagRemovedByClassifier     = "removedByClassifier"
	TagRemovedByPostprocessing = "removedByPostprocessing"
	TagEncodingMethod          = "METHOD"
	TagImprovedLinkCount       = "IMPROVED_LINK_COUNT"
	TagProbability             = "PROBABILITY"
	TagTrueMatch               = "TRUE_MATCH"
	TagTrueNonMatch            = "TRUE_NON_MATCH"
)

// Tag is a keyed annotation with an optional string and numeric value.
type Tag struct {
	Key          string   `json:"key"`
	StringValue  string   `json:"string_value,omitempty"`
	NumericValue *float64 `json:"numeric_value,omitempty"`
}

// NewTag creates a tag carrying only a key.
func NewTag(key string) Tag {
	return Tag{Key: key}
}

// NewValueTag creates a tag with both values set.
func NewValueTag(key, stringValue string, numericValue float64) Tag {
	return Tag{Key: key, StringValue: stringValue, NumericValue: &numericValue}
}

// Tags holds at most one tag per key.
type Tags map[string]Tag

// NewTags builds a tag set. Later tags win on duplicate keys.
func NewTags(tags ...Tag) Tags {
	t := make(Tags, len(tags))
	for _, tag := range tags {
		t[tag.Key] = tag
	}
	return t
}

func (t Tags) Has(key string) bool {
	_, ok := t[key]
	return ok
}

func (t Tags) Get(key string) (Tag, bool) {
	tag, ok := t[key]
	return tag, ok
}

// Set adds tag, replacing any tag with the same key.
func (t Tags) Set(tag Tag) {
	t[tag.Key] = tag
}

func (t Tags) Remove(keys ...string) {
	for _, key := range keys {
		delete(t, key)
	}
}

func (t Tags) Clone() Tags {
	c := make(Tags, len(t))
	for k, v := range t {
		if v.NumericValue != nil {
			n := *v.NumericValue
			v.NumericValue = &n
		}
		c[k] = v
	}
	return c
}

// Slice returns the tags sorted by key.
func (t Tags) Slice() []Tag {
	out := make([]Tag, 0, len(t))
	for _, tag := range t {
		out = append(out, tag)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (t Tags) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Slice())
}

func (t *Tags) UnmarshalJSON(data []byte) error {
	var list []Tag
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*t = NewTags(list...)
	return nil
}
