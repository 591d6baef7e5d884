package matcher

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/Ramsey-B/clover/pkg/models"
)

// ThresholdClassifierType is the config type of the threshold classifier.
const ThresholdClassifierType = "threshold"

// LabelledSimilarity is one training example.
type LabelledSimilarity struct {
	Similarity float64 `json:"similarity"`
	Match      bool    `json:"match"`
}

// ThresholdConfig is the persisted state of a ThresholdClassifier.
type ThresholdConfig struct {
	Type string `json:"type"`
	// Threshold is the lowest similarity graded PROBABLE_MATCH.
	Threshold float64 `json:"threshold"`
	// PossibleMargin is how far below Threshold a pair is still POSSIBLE_MATCH.
	PossibleMargin float64 `json:"possible_margin"`
	// CertainMargin is how far above Threshold a pair becomes CERTAIN_MATCH.
	CertainMargin float64 `json:"certain_margin"`
	// Steepness of the logistic probability around the threshold.
	Steepness    float64              `json:"steepness"`
	Distribution *Histogram           `json:"distribution,omitempty"`
	Labels       []LabelledSimilarity `json:"labels,omitempty"`
}

// DefaultThresholdConfig returns the default grading thresholds
func DefaultThresholdConfig() ThresholdConfig {
	return ThresholdConfig{
		Type:           ThresholdClassifierType,
		Threshold:      0.8,
		PossibleMargin: 0.1,
		CertainMargin:  0.15,
		Steepness:      12,
	}
}

// ThresholdClassifier grades pairs by similarity thresholds. It is trainable:
// Fit chooses the threshold maximizing F1 over labelled pairs.
type ThresholdClassifier struct {
	mu     sync.RWMutex
	config ThresholdConfig
}

// NewThresholdClassifier creates a classifier from its config.
func NewThresholdClassifier(config ThresholdConfig) *ThresholdClassifier {
	config.Type = ThresholdClassifierType
	if config.Steepness <= 0 {
		config.Steepness = DefaultThresholdConfig().Steepness
	}
	return &ThresholdClassifier{config: config}
}

// ParseThresholdClassifier builds a classifier from its JSON config. Missing
// fields take their defaults.
func ParseThresholdClassifier(raw json.RawMessage) (*ThresholdClassifier, error) {
	config := DefaultThresholdConfig()
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &config); err != nil {
			return nil, fmt.Errorf("invalid threshold classifier config: %w", err)
		}
	}
	return NewThresholdClassifier(config), nil
}

// Config returns a copy of the current state.
func (c *ThresholdClassifier) Config() ThresholdConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cfg := c.config
	cfg.Labels = append([]LabelledSimilarity(nil), c.config.Labels...)
	return cfg
}

func (c *ThresholdClassifier) Definition() (json.RawMessage, error) {
	return json.Marshal(c.Config())
}

// Grade maps a similarity onto a match grade.
func (c *ThresholdClassifier) Grade(similarity float64) models.MatchGrade {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cfg := c.config
	switch {
	case similarity < 0:
		return models.GradeUnknown
	case similarity >= cfg.Threshold+cfg.CertainMargin:
		return models.GradeCertainMatch
	case similarity >= cfg.Threshold:
		return models.GradeProbableMatch
	case similarity >= cfg.Threshold-cfg.PossibleMargin:
		return models.GradePossibleMatch
	default:
		return models.GradeNonMatch
	}
}

// Classify sets the grade and a PROBABILITY tag holding the confidence in
// the assigned side of the threshold.
func (c *ThresholdClassifier) Classify(pair *models.RecordPair) {
	pair.Classification = c.Grade(pair.Similarity)
	if pair.Tags == nil {
		pair.Tags = models.Tags{}
	}
	if pair.Classification == models.GradeUnknown {
		pair.Tags.Remove(models.TagProbability)
		return
	}
	c.mu.RLock()
	p := 1 / (1 + math.Exp(-c.config.Steepness*(pair.Similarity-c.config.Threshold)))
	c.mu.RUnlock()
	if !pair.Classification.IsMatch() {
		p = 1 - p
	}
	pair.Tags.Set(models.NewValueTag(models.TagProbability, "", p))
}

func (c *ThresholdClassifier) SimilarityDistribution() *Histogram {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.config.Distribution
}

func (c *ThresholdClassifier) SetSimilarityDistribution(h *Histogram) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.config.Distribution = h
}

// Fit replaces the stored labels and picks a new threshold.
func (c *ThresholdClassifier) Fit(labelled []*models.RecordPair) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fit(toLabels(labelled))
}

// Update refits on the stored labels plus the new ones.
func (c *ThresholdClassifier) Update(labelled []*models.RecordPair) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	labels := append(append([]LabelledSimilarity(nil), c.config.Labels...), toLabels(labelled)...)
	return c.fit(labels)
}

func toLabels(pairs []*models.RecordPair) []LabelledSimilarity {
	out := make([]LabelledSimilarity, 0, len(pairs))
	for _, p := range pairs {
		match, ok := p.Label()
		if !ok || p.Similarity < 0 {
			continue
		}
		out = append(out, LabelledSimilarity{Similarity: p.Similarity, Match: match})
	}
	return out
}

func (c *ThresholdClassifier) fit(labels []LabelledSimilarity) error {
	positives := 0
	for _, l := range labels {
		if l.Match {
			positives++
		}
	}
	if positives == 0 {
		return fmt.Errorf("cannot fit threshold without labelled matches (%d labels)", len(labels))
	}

	candidates := c.candidateThresholds(labels)
	best, bestF1 := c.config.Threshold, -1.0
	for _, t := range candidates {
		if f := f1(labels, t); f > bestF1 {
			best, bestF1 = t, f
		}
	}
	c.config.Threshold = best
	c.config.Labels = labels
	return nil
}

// candidateThresholds uses the grid of the similarity distribution when one
// is set, otherwise the distinct labelled similarities.
func (c *ThresholdClassifier) candidateThresholds(labels []LabelledSimilarity) []float64 {
	if c.config.Distribution != nil && c.config.Distribution.Total() > 0 {
		return c.config.Distribution.GridPoints()
	}
	seen := map[float64]struct{}{}
	var out []float64
	for _, l := range labels {
		if _, ok := seen[l.Similarity]; !ok {
			seen[l.Similarity] = struct{}{}
			out = append(out, l.Similarity)
		}
	}
	sort.Float64s(out)
	return out
}

func f1(labels []LabelledSimilarity, threshold float64) float64 {
	var tp, fp, fn float64
	for _, l := range labels {
		predicted := l.Similarity >= threshold
		switch {
		case predicted && l.Match:
			tp++
		case predicted && !l.Match:
			fp++
		case !predicted && l.Match:
			fn++
		}
	}
	if tp == 0 {
		return 0
	}
	return 2 * tp / (2*tp + fp + fn)
}
